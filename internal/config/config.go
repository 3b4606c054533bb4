// Package config loads daemon configuration from flags, environment and an
// optional YAML file, in that order of precedence, via viper.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// StreamConfig bounds push-stream reconnection.
type StreamConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
}

// Config is the daemon configuration.
type Config struct {
	// BackendURL is the base URL of the remote backend API.
	BackendURL string
	// Token is the session bearer token for the backend.
	Token string
	// UserID identifies the local user; used to tell own messages apart.
	UserID string
	// ListenAddr is where the daemon serves the browser UI websocket.
	ListenAddr string
	// PageSize is the message window size per fetch.
	PageSize int
	// CachePath is the sqlite cache location; empty disables the cache.
	CachePath string
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string

	Stream StreamConfig
}

// SetDefaults registers every config key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.token", "")
	v.SetDefault("user.id", "")
	v.SetDefault("listen.addr", "127.0.0.1:7180")
	v.SetDefault("messages.page_size", 50)
	v.SetDefault("cache.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("stream.initial_backoff", 500*time.Millisecond)
	v.SetDefault("stream.max_backoff", 30*time.Second)
	v.SetDefault("stream.max_elapsed", 5*time.Minute)
}

// Load reads the environment (PARENTING_ prefix) and the config file already
// set on v, and builds the Config.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("PARENTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	cfg := &Config{
		BackendURL: v.GetString("backend.url"),
		Token:      v.GetString("backend.token"),
		UserID:     v.GetString("user.id"),
		ListenAddr: v.GetString("listen.addr"),
		PageSize:   v.GetInt("messages.page_size"),
		CachePath:  v.GetString("cache.path"),
		LogLevel:   v.GetString("log.level"),
		Stream: StreamConfig{
			InitialBackoff: v.GetDuration("stream.initial_backoff"),
			MaxBackoff:     v.GetDuration("stream.max_backoff"),
			MaxElapsed:     v.GetDuration("stream.max_elapsed"),
		},
	}

	if cfg.BackendURL == "" {
		return nil, errors.New("backend.url must be set")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user.id must be set")
	}
	if cfg.PageSize <= 0 {
		return nil, errors.Errorf("messages.page_size must be positive, got %d", cfg.PageSize)
	}
	return cfg, nil
}
