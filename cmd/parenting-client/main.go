// The parenting-client daemon keeps a synchronized local view of the user's
// private-messaging state (conversations, messages, unread counts) against
// the remote backend, and serves it to the browser UI over a websocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"github.com/limeechian/parenting-app-sub004/client"
	"github.com/limeechian/parenting-app-sub004/internal/backend"
	"github.com/limeechian/parenting-app-sub004/internal/config"
	"github.com/limeechian/parenting-app-sub004/internal/db"
)

func main() {
	v := viper.New()
	config.SetDefaults(v)

	var cfgFile string
	rootCmd := &cobra.Command{
		Use:   "parenting-client",
		Short: "Local messaging sync daemon for the parenting app UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file path")
	flags.String("backend-url", "", "backend base URL")
	flags.String("token", "", "backend session token")
	flags.String("user", "", "local user id")
	flags.String("listen", "", "UI listen address")
	flags.String("cache", "", "sqlite cache path")
	flags.String("log-level", "", "log level (trace|debug|info|warn|error)")
	v.BindPFlag("backend.url", flags.Lookup("backend-url"))
	v.BindPFlag("backend.token", flags.Lookup("token"))
	v.BindPFlag("user.id", flags.Lookup("user"))
	v.BindPFlag("listen.addr", flags.Lookup("listen"))
	v.BindPFlag("cache.path", flags.Lookup("cache"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))

	if err := rootCmd.Execute(); err != nil {
		jww.FATAL.Printf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cache *db.CacheDB
	if cfg.CachePath != "" {
		var err error
		cache, err = db.Open(cfg.CachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	api := backend.New(cfg.BackendURL, cfg.Token)
	session := client.NewSession(api, cache, cfg.UserID, cfg.PageSize)
	stream := client.NewStreamClient(api.StreamURL(), api.AuthHeader(),
		client.StreamConfig{
			InitialBackoff: cfg.Stream.InitialBackoff,
			MaxBackoff:     cfg.Stream.MaxBackoff,
			MaxElapsed:     cfg.Stream.MaxElapsed,
		},
		session.HandleEnvelope, session.HandleStreamState)

	handler := client.NewUIHandler(session, cache)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	mux.HandleFunc("/api/preferences", handler.HandlePreferences)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go session.Run(ctx)
	go stream.Run(ctx)
	go func() {
		<-ctx.Done()
		jww.INFO.Printf("shutting down")
		httpServer.Shutdown(context.Background())
	}()

	jww.INFO.Printf("serving UI on %s, syncing against %s as %s",
		cfg.ListenAddr, cfg.BackendURL, cfg.UserID)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setupLogging(level string) {
	jww.SetStdoutOutput(os.Stderr)
	switch level {
	case "trace":
		jww.SetStdoutThreshold(jww.LevelTrace)
	case "debug":
		jww.SetStdoutThreshold(jww.LevelDebug)
	case "warn":
		jww.SetStdoutThreshold(jww.LevelWarn)
	case "error":
		jww.SetStdoutThreshold(jww.LevelError)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
	}
}
