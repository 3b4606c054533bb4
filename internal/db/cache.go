// Package db is the local sqlite cache of the client daemon. It holds UI
// preferences and the last synced conversation/message snapshot so the
// browser has something to render before the stream comes up. The sync core
// never reads it back during reconciliation; it is a boot-time seed only.
package db

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// CacheDB wraps the client-side sqlite database.
type CacheDB struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*CacheDB, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, errors.Wrap(err, "open cache database")
	}

	c := &CacheDB{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate cache database")
	}
	return c, nil
}

// Close closes the database connection.
func (c *CacheDB) Close() error {
	return c.db.Close()
}

func (c *CacheDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_snapshot (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS message_cache (
			conversation_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := c.db.Exec(schema)
	return err
}

// SaveConversations replaces the cached conversation list, preserving order.
func (c *CacheDB) SaveConversations(convs []models.Conversation) error {
	tx, err := c.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin snapshot write")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversation_snapshot`); err != nil {
		return errors.Wrap(err, "clear snapshot")
	}

	now := time.Now().UTC()
	for i, conv := range convs {
		payload, err := json.Marshal(conv)
		if err != nil {
			return errors.Wrapf(err, "encode conversation %s", conv.ID)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversation_snapshot (id, position, payload, updated_at)
			VALUES (?, ?, ?, ?)
		`, conv.ID, i, string(payload), now); err != nil {
			return errors.Wrapf(err, "write conversation %s", conv.ID)
		}
	}
	return tx.Commit()
}

// LoadConversations returns the cached conversation list in stored order.
// An empty cache yields an empty slice, not an error.
func (c *CacheDB) LoadConversations() ([]models.Conversation, error) {
	rows, err := c.db.Query(`SELECT payload FROM conversation_snapshot ORDER BY position`)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var conv models.Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			return nil, errors.Wrap(err, "decode cached conversation")
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// SaveMessages caches the visible message window for a conversation.
func (c *CacheDB) SaveMessages(conversationID string, msgs []models.Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "encode message window")
	}
	_, err = c.db.Exec(`
		INSERT INTO message_cache (conversation_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, conversationID, string(payload), time.Now().UTC())
	return err
}

// LoadMessages returns the cached message window for a conversation, or nil
// if none is cached.
func (c *CacheDB) LoadMessages(conversationID string) ([]models.Message, error) {
	var payload string
	err := c.db.QueryRow(`SELECT payload FROM message_cache WHERE conversation_id = ?`,
		conversationID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		return nil, errors.Wrap(err, "decode cached messages")
	}
	return msgs, nil
}

// DeleteConversation drops all cached state for a conversation.
func (c *CacheDB) DeleteConversation(conversationID string) error {
	if _, err := c.db.Exec(`DELETE FROM conversation_snapshot WHERE id = ?`, conversationID); err != nil {
		return err
	}
	_, err := c.db.Exec(`DELETE FROM message_cache WHERE conversation_id = ?`, conversationID)
	return err
}

// GetPreference retrieves a UI preference value, empty when unset.
func (c *CacheDB) GetPreference(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetPreference stores a UI preference value.
func (c *CacheDB) SetPreference(key, value string) error {
	_, err := c.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
