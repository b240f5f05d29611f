package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists outbound sends and their receipt marks, plus a local
// cache of listed message history. It keeps only what receipt correlation
// and history listing need.
type Journal struct {
	db *sql.DB
}

// SentMessage is one journaled outbound message.
type SentMessage struct {
	ID          string
	RecipientID int
	DialogID    string
	Kind        string
	Extension   map[string]string
	SentAt      time.Time
	Delivered   bool
	Read        bool
}

// CachedMessage is one history entry cached from a message listing.
type CachedMessage struct {
	ID       string
	DialogID string
	SenderID int
	Body     string
	DateSent time.Time
}

// New opens (or creates) the journal database under dataDir.
func New(dataDir string) (*Journal, error) {
	dbPath := filepath.Join(dataDir, "chatkit.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return j, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sent_messages (
			id TEXT PRIMARY KEY,
			recipient_id INTEGER NOT NULL,
			dialog_id TEXT,
			kind TEXT NOT NULL,
			extension_json TEXT,
			sent_at INTEGER NOT NULL,
			delivered INTEGER DEFAULT 0,
			displayed INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_messages_dialog ON sent_messages(dialog_id)`,

		`CREATE TABLE IF NOT EXISTS message_cache (
			id TEXT PRIMARY KEY,
			dialog_id TEXT NOT NULL,
			sender_id INTEGER,
			body TEXT,
			date_sent INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_cache_dialog ON message_cache(dialog_id, date_sent)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordSend journals an outbound message at send time.
func (j *Journal) RecordSend(m SentMessage) error {
	extJSON, err := json.Marshal(m.Extension)
	if err != nil {
		return fmt.Errorf("failed to encode extension: %w", err)
	}

	_, err = j.db.Exec(
		`INSERT OR REPLACE INTO sent_messages (id, recipient_id, dialog_id, kind, extension_json, sent_at, delivered, displayed)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		m.ID, m.RecipientID, m.DialogID, m.Kind, string(extJSON), m.SentAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record send: %w", err)
	}
	return nil
}

// MarkDelivered records a delivered receipt for a journaled message. It
// reports whether the message was known.
func (j *Journal) MarkDelivered(messageID string) (bool, error) {
	return j.mark(messageID, "delivered")
}

// MarkRead records a read receipt for a journaled message.
func (j *Journal) MarkRead(messageID string) (bool, error) {
	return j.mark(messageID, "displayed")
}

func (j *Journal) mark(messageID, column string) (bool, error) {
	res, err := j.db.Exec(
		`UPDATE sent_messages SET `+column+` = 1 WHERE id = ?`, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SentMessage returns one journaled message by id, nil if unknown.
func (j *Journal) SentMessage(id string) (*SentMessage, error) {
	row := j.db.QueryRow(
		`SELECT id, recipient_id, dialog_id, kind, extension_json, sent_at, delivered, displayed
		 FROM sent_messages WHERE id = ?`, id,
	)

	var m SentMessage
	var extJSON string
	var sentAt int64
	err := row.Scan(&m.ID, &m.RecipientID, &m.DialogID, &m.Kind, &extJSON, &sentAt, &m.Delivered, &m.Read)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sent message: %w", err)
	}

	if extJSON != "" {
		if err := json.Unmarshal([]byte(extJSON), &m.Extension); err != nil {
			return nil, fmt.Errorf("failed to decode extension: %w", err)
		}
	}
	m.SentAt = time.Unix(sentAt, 0)
	return &m, nil
}

// CacheMessages upserts listed history entries for later offline reads.
func (j *Journal) CacheMessages(msgs []CachedMessage) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO message_cache (id, dialog_id, sender_id, body, date_sent)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(m.ID, m.DialogID, m.SenderID, m.Body, m.DateSent.Unix()); err != nil {
			return fmt.Errorf("failed to cache message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// CachedHistory returns cached history for a dialog, oldest first. The
// result is non-nil even when empty.
func (j *Journal) CachedHistory(dialogID string, limit int) ([]CachedMessage, error) {
	query := `SELECT id, dialog_id, sender_id, body, date_sent FROM message_cache
		 WHERE dialog_id = ? ORDER BY date_sent ASC`
	args := []any{dialogID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	msgs := []CachedMessage{}
	for rows.Next() {
		var m CachedMessage
		var dateSent int64
		if err := rows.Scan(&m.ID, &m.DialogID, &m.SenderID, &m.Body, &dateSent); err != nil {
			return nil, err
		}
		m.DateSent = time.Unix(dateSent, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
