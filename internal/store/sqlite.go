// ABOUTME: SQLite implementation of the MessageStore interface using modernc.org/sqlite
// ABOUTME: Provides message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the MessageStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serializes appends so created_at follows insertion order
	mu    sync.Mutex
	clock monotonicClock
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. The special path ":memory:"
// opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.loadClock(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading clock: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content     TEXT NOT NULL,
			is_read     INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,

			CHECK (sender_id <> receiver_id),
			CHECK (length(content) > 0)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender
			ON messages(sender_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_receiver
			ON messages(receiver_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// loadClock seeds the monotonic clock from the newest stored message so a
// reopened database keeps handing out increasing timestamps.
func (s *SQLiteStore) loadClock() error {
	var newest sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(created_at) FROM messages`).Scan(&newest); err != nil {
		return err
	}
	if newest.Valid {
		s.clock.last = time.UnixMicro(newest.Int64).UTC()
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append validates and stores a new message.
func (s *SQLiteStore) Append(ctx context.Context, senderID, receiverID, content string) (*Message, error) {
	if err := validateAppend(senderID, receiverID, content); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		IsRead:     false,
		CreatedAt:  s.clock.next(),
	}

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.CreatedAt.UnixMicro(),
	); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID,
	)
	return msg, nil
}

// QueryBetween retrieves the messages exchanged by a and b, ordered by created_at ASC
func (s *SQLiteStore) QueryBetween(ctx context.Context, a, b string) ([]*Message, error) {
	if a == "" || b == "" {
		return nil, ErrMissingParticipant
	}

	query := `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, seq ASC
	`
	return s.queryMessages(ctx, query, a, b, b, a)
}

// QueryInvolving retrieves every message sent or received by id, ordered by created_at ASC
func (s *SQLiteStore) QueryInvolving(ctx context.Context, id string) ([]*Message, error) {
	if id == "" {
		return nil, ErrMissingParticipant
	}

	query := `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at ASC, seq ASC
	`
	return s.queryMessages(ctx, query, id, id)
}

// MarkRead marks unread messages from senderID to readerID as read
func (s *SQLiteStore) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	if readerID == "" || senderID == "" {
		return 0, ErrMissingParticipant
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`, readerID, senderID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return updated, nil
}

// Count returns the number of stored messages
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// queryMessages is a helper that executes a query and returns messages
func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg := &Message{}
		var isRead int
		var createdAt int64

		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&isRead,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.IsRead = isRead != 0
		msg.CreatedAt = time.UnixMicro(createdAt).UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
