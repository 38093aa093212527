// ABOUTME: PostgreSQL implementation of MessageStore using lib/pq
// ABOUTME: Lets several parley replicas share one message history

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// appendLockKey is the advisory lock that serializes appends across replicas.
const appendLockKey = 0x7061726c6579 // "parley"

// PostgresStore implements MessageStore on PostgreSQL. created_at is
// assigned inside the database under an advisory lock, so timestamps stay
// strictly increasing even with several writers.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content     TEXT NOT NULL,
			is_read     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL,

			CHECK (sender_id <> receiver_id),
			CHECK (length(content) > 0)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender
			ON messages(sender_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_receiver
			ON messages(receiver_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append validates and stores a new message.
func (s *PostgresStore) Append(ctx context.Context, senderID, receiverID, content string) (*Message, error) {
	if err := validateAppend(senderID, receiverID, content); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return nil, fmt.Errorf("acquiring append lock: %w", err)
	}

	msg := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}

	// timestamptz has microsecond resolution; bump past the newest row on ties
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, is_read, created_at)
		SELECT $1, $2, $3, $4, FALSE,
			GREATEST(clock_timestamp(), COALESCE(MAX(created_at), '-infinity') + interval '1 microsecond')
		FROM messages
		RETURNING created_at
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	s.logger.Debug("saved message",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID,
	)
	return msg, nil
}

// QueryBetween retrieves the messages exchanged by a and b, ordered by created_at ASC
func (s *PostgresStore) QueryBetween(ctx context.Context, a, b string) ([]*Message, error) {
	if a == "" || b == "" {
		return nil, ErrMissingParticipant
	}
	return s.queryMessages(ctx, `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, seq ASC
	`, a, b)
}

// QueryInvolving retrieves every message sent or received by id, ordered by created_at ASC
func (s *PostgresStore) QueryInvolving(ctx context.Context, id string) ([]*Message, error) {
	if id == "" {
		return nil, ErrMissingParticipant
	}
	return s.queryMessages(ctx, `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at ASC, seq ASC
	`, id)
}

// MarkRead marks unread messages from senderID to readerID as read
func (s *PostgresStore) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	if readerID == "" || senderID == "" {
		return 0, ErrMissingParticipant
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read
	`, readerID, senderID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored messages
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
