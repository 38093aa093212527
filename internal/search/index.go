// ABOUTME: Full-text index over stored messages for operator search
// ABOUTME: Backed by bluge, either on disk or in memory

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blugelabs/bluge"

	"github.com/2389/parley/internal/store"
)

// DefaultLimit caps search results when the caller passes no limit.
const DefaultLimit = 20

// MaxLimit is the largest accepted result count.
const MaxLimit = 100

// ErrEmptyQuery is returned for a blank search.
var ErrEmptyQuery = errors.New("search query is empty")

const (
	fieldContent   = "content"
	fieldSender    = "sender_id"
	fieldReceiver  = "receiver_id"
	fieldCreatedAt = "created_at"
)

// Hit is one matching message. Read state is not indexed and so not reported.
type Hit struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Score      float64   `json:"score"`
}

// Index is a bluge index of message content keyed by message ID.
type Index struct {
	writer *bluge.Writer
	logger *slog.Logger
}

// Open opens or creates an index at path. An empty path or ":memory:"
// keeps the index in memory only.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := bluge.InMemoryOnlyConfig()
	if path != "" && path != ":memory:" {
		cfg = bluge.DefaultConfig(path)
	}

	w, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	logger = logger.With("component", "search")
	logger.Info("search index opened", "path", path)
	return &Index{writer: w, logger: logger}, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.writer.Close()
}

// Add indexes one message. Re-adding a message replaces its entry.
func (ix *Index) Add(msg *store.Message) error {
	if err := ix.writer.Update(bluge.Identifier(msg.ID), document(msg)); err != nil {
		return fmt.Errorf("indexing message %s: %w", msg.ID, err)
	}
	return nil
}

// AddAll indexes msgs in a single batch.
func (ix *Index) AddAll(msgs []*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := bluge.NewBatch()
	for _, msg := range msgs {
		batch.Update(bluge.Identifier(msg.ID), document(msg))
	}
	if err := ix.writer.Batch(batch); err != nil {
		return fmt.Errorf("indexing %d messages: %w", len(msgs), err)
	}
	ix.logger.Debug("indexed messages", "count", len(msgs))
	return nil
}

func document(msg *store.Message) *bluge.Document {
	return bluge.NewDocument(msg.ID).
		AddField(bluge.NewTextField(fieldContent, msg.Content).StoreValue()).
		AddField(bluge.NewKeywordField(fieldSender, msg.SenderID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldReceiver, msg.ReceiverID).StoreValue()).
		AddField(bluge.NewStoredOnlyField(fieldCreatedAt, []byte(msg.CreatedAt.UTC().Format(time.RFC3339Nano))))
}

// Search returns messages whose content matches query, best match first.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	reader, err := ix.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening index reader: %w", err)
	}
	defer reader.Close()

	req := bluge.NewTopNSearch(limit, bluge.NewMatchQuery(query).SetField(fieldContent))
	matches, err := reader.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	hits := []Hit{}
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := Hit{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.ID = string(value)
			case fieldContent:
				hit.Content = string(value)
			case fieldSender:
				hit.SenderID = string(value)
			case fieldReceiver:
				hit.ReceiverID = string(value)
			case fieldCreatedAt:
				hit.CreatedAt, _ = time.Parse(time.RFC3339Nano, string(value))
			}
			return true
		})
		if visitErr != nil {
			return nil, fmt.Errorf("reading search hit: %w", visitErr)
		}
		hits = append(hits, hit)
		match, err = matches.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("iterating search hits: %w", err)
	}
	return hits, nil
}
