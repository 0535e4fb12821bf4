package yae

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MessageBackend is the durable, append-only side of a MessageStore.
type MessageBackend interface {
	AppendMessage(ctx context.Context, msg Message) error
	CountMessages(ctx context.Context) (int, error)
	// ListMessagesAsc returns rows in ascending created order, skipping
	// offset rows. limit <= 0 means no limit.
	ListMessagesAsc(ctx context.Context, offset, limit int) ([]Message, error)
	// ListRecentMessages returns the most recent limit rows in ascending order.
	ListRecentMessages(ctx context.Context, limit int) ([]Message, error)
}

// MessageStore is an agent's conversation history: an append-only durable
// log plus a cached slice of the most recent messages. Summarization prunes
// the cache only; the durable log is never deleted from.
type MessageStore struct {
	backend MessageBackend
	logger  *slog.Logger

	mu    sync.RWMutex
	cache []Message // chronological
}

// MessagesOption configures a MessageStore.
type MessagesOption func(*MessageStore)

// WithMessagesLogger sets the structured logger.
func WithMessagesLogger(l *slog.Logger) MessagesOption {
	return func(s *MessageStore) { s.logger = l }
}

// NewMessageStore creates a store over backend with an empty cache. Call
// Load before first use.
func NewMessageStore(backend MessageBackend, opts ...MessagesOption) *MessageStore {
	s := &MessageStore{backend: backend, logger: nopLogger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save appends msg to the durable log, then to the cache. The cache is not
// trimmed on write; pruning is the summarizer's job.
func (s *MessageStore) Save(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = NowUnix()
	}
	if err := s.backend.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	s.mu.Lock()
	s.cache = append(s.cache, msg)
	s.mu.Unlock()
	return nil
}

// History returns the cached slice in chronological order.
func (s *MessageStore) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.cache))
	copy(out, s.cache)
	return out
}

// MessagesForSummarization returns the overflow beyond the retained window:
// nothing when the durable count is within MaxConversationHistory, otherwise
// the oldest count−MaxConversationHistory rows in ascending order.
func (s *MessageStore) MessagesForSummarization(ctx context.Context) ([]Message, error) {
	total, err := s.backend.CountMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if total <= MaxConversationHistory {
		return nil, nil
	}
	overflow := total - MaxConversationHistory
	msgs, err := s.backend.ListMessagesAsc(ctx, 0, overflow)
	if err != nil {
		return nil, fmt.Errorf("list overflow messages: %w", err)
	}
	return msgs, nil
}

// Prune drops up to n oldest entries from the cache only and returns the
// removed count. The durable log is untouched.
func (s *MessageStore) Prune(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.cache) {
		n = len(s.cache)
	}
	s.cache = append([]Message(nil), s.cache[n:]...)
	s.logger.Debug("pruned message cache", "removed", n, "remaining", len(s.cache))
	return n
}

// Load reads the most recent limit rows (default MaxConversationHistory)
// and replaces the cache, ascending.
func (s *MessageStore) Load(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = MaxConversationHistory
	}
	msgs, err := s.backend.ListRecentMessages(ctx, limit)
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}
	s.mu.Lock()
	s.cache = msgs
	s.mu.Unlock()
	return nil
}
