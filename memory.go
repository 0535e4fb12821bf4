package yae

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MemoryBackend is the durable side of a MemoryStore.
type MemoryBackend interface {
	UpsertBlock(ctx context.Context, block MemoryBlock) error
	DeleteBlock(ctx context.Context, label string) error
	ListBlocks(ctx context.Context) ([]MemoryBlock, error)
}

// MemoryStore holds an agent's labelled memory blocks behind a write-through
// cache: every mutation hits the backend first and updates the cache only on
// success, so cache and store never diverge.
type MemoryStore struct {
	backend MemoryBackend
	logger  *slog.Logger

	mu     sync.RWMutex
	labels []string // insertion order, drives ToXML determinism
	blocks map[string]MemoryBlock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryLogger sets the structured logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *MemoryStore) { m.logger = l }
}

// NewMemoryStore creates a store over backend with an empty cache. Call Load
// (or Seed) before first use.
func NewMemoryStore(backend MemoryBackend, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		backend: backend,
		logger:  nopLogger,
		blocks:  make(map[string]MemoryBlock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads all rows from the backend and replaces the cache.
func (m *MemoryStore) Load(ctx context.Context) error {
	rows, err := m.backend.ListBlocks(ctx)
	if err != nil {
		return fmt.Errorf("load memory blocks: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels = m.labels[:0]
	m.blocks = make(map[string]MemoryBlock, len(rows))
	for _, b := range rows {
		m.labels = append(m.labels, b.Label)
		m.blocks[b.Label] = b
	}
	return nil
}

// Seed installs the initial block set when the backend holds none. The
// ordered descriptors become the agent's starting memory.
func (m *MemoryStore) Seed(ctx context.Context, initial []MemoryBlock) error {
	if err := m.Load(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	empty := len(m.labels) == 0
	m.mu.RUnlock()
	if !empty {
		return nil
	}
	for _, b := range initial {
		b.UpdatedAt = NowUnix()
		if err := m.backend.UpsertBlock(ctx, b); err != nil {
			return fmt.Errorf("seed block %q: %w", b.Label, err)
		}
		m.put(b)
	}
	m.logger.Debug("seeded memory blocks", "count", len(initial))
	return nil
}

// Has reports whether a block with the label exists in the cache.
func (m *MemoryStore) Has(label string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[label]
	return ok
}

// Get returns the cached block and whether it exists.
func (m *MemoryStore) Get(label string) (MemoryBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[label]
	return b, ok
}

// GetAll returns all cached blocks in insertion order.
func (m *MemoryStore) GetAll() []MemoryBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MemoryBlock, 0, len(m.labels))
	for _, l := range m.labels {
		out = append(out, m.blocks[l])
	}
	return out
}

// BlockOption configures an upserted block.
type BlockOption func(*MemoryBlock)

// Protected marks the block non-deletable.
func Protected() BlockOption { return func(b *MemoryBlock) { b.Protected = true } }

// ReadOnly marks the block non-mutable.
func ReadOnly() BlockOption { return func(b *MemoryBlock) { b.ReadOnly = true } }

// WithLimit caps the block's content character count.
func WithLimit(n int) BlockOption { return func(b *MemoryBlock) { b.Limit = n } }

// Set upserts a block. Rejects writes to an existing read-only block and
// content exceeding the block's limit.
func (m *MemoryStore) Set(ctx context.Context, label, description, content string, opts ...BlockOption) error {
	if label == "" {
		return &ErrValidation{Msg: "memory block label must not be empty"}
	}
	block := MemoryBlock{Label: label, Description: description, Content: content}
	for _, opt := range opts {
		opt(&block)
	}
	if existing, ok := m.Get(label); ok {
		if existing.ReadOnly {
			return &ErrValidation{Msg: fmt.Sprintf("memory block %q is read-only", label)}
		}
		if block.Limit == 0 {
			block.Limit = existing.Limit
		}
		block.Protected = block.Protected || existing.Protected
	}
	if block.Limit > 0 && len([]rune(content)) > block.Limit {
		return &ErrValidation{Msg: fmt.Sprintf("memory block %q content exceeds limit of %d characters", label, block.Limit)}
	}
	block.UpdatedAt = NowUnix()
	if err := m.backend.UpsertBlock(ctx, block); err != nil {
		return fmt.Errorf("set memory block %q: %w", label, err)
	}
	m.put(block)
	return nil
}

// SetContent replaces the content of an existing block; fails if absent.
func (m *MemoryStore) SetContent(ctx context.Context, label, content string) error {
	existing, ok := m.Get(label)
	if !ok {
		return &ErrNotFound{Kind: "memory block", Key: label}
	}
	return m.Set(ctx, label, existing.Description, content)
}

// Delete removes a block. Protected blocks cannot be deleted. Returns false
// (no error) when the label is absent.
func (m *MemoryStore) Delete(ctx context.Context, label string) (bool, error) {
	existing, ok := m.Get(label)
	if !ok {
		return false, nil
	}
	if existing.Protected {
		return false, &ErrValidation{Msg: fmt.Sprintf("memory block %q is protected and cannot be deleted", label)}
	}
	if err := m.backend.DeleteBlock(ctx, label); err != nil {
		return false, fmt.Errorf("delete memory block %q: %w", label, err)
	}
	m.mu.Lock()
	delete(m.blocks, label)
	for i, l := range m.labels {
		if l == label {
			m.labels = append(m.labels[:i], m.labels[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return true, nil
}

// --- Tool API (agent-facing, human-readable statuses) ---

// ToolReplaceMemory replaces the first occurrence of oldContent in the
// block. oldContent must match exactly, including whitespace.
func (m *MemoryStore) ToolReplaceMemory(ctx context.Context, label, oldContent, newContent string) (string, error) {
	existing, ok := m.Get(label)
	if !ok {
		return "", &ErrNotFound{Kind: "memory block", Key: label}
	}
	if !strings.Contains(existing.Content, oldContent) {
		return "", &ErrValidation{Msg: fmt.Sprintf(
			"old_content not found in memory block %q; it must match the existing content exactly, including whitespace", label)}
	}
	updated := strings.Replace(existing.Content, oldContent, newContent, 1)
	if err := m.SetContent(ctx, label, updated); err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory block %q updated.", label), nil
}

// ToolInsertMemory prepends or appends content with a newline separator.
// Position is "beginning" or "end".
func (m *MemoryStore) ToolInsertMemory(ctx context.Context, label, content, position string) (string, error) {
	existing, ok := m.Get(label)
	if !ok {
		return "", &ErrNotFound{Kind: "memory block", Key: label}
	}
	var updated string
	switch position {
	case "beginning":
		updated = content + "\n" + existing.Content
	case "end":
		updated = existing.Content + "\n" + content
	default:
		return "", &ErrValidation{Msg: fmt.Sprintf("position must be %q or %q, got %q", "beginning", "end", position)}
	}
	if existing.Content == "" {
		updated = content
	}
	if err := m.SetContent(ctx, label, updated); err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory block %q updated.", label), nil
}

// ToolCreateMemory creates a new block, applying defaultLimit when the
// caller sets none. Fails if the label already exists.
func (m *MemoryStore) ToolCreateMemory(ctx context.Context, label, description, content string, defaultLimit int) (string, error) {
	if m.Has(label) {
		return "", &ErrValidation{Msg: fmt.Sprintf("memory block %q already exists", label)}
	}
	if err := m.Set(ctx, label, description, content, WithLimit(defaultLimit)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory block %q created.", label), nil
}

// ToolDeleteMemory deletes a block and reports the outcome.
func (m *MemoryStore) ToolDeleteMemory(ctx context.Context, label string) (string, error) {
	deleted, err := m.Delete(ctx, label)
	if err != nil {
		return "", err
	}
	if !deleted {
		return fmt.Sprintf("Memory block %q does not exist.", label), nil
	}
	return fmt.Sprintf("Memory block %q deleted.", label), nil
}

// ToXML serialises all blocks deterministically, in insertion order.
func (m *MemoryStore) ToXML() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sb strings.Builder
	sb.WriteString("<memory>\n")
	for _, l := range m.labels {
		b := m.blocks[l]
		fmt.Fprintf(&sb, "<block label=\"%s\">\n", escapeXML(b.Label))
		fmt.Fprintf(&sb, "<description>%s</description>\n", escapeXML(b.Description))
		fmt.Fprintf(&sb, "<content>%s</content>\n", escapeXML(b.Content))
		sb.WriteString("</block>\n")
	}
	sb.WriteString("</memory>")
	return sb.String()
}

// put stores a block in the cache, tracking first-insertion order.
func (m *MemoryStore) put(b MemoryBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[b.Label]; !ok {
		m.labels = append(m.labels, b.Label)
	}
	m.blocks[b.Label] = b
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
