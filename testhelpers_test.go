package yae

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
)

// --- In-memory backends (shared across memory, messages, workflow, loop tests) ---

// memBackend is an in-memory MemoryBackend with failure injection.
type memBackend struct {
	mu     sync.Mutex
	order  []string
	blocks map[string]MemoryBlock
	fail   error // when set, every write fails
}

func newMemBackend() *memBackend {
	return &memBackend{blocks: make(map[string]MemoryBlock)}
}

func (b *memBackend) UpsertBlock(_ context.Context, block MemoryBlock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	if _, ok := b.blocks[block.Label]; !ok {
		b.order = append(b.order, block.Label)
	}
	b.blocks[block.Label] = block
	return nil
}

func (b *memBackend) DeleteBlock(_ context.Context, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	delete(b.blocks, label)
	for i, l := range b.order {
		if l == label {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

func (b *memBackend) ListBlocks(_ context.Context) ([]MemoryBlock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MemoryBlock, 0, len(b.order))
	for _, l := range b.order {
		out = append(out, b.blocks[l])
	}
	return out, nil
}

// msgBackend is an in-memory append-only MessageBackend.
type msgBackend struct {
	mu   sync.Mutex
	rows []Message
	fail error
}

func (b *msgBackend) AppendMessage(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.rows = append(b.rows, msg)
	return nil
}

func (b *msgBackend) CountMessages(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows), nil
}

func (b *msgBackend) ListMessagesAsc(_ context.Context, offset, limit int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset >= len(b.rows) {
		return nil, nil
	}
	rows := b.rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return append([]Message(nil), rows...), nil
}

func (b *msgBackend) ListRecentMessages(_ context.Context, limit int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.rows
	if limit > 0 && limit < len(rows) {
		rows = rows[len(rows)-limit:]
	}
	return append([]Message(nil), rows...), nil
}

// runStore is an in-memory WorkflowRunStore.
type runStore struct {
	mu   sync.Mutex
	rows map[string]WorkflowRun
}

func newRunStore() *runStore {
	return &runStore{rows: make(map[string]WorkflowRun)}
}

func (s *runStore) CreateRun(_ context.Context, run WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[run.ID] = run
	return nil
}

func (s *runStore) UpdateRun(_ context.Context, id string, patch RunPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.rows[id]
	if !ok {
		return &ErrNotFound{Kind: "workflow run", Key: id}
	}
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.State != nil {
		run.State = patch.State
	}
	if patch.Error != nil {
		run.Error = *patch.Error
	}
	if patch.CompletedAt != nil {
		run.CompletedAt = *patch.CompletedAt
	}
	run.UpdatedAt = NowUnix()
	s.rows[id] = run
	return nil
}

func (s *runStore) GetRun(_ context.Context, id string) (WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.rows[id]
	if !ok {
		return WorkflowRun{}, &ErrNotFound{Kind: "workflow run", Key: id}
	}
	return run, nil
}

func (s *runStore) ListRunsByStatus(_ context.Context, status RunStatus, limit int) ([]WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorkflowRun
	for _, r := range s.rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *runStore) ListRunsByAgent(_ context.Context, agentID string, limit int) ([]WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorkflowRun
	for _, r := range s.rows {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *runStore) MarkStaleAsFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.rows {
		if r.Status == RunRunning {
			r.Status = RunFailed
			r.Error = "workflow interrupted by server restart"
			r.CompletedAt = NowUnix()
			r.UpdatedAt = NowUnix()
			s.rows[id] = r
			n++
		}
	}
	return n, nil
}

// --- File store fake ---

// fakeFiles is an in-memory FileStore recording audit calls.
type fakeFiles struct {
	mu      sync.Mutex
	files   map[string]string
	pending []string // audited tool names, in call order
	success int
	failure int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[string]string)}
}

func (f *fakeFiles) ReadFile(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return "", &ErrNotFound{Kind: "file", Key: path}
	}
	return content, nil
}

func (f *fakeFiles) WriteFile(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	return nil
}

func (f *fakeFiles) Mkdir(_ context.Context, _ string) error { return nil }

func (f *fakeFiles) ReadDir(_ context.Context, _ string) ([]FileInfo, error) { return nil, nil }

func (f *fakeFiles) Stat(_ context.Context, path string) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return FileInfo{}, &ErrNotFound{Kind: "file", Key: path}
	}
	return FileInfo{Name: path, Path: path, Size: int64(len(content))}, nil
}

func (f *fakeFiles) Unlink(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; !ok {
		return &ErrNotFound{Kind: "file", Key: path}
	}
	delete(f.files, path)
	return nil
}

func (f *fakeFiles) Remove(ctx context.Context, path string) error { return f.Unlink(ctx, path) }

func (f *fakeFiles) Rename(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[newPath] = f.files[oldPath]
	delete(f.files, oldPath)
	return nil
}

func (f *fakeFiles) CopyFile(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[dst] = f.files[src]
	return nil
}

func (f *fakeFiles) FileTree(_ context.Context, _ string) (string, error) {
	return "<files/>", nil
}

func (f *fakeFiles) ToolPending(_ context.Context, name string, _ any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, name)
	return fmt.Sprintf("audit-%d", len(f.pending)), nil
}

func (f *fakeFiles) ToolSuccess(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success++
	return nil
}

func (f *fakeFiles) ToolFailure(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure++
	return nil
}

// --- Provider fakes ---

// scriptProvider replays a fixed sequence of turns, then repeats the last.
type scriptProvider struct {
	mu         sync.Mutex
	turns      []AgentTurn
	turnErr    error // when set, every turn fails
	calls      int
	chunkCalls int
	mergeCalls int
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) UserAgentTurn(_ context.Context, _ TurnRequest) (AgentTurn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.turnErr != nil {
		return AgentTurn{}, p.turnErr
	}
	if len(p.turns) == 0 {
		return AgentTurn{}, errors.New("script exhausted")
	}
	idx := p.calls - 1
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	return p.turns[idx], nil
}

func (p *scriptProvider) SummarizeChunk(_ context.Context, msgs []Message) (ChunkSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunkCalls++
	return ChunkSummary{Summary: fmt.Sprintf("chunk of %d", len(msgs))}, nil
}

func (p *scriptProvider) MergeSummaries(_ context.Context, summaries []ChunkSummary, existing string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mergeCalls++
	return fmt.Sprintf("merged %d summaries onto %q", len(summaries), existing), nil
}

// fakeWeb is a canned WebAdapter.
type fakeWeb struct{}

func (fakeWeb) Search(_ context.Context, query, _ string) (string, error) {
	return "results for " + query, nil
}

func (fakeWeb) Fetch(_ context.Context, rawURL string) (string, error) {
	return "content of " + rawURL, nil
}

// --- Assembly helpers ---

// newTestAgent wires a UserAgent over in-memory everything.
func newTestAgent(t *testing.T, provider Provider, pool *WorkerPool) (*UserAgent, *fakeFiles, *msgBackend) {
	t.Helper()
	files := newFakeFiles()
	msgs := &msgBackend{}
	agent, err := NewUserAgent(context.Background(), AgentConfig{
		UserID:   "user-1",
		Memory:   NewMemoryStore(newMemBackend()),
		Messages: NewMessageStore(msgs),
		Files:    files,
		Runs:     newRunStore(),
		Provider: provider,
		Web:      fakeWeb{},
		Pool:     pool,
	})
	if err != nil {
		t.Fatalf("NewUserAgent: %v", err)
	}
	return agent, files, msgs
}

// drain collects all events from the loop channel.
func drain(ch <-chan AgentEvent) []AgentEvent {
	var out []AgentEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// eventTypes extracts the type sequence.
func eventTypes(events []AgentEvent) []AgentEventType {
	out := make([]AgentEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
