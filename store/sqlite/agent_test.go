package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nevindra/yae"
)

func newTestDatastore(t *testing.T) *Datastore {
	t.Helper()
	s := NewDatastore(filepath.Join(t.TempDir(), "agent.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDatastoreBlocksKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestDatastore(t)

	labels := []string{"persona", "human", "conversation_summary"}
	for i, l := range labels {
		err := s.UpsertBlock(ctx, yae.MemoryBlock{Label: l, Description: "d", Content: fmt.Sprintf("v%d", i), UpdatedAt: int64(i)})
		if err != nil {
			t.Fatalf("UpsertBlock %s: %v", l, err)
		}
	}

	// Updating the first block must not move it to the end.
	if err := s.UpsertBlock(ctx, yae.MemoryBlock{Label: "persona", Description: "d", Content: "edited", Protected: true, Limit: 2000, UpdatedAt: 9}); err != nil {
		t.Fatalf("UpsertBlock update: %v", err)
	}

	blocks, err := s.ListBlocks(ctx)
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d", len(blocks))
	}
	for i, l := range labels {
		if blocks[i].Label != l {
			t.Errorf("blocks[%d] = %q, want %q", i, blocks[i].Label, l)
		}
	}
	if blocks[0].Content != "edited" || !blocks[0].Protected || blocks[0].Limit != 2000 {
		t.Errorf("updated block = %+v", blocks[0])
	}

	if err := s.DeleteBlock(ctx, "human"); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	blocks, _ = s.ListBlocks(ctx)
	if len(blocks) != 2 || blocks[1].Label != "conversation_summary" {
		t.Errorf("after delete: %+v", blocks)
	}
}

func TestDatastoreMessageLog(t *testing.T) {
	ctx := context.Background()
	s := newTestDatastore(t)

	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := s.AppendMessage(ctx, yae.Message{
			ID: fmt.Sprintf("m%d", i), Role: role,
			Content: fmt.Sprintf("msg %d", i), CreatedAt: int64(i + 1),
		})
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	n, err := s.CountMessages(ctx)
	if err != nil || n != 7 {
		t.Fatalf("CountMessages = (%d, %v)", n, err)
	}

	asc, err := s.ListMessagesAsc(ctx, 2, 3)
	if err != nil {
		t.Fatalf("ListMessagesAsc: %v", err)
	}
	if len(asc) != 3 || asc[0].ID != "m2" || asc[2].ID != "m4" {
		t.Errorf("asc window = %+v", asc)
	}

	all, err := s.ListMessagesAsc(ctx, 0, 0)
	if err != nil || len(all) != 7 {
		t.Fatalf("ListMessagesAsc all = (%d, %v)", len(all), err)
	}

	recent, err := s.ListRecentMessages(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(recent) != 3 || recent[0].ID != "m4" || recent[2].ID != "m6" {
		t.Errorf("recent window = %+v", recent)
	}

	// Ties on created_at break by id, keeping the order stable.
	_ = s.AppendMessage(ctx, yae.Message{ID: "m8", Role: "user", Content: "tie-b", CreatedAt: 9})
	_ = s.AppendMessage(ctx, yae.Message{ID: "m7", Role: "user", Content: "tie-a", CreatedAt: 9})
	recent, _ = s.ListRecentMessages(ctx, 2)
	if recent[0].ID != "m7" || recent[1].ID != "m8" {
		t.Errorf("tie order = %+v", recent)
	}
}

func TestDatastoreToolAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestDatastore(t)

	rec := yae.ToolAuditRecord{
		ID: "a1", Tool: "file_write", Params: `{"path":"a.txt"}`,
		Status: yae.AuditPending, CreatedAt: 100, UpdatedAt: 100,
	}
	if err := s.InsertToolAudit(ctx, rec); err != nil {
		t.Fatalf("InsertToolAudit: %v", err)
	}
	if err := s.UpdateToolAudit(ctx, "a1", yae.AuditSuccess, `File "a.txt" written.`); err != nil {
		t.Fatalf("UpdateToolAudit: %v", err)
	}
	if err := s.UpdateToolAudit(ctx, "ghost", yae.AuditFailure, "x"); err == nil {
		t.Error("update of unknown audit row must fail")
	}

	recs, err := s.ListToolAudit(ctx, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListToolAudit = (%d, %v)", len(recs), err)
	}
	if recs[0].Status != yae.AuditSuccess || recs[0].Detail == "" {
		t.Errorf("audit row = %+v", recs[0])
	}
	if recs[0].UpdatedAt == 100 {
		t.Error("updated_at not bumped")
	}
}

// Memory blocks round-trip through a MemoryStore over the real backend.
func TestDatastoreBacksMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := newTestDatastore(t)

	store := yae.NewMemoryStore(s)
	if err := store.Seed(ctx, yae.DefaultMemoryBlocks); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := store.SetContent(ctx, "human", "Prefers brief answers."); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	fresh := yae.NewMemoryStore(s)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, ok := fresh.Get("human")
	if !ok || b.Content != "Prefers brief answers." {
		t.Errorf("reloaded block = (%+v, %v)", b, ok)
	}
}
