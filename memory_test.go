package yae

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestMemory(t *testing.T) (*MemoryStore, *memBackend) {
	t.Helper()
	backend := newMemBackend()
	return NewMemoryStore(backend), backend
}

func TestMemorySetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestMemory(t)

	if err := store.Set(ctx, "notes", "scratch notes", "hello world"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, ok := store.Get("notes")
	if !ok || b.Content != "hello world" {
		t.Fatalf("Get = (%+v, %v)", b, ok)
	}

	// Reload from the backend: cache equals durable contents.
	fresh := NewMemoryStore(backend)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, ok = fresh.Get("notes")
	if !ok || b.Content != "hello world" {
		t.Fatalf("after reload Get = (%+v, %v)", b, ok)
	}
}

func TestMemoryFailedWriteLeavesCacheUnchanged(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestMemory(t)
	if err := store.Set(ctx, "notes", "d", "original"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	backend.fail = errors.New("disk full")
	if err := store.Set(ctx, "notes", "d", "mutated"); err == nil {
		t.Fatal("expected write failure")
	}
	if err := store.SetContent(ctx, "notes", "mutated"); err == nil {
		t.Fatal("expected write failure")
	}
	if _, err := store.Delete(ctx, "notes"); err == nil {
		t.Fatal("expected delete failure")
	}

	b, _ := store.Get("notes")
	if b.Content != "original" {
		t.Errorf("cache mutated on failed write: %q", b.Content)
	}
	if !store.Has("notes") {
		t.Error("cache lost block on failed delete")
	}
}

func TestMemoryReadOnlyAndProtected(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemory(t)

	if err := store.Set(ctx, "frozen", "d", "v1", ReadOnly()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "frozen", "d", "v2"); err == nil {
		t.Error("write to read-only block must fail")
	}

	if err := store.Set(ctx, "keep", "d", "v1", Protected()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.Delete(ctx, "keep"); err == nil {
		t.Error("delete of protected block must fail")
	}
	if store.Has("keep") == false {
		t.Error("protected block removed")
	}

	// Absent label: false, no error.
	deleted, err := store.Delete(ctx, "ghost")
	if err != nil || deleted {
		t.Errorf("Delete(ghost) = (%v, %v)", deleted, err)
	}
}

func TestMemoryLimitEnforced(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemory(t)

	if err := store.Set(ctx, "small", "d", "12345", WithLimit(5)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.SetContent(ctx, "small", "123456"); err == nil {
		t.Error("content over limit must fail")
	}
	b, _ := store.Get("small")
	if b.Content != "12345" {
		t.Errorf("content = %q", b.Content)
	}
}

func TestToolReplaceMemoryExactMatch(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemory(t)
	if err := store.Set(ctx, "notes", "d", "alpha beta alpha"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := store.ToolReplaceMemory(ctx, "notes", "ALPHA", "x"); err == nil {
		t.Fatal("inexact old_content must fail")
	} else if !strings.Contains(err.Error(), "exactly") {
		t.Errorf("error should instruct exact match: %v", err)
	}

	msg, err := store.ToolReplaceMemory(ctx, "notes", "alpha", "gamma")
	if err != nil {
		t.Fatalf("ToolReplaceMemory: %v", err)
	}
	if !strings.Contains(msg, "notes") {
		t.Errorf("status = %q", msg)
	}
	b, _ := store.Get("notes")
	if b.Content != "gamma beta alpha" {
		t.Errorf("only the first occurrence should be replaced: %q", b.Content)
	}
}

func TestToolInsertMemoryPositions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemory(t)
	if err := store.Set(ctx, "notes", "d", "middle"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := store.ToolInsertMemory(ctx, "notes", "first", "beginning"); err != nil {
		t.Fatalf("insert beginning: %v", err)
	}
	if _, err := store.ToolInsertMemory(ctx, "notes", "last", "end"); err != nil {
		t.Fatalf("insert end: %v", err)
	}
	b, _ := store.Get("notes")
	if b.Content != "first\nmiddle\nlast" {
		t.Errorf("content = %q", b.Content)
	}

	if _, err := store.ToolInsertMemory(ctx, "notes", "x", "middle"); err == nil {
		t.Error("invalid position must fail")
	}
	if _, err := store.ToolInsertMemory(ctx, "ghost", "x", "end"); err == nil {
		t.Error("absent label must fail")
	}
}

func TestToolCreateAndDeleteMemory(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemory(t)

	if _, err := store.ToolCreateMemory(ctx, "scratch", "d", "v", DefaultMemoryBlockLimit); err != nil {
		t.Fatalf("ToolCreateMemory: %v", err)
	}
	b, _ := store.Get("scratch")
	if b.Limit != DefaultMemoryBlockLimit {
		t.Errorf("limit = %d, want %d", b.Limit, DefaultMemoryBlockLimit)
	}
	if _, err := store.ToolCreateMemory(ctx, "scratch", "d", "v", DefaultMemoryBlockLimit); err == nil {
		t.Error("duplicate create must fail")
	}

	msg, err := store.ToolDeleteMemory(ctx, "scratch")
	if err != nil || !strings.Contains(msg, "deleted") {
		t.Errorf("ToolDeleteMemory = (%q, %v)", msg, err)
	}
	msg, err = store.ToolDeleteMemory(ctx, "scratch")
	if err != nil || !strings.Contains(msg, "does not exist") {
		t.Errorf("second delete = (%q, %v)", msg, err)
	}
}

func TestToXMLDeterministicInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemory(t)
	_ = store.Set(ctx, "zeta", "last letter", "z & stuff")
	_ = store.Set(ctx, "alpha", "first letter", "<a>")

	want := `<memory>
<block label="zeta">
<description>last letter</description>
<content>z &amp; stuff</content>
</block>
<block label="alpha">
<description>first letter</description>
<content>&lt;a&gt;</content>
</block>
</memory>`
	if got := store.ToXML(); got != want {
		t.Errorf("ToXML mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
	if store.ToXML() != store.ToXML() {
		t.Error("ToXML not deterministic")
	}
}

func TestMemorySeedOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestMemory(t)
	seed := []MemoryBlock{{Label: "persona", Content: "v1", Protected: true}}

	if err := store.Seed(ctx, seed); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if !store.Has("persona") {
		t.Fatal("seed block missing")
	}

	// Mutate, then re-seed on a fresh store over the same backend: the
	// existing rows win.
	if err := store.SetContent(ctx, "persona", "edited"); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	fresh := NewMemoryStore(backend)
	if err := fresh.Seed(ctx, seed); err != nil {
		t.Fatalf("re-Seed: %v", err)
	}
	b, _ := fresh.Get("persona")
	if b.Content != "edited" {
		t.Errorf("re-seed overwrote existing data: %q", b.Content)
	}
}
