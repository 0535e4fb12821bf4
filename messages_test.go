package yae

import (
	"context"
	"fmt"
	"testing"
)

// seedMessages appends n alternating user/assistant messages, user first.
func seedMessages(t *testing.T, store *MessageStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := store.Save(ctx, Message{Role: role, Content: fmt.Sprintf("m%d", i), CreatedAt: int64(i + 1)}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
}

func TestMessagesSaveAppendsStoreAndCache(t *testing.T) {
	backend := &msgBackend{}
	store := NewMessageStore(backend)
	seedMessages(t, store, 3)

	if len(backend.rows) != 3 {
		t.Errorf("durable count = %d", len(backend.rows))
	}
	hist := store.History()
	if len(hist) != 3 {
		t.Fatalf("cache count = %d", len(hist))
	}
	for i, m := range hist {
		if m.Content != fmt.Sprintf("m%d", i) {
			t.Errorf("hist[%d] = %q", i, m.Content)
		}
	}
}

func TestMessagesFailedSaveLeavesCacheUnchanged(t *testing.T) {
	backend := &msgBackend{}
	store := NewMessageStore(backend)
	seedMessages(t, store, 2)

	backend.fail = fmt.Errorf("disk full")
	if err := store.Save(context.Background(), Message{Role: "user", Content: "x"}); err == nil {
		t.Fatal("expected save failure")
	}
	if len(store.History()) != 2 {
		t.Errorf("cache grew on failed save: %d", len(store.History()))
	}
}

func TestMessagesForSummarizationWindowMath(t *testing.T) {
	ctx := context.Background()
	backend := &msgBackend{}
	store := NewMessageStore(backend)

	seedMessages(t, store, MaxConversationHistory)
	msgs, err := store.MessagesForSummarization(ctx)
	if err != nil {
		t.Fatalf("MessagesForSummarization: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("at exactly the window size, overflow = %d, want 0", len(msgs))
	}

	seedMessages(t, store, 20) // total 70
	msgs, err = store.MessagesForSummarization(ctx)
	if err != nil {
		t.Fatalf("MessagesForSummarization: %v", err)
	}
	if len(msgs) != 20 {
		t.Fatalf("overflow = %d, want 20", len(msgs))
	}
	// Oldest first, ascending.
	if msgs[0].Content != "m0" || msgs[19].Content != "m19" {
		t.Errorf("overflow range = %q..%q", msgs[0].Content, msgs[19].Content)
	}
}

func TestMessagesPruneCacheOnly(t *testing.T) {
	backend := &msgBackend{}
	store := NewMessageStore(backend)
	seedMessages(t, store, 10)

	if got := store.Prune(4); got != 4 {
		t.Errorf("Prune = %d, want 4", got)
	}
	hist := store.History()
	if len(hist) != 6 || hist[0].Content != "m4" {
		t.Errorf("cache after prune: len=%d first=%q", len(hist), hist[0].Content)
	}
	if len(backend.rows) != 10 {
		t.Errorf("prune touched the durable store: %d rows", len(backend.rows))
	}

	// Over-prune caps at the cache size.
	if got := store.Prune(100); got != 6 {
		t.Errorf("over-prune = %d, want 6", got)
	}
	if got := store.Prune(1); got != 0 {
		t.Errorf("prune on empty cache = %d, want 0", got)
	}
}

func TestMessagesLoadRecentAscending(t *testing.T) {
	ctx := context.Background()
	backend := &msgBackend{}
	warm := NewMessageStore(backend)
	seedMessages(t, warm, 60)

	store := NewMessageStore(backend)
	if err := store.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	hist := store.History()
	if len(hist) != MaxConversationHistory {
		t.Fatalf("loaded %d, want %d", len(hist), MaxConversationHistory)
	}
	if hist[0].Content != "m10" || hist[len(hist)-1].Content != "m59" {
		t.Errorf("window = %q..%q", hist[0].Content, hist[len(hist)-1].Content)
	}
}
