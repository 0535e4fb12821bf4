package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nevindra/yae"
)

func newTestAdmin(t *testing.T) *AdminStore {
	t.Helper()
	s := NewAdmin(filepath.Join(t.TempDir(), "admin.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAdminUserCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestAdmin(t)

	u := yae.User{ID: "u1", Name: "Rin", Token: "tok-1", Role: yae.RoleUser, CreatedAt: 100}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil || got != u {
		t.Fatalf("GetUser = (%+v, %v)", got, err)
	}
	got, err = s.GetUserByToken(ctx, "tok-1")
	if err != nil || got.ID != "u1" {
		t.Fatalf("GetUserByToken = (%+v, %v)", got, err)
	}

	var notFound *yae.ErrNotFound
	if _, err := s.GetUser(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("GetUser(ghost) = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByToken(ctx, "wrong"); !errors.As(err, &notFound) {
		t.Errorf("GetUserByToken(wrong) = %v, want ErrNotFound", err)
	}

	if err := s.CreateUser(ctx, yae.User{ID: "u2", Name: "Dup", Token: "tok-1", Role: yae.RoleUser}); err == nil {
		t.Error("duplicate token must fail")
	}

	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("ListUsers = (%d, %v)", len(users), err)
	}
	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUser(ctx, "u1"); !errors.As(err, &notFound) {
		t.Errorf("deleted user still present: %v", err)
	}
}

func TestAdminWebhookCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestAdmin(t)

	w := yae.Webhook{ID: "w1", Name: "GitHub", Slug: "github", Secret: "s3cret", TargetUserID: "u1", Active: true, CreatedAt: 100}
	if err := s.CreateWebhook(ctx, w); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if err := s.CreateWebhook(ctx, yae.Webhook{ID: "w2", Slug: "github", Secret: "x"}); err == nil {
		t.Error("duplicate slug must fail")
	}

	got, err := s.GetWebhookBySlug(ctx, "github")
	if err != nil || got != w {
		t.Fatalf("GetWebhookBySlug = (%+v, %v)", got, err)
	}

	w.Active = false
	w.Name = "GitHub (paused)"
	if err := s.UpdateWebhook(ctx, w); err != nil {
		t.Fatalf("UpdateWebhook: %v", err)
	}
	got, _ = s.GetWebhookBySlug(ctx, "github")
	if got.Active || got.Name != "GitHub (paused)" {
		t.Errorf("after update = %+v", got)
	}

	if err := s.DeleteWebhook(ctx, "w1"); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	var notFound *yae.ErrNotFound
	if _, err := s.GetWebhookBySlug(ctx, "github"); !errors.As(err, &notFound) {
		t.Errorf("deleted webhook still present: %v", err)
	}
}

func TestAdminWebhookEventIdempotency(t *testing.T) {
	ctx := context.Background()
	s := newTestAdmin(t)

	id1, err := s.InsertWebhookEvent(ctx, yae.WebhookEvent{
		WebhookID: "w1", ExternalID: "delivery-9", Payload: `{"a":1}`,
		Status: yae.WebhookEventReceived, ReceivedAt: 100,
	})
	if err != nil {
		t.Fatalf("InsertWebhookEvent: %v", err)
	}

	// Replayed delivery: same (webhook, external id) returns the prior row.
	id2, err := s.InsertWebhookEvent(ctx, yae.WebhookEvent{
		WebhookID: "w1", ExternalID: "delivery-9", Payload: `{"a":1}`,
		Status: yae.WebhookEventReceived, ReceivedAt: 200,
	})
	if err != nil || id2 != id1 {
		t.Fatalf("replay = (%q, %v), want %q", id2, err, id1)
	}

	// Same external id on a different webhook is a distinct event.
	id3, err := s.InsertWebhookEvent(ctx, yae.WebhookEvent{
		WebhookID: "w2", ExternalID: "delivery-9",
		Status: yae.WebhookEventReceived, ReceivedAt: 300,
	})
	if err != nil || id3 == id1 {
		t.Fatalf("cross-webhook insert = (%q, %v)", id3, err)
	}

	// Events without an external id always insert.
	a, _ := s.InsertWebhookEvent(ctx, yae.WebhookEvent{WebhookID: "w1", Status: yae.WebhookEventReceived})
	b, _ := s.InsertWebhookEvent(ctx, yae.WebhookEvent{WebhookID: "w1", Status: yae.WebhookEventReceived})
	if a == b {
		t.Error("events without external id deduplicated")
	}

	if err := s.UpdateWebhookEventStatus(ctx, id1, yae.WebhookEventDispatched, ""); err != nil {
		t.Fatalf("UpdateWebhookEventStatus: %v", err)
	}
	events, err := s.ListWebhookEvents(ctx, "w1", 0)
	if err != nil || len(events) != 3 {
		t.Fatalf("ListWebhookEvents = (%d, %v)", len(events), err)
	}
	for _, ev := range events {
		if ev.ID == id1 && ev.Status != yae.WebhookEventDispatched {
			t.Errorf("event %s status = %s", ev.ID, ev.Status)
		}
	}
}

func TestAdminWorkflowRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestAdmin(t)

	run := yae.WorkflowRun{
		ID: "r1", AgentID: "u1", WorkflowName: "summarize-conversation",
		Status: yae.RunRunning, StartedAt: 100, UpdatedAt: 100,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	status := yae.RunCompleted
	completed := int64(200)
	err := s.UpdateRun(ctx, "r1", yae.RunPatch{
		Status:      &status,
		State:       []byte(`{"pruned_count":25}`),
		CompletedAt: &completed,
	})
	if err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != yae.RunCompleted || got.CompletedAt != 200 || string(got.State) != `{"pruned_count":25}` {
		t.Errorf("run = %+v", got)
	}
	if got.UpdatedAt == 100 {
		t.Error("updated_at not bumped")
	}

	var notFound *yae.ErrNotFound
	if err := s.UpdateRun(ctx, "ghost", yae.RunPatch{Status: &status}); !errors.As(err, &notFound) {
		t.Errorf("UpdateRun(ghost) = %v", err)
	}

	byAgent, err := s.ListRunsByAgent(ctx, "u1", 0)
	if err != nil || len(byAgent) != 1 {
		t.Fatalf("ListRunsByAgent = (%d, %v)", len(byAgent), err)
	}
	byStatus, err := s.ListRunsByStatus(ctx, yae.RunCompleted, 10)
	if err != nil || len(byStatus) != 1 {
		t.Fatalf("ListRunsByStatus = (%d, %v)", len(byStatus), err)
	}
}

// A process crash leaves running rows behind; the startup sweep flips them
// to failed and leaves terminal rows alone.
func TestAdminMarkStaleAsFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestAdmin(t)

	_ = s.CreateRun(ctx, yae.WorkflowRun{ID: "r-running", AgentID: "u1", WorkflowName: "wf", Status: yae.RunRunning, StartedAt: 1, UpdatedAt: 1})
	_ = s.CreateRun(ctx, yae.WorkflowRun{ID: "r-pending", AgentID: "u1", WorkflowName: "wf", Status: yae.RunPending, StartedAt: 1, UpdatedAt: 1})
	_ = s.CreateRun(ctx, yae.WorkflowRun{ID: "r-done", AgentID: "u1", WorkflowName: "wf", Status: yae.RunCompleted, StartedAt: 1, UpdatedAt: 1, CompletedAt: 2})

	n, err := s.MarkStaleAsFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("MarkStaleAsFailed = (%d, %v)", n, err)
	}

	stale, _ := s.GetRun(ctx, "r-running")
	if stale.Status != yae.RunFailed || stale.Error == "" || stale.CompletedAt == 0 {
		t.Errorf("stale run = %+v", stale)
	}
	done, _ := s.GetRun(ctx, "r-done")
	if done.Status != yae.RunCompleted || done.Error != "" {
		t.Errorf("completed run touched: %+v", done)
	}
	pending, _ := s.GetRun(ctx, "r-pending")
	if pending.Status != yae.RunPending {
		t.Errorf("pending run touched: %+v", pending)
	}
}
