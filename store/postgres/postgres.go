// Package postgres implements yae's persistence interfaces on PostgreSQL.
//
// Both AdminStore and Datastore accept an externally-owned *pgxpool.Pool via
// constructor injection. The caller creates and closes the pool; a single
// pool can back the admin store and every agent datastore, with agent rows
// partitioned by agent id.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/yae"
)

// AdminStore implements yae.AdminStore and yae.WorkflowRunStore backed by
// PostgreSQL.
type AdminStore struct {
	pool *pgxpool.Pool
}

var _ yae.AdminStore = (*AdminStore)(nil)
var _ yae.WorkflowRunStore = (*AdminStore)(nil)

// NewAdmin creates an AdminStore using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func NewAdmin(pool *pgxpool.Pool) *AdminStore {
	return &AdminStore{pool: pool}
}

// Init creates all required tables and indexes. Safe to call multiple times
// (all statements are idempotent).
func (s *AdminStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			secret TEXT NOT NULL,
			target_user_id TEXT NOT NULL DEFAULT '',
			target_workflow TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_events (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			headers TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			received_at BIGINT NOT NULL,
			processed_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS webhook_events_external_idx
			ON webhook_events(webhook_id, external_id) WHERE external_id <> ''`,
		`CREATE INDEX IF NOT EXISTS webhook_events_hook_idx ON webhook_events(webhook_id)`,

		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			state JSONB,
			error TEXT NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS workflow_runs_status_idx ON workflow_runs(status)`,
		`CREATE INDEX IF NOT EXISTS workflow_runs_agent_idx ON workflow_runs(agent_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init admin schema: %w", err)
		}
	}
	return nil
}

// --- Users ---

func (s *AdminStore) CreateUser(ctx context.Context, u yae.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, token, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Token, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *AdminStore) GetUser(ctx context.Context, id string) (yae.User, error) {
	var u yae.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, token, role, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Token, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return yae.User{}, &yae.ErrNotFound{Kind: "user", Key: id}
	}
	if err != nil {
		return yae.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *AdminStore) GetUserByToken(ctx context.Context, token string) (yae.User, error) {
	var u yae.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, token, role, created_at FROM users WHERE token = $1`, token,
	).Scan(&u.ID, &u.Name, &u.Token, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return yae.User{}, &yae.ErrNotFound{Kind: "user", Key: "token"}
	}
	if err != nil {
		return yae.User{}, fmt.Errorf("get user by token: %w", err)
	}
	return u, nil
}

func (s *AdminStore) ListUsers(ctx context.Context) ([]yae.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, token, role, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []yae.User
	for rows.Next() {
		var u yae.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Token, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *AdminStore) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// --- Webhooks ---

func (s *AdminStore) CreateWebhook(ctx context.Context, w yae.Webhook) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhooks (id, name, slug, secret, target_user_id, target_workflow, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.Name, w.Slug, w.Secret, w.TargetUserID, w.TargetWorkflow, w.Active, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (s *AdminStore) GetWebhookBySlug(ctx context.Context, slug string) (yae.Webhook, error) {
	var w yae.Webhook
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, secret, target_user_id, target_workflow, active, created_at
		 FROM webhooks WHERE slug = $1`, slug,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.Secret, &w.TargetUserID, &w.TargetWorkflow, &w.Active, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return yae.Webhook{}, &yae.ErrNotFound{Kind: "webhook", Key: slug}
	}
	if err != nil {
		return yae.Webhook{}, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

func (s *AdminStore) ListWebhooks(ctx context.Context) ([]yae.Webhook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, slug, secret, target_user_id, target_workflow, active, created_at
		 FROM webhooks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []yae.Webhook
	for rows.Next() {
		var w yae.Webhook
		if err := rows.Scan(&w.ID, &w.Name, &w.Slug, &w.Secret, &w.TargetUserID, &w.TargetWorkflow, &w.Active, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (s *AdminStore) UpdateWebhook(ctx context.Context, w yae.Webhook) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhooks SET name=$1, slug=$2, secret=$3, target_user_id=$4, target_workflow=$5, active=$6 WHERE id=$7`,
		w.Name, w.Slug, w.Secret, w.TargetUserID, w.TargetWorkflow, w.Active, w.ID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}

func (s *AdminStore) DeleteWebhook(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// --- Webhook events ---

// InsertWebhookEvent records a delivery. ON CONFLICT on the partial unique
// index makes replays return the prior event id without a second row.
func (s *AdminStore) InsertWebhookEvent(ctx context.Context, ev yae.WebhookEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = yae.NewID()
	}
	if ev.ExternalID != "" {
		var prior string
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM webhook_events WHERE webhook_id = $1 AND external_id = $2`,
			ev.WebhookID, ev.ExternalID).Scan(&prior)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("check webhook event: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (id, webhook_id, external_id, headers, payload, status, error, received_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT DO NOTHING`,
		ev.ID, ev.WebhookID, ev.ExternalID, ev.Headers, ev.Payload, string(ev.Status), ev.Error, ev.ReceivedAt, ev.ProcessedAt)
	if err != nil {
		return "", fmt.Errorf("insert webhook event: %w", err)
	}
	return ev.ID, nil
}

func (s *AdminStore) UpdateWebhookEventStatus(ctx context.Context, id string, status yae.WebhookEventStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status=$1, error=$2, processed_at=$3 WHERE id=$4`,
		string(status), errMsg, yae.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &yae.ErrNotFound{Kind: "webhook event", Key: id}
	}
	return nil
}

func (s *AdminStore) ListWebhookEvents(ctx context.Context, webhookID string, limit int) ([]yae.WebhookEvent, error) {
	query := `SELECT id, webhook_id, external_id, headers, payload, status, error, received_at, processed_at
		 FROM webhook_events WHERE webhook_id = $1 ORDER BY received_at DESC, id DESC`
	args := []any{webhookID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []yae.WebhookEvent
	for rows.Next() {
		var ev yae.WebhookEvent
		var status string
		if err := rows.Scan(&ev.ID, &ev.WebhookID, &ev.ExternalID, &ev.Headers, &ev.Payload, &status, &ev.Error, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.Status = yae.WebhookEventStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Workflow runs ---

func (s *AdminStore) CreateRun(ctx context.Context, run yae.WorkflowRun) error {
	var state []byte
	if len(run.State) > 0 {
		state = run.State
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_runs (id, agent_id, workflow_name, status, state, error, started_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.AgentID, run.WorkflowName, string(run.Status), state, run.Error,
		run.StartedAt, run.UpdatedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *AdminStore) UpdateRun(ctx context.Context, id string, patch yae.RunPatch) error {
	sets := []string{"updated_at = $1"}
	args := []any{yae.NowUnix()}
	next := 2
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, next))
		args = append(args, v)
		next++
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.State != nil {
		add("state", []byte(patch.State))
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE workflow_runs SET %s WHERE id = $%d`, strings.Join(sets, ", "), next),
		args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &yae.ErrNotFound{Kind: "workflow run", Key: id}
	}
	return nil
}

func (s *AdminStore) GetRun(ctx context.Context, id string) (yae.WorkflowRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, workflow_name, status, state, error, started_at, updated_at, completed_at
		 FROM workflow_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return yae.WorkflowRun{}, &yae.ErrNotFound{Kind: "workflow run", Key: id}
	}
	if err != nil {
		return yae.WorkflowRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *AdminStore) ListRunsByStatus(ctx context.Context, status yae.RunStatus, limit int) ([]yae.WorkflowRun, error) {
	return s.listRuns(ctx, `status = $1`, string(status), limit)
}

func (s *AdminStore) ListRunsByAgent(ctx context.Context, agentID string, limit int) ([]yae.WorkflowRun, error) {
	return s.listRuns(ctx, `agent_id = $1`, agentID, limit)
}

func (s *AdminStore) listRuns(ctx context.Context, where string, arg any, limit int) ([]yae.WorkflowRun, error) {
	query := `SELECT id, agent_id, workflow_name, status, state, error, started_at, updated_at, completed_at
		 FROM workflow_runs WHERE ` + where + ` ORDER BY started_at DESC, id DESC`
	args := []any{arg}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []yae.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkStaleAsFailed flips every row still claiming to run to failed. Called
// once at startup, before any new run is scheduled.
func (s *AdminStore) MarkStaleAsFailed(ctx context.Context) (int, error) {
	now := yae.NowUnix()
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_runs SET status=$1, error=$2, completed_at=$3, updated_at=$4 WHERE status=$5`,
		string(yae.RunFailed), "workflow interrupted by server restart", now, now, string(yae.RunRunning))
	if err != nil {
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op: the pool is externally owned.
func (s *AdminStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (yae.WorkflowRun, error) {
	var run yae.WorkflowRun
	var status string
	var state []byte
	if err := row.Scan(&run.ID, &run.AgentID, &run.WorkflowName, &status, &state, &run.Error,
		&run.StartedAt, &run.UpdatedAt, &run.CompletedAt); err != nil {
		return yae.WorkflowRun{}, err
	}
	run.Status = yae.RunStatus(status)
	if len(state) > 0 {
		run.State = state
	}
	return run, nil
}
