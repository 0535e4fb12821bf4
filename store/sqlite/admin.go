package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nevindra/yae"
)

// AdminOption configures an AdminStore.
type AdminOption func(*AdminStore)

// WithAdminLogger sets a structured logger for the store. When set, the
// store emits debug logs for every operation including timing and key
// parameters. If not set, no logs are emitted.
func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(s *AdminStore) { s.logger = l }
}

// AdminStore implements yae.AdminStore and yae.WorkflowRunStore backed by a
// local SQLite file.
type AdminStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ yae.AdminStore = (*AdminStore)(nil)
var _ yae.WorkflowRunStore = (*AdminStore)(nil)

// NewAdmin creates an AdminStore using a local SQLite file at dbPath.
func NewAdmin(dbPath string, opts ...AdminOption) *AdminStore {
	s := &AdminStore{db: open(dbPath), logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: admin store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *AdminStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: admin init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			secret TEXT NOT NULL,
			target_user_id TEXT,
			target_workflow TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			external_id TEXT,
			headers TEXT,
			payload TEXT,
			status TEXT NOT NULL,
			error TEXT,
			received_at INTEGER NOT NULL,
			processed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Idempotent ingestion: one row per (webhook, external delivery id).
	_, _ = s.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_external
		ON webhook_events(webhook_id, external_id) WHERE external_id != ''`)

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_webhook_events_hook ON webhook_events(webhook_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_agent ON workflow_runs(agent_id)`)

	s.logger.Info("sqlite: admin init completed", "duration", time.Since(start))
	return nil
}

// --- Users ---

func (s *AdminStore) CreateUser(ctx context.Context, u yae.User) error {
	start := time.Now()
	s.logger.Debug("sqlite: create user", "id", u.ID, "role", u.Role)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, token, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Token, u.Role, u.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: create user failed", "id", u.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create user: %w", err)
	}
	s.logger.Debug("sqlite: create user ok", "id", u.ID, "duration", time.Since(start))
	return nil
}

func (s *AdminStore) GetUser(ctx context.Context, id string) (yae.User, error) {
	var u yae.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, token, role, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Token, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return yae.User{}, &yae.ErrNotFound{Kind: "user", Key: id}
	}
	if err != nil {
		return yae.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *AdminStore) GetUserByToken(ctx context.Context, token string) (yae.User, error) {
	var u yae.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, token, role, created_at FROM users WHERE token = ?`, token,
	).Scan(&u.ID, &u.Name, &u.Token, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return yae.User{}, &yae.ErrNotFound{Kind: "user", Key: "token"}
	}
	if err != nil {
		return yae.User{}, fmt.Errorf("get user by token: %w", err)
	}
	return u, nil
}

func (s *AdminStore) ListUsers(ctx context.Context) ([]yae.User, error) {
	rows, err := s.db.QueryContext(ctx,
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
	start := time.Now()
	s.logger.Debug("sqlite: delete user", "id", id)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		s.logger.Error("sqlite: delete user failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete user: %w", err)
	}
	s.logger.Debug("sqlite: delete user ok", "id", id, "duration", time.Since(start))
	return nil
}

// --- Webhooks ---

func (s *AdminStore) CreateWebhook(ctx context.Context, w yae.Webhook) error {
	start := time.Now()
	s.logger.Debug("sqlite: create webhook", "id", w.ID, "slug", w.Slug)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, name, slug, secret, target_user_id, target_workflow, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Slug, w.Secret, w.TargetUserID, w.TargetWorkflow, boolToInt(w.Active), w.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: create webhook failed", "slug", w.Slug, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create webhook: %w", err)
	}
	s.logger.Debug("sqlite: create webhook ok", "slug", w.Slug, "duration", time.Since(start))
	return nil
}

func (s *AdminStore) GetWebhookBySlug(ctx context.Context, slug string) (yae.Webhook, error) {
	var w yae.Webhook
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, secret, target_user_id, target_workflow, active, created_at
		 FROM webhooks WHERE slug = ?`, slug,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.Secret, &w.TargetUserID, &w.TargetWorkflow, &active, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return yae.Webhook{}, &yae.ErrNotFound{Kind: "webhook", Key: slug}
	}
	if err != nil {
		return yae.Webhook{}, fmt.Errorf("get webhook: %w", err)
	}
	w.Active = active != 0
	return w, nil
}

func (s *AdminStore) ListWebhooks(ctx context.Context) ([]yae.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, secret, target_user_id, target_workflow, active, created_at
		 FROM webhooks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []yae.Webhook
	for rows.Next() {
		var w yae.Webhook
		var active int
		if err := rows.Scan(&w.ID, &w.Name, &w.Slug, &w.Secret, &w.TargetUserID, &w.TargetWorkflow, &active, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		w.Active = active != 0
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (s *AdminStore) UpdateWebhook(ctx context.Context, w yae.Webhook) error {
	start := time.Now()
	s.logger.Debug("sqlite: update webhook", "id", w.ID, "slug", w.Slug, "active", w.Active)

	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET name=?, slug=?, secret=?, target_user_id=?, target_workflow=?, active=? WHERE id=?`,
		w.Name, w.Slug, w.Secret, w.TargetUserID, w.TargetWorkflow, boolToInt(w.Active), w.ID)
	if err != nil {
		s.logger.Error("sqlite: update webhook failed", "id", w.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}

func (s *AdminStore) DeleteWebhook(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// --- Webhook events ---

// InsertWebhookEvent records a delivery. When the event carries an external
// id already ingested for the same webhook, the prior event id is returned
// and no new row is written.
func (s *AdminStore) InsertWebhookEvent(ctx context.Context, ev yae.WebhookEvent) (string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: insert webhook event", "webhook", ev.WebhookID, "external_id", ev.ExternalID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if ev.ExternalID != "" {
		var prior string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM webhook_events WHERE webhook_id = ? AND external_id = ?`,
			ev.WebhookID, ev.ExternalID).Scan(&prior)
		if err == nil {
			s.logger.Debug("sqlite: webhook event replay", "webhook", ev.WebhookID, "external_id", ev.ExternalID, "prior", prior)
			return prior, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("check webhook event: %w", err)
		}
	}

	if ev.ID == "" {
		ev.ID = yae.NewID()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO webhook_events (id, webhook_id, external_id, headers, payload, status, error, received_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WebhookID, ev.ExternalID, ev.Headers, ev.Payload, string(ev.Status), ev.Error, ev.ReceivedAt, ev.ProcessedAt)
	if err != nil {
		s.logger.Error("sqlite: insert webhook event failed", "webhook", ev.WebhookID, "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("insert webhook event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: insert webhook event ok", "id", ev.ID, "duration", time.Since(start))
	return ev.ID, nil
}

func (s *AdminStore) UpdateWebhookEventStatus(ctx context.Context, id string, status yae.WebhookEventStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status=?, error=?, processed_at=? WHERE id=?`,
		string(status), errMsg, yae.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &yae.ErrNotFound{Kind: "webhook event", Key: id}
	}
	return nil
}

func (s *AdminStore) ListWebhookEvents(ctx context.Context, webhookID string, limit int) ([]yae.WebhookEvent, error) {
	query := `SELECT id, webhook_id, external_id, headers, payload, status, error, received_at, processed_at
		 FROM webhook_events WHERE webhook_id = ? ORDER BY received_at DESC, id DESC`
	args := []any{webhookID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []yae.WebhookEvent
	for rows.Next() {
		var ev yae.WebhookEvent
		var status string
		var processedAt sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.WebhookID, &ev.ExternalID, &ev.Headers, &ev.Payload, &status, &ev.Error, &ev.ReceivedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.Status = yae.WebhookEventStatus(status)
		if processedAt.Valid {
			ev.ProcessedAt = processedAt.Int64
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Workflow runs ---

func (s *AdminStore) CreateRun(ctx context.Context, run yae.WorkflowRun) error {
	start := time.Now()
	s.logger.Debug("sqlite: create run", "id", run.ID, "workflow", run.WorkflowName, "agent", run.AgentID)

	var state *string
	if len(run.State) > 0 {
		v := string(run.State)
		state = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, agent_id, workflow_name, status, state, error, started_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentID, run.WorkflowName, string(run.Status), state, run.Error,
		run.StartedAt, run.UpdatedAt, run.CompletedAt)
	if err != nil {
		s.logger.Error("sqlite: create run failed", "id", run.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun applies a partial patch; nil fields are left untouched and
// updated_at is always bumped.
func (s *AdminStore) UpdateRun(ctx context.Context, id string, patch yae.RunPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{yae.NowUnix()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(patch.State))
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *patch.CompletedAt)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &yae.ErrNotFound{Kind: "workflow run", Key: id}
	}
	return nil
}

func (s *AdminStore) GetRun(ctx context.Context, id string) (yae.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, workflow_name, status, state, error, started_at, updated_at, completed_at
		 FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return yae.WorkflowRun{}, &yae.ErrNotFound{Kind: "workflow run", Key: id}
	}
	if err != nil {
		return yae.WorkflowRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *AdminStore) ListRunsByStatus(ctx context.Context, status yae.RunStatus, limit int) ([]yae.WorkflowRun, error) {
	return s.listRuns(ctx, `status = ?`, string(status), limit)
}

func (s *AdminStore) ListRunsByAgent(ctx context.Context, agentID string, limit int) ([]yae.WorkflowRun, error) {
	return s.listRuns(ctx, `agent_id = ?`, agentID, limit)
}

func (s *AdminStore) listRuns(ctx context.Context, where string, arg any, limit int) ([]yae.WorkflowRun, error) {
	query := `SELECT id, agent_id, workflow_name, status, state, error, started_at, updated_at, completed_at
		 FROM workflow_runs WHERE ` + where + ` ORDER BY started_at DESC, id DESC`
	args := []any{arg}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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
// once at startup, before any new run is scheduled: a running row from a
// previous process cannot have a live goroutine behind it.
func (s *AdminStore) MarkStaleAsFailed(ctx context.Context) (int, error) {
	start := time.Now()
	now := yae.NowUnix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status=?, error=?, completed_at=?, updated_at=? WHERE status=?`,
		string(yae.RunFailed), "workflow interrupted by server restart", now, now, string(yae.RunRunning))
	if err != nil {
		s.logger.Error("sqlite: sweep stale runs failed", "error", err, "duration", time.Since(start))
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("sqlite: swept stale runs", "count", n, "duration", time.Since(start))
	}
	return int(n), nil
}

// Close closes the underlying database connection.
func (s *AdminStore) Close() error {
	s.logger.Debug("sqlite: closing admin store")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (yae.WorkflowRun, error) {
	var run yae.WorkflowRun
	var status string
	var state, errMsg sql.NullString
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.AgentID, &run.WorkflowName, &status, &state, &errMsg,
		&run.StartedAt, &run.UpdatedAt, &completedAt); err != nil {
		return yae.WorkflowRun{}, err
	}
	run.Status = yae.RunStatus(status)
	if state.Valid {
		run.State = []byte(state.String)
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Int64
	}
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
