package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/yae"
)

// Datastore is one agent's persistence on a shared PostgreSQL pool. Rows are
// partitioned by agent id, so every agent gets its own Datastore handle over
// the same pool.
type Datastore struct {
	pool    *pgxpool.Pool
	agentID string
}

var _ yae.MemoryBackend = (*Datastore)(nil)
var _ yae.MessageBackend = (*Datastore)(nil)
var _ yae.AuditBackend = (*Datastore)(nil)

// NewDatastore creates a Datastore scoped to agentID on an existing pool.
// The caller owns the pool and is responsible for closing it.
func NewDatastore(pool *pgxpool.Pool, agentID string) *Datastore {
	return &Datastore{pool: pool, agentID: agentID}
}

// Init creates the agent tables. Shared across all agents; safe to call once
// per process or once per agent.
func (s *Datastore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_blocks (
			agent_id TEXT NOT NULL,
			label TEXT NOT NULL,
			description TEXT NOT NULL,
			content TEXT NOT NULL,
			protected BOOLEAN NOT NULL DEFAULT FALSE,
			readonly BOOLEAN NOT NULL DEFAULT FALSE,
			char_limit INTEGER NOT NULL DEFAULT 0,
			position BIGSERIAL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (agent_id, label)
		)`,

		`CREATE TABLE IF NOT EXISTS agent_messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS agent_messages_agent_idx ON agent_messages(agent_id, created_at, id)`,

		`CREATE TABLE IF NOT EXISTS tool_audit (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tool_audit_agent_idx ON tool_audit(agent_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init agent schema: %w", err)
		}
	}
	return nil
}

// --- Memory blocks ---

// UpsertBlock writes a block; the position column is assigned on first
// insert and survives updates, so ListBlocks keeps insertion order.
func (s *Datastore) UpsertBlock(ctx context.Context, block yae.MemoryBlock) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_blocks (agent_id, label, description, content, protected, readonly, char_limit, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (agent_id, label) DO UPDATE SET
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			protected = EXCLUDED.protected,
			readonly = EXCLUDED.readonly,
			char_limit = EXCLUDED.char_limit,
			updated_at = EXCLUDED.updated_at`,
		s.agentID, block.Label, block.Description, block.Content,
		block.Protected, block.ReadOnly, block.Limit, block.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert block: %w", err)
	}
	return nil
}

func (s *Datastore) DeleteBlock(ctx context.Context, label string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM memory_blocks WHERE agent_id = $1 AND label = $2`, s.agentID, label)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

func (s *Datastore) ListBlocks(ctx context.Context) ([]yae.MemoryBlock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label, description, content, protected, readonly, char_limit, updated_at
		 FROM memory_blocks WHERE agent_id = $1 ORDER BY position`, s.agentID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []yae.MemoryBlock
	for rows.Next() {
		var b yae.MemoryBlock
		if err := rows.Scan(&b.Label, &b.Description, &b.Content, &b.Protected, &b.ReadOnly, &b.Limit, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// --- Messages ---

func (s *Datastore) AppendMessage(ctx context.Context, msg yae.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_messages (id, agent_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, s.agentID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Datastore) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_messages WHERE agent_id = $1`, s.agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Datastore) ListMessagesAsc(ctx context.Context, offset, limit int) ([]yae.Message, error) {
	query := `SELECT id, role, content, created_at FROM agent_messages
		 WHERE agent_id = $1 ORDER BY created_at ASC, id ASC OFFSET $2`
	args := []any{s.agentID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Datastore) ListRecentMessages(ctx context.Context, limit int) ([]yae.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at FROM agent_messages
		 WHERE agent_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, s.agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]yae.Message, error) {
	var msgs []yae.Message
	for rows.Next() {
		var m yae.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Tool audit ---

func (s *Datastore) InsertToolAudit(ctx context.Context, rec yae.ToolAuditRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_audit (id, agent_id, tool, params, status, detail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, s.agentID, rec.Tool, rec.Params, rec.Status, rec.Detail, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tool audit: %w", err)
	}
	return nil
}

func (s *Datastore) UpdateToolAudit(ctx context.Context, id, status, detail string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tool_audit SET status=$1, detail=$2, updated_at=$3 WHERE id=$4 AND agent_id=$5`,
		status, detail, yae.NowUnix(), id, s.agentID)
	if err != nil {
		return fmt.Errorf("update tool audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &yae.ErrNotFound{Kind: "tool audit", Key: id}
	}
	return nil
}
