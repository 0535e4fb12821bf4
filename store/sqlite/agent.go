package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/yae"
)

// DatastoreOption configures a Datastore.
type DatastoreOption func(*Datastore)

// WithDatastoreLogger sets a structured logger for the store.
func WithDatastoreLogger(l *slog.Logger) DatastoreOption {
	return func(s *Datastore) { s.logger = l }
}

// Datastore is one agent's persistence: memory blocks, the append-only
// message log, and the tool-audit trail. One SQLite file per user.
type Datastore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ yae.MemoryBackend = (*Datastore)(nil)
var _ yae.MessageBackend = (*Datastore)(nil)
var _ yae.AuditBackend = (*Datastore)(nil)

// NewDatastore creates a Datastore using a local SQLite file at dbPath.
func NewDatastore(dbPath string, opts ...DatastoreOption) *Datastore {
	s := &Datastore{db: open(dbPath), logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: agent datastore opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Datastore) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS memory_blocks (
			label TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			content TEXT NOT NULL,
			protected INTEGER NOT NULL DEFAULT 0,
			readonly INTEGER NOT NULL DEFAULT 0,
			char_limit INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_audit (
			id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			params TEXT,
			status TEXT NOT NULL,
			detail TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at, id)`)

	s.logger.Debug("sqlite: agent datastore init completed", "duration", time.Since(start))
	return nil
}

// --- Memory blocks ---

// UpsertBlock writes a block, preserving its position in insertion order on
// update (the rowid survives an ON CONFLICT update, so ListBlocks keeps the
// original ordering).
func (s *Datastore) UpsertBlock(ctx context.Context, block yae.MemoryBlock) error {
	start := time.Now()
	s.logger.Debug("sqlite: upsert block", "label", block.Label)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_blocks (label, description, content, protected, readonly, char_limit, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(label) DO UPDATE SET
			description = excluded.description,
			content = excluded.content,
			protected = excluded.protected,
			readonly = excluded.readonly,
			char_limit = excluded.char_limit,
			updated_at = excluded.updated_at`,
		block.Label, block.Description, block.Content,
		boolToInt(block.Protected), boolToInt(block.ReadOnly), block.Limit, block.UpdatedAt)
	if err != nil {
		s.logger.Error("sqlite: upsert block failed", "label", block.Label, "error", err, "duration", time.Since(start))
		return fmt.Errorf("upsert block: %w", err)
	}
	s.logger.Debug("sqlite: upsert block ok", "label", block.Label, "duration", time.Since(start))
	return nil
}

func (s *Datastore) DeleteBlock(ctx context.Context, label string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_blocks WHERE label = ?`, label); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ListBlocks returns all blocks in insertion order.
func (s *Datastore) ListBlocks(ctx context.Context) ([]yae.MemoryBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, description, content, protected, readonly, char_limit, updated_at
		 FROM memory_blocks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []yae.MemoryBlock
	for rows.Next() {
		var b yae.MemoryBlock
		var protected, readonly int
		if err := rows.Scan(&b.Label, &b.Description, &b.Content, &protected, &readonly, &b.Limit, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Protected = protected != 0
		b.ReadOnly = readonly != 0
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// --- Messages ---

func (s *Datastore) AppendMessage(ctx context.Context, msg yae.Message) error {
	start := time.Now()
	s.logger.Debug("sqlite: append message", "id", msg.ID, "role", msg.Role)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: append message failed", "id", msg.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Datastore) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ListMessagesAsc returns messages in chronological order starting at offset.
// A limit of 0 means no limit.
func (s *Datastore) ListMessagesAsc(ctx context.Context, offset, limit int) ([]yae.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means unlimited
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages
		 ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecentMessages returns the newest limit messages in chronological
// order (oldest of the window first).
func (s *Datastore) ListRecentMessages(ctx context.Context, limit int) ([]yae.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order (oldest first).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]yae.Message, error) {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_audit (id, tool, params, status, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tool, rec.Params, rec.Status, rec.Detail, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tool audit: %w", err)
	}
	return nil
}

func (s *Datastore) UpdateToolAudit(ctx context.Context, id, status, detail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_audit SET status=?, detail=?, updated_at=? WHERE id=?`,
		status, detail, yae.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("update tool audit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &yae.ErrNotFound{Kind: "tool audit", Key: id}
	}
	return nil
}

// ListToolAudit returns the newest limit audit rows, newest first.
func (s *Datastore) ListToolAudit(ctx context.Context, limit int) ([]yae.ToolAuditRecord, error) {
	query := `SELECT id, tool, params, status, detail, created_at, updated_at
		 FROM tool_audit ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool audit: %w", err)
	}
	defer rows.Close()

	var recs []yae.ToolAuditRecord
	for rows.Next() {
		var r yae.ToolAuditRecord
		var params, detail sql.NullString
		if err := rows.Scan(&r.ID, &r.Tool, &params, &r.Status, &detail, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool audit: %w", err)
		}
		r.Params = params.String
		r.Detail = detail.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Close closes the underlying database connection.
func (s *Datastore) Close() error {
	s.logger.Debug("sqlite: closing agent datastore")
	return s.db.Close()
}
