package yae

import "context"

// ToolAudit records the lifecycle of every tool execution. ToolPending
// returns an audit id that the matching ToolSuccess or ToolFailure closes.
type ToolAudit interface {
	ToolPending(ctx context.Context, name string, params any) (string, error)
	ToolSuccess(ctx context.Context, id, result string) error
	ToolFailure(ctx context.Context, id, errMsg string) error
}

// FileStore is an agent's virtual file tree rooted at "/". Implementations
// also carry the tool-audit capability; the agent bookends every tool call
// with it, not just file operations.
type FileStore interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	Mkdir(ctx context.Context, path string) error
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Unlink(ctx context.Context, path string) error
	// Remove deletes path recursively.
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	CopyFile(ctx context.Context, src, dst string) error
	// FileTree renders the subtree at path as a deterministic XML fragment
	// for inclusion in the agent context.
	FileTree(ctx context.Context, path string) (string, error)

	ToolAudit
}

// AuditBackend persists tool-audit rows in an agent's datastore.
type AuditBackend interface {
	InsertToolAudit(ctx context.Context, rec ToolAuditRecord) error
	UpdateToolAudit(ctx context.Context, id, status, detail string) error
}

// ToolAuditRecord is one persisted audit row.
type ToolAuditRecord struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	Params    string `json:"params"`
	Status    string `json:"status"` // "pending", "success", "failure"
	Detail    string `json:"detail,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

const (
	AuditPending = "pending"
	AuditSuccess = "success"
	AuditFailure = "failure"
)
