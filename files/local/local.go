// Package local implements yae.FileStore on a sandboxed directory, one
// workspace directory per agent. Paths are virtual, rooted at "/"; nothing
// outside the workspace is reachable.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nevindra/yae"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAudit sets the backend persisting tool-audit rows. Without it the
// audit methods are no-ops.
func WithAudit(a yae.AuditBackend) StoreOption {
	return func(s *Store) { s.audit = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is a FileStore restricted to a workspace directory.
type Store struct {
	root   string
	audit  yae.AuditBackend
	logger *slog.Logger
}

var _ yae.FileStore = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, opts ...StoreOption) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	s := &Store{root: abs, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// resolve maps a virtual path onto the workspace and rejects everything that
// would escape it.
func (s *Store) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	resolved := filepath.Join(s.root, cleaned)
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", &yae.ErrValidation{Msg: fmt.Sprintf("path escapes workspace: %s", path)}
	}
	return resolved, nil
}

// ReadFile returns a file's text content. PDF files are transparently run
// through text extraction so the agent sees readable text, not raw bytes.
func (s *Store) ReadFile(ctx context.Context, path string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return "", &yae.ErrNotFound{Kind: "file", Key: path}
	}
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := extractPDFText(data)
		if err != nil {
			return "", fmt.Errorf("extract pdf %s: %w", path, err)
		}
		return text, nil
	}
	return string(data), nil
}

func (s *Store) WriteFile(ctx context.Context, path, content string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	s.logger.Debug("file written", "path", path, "bytes", len(content))
	return nil
}

func (s *Store) Mkdir(ctx context.Context, path string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return nil
}

func (s *Store) ReadDir(ctx context.Context, path string) ([]yae.FileInfo, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if os.IsNotExist(err) {
		return nil, &yae.ErrNotFound{Kind: "directory", Key: path}
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	base := strings.TrimSuffix("/"+strings.Trim(path, "/"), "/")
	infos := make([]yae.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, yae.FileInfo{
			Name:       e.Name(),
			Path:       base + "/" + e.Name(),
			Dir:        e.IsDir(),
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().Unix(),
		})
	}
	return infos, nil
}

func (s *Store) Stat(ctx context.Context, path string) (yae.FileInfo, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return yae.FileInfo{}, err
	}
	fi, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return yae.FileInfo{}, &yae.ErrNotFound{Kind: "file", Key: path}
	}
	if err != nil {
		return yae.FileInfo{}, fmt.Errorf("stat: %w", err)
	}
	return yae.FileInfo{
		Name:       fi.Name(),
		Path:       "/" + strings.Trim(path, "/"),
		Dir:        fi.IsDir(),
		Size:       fi.Size(),
		ModifiedAt: fi.ModTime().Unix(),
	}, nil
}

// Unlink deletes a single file; directories are rejected.
func (s *Store) Unlink(ctx context.Context, path string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return &yae.ErrNotFound{Kind: "file", Key: path}
	}
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if fi.IsDir() {
		return &yae.ErrValidation{Msg: fmt.Sprintf("%s is a directory", path)}
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("unlink: %w", err)
	}
	return nil
}

// Remove deletes path recursively.
func (s *Store) Remove(ctx context.Context, path string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}
	if resolved == s.root {
		return &yae.ErrValidation{Msg: "cannot remove workspace root"}
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return &yae.ErrNotFound{Kind: "file", Key: path}
	}
	if err := os.RemoveAll(resolved); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	from, err := s.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := s.resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return &yae.ErrNotFound{Kind: "file", Key: oldPath}
		}
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) CopyFile(ctx context.Context, src, dst string) error {
	from, err := s.resolve(src)
	if err != nil {
		return err
	}
	to, err := s.resolve(dst)
	if err != nil {
		return err
	}
	in, err := os.Open(from)
	if os.IsNotExist(err) {
		return &yae.ErrNotFound{Kind: "file", Key: src}
	}
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

// FileTree renders the subtree at path as a deterministic XML fragment.
// Entries are sorted by name; an empty tree renders as <files/>.
func (s *Store) FileTree(ctx context.Context, path string) (string, error) {
	if path == "" {
		path = "/"
	}
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return "", &yae.ErrNotFound{Kind: "directory", Key: path}
	}
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if !fi.IsDir() {
		return "", &yae.ErrValidation{Msg: fmt.Sprintf("%s is not a directory", path)}
	}

	var sb strings.Builder
	empty, err := writeTree(&sb, resolved, 0)
	if err != nil {
		return "", err
	}
	if empty {
		return "<files/>", nil
	}
	return "<files>\n" + sb.String() + "</files>", nil
}

func writeTree(sb *strings.Builder, dir string, depth int) (empty bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	indent := strings.Repeat("  ", depth)
	wrote := false
	for _, e := range entries {
		if e.IsDir() {
			var inner strings.Builder
			childEmpty, err := writeTree(&inner, filepath.Join(dir, e.Name()), depth+1)
			if err != nil {
				return false, err
			}
			if childEmpty {
				fmt.Fprintf(sb, "%s<dir name=%q/>\n", indent, e.Name())
			} else {
				fmt.Fprintf(sb, "%s<dir name=%q>\n%s%s</dir>\n", indent, e.Name(), inner.String(), indent)
			}
			wrote = true
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(sb, "%s<file name=%q size=\"%d\"/>\n", indent, e.Name(), fi.Size())
		wrote = true
	}
	return !wrote, nil
}

// --- Tool audit ---

// ToolPending records a tool about to run and returns the audit id. Without
// an audit backend it returns "" and the agent skips the closing write.
func (s *Store) ToolPending(ctx context.Context, name string, params any) (string, error) {
	if s.audit == nil {
		return "", nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(params)))
	}
	rec := yae.ToolAuditRecord{
		ID:        yae.NewID(),
		Tool:      name,
		Params:    string(encoded),
		Status:    yae.AuditPending,
		CreatedAt: yae.NowUnix(),
		UpdatedAt: yae.NowUnix(),
	}
	if err := s.audit.InsertToolAudit(ctx, rec); err != nil {
		return "", fmt.Errorf("insert tool audit: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) ToolSuccess(ctx context.Context, id, result string) error {
	if s.audit == nil || id == "" {
		return nil
	}
	return s.audit.UpdateToolAudit(ctx, id, yae.AuditSuccess, result)
}

func (s *Store) ToolFailure(ctx context.Context, id, errMsg string) error {
	if s.audit == nil || id == "" {
		return nil
	}
	return s.audit.UpdateToolAudit(ctx, id, yae.AuditFailure, errMsg)
}
