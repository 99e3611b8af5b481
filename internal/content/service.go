package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gitpress/gitpress/internal/domain"
)

// Path errors surfaced to the route layer.
var (
	ErrPathOutsideTree = errors.New("content: path escapes working tree")
	ErrPathNotEditable = errors.New("content: path not in editable set")
)

// Syncer is the git dependency of the coordinator.
type Syncer interface {
	CommitAndPush(ctx context.Context, site domain.Site, paths []string, message string, author domain.Author) domain.GitResult
}

// Service applies content mutations to a site's working tree and persists
// them to the remote repository. A failed push never rolls back the local
// mutation; callers receive Success=false and must treat the outcome as a
// partial success.
type Service struct {
	sync   Syncer
	logger *slog.Logger
}

// New constructs the content service.
func New(sync Syncer, logger *slog.Logger) Service {
	return Service{sync: sync, logger: logger}
}

// Persist wraps changed paths into one commit-and-push. A blank message
// falls back to a generic summary of the change set.
func (s Service) Persist(ctx context.Context, site domain.Site, paths []string, message string, author domain.Author) domain.GitResult {
	if message == "" {
		message = defaultMessage(paths)
	}
	result := s.sync.CommitAndPush(ctx, site, paths, message, author)
	if !result.Success {
		s.logger.Warn("content persist failed; local mutation stands",
			"site_id", site.ID, "paths", len(paths), "error", result.Error)
	}
	return result
}

// ReadFile returns the contents of a file inside the working tree.
func (s Service) ReadFile(site domain.Site, relPath string) ([]byte, error) {
	abs, err := s.Resolve(site, relPath, false)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile creates or updates a file and persists the change.
func (s Service) WriteFile(ctx context.Context, site domain.Site, relPath string, data []byte, message string, author domain.Author) (domain.GitResult, error) {
	abs, err := s.Resolve(site, relPath, true)
	if err != nil {
		return domain.GitResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return domain.GitResult{}, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return domain.GitResult{}, fmt.Errorf("write file: %w", err)
	}
	if message == "" {
		message = "Update " + relPath
	}
	return s.Persist(ctx, site, []string{relPath}, message, author), nil
}

// DeleteFile removes a file and persists the deletion.
func (s Service) DeleteFile(ctx context.Context, site domain.Site, relPath string, message string, author domain.Author) (domain.GitResult, error) {
	abs, err := s.Resolve(site, relPath, true)
	if err != nil {
		return domain.GitResult{}, err
	}
	if err := os.Remove(abs); err != nil {
		return domain.GitResult{}, fmt.Errorf("delete file: %w", err)
	}
	if message == "" {
		message = "Delete " + relPath
	}
	return s.Persist(ctx, site, []string{relPath}, message, author), nil
}

// UploadAsset stores uploaded bytes under the working tree and persists them.
func (s Service) UploadAsset(ctx context.Context, site domain.Site, relPath string, data []byte, author domain.Author) (domain.GitResult, error) {
	abs, err := s.Resolve(site, relPath, true)
	if err != nil {
		return domain.GitResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return domain.GitResult{}, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return domain.GitResult{}, fmt.Errorf("write asset: %w", err)
	}
	return s.Persist(ctx, site, []string{relPath}, "Upload "+relPath, author), nil
}

// RowMessage builds the default commit message for a table mutation.
func RowMessage(operation, table string) string {
	switch operation {
	case "insert":
		return "Add row to " + table
	case "update":
		return "Update row in " + table
	case "delete":
		return "Delete row from " + table
	default:
		return "Modify " + table
	}
}

// Resolve maps a site-relative path to an absolute one, rejecting traversal
// outside the working tree and, for mutations, paths outside the site's
// editable set.
func (s Service) Resolve(site domain.Site, relPath string, mutating bool) (string, error) {
	clean := filepath.Clean(strings.TrimPrefix(relPath, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", ErrPathOutsideTree
	}
	if clean == ".git" || strings.HasPrefix(clean, ".git"+string(filepath.Separator)) {
		return "", ErrPathOutsideTree
	}
	if mutating && !editable(site, clean) {
		return "", ErrPathNotEditable
	}
	return filepath.Join(site.LocalPath, clean), nil
}

// editable reports whether the path falls under one of the site's editable
// prefixes. An empty restriction list allows the whole tree.
func editable(site domain.Site, clean string) bool {
	if len(site.EditablePaths) == 0 {
		return true
	}
	for _, prefix := range site.EditablePaths {
		p := filepath.Clean(strings.TrimPrefix(prefix, "/"))
		if clean == p || strings.HasPrefix(clean, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func defaultMessage(paths []string) string {
	if len(paths) == 1 {
		return "Update " + paths[0]
	}
	return fmt.Sprintf("Update %d files", len(paths))
}
