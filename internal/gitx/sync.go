package gitx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gitpress/gitpress/internal/domain"
)

// remoteName is the authenticated remote alias used for pushes.
const remoteName = "gitpress"

// Synchronizer owns the lifecycle of per-site working trees. Every operation
// for a given site runs under that site's lock, so content commits and
// deployment pulls mutually exclude each other. Operations report failure
// through GitResult; nothing escapes the synchronizer as an error.
type Synchronizer struct {
	branch  string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSynchronizer constructs a Synchronizer pushing and pulling the given branch.
func NewSynchronizer(branch string, timeout time.Duration, logger *slog.Logger) *Synchronizer {
	if branch == "" {
		branch = "main"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Synchronizer{
		branch:  branch,
		timeout: timeout,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// siteLock returns the mutex guarding a site's working tree.
func (s *Synchronizer) siteLock(siteID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[siteID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[siteID] = lock
	}
	return lock
}

// Evict drops cached per-site state. Call after a site's configuration
// changes or the site is deleted; callers must not hold the site's lock.
func (s *Synchronizer) Evict(siteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, siteID)
}

// Initialize clones the repository when the working path has no .git marker,
// otherwise brings the existing tree up to date with a clean pull.
func (s *Synchronizer) Initialize(ctx context.Context, site domain.Site) domain.GitResult {
	if _, err := os.Stat(filepath.Join(site.LocalPath, ".git")); err != nil {
		return s.Clone(ctx, site)
	}
	return s.EnsureCleanAndPull(ctx, site)
}

// Clone creates the working tree from the remote repository.
func (s *Synchronizer) Clone(ctx context.Context, site domain.Site) domain.GitResult {
	lock := s.siteLock(site.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(site.LocalPath), 0o755); err != nil {
		return s.failure(site, fmt.Errorf("create parent directory: %w", err))
	}
	authURL := BuildAuthenticatedURL(site.RepositoryURL, site.PAT)
	if _, err := s.runGit(ctx, site, filepath.Dir(site.LocalPath),
		"clone", "--branch", s.branch, authURL, site.LocalPath); err != nil {
		return s.failure(site, err)
	}
	s.logger.Info("repository cloned", "site_id", site.ID, "path", site.LocalPath)
	return domain.GitResult{Success: true, Message: "repository cloned"}
}

// EnsureCleanAndPull stashes any local modifications and pulls the branch.
// The stash entry is never reapplied; pre-pull local edits survive only in
// the stash list.
func (s *Synchronizer) EnsureCleanAndPull(ctx context.Context, site domain.Site) domain.GitResult {
	lock := s.siteLock(site.ID)
	lock.Lock()
	defer lock.Unlock()

	porcelain, err := s.runGit(ctx, site, site.LocalPath, "status", "--porcelain")
	if err != nil {
		return s.failure(site, err)
	}
	dirty := countStatusLines(porcelain)
	if dirty > 0 {
		stamp := time.Now().UTC().Format(time.RFC3339)
		if _, err := s.runGit(ctx, site, site.LocalPath,
			"stash", "push", "--include-untracked", "-m", "gitpress auto-stash "+stamp); err != nil {
			return s.failure(site, err)
		}
		s.logger.Warn("local changes stashed before pull", "site_id", site.ID, "files", dirty)
	}

	if _, err := s.runGit(ctx, site, site.LocalPath, "pull", "origin", s.branch); err != nil {
		return s.failure(site, err)
	}

	msg := fmt.Sprintf("pulled origin/%s", s.branch)
	if dirty > 0 {
		msg = fmt.Sprintf("%s (%d local files stashed)", msg, dirty)
	}
	return domain.GitResult{Success: true, Message: msg}
}

// CommitAndPush stages exactly the given paths, commits with the message and
// author, and pushes to the branch through an authenticated remote alias.
// The new HEAD hash is returned on success.
func (s *Synchronizer) CommitAndPush(ctx context.Context, site domain.Site, paths []string, message string, author domain.Author) domain.GitResult {
	lock := s.siteLock(site.ID)
	lock.Lock()
	defer lock.Unlock()

	if len(paths) == 0 {
		return domain.GitResult{Success: false, Error: "no paths to commit"}
	}
	if author.Name != "" {
		if _, err := s.runGit(ctx, site, site.LocalPath, "config", "user.name", author.Name); err != nil {
			return s.failure(site, err)
		}
	}
	if author.Email != "" {
		if _, err := s.runGit(ctx, site, site.LocalPath, "config", "user.email", author.Email); err != nil {
			return s.failure(site, err)
		}
	}

	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := s.runGit(ctx, site, site.LocalPath, addArgs...); err != nil {
		return s.failure(site, err)
	}
	if _, err := s.runGit(ctx, site, site.LocalPath, "commit", "-m", message); err != nil {
		return s.failure(site, err)
	}
	hashOut, err := s.runGit(ctx, site, site.LocalPath, "rev-parse", "HEAD")
	if err != nil {
		return s.failure(site, err)
	}
	hash := strings.TrimSpace(hashOut)

	authURL := BuildAuthenticatedURL(site.RepositoryURL, site.PAT)
	if _, err := s.runGit(ctx, site, site.LocalPath, "remote", "add", remoteName, authURL); err != nil {
		// Remote already exists from an earlier push; refresh its URL so a
		// rotated credential takes effect.
		if _, err := s.runGit(ctx, site, site.LocalPath, "remote", "set-url", remoteName, authURL); err != nil {
			return s.failure(site, err)
		}
	}
	if _, err := s.runGit(ctx, site, site.LocalPath, "push", remoteName, s.branch); err != nil {
		return s.failure(site, err)
	}

	s.logger.Info("changes pushed", "site_id", site.ID, "hash", hash, "files", len(paths))
	return domain.GitResult{Success: true, Hash: hash, Message: message}
}

// Status returns a read-only snapshot of the working tree for diagnostics.
func (s *Synchronizer) Status(ctx context.Context, site domain.Site) (domain.RepositoryStatus, error) {
	lock := s.siteLock(site.ID)
	lock.Lock()
	defer lock.Unlock()

	var status domain.RepositoryStatus

	porcelain, err := s.runGit(ctx, site, site.LocalPath, "status", "--porcelain")
	if err != nil {
		return status, err
	}
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])
		switch {
		case code == "??":
			status.Untracked = append(status.Untracked, path)
		case strings.Contains(code, "D"):
			status.Deleted = append(status.Deleted, path)
		case strings.Contains(code, "A"):
			status.Added = append(status.Added, path)
		default:
			status.Modified = append(status.Modified, path)
		}
	}
	status.Clean = len(status.Untracked)+len(status.Deleted)+len(status.Added)+len(status.Modified) == 0

	// Ahead/behind needs a remote tracking ref; a fresh repository without
	// one simply reports zero.
	if counts, err := s.runGit(ctx, site, site.LocalPath,
		"rev-list", "--left-right", "--count", "HEAD...origin/"+s.branch); err == nil {
		fields := strings.Fields(strings.TrimSpace(counts))
		if len(fields) == 2 {
			status.Ahead, _ = strconv.Atoi(fields[0])
			status.Behind, _ = strconv.Atoi(fields[1])
		}
	}

	logOut, err := s.runGit(ctx, site, site.LocalPath,
		"log", "-n", "10", "--pretty=format:%H%x1f%an%x1f%aI%x1f%s")
	if err != nil {
		return status, err
	}
	for _, line := range strings.Split(logOut, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, parts[2])
		status.Commits = append(status.Commits, domain.CommitInfo{
			Hash:    parts[0],
			Author:  parts[1],
			Date:    date,
			Message: parts[3],
		})
	}
	return status, nil
}

// runGit executes git with the given argument vector in dir, with interactive
// credential prompts disabled. Output that may echo the remote URL is
// scrubbed of the site's token before it can reach logs or results.
func (s *Synchronizer) runGit(ctx context.Context, site domain.Site, dir string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		scrubbed := ScrubToken(strings.TrimSpace(string(output)), site.PAT)
		return "", fmt.Errorf("git %s failed: %w: %s", args[0], err, scrubbed)
	}
	return ScrubToken(string(output), site.PAT), nil
}

// failure converts an internal error into a failed GitResult and logs it.
func (s *Synchronizer) failure(site domain.Site, err error) domain.GitResult {
	msg := ScrubToken(err.Error(), site.PAT)
	s.logger.Error("git operation failed", "site_id", site.ID, "error", msg)
	return domain.GitResult{Success: false, Error: msg}
}

func countStatusLines(porcelain string) int {
	count := 0
	for _, line := range strings.Split(porcelain, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}
