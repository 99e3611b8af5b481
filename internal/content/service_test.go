package content

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gitpress/gitpress/internal/domain"
)

type fakeSyncer struct {
	result   domain.GitResult
	paths    []string
	message  string
	author   domain.Author
	attempts int
}

func (f *fakeSyncer) CommitAndPush(ctx context.Context, site domain.Site, paths []string, message string, author domain.Author) domain.GitResult {
	f.attempts++
	f.paths = paths
	f.message = message
	f.author = author
	return f.result
}

func newTestService(syncer *fakeSyncer) Service {
	return New(syncer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSite(t *testing.T, editable ...string) domain.Site {
	t.Helper()
	return domain.Site{
		ID:            "site-1",
		LocalPath:     t.TempDir(),
		EditablePaths: editable,
	}
}

func TestWriteFilePersistsWithDefaultMessage(t *testing.T) {
	syncer := &fakeSyncer{result: domain.GitResult{Success: true, Hash: "abc123"}}
	svc := newTestService(syncer)
	site := testSite(t)
	author := domain.Author{Name: "editor", Email: "editor@example.com"}

	result, err := svc.WriteFile(context.Background(), site, "posts/hello.md", []byte("# Hello"), "", author)
	if err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected result %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(site.LocalPath, "posts", "hello.md"))
	if err != nil {
		t.Fatalf("written file unreadable: %v", err)
	}
	if string(data) != "# Hello" {
		t.Fatalf("unexpected content %q", data)
	}
	if syncer.message != "Update posts/hello.md" {
		t.Fatalf("unexpected commit message %q", syncer.message)
	}
	if len(syncer.paths) != 1 || syncer.paths[0] != "posts/hello.md" {
		t.Fatalf("unexpected staged paths %v", syncer.paths)
	}
	if syncer.author != author {
		t.Fatalf("author not forwarded: %+v", syncer.author)
	}
}

func TestWriteFileKeepsLocalMutationOnPushFailure(t *testing.T) {
	syncer := &fakeSyncer{result: domain.GitResult{Success: false, Error: "push rejected"}}
	svc := newTestService(syncer)
	site := testSite(t)

	result, err := svc.WriteFile(context.Background(), site, "page.md", []byte("body"), "Edit page", domain.Author{})
	if err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed git result")
	}
	// The local write stands even though the push failed.
	if _, err := os.Stat(filepath.Join(site.LocalPath, "page.md")); err != nil {
		t.Fatalf("local mutation rolled back: %v", err)
	}
}

func TestDeleteFile(t *testing.T) {
	syncer := &fakeSyncer{result: domain.GitResult{Success: true}}
	svc := newTestService(syncer)
	site := testSite(t)

	target := filepath.Join(site.LocalPath, "old.md")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DeleteFile(context.Background(), site, "old.md", "", domain.Author{}); err != nil {
		t.Fatalf("DeleteFile returned error: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("file still present after delete")
	}
	if syncer.message != "Delete old.md" {
		t.Fatalf("unexpected commit message %q", syncer.message)
	}
}

func TestUploadAsset(t *testing.T) {
	syncer := &fakeSyncer{result: domain.GitResult{Success: true}}
	svc := newTestService(syncer)
	site := testSite(t)

	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	if _, err := svc.UploadAsset(context.Background(), site, "static/img/logo.png", payload, domain.Author{}); err != nil {
		t.Fatalf("UploadAsset returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(site.LocalPath, "static", "img", "logo.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(payload) {
		t.Fatalf("asset truncated: %d bytes", len(data))
	}
	if syncer.message != "Upload static/img/logo.png" {
		t.Fatalf("unexpected commit message %q", syncer.message)
	}
}

func TestResolveRejectsTraversalAndGitDir(t *testing.T) {
	svc := newTestService(&fakeSyncer{})
	site := testSite(t)

	for _, path := range []string{
		"../outside.md",
		"posts/../../outside.md",
		"/etc/passwd",
		".git/config",
		".git",
		"..",
	} {
		if _, err := svc.Resolve(site, path, false); !errors.Is(err, ErrPathOutsideTree) {
			t.Fatalf("Resolve(%q) = %v, want ErrPathOutsideTree", path, err)
		}
	}
}

func TestResolveEnforcesEditablePathsForMutations(t *testing.T) {
	svc := newTestService(&fakeSyncer{})
	site := testSite(t, "content", "data")

	if _, err := svc.Resolve(site, "content/post.md", true); err != nil {
		t.Fatalf("editable path rejected: %v", err)
	}
	if _, err := svc.Resolve(site, "data/site.db", true); err != nil {
		t.Fatalf("editable path rejected: %v", err)
	}
	if _, err := svc.Resolve(site, "config.toml", true); !errors.Is(err, ErrPathNotEditable) {
		t.Fatalf("expected ErrPathNotEditable, got %v", err)
	}
	// Reads are unrestricted.
	if _, err := svc.Resolve(site, "config.toml", false); err != nil {
		t.Fatalf("read outside editable set rejected: %v", err)
	}
	// No restriction list means the whole tree is editable.
	open := testSite(t)
	if _, err := svc.Resolve(open, "anything/at/all.md", true); err != nil {
		t.Fatalf("unrestricted site rejected mutation: %v", err)
	}
}

func TestPersistFallsBackToGenericMessage(t *testing.T) {
	syncer := &fakeSyncer{result: domain.GitResult{Success: true}}
	svc := newTestService(syncer)
	site := testSite(t)

	svc.Persist(context.Background(), site, []string{"a.md", "b.md"}, "", domain.Author{})
	if syncer.message != "Update 2 files" {
		t.Fatalf("unexpected fallback message %q", syncer.message)
	}
}

func TestRowMessage(t *testing.T) {
	cases := map[string]string{
		"insert": "Add row to posts",
		"update": "Update row in posts",
		"delete": "Delete row from posts",
		"other":  "Modify posts",
	}
	for op, want := range cases {
		if got := RowMessage(op, "posts"); got != want {
			t.Fatalf("RowMessage(%q) = %q, want %q", op, got, want)
		}
	}
}
