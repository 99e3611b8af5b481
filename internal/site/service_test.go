package site

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gitpress/gitpress/internal/domain"
	"github.com/gitpress/gitpress/internal/repository"
)

type fakeSiteRepo struct {
	sites map[string]*domain.StoredSite
}

func newFakeSiteRepo() *fakeSiteRepo {
	return &fakeSiteRepo{sites: make(map[string]*domain.StoredSite)}
}

func (f *fakeSiteRepo) CreateSite(ctx context.Context, s *domain.StoredSite) error {
	clone := *s
	f.sites[s.ID] = &clone
	return nil
}

func (f *fakeSiteRepo) GetSiteByID(ctx context.Context, siteID string) (*domain.StoredSite, error) {
	s, ok := f.sites[siteID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSiteRepo) ListSites(ctx context.Context) ([]domain.StoredSite, error) {
	out := make([]domain.StoredSite, 0, len(f.sites))
	for _, s := range f.sites {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSiteRepo) UpdateSite(ctx context.Context, s *domain.StoredSite) error {
	if _, ok := f.sites[s.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *s
	f.sites[s.ID] = &clone
	return nil
}

func (f *fakeSiteRepo) DeleteSite(ctx context.Context, siteID string) error {
	if _, ok := f.sites[siteID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.sites, siteID)
	return nil
}

type fakeEvictor struct {
	evicted []string
}

func (f *fakeEvictor) Evict(siteID string) {
	f.evicted = append(f.evicted, siteID)
}

func newTestService(t *testing.T) (Service, *fakeSiteRepo, *fakeEvictor, string) {
	t.Helper()
	repo := newFakeSiteRepo()
	evictor := &fakeEvictor{}
	workspace := t.TempDir()
	svc := New(repo, evictor, slog.New(slog.NewTextHandler(io.Discard, nil)), "encryption-key", workspace)
	return svc, repo, evictor, workspace
}

func TestCreateEncryptsCredentialAndAssignsWorkingTree(t *testing.T) {
	svc, repo, _, workspace := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		Name:          "blog",
		RepositoryURL: "https://github.com/acme/blog",
		PAT:           "tok123",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !strings.HasPrefix(created.LocalPath, workspace+string(filepath.Separator)) {
		t.Fatalf("working tree %q outside workspace %q", created.LocalPath, workspace)
	}
	if created.PAT != "tok123" {
		t.Fatalf("create must hand back the decrypted credential, got %q", created.PAT)
	}

	stored := repo.sites[created.ID]
	if stored == nil {
		t.Fatal("site not persisted")
	}
	if bytes.Contains(stored.EncryptedPAT, []byte("tok123")) {
		t.Fatal("credential stored in plaintext")
	}

	loaded, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.PAT != "tok123" {
		t.Fatalf("decryption round trip failed, got %q", loaded.PAT)
	}
}

func TestCreateRequiresRepositoryURL(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.Create(context.Background(), CreateInput{Name: "blog"}); !errors.Is(err, ErrRepositoryURLRequired) {
		t.Fatalf("expected ErrRepositoryURLRequired, got %v", err)
	}
}

func TestListOmitsCredentials(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Name: "blog", RepositoryURL: "acme/blog", PAT: "tok123"}); err != nil {
		t.Fatal(err)
	}
	sites, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(sites))
	}
	if sites[0].PAT != "" {
		t.Fatal("list results must not carry credentials")
	}
}

func TestUpdateRotatesCredentialAndEvicts(t *testing.T) {
	svc, _, evictor, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "blog", RepositoryURL: "acme/blog", PAT: "old-token"})
	if err != nil {
		t.Fatal(err)
	}

	name := "renamed"
	updated, err := svc.Update(ctx, created.ID, UpdateInput{Name: &name, PAT: "new-token"})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("name not updated: %q", updated.Name)
	}
	if updated.PAT != "new-token" {
		t.Fatalf("credential not rotated, got %q", updated.PAT)
	}
	if len(evictor.evicted) != 1 || evictor.evicted[0] != created.ID {
		t.Fatalf("expected eviction for %s, got %v", created.ID, evictor.evicted)
	}

	// An empty PAT keeps the stored credential.
	if _, err := svc.Update(ctx, created.ID, UpdateInput{}); err != nil {
		t.Fatal(err)
	}
	loaded, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.PAT != "new-token" {
		t.Fatalf("credential lost on no-op update, got %q", loaded.PAT)
	}
}

func TestDeleteRemovesWorkingTreeAndEvicts(t *testing.T) {
	svc, _, evictor, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "blog", RepositoryURL: "acme/blog"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(created.LocalPath, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := os.Stat(created.LocalPath); !os.IsNotExist(err) {
		t.Fatal("working tree not removed")
	}
	if len(evictor.evicted) != 1 {
		t.Fatalf("expected eviction, got %v", evictor.evicted)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
