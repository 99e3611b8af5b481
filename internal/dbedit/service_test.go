package dbedit

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/gitpress/gitpress/internal/content"
	"github.com/gitpress/gitpress/internal/domain"
)

type fakeSyncer struct {
	message string
	paths   []string
	calls   int
}

func (f *fakeSyncer) CommitAndPush(ctx context.Context, site domain.Site, paths []string, message string, author domain.Author) domain.GitResult {
	f.calls++
	f.paths = paths
	f.message = message
	return domain.GitResult{Success: true, Hash: "abc123", Message: message}
}

func testPolicies() map[string]ColumnPolicy {
	return map[string]ColumnPolicy{
		"posts": {
			Readable: []string{"title", "body", "published"},
			Editable: []string{"title", "body"},
		},
	}
}

func newFixture(t *testing.T) (Service, domain.Site, *fakeSyncer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	syncer := &fakeSyncer{}
	contentSvc := content.New(syncer, logger)
	svc := New(contentSvc, testPolicies(), logger)

	site := domain.Site{ID: "site-1", LocalPath: t.TempDir()}
	db, err := sql.Open("sqlite", filepath.Join(site.LocalPath, "data.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE posts (title TEXT, body TEXT, published INTEGER, secret TEXT)`,
		`INSERT INTO posts (title, body, published, secret) VALUES ('First', 'hello', 1, 'hidden')`,
		`INSERT INTO posts (title, body, published, secret) VALUES ('Second', 'world', 0, 'hidden')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed statement failed: %v", err)
		}
	}
	return svc, site, syncer
}

func TestListRowsReturnsOnlyReadableColumns(t *testing.T) {
	svc, site, _ := newFixture(t)

	rows, err := svc.ListRows(context.Background(), site, "data.db", "posts", 0, 0)
	if err != nil {
		t.Fatalf("ListRows returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Values["title"] != "First" {
		t.Fatalf("unexpected first row %+v", rows[0].Values)
	}
	if _, ok := rows[0].Values["secret"]; ok {
		t.Fatal("non-readable column leaked into results")
	}
	if rows[0].RowID == 0 {
		t.Fatal("expected rowid to be populated")
	}
}

func TestInsertRowPersistsThroughContentService(t *testing.T) {
	svc, site, syncer := newFixture(t)

	result, err := svc.InsertRow(context.Background(), site, "data.db", "posts",
		map[string]any{"title": "Third", "body": "!"}, domain.Author{Name: "editor"})
	if err != nil {
		t.Fatalf("InsertRow returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected git result %+v", result)
	}
	if syncer.calls != 1 {
		t.Fatalf("expected one persist, got %d", syncer.calls)
	}
	if syncer.message != "Add row to posts" {
		t.Fatalf("unexpected commit message %q", syncer.message)
	}
	if len(syncer.paths) != 1 || syncer.paths[0] != "data.db" {
		t.Fatalf("unexpected persisted paths %v", syncer.paths)
	}

	rows, err := svc.ListRows(context.Background(), site, "data.db", "posts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows after insert, got %d", len(rows))
	}
}

func TestInsertRowRejectsNonEditableColumn(t *testing.T) {
	svc, site, syncer := newFixture(t)

	_, err := svc.InsertRow(context.Background(), site, "data.db", "posts",
		map[string]any{"secret": "nope"}, domain.Author{})
	if !errors.Is(err, ErrColumnNotAllowed) {
		t.Fatalf("expected ErrColumnNotAllowed, got %v", err)
	}
	if syncer.calls != 0 {
		t.Fatal("rejected mutation must not persist")
	}
}

func TestUpdateRowByRowID(t *testing.T) {
	svc, site, syncer := newFixture(t)

	rows, err := svc.ListRows(context.Background(), site, "data.db", "posts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	target := rows[1].RowID

	if _, err := svc.UpdateRow(context.Background(), site, "data.db", "posts", target,
		map[string]any{"body": "updated"}, domain.Author{}); err != nil {
		t.Fatalf("UpdateRow returned error: %v", err)
	}
	if syncer.message != "Update row in posts" {
		t.Fatalf("unexpected commit message %q", syncer.message)
	}

	rows, err = svc.ListRows(context.Background(), site, "data.db", "posts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rows[1].Values["body"] != "updated" {
		t.Fatalf("row not updated: %+v", rows[1].Values)
	}
	if rows[0].Values["body"] != "hello" {
		t.Fatalf("wrong row touched: %+v", rows[0].Values)
	}

	if _, err := svc.UpdateRow(context.Background(), site, "data.db", "posts", 9999,
		map[string]any{"body": "x"}, domain.Author{}); !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}

func TestDeleteRow(t *testing.T) {
	svc, site, syncer := newFixture(t)

	rows, err := svc.ListRows(context.Background(), site, "data.db", "posts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DeleteRow(context.Background(), site, "data.db", "posts", rows[0].RowID, domain.Author{}); err != nil {
		t.Fatalf("DeleteRow returned error: %v", err)
	}
	if syncer.message != "Delete row from posts" {
		t.Fatalf("unexpected commit message %q", syncer.message)
	}

	remaining, err := svc.ListRows(context.Background(), site, "data.db", "posts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 row after delete, got %d", len(remaining))
	}
	if _, err := svc.DeleteRow(context.Background(), site, "data.db", "posts", 9999, domain.Author{}); !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}

func TestTableAllowlist(t *testing.T) {
	svc, site, _ := newFixture(t)

	if _, err := svc.ListRows(context.Background(), site, "data.db", "users", 0, 0); !errors.Is(err, ErrTableNotAllowed) {
		t.Fatalf("expected ErrTableNotAllowed, got %v", err)
	}
	tables := svc.Tables()
	if len(tables) != 1 || tables[0] != "posts" {
		t.Fatalf("unexpected table list %v", tables)
	}
}

func TestDatabasePathGoesThroughResolver(t *testing.T) {
	svc, site, _ := newFixture(t)

	if _, err := svc.ListRows(context.Background(), site, "../outside.db", "posts", 0, 0); !errors.Is(err, content.ErrPathOutsideTree) {
		t.Fatalf("expected ErrPathOutsideTree, got %v", err)
	}
}
