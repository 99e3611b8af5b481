package dbedit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/gitpress/gitpress/internal/content"
	"github.com/gitpress/gitpress/internal/domain"
)

// Editor errors surfaced to the route layer.
var (
	ErrTableNotAllowed  = errors.New("dbedit: table not in allowlist")
	ErrColumnNotAllowed = errors.New("dbedit: column not in allowlist")
	ErrRowNotFound      = errors.New("dbedit: row not found")
)

// ColumnPolicy lists the readable and editable columns of one table.
// Readable columns appear in query results; only editable columns accept
// values on insert or update.
type ColumnPolicy struct {
	Readable []string `json:"readable"`
	Editable []string `json:"editable"`
}

// Service edits rows of site-owned SQLite databases. Table and column names
// are validated against the allowlist before they reach a statement; values
// are always bound as parameters. Every mutation persists the database file
// through the content coordinator.
type Service struct {
	content  content.Service
	policies map[string]ColumnPolicy
	logger   *slog.Logger
}

// New constructs the table editor with its allowlist.
func New(contentSvc content.Service, policies map[string]ColumnPolicy, logger *slog.Logger) Service {
	if policies == nil {
		policies = make(map[string]ColumnPolicy)
	}
	return Service{content: contentSvc, policies: policies, logger: logger}
}

// Row is one result row keyed by column name, plus its rowid.
type Row struct {
	RowID  int64          `json:"rowid"`
	Values map[string]any `json:"values"`
}

// ListRows returns readable columns for up to limit rows.
func (s Service) ListRows(ctx context.Context, site domain.Site, dbPath, table string, limit, offset int) ([]Row, error) {
	policy, err := s.policy(table)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	db, err := s.open(site, dbPath, false)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cols := make([]string, len(policy.Readable))
	for i, col := range policy.Readable {
		cols[i] = quoteIdent(col)
	}
	query := fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid LIMIT ? OFFSET ?",
		strings.Join(cols, ", "), quoteIdent(table))
	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		scan := make([]any, len(policy.Readable)+1)
		var rowID int64
		scan[0] = &rowID
		values := make([]any, len(policy.Readable))
		for i := range values {
			scan[i+1] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := Row{RowID: rowID, Values: make(map[string]any, len(policy.Readable))}
		for i, col := range policy.Readable {
			row.Values[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertRow adds a row and persists the database file.
func (s Service) InsertRow(ctx context.Context, site domain.Site, dbPath, table string, values map[string]any, author domain.Author) (domain.GitResult, error) {
	policy, err := s.policy(table)
	if err != nil {
		return domain.GitResult{}, err
	}
	cols, args, err := editableColumns(policy, values)
	if err != nil {
		return domain.GitResult{}, err
	}
	if len(cols) == 0 {
		return domain.GitResult{}, errors.New("dbedit: no editable values provided")
	}

	db, err := s.open(site, dbPath, true)
	if err != nil {
		return domain.GitResult{}, err
	}
	defer db.Close()

	quoted := make([]string, len(cols))
	holes := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
		holes[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(holes, ", "))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return domain.GitResult{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	return s.persist(ctx, site, dbPath, "insert", table, author), nil
}

// UpdateRow modifies one row by rowid and persists the database file.
func (s Service) UpdateRow(ctx context.Context, site domain.Site, dbPath, table string, rowID int64, values map[string]any, author domain.Author) (domain.GitResult, error) {
	policy, err := s.policy(table)
	if err != nil {
		return domain.GitResult{}, err
	}
	cols, args, err := editableColumns(policy, values)
	if err != nil {
		return domain.GitResult{}, err
	}
	if len(cols) == 0 {
		return domain.GitResult{}, errors.New("dbedit: no editable values provided")
	}

	db, err := s.open(site, dbPath, true)
	if err != nil {
		return domain.GitResult{}, err
	}
	defer db.Close()

	assignments := make([]string, len(cols))
	for i, col := range cols {
		assignments[i] = quoteIdent(col) + " = ?"
	}
	args = append(args, rowID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE rowid = ?",
		quoteIdent(table), strings.Join(assignments, ", "))
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.GitResult{}, fmt.Errorf("update %s: %w", table, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.GitResult{}, ErrRowNotFound
	}
	return s.persist(ctx, site, dbPath, "update", table, author), nil
}

// DeleteRow removes one row by rowid and persists the database file.
func (s Service) DeleteRow(ctx context.Context, site domain.Site, dbPath, table string, rowID int64, author domain.Author) (domain.GitResult, error) {
	if _, err := s.policy(table); err != nil {
		return domain.GitResult{}, err
	}
	db, err := s.open(site, dbPath, true)
	if err != nil {
		return domain.GitResult{}, err
	}
	defer db.Close()

	query := fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", quoteIdent(table))
	result, err := db.ExecContext(ctx, query, rowID)
	if err != nil {
		return domain.GitResult{}, fmt.Errorf("delete from %s: %w", table, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.GitResult{}, ErrRowNotFound
	}
	return s.persist(ctx, site, dbPath, "delete", table, author), nil
}

// Tables lists the allowlisted table names.
func (s Service) Tables() []string {
	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Service) policy(table string) (ColumnPolicy, error) {
	policy, ok := s.policies[table]
	if !ok {
		return ColumnPolicy{}, ErrTableNotAllowed
	}
	return policy, nil
}

func (s Service) open(site domain.Site, dbPath string, mutating bool) (*sql.DB, error) {
	abs, err := s.content.Resolve(site, dbPath, mutating)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (s Service) persist(ctx context.Context, site domain.Site, dbPath, operation, table string, author domain.Author) domain.GitResult {
	return s.content.Persist(ctx, site, []string{dbPath}, content.RowMessage(operation, table), author)
}

// editableColumns filters the provided values through the policy, producing
// a deterministic column order.
func editableColumns(policy ColumnPolicy, values map[string]any) ([]string, []any, error) {
	allowed := make(map[string]struct{}, len(policy.Editable))
	for _, col := range policy.Editable {
		allowed[col] = struct{}{}
	}
	cols := make([]string, 0, len(values))
	for col := range values {
		if _, ok := allowed[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrColumnNotAllowed, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = values[col]
	}
	return cols, args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
