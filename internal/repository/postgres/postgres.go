package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitpress/gitpress/internal/domain"
	"github.com/gitpress/gitpress/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.SiteRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, username, display_name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.DisplayName, user.Email, user.PasswordHash, user.CreatedAt)
	return err
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT id, username, display_name, email, password_hash, created_at
		FROM users WHERE username = $1`
	row := r.pool.QueryRow(ctx, query, username)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, username, display_name, email, password_hash, created_at
		FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateSite inserts a site.
func (r *Repository) CreateSite(ctx context.Context, site *domain.StoredSite) error {
	const query = `INSERT INTO sites (id, name, repository_url, encrypted_pat, local_path, build_command, build_output_dir, validate_command, editable_paths, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		site.ID, site.Name, site.RepositoryURL, site.EncryptedPAT, site.LocalPath,
		site.BuildCommand, site.BuildOutputDir, site.ValidateCommand, site.EditablePaths,
		site.CreatedAt, site.UpdatedAt)
	return err
}

// GetSiteByID fetches a site's stored configuration.
func (r *Repository) GetSiteByID(ctx context.Context, siteID string) (*domain.StoredSite, error) {
	const query = `SELECT id, name, repository_url, encrypted_pat, local_path, build_command, build_output_dir, validate_command, editable_paths, created_at, updated_at
		FROM sites WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, siteID)
	var s domain.StoredSite
	if err := row.Scan(&s.ID, &s.Name, &s.RepositoryURL, &s.EncryptedPAT, &s.LocalPath,
		&s.BuildCommand, &s.BuildOutputDir, &s.ValidateCommand, &s.EditablePaths,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSites returns all configured sites.
func (r *Repository) ListSites(ctx context.Context) ([]domain.StoredSite, error) {
	const query = `SELECT id, name, repository_url, encrypted_pat, local_path, build_command, build_output_dir, validate_command, editable_paths, created_at, updated_at
		FROM sites ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := make([]domain.StoredSite, 0)
	for rows.Next() {
		var s domain.StoredSite
		if err := rows.Scan(&s.ID, &s.Name, &s.RepositoryURL, &s.EncryptedPAT, &s.LocalPath,
			&s.BuildCommand, &s.BuildOutputDir, &s.ValidateCommand, &s.EditablePaths,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// UpdateSite replaces a site's mutable configuration.
func (r *Repository) UpdateSite(ctx context.Context, site *domain.StoredSite) error {
	const query = `UPDATE sites SET name = $2, repository_url = $3, encrypted_pat = $4, local_path = $5,
		build_command = $6, build_output_dir = $7, validate_command = $8, editable_paths = $9, updated_at = $10
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		site.ID, site.Name, site.RepositoryURL, site.EncryptedPAT, site.LocalPath,
		site.BuildCommand, site.BuildOutputDir, site.ValidateCommand, site.EditablePaths,
		site.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteSite removes a site.
func (r *Repository) DeleteSite(ctx context.Context, siteID string) error {
	const query = `DELETE FROM sites WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, siteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
