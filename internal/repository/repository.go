package repository

import (
	"context"

	"github.com/gitpress/gitpress/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// SiteRepository persists site configuration. Credentials are stored
// encrypted; decryption happens in the site service.
type SiteRepository interface {
	CreateSite(ctx context.Context, site *domain.StoredSite) error
	GetSiteByID(ctx context.Context, siteID string) (*domain.StoredSite, error)
	ListSites(ctx context.Context) ([]domain.StoredSite, error)
	UpdateSite(ctx context.Context, site *domain.StoredSite) error
	DeleteSite(ctx context.Context, siteID string) error
}
