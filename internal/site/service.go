package site

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitpress/gitpress/internal/crypto"
	"github.com/gitpress/gitpress/internal/domain"
	"github.com/gitpress/gitpress/internal/repository"
)

// ErrRepositoryURLRequired rejects site records without a remote.
var ErrRepositoryURLRequired = errors.New("site: repository url required")

// Evictor drops cached per-site git state when a site changes or goes away.
type Evictor interface {
	Evict(siteID string)
}

// Service manages site records. Personal access tokens are encrypted before
// they reach the repository and decrypted only on the way out, so nothing
// below this layer ever sees plaintext credentials at rest.
type Service struct {
	sites         repository.SiteRepository
	evictor       Evictor
	logger        *slog.Logger
	encryptionKey string
	workspaceRoot string
}

// New constructs the site service.
func New(sites repository.SiteRepository, evictor Evictor, logger *slog.Logger, encryptionKey, workspaceRoot string) Service {
	return Service{
		sites:         sites,
		evictor:       evictor,
		logger:        logger,
		encryptionKey: encryptionKey,
		workspaceRoot: workspaceRoot,
	}
}

// CreateInput carries the fields accepted when registering a site.
type CreateInput struct {
	Name            string
	RepositoryURL   string
	PAT             string
	BuildCommand    string
	BuildOutputDir  string
	ValidateCommand string
	EditablePaths   []string
}

// Create registers a site and assigns its working tree under the workspace
// root.
func (s Service) Create(ctx context.Context, in CreateInput) (domain.Site, error) {
	if strings.TrimSpace(in.RepositoryURL) == "" {
		return domain.Site{}, ErrRepositoryURLRequired
	}
	encrypted, err := crypto.EncryptString(s.encryptionKey, in.PAT)
	if err != nil {
		return domain.Site{}, err
	}
	now := time.Now().UTC()
	stored := &domain.StoredSite{
		ID:              uuid.NewString(),
		Name:            in.Name,
		RepositoryURL:   in.RepositoryURL,
		EncryptedPAT:    encrypted,
		BuildCommand:    in.BuildCommand,
		BuildOutputDir:  in.BuildOutputDir,
		ValidateCommand: in.ValidateCommand,
		EditablePaths:   in.EditablePaths,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stored.LocalPath = filepath.Join(s.workspaceRoot, stored.ID)
	if err := s.sites.CreateSite(ctx, stored); err != nil {
		return domain.Site{}, err
	}
	s.logger.Info("site created", "site_id", stored.ID, "name", stored.Name)
	return s.decrypt(stored)
}

// Get returns a site with its credential decrypted.
func (s Service) Get(ctx context.Context, siteID string) (domain.Site, error) {
	stored, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		return domain.Site{}, err
	}
	return s.decrypt(stored)
}

// List returns all sites. Credentials are omitted from list results; callers
// needing the token fetch the site by id.
func (s Service) List(ctx context.Context) ([]domain.Site, error) {
	stored, err := s.sites.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Site, 0, len(stored))
	for i := range stored {
		site := toSite(&stored[i])
		out = append(out, site)
	}
	return out, nil
}

// UpdateInput carries the mutable fields of a site. Nil pointers leave the
// current value untouched; an empty PAT string keeps the stored credential.
type UpdateInput struct {
	Name            *string
	RepositoryURL   *string
	PAT             string
	BuildCommand    *string
	BuildOutputDir  *string
	ValidateCommand *string
	EditablePaths   []string
}

// Update applies a partial mutation and evicts cached git state for the site.
func (s Service) Update(ctx context.Context, siteID string, in UpdateInput) (domain.Site, error) {
	stored, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		return domain.Site{}, err
	}
	if in.Name != nil {
		stored.Name = *in.Name
	}
	if in.RepositoryURL != nil {
		if strings.TrimSpace(*in.RepositoryURL) == "" {
			return domain.Site{}, ErrRepositoryURLRequired
		}
		stored.RepositoryURL = *in.RepositoryURL
	}
	if in.PAT != "" {
		encrypted, err := crypto.EncryptString(s.encryptionKey, in.PAT)
		if err != nil {
			return domain.Site{}, err
		}
		stored.EncryptedPAT = encrypted
	}
	if in.BuildCommand != nil {
		stored.BuildCommand = *in.BuildCommand
	}
	if in.BuildOutputDir != nil {
		stored.BuildOutputDir = *in.BuildOutputDir
	}
	if in.ValidateCommand != nil {
		stored.ValidateCommand = *in.ValidateCommand
	}
	if in.EditablePaths != nil {
		stored.EditablePaths = in.EditablePaths
	}
	stored.UpdatedAt = time.Now().UTC()
	if err := s.sites.UpdateSite(ctx, stored); err != nil {
		return domain.Site{}, err
	}
	if s.evictor != nil {
		s.evictor.Evict(siteID)
	}
	s.logger.Info("site updated", "site_id", siteID)
	return s.decrypt(stored)
}

// Delete removes the site record and its working tree.
func (s Service) Delete(ctx context.Context, siteID string) error {
	stored, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		return err
	}
	if err := s.sites.DeleteSite(ctx, siteID); err != nil {
		return err
	}
	if s.evictor != nil {
		s.evictor.Evict(siteID)
	}
	// Only remove trees the service itself laid out.
	if stored.LocalPath != "" && strings.HasPrefix(stored.LocalPath, s.workspaceRoot+string(filepath.Separator)) {
		if err := os.RemoveAll(stored.LocalPath); err != nil {
			s.logger.Warn("working tree removal failed", "site_id", siteID, "error", err)
		}
	}
	s.logger.Info("site deleted", "site_id", siteID)
	return nil
}

func (s Service) decrypt(stored *domain.StoredSite) (domain.Site, error) {
	site := toSite(stored)
	if len(stored.EncryptedPAT) > 0 {
		pat, err := crypto.DecryptToString(s.encryptionKey, stored.EncryptedPAT)
		if err != nil {
			return domain.Site{}, err
		}
		site.PAT = pat
	}
	return site, nil
}

func toSite(stored *domain.StoredSite) domain.Site {
	return domain.Site{
		ID:              stored.ID,
		Name:            stored.Name,
		RepositoryURL:   stored.RepositoryURL,
		LocalPath:       stored.LocalPath,
		BuildCommand:    stored.BuildCommand,
		BuildOutputDir:  stored.BuildOutputDir,
		ValidateCommand: stored.ValidateCommand,
		EditablePaths:   stored.EditablePaths,
		CreatedAt:       stored.CreatedAt,
		UpdatedAt:       stored.UpdatedAt,
	}
}
