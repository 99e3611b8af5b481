package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/gitpress/gitpress/internal/domain"
)

// Publisher places built site artifacts where they are served from. The
// deploy phase delegates here once the build output is ready.
type Publisher interface {
	Publish(ctx context.Context, site domain.Site) error
}

// FilePublisher copies the build output directory (or the whole working tree
// when no output directory is configured) into <root>/<site id>.
type FilePublisher struct {
	root string
}

// NewFilePublisher ensures the publish root exists.
func NewFilePublisher(root string) (*FilePublisher, error) {
	if root == "" {
		return nil, fmt.Errorf("publish root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create publish root: %w", err)
	}
	return &FilePublisher{root: root}, nil
}

// Publish replaces the site's published files with the current build output.
func (p *FilePublisher) Publish(ctx context.Context, site domain.Site) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	source := site.LocalPath
	if site.BuildOutputDir != "" {
		source = filepath.Join(site.LocalPath, site.BuildOutputDir)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("locate build output: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("build output %s is not a directory", source)
	}

	dest := filepath.Join(p.root, site.ID)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear previous publish: %w", err)
	}
	opts := cp.Options{
		Skip: func(info os.FileInfo, src, _ string) (bool, error) {
			return strings.HasSuffix(src, string(filepath.Separator)+".git") || filepath.Base(src) == ".git", nil
		},
	}
	if err := cp.Copy(source, dest, opts); err != nil {
		return fmt.Errorf("copy artifacts: %w", err)
	}
	return nil
}
