// Package localstore keeps uploaded documents on the local filesystem. It
// backs document uploads when no Cloudinary account is configured.
package localstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Store writes files below Dir and serves them under URLPrefix.
type Store struct {
	dir       string
	urlPrefix string
	logger    zerolog.Logger
}

// New creates dir when missing.
func New(dir, urlPrefix string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("localstore: directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create %s: %w", dir, err)
	}
	return &Store{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		logger:    logger.With().Str("component", "localstore").Logger(),
	}, nil
}

// Dir is the root directory files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Upload writes reader to name and returns its URL. An existing file is kept.
func (s *Store) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Base(filepath.Clean("/" + name))
	if clean == "/" || clean == "." {
		return "", fmt.Errorf("localstore: invalid file name %q", name)
	}

	url := s.urlPrefix + "/" + clean
	path := filepath.Join(s.dir, clean)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return url, nil
		}
		return "", fmt.Errorf("localstore: open %s: %w", clean, err)
	}

	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("localstore: write %s: %w", clean, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("localstore: close %s: %w", clean, err)
	}

	s.logger.Info().Str("file", clean).Msg("document stored on disk")
	return url, nil
}
