// Package local archives articles as JSON files on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where article documents are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes one JSON document per article. A document is created at most
// once; later saves of the same article id report AlreadyExists.
type Store struct {
	baseDir string
}

// New creates a local filesystem store, creating BaseDir when missing.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Save writes the article document with O_EXCL so concurrent writers of the
// same id race safely.
func (s *Store) Save(_ context.Context, site string, article crawler.ParsedArticle) (crawler.SaveOutcome, error) {
	fullPath, err := s.path(site, article.ID)
	if err != nil {
		return "", &crawler.StorageError{Err: err}
	}
	data, err := storage.Encode(article)
	if err != nil {
		return "", &crawler.StorageError{Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", &crawler.StorageError{Err: fmt.Errorf("failed to create parent directories: %w", err)}
	}

	// #nosec G304 -- fullPath is confined to baseDir by path().
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return crawler.AlreadyExists, nil
	}
	if err != nil {
		return "", &crawler.StorageError{Err: fmt.Errorf("failed to create file: %w", err)}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(fullPath)
		return "", &crawler.StorageError{Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(fullPath)
		return "", &crawler.StorageError{Err: fmt.Errorf("failed to close file: %w", err)}
	}
	return crawler.Saved, nil
}

// URI returns the file:// location of an article document.
func (s *Store) URI(site, id string) (string, error) {
	fullPath, err := s.path(site, id)
	if err != nil {
		return "", err
	}
	return "file://" + fullPath, nil
}

func (s *Store) path(site, id string) (string, error) {
	name, err := storage.ObjectName("", site, id)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(name))

	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
