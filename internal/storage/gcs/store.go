// Package gcs archives articles as JSON objects in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	archive "github.com/JakeFAU/realtime-news-crawler/internal/storage"
)

// Config captures the parameters required to archive articles in GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Store writes one object per article. Objects are created with a
// DoesNotExist precondition, so the first writer of an article id wins.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed article store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Save uploads the article document unless its object already exists.
func (s *Store) Save(ctx context.Context, site string, article crawler.ParsedArticle) (crawler.SaveOutcome, error) {
	name, err := archive.ObjectName(s.prefix, site, article.ID)
	if err != nil {
		return "", &crawler.StorageError{Err: err}
	}
	if article.Site == "" {
		article.Site = site
	}
	data, err := archive.Encode(article)
	if err != nil {
		return "", &crawler.StorageError{Err: err}
	}

	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		"site": article.Site,
		"url":  article.URL,
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", &crawler.StorageError{Err: fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)}
		}
		return "", &crawler.StorageError{Err: fmt.Errorf("copy object: %w", err)}
	}
	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			return crawler.AlreadyExists, nil
		}
		return "", &crawler.StorageError{Err: fmt.Errorf("close writer: %w", err)}
	}
	return crawler.Saved, nil
}

// URI returns the gs:// location of an article document.
func (s *Store) URI(site, id string) (string, error) {
	name, err := archive.ObjectName(s.prefix, site, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

func preconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
