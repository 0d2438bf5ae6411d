// Package qart stores run artifacts (logs, run records, MIF scripts) in
// S3-compatible object storage.
package qart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Artifact represents a stored artifact with metadata.
type Artifact struct {
	Key          string            `json:"key"`           // Object key (e.g., "runs/<job id>/stdout.log")
	Bucket       string            `json:"bucket"`        // Bucket name
	Size         int64             `json:"size"`          // Size in bytes
	ContentType  string            `json:"content_type"`  // MIME type
	LastModified time.Time         `json:"last_modified"` // Last modification time
	Metadata     map[string]string `json:"metadata"`      // Custom metadata
}

// Store is the artifact storage used by the driver and the server.
type Store interface {
	// Upload stores size bytes from reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) (*Artifact, error)

	// Download retrieves an artifact by key. ErrNotFound if it is missing.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// List lists all artifacts under prefix.
	List(ctx context.Context, prefix string) ([]*Artifact, error)

	// PresignedURL returns a time-limited download URL for key.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// EnsureBucket creates the bucket when it does not exist.
	EnsureBucket(ctx context.Context) error
}

// JobPrefix returns the key prefix for a job's artifacts.
func JobPrefix(jobID string) string {
	return "runs/" + jobID + "/"
}

// JobKey returns the full key for one of a job's artifacts.
func JobKey(jobID, filename string) string {
	return JobPrefix(jobID) + filename
}

// UploadFiles uploads the named files from dir under the job's prefix.
// Missing files are skipped.
func UploadFiles(ctx context.Context, store Store, jobID, dir string, names []string, metadata map[string]string) ([]*Artifact, error) {
	var uploaded []*Artifact
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return uploaded, fmt.Errorf("reading %s: %w", name, err)
		}

		a, err := store.Upload(ctx, JobKey(jobID, name), bytes.NewReader(data), int64(len(data)), ContentType(name), metadata)
		if err != nil {
			return uploaded, fmt.Errorf("uploading %s: %w", name, err)
		}
		uploaded = append(uploaded, a)
	}
	return uploaded, nil
}

// ContentType guesses a MIME type from an artifact's file name.
func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".log", ".mif", ".txt", ".odt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
