// Package blob stores uploaded videos and hands out playable URLs for them.
//
// S3 backs production and any S3-compatible service (MinIO, R2). Local
// writes to a directory served by the app itself for development.
package blob

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned by NewS3 when no bucket is set.
var ErrNotConfigured = errors.New("blob: no storage backend configured")

// Store is the blob storage used for video assets.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Remove deletes keys; missing keys are not an error.
	Remove(ctx context.Context, keys []string) error
	// SignedURL returns a GET URL for key valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// VideoKey builds the storage key for a new upload in projectID.
func VideoKey(projectID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".mp4"
	}
	return path.Join("projects", projectID, "videos", uuid.NewString()+ext)
}
