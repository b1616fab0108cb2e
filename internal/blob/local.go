package blob

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local keeps blobs under Dir and serves them unsigned from BaseURL. Only
// meant for development; main mounts Dir under the media route.
type Local struct {
	Dir     string
	BaseURL string
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", errors.New("blob: empty key")
	}
	return filepath.Join(l.Dir, clean), nil
}

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (l *Local) Remove(_ context.Context, keys []string) error {
	for _, key := range keys {
		p, err := l.path(key)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// SignedURL ignores ttl; local media is public.
func (l *Local) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("blob: empty key")
	}
	return strings.TrimSuffix(l.BaseURL, "/") + "/" + (&url.URL{Path: strings.TrimPrefix(key, "/")}).EscapedPath(), nil
}
