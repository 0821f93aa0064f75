// Package objectstore keeps map packages and thumbnails in an S3-compatible
// bucket (AWS S3 or MinIO).
package objectstore

import (
	"context"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object store as seen by the asset lifecycle.
//
// Errors: transport failures and timeouts wrap common.ErrStoreUnavailable;
// DeleteObject on a missing key wraps common.ErrObjectNotFound.
type Store interface {
	// PutObject stores data under a fresh "maps/<uuid><ext>" key and returns it.
	PutObject(ctx context.Context, data []byte, ext string) (string, error)
	// PutPublicImage stores a publicly readable image under "images/<key>"
	// and returns its public URL.
	PutPublicImage(ctx context.Context, key string, data []byte) (string, error)
	// SignedDownloadURL presigns a GET for key; ttl <= 0 uses the default.
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
	PublicURL(key string) string
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
