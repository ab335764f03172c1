package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is wrapped by providers when an object key does not exist.
var ErrObjectNotFound = errors.New("object not found")

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs and s3 return the requested key; gdrive returns the Drive fileId,
	// which is what later Get/Delete calls need.
	ObjectKey string
	Size      int64
}

type SignedURLInput struct {
	ObjectKey string
	ExpiresIn time.Duration
	// Response header overrides, honored by providers that can sign them.
	ContentType        string
	ContentDisposition string
}

type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}

// StorageProvider holds uploaded inputs and archived result videos.
// Implementations: localfs, gdrive, s3.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error

	// GetSignedURL returns an empty URL when the provider cannot sign; the API
	// then streams the object itself.
	GetSignedURL(ctx context.Context, in SignedURLInput) (SignedURLOutput, error)

	Ping(ctx context.Context) error
}
