package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object operations used to offload large output attachments.
// It is intentionally small so we can swap MinIO/AWS-S3 implementations without touching business logic.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error)

	// RemoveObjects deletes the given keys. Missing keys are not an error.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
}

// ObjectReader is a streaming reader for object data.
type ObjectReader interface {
	Read(p []byte) (int, error)
	Close() error
}
