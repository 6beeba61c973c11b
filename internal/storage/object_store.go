package storage

import (
	"context"
	"io"
)

// ObjectStore writes artifact objects under a root namespace fixed at
// construction (an S3 bucket, a local directory). PutObject is a full
// overwrite: writing the same key twice with the same content leaves
// the store unchanged, which is what converts at-least-once delivery
// into effectively-once stored output. Partial multi-object writes are
// not rolled back; the failed task is retried and overwrites them.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error
}
