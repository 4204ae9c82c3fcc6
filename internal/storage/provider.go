package storage

import (
	"context"
	"errors"
	"fmt"
)

// Row is a record keyed by storage column name.
type Row map[string]any

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Provider is the relational persistence contract. Implementations receive
// storage column names only.
type Provider interface {
	SelectOrdered(ctx context.Context, table, orderColumn string, descending bool) ([]Row, error)
	Insert(ctx context.Context, table string, values Row) (Row, error)
	// UpdateByID reports found=false without error when no row matched.
	UpdateByID(ctx context.Context, table, id string, values Row) (Row, bool, error)
	// DeleteByID succeeds when no row matched.
	DeleteByID(ctx context.Context, table, id string) error
	Ping(ctx context.Context) error
}

// Bucket names a logical object storage bucket.
type Bucket string

const (
	BucketArticleImages   Bucket = "article-images"
	BucketVideoThumbnails Bucket = "video-thumbnails"
)

// ObjectStore is the blob persistence contract.
type ObjectStore interface {
	Upload(ctx context.Context, bucket Bucket, key string, body []byte, contentType string) error
	PublicURL(bucket Bucket, key string) string
	Ping(ctx context.Context) error
}

// StorageError reports a provider failure. Message carries the provider's
// own description and is safe to return to admin clients.
type StorageError struct {
	Op      string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Message: err.Error(), Err: err}
}
