// Package storage keeps annotated anomaly frames in a local directory or an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when a key has no stored object
var ErrObjectNotFound = errors.New("object not found")

// FrameStore stores JPEG objects by key
type FrameStore interface {
	// Put stores data under key and returns the object's location
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the stored object
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
