// Package blob stores raw media bytes under content-addressed keys.
// Records in the database reference blobs by key only; the pipeline
// re-fetches bytes on demand so the database never holds media.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// ErrBlobNotFound indicates the requested key holds no blob.
var ErrBlobNotFound = errors.New("blob not found")

// Store persists and retrieves media bytes. Store returns the
// content-addressed key for the written bytes; writing the same bytes
// twice yields the same key.
type Store interface {
	Store(ctx context.Context, data []byte) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key derives the content-addressed key for a byte slice.
func Key(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validateKey(key string) error {
	if len(key) != 64 {
		return fmt.Errorf("invalid blob key %q", key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
