// Package snapshot exports committed node state to content-addressed
// storage: the local filesystem, S3, or (with the gcp build tag) GCS.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for an unknown digest.
var ErrNotFound = errors.New("snapshot: blob not found")

const digestPrefix = "sha256:"

// Store is content-addressed blob storage. Blobs are keyed by the sha256
// digest of their bytes, in "sha256:<hex>" form.
type Store interface {
	// Put persists data and returns its digest. Storing the same bytes
	// twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, digest string) ([]byte, error)
	Exists(ctx context.Context, digest string) (bool, error)
}

// Digest returns the content address of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// blobName validates digest and returns the object name for it.
func blobName(digest string) (string, error) {
	raw, ok := strings.CutPrefix(digest, digestPrefix)
	if !ok {
		return "", fmt.Errorf("invalid digest format: %s", digest)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("invalid digest hex: %s", digest)
	}
	return raw + ".blob", nil
}
