// Package blob stores opaque document bytes under string keys. Callers only
// hold keys; the layout behind a Store is its own business.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Store is an object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes one object; a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ProfilePrefix is the key prefix owning every object of a profile.
func ProfilePrefix(profileID string) string {
	return "profiles/" + profileID + "/"
}

// DocumentKey is the key of a document's raw upload.
func DocumentKey(profileID, documentID string) string {
	return ProfilePrefix(profileID) + "documents/" + documentID
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
