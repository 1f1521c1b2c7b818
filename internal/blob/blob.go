// Package blob stores uploaded import files until their job reaches a terminal status.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob not found")

// Store provides an interface for uploaded-file storage.
// This interface enables swapping the local and cloud backends and faking them in tests.
type Store interface {
	// Put stores the content of r under key, replacing any previous object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Open returns a reader for key, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ImportKey builds the object key for an uploaded import file:
// imports/<owner>/<id><ext>.
func ImportKey(ownerID, id, ext string) string {
	return path.Join("imports", ownerID, id+strings.ToLower(ext))
}

// Ext returns the lowercase extension of a stored key, including the dot.
func Ext(key string) string {
	return strings.ToLower(path.Ext(key))
}

// validateKey rejects keys that could escape the storage root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty blob key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
