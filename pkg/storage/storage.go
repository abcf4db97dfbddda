// Package storage keeps attachment blobs. Keys have the form {userId}/{id}{ext}.
package storage

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Sentinel errors of the blob stores
var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// BlobStore is a key addressed byte store
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// ValidateKey accepts only keys of the form {uuid}/{file} without path tricks
func ValidateKey(key string) error {
	if key == "" || strings.Contains(key, "\\") || path.Clean(key) != key {
		return errors.Wrapf(ErrInvalidKey, "key %q", key)
	}
	segments := strings.Split(key, "/")
	if len(segments) != 2 || segments[1] == "" || strings.HasPrefix(segments[1], ".") {
		return errors.Wrapf(ErrInvalidKey, "key %q", key)
	}
	if _, err := uuid.Parse(segments[0]); err != nil {
		return errors.Wrapf(ErrInvalidKey, "key %q", key)
	}
	return nil
}

// ContentTypeForKey guesses the content type of an attachment from its extension
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
