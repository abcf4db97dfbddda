package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Local stores blobs below a directory on disk
type Local struct {
	root string
}

// NewLocal creates the root directory if needed
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating attachment directory %s", root)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

// Put writes data to key, replacing existing content
func (l *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return errors.Wrap(err, "creating user directory")
	}
	return errors.Wrap(os.WriteFile(p, data, 0o640), "writing blob")
}

// Get reads the blob at key
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "key %s", key)
	}
	return data, errors.Wrap(err, "reading blob")
}

// Remove deletes the blob at key
func (l *Local) Remove(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "key %s", key)
	}
	return errors.Wrap(err, "removing blob")
}
