// Package store persists threads, messages, attachments and user settings.
// All queries that take a userID are ownership scoped: rows of other users are
// reported as ErrNotFound.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Sentinel errors of the store
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Store wraps the database connection
type Store struct {
	db *gorm.DB
}

// New creates a store on top of an open connection
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database answers
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "getting database handle")
	}
	return errors.Wrap(sqlDB.Ping(), "pinging database")
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// wrap turns gorm.ErrRecordNotFound into ErrNotFound and annotates everything else
func wrap(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}

// now is truncated to microseconds so ordering survives the round trip through postgres
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
