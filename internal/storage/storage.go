// Package storage defines the persistence interface for memory entries.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
)

var (
	// ErrNotFound is returned when an entry is unknown or its content file is missing.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidID is returned for ids that cannot be used as file names.
	ErrInvalidID = errors.New("invalid entry id")
)

// Filter selects entries by metadata. A nil Filter selects everything.
type Filter func(meta models.Metadata) bool

// GroupFilter selects entries whose group id equals groupID.
func GroupFilter(groupID string) Filter {
	return func(meta models.Metadata) bool { return meta.GroupID == groupID }
}

// Storage defines entry persistence and similarity search.
type Storage interface {
	Initialize(ctx context.Context) error
	Add(ctx context.Context, entry *models.Entry) error
	Get(ctx context.Context, id string) (*models.Entry, error)
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query models.Vector, limit int, filter Filter) ([]*models.SearchResult, error)
	List(ctx context.Context, filter Filter) ([]*models.Entry, error)
	IDs(filter Filter) []string
	Clear(ctx context.Context) error
	Count() int
}
