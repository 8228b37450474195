package persistence

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/imagegate/pkg/domain"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("not found")
)

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// ImageStorage returns the image record storage implementation
	ImageStorage() ImageStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// ImageStorage maps image guids to stored files.
type ImageStorage interface {
	// Get returns the record for guid or ErrNotFound
	Get(ctx context.Context, guid string) (*domain.ImageRecord, error)

	// Save inserts or replaces a record
	Save(ctx context.Context, rec domain.ImageRecord) error

	// Delete removes a record; deleting a missing guid is not an error
	Delete(ctx context.Context, guid string) error

	// List returns records oldest first; limit <= 0 means no limit
	List(ctx context.Context, limit int) ([]domain.ImageRecord, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int64, error)
}
