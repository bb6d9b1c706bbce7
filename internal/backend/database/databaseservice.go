package database

import (
	"context"
	"errors"
)

// ErrImageNotFound is returned when no stored image matches the requested id,
// including ids that are not well-formed for the backend.
var ErrImageNotFound = errors.New("image not found")

// ErrImageTooLarge is returned when an image and its derivatives exceed what the backend can store in one write.
var ErrImageTooLarge = errors.New("image too large to store")

type DatabaseService interface {
	// CreateDatabase prepares the schema (tables, indexes). It is idempotent.
	CreateDatabase(ctx context.Context) error
	DoesDatabaseExist(ctx context.Context) bool
	Close(ctx context.Context) error

	// CreateImage persists the original and all of its derivatives with a single write.
	// The backend assigns ID and CreatedAt and returns the new id.
	CreateImage(ctx context.Context, image *StoredImage) (string, error)
	GetImageByID(ctx context.Context, id string) (*StoredImage, error)
}
