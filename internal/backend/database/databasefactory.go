package database

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	TypeSQLite  = "sqlite"
	TypeMongoDB = "mongodb"
)

// Options selects and configures a backend.
type Options struct {
	Type             string
	ConnectionString string
	// Name and Collection are only used by the mongodb backend.
	Name       string
	Collection string
}

func NewDatabase(ctx context.Context, opts Options) (database DatabaseService, err error) {
	switch opts.Type {
	case TypeSQLite:
		database, err = NewSQLiteDatabase(opts.ConnectionString)
	case TypeMongoDB:
		database, err = NewMongoDatabase(ctx, opts.ConnectionString, opts.Name, opts.Collection)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	// Ensure schema exists (idempotent), important for in-memory SQLite
	slog.Info("initializing database schema", "type", opts.Type)
	if err = database.CreateDatabase(ctx); err != nil {
		_ = database.Close(ctx)
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
