package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	variantKindThumbnail = "thumbnail"
	variantKindFormat    = "format"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a separate database, so keep exactly one.
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase(ctx context.Context) error {
	statements := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			content_type TEXT NOT NULL,
			filename TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS image_variants (
			image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			label TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (image_id, kind, label)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDatabase) Close(_ context.Context) error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist(ctx context.Context) bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	return s.db.PingContext(ctx) == nil
}

// CreateImage writes the image row and every derivative row in one transaction,
// so a reader never observes an image with a partial set of variants.
func (s *SQLiteDatabase) CreateImage(ctx context.Context, image *StoredImage) (id string, err error) {
	id = generateID()
	createdAt := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO images (id, data, content_type, filename, width, height, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, image.Data, image.ContentType, image.Filename, image.Width, image.Height, image.Size, createdAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert image: %w", err)
	}

	if err = insertVariants(ctx, tx, id, variantKindThumbnail, image.Thumbnails); err != nil {
		return "", err
	}
	if err = insertVariants(ctx, tx, id, variantKindFormat, image.Formats); err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}

	image.ID = id
	image.CreatedAt = createdAt
	return id, nil
}

func insertVariants(ctx context.Context, tx *sql.Tx, id, kind string, variants map[string][]byte) error {
	for label, data := range variants {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO image_variants (image_id, kind, label, data) VALUES (?, ?, ?, ?)",
			id, kind, label, data)
		if err != nil {
			return fmt.Errorf("failed to insert %s variant %s: %w", kind, label, err)
		}
	}
	return nil
}

func (s *SQLiteDatabase) GetImageByID(ctx context.Context, id string) (*StoredImage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, content_type, filename, width, height, size, created_at
		FROM images WHERE id = ?`, id)

	var img StoredImage
	var createdAt int64
	err := row.Scan(&img.ID, &img.Data, &img.ContentType, &img.Filename, &img.Width, &img.Height, &img.Size, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, err
	}
	img.CreatedAt = time.Unix(0, createdAt).UTC()
	img.Thumbnails = make(map[string][]byte)
	img.Formats = make(map[string][]byte)

	rows, err := s.db.QueryContext(ctx, "SELECT kind, label, data FROM image_variants WHERE image_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	for rows.Next() {
		var kind, label string
		var data []byte
		if err := rows.Scan(&kind, &label, &data); err != nil {
			return nil, err
		}
		switch kind {
		case variantKindThumbnail:
			img.Thumbnails[label] = data
		case variantKindFormat:
			img.Formats[label] = data
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &img, nil
}
