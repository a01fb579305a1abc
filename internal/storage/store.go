// Package storage persists uploaded blobs (organization and profile images)
// in Postgres and hands out opaque ids for indirect references.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quartershq/quarters/internal/database"
)

// ErrNotFound is returned when no blob exists for an id.
var ErrNotFound = errors.New("file not found")

// MaxBlobSize caps uploads at 5 MiB.
const MaxBlobSize = 5 << 20

// File is a stored blob with its metadata.
type File struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	Content     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists files.
type Store struct{}

// NewStore creates a file store.
func NewStore() *Store {
	return &Store{}
}

// Put stores a blob and returns its id. References to stored images are
// kept as a retrieval path (`/getImage?storageId=<id>`) rather than a final
// URL, so blobs can be re-homed without rewriting referencing rows.
func (s *Store) Put(ctx context.Context, q database.Querier, content []byte, contentType string) (*File, error) {
	if len(content) == 0 {
		return nil, errors.New("empty file")
	}
	if len(content) > MaxBlobSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxBlobSize)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	var f File
	err := q.QueryRow(ctx, `
		INSERT INTO files (id, content_type, content)
		VALUES ($1, $2, $3)
		RETURNING id, content_type, length(content), created_at
	`, id, contentType, content).Scan(&f.ID, &f.ContentType, &f.Size, &f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	return &f, nil
}

// Get returns a blob with its content.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (*File, error) {
	// A malformed id cannot match anything; treat it as absent rather than
	// letting Postgres reject the uuid cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var f File
	err := q.QueryRow(ctx, `
		SELECT id, content_type, length(content), content, created_at
		FROM files WHERE id = $1
	`, id).Scan(&f.ID, &f.ContentType, &f.Size, &f.Content, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return &f, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, q database.Querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RefPath builds the indirect reference stored on organization and user
// rows for an uploaded image.
func RefPath(id string) string {
	return "/getImage?storageId=" + id
}

// IDFromRef extracts the blob id from a stored reference path. Returns
// false for absolute URLs and other non-reference values.
func IDFromRef(ref string) (string, bool) {
	id, ok := strings.CutPrefix(ref, "/getImage?storageId=")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
