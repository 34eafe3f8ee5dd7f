// Package library is the collection source: the authoritative record of
// which images belong to a collection and where their files live.
package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"image-cache-service/internal/models"
)

// Library reads collection membership from Postgres.
type Library struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool, usually shared with the job store.
func New(pool *pgxpool.Pool) *Library {
	return &Library{pool: pool}
}

// GetByID loads a collection and its ordered images. A genuinely absent
// collection returns models.ErrCollectionNotFound; transport failures come
// back wrapped so callers can tell the two apart with errors.Is.
func (l *Library) GetByID(ctx context.Context, id string) (models.Collection, error) {
	var col models.Collection
	err := l.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM collections WHERE id = $1
	`, id).Scan(&col.ID, &col.Name, &col.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Collection{}, models.ErrCollectionNotFound
	}
	if err != nil {
		return models.Collection{}, fmt.Errorf("query collection: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, file_path, position
		FROM collection_images
		WHERE collection_id = $1
		ORDER BY position, id
	`, id)
	if err != nil {
		return models.Collection{}, fmt.Errorf("query collection images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img models.CollectionImage
		if err := rows.Scan(&img.ID, &img.FilePath, &img.Position); err != nil {
			return models.Collection{}, fmt.Errorf("scan collection image: %w", err)
		}
		col.Images = append(col.Images, img)
	}
	if err := rows.Err(); err != nil {
		return models.Collection{}, fmt.Errorf("iterate collection images: %w", err)
	}
	return col, nil
}
