package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"tapcard/pkg/platform/sentinel"
)

// PostgresStorage persists objects in a PostgreSQL bytea table. It implements
// the same contract as the hosted backend and is what single-node deployments
// run. This store is pure I/O; path safety belongs to the callers.
type PostgresStorage struct {
	db      *sql.DB
	baseURL string
}

// NewPostgres constructs a PostgreSQL-backed object store.
func NewPostgres(db *sql.DB, baseURL string) *PostgresStorage {
	return &PostgresStorage{db: db, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *PostgresStorage) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string, overwrite bool) (UploadResult, error) {
	query := `
		INSERT INTO storage_objects (bucket, path, content_type, data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (bucket, path) DO NOTHING
	`
	if overwrite {
		query = `
			INSERT INTO storage_objects (bucket, path, content_type, data, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (bucket, path) DO UPDATE SET
				content_type = EXCLUDED.content_type,
				data = EXCLUDED.data
		`
	}
	result, err := s.db.ExecContext(ctx, query, bucket, objectPath, contentType, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload object: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload object: %w", err)
	}
	if rows == 0 {
		return UploadResult{}, sentinel.ErrObjectExists
	}
	return UploadResult{Path: objectPath, URL: s.PublicURL(bucket, objectPath)}, nil
}

func (s *PostgresStorage) Copy(ctx context.Context, fromBucket, toBucket, fromPath, toPath string) error {
	// Retried claims may find the destination already populated; replacing it
	// with the same source bytes keeps the copy idempotent.
	query := `
		INSERT INTO storage_objects (bucket, path, content_type, data, created_at)
		SELECT $1, $2, content_type, data, NOW()
		FROM storage_objects
		WHERE bucket = $3 AND path = $4
		ON CONFLICT (bucket, path) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data
	`
	result, err := s.db.ExecContext(ctx, query, toBucket, toPath, fromBucket, fromPath)
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) Remove(ctx context.Context, buckets []string, paths []string) error {
	if len(buckets) == 0 || len(paths) == 0 {
		return nil
	}
	query := `DELETE FROM storage_objects WHERE bucket = ANY($1) AND path = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(buckets), pq.Array(paths)); err != nil {
		return fmt.Errorf("remove objects: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Download(ctx context.Context, bucket, objectPath string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	query := `SELECT data, content_type FROM storage_objects WHERE bucket = $1 AND path = $2`
	err := s.db.QueryRowContext(ctx, query, bucket, objectPath).Scan(&data, &contentType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", sentinel.ErrNotFound
		}
		return nil, "", fmt.Errorf("download object: %w", err)
	}
	return data, contentType, nil
}

func (s *PostgresStorage) PublicURL(bucket, objectPath string) string {
	return s.baseURL + "/" + bucket + "/" + objectPath
}
