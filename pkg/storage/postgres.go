package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore is a RecordStore backed by a single records table with a
// JSONB payload column and an optimistic version column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and ensures the records table exists
func NewPostgresStore(url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure records table: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection (used by tests)
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		id VARCHAR(64) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		data JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (resource_type, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_type ON records(resource_type);
	CREATE INDEX IF NOT EXISTS idx_records_data ON records USING GIN (data);
	`
	_, err := s.db.Exec(query)
	return err
}

// Get retrieves a record by type and id
func (s *PostgresStore) Get(ctx context.Context, resourceType, id string) (*Record, error) {
	query := `
		SELECT id, resource_type, data, version, created_at, updated_at
		FROM records
		WHERE resource_type = $1 AND id = $2
	`

	record := &Record{}
	var dataJSON []byte
	err := s.db.QueryRowContext(ctx, query, resourceType, id).Scan(
		&record.ID, &record.Type, &dataJSON, &record.Version,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
	}
	return record, nil
}

// List returns records of a type matching the filter. The filter is applied
// in the database using JSONB containment so it composes with the GIN index.
func (s *PostgresStore) List(ctx context.Context, resourceType string, filter Filter) ([]*Record, error) {
	query := `
		SELECT id, resource_type, data, version, created_at, updated_at
		FROM records
		WHERE resource_type = $1
	`
	args := []interface{}{resourceType}

	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
		query += " AND data @> $2::jsonb"
		args = append(args, filterJSON)
	}

	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record := &Record{}
		var dataJSON []byte
		if err := rows.Scan(&record.ID, &record.Type, &dataJSON, &record.Version,
			&record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Create stores a new record
func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	dataJSON, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}

	query := `
		INSERT INTO records (id, resource_type, data, version)
		VALUES ($1, $2, $3, 1)
		RETURNING version, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, record.ID, record.Type, dataJSON).Scan(
		&record.Version, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Update replaces a record's data if the caller holds the current version
func (s *PostgresStore) Update(ctx context.Context, record *Record) error {
	dataJSON, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}

	query := `
		UPDATE records
		SET data = $1, version = version + 1, updated_at = NOW()
		WHERE resource_type = $2 AND id = $3 AND version = $4
		RETURNING version, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, dataJSON, record.Type, record.ID, record.Version).Scan(
		&record.Version, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// Either the record is gone or someone updated it first.
		if _, getErr := s.Get(ctx, record.Type, record.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// Delete removes a record by type and id
func (s *PostgresStore) Delete(ctx context.Context, resourceType, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE resource_type = $1 AND id = $2", resourceType, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWhere removes every record of the type matching the filter
func (s *PostgresStore) DeleteWhere(ctx context.Context, resourceType string, filter Filter) (int64, error) {
	query := "DELETE FROM records WHERE resource_type = $1"
	args := []interface{}{resourceType}

	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal filter: %w", err)
		}
		query += " AND data @> $2::jsonb"
		args = append(args, filterJSON)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for health checks and the audit writer
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}
