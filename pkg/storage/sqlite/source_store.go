package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/storage"
)

// SourceStore implements storage.SourceStore using SQLite.
type SourceStore struct {
	wrapper *DB
	db      *sql.DB
}

// NewSourceStore creates a new SQLite-backed SourceStore.
func NewSourceStore(db *DB) *SourceStore {
	return &SourceStore{wrapper: db, db: db.DB()}
}

// Close closes the underlying database connection.
func (s *SourceStore) Close() error { return s.wrapper.Close() }

var _ storage.SourceStore = (*SourceStore)(nil)

const sourceColumns = `id, owner_id, source_type, metadata, created_at, updated_at`

// Create stores a new source, assigning its ID and timestamps.
func (s *SourceStore) Create(ctx context.Context, source *gateway.Source) error {
	metadata, err := encodeMap(source.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	source.ID = uuid.NewString()
	source.CreatedAt = now
	source.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (id, owner_id, source_type, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		source.ID, source.OwnerID, string(source.Type), metadata,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

// Get returns one source by ID, owner-scoped.
func (s *SourceStore) Get(ctx context.Context, ownerID, id string) (*gateway.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying source: %w", err)
	}
	return source, nil
}

// List returns all of an owner's sources in creation order.
func (s *SourceStore) List(ctx context.Context, ownerID string) ([]gateway.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE owner_id = ? ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []gateway.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, *source)
	}
	return sources, rows.Err()
}

// Update replaces the metadata of an existing source. Type and owner are
// immutable.
func (s *SourceStore) Update(ctx context.Context, source *gateway.Source) error {
	metadata, err := encodeMap(source.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET metadata = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		metadata, now.UnixMilli(), source.ID, source.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("updating source: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}
	source.UpdatedAt = now
	return nil
}

// Delete removes a source.
func (s *SourceStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sources WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return requireOneRow(res)
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*gateway.Source, error) {
	var (
		source             gateway.Source
		sourceType         string
		metadata           []byte
		createdAt, updated int64
	)
	if err := row.Scan(&source.ID, &source.OwnerID, &sourceType, &metadata,
		&createdAt, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &source.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	source.Type = gateway.SourceType(sourceType)
	source.CreatedAt = time.UnixMilli(createdAt).UTC()
	source.UpdatedAt = time.UnixMilli(updated).UTC()
	return &source, nil
}

// encodeMap marshals a string map for storage, normalizing nil to "{}".
func encodeMap(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// requireOneRow maps a zero-row write to storage.ErrNotFound.
func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
