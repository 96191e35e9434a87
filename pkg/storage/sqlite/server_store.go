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

// ServerStore implements storage.ServerStore using SQLite. Endpoint
// allocation happens inside the create transaction; combined with the
// single-connection handle and the unique index on endpoint, two
// concurrent creations can never be assigned the same endpoint.
type ServerStore struct {
	wrapper *DB
	db      *sql.DB
}

// NewServerStore creates a new SQLite-backed ServerStore.
func NewServerStore(db *DB) *ServerStore {
	return &ServerStore{wrapper: db, db: db.DB()}
}

// Close closes the underlying database connection.
func (s *ServerStore) Close() error { return s.wrapper.Close() }

var _ storage.ServerStore = (*ServerStore)(nil)

const serverColumns = `id, owner_id, name, endpoint, source_ids, created_at, updated_at, deleted_at`

// Create stores a new server with an endpoint allocated from pool. The
// used set is read inside the insert transaction and includes soft-deleted
// rows: their endpoints stay reserved until hard deletion.
func (s *ServerStore) Create(ctx context.Context, server *gateway.VirtualServer, pool []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx, `SELECT endpoint FROM servers`)
	if err != nil {
		return fmt.Errorf("querying used endpoints: %w", err)
	}
	used := make(map[string]bool)
	for rows.Next() {
		var endpoint string
		if err := rows.Scan(&endpoint); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning endpoint: %w", err)
		}
		used[endpoint] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating endpoints: %w", err)
	}
	_ = rows.Close()

	endpoint := ""
	for _, candidate := range pool {
		if !used[candidate] {
			endpoint = candidate
			break
		}
	}
	if endpoint == "" {
		return gateway.ErrPoolExhausted
	}

	sourceIDs, err := encodeList(server.SourceIDs)
	if err != nil {
		return fmt.Errorf("encoding source ids: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO servers (id, owner_id, name, endpoint, source_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, server.OwnerID, server.Name, endpoint, sourceIDs,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// The unique index is the backstop; with one connection the
			// in-transaction read should already have seen the endpoint.
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting server: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	server.ID = id
	server.Endpoint = endpoint
	server.CreatedAt = now
	server.UpdatedAt = now
	server.DeletedAt = nil
	return nil
}

// Get returns one server by ID, owner-scoped, soft-deleted included.
func (s *ServerStore) Get(ctx context.Context, ownerID, id string) (*gateway.VirtualServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	server, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return server, nil
}

// GetByEndpoint returns the live server bound to an endpoint. Soft-deleted
// servers do not route.
func (s *ServerStore) GetByEndpoint(ctx context.Context, endpoint string) (*gateway.VirtualServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE endpoint = ? AND deleted_at IS NULL`,
		endpoint,
	)
	server, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server by endpoint: %w", err)
	}
	return server, nil
}

// List returns an owner's servers in creation order.
func (s *ServerStore) List(ctx context.Context, ownerID string, includeDeleted bool) ([]gateway.VirtualServer, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE owner_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var servers []gateway.VirtualServer
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, *server)
	}
	return servers, rows.Err()
}

// Update replaces a server's name and source references. The endpoint
// column is deliberately absent from the statement.
func (s *ServerStore) Update(ctx context.Context, server *gateway.VirtualServer) error {
	sourceIDs, err := encodeList(server.SourceIDs)
	if err != nil {
		return fmt.Errorf("encoding source ids: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET name = ?, source_ids = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
		server.Name, sourceIDs, now.UnixMilli(), server.ID, server.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}
	server.UpdatedAt = now
	return nil
}

// SoftDelete marks a server deleted without releasing its endpoint.
func (s *ServerStore) SoftDelete(ctx context.Context, ownerID, id string) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
		now.UnixMilli(), now.UnixMilli(), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("soft-deleting server: %w", err)
	}
	return requireOneRow(res)
}

// Restore clears a server's soft-delete mark.
func (s *ServerStore) Restore(ctx context.Context, ownerID, id string) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET deleted_at = NULL, updated_at = ?
		WHERE id = ? AND owner_id = ? AND deleted_at IS NOT NULL`,
		now.UnixMilli(), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("restoring server: %w", err)
	}
	return requireOneRow(res)
}

// HardDelete removes the row, which releases its endpoint.
func (s *ServerStore) HardDelete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM servers WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("hard-deleting server: %w", err)
	}
	return requireOneRow(res)
}

func scanServer(row scanner) (*gateway.VirtualServer, error) {
	var (
		server             gateway.VirtualServer
		sourceIDs          []byte
		createdAt, updated int64
		deletedAt          sql.NullInt64
	)
	if err := row.Scan(&server.ID, &server.OwnerID, &server.Name, &server.Endpoint,
		&sourceIDs, &createdAt, &updated, &deletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sourceIDs, &server.SourceIDs); err != nil {
		return nil, fmt.Errorf("decoding source ids: %w", err)
	}
	server.CreatedAt = time.UnixMilli(createdAt).UTC()
	server.UpdatedAt = time.UnixMilli(updated).UTC()
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		server.DeletedAt = &t
	}
	return &server, nil
}

// encodeList marshals a string slice for storage, normalizing nil to "[]".
func encodeList(values []string) (string, error) {
	if values == nil {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
