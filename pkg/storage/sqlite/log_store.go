package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/storage"
)

// defaultQueryLimit caps owner-scoped audit queries when the filter does
// not set one.
const defaultQueryLimit = 200

// LogStore implements storage.LogStore using SQLite.
type LogStore struct {
	wrapper *DB
	db      *sql.DB
}

// NewLogStore creates a new SQLite-backed LogStore.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{wrapper: db, db: db.DB()}
}

// Close closes the underlying database connection.
func (s *LogStore) Close() error { return s.wrapper.Close() }

var _ storage.LogStore = (*LogStore)(nil)

const auditColumns = `id, ts, level, operation, status, method, message,
			owner_id, source_id, correlation_id, elapsed_sec, details`

// Insert persists one audit entry, assigning its ID.
func (s *LogStore) Insert(ctx context.Context, entry *gateway.AuditEntry) error {
	details, err := encodeMap(entry.Details)
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}
	entry.ID = uuid.NewString()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, ts, level, operation, status, method, message,
			owner_id, source_id, correlation_id, elapsed_sec, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp,
		string(entry.Level),
		string(entry.Operation),
		string(entry.Status),
		entry.Method,
		entry.Message,
		entry.OwnerID,
		entry.SourceID,
		entry.CorrelationID,
		entry.ElapsedSec,
		details,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// QueryByCorrelation returns every entry sharing a correlation ID, oldest
// first, so callers can replay the operation's causal tree.
func (s *LogStore) QueryByCorrelation(ctx context.Context, correlationID string) ([]gateway.AuditEntry, error) {
	return s.query(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE correlation_id = ? ORDER BY ts, id`,
		correlationID,
	)
}

// QueryByOwner returns an owner's entries, newest first, narrowed by the
// filter.
func (s *LogStore) QueryByOwner(ctx context.Context, ownerID string, filter storage.LogFilter) ([]gateway.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE owner_id = ?`
	args := []any{ownerID}
	if filter.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, string(filter.Operation))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Level != "" {
		query += ` AND level = ?`
		args = append(args, string(filter.Level))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// Stats aggregates entry counts per operation and status over the trailing
// window.
func (s *LogStore) Stats(ctx context.Context, window time.Duration) ([]storage.OperationStat, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation, status, COUNT(*) FROM audit_log
		WHERE ts >= ?
		GROUP BY operation, status
		ORDER BY operation, status`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []storage.OperationStat
	for rows.Next() {
		var (
			op, status string
			count      int64
		)
		if err := rows.Scan(&op, &status, &count); err != nil {
			return nil, fmt.Errorf("scanning audit stat: %w", err)
		}
		stats = append(stats, storage.OperationStat{
			Operation: gateway.Operation(op),
			Status:    gateway.Status(status),
			Count:     count,
		})
	}
	return stats, rows.Err()
}

// DeleteOlderThan prunes entries with timestamps before the cutoff.
func (s *LogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning audit log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}
	return n, nil
}

func (s *LogStore) query(ctx context.Context, query string, args ...any) ([]gateway.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []gateway.AuditEntry
	for rows.Next() {
		var (
			entry             gateway.AuditEntry
			level, op, status string
			details           []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &level, &op, &status,
			&entry.Method, &entry.Message, &entry.OwnerID, &entry.SourceID,
			&entry.CorrelationID, &entry.ElapsedSec, &details); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("decoding details: %w", err)
		}
		entry.Level = gateway.Level(level)
		entry.Operation = gateway.Operation(op)
		entry.Status = gateway.Status(status)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
