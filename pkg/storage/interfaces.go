// Package storage defines the persistence interfaces the gateway depends
// on. Implementations live in subpackages; the rest of the codebase only
// ever sees these interfaces.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jesterbot/gateway/pkg/gateway"
)

var (
	// ErrNotFound is returned when a requested row does not exist or is
	// not visible to the requesting owner.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a uniqueness constraint rejects a
	// write.
	ErrAlreadyExists = errors.New("already exists")
)

// SourceStore persists source credential bundles. Every operation is
// scoped by owner: a source is invisible to any owner but its own.
type SourceStore interface {
	// Create persists a new source, assigning its ID and timestamps.
	Create(ctx context.Context, source *gateway.Source) error

	// Get returns one source by ID, owner-scoped.
	Get(ctx context.Context, ownerID, id string) (*gateway.Source, error)

	// List returns all of an owner's sources in creation order.
	List(ctx context.Context, ownerID string) ([]gateway.Source, error)

	// Update replaces the metadata of an existing source. Type and owner
	// are immutable.
	Update(ctx context.Context, source *gateway.Source) error

	// Delete removes a source. Virtual servers referencing it keep the
	// dangling ID; the resolver skips it with a warning.
	Delete(ctx context.Context, ownerID, id string) error

	Close() error
}

// ServerStore persists virtual servers and owns endpoint allocation.
type ServerStore interface {
	// Create persists a new server, allocating the first free endpoint
	// from pool inside the same transaction as the insert. Endpoints held
	// by soft-deleted servers count as used. Returns
	// gateway.ErrPoolExhausted when every pool candidate is taken.
	Create(ctx context.Context, server *gateway.VirtualServer, pool []string) error

	// Get returns one server by ID, owner-scoped, soft-deleted included.
	Get(ctx context.Context, ownerID, id string) (*gateway.VirtualServer, error)

	// GetByEndpoint returns the non-soft-deleted server bound to an
	// endpoint. This is the tenant-routing lookup.
	GetByEndpoint(ctx context.Context, endpoint string) (*gateway.VirtualServer, error)

	// List returns an owner's servers in creation order, optionally
	// including soft-deleted ones.
	List(ctx context.Context, ownerID string, includeDeleted bool) ([]gateway.VirtualServer, error)

	// Update replaces a server's name and source references. The endpoint
	// is never touched.
	Update(ctx context.Context, server *gateway.VirtualServer) error

	// SoftDelete marks a server deleted. Its endpoint stays reserved.
	SoftDelete(ctx context.Context, ownerID, id string) error

	// Restore clears a server's soft-delete mark.
	Restore(ctx context.Context, ownerID, id string) error

	// HardDelete removes the row, releasing its endpoint back to the pool.
	HardDelete(ctx context.Context, ownerID, id string) error

	Close() error
}

// LogFilter narrows an owner-scoped audit query. Zero values mean "any".
type LogFilter struct {
	Operation gateway.Operation
	Status    gateway.Status
	Level     gateway.Level

	// Limit caps the number of returned entries; 0 applies the store
	// default.
	Limit int
}

// OperationStat is one row of an aggregate audit report.
type OperationStat struct {
	Operation gateway.Operation `json:"operation"`
	Status    gateway.Status    `json:"status"`
	Count     int64             `json:"count"`
}

// LogStore persists the audit trail.
type LogStore interface {
	// Insert persists one entry, assigning its ID.
	Insert(ctx context.Context, entry *gateway.AuditEntry) error

	// QueryByCorrelation returns every entry sharing a correlation ID, in
	// timestamp order.
	QueryByCorrelation(ctx context.Context, correlationID string) ([]gateway.AuditEntry, error)

	// QueryByOwner returns an owner's entries, newest first, narrowed by
	// the filter.
	QueryByOwner(ctx context.Context, ownerID string, filter LogFilter) ([]gateway.AuditEntry, error)

	// Stats aggregates entry counts per operation and status over the
	// trailing window.
	Stats(ctx context.Context, window time.Duration) ([]OperationStat, error)

	// DeleteOlderThan prunes entries with timestamps before the cutoff
	// and reports how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
