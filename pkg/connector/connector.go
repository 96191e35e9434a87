// Package connector defines the capability contract every data-source
// adapter implements, and the registry that maps source types to
// constructors. Connectors translate search and fetch calls to one external
// system; they never touch stored sources or virtual servers.
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

// Connector is the two-method capability contract implemented once per
// source type. Implementations classify every backend failure as a
// gateway.HandlerError; raw transport errors must not escape.
type Connector interface {
	// Search performs a best-effort relevance search against the backing
	// system. Empty results are not an error. Every result ID is emitted
	// as "<prefix>::<native_id>".
	Search(ctx context.Context, query string, limit int) ([]gateway.Result, error)

	// Fetch retrieves one fully-hydrated record by the backend's own
	// identifier. Absence is reported as a not_found classified failure.
	Fetch(ctx context.Context, nativeID string) (*gateway.Record, error)

	// IDPrefix returns the immutable routing prefix for this connector
	// type, unique per type.
	IDPrefix() string

	// Name returns a human-readable handler name for logs, including the
	// source it was built from.
	Name() string

	// SourceID returns the source this connector was instantiated from.
	SourceID() string
}

// Factory builds a connector from a validated source configuration.
type Factory func(cfg registry.Config) (Connector, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[gateway.SourceType]Factory)
)

// Register makes a connector factory available for a source type.
// Implementations call it from an init function. Registering the same type
// twice panics, as does a nil factory.
func Register(sourceType gateway.SourceType, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		panic("connector: Register factory is nil")
	}
	if _, dup := factories[sourceType]; dup {
		panic(fmt.Sprintf("connector: Register called twice for source type %q", sourceType))
	}
	factories[sourceType] = factory
}

// New instantiates a connector for the given validated configuration.
func New(cfg registry.Config) (Connector, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for source type %q", cfg.Type)
	}
	return factory(cfg)
}

// RegisteredTypes returns the source types with a registered connector
// factory, sorted. The health endpoint reports its length.
func RegisteredTypes() []gateway.SourceType {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]gateway.SourceType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
