// Package resolver turns an inbound request's target domain into the
// ephemeral handler set serving it: domain to virtual server, server to
// sources, sources to instantiated connectors. Resolution runs on every
// request; nothing is cached across requests, so mutations to sources and
// servers take effect immediately.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jesterbot/gateway/pkg/connector"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
	"github.com/jesterbot/gateway/pkg/storage"
	"github.com/jesterbot/gateway/pkg/trace"
)

// HandlerSet is the per-request set of connectors serving one virtual
// server. Handlers keep the server's source order, which fixes the
// same-prefix fetch ordering.
type HandlerSet struct {
	Server   *gateway.VirtualServer
	Handlers []connector.Connector
}

// Resolver loads handler sets from the stores.
type Resolver struct {
	servers storage.ServerStore
	sources storage.SourceStore
	auditor *trace.Auditor
}

// New builds a resolver over the given stores.
func New(servers storage.ServerStore, sources storage.SourceStore, auditor *trace.Auditor) *Resolver {
	return &Resolver{servers: servers, sources: sources, auditor: auditor}
}

// Load resolves a domain to its handler set. A domain with no live server
// returns gateway.ErrUnknownDomain. Dangling source references and sources
// with invalid metadata are skipped with a WARNING audit entry rather than
// failing the whole request.
func (r *Resolver) Load(ctx context.Context, domain string) (*HandlerSet, error) {
	span := r.auditor.Start(ctx, gateway.OpHandlerInit, "resolve_domain",
		map[string]string{"domain": domain})

	server, err := r.servers.GetByEndpoint(ctx, domain)
	if errors.Is(err, storage.ErrNotFound) {
		err = fmt.Errorf("%w: no virtual server bound to %q", gateway.ErrUnknownDomain, domain)
		span.Fail(err, nil)
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("looking up server for %q: %w", domain, err)
		span.Fail(err, nil)
		return nil, err
	}
	span.OwnerID = server.OwnerID

	set := &HandlerSet{Server: server}
	typeCounts := make(map[gateway.SourceType]int)
	for _, sourceID := range server.SourceIDs {
		source, err := r.sources.Get(ctx, server.OwnerID, sourceID)
		if errors.Is(err, storage.ErrNotFound) {
			span.Warn("skipping dangling source reference",
				map[string]string{"source_id": sourceID})
			continue
		}
		if err != nil {
			err = fmt.Errorf("loading source %s: %w", sourceID, err)
			span.Fail(err, nil)
			return nil, err
		}

		cfg, err := registry.Resolve(*source)
		if err != nil {
			span.Warn("skipping source with invalid metadata",
				map[string]string{"source_id": sourceID, "reason": err.Error()})
			continue
		}
		handler, err := connector.New(cfg)
		if err != nil {
			span.Warn("skipping source with no connector",
				map[string]string{"source_id": sourceID, "reason": err.Error()})
			continue
		}
		set.Handlers = append(set.Handlers, handler)
		typeCounts[source.Type]++
	}

	progress := make(map[string]string, len(typeCounts)+1)
	progress["handlers"] = strconv.Itoa(len(set.Handlers))
	for sourceType, count := range typeCounts {
		progress[string(sourceType)] = strconv.Itoa(count)
	}
	span.Progress("handler set instantiated", progress)
	span.Succeed(nil)
	return set, nil
}
