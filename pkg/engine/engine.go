// Package engine executes aggregate search and fetch over a resolved
// handler set. Search fans out to every handler concurrently and tolerates
// partial failure; fetch routes to exactly one handler chosen by the
// opaque identifier's prefix.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jesterbot/gateway/pkg/connector"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/resolver"
	"github.com/jesterbot/gateway/pkg/telemetry"
	"github.com/jesterbot/gateway/pkg/trace"
)

// Config bounds per-handler work.
type Config struct {
	// SearchTimeout caps each handler's search call.
	SearchTimeout time.Duration

	// FetchTimeout caps each handler's fetch call.
	FetchTimeout time.Duration
}

// Default per-handler timeouts.
const (
	DefaultSearchTimeout = 30 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
)

// Engine runs aggregate operations.
type Engine struct {
	cfg     Config
	auditor *trace.Auditor
}

// New builds an engine, applying default timeouts where cfg leaves them
// zero.
func New(cfg Config, auditor *trace.Auditor) *Engine {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &Engine{cfg: cfg, auditor: auditor}
}

// Search invokes every handler concurrently and concatenates their
// results in completion order. One handler's failure never cancels the
// others; failures are classified, counted, and excluded. Zero configured
// handlers is an empty success. All handlers failing escalates to
// gateway.ErrAllHandlersFailed.
func (e *Engine) Search(ctx context.Context, set *resolver.HandlerSet, query string, limit int) (*gateway.SearchOutcome, error) {
	telemetry.SearchesTotal.Inc()
	timer := time.Now()
	defer func() { telemetry.SearchDuration.Observe(time.Since(timer).Seconds()) }()

	span := e.auditor.Start(ctx, gateway.OpSearch, "aggregated_search", map[string]string{
		"query":    query,
		"limit":    strconv.Itoa(limit),
		"handlers": strconv.Itoa(len(set.Handlers)),
	})
	span.OwnerID = set.Server.OwnerID

	outcome := &gateway.SearchOutcome{Results: []gateway.Result{}}
	if len(set.Handlers) == 0 {
		span.Succeed(map[string]string{"results": "0"})
		return outcome, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, handler := range set.Handlers {
		g.Go(func() error {
			results, err := e.searchOne(gctx, handler, query, limit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.HandlersFailed++
				return nil
			}
			outcome.Results = append(outcome.Results, results...)
			outcome.HandlersSucceeded++
			return nil
		})
	}
	// Goroutines never return errors; failures are absorbed per handler.
	_ = g.Wait()

	if outcome.HandlersSucceeded == 0 {
		err := fmt.Errorf("%w: %d handlers", gateway.ErrAllHandlersFailed, outcome.HandlersFailed)
		span.Fail(err, nil)
		return nil, err
	}
	span.Succeed(map[string]string{
		"results":   strconv.Itoa(len(outcome.Results)),
		"succeeded": strconv.Itoa(outcome.HandlersSucceeded),
		"failed":    strconv.Itoa(outcome.HandlersFailed),
	})
	return outcome, nil
}

// searchOne runs one handler's search under its own span, timeout, and
// panic bulkhead.
func (e *Engine) searchOne(ctx context.Context, handler connector.Connector, query string, limit int) ([]gateway.Result, error) {
	hctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	hspan := e.auditor.Start(ctx, gateway.OpAPICall, handler.Name(), nil)
	hspan.SourceID = handler.SourceID()

	results, err := guard(handler.Name(), func() ([]gateway.Result, error) {
		return handler.Search(hctx, query, limit)
	})
	if err != nil {
		telemetry.HandlerFailuresTotal.WithLabelValues(string(gateway.ClassOf(err))).Inc()
		hspan.Fail(err, nil)
		return nil, err
	}
	hspan.Succeed(map[string]string{"results": strconv.Itoa(len(results))})
	return results, nil
}

// Fetch parses the opaque identifier and routes to the handlers declaring
// its prefix, in source order. NotFound from one candidate moves on to the
// next; any other failure class short-circuits, distinguishing "record
// absent" from "backend broken".
func (e *Engine) Fetch(ctx context.Context, set *resolver.HandlerSet, opaqueID string) (*gateway.Record, error) {
	telemetry.FetchesTotal.Inc()

	span := e.auditor.Start(ctx, gateway.OpFetch, "aggregated_fetch",
		map[string]string{"id": opaqueID})
	span.OwnerID = set.Server.OwnerID

	prefix, nativeID, err := gateway.SplitID(opaqueID)
	if err != nil {
		span.Fail(err, nil)
		return nil, err
	}

	var candidates []connector.Connector
	for _, handler := range set.Handlers {
		if handler.IDPrefix() == prefix {
			candidates = append(candidates, handler)
		}
	}
	if len(candidates) == 0 {
		available := availablePrefixes(set.Handlers)
		err := fmt.Errorf("%w: %q", gateway.ErrUnknownPrefix, prefix)
		span.Fail(err, map[string]string{"available_prefixes": strings.Join(available, ",")})
		return nil, err
	}

	for _, handler := range candidates {
		record, err := e.fetchOne(ctx, handler, nativeID)
		if err == nil {
			span.Succeed(map[string]string{"handler": handler.Name()})
			return record, nil
		}
		if gateway.ClassOf(err) == gateway.FailureNotFound {
			span.Progress("record not found, trying next handler",
				map[string]string{"handler": handler.Name()})
			continue
		}
		telemetry.HandlerFailuresTotal.WithLabelValues(string(gateway.ClassOf(err))).Inc()
		span.Fail(err, map[string]string{"handler": handler.Name()})
		return nil, err
	}

	err = fmt.Errorf("%w: no handler with prefix %q has %q", gateway.ErrNotFound, prefix, nativeID)
	span.Fail(err, nil)
	return nil, err
}

func (e *Engine) fetchOne(ctx context.Context, handler connector.Connector, nativeID string) (*gateway.Record, error) {
	hctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	return guard(handler.Name(), func() (*gateway.Record, error) {
		return handler.Fetch(hctx, nativeID)
	})
}

// guard converts a panicking handler into a classified permanent failure
// so one misbehaving connector cannot take down the aggregate operation.
func guard[T any](handlerName string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = gateway.NewHandlerError(gateway.FailurePermanent, handlerName,
				fmt.Errorf("handler panicked: %v", r))
		}
	}()
	return fn()
}

func availablePrefixes(handlers []connector.Connector) []string {
	seen := make(map[string]bool)
	var prefixes []string
	for _, handler := range handlers {
		if !seen[handler.IDPrefix()] {
			seen[handler.IDPrefix()] = true
			prefixes = append(prefixes, handler.IDPrefix())
		}
	}
	sort.Strings(prefixes)
	return prefixes
}
