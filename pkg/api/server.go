// Package api contains the gateway's HTTP surfaces: the tenant-facing
// search/fetch endpoints keyed by the request's Host header, and the admin
// REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/jesterbot/gateway/pkg/api/v1"
	"github.com/jesterbot/gateway/pkg/config"
	"github.com/jesterbot/gateway/pkg/engine"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/logger"
	"github.com/jesterbot/gateway/pkg/resolver"
	"github.com/jesterbot/gateway/pkg/storage"
	"github.com/jesterbot/gateway/pkg/telemetry"
	"github.com/jesterbot/gateway/pkg/trace"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// correlationMiddleware attaches a correlation ID to every request context
// and echoes it back to the caller.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := trace.EnsureCorrelationID(r.Context())
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewTenantRouter builds the tenant-facing router. The request's Host
// header is the tenant-routing key; there is no explicit domain parameter.
func NewTenantRouter(res *resolver.Resolver, eng *engine.Engine) http.Handler {
	routes := &tenantRoutes{resolver: res, engine: eng}
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		correlationMiddleware,
	)
	r.Post("/search", routes.search)
	r.Post("/fetch", routes.fetch)
	return r
}

type tenantRoutes struct {
	resolver *resolver.Resolver
	engine   *engine.Engine
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type fetchRequest struct {
	ID string `json:"id"`
}

// defaultSearchLimit applies when the caller omits or zeroes the limit.
const defaultSearchLimit = 25

func (t *tenantRoutes) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		v1.WriteError(w, gateway.NewValidationError("body", "malformed JSON"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		v1.WriteError(w, gateway.NewValidationError("query", "must not be empty"))
		return
	}
	if req.Limit < 0 {
		v1.WriteError(w, gateway.NewValidationError("limit", "must be positive"))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}

	set, err := t.resolver.Load(r.Context(), requestDomain(r))
	if err != nil {
		v1.WriteError(w, err)
		return
	}
	outcome, err := t.engine.Search(r.Context(), set, req.Query, req.Limit)
	if err != nil {
		v1.WriteError(w, err)
		return
	}
	v1.WriteJSON(w, http.StatusOK, outcome)
}

func (t *tenantRoutes) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		v1.WriteError(w, gateway.NewValidationError("body", "malformed JSON"))
		return
	}
	if req.ID == "" {
		v1.WriteError(w, gateway.NewValidationError("id", "must not be empty"))
		return
	}

	set, err := t.resolver.Load(r.Context(), requestDomain(r))
	if err != nil {
		v1.WriteError(w, err)
		return
	}
	record, err := t.engine.Fetch(r.Context(), set, req.ID)
	if err != nil {
		v1.WriteError(w, err)
		return
	}
	v1.WriteJSON(w, http.StatusOK, record)
}

// requestDomain extracts the routing domain from the Host header, dropping
// any port.
func requestDomain(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// AdminDeps carries the collaborators the admin API needs.
type AdminDeps struct {
	Sources storage.SourceStore
	Servers storage.ServerStore
	Logs    storage.LogStore
	Config  *config.Config
	Started time.Time
}

// NewAdminRouter builds the admin router: sources/servers/logs CRUD under
// /api/v1, the health surface, and /metrics.
func NewAdminRouter(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		correlationMiddleware,
	)

	routers := map[string]http.Handler{
		"/api/v1/sources": v1.SourceRouter(deps.Sources),
		"/api/v1/servers": v1.ServerRouter(deps.Servers, deps.Sources, deps.Config.EndpointPool),
		"/api/v1/logs":    v1.LogsRouter(deps.Logs),
		"/api/v1/checks":  v1.ChecksRouter(deps.Started),
		"/metrics":        telemetry.Handler(),
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}
	return r
}

// Serve runs the handler on addr until ctx is cancelled, then shuts down
// gracefully. The caller sets up signal handling.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("HTTP server listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Infof("HTTP server on %s stopped", addr)
	return nil
}
