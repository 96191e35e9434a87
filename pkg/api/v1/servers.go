package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/storage"
	"github.com/jesterbot/gateway/pkg/telemetry"
)

// ServerRouter sets up the virtual server routes. pool is the configured
// endpoint pool creations allocate from.
func ServerRouter(store storage.ServerStore, sources storage.SourceStore, pool []string) http.Handler {
	routes := &serverRoutes{store: store, sources: sources, pool: pool}
	r := chi.NewRouter()
	r.Use(RequireOwner)
	r.Get("/", routes.list)
	r.Post("/", routes.create)
	r.Get("/{id}", routes.get)
	r.Put("/{id}", routes.update)
	r.Delete("/{id}", routes.softDelete)
	r.Delete("/{id}/hard", routes.hardDelete)
	r.Post("/{id}/restore", routes.restore)
	return r
}

type serverRoutes struct {
	store   storage.ServerStore
	sources storage.SourceStore
	pool    []string
}

// validateSourceRefs rejects source references that do not resolve to a
// source owned by the caller. Foreign-owned sources are indistinguishable
// from nonexistent ones.
func (s *serverRoutes) validateSourceRefs(ctx context.Context, ownerID string, ids []string) error {
	for _, id := range ids {
		if _, err := s.sources.Get(ctx, ownerID, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return gateway.NewValidationError("source_ids", fmt.Sprintf("unknown source %q", id))
			}
			return err
		}
	}
	return nil
}

type serverRequest struct {
	Name      string   `json:"name"`
	SourceIDs []string `json:"source_ids"`
}

type serverListResponse struct {
	Servers []gateway.VirtualServer `json:"servers"`
}

func (s *serverRoutes) list(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("all") == "true"
	servers, err := s.store.List(r.Context(), Owner(r.Context()), includeDeleted)
	if err != nil {
		WriteError(w, err)
		return
	}
	if servers == nil {
		servers = []gateway.VirtualServer{}
	}
	WriteJSON(w, http.StatusOK, serverListResponse{Servers: servers})
}

func (s *serverRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gateway.NewValidationError("body", "malformed JSON"))
		return
	}
	if req.Name == "" {
		WriteError(w, gateway.NewValidationError("name", "must not be empty"))
		return
	}
	if err := s.validateSourceRefs(r.Context(), Owner(r.Context()), req.SourceIDs); err != nil {
		WriteError(w, err)
		return
	}

	server := &gateway.VirtualServer{
		OwnerID:   Owner(r.Context()),
		Name:      req.Name,
		SourceIDs: req.SourceIDs,
	}
	if err := s.store.Create(r.Context(), server, s.pool); err != nil {
		if errors.Is(err, gateway.ErrPoolExhausted) {
			telemetry.PoolExhaustedTotal.Inc()
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, server)
}

func (s *serverRoutes) get(w http.ResponseWriter, r *http.Request) {
	server, err := s.store.Get(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, server)
}

// update changes name and source references only; the endpoint is not part
// of the request shape at all.
func (s *serverRoutes) update(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gateway.NewValidationError("body", "malformed JSON"))
		return
	}

	server, err := s.store.Get(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.Name != "" {
		server.Name = req.Name
	}
	if req.SourceIDs != nil {
		if err := s.validateSourceRefs(r.Context(), Owner(r.Context()), req.SourceIDs); err != nil {
			WriteError(w, err)
			return
		}
		server.SourceIDs = req.SourceIDs
	}
	if err := s.store.Update(r.Context(), server); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, server)
}

func (s *serverRoutes) softDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SoftDelete(r.Context(), Owner(r.Context()), chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serverRoutes) hardDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HardDelete(r.Context(), Owner(r.Context()), chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serverRoutes) restore(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Restore(r.Context(), Owner(r.Context()), chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	server, err := s.store.Get(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, server)
}
