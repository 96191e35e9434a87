package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
	"github.com/jesterbot/gateway/pkg/storage"
)

// SourceRouter sets up the source CRUD routes.
func SourceRouter(store storage.SourceStore) http.Handler {
	routes := &sourceRoutes{store: store}
	r := chi.NewRouter()
	r.Use(RequireOwner)
	r.Get("/", routes.list)
	r.Post("/", routes.create)
	r.Get("/{id}", routes.get)
	r.Put("/{id}", routes.update)
	r.Delete("/{id}", routes.delete)
	return r
}

type sourceRoutes struct {
	store storage.SourceStore
}

type sourceRequest struct {
	Type     gateway.SourceType `json:"type"`
	Metadata map[string]string  `json:"metadata"`
}

type sourceListResponse struct {
	Sources []gateway.Source `json:"sources"`
}

func (s *sourceRoutes) list(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.List(r.Context(), Owner(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	if sources == nil {
		sources = []gateway.Source{}
	}
	WriteJSON(w, http.StatusOK, sourceListResponse{Sources: sources})
}

// create validates the metadata variant before anything is persisted:
// invalid metadata never reaches the store.
func (s *sourceRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gateway.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := registry.ValidateMetadata(req.Type, req.Metadata); err != nil {
		WriteError(w, err)
		return
	}

	source := &gateway.Source{
		OwnerID:  Owner(r.Context()),
		Type:     req.Type,
		Metadata: req.Metadata,
	}
	if err := s.store.Create(r.Context(), source); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, source)
}

func (s *sourceRoutes) get(w http.ResponseWriter, r *http.Request) {
	source, err := s.store.Get(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, source)
}

func (s *sourceRoutes) update(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gateway.NewValidationError("body", "malformed JSON"))
		return
	}

	source, err := s.store.Get(r.Context(), Owner(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	// The type is immutable; new metadata must fit the stored type.
	if err := registry.ValidateMetadata(source.Type, req.Metadata); err != nil {
		WriteError(w, err)
		return
	}

	source.Metadata = req.Metadata
	if err := s.store.Update(r.Context(), source); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, source)
}

func (s *sourceRoutes) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), Owner(r.Context()), chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
