// Package v1 implements the admin REST API handlers.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/logger"
	"github.com/jesterbot/gateway/pkg/storage"
)

// OwnerHeader carries the authenticated owner identity, supplied by the
// externalized auth layer in front of the admin API.
const OwnerHeader = "X-Owner-ID"

type ownerKey struct{}

// RequireOwner rejects requests without an owner identity and stores the
// identity in the request context for the handlers.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			http.Error(w, "missing "+OwnerHeader+" header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// Owner returns the authenticated owner identity from the context.
func Owner(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

type errorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

// WriteError maps a domain error to its HTTP status and writes it as JSON.
// Callers never see raw backend errors: everything arriving here is
// already classified.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *gateway.ValidationError

	switch {
	case errors.As(err, &verr), errors.Is(err, gateway.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnknownDomain),
		errors.Is(err, gateway.ErrUnknownPrefix),
		errors.Is(err, gateway.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gateway.ErrPoolExhausted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrAllHandlersFailed):
		status = http.StatusBadGateway
	case errors.Is(err, storage.ErrAlreadyExists):
		status = http.StatusConflict
	default:
		var herr *gateway.HandlerError
		if errors.As(err, &herr) {
			status = http.StatusBadGateway
		}
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("internal error: %v", err)
	}
	WriteJSON(w, status, errorResponse{Error: err.Error()})
}
