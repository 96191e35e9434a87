package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/storage"
)

// defaultStatsWindow is the trailing window for the stats report when the
// caller does not narrow it.
const defaultStatsWindow = 24 * time.Hour

// LogsRouter sets up the audit log query routes.
func LogsRouter(store storage.LogStore) http.Handler {
	routes := &logRoutes{store: store}
	r := chi.NewRouter()
	r.Use(RequireOwner)
	r.Get("/", routes.query)
	r.Get("/correlation/{id}", routes.byCorrelation)
	r.Get("/stats", routes.stats)
	r.Delete("/", routes.prune)
	return r
}

type logRoutes struct {
	store storage.LogStore
}

type logListResponse struct {
	Entries []gateway.AuditEntry `json:"entries"`
}

type statsResponse struct {
	WindowSeconds float64                 `json:"window_seconds"`
	Stats         []storage.OperationStat `json:"stats"`
}

type pruneResponse struct {
	Pruned int64 `json:"pruned"`
}

func (l *logRoutes) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.LogFilter{
		Operation: gateway.Operation(q.Get("operation")),
		Status:    gateway.Status(q.Get("status")),
		Level:     gateway.Level(q.Get("level")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			WriteError(w, gateway.NewValidationError("limit", "must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := l.store.QueryByOwner(r.Context(), Owner(r.Context()), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []gateway.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, logListResponse{Entries: entries})
}

func (l *logRoutes) byCorrelation(w http.ResponseWriter, r *http.Request) {
	entries, err := l.store.QueryByCorrelation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []gateway.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, logListResponse{Entries: entries})
}

func (l *logRoutes) stats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			WriteError(w, gateway.NewValidationError("window", "must be a positive duration"))
			return
		}
		window = parsed
	}

	stats, err := l.store.Stats(r.Context(), window)
	if err != nil {
		WriteError(w, err)
		return
	}
	if stats == nil {
		stats = []storage.OperationStat{}
	}
	WriteJSON(w, http.StatusOK, statsResponse{
		WindowSeconds: window.Seconds(),
		Stats:         stats,
	})
}

func (l *logRoutes) prune(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		WriteError(w, gateway.NewValidationError("before", "must be an RFC3339 timestamp"))
		return
	}
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		WriteError(w, gateway.NewValidationError("before", "must be an RFC3339 timestamp"))
		return
	}

	pruned, err := l.store.DeleteOlderThan(r.Context(), cutoff)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pruneResponse{Pruned: pruned})
}
