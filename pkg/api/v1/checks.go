package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jesterbot/gateway/pkg/connector"
)

// ChecksRouter sets up the health route. It requires no owner identity:
// ops tooling polls it unauthenticated.
func ChecksRouter(started time.Time) http.Handler {
	routes := &checkRoutes{started: started}
	r := chi.NewRouter()
	r.Get("/", routes.getChecks)
	return r
}

type checkRoutes struct {
	started time.Time
}

type checksResponse struct {
	Status         string   `json:"status"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	ConnectorTypes int      `json:"connector_types"`
	Types          []string `json:"types"`
}

func (c *checkRoutes) getChecks(w http.ResponseWriter, _ *http.Request) {
	types := connector.RegisteredTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	WriteJSON(w, http.StatusOK, checksResponse{
		Status:         "ok",
		UptimeSeconds:  time.Since(c.started).Seconds(),
		ConnectorTypes: len(types),
		Types:          names,
	})
}
