package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/storage/sqlite"
)

func sourceTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return SourceRouter(sqlite.NewSourceStore(db))
}

func TestCreateSourceValidatesBeforePersisting(t *testing.T) {
	router := sourceTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/", "owner-1",
		`{"type":"outlook","metadata":{"tenant_id":"t-1"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "graph_client_id")

	// Nothing was persisted for the failed create.
	rec = doJSON(t, router, http.MethodGet, "/", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed sourceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Sources)
}

func TestSourceCRUDRoundtrip(t *testing.T) {
	router := sourceTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/", "owner-1", `{
		"type": "box",
		"metadata": {
			"box_client_id": "cid",
			"box_client_secret": "secret",
			"box_subject_type": "user",
			"box_subject_id": "44498"
		}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var source gateway.Source
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &source))
	assert.Equal(t, gateway.SourceTypeBox, source.Type)

	// An update keeps the stored type: metadata for another type fails.
	rec = doJSON(t, router, http.MethodPut, "/"+source.ID, "owner-1",
		`{"metadata":{"tenant_id":"t-1"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "box_client_id")

	rec = doJSON(t, router, http.MethodDelete, "/"+source.ID, "owner-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/"+source.ID, "owner-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSourceUnsupportedType(t *testing.T) {
	router := sourceTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/", "owner-1",
		`{"type":"sharepoint","metadata":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported source type")
}
