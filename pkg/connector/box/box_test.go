package box

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

// testServer fakes the token endpoint plus whatever API routes the test
// registers on mux. All requests past the token exchange must carry the
// issued bearer token.
func testServer(t *testing.T, mux *http.ServeMux) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var tokenCalls atomic.Int32
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "user", r.PostForm.Get("box_subject_type"))
		assert.Equal(t, "44498", r.PostForm.Get("box_subject_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
	return httptest.NewServer(mux), &tokenCalls
}

func testHandler(srv *httptest.Server) *Handler {
	h := New(registry.Config{
		SourceID: "src-3",
		Type:     gateway.SourceTypeBox,
		Fields: map[string]string{
			"box_client_id":     "cid",
			"box_client_secret": "csecret",
			"box_subject_type":  "user",
			"box_subject_id":    "44498",
		},
	}, srv.Client())
	h.apiBaseURL = srv.URL
	h.authBaseURL = srv.URL
	return h
}

func TestSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2.0/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "release notes", r.URL.Query().Get("query"))
		assert.Equal(t, "file", r.URL.Query().Get("type"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"id": "1957", "name": "Release_Notes.pdf", "description": "Q2 release notes"},
				{"id": "1958", "name": "Summary.pdf", "description": ""},
			},
		})
	})
	srv, _ := testServer(t, mux)
	defer srv.Close()

	results, err := testHandler(srv).Search(context.Background(), "release notes", 5)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "box::1957", results[0].ID)
	assert.Equal(t, "Release_Notes.pdf", results[0].Title)
	assert.Equal(t, "Q2 release notes", results[0].Text)
	assert.Equal(t, "https://app.box.com/file/1957", results[0].URL)
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2.0/search", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"entries":[]}`))
	})
	srv, tokenCalls := testServer(t, mux)
	defer srv.Close()

	h := testHandler(srv)
	for range 3 {
		_, err := h.Search(context.Background(), "q", 10)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestFetchDownloadsExtractedText(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("GET /2.0/files/1957", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "[extracted_text]", r.Header.Get("x-rep-hints"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "1957",
			"name":        "Release_Notes.pdf",
			"size":        143873,
			"modified_at": "2025-06-10T08:00:00Z",
			"representations": map[string]any{
				"entries": []map[string]any{
					{
						"representation": "extracted_text",
						"status":         map[string]any{"state": "success"},
						"content": map[string]any{
							"url_template": srvURL + "/text/1957/{+asset_path}",
						},
					},
				},
			},
		})
	})
	mux.HandleFunc("GET /text/1957/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("Persistent storage ships this quarter."))
	})
	srv, _ := testServer(t, mux)
	defer srv.Close()
	srvURL = srv.URL

	rec, err := testHandler(srv).Fetch(context.Background(), "1957")
	require.NoError(t, err)

	assert.Equal(t, "box::1957", rec.ID)
	assert.Equal(t, "Release_Notes.pdf", rec.Title)
	assert.Equal(t, "Persistent storage ships this quarter.", rec.Text)
	assert.Equal(t, "143873", rec.Metadata["size"])
	assert.Equal(t, "success", rec.Metadata["extraction_state"])
}

func TestFetchFallsBackWhenExtractionPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2.0/files/2001", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "2001",
			"name":        "Draft.pdf",
			"description": "early draft",
			"representations": map[string]any{
				"entries": []map[string]any{
					{
						"representation": "extracted_text",
						"status":         map[string]any{"state": "pending"},
					},
				},
			},
		})
	})
	srv, _ := testServer(t, mux)
	defer srv.Close()

	rec, err := testHandler(srv).Fetch(context.Background(), "2001")
	require.NoError(t, err)
	assert.Equal(t, "early draft", rec.Text)
	assert.Equal(t, "pending", rec.Metadata["extraction_state"])
}

func TestFetchMissingFile(t *testing.T) {
	mux := http.NewServeMux()
	srv, _ := testServer(t, mux)
	defer srv.Close()

	_, err := testHandler(srv).Fetch(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestSearchSurfacesTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := testHandler(srv)
	_, err := h.Search(context.Background(), "q", 10)
	require.Error(t, err)

	var herr *gateway.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, gateway.FailureAuth, herr.Class)
}
