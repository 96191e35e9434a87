package warehouse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

func testHandler(t *testing.T, srv *httptest.Server) *Handler {
	t.Helper()
	return New(registry.Config{
		SourceID: "src-2",
		Type:     gateway.SourceTypeSnowflake,
		Fields: map[string]string{
			"snowflake_account_url":           srv.URL,
			"snowflake_pat":                   "pat-token",
			"snowflake_semantic_model_file":   "@db.schema.stage/model.yaml",
			"snowflake_cortex_search_service": "db.schema.search_svc",
		},
	}, srv.Client())
}

const citedStream = `data: {"delta":{"content":[{"type":"text","text":"Revenue grew "}]}}

data: {"delta":{"content":[{"type":"text","text":"12% last quarter."}]}}

data: {"delta":{"content":[{"type":"tool_results","tool_results":{"content":[{"type":"json","json":{"sql":"SELECT sum(revenue) FROM sales","searchResults":[{"doc_id":"doc-1","source_id":"s1"},{"doc_id":"doc-2","source_id":"s2"}]}}]}}]}}

data: [DONE]
`

const plainStream = `data: {"delta":{"content":[{"type":"text","text":"There were 41 open tickets."}]}}

data: [DONE]
`

func TestSearchEmitsCitedDocuments(t *testing.T) {
	var gotAuth, gotTokenType, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTokenType = r.Header.Get("X-Snowflake-Authorization-Token-Type")
		body, _ := io.ReadAll(r.Body)
		gotQuery = gjson.GetBytes(body, "messages.0.content.0.text").String()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(citedStream))
	}))
	defer srv.Close()

	h := testHandler(t, srv)
	results, err := h.Search(context.Background(), "revenue trend", 10)
	require.NoError(t, err)

	assert.Equal(t, "Bearer pat-token", gotAuth)
	assert.Equal(t, "PROGRAMMATIC_ACCESS_TOKEN", gotTokenType)
	assert.Equal(t, "revenue trend", gotQuery)

	require.Len(t, results, 2)
	assert.Equal(t, "snowflake::doc-1", results[0].ID)
	assert.Equal(t, "snowflake::doc-2", results[1].ID)
	assert.Equal(t, "Revenue grew 12% last quarter.", results[0].Text)
}

func TestSearchFallsBackToAnswerText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(plainStream))
	}))
	defer srv.Close()

	h := testHandler(t, srv)
	results, err := h.Search(context.Background(), "open tickets", 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "snowflake::open tickets", results[0].ID)
	assert.Equal(t, "There were 41 open tickets.", results[0].Text)
}

func TestSearchHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(citedStream))
	}))
	defer srv.Close()

	h := testHandler(t, srv)
	results, err := h.Search(context.Background(), "revenue trend", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFetchKeepsGeneratedSQL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(citedStream))
	}))
	defer srv.Close()

	h := testHandler(t, srv)
	rec, err := h.Fetch(context.Background(), "revenue trend")
	require.NoError(t, err)

	assert.Equal(t, "snowflake::revenue trend", rec.ID)
	assert.Equal(t, "Revenue grew 12% last quarter.", rec.Text)
	assert.Equal(t, "SELECT sum(revenue) FROM sales", rec.Metadata["sql"])
}

func TestFetchEmptyAnswerIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	h := testHandler(t, srv)
	_, err := h.Fetch(context.Background(), "nothing")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestParseEventStreamSkipsNoise(t *testing.T) {
	stream := `: keepalive

data: not-json

data: [{"delta":{"content":[{"type":"text","text":"batched "}]}},{"delta":{"content":[{"type":"text","text":"events"}]}}]

data: {"delta":{"sql":"SELECT 1"}}
`
	answer := parseEventStream([]byte(stream))
	assert.Equal(t, "batched events", answer.text)
	assert.Equal(t, "SELECT 1", answer.sql)
	assert.Empty(t, answer.citations)
}
