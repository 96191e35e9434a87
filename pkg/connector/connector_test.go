package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

type stubConnector struct {
	prefix string
	source string
}

func (s *stubConnector) Search(context.Context, string, int) ([]gateway.Result, error) {
	return nil, nil
}
func (s *stubConnector) Fetch(context.Context, string) (*gateway.Record, error) { return nil, nil }
func (s *stubConnector) IDPrefix() string                                       { return s.prefix }
func (s *stubConnector) Name() string                                           { return "stub/" + s.source }
func (s *stubConnector) SourceID() string                                       { return s.source }

func TestRegisterAndNew(t *testing.T) {
	testType := gateway.SourceType("test-register")
	Register(testType, func(cfg registry.Config) (Connector, error) {
		return &stubConnector{prefix: "test", source: cfg.SourceID}, nil
	})

	c, err := New(registry.Config{SourceID: "src-9", Type: testType})
	require.NoError(t, err)
	assert.Equal(t, "test", c.IDPrefix())
	assert.Equal(t, "src-9", c.SourceID())
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(registry.Config{Type: gateway.SourceType("never-registered")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connector registered")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	dupType := gateway.SourceType("test-dup")
	factory := func(registry.Config) (Connector, error) { return &stubConnector{}, nil }
	Register(dupType, factory)
	assert.Panics(t, func() { Register(dupType, factory) })
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   gateway.FailureClass
	}{
		{http.StatusUnauthorized, gateway.FailureAuth},
		{http.StatusForbidden, gateway.FailureAuth},
		{http.StatusNotFound, gateway.FailureNotFound},
		{http.StatusTooManyRequests, gateway.FailureTransient},
		{http.StatusRequestTimeout, gateway.FailureTransient},
		{http.StatusInternalServerError, gateway.FailureTransient},
		{http.StatusBadGateway, gateway.FailureTransient},
		{http.StatusBadRequest, gateway.FailurePermanent},
		{http.StatusConflict, gateway.FailurePermanent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestDoJSONRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := DoJSON(context.Background(), srv.Client(), "test", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoJSONDoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := DoJSON(context.Background(), srv.Client(), "test", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.Error(t, err)

	var herr *gateway.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, gateway.FailureAuth, herr.Class)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSONMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := DoJSON(context.Background(), srv.Client(), "test", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}
