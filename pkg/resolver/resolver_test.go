package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jesterbot/gateway/pkg/connector/mail"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/storage"
	"github.com/jesterbot/gateway/pkg/trace"
)

type fakeServerStore struct {
	storage.ServerStore
	byEndpoint map[string]*gateway.VirtualServer
}

func (f *fakeServerStore) GetByEndpoint(_ context.Context, endpoint string) (*gateway.VirtualServer, error) {
	server, ok := f.byEndpoint[endpoint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return server, nil
}

type fakeSourceStore struct {
	storage.SourceStore
	byID map[string]*gateway.Source
}

func (f *fakeSourceStore) Get(_ context.Context, ownerID, id string) (*gateway.Source, error) {
	source, ok := f.byID[id]
	if !ok || source.OwnerID != ownerID {
		return nil, storage.ErrNotFound
	}
	return source, nil
}

// captureLogStore records audit entries for assertions.
type captureLogStore struct {
	mu      sync.Mutex
	entries []gateway.AuditEntry
}

func (c *captureLogStore) Insert(_ context.Context, entry *gateway.AuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, *entry)
	return nil
}

func (c *captureLogStore) statuses() []gateway.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]gateway.Status, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Status
	}
	return out
}

func (*captureLogStore) QueryByCorrelation(context.Context, string) ([]gateway.AuditEntry, error) {
	return nil, nil
}

func (*captureLogStore) QueryByOwner(context.Context, string, storage.LogFilter) ([]gateway.AuditEntry, error) {
	return nil, nil
}

func (*captureLogStore) Stats(context.Context, time.Duration) ([]storage.OperationStat, error) {
	return nil, nil
}

func (*captureLogStore) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func (*captureLogStore) Close() error { return nil }

func outlookSource(id, owner string) *gateway.Source {
	return &gateway.Source{
		ID:      id,
		OwnerID: owner,
		Type:    gateway.SourceTypeOutlook,
		Metadata: map[string]string{
			"tenant_id":           "t-1",
			"graph_client_id":     "cid",
			"graph_client_secret": "secret",
			"graph_user_id":       "u@example.com",
		},
	}
}

func TestLoadUnknownDomain(t *testing.T) {
	logs := &captureLogStore{}
	auditor := trace.NewAuditor(logs, 16, nil)
	defer auditor.Close()

	r := New(&fakeServerStore{byEndpoint: map[string]*gateway.VirtualServer{}},
		&fakeSourceStore{}, auditor)

	_, err := r.Load(context.Background(), "nobody.gw.example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUnknownDomain)
}

func TestLoadBuildsHandlerSetInSourceOrder(t *testing.T) {
	logs := &captureLogStore{}
	auditor := trace.NewAuditor(logs, 16, nil)

	servers := &fakeServerStore{byEndpoint: map[string]*gateway.VirtualServer{
		"a.gw.example.com": {
			ID: "srv-1", OwnerID: "owner-1", Endpoint: "a.gw.example.com",
			SourceIDs: []string{"src-1", "src-2"},
		},
	}}
	sources := &fakeSourceStore{byID: map[string]*gateway.Source{
		"src-1": outlookSource("src-1", "owner-1"),
		"src-2": outlookSource("src-2", "owner-1"),
	}}

	set, err := New(servers, sources, auditor).Load(context.Background(), "a.gw.example.com")
	require.NoError(t, err)

	require.Len(t, set.Handlers, 2)
	assert.Equal(t, "src-1", set.Handlers[0].SourceID())
	assert.Equal(t, "src-2", set.Handlers[1].SourceID())
	assert.Equal(t, "outlook", set.Handlers[0].IDPrefix())

	auditor.Close()
	assert.Equal(t, []gateway.Status{
		gateway.StatusStart,
		gateway.StatusInProgress,
		gateway.StatusSuccess,
	}, logs.statuses())
}

func TestLoadSkipsBrokenSourcesWithWarning(t *testing.T) {
	logs := &captureLogStore{}
	auditor := trace.NewAuditor(logs, 16, nil)

	invalid := outlookSource("src-bad", "owner-1")
	delete(invalid.Metadata, "graph_client_secret")

	servers := &fakeServerStore{byEndpoint: map[string]*gateway.VirtualServer{
		"a.gw.example.com": {
			ID: "srv-1", OwnerID: "owner-1", Endpoint: "a.gw.example.com",
			SourceIDs: []string{"src-dangling", "src-bad", "src-ok"},
		},
	}}
	sources := &fakeSourceStore{byID: map[string]*gateway.Source{
		"src-bad": invalid,
		"src-ok":  outlookSource("src-ok", "owner-1"),
	}}

	set, err := New(servers, sources, auditor).Load(context.Background(), "a.gw.example.com")
	require.NoError(t, err)
	require.Len(t, set.Handlers, 1)
	assert.Equal(t, "src-ok", set.Handlers[0].SourceID())

	auditor.Close()
	statuses := logs.statuses()
	warnings := 0
	for _, s := range statuses {
		if s == gateway.StatusWarning {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
	assert.Equal(t, gateway.StatusSuccess, statuses[len(statuses)-1])
}
