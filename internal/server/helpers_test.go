package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/HMasataka/partyline/internal/config"
	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/internal/metrics"
	"github.com/HMasataka/partyline/internal/party"
	"github.com/HMasataka/partyline/pkg/relay"
	"github.com/HMasataka/partyline/pkg/transport/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, message string) (string, error)

func (f completerFunc) Complete(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

type recordingBus struct {
	mu     sync.Mutex
	events []*eventbus.Event
}

func (b *recordingBus) Publish(e *eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishAsync(e *eventbus.Event) { b.Publish(e) }

func (b *recordingBus) ofType(t eventbus.EventType) []*eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*eventbus.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	server  *Server
	relay   *relay.Relay
	store   party.Store
	bus     *recordingBus
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, chat Completer) *testEnv {
	t.Helper()

	if chat == nil {
		chat = completerFunc(func(context.Context, string) (string, error) { return "ok", nil })
	}

	bus := &recordingBus{}
	r := relay.New(relay.NewRegistry(), relay.WithPublisher(bus))
	store := party.NewMemoryStore(clockwork.NewFakeClock())
	m := metrics.New(prometheus.NewRegistry())

	cfg := config.Default().Server
	cfg.Port = 0

	s := New(cfg, Dependencies{
		Relay:   r,
		Chat:    chat,
		Store:   store,
		Metrics: m,
		Bus:     bus,
		Logger:  logging.Discard(),
		Client:  websocket.DefaultClientOptions(),
	})
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	return &testEnv{server: s, relay: r, store: store, bus: bus, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func jsonBody(t *testing.T, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
