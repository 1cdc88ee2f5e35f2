package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HMasataka/partyline/internal/config"
	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Store.Driver = config.StoreDriverMemory
	cfg.Upstream.APIKey = "test"
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	a, err := New(context.Background(), testConfig(), logging.Discard(), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "partyline_relay_connected_clients")
}

func TestNew_UnknownStoreDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "mongo"

	_, err := New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestNewUpstreamClient_PublishesRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer srv.Close()

	bus := eventbus.NewInMemoryBus(8)
	var retries []eventbus.RetryData
	bus.Subscribe(eventbus.EventUpstreamRetry, func(e *eventbus.Event) {
		retries = append(retries, e.Data.(eventbus.RetryData))
	})

	cfg := testConfig().Upstream
	cfg.Endpoint = srv.URL
	fc := clockwork.NewFakeClock()
	client := NewUpstreamClient(cfg, logging.Discard(), bus, fc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		reply, _ := client.Complete(ctx, "ping")
		done <- reply
	}()

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(2 * time.Second)
	assert.Equal(t, "pong", <-done)

	// drain the async queue
	bus.Start(context.Background())
	bus.Stop()

	require.Len(t, retries, 1)
	assert.Equal(t, http.StatusTooManyRequests, retries[0].Status)
	assert.Equal(t, 2*time.Second, retries[0].Delay)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(), logging.Discard(), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestClientOptions(t *testing.T) {
	opts := ClientOptions(config.Default().Relay)

	assert.Equal(t, 256, opts.SendBufferSize)
	assert.Equal(t, 10*time.Second, opts.WriteTimeout)
	assert.Equal(t, int64(512*1024), opts.MaxMessageSize)
}
