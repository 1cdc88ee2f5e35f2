// Package app wires configuration into a running partyline service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/HMasataka/partyline/internal/config"
	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/internal/metrics"
	"github.com/HMasataka/partyline/internal/party"
	"github.com/HMasataka/partyline/internal/server"
	"github.com/HMasataka/partyline/pkg/relay"
	"github.com/HMasataka/partyline/pkg/retry"
	"github.com/HMasataka/partyline/pkg/transport/websocket"
	"github.com/HMasataka/partyline/pkg/upstream"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const eventBufferSize = 1024

// App owns every long lived component
type App struct {
	Config *config.Config
	Logger *logging.Logger
	Bus    *eventbus.InMemoryBus
	Relay  *relay.Relay
	Store  party.Store
	Server *server.Server
}

// Option customises construction
type Option func(*options)

type options struct {
	clock    clockwork.Clock
	registry *prometheus.Registry
}

// WithClock sets the clock shared by backoff, relay uptime and the stores
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithRegistry sets the Prometheus registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// New builds the application from cfg
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	store, err := party.Open(ctx, cfg.Store, o.clock)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	bus := eventbus.NewInMemoryBus(eventBufferSize)
	m := metrics.New(o.registry)
	m.Subscribe(bus)

	r := relay.New(relay.NewRegistry(),
		relay.WithIncludeSender(cfg.Relay.IncludeSender),
		relay.WithPublisher(bus),
		relay.WithLogger(logger),
		relay.WithClock(o.clock),
	)

	chat := NewUpstreamClient(cfg.Upstream, logger, bus, o.clock)

	srv := server.New(cfg.Server, server.Dependencies{
		Relay:   r,
		Chat:    chat,
		Store:   store,
		Metrics: m,
		Bus:     bus,
		Logger:  logger,
		Client:  ClientOptions(cfg.Relay),
	})

	return &App{
		Config: cfg,
		Logger: logger,
		Bus:    bus,
		Relay:  r,
		Store:  store,
		Server: srv,
	}, nil
}

// NewUpstreamClient builds the chat client and reports each backoff wait on bus
func NewUpstreamClient(cfg config.UpstreamConfig, logger *logging.Logger, bus eventbus.Publisher, clock clockwork.Clock) *upstream.Client {
	return upstream.NewClient(cfg.APIKey,
		upstream.WithEndpoint(cfg.Endpoint),
		upstream.WithModel(cfg.Model),
		upstream.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		upstream.WithPolicy(retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}),
		upstream.WithClock(clock),
		upstream.WithLogger(logger),
		upstream.WithOnRetry(func(a retry.Attempt) {
			bus.PublishAsync(eventbus.NewEvent(eventbus.EventUpstreamRetry, "upstream", eventbus.RetryData{
				Attempt: a.Index,
				Status:  a.Status,
				Delay:   a.Delay,
			}))
		}),
	)
}

// ClientOptions maps relay settings onto per-connection options
func ClientOptions(cfg config.RelayConfig) websocket.ClientOptions {
	return websocket.ClientOptions{
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		PingInterval:   cfg.PingInterval,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBufferSize: cfg.SendBufferSize,
	}
}

// Run serves until ctx is done, then shuts everything down
func (a *App) Run(ctx context.Context) error {
	// the bus outlives ctx so shutdown events are still delivered
	a.Bus.Start(context.Background())
	defer a.Bus.Stop()

	a.Logger.Info("partyline starting",
		"addr", a.Config.Server.Addr(),
		"store", a.Config.Store.Driver,
		"include_sender", a.Config.Relay.IncludeSender,
	)

	err := a.Server.Run(ctx)

	if closeErr := a.Store.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close store: %w", closeErr))
	}

	a.Logger.Info("partyline stopped")
	return err
}
