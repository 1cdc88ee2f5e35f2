// Package relay fans every message received from one connection out to all
// registered connections.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/jonboulle/clockwork"
)

const eventSource = "relay"

// Relay is the broadcast relay
type Relay struct {
	registry      *Registry
	includeSender bool
	bus           eventbus.Publisher
	logger        *logging.Logger
	clock         clockwork.Clock

	// mu orders inflight.Add against Stop
	mu       sync.RWMutex
	stopped  bool
	inflight sync.WaitGroup

	messagesReceived  atomic.Int64
	deliveries        atomic.Int64
	droppedRecipients atomic.Int64
	startedAt         time.Time
}

// Option configures a Relay
type Option func(*Relay)

// WithIncludeSender controls whether a sender receives its own messages
func WithIncludeSender(include bool) Option {
	return func(r *Relay) {
		r.includeSender = include
	}
}

// WithPublisher sets the event publisher
func WithPublisher(bus eventbus.Publisher) Option {
	return func(r *Relay) {
		r.bus = bus
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithClock sets the clock used for uptime
func WithClock(clock clockwork.Clock) Option {
	return func(r *Relay) {
		r.clock = clock
	}
}

// New creates a relay over registry
func New(registry *Registry, opts ...Option) *Relay {
	r := &Relay{
		registry:      registry,
		includeSender: true,
		bus:           eventbus.Nop{},
		logger:        logging.Discard(),
		clock:         clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.startedAt = r.clock.Now()
	return r
}

// Register adds a newly opened client
func (r *Relay) Register(client domain.Client) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return domain.ErrRelayStopped
	}

	if err := r.registry.Register(client); err != nil {
		return err
	}

	r.logger.Info("client connected", "client_id", client.ID(), "clients", r.registry.Count())
	r.bus.PublishAsync(eventbus.NewEvent(eventbus.EventConnectionOpened, eventSource, nil).
		WithMetadata("client_id", client.ID()))

	return nil
}

// Deregister removes and closes a client. Unknown ids are ignored.
func (r *Relay) Deregister(clientID string) {
	client, ok := r.registry.Deregister(clientID)
	if !ok {
		return
	}

	if err := client.Close(); err != nil {
		r.logger.Debug("close client", "client_id", clientID, "error", err)
	}

	r.logger.Info("client disconnected", "client_id", clientID, "clients", r.registry.Count())
	r.bus.PublishAsync(eventbus.NewEvent(eventbus.EventConnectionClosed, eventSource, nil).
		WithMetadata("client_id", clientID))
}

// OnMessage delivers payload to every client in the current snapshot. A
// recipient that cannot accept the message is deregistered and closed; the
// rest still receive it.
func (r *Relay) OnMessage(ctx context.Context, from domain.Client, payload []byte) error {
	r.mu.RLock()
	if r.stopped {
		r.mu.RUnlock()
		return domain.ErrRelayStopped
	}
	r.inflight.Add(1)
	r.mu.RUnlock()
	defer r.inflight.Done()

	r.messagesReceived.Add(1)

	senderID := ""
	if from != nil {
		senderID = from.ID()
	}

	recipients := r.registry.Snapshot()
	data := eventbus.BroadcastData{SenderID: senderID, Bytes: len(payload)}

	for _, client := range recipients {
		if !r.includeSender && client.ID() == senderID {
			continue
		}
		data.Recipients++

		if err := client.Send(ctx, payload); err != nil {
			data.Dropped++
			r.drop(client, err)
			continue
		}
		data.Delivered++
	}

	r.deliveries.Add(int64(data.Delivered))
	r.logger.Debug("message relayed",
		"sender_id", senderID,
		"recipients", data.Recipients,
		"dropped", data.Dropped,
	)
	r.bus.PublishAsync(eventbus.NewEvent(eventbus.EventRelayBroadcast, eventSource, data))

	return nil
}

func (r *Relay) drop(client domain.Client, cause error) {
	r.droppedRecipients.Add(1)
	r.logger.Warn("dropping recipient", "client_id", client.ID(), "error", cause)
	r.bus.PublishAsync(eventbus.NewEvent(eventbus.EventRecipientDropped, eventSource, nil).
		WithMetadata("client_id", client.ID()).
		WithMetadata("reason", cause.Error()))

	r.Deregister(client.ID())
}

// Stop refuses new broadcasts, waits for in-flight ones bounded by ctx, and
// then closes every connection. It returns ctx's error if the wait was cut
// short; connections are closed either way.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		r.logger.Warn("relay stop timed out waiting for broadcasts", "error", err)
	}

	for _, client := range r.registry.Snapshot() {
		r.Deregister(client.ID())
	}

	r.logger.Info("relay stopped")
	return err
}

// Stats returns relay statistics
func (r *Relay) Stats() domain.RelayStats {
	return domain.RelayStats{
		ConnectedClients:  r.registry.Count(),
		MessagesReceived:  r.messagesReceived.Load(),
		Deliveries:        r.deliveries.Load(),
		DroppedRecipients: r.droppedRecipients.Load(),
		Uptime:            r.clock.Since(r.startedAt).Seconds(),
	}
}
