package eventbus

import (
	"time"

	"github.com/rs/xid"
)

// EventType represents the type of event
type EventType string

// Event types
const (
	EventConnectionOpened EventType = "connection.opened"
	EventConnectionClosed EventType = "connection.closed"
	EventRelayBroadcast   EventType = "relay.broadcast"
	EventRecipientDropped EventType = "relay.recipient_dropped"
	EventUpstreamRetry    EventType = "upstream.retry"
	EventUpstreamFailed   EventType = "upstream.failed"
	EventHTTPError        EventType = "http.error"
)

// Event represents a system event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      any               `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// BroadcastData describes one finished broadcast
type BroadcastData struct {
	SenderID   string
	Recipients int
	Delivered  int
	Dropped    int
	Bytes      int
}

// RetryData describes one scheduled upstream retry
type RetryData struct {
	Attempt int
	Status  int
	Delay   time.Duration
}

// FailureData describes a chat request that gave up
type FailureData struct {
	Kind string
	Err  error
}

// NewEvent creates a new event
func NewEvent(eventType EventType, source string, data any) *Event {
	return &Event{
		ID:        xid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
