package domain

import (
	"context"
)

// Client represents one live real-time connection
type Client interface {
	// ID returns the unique identifier of the client
	ID() string

	// Send queues a message for delivery to the client
	Send(ctx context.Context, message []byte) error

	// Receive sets up a message handler for incoming messages
	Receive(handler MessageHandler) error

	// Close closes the client connection. It is safe to call more than once.
	Close() error

	// Context returns the client's context, done once the client is closed
	Context() context.Context
}

// MessageHandler is a function that handles incoming messages
type MessageHandler func(message []byte) error
