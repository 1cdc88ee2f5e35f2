package domain

import "context"

// Relay fans out messages from one client to every registered client
type Relay interface {
	// Register adds a newly opened client
	Register(client Client) error

	// Deregister removes a client; unknown ids are ignored
	Deregister(clientID string)

	// OnMessage broadcasts payload on behalf of from
	OnMessage(ctx context.Context, from Client, payload []byte) error
}

// RelayStats provides statistics about the relay
type RelayStats struct {
	ConnectedClients  int     `json:"connected_clients"`
	MessagesReceived  int64   `json:"messages_received"`
	Deliveries        int64   `json:"deliveries"`
	DroppedRecipients int64   `json:"dropped_recipients"`
	Uptime            float64 `json:"uptime_seconds"`
}
