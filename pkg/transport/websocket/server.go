package websocket

import (
	"context"
	"net/http"

	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Relay           domain.Relay
	Logger          *logging.Logger
	Client          ClientOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithRelay sets the relay every connection joins
func WithRelay(relay domain.Relay) ServerOption {
	return func(o *ServerOptions) {
		o.Relay = relay
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithClientOptions sets the per-connection options
func WithClientOptions(client ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Client = client
	}
}

// Server upgrades HTTP requests and joins each connection to the relay
type Server struct {
	upgrader websocket.Upgrader
	relay    domain.Relay
	logger   *logging.Logger
	options  ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Logger: logging.Discard(),
		Client: DefaultClientOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		relay:   options.Relay,
		logger:  options.Logger,
		options: options,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	clientID := xid.New().String()
	client := NewClient(clientID, conn, s.logger, s.options.Client)

	// broadcasts outlive the sender's connection
	broadcastCtx := context.WithoutCancel(client.Context())
	_ = client.Receive(func(message []byte) error {
		return s.relay.OnMessage(broadcastCtx, client, message)
	})

	if err := s.relay.Register(client); err != nil {
		s.logger.Warn("failed to register client",
			"error", err,
			"client_id", clientID,
		)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = client.Close()
		_ = conn.Close()
		return
	}

	client.Start()

	s.logger.Debug("client attached",
		"client_id", clientID,
		"remote_addr", r.RemoteAddr,
	)

	<-client.Context().Done()

	s.relay.Deregister(clientID)
	client.Wait()
}
