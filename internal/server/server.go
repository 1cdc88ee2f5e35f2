package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/HMasataka/partyline/internal/config"
	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/internal/metrics"
	"github.com/HMasataka/partyline/internal/party"
	"github.com/HMasataka/partyline/pkg/relay"
	"github.com/HMasataka/partyline/pkg/transport/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators the HTTP surface is built on
type Dependencies struct {
	Relay   *relay.Relay
	Chat    Completer
	Store   party.Store
	Metrics *metrics.Metrics
	Bus     eventbus.Publisher
	Logger  *logging.Logger
	Client  websocket.ClientOptions
}

// Server is the HTTP server
type Server struct {
	cfg        config.ServerConfig
	router     chi.Router
	httpServer *http.Server
	relay      *relay.Relay
	logger     *logging.Logger
}

// New builds the router and HTTP server
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}

	s := &Server{
		cfg:    cfg,
		relay:  deps.Relay,
		logger: deps.Logger,
	}

	s.router = s.routes(deps)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

func (s *Server) routes(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	errs := newErrorWriter(deps.Logger, deps.Bus)

	r.Handle("/ws", websocket.NewServer(
		websocket.WithRelay(deps.Relay),
		websocket.WithLogger(deps.Logger),
		websocket.WithClientOptions(deps.Client),
		websocket.WithCheckOrigin(s.checkOrigin),
	))

	r.Method(http.MethodPost, "/api/chat", NewChatHandler(deps.Chat, deps.Bus, errs))

	parties := NewPartyHandler(deps.Store, errs)
	r.Route("/parties", func(r chi.Router) {
		r.Get("/", parties.List)
		r.Post("/", parties.Create)
		r.Get("/user", parties.ListByEmail)
		r.Put("/{id}", parties.Update)
		r.Delete("/{id}", parties.Delete)
	})

	r.Get("/healthz", NewHealthHandler(deps.Relay, deps.Store).ServeHTTP)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	return r
}

// checkOrigin applies the CORS origin list to WebSocket upgrades
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops accepting requests, drains in-flight ones, then stops the
// relay so pending broadcasts finish before connections close.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down http server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.relay != nil {
		if err := s.relay.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
