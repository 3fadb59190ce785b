package api

import (
	"context"
	"net/http"
	"time"

	"github.com/valdo404/clickplanet-go/internal/click"
	"github.com/valdo404/clickplanet-go/internal/hub"
	"github.com/valdo404/clickplanet-go/internal/query"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// The full dump walks the whole tile domain; point-operation deadlines
	// would cut it off on a cold store.
	fullDumpTimeout = 60 * time.Second
)

// ServerConfig wires the transport to the domain components.
type ServerConfig struct {
	Addr           string
	Coordinator    *click.Coordinator
	Query          *query.Engine
	Hub            *hub.Hub
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Server wraps the HTTP server and mux for the clickplanetd API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(cfg ServerConfig) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HandleHealthz())
	mux.Handle("POST /api/click", HandleClick(cfg.Coordinator, timeout))
	mux.Handle("POST /api/ownerships-by-batch", HandleOwnershipsByBatch(cfg.Query, timeout))
	mux.Handle("GET /api/ownerships", HandleOwnerships(cfg.Query, fullDumpTimeout))
	mux.Handle("GET /v2/rpc/leaderboard", HandleLeaderboard(cfg.Query, timeout))
	mux.Handle("GET /ws/listen", HandleListen(cfg.Hub))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: RequestBodyLimitMiddleware(cfg.MaxBodyBytes, mux),
	}
	return &Server{httpServer: srv, mux: mux}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the full handler chain for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
