package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"backlogagent/internal/domain"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// ErrNilAgent is returned when NewServer is given no agent.
var ErrNilAgent = errors.New("gateway: agent must not be nil")

// Agent answers one end-user prompt. brain.Brain implements it.
type Agent interface {
	Handle(ctx context.Context, prompt string) (string, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestTimeout bounds how long one chat request may run. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// Server exposes the agent over HTTP and WebSocket. /healthz is always
// public; every other route requires the bearer token when one is configured.
type Server struct {
	cfg            *domain.GatewayConfig
	agent          Agent
	logger         *slog.Logger
	requestTimeout time.Duration
	http           *http.Server

	mu        sync.Mutex
	addr      string
	listenErr error
}

// NewServer builds a gateway server from config. Port 0 means pick a random port.
func NewServer(cfg *domain.GatewayConfig, agent Agent, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if agent == nil {
		return nil, ErrNilAgent
	}
	s := &Server{cfg: cfg, agent: agent, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/agent/chat", s.handleChat)
	api.HandleFunc("/ws", s.handleWS)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", Healthz)
	mux.Handle("/", BearerAuth(s.cfg.AuthToken)(api))
	return mux
}

// Healthz answers liveness probes.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("OK"))
}

// Addr returns the bound address once Run is listening, else "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run, if any.
func (s *Server) ListenErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenErr
}

// Handler returns the routed handler without binding a port.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Test seams.
var (
	netListen      = net.Listen
	serverShutdown = (*http.Server).Shutdown
)

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netListen("tcp", net.JoinHostPort("", strconv.Itoa(s.cfg.Port)))
	s.mu.Lock()
	s.listenErr = err
	if err == nil {
		s.addr = ln.Addr().String()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	return Serve(ctx, s.http, ln)
}

// Serve runs srv on ln until ctx is done, then shuts it down gracefully,
// giving in-flight requests five seconds. A clean shutdown returns nil.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	select {
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := serverShutdown(srv, shutdownCtx); err != nil {
		return err
	}
	<-done
	return nil
}
