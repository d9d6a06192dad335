package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/katanapod/COC-FS20/internal/bridges/fs20"
	"github.com/katanapod/COC-FS20/internal/device"
	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
	"github.com/katanapod/COC-FS20/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the subset of *fs20.Gateway the API reads from.
type Gateway interface {
	Stats() fs20.Stats
	Registry() *fs20.Registry
	RegisterDevices(devices map[string]string) []fs20.DeviceInfo
	OnRead(fn func(fs20.Event))
	OnConnected(fn func())
}

// CommandExecutor runs a command through the bridge. *fs20.Bridge
// implements it.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd fs20.CommandMessage) (fs20.AckMessage, error)
}

// DeviceStore persists devices and serves event history.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, d *device.Device) error
	GetDevice(ctx context.Context, name string) (*device.Device, error)
	DeleteDevice(ctx context.Context, name string) error
	ListEvents(ctx context.Context, filter device.EventFilter) ([]device.Event, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  Gateway
	Commands CommandExecutor
	Devices  DeviceStore // optional; history endpoints return 503 without it
	Version  string
}

// Server is the HTTP API server for the gateway.
type Server struct {
	cfg      config.APIConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	gateway  Gateway
	commands CommandExecutor
	devices  DeviceStore
	version  string
	hub      *Hub

	handlerOnce sync.Once
	handler     http.Handler

	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new API server. Gateway events are relayed to WebSocket
// clients from this point on; the listener does not start until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command executor is required")
	}

	s := &Server{
		cfg:      deps.Config,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		gateway:  deps.Gateway,
		commands: deps.Commands,
		devices:  deps.Devices,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}

	s.gateway.OnRead(func(ev fs20.Event) {
		s.hub.Broadcast(ChannelEvent, ev)
	})
	s.gateway.OnConnected(func() {
		s.hub.Broadcast(ChannelConnected, newHealthResponse(s.gateway.Stats(), s.version))
	})

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.handler = s.buildRouter()
	})
	return s.handler
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.done = make(chan struct{})

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	<-s.done
	s.logger.Info("API server stopped")
	return nil
}

// HealthCheck reports whether the listener is running.
func (s *Server) HealthCheck(_ context.Context) error {
	if s.server == nil {
		return fmt.Errorf("API server not started")
	}
	select {
	case <-s.done:
		return fmt.Errorf("API server stopped")
	default:
		return nil
	}
}
