// Package chat implements the line-oriented chat relay: sessions speaking the
// /nick and /q protocol, the registry they broadcast through, and the server
// accepting them.
package chat

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/tcpserver"
	"github.com/cyberinferno/chatrelay/throttle"
)

// Relay links the room to other server instances: Publish sends local
// broadcasts out and Run feeds lines from other instances to deliver until
// ctx is cancelled.
type Relay interface {
	Publisher
	Run(ctx context.Context, deliver func(text string)) error
}

// Options configures a Server.
type Options struct {
	// Address is the host or IP to bind; "0.0.0.0" or "::" (or "") binds all interfaces.
	Address string
	Port    int

	Limits SessionLimits

	// FanoutParallelism, see RegistryOptions.
	FanoutParallelism int

	// ConnectionsPerHost caps new connections per remote host within
	// ThrottleWindow; 0 disables the cap.
	ConnectionsPerHost int
	ThrottleWindow     time.Duration

	// Relay is optional.
	Relay Relay

	Logger logger.Logger
}

// Server accepts chat connections and owns the registry of live sessions.
type Server struct {
	opts     Options
	logger   logger.Logger
	registry *Registry
	tcp      *tcpserver.TCPServer[*Session]
}

// NewServer builds a Server; nothing is bound until Listen or Serve.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
	}

	regOpts := RegistryOptions{
		FanoutParallelism: opts.FanoutParallelism,
		Logger:            opts.Logger,
	}
	if opts.Relay != nil {
		regOpts.Publisher = opts.Relay
	}
	s.registry = NewRegistry(regOpts)

	s.tcp = &tcpserver.TCPServer[*Session]{
		Logger:      opts.Logger,
		Name:        "chat",
		Sessions:    s.registry,
		IdGenerator: idgenerator.NewIdGenerator(0),
		NewSession: func(id uint32, conn net.Conn) *Session {
			return NewSession(id, conn, s.registry, opts.Limits, opts.Logger)
		},
	}

	if opts.ConnectionsPerHost > 0 {
		s.tcp.Gate = throttle.New(opts.ConnectionsPerHost, opts.ThrottleWindow)
	}

	return s
}

// Listen binds Address:Port and serves until Stop.
//
// Returns:
//   - A *BindError if the socket cannot be acquired, otherwise as Serve
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.opts.Address, strconv.Itoa(s.opts.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("chat server failed to bind", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "error", Value: err})
		return &BindError{Addr: addr, Err: err}
	}

	return s.Serve(ln)
}

// Serve accepts connections from ln until Stop. Every connection gets its
// own goroutine, so no client can block the accept loop. When a Relay is
// configured it runs for the lifetime of Serve.
//
// Returns:
//   - nil after Stop, a *ConnectionError if accepting fails otherwise
func (s *Server) Serve(ln net.Listener) error {
	if s.opts.Relay != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			err := s.opts.Relay.Run(ctx, s.registry.Deliver)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("relay stopped", logger.Field{Key: "error", Value: err})
			}
		}()
	}

	err := s.tcp.Serve(ln)
	if err == nil || errors.Is(err, tcpserver.ErrServerStopped) || errors.Is(err, tcpserver.ErrServerRunning) {
		return err
	}

	return &ConnectionError{Op: "accept", Addr: ln.Addr().String(), Err: err}
}

// Stop closes the listener and every session connection. Session goroutines
// finish on their own; Stop does not wait for them.
func (s *Server) Stop() {
	s.tcp.Stop()
}

// Addr returns the bound address, or nil before the server is listening.
func (s *Server) Addr() net.Addr {
	return s.tcp.Addr()
}

// Registry returns the registry of live sessions.
func (s *Server) Registry() *Registry {
	return s.registry
}
