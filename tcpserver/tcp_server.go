// Package tcpserver runs a blocking TCP accept loop that hands every
// connection to its own Session goroutine and tears all sessions down on Stop.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/logger"
)

var (
	// ErrServerStopped is returned by Serve once Stop has been called.
	ErrServerStopped = errors.New("server stopped")

	// ErrServerRunning is returned by Serve when the server already serves a listener.
	ErrServerRunning = errors.New("server already running")
)

// NewSessionFunc builds the Session for an accepted connection.
type NewSessionFunc[S Session] func(id uint32, conn net.Conn) S

// TCPServer accepts connections on one listener. Each connection optionally
// passes Gate, is wrapped by NewSession, added to Sessions and served in a
// new goroutine; when the session's Run returns the session is removed and
// closed. A TCPServer serves a single listener during its lifetime.
type TCPServer[S Session] struct {
	Logger      logger.Logger
	Name        string
	Sessions    SessionStore[S]
	NewSession  NewSessionFunc[S]
	IdGenerator *idgenerator.IdGenerator
	Gate        Gate

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

// Serve runs the accept loop on ln and blocks until Stop is called or
// Accept fails. ln is closed when Serve returns.
//
// Parameters:
//   - ln: The listener to accept from; ownership passes to the server
//
// Returns:
//   - nil after Stop, ErrServerStopped or ErrServerRunning if the server
//     cannot take ln, or the accept error that ended the loop
func (s *TCPServer[S]) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerStopped
	}

	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerRunning
	}

	s.listener = ln
	s.mu.Unlock()

	defer func() { _ = ln.Close() }()

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() {
				return nil
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			return err
		}

		s.accept(conn)
	}
}

// Stop closes the listener, which ends Serve, and closes every live
// session. It does not wait for session goroutines to finish. Safe to call
// more than once and before Serve.
func (s *TCPServer[S]) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	s.stopped = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.Sessions.Range(func(session S) bool {
		_ = session.Close()
		return true
	})

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Addr returns the listener address, or nil before Serve.
func (s *TCPServer[S]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

func (s *TCPServer[S]) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *TCPServer[S]) accept(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	if s.Gate != nil {
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			host = remote
		}

		if !s.Gate.Allow(host) {
			s.Logger.Warn("connection throttled", logger.Field{Key: "remote_addr", Value: remote})
			_ = conn.Close()
			return
		}
	}

	id := s.IdGenerator.Next()
	session := s.NewSession(id, conn)

	// Registration happens under mu so Stop either sees the session in
	// Sessions or this check sees stopped.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = session.Close()
		return
	}
	s.Sessions.Add(session)
	s.mu.Unlock()

	go s.serveSession(session, remote)
}

func (s *TCPServer[S]) serveSession(session S, remote string) {
	log := s.Logger.With(
		logger.Field{Key: "session_id", Value: session.ID()},
		logger.Field{Key: "remote_addr", Value: remote},
	)
	log.Info("client connected")

	defer func() {
		s.Sessions.Remove(session)
		_ = session.Close()
		log.Info("client disconnected")
	}()

	if err := session.Run(); err != nil {
		if errors.Is(err, net.ErrClosed) || s.isStopped() {
			log.Debug("client connection closed", logger.Field{Key: "error", Value: err})
			return
		}

		log.Warn("client error", logger.Field{Key: "error", Value: err})
	}
}
