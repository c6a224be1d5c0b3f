package chat

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/utils"
)

// DefaultMaxLineLength is the longest line a session accepts unless configured otherwise.
const DefaultMaxLineLength = 64 * 1024

// SessionLimits bounds a session's I/O.
type SessionLimits struct {
	// MaxLineLength is the longest accepted input line in bytes; longer lines
	// end the session with a read error. 0 means DefaultMaxLineLength.
	MaxLineLength int

	// WriteTimeout bounds every Send; 0 means no deadline.
	WriteTimeout time.Duration
}

// Session serves one accepted connection: it parses incoming lines into
// commands and is the only writer to the connection.
type Session struct {
	id       uint32
	conn     net.Conn
	remote   string
	registry *Registry
	logger   logger.Logger
	limits   SessionLimits

	writeMu sync.Mutex
	writer  *bufio.Writer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	nickMu   sync.RWMutex
	nickname string
}

// NewSession wraps conn. The session broadcasts through registry but does
// not add itself to it.
//
// Parameters:
//   - id: Identifier used in logs
//   - conn: The accepted connection; the session owns it from now on
//   - registry: Where the session's broadcasts go
//   - limits: Line length and write deadline settings
//   - log: Logger for the session; nil discards
//
// Returns:
//   - A session with a random default nickname
func NewSession(id uint32, conn net.Conn, registry *Registry, limits SessionLimits, log logger.Logger) *Session {
	if limits.MaxLineLength <= 0 {
		limits.MaxLineLength = DefaultMaxLineLength
	}

	if log == nil {
		log = logger.NewNop()
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:       id,
		conn:     conn,
		remote:   remote,
		registry: registry,
		logger:   log.With(logger.Field{Key: "session_id", Value: id}),
		limits:   limits,
		writer:   bufio.NewWriter(conn),
		nickname: DefaultNickname(),
	}
}

// DefaultNickname returns "User #<random>" drawn from the process-wide
// random source.
func DefaultNickname() string {
	return fmt.Sprintf("User #%d", rand.Int63())
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address as text.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// Nickname returns the current public name of the session.
func (s *Session) Nickname() string {
	s.nickMu.RLock()
	defer s.nickMu.RUnlock()
	return s.nickname
}

func (s *Session) setNickname(name string) {
	s.nickMu.Lock()
	defer s.nickMu.Unlock()
	s.nickname = name
}

// Send writes text as one line, adding the terminator when missing. Calls
// from different goroutines never interleave within a line. A failed write
// closes the session, which ends Run.
//
// Returns:
//   - A *ConnectionError if the session is closed or the write fails
func (s *Session) Send(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return &ConnectionError{Op: "write", Addr: s.remote, Err: ErrSessionClosed}
	}

	if err := s.writeLine(text); err != nil {
		_ = s.Close()
		return &ConnectionError{Op: "write", Addr: s.remote, Err: err}
	}

	return nil
}

func (s *Session) writeLine(text string) error {
	if s.limits.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.limits.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := s.writer.WriteString(utils.FrameLine(text)); err != nil {
		return err
	}

	return s.writer.Flush()
}

// Run announces the session to the room and then serves incoming lines
// until the peer quits, the stream ends or reading fails. It must be called
// once.
//
// Returns:
//   - nil on /q or end of stream, a *ConnectionError on read failure
func (s *Session) Run() error {
	s.registry.Broadcast(JoinNotice)

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.limits.MaxLineLength)), s.limits.MaxLineLength)

	for scanner.Scan() {
		if quit := s.handleLine(scanner.Text()); quit {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return &ConnectionError{Op: "read", Addr: s.remote, Err: err}
	}

	return nil
}

// handleLine dispatches one input line and reports whether the session ended.
func (s *Session) handleLine(line string) bool {
	command, rest := splitCommand(line)

	switch command {
	case quitCommand:
		s.registry.Broadcast(leaveNotice(s.Nickname()))
		_ = s.Close()
		return true

	case nickCommand:
		name := strings.TrimSpace(rest)
		if !validNickname(name) {
			s.logger.Debug("nickname rejected", logger.Field{Key: "nickname", Value: name})
			return false
		}

		previous := s.Nickname()
		s.registry.Broadcast(nicknameNotice(previous, name))
		s.setNickname(name)

	default:
		s.registry.Broadcast(chatLine(s.Nickname(), line))
	}

	return false
}

// Close closes the connection, unblocking Run. Safe to call repeatedly and
// from any goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}
