// Package chatclient connects to a chat relay server, sends lines and hands
// every received line to registered listeners.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/chat"
	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/safemap"
	"github.com/cyberinferno/chatrelay/utils"
)

// QuitCommand is the line that ends a session.
const QuitCommand = "/q"

var (
	// ErrNotConnected is returned by SendMessage before Connect succeeded.
	ErrNotConnected = errors.New("chatclient: not connected")

	// ErrClosed is returned once the client quit or was closed.
	ErrClosed = errors.New("chatclient: closed")
)

// Listener receives the events of a Client. Both methods run on the
// client's receive goroutine, never on the goroutine that called Connect;
// implementations must synchronize access to their own state. Error is
// terminal: the connection is unusable afterwards.
type Listener interface {
	MessageReceived(line string)
	Error(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnMessage func(line string)
	OnError   func(err error)
}

// MessageReceived implements Listener.
func (f ListenerFuncs) MessageReceived(line string) {
	if f.OnMessage != nil {
		f.OnMessage(line)
	}
}

// Error implements Listener.
func (f ListenerFuncs) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Config holds the client settings.
type Config struct {
	// Address is the server host name or IP.
	Address string
	Port    int
	// DialTimeout bounds Connect; 0 means no timeout beyond ctx.
	DialTimeout time.Duration
	// WriteTimeout bounds each SendMessage; 0 means none.
	WriteTimeout time.Duration
	// MaxLineLength is the longest accepted incoming line; 0 means chat.DefaultMaxLineLength.
	MaxLineLength int
	Logger        logger.Logger
}

// DefaultConfig returns a Config for address:port with a 10s dial and
// write timeout.
func DefaultConfig(address string, port int) Config {
	return Config{
		Address:      address,
		Port:         port,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Client is a line-oriented chat connection. SendMessage and Close may be
// called from any goroutine.
type Client struct {
	config Config
	logger logger.Logger

	listeners   *safemap.SafeMap[uint32, Listener]
	listenerIds *idgenerator.IdGenerator

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	closed  bool
	started bool
	done    chan struct{}
}

// New creates a Client; call Connect to reach the server.
func New(config Config) *Client {
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = chat.DefaultMaxLineLength
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		config:      config,
		logger:      log,
		listeners:   safemap.NewSafeMap[uint32, Listener](),
		listenerIds: idgenerator.NewIdGenerator(0),
		done:        make(chan struct{}),
	}
}

// AddListener registers l and returns the id to remove it with.
func (c *Client) AddListener(l Listener) uint32 {
	id := c.listenerIds.Next()
	c.listeners.Store(id, l)
	return id
}

// RemoveListener unregisters the listener with id. Unknown ids are ignored.
func (c *Client) RemoveListener(id uint32) {
	c.listeners.Delete(id)
}

// Connect dials the server and starts the receive goroutine. A dial failure
// is returned here and not reported to listeners.
//
// Returns:
//   - nil on success, ErrClosed after Close, an error if already connected,
//     or a *chat.ConnectionError if dialing fails
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("chatclient: already connected")
	}
	c.started = true
	c.mu.Unlock()

	addr := net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		if c.closed {
			close(c.done)
		} else {
			c.started = false
		}
		c.mu.Unlock()
		return &chat.ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	c.mu.Lock()
	if c.closed {
		close(c.done)
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	c.mu.Unlock()

	c.logger.Info("connected", logger.Field{Key: "addr", Value: addr})
	go c.readLoop(conn)

	return nil
}

// SendMessage sends line to the server. A line starting with QuitCommand
// ends the session: the connection is closed after the line is written and
// every later call fails with ErrClosed, as it does once the server has
// ended the stream.
func (c *Client) SendMessage(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.conn == nil {
		return ErrNotConnected
	}

	if err := c.writeLocked(line); err != nil {
		return err
	}

	if chat.IsQuit(line) {
		c.closeLocked()
	}

	return nil
}

// Close sends QuitCommand and releases the connection. It is idempotent and
// safe to call before Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	var err error
	if c.conn != nil {
		err = c.writeLocked(QuitCommand)
	}

	c.closeLocked()
	if !c.started {
		close(c.done)
	}

	return err
}

// Done is closed when the receive goroutine has finished, or on Close if
// the client never connected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writeLocked(line string) error {
	addr := c.conn.RemoteAddr().String()

	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return &chat.ConnectionError{Op: "write", Addr: addr, Err: err}
		}
	}

	if _, err := c.writer.WriteString(utils.FrameLine(line)); err != nil {
		return &chat.ConnectionError{Op: "write", Addr: addr, Err: err}
	}

	if err := c.writer.Flush(); err != nil {
		return &chat.ConnectionError{Op: "write", Addr: addr, Err: err}
	}

	return nil
}

func (c *Client) closeLocked() {
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// markClosed closes the client and reports whether it was already closed.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasClosed := c.closed
	c.closeLocked()
	return wasClosed
}

func (c *Client) readLoop(conn net.Conn) {
	defer close(c.done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, c.config.MaxLineLength)), c.config.MaxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		c.listeners.Range(func(_ uint32, l Listener) bool {
			l.MessageReceived(line)
			return true
		})
	}

	err := scanner.Err()
	if closedLocally := c.markClosed(); err == nil || closedLocally {
		c.logger.Info("disconnected")
		return
	}

	connErr := &chat.ConnectionError{Op: "read", Addr: conn.RemoteAddr().String(), Err: err}
	c.logger.Warn("connection lost", logger.Field{Key: "error", Value: err})
	c.listeners.Range(func(_ uint32, l Listener) bool {
		l.Error(connErr)
		return true
	})
}
