package tcpserver

import (
	"bufio"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/safeset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoSession writes every received line back until the peer goes away.
type echoSession struct {
	id     uint32
	conn   net.Conn
	closed atomic.Bool
}

func (e *echoSession) ID() uint32 { return e.id }

func (e *echoSession) Run() error {
	scanner := bufio.NewScanner(e.conn)
	for scanner.Scan() {
		if _, err := e.conn.Write(append(scanner.Bytes(), '\n')); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func (e *echoSession) Close() error {
	e.closed.Store(true)
	return e.conn.Close()
}

type setStore struct {
	set *safeset.SafeSet[*echoSession]
}

func (s setStore) Add(session *echoSession)                { s.set.Add(session) }
func (s setStore) Remove(session *echoSession)             { s.set.Remove(session) }
func (s setStore) Range(f func(session *echoSession) bool) { s.set.Range(f) }

type denyAll struct{ calls atomic.Int32 }

func (d *denyAll) Allow(string) bool {
	d.calls.Add(1)
	return false
}

func newTestServer() (*TCPServer[*echoSession], setStore) {
	store := setStore{set: safeset.NewSafeSet[*echoSession]()}
	srv := &TCPServer[*echoSession]{
		Logger:      logger.NewNop(),
		Name:        "test",
		Sessions:    store,
		IdGenerator: idgenerator.NewIdGenerator(0),
		NewSession: func(id uint32, conn net.Conn) *echoSession {
			return &echoSession{id: id, conn: conn}
		},
	}

	return srv, store
}

func startServer(t *testing.T, srv *TCPServer[*echoSession]) (string, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	return ln.Addr().String(), done
}

func TestTCPServer_Serve(t *testing.T) {
	srv, store := newTestServer()
	addr, done := startServer(t, srv)
	defer srv.Stop()

	assert.Equal(t, addr, srv.Addr().String())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)
	assert.Equal(t, 1, store.set.Size())

	t.Run("session is removed once it ends", func(t *testing.T) {
		require.NoError(t, conn.Close())
		assert.Eventually(t, func() bool { return store.set.Size() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("second Serve call is rejected", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer func() { _ = ln.Close() }()

		assert.ErrorIs(t, srv.Serve(ln), ErrServerRunning)
	})

	select {
	case err := <-done:
		t.Fatalf("Serve returned early: %v", err)
	default:
	}
}

func TestTCPServer_Stop(t *testing.T) {
	t.Run("ends Serve and closes live sessions", func(t *testing.T) {
		srv, store := newTestServer()
		addr, done := startServer(t, srv)

		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		require.Eventually(t, func() bool { return store.set.Size() == 1 }, time.Second, 5*time.Millisecond)
		session := store.set.Snapshot()[0]

		srv.Stop()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after Stop")
		}

		assert.True(t, session.closed.Load())

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, err = conn.Read(make([]byte, 1))
		assert.Error(t, err, "client observes the closed connection")

		_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
		assert.Error(t, err, "listener no longer accepts")
	})

	t.Run("is idempotent and Serve after Stop fails", func(t *testing.T) {
		srv, _ := newTestServer()
		srv.Stop()
		srv.Stop()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		err = srv.Serve(ln)
		assert.True(t, errors.Is(err, ErrServerStopped))

		_, err = ln.Accept()
		assert.Error(t, err, "listener is closed by the rejected Serve")
	})
}

func TestTCPServer_Gate(t *testing.T) {
	srv, store := newTestServer()
	gate := &denyAll{}
	srv.Gate = gate
	addr, _ := startServer(t, srv)
	defer srv.Stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "denied connection is closed by the server")
	assert.Equal(t, int32(1), gate.calls.Load())
	assert.Equal(t, 0, store.set.Size())
}
