package chat

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const readTimeout = 3 * time.Second

// connPair returns both ends of a loopback TCP connection.
func connPair(t *testing.T) (serverSide, clientSide net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	clientSide, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	serverSide, ok := <-accepted
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = clientSide.Close()
	})

	return serverSide, clientSide
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func dialServer(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return newTestClient(t, conn)
}

func (c *testClient) send(line string) {
	c.t.Helper()

	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) next() string {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)

	return strings.TrimSuffix(line, "\n")
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	require.Equal(c.t, want, c.next())
}

// expectClosed asserts the server closes the connection with no further lines.
func (c *testClient) expectClosed() {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	line, err := c.reader.ReadString('\n')
	require.Error(c.t, err, "unexpected line %q", line)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.t.Fatalf("connection was not closed within %s", readTimeout)
	}
}

func startServer(t *testing.T, opts Options) (*Server, string, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(opts)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	t.Cleanup(srv.Stop)

	return srv, ln.Addr().String(), done
}

// join connects a client and consumes the join notices it causes for itself
// and for the clients already in the room.
func join(t *testing.T, addr string, present ...*testClient) *testClient {
	t.Helper()

	c := dialServer(t, addr)
	c.expect(JoinNotice)
	for _, other := range present {
		other.expect(JoinNotice)
	}

	return c
}

// sessionFor finds the server-side session of c.
func sessionFor(t *testing.T, srv *Server, c *testClient) *Session {
	t.Helper()

	var found *Session
	local := c.conn.LocalAddr().String()
	srv.Registry().Range(func(s *Session) bool {
		if s.RemoteAddr() == local {
			found = s
			return false
		}
		return true
	})
	require.NotNil(t, found, "no session for %s", local)

	return found
}
