package chat

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is wrapped by the ConnectionError returned from Send on a
// session whose connection has already been closed.
var ErrSessionClosed = errors.New("session closed")

// ConnectionError reports an I/O failure on a socket: a session read or
// write, or the server's accept.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("chat: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// BindError reports that the listening socket could not be acquired.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("chat: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
