package tcpserver

// Session is the per-connection handler driven by TCPServer. The server
// creates one Session per accepted connection and runs Run in its own
// goroutine.
type Session interface {
	// ID returns the identifier assigned by the server.
	ID() uint32

	// Run serves the connection until the peer leaves, the session decides to
	// stop, or the connection is closed underneath it. A nil return means an
	// orderly end; an error is logged by the server and is never fatal to it.
	Run() error

	// Close closes the underlying connection. It must be safe to call
	// multiple times and concurrently with Run.
	Close() error
}

// SessionStore holds the live sessions of a server. Implementations must be
// safe for concurrent use and must tolerate Add and Remove during Range.
type SessionStore[S Session] interface {
	// Add registers a session that has just been accepted.
	Add(session S)

	// Remove unregisters a session. Removing an absent session is a no-op.
	Remove(session S)

	// Range calls f for each live session until f returns false.
	Range(f func(session S) bool)
}

// Gate decides whether a connection from host may be served.
type Gate interface {
	Allow(host string) bool
}
