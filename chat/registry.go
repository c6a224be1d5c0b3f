package chat

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/perfmonitor"
	"github.com/cyberinferno/chatrelay/safeset"
)

const publishTimeout = 5 * time.Second

// Publisher forwards broadcast lines beyond this process.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// RegistryOptions configures a Registry. The zero value gives sequential
// fan-out, no publisher and no logging.
type RegistryOptions struct {
	// FanoutParallelism is the number of concurrent sends per broadcast.
	// Values <= 1 deliver to one session after another.
	FanoutParallelism int

	// Publisher, when set, receives every Broadcast after local delivery.
	Publisher Publisher

	Logger logger.Logger
}

// Registry is the set of live sessions. Add, Remove and Broadcast may be
// called from any goroutine; every broadcast works on a snapshot, so a
// session present for a whole Broadcast call receives exactly one copy.
type Registry struct {
	sessions    *safeset.SafeSet[*Session]
	parallelism int
	publisher   Publisher
	logger      logger.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	return &Registry{
		sessions:    safeset.NewSafeSet[*Session](),
		parallelism: opts.FanoutParallelism,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
	}
}

// Add registers session.
func (r *Registry) Add(session *Session) {
	r.sessions.Add(session)
}

// Remove unregisters session; absent sessions are ignored.
func (r *Registry) Remove(session *Session) {
	r.sessions.Remove(session)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// Range calls f for each session of a snapshot until f returns false.
func (r *Registry) Range(f func(session *Session) bool) {
	r.sessions.Range(f)
}

// CloseAll closes the connection of every registered session. Sessions
// stay registered until their own Run returns.
func (r *Registry) CloseAll() {
	r.sessions.Range(func(session *Session) bool {
		_ = session.Close()
		return true
	})
}

// Broadcast delivers text to every local session and then hands it to the
// publisher, if any. Delivery failures are logged and skipped.
func (r *Registry) Broadcast(text string) {
	r.Deliver(text)

	if r.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := r.publisher.Publish(ctx, text); err != nil {
			r.logger.Warn("relay publish failed", logger.Field{Key: "error", Value: err})
		}
	}
}

// Deliver writes text to every local session without publishing it. A
// failed write does not stop delivery to the others. The failing session
// closes itself and is removed once its Run returns.
func (r *Registry) Deliver(text string) {
	pm := perfmonitor.NewPerformanceMonitor()
	pm.Start()

	sessions := r.sessions.Snapshot()

	var failed atomic.Int32
	send := func(session *Session) {
		if err := session.Send(text); err != nil {
			failed.Add(1)
			r.logger.Warn("broadcast delivery failed",
				logger.Field{Key: "session_id", Value: session.ID()},
				logger.Field{Key: "error", Value: err},
			)
		}
	}

	if r.parallelism <= 1 || len(sessions) < 2 {
		for _, session := range sessions {
			send(session)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.parallelism)
		for _, session := range sessions {
			g.Go(func() error {
				send(session)
				return nil
			})
		}
		_ = g.Wait()
	}

	pm.Stop()
	r.logger.Debug("broadcast delivered",
		logger.Field{Key: "recipients", Value: len(sessions)},
		logger.Field{Key: "failed", Value: failed.Load()},
		logger.Field{Key: "elapsed_ms", Value: pm.ElapsedMilliseconds()},
	)
}
