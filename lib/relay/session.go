package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull     = errors.New("outbound queue full")
	ErrSessionClosed = errors.New("session closed")
)

// Role distinguishes browser windows from observers (control panels) that
// watch the roster without registering a window of their own.
type Role string

const (
	RoleWindow   Role = "window"
	RoleObserver Role = "observer"
)

// ParseRole maps a query parameter onto a Role; anything unknown is a window.
func ParseRole(s string) Role {
	switch s {
	case string(RoleObserver), "control-panel":
		return RoleObserver
	default:
		return RoleWindow
	}
}

// Session is one live relay connection as seen by the hub.
type Session interface {
	ID() string
	Role() Role
	// Send queues frame for delivery without blocking.
	Send(frame []byte) error
	Close()
}

// WriteFunc writes a single frame to the underlying connection.
type WriteFunc func(ctx context.Context, frame []byte) error

// QueuedSession delivers frames from a bounded queue on its own goroutine so a
// slow reader never stalls the hub. Frames that do not fit are dropped.
type QueuedSession struct {
	id     string
	role   Role
	write  WriteFunc
	logger *slog.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewQueuedSession(id string, role Role, queueSize int, write WriteFunc, logger *slog.Logger) *QueuedSession {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuedSession{
		id:     id,
		role:   role,
		write:  write,
		logger: logger,
		out:    make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (s *QueuedSession) ID() string { return s.id }
func (s *QueuedSession) Role() Role { return s.role }

func (s *QueuedSession) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- frame:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is cancelled, the session is closed or a
// write fails.
func (s *QueuedSession) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case frame := <-s.out:
			if err := s.write(ctx, frame); err != nil {
				s.logger.Debug("[relay] write failed", "connection_id", s.id, "err", err)
				s.Close()
				return err
			}
			s.sent.Add(1)
		}
	}
}

func (s *QueuedSession) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed once the session has been closed.
func (s *QueuedSession) Done() <-chan struct{} { return s.done }

func (s *QueuedSession) Sent() uint64    { return s.sent.Load() }
func (s *QueuedSession) Dropped() uint64 { return s.dropped.Load() }
