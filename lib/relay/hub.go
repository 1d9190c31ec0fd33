// Package relay fans window geometry out between connected browser windows.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onkernel/window-relay/lib/protocol"
	"github.com/onkernel/window-relay/lib/registry"
	"github.com/onkernel/window-relay/lib/scene"
)

const (
	DefaultShapeThrottle = 16 * time.Millisecond
	DefaultPositionBatch = 8 * time.Millisecond
)

var ErrObserverRegister = errors.New("observers cannot register a window")

// Lifecycle is told about windows joining and leaving. Implementations must
// not block for long; they run on the connection's goroutine.
type Lifecycle interface {
	Joined(ctx context.Context, rec protocol.WindowRecord)
	Left(ctx context.Context, rec protocol.WindowRecord)
}

type noopLifecycle struct{}

func (noopLifecycle) Joined(context.Context, protocol.WindowRecord) {}
func (noopLifecycle) Left(context.Context, protocol.WindowRecord)   {}

// Config tunes a Hub. Zero values fall back to defaults.
type Config struct {
	ShapeThrottle time.Duration
	PositionBatch time.Duration
	Logger        *slog.Logger
	Scene         *scene.Store
	Lifecycle     Lifecycle
	// Now is the clock used for throttling.
	Now func() time.Time
}

// Hub owns the registry and every live session. Each inbound event is applied
// to the registry and then broadcast to every session except its origin.
type Hub struct {
	registry  *registry.Registry
	throttle  *ShapeThrottle
	batcher   *PositionBatcher
	scene     *scene.Store
	lifecycle Lifecycle
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewHub(reg *registry.Registry, cfg Config) *Hub {
	if cfg.ShapeThrottle <= 0 {
		cfg.ShapeThrottle = DefaultShapeThrottle
	}
	if cfg.PositionBatch <= 0 {
		cfg.PositionBatch = DefaultPositionBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = noopLifecycle{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Hub{
		registry:  reg,
		throttle:  NewShapeThrottle(cfg.ShapeThrottle),
		scene:     cfg.Scene,
		lifecycle: cfg.Lifecycle,
		logger:    cfg.Logger,
		now:       cfg.Now,
		sessions:  make(map[string]Session),
	}
	h.batcher = NewPositionBatcher(cfg.PositionBatch, h.emitPosition)
	if h.scene != nil {
		h.scene.Subscribe(h.broadcastScene)
	}
	return h
}

func (h *Hub) Registry() *registry.Registry { return h.registry }

// Attach adds a session and greets it with its connection id, the current
// scene state and, for observers, the roster.
func (h *Hub) Attach(s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()

	h.send(s, protocol.EventHello, protocol.Hello{ConnectionID: s.ID(), Role: string(s.Role())})
	if h.scene != nil {
		h.send(s, protocol.EventSceneState, h.scene.Get())
	}
	if s.Role() == RoleObserver {
		h.send(s, protocol.EventWindowsUpdate, h.registry.Snapshot())
	}
	h.logger.Info("[relay] connection attached", "connection_id", s.ID(), "role", s.Role(), "sessions", h.SessionCount())
}

// Detach drops the session and, if it had registered a window, removes the
// record and tells everyone else.
func (h *Hub) Detach(ctx context.Context, connID string) {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	delete(h.sessions, connID)
	h.mu.Unlock()
	if ok {
		s.Close()
	}

	h.throttle.Forget(connID)
	rec, removed := h.registry.Remove(connID)
	if !removed {
		return
	}
	h.broadcast(connID, protocol.EventWindowRemoved, protocol.WindowRemoved{ID: rec.ID, ConnectionID: connID})
	h.lifecycle.Left(ctx, rec)
	h.logger.Info("[relay] window disconnected", "id", rec.ID, "connection_id", connID, "windows", h.registry.Len())
}

// HandleFrame decodes one inbound frame and applies it. Malformed frames are
// logged and ignored; the returned error is informational.
func (h *Hub) HandleFrame(ctx context.Context, connID string, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		h.logger.Warn("[relay] dropping malformed frame", "connection_id", connID, "err", err)
		return err
	}
	if err := h.Handle(ctx, connID, env); err != nil {
		h.logger.Warn("[relay] dropping event", "connection_id", connID, "event", env.Event, "err", err)
		return err
	}
	return nil
}

// Handle applies one decoded event from connID.
func (h *Hub) Handle(ctx context.Context, connID string, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventRegisterWindow:
		var msg protocol.RegisterWindow
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		return h.register(ctx, connID, msg)

	case protocol.EventWindowUpdate:
		var msg protocol.WindowUpdate
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		if msg.Shape == nil {
			return fmt.Errorf("%s: %w", env.Event, protocol.ErrMissingField("shape"))
		}
		h.updateShape(connID, *msg.Shape)
		return nil

	case protocol.EventRealtimePosition:
		var msg protocol.RealtimePosition
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		if msg.Position == nil {
			return fmt.Errorf("%s: %w", env.Event, protocol.ErrMissingField("position"))
		}
		h.updatePosition(connID, *msg.Position)
		return nil

	case protocol.EventUpdateSceneState:
		if h.scene == nil {
			return nil
		}
		if _, err := h.scene.Merge(env.Data); err != nil {
			return err
		}
		h.logger.Debug("[relay] scene state merged", "connection_id", connID)
		return nil

	case protocol.EventPing:
		h.sendTo(connID, protocol.EventPong, env.Data)
		return nil

	case protocol.EventHeartbeat:
		h.sendTo(connID, protocol.EventHeartbeatAck, nil)
		return nil

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, env.Event)
	}
}

func (h *Hub) register(ctx context.Context, connID string, msg protocol.RegisterWindow) error {
	s, ok := h.session(connID)
	if ok && s.Role() == RoleObserver {
		return ErrObserverRegister
	}

	rec, roster, previous := h.registry.Register(connID, msg.Shape, msg.Metadata)
	if previous != nil {
		h.broadcast(connID, protocol.EventWindowRemoved, protocol.WindowRemoved{ID: previous.ID, ConnectionID: connID})
		h.lifecycle.Left(ctx, *previous)
	}
	if ok {
		h.send(s, protocol.EventRegistered, rec)
		h.send(s, protocol.EventWindowsUpdate, roster)
	}
	h.broadcast(connID, protocol.EventWindowAdded, rec)
	h.lifecycle.Joined(ctx, rec)
	h.logger.Info("[relay] window registered", "id", rec.ID, "connection_id", connID, "windows", h.registry.Len())
	return nil
}

func (h *Hub) updateShape(connID string, shape protocol.Rect) {
	rec, ok := h.registry.UpdateShape(connID, shape)
	if !ok {
		h.logger.Debug("[relay] shape update for unknown connection", "connection_id", connID)
		return
	}
	if !h.throttle.Allow(connID, h.now()) {
		return
	}
	h.broadcast(connID, protocol.EventWindowShapeChanged, protocol.ShapeChanged{
		ID:           rec.ID,
		ConnectionID: connID,
		Shape:        shape,
	})
}

func (h *Hub) updatePosition(connID string, pos protocol.Rect) {
	rec, ok := h.registry.UpdatePosition(connID, pos)
	if !ok {
		h.logger.Debug("[relay] position update for unknown connection", "connection_id", connID)
		return
	}
	h.batcher.Add(protocol.PositionChanged{ID: rec.ID, ConnectionID: connID, Position: pos})
}

// emitPosition is the batch flush callback. The origin may already be gone;
// the update still goes out once and receivers drop unknown ids.
func (h *Hub) emitPosition(u protocol.PositionChanged) {
	h.broadcast(u.ConnectionID, protocol.EventRealtimePositionUpdate, u)
}

func (h *Hub) broadcastScene(doc json.RawMessage) {
	h.broadcast("", protocol.EventSceneState, doc)
}

// FlushPositions emits pending position updates immediately.
func (h *Hub) FlushPositions() { h.batcher.Flush() }

// PendingPositions returns the number of connections waiting in the batch.
func (h *Hub) PendingPositions() int { return h.batcher.Pending() }

// Run prunes idle throttle state every sweep until ctx is done.
func (h *Hub) Run(ctx context.Context, sweep, ttl time.Duration) error {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := h.throttle.Prune(h.now(), ttl); n > 0 {
				h.logger.Debug("[relay] pruned throttle state", "entries", n)
			}
		}
	}
}

// Shutdown stops the batcher and closes every session.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.batcher.Stop()
	h.mu.Lock()
	sessions := make([]Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	return ctx.Err()
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) session(connID string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[connID]
	return s, ok
}

func (h *Hub) sendTo(connID, event string, payload any) {
	if s, ok := h.session(connID); ok {
		h.send(s, event, payload)
	}
}

func (h *Hub) send(s Session, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("[relay] failed to encode event", "event", event, "err", err)
		return
	}
	h.deliver(s, event, frame)
}

// broadcast sends to every session except the one with id except.
func (h *Hub) broadcast(except, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("[relay] failed to encode event", "event", event, "err", err)
		return
	}
	h.mu.RLock()
	targets := make([]Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id != except {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		h.deliver(s, event, frame)
	}
}

// deliver queues frame on s. Geometry frames may be dropped when the queue is
// full, but a lost membership frame would leave the client's mirror wrong for
// good, so the session is closed instead and the client re-registers.
func (h *Hub) deliver(s Session, event string, frame []byte) {
	err := s.Send(frame)
	if err == nil {
		return
	}
	if errors.Is(err, ErrQueueFull) && isMembershipEvent(event) {
		h.logger.Warn("[relay] closing slow connection after dropping membership event", "connection_id", s.ID(), "event", event)
		s.Close()
		return
	}
	h.logger.Debug("[relay] send failed", "connection_id", s.ID(), "event", event, "err", err)
}

func isMembershipEvent(event string) bool {
	switch event {
	case protocol.EventHello, protocol.EventRegistered, protocol.EventWindowsUpdate,
		protocol.EventWindowAdded, protocol.EventWindowRemoved:
		return true
	default:
		return false
	}
}
