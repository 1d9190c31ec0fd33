// Package windowsync keeps a browser-side mirror of every other window
// connected to the relay and reports this window's own geometry back to it.
package windowsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/window-relay/lib/protocol"
)

var ErrNotConnected = errors.New("agent is not connected")

// State is the agent's registration state.
type State int32

const (
	StateUnregistered State = iota
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	default:
		return "unregistered"
	}
}

// GeometrySource reports this window's current screen rectangle.
type GeometrySource interface {
	Geometry() protocol.Rect
}

// GeometryFunc adapts a function to GeometrySource.
type GeometryFunc func() protocol.Rect

func (f GeometryFunc) Geometry() protocol.Rect { return f() }

type Config struct {
	URL      string
	Source   GeometrySource
	Metadata json.RawMessage

	SampleInterval time.Duration
	ShapeThrottle  time.Duration
	PositionBatch  time.Duration
	WriteTimeout   time.Duration

	// DialAttempts bounds consecutive failed dials; zero retries forever.
	DialAttempts  uint
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 4 * time.Millisecond
	}
	if c.ShapeThrottle <= 0 {
		c.ShapeThrottle = 16 * time.Millisecond
	}
	if c.PositionBatch <= 0 {
		c.PositionBatch = 8 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 250 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type writeFunc func(ctx context.Context, frame []byte) error

// Agent registers this window with the relay, keeps the mirror current and
// pushes geometry samples out. Callbacks run synchronously on the goroutine
// that delivered the event.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	write  writeFunc
	connID string
	self   protocol.WindowRecord
	mirror *Mirror

	lastSample    protocol.Rect
	shapeDirty    bool
	lastShapeSent time.Time
	pendingPos    *protocol.Rect
	lastPosFlush  time.Time

	onWindows    func([]protocol.WindowRecord)
	onShape      func([]protocol.WindowRecord)
	onScene      func(json.RawMessage)
	onConnection func(bool)
}

func NewAgent(cfg Config) (*Agent, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay url is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("geometry source is required")
	}
	cfg.setDefaults()
	return &Agent{
		cfg:    cfg,
		logger: cfg.Logger,
		mirror: NewMirror(),
	}, nil
}

func (a *Agent) OnWindowsChanged(fn func([]protocol.WindowRecord)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onWindows = fn
}

func (a *Agent) OnShapeChanged(fn func([]protocol.WindowRecord)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onShape = fn
}

func (a *Agent) OnSceneState(fn func(json.RawMessage)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onScene = fn
}

func (a *Agent) OnConnectionChanged(fn func(bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onConnection = fn
}

// Windows returns every other window ordered by id.
func (a *Agent) Windows() []protocol.WindowRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Windows()
}

// Self returns this window's record as last acknowledged by the relay, with
// the latest sampled geometry applied.
func (a *Agent) Self() protocol.WindowRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self.Clone()
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ConnectionID is the id the relay assigned to the current connection.
func (a *Agent) ConnectionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connID
}

// Run keeps a relay connection alive until ctx is done. Each connection
// registers afresh and replaces the mirror with the roster it receives.
func (a *Agent) Run(ctx context.Context) error {
	for {
		conn, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = a.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("[windowsync] connection lost, reconnecting", "err", err)
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	attempt := 0
	err := retry.New(
		retry.Attempts(a.cfg.DialAttempts),
		retry.Delay(a.cfg.RetryDelay),
		retry.MaxDelay(a.cfg.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		attempt++
		c, _, err := websocket.Dial(ctx, a.cfg.URL, nil)
		if err != nil {
			a.logger.Warn("[windowsync] dial failed", "url", a.cfg.URL, "attempt", attempt, "err", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	a.logger.Info("[windowsync] connected", "url", a.cfg.URL, "attempt", attempt)
	return conn, nil
}

func (a *Agent) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close(websocket.StatusNormalClosure, "")

	write := func(ctx context.Context, frame []byte) error {
		wctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, frame)
	}
	if err := a.attach(ctx, write); err != nil {
		return err
	}
	defer a.detach()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				return err
			}
			a.HandleFrame(data)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case now := <-ticker.C:
				if err := a.Tick(gctx, now); err != nil && !errors.Is(err, ErrNotConnected) {
					return err
				}
			}
		}
	})
	return g.Wait()
}

// attach installs the writer and sends register-window with the current geometry.
func (a *Agent) attach(ctx context.Context, write writeFunc) error {
	shape := a.cfg.Source.Geometry()
	frame, err := protocol.Encode(protocol.EventRegisterWindow, protocol.RegisterWindow{
		Shape:    shape,
		Metadata: a.cfg.Metadata,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.write = write
	a.state = StateUnregistered
	a.lastSample = shape
	a.shapeDirty = false
	a.pendingPos = nil
	a.self = protocol.WindowRecord{Shape: shape, RealtimePosition: shape, Metadata: a.cfg.Metadata}
	onConn := a.onConnection
	a.mu.Unlock()

	if onConn != nil {
		onConn(true)
	}
	return write(ctx, frame)
}

func (a *Agent) detach() {
	a.mu.Lock()
	a.write = nil
	a.state = StateUnregistered
	a.connID = ""
	onConn := a.onConnection
	a.mu.Unlock()

	if onConn != nil {
		onConn(false)
	}
}

// Tick samples this window's geometry. A changed sample produces a throttled
// window-update; every sample lands in a single-slot position queue that is
// flushed at most once per batch interval.
func (a *Agent) Tick(ctx context.Context, now time.Time) error {
	g := a.cfg.Source.Geometry()

	a.mu.Lock()
	if a.state != StateRegistered || a.write == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	var frames [][]byte
	if g != a.lastSample {
		a.lastSample = g
		a.shapeDirty = true
		a.self.Shape = g
		a.self.RealtimePosition = g
	}
	if a.shapeDirty && now.Sub(a.lastShapeSent) >= a.cfg.ShapeThrottle {
		shape := g
		if f, err := protocol.Encode(protocol.EventWindowUpdate, protocol.WindowUpdate{Shape: &shape}); err == nil {
			frames = append(frames, f)
		}
		a.shapeDirty = false
		a.lastShapeSent = now
	}
	a.pendingPos = &g
	if now.Sub(a.lastPosFlush) >= a.cfg.PositionBatch {
		if f, err := protocol.Encode(protocol.EventRealtimePosition, protocol.RealtimePosition{Position: a.pendingPos}); err == nil {
			frames = append(frames, f)
		}
		a.pendingPos = nil
		a.lastPosFlush = now
	}
	write := a.write
	a.mu.Unlock()

	for _, f := range frames {
		if err := write(ctx, f); err != nil {
			return fmt.Errorf("send geometry: %w", err)
		}
	}
	return nil
}

// PublishScene sends a scene-state patch; the relay merges it and broadcasts
// the result to every connection.
func (a *Agent) PublishScene(ctx context.Context, patch json.RawMessage) error {
	a.mu.Lock()
	write := a.write
	a.mu.Unlock()
	if write == nil {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(protocol.EventUpdateSceneState, patch)
	if err != nil {
		return err
	}
	return write(ctx, frame)
}

// HandleFrame applies one relay event. Unknown or malformed frames and events
// about unknown windows are dropped.
func (a *Agent) HandleFrame(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		a.logger.Debug("[windowsync] dropping malformed frame", "err", err)
		return
	}
	if err := a.handle(env); err != nil {
		a.logger.Debug("[windowsync] dropping event", "event", env.Event, "err", err)
	}
}

func (a *Agent) handle(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventHello:
		var msg protocol.Hello
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		a.mu.Lock()
		a.connID = msg.ConnectionID
		a.mirror.SetSelf(msg.ConnectionID)
		a.mu.Unlock()

	case protocol.EventRegistered:
		var rec protocol.WindowRecord
		if err := protocol.DecodePayload(env, &rec); err != nil {
			return err
		}
		a.mu.Lock()
		if a.connID == "" {
			a.connID = rec.ConnectionID
			a.mirror.SetSelf(rec.ConnectionID)
		}
		a.self = rec.Clone()
		a.state = StateRegistered
		a.mu.Unlock()

	case protocol.EventWindowsUpdate:
		var roster []protocol.WindowRecord
		if err := protocol.DecodePayload(env, &roster); err != nil {
			return err
		}
		a.apply(func(m *Mirror) bool { return m.ApplySnapshot(roster) }, true)

	case protocol.EventWindowAdded:
		var rec protocol.WindowRecord
		if err := protocol.DecodePayload(env, &rec); err != nil {
			return err
		}
		a.apply(func(m *Mirror) bool { return m.ApplyAdded(rec) }, true)

	case protocol.EventWindowShapeChanged:
		var msg protocol.ShapeChanged
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		if a.isSelf(msg.ConnectionID) {
			return nil
		}
		a.apply(func(m *Mirror) bool { return m.ApplyShape(msg) }, false)

	case protocol.EventRealtimePositionUpdate:
		var msg protocol.PositionChanged
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		if a.isSelf(msg.ConnectionID) {
			return nil
		}
		a.apply(func(m *Mirror) bool { return m.ApplyPosition(msg) }, false)

	case protocol.EventWindowRemoved:
		var msg protocol.WindowRemoved
		if err := protocol.DecodePayload(env, &msg); err != nil {
			return err
		}
		if a.isSelf(msg.ConnectionID) {
			return nil
		}
		a.apply(func(m *Mirror) bool { return m.ApplyRemoved(msg) }, true)

	case protocol.EventSceneState:
		a.mu.Lock()
		fn := a.onScene
		a.mu.Unlock()
		if fn != nil {
			fn(append(json.RawMessage(nil), env.Data...))
		}

	case protocol.EventPong, protocol.EventHeartbeatAck:

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, env.Event)
	}
	return nil
}

func (a *Agent) isSelf(connID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return connID != "" && connID == a.connID
}

// apply mutates the mirror and fires the membership or geometry callback if
// anything changed.
func (a *Agent) apply(fn func(*Mirror) bool, membership bool) {
	a.mu.Lock()
	if !fn(a.mirror) {
		a.mu.Unlock()
		return
	}
	cb := a.onShape
	if membership {
		cb = a.onWindows
	}
	var windows []protocol.WindowRecord
	if cb != nil {
		windows = a.mirror.Windows()
	}
	a.mu.Unlock()

	if cb != nil {
		cb(windows)
	}
}
