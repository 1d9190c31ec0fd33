// Package smoother eases rendered positions toward the latest known window
// positions once per frame, hiding the discrete and delayed nature of relay
// updates.
package smoother

import (
	"errors"
	"math"

	"github.com/charmbracelet/harmonica"

	"github.com/onkernel/window-relay/lib/protocol"
)

const (
	ViewportFalloff = 0.25
	ProxyFalloff    = 0.35
)

var ErrInvalidFalloff = errors.New("falloff must be in (0, 1]")

// Vec2 is a 2D point in screen space.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Ease moves current a fraction falloff of the way toward target.
func Ease(current, target, falloff float64) float64 {
	return current + (target-current)*falloff
}

// FramesToConverge is the number of frames after which the remaining
// distance has shrunk to at most epsilon of the initial distance. An epsilon
// of 1 or more needs no frames; a non-positive epsilon or falloff is never
// reached and yields math.MaxInt.
func FramesToConverge(falloff, epsilon float64) int {
	switch {
	case epsilon >= 1:
		return 0
	case !(epsilon > 0) || !(falloff > 0):
		return math.MaxInt
	case falloff >= 1:
		return 1
	}
	return int(math.Ceil(math.Log(epsilon) / math.Log(1-falloff)))
}

// State is the per-entity animation state.
type State struct {
	Pos Vec2
	Vel Vec2
}

// Easer advances a State one frame toward target.
type Easer interface {
	Step(s *State, target Vec2)
}

// Smoother is the one-pole low-pass filter current += (target-current)*falloff.
// It never overshoots and settles exactly on a stationary target.
type Smoother struct {
	falloff float64
}

func New(falloff float64) (*Smoother, error) {
	if !(falloff > 0 && falloff <= 1) {
		return nil, ErrInvalidFalloff
	}
	return &Smoother{falloff: falloff}, nil
}

func (sm *Smoother) Falloff() float64 { return sm.falloff }

// Next returns current advanced one frame toward target.
func (sm *Smoother) Next(current, target Vec2) Vec2 {
	return Vec2{
		X: Ease(current.X, target.X, sm.falloff),
		Y: Ease(current.Y, target.Y, sm.falloff),
	}
}

func (sm *Smoother) Step(s *State, target Vec2) {
	s.Pos = sm.Next(s.Pos, target)
	s.Vel = Vec2{}
}

// SpringSmoother eases with a damped harmonic oscillator. A damping ratio of 1 or
// more is required so a proxy released from rest never overshoots.
type SpringSmoother struct {
	spring harmonica.Spring
}

func NewSpringSmoother(fps int, frequency, damping float64) (*SpringSmoother, error) {
	if fps <= 0 || frequency <= 0 {
		return nil, errors.New("spring needs positive fps and frequency")
	}
	if damping < 1 {
		return nil, errors.New("spring damping ratio must be at least 1")
	}
	return &SpringSmoother{spring: harmonica.NewSpring(harmonica.FPS(fps), frequency, damping)}, nil
}

func (sp *SpringSmoother) Step(s *State, target Vec2) {
	s.Pos.X, s.Vel.X = sp.spring.Update(s.Pos.X, s.Vel.X, target.X)
	s.Pos.Y, s.Vel.Y = sp.spring.Update(s.Pos.Y, s.Vel.Y, target.Y)
}

// Target is the point a window's proxy should settle on: the centre of its
// realtime position, borrowing the shape's size when the realtime rect has none.
func Target(rec protocol.WindowRecord) Vec2 {
	pos := rec.RealtimePosition
	if pos == (protocol.Rect{}) {
		pos = rec.Shape
	}
	w, h := pos.Width, pos.Height
	if w == 0 {
		w = rec.Shape.Width
	}
	if h == 0 {
		h = rec.Shape.Height
	}
	return Vec2{X: pos.X + w*0.5, Y: pos.Y + h*0.5}
}
