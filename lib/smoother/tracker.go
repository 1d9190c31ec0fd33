package smoother

import (
	"sort"

	"github.com/onkernel/window-relay/lib/protocol"
)

// Tracker eases one proxy per remote window. It is not safe for concurrent
// use; call it from the render loop only.
type Tracker struct {
	easer  Easer
	states map[int64]*State
}

func NewTracker(easer Easer) *Tracker {
	return &Tracker{easer: easer, states: make(map[int64]*State)}
}

// Step advances every tracked entity toward its target. Entities seen for the
// first time start on their target; entities without a target are dropped.
func (t *Tracker) Step(targets map[int64]Vec2) {
	for id := range t.states {
		if _, ok := targets[id]; !ok {
			delete(t.states, id)
		}
	}
	for id, target := range targets {
		s, ok := t.states[id]
		if !ok {
			t.states[id] = &State{Pos: target}
			continue
		}
		t.easer.Step(s, target)
	}
}

// StepWindows is Step with targets derived from window records.
func (t *Tracker) StepWindows(windows []protocol.WindowRecord) {
	targets := make(map[int64]Vec2, len(windows))
	for _, w := range windows {
		targets[w.ID] = Target(w)
	}
	t.Step(targets)
}

func (t *Tracker) Position(id int64) (Vec2, bool) {
	s, ok := t.states[id]
	if !ok {
		return Vec2{}, false
	}
	return s.Pos, true
}

// IDs returns the tracked ids in ascending order.
func (t *Tracker) IDs() []int64 {
	ids := make([]int64, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Tracker) Len() int { return len(t.states) }

// Viewport eases the local scene offset. The target offset is the negated
// screen position of this window so world coordinates line up across windows.
type Viewport struct {
	easer  Easer
	state  State
	target Vec2
}

func NewViewport(easer Easer) *Viewport {
	return &Viewport{easer: easer}
}

// SetWindowPosition updates the target from this window's screen position.
// With easing disabled the offset jumps straight to the target.
func (v *Viewport) SetWindowPosition(screenX, screenY float64, easing bool) {
	v.target = Vec2{X: -screenX, Y: -screenY}
	if !easing {
		v.state = State{Pos: v.target}
	}
}

// Step advances one frame and returns the offset to render with.
func (v *Viewport) Step() Vec2 {
	v.easer.Step(&v.state, v.target)
	return v.state.Pos
}

func (v *Viewport) Offset() Vec2 { return v.state.Pos }
