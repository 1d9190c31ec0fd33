package windowsync

import (
	"slices"
	"sort"

	"github.com/onkernel/window-relay/lib/protocol"
)

// Mirror is a client's local copy of every other window, ordered by id.
// Every Apply method is idempotent and reports whether the mirror changed.
// It is not safe for concurrent use.
type Mirror struct {
	self    string
	windows []protocol.WindowRecord
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// SetSelf records this client's connection id and drops any record for it.
func (m *Mirror) SetSelf(connID string) {
	m.self = connID
	for i, w := range m.windows {
		if w.ConnectionID == connID {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return
		}
	}
}

func (m *Mirror) Self() string { return m.self }

// ApplySnapshot replaces the mirror with roster, minus this client's own
// record. It reports whether membership or any record differs.
func (m *Mirror) ApplySnapshot(roster []protocol.WindowRecord) bool {
	next := make([]protocol.WindowRecord, 0, len(roster))
	for _, w := range roster {
		if m.self != "" && w.ConnectionID == m.self {
			continue
		}
		next = append(next, w.Clone())
	}
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	changed := !sameRecords(m.windows, next)
	m.windows = next
	return changed
}

// ApplyAdded inserts rec unless its id is already present. A record from the
// same connection under another id is an earlier registration whose removal
// was lost, so it is replaced.
func (m *Mirror) ApplyAdded(rec protocol.WindowRecord) bool {
	if m.self != "" && rec.ConnectionID == m.self {
		return false
	}
	if _, found := m.search(rec.ID); found {
		return false
	}
	if rec.ConnectionID != "" {
		m.windows = slices.DeleteFunc(m.windows, func(w protocol.WindowRecord) bool {
			return w.ConnectionID == rec.ConnectionID
		})
	}
	i, _ := m.search(rec.ID)
	m.windows = append(m.windows, protocol.WindowRecord{})
	copy(m.windows[i+1:], m.windows[i:])
	m.windows[i] = rec.Clone()
	return true
}

// ApplyShape overwrites shape and realtime position of a known window.
func (m *Mirror) ApplyShape(msg protocol.ShapeChanged) bool {
	i, found := m.search(msg.ID)
	if !found {
		return false
	}
	w := &m.windows[i]
	if w.Shape == msg.Shape && w.RealtimePosition == msg.Shape {
		return false
	}
	w.Shape = msg.Shape
	w.RealtimePosition = msg.Shape
	return true
}

// ApplyPosition overwrites the realtime position of a known window.
func (m *Mirror) ApplyPosition(msg protocol.PositionChanged) bool {
	i, found := m.search(msg.ID)
	if !found {
		return false
	}
	w := &m.windows[i]
	if w.RealtimePosition == msg.Position {
		return false
	}
	w.RealtimePosition = msg.Position
	return true
}

// ApplyRemoved deletes a window by id.
func (m *Mirror) ApplyRemoved(msg protocol.WindowRemoved) bool {
	i, found := m.search(msg.ID)
	if !found {
		return false
	}
	m.windows = append(m.windows[:i], m.windows[i+1:]...)
	return true
}

func (m *Mirror) Get(id int64) (protocol.WindowRecord, bool) {
	i, found := m.search(id)
	if !found {
		return protocol.WindowRecord{}, false
	}
	return m.windows[i].Clone(), true
}

// Windows returns a copy of the mirror ordered by id.
func (m *Mirror) Windows() []protocol.WindowRecord {
	out := make([]protocol.WindowRecord, len(m.windows))
	for i, w := range m.windows {
		out[i] = w.Clone()
	}
	return out
}

func (m *Mirror) Len() int { return len(m.windows) }

func (m *Mirror) Reset() {
	m.windows = nil
}

func (m *Mirror) search(id int64) (int, bool) {
	i := sort.Search(len(m.windows), func(i int) bool { return m.windows[i].ID >= id })
	return i, i < len(m.windows) && m.windows[i].ID == id
}

func sameRecords(a, b []protocol.WindowRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].ConnectionID != b[i].ConnectionID ||
			a[i].Shape != b[i].Shape || a[i].RealtimePosition != b[i].RealtimePosition ||
			string(a[i].Metadata) != string(b[i].Metadata) {
			return false
		}
	}
	return true
}
