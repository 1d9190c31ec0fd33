// Package registry holds the relay's authoritative map of connected windows.
package registry

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/onkernel/window-relay/lib/protocol"
)

// Registry maps connection ids to window records. Ids are handed out from a
// counter that never rewinds, so an id is never reused for the lifetime of
// the Registry.
type Registry struct {
	mu      sync.RWMutex
	windows map[string]*protocol.WindowRecord
	lastID  int64
	total   uint64
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Live            int    `json:"live"`
	TotalRegistered uint64 `json:"totalRegistered"`
	LastID          int64  `json:"lastId"`
}

func New() *Registry {
	return &Registry{windows: make(map[string]*protocol.WindowRecord)}
}

// Register stores a new record for connID and returns it together with the
// roster of every other window ordered by id. If connID already had a record
// it is replaced and the previous record is returned as well.
func (r *Registry) Register(connID string, shape protocol.Rect, metadata json.RawMessage) (rec protocol.WindowRecord, roster []protocol.WindowRecord, previous *protocol.WindowRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.windows[connID]; ok {
		prev := old.Clone()
		previous = &prev
	}

	r.lastID++
	r.total++
	stored := &protocol.WindowRecord{
		ID:               r.lastID,
		ConnectionID:     connID,
		Shape:            shape,
		RealtimePosition: shape,
		Metadata:         append(json.RawMessage(nil), metadata...),
	}
	r.windows[connID] = stored

	roster = lo.FilterMap(r.sortedLocked(), func(w *protocol.WindowRecord, _ int) (protocol.WindowRecord, bool) {
		return w.Clone(), w.ConnectionID != connID
	})
	return stored.Clone(), roster, previous
}

// UpdateShape overwrites shape and realtimePosition. It reports false when
// the connection has no record.
func (r *Registry) UpdateShape(connID string, shape protocol.Rect) (protocol.WindowRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[connID]
	if !ok {
		return protocol.WindowRecord{}, false
	}
	w.Shape = shape
	w.RealtimePosition = shape
	return w.Clone(), true
}

// UpdatePosition overwrites realtimePosition only.
func (r *Registry) UpdatePosition(connID string, pos protocol.Rect) (protocol.WindowRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[connID]
	if !ok {
		return protocol.WindowRecord{}, false
	}
	w.RealtimePosition = pos
	return w.Clone(), true
}

// Remove deletes the record for connID and returns it.
func (r *Registry) Remove(connID string) (protocol.WindowRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[connID]
	if !ok {
		return protocol.WindowRecord{}, false
	}
	delete(r.windows, connID)
	return *w, true
}

func (r *Registry) Get(connID string) (protocol.WindowRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[connID]
	if !ok {
		return protocol.WindowRecord{}, false
	}
	return w.Clone(), true
}

// Snapshot returns every record ordered by id.
func (r *Registry) Snapshot() []protocol.WindowRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.sortedLocked(), func(w *protocol.WindowRecord, _ int) protocol.WindowRecord {
		return w.Clone()
	})
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.windows)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Live: len(r.windows), TotalRegistered: r.total, LastID: r.lastID}
}

func (r *Registry) sortedLocked() []*protocol.WindowRecord {
	out := lo.Values(r.windows)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
