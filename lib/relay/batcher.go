package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/onkernel/window-relay/lib/protocol"
)

// stopper is the part of *time.Timer the batcher needs.
type stopper interface {
	Stop() bool
}

// scheduleFunc defers f by d. time.AfterFunc in production.
type scheduleFunc func(d time.Duration, f func()) stopper

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// PositionBatcher coalesces realtime positions. Each connection has one slot
// holding its latest position; at most one deferred flush is pending at a time.
type PositionBatcher struct {
	window   time.Duration
	emit     func(protocol.PositionChanged)
	schedule scheduleFunc

	mu      sync.Mutex
	pending map[string]protocol.PositionChanged
	timer   stopper
	stopped bool

	// serializes emission so two flushes never interleave
	flushMu sync.Mutex
}

func NewPositionBatcher(window time.Duration, emit func(protocol.PositionChanged)) *PositionBatcher {
	return &PositionBatcher{
		window:   window,
		emit:     emit,
		schedule: afterFunc,
		pending:  make(map[string]protocol.PositionChanged),
	}
}

// Add stores update as the latest position for its connection and schedules a
// flush unless one is already pending.
func (b *PositionBatcher) Add(update protocol.PositionChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending[update.ConnectionID] = update
	if b.timer == nil {
		b.timer = b.schedule(b.window, b.Flush)
	}
}

// Flush emits every pending entry once and clears the batch.
func (b *PositionBatcher) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := make([]protocol.PositionChanged, 0, len(b.pending))
	for _, u := range b.pending {
		batch = append(batch, u)
	}
	b.pending = make(map[string]protocol.PositionChanged)
	b.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	for _, u := range batch {
		b.emit(u)
	}
}

// Pending returns the number of connections waiting for the next flush.
func (b *PositionBatcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Scheduled reports whether a deferred flush is currently pending.
func (b *PositionBatcher) Scheduled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

// Stop cancels any pending flush and drops the batch.
func (b *PositionBatcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = make(map[string]protocol.PositionChanged)
}
