package registry

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/window-relay/lib/protocol"
)

var shapeA = protocol.Rect{X: 0, Y: 0, Width: 800, Height: 600}

func TestRegisterAssignsIncreasingIDsAndRoster(t *testing.T) {
	t.Parallel()
	r := New()

	a, roster, prev := r.Register("conn-a", shapeA, json.RawMessage(`{"element":"H"}`))
	require.Nil(t, prev)
	assert.Equal(t, int64(1), a.ID)
	assert.Empty(t, roster)
	assert.Equal(t, shapeA, a.RealtimePosition)

	b, roster, _ := r.Register("conn-b", protocol.Rect{X: 900, Width: 400, Height: 300}, nil)
	assert.Equal(t, int64(2), b.ID)
	require.Len(t, roster, 1)
	assert.Equal(t, int64(1), roster[0].ID)
	assert.JSONEq(t, `{"element":"H"}`, string(roster[0].Metadata))
}

func TestIDsAreNotReusedAfterRemove(t *testing.T) {
	t.Parallel()
	r := New()

	a, _, _ := r.Register("a", shapeA, nil)
	_, ok := r.Remove("a")
	require.True(t, ok)
	b, _, _ := r.Register("b", shapeA, nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(2), b.ID)
}

func TestDuplicateRegistrationReplacesRecord(t *testing.T) {
	t.Parallel()
	r := New()

	first, _, _ := r.Register("a", shapeA, nil)
	second, roster, prev := r.Register("a", protocol.Rect{X: 5}, nil)
	require.NotNil(t, prev)
	assert.Equal(t, first.ID, prev.ID)
	assert.Greater(t, second.ID, first.ID)
	assert.Empty(t, roster)
	assert.Equal(t, 1, r.Len())
}

func TestUpdatesOnUnknownConnectionAreNoops(t *testing.T) {
	t.Parallel()
	r := New()

	r.Register("a", shapeA, nil)
	r.Remove("a")

	_, ok := r.UpdateShape("a", shapeA)
	assert.False(t, ok)
	_, ok = r.UpdatePosition("a", shapeA)
	assert.False(t, ok)
	_, ok = r.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestUpdateShapeOverwritesRealtimePosition(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("a", shapeA, nil)

	rec, ok := r.UpdatePosition("a", protocol.Rect{X: 10})
	require.True(t, ok)
	assert.Equal(t, shapeA, rec.Shape)
	assert.Equal(t, protocol.Rect{X: 10}, rec.RealtimePosition)

	next := protocol.Rect{X: 50, Y: 50, Width: 100, Height: 100}
	rec, ok = r.UpdateShape("a", next)
	require.True(t, ok)
	assert.Equal(t, next, rec.Shape)
	assert.Equal(t, next, rec.RealtimePosition)
}

func TestRecordCountMatchesLiveConnections(t *testing.T) {
	t.Parallel()
	r := New()
	rng := rand.New(rand.NewSource(42))

	live := map[string]bool{}
	seen := map[int64]bool{}
	for i := 0; i < 2000; i++ {
		conn := fmt.Sprintf("c%d", rng.Intn(25))
		switch rng.Intn(4) {
		case 0:
			rec, _, _ := r.Register(conn, shapeA, nil)
			require.False(t, seen[rec.ID], "id %d reused", rec.ID)
			seen[rec.ID] = true
			live[conn] = true
		case 1:
			r.UpdateShape(conn, protocol.Rect{X: float64(i)})
		case 2:
			r.UpdatePosition(conn, protocol.Rect{Y: float64(i)})
		case 3:
			r.Remove(conn)
			delete(live, conn)
		}
		require.Equal(t, len(live), r.Len())
	}

	snap := r.Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].ID, snap[i].ID)
	}
	stats := r.Stats()
	assert.Equal(t, len(live), stats.Live)
	assert.Equal(t, int64(len(seen)), stats.LastID)
}
