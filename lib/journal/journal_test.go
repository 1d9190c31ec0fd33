package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/window-relay/lib/protocol"
)

func TestJournalRecordsJoinAndLeave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Ping(ctx))

	rec := protocol.WindowRecord{ID: 3, ConnectionID: "c3", Shape: protocol.Rect{X: 1, Y: 2, Width: 3, Height: 4}}
	j.Joined(ctx, rec)
	j.Left(ctx, rec)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindLeft, entries[0].Kind)
	assert.Equal(t, KindJoined, entries[1].Kind)
	assert.Equal(t, int64(3), entries[1].WindowID)
	assert.Equal(t, "c3", entries[1].ConnectionID)
	assert.Equal(t, float64(3), entries[1].Width)
	assert.False(t, entries[1].At.IsZero())

	entries, err = j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNoopJournal(t *testing.T) {
	t.Parallel()
	j := NewNoop()
	j.Joined(context.Background(), protocol.WindowRecord{ID: 1})
	entries, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, j.Close())
}
