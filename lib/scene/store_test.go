package scene

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIsDeepAndLastWriterWins(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_, err := s.Merge(json.RawMessage(`{"atom":{"electronCount":8,"electronColor":"#1a88ff"},"camera":{"zoom":1}}`))
	require.NoError(t, err)

	got, err := s.Merge(json.RawMessage(`{"atom":{"electronCount":12},"background":{"color":"#000"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"atom":{"electronCount":12,"electronColor":"#1a88ff"},
		"camera":{"zoom":1},
		"background":{"color":"#000"}
	}`, string(got))

	got, err = s.Merge(json.RawMessage(`{"camera":5}`))
	require.NoError(t, err)
	assert.JSONEq(t, `5`, mustField(t, got, "camera"))
}

func TestMergeRejectsNonObjects(t *testing.T) {
	t.Parallel()
	s := NewStore()

	for _, patch := range []string{`[1,2]`, `null`, `"x"`, `{`} {
		_, err := s.Merge(json.RawMessage(patch))
		assert.ErrorIs(t, err, ErrNotObject, patch)
	}
	assert.JSONEq(t, `{}`, string(s.Get()))
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	t.Parallel()
	s := NewStore()

	var mu sync.Mutex
	var seen []string
	s.Subscribe(func(doc json.RawMessage) {
		mu.Lock()
		seen = append(seen, string(doc))
		mu.Unlock()
	})

	_, err := s.Merge(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.NoError(t, s.Replace(json.RawMessage(`{"b":2}`)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.JSONEq(t, `{"a":1}`, seen[0])
	assert.JSONEq(t, `{"b":2}`, seen[1])
}

func TestConcurrentWritersNotifyInCommitOrder(t *testing.T) {
	t.Parallel()
	s := NewStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var last string
	s.Subscribe(func(doc json.RawMessage) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		mu.Lock()
		last = string(doc)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.Merge(json.RawMessage(`{"a":1}`))
		assert.NoError(t, err)
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, err := s.Merge(json.RawMessage(`{"b":2}`))
		assert.NoError(t, err)
	}()
	// give the second writer time to run ahead if it could
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"a":1,"b":2}`, string(s.Get()))
	assert.JSONEq(t, string(s.Get()), last, "subscribers end on the committed document")
}

func TestLoadFileAcceptsYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte("atom:\n  electronCount: 8\n  electronSpeed: 0.3\n"), 0o644))

	s := NewStore()
	require.NoError(t, LoadInto(s, path))
	assert.JSONEq(t, `{"atom":{"electronCount":8,"electronSpeed":0.3}}`, string(s.Get()))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scene.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o644))

	s := NewStore()
	require.NoError(t, LoadInto(s, path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, s, nil) }()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o644))

	require.Eventually(t, func() bool {
		return string(s.Get()) == `{"v":2}`
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func mustField(t *testing.T, doc json.RawMessage, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &m))
	return string(m[key])
}
