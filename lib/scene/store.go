// Package scene carries visual configuration between windows and control
// panels. The relay treats the document as opaque JSON and merges updates
// last-writer-wins.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrNotObject = errors.New("scene state must be a JSON object")

// Store holds the current scene document.
type Store struct {
	mu   sync.RWMutex
	doc  map[string]any
	subs []func(json.RawMessage)

	// held from mutation through notification so subscribers see
	// documents in commit order
	commitMu sync.Mutex
}

func NewStore() *Store {
	return &Store{doc: map[string]any{}}
}

// Get returns the current document.
func (s *Store) Get() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.doc)
	return data
}

// Merge deep-merges patch into the document and notifies subscribers.
func (s *Store) Merge(patch json.RawMessage) (json.RawMessage, error) {
	obj, err := decodeObject(patch)
	if err != nil {
		return nil, err
	}
	return s.commit(func(cur map[string]any) map[string]any {
		return deepMerge(cur, obj)
	})
}

// Replace swaps the whole document and notifies subscribers.
func (s *Store) Replace(doc json.RawMessage) error {
	obj, err := decodeObject(doc)
	if err != nil {
		return err
	}
	_, err = s.commit(func(map[string]any) map[string]any { return obj })
	return err
}

// commit applies fn and notifies subscribers before the next commit starts.
// Subscribers must not write to the store.
func (s *Store) commit(fn func(map[string]any) map[string]any) (json.RawMessage, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	s.doc = fn(s.doc)
	data, err := json.Marshal(s.doc)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("marshal scene state: %w", err)
	}
	for _, fn := range subs {
		fn(data)
	}
	return data, nil
}

// Subscribe registers fn to receive the document after every change. fn runs
// on the writer's goroutine.
func (s *Store) Subscribe(fn func(json.RawMessage)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func decodeObject(data json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	return obj, nil
}

// deepMerge returns target with source applied. Nested objects merge key by
// key; any other value in source replaces the target value.
func deepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	for k, v := range source {
		src, srcIsObj := v.(map[string]any)
		dst, dstIsObj := out[k].(map[string]any)
		if srcIsObj && dstIsObj {
			out[k] = deepMerge(dst, src)
			continue
		}
		out[k] = v
	}
	return out
}
