package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/onkernel/window-relay/lib/logger"
	"github.com/onkernel/window-relay/lib/protocol"
	"github.com/onkernel/window-relay/lib/registry"
	"github.com/onkernel/window-relay/lib/scene"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
	maxSceneBody        = 1 << 20
)

type windowsResponse struct {
	Windows  []protocol.WindowRecord `json:"windows"`
	Stats    registry.Stats          `json:"stats"`
	Sessions int                     `json:"sessions"`
}

// GetWindows returns the live roster ordered by id.
func (s *ApiService) GetWindows(w http.ResponseWriter, r *http.Request) {
	reg := s.hub.Registry()
	writeJSON(w, http.StatusOK, windowsResponse{
		Windows:  reg.Snapshot(),
		Stats:    reg.Stats(),
		Sessions: s.hub.SessionCount(),
	})
}

func (s *ApiService) GetScene(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.scene.Get())
}

// PatchScene deep-merges the body into the scene state and broadcasts it.
func (s *ApiService) PatchScene(w http.ResponseWriter, r *http.Request) {
	body, ok := readSceneBody(w, r)
	if !ok {
		return
	}
	doc, err := s.scene.Merge(body)
	if err != nil {
		sceneError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

// PutScene replaces the scene state and broadcasts it.
func (s *ApiService) PutScene(w http.ResponseWriter, r *http.Request) {
	body, ok := readSceneBody(w, r)
	if !ok {
		return
	}
	if err := s.scene.Replace(body); err != nil {
		sceneError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.scene.Get())
}

// GetJournal lists recent join and leave events, newest first.
func (s *ApiService) GetJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxJournalLimit)
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to read journal", "err", err)
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func readSceneBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSceneBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func sceneError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scene.ErrNotObject) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.FromContext(r.Context()).Error("failed to update scene state", "err", err)
	http.Error(w, "failed to update scene state", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
