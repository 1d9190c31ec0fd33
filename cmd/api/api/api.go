package api

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"

	"github.com/onkernel/window-relay/lib/journal"
	"github.com/onkernel/window-relay/lib/relay"
	"github.com/onkernel/window-relay/lib/scene"
)

type ApiService struct {
	hub     *relay.Hub
	scene   *scene.Store
	journal journal.Journal
	socket  relay.SocketOptions
}

func New(hub *relay.Hub, store *scene.Store, j journal.Journal, socket relay.SocketOptions) (*ApiService, error) {
	switch {
	case hub == nil:
		return nil, errors.New("hub cannot be nil")
	case store == nil:
		return nil, errors.New("scene store cannot be nil")
	}
	if j == nil {
		j = journal.NewNoop()
	}
	return &ApiService{
		hub:     hub,
		scene:   store,
		journal: j,
		socket:  socket,
	}, nil
}

// Routes mounts the relay endpoints on r.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/ws", s.HandleWindowSocket)
	r.Get("/windows", s.GetWindows)
	r.Route("/scene", func(r chi.Router) {
		r.Get("/", s.GetScene)
		r.Patch("/", s.PatchScene)
		r.Put("/", s.PutScene)
	})
	r.Get("/journal", s.GetJournal)
}

func (s *ApiService) Shutdown(ctx context.Context) error {
	return errors.Join(s.hub.Shutdown(ctx), s.journal.Close())
}
