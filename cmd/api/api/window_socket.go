package api

import (
	"net/http"
)

// HandleWindowSocket upgrades the connection and relays window geometry until
// the browser goes away. Pass role=observer for control panels.
func (s *ApiService) HandleWindowSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.socket)
}
