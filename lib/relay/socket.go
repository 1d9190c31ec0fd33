package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/nrednav/cuid2"
)

// SocketOptions tunes per-connection behaviour of ServeWS.
type SocketOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	ReadLimit    int64
}

// ServeWS upgrades the request and runs one relay connection until either
// side closes it. The role query parameter selects observer mode.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, opts SocketOptions) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Error("[relay] websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := cuid2.Generate()
	role := ParseRole(r.URL.Query().Get("role"))
	sess := NewQueuedSession(connID, role, opts.QueueSize, func(ctx context.Context, frame []byte) error {
		wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, frame)
	}, h.logger)

	h.Attach(sess)
	defer h.Detach(context.WithoutCancel(ctx), connID)

	// a failed write or a closed session ends the read loop too
	go func() {
		_ = sess.Run(ctx)
		cancel()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			h.logger.Debug("[relay] connection closed", "connection_id", connID, "err", err)
			return
		}
		_ = h.HandleFrame(ctx, connID, data)
	}
}
