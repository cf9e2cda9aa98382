package wsframe

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// ServeFunc handles one accepted connection. The connection is closed when
// it returns.
type ServeFunc func(ctx context.Context, conn *Conn)

// Handler upgrades HTTP requests to frame connections.
type Handler struct {
	upgrader       websocket.Upgrader
	maxMessageSize int
	logger         *slog.Logger
	serve          ServeFunc
}

// NewHandler returns a handler that passes every upgraded connection to serve.
func NewHandler(maxMessageSize int, logger *slog.Logger, serve ServeFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize: maxMessageSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Senders are not browsers
			},
		},
		maxMessageSize: maxMessageSize,
		logger:         logger,
		serve:          serve,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	c := newConn(conn, h.maxMessageSize, h.logger.With("remote_addr", r.RemoteAddr))
	defer c.Close()

	h.logger.Info("frame connection accepted", "remote_addr", r.RemoteAddr)
	h.serve(r.Context(), c)
}
