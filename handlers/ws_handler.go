package handlers

import (
	"net/http"
	"slices"

	"go-tracker/logging"
	"go-tracker/realtime"

	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler accepts browser connections from allowedOrigins ("*" for any).
// Connections without an Origin header, such as the CLI agent, are always accepted.
func NewWSHandler(hub *realtime.Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeWS upgrades the connection and attaches it to the hub.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := realtime.NewClient(h.hub, conn)
	client.Start()
	logging.Ctx(r.Context()).Debug().Uint64("client_id", client.ID()).Msg("websocket client attached")
}
