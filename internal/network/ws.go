package network

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/robbie-med/rhenal/internal/platform/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the frontend dev server runs on another origin
	},
}

// WebSocketHandler upgrades requests and attaches them to the hub. Client
// goroutines live until ctx is done or the peer disconnects.
func (h *Hub) WebSocketHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.metrics.RecordWSError()
			h.logger.Warn("failed to upgrade websocket connection", logger.Err(err))
			return
		}

		client := NewClient(h, conn)
		client.Register(ctx)

		// Greet with the current state so the view renders before the next event.
		client.reply(h.Dispatch(ctx, Command{Type: CmdSnapshot}))

		go client.WritePump()
		go client.ReadPump(ctx)
	}
}
