package handlers

import (
	"log"
	"net/http"

	"github.com/CrowderSoup/boardsync/services"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// HandleWebSocket upgrades the HTTP connection and subscribes it to
// board.updated broadcasts.
func (h *BoardHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, ok := Subject(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	client := &services.Client{
		Hub:     h.hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Subject: subject,
	}

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
