package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // feed is bound to the local monitor address
	},
}

// Handler returns the /ws endpoint. Connections must present a feed token
// signed with secret, as ?token= or a Bearer header.
//
//	wscat -c "ws://localhost:8080/ws?token={jwt_token}"
//	{"action":"subscribe","topics":["telemetry","commands"]}
func Handler(hub *Hub, secret []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, secret, w, r)
	})
}

func ServeWS(hub *Hub, secret []byte, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := VerifyFeedToken(secret, token)
	if err != nil {
		hub.logger.Warnw("feed token rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warnw("Upgrade error", "error", err)
		return
	}

	client := NewClient(conn, hub, claims)
	hub.register(client)
	hub.logger.Infow("feed client connected", "subject", client.subject, "remote", conn.RemoteAddr().String())

	go client.WritePump()
	client.ReadPump()
}
