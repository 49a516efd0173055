package relay

import (
	"net/http"

	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Development relay: any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
// The wire codec is chosen with the codec query parameter.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codec, err := signaling.NewCodec(r.URL.Query().Get("codec"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection", "error", err)
			return
		}

		id := uuid.NewString()
		client := &Client{
			hub:   hub,
			conn:  conn,
			codec: codec,
			log:   hub.log.With("id", id),
			ID:    id,
			send:  make(chan []byte, sendQueueSize),
		}

		client.hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

// healthCheckHandler reports that the relay is up.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling relay is healthy."))
}

// NewMux registers the relay endpoints.
func NewMux(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/ws", ServeWs(hub))
	return mux
}
