package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"time"

	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/engine"
	"github.com/elijahnyp/traffic_controller/state"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Data interface{} `json:"data"`
	Type string      `json:"type"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WebSocketMessage
	hub  *WSHub
}

// WSHub maintains the set of active clients and broadcasts messages
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// statusProvider is the part of the engine the handlers read from.
type statusProvider interface {
	Latest() state.Snapshot
	Stats() engine.Stats
}

// SystemStatus is the /api/status document.
type SystemStatus struct {
	Snapshot snapshotDoc  `json:"snapshot"`
	Stats    engine.Stats `json:"stats"`
	Uptime   string       `json:"uptime"`
}

var started = time.Now()

var wsHub *WSHub

func init() {
	wsHub = NewHub()
	go wsHub.Run()
}

// NewHub creates a new WebSocket hub
func NewHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WebSocketMessage, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the WebSocket hub
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			Logger.Info().Msg("Client connected to WebSocket")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				Logger.Info().Msg("Client disconnected from WebSocket")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastUpdate sends an update to all connected clients
func (h *WSHub) BroadcastUpdate(messageType string, data interface{}) {
	select {
	case h.broadcast <- WebSocketMessage{Type: messageType, Data: data}:
	default:
		// Channel is full, skip this update
	}
}

// Present makes the hub a presentation sink.
func (h *WSHub) Present(s state.Snapshot) {
	h.BroadcastUpdate("snapshot", describe(s, currentModel()))
}

// readPump pumps messages from the websocket connection to the hub
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			Logger.Error().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		Logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// ServeWebSocket upgrades the request and sends the current snapshot before
// streaming updates.
func ServeWebSocket(hub *WSHub, p statusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &WSClient{
			conn: conn,
			send: make(chan WebSocketMessage, 256),
			hub:  hub,
		}
		client.send <- WebSocketMessage{Type: "snapshot", Data: describe(p.Latest(), currentModel())}

		client.hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// APIStatus returns the latest snapshot and engine counters as JSON
func APIStatus(p statusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			if _, err := io.WriteString(w, "Bad Request Method\n"); err != nil {
				Logger.Error().Msgf("Error writing error response: %v", err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		status := SystemStatus{
			Snapshot: describe(p.Latest(), currentModel()),
			Stats:    p.Stats(),
			Uptime:   time.Since(started).Round(time.Second).String(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			Logger.Error().Err(err).Msg("Error encoding system status")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// StatusImage renders the road board as a PNG
func StatusImage(p statusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img := RenderBoard(p.Latest(), currentModel())
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			http.Error(w, "Error encoding image", http.StatusInternalServerError)
			return
		}
		w.Header().Add("Content-Type", "image/png")
		if _, err := w.Write(buf.Bytes()); err != nil {
			Logger.Error().Msgf("Error writing image response: %v", err)
		}
	}
}

// Healthz reports unhealthy once the engine has stopped.
func Healthz(running func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := io.WriteString(w, "stopped\n"); err != nil {
				Logger.Error().Msgf("Error writing response: %v", err)
			}
			return
		}
		if _, err := io.WriteString(w, "ok\n"); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
	}
}

const homePage = `<html><head><title>Traffic signal</title></head><body>
<h3>Traffic signal status</h3>
<img id="board" src="/status.png" />
<pre id="state"></pre>
<script>
var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = function (ev) {
  var msg = JSON.parse(ev.data);
  document.getElementById("state").textContent = JSON.stringify(msg.data, null, 2);
  document.getElementById("board").src = "/status.png?t=" + Date.now();
};
</script>
</body></html>
`

// HomeHandler serves the dashboard page
func HomeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Add("Content-Type", "text/html")
	if _, err := io.WriteString(w, homePage); err != nil {
		Logger.Error().Msgf("Error writing response: %v", err)
	}
}
