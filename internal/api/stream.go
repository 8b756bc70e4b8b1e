package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/hotspot-sim/internal/engine"
)

const (
	maxStreamConns = 32
	streamBuffer   = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// StreamMessage is the envelope of every message pushed to observers.
type StreamMessage struct {
	Type string `json:"type"` // "hello", "stats" or "event"
	Tick uint64 `json:"tick"`
	Data any    `json:"data"`
}

type streamClient struct {
	send chan []byte
}

// hub fans messages out to stream clients. Slow clients lose messages
// rather than stall the engine.
type hub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*streamClient]struct{})}
}

func (h *hub) add() (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxStreamConns {
		return nil, false
	}
	c := &streamClient{send: make(chan []byte, streamBuffer)}
	h.clients[c] = struct{}{}
	wsConnections.Set(float64(len(h.clients)))
	return c, true
}

func (h *hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	wsConnections.Set(float64(len(h.clients)))
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(msg StreamMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("stream message not encodable", "type", msg.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range s.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// handleStream upgrades to a websocket and pushes a hello with the current
// stats, then every published stats snapshot and event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	client, ok := s.hub.add()
	if !ok {
		requestsRejected.WithLabelValues("ws_limit").Inc()
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.remove(client)

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	var hello StreamMessage
	s.Eng.View(func(sim *engine.Simulation) {
		hello = StreamMessage{Type: "hello", Tick: sim.Tick(), Data: sim.Stats()}
	})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}
	slog.Debug("stream client connected", "remote", r.RemoteAddr, "clients", s.hub.count())

	// Drain reads so pongs and close frames are processed.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case b := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			slog.Debug("stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}
