// Package live streams rotator snapshots to graphics pages over WebSocket.
package live

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"broadcast-graphics/onair/internal/rotation"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1024
	subBuffer      = 8
)

// Message types exchanged with viewers.
const (
	TypeHello      = "hello"
	TypeSnapshot   = "snapshot"
	TypeVisibility = "visibility"
	TypeRefresh    = "refresh"
)

// ServerMessage is sent to viewers.
type ServerMessage struct {
	Type     string             `json:"type"`
	Viewer   string             `json:"viewer,omitempty"`
	Snapshot *rotation.Snapshot `json:"snapshot,omitempty"`
}

// ClientMessage is received from viewers. Visible is only read for
// visibility messages.
type ClientMessage struct {
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// Handler upgrades GET /ws/rotators/{name} and streams that rotator.
type Handler struct {
	registry *rotation.Registry
	upgrader websocket.Upgrader
}

func NewHandler(registry *rotation.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Graphics pages are loaded by playout machines from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	log := hlog.FromRequest(r).With().Str("rotator", name).Logger()

	c, ok := h.registry.Get(name)
	if !ok {
		log.Warn().Msg("Unknown rotator")
		http.Error(w, "unknown rotator", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	viewer := uuid.NewString()
	log = log.With().Str("viewer", viewer).Logger()
	log.Info().Msg("Viewer connected")

	snaps, cancel := c.Subscribe(subBuffer)
	defer cancel()
	defer h.registry.Leave(name, viewer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.SetReadLimit(maxMessageSize)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg ClientMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("Viewer read failed")
				}
				return
			}
			switch msg.Type {
			case TypeVisibility:
				log.Debug().Bool("visible", msg.Visible).Msg("Viewer visibility changed")
				h.registry.ReportVisibility(name, viewer, msg.Visible)
			case TypeRefresh:
				c.Refresh()
			default:
				log.Debug().Str("type", msg.Type).Msg("Ignoring viewer message")
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	send := func(msg ServerMessage) bool {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Msg("Viewer write failed")
			return false
		}
		return true
	}

	if !send(ServerMessage{Type: TypeHello, Viewer: viewer}) {
		return
	}

	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				// The rotator stopped; tell the viewer we are going away.
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "rotator stopped"))
				return
			}
			if !send(ServerMessage{Type: TypeSnapshot, Snapshot: &snap}) {
				return
			}

		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			log.Info().Msg("Viewer disconnected")
			return
		}
	}
}
