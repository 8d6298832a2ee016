package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	agentService "github.com/rufuslabs/rufus/backend/internal/service/agent"
	"github.com/rufuslabs/rufus/backend/internal/service/gateway"
	"github.com/rufuslabs/rufus/backend/internal/service/session"
)

// Handler runs dialogue turns over a WebSocket connection: one inbound
// text frame per user turn, one outbound frame per agent reply.
type Handler struct {
	agentSvc *agentService.Service
	upgrader websocket.Upgrader
}

// New creates the WebSocket handler.
func New(agentSvc *agentService.Service) *Handler {
	return &Handler{
		agentSvc: agentSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Message string `json:"message"`
}

type outboundMessage struct {
	Event     string            `json:"event"`
	Message   string            `json:"message,omitempty"`
	Products  []catalog.Product `json:"products,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened for session=%s", sessionID)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read error for session=%s: %v", sessionID, err)
			}
			return
		}

		if inbound.Message == "" {
			h.write(conn, outboundMessage{Event: "error", Error: "message is required"})
			continue
		}

		reply, err := h.agentSvc.HandleText(r.Context(), sessionID, inbound.Message)
		if err != nil {
			h.write(conn, outboundMessage{Event: "error", Error: userFacingError(err)})
			if errors.Is(err, session.ErrSessionNotFound) {
				return
			}
			continue
		}

		h.write(conn, outboundMessage{
			Event:    "reply",
			Message:  reply.Message,
			Products: reply.Products,
		})
	}
}

func (h *Handler) write(conn *websocket.Conn, msg outboundMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func userFacingError(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "Session not found. Please start a new session."
	case errors.Is(err, gateway.ErrModelUnavailable), errors.Is(err, gateway.ErrModelRateLimited):
		return "Rufus is temporarily unavailable. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}
