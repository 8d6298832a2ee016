package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	agentService "github.com/rufuslabs/rufus/backend/internal/service/agent"
	"github.com/rufuslabs/rufus/backend/pkg/utils"
)

// Handler streams dialogue turns via Server-Sent Events. Chat replies
// arrive as deltas; recommendation replies are produced whole and sent as
// a single message event.
type Handler struct {
	agentSvc *agentService.Service
}

// New creates a new stream handler.
func New(agentSvc *agentService.Service) *Handler {
	return &Handler{agentSvc: agentSvc}
}

// StreamResponse represents a streaming response chunk.
type StreamResponse struct {
	Event     string            `json:"event"`
	Content   string            `json:"content,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Products  []catalog.Product `json:"products,omitempty"`
	Finished  bool              `json:"finished,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// HandleStreamRequest processes one streamed turn for a session.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
	})

	reply, err := h.agentSvc.HandleTextStream(ctx, sessionID, userMessage, func(delta string) {
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   delta,
		})
	})
	if err != nil {
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event: "error",
			Error: "Rufus is temporarily unavailable. Please try again shortly.",
		})
		return err
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   reply.Message,
		Products:  reply.Products,
	})

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	return nil
}
