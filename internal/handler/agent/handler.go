package agent

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	agentService "github.com/rufuslabs/rufus/backend/internal/service/agent"
	"github.com/rufuslabs/rufus/backend/internal/service/gateway"
	"github.com/rufuslabs/rufus/backend/internal/service/session"
	"github.com/rufuslabs/rufus/backend/pkg/utils"
)

const maxMultipartMemory = 8 << 20

// Handler exposes the dialogue agent over HTTP.
type Handler struct {
	agentSvc *agentService.Service
}

// New creates the agent handler.
func New(agentSvc *agentService.Service) *Handler {
	return &Handler{agentSvc: agentSvc}
}

// RegisterRoutes mounts the agent endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/agent", func(r chi.Router) {
		r.Post("/start_session", h.handleStartSession)
		r.Post("/chat", h.handleChat)
		r.Post("/recommend-text", h.handleRecommendText)
		r.Post("/recommend-image", h.handleRecommendImage)
		r.Get("/session/{sessionID}/history", h.handleHistory)
	})
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserInfo map[string]string `json:"user_info"`
	}

	// An empty body starts a session for the default profile.
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, greeting, err := h.agentSvc.StartSession(r.Context(), payload.UserInfo)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"session_id":      created.ID,
		"initial_message": greeting,
	})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.agentSvc.HandleText(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleRecommendText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Query == "" {
		utils.RespondError(w, http.StatusBadRequest, "query is required")
		return
	}

	if payload.SessionID != "" {
		reply, err := h.agentSvc.RecommendTextInSession(r.Context(), payload.SessionID, payload.Query)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, reply)
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.agentSvc.RecommendText(r.Context(), payload.Query))
}

func (h *Handler) handleRecommendImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "expected multipart form with an image file")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	declaredType := header.Header.Get("Content-Type")
	sessionID := r.FormValue("session_id")

	if sessionID != "" {
		reply, err := h.agentSvc.HandleImage(r.Context(), sessionID, data, declaredType)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, reply)
		return
	}

	result, err := h.agentSvc.RecommendImage(r.Context(), data, declaredType)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	turns, err := h.agentSvc.History(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

// respondServiceError maps core errors to transport responses. Nothing
// internal crosses this boundary unmapped; transient model failures become
// a user-visible unavailability message, never a raw transport error.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "Session not found. Please start a new session.")
	case errors.Is(err, session.ErrSessionLimit):
		utils.RespondError(w, http.StatusTooManyRequests, "Too many active sessions right now. Please try again later.")
	case errors.Is(err, gateway.ErrInvalidImage):
		utils.RespondError(w, http.StatusBadRequest, "The uploaded image is empty, too large, or not a supported format.")
	case errors.Is(err, gateway.ErrModelUnavailable), errors.Is(err, gateway.ErrModelRateLimited):
		utils.RespondError(w, http.StatusServiceUnavailable, "Rufus is temporarily unavailable. Please try again shortly.")
	default:
		log.Printf("[handler] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}
