package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	agentHandler "github.com/rufuslabs/rufus/backend/internal/handler/agent"
	productHandler "github.com/rufuslabs/rufus/backend/internal/handler/product"
	"github.com/rufuslabs/rufus/backend/internal/handler/stream"
	"github.com/rufuslabs/rufus/backend/internal/handler/ws"
	middlewarePkg "github.com/rufuslabs/rufus/backend/internal/middleware"
	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	agentService "github.com/rufuslabs/rufus/backend/internal/service/agent"
	"github.com/rufuslabs/rufus/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(agentSvc *agentService.Service, store *catalog.Store, imageDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"message": "Welcome to the E-Commerce Service API with Rufus!",
		})
	})

	streamHandler := stream.New(agentSvc)

	r.Route("/api", func(api chi.Router) {
		agentHandler.New(agentSvc).RegisterRoutes(api)
		productHandler.New(store).RegisterRoutes(api)
		ws.New(agentSvc).RegisterRoutes(api)

		api.Get("/agent/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	// Product images referenced by image_url are served as static assets.
	if imageDir != "" {
		fileServer := http.StripPrefix("/images/", http.FileServer(http.Dir(imageDir)))
		r.Get("/images/*", fileServer.ServeHTTP)
	}

	return r
}
