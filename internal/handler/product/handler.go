package product

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	"github.com/rufuslabs/rufus/backend/pkg/utils"
)

// Handler serves the read-only product catalog.
type Handler struct {
	store *catalog.Store
}

// New creates the product handler.
func New(store *catalog.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the catalog endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/products", h.handleListProducts)
	r.Get("/products/{productID}", h.handleGetProduct)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.All())
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	p, ok := h.store.FindByID(productID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "product not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, p)
}
