package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/inventory"
)

type InventoryHandlers struct {
	service *inventory.Service
}

func NewInventoryHandlers(service *inventory.Service) *InventoryHandlers {
	return &InventoryHandlers{service: service}
}

type restockBody struct {
	Quantity int     `json:"quantity"`
	Notes    *string `json:"notes"`
}

// Restock handles POST /inventory/product/{id}/restock.
func (h *InventoryHandlers) Restock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")
	var body restockBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, coreerr.ValidationErrorf("invalid request body"))
		return
	}
	user := authctx.UserFromContext(r.Context())
	item, err := h.service.Restock(r.Context(), productID, body.Quantity, userID(user), body.Notes)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}
