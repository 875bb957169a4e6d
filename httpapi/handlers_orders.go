package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/orders"
)

type OrderHandlers struct {
	engine *orders.Engine
}

func NewOrderHandlers(engine *orders.Engine) *OrderHandlers {
	return &OrderHandlers{engine: engine}
}

type createOrderBody struct {
	Type             model.OrderType `json:"type"`
	Metadata         map[string]any  `json:"metadata"`
	RelatedChannelID *string         `json:"relatedChannelId"`
}

// CreateOrder handles POST /orders.
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, coreerr.ValidationErrorf("invalid request body"))
		return
	}
	user := authctx.UserFromContext(r.Context())
	order, err := h.engine.CreateOrder(r.Context(), orders.CreateOrderRequest{
		Type:             body.Type,
		CreatorID:        userID(user),
		Metadata:         body.Metadata,
		RelatedChannelID: body.RelatedChannelID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, order)
}

// CompleteWorkflowStep handles POST /tasks/{workflowStepId}/complete.
func (h *OrderHandlers) CompleteWorkflowStep(w http.ResponseWriter, r *http.Request) {
	stepID := r.PathValue("workflowStepId")
	user := authctx.UserFromContext(r.Context())
	outcome, err := h.engine.CompleteStep(r.Context(), stepID, userID(user))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

func userID(u *model.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
