package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/sales"
)

type SalesHandlers struct {
	service *sales.Service
}

func NewSalesHandlers(service *sales.Service) *SalesHandlers {
	return &SalesHandlers{service: service}
}

type recordSaleBody struct {
	ProductID      string            `json:"productId"`
	Quantity       int               `json:"quantity"`
	UnitPrice      float64           `json:"unitPrice"`
	SaleChannel    model.SaleChannel `json:"saleChannel"`
	RelatedOrderID *string           `json:"relatedOrderId"`
	IdempotencyKey *string           `json:"idempotencyKey"`
	CustomerName   *string           `json:"customerName"`
}

// RecordSale handles POST /sales.
func (h *SalesHandlers) RecordSale(w http.ResponseWriter, r *http.Request) {
	var body recordSaleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, coreerr.ValidationErrorf("invalid request body"))
		return
	}
	if body.ProductID == "" || body.SaleChannel == "" {
		WriteError(w, r, coreerr.ValidationErrorf("productId and saleChannel are required"))
		return
	}
	user := authctx.UserFromContext(r.Context())
	sale, err := h.service.RecordSale(r.Context(), sales.RecordSaleRequest{
		ProductID:      body.ProductID,
		Quantity:       body.Quantity,
		UnitPrice:      body.UnitPrice,
		SoldByUserID:   userID(user),
		SaleChannel:    body.SaleChannel,
		RelatedOrderID: body.RelatedOrderID,
		IdempotencyKey: body.IdempotencyKey,
		CustomerName:   body.CustomerName,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sale)
}
