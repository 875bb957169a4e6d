// Package sales implements C5: recording sales against inventory, with
// idempotent replay and read-only reporting. Grounded on the teacher's
// thin-service-over-store pattern, same as inventory.Service.
package sales

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/inventory"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/store"
)

// ExclusionReason is returned by ClassifySale when a sale is not eligible
// for commission. SPEC_FULL §12.2 makes the underlying rule table
// data-driven rather than hard-coded, via the WithCommissionPolicy option.
type ExclusionReason string

const (
	ExclusionNone               ExclusionReason = ""
	ExclusionChannelNotEligible ExclusionReason = "channelNotEligible"
	ExclusionAmountBelowThreshold ExclusionReason = "amountBelowThreshold"
	ExclusionProductExcluded    ExclusionReason = "productExcluded"
)

type Classification struct {
	CommissionEligible bool
	ExclusionReason    ExclusionReason
}

type Service struct {
	store     store.Store
	bus       *eventbus.Bus
	inventory *inventory.Service
	logger    *slog.Logger

	// sf collapses concurrent RecordSale calls sharing the same idempotency
	// key into a single execution, per SPEC_FULL §11's "duplicate-sale
	// collapsing" — without it, two racing retries of the same client call
	// both pass the GetSaleByIdempotencyKey check before either has written
	// the row, and both decrement stock.
	sf singleflight.Group

	// eligibleChannels and excludedProducts make ClassifySale data-driven
	// (SPEC_FULL §12.2) instead of hard-coding the commission policy here.
	eligibleChannels map[model.SaleChannel]bool
	excludedProducts map[string]bool
}

type Option func(*Service)

// WithCommissionPolicy configures which sale channels are commission
// eligible at all, and which product IDs are always excluded regardless of
// channel or amount.
func WithCommissionPolicy(eligibleChannels []model.SaleChannel, excludedProducts []string) Option {
	return func(s *Service) {
		s.eligibleChannels = make(map[model.SaleChannel]bool, len(eligibleChannels))
		for _, c := range eligibleChannels {
			s.eligibleChannels[c] = true
		}
		s.excludedProducts = make(map[string]bool, len(excludedProducts))
		for _, p := range excludedProducts {
			s.excludedProducts[p] = true
		}
	}
}

func NewService(st store.Store, bus *eventbus.Bus, inv *inventory.Service, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		bus:       bus,
		inventory: inv,
		logger:    logger,
		eligibleChannels: map[model.SaleChannel]bool{
			model.ChannelAgent:     true,
			model.ChannelStore:     true,
			model.ChannelWholesale: true,
		},
		excludedProducts: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordSaleRequest carries the inputs to RecordSale.
type RecordSaleRequest struct {
	ProductID      string
	Quantity       int
	UnitPrice      float64
	SoldByUserID   string
	SaleChannel    model.SaleChannel
	RelatedOrderID *string
	IdempotencyKey *string
	CustomerName   *string
}

// RecordSale implements spec §4.5: idempotent replay, atomic stock
// decrement via inventory.Service, Sale row insert, sale.completed
// publication. The low-stock hook runs inside DecrementForSale, so it fires
// here as a side effect of the stock mutation, never invoked directly.
func (s *Service) RecordSale(ctx context.Context, req RecordSaleRequest) (*model.Sale, error) {
	if req.Quantity <= 0 {
		return nil, coreerr.ValidationErrorf("sale quantity must be positive, got %d", req.Quantity)
	}
	if req.UnitPrice < 0 {
		return nil, coreerr.ValidationErrorf("unit price must be non-negative")
	}

	if req.IdempotencyKey == nil || *req.IdempotencyKey == "" {
		return s.recordSale(ctx, req)
	}

	v, err, _ := s.sf.Do(*req.IdempotencyKey, func() (any, error) {
		return s.recordSale(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Sale), nil
}

func (s *Service) recordSale(ctx context.Context, req RecordSaleRequest) (*model.Sale, error) {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := s.store.GetSaleByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err != nil && err != store.ErrNotFound {
			return nil, coreerr.Internalf(err, "lookup sale by idempotency key")
		}
		if existing != nil {
			return existing, nil
		}
	}

	saleID := uuid.NewString()
	if _, err := s.inventory.DecrementForSale(ctx, req.ProductID, req.Quantity, req.SoldByUserID, saleID, req.RelatedOrderID); err != nil {
		return nil, err
	}

	sale := &model.Sale{
		ID:             saleID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		TotalAmount:    float64(req.Quantity) * req.UnitPrice,
		SoldByUserID:   req.SoldByUserID,
		SaleChannel:    req.SaleChannel,
		RelatedOrderID: req.RelatedOrderID,
		IdempotencyKey: req.IdempotencyKey,
		CustomerName:   req.CustomerName,
	}
	if err := s.store.CreateSale(ctx, sale); err != nil {
		if err == store.ErrDuplicate && req.IdempotencyKey != nil {
			existing, getErr := s.store.GetSaleByIdempotencyKey(ctx, *req.IdempotencyKey)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, coreerr.Internalf(err, "create sale")
	}

	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.Event{
			Name:     eventbus.SaleCompleted,
			ActorID:  req.SoldByUserID,
			EntityID: sale.ID,
			Data: map[string]any{
				"saleId":      sale.ID,
				"productId":   sale.ProductID,
				"quantity":    sale.Quantity,
				"totalAmount": sale.TotalAmount,
				"channel":     string(sale.SaleChannel),
			},
		})
	}

	return sale, nil
}

// Summary aggregates sales, optionally within [from, to).
type Summary struct {
	Count       int
	TotalQty    int
	TotalAmount float64
}

// AgentPerformance aggregates sales by seller.
type AgentPerformance struct {
	UserID      string
	Count       int
	TotalQty    int
	TotalAmount float64
}

// Summarize computes aggregate counts over a caller-supplied set of sales
// (e.g. ones already paginated from an external query), matching the
// read-only reporting contract of spec §4.5.
func Summarize(sales []*model.Sale) Summary {
	var sum Summary
	for _, sale := range sales {
		sum.Count++
		sum.TotalQty += sale.Quantity
		sum.TotalAmount += sale.TotalAmount
	}
	return sum
}

// SummarizeByAgent groups sales by seller for the agentPerformance report.
func SummarizeByAgent(sales []*model.Sale) []AgentPerformance {
	byUser := map[string]*AgentPerformance{}
	var order []string
	for _, sale := range sales {
		ap, ok := byUser[sale.SoldByUserID]
		if !ok {
			ap = &AgentPerformance{UserID: sale.SoldByUserID}
			byUser[sale.SoldByUserID] = ap
			order = append(order, sale.SoldByUserID)
		}
		ap.Count++
		ap.TotalQty += sale.Quantity
		ap.TotalAmount += sale.TotalAmount
	}
	out := make([]AgentPerformance, 0, len(order))
	for _, uid := range order {
		out = append(out, *byUser[uid])
	}
	return out
}

// ClassifySale is a pure function over the sale and the configured
// commission policy (spec §4.5): channel eligibility, then product
// exclusion, then amount threshold, first failing rule wins.
func (s *Service) ClassifySale(sale *model.Sale, amountThreshold float64) Classification {
	if !s.eligibleChannels[sale.SaleChannel] {
		return Classification{CommissionEligible: false, ExclusionReason: ExclusionChannelNotEligible}
	}
	if s.excludedProducts[sale.ProductID] {
		return Classification{CommissionEligible: false, ExclusionReason: ExclusionProductExcluded}
	}
	if sale.TotalAmount < amountThreshold {
		return Classification{CommissionEligible: false, ExclusionReason: ExclusionAmountBelowThreshold}
	}
	return Classification{CommissionEligible: true, ExclusionReason: ExclusionNone}
}
