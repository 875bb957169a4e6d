// Package inventory implements C4: per-product stock with atomic
// decrement/restock/adjust, transaction audit rows, and the low-stock
// trigger hook (spec §4.4). Grounded structurally on the teacher's service
// layer pattern (a thin struct wrapping store.Store + eventbus.Bus,
// optimistic-retry loops around a versioned update) seen across its
// module/*.go service wrappers.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/store"
)

const maxVersionRetries = 5

// lowStockRequiredRole is the domain convention named in spec §4.4:
// low-stock restock tasks are claimable by warehouse staff.
const lowStockRequiredRole = "warehouse"

type Service struct {
	store  store.Store
	bus    *eventbus.Bus
	cache  *ReadCache
	logger *slog.Logger
}

func NewService(st store.Store, bus *eventbus.Bus, cache *ReadCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, bus: bus, cache: cache, logger: logger}
}

// CreateItem fails with Conflict if productID already exists (spec §4.4).
func (s *Service) CreateItem(ctx context.Context, productID, name string, initialStock, lowStockThreshold int, performedBy string) (*model.Inventory, error) {
	inv := &model.Inventory{
		ID:                uuid.NewString(),
		ProductID:         productID,
		ProductName:       name,
		TotalStock:        initialStock,
		LowStockThreshold: lowStockThreshold,
		Version:           0,
	}
	if err := s.store.CreateInventory(ctx, inv); err != nil {
		if err == store.ErrDuplicate {
			return nil, coreerr.Conflictf("duplicateProduct", "inventory for product %s already exists", productID)
		}
		return nil, coreerr.Internalf(err, "create inventory")
	}
	if initialStock > 0 {
		if err := s.store.AppendInventoryTransaction(ctx, &model.InventoryTransaction{
			ID:                uuid.NewString(),
			InventoryID:       inv.ID,
			Change:            initialStock,
			Reason:            model.TxRestock,
			PerformedByUserID: performedBy,
		}); err != nil {
			s.logger.Warn("failed to write initial stock transaction", "productId", productID, "err", err)
		}
	}
	s.runLowStockHook(ctx, inv, performedBy)
	return inv, nil
}

// Restock adds quantity to stock (spec §4.4).
func (s *Service) Restock(ctx context.Context, productID string, quantity int, performedBy string, notes *string) (*model.Inventory, error) {
	if quantity <= 0 {
		return nil, coreerr.ValidationErrorf("restock quantity must be positive, got %d", quantity)
	}
	return s.mutate(ctx, productID, func(inv *model.Inventory) (int, error) {
		inv.TotalStock += quantity
		return quantity, nil
	}, model.TxRestock, performedBy, notes, nil, nil)
}

// Adjust changes stock by delta for a non-sale reason (spec §4.4).
func (s *Service) Adjust(ctx context.Context, productID string, delta int, reason model.TxReason, performedBy string, notes *string) (*model.Inventory, error) {
	switch reason {
	case model.TxAdjustment, model.TxReturn, model.TxDamage, model.TxCorrection:
	default:
		return nil, coreerr.ValidationErrorf("invalid adjustment reason %q", reason)
	}
	return s.mutate(ctx, productID, func(inv *model.Inventory) (int, error) {
		newStock := inv.TotalStock + delta
		if newStock < 0 {
			return 0, coreerr.InvalidStatef("negativeStock", "adjustment would drive stock negative for %s", productID)
		}
		inv.TotalStock = newStock
		return delta, nil
	}, reason, performedBy, notes, nil, nil)
}

// DecrementForSale is INTERNAL — called only by the sales service (spec
// §4.4). It is exported because it lives in a different package, not
// because it is part of the public inventory API.
func (s *Service) DecrementForSale(ctx context.Context, productID string, quantity int, performedBy, saleID string, relatedOrderID *string) (*model.Inventory, error) {
	if quantity <= 0 {
		return nil, coreerr.ValidationErrorf("sale quantity must be positive, got %d", quantity)
	}
	return s.mutate(ctx, productID, func(inv *model.Inventory) (int, error) {
		if inv.TotalStock < quantity {
			return 0, coreerr.InsufficientStockf("product %s has %d in stock, requested %d", productID, inv.TotalStock, quantity)
		}
		inv.TotalStock -= quantity
		inv.TotalSold += quantity
		return -quantity, nil
	}, model.TxSale, performedBy, nil, &saleID, relatedOrderID)
}

// SetThreshold updates the low-stock threshold; may itself cross the
// threshold boundary so the hook always runs after.
func (s *Service) SetThreshold(ctx context.Context, productID string, threshold int, performedBy string) (*model.Inventory, error) {
	if threshold < 0 {
		return nil, coreerr.ValidationErrorf("threshold must be non-negative")
	}
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		inv, err := s.store.GetInventoryByProduct(ctx, productID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, coreerr.NotFoundf("inventory for product %s not found", productID)
			}
			return nil, coreerr.Internalf(err, "get inventory")
		}
		expected := inv.Version
		inv.LowStockThreshold = threshold
		rows, err := s.store.UpdateInventoryVersioned(ctx, inv, expected)
		if err != nil {
			return nil, coreerr.Internalf(err, "update inventory threshold")
		}
		if rows == 1 {
			s.runLowStockHook(ctx, inv, performedBy)
			return inv, nil
		}
	}
	return nil, coreerr.Conflictf("versionConflict", "concurrent modification of inventory %s, retry", productID)
}

// ListLowStock returns items at or below threshold, advisory-cached.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]*model.Inventory, error) {
	if s.cache != nil {
		var cached []*model.Inventory
		if s.cache.GetLowStock(ctx, "all", &cached) {
			return cached, nil
		}
	}
	items, err := s.store.ListLowStock(ctx, limit)
	if err != nil {
		return nil, coreerr.Internalf(err, "list low stock")
	}
	if s.cache != nil {
		s.cache.SetLowStock(ctx, "all", items)
	}
	return items, nil
}

// mutate is the shared optimistic-retry core for every stock-changing
// operation: read, apply fn (which may itself fail), write a versioned
// update, retry on lost race, write the transaction row, run the low-stock
// hook. compute returns the InventoryTransaction.Change value to record.
func (s *Service) mutate(
	ctx context.Context,
	productID string,
	compute func(*model.Inventory) (int, error),
	reason model.TxReason,
	performedBy string,
	notes *string,
	relatedSaleID, relatedOrderID *string,
) (*model.Inventory, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		inv, err := s.store.GetInventoryByProduct(ctx, productID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, coreerr.NotFoundf("inventory for product %s not found", productID)
			}
			return nil, coreerr.Internalf(err, "get inventory")
		}
		expected := inv.Version
		change, cErr := compute(inv)
		if cErr != nil {
			return nil, cErr
		}
		rows, err := s.store.UpdateInventoryVersioned(ctx, inv, expected)
		if err != nil {
			return nil, coreerr.Internalf(err, "update inventory")
		}
		if rows == 0 {
			continue // lost the race, re-read and retry
		}
		if err := s.store.AppendInventoryTransaction(ctx, &model.InventoryTransaction{
			ID:                uuid.NewString(),
			InventoryID:       inv.ID,
			Change:            change,
			Reason:            reason,
			RelatedSaleID:     relatedSaleID,
			RelatedOrderID:    relatedOrderID,
			PerformedByUserID: performedBy,
			Notes:             notes,
		}); err != nil {
			s.logger.Warn("failed to append inventory transaction", "productId", productID, "err", err)
		}
		s.runLowStockHook(ctx, inv, performedBy)
		if s.cache != nil {
			s.cache.Invalidate(ctx, "all")
		}
		return inv, nil
	}
	return nil, coreerr.Conflictf("versionConflict", "concurrent modification of inventory %s, retry", productID)
}

// runLowStockHook implements spec §4.4's post-commit hook. Failures here are
// logged, never surfaced — a stock mutation has already committed.
func (s *Service) runLowStockHook(ctx context.Context, inv *model.Inventory, performedBy string) {
	openType := "restock"
	existing, err := s.store.ListAutomationTasks(ctx, store.AutomationTaskFilter{
		Type:          &openType,
		CallerIsAdmin: true,
		Limit:         200,
	})
	if err != nil {
		s.logger.Warn("low-stock hook: failed to list existing restock tasks", "productId", inv.ProductID, "err", err)
		return
	}

	var openForProduct []*model.AutomationTask
	for _, t := range existing {
		if t.Metadata == nil {
			continue
		}
		if pid, _ := t.Metadata["productId"].(string); pid == inv.ProductID && model.ActiveClaimStatuses[t.Status] {
			openForProduct = append(openForProduct, t)
		}
	}

	if inv.TotalStock <= inv.LowStockThreshold {
		if len(openForProduct) > 0 {
			return
		}
		role := lowStockRequiredRole
		task := &model.AutomationTask{
			ID:              uuid.NewString(),
			Type:            "restock",
			Status:          model.TaskOpen,
			Title:           fmt.Sprintf("Restock %s (low stock)", inv.ProductName),
			CreatedByUserID: "system",
			RequiredRole:    &role,
			Metadata: map[string]any{
				"productId": inv.ProductID,
				"priority":  "elevated",
			},
		}
		if err := s.store.CreateAutomationTask(ctx, task); err != nil {
			s.logger.Warn("low-stock hook: failed to create restock task", "productId", inv.ProductID, "err", err)
			return
		}
		if s.bus != nil {
			s.bus.Publish(ctx, eventbus.Event{
				Name:     eventbus.InventoryLowStock,
				ActorID:  performedBy,
				EntityID: inv.ProductID,
				Data: map[string]any{
					"productId":  inv.ProductID,
					"totalStock": inv.TotalStock,
					"threshold":  inv.LowStockThreshold,
					"taskId":     task.ID,
				},
			})
		}
		return
	}

	now := time.Now()
	for _, t := range openForProduct {
		if err := s.store.UpdateAutomationTaskStatus(ctx, t.ID, model.TaskCompleted, &now); err != nil {
			s.logger.Warn("low-stock hook: failed to resolve restock task", "taskId", t.ID, "err", err)
		}
	}
}
