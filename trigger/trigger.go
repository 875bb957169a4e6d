// Package trigger implements C8: the declarative reaction layer between
// order lifecycle events and the automation task engine (spec §4.8).
// Grounded on the teacher's event-driven wiring pattern (module/event_trigger.go,
// module/eventbus_trigger.go): a subscriber registered against eventbus.Bus,
// never called directly by the publisher, matching DESIGN NOTES §9's
// dependency-inversion between the engine and its triggers.
package trigger

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ops-platform/automation-core/automation"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/registry"
)

// orderTaskTemplate describes the root task plus per-role placeholder
// assignments instantiated when an order of a given type is created. This
// is the template spec §4.8 refers to as "the order-task template".
type orderTaskTemplate struct {
	title           string
	assignmentRoles []string
}

var templates = map[model.OrderType]orderTaskTemplate{
	model.OrderTypeAgentRestock: {
		title:           "Fulfil agent restock order",
		assignmentRoles: []string{string(registry.RoleForeman), string(registry.RoleDelivery), string(registry.RoleRequester)},
	},
	model.OrderTypeStoreKeeperRestock: {
		title:           "Fulfil store keeper restock order",
		assignmentRoles: []string{string(registry.RoleForeman), string(registry.RoleDelivery), string(registry.RoleRequester)},
	},
	model.OrderTypeCustomerWholesale: {
		title:           "Fulfil wholesale order",
		assignmentRoles: []string{string(registry.RoleForeman), string(registry.RoleDelivery)},
	},
	model.OrderTypeAgentRetail: {
		title:           "Fulfil retail order",
		assignmentRoles: []string{string(registry.RoleDelivery)},
	},
}

// Layer wires order lifecycle events into automation task creation. It
// subscribes to the bus in New rather than exposing methods the orders
// engine calls directly — orders.Engine only knows about the narrow
// orders.Trigger interface (also satisfied here) so this package can evolve
// independently of the order engine's internals.
type Layer struct {
	automation *automation.Engine
	bus        *eventbus.Bus
	logger     *slog.Logger
}

func New(automationEngine *automation.Engine, bus *eventbus.Bus, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Layer{automation: automationEngine, bus: bus, logger: logger}
	if bus != nil {
		bus.Subscribe(eventbus.OrderStatusChanged, l.handleOrderStatusChanged)
	}
	return l
}

// OnOrderCreated satisfies orders.Trigger. It is invoked synchronously by
// orders.Engine.CreateOrder (best-effort: a failure here is logged by the
// caller, never rolls back order creation), per spec §4.8's "propagate
// failures as automation.failed events without aborting order creation."
func (l *Layer) OnOrderCreated(ctx context.Context, order *model.Order) error {
	tmpl, ok := templates[order.Type]
	if !ok {
		return nil
	}

	orderID := order.ID

	// The root task and the first per-role work item are independent writes
	// (neither reads the other's result), so they fan out concurrently via
	// errgroup rather than a sequential round-trip per SPEC_FULL §11's
	// "C8 trigger fan-out (root + per-role task creation)".
	var g errgroup.Group
	g.Go(func() error {
		_, err := l.automation.CreateTask(ctx, automation.CreateTaskRequest{
			Type:            "order",
			Title:           tmpl.title,
			CreatorID:       "system",
			RelatedOrderID:  &orderID,
			IsOrderRoot:     true,
			AssignmentRoles: tmpl.assignmentRoles,
			Metadata:        map[string]any{"orderType": string(order.Type)},
		})
		return err
	})
	g.Go(func() error {
		// Every order type except agentRetail gets an immediate foreman task; agentRetail's
		// delivery-first flow gets its delivery task chained from acceptDelivery
		// completion instead (no foreman role in that flow at all).
		if tmpl.assignmentRoles != nil && order.Type != model.OrderTypeAgentRetail {
			foremanRole := string(registry.RoleForeman)
			if _, err := l.automation.CreateTask(ctx, automation.CreateTaskRequest{
				Type:           "foremanWork",
				Title:          "Assemble and hand over order items",
				CreatorID:      "system",
				RelatedOrderID: &orderID,
				RequiredRole:   &foremanRole,
			}); err != nil {
				l.logger.Warn("failed to create initial foreman task", "orderId", order.ID, "err", err)
			}
		} else if order.Type == model.OrderTypeAgentRetail {
			deliveryRole := string(registry.RoleDelivery)
			if _, err := l.automation.CreateTask(ctx, automation.CreateTaskRequest{
				Type:           "deliveryWork",
				Title:          "Accept and deliver order",
				CreatorID:      "system",
				RelatedOrderID: &orderID,
				RequiredRole:   &deliveryRole,
			}); err != nil {
				l.logger.Warn("failed to create initial delivery task", "orderId", order.ID, "err", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if l.bus != nil {
			l.bus.Publish(ctx, eventbus.Event{
				Name:     eventbus.AutomationFailed,
				ActorID:  "system",
				EntityID: order.ID,
				Data: map[string]any{
					"orderId": order.ID,
					"reason":  err.Error(),
				},
			})
		}
		return err
	}

	return nil
}

// handleOrderStatusChanged implements spec §4.8's declarative hook points
// for order.statusChanged — currently a routing/logging point for the
// awaitingConfirmation transition; the actual requester notification is
// computed by the notification dispatcher subscribing to the same event,
// kept separate per DESIGN NOTES §9 (single responsibility per subscriber).
func (l *Layer) handleOrderStatusChanged(ctx context.Context, evt eventbus.Event) {
	status, _ := evt.Data["status"].(string)
	if status == string(model.OrderAwaitingConfirmation) {
		l.logger.Info("order awaiting requester confirmation", "orderId", evt.EntityID)
	}
}
