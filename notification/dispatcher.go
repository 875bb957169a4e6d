// Package notification implements C9: computing recipient sets for domain
// events and persisting model.Notification rows (spec §4.9). Grounded on
// the same bus-subscriber wiring as trigger.Layer. Realtime push through an
// external chat/messaging subsystem is out of scope (spec §6) — Dispatcher
// only persists; delivery of "push this to the user's open session" belongs
// to that external system, represented here by the no-op Pusher default.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/store"
)

// Pusher is the external realtime messaging subsystem's collaborator
// (spec §6: publishToRoom/createDirectMessage). It is never implemented by
// this core — only a no-op default is provided, so wiring one in later
// (once that subsystem exists) doesn't require touching Dispatcher.
type Pusher interface {
	PublishToRoom(ctx context.Context, roomName, event string, payload map[string]any)
	CreateDirectMessage(ctx context.Context, fromUserID, toUserID, content string)
}

type noopPusher struct{}

func (noopPusher) PublishToRoom(context.Context, string, string, map[string]any) {}
func (noopPusher) CreateDirectMessage(context.Context, string, string, string)   {}

type Dispatcher struct {
	store  store.Store
	pusher Pusher
	logger *slog.Logger
}

func New(st store.Store, bus *eventbus.Bus, pusher Pusher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pusher == nil {
		pusher = noopPusher{}
	}
	d := &Dispatcher{store: st, pusher: pusher, logger: logger}
	if bus != nil {
		bus.Subscribe(eventbus.TaskClaimed, d.onTaskClaimed)
		bus.Subscribe(eventbus.TaskReassigned, d.onTaskReassigned)
		bus.Subscribe(eventbus.TaskCompleted, d.onTaskCompleted)
		bus.Subscribe(eventbus.OrderCompleted, d.onOrderCompleted)
		bus.Subscribe(eventbus.InventoryLowStock, d.onInventoryLowStock)
		bus.Subscribe(eventbus.SaleCompleted, d.onSaleCompleted)
	}
	return d
}

// onTaskClaimed notifies other required-role holders and admins, never the
// claimer (spec §4.9). No prior claimer is looked up or notified.
func (d *Dispatcher) onTaskClaimed(ctx context.Context, evt eventbus.Event) {
	taskID := evt.EntityID
	task, err := d.store.GetAutomationTask(ctx, taskID)
	if err != nil {
		d.logger.Warn("notification: failed to load claimed task", "taskId", taskID, "err", err)
		return
	}

	recipients := map[string]bool{}
	if task.RequiredRole != nil {
		holders, err := d.store.ListUserIDsWithRole(ctx, *task.RequiredRole)
		if err == nil {
			for _, u := range holders {
				if u != evt.ActorID {
					recipients[u] = true
				}
			}
		}
	}
	d.addAdmins(ctx, recipients)
	delete(recipients, evt.ActorID)

	d.notifyAll(ctx, recipients, "task.claimed", "Task claimed",
		fmt.Sprintf("%s claimed %q", evt.ActorID, task.Title), evt.Data)
}

// onTaskReassigned notifies the previous user, the new user, and admins.
func (d *Dispatcher) onTaskReassigned(ctx context.Context, evt eventbus.Event) {
	recipients := map[string]bool{}
	if from, ok := evt.Data["fromUserId"].(string); ok && from != "" {
		recipients[from] = true
	}
	if to, ok := evt.Data["toUserId"].(string); ok && to != "" {
		recipients[to] = true
	}
	d.addAdmins(ctx, recipients)

	d.notifyAll(ctx, recipients, "task.reassigned", "Task reassigned", "A task assignment changed", evt.Data)
}

// onTaskCompleted and onOrderCompleted notify every order participant.
func (d *Dispatcher) onTaskCompleted(ctx context.Context, evt eventbus.Event) {
	orderID, _ := evt.Data["orderId"].(string)
	if orderID == "" {
		return
	}
	d.notifyOrderParticipants(ctx, orderID, "task.completed", "Task completed", "A task on your order was completed", evt.Data)
}

func (d *Dispatcher) onOrderCompleted(ctx context.Context, evt eventbus.Event) {
	orderID := evt.EntityID
	if orderID == "" {
		orderID, _ = evt.Data["orderId"].(string)
	}
	if orderID == "" {
		return
	}
	d.notifyOrderParticipants(ctx, orderID, "order.completed", "Order completed", "Your order has been completed", evt.Data)
}

// onInventoryLowStock notifies admins and any warehouse/foreman role holder.
func (d *Dispatcher) onInventoryLowStock(ctx context.Context, evt eventbus.Event) {
	recipients := map[string]bool{}
	for _, role := range []string{"warehouse", "foreman"} {
		holders, err := d.store.ListUserIDsWithRole(ctx, role)
		if err != nil {
			continue
		}
		for _, u := range holders {
			recipients[u] = true
		}
	}
	d.addAdmins(ctx, recipients)

	productID, _ := evt.Data["productId"].(string)
	d.notifyAll(ctx, recipients, "inventory.lowStock", "Low stock alert",
		fmt.Sprintf("Product %s is low on stock", productID), evt.Data)
}

// onSaleCompleted notifies admins only.
func (d *Dispatcher) onSaleCompleted(ctx context.Context, evt eventbus.Event) {
	recipients := map[string]bool{}
	d.addAdmins(ctx, recipients)
	d.notifyAll(ctx, recipients, "sale.completed", "Sale recorded", "A new sale was recorded", evt.Data)
}

func (d *Dispatcher) notifyOrderParticipants(ctx context.Context, orderID, event, title, body string, data map[string]any) {
	participants, err := d.store.ListOrderParticipants(ctx, orderID)
	if err != nil {
		d.logger.Warn("notification: failed to list order participants", "orderId", orderID, "err", err)
		return
	}
	recipients := map[string]bool{}
	for _, u := range participants {
		recipients[u] = true
	}
	d.notifyAll(ctx, recipients, event, title, body, data)
}

func (d *Dispatcher) addAdmins(ctx context.Context, into map[string]bool) {
	admins, err := d.store.ListAdminUserIDs(ctx)
	if err != nil {
		d.logger.Warn("notification: failed to list admins", "err", err)
		return
	}
	for _, a := range admins {
		into[a] = true
	}
}

func (d *Dispatcher) notifyAll(ctx context.Context, recipients map[string]bool, event, title, body string, data map[string]any) {
	for userID := range recipients {
		n := &model.Notification{
			ID:       uuid.NewString(),
			UserID:   userID,
			Event:    event,
			Title:    title,
			Body:     body,
			Metadata: data,
		}
		if err := d.store.CreateNotification(ctx, n); err != nil {
			d.logger.Warn("notification: failed to persist notification", "userId", userID, "event", event, "err", err)
			continue
		}
		d.pusher.PublishToRoom(ctx, "user:"+userID, event, data)
	}
}
