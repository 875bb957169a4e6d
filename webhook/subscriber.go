package webhook

import (
	"context"

	"github.com/ops-platform/automation-core/config"
	"github.com/ops-platform/automation-core/eventbus"
)

// liveWebhookConfig is the narrow slice of config.LiveConfig a Subscriber
// needs; declared here (rather than importing config.LiveConfig directly by
// concrete type) so webhook stays testable without constructing a full
// LiveConfig.
type liveWebhookConfig interface {
	Webhook() config.WebhookConfig
}

// Subscriber bridges every eventbus.Name the core publishes onto one
// outbound webhook delivery per event, grounded on the teacher's
// module/eventbus_trigger.go bus-to-sink wiring pattern. The webhook URL is
// read fresh from LiveConfig on every event so an operator's config reload
// (SPEC_FULL §10.3) takes effect without a restart.
type Subscriber struct {
	emitter *Emitter
	live    liveWebhookConfig
}

func NewSubscriber(emitter *Emitter, live liveWebhookConfig) *Subscriber {
	return &Subscriber{emitter: emitter, live: live}
}

// Attach registers a handler for every known event name on bus.
func (s *Subscriber) Attach(bus *eventbus.Bus) {
	for _, name := range []eventbus.Name{
		eventbus.OrderCreated,
		eventbus.OrderStatusChanged,
		eventbus.OrderCompleted,
		eventbus.TaskCreated,
		eventbus.TaskOpened,
		eventbus.TaskClaimed,
		eventbus.TaskReassigned,
		eventbus.TaskCompleted,
		eventbus.AutomationTriggered,
		eventbus.AutomationFailed,
		eventbus.SaleCompleted,
		eventbus.InventoryLowStock,
	} {
		bus.Subscribe(name, s.deliver)
	}
}

func (s *Subscriber) deliver(ctx context.Context, evt eventbus.Event) {
	cfg := s.live.Webhook()
	var actorID *string
	if evt.ActorID != "" {
		actorID = &evt.ActorID
	}
	payload := s.emitter.BuildPayload(
		string(evt.Name),
		evt.EventID,
		Actor{UserID: actorID},
		Entity{Type: entityTypeFor(evt.Name), ID: evt.EntityID},
		evt.Data,
	)
	s.emitter.Emit(ctx, payload, cfg.URL)
}

func entityTypeFor(name eventbus.Name) string {
	switch name {
	case eventbus.OrderCreated, eventbus.OrderStatusChanged, eventbus.OrderCompleted:
		return "order"
	case eventbus.TaskCreated, eventbus.TaskOpened, eventbus.TaskClaimed, eventbus.TaskReassigned, eventbus.TaskCompleted:
		return "automationTask"
	case eventbus.AutomationTriggered, eventbus.AutomationFailed:
		return "automation"
	case eventbus.SaleCompleted:
		return "sale"
	case eventbus.InventoryLowStock:
		return "inventory"
	default:
		return "unknown"
	}
}
