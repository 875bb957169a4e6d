package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-platform/automation-core/config"
	"github.com/ops-platform/automation-core/eventbus"
)

func TestSubscriber_DeliversPublishedEventToConfiguredURL(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	live := config.NewLiveConfig(&config.Config{Webhook: config.WebhookConfig{URL: srv.URL, Environment: "test", Source: "automation-core"}})
	emitter := New(Config{Environment: "test"}, nil)

	bus := eventbus.New(nil)
	NewSubscriber(emitter, live).Attach(bus)

	bus.Publish(context.Background(), eventbus.Event{
		Name:     eventbus.OrderCreated,
		ActorID:  "alice",
		EntityID: "order-1",
		Data:     map[string]any{"orderType": "agentRetail"},
	})

	select {
	case p := <-received:
		assert.Equal(t, "order.created", p.Event)
		assert.Equal(t, "order", p.Entity.Type)
		assert.Equal(t, "order-1", p.Entity.ID)
		require.NotNil(t, p.Actor.UserID)
		assert.Equal(t, "alice", *p.Actor.UserID)
	default:
		t.Fatal("subscriber did not deliver event to webhook server")
	}
}

func TestSubscriber_SkipsDeliveryWhenNoURLConfigured(t *testing.T) {
	live := config.NewLiveConfig(&config.Config{})
	emitter := New(Config{Environment: "test"}, nil)
	bus := eventbus.New(nil)
	NewSubscriber(emitter, live).Attach(bus)

	// Must not panic or block despite no configured URL.
	bus.Publish(context.Background(), eventbus.Event{
		Name:     eventbus.TaskCompleted,
		EntityID: "task-1",
	})
}

func TestEntityTypeFor(t *testing.T) {
	cases := map[eventbus.Name]string{
		eventbus.OrderCreated:        "order",
		eventbus.TaskClaimed:         "automationTask",
		eventbus.AutomationTriggered: "automation",
		eventbus.SaleCompleted:       "sale",
		eventbus.InventoryLowStock:   "inventory",
	}
	for name, want := range cases {
		assert.Equal(t, want, entityTypeFor(name))
	}
}
