package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-platform/automation-core/automation"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/orders"
	"github.com/ops-platform/automation-core/store"
)

func TestOnOrderCreated_InstantiatesRootAndForemanTasks(t *testing.T) {
	st := store.NewMemory()
	bus := eventbus.New(nil)
	ordersEngine := orders.NewEngine(st, bus, nil)
	autoEngine := automation.NewEngine(st, bus, ordersEngine, nil)
	layer := New(autoEngine, bus, nil)
	ordersEngine.SetTrigger(layer)

	order, err := ordersEngine.CreateOrder(context.Background(), orders.CreateOrderRequest{
		Type:      model.OrderTypeAgentRestock,
		CreatorID: "alice",
	})
	require.NoError(t, err)

	root, err := st.GetOrderRootTask(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, root.IsOrderRoot)

	nonRoot, err := st.ListNonRootAutomationTasksByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, nonRoot, 1)
	assert.Equal(t, "foremanWork", nonRoot[0].Type)
}

func TestOnOrderCreated_AgentRetailCascadesToOrderCompletedOnceDeliveryDone(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	bus := eventbus.New(nil)
	ordersEngine := orders.NewEngine(st, bus, nil)
	autoEngine := automation.NewEngine(st, bus, ordersEngine, nil)
	layer := New(autoEngine, bus, nil)
	ordersEngine.SetTrigger(layer)

	order, err := ordersEngine.CreateOrder(ctx, orders.CreateOrderRequest{
		Type:      model.OrderTypeAgentRetail,
		CreatorID: "alice",
	})
	require.NoError(t, err)

	nonRoot, err := st.ListNonRootAutomationTasksByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, nonRoot, 1)
	deliveryTask := nonRoot[0]
	assert.Equal(t, "deliveryWork", deliveryTask.Type)

	st.SetOperationalRoles("dave", []string{"delivery"}, false)
	_, err = autoEngine.Claim(ctx, deliveryTask.ID, "dave", false, false)
	require.NoError(t, err)

	// acceptDelivery
	_, err = autoEngine.CompleteAssignment(ctx, automation.CompleteAssignmentRequest{TaskID: deliveryTask.ID, CallerUserID: "dave"})
	require.NoError(t, err)

	reloaded, err := st.GetAutomationTask(ctx, deliveryTask.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskClaimed, reloaded.Status, "task should stay claimed while deliverItems remains")

	// deliverItems, the role's last required step
	_, err = autoEngine.CompleteAssignment(ctx, automation.CompleteAssignmentRequest{TaskID: deliveryTask.ID, CallerUserID: "dave"})
	require.NoError(t, err)

	reloaded, err = st.GetAutomationTask(ctx, deliveryTask.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, reloaded.Status)

	root, err := st.GetOrderRootTask(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, root.Status)

	gotOrder, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, gotOrder.Status)
}
