package httpapi

import (
	"net/http"

	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/automation"
	"github.com/ops-platform/automation-core/inventory"
	"github.com/ops-platform/automation-core/metrics"
	"github.com/ops-platform/automation-core/orders"
	"github.com/ops-platform/automation-core/sales"
	"github.com/ops-platform/automation-core/store"
)

// Services bundles every engine the router wires into handlers, grounded
// on the teacher's api.Stores aggregate-of-dependencies pattern (api/router.go).
type Services struct {
	Store      store.Store
	Orders     *orders.Engine
	Automation *automation.Engine
	Sales      *sales.Service
	Inventory  *inventory.Service
	Verifier   *authctx.Verifier
	// Metrics is optional; when nil, GET /metrics stays registered and
	// answers 404, through metrics.Recorder's nil-safe handler (see
	// metrics.(*Recorder).Handler).
	Metrics *metrics.Recorder
}

// NewRouter builds the full spec §6 endpoint table over the Go 1.22+
// method+path ServeMux, grounded on the teacher's api/router.go NewRouter.
// Every route is wrapped with request-id stamping, and every route except
// GET /metrics, /livez and /readyz with bearer-auth; the
// teacher's per-route RequireRole/company/project scoping has no analogue
// here, since the core's only two roles (system admin, operational role) are
// decided inside each engine call, not by the router.
func NewRouter(svc Services) http.Handler {
	mux := http.NewServeMux()
	mw := NewMiddleware(svc.Verifier)

	orderH := NewOrderHandlers(svc.Orders)
	autoH := NewAutomationHandlers(svc.Automation, svc.Store)
	salesH := NewSalesHandlers(svc.Sales)
	invH := NewInventoryHandlers(svc.Inventory)
	healthH := newHealthHandlers(svc.Store)

	auth := func(h http.HandlerFunc) http.Handler {
		return mw.RequireAuth(h)
	}

	mux.Handle("POST /orders", auth(orderH.CreateOrder))
	mux.Handle("POST /tasks/{workflowStepId}/complete", auth(orderH.CompleteWorkflowStep))

	mux.Handle("POST /automation/tasks", auth(autoH.CreateTask))
	mux.Handle("GET /automation/tasks", auth(autoH.ListTasks))
	mux.Handle("GET /automation/tasks/{id}", auth(autoH.GetTask))
	mux.Handle("GET /automation/tasks/{id}/events", auth(autoH.ListEvents))
	mux.Handle("GET /automation/available-tasks", auth(autoH.AvailableTasks))
	mux.Handle("POST /automation/tasks/{id}/claim", auth(autoH.Claim))
	mux.Handle("POST /automation/tasks/{id}/complete", auth(autoH.CompleteAssignment))
	mux.Handle("POST /automation/tasks/{id}/workflow-step/complete", auth(autoH.CompleteWorkflowStep))

	mux.Handle("POST /sales", auth(salesH.RecordSale))

	mux.Handle("POST /inventory/product/{id}/restock", auth(invH.Restock))

	mux.Handle("GET /metrics", svc.Metrics.Handler())
	mux.HandleFunc("GET /livez", healthH.Live)
	mux.HandleFunc("GET /readyz", healthH.Ready)

	return mw.WithRequestID(mux)
}
