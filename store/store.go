// Package store defines the persistence port the engine components (C4-C7)
// depend on. Every cross-operation invariant in spec §5 is enforced here via
// WHERE-guarded updates and unique constraints — callers never re-derive
// correctness from two separate reads. Two implementations exist: an
// in-memory store (Memory, used by tests and as a zero-config runtime
// default) and a PostgreSQL store (Postgres, backed by jackc/pgx/v5) for
// production, both satisfying the same Store interface so business logic
// never imports a driver package directly.
package store

import (
	"context"
	"time"

	"github.com/ops-platform/automation-core/model"
)

// AutomationTaskFilter narrows AutomationTask listings (spec §4.7.6).
type AutomationTaskFilter struct {
	Status      *model.AutomationTaskStatus
	Type        *string
	CreatedBy   *string
	RequiredRole *string
	RelatedOrderID *string
	IncludeAll  bool // server-computed only; never settable by a client request
	CallerUserID string
	CallerIsAdmin bool
	Limit       int
	Offset      int
}

// Store is the full persistence port.
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error

	// Workflow step tasks
	CreateWorkflowStepTasks(ctx context.Context, tasks []*model.WorkflowStepTask) error
	ListWorkflowStepTasksByOrder(ctx context.Context, orderID string) ([]*model.WorkflowStepTask, error)
	GetWorkflowStepTask(ctx context.Context, id string) (*model.WorkflowStepTask, error)
	// CompleteWorkflowStepConditional implements spec §4.6's guarded UPDATE:
	// status='active' AND (assignedUserId IS NULL OR assignedUserId=userID).
	// Returns rowsAffected (0 or 1); callers re-read on 0 to classify the
	// precise failure (NotFound/PermissionDenied/InvalidState/Conflict).
	CompleteWorkflowStepConditional(ctx context.Context, taskID, userID string) (rowsAffected int, err error)
	// ActivatePendingConditional implements the status='pending' guard used
	// when advancing to the next step.
	ActivatePendingConditional(ctx context.Context, taskID string) (rowsAffected int, err error)
	// FindNextPendingStep returns the pending step with the lowest
	// StepIndex for the order — the registry's next step in sequence.
	// Ordering is by step_index, never by id: ids are random UUIDs.
	FindNextPendingStep(ctx context.Context, orderID string) (*model.WorkflowStepTask, error)
	FindAnyPendingRequiredStep(ctx context.Context, orderID string) (*model.WorkflowStepTask, error)
	FindActiveStepInSet(ctx context.Context, orderID string, stepKeys map[string]bool) (*model.WorkflowStepTask, error)
	FindActiveStep(ctx context.Context, orderID string) (*model.WorkflowStepTask, error)

	// Automation tasks
	CreateAutomationTask(ctx context.Context, t *model.AutomationTask) error
	GetAutomationTask(ctx context.Context, id string) (*model.AutomationTask, error)
	// ClaimAutomationTaskConditional implements spec §4.7.2 step 8: guard
	// status IN (open, pending) AND claimedByUserId IS NULL.
	ClaimAutomationTaskConditional(ctx context.Context, taskID, userID string, now time.Time) (rowsAffected int, err error)
	OverrideClaimAutomationTask(ctx context.Context, taskID, userID string, now time.Time) error
	UpdateAutomationTaskStatus(ctx context.Context, taskID string, status model.AutomationTaskStatus, completedAt *time.Time) error
	ListAutomationTasks(ctx context.Context, f AutomationTaskFilter) ([]*model.AutomationTask, error)
	// ListActiveByOrderAndRole backs the partial-unique-index semantics of
	// spec §5/§6: at most one AutomationTask per (relatedOrderId,
	// requiredRole) in the active set {open,claimed,pending,inProgress}.
	ListActiveByOrderAndRole(ctx context.Context, orderID, role string) ([]*model.AutomationTask, error)
	GetOrderRootTask(ctx context.Context, orderID string) (*model.AutomationTask, error)
	ListNonRootAutomationTasksByOrder(ctx context.Context, orderID string) ([]*model.AutomationTask, error)
	ListAvailableTasksForRole(ctx context.Context, role string, limit, offset int) ([]*model.AutomationTask, error)

	// Task assignments
	CreateAssignment(ctx context.Context, a *model.TaskAssignment) error
	GetAssignment(ctx context.Context, id string) (*model.TaskAssignment, error)
	ListAssignmentsByTask(ctx context.Context, taskID string) ([]*model.TaskAssignment, error)
	FindPlaceholderAssignment(ctx context.Context, taskID, role string) (*model.TaskAssignment, error)
	FindAssignmentForUser(ctx context.Context, taskID, userID string) (*model.TaskAssignment, error)
	UpdateAssignment(ctx context.Context, a *model.TaskAssignment) error
	FirstNonDoneAssignment(ctx context.Context, taskID string) (*model.TaskAssignment, error)
	FirstNonDoneAssignmentForUser(ctx context.Context, taskID, userID string) (*model.TaskAssignment, error)

	// Task events (append-only)
	AppendTaskEvent(ctx context.Context, e *model.TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID string) ([]*model.TaskEvent, error)

	// Inventory
	CreateInventory(ctx context.Context, inv *model.Inventory) error
	GetInventoryByProduct(ctx context.Context, productID string) (*model.Inventory, error)
	// UpdateInventoryVersioned performs a version-guarded CAS update.
	UpdateInventoryVersioned(ctx context.Context, inv *model.Inventory, expectedVersion int) (rowsAffected int, err error)
	AppendInventoryTransaction(ctx context.Context, tx *model.InventoryTransaction) error
	ListLowStock(ctx context.Context, limit int) ([]*model.Inventory, error)

	// Sales
	CreateSale(ctx context.Context, s *model.Sale) error
	GetSaleByIdempotencyKey(ctx context.Context, key string) (*model.Sale, error)
	SumTransactionChanges(ctx context.Context, inventoryID string) (int, error)

	// Notifications
	CreateNotification(ctx context.Context, n *model.Notification) error

	// Operational roles / participants (the core's own copy of the external
	// user-admin subsystem's role table; re-queried fresh on every
	// authorisation decision per DESIGN NOTES §9, never cached).
	GetOperationalRoles(ctx context.Context, userID string) ([]string, error)
	ListUserIDsWithRole(ctx context.Context, role string) ([]string, error)
	ListAdminUserIDs(ctx context.Context) ([]string, error)
	ListOrderParticipants(ctx context.Context, orderID string) ([]string, error)
}
