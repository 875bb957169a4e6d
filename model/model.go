// Package model holds the entities described in spec.md §3. Status fields
// are small string-backed enums (tagged at the boundary per DESIGN NOTES §9)
// rather than bare strings, so illegal values can't silently flow through
// internal code.
package model

import "time"

type OrderType string

const (
	OrderTypeAgentRestock      OrderType = "agentRestock"
	OrderTypeAgentRetail       OrderType = "agentRetail"
	OrderTypeStoreKeeperRestock OrderType = "storeKeeperRestock"
	OrderTypeCustomerWholesale OrderType = "customerWholesale"
)

type OrderStatus string

const (
	OrderSubmitted           OrderStatus = "submitted"
	OrderInProgress          OrderStatus = "inProgress"
	OrderAwaitingConfirmation OrderStatus = "awaitingConfirmation"
	OrderCompleted           OrderStatus = "completed"
	OrderCancelled           OrderStatus = "cancelled"
)

type Order struct {
	ID               string
	Type             OrderType
	Status           OrderStatus
	CreatedByUserID  string
	RelatedChannelID *string
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepActive  StepStatus = "active"
	StepDone    StepStatus = "done"
	StepSkipped StepStatus = "skipped"
)

type WorkflowStepTask struct {
	ID      string
	OrderID string
	StepKey string
	Title   string
	// StepIndex is the step's position in the order type's registered
	// sequence (spec §4.6), assigned once at creation. Activation order
	// follows this field, never the (randomly-generated) ID — see
	// orders.Engine.activateNext.
	StepIndex      int
	AssignedUserID *string
	Status         StepStatus
	Required       bool
	ActivatedAt    *time.Time
	CompletedAt    *time.Time
	Version        int
}

type AutomationTaskStatus string

const (
	TaskOpen       AutomationTaskStatus = "open"
	TaskClaimed    AutomationTaskStatus = "claimed"
	TaskInProgress AutomationTaskStatus = "inProgress"
	TaskPending    AutomationTaskStatus = "pending"
	TaskCompleted  AutomationTaskStatus = "completed"
	TaskCancelled  AutomationTaskStatus = "cancelled"
)

// ActiveClaimStatuses is the status set that occupies the partial unique
// index on (relatedOrderId, requiredRole) per spec §6/§5.
var ActiveClaimStatuses = map[AutomationTaskStatus]bool{
	TaskOpen:       true,
	TaskClaimed:    true,
	TaskPending:    true,
	TaskInProgress: true,
}

type AutomationTask struct {
	ID              string
	Type            string
	Status          AutomationTaskStatus
	Title           string
	CreatedByUserID string
	RelatedOrderID  *string
	RequiredRole    *string
	ClaimedByUserID *string
	ClaimedAt       *time.Time
	IsOrderRoot     bool
	CompletedAt     *time.Time
	Metadata        map[string]any
	CreatedAt       time.Time
}

type AssignmentStatus string

const (
	AssignPending    AssignmentStatus = "pending"
	AssignInProgress AssignmentStatus = "inProgress"
	AssignDone       AssignmentStatus = "done"
	AssignSkipped    AssignmentStatus = "skipped"
)

type TaskAssignment struct {
	ID               string
	AutomationTaskID string
	UserID           *string
	RoleHint         string
	Status           AssignmentStatus
	Notes            *string
	AssignedAt       time.Time
	CompletedAt      *time.Time
}

type TaskEventType string

const (
	EventCreated        TaskEventType = "created"
	EventOpened         TaskEventType = "opened"
	EventClaimed        TaskEventType = "claimed"
	EventReassigned     TaskEventType = "reassigned"
	EventAssigned       TaskEventType = "assigned"
	EventStepCompleted  TaskEventType = "stepCompleted"
	EventClosed         TaskEventType = "closed"
	EventCancelled      TaskEventType = "cancelled"
)

// TaskEvent is append-only. Seq is a per-task monotonic counter supplementing
// CreatedAt, since two events can share a wall-clock timestamp under
// concurrency (SPEC_FULL §12.3).
type TaskEvent struct {
	ID               string
	AutomationTaskID string
	UserID           *string
	EventType        TaskEventType
	Metadata         map[string]any
	Seq              int
	CreatedAt        time.Time
}

type Inventory struct {
	ID                string
	ProductID         string
	ProductName       string
	TotalStock        int
	TotalSold         int
	LowStockThreshold int
	Version           int
}

type TxReason string

const (
	TxSale          TxReason = "sale"
	TxRestock       TxReason = "restock"
	TxAdjustment    TxReason = "adjustment"
	TxReturn        TxReason = "return"
	TxDamage        TxReason = "damage"
	TxCorrection    TxReason = "correction"
	TxProcessingIn  TxReason = "processingIn"
	TxProcessingOut TxReason = "processingOut"
)

type InventoryTransaction struct {
	ID                string
	InventoryID       string
	Change            int
	Reason            TxReason
	RelatedSaleID     *string
	RelatedOrderID    *string
	RelatedBatchID    *string
	PerformedByUserID string
	Notes             *string
	CreatedAt         time.Time
}

type SaleChannel string

const (
	ChannelAgent     SaleChannel = "agent"
	ChannelStore     SaleChannel = "store"
	ChannelOnline    SaleChannel = "online"
	ChannelWholesale SaleChannel = "wholesale"
)

type Sale struct {
	ID             string
	ProductID      string
	Quantity       int
	UnitPrice      float64
	TotalAmount    float64
	SoldByUserID   string
	SaleChannel    SaleChannel
	RelatedOrderID *string
	IdempotencyKey *string
	CustomerName   *string
	CreatedAt      time.Time
}

type Notification struct {
	ID         string
	UserID     string
	Event      string
	Title      string
	Body       string
	Metadata   map[string]any
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// User is the minimal view of the external auth/user-admin subsystem (§6)
// that the core needs: identity, admin flag, and the operational roles it
// re-queries fresh on every authorisation decision (DESIGN NOTES §9).
type User struct {
	ID            string
	Username      string
	IsSystemAdmin bool
}
