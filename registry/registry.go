// Package registry is the single source of truth for step ordering and role
// assignment (spec §4.1). It is process-wide, read-only state initialised
// once at package load, matching DESIGN NOTES §9's "no user-defined DSL" —
// the sequences below are a fixed Go literal, not data loaded from a config
// file a caller could mutate at runtime.
package registry

import "github.com/ops-platform/automation-core/model"

// Role is an operational role a workflow step is assigned to.
type Role string

const (
	RoleForeman   Role = "foreman"
	RoleDelivery  Role = "delivery"
	RoleRequester Role = "requester"
	RoleWarehouse Role = "warehouse"
)

// StepDef is one entry in an order type's canonical step sequence.
type StepDef struct {
	StepKey     string
	Title       string
	ActionLabel string
	AssignedTo  Role
	Required    bool
}

var restockLikeSequence = []StepDef{
	{StepKey: "assembleItems", Title: "Assemble items", ActionLabel: "Mark assembled", AssignedTo: RoleForeman, Required: true},
	{StepKey: "foremanHandover", Title: "Hand over to delivery", ActionLabel: "Hand over", AssignedTo: RoleForeman, Required: true},
	{StepKey: "deliveryReceived", Title: "Delivery received handover", ActionLabel: "Acknowledge receipt", AssignedTo: RoleDelivery, Required: true},
	{StepKey: "deliverItems", Title: "Deliver items", ActionLabel: "Mark delivered", AssignedTo: RoleDelivery, Required: true},
	{StepKey: "confirmReceived", Title: "Confirm items received", ActionLabel: "Confirm receipt", AssignedTo: RoleRequester, Required: true},
}

// registryTable maps each order type to its ordered step sequence.
// customerWholesale omits the final requester confirmation per spec §4.1.
var registryTable = map[model.OrderType][]StepDef{
	model.OrderTypeAgentRestock:       restockLikeSequence,
	model.OrderTypeStoreKeeperRestock: restockLikeSequence,
	model.OrderTypeCustomerWholesale:  restockLikeSequence[:4],
	model.OrderTypeAgentRetail: {
		{StepKey: "acceptDelivery", Title: "Accept delivery", ActionLabel: "Accept", AssignedTo: RoleDelivery, Required: true},
		{StepKey: "deliverItems", Title: "Deliver items", ActionLabel: "Mark delivered", AssignedTo: RoleDelivery, Required: true},
	},
}

// StepsFor returns the canonical, ordered step sequence for an order type.
// The returned slice is a defensive copy; callers must not be able to mutate
// process-wide state.
func StepsFor(t model.OrderType) ([]StepDef, bool) {
	steps, ok := registryTable[t]
	if !ok {
		return nil, false
	}
	out := make([]StepDef, len(steps))
	copy(out, steps)
	return out, true
}

// IsKnownType reports whether t has a registered step sequence.
func IsKnownType(t model.OrderType) bool {
	_, ok := registryTable[t]
	return ok
}

// RoleStepKeys is the fixed mapping from a role to the workflow step keys it
// may complete, used by the automation engine's workflow-gating check
// (spec §4.7.3).
var RoleStepKeys = map[Role]map[string]bool{
	RoleForeman:   {"assembleItems": true, "foremanHandover": true},
	RoleDelivery:  {"deliveryReceived": true, "deliverItems": true, "acceptDelivery": true},
	RoleRequester: {"confirmReceived": true},
}
