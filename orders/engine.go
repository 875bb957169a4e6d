// Package orders implements C6: order creation and the workflow-step state
// machine (spec §4.6). Grounded on the teacher's pattern of a service struct
// wrapping store.Store + eventbus.Bus, with every state transition expressed
// as a single WHERE-guarded store call whose rows-affected count drives
// precise error classification, matching the CAS discipline already used by
// store.Memory/store.Postgres.
package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/registry"
	"github.com/ops-platform/automation-core/store"
)

// Trigger is the C8 collaborator invoked (best-effort) after an order is
// created, per spec §4.6's "invoke C8 to create automation tasks" step.
// It is consulted directly rather than purely over the event bus so the
// caller gets synchronous visibility into trigger failure for logging, but
// a Trigger failure never rolls back order creation — it is always
// swallowed by CreateOrder after being logged.
type Trigger interface {
	OnOrderCreated(ctx context.Context, order *model.Order) error
}

// noopTrigger is the default when no Trigger is wired, so Engine never
// nil-panics before the trigger package exists/is configured.
type noopTrigger struct{}

func (noopTrigger) OnOrderCreated(context.Context, *model.Order) error { return nil }

type Engine struct {
	store   store.Store
	bus     *eventbus.Bus
	trigger Trigger
	logger  *slog.Logger
}

func NewEngine(st store.Store, bus *eventbus.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, bus: bus, trigger: noopTrigger{}, logger: logger}
}

// SetTrigger wires the C8 collaborator. Called once during bootstrap after
// the trigger package is constructed, avoiding an orders<->trigger import
// cycle (trigger already imports orders/automation to act on events).
func (e *Engine) SetTrigger(t Trigger) {
	if t == nil {
		t = noopTrigger{}
	}
	e.trigger = t
}

// CreateOrderRequest carries the inputs to CreateOrder.
type CreateOrderRequest struct {
	Type             model.OrderType
	CreatorID        string
	Metadata         map[string]any
	RelatedChannelID *string
}

// CreateOrder implements spec §4.6's create operation: validate, normalise
// metadata, persist, instantiate the registry's step sequence with the
// first step active, publish order.created, invoke C8 best-effort.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if !registry.IsKnownType(req.Type) {
		return nil, coreerr.ValidationErrorf("unknown order type %q", req.Type)
	}
	steps, _ := registry.StepsFor(req.Type)
	if len(steps) == 0 {
		return nil, coreerr.ValidationErrorf("order type %q has no registered workflow", req.Type)
	}

	order := &model.Order{
		ID:               uuid.NewString(),
		Type:             req.Type,
		Status:           model.OrderSubmitted,
		CreatedByUserID:  req.CreatorID,
		RelatedChannelID: req.RelatedChannelID,
		Metadata:         normaliseMetadata(req.Metadata),
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		return nil, coreerr.Internalf(err, "create order")
	}

	now := time.Now()
	stepTasks := make([]*model.WorkflowStepTask, 0, len(steps))
	for i, def := range steps {
		st := &model.WorkflowStepTask{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			StepKey:   def.StepKey,
			Title:     def.Title,
			StepIndex: i,
			Required:  def.Required,
			Status:    model.StepPending,
		}
		if i == 0 {
			st.Status = model.StepActive
			st.ActivatedAt = &now
		}
		stepTasks = append(stepTasks, st)
	}
	if err := e.store.CreateWorkflowStepTasks(ctx, stepTasks); err != nil {
		return nil, coreerr.Internalf(err, "create workflow step tasks")
	}

	if e.bus != nil {
		e.bus.Publish(ctx, eventbus.Event{
			Name:     eventbus.OrderCreated,
			ActorID:  req.CreatorID,
			EntityID: order.ID,
			Data: map[string]any{
				"orderId":   order.ID,
				"orderType": string(order.Type),
			},
		})
	}

	if err := e.trigger.OnOrderCreated(ctx, order); err != nil {
		e.logger.Warn("order trigger failed, order creation unaffected", "orderId", order.ID, "err", err)
	}

	return order, nil
}

// normaliseMetadata implements spec §4.6's form-payload extraction: any
// free-form submission payload is preserved verbatim under "formPayload",
// while top-level keys pass through unchanged so dedicated fields remain
// addressable without reparsing the original payload.
func normaliseMetadata(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if _, hasForm := out["formPayload"]; !hasForm {
		out["formPayload"] = raw
	}
	return out
}

func (e *Engine) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, coreerr.NotFoundf("order %s not found", id)
		}
		return nil, coreerr.Internalf(err, "get order")
	}
	return o, nil
}

// CompletionOutcome reports what happened as a side effect of CompleteStep,
// so callers (the automation engine's chaining logic, the HTTP layer) can
// react without re-deriving it from events.
type CompletionOutcome struct {
	CompletedStep  *model.WorkflowStepTask
	ActivatedNext  *model.WorkflowStepTask
	OrderStatus    model.OrderStatus
	StatusChanged  bool
}

// CompleteStep implements spec §4.6: an atomic conditional UPDATE that is
// the single point of serialization for "at most one active step". Exactly
// the outcomes NotFound/PermissionDenied/InvalidState/Conflict are possible
// on a failed guard — this function classifies a 0-row update into precisely
// one of them, never anything else.
func (e *Engine) CompleteStep(ctx context.Context, stepTaskID, userID string) (*CompletionOutcome, error) {
	rows, err := e.store.CompleteWorkflowStepConditional(ctx, stepTaskID, userID)
	if err != nil {
		return nil, coreerr.Internalf(err, "complete workflow step")
	}
	if rows == 0 {
		return nil, e.classifyStepFailure(ctx, stepTaskID, userID)
	}

	step, err := e.store.GetWorkflowStepTask(ctx, stepTaskID)
	if err != nil {
		return nil, coreerr.Internalf(err, "re-read completed step")
	}

	outcome := &CompletionOutcome{CompletedStep: step}

	if e.bus != nil {
		e.bus.Publish(ctx, eventbus.Event{
			Name:     eventbus.TaskCompleted,
			ActorID:  userID,
			EntityID: step.ID,
			Data: map[string]any{
				"workflowStepId": step.ID,
				"orderId":        step.OrderID,
				"stepKey":        step.StepKey,
			},
		})
	}

	next, err := e.activateNext(ctx, step.OrderID)
	if err != nil {
		e.logger.Warn("failed to activate next workflow step", "orderId", step.OrderID, "err", err)
	} else if next != nil {
		outcome.ActivatedNext = next
		if e.bus != nil {
			e.bus.Publish(ctx, eventbus.Event{
				Name:     eventbus.TaskOpened,
				ActorID:  userID,
				EntityID: next.ID,
				Data: map[string]any{
					"workflowStepId": next.ID,
					"orderId":        next.OrderID,
					"stepKey":        next.StepKey,
				},
			})
		}
	}

	newStatus, changed, err := e.recomputeOrderStatus(ctx, step.OrderID)
	if err != nil {
		e.logger.Warn("failed to recompute order status", "orderId", step.OrderID, "err", err)
	} else {
		outcome.OrderStatus = newStatus
		outcome.StatusChanged = changed
		if changed && e.bus != nil {
			evtName := eventbus.OrderStatusChanged
			if newStatus == model.OrderCompleted {
				evtName = eventbus.OrderCompleted
			}
			e.bus.Publish(ctx, eventbus.Event{
				Name:     evtName,
				ActorID:  userID,
				EntityID: step.OrderID,
				Data: map[string]any{
					"orderId": step.OrderID,
					"status":  string(newStatus),
				},
			})
		}
	}

	return outcome, nil
}

// classifyStepFailure re-reads the step after a failed guarded update to
// determine exactly which of NotFound/PermissionDenied/InvalidState/Conflict
// applies (spec §4.6: "These are the ONLY outcomes").
func (e *Engine) classifyStepFailure(ctx context.Context, stepTaskID, userID string) error {
	step, err := e.store.GetWorkflowStepTask(ctx, stepTaskID)
	if err != nil {
		if err == store.ErrNotFound {
			return coreerr.NotFoundf("workflow step %s not found", stepTaskID)
		}
		return coreerr.Internalf(err, "re-read workflow step")
	}
	if step.Status != model.StepActive {
		return coreerr.InvalidStatef("notActive", "workflow step %s is not active (status=%s)", stepTaskID, step.Status)
	}
	if step.AssignedUserID != nil && *step.AssignedUserID != userID {
		return coreerr.PermissionDeniedf("wrongAssignee", "workflow step %s is assigned to a different user", stepTaskID)
	}
	// Status was active and assignee matched on re-read, yet the guarded
	// update still affected 0 rows: someone else mutated it between our
	// check and the UPDATE.
	return coreerr.Conflictf("concurrentModification", "workflow step %s was modified concurrently, retry", stepTaskID)
}

// activateNext implements the sequential-then-any-pending-required fallback
// from spec §4.6: find the lowest step_index pending step (the registry's
// next step in order) and activate it under a status='pending' guard; if
// none exists sequentially, fall back to any pending required step in the
// order. Step ids are random UUIDs and carry no ordering, so this never
// orders by id — see model.WorkflowStepTask.StepIndex.
func (e *Engine) activateNext(ctx context.Context, orderID string) (*model.WorkflowStepTask, error) {
	candidate, err := e.store.FindNextPendingStep(ctx, orderID)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if candidate == nil {
		candidate, err = e.store.FindAnyPendingRequiredStep(ctx, orderID)
		if err != nil && err != store.ErrNotFound {
			return nil, err
		}
	}
	if candidate == nil {
		return nil, nil
	}
	rows, err := e.store.ActivatePendingConditional(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Lost the race to another activation path; not an error, just no-op.
		return nil, nil
	}
	return e.store.GetWorkflowStepTask(ctx, candidate.ID)
}

// recomputeOrderStatus implements spec §4.6.2's first-match-wins rule table
// with the completed-transition suppression guard.
func (e *Engine) recomputeOrderStatus(ctx context.Context, orderID string) (model.OrderStatus, bool, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", false, err
	}
	steps, err := e.store.ListWorkflowStepTasksByOrder(ctx, orderID)
	if err != nil {
		return "", false, err
	}

	var deliverDone, hasConfirm, confirmDone, anyActive, allRequiredDone bool
	allRequiredDone = true
	for _, st := range steps {
		if st.StepKey == "deliverItems" && st.Status == model.StepDone {
			deliverDone = true
		}
		if st.StepKey == "confirmReceived" {
			hasConfirm = true
			if st.Status == model.StepDone {
				confirmDone = true
			}
		}
		if st.Status == model.StepActive {
			anyActive = true
		}
		if st.Required && st.Status != model.StepDone && st.Status != model.StepSkipped {
			allRequiredDone = false
		}
	}

	var next model.OrderStatus
	switch {
	case deliverDone && hasConfirm && !confirmDone:
		next = model.OrderAwaitingConfirmation
	case anyActive:
		next = model.OrderInProgress
	case allRequiredDone:
		next = model.OrderCompleted
	default:
		next = order.Status
	}

	// Suppression guard: never transition to completed unless every
	// required step is genuinely done, even if an upstream caller's
	// bookkeeping elsewhere implied otherwise.
	if next == model.OrderCompleted && !allRequiredDone {
		next = order.Status
	}

	if next == order.Status {
		return order.Status, false, nil
	}
	if err := e.store.UpdateOrderStatus(ctx, orderID, next); err != nil {
		return "", false, err
	}
	return next, true, nil
}
