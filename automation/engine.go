// Package automation implements C7, the automation task engine — spec
// §4.7 calls this "the hardest subsystem". Every mutation here follows the
// same discipline as orders.Engine: a single WHERE-guarded store call
// decides the race, a 0-row result is re-read and classified into exactly
// the error Kind the spec allows, never anything looser.
package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ops-platform/automation-core/audit"
	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/metrics"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/orders"
	"github.com/ops-platform/automation-core/registry"
	"github.com/ops-platform/automation-core/store"
)

// orderTypesWithForemanDeliveryChain is the fixed set of order types whose
// foremanHandover step completion chains into a new delivery task (spec
// §4.7.3's "Chaining (foreman→delivery)").
var orderTypesWithForemanDeliveryChain = map[model.OrderType]bool{
	model.OrderTypeAgentRestock:       true,
	model.OrderTypeStoreKeeperRestock: true,
	model.OrderTypeCustomerWholesale:  true,
}

type Engine struct {
	store   store.Store
	bus     *eventbus.Bus
	orders  *orders.Engine
	logger  *slog.Logger
	audit   audit.Sink
	metrics *metrics.Recorder
}

func NewEngine(st store.Store, bus *eventbus.Bus, ordersEngine *orders.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, bus: bus, orders: ordersEngine, logger: logger}
}

// SetAuditSink wires the external audit sink spec §6 names. Left unset
// (nil), audit recording is a no-op -- an unreachable audit subsystem must
// never block a workflow transition.
func (e *Engine) SetAuditSink(sink audit.Sink) {
	e.audit = sink
}

// SetMetrics wires the claim-conflict and step-completion counters
// SPEC_FULL §11 names. Left unset, both recordings are no-ops.
func (e *Engine) SetMetrics(rec *metrics.Recorder) {
	e.metrics = rec
}

func (e *Engine) recordAudit(ctx context.Context, actor, action, resourceID string, success bool, reason string, meta map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, audit.Record{
		Actor:      actor,
		Action:     action,
		Resource:   "automationTask",
		ResourceID: resourceID,
		Success:    success,
		Reason:     reason,
		Meta:       meta,
	})
}

// CreateTaskRequest carries the inputs to CreateTask (spec §4.7.1).
// AssignmentRoles lists the role placeholders to pre-create on an
// order-linked task — the caller (the trigger layer, which owns the
// order-type-to-role-template mapping) supplies this rather than the
// engine consulting a template internally, keeping automation from having
// to import trigger.
type CreateTaskRequest struct {
	Type            string
	Title           string
	CreatorID       string
	RelatedOrderID  *string
	RequiredRole    *string
	IsOrderRoot     bool
	AssignmentRoles []string
	Metadata        map[string]any
}

func (e *Engine) CreateTask(ctx context.Context, req CreateTaskRequest) (*model.AutomationTask, error) {
	task := &model.AutomationTask{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Status:          model.TaskPending,
		Title:           req.Title,
		CreatedByUserID: req.CreatorID,
		RelatedOrderID:  req.RelatedOrderID,
		RequiredRole:    req.RequiredRole,
		IsOrderRoot:     req.IsOrderRoot,
		Metadata:        req.Metadata,
	}
	if req.RequiredRole != nil {
		task.Status = model.TaskOpen
	}

	if err := e.store.CreateAutomationTask(ctx, task); err != nil {
		if err == store.ErrConflict {
			return nil, coreerr.Conflictf("activeTaskExists", "an active automation task already exists for this order/role")
		}
		return nil, coreerr.Internalf(err, "create automation task")
	}

	e.appendEvent(ctx, task.ID, nil, model.EventCreated, nil)
	if task.Status == model.TaskOpen {
		e.appendEvent(ctx, task.ID, nil, model.EventOpened, nil)
		e.publish(ctx, eventbus.TaskOpened, req.CreatorID, task.ID, nil)
	}

	for _, role := range req.AssignmentRoles {
		existing, err := e.store.FindPlaceholderAssignment(ctx, task.ID, role)
		if err != nil && err != store.ErrNotFound {
			e.logger.Warn("failed to check placeholder assignment", "taskId", task.ID, "role", role, "err", err)
			continue
		}
		if existing != nil {
			continue
		}
		a := &model.TaskAssignment{
			ID:               uuid.NewString(),
			AutomationTaskID: task.ID,
			RoleHint:         role,
			Status:           model.AssignPending,
			AssignedAt:       time.Now(),
		}
		if err := e.store.CreateAssignment(ctx, a); err != nil && err != store.ErrDuplicate {
			e.logger.Warn("failed to create placeholder assignment", "taskId", task.ID, "role", role, "err", err)
		}
	}

	e.publish(ctx, eventbus.TaskCreated, req.CreatorID, task.ID, map[string]any{
		"type":           task.Type,
		"relatedOrderId": task.RelatedOrderID,
	})

	return task, nil
}

// Claim implements spec §4.7.2's exact 10-step algorithm.
func (e *Engine) Claim(ctx context.Context, taskID, userID string, override, callerIsAdmin bool) (*model.AutomationTask, error) {
	task, err := e.store.GetAutomationTask(ctx, taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, coreerr.NotFoundf("automation task %s not found", taskID)
		}
		return nil, coreerr.Internalf(err, "get automation task")
	}

	roles, err := e.store.GetOperationalRoles(ctx, userID)
	if err != nil {
		return nil, coreerr.Internalf(err, "get operational roles")
	}
	if task.RequiredRole != nil && !containsStr(roles, *task.RequiredRole) && !callerIsAdmin {
		e.logger.Info("claim denied: missing required role", "taskId", taskID, "userId", userID, "requiredRole", *task.RequiredRole)
		e.recordAudit(ctx, userID, "missingRequiredRole", taskID, false, "user lacks required role "+*task.RequiredRole, nil)
		return nil, coreerr.PermissionDeniedf("missingRequiredRole", "user lacks required role %s for task %s", *task.RequiredRole, taskID)
	}

	if task.Status == model.TaskClaimed {
		if callerIsAdmin && override {
			return e.claimOverride(ctx, task, userID)
		}
		e.metrics.RecordClaimConflict("alreadyClaimed")
		return nil, coreerr.Conflictf("alreadyClaimed", "automation task %s is already claimed", taskID)
	}
	if task.Status != model.TaskOpen && task.Status != model.TaskPending {
		if callerIsAdmin && override {
			return e.claimOverride(ctx, task, userID)
		}
		return nil, coreerr.InvalidStatef("notOpenForClaim", "automation task %s is not open for claim (status=%s)", taskID, task.Status)
	}

	now := time.Now()
	rows, err := e.store.ClaimAutomationTaskConditional(ctx, taskID, userID, now)
	if err != nil {
		return nil, coreerr.Internalf(err, "claim automation task")
	}
	if rows == 0 {
		e.metrics.RecordClaimConflict("lostClaimRace")
		return nil, coreerr.Conflictf("lostClaimRace", "automation task %s was claimed by someone else first", taskID)
	}

	e.appendEvent(ctx, task.ID, &userID, model.EventClaimed, nil)
	if task.RequiredRole != nil {
		if existing, _ := e.store.FindAssignmentForUser(ctx, taskID, userID); existing == nil {
			a := &model.TaskAssignment{
				ID:               uuid.NewString(),
				AutomationTaskID: taskID,
				UserID:           &userID,
				RoleHint:         *task.RequiredRole,
				Status:           model.AssignInProgress,
				AssignedAt:       now,
			}
			if err := e.store.CreateAssignment(ctx, a); err != nil && err != store.ErrDuplicate {
				e.logger.Warn("failed to create claim assignment", "taskId", taskID, "err", err)
			}
		}
	}

	e.publish(ctx, eventbus.TaskClaimed, userID, taskID, map[string]any{"claimedByUserId": userID})

	final, err := e.store.GetAutomationTask(ctx, taskID)
	if err != nil {
		return nil, coreerr.Internalf(err, "re-read claimed task")
	}
	if final.ClaimedByUserID == nil || *final.ClaimedByUserID != userID {
		return nil, coreerr.Conflictf("claimVerificationFailed", "claim on task %s could not be verified", taskID)
	}
	return final, nil
}

func (e *Engine) claimOverride(ctx context.Context, task *model.AutomationTask, userID string) (*model.AutomationTask, error) {
	now := time.Now()
	prevClaimer := task.ClaimedByUserID
	if err := e.store.OverrideClaimAutomationTask(ctx, task.ID, userID, now); err != nil {
		return nil, coreerr.Internalf(err, "override claim")
	}
	e.appendEvent(ctx, task.ID, &userID, model.EventReassigned, map[string]any{
		"fromUserId": prevClaimer,
		"toUserId":   userID,
	})
	e.publish(ctx, eventbus.TaskReassigned, userID, task.ID, map[string]any{
		"fromUserId": prevClaimer,
		"toUserId":   userID,
		"override":   true,
	})
	e.recordAudit(ctx, userID, "claimOverride", task.ID, true, "", map[string]any{"fromUserId": prevClaimer, "toUserId": userID})
	return e.store.GetAutomationTask(ctx, task.ID)
}

// CompleteAssignmentRequest carries the inputs to CompleteAssignment (spec
// §4.7.3).
type CompleteAssignmentRequest struct {
	TaskID        string
	CallerUserID  string
	CallerIsAdmin bool
	AssignmentID  *string
	Notes         *string
}

// CompleteAssignment implements spec §4.7.3: parameter resolution, workflow
// gating, cross-role acknowledgement, the caller's own assignment
// transition, workflow advancement, foreman→delivery chaining, and
// cascade-to-root/order completion.
func (e *Engine) CompleteAssignment(ctx context.Context, req CompleteAssignmentRequest) (*model.TaskAssignment, error) {
	task, err := e.store.GetAutomationTask(ctx, req.TaskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, coreerr.NotFoundf("automation task %s not found", req.TaskID)
		}
		return nil, coreerr.Internalf(err, "get automation task")
	}

	assignment, err := e.resolveAssignment(ctx, task.ID, req)
	if err != nil {
		if req.CallerIsAdmin && req.AssignmentID == nil && isNotFoundErr(err) {
			return e.forceCompleteTaskWithNoAssignments(ctx, task, req.CallerUserID)
		}
		return nil, err
	}
	if assignment.Status == model.AssignDone {
		return assignment, nil
	}

	var targetStep *model.WorkflowStepTask
	if task.RelatedOrderID != nil {
		targetStep, err = e.gateAgainstWorkflow(ctx, *task.RelatedOrderID, assignment, req.CallerIsAdmin)
		if err != nil {
			return nil, err
		}
	}

	if targetStep != nil {
		e.acknowledgeCrossRole(ctx, *task.RelatedOrderID, targetStep.StepKey)
	}

	remaining := true
	if targetStep != nil {
		remaining = e.roleHasRemainingRequiredSteps(ctx, *task.RelatedOrderID, assignment.RoleHint, targetStep.StepKey)
	}

	now := time.Now()
	if req.Notes != nil {
		assignment.Notes = req.Notes
	}
	switch {
	case req.CallerIsAdmin:
		assignment.Status = model.AssignDone
		assignment.CompletedAt = &now
	case targetStep != nil && targetStep.StepKey == "confirmReceived":
		assignment.Status = model.AssignDone
		assignment.CompletedAt = &now
	case !remaining:
		assignment.Status = model.AssignDone
		assignment.CompletedAt = &now
	default:
		assignment.Status = model.AssignInProgress
	}
	if err := e.store.UpdateAssignment(ctx, assignment); err != nil {
		return nil, coreerr.Internalf(err, "update assignment")
	}

	if targetStep != nil && e.orders != nil {
		if _, err := e.orders.CompleteStep(ctx, targetStep.ID, ""); err != nil {
			e.logger.Warn("workflow advancement failed after assignment completion", "taskId", task.ID, "stepId", targetStep.ID, "err", err)
		} else {
			e.metrics.RecordStepCompletion(targetStep.StepKey, assignment.RoleHint)
			e.runChaining(ctx, task, *task.RelatedOrderID, targetStep.StepKey)
			e.completeRoleTaskIfExhausted(ctx, task, targetStep.StepKey)
		}
	}

	e.appendEvent(ctx, task.ID, &req.CallerUserID, model.EventStepCompleted, map[string]any{"assignmentId": assignment.ID, "status": string(assignment.Status)})

	if task.RelatedOrderID != nil {
		e.evaluateCascade(ctx, *task.RelatedOrderID)
	}

	return assignment, nil
}

func isNotFoundErr(err error) bool {
	e, ok := coreerr.As(err)
	return ok && e.Kind == coreerr.NotFound
}

// forceCompleteTaskWithNoAssignments implements the admin force-complete
// path: an admin calling complete with no assignmentId against a task that
// has zero recorded assignments completes the task directly (no per-role
// slice to mark done). Per the original implementation's test suite, a task
// that DOES have assignments (even if all are already done) is not force-
// completable this way — the caller must target them individually or via
// cascade, so this path rejects with InvalidState rather than silently
// completing someone else's slice.
func (e *Engine) forceCompleteTaskWithNoAssignments(ctx context.Context, task *model.AutomationTask, actorID string) (*model.TaskAssignment, error) {
	existing, err := e.store.ListAssignmentsByTask(ctx, task.ID)
	if err != nil {
		return nil, coreerr.Internalf(err, "list assignments for force-complete")
	}
	if len(existing) > 0 {
		return nil, coreerr.InvalidStatef("hasAssignments", "automation task %s has assignments and cannot be force-completed directly", task.ID)
	}
	now := time.Now()
	if err := e.store.UpdateAutomationTaskStatus(ctx, task.ID, model.TaskCompleted, &now); err != nil {
		return nil, coreerr.Internalf(err, "force-complete automation task")
	}
	e.appendEvent(ctx, task.ID, &actorID, model.EventClosed, map[string]any{"forced": true})
	e.recordAudit(ctx, actorID, "adminForceComplete", task.ID, true, "", nil)
	if task.RelatedOrderID != nil {
		e.evaluateCascade(ctx, *task.RelatedOrderID)
	}
	// There's no per-role assignment to hand back (that's the whole point of
	// this path), but the caller still needs something observable rather
	// than a bare null body — a synthetic status object standing in for the
	// task-level completion this call actually performed.
	return &model.TaskAssignment{
		AutomationTaskID: task.ID,
		Status:           model.AssignDone,
		CompletedAt:      &now,
	}, nil
}

func (e *Engine) resolveAssignment(ctx context.Context, taskID string, req CompleteAssignmentRequest) (*model.TaskAssignment, error) {
	var (
		a   *model.TaskAssignment
		err error
	)
	switch {
	case req.AssignmentID != nil:
		a, err = e.store.GetAssignment(ctx, *req.AssignmentID)
	case req.CallerIsAdmin:
		a, err = e.store.FirstNonDoneAssignment(ctx, taskID)
	default:
		a, err = e.store.FirstNonDoneAssignmentForUser(ctx, taskID, req.CallerUserID)
	}
	if err != nil {
		if err == store.ErrNotFound {
			return nil, coreerr.NotFoundf("no matching assignment for automation task %s", taskID)
		}
		return nil, coreerr.Internalf(err, "resolve assignment")
	}
	return a, nil
}

// gateAgainstWorkflow implements the workflow-gating check from spec
// §4.7.3: a non-admin caller may only complete an assignment whose role
// maps to the currently-active workflow step.
func (e *Engine) gateAgainstWorkflow(ctx context.Context, orderID string, assignment *model.TaskAssignment, callerIsAdmin bool) (*model.WorkflowStepTask, error) {
	allowed := registry.RoleStepKeys[registry.Role(assignment.RoleHint)]
	step, err := e.store.FindActiveStepInSet(ctx, orderID, allowed)
	if err != nil && err != store.ErrNotFound {
		return nil, coreerr.Internalf(err, "find active step in role set")
	}
	if step == nil {
		if callerIsAdmin {
			return nil, nil
		}
		active, activeErr := e.store.FindActiveStep(ctx, orderID)
		if activeErr == nil && active != nil {
			return nil, coreerr.PermissionDeniedf("wrongActiveStep", "current active step is %s, not in caller's role", active.StepKey)
		}
		return nil, coreerr.PermissionDeniedf("noActiveStep", "no active workflow step for order %s", orderID)
	}
	return step, nil
}

// acknowledgeCrossRole implements spec §4.7.3's cross-role acknowledgement:
// completing deliveryReceived (delivery acking foreman handover) marks the
// foreman assignment done iff no required foreman steps remain; completing
// confirmReceived (requester acking delivery) marks the delivery
// assignment done iff no required delivery steps remain.
func (e *Engine) acknowledgeCrossRole(ctx context.Context, orderID, targetStepKey string) {
	var ackRole string
	switch targetStepKey {
	case "deliveryReceived":
		ackRole = string(registry.RoleForeman)
	case "confirmReceived":
		ackRole = string(registry.RoleDelivery)
	default:
		return
	}
	if e.roleHasRemainingRequiredSteps(ctx, orderID, ackRole, targetStepKey) {
		return
	}
	e.markOrderRoleAssignmentsDone(ctx, orderID, ackRole)
}

// roleHasRemainingRequiredSteps reports whether any required workflow step
// assigned to role (other than the step currently being completed) is not
// yet done.
func (e *Engine) roleHasRemainingRequiredSteps(ctx context.Context, orderID, role, excludingStepKey string) bool {
	allowed := registry.RoleStepKeys[registry.Role(role)]
	steps, err := e.store.ListWorkflowStepTasksByOrder(ctx, orderID)
	if err != nil {
		e.logger.Warn("failed to list steps for remaining-steps check", "orderId", orderID, "err", err)
		return true
	}
	for _, st := range steps {
		if !allowed[st.StepKey] || st.StepKey == excludingStepKey {
			continue
		}
		if st.Required && st.Status != model.StepDone && st.Status != model.StepSkipped {
			return true
		}
	}
	return false
}

// markOrderRoleAssignmentsDone marks every non-done assignment with the
// given roleHint, across every non-root automation task for the order,
// done.
func (e *Engine) markOrderRoleAssignmentsDone(ctx context.Context, orderID, role string) {
	tasks, err := e.store.ListNonRootAutomationTasksByOrder(ctx, orderID)
	if err != nil {
		e.logger.Warn("failed to list order tasks for cross-role ack", "orderId", orderID, "err", err)
		return
	}
	now := time.Now()
	for _, t := range tasks {
		assignments, err := e.store.ListAssignmentsByTask(ctx, t.ID)
		if err != nil {
			continue
		}
		for _, a := range assignments {
			if a.RoleHint != role || a.Status == model.AssignDone || a.Status == model.AssignSkipped {
				continue
			}
			a.Status = model.AssignDone
			a.CompletedAt = &now
			if err := e.store.UpdateAssignment(ctx, a); err != nil {
				e.logger.Warn("failed to mark cross-role assignment done", "assignmentId", a.ID, "err", err)
			}
		}
	}
}

// runChaining implements spec §4.7.3's foreman→delivery chaining: after
// foremanHandover completes on a chainable order type, create a delivery
// task if none is already active, then mark the foreman task completed.
func (e *Engine) runChaining(ctx context.Context, foremanTask *model.AutomationTask, orderID, completedStepKey string) {
	if completedStepKey != "foremanHandover" {
		return
	}
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil || !orderTypesWithForemanDeliveryChain[order.Type] {
		return
	}

	active, err := e.store.ListActiveByOrderAndRole(ctx, orderID, string(registry.RoleDelivery))
	if err != nil {
		e.logger.Warn("failed to check active delivery tasks before chaining", "orderId", orderID, "err", err)
		return
	}
	if len(active) == 0 {
		role := string(registry.RoleDelivery)
		oid := orderID
		if _, err := e.CreateTask(ctx, CreateTaskRequest{
			Type:           "delivery",
			Title:          "Deliver order",
			CreatorID:      "system",
			RelatedOrderID: &oid,
			RequiredRole:   &role,
		}); err != nil {
			e.logger.Warn("failed to chain delivery task", "orderId", orderID, "err", err)
		}
	}

	if foremanTask.RequiredRole != nil && *foremanTask.RequiredRole == string(registry.RoleForeman) {
		now := time.Now()
		if err := e.store.UpdateAutomationTaskStatus(ctx, foremanTask.ID, model.TaskCompleted, &now); err != nil {
			e.logger.Warn("failed to complete foreman task after chaining", "taskId", foremanTask.ID, "err", err)
		}
	}
}

// evaluateCascade implements spec §4.7.3's cascade-to-root-and-order step.
// The cascade fires once every non-root task for the order has reached a
// terminal status (completed or cancelled); the root task's own placeholder
// assignments are not consulted for this decision. When it fires, the
// root's non-done placeholder assignments are swept to done, and the root
// task, any still-active non-root task, and the order itself complete —
// except under the agentRetail guard, preserved verbatim: the cascade is
// skipped while deliverItems is not yet done. Both the skipped and the
// cascaded branch log at Info with the order id and type. Because the sweep
// runs in the same pass that completes the root, a completed order-root
// never carries a pending TaskAssignment (spec §8).
func (e *Engine) evaluateCascade(ctx context.Context, orderID string) {
	root, err := e.store.GetOrderRootTask(ctx, orderID)
	if err != nil {
		if err != store.ErrNotFound {
			e.logger.Warn("failed to load order root task for cascade check", "orderId", orderID, "err", err)
		}
		return
	}
	if root.Status == model.TaskCompleted {
		return
	}

	nonRoot, err := e.store.ListNonRootAutomationTasksByOrder(ctx, orderID)
	if err != nil {
		e.logger.Warn("failed to list non-root tasks for cascade check", "orderId", orderID, "err", err)
		return
	}
	for _, t := range nonRoot {
		if t.Status == model.TaskCancelled || t.Status == model.TaskCompleted {
			continue
		}
		// A non-root task that hasn't itself reached a terminal status is
		// not done yet, regardless of how many assignments it currently
		// has recorded (an unclaimed task has none at all).
		return
	}

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		e.logger.Warn("failed to load order for cascade completion", "orderId", orderID, "err", err)
		return
	}
	if order.Type == model.OrderTypeAgentRetail {
		steps, err := e.store.ListWorkflowStepTasksByOrder(ctx, orderID)
		if err == nil {
			for _, st := range steps {
				if st.StepKey == "deliverItems" && st.Status != model.StepDone {
					e.logger.Info("cascade skipped: agentRetail deliverItems not yet done", "orderId", orderID, "orderType", order.Type)
					return
				}
			}
		}
	}
	e.logger.Info("cascading order completion", "orderId", orderID, "orderType", order.Type)

	rootAssignments, err := e.store.ListAssignmentsByTask(ctx, root.ID)
	if err != nil {
		e.logger.Warn("failed to list root task assignments for cascade check", "orderId", orderID, "err", err)
		return
	}

	now := time.Now()
	for _, a := range rootAssignments {
		if a.Status == model.AssignDone || a.Status == model.AssignSkipped {
			continue
		}
		a.Status = model.AssignDone
		a.CompletedAt = &now
		if err := e.store.UpdateAssignment(ctx, a); err != nil {
			e.logger.Warn("failed to mark root assignment done in cascade", "assignmentId", a.ID, "err", err)
		}
	}

	if err := e.store.UpdateAutomationTaskStatus(ctx, root.ID, model.TaskCompleted, &now); err != nil {
		e.logger.Warn("failed to complete root task in cascade", "taskId", root.ID, "err", err)
		return
	}
	if err := e.store.UpdateOrderStatus(ctx, orderID, model.OrderCompleted); err != nil {
		e.logger.Warn("failed to complete order in cascade", "orderId", orderID, "err", err)
	}

	for _, t := range nonRoot {
		if t.Status == model.TaskOpen || t.Status == model.TaskClaimed || t.Status == model.TaskInProgress {
			if err := e.store.UpdateAutomationTaskStatus(ctx, t.ID, model.TaskCompleted, &now); err != nil {
				e.logger.Warn("failed to cascade-complete task", "taskId", t.ID, "err", err)
				continue
			}
			assignments, _ := e.store.ListAssignmentsByTask(ctx, t.ID)
			for _, a := range assignments {
				if a.Status != model.AssignDone && a.Status != model.AssignSkipped {
					a.Status = model.AssignDone
					a.CompletedAt = &now
					_ = e.store.UpdateAssignment(ctx, a)
				}
			}
		}
	}

	e.appendEvent(ctx, root.ID, nil, model.EventClosed, nil)
	e.publish(ctx, eventbus.TaskCompleted, "system", root.ID, map[string]any{"orderId": orderID, "isOrderRoot": true})
	e.publish(ctx, eventbus.OrderCompleted, "system", orderID, map[string]any{"orderId": orderID})
}

// Reassign implements spec §4.7.4, admin-only.
func (e *Engine) Reassign(ctx context.Context, assignmentID, newUserID, newRoleHint, adminUserID string) (*model.TaskAssignment, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, coreerr.NotFoundf("assignment %s not found", assignmentID)
		}
		return nil, coreerr.Internalf(err, "get assignment")
	}
	prevUser := a.UserID
	if newUserID != "" {
		a.UserID = &newUserID
	}
	if newRoleHint != "" {
		a.RoleHint = newRoleHint
	}
	if err := e.store.UpdateAssignment(ctx, a); err != nil {
		return nil, coreerr.Internalf(err, "update assignment")
	}
	e.appendEvent(ctx, a.AutomationTaskID, &adminUserID, model.EventReassigned, map[string]any{
		"assignmentId": a.ID,
		"fromUserId":   prevUser,
		"toUserId":     newUserID,
	})
	e.publish(ctx, eventbus.TaskReassigned, adminUserID, a.AutomationTaskID, map[string]any{
		"assignmentId": a.ID,
		"fromUserId":   prevUser,
		"toUserId":     newUserID,
	})
	e.recordAudit(ctx, adminUserID, "reassign", a.AutomationTaskID, true, "", map[string]any{
		"assignmentId": a.ID,
		"fromUserId":   prevUser,
		"toUserId":     newUserID,
	})
	return a, nil
}

// CompleteWorkflowStepForTask implements spec §6's
// "POST /automation/tasks/{id}/workflow-step/complete" endpoint: complete
// the order's active workflow step on behalf of an automation task, without
// touching the task's own assignment bookkeeping (that's CompleteAssignment's
// job). A non-admin caller may only do this when one of their operational
// roles maps (via registry.RoleStepKeys) to the currently active step.
func (e *Engine) CompleteWorkflowStepForTask(ctx context.Context, taskID, userID string, callerIsAdmin bool) (*orders.CompletionOutcome, error) {
	task, err := e.store.GetAutomationTask(ctx, taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, coreerr.NotFoundf("automation task %s not found", taskID)
		}
		return nil, coreerr.Internalf(err, "get automation task")
	}
	if task.RelatedOrderID == nil {
		return nil, coreerr.InvalidStatef("noRelatedOrder", "automation task %s has no related order", taskID)
	}

	var step *model.WorkflowStepTask
	if callerIsAdmin {
		step, err = e.store.FindActiveStep(ctx, *task.RelatedOrderID)
	} else {
		roles, rErr := e.store.GetOperationalRoles(ctx, userID)
		if rErr != nil {
			return nil, coreerr.Internalf(rErr, "get operational roles")
		}
		allowed := map[string]bool{}
		for _, role := range roles {
			for k := range registry.RoleStepKeys[registry.Role(role)] {
				allowed[k] = true
			}
		}
		step, err = e.store.FindActiveStepInSet(ctx, *task.RelatedOrderID, allowed)
	}
	if err != nil && err != store.ErrNotFound {
		return nil, coreerr.Internalf(err, "find active step")
	}
	if step == nil {
		if callerIsAdmin {
			return nil, coreerr.NotFoundf("no active workflow step for order %s", *task.RelatedOrderID)
		}
		active, activeErr := e.store.FindActiveStep(ctx, *task.RelatedOrderID)
		if activeErr == nil && active != nil {
			return nil, coreerr.PermissionDeniedf("wrongActiveStep", "current active step is %s, not in caller's role", active.StepKey)
		}
		return nil, coreerr.PermissionDeniedf("noMatchingActiveStep", "no active workflow step matches caller's roles for order %s", *task.RelatedOrderID)
	}

	outcome, err := e.orders.CompleteStep(ctx, step.ID, userID)
	if err != nil {
		return nil, err
	}
	role := ""
	if task.RequiredRole != nil {
		role = *task.RequiredRole
	}
	e.metrics.RecordStepCompletion(step.StepKey, role)
	e.runChaining(ctx, task, *task.RelatedOrderID, step.StepKey)
	e.completeRoleTaskIfExhausted(ctx, task, step.StepKey)
	e.evaluateCascade(ctx, *task.RelatedOrderID)
	return outcome, nil
}

// completeRoleTaskIfExhausted marks task completed once the step just
// finished was its role's last remaining required step. runChaining already
// special-cases this for the foreman task on foremanHandover; this covers
// every other RequiredRole-gated non-root task (the chained delivery task,
// agentRetail's deliveryWork task, and any future per-role task type) so
// evaluateCascade's all-non-root-tasks-terminal precondition can actually be
// satisfied for orders that never touch foremanHandover at all.
func (e *Engine) completeRoleTaskIfExhausted(ctx context.Context, task *model.AutomationTask, completedStepKey string) {
	if task.RequiredRole == nil || task.IsOrderRoot || task.Status == model.TaskCompleted {
		return
	}
	if e.roleHasRemainingRequiredSteps(ctx, *task.RelatedOrderID, *task.RequiredRole, completedStepKey) {
		return
	}
	now := time.Now()
	if err := e.store.UpdateAutomationTaskStatus(ctx, task.ID, model.TaskCompleted, &now); err != nil {
		e.logger.Warn("failed to complete role task after its last required step", "taskId", task.ID, "err", err)
	}
}

// Cancel implements spec §4.7.5's soft delete: status -> cancelled, no
// physical deletion.
func (e *Engine) Cancel(ctx context.Context, taskID, actorUserID string) error {
	now := time.Now()
	if err := e.store.UpdateAutomationTaskStatus(ctx, taskID, model.TaskCancelled, &now); err != nil {
		if err == store.ErrNotFound {
			return coreerr.NotFoundf("automation task %s not found", taskID)
		}
		return coreerr.Internalf(err, "cancel automation task")
	}
	e.appendEvent(ctx, taskID, &actorUserID, model.EventCancelled, nil)
	return nil
}

// ListTasks implements spec §4.7.6's scoped listing — the OR-visibility
// semantics already live in the store layer (SPEC_FULL §13); this is a
// thin pass-through so callers don't import store directly.
func (e *Engine) ListTasks(ctx context.Context, f store.AutomationTaskFilter) ([]*model.AutomationTask, error) {
	tasks, err := e.store.ListAutomationTasks(ctx, f)
	if err != nil {
		return nil, coreerr.Internalf(err, "list automation tasks")
	}
	return tasks, nil
}

// AvailableTasksForRole implements spec §4.7.6's claimable queue.
func (e *Engine) AvailableTasksForRole(ctx context.Context, role string, limit, offset int) ([]*model.AutomationTask, error) {
	tasks, err := e.store.ListAvailableTasksForRole(ctx, role, limit, offset)
	if err != nil {
		return nil, coreerr.Internalf(err, "list available tasks")
	}
	return tasks, nil
}

func (e *Engine) appendEvent(ctx context.Context, taskID string, userID *string, evtType model.TaskEventType, meta map[string]any) {
	if err := e.store.AppendTaskEvent(ctx, &model.TaskEvent{
		ID:               uuid.NewString(),
		AutomationTaskID: taskID,
		UserID:           userID,
		EventType:        evtType,
		Metadata:         meta,
	}); err != nil {
		e.logger.Warn("failed to append task event", "taskId", taskID, "eventType", evtType, "err", err)
	}
}

func (e *Engine) publish(ctx context.Context, name eventbus.Name, actorID, entityID string, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, eventbus.Event{
		Name:     name,
		EventID:  uuid.NewString(),
		ActorID:  actorID,
		EntityID: entityID,
		Data:     data,
	})
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
