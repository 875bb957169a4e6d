package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/automation"
	"github.com/ops-platform/automation-core/coreerr"
	"github.com/ops-platform/automation-core/model"
	"github.com/ops-platform/automation-core/store"
)

type AutomationHandlers struct {
	engine *automation.Engine
	store  store.Store
}

func NewAutomationHandlers(engine *automation.Engine, st store.Store) *AutomationHandlers {
	return &AutomationHandlers{engine: engine, store: st}
}

type createTaskBody struct {
	Type            string         `json:"type"`
	Title           string         `json:"title"`
	RelatedOrderID  *string        `json:"relatedOrderId"`
	RequiredRole    *string        `json:"requiredRole"`
	IsOrderRoot     bool           `json:"isOrderRoot"`
	AssignmentRoles []string       `json:"assignmentRoles"`
	Metadata        map[string]any `json:"metadata"`
}

// CreateTask handles POST /automation/tasks.
func (h *AutomationHandlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, coreerr.ValidationErrorf("invalid request body"))
		return
	}
	if body.Type == "" || body.Title == "" {
		WriteError(w, r, coreerr.ValidationErrorf("type and title are required"))
		return
	}
	user := authctx.UserFromContext(r.Context())
	task, err := h.engine.CreateTask(r.Context(), automation.CreateTaskRequest{
		Type:            body.Type,
		Title:           body.Title,
		CreatorID:       userID(user),
		RelatedOrderID:  body.RelatedOrderID,
		RequiredRole:    body.RequiredRole,
		IsOrderRoot:     body.IsOrderRoot,
		AssignmentRoles: body.AssignmentRoles,
		Metadata:        body.Metadata,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /automation/tasks.
func (h *AutomationHandlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := authctx.UserFromContext(r.Context())
	q := r.URL.Query()

	f := store.AutomationTaskFilter{
		CallerUserID:  userID(user),
		CallerIsAdmin: user != nil && user.IsSystemAdmin,
		Limit:         queryInt(q, "limit", 50),
		Offset:        queryInt(q, "offset", 0),
	}
	if v := q.Get("status"); v != "" {
		s := model.AutomationTaskStatus(v)
		f.Status = &s
	}
	if v := q.Get("type"); v != "" {
		f.Type = &v
	}
	if v := q.Get("creatorId"); v != "" {
		f.CreatedBy = &v
	}

	tasks, err := h.engine.ListTasks(r.Context(), f)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WritePaginated(w, tasks, f.Limit, f.Offset)
}

// AvailableTasks handles GET /automation/available-tasks?role=....
func (h *AutomationHandlers) AvailableTasks(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		WriteError(w, r, coreerr.ValidationErrorf("role query parameter is required"))
		return
	}
	limit := queryInt(r.URL.Query(), "limit", 50)
	offset := queryInt(r.URL.Query(), "offset", 0)
	tasks, err := h.engine.AvailableTasksForRole(r.Context(), role, limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WritePaginated(w, tasks, limit, offset)
}

// GetTask handles GET /automation/tasks/{id}, returning the task together
// with its assignments and event history per spec §6's task-detail shape.
func (h *AutomationHandlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, assignments, events, err := h.loadTaskDetail(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"task":        task,
		"assignments": assignments,
		"events":      events,
	})
}

// ListEvents handles GET /automation/tasks/{id}/events, spec §6's audit
// trail endpoint.
func (h *AutomationHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetAutomationTask(r.Context(), id); err != nil {
		if err == store.ErrNotFound {
			WriteError(w, r, coreerr.NotFoundf("automation task %s not found", id))
			return
		}
		WriteError(w, r, coreerr.Internalf(err, "get automation task"))
		return
	}
	events, err := h.store.ListTaskEvents(r.Context(), id)
	if err != nil {
		WriteError(w, r, coreerr.Internalf(err, "list task events"))
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

func (h *AutomationHandlers) loadTaskDetail(ctx context.Context, id string) (*model.AutomationTask, []*model.TaskAssignment, []*model.TaskEvent, error) {
	task, err := h.store.GetAutomationTask(ctx, id)
	if err == store.ErrNotFound {
		return nil, nil, nil, coreerr.NotFoundf("automation task %s not found", id)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	assignments, err := h.store.ListAssignmentsByTask(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	events, err := h.store.ListTaskEvents(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return task, assignments, events, nil
}

type claimBody struct {
	Override bool `json:"override"`
}

// Claim handles POST /automation/tasks/{id}/claim.
func (h *AutomationHandlers) Claim(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body claimBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	user := authctx.UserFromContext(r.Context())
	task, err := h.engine.Claim(r.Context(), id, userID(user), body.Override, user != nil && user.IsSystemAdmin)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

type completeBody struct {
	AssignmentID *string `json:"assignmentId"`
	Notes        *string `json:"notes"`
}

// CompleteAssignment handles POST /automation/tasks/{id}/complete.
func (h *AutomationHandlers) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body completeBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	user := authctx.UserFromContext(r.Context())
	assignment, err := h.engine.CompleteAssignment(r.Context(), automation.CompleteAssignmentRequest{
		TaskID:        id,
		CallerUserID:  userID(user),
		CallerIsAdmin: user != nil && user.IsSystemAdmin,
		AssignmentID:  body.AssignmentID,
		Notes:         body.Notes,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}

// CompleteWorkflowStep handles POST /automation/tasks/{id}/workflow-step/complete.
func (h *AutomationHandlers) CompleteWorkflowStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user := authctx.UserFromContext(r.Context())
	outcome, err := h.engine.CompleteWorkflowStepForTask(r.Context(), id, userID(user), user != nil && user.IsSystemAdmin)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

func queryInt(q map[string][]string, key string, def int) int {
	v, ok := q[key]
	if !ok || len(v) == 0 {
		return def
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return def
	}
	return n
}
