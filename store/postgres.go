// Postgres implements Store on top of jackc/pgx/v5, grounded on the
// teacher's store/pg.go + store/pg_user.go conventions: a single pgxpool.Pool,
// scanOne helpers, RowsAffected()-driven conditional updates, and
// isDuplicateError for unique-violation (23505) detection. The conditional
// updates that spec §4.6/§4.7.2 require are expressed as WHERE-guarded SQL
// UPDATE statements — the database enforces the guard, not a read-then-write
// race in application code.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ops-platform/automation-core/model"
)

// PGConfig mirrors the teacher's PGConfig shape.
type PGConfig struct {
	URL             string `yaml:"url" json:"url"`
	MaxConns        int32  `yaml:"max_conns" json:"max_conns"`
	MinConns        int32  `yaml:"min_conns" json:"min_conns"`
}

// Postgres is the production Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg PGConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }
func (p *Postgres) Close()              { p.pool.Close() }

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// --- Orders ---

func (p *Postgres) CreateOrder(ctx context.Context, o *model.Order) error {
	meta, err := marshalMeta(o.Metadata)
	if err != nil {
		return fmt.Errorf("marshal order metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO orders (id, type, status, created_by_user_id, related_channel_id, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())`,
		o.ID, o.Type, o.Status, o.CreatedByUserID, o.RelatedChannelID, meta)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, type, status, created_by_user_id, related_channel_id, metadata, created_at, updated_at
		FROM orders WHERE id=$1`, id)
	var o model.Order
	var meta []byte
	if err := row.Scan(&o.ID, &o.Type, &o.Status, &o.CreatedByUserID, &o.RelatedChannelID, &meta, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Metadata = unmarshalMeta(meta)
	return &o, nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	tag, err := p.pool.Exec(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Workflow step tasks ---

func (p *Postgres) CreateWorkflowStepTasks(ctx context.Context, tasks []*model.WorkflowStepTask) error {
	for _, t := range tasks {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO workflow_step_tasks (id, order_id, step_key, title, step_index, assigned_user_id, status, required, activated_at, completed_at, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			t.ID, t.OrderID, t.StepKey, t.Title, t.StepIndex, t.AssignedUserID, t.Status, t.Required, t.ActivatedAt, t.CompletedAt, t.Version)
		if err != nil {
			return fmt.Errorf("insert workflow step task: %w", err)
		}
	}
	return nil
}

func scanStepTask(row interface {
	Scan(dest ...any) error
}) (*model.WorkflowStepTask, error) {
	var t model.WorkflowStepTask
	err := row.Scan(&t.ID, &t.OrderID, &t.StepKey, &t.Title, &t.StepIndex, &t.AssignedUserID, &t.Status, &t.Required, &t.ActivatedAt, &t.CompletedAt, &t.Version)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const stepTaskCols = `id, order_id, step_key, title, step_index, assigned_user_id, status, required, activated_at, completed_at, version`

func (p *Postgres) ListWorkflowStepTasksByOrder(ctx context.Context, orderID string) ([]*model.WorkflowStepTask, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+stepTaskCols+` FROM workflow_step_tasks WHERE order_id=$1 ORDER BY step_index`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list workflow step tasks: %w", err)
	}
	defer rows.Close()
	var out []*model.WorkflowStepTask
	for rows.Next() {
		t, err := scanStepTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow step task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) GetWorkflowStepTask(ctx context.Context, id string) (*model.WorkflowStepTask, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+stepTaskCols+` FROM workflow_step_tasks WHERE id=$1`, id)
	t, err := scanStepTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow step task: %w", err)
	}
	return t, nil
}

func (p *Postgres) CompleteWorkflowStepConditional(ctx context.Context, taskID, userID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE workflow_step_tasks
		SET status='done', completed_at=NOW(), version=version+1
		WHERE id=$1 AND status='active' AND (assigned_user_id IS NULL OR assigned_user_id=$2)`,
		taskID, userID)
	if err != nil {
		return 0, fmt.Errorf("complete workflow step: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ActivatePendingConditional(ctx context.Context, taskID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE workflow_step_tasks
		SET status='active', activated_at=NOW(), version=version+1
		WHERE id=$1 AND status='pending'`, taskID)
	if err != nil {
		return 0, fmt.Errorf("activate workflow step: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) FindNextPendingStep(ctx context.Context, orderID string) (*model.WorkflowStepTask, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+stepTaskCols+` FROM workflow_step_tasks
		WHERE order_id=$1 AND status='pending' ORDER BY step_index LIMIT 1`, orderID)
	t, err := scanStepTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find next pending step: %w", err)
	}
	return t, nil
}

func (p *Postgres) FindAnyPendingRequiredStep(ctx context.Context, orderID string) (*model.WorkflowStepTask, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+stepTaskCols+` FROM workflow_step_tasks
		WHERE order_id=$1 AND status='pending' AND required ORDER BY step_index LIMIT 1`, orderID)
	t, err := scanStepTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find pending required step: %w", err)
	}
	return t, nil
}

func (p *Postgres) FindActiveStepInSet(ctx context.Context, orderID string, stepKeys map[string]bool) (*model.WorkflowStepTask, error) {
	keys := make([]string, 0, len(stepKeys))
	for k, ok := range stepKeys {
		if ok {
			keys = append(keys, k)
		}
	}
	row := p.pool.QueryRow(ctx, `
		SELECT `+stepTaskCols+` FROM workflow_step_tasks
		WHERE order_id=$1 AND status='active' AND step_key=ANY($2) LIMIT 1`, orderID, keys)
	t, err := scanStepTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active step in set: %w", err)
	}
	return t, nil
}

func (p *Postgres) FindActiveStep(ctx context.Context, orderID string) (*model.WorkflowStepTask, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+stepTaskCols+` FROM workflow_step_tasks
		WHERE order_id=$1 AND status='active' LIMIT 1`, orderID)
	t, err := scanStepTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active step: %w", err)
	}
	return t, nil
}

// --- Automation tasks ---

func (p *Postgres) CreateAutomationTask(ctx context.Context, t *model.AutomationTask) error {
	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal task metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO automation_tasks (id, type, status, title, created_by_user_id, related_order_id, required_role,
			claimed_by_user_id, claimed_at, is_order_root, completed_at, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())`,
		t.ID, t.Type, t.Status, t.Title, t.CreatedByUserID, t.RelatedOrderID, t.RequiredRole,
		t.ClaimedByUserID, t.ClaimedAt, t.IsOrderRoot, t.CompletedAt, meta)
	if err != nil {
		// the partial unique index on (related_order_id, required_role) for the
		// active status set enforces spec §5/§6's at-most-one-active-claim rule.
		if isDuplicateError(err) {
			return fmt.Errorf("%w: active automation task already exists for this order/role", ErrConflict)
		}
		return fmt.Errorf("insert automation task: %w", err)
	}
	return nil
}

const autoTaskCols = `id, type, status, title, created_by_user_id, related_order_id, required_role,
	claimed_by_user_id, claimed_at, is_order_root, completed_at, metadata, created_at`

func scanAutoTask(row interface{ Scan(dest ...any) error }) (*model.AutomationTask, error) {
	var t model.AutomationTask
	var meta []byte
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.Title, &t.CreatedByUserID, &t.RelatedOrderID, &t.RequiredRole,
		&t.ClaimedByUserID, &t.ClaimedAt, &t.IsOrderRoot, &t.CompletedAt, &meta, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Metadata = unmarshalMeta(meta)
	return &t, nil
}

func (p *Postgres) GetAutomationTask(ctx context.Context, id string) (*model.AutomationTask, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+autoTaskCols+` FROM automation_tasks WHERE id=$1`, id)
	t, err := scanAutoTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan automation task: %w", err)
	}
	return t, nil
}

func (p *Postgres) ClaimAutomationTaskConditional(ctx context.Context, taskID, userID string, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE automation_tasks
		SET status='claimed', claimed_by_user_id=$2, claimed_at=$3
		WHERE id=$1 AND status IN ('open','pending') AND claimed_by_user_id IS NULL`,
		taskID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("claim automation task: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) OverrideClaimAutomationTask(ctx context.Context, taskID, userID string, now time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE automation_tasks SET status='claimed', claimed_by_user_id=$2, claimed_at=$3 WHERE id=$1`,
		taskID, userID, now)
	if err != nil {
		return fmt.Errorf("override claim automation task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateAutomationTaskStatus(ctx context.Context, taskID string, status model.AutomationTaskStatus, completedAt *time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE automation_tasks SET status=$2, completed_at=COALESCE($3, completed_at) WHERE id=$1`,
		taskID, status, completedAt)
	if err != nil {
		return fmt.Errorf("update automation task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListAutomationTasks(ctx context.Context, f AutomationTaskFilter) ([]*model.AutomationTask, error) {
	query := `SELECT ` + autoTaskCols + ` FROM automation_tasks WHERE 1=1`
	args := []any{}
	idx := 1
	add := func(clause string, val any) {
		query += fmt.Sprintf(" AND %s $%d", clause, idx)
		args = append(args, val)
		idx++
	}
	if f.Status != nil {
		add("status=", *f.Status)
	}
	if f.Type != nil {
		add("type=", *f.Type)
	}
	if f.CreatedBy != nil {
		add("created_by_user_id=", *f.CreatedBy)
	}
	if f.RequiredRole != nil {
		add("required_role=", *f.RequiredRole)
	}
	if f.RelatedOrderID != nil {
		add("related_order_id=", *f.RelatedOrderID)
	}
	if !f.CallerIsAdmin && !f.IncludeAll {
		query += fmt.Sprintf(` AND (
			created_by_user_id = $%d
			OR EXISTS (SELECT 1 FROM task_assignments a WHERE a.automation_task_id = automation_tasks.id AND a.user_id = $%d)
			OR (status = 'completed' AND required_role IN (SELECT role FROM operational_roles WHERE user_id = $%d))
		)`, idx, idx, idx)
		args = append(args, f.CallerUserID)
		idx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list automation tasks: %w", err)
	}
	defer rows.Close()
	var out []*model.AutomationTask
	for rows.Next() {
		t, err := scanAutoTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) ListActiveByOrderAndRole(ctx context.Context, orderID, role string) ([]*model.AutomationTask, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+autoTaskCols+` FROM automation_tasks
		WHERE related_order_id=$1 AND required_role=$2 AND status IN ('open','claimed','pending','inProgress')`,
		orderID, role)
	if err != nil {
		return nil, fmt.Errorf("list active by order/role: %w", err)
	}
	defer rows.Close()
	var out []*model.AutomationTask
	for rows.Next() {
		t, err := scanAutoTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrderRootTask(ctx context.Context, orderID string) (*model.AutomationTask, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+autoTaskCols+` FROM automation_tasks WHERE related_order_id=$1 AND is_order_root LIMIT 1`, orderID)
	t, err := scanAutoTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order root task: %w", err)
	}
	return t, nil
}

func (p *Postgres) ListNonRootAutomationTasksByOrder(ctx context.Context, orderID string) ([]*model.AutomationTask, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+autoTaskCols+` FROM automation_tasks WHERE related_order_id=$1 AND NOT is_order_root ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list non-root automation tasks: %w", err)
	}
	defer rows.Close()
	var out []*model.AutomationTask
	for rows.Next() {
		t, err := scanAutoTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) ListAvailableTasksForRole(ctx context.Context, role string, limit, offset int) ([]*model.AutomationTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+autoTaskCols+` FROM automation_tasks
		WHERE required_role=$1 AND status='open' AND claimed_by_user_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM task_assignments a
			WHERE a.automation_task_id = automation_tasks.id AND a.role_hint IN ('foreman','delivery')
		  )
		ORDER BY id LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list available tasks for role: %w", err)
	}
	defer rows.Close()
	var out []*model.AutomationTask
	for rows.Next() {
		t, err := scanAutoTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Task assignments ---

func (p *Postgres) CreateAssignment(ctx context.Context, a *model.TaskAssignment) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO task_assignments (id, automation_task_id, user_id, role_hint, status, notes, assigned_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),$7)`,
		a.ID, a.AutomationTaskID, a.UserID, a.RoleHint, a.Status, a.Notes, a.CompletedAt)
	if err != nil {
		if isDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

const assignmentCols = `id, automation_task_id, user_id, role_hint, status, notes, assigned_at, completed_at`

func scanAssignment(row interface{ Scan(dest ...any) error }) (*model.TaskAssignment, error) {
	var a model.TaskAssignment
	err := row.Scan(&a.ID, &a.AutomationTaskID, &a.UserID, &a.RoleHint, &a.Status, &a.Notes, &a.AssignedAt, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) GetAssignment(ctx context.Context, id string) (*model.TaskAssignment, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+assignmentCols+` FROM task_assignments WHERE id=$1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAssignmentsByTask(ctx context.Context, taskID string) ([]*model.TaskAssignment, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+assignmentCols+` FROM task_assignments WHERE automation_task_id=$1 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []*model.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) FindPlaceholderAssignment(ctx context.Context, taskID, role string) (*model.TaskAssignment, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+assignmentCols+` FROM task_assignments WHERE automation_task_id=$1 AND role_hint=$2 AND user_id IS NULL LIMIT 1`,
		taskID, role)
	a, err := scanAssignment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan placeholder assignment: %w", err)
	}
	return a, nil
}

func (p *Postgres) FindAssignmentForUser(ctx context.Context, taskID, userID string) (*model.TaskAssignment, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+assignmentCols+` FROM task_assignments WHERE automation_task_id=$1 AND user_id=$2 LIMIT 1`,
		taskID, userID)
	a, err := scanAssignment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan assignment for user: %w", err)
	}
	return a, nil
}

func (p *Postgres) UpdateAssignment(ctx context.Context, a *model.TaskAssignment) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE task_assignments SET user_id=$2, role_hint=$3, status=$4, notes=$5, completed_at=$6 WHERE id=$1`,
		a.ID, a.UserID, a.RoleHint, a.Status, a.Notes, a.CompletedAt)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FirstNonDoneAssignment(ctx context.Context, taskID string) (*model.TaskAssignment, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+assignmentCols+` FROM task_assignments
		WHERE automation_task_id=$1 AND status NOT IN ('done','skipped') ORDER BY id LIMIT 1`, taskID)
	a, err := scanAssignment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan first non-done assignment: %w", err)
	}
	return a, nil
}

func (p *Postgres) FirstNonDoneAssignmentForUser(ctx context.Context, taskID, userID string) (*model.TaskAssignment, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+assignmentCols+` FROM task_assignments
		WHERE automation_task_id=$1 AND user_id=$2 AND status NOT IN ('done','skipped') ORDER BY id LIMIT 1`,
		taskID, userID)
	a, err := scanAssignment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan first non-done assignment for user: %w", err)
	}
	return a, nil
}

// --- Task events ---

func (p *Postgres) AppendTaskEvent(ctx context.Context, e *model.TaskEvent) error {
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	row := p.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE automation_task_id=$1`, e.AutomationTaskID)
	if err := row.Scan(&e.Seq); err != nil {
		return fmt.Errorf("compute next event seq: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO task_events (id, automation_task_id, user_id, event_type, metadata, seq, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		e.ID, e.AutomationTaskID, e.UserID, e.EventType, meta, e.Seq)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

func (p *Postgres) ListTaskEvents(ctx context.Context, taskID string) ([]*model.TaskEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, automation_task_id, user_id, event_type, metadata, seq, created_at
		FROM task_events WHERE automation_task_id=$1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()
	var out []*model.TaskEvent
	for rows.Next() {
		var e model.TaskEvent
		var meta []byte
		if err := rows.Scan(&e.ID, &e.AutomationTaskID, &e.UserID, &e.EventType, &meta, &e.Seq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		e.Metadata = unmarshalMeta(meta)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Inventory ---

func (p *Postgres) CreateInventory(ctx context.Context, inv *model.Inventory) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO inventories (id, product_id, product_name, total_stock, total_sold, low_stock_threshold, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		inv.ID, inv.ProductID, inv.ProductName, inv.TotalStock, inv.TotalSold, inv.LowStockThreshold, inv.Version)
	if err != nil {
		if isDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (p *Postgres) GetInventoryByProduct(ctx context.Context, productID string) (*model.Inventory, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, product_id, product_name, total_stock, total_sold, low_stock_threshold, version
		FROM inventories WHERE product_id=$1`, productID)
	var inv model.Inventory
	if err := row.Scan(&inv.ID, &inv.ProductID, &inv.ProductName, &inv.TotalStock, &inv.TotalSold, &inv.LowStockThreshold, &inv.Version); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan inventory: %w", err)
	}
	return &inv, nil
}

func (p *Postgres) UpdateInventoryVersioned(ctx context.Context, inv *model.Inventory, expectedVersion int) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE inventories
		SET total_stock=$2, total_sold=$3, low_stock_threshold=$4, version=version+1
		WHERE product_id=$1 AND version=$5`,
		inv.ProductID, inv.TotalStock, inv.TotalSold, inv.LowStockThreshold, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update inventory: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) AppendInventoryTransaction(ctx context.Context, tx *model.InventoryTransaction) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO inventory_transactions (id, inventory_id, change, reason, related_sale_id, related_order_id, related_batch_id, performed_by_user_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`,
		tx.ID, tx.InventoryID, tx.Change, tx.Reason, tx.RelatedSaleID, tx.RelatedOrderID, tx.RelatedBatchID, tx.PerformedByUserID, tx.Notes)
	if err != nil {
		return fmt.Errorf("insert inventory transaction: %w", err)
	}
	return nil
}

func (p *Postgres) ListLowStock(ctx context.Context, limit int) ([]*model.Inventory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, product_id, product_name, total_stock, total_sold, low_stock_threshold, version
		FROM inventories WHERE total_stock <= low_stock_threshold ORDER BY product_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()
	var out []*model.Inventory
	for rows.Next() {
		var inv model.Inventory
		if err := rows.Scan(&inv.ID, &inv.ProductID, &inv.ProductName, &inv.TotalStock, &inv.TotalSold, &inv.LowStockThreshold, &inv.Version); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func (p *Postgres) SumTransactionChanges(ctx context.Context, inventoryID string) (int, error) {
	row := p.pool.QueryRow(ctx, `SELECT COALESCE(SUM(change), 0) FROM inventory_transactions WHERE inventory_id=$1`, inventoryID)
	var sum int
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum inventory transactions: %w", err)
	}
	return sum, nil
}

// --- Sales ---

func (p *Postgres) CreateSale(ctx context.Context, s *model.Sale) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sales (id, product_id, quantity, unit_price, total_amount, sold_by_user_id, sale_channel, related_order_id, idempotency_key, customer_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())`,
		s.ID, s.ProductID, s.Quantity, s.UnitPrice, s.TotalAmount, s.SoldByUserID, s.SaleChannel, s.RelatedOrderID, s.IdempotencyKey, s.CustomerName)
	if err != nil {
		if isDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (p *Postgres) GetSaleByIdempotencyKey(ctx context.Context, key string) (*model.Sale, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, product_id, quantity, unit_price, total_amount, sold_by_user_id, sale_channel, related_order_id, idempotency_key, customer_name, created_at
		FROM sales WHERE idempotency_key=$1`, key)
	var s model.Sale
	err := row.Scan(&s.ID, &s.ProductID, &s.Quantity, &s.UnitPrice, &s.TotalAmount, &s.SoldByUserID, &s.SaleChannel, &s.RelatedOrderID, &s.IdempotencyKey, &s.CustomerName, &s.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan sale by idempotency key: %w", err)
	}
	return &s, nil
}

// --- Notifications ---

func (p *Postgres) CreateNotification(ctx context.Context, n *model.Notification) error {
	meta, err := marshalMeta(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal notification metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, event, title, body, metadata, read_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		n.ID, n.UserID, n.Event, n.Title, n.Body, meta, n.ReadAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// --- Roles / participants ---

func (p *Postgres) GetOperationalRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT role FROM operational_roles WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get operational roles: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ListUserIDsWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id FROM operational_roles WHERE role=$1`, role)
	if err != nil {
		return nil, fmt.Errorf("list user ids with role: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) ListAdminUserIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT user_id FROM operational_roles WHERE is_admin`)
	if err != nil {
		return nil, fmt.Errorf("list admin user ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan admin user id: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) ListOrderParticipants(ctx context.Context, orderID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT created_by_user_id FROM orders WHERE id=$1
		UNION
		SELECT DISTINCT a.user_id FROM task_assignments a
		JOIN automation_tasks t ON t.id = a.automation_task_id
		WHERE t.related_order_id=$1 AND a.user_id IS NOT NULL`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order participants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
