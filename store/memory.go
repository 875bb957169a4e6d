package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ops-platform/automation-core/model"
)

// Memory is a thread-safe in-memory Store. It backs the test suite and
// doubles as a zero-configuration runtime store for local development. A
// single coarse mutex serialises all operations — since everything lives in
// one process already, this gives the exact same atomicity guarantees as the
// WHERE-guarded SQL the Postgres store uses, without needing per-aggregate
// row locks. The lock-acquisition ORDER documented in spec §5 (Order ->
// AutomationTask -> TaskAssignment -> Inventory) only matters once locks are
// taken independently; Memory takes a single lock so no ordering discipline
// is needed here, but Postgres must still follow it.
type Memory struct {
	mu sync.Mutex

	orders       map[string]*model.Order
	stepTasks    map[string]*model.WorkflowStepTask
	autoTasks    map[string]*model.AutomationTask
	assignments  map[string]*model.TaskAssignment
	events       map[string][]*model.TaskEvent
	eventSeq     map[string]int
	inventories  map[string]*model.Inventory // keyed by productID
	invTx        []*model.InventoryTransaction
	sales        map[string]*model.Sale
	salesByIdemp map[string]string // idempotencyKey -> saleID
	notifications []*model.Notification

	roles     map[string][]string // userID -> roles
	admins    map[string]bool
	seq       int
}

func NewMemory() *Memory {
	return &Memory{
		orders:       make(map[string]*model.Order),
		stepTasks:    make(map[string]*model.WorkflowStepTask),
		autoTasks:    make(map[string]*model.AutomationTask),
		assignments:  make(map[string]*model.TaskAssignment),
		events:       make(map[string][]*model.TaskEvent),
		eventSeq:     make(map[string]int),
		inventories:  make(map[string]*model.Inventory),
		sales:        make(map[string]*model.Sale),
		salesByIdemp: make(map[string]string),
		roles:        make(map[string][]string),
		admins:       make(map[string]bool),
	}
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return prefix + "-" + itoa(m.seq)
}

// SetOperationalRoles is a test/seed helper — production deployments would
// populate this table via the user-admin subsystem's own writes.
func (m *Memory) SetOperationalRoles(userID string, roles []string, isAdmin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = roles
	if isAdmin {
		m.admins[userID] = true
	}
}

// --- Orders ---

func (m *Memory) CreateOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		o.ID = m.nextID("order")
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) UpdateOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

// --- Workflow step tasks ---

func (m *Memory) CreateWorkflowStepTasks(_ context.Context, tasks []*model.WorkflowStepTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = m.nextID("step")
		}
		cp := *t
		m.stepTasks[t.ID] = &cp
	}
	return nil
}

func (m *Memory) ListWorkflowStepTasksByOrder(_ context.Context, orderID string) ([]*model.WorkflowStepTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WorkflowStepTask
	for _, t := range m.stepTasks {
		if t.OrderID == orderID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (m *Memory) GetWorkflowStepTask(_ context.Context, id string) (*model.WorkflowStepTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.stepTasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) CompleteWorkflowStepConditional(_ context.Context, taskID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.stepTasks[taskID]
	if !ok {
		return 0, nil
	}
	if t.Status != model.StepActive {
		return 0, nil
	}
	if t.AssignedUserID != nil && *t.AssignedUserID != userID {
		return 0, nil
	}
	now := time.Now()
	t.Status = model.StepDone
	t.CompletedAt = &now
	t.Version++
	return 1, nil
}

func (m *Memory) ActivatePendingConditional(_ context.Context, taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.stepTasks[taskID]
	if !ok || t.Status != model.StepPending {
		return 0, nil
	}
	now := time.Now()
	t.Status = model.StepActive
	t.ActivatedAt = &now
	t.Version++
	return 1, nil
}

func (m *Memory) FindNextPendingStep(_ context.Context, orderID string) (*model.WorkflowStepTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findNextPendingStepLocked(orderID)
}

func (m *Memory) findNextPendingStepLocked(orderID string) (*model.WorkflowStepTask, error) {
	var best *model.WorkflowStepTask
	for _, t := range m.stepTasks {
		if t.OrderID != orderID || t.Status != model.StepPending {
			continue
		}
		if best == nil || t.StepIndex < best.StepIndex {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) FindAnyPendingRequiredStep(_ context.Context, orderID string) (*model.WorkflowStepTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.WorkflowStepTask
	for _, t := range m.stepTasks {
		if t.OrderID != orderID || t.Status != model.StepPending || !t.Required {
			continue
		}
		if best == nil || t.StepIndex < best.StepIndex {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) FindActiveStepInSet(_ context.Context, orderID string, stepKeys map[string]bool) (*model.WorkflowStepTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.stepTasks {
		if t.OrderID == orderID && t.Status == model.StepActive && stepKeys[t.StepKey] {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindActiveStep(_ context.Context, orderID string) (*model.WorkflowStepTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.stepTasks {
		if t.OrderID == orderID && t.Status == model.StepActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- Automation tasks ---

func (m *Memory) CreateAutomationTask(_ context.Context, t *model.AutomationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.RequiredRole != nil && t.RelatedOrderID != nil {
		for _, existing := range m.autoTasks {
			if existing.RelatedOrderID != nil && *existing.RelatedOrderID == *t.RelatedOrderID &&
				existing.RequiredRole != nil && *existing.RequiredRole == *t.RequiredRole &&
				model.ActiveClaimStatuses[existing.Status] {
				return ErrConflict
			}
		}
	}
	if t.ID == "" {
		t.ID = m.nextID("atask")
	}
	cp := *t
	m.autoTasks[t.ID] = &cp
	return nil
}

func (m *Memory) GetAutomationTask(_ context.Context, id string) (*model.AutomationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.autoTasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ClaimAutomationTaskConditional(_ context.Context, taskID, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.autoTasks[taskID]
	if !ok {
		return 0, nil
	}
	if !(t.Status == model.TaskOpen || t.Status == model.TaskPending) || t.ClaimedByUserID != nil {
		return 0, nil
	}
	t.Status = model.TaskClaimed
	t.ClaimedByUserID = &userID
	claimedAt := now
	t.ClaimedAt = &claimedAt
	return 1, nil
}

func (m *Memory) OverrideClaimAutomationTask(_ context.Context, taskID, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.autoTasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = model.TaskClaimed
	t.ClaimedByUserID = &userID
	claimedAt := now
	t.ClaimedAt = &claimedAt
	return nil
}

func (m *Memory) UpdateAutomationTaskStatus(_ context.Context, taskID string, status model.AutomationTaskStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.autoTasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	if completedAt != nil {
		t.CompletedAt = completedAt
	}
	return nil
}

func (m *Memory) ListAutomationTasks(_ context.Context, f AutomationTaskFilter) ([]*model.AutomationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AutomationTask
	for _, t := range m.autoTasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		if f.CreatedBy != nil && t.CreatedByUserID != *f.CreatedBy {
			continue
		}
		if f.RequiredRole != nil && (t.RequiredRole == nil || *t.RequiredRole != *f.RequiredRole) {
			continue
		}
		if f.RelatedOrderID != nil && (t.RelatedOrderID == nil || *t.RelatedOrderID != *f.RelatedOrderID) {
			continue
		}
		if !f.CallerIsAdmin && !f.IncludeAll {
			if !m.visibleToLocked(t, f.CallerUserID) {
				continue
			}
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f.Limit, f.Offset), nil
}

// visibleToLocked implements spec §4.7.6's OR-semantics: creator, OR
// assignee (EXISTS on assignments), OR (completed AND requiredRole matches
// caller's own role). Caller must hold m.mu.
func (m *Memory) visibleToLocked(t *model.AutomationTask, userID string) bool {
	if t.CreatedByUserID == userID {
		return true
	}
	for _, a := range m.assignments {
		if a.AutomationTaskID == t.ID && a.UserID != nil && *a.UserID == userID {
			return true
		}
	}
	if t.Status == model.TaskCompleted && t.RequiredRole != nil {
		for _, r := range m.roles[userID] {
			if r == *t.RequiredRole {
				return true
			}
		}
	}
	return false
}

func (m *Memory) ListActiveByOrderAndRole(_ context.Context, orderID, role string) ([]*model.AutomationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AutomationTask
	for _, t := range m.autoTasks {
		if t.RelatedOrderID != nil && *t.RelatedOrderID == orderID &&
			t.RequiredRole != nil && *t.RequiredRole == role &&
			model.ActiveClaimStatuses[t.Status] {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) GetOrderRootTask(_ context.Context, orderID string) (*model.AutomationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.autoTasks {
		if t.IsOrderRoot && t.RelatedOrderID != nil && *t.RelatedOrderID == orderID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListNonRootAutomationTasksByOrder(_ context.Context, orderID string) ([]*model.AutomationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AutomationTask
	for _, t := range m.autoTasks {
		if !t.IsOrderRoot && t.RelatedOrderID != nil && *t.RelatedOrderID == orderID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAvailableTasksForRole(_ context.Context, role string, limit, offset int) ([]*model.AutomationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AutomationTask
	for _, t := range m.autoTasks {
		if t.RequiredRole == nil || *t.RequiredRole != role || t.Status != model.TaskOpen || t.ClaimedByUserID != nil {
			continue
		}
		hasOperationalAssignment := false
		for _, a := range m.assignments {
			if a.AutomationTaskID == t.ID && (a.RoleHint == "foreman" || a.RoleHint == "delivery") {
				hasOperationalAssignment = true
				break
			}
		}
		if hasOperationalAssignment {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, offset), nil
}

// --- Task assignments ---

func (m *Memory) CreateAssignment(_ context.Context, a *model.TaskAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments {
		if existing.AutomationTaskID == a.AutomationTaskID && existing.RoleHint == a.RoleHint &&
			eqStrPtr(existing.UserID, a.UserID) {
			return ErrDuplicate
		}
	}
	if a.ID == "" {
		a.ID = m.nextID("assign")
	}
	cp := *a
	m.assignments[a.ID] = &cp
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, id string) (*model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAssignmentsByTask(_ context.Context, taskID string) ([]*model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.TaskAssignment
	for _, a := range m.assignments {
		if a.AutomationTaskID == taskID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) FindPlaceholderAssignment(_ context.Context, taskID, role string) (*model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.AutomationTaskID == taskID && a.RoleHint == role && a.UserID == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindAssignmentForUser(_ context.Context, taskID, userID string) (*model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.AutomationTaskID == taskID && a.UserID != nil && *a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateAssignment(_ context.Context, a *model.TaskAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.assignments[a.ID] = &cp
	return nil
}

func (m *Memory) FirstNonDoneAssignment(_ context.Context, taskID string) (*model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.TaskAssignment
	for _, a := range m.assignments {
		if a.AutomationTaskID != taskID || a.Status == model.AssignDone || a.Status == model.AssignSkipped {
			continue
		}
		if best == nil || a.ID < best.ID {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) FirstNonDoneAssignmentForUser(_ context.Context, taskID, userID string) (*model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.TaskAssignment
	for _, a := range m.assignments {
		if a.AutomationTaskID != taskID || a.Status == model.AssignDone || a.Status == model.AssignSkipped {
			continue
		}
		if a.UserID == nil || *a.UserID != userID {
			continue
		}
		if best == nil || a.ID < best.ID {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// --- Task events ---

func (m *Memory) AppendTaskEvent(_ context.Context, e *model.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = m.nextID("evt")
	}
	m.eventSeq[e.AutomationTaskID]++
	e.Seq = m.eventSeq[e.AutomationTaskID]
	cp := *e
	m.events[e.AutomationTaskID] = append(m.events[e.AutomationTaskID], &cp)
	return nil
}

func (m *Memory) ListTaskEvents(_ context.Context, taskID string) ([]*model.TaskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.events[taskID]
	out := make([]*model.TaskEvent, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// --- Inventory ---

func (m *Memory) CreateInventory(_ context.Context, inv *model.Inventory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inventories[inv.ProductID]; exists {
		return ErrDuplicate
	}
	if inv.ID == "" {
		inv.ID = m.nextID("inv")
	}
	cp := *inv
	m.inventories[inv.ProductID] = &cp
	return nil
}

func (m *Memory) GetInventoryByProduct(_ context.Context, productID string) (*model.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventories[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *Memory) UpdateInventoryVersioned(_ context.Context, inv *model.Inventory, expectedVersion int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.inventories[inv.ProductID]
	if !ok {
		return 0, nil
	}
	if cur.Version != expectedVersion {
		return 0, nil
	}
	cp := *inv
	cp.Version = expectedVersion + 1
	m.inventories[inv.ProductID] = &cp
	return 1, nil
}

func (m *Memory) AppendInventoryTransaction(_ context.Context, tx *model.InventoryTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == "" {
		tx.ID = m.nextID("invtx")
	}
	cp := *tx
	m.invTx = append(m.invTx, &cp)
	return nil
}

func (m *Memory) ListLowStock(_ context.Context, limit int) ([]*model.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Inventory
	for _, inv := range m.inventories {
		if inv.TotalStock <= inv.LowStockThreshold {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SumTransactionChanges(_ context.Context, inventoryID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, tx := range m.invTx {
		if tx.InventoryID == inventoryID {
			sum += tx.Change
		}
	}
	return sum, nil
}

// --- Sales ---

func (m *Memory) CreateSale(_ context.Context, s *model.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IdempotencyKey != nil {
		if _, exists := m.salesByIdemp[*s.IdempotencyKey]; exists {
			return ErrDuplicate
		}
	}
	if s.ID == "" {
		s.ID = m.nextID("sale")
	}
	cp := *s
	m.sales[s.ID] = &cp
	if s.IdempotencyKey != nil {
		m.salesByIdemp[*s.IdempotencyKey] = s.ID
	}
	return nil
}

func (m *Memory) GetSaleByIdempotencyKey(_ context.Context, key string) (*model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.salesByIdemp[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sales[id]
	return &cp, nil
}

// --- Notifications ---

func (m *Memory) CreateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = m.nextID("notif")
	}
	cp := *n
	m.notifications = append(m.notifications, &cp)
	return nil
}

// CountNotificationsForUser is a test-only helper (not part of the Store
// interface): the spec has no "list my notifications" endpoint, so nothing
// else needs a query surface here.
func (m *Memory) CountNotificationsForUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, notif := range m.notifications {
		if notif.UserID == userID {
			n++
		}
	}
	return n
}

// --- Roles / participants ---

func (m *Memory) GetOperationalRoles(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := append([]string(nil), m.roles[userID]...)
	return roles, nil
}

func (m *Memory) ListUserIDsWithRole(_ context.Context, role string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for uid, roles := range m.roles {
		for _, r := range roles {
			if r == role {
				out = append(out, uid)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListAdminUserIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for uid := range m.admins {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListOrderParticipants(_ context.Context, orderID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	if o, ok := m.orders[orderID]; ok {
		seen[o.CreatedByUserID] = true
	}
	for _, t := range m.autoTasks {
		if t.RelatedOrderID == nil || *t.RelatedOrderID != orderID {
			continue
		}
		for _, a := range m.assignments {
			if a.AutomationTaskID == t.ID && a.UserID != nil {
				seen[*a.UserID] = true
			}
		}
	}
	var out []string
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
