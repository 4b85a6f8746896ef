package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/status"
)

// In-memory fakes mirroring the CAS and lifecycle semantics of the pgx
// repositories.

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)} // a Monday
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ── Orders ────────────────────────────────────────────────────────────────────

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*repository.PurchaseOrder
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*repository.PurchaseOrder)}
}

func copyOrder(o *repository.PurchaseOrder) *repository.PurchaseOrder {
	c := *o
	c.Lines = make([]*repository.OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		lc := *l
		c.Lines[i] = &lc
	}
	return &c
}

func (m *memOrders) put(o *repository.PurchaseOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Version == 0 {
		o.Version = 1
	}
	m.orders[o.ID] = copyOrder(o)
}

func (m *memOrders) GetByID(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperrors.NotFound("purchase order", id)
	}
	return copyOrder(o), nil
}

func (m *memOrders) Save(ctx context.Context, order *repository.PurchaseOrder, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.ID]
	if !ok {
		return apperrors.NotFound("purchase order", order.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.Newf(apperrors.CodeConcurrency,
			"purchase order %s was modified concurrently", order.ID)
	}
	next := copyOrder(order)
	next.Version = expectedVersion + 1
	m.orders[order.ID] = next
	order.Version = next.Version
	return nil
}

func (m *memOrders) ApplyReceipt(ctx context.Context, order *repository.PurchaseOrder, expectedVersion int64, receivedByLine map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.ID]
	if !ok {
		return apperrors.NotFound("purchase order", order.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.Newf(apperrors.CodeConcurrency,
			"purchase order %s was modified concurrently", order.ID)
	}
	next := copyOrder(stored)
	next.Status = order.Status
	for _, line := range next.Lines {
		line.ReceivedQty += receivedByLine[line.ID]
	}
	next.Version = expectedVersion + 1
	m.orders[order.ID] = next
	return nil
}

func (m *memOrders) ListByStatuses(ctx context.Context, statuses []status.Status) ([]*repository.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[status.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*repository.PurchaseOrder
	for _, o := range m.orders {
		if want[o.Status] {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Approval requests ─────────────────────────────────────────────────────────

type memRequests struct {
	mu       sync.Mutex
	requests map[string]*repository.ApprovalRequest
}

func newMemRequests() *memRequests {
	return &memRequests{requests: make(map[string]*repository.ApprovalRequest)}
}

func copyRequest(r *repository.ApprovalRequest) *repository.ApprovalRequest {
	c := *r
	c.Decisions = append([]repository.Decision(nil), r.Decisions...)
	c.Policy.RequiredRoles = append([]string(nil), r.Policy.RequiredRoles...)
	c.Policy.EscalationRoles = append([]string(nil), r.Policy.EscalationRoles...)
	return &c
}

func (m *memRequests) Create(ctx context.Context, req *repository.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Version == 0 {
		req.Version = 1
	}
	m.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *memRequests) GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperrors.NotFound("approval request", id)
	}
	return copyRequest(r), nil
}

func (m *memRequests) GetOpenByOrderID(ctx context.Context, orderID string) (*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.OrderID == orderID && r.Status.IsOpen() {
			return copyRequest(r), nil
		}
	}
	return nil, nil
}

func (m *memRequests) Update(ctx context.Context, req *repository.ApprovalRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.ID]
	if !ok {
		return apperrors.NotFound("approval request", req.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.Newf(apperrors.CodeConcurrency,
			"approval request %s was modified concurrently", req.ID)
	}
	next := copyRequest(req)
	next.Version = expectedVersion + 1
	m.requests[req.ID] = next
	req.Version = next.Version
	return nil
}

func (m *memRequests) ListOpenPastDeadline(ctx context.Context, now time.Time) ([]*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, r := range m.requests {
		if r.Status.IsOpen() && r.Deadline != nil && !r.Deadline.After(now) {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRequests) ListPendingForRole(ctx context.Context, role string) ([]*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, r := range m.requests {
		if !r.Status.IsOpen() {
			continue
		}
		for _, required := range r.Policy.RequiredRoles {
			if required == role {
				out = append(out, copyRequest(r))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Integration events ────────────────────────────────────────────────────────

type memEvents struct {
	mu        sync.Mutex
	events    map[string]*repository.IntegrationEvent
	seq       int64
	createErr error // when set, Create fails with this error
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string]*repository.IntegrationEvent)}
}

func (m *memEvents) Create(ctx context.Context, event *repository.IntegrationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	e := *event
	if e.Status == "" {
		e.Status = repository.EventPending
	}
	m.seq++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Unix(0, m.seq)
	}
	m.events[e.ID] = &e
	return nil
}

func (m *memEvents) GetByID(ctx context.Context, id string) (*repository.IntegrationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, apperrors.NotFound("integration event", id)
	}
	c := *e
	return &c, nil
}

func (m *memEvents) ListDue(ctx context.Context, now time.Time, limit int) ([]*repository.IntegrationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.IntegrationEvent
	for _, e := range m.events {
		if e.Status == repository.EventPending && !e.NextAttemptAt.After(now) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEvents) ListFailed(ctx context.Context) ([]*repository.IntegrationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.IntegrationEvent
	for _, e := range m.events {
		if e.Status == repository.EventFailed {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memEvents) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return apperrors.NotFound("integration event", id)
	}
	e.Status = repository.EventProcessed
	e.ProcessedAt = &at
	return nil
}

func (m *memEvents) ScheduleRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return apperrors.NotFound("integration event", id)
	}
	e.RetryCount = retryCount
	e.NextAttemptAt = nextAttempt
	e.LastError = &lastError
	return nil
}

func (m *memEvents) MarkFailed(ctx context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return apperrors.NotFound("integration event", id)
	}
	e.Status = repository.EventFailed
	e.LastError = &lastError
	return nil
}

func (m *memEvents) ResetForRetry(ctx context.Context, id string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return apperrors.NotFound("integration event", id)
	}
	if e.Status != repository.EventFailed {
		return apperrors.Newf(apperrors.CodeState, "integration event %s is not in failed state", id)
	}
	e.Status = repository.EventPending
	e.RetryCount = 0
	e.NextAttemptAt = nextAttempt
	e.LastError = nil
	return nil
}

// ── Receiving projection ──────────────────────────────────────────────────────

type memProjection struct {
	mu      sync.Mutex
	entries map[string]status.Status
	orders  *memOrders
}

func newMemProjection(orders *memOrders) *memProjection {
	return &memProjection{entries: make(map[string]status.Status), orders: orders}
}

func (m *memProjection) Upsert(ctx context.Context, orderID string, st status.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[orderID] = st
	return nil
}

func (m *memProjection) Remove(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, orderID)
	return nil
}

func (m *memProjection) Contains(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[orderID]
	return ok, nil
}

func (m *memProjection) ListOrderIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memProjection) ListOrders(ctx context.Context) ([]*repository.PurchaseOrder, error) {
	ids, err := m.ListOrderIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*repository.PurchaseOrder
	for _, id := range ids {
		o, err := m.orders.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ── Audit ─────────────────────────────────────────────────────────────────────

type memAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
}

func newMemAudit() *memAudit { return &memAudit{} }

func (m *memAudit) Append(ctx context.Context, entry *repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	m.entries = append(m.entries, &e)
	return nil
}

func (m *memAudit) GetByOrderID(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memAudit) GetByRequestID(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range m.entries {
		if e.RequestID != nil && *e.RequestID == requestID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memAudit) actions(orderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.OrderID == orderID {
			out = append(out, e.Action)
		}
	}
	return out
}

// ── Identity and notifications ────────────────────────────────────────────────

type fakeIdentity struct {
	mu          sync.Mutex
	roles       map[string]string
	usersByRole map[string][]string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		roles:       make(map[string]string),
		usersByRole: make(map[string][]string),
	}
}

func (f *fakeIdentity) grant(user, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[user] = role
	f.usersByRole[role] = append(f.usersByRole[role], user)
}

func (f *fakeIdentity) RoleOf(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[userID]
	if !ok {
		return "", apperrors.NotFound("user", userID)
	}
	return role, nil
}

func (f *fakeIdentity) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.usersByRole[role]...), nil
}

type publishedEvent struct {
	EventType  string
	OrderID    string
	Actor      string
	Recipients []string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{} }

func (f *fakeNotifier) PublishOrderEvent(ctx context.Context, eventType, orderID, actor string, recipients []string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{
		EventType:  eventType,
		OrderID:    orderID,
		Actor:      actor,
		Recipients: append([]string(nil), recipients...),
	})
}

func (f *fakeNotifier) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}
