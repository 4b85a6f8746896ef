package service

import (
	"context"
	"time"

	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/status"
)

// The services depend on these narrow interfaces rather than the concrete
// pgx repositories so tests can substitute in-memory fakes.

// OrderStore is the authoritative purchase-order store. Save and ApplyReceipt
// are optimistic compare-and-swap writes keyed on the order version.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*repository.PurchaseOrder, error)
	Save(ctx context.Context, order *repository.PurchaseOrder, expectedVersion int64) error
	ApplyReceipt(ctx context.Context, order *repository.PurchaseOrder, expectedVersion int64, receivedByLine map[string]float64) error
	ListByStatuses(ctx context.Context, statuses []status.Status) ([]*repository.PurchaseOrder, error)
}

// RequestStore persists approval requests under CAS on the request version.
type RequestStore interface {
	Create(ctx context.Context, req *repository.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error)
	GetOpenByOrderID(ctx context.Context, orderID string) (*repository.ApprovalRequest, error)
	Update(ctx context.Context, req *repository.ApprovalRequest, expectedVersion int64) error
	ListOpenPastDeadline(ctx context.Context, now time.Time) ([]*repository.ApprovalRequest, error)
	ListPendingForRole(ctx context.Context, role string) ([]*repository.ApprovalRequest, error)
}

// EventStore is the integration-event outbox.
type EventStore interface {
	Create(ctx context.Context, event *repository.IntegrationEvent) error
	GetByID(ctx context.Context, id string) (*repository.IntegrationEvent, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*repository.IntegrationEvent, error)
	ListFailed(ctx context.Context) ([]*repository.IntegrationEvent, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	ResetForRetry(ctx context.Context, id string, nextAttempt time.Time) error
}

// ProjectionStore maintains the receiving-visible projection.
type ProjectionStore interface {
	Upsert(ctx context.Context, orderID string, st status.Status, at time.Time) error
	Remove(ctx context.Context, orderID string) error
	Contains(ctx context.Context, orderID string) (bool, error)
	ListOrderIDs(ctx context.Context) ([]string, error)
	ListOrders(ctx context.Context) ([]*repository.PurchaseOrder, error)
}

// AuditStore records every decision and status change. Writes through it are
// fire-and-forget on the caller side: failures are logged, never propagated.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByOrderID(ctx context.Context, orderID string) ([]*repository.AuditEntry, error)
	GetByRequestID(ctx context.Context, requestID string) ([]*repository.AuditEntry, error)
}

// IdentityDirectory resolves approver roles.
type IdentityDirectory interface {
	RoleOf(ctx context.Context, userID string) (string, error)
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

// Notifier dispatches templated notification events. Implementations must not
// block the critical path; failures are logged, never returned.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, eventType, orderID, actor string, recipients []string, payload map[string]any)
}

// Clock abstracts time so retry scheduling and escalation are testable
// without real timers.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
