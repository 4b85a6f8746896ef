package repository

import (
	"time"

	"github.com/procurio/be-po-approvals/internal/policy"
	"github.com/procurio/be-po-approvals/internal/status"
)

// ── Domain types for the approval and receiving engine ───────────────────────

// OrderLine is one purchase-order line item.
type OrderLine struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id"`
	LineNumber  int     `json:"line_number"`
	ProductID   string  `json:"product_id"`
	OrderedQty  float64 `json:"ordered_qty"`
	ReceivedQty float64 `json:"received_qty"`
	UnitCost    int64   `json:"unit_cost"` // cents
	LineAmount  int64   `json:"line_amount"`
}

// PurchaseOrder is the order header. Status is mutated only through the
// status model's transition function; Version backs optimistic CAS writes.
type PurchaseOrder struct {
	ID               string        `json:"id"`
	OrderNumber      string        `json:"order_number"`
	SupplierID       string        `json:"supplier_id"`
	Status           status.Status `json:"status"`
	Subtotal         int64         `json:"subtotal"`
	TaxAmount        int64         `json:"tax_amount"`
	TotalAmount      int64         `json:"total_amount"`
	ApprovedBy       *string       `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	ExpectedDelivery *time.Time    `json:"expected_delivery,omitempty"`
	Version          int64         `json:"version"`
	CreatedBy        *string       `json:"created_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Lines            []*OrderLine  `json:"lines"`
}

// LegacyStatus exposes the coarse status vocabulary for external consumers.
func (o *PurchaseOrder) LegacyStatus() status.LegacyStatus {
	return status.ToLegacy(o.Status)
}

// RequestStatus is the approval-request lifecycle status.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestEscalated RequestStatus = "escalated"
	RequestExpired   RequestStatus = "expired"
)

// IsOpen reports whether the request still accepts decisions.
func (s RequestStatus) IsOpen() bool {
	return s == RequestPending || s == RequestEscalated
}

// DecisionVerdict is a single approver's verdict.
type DecisionVerdict string

const (
	VerdictApprove DecisionVerdict = "approve"
	VerdictReject  DecisionVerdict = "reject"
)

// Decision is one approver's recorded decision on a request.
type Decision struct {
	Approver  string          `json:"approver"`
	Role      string          `json:"role"`
	Verdict   DecisionVerdict `json:"verdict"`
	Reason    string          `json:"reason,omitempty"`
	DecidedAt time.Time       `json:"decided_at"`
}

// ApprovalRequest tracks decision collection for one order. The policy is a
// snapshot copy taken at creation time: later configuration edits never
// retroactively alter an in-flight request. Version backs optimistic CAS.
type ApprovalRequest struct {
	ID              string                `json:"id"`
	OrderID         string                `json:"order_id"`
	Initiator       string                `json:"initiator"`
	Policy          policy.ApprovalPolicy `json:"policy"`
	PolicyVersion   string                `json:"policy_version"`
	Status          RequestStatus         `json:"status"`
	Decisions       []Decision            `json:"decisions"`
	EscalationCount int                   `json:"escalation_count"`
	Deadline        *time.Time            `json:"deadline,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// ApprovalCount returns the number of distinct approvers with an approve
// verdict.
func (r *ApprovalRequest) ApprovalCount() int {
	seen := make(map[string]struct{})
	for _, d := range r.Decisions {
		if d.Verdict == VerdictApprove {
			seen[d.Approver] = struct{}{}
		}
	}
	return len(seen)
}

// HasDecisionFrom reports whether the approver already decided.
func (r *ApprovalRequest) HasDecisionFrom(approver string) bool {
	for _, d := range r.Decisions {
		if d.Approver == approver {
			return true
		}
	}
	return false
}

// EventKind classifies an integration event.
type EventKind string

const (
	EventApproved      EventKind = "approved"
	EventStatusChanged EventKind = "status_changed"
	EventCancelled     EventKind = "cancelled"
)

// EventStatus is the integration-event processing status.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
)

// IntegrationEvent is one outbox row linking an approval outcome to the
// receiving projection. Failed events are retained for manual retry; they are
// never silently deleted.
type IntegrationEvent struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	Kind          EventKind     `json:"kind"`
	Actor         string        `json:"actor"`
	FromStatus    status.Status `json:"from_status,omitempty"`
	ToStatus      status.Status `json:"to_status,omitempty"`
	Status        EventStatus   `json:"status"`
	RetryCount    int           `json:"retry_count"`
	LastError     *string       `json:"last_error,omitempty"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
}

// AuditEntry is one immutable record of a decision or status change.
type AuditEntry struct {
	ID           string         `json:"id"`
	OrderID      string         `json:"order_id"`
	RequestID    *string        `json:"request_id,omitempty"`
	EventID      *string        `json:"event_id,omitempty"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EscalationResult reports the outcome of one escalation-scan item.
type EscalationResult struct {
	RequestID   string     `json:"request_id"`
	OrderID     string     `json:"order_id"`
	Escalated   bool       `json:"escalated"`
	Expired     bool       `json:"expired"`
	NewDeadline *time.Time `json:"new_deadline,omitempty"`
	Error       string     `json:"error,omitempty"`
}
