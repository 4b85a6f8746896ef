package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/database"
)

// ApprovalRequestRepository manages approval requests. The policy snapshot
// and the decision list are stored as JSONB; every mutation goes through
// Update, which enforces compare-and-swap on the request version.
type ApprovalRequestRepository struct {
	db *database.DB
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db *database.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a new request at version 1.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *ApprovalRequest) error {
	policyJSON, err := json.Marshal(req.Policy)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal policy snapshot")
	}
	decisionsJSON, err := json.Marshal(req.Decisions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal decisions")
	}

	query := `
		INSERT INTO approval_requests
		    (id, order_id, initiator, policy, policy_version,
		     status, decisions, escalation_count, deadline, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6::approval_request_status, $7, $8, $9, 1)
		RETURNING version, created_at
	`

	err = r.db.QueryRow(ctx, query,
		req.ID,
		req.OrderID,
		req.Initiator,
		policyJSON,
		req.PolicyVersion,
		string(req.Status),
		decisionsJSON,
		req.EscalationCount,
		req.Deadline,
	).Scan(&req.Version, &req.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `
		SELECT id, order_id, initiator, policy, policy_version,
		       status, decisions, escalation_count, deadline,
		       version, created_at, completed_at
		FROM approval_requests
		WHERE id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_request", id)
	}
	return req, err
}

// GetOpenByOrderID returns the most recent open request for an order, or nil.
func (r *ApprovalRequestRepository) GetOpenByOrderID(ctx context.Context, orderID string) (*ApprovalRequest, error) {
	query := `
		SELECT id, order_id, initiator, policy, policy_version,
		       status, decisions, escalation_count, deadline,
		       version, created_at, completed_at
		FROM approval_requests
		WHERE order_id = $1
		  AND status IN ('pending', 'escalated')
		ORDER BY created_at DESC
		LIMIT 1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, orderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// Update persists the request's mutable fields under CAS on expectedVersion.
// A conflict surfaces as CONCURRENCY so the orchestrator can re-read and
// retry once before giving up.
func (r *ApprovalRequestRepository) Update(ctx context.Context, req *ApprovalRequest, expectedVersion int64) error {
	decisionsJSON, err := json.Marshal(req.Decisions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal decisions")
	}

	query := `
		UPDATE approval_requests
		SET status           = $3::approval_request_status,
		    decisions        = $4,
		    escalation_count = $5,
		    deadline         = $6,
		    completed_at     = $7,
		    version          = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	err = r.db.QueryRow(ctx, query,
		req.ID,
		expectedVersion,
		string(req.Status),
		decisionsJSON,
		req.EscalationCount,
		req.Deadline,
		req.CompletedAt,
	).Scan(&req.Version)

	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeConcurrency,
			"approval request %s was modified concurrently (expected version %d)", req.ID, expectedVersion)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update approval request")
	}
	return nil
}

// ListOpenPastDeadline returns open requests whose deadline elapsed before
// now, oldest first. Requests without a deadline never appear.
func (r *ApprovalRequestRepository) ListOpenPastDeadline(ctx context.Context, now time.Time) ([]*ApprovalRequest, error) {
	query := `
		SELECT id, order_id, initiator, policy, policy_version,
		       status, decisions, escalation_count, deadline,
		       version, created_at, completed_at
		FROM approval_requests
		WHERE status IN ('pending', 'escalated')
		  AND deadline IS NOT NULL
		  AND deadline < $1
		ORDER BY deadline ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list overdue approval requests")
	}
	defer rows.Close()

	return r.scanRequests(rows)
}

// ListPendingForRole returns open requests whose policy requires the role.
func (r *ApprovalRequestRepository) ListPendingForRole(ctx context.Context, role string) ([]*ApprovalRequest, error) {
	query := `
		SELECT id, order_id, initiator, policy, policy_version,
		       status, decisions, escalation_count, deadline,
		       version, created_at, completed_at
		FROM approval_requests
		WHERE status IN ('pending', 'escalated')
		  AND policy->'required_roles' ? $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list pending approval requests")
	}
	defer rows.Close()

	return r.scanRequests(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestRepository) scanRequest(sc requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	var rawStatus string
	var policyJSON, decisionsJSON []byte

	err := sc.Scan(
		&req.ID,
		&req.OrderID,
		&req.Initiator,
		&policyJSON,
		&req.PolicyVersion,
		&rawStatus,
		&decisionsJSON,
		&req.EscalationCount,
		&req.Deadline,
		&req.Version,
		&req.CreatedAt,
		&req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = RequestStatus(rawStatus)

	if err := json.Unmarshal(policyJSON, &req.Policy); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal policy snapshot")
	}
	if err := json.Unmarshal(decisionsJSON, &req.Decisions); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal decisions")
	}
	return req, nil
}

func (r *ApprovalRequestRepository) scanRequests(rows pgx.Rows) ([]*ApprovalRequest, error) {
	var reqs []*ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
