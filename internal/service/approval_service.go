package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/policy"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/status"
)

// ApprovalConfig tunes the orchestrator.
type ApprovalConfig struct {
	MaxEscalations  int
	BulkParallelism int
	DebounceWindow  time.Duration
	Holidays        []time.Time
}

// ApprovalService orchestrates the approval workflow: request creation,
// decision collection, quorum evaluation, bulk processing and escalation.
// Every terminal outcome writes an audit entry and, when the order becomes
// or stops being receivable, emits an integration event for the bridge.
type ApprovalService struct {
	orders   OrderStore
	requests RequestStore
	events   EventStore
	audit    AuditStore
	identity IdentityDirectory
	notifier Notifier
	policies *policy.Snapshot
	clock    Clock
	log      *logger.Logger

	maxEscalations  int
	bulkParallelism int
	debounceWindow  time.Duration
	holidays        map[string]struct{}
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	orders OrderStore,
	requests RequestStore,
	events EventStore,
	audit AuditStore,
	identity IdentityDirectory,
	notifier Notifier,
	policies *policy.Snapshot,
	clock Clock,
	cfg ApprovalConfig,
	log *logger.Logger,
) *ApprovalService {
	if cfg.MaxEscalations <= 0 {
		cfg.MaxEscalations = 2
	}
	if cfg.BulkParallelism <= 0 {
		cfg.BulkParallelism = 4
	}
	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, d := range cfg.Holidays {
		holidays[d.Format("2006-01-02")] = struct{}{}
	}
	return &ApprovalService{
		orders:          orders,
		requests:        requests,
		events:          events,
		audit:           audit,
		identity:        identity,
		notifier:        notifier,
		policies:        policies,
		clock:           clock,
		log:             log,
		maxEscalations:  cfg.MaxEscalations,
		bulkParallelism: cfg.BulkParallelism,
		debounceWindow:  cfg.DebounceWindow,
		holidays:        holidays,
	}
}

// ── Request creation ──────────────────────────────────────────────────────────

// RequestApproval opens an approval request for the order. When the resolved
// policy is auto-approve the order transitions directly; the audit record and
// integration event are identical in shape to the manual path.
func (s *ApprovalService) RequestApproval(ctx context.Context, orderID, initiator string) (*repository.ApprovalRequest, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if _, err := status.Transition(order.Status, status.PendingApproval); err != nil {
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "approval_request_rejected",
			PerformedBy: initiator,
			Metadata:    map[string]any{"reason": err.Error()},
		})
		return nil, err
	}

	if open, err := s.requests.GetOpenByOrderID(ctx, orderID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, apperrors.Newf(apperrors.CodeState,
			"purchase order %s already has an open approval request", orderID)
	}

	pol, err := s.policies.Resolve(policy.OrderContext{
		OrderID:    order.ID,
		SupplierID: order.SupplierID,
		Total:      order.TotalAmount,
		LineCount:  len(order.Lines),
		Initiator:  initiator,
	})
	if err != nil {
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "policy_resolution_failed",
			PerformedBy: initiator,
			Metadata:    map[string]any{"reason": err.Error()},
		})
		return nil, err
	}

	if pol.AutoApprove {
		return s.autoApprove(ctx, order, pol, initiator)
	}

	now := s.clock.Now()
	req := &repository.ApprovalRequest{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		Initiator:     initiator,
		Policy:        *pol,
		PolicyVersion: s.policies.Version,
		Status:        repository.RequestPending,
		Decisions:     []repository.Decision{},
	}
	if timeout := pol.EscalationTimeout(); timeout > 0 {
		deadline := now.Add(timeout)
		req.Deadline = &deadline
	}

	// Order first, request second: a version conflict on the order leaves no
	// orphan request behind, and a failed request insert rolls the order back
	// so resubmission stays possible.
	before := string(order.Status)
	order.Status = status.PendingApproval
	if err := s.orders.Save(ctx, order, order.Version); err != nil {
		return nil, err
	}
	if err := s.requests.Create(ctx, req); err != nil {
		s.revertOrder(ctx, order.ID, status.PendingApproval)
		return nil, err
	}

	after := string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      order.ID,
		RequestID:    &req.ID,
		Action:       "submitted",
		PerformedBy:  initiator,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     map[string]any{"policy": pol.Name, "required_approvers": pol.RequiredApprovers},
	})
	s.notifyRoles(ctx, pol.RequiredRoles, "approval_requested", order.ID, initiator, map[string]any{
		"request_id": req.ID,
		"amount":     order.TotalAmount,
	})

	s.log.Info().
		Str("order_id", order.ID).
		Str("request_id", req.ID).
		Str("policy", pol.Name).
		Int("required_approvers", pol.RequiredApprovers).
		Msg("Approval request created")

	return req, nil
}

// autoApprove transitions the order directly and persists a terminal request
// so the approval is queryable like any other.
func (s *ApprovalService) autoApprove(ctx context.Context, order *repository.PurchaseOrder, pol *policy.ApprovalPolicy, initiator string) (*repository.ApprovalRequest, error) {
	now := s.clock.Now()

	req := &repository.ApprovalRequest{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		Initiator:     initiator,
		Policy:        *pol,
		PolicyVersion: s.policies.Version,
		Status:        repository.RequestApproved,
		Decisions:     []repository.Decision{},
		CompletedAt:   &now,
	}
	before := string(order.Status)
	order.Status = status.Approved
	order.ApprovedBy = &initiator
	order.ApprovedAt = &now
	if err := s.orders.Save(ctx, order, order.Version); err != nil {
		return nil, err
	}
	if err := s.requests.Create(ctx, req); err != nil {
		s.revertOrder(ctx, order.ID, status.Approved)
		return nil, err
	}

	after := string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      order.ID,
		RequestID:    &req.ID,
		Action:       "auto_approved",
		PerformedBy:  initiator,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     map[string]any{"policy": pol.Name, "auto_approve": true},
	})
	s.emitEvent(ctx, repository.EventApproved, order.ID, initiator, status.Status(before), order.Status)
	s.notifier.PublishOrderEvent(ctx, "order_approved", order.ID, initiator, []string{initiator}, map[string]any{
		"policy": pol.Name, "auto": true,
	})

	s.log.Info().
		Str("order_id", order.ID).
		Str("policy", pol.Name).
		Msg("Purchase order auto-approved")

	return req, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecisionInput is one approver's submitted verdict.
type DecisionInput struct {
	Approver string                     `json:"approver"`
	Verdict  repository.DecisionVerdict `json:"verdict"`
	Reason   string                     `json:"reason,omitempty"`
}

// DecisionOutcome reports the request state after a decision.
type DecisionOutcome struct {
	Request   *repository.ApprovalRequest `json:"request"`
	Finalized bool                        `json:"finalized"`
}

// Decide records one approver's decision. A version conflict is retried once
// against freshly re-read state before CONCURRENCY surfaces to the caller.
func (s *ApprovalService) Decide(ctx context.Context, requestID string, input DecisionInput) (*DecisionOutcome, error) {
	out, err := s.decideOnce(ctx, requestID, input)
	if err != nil && apperrors.HasCode(err, apperrors.CodeConcurrency) {
		s.log.Warn().
			Str("request_id", requestID).
			Str("approver", input.Approver).
			Msg("Decision hit a version conflict; retrying once")
		out, err = s.decideOnce(ctx, requestID, input)
	}
	return out, err
}

func (s *ApprovalService) decideOnce(ctx context.Context, requestID string, input DecisionInput) (*DecisionOutcome, error) {
	if input.Approver == "" {
		return nil, apperrors.InvalidInput("approver", "approver is required")
	}
	if input.Verdict != repository.VerdictApprove && input.Verdict != repository.VerdictReject {
		return nil, apperrors.InvalidInput("verdict", "must be approve or reject")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if !req.Status.IsOpen() {
		err := apperrors.Newf(apperrors.CodeRequestClosed,
			"approval request %s is %s and no longer accepts decisions", requestID, req.Status)
		s.auditDecisionRejected(ctx, req, input, err)
		return nil, err
	}

	role, err := s.identity.RoleOf(ctx, input.Approver)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeIntegration, "failed to resolve approver role")
	}
	if !containsString(req.Policy.RequiredRoles, role) {
		err := apperrors.Newf(apperrors.CodeUnauthorized,
			"role %q is not permitted to decide on this request", role)
		s.auditDecisionRejected(ctx, req, input, err)
		return nil, err
	}
	if req.HasDecisionFrom(input.Approver) {
		err := apperrors.Newf(apperrors.CodeDuplicateDecision,
			"approver %s already decided on request %s", input.Approver, requestID)
		s.auditDecisionRejected(ctx, req, input, err)
		return nil, err
	}

	now := s.clock.Now()
	req.Decisions = append(req.Decisions, repository.Decision{
		Approver:  input.Approver,
		Role:      role,
		Verdict:   input.Verdict,
		Reason:    input.Reason,
		DecidedAt: now,
	})

	// A single reject finalizes immediately: fail-fast veto.
	if input.Verdict == repository.VerdictReject {
		return s.finalizeRejected(ctx, req, input, now)
	}

	if req.ApprovalCount() >= req.Policy.RequiredApprovers {
		return s.finalizeApproved(ctx, req, input, now)
	}

	// Quorum not yet met: persist the decision and stay open.
	if err := s.requests.Update(ctx, req, req.Version); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:     req.OrderID,
		RequestID:   &req.ID,
		Action:      "decision_recorded",
		PerformedBy: input.Approver,
		Metadata: map[string]any{
			"verdict":   string(input.Verdict),
			"approvals": req.ApprovalCount(),
			"required":  req.Policy.RequiredApprovers,
		},
	})
	return &DecisionOutcome{Request: req, Finalized: false}, nil
}

func (s *ApprovalService) finalizeRejected(ctx context.Context, req *repository.ApprovalRequest, input DecisionInput, now time.Time) (*DecisionOutcome, error) {
	req.Status = repository.RequestRejected
	req.CompletedAt = &now
	if err := s.requests.Update(ctx, req, req.Version); err != nil {
		return nil, err
	}

	// Return the order to draft so it can be amended and resubmitted.
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	before := string(order.Status)
	if order.Status == status.PendingApproval {
		order.Status = status.Draft
		if err := s.orders.Save(ctx, order, order.Version); err != nil {
			return nil, err
		}
	}

	after := string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      req.OrderID,
		RequestID:    &req.ID,
		Action:       "rejected",
		PerformedBy:  input.Approver,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     map[string]any{"reason": input.Reason},
	})
	s.notifier.PublishOrderEvent(ctx, "order_rejected", req.OrderID, input.Approver,
		[]string{req.Initiator}, map[string]any{"reason": input.Reason})

	s.log.Info().
		Str("order_id", req.OrderID).
		Str("request_id", req.ID).
		Str("approver", input.Approver).
		Msg("Approval request rejected")

	return &DecisionOutcome{Request: req, Finalized: true}, nil
}

func (s *ApprovalService) finalizeApproved(ctx context.Context, req *repository.ApprovalRequest, input DecisionInput, now time.Time) (*DecisionOutcome, error) {
	req.Status = repository.RequestApproved
	req.CompletedAt = &now
	if err := s.requests.Update(ctx, req, req.Version); err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	before := string(order.Status)
	next, err := status.Transition(order.Status, status.Approved)
	if err != nil {
		return nil, err
	}
	order.Status = next
	order.ApprovedBy = &input.Approver
	order.ApprovedAt = &now
	if err := s.orders.Save(ctx, order, order.Version); err != nil {
		return nil, err
	}

	after := string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      req.OrderID,
		RequestID:    &req.ID,
		Action:       "approved",
		PerformedBy:  input.Approver,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     map[string]any{"approvals": req.ApprovalCount(), "required": req.Policy.RequiredApprovers},
	})
	s.emitEvent(ctx, repository.EventApproved, req.OrderID, input.Approver, status.Status(before), order.Status)
	s.notifier.PublishOrderEvent(ctx, "order_approved", req.OrderID, input.Approver,
		[]string{req.Initiator}, map[string]any{"approvals": req.ApprovalCount()})

	s.log.Info().
		Str("order_id", req.OrderID).
		Str("request_id", req.ID).
		Int("approvals", req.ApprovalCount()).
		Msg("Approval request approved; quorum met")

	return &DecisionOutcome{Request: req, Finalized: true}, nil
}

// ── Bulk decisions ────────────────────────────────────────────────────────────

// BulkFailure is one failed item in a bulk decision.
type BulkFailure struct {
	RequestID string         `json:"request_id"`
	Code      apperrors.Code `json:"code"`
	Reason    string         `json:"reason"`
}

// BulkResult partitions bulk-decision outcomes. One request's failure never
// rolls back or aborts its siblings.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkDecide applies the same verdict to every request, fanning out across
// independent requests with bounded parallelism.
func (s *ApprovalService) BulkDecide(ctx context.Context, requestIDs []string, approver string, verdict repository.DecisionVerdict, reason string) *BulkResult {
	result := &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}

	type itemResult struct {
		requestID string
		err       error
	}
	results := make([]itemResult, len(requestIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkParallelism)
	for i, id := range requestIDs {
		i, id := i, id
		g.Go(func() error {
			_, err := s.Decide(gctx, id, DecisionInput{Approver: approver, Verdict: verdict, Reason: reason})
			results[i] = itemResult{requestID: id, err: err}
			return nil // item failures are reported, never abort siblings
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.err != nil {
			result.Failed = append(result.Failed, BulkFailure{
				RequestID: r.requestID,
				Code:      apperrors.CodeOf(r.err),
				Reason:    r.err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, r.requestID)
	}
	return result
}

// ── Escalation ────────────────────────────────────────────────────────────────

// ProcessEscalations scans open requests past their deadline and either
// escalates (adds the next role tier, re-arms the deadline) or force-expires
// past the escalation limit. Safe to run twice: escalation re-arms the
// deadline into the future and expiry is terminal.
func (s *ApprovalService) ProcessEscalations(ctx context.Context) ([]repository.EscalationResult, error) {
	now := s.clock.Now()

	overdue, err := s.requests.ListOpenPastDeadline(ctx, now)
	if err != nil {
		return nil, err
	}

	var results []repository.EscalationResult
	for _, req := range overdue {
		if req.Policy.SkipNonBusinessDays && !s.isBusinessDay(now) {
			continue
		}

		res := repository.EscalationResult{RequestID: req.ID, OrderID: req.OrderID}
		if req.EscalationCount >= s.maxEscalations {
			if err := s.expireRequest(ctx, req, now); err != nil {
				res.Error = err.Error()
			} else {
				res.Expired = true
			}
		} else {
			deadline, err := s.escalateRequest(ctx, req, now)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Escalated = true
				res.NewDeadline = deadline
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *ApprovalService) escalateRequest(ctx context.Context, req *repository.ApprovalRequest, now time.Time) (*time.Time, error) {
	var addedRole string
	if idx := req.EscalationCount; idx < len(req.Policy.EscalationRoles) {
		addedRole = req.Policy.EscalationRoles[idx]
		if !containsString(req.Policy.RequiredRoles, addedRole) {
			req.Policy.RequiredRoles = append(req.Policy.RequiredRoles, addedRole)
		}
	}
	req.EscalationCount++
	req.Status = repository.RequestEscalated

	deadline := now.Add(req.Policy.EscalationTimeout())
	req.Deadline = &deadline

	if err := s.requests.Update(ctx, req, req.Version); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:     req.OrderID,
		RequestID:   &req.ID,
		Action:      "escalated",
		PerformedBy: "system",
		Metadata: map[string]any{
			"escalation_count": req.EscalationCount,
			"added_role":       addedRole,
			"new_deadline":     deadline,
		},
	})
	if addedRole != "" {
		s.notifyRoles(ctx, []string{addedRole}, "approval_escalated", req.OrderID, "system", map[string]any{
			"request_id": req.ID,
		})
	}

	s.log.Info().
		Str("request_id", req.ID).
		Int("escalation_count", req.EscalationCount).
		Str("added_role", addedRole).
		Msg("Approval request escalated")

	return &deadline, nil
}

func (s *ApprovalService) expireRequest(ctx context.Context, req *repository.ApprovalRequest, now time.Time) error {
	req.Status = repository.RequestExpired
	req.CompletedAt = &now
	if err := s.requests.Update(ctx, req, req.Version); err != nil {
		return err
	}

	// The order goes back to draft so the workflow can be restarted.
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return err
	}
	before := string(order.Status)
	if order.Status == status.PendingApproval {
		order.Status = status.Draft
		if err := s.orders.Save(ctx, order, order.Version); err != nil {
			return err
		}
	}

	after := string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      req.OrderID,
		RequestID:    &req.ID,
		Action:       "expired",
		PerformedBy:  "system",
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     map[string]any{"escalation_count": req.EscalationCount},
	})
	s.notifier.PublishOrderEvent(ctx, "approval_expired", req.OrderID, "system",
		[]string{req.Initiator}, map[string]any{"request_id": req.ID})

	s.log.Info().
		Str("request_id", req.ID).
		Str("order_id", req.OrderID).
		Msg("Approval request expired after escalation limit")

	return nil
}

// RunEscalations runs the escalation scan on a fixed interval until ctx is
// cancelled.
func (s *ApprovalService) RunEscalations(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ProcessEscalations(ctx); err != nil {
				s.log.Error().Err(err).Msg("Escalation scan failed")
			}
		}
	}
}

// ── Status transitions outside the approval gate ──────────────────────────────

// TransitionOrder applies a direct status transition (send, receive, cancel,
// close). Approval-gated targets are refused here: pending_approval enters
// through RequestApproval and approved only through quorum.
func (s *ApprovalService) TransitionOrder(ctx context.Context, orderID string, target status.Status, actor string) (*repository.PurchaseOrder, error) {
	if target == status.PendingApproval || target == status.Approved {
		return nil, apperrors.Newf(apperrors.CodeState,
			"status %q can only be reached through the approval workflow", target)
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	before := order.Status
	next, err := status.Transition(order.Status, target)
	if err != nil {
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "transition_rejected",
			PerformedBy: actor,
			Metadata:    map[string]any{"target": string(target), "reason": err.Error()},
		})
		return nil, err
	}
	order.Status = next
	if err := s.orders.Save(ctx, order, order.Version); err != nil {
		return nil, err
	}

	beforeRaw, afterRaw := string(before), string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      orderID,
		Action:       "status_changed",
		PerformedBy:  actor,
		StatusBefore: &beforeRaw,
		StatusAfter:  &afterRaw,
	})

	kind := repository.EventStatusChanged
	if target == status.Cancelled {
		kind = repository.EventCancelled
	}
	s.emitEvent(ctx, kind, orderID, actor, before, order.Status)

	return order, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// PendingForRole lists open requests a holder of role can act on.
func (s *ApprovalService) PendingForRole(ctx context.Context, role string) ([]*repository.ApprovalRequest, error) {
	return s.requests.ListPendingForRole(ctx, role)
}

// AuditTrail returns the order's full audit history.
func (s *ApprovalService) AuditTrail(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	return s.audit.GetByOrderID(ctx, orderID)
}

// RequestAuditTrail returns the audit history of one approval request.
func (s *ApprovalService) RequestAuditTrail(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	return s.audit.GetByRequestID(ctx, requestID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// emitEvent writes one integration event to the outbox. The first attempt is
// deferred by the debounce window so bursts for the same order coalesce into
// a single projection refresh. Failure to enqueue is logged and audited; the
// reconciler bounds the resulting drift.
func (s *ApprovalService) emitEvent(ctx context.Context, kind repository.EventKind, orderID, actor string, from, to status.Status) {
	event := &repository.IntegrationEvent{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		Kind:          kind,
		Actor:         actor,
		FromStatus:    from,
		ToStatus:      to,
		NextAttemptAt: s.clock.Now().Add(s.debounceWindow),
	}
	if err := s.events.Create(ctx, event); err != nil {
		s.log.Error().Err(err).
			Str("order_id", orderID).
			Str("kind", string(kind)).
			Msg("Failed to enqueue integration event; reconciliation will repair the projection")
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "event_enqueue_failed",
			PerformedBy: actor,
			Metadata:    map[string]any{"kind": string(kind), "error": err.Error()},
		})
	}
}

// revertOrder returns the order to draft after a partial submission, undoing
// the status write when the request row could not be created. Failure here is
// logged; the order stays recoverable through a manual transition.
func (s *ApprovalService) revertOrder(ctx context.Context, orderID string, from status.Status) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err == nil && order.Status == from {
		order.Status = status.Draft
		order.ApprovedBy = nil
		order.ApprovedAt = nil
		err = s.orders.Save(ctx, order, order.Version)
	}
	if err != nil {
		s.log.Error().Err(err).
			Str("order_id", orderID).
			Msg("Could not return order to draft after failed request creation")
	}
}

func (s *ApprovalService) auditDecisionRejected(ctx context.Context, req *repository.ApprovalRequest, input DecisionInput, cause error) {
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:     req.OrderID,
		RequestID:   &req.ID,
		Action:      "decision_rejected",
		PerformedBy: input.Approver,
		Metadata: map[string]any{
			"verdict": string(input.Verdict),
			"code":    string(apperrors.CodeOf(cause)),
			"reason":  cause.Error(),
		},
	})
}

// appendAudit writes an audit entry and logs a warning on failure; it never
// blocks or fails the calling operation.
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("order_id", entry.OrderID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// notifyRoles resolves recipients per role and publishes one notification per
// role tier. Lookup failures are logged and skipped.
func (s *ApprovalService) notifyRoles(ctx context.Context, roles []string, eventType, orderID, actor string, payload map[string]any) {
	for _, role := range roles {
		users, err := s.identity.UsersWithRole(ctx, role)
		if err != nil {
			s.log.Warn().Err(err).Str("role", role).Msg("Could not resolve notification recipients for role")
			continue
		}
		if len(users) == 0 {
			continue
		}
		s.notifier.PublishOrderEvent(ctx, eventType, orderID, actor, users, payload)
	}
}

func (s *ApprovalService) isBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := s.holidays[t.Format("2006-01-02")]
	return !holiday
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
