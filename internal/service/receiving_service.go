package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/status"
	"github.com/procurio/be-po-approvals/internal/tolerance"
)

// ReceivingConfig tunes the integration bridge.
type ReceivingConfig struct {
	MaxAttempts  int           // total delivery attempts before an event is parked as failed
	RetryBase    time.Duration // backoff base, doubled per attempt
	PollInterval time.Duration
	BatchSize    int
}

// ReceivingService is the bridge between the approval workflow and the
// receiving projection. It drains the integration-event outbox, keeps the
// projection in sync with the receivable status set, and owns receipt intake.
type ReceivingService struct {
	orders     OrderStore
	events     EventStore
	projection ProjectionStore
	audit      AuditStore
	notifier   Notifier
	tolerance  tolerance.Config
	clock      Clock
	log        *logger.Logger

	maxAttempts  int
	retryBase    time.Duration
	pollInterval time.Duration
	batchSize    int
}

// NewReceivingService creates a new ReceivingService.
func NewReceivingService(
	orders OrderStore,
	events EventStore,
	projection ProjectionStore,
	audit AuditStore,
	notifier Notifier,
	toleranceCfg tolerance.Config,
	clock Clock,
	cfg ReceivingConfig,
	log *logger.Logger,
) *ReceivingService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &ReceivingService{
		orders:       orders,
		events:       events,
		projection:   projection,
		audit:        audit,
		notifier:     notifier,
		tolerance:    toleranceCfg,
		clock:        clock,
		log:          log,
		maxAttempts:  cfg.MaxAttempts,
		retryBase:    cfg.RetryBase,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
}

// NextRetryDelay is the pure backoff schedule: base doubled per completed
// attempt. retryCount is 1 for the first retry.
func NextRetryDelay(base time.Duration, retryCount int) time.Duration {
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
	}
	return d
}

// Run drains due events on a fixed poll interval until ctx is cancelled.
// Backoff never sleeps here: failed events are rescheduled in the outbox and
// picked up by a later poll.
func (s *ReceivingService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessDueEvents(ctx); err != nil {
				s.log.Error().Err(err).Msg("Integration event processing pass failed")
			}
		}
	}
}

// ProcessDueEvents handles one batch of due events. Rapid repeated events for
// the same order are coalesced: only the newest event per order is delivered,
// older siblings are marked processed alongside it.
func (s *ReceivingService) ProcessDueEvents(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.events.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return err
	}

	latest := make(map[string]*repository.IntegrationEvent)
	coalesced := make(map[string][]*repository.IntegrationEvent)
	for _, event := range due {
		if prev, ok := latest[event.OrderID]; ok {
			if event.CreatedAt.After(prev.CreatedAt) {
				coalesced[event.OrderID] = append(coalesced[event.OrderID], prev)
				latest[event.OrderID] = event
			} else {
				coalesced[event.OrderID] = append(coalesced[event.OrderID], event)
			}
			continue
		}
		latest[event.OrderID] = event
	}

	for orderID, event := range latest {
		if err := s.HandleEvent(ctx, event); err != nil {
			s.recordFailure(ctx, event, err)
			continue
		}
		if err := s.events.MarkProcessed(ctx, event.ID, s.clock.Now()); err != nil {
			s.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to mark integration event processed")
			continue
		}
		for _, older := range coalesced[orderID] {
			if err := s.events.MarkProcessed(ctx, older.ID, s.clock.Now()); err != nil {
				s.log.Error().Err(err).Str("event_id", older.ID).Msg("Failed to mark coalesced event processed")
			}
		}
	}
	return nil
}

// HandleEvent applies one integration event to the receiving projection.
// The projection is driven by the order's authoritative current status, so
// re-processing the same event twice is harmless.
func (s *ReceivingService) HandleEvent(ctx context.Context, event *repository.IntegrationEvent) error {
	order, err := s.orders.GetByID(ctx, event.OrderID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeIntegration, "failed to load order for integration event")
	}

	if !order.Status.IsReceivable() {
		return s.onOrderLeftReceivable(ctx, event, order)
	}
	return s.onOrderApproved(ctx, event, order)
}

// onOrderApproved makes the order visible to receiving after the readiness
// check. A readiness failure never fails the originating approval: it
// surfaces as an INTEGRATION error and the event is retried.
func (s *ReceivingService) onOrderApproved(ctx context.Context, event *repository.IntegrationEvent, order *repository.PurchaseOrder) error {
	if err := receivingReadiness(order); err != nil {
		s.log.Warn().Err(err).
			Str("order_id", order.ID).
			Str("event_id", event.ID).
			Msg("Order is not receiving-ready")
		return err
	}

	if err := s.projection.Upsert(ctx, order.ID, order.Status, s.clock.Now()); err != nil {
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:     order.ID,
		EventID:     &event.ID,
		Action:      "projected_to_receiving",
		PerformedBy: event.Actor,
		Metadata:    map[string]any{"status": string(order.Status)},
	})
	return nil
}

// onOrderLeftReceivable removes the order from the projection when its
// status left the receivable set (cancelled, fully received, reverted).
func (s *ReceivingService) onOrderLeftReceivable(ctx context.Context, event *repository.IntegrationEvent, order *repository.PurchaseOrder) error {
	if err := s.projection.Remove(ctx, order.ID); err != nil {
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:     order.ID,
		EventID:     &event.ID,
		Action:      "removed_from_receiving",
		PerformedBy: event.Actor,
		Metadata:    map[string]any{"status": string(order.Status)},
	})
	return nil
}

// recordFailure schedules a retry or, past the attempt cap, parks the event
// as failed. Failed events stay queryable for manual retry — never dropped.
func (s *ReceivingService) recordFailure(ctx context.Context, event *repository.IntegrationEvent, cause error) {
	event.RetryCount++
	if event.RetryCount >= s.maxAttempts {
		if err := s.events.MarkFailed(ctx, event.ID, cause.Error()); err != nil {
			s.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to park integration event")
			return
		}
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     event.OrderID,
			EventID:     &event.ID,
			Action:      "integration_failed",
			PerformedBy: "system",
			Metadata:    map[string]any{"attempts": event.RetryCount, "error": cause.Error()},
		})
		s.notifier.PublishOrderEvent(ctx, "integration_failed", event.OrderID, "system", []string{event.Actor},
			map[string]any{"event_id": event.ID, "error": cause.Error()})
		s.log.Error().
			Str("event_id", event.ID).
			Str("order_id", event.OrderID).
			Int("attempts", event.RetryCount).
			Msg("Integration event failed permanently; awaiting manual retry")
		return
	}

	next := s.clock.Now().Add(NextRetryDelay(s.retryBase, event.RetryCount))
	if err := s.events.ScheduleRetry(ctx, event.ID, event.RetryCount, next, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to schedule integration event retry")
		return
	}
	s.log.Warn().
		Str("event_id", event.ID).
		Str("order_id", event.OrderID).
		Int("retry_count", event.RetryCount).
		Time("next_attempt", next).
		Msg("Integration event retry scheduled")
}

// receivingReadiness validates the fields receiving needs before an order
// may enter the projection.
func receivingReadiness(order *repository.PurchaseOrder) error {
	if order.SupplierID == "" {
		return apperrors.New(apperrors.CodeIntegration, "order has no supplier reference")
	}
	if len(order.Lines) == 0 {
		return apperrors.New(apperrors.CodeIntegration, "order has no line items")
	}
	if order.ExpectedDelivery == nil {
		return apperrors.New(apperrors.CodeIntegration, "order has no expected delivery date")
	}
	return nil
}

// ── Manual retry and queries ──────────────────────────────────────────────────

// RetryEvent returns a failed event to the pending pool.
func (s *ReceivingService) RetryEvent(ctx context.Context, eventID string) error {
	if err := s.events.ResetForRetry(ctx, eventID, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info().Str("event_id", eventID).Msg("Integration event queued for manual retry")
	return nil
}

// FailedEvents lists events exhausted by automatic retry.
func (s *ReceivingService) FailedEvents(ctx context.Context) ([]*repository.IntegrationEvent, error) {
	return s.events.ListFailed(ctx)
}

// ReceivingQueue returns the orders currently visible to receiving.
func (s *ReceivingService) ReceivingQueue(ctx context.Context) ([]*repository.PurchaseOrder, error) {
	return s.projection.ListOrders(ctx)
}

// ── Receipt intake ────────────────────────────────────────────────────────────

// ReceiptLineInput is one reported receipt line.
type ReceiptLineInput struct {
	LineID      string              `json:"line_id"`
	ReceivedQty float64             `json:"received_qty"`
	Condition   tolerance.Condition `json:"condition"`
}

// ValidateReceipt validates reported quantities against the order under the
// tolerance policy and, when the receipt is committable, records it and
// advances the order status. Tolerance findings are returned in the result;
// nothing is committed unless the receipt passes cleanly.
func (s *ReceivingService) ValidateReceipt(ctx context.Context, orderID string, inputs []ReceiptLineInput) (*tolerance.Result, error) {
	res, err := s.validateReceiptOnce(ctx, orderID, inputs)
	if err != nil && apperrors.HasCode(err, apperrors.CodeConcurrency) {
		s.log.Warn().Str("order_id", orderID).Msg("Receipt commit hit a version conflict; retrying once")
		res, err = s.validateReceiptOnce(ctx, orderID, inputs)
	}
	return res, err
}

func (s *ReceivingService) validateReceiptOnce(ctx context.Context, orderID string, inputs []ReceiptLineInput) (*tolerance.Result, error) {
	if len(inputs) == 0 {
		return nil, apperrors.InvalidInput("items", "at least one receipt line is required")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsReceivable() {
		return nil, apperrors.Newf(apperrors.CodeState,
			"purchase order %s is %s and cannot receive goods", orderID, order.Status)
	}

	linesByID := make(map[string]*repository.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		linesByID[line.ID] = line
	}

	items := make([]tolerance.ReceiptItem, 0, len(inputs))
	for _, in := range inputs {
		line, ok := linesByID[in.LineID]
		if !ok {
			return nil, apperrors.InvalidInput("line_id", "unknown order line "+in.LineID)
		}
		cond := in.Condition
		if cond == "" {
			cond = tolerance.ConditionGood
		}
		items = append(items, tolerance.ReceiptItem{
			LineID:            line.ID,
			ProductID:         line.ProductID,
			OrderedQty:        line.OrderedQty,
			PreviouslyRcvdQty: line.ReceivedQty,
			ReceivedQty:       in.ReceivedQty,
			Condition:         cond,
		})
	}

	result := tolerance.Validate(items, s.tolerance)

	if !result.CanProceed {
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "receipt_blocked",
			PerformedBy: "system",
			Metadata:    map[string]any{"errors": result.Errors},
		})
		return &result, nil
	}
	if result.RequiresApproval {
		s.appendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "receipt_requires_approval",
			PerformedBy: "system",
			Metadata:    map[string]any{"warnings": result.Warnings, "roles": result.ApprovalRoles},
		})
		s.notifier.PublishOrderEvent(ctx, "receipt_exception", orderID, "system", result.ApprovalRoles,
			map[string]any{"warnings": result.Warnings})
		return &result, nil
	}

	if err := s.commitReceipt(ctx, order, items); err != nil {
		return nil, err
	}
	return &result, nil
}

// commitReceipt applies accepted quantities and advances the status. Damaged
// and rejected lines are excluded: their quantities never enter the order.
func (s *ReceivingService) commitReceipt(ctx context.Context, order *repository.PurchaseOrder, items []tolerance.ReceiptItem) error {
	if order.Status == status.Approved {
		return apperrors.Newf(apperrors.CodeState,
			"purchase order %s has not been sent to the supplier yet", order.ID)
	}

	receivedByLine := make(map[string]float64)
	for _, item := range items {
		if item.Condition != tolerance.ConditionGood {
			continue
		}
		if item.ReceivedQty != 0 {
			receivedByLine[item.LineID] += item.ReceivedQty
		}
	}
	if len(receivedByLine) == 0 {
		return apperrors.New(apperrors.CodeValidation, "receipt contains no accepted quantities")
	}

	complete := true
	for _, line := range order.Lines {
		total := line.ReceivedQty + receivedByLine[line.ID]
		if total < line.OrderedQty {
			complete = false
			break
		}
	}

	before := order.Status
	target := status.PartiallyReceived
	if complete {
		target = status.FullyReceived
	}
	if target != order.Status {
		next, err := status.Transition(order.Status, target)
		if err != nil {
			return err
		}
		order.Status = next
	}

	if err := s.orders.ApplyReceipt(ctx, order, order.Version, receivedByLine); err != nil {
		return err
	}

	beforeRaw, afterRaw := string(before), string(order.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      order.ID,
		Action:       "receipt_recorded",
		PerformedBy:  "system",
		StatusBefore: &beforeRaw,
		StatusAfter:  &afterRaw,
		Metadata:     map[string]any{"lines": len(receivedByLine), "complete": complete},
	})

	if order.Status != before {
		event := &repository.IntegrationEvent{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			Kind:          repository.EventStatusChanged,
			Actor:         "system",
			FromStatus:    before,
			ToStatus:      order.Status,
			NextAttemptAt: s.clock.Now(),
		}
		if err := s.events.Create(ctx, event); err != nil {
			s.log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to enqueue receipt status event")
		}
	}

	s.log.Info().
		Str("order_id", order.ID).
		Bool("complete", complete).
		Int("lines", len(receivedByLine)).
		Msg("Receipt recorded")

	return nil
}

func (s *ReceivingService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("order_id", entry.OrderID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
