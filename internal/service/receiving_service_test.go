package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/status"
	"github.com/procurio/be-po-approvals/internal/tolerance"
)

type receivingFixture struct {
	svc        *ReceivingService
	orders     *memOrders
	events     *memEvents
	projection *memProjection
	audit      *memAudit
	notifier   *fakeNotifier
	clock      *fakeClock
}

func newReceivingFixture(t *testing.T) *receivingFixture {
	t.Helper()
	f := &receivingFixture{
		orders:   newMemOrders(),
		events:   newMemEvents(),
		audit:    newMemAudit(),
		notifier: newFakeNotifier(),
		clock:    newFakeClock(),
	}
	f.projection = newMemProjection(f.orders)
	f.svc = NewReceivingService(
		f.orders, f.events, f.projection, f.audit,
		f.notifier, tolerance.DefaultConfig(), f.clock,
		ReceivingConfig{MaxAttempts: 3, RetryBase: time.Second},
		logger.Nop(),
	)
	return f
}

func (f *receivingFixture) seedOrder(id string, st status.Status, orderedQty, receivedQty float64) *repository.PurchaseOrder {
	delivery := f.clock.Now().Add(7 * 24 * time.Hour)
	order := &repository.PurchaseOrder{
		ID:               id,
		OrderNumber:      "PO-" + id,
		SupplierID:       "sup-1",
		Status:           st,
		TotalAmount:      100_000,
		ExpectedDelivery: &delivery,
		Lines: []*repository.OrderLine{
			{ID: id + "-l1", OrderID: id, LineNumber: 1, ProductID: "prod-1", OrderedQty: orderedQty, ReceivedQty: receivedQty},
		},
	}
	f.orders.put(order)
	return order
}

func (f *receivingFixture) seedEvent(t *testing.T, id, orderID string) *repository.IntegrationEvent {
	t.Helper()
	event := &repository.IntegrationEvent{
		ID:            id,
		OrderID:       orderID,
		Kind:          repository.EventApproved,
		Actor:         "alice",
		NextAttemptAt: f.clock.Now(),
	}
	require.NoError(t, f.events.Create(context.Background(), event))
	return event
}

func TestNextRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, NextRetryDelay(time.Second, 1))
	assert.Equal(t, 2*time.Second, NextRetryDelay(time.Second, 2))
	assert.Equal(t, 4*time.Second, NextRetryDelay(time.Second, 3))
	assert.Equal(t, 10*time.Second, NextRetryDelay(10*time.Second, 1))
}

func TestProcessDueEventsProjectsApprovedOrder(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.Approved, 100, 0)
	f.seedEvent(t, "ev-1", "po-1")

	require.NoError(t, f.svc.ProcessDueEvents(context.Background()))

	ok, err := f.projection.Contains(context.Background(), "po-1")
	require.NoError(t, err)
	assert.True(t, ok)

	event, err := f.events.GetByID(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, repository.EventProcessed, event.Status)
	assert.NotNil(t, event.ProcessedAt)

	assert.Contains(t, f.audit.actions("po-1"), "projected_to_receiving")
}

func TestProcessDueEventsIdempotentOnDuplicateDelivery(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.Approved, 100, 0)
	event := f.seedEvent(t, "ev-1", "po-1")

	require.NoError(t, f.svc.HandleEvent(context.Background(), event))
	require.NoError(t, f.svc.HandleEvent(context.Background(), event))

	ids, err := f.projection.ListOrderIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"po-1"}, ids)
}

func TestProcessDueEventsCoalescesPerOrder(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.SentToSupplier, 100, 0)
	f.seedEvent(t, "ev-1", "po-1")
	f.seedEvent(t, "ev-2", "po-1")

	require.NoError(t, f.svc.ProcessDueEvents(context.Background()))

	for _, id := range []string{"ev-1", "ev-2"} {
		event, err := f.events.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, repository.EventProcessed, event.Status, "event %s", id)
	}

	ok, err := f.projection.Contains(context.Background(), "po-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessDueEventsRemovesOrderThatLeftReceivableSet(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.Cancelled, 100, 0)
	require.NoError(t, f.projection.Upsert(context.Background(), "po-1", status.Approved, f.clock.Now()))
	f.seedEvent(t, "ev-1", "po-1")

	require.NoError(t, f.svc.ProcessDueEvents(context.Background()))

	ok, err := f.projection.Contains(context.Background(), "po-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, f.audit.actions("po-1"), "removed_from_receiving")
}

func TestProcessDueEventsSchedulesRetryOnReadinessFailure(t *testing.T) {
	f := newReceivingFixture(t)
	order := f.seedOrder("po-1", status.Approved, 100, 0)
	order.ExpectedDelivery = nil
	f.orders.put(order)
	f.seedEvent(t, "ev-1", "po-1")

	require.NoError(t, f.svc.ProcessDueEvents(context.Background()))

	event, err := f.events.GetByID(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, repository.EventPending, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	assert.Equal(t, f.clock.Now().Add(time.Second), event.NextAttemptAt)
	require.NotNil(t, event.LastError)

	ok, err := f.projection.Contains(context.Background(), "po-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessDueEventsParksEventAfterExhaustedRetries(t *testing.T) {
	f := newReceivingFixture(t)
	order := f.seedOrder("po-1", status.Approved, 100, 0)
	order.ExpectedDelivery = nil
	f.orders.put(order)
	f.seedEvent(t, "ev-1", "po-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.ProcessDueEvents(context.Background()))
		f.clock.Advance(time.Minute)
	}

	event, err := f.events.GetByID(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, repository.EventFailed, event.Status)

	failed, err := f.svc.FailedEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "ev-1", failed[0].ID)

	assert.Contains(t, f.audit.actions("po-1"), "integration_failed")
	assert.Contains(t, f.notifier.eventTypes(), "integration_failed")
}

func TestRetryEventReturnsFailedEventToPool(t *testing.T) {
	f := newReceivingFixture(t)
	order := f.seedOrder("po-1", status.Approved, 100, 0)
	order.ExpectedDelivery = nil
	f.orders.put(order)
	f.seedEvent(t, "ev-1", "po-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.ProcessDueEvents(context.Background()))
		f.clock.Advance(time.Minute)
	}

	// Fix the order, then retry manually.
	delivery := f.clock.Now().Add(24 * time.Hour)
	stored, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	stored.ExpectedDelivery = &delivery
	require.NoError(t, f.orders.Save(context.Background(), stored, stored.Version))

	require.NoError(t, f.svc.RetryEvent(context.Background(), "ev-1"))

	event, err := f.events.GetByID(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, repository.EventPending, event.Status)
	assert.Equal(t, 0, event.RetryCount)

	require.NoError(t, f.svc.ProcessDueEvents(context.Background()))
	ok, err := f.projection.Contains(context.Background(), "po-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetryEventRejectsNonFailedEvent(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.Approved, 100, 0)
	f.seedEvent(t, "ev-1", "po-1")

	err := f.svc.RetryEvent(context.Background(), "ev-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeState, apperrors.CodeOf(err))
}

// ── Receipt intake ────────────────────────────────────────────────────────────

func TestValidateReceiptPartialDelivery(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.SentToSupplier, 100, 0)

	res, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 80},
	})
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.False(t, res.RequiresApproval)

	order, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	assert.Equal(t, status.PartiallyReceived, order.Status)
	assert.Equal(t, 80.0, order.Lines[0].ReceivedQty)

	events, err := f.events.ListDue(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, repository.EventStatusChanged, events[0].Kind)
}

func TestValidateReceiptCompletesOrder(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.PartiallyReceived, 100, 80)

	res, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 20},
	})
	require.NoError(t, err)
	assert.True(t, res.CanProceed)

	order, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	assert.Equal(t, status.FullyReceived, order.Status)
	assert.Equal(t, 100.0, order.Lines[0].ReceivedQty)
}

func TestValidateReceiptSecondPartialKeepsStatus(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.PartiallyReceived, 100, 30)

	res, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 30},
	})
	require.NoError(t, err)
	assert.True(t, res.CanProceed)

	order, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	assert.Equal(t, status.PartiallyReceived, order.Status)
	assert.Equal(t, 60.0, order.Lines[0].ReceivedQty)
}

func TestValidateReceiptBlockedVarianceCommitsNothing(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.SentToSupplier, 100, 0)

	res, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 120},
	})
	require.NoError(t, err)
	assert.False(t, res.CanProceed)
	require.NotEmpty(t, res.Errors)

	order, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	assert.Equal(t, status.SentToSupplier, order.Status)
	assert.Equal(t, 0.0, order.Lines[0].ReceivedQty)

	assert.Contains(t, f.audit.actions("po-1"), "receipt_blocked")
}

func TestValidateReceiptExceptionRequiresApproval(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.SentToSupplier, 100, 0)

	res, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 107},
	})
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.True(t, res.RequiresApproval)

	order, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, order.Lines[0].ReceivedQty, "nothing committed pending approval")

	assert.Contains(t, f.audit.actions("po-1"), "receipt_requires_approval")
	assert.Contains(t, f.notifier.eventTypes(), "receipt_exception")
}

func TestValidateReceiptRefusedBeforeSending(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.Approved, 100, 0)

	_, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 100},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeState, apperrors.CodeOf(err))
}

func TestValidateReceiptOnNonReceivableOrder(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.Draft, 100, 0)

	_, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 100},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeState, apperrors.CodeOf(err))
}

func TestValidateReceiptUnknownLine(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.SentToSupplier, 100, 0)

	_, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "nope", ReceivedQty: 10},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestValidateReceiptEmptyInput(t *testing.T) {
	f := newReceivingFixture(t)

	_, err := f.svc.ValidateReceipt(context.Background(), "po-1", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestValidateReceiptAllDamagedCommitsNothing(t *testing.T) {
	f := newReceivingFixture(t)
	f.seedOrder("po-1", status.SentToSupplier, 100, 0)

	_, err := f.svc.ValidateReceipt(context.Background(), "po-1", []ReceiptLineInput{
		{LineID: "po-1-l1", ReceivedQty: 50, Condition: tolerance.ConditionDamaged},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	order, err := f.orders.GetByID(context.Background(), "po-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, order.Lines[0].ReceivedQty, "damaged quantities never enter the order")
}
