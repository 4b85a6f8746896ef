package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/status"
)

func seedReconcilerOrder(orders *memOrders, id string, st status.Status) {
	orders.put(&repository.PurchaseOrder{
		ID:         id,
		SupplierID: "sup-1",
		Status:     st,
		Lines: []*repository.OrderLine{
			{ID: id + "-l1", OrderID: id, OrderedQty: 10},
		},
	})
}

func TestReconcileOnceAddsMissingOrders(t *testing.T) {
	orders := newMemOrders()
	projection := newMemProjection(orders)
	clock := newFakeClock()
	r := NewReconciler(orders, projection, clock, 0, logger.Nop())

	seedReconcilerOrder(orders, "po-1", status.Approved)
	seedReconcilerOrder(orders, "po-2", status.SentToSupplier)
	seedReconcilerOrder(orders, "po-3", status.Draft)

	added, removed, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, removed)

	ids, err := projection.ListOrderIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"po-1", "po-2"}, ids)
}

func TestReconcileOnceRemovesStrayOrders(t *testing.T) {
	orders := newMemOrders()
	projection := newMemProjection(orders)
	clock := newFakeClock()
	r := NewReconciler(orders, projection, clock, 0, logger.Nop())

	seedReconcilerOrder(orders, "po-1", status.Cancelled)
	require.NoError(t, projection.Upsert(context.Background(), "po-1", status.Approved, clock.Now()))
	require.NoError(t, projection.Upsert(context.Background(), "po-ghost", status.Approved, clock.Now()))

	added, removed, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, removed)

	ids, err := projection.ListOrderIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReconcileOnceConverges(t *testing.T) {
	orders := newMemOrders()
	projection := newMemProjection(orders)
	clock := newFakeClock()
	r := NewReconciler(orders, projection, clock, 0, logger.Nop())

	seedReconcilerOrder(orders, "po-1", status.PartiallyReceived)
	require.NoError(t, projection.Upsert(context.Background(), "po-stale", status.Approved, clock.Now()))

	added, removed, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	// A second pass finds nothing to correct.
	added, removed, err = r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, removed)
}
