package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/database"
	"github.com/procurio/be-po-approvals/internal/status"
)

// ReceivingProjectionRepository maintains the receiving-visible projection:
// the set of orders the receiving process may act on. Upsert is idempotent so
// duplicate event delivery never duplicates an order's presence.
type ReceivingProjectionRepository struct {
	db *database.DB
}

// NewReceivingProjectionRepository creates a new ReceivingProjectionRepository.
func NewReceivingProjectionRepository(db *database.DB) *ReceivingProjectionRepository {
	return &ReceivingProjectionRepository{db: db}
}

// Upsert makes an order visible to receiving, refreshing its status when the
// row already exists.
func (r *ReceivingProjectionRepository) Upsert(ctx context.Context, orderID string, st status.Status, at time.Time) error {
	query := `
		INSERT INTO receiving_projection (order_id, status, refreshed_at)
		VALUES ($1, $2::po_status, $3)
		ON CONFLICT (order_id)
		DO UPDATE SET status = EXCLUDED.status, refreshed_at = EXCLUDED.refreshed_at
	`

	if _, err := r.db.Exec(ctx, query, orderID, string(st), at); err != nil {
		return apperrors.Wrap(err, apperrors.CodeIntegration, "failed to upsert receiving projection")
	}
	return nil
}

// Remove drops an order from the projection. Removing an absent order is not
// an error: removal is idempotent too.
func (r *ReceivingProjectionRepository) Remove(ctx context.Context, orderID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM receiving_projection WHERE order_id = $1`, orderID); err != nil {
		return apperrors.Wrap(err, apperrors.CodeIntegration, "failed to remove from receiving projection")
	}
	return nil
}

// Contains reports whether an order is currently visible to receiving.
func (r *ReceivingProjectionRepository) Contains(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM receiving_projection WHERE order_id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInternal, "failed to check receiving projection")
	}
	return exists, nil
}

// ListOrderIDs returns every projected order ID.
func (r *ReceivingProjectionRepository) ListOrderIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT order_id FROM receiving_projection ORDER BY refreshed_at ASC`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list receiving projection")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan projection row")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListOrders joins the projection against purchase orders, returning the
// receiving queue exposed to the API layer.
func (r *ReceivingProjectionRepository) ListOrders(ctx context.Context) ([]*PurchaseOrder, error) {
	query := `
		SELECT o.id, o.order_number, o.supplier_id, o.status,
		       o.subtotal, o.tax_amount, o.total_amount,
		       o.approved_by, o.approved_at, o.expected_delivery,
		       o.version, o.created_by, o.created_at, o.updated_at
		FROM receiving_projection p
		JOIN purchase_orders o ON o.id = p.order_id
		ORDER BY o.expected_delivery ASC NULLS LAST, o.created_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list receiving queue")
	}
	defer rows.Close()

	return r.scanOrders(rows)
}

func (r *ReceivingProjectionRepository) scanOrders(rows pgx.Rows) ([]*PurchaseOrder, error) {
	var orders []*PurchaseOrder
	for rows.Next() {
		order := &PurchaseOrder{}
		var rawStatus string
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.SupplierID,
			&rawStatus,
			&order.Subtotal,
			&order.TaxAmount,
			&order.TotalAmount,
			&order.ApprovedBy,
			&order.ApprovedAt,
			&order.ExpectedDelivery,
			&order.Version,
			&order.CreatedBy,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan receiving queue row")
		}
		order.Status = status.Status(rawStatus)
		orders = append(orders, order)
	}
	return orders, nil
}
