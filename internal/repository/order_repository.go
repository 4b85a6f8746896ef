package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/database"
	"github.com/procurio/be-po-approvals/internal/status"
)

// OrderRepository handles purchase-order reads and optimistic writes. All
// status mutations go through Save, which enforces compare-and-swap on the
// order version: there is no unconditional status update.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderFilter narrows List results.
type OrderFilter struct {
	SupplierID *string
	Status     *status.Status
	Page       int
	PageSize   int
}

// GetByID retrieves an order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*PurchaseOrder, error) {
	query := `
		SELECT id, order_number, supplier_id, status,
		       subtotal, tax_amount, total_amount,
		       approved_by, approved_at, expected_delivery,
		       version, created_by, created_at, updated_at
		FROM purchase_orders
		WHERE id = $1
	`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("purchase_order", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get purchase order")
	}

	lines, err := r.getLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

// Save persists the order header under optimistic concurrency control: the
// write succeeds only when the stored version still equals expectedVersion,
// and bumps the version by one. A conflict surfaces as CONCURRENCY.
func (r *OrderRepository) Save(ctx context.Context, order *PurchaseOrder, expectedVersion int64) error {
	query := `
		UPDATE purchase_orders
		SET status           = $3::po_status,
		    approved_by      = $4,
		    approved_at      = $5,
		    expected_delivery = $6,
		    version          = version + 1,
		    updated_at       = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.ID,
		expectedVersion,
		string(order.Status),
		order.ApprovedBy,
		order.ApprovedAt,
		order.ExpectedDelivery,
	).Scan(&order.Version, &order.UpdatedAt)

	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeConcurrency,
			"purchase order %s was modified concurrently (expected version %d)", order.ID, expectedVersion)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to save purchase order")
	}
	return nil
}

// ApplyReceipt updates received quantities and the order status in a single
// transaction, still under CAS on the header version.
func (r *OrderRepository) ApplyReceipt(ctx context.Context, order *PurchaseOrder, expectedVersion int64, receivedByLine map[string]float64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		headerQuery := `
			UPDATE purchase_orders
			SET status     = $3::po_status,
			    version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`
		err := tx.QueryRow(ctx, headerQuery, order.ID, expectedVersion, string(order.Status)).
			Scan(&order.Version, &order.UpdatedAt)
		if err == pgx.ErrNoRows {
			return apperrors.Newf(apperrors.CodeConcurrency,
				"purchase order %s was modified concurrently (expected version %d)", order.ID, expectedVersion)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update purchase order header")
		}

		lineQuery := `
			UPDATE purchase_order_lines
			SET received_qty = received_qty + $3
			WHERE id = $1 AND order_id = $2
		`
		for lineID, qty := range receivedByLine {
			tag, err := tx.Exec(ctx, lineQuery, lineID, order.ID, qty)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update received quantity")
			}
			if tag.RowsAffected() == 0 {
				return apperrors.NotFound("purchase_order_line", lineID)
			}
		}
		return nil
	})
}

// ListByStatuses returns order headers whose status is in the given set.
// Used by the reconciler to re-derive the receiving projection.
func (r *OrderRepository) ListByStatuses(ctx context.Context, statuses []status.Status) ([]*PurchaseOrder, error) {
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	query := `
		SELECT id, order_number, supplier_id, status,
		       subtotal, tax_amount, total_amount,
		       approved_by, approved_at, expected_delivery,
		       version, created_by, created_at, updated_at
		FROM purchase_orders
		WHERE status = ANY($1::po_status[])
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list purchase orders by status")
	}
	defer rows.Close()

	return r.scanOrders(rows)
}

// List returns order headers matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*PurchaseOrder, error) {
	query := `
		SELECT id, order_number, supplier_id, status,
		       subtotal, tax_amount, total_amount,
		       approved_by, approved_at, expected_delivery,
		       version, created_by, created_at, updated_at
		FROM purchase_orders
		WHERE ($1::text IS NULL OR supplier_id = $1)
		  AND ($2::po_status IS NULL OR status = $2::po_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	var statusPtr *string
	if filter.Status != nil {
		s := string(*filter.Status)
		statusPtr = &s
	}

	rows, err := r.db.Query(ctx, query, filter.SupplierID, statusPtr, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list purchase orders")
	}
	defer rows.Close()

	return r.scanOrders(rows)
}

// getLines loads lines for one order, ordered by line number.
func (r *OrderRepository) getLines(ctx context.Context, orderID string) ([]*OrderLine, error) {
	query := `
		SELECT id, order_id, line_number, product_id,
		       ordered_qty, received_qty, unit_cost, line_amount
		FROM purchase_order_lines
		WHERE order_id = $1
		ORDER BY line_number ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load order lines")
	}
	defer rows.Close()

	var lines []*OrderLine
	for rows.Next() {
		line := &OrderLine{}
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.LineNumber,
			&line.ProductID,
			&line.OrderedQty,
			&line.ReceivedQty,
			&line.UnitCost,
			&line.LineAmount,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan order line")
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type orderScanner interface {
	Scan(dest ...any) error
}

func (r *OrderRepository) scanOrder(sc orderScanner) (*PurchaseOrder, error) {
	order := &PurchaseOrder{}
	var rawStatus string

	err := sc.Scan(
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
		return nil, err
	}
	order.Status = status.Status(rawStatus)
	return order, nil
}

func (r *OrderRepository) scanOrders(rows pgx.Rows) ([]*PurchaseOrder, error) {
	var orders []*PurchaseOrder
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan purchase order")
		}
		orders = append(orders, order)
	}
	return orders, nil
}
