package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/database"
)

// AuditRepository appends and reads immutable audit log entries. The table
// carries a delete-prevention trigger, so Append is the only mutation.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (order_id, request_id, event_id,
		     action, performed_by,
		     status_before, status_after,
		     metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7,
		        $8)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.OrderID,
		entry.RequestID,
		entry.EventID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByOrderID returns the full audit trail for an order, oldest first.
func (r *AuditRepository) GetByOrderID(ctx context.Context, orderID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, order_id, request_id, event_id,
		       action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM approval_audit_log
		WHERE order_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetByRequestID returns all audit entries for one approval request.
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, order_id, request_id, event_id,
		       action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM approval_audit_log
		WHERE request_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get request audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.OrderID,
		&entry.RequestID,
		&entry.EventID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
