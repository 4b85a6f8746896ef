package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/database"
	"github.com/procurio/be-po-approvals/internal/status"
)

// IntegrationEventRepository is the outbox for events flowing from the
// approval workflow to the receiving projection. Rows are created pending,
// marked processed or failed, and retained for audit — never deleted.
type IntegrationEventRepository struct {
	db *database.DB
}

// NewIntegrationEventRepository creates a new IntegrationEventRepository.
func NewIntegrationEventRepository(db *database.DB) *IntegrationEventRepository {
	return &IntegrationEventRepository{db: db}
}

// Create inserts a pending event due immediately.
func (r *IntegrationEventRepository) Create(ctx context.Context, event *IntegrationEvent) error {
	query := `
		INSERT INTO integration_events
		    (id, order_id, kind, actor, from_status, to_status,
		     status, retry_count, next_attempt_at)
		VALUES ($1, $2, $3::integration_event_kind, $4, $5, $6,
		        'pending'::integration_event_status, 0, $7)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		event.ID,
		event.OrderID,
		string(event.Kind),
		event.Actor,
		nullableStatus(event.FromStatus),
		nullableStatus(event.ToStatus),
		event.NextAttemptAt,
	).Scan(&event.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create integration event")
	}
	event.Status = EventPending
	return nil
}

// GetByID retrieves one event.
func (r *IntegrationEventRepository) GetByID(ctx context.Context, id string) (*IntegrationEvent, error) {
	event, err := r.scanEvent(r.db.QueryRow(ctx, selectEvents+" WHERE id = $1", id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("integration_event", id)
	}
	return event, err
}

// ListDue returns pending events whose next attempt time has arrived,
// oldest first, capped at limit.
func (r *IntegrationEventRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*IntegrationEvent, error) {
	query := selectEvents + `
		WHERE status = 'pending'
		  AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list due integration events")
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// ListFailed returns events exhausted by automatic retry, awaiting manual
// intervention.
func (r *IntegrationEventRepository) ListFailed(ctx context.Context) ([]*IntegrationEvent, error) {
	query := selectEvents + `
		WHERE status = 'failed'
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list failed integration events")
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// MarkProcessed finalizes a successfully handled event.
func (r *IntegrationEventRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE integration_events
		SET status       = 'processed'::integration_event_status,
		    processed_at = $2,
		    last_error   = NULL
		WHERE id = $1
		RETURNING id
	`
	return r.expectRow(r.db.QueryRow(ctx, query, id, at), id)
}

// ScheduleRetry records a transient failure and the computed next attempt.
func (r *IntegrationEventRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastError string) error {
	query := `
		UPDATE integration_events
		SET retry_count     = $2,
		    next_attempt_at = $3,
		    last_error      = $4
		WHERE id = $1
		RETURNING id
	`
	return r.expectRow(r.db.QueryRow(ctx, query, id, retryCount, nextAttempt, lastError), id)
}

// MarkFailed parks an event after retry exhaustion. The row stays queryable
// for manual retry.
func (r *IntegrationEventRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE integration_events
		SET status     = 'failed'::integration_event_status,
		    last_error = $2
		WHERE id = $1
		RETURNING id
	`
	return r.expectRow(r.db.QueryRow(ctx, query, id, lastError), id)
}

// ResetForRetry returns a failed event to the pending pool (manual retry).
func (r *IntegrationEventRepository) ResetForRetry(ctx context.Context, id string, nextAttempt time.Time) error {
	query := `
		UPDATE integration_events
		SET status          = 'pending'::integration_event_status,
		    retry_count     = 0,
		    next_attempt_at = $2,
		    last_error      = NULL
		WHERE id = $1 AND status = 'failed'
		RETURNING id
	`
	var returned string
	err := r.db.QueryRow(ctx, query, id, nextAttempt).Scan(&returned)
	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeState, "integration event %s is not in failed state", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to reset integration event")
	}
	return nil
}

const selectEvents = `
	SELECT id, order_id, kind, actor, from_status, to_status,
	       status, retry_count, last_error,
	       next_attempt_at, created_at, processed_at
	FROM integration_events
`

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *IntegrationEventRepository) expectRow(row pgx.Row, id string) error {
	var returned string
	err := row.Scan(&returned)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("integration_event", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update integration event")
	}
	return nil
}

type eventScanner interface {
	Scan(dest ...any) error
}

func (r *IntegrationEventRepository) scanEvent(sc eventScanner) (*IntegrationEvent, error) {
	event := &IntegrationEvent{}
	var rawKind, rawStatus string
	var fromStatus, toStatus *string

	err := sc.Scan(
		&event.ID,
		&event.OrderID,
		&rawKind,
		&event.Actor,
		&fromStatus,
		&toStatus,
		&rawStatus,
		&event.RetryCount,
		&event.LastError,
		&event.NextAttemptAt,
		&event.CreatedAt,
		&event.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Kind = EventKind(rawKind)
	event.Status = EventStatus(rawStatus)
	if fromStatus != nil {
		event.FromStatus = status.Status(*fromStatus)
	}
	if toStatus != nil {
		event.ToStatus = status.Status(*toStatus)
	}
	return event, nil
}

func (r *IntegrationEventRepository) scanEvents(rows pgx.Rows) ([]*IntegrationEvent, error) {
	var events []*IntegrationEvent
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan integration event")
		}
		events = append(events, event)
	}
	return events, nil
}

func nullableStatus(s status.Status) *string {
	if s == "" {
		return nil
	}
	raw := string(s)
	return &raw
}
