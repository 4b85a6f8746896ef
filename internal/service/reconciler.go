package service

import (
	"context"
	"time"

	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/status"
)

// Reconciler periodically re-derives the receiving projection from
// authoritative order state, bounding the inconsistency window left by any
// missed or failed integration event. Each pass is idempotent.
type Reconciler struct {
	orders     OrderStore
	projection ProjectionStore
	clock      Clock
	log        *logger.Logger
	interval   time.Duration
}

// NewReconciler creates a new Reconciler.
func NewReconciler(orders OrderStore, projection ProjectionStore, clock Clock, interval time.Duration, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		orders:     orders,
		projection: projection,
		clock:      clock,
		log:        log,
		interval:   interval,
	}
}

// Run reconciles on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if added, removed, err := r.ReconcileOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("Reconciliation pass failed")
			} else if added > 0 || removed > 0 {
				r.log.Info().
					Int("added", added).
					Int("removed", removed).
					Msg("Receiving projection drift corrected")
			}
		}
	}
}

// ReconcileOnce computes the desired projection membership from order state
// and corrects drift in both directions: missing orders are added, stray
// orders removed.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (added, removed int, err error) {
	desired, err := r.orders.ListByStatuses(ctx, status.ReceivableStatuses())
	if err != nil {
		return 0, 0, err
	}
	desiredSet := make(map[string]status.Status, len(desired))
	for _, order := range desired {
		desiredSet[order.ID] = order.Status
	}

	actual, err := r.projection.ListOrderIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	actualSet := make(map[string]struct{}, len(actual))
	for _, id := range actual {
		actualSet[id] = struct{}{}
	}

	now := r.clock.Now()
	for id, st := range desiredSet {
		if _, ok := actualSet[id]; ok {
			continue
		}
		if err := r.projection.Upsert(ctx, id, st, now); err != nil {
			return added, removed, err
		}
		r.log.Warn().Str("order_id", id).Msg("Reconciler added missing order to receiving projection")
		added++
	}
	for _, id := range actual {
		if _, ok := desiredSet[id]; ok {
			continue
		}
		if err := r.projection.Remove(ctx, id); err != nil {
			return added, removed, err
		}
		r.log.Warn().Str("order_id", id).Msg("Reconciler removed stray order from receiving projection")
		removed++
	}
	return added, removed, nil
}
