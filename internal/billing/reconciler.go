package billing

import (
	"context"
	"fmt"
	"log/slog"

	"platemask/internal/types"
)

// Outcome classifies what Reconcile did with an event. Every outcome is an
// acknowledgeable success at the webhook boundary.
type Outcome string

const (
	// OutcomeApplied means the event mutated the projection.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means a processed-event marker already existed; the
	// event was dropped without touching the projection.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means the event was not strictly newer than the stored
	// snapshot; the projection kept the existing state but the marker was
	// still recorded.
	OutcomeStale Outcome = "stale"
)

// Reconciler applies normalized subscription events to the entitlement
// projection. It is the projection's only writer.
//
// Per event, inside one transaction:
//  1. Idempotency: if the event's marker exists, stop (duplicate).
//  2. Ordering: lock the snapshot row; if the event is not strictly newer
//     than the stored last_event_at, keep the existing state (stale). Ties
//     keep the existing state.
//  3. Apply: created/updated upsert the snapshot; deleted clears it to the
//     free default while retaining the row.
//  4. Record the marker.
//
// The marker and the projection commit or roll back together, so a crash
// between them can never acknowledge an unapplied event.
type Reconciler struct {
	tx      types.ProjectionTxRunner
	catalog *Catalog
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler over the given transaction runner.
func NewReconciler(tx types.ProjectionTxRunner, catalog *Catalog, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{tx: tx, catalog: catalog, logger: logger}
}

// Reconcile applies ev to the projection of accountID and reports the outcome.
// Errors roll the whole transaction back; redelivery of the same event then
// starts from a clean slate.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, ev *types.NormalizedEvent) (Outcome, error) {
	outcome := OutcomeApplied

	err := r.tx.InTx(ctx, func(store types.ProjectionStore) error {
		seen, err := store.SeenEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		if seen {
			outcome = OutcomeDuplicate
			return nil
		}

		// The row lock serializes racing deliveries for the same account for
		// the rest of this transaction.
		snap, err := store.GetSnapshotForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		if snap != nil && !ev.CreatedAt.After(snap.LastEventAt) {
			outcome = OutcomeStale
			return store.MarkEventProcessed(ctx, ev)
		}

		switch ev.Kind {
		case types.EventKindCreated, types.EventKindUpdated:
			next := &types.EntitlementSnapshot{
				AccountID:          accountID,
				Plan:               r.catalog.PlanForPrice(ev.PriceID),
				Status:             ev.Status,
				CurrentPeriodStart: ev.CurrentPeriodStart,
				CurrentPeriodEnd:   ev.CurrentPeriodEnd,
				CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
				SubscriptionID:     ev.SubscriptionID,
				LastEventID:        ev.ID,
				LastEventAt:        ev.CreatedAt,
			}
			if err := store.UpsertSnapshot(ctx, next); err != nil {
				return err
			}
		case types.EventKindDeleted:
			if err := store.ClearToFree(ctx, accountID, ev); err != nil {
				return err
			}
		default:
			return types.NewAppError(
				types.ErrCodeInternalUnexpected,
				fmt.Sprintf("unhandled event kind %q", ev.Kind),
				nil,
			)
		}

		return store.MarkEventProcessed(ctx, ev)
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("event reconciled",
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("account_id", accountID),
		slog.String("outcome", string(outcome)),
	)
	return outcome, nil
}
