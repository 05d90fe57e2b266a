package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"platemask/internal/types"
)

// EntitlementRepo manages the entitlement projection and the processed-event
// markers. It implements types.ProjectionStore.
//
// Key invariants:
//   - UpsertSnapshot repeats the ordering guard (last_event_at <= incoming)
//     in the ON CONFLICT clause, so two concurrent first-writes for the same
//     account converge on the newer event.
//   - ClearToFree retains the row: deletions revert the account to the free
//     default but never remove history.
//   - Markers in processed_events are write-once; re-inserting is a no-op.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewEntitlementRepo creates an EntitlementRepo backed by the given database
// connection (pool or transaction).
func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

const snapshotColumns = `account_id, plan, status, current_period_start,
	current_period_end, cancel_at_period_end, subscription_id,
	last_event_id, last_event_at, updated_at`

// GetSnapshot returns the projection row for the account, or nil when no row
// exists (the account has never had a materialized subscription).
func (r *EntitlementRepo) GetSnapshot(ctx context.Context, accountID string) (*types.EntitlementSnapshot, error) {
	return r.getSnapshot(ctx, accountID, false)
}

// GetSnapshotForUpdate is GetSnapshot with FOR UPDATE, serializing concurrent
// reconciliations for the same account within the surrounding transaction.
func (r *EntitlementRepo) GetSnapshotForUpdate(ctx context.Context, accountID string) (*types.EntitlementSnapshot, error) {
	return r.getSnapshot(ctx, accountID, true)
}

func (r *EntitlementRepo) getSnapshot(ctx context.Context, accountID string, forUpdate bool) (*types.EntitlementSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM entitlements WHERE account_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		snap        types.EntitlementSnapshot
		periodStart *time.Time
		periodEnd   *time.Time
	)
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&snap.AccountID,
		&snap.Plan,
		&snap.Status,
		&periodStart,
		&periodEnd,
		&snap.CancelAtPeriodEnd,
		&snap.SubscriptionID,
		&snap.LastEventID,
		&snap.LastEventAt,
		&snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load entitlement snapshot", err)
	}

	if periodStart != nil {
		snap.CurrentPeriodStart = *periodStart
	}
	if periodEnd != nil {
		snap.CurrentPeriodEnd = *periodEnd
	}
	return &snap, nil
}

// UpsertSnapshot writes the projection row for snap.AccountID. The WHERE
// clause on the conflict branch re-checks the ordering guard so that a racing
// writer holding a newer event always wins, regardless of arrival order.
func (r *EntitlementRepo) UpsertSnapshot(ctx context.Context, snap *types.EntitlementSnapshot) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (account_id, plan, status, current_period_start,
		     current_period_end, cancel_at_period_end, subscription_id,
		     last_event_id, last_event_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (account_id) DO UPDATE
		 SET plan = EXCLUDED.plan,
		     status = EXCLUDED.status,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		     subscription_id = EXCLUDED.subscription_id,
		     last_event_id = EXCLUDED.last_event_id,
		     last_event_at = EXCLUDED.last_event_at,
		     updated_at = NOW()
		 WHERE entitlements.last_event_at <= EXCLUDED.last_event_at`,
		snap.AccountID,
		snap.Plan,
		snap.Status,
		nullableTime(snap.CurrentPeriodStart),
		nullableTime(snap.CurrentPeriodEnd),
		snap.CancelAtPeriodEnd,
		snap.SubscriptionID,
		snap.LastEventID,
		snap.LastEventAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert entitlement snapshot", err)
	}

	if tag.RowsAffected() == 0 {
		// A concurrent writer committed a newer event between our ordering
		// check and this write. Converging on the newer state is correct.
		r.logger.Info("entitlement upsert skipped by ordering guard",
			slog.String("account_id", snap.AccountID),
			slog.String("event_id", snap.LastEventID),
			slog.Time("event_at", snap.LastEventAt),
		)
	}
	return nil
}

// ClearToFree reverts the account to the free default after a subscription
// deletion. The period columns are kept as-is on existing rows for audit; a
// deletion arriving before any creation produces a fresh free row.
func (r *EntitlementRepo) ClearToFree(ctx context.Context, accountID string, ev *types.NormalizedEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (account_id, plan, status, current_period_start,
		     current_period_end, cancel_at_period_end, subscription_id,
		     last_event_id, last_event_at, updated_at)
		 VALUES ($1, $2, $3, NULL, NULL, FALSE, '', $4, $5, NOW())
		 ON CONFLICT (account_id) DO UPDATE
		 SET plan = EXCLUDED.plan,
		     status = EXCLUDED.status,
		     cancel_at_period_end = FALSE,
		     subscription_id = '',
		     last_event_id = EXCLUDED.last_event_id,
		     last_event_at = EXCLUDED.last_event_at,
		     updated_at = NOW()
		 WHERE entitlements.last_event_at <= EXCLUDED.last_event_at`,
		accountID,
		types.PlanFree,
		types.SubStatusCanceled,
		ev.ID,
		ev.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear entitlement to free", err)
	}
	return nil
}

// SeenEvent reports whether a processed-event marker exists for the event id.
func (r *EntitlementRepo) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID,
	).Scan(&seen)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check processed event", err)
	}
	return seen, nil
}

// MarkEventProcessed records the marker for ev. ON CONFLICT DO NOTHING keeps
// the write idempotent under concurrent duplicate deliveries.
func (r *EntitlementRepo) MarkEventProcessed(ctx context.Context, ev *types.NormalizedEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, kind, subscription_id, event_at, received_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.ID,
		ev.Kind,
		ev.SubscriptionID,
		ev.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record processed event", err)
	}
	return nil
}

// nullableTime maps the zero time to NULL so optional period bounds stay NULL
// in the database rather than 0001-01-01.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
