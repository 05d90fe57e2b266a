package types

import "context"

// ProjectionStore is the durable-store contract for the entitlement projection
// and its processed-event markers. The reconciler is the only writer; reads
// are served to the rest of the application directly (never via the payment
// provider).
//
// Implementations back onto PostgreSQL; the same implementation must work
// inside and outside a transaction (see ProjectionTxRunner).
type ProjectionStore interface {
	// GetSnapshot returns the snapshot for the account, or nil if the account
	// has never had a materialized subscription (the free default).
	GetSnapshot(ctx context.Context, accountID string) (*EntitlementSnapshot, error)

	// GetSnapshotForUpdate is GetSnapshot with a row lock, serializing
	// concurrent reconciliations for the same account. Only meaningful inside
	// a transaction.
	GetSnapshotForUpdate(ctx context.Context, accountID string) (*EntitlementSnapshot, error)

	// UpsertSnapshot writes the snapshot. The ordering guard (apply only when
	// the incoming event is not older than the stored last_event_at) is
	// repeated at the SQL level to make concurrent first-writes converge.
	UpsertSnapshot(ctx context.Context, snap *EntitlementSnapshot) error

	// ClearToFree reverts the account to the free default on subscription
	// deletion. The row is retained for audit, never physically deleted.
	ClearToFree(ctx context.Context, accountID string, ev *NormalizedEvent) error

	// SeenEvent reports whether a processed-event marker exists for the event id.
	SeenEvent(ctx context.Context, eventID string) (bool, error)

	// MarkEventProcessed records the processed-event marker. Markers are
	// write-once; recording an existing marker is a no-op.
	MarkEventProcessed(ctx context.Context, ev *NormalizedEvent) error
}

// ProjectionTxRunner runs a function against a transaction-scoped
// ProjectionStore. The marker write and the snapshot write of one event must
// commit as a single atomic unit; this is the single mandatory transactional
// boundary in the core.
type ProjectionTxRunner interface {
	InTx(ctx context.Context, fn func(ProjectionStore) error) error
}

// AccountDirectory is the slice of the externally-owned account store this
// service needs: resolving provider customer identities to internal accounts.
type AccountDirectory interface {
	// GetByStripeCustomerID returns the account mapped to the provider
	// customer id, or nil if no mapping exists.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*Account, error)

	// GetByEmail returns the account with the given email, or nil if none.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// SetStripeCustomerID persists the customer-id mapping for future events.
	SetStripeCustomerID(ctx context.Context, accountID, customerID string) error
}
