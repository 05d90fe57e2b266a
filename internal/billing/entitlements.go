package billing

import (
	"context"
	"log/slog"

	"platemask/internal/types"
)

// EntitlementService serves synchronous entitlement reads from the local
// projection. It never calls the payment provider; the projection is the
// single source of truth, whatever its staleness.
type EntitlementService struct {
	store  types.ProjectionStore
	logger *slog.Logger
}

// NewEntitlementService creates an EntitlementService over a pool-backed
// (non-transactional) projection store.
func NewEntitlementService(store types.ProjectionStore, logger *slog.Logger) *EntitlementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementService{store: store, logger: logger}
}

// GetEntitlement returns the account's current grant. Accounts without a
// projection row get the free default; that is the normal state for every
// account that never subscribed.
func (s *EntitlementService) GetEntitlement(ctx context.Context, accountID string) (types.Entitlement, error) {
	snap, err := s.store.GetSnapshot(ctx, accountID)
	if err != nil {
		return types.Entitlement{}, err
	}
	if snap == nil {
		return types.FreeEntitlement(), nil
	}

	return types.Entitlement{
		Plan:              snap.Plan,
		Status:            snap.Status,
		CurrentPeriodEnd:  snap.CurrentPeriodEnd,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
	}, nil
}
