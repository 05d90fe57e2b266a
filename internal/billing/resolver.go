package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"platemask/internal/external"
	"platemask/internal/types"
)

// AccountResolver maps a provider customer ID onto an internal account ID.
//
// Resolution order:
//  1. Direct lookup on the stored stripe_customer_id mapping.
//  2. Fallback: fetch the customer's email from the provider (bounded by
//     lookupTimeout) and match it against accounts.
//
// A successful fallback persists the mapping opportunistically so the next
// event resolves without the provider round trip. Persistence failures are
// logged and swallowed; resolution already succeeded.
type AccountResolver struct {
	accounts      types.AccountDirectory
	customers     external.CustomerDirectory
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewAccountResolver creates an AccountResolver. lookupTimeout bounds the
// provider email lookup on the fallback path.
func NewAccountResolver(
	accounts types.AccountDirectory,
	customers external.CustomerDirectory,
	lookupTimeout time.Duration,
	logger *slog.Logger,
) *AccountResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &AccountResolver{
		accounts:      accounts,
		customers:     customers,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// Resolve returns the account ID owning the given provider customer.
//
// When both the mapping and the email fallback miss, the error carries
// ErrCodeNotFoundAccount. That code is retryable at the webhook boundary:
// signup flows write the mapping asynchronously, so the account may exist by
// the time the provider redelivers.
func (r *AccountResolver) Resolve(ctx context.Context, customerID string) (string, error) {
	acct, err := r.accounts.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return "", err
	}
	if acct != nil {
		return acct.ID, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	email, err := r.customers.GetCustomerEmail(lookupCtx, customerID)
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", types.NewAppError(
			types.ErrCodeNotFoundAccount,
			fmt.Sprintf("customer %s has no email to match against", customerID),
			nil,
		)
	}

	acct, err = r.accounts.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", types.NewAppError(
			types.ErrCodeNotFoundAccount,
			fmt.Sprintf("no account found for customer %s", customerID),
			nil,
		)
	}

	// Best effort: the mapping is a cache of a fact we just established.
	if err := r.accounts.SetStripeCustomerID(ctx, acct.ID, customerID); err != nil {
		r.logger.Warn("failed to persist customer id mapping",
			slog.String("account_id", acct.ID),
			slog.String("customer_id", customerID),
			slog.String("error", err.Error()),
		)
	}

	return acct.ID, nil
}
