package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"platemask/internal/types"
)

// AccountRepo reads and updates the slice of the accounts table this service
// owns: the payment-provider customer mapping. It implements
// types.AccountDirectory.
type AccountRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccountRepo creates an AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX, logger *slog.Logger) *AccountRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{db: db, logger: logger}
}

// GetByStripeCustomerID returns the account mapped to the customer id, or nil
// when no mapping exists yet. A nil result is not an error: the resolver falls
// back to an email lookup.
func (r *AccountRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Account, error) {
	var acct types.Account
	err := r.db.QueryRow(ctx,
		`SELECT id, email, COALESCE(stripe_customer_id, '')
		 FROM accounts
		 WHERE stripe_customer_id = $1`,
		customerID,
	).Scan(&acct.ID, &acct.Email, &acct.StripeCustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up account by customer id", err)
	}
	return &acct, nil
}

// GetByEmail returns the account with the given email, or nil when none
// exists. Emails are stored lowercased; the caller passes them through as-is.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*types.Account, error) {
	var acct types.Account
	err := r.db.QueryRow(ctx,
		`SELECT id, email, COALESCE(stripe_customer_id, '')
		 FROM accounts
		 WHERE email = LOWER($1)`,
		email,
	).Scan(&acct.ID, &acct.Email, &acct.StripeCustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up account by email", err)
	}
	return &acct, nil
}

// SetStripeCustomerID persists the customer mapping so future events resolve
// without the email fallback. An existing different mapping is not overwritten.
func (r *AccountRepo) SetStripeCustomerID(ctx context.Context, accountID, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET stripe_customer_id = $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND (stripe_customer_id IS NULL OR stripe_customer_id = '' OR stripe_customer_id = $1)`,
		customerID,
		accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set stripe customer id", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Warn("customer id mapping not persisted",
			slog.String("account_id", accountID),
			slog.String("customer_id", customerID),
		)
	}
	return nil
}
