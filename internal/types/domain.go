// Package types defines the shared domain model for the PlateMask billing
// sync service: the entitlement projection, the normalized event vocabulary,
// the error taxonomy, and request-scoped context helpers.
package types

import "time"

// Account is the slice of the externally-owned account entity this service
// reads and writes: the identity and its payment-provider customer mapping.
// Account creation, authentication, and sessions belong to the auth subsystem.
type Account struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`
}

// EntitlementSnapshot is the projected subscription state for one account.
// It is the single source of truth every other code path (feature gating,
// billing UI, API key issuance) reads. At most one row exists per account;
// an absent row means the free default.
//
// LastEventAt is monotonically non-decreasing across successful applications
// for a given subscription ID; the reconciler enforces this ordering guard.
type EntitlementSnapshot struct {
	AccountID          string             `json:"account_id"`
	Plan               PlanTier           `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start,omitzero"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end,omitzero"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	SubscriptionID     string             `json:"subscription_id,omitempty"`
	LastEventID        string             `json:"last_event_id"`
	LastEventAt        time.Time          `json:"last_event_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NormalizedEvent is the provider-agnostic form of a subscription lifecycle
// event, carrying only the fields the projection needs. It is transient:
// nothing beyond the processed-event marker (keyed by ID) is persisted.
type NormalizedEvent struct {
	ID                 string
	Kind               EventKind
	SubscriptionID     string
	CustomerID         string
	PriceID            string
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CreatedAt          time.Time
}

// Entitlement is the read-API view of an account's current grant.
type Entitlement struct {
	Plan              PlanTier           `json:"plan"`
	Status            SubscriptionStatus `json:"status"`
	CurrentPeriodEnd  time.Time          `json:"current_period_end,omitzero"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
}

// FreeEntitlement is what an account with no snapshot row is entitled to.
func FreeEntitlement() Entitlement {
	return Entitlement{Plan: PlanFree, Status: SubStatusActive}
}

// PlanDefinition describes one entry of the static plan table: display name,
// price, and the feature list the marketing/billing UI renders.
type PlanDefinition struct {
	Tier              PlanTier `json:"tier"`
	Name              string   `json:"name"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	Features          []string `json:"features"`
}
