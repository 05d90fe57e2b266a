package external

import "context"

// CustomerDirectory abstracts the provider-side customer lookups the account
// resolver needs for its email fallback. Implementations translate between
// domain types and vendor-specific APIs.
type CustomerDirectory interface {
	// GetCustomerEmail returns the email address attached to the provider
	// customer, or "" when the customer exists but carries no email.
	GetCustomerEmail(ctx context.Context, customerID string) (string, error)
}

// WebhookVerifier abstracts webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handling.
const (
	EventStripeSubCreated = "customer.subscription.created"
	EventStripeSubUpdated = "customer.subscription.updated"
	EventStripeSubDeleted = "customer.subscription.deleted"
)
