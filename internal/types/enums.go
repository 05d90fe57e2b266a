package types

// PlanTier identifies the billing plan granted to an account.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanStarter  PlanTier = "starter"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

// SubscriptionStatus represents the state of a billing subscription.
// The provider's status catalog is a superset of these constants; statuses
// outside the known set pass through as opaque values.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// EventKind is the internal vocabulary for subscription lifecycle events.
// The normalizer maps provider event types onto these three kinds; everything
// else is acknowledged and dropped.
type EventKind string

const (
	EventKindCreated EventKind = "created"
	EventKindUpdated EventKind = "updated"
	EventKindDeleted EventKind = "deleted"
)
