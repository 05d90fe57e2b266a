package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"platemask/internal/types"
)

// ErrIgnoredEvent is returned by Normalize for event types outside the
// recognized set. The webhook endpoint acknowledges these with 200 and drops
// them; they are not failures.
var ErrIgnoredEvent = errors.New("event type not recognized")

// stripeEvent is the minimal envelope this service reads from a webhook
// payload. Decoding locally instead of binding to the vendor SDK's event type
// keeps the normalizer independent of SDK version churn.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// stripeSubscription is the slice of the subscription object the projection
// needs. Newer Stripe API versions carry the billing period on the items;
// older ones carry it on the subscription. Both are read.
type stripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// Normalizer translates raw provider webhook payloads into the internal
// NormalizedEvent vocabulary. The recognized event-type set is injected from
// configuration; everything else yields ErrIgnoredEvent.
type Normalizer struct {
	recognized map[string]types.EventKind
	logger     *slog.Logger
}

// NewNormalizer builds a Normalizer for the given provider event types. The
// lifecycle kind is derived from the type's suffix (".created", ".updated",
// ".deleted"); types with no mappable suffix are dropped with a warning.
func NewNormalizer(recognizedEvents []string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}

	recognized := make(map[string]types.EventKind, len(recognizedEvents))
	for _, eventType := range recognizedEvents {
		eventType = strings.TrimSpace(eventType)
		switch {
		case strings.HasSuffix(eventType, ".created"):
			recognized[eventType] = types.EventKindCreated
		case strings.HasSuffix(eventType, ".updated"):
			recognized[eventType] = types.EventKindUpdated
		case strings.HasSuffix(eventType, ".deleted"):
			recognized[eventType] = types.EventKindDeleted
		case eventType == "":
		default:
			logger.Warn("recognized event type has no lifecycle suffix; dropped",
				slog.String("event_type", eventType),
			)
		}
	}

	return &Normalizer{recognized: recognized, logger: logger}
}

// Normalize parses a verified webhook payload into a NormalizedEvent.
//
// Unparseable JSON and envelopes missing identity fields are validation
// errors (the provider will not fix them by retrying). Unrecognized event
// types return ErrIgnoredEvent. Optional subscription fields default: absent
// periods stay zero, absent cancel flag is false.
func (n *Normalizer) Normalize(payload []byte) (*types.NormalizedEvent, error) {
	var env stripeEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook payload is not valid JSON", err)
	}

	if env.ID == "" || env.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "webhook event missing id or type", nil)
	}

	kind, ok := n.recognized[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, env.Type)
	}

	if env.Created <= 0 {
		// Ordering decisions hang off this timestamp; an event without one
		// cannot be sequenced.
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "webhook event missing created timestamp", nil)
	}

	var sub stripeSubscription
	if err := json.Unmarshal(env.Data.Object, &sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook event object is not a subscription", err)
	}
	if sub.ID == "" || sub.Customer == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "subscription missing id or customer", nil)
	}

	ev := &types.NormalizedEvent{
		ID:                 env.ID,
		Kind:               kind,
		SubscriptionID:     sub.ID,
		CustomerID:         sub.Customer,
		Status:             mapSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: epochTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   epochTime(sub.CurrentPeriodEnd),
		CreatedAt:          time.Unix(env.Created, 0).UTC(),
	}

	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ev.PriceID = item.Price.ID
		if ev.CurrentPeriodStart.IsZero() {
			ev.CurrentPeriodStart = epochTime(item.CurrentPeriodStart)
		}
		if ev.CurrentPeriodEnd.IsZero() {
			ev.CurrentPeriodEnd = epochTime(item.CurrentPeriodEnd)
		}
	}

	return ev, nil
}

// mapSubscriptionStatus maps a provider status string onto the known
// constants, passing unknown values through as opaque statuses.
func mapSubscriptionStatus(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubStatusActive
	case "past_due":
		return types.SubStatusPastDue
	case "canceled":
		return types.SubStatusCanceled
	case "incomplete":
		return types.SubStatusIncomplete
	case "incomplete_expired":
		return types.SubStatusIncompleteExpired
	case "trialing":
		return types.SubStatusTrialing
	case "unpaid":
		return types.SubStatusUnpaid
	default:
		return types.SubscriptionStatus(status)
	}
}

func epochTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
