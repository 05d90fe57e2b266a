package billing

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platemask/internal/types"
)

var recognizedDefaults = []string{
	"customer.subscription.created",
	"customer.subscription.updated",
	"customer.subscription.deleted",
}

// buildEventPayload assembles a webhook envelope around a subscription object.
func buildEventPayload(t *testing.T, eventType, eventID string, created int64, obj map[string]any) []byte {
	t.Helper()
	objBytes, err := json.Marshal(obj)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data":    map[string]any{"object": json.RawMessage(objBytes)},
	})
	require.NoError(t, err)
	return payload
}

func TestNormalizer_SubscriptionCreated(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := created.AddDate(0, 1, 0)
	payload := buildEventPayload(t, "customer.subscription.created", "evt_1", created.Unix(), map[string]any{
		"id":                   "sub_1",
		"customer":             "cus_1",
		"status":               "active",
		"cancel_at_period_end": true,
		"current_period_start": created.Unix(),
		"current_period_end":   periodEnd.Unix(),
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": "price_pro"}},
			},
		},
	})

	ev, err := n.Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, types.EventKindCreated, ev.Kind)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, "price_pro", ev.PriceID)
	assert.Equal(t, types.SubStatusActive, ev.Status)
	assert.True(t, ev.CancelAtPeriodEnd)
	assert.True(t, ev.CurrentPeriodStart.Equal(created))
	assert.True(t, ev.CurrentPeriodEnd.Equal(periodEnd))
	assert.True(t, ev.CreatedAt.Equal(created))
}

func TestNormalizer_PeriodFallsBackToItem(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payload := buildEventPayload(t, "customer.subscription.updated", "evt_1", start.Unix(), map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "active",
		"items": map[string]any{
			"data": []map[string]any{
				{
					"price":                map[string]any{"id": "price_pro"},
					"current_period_start": start.Unix(),
					"current_period_end":   start.AddDate(0, 1, 0).Unix(),
				},
			},
		},
	})

	ev, err := n.Normalize(payload)
	require.NoError(t, err)
	assert.True(t, ev.CurrentPeriodStart.Equal(start))
	assert.True(t, ev.CurrentPeriodEnd.Equal(start.AddDate(0, 1, 0)))
}

func TestNormalizer_OptionalFieldsDefault(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	payload := buildEventPayload(t, "customer.subscription.deleted", "evt_1", time.Now().Unix(), map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "canceled",
	})

	ev, err := n.Normalize(payload)
	require.NoError(t, err)
	assert.False(t, ev.CancelAtPeriodEnd)
	assert.True(t, ev.CurrentPeriodStart.IsZero())
	assert.True(t, ev.CurrentPeriodEnd.IsZero())
	assert.Empty(t, ev.PriceID)
}

func TestNormalizer_UnknownStatusPassesThrough(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	payload := buildEventPayload(t, "customer.subscription.updated", "evt_1", time.Now().Unix(), map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "paused",
	})

	ev, err := n.Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatus("paused"), ev.Status)
}

func TestNormalizer_UnrecognizedTypeReturnsSentinel(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	payload := buildEventPayload(t, "invoice.paid", "evt_1", time.Now().Unix(), map[string]any{
		"id": "in_1",
	})

	_, err := n.Normalize(payload)
	require.True(t, errors.Is(err, ErrIgnoredEvent))
}

func TestNormalizer_InvalidJSON(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	_, err := n.Normalize([]byte(`{"id": "evt_1", "type":`))
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
}

func TestNormalizer_MissingIdentityFields(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	cases := map[string][]byte{
		"no event id": buildEventPayload(t, "customer.subscription.updated", "", time.Now().Unix(), map[string]any{
			"id": "sub_1", "customer": "cus_1",
		}),
		"no subscription id": buildEventPayload(t, "customer.subscription.updated", "evt_1", time.Now().Unix(), map[string]any{
			"customer": "cus_1",
		}),
		"no customer": buildEventPayload(t, "customer.subscription.updated", "evt_1", time.Now().Unix(), map[string]any{
			"id": "sub_1",
		}),
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(payload)
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
		})
	}
}

func TestNormalizer_MissingCreatedTimestamp(t *testing.T) {
	n := NewNormalizer(recognizedDefaults, nil)

	payload := buildEventPayload(t, "customer.subscription.updated", "evt_1", 0, map[string]any{
		"id": "sub_1", "customer": "cus_1",
	})

	_, err := n.Normalize(payload)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestNewNormalizer_DropsUnmappableTypes(t *testing.T) {
	n := NewNormalizer([]string{"invoice.paid", "customer.subscription.updated"}, nil)

	payload := buildEventPayload(t, "invoice.paid", "evt_1", time.Now().Unix(), map[string]any{
		"id": "in_1", "customer": "cus_1",
	})
	_, err := n.Normalize(payload)
	require.True(t, errors.Is(err, ErrIgnoredEvent))
}
