package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platemask/internal/types"
)

// ---------------------------------------------------------------------------
// StripeClient.GetCustomerEmail
// ---------------------------------------------------------------------------

func newTestStripeClient(t *testing.T, serverURL string) *StripeClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"stripe-test-"+t.Name(),
		RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
		"PlateMask/1.0",
		WithSleepFunc(func(time.Duration) {}),
	)
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_secret",
		BaseURL:   serverURL,
	})
}

func TestStripeClient_GetCustomerEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers/cus_1", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Stripe-Version"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cus_1","email":"driver@example.com"}`)
	}))
	defer srv.Close()

	client := newTestStripeClient(t, srv.URL)
	email, err := client.GetCustomerEmail(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "driver@example.com", email)
}

func TestStripeClient_GetCustomerEmail_DeletedCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"cus_1","deleted":true}`)
	}))
	defer srv.Close()

	client := newTestStripeClient(t, srv.URL)
	email, err := client.GetCustomerEmail(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Empty(t, email)
}

func TestStripeClient_GetCustomerEmail_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer"}}`)
	}))
	defer srv.Close()

	client := newTestStripeClient(t, srv.URL)
	_, err := client.GetCustomerEmail(context.Background(), "cus_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamStripe, appErr.Code)
	assert.Equal(t, "resource_missing", appErr.Details["stripe_error_code"])
}

func TestStripeClient_GetCustomerEmail_RetriesOn500(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id":"cus_1","email":"driver@example.com"}`)
	}))
	defer srv.Close()

	client := newTestStripeClient(t, srv.URL)
	email, err := client.GetCustomerEmail(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "driver@example.com", email)
	assert.Equal(t, 2, calls)
}

func TestStripeClient_GetCustomerEmail_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestStripeClient(t, srv.URL)
	_, err := client.GetCustomerEmail(context.Background(), "cus_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.True(t, appErr.Code.Retryable())
}

// ---------------------------------------------------------------------------
// StripeVerifier
// ---------------------------------------------------------------------------

// signPayload produces a Stripe-Signature header the way the provider does:
// t=<unix>,v1=hex(HMAC-SHA256(secret, "<unix>.<payload>")).
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	v := &StripeVerifier{Tolerance: 5 * time.Minute}
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated"}`)
	secret := "whsec_test_secret"

	header := signPayload(payload, secret, time.Now())
	require.NoError(t, v.Verify(payload, header, secret))
}

func TestStripeVerifier_TamperedPayload(t *testing.T) {
	v := &StripeVerifier{Tolerance: 5 * time.Minute}
	secret := "whsec_test_secret"

	header := signPayload([]byte(`{"id":"evt_1"}`), secret, time.Now())
	err := v.Verify([]byte(`{"id":"evt_1","amount":999}`), header, secret)
	require.Error(t, err)
}

func TestStripeVerifier_WrongSecret(t *testing.T) {
	v := &StripeVerifier{Tolerance: 5 * time.Minute}
	payload := []byte(`{"id":"evt_1"}`)

	header := signPayload(payload, "whsec_other", time.Now())
	require.Error(t, v.Verify(payload, header, "whsec_test_secret"))
}

func TestStripeVerifier_ExpiredTimestampRejected(t *testing.T) {
	v := &StripeVerifier{Tolerance: 5 * time.Minute}
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test_secret"

	// Correctly signed but outside the freshness window: a replay candidate.
	header := signPayload(payload, secret, time.Now().Add(-time.Hour))
	require.Error(t, v.Verify(payload, header, secret))
}

func TestStripeVerifier_MalformedHeader(t *testing.T) {
	v := &StripeVerifier{}
	require.Error(t, v.Verify([]byte(`{}`), "not-a-signature", "whsec_test_secret"))
}
