package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"platemask/internal/types"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements CustomerDirectory by making direct HTTP calls to the
// Stripe REST API through BaseClient. This routes the lookup through the
// service's resilience infrastructure (circuit breaker, retries, error
// mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient over the given http client.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"PlateMask/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient, for tests that need to control retry and breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// stripeCustomer is the slice of the Stripe customer object this service
// reads. Deleted customers come back as a stub with deleted=true.
type stripeCustomer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetCustomerEmail fetches the customer object and returns its email address.
// A deleted customer or one without an email returns "" with no error; the
// caller treats that as an unresolvable identity.
func (s *StripeClient) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	resp, err := s.doGet(ctx, "/v1/customers/"+customerID)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "GetCustomerEmail")
	}

	var cust stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&cust); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"failed to decode Stripe customer response",
			err,
		)
	}

	if cust.Deleted {
		s.logger.Warn("stripe customer is deleted", slog.String("customer_id", customerID))
		return "", nil
	}
	return cust.Email, nil
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// handleErrorResponse reads a Stripe error body and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d (unreadable body)", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	_ = json.Unmarshal(body, &stripeErr)

	msg := stripeErr.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("Stripe returned %d", resp.StatusCode)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: %s", operation, msg),
		nil,
		map[string]any{
			"stripe_error_type": stripeErr.Error.Type,
			"stripe_error_code": stripeErr.Error.Code,
			"http_status":       resp.StatusCode,
		},
	)
}

// StripeVerifier implements WebhookVerifier using stripe-go's signed-header
// validation, which checks both the HMAC-SHA256 signature and the embedded
// timestamp against the freshness tolerance.
type StripeVerifier struct {
	// Tolerance bounds the age of the signed timestamp; older headers are
	// rejected as possible replays. Zero means the stripe-go default (5m).
	Tolerance time.Duration
}

// Verify validates a webhook payload against the Stripe-Signature header and
// the endpoint signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
}

// Compile-time interface assertions.
var (
	_ CustomerDirectory = (*StripeClient)(nil)
	_ WebhookVerifier   = (*StripeVerifier)(nil)
)
