// Package handlers contains the HTTP handler implementations for the
// PlateMask billing sync API.
//
// The webhook handler is NOT behind auth middleware; it is called directly by
// Stripe. Security is provided by verifying the Stripe-Signature header.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"platemask/internal/billing"
	"platemask/internal/core"
	"platemask/internal/external"
	"platemask/internal/types"
)

// maxWebhookBodySize caps webhook payloads at 64 KB. Subscription events are
// a few KB; anything larger is abuse.
const maxWebhookBodySize = 64 * 1024

// ---------------------------------------------------------------------------
// Interfaces for webhook handler dependencies
// ---------------------------------------------------------------------------

// EventNormalizer turns a verified raw payload into the internal event form.
type EventNormalizer interface {
	Normalize(payload []byte) (*types.NormalizedEvent, error)
}

// CustomerResolver maps a provider customer ID onto an internal account ID.
type CustomerResolver interface {
	Resolve(ctx context.Context, customerID string) (string, error)
}

// EventReconciler applies a normalized event to the entitlement projection.
type EventReconciler interface {
	Reconcile(ctx context.Context, accountID string, ev *types.NormalizedEvent) (billing.Outcome, error)
}

// ---------------------------------------------------------------------------
// Stripe Webhook Handler
// ---------------------------------------------------------------------------

// StripeWebhookHandler ingests asynchronous subscription events from Stripe.
//
// Acknowledgement contract (the provider redelivers on any non-2xx):
//   - 200: event fully reconciled, or safely dropped (unrecognized type,
//     duplicate, stale).
//   - 400: the request can never succeed (missing/invalid signature,
//     unparseable payload). Redelivery would be pointless.
//   - 500: transient failure (unresolvable account, storage outage). The
//     provider's retry schedule is the only retry mechanism; the handler
//     never retries internally.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	normalizer EventNormalizer
	resolver   CustomerResolver
	reconciler EventReconciler
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	normalizer EventNormalizer,
	resolver CustomerResolver,
	reconciler EventReconciler,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		normalizer: normalizer,
		resolver:   resolver,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the read-API
// registration because webhook routes are public (no auth middleware).
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one webhook delivery:
//
//  1. Read the raw body (size-capped).
//  2. Verify the Stripe-Signature header over the exact raw bytes. Nothing
//     is parsed before this point.
//  3. Normalize the event; unrecognized types are acknowledged and dropped.
//  4. Resolve the provider customer to an account.
//  5. Reconcile the event into the projection.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookVerification,
			"webhook signature verification failed",
			err,
		))
		return
	}

	ev, err := h.normalizer.Normalize(payload)
	if err != nil {
		if errors.Is(err, billing.ErrIgnoredEvent) {
			// Not an error: the endpoint subscribes to a narrow event set but
			// providers occasionally send more.
			h.logger.InfoContext(r.Context(), "unrecognized event type acknowledged", "error", err)
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "ignored"}})
			return
		}
		h.logger.WarnContext(r.Context(), "webhook payload rejected", "error", err)
		h.ackError(w, r, err)
		return
	}

	accountID, err := h.resolver.Resolve(r.Context(), ev.CustomerID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "account resolution failed",
			"event_id", ev.ID,
			"customer_id", ev.CustomerID,
			"error", err,
		)
		h.ackError(w, r, err)
		return
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), accountID, ev)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reconciliation failed",
			"event_id", ev.ID,
			"account_id", accountID,
			"error", err,
		)
		h.ackError(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": string(outcome)}})
}

// ackError writes the webhook acknowledgement for a failure. Retryable codes
// collapse to 500 so the provider redelivers; permanent ones keep their 4xx
// status from the shared error writer.
func (h *StripeWebhookHandler) ackError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code.Retryable() {
		core.JSON(w, r, http.StatusInternalServerError, core.APIErrorResponse{
			Error: core.ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}
	core.Error(w, r, err)
}
