package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/pagelift/billing/internal/service"
	"github.com/pagelift/billing/pkg/billing"
)

// Stripe documents webhook payloads up to 64KB; 1MB leaves ample headroom.
const maxWebhookBody = 1 << 20

// EventVerifier authenticates a raw webhook payload.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*billing.Event, error)
}

// WebhookHandler receives billing provider events.
type WebhookHandler struct {
	verifier  EventVerifier
	reconcile *service.ReconcileService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(verifier EventVerifier, reconcile *service.ReconcileService) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, reconcile: reconcile}
}

// HandleStripe handles POST /api/billing/webhook.
//
// 400 means the payload could not be authenticated and must not be retried;
// 500 means processing failed and the provider should redeliver.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	event, err := h.verifier.VerifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if !errors.Is(err, billing.ErrInvalidSignature) {
			log.Printf("[webhook] verification error: %v", err)
		}
		JSON(w, http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
		return
	}

	if err := h.reconcile.HandleEvent(r.Context(), event); err != nil {
		log.Printf("[webhook] processing failed: %v", err)
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"received": true})
}
