package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pagelift/billing/internal/contextkeys"
	"github.com/pagelift/billing/internal/domain"
	"github.com/pagelift/billing/internal/service"
)

// SubscriptionHandler serves the client-facing billing endpoints.
type SubscriptionHandler struct {
	svc      *service.SubscriptionService
	validate *validator.Validate
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(svc *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

func tenantFromContext(r *http.Request) (int64, bool) {
	tenantID, ok := r.Context().Value(contextkeys.TenantID).(int64)
	return tenantID, ok && tenantID != 0
}

// Check handles GET /api/billing/subscription.
func (h *SubscriptionHandler) Check(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	status, err := h.svc.Check(r.Context(), tenantID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// CreateCheckout handles POST /api/billing/checkout.
func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	userID, _ := r.Context().Value(contextkeys.UserID).(string)

	var req domain.CreateCheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		Error(w, domain.ErrBadRequest("priceId is required"))
		return
	}

	url, err := h.svc.CreateCheckout(r.Context(), tenantID, userID, req.PriceID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.SessionResponse{URL: url})
}

// CreatePortal handles POST /api/billing/portal.
func (h *SubscriptionHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	// Body is optional.
	var req domain.PortalRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			Error(w, err)
			return
		}
	}

	url, err := h.svc.CreatePortal(r.Context(), tenantID, req.ReturnURL)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.SessionResponse{URL: url})
}
