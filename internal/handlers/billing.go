package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/readaloud/client/internal/logging"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/repositories"
)

// ErrUnknownPlan is returned when a checkout names a plan that does not exist.
var ErrUnknownPlan = errors.New("unknown plan")

// DefaultPlans is the catalogue served by the development backend.
func DefaultPlans() []models.SubscriptionPlan {
	starter := "Three books a month"
	reader := "Ten books a month with background audio"
	return []models.SubscriptionPlan{
		{ID: "starter", Name: "Starter", Description: &starter, PriceCents: 499, Currency: "usd", BooksIncluded: 3, AdditionalBookCents: 199, IsActive: true},
		{ID: "reader", Name: "Reader", Description: &reader, PriceCents: 1299, Currency: "usd", BooksIncluded: 10, AdditionalBookCents: 149, IsActive: true},
	}
}

// BillingHandler simulates hosted checkout. Purchases are granted immediately.
type BillingHandler struct {
	Users   UserStore
	Plans   []models.SubscriptionPlan
	NowFunc func() time.Time
}

// ListPlans handles GET /api/v1/billing/plans.
func (h BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := make([]models.SubscriptionPlan, 0, len(h.Plans))
	for _, p := range h.Plans {
		if p.IsActive {
			plans = append(plans, p)
		}
	}
	respondJSON(r.Context(), w, http.StatusOK, models.PlansResponse{Plans: plans})
}

// Checkout handles POST /api/v1/billing/checkout.
func (h BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := UserIDFromContext(ctx)
	if !ok || h.Users == nil {
		respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
		return
	}

	var req models.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	success, err := url.Parse(strings.TrimSpace(req.SuccessURL))
	if err != nil || success.Scheme == "" || success.Host == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "successUrl must be an absolute URL")
		return
	}
	if req.AdditionalBooks < 0 {
		respondMessage(ctx, w, http.StatusBadRequest, "additionalBooks must not be negative")
		return
	}

	credits, err := h.credits(req)
	if err != nil {
		respondMessage(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
			return
		}
		logger.Error("checkout user lookup", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to start checkout")
		return
	}

	user.CreditsRemaining += credits
	user.UpdatedAt = h.now()
	if err := h.Users.Update(ctx, user); err != nil {
		logger.Error("checkout grant credits", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to start checkout")
		return
	}

	sessionID := "cs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	q := success.Query()
	q.Set("session_id", sessionID)
	success.RawQuery = q.Encode()

	logger.Info("checkout completed", "plan", req.PlanID, "credits", credits)
	respondJSON(ctx, w, http.StatusOK, models.CheckoutResponse{URL: success.String(), SessionID: sessionID})
}

// Portal handles POST /api/v1/billing/portal.
func (h BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.PortalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	ret, err := url.Parse(strings.TrimSpace(req.ReturnURL))
	if err != nil || ret.Scheme == "" || ret.Host == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "returnUrl must be an absolute URL")
		return
	}

	portal := url.URL{Scheme: "https", Host: "billing.readaloud.dev", Path: "/portal"}
	q := portal.Query()
	q.Set("return_url", ret.String())
	portal.RawQuery = q.Encode()
	respondJSON(ctx, w, http.StatusOK, models.PortalResponse{URL: portal.String()})
}

func (h BillingHandler) credits(req models.CheckoutRequest) (int, error) {
	credits := req.AdditionalBooks
	if req.PlanID != "" {
		plan, ok := h.plan(req.PlanID)
		if !ok {
			return 0, ErrUnknownPlan
		}
		credits += plan.BooksIncluded
	}
	if credits == 0 {
		return 0, errors.New("planId or additionalBooks is required")
	}
	return credits, nil
}

func (h BillingHandler) plan(id string) (models.SubscriptionPlan, bool) {
	for _, p := range h.Plans {
		if p.ID == id && p.IsActive {
			return p, true
		}
	}
	return models.SubscriptionPlan{}, false
}

func (h BillingHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
