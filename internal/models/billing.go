package models

// SubscriptionPlan is a purchasable credit bundle.
type SubscriptionPlan struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Description         *string `json:"description,omitempty"`
	PriceCents          int     `json:"priceCents"`
	Currency            string  `json:"currency"`
	BooksIncluded       int     `json:"booksIncluded"`
	AdditionalBookCents int     `json:"additionalBookCents"`
	IsActive            bool    `json:"isActive"`
}

// PlansResponse is returned by GET billing/plans.
type PlansResponse struct {
	Plans []SubscriptionPlan `json:"plans"`
}

// CheckoutRequest is the body of POST billing/checkout.
type CheckoutRequest struct {
	PlanID          string `json:"planId,omitempty"`
	AdditionalBooks int    `json:"additionalBooks,omitempty"`
	SuccessURL      string `json:"successUrl"`
	CancelURL       string `json:"cancelUrl"`
}

// CheckoutResponse is returned by billing/checkout.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// PortalRequest is the body of POST billing/portal.
type PortalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// PortalResponse is returned by billing/portal.
type PortalResponse struct {
	URL string `json:"url"`
}
