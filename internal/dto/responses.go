package dto

import (
	"github.com/shopspring/decimal"

	"github.com/Amineeeeee523/khalilos/internal/models"
)

// CheckoutResponse represents a milestone together with its payment link
type CheckoutResponse struct {
	*models.Milestone
	CheckoutURL string `json:"checkout_url"`
}

// NewCheckoutResponse creates a CheckoutResponse from a milestone
func NewCheckoutResponse(m *models.Milestone) *CheckoutResponse {
	resp := &CheckoutResponse{Milestone: m}
	if m.PaymentURL != nil {
		resp.CheckoutURL = *m.PaymentURL
	}
	return resp
}

// BalanceResponse represents a user's accumulated escrow balance
type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
