package dto

// CreateMilestoneRequest represents the request to create a payment milestone
type CreateMilestoneRequest struct {
	JobID    string `json:"job_id" binding:"required"`
	Seq      int    `json:"seq" binding:"required,gt=0"`
	Title    string `json:"title" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency"`
}

// UpdateMilestoneAmountRequest represents the request to change a milestone amount
type UpdateMilestoneAmountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// PaymeeWebhookRequest represents the gateway callback payload
type PaymeeWebhookRequest struct {
	Token  string `json:"token" binding:"required"`
	Status string `json:"payment_status" binding:"required"`
}
