package server

import (
	"intentpay/internal/domain"
	"intentpay/internal/engine"
)

type ParseIntentRequest struct {
	Text string `json:"text" example:"Allow ₹500 for books only for 30 days in Chennai"`
}

type CreateIntentRequest struct {
	UserID string         `json:"user_id"`
	Text   string         `json:"text,omitempty"`
	Policy *domain.Policy `json:"policy,omitempty"`
}

type PaymentRequest struct {
	UserID            string `json:"user_id"`
	MerchantID        string `json:"merchant_id"`
	Amount            int64  `json:"amount" doc:"Amount in paise"`
	IntentID          string `json:"intent_id,omitempty"`
	ProofProvided     bool   `json:"proof_provided,omitempty"`
	EmergencyOverride bool   `json:"emergency_override,omitempty"`
}

type CreateEscrowRequest struct {
	UserID       string                 `json:"user_id"`
	Title        string                 `json:"title"`
	IntentID     *string                `json:"intent_id,omitempty"`
	DurationDays int                    `json:"duration_days,omitempty"`
	Milestones   []engine.MilestoneSpec `json:"milestones"`
}

type ReleaseMilestoneRequest struct {
	ProofProvided bool    `json:"proof_provided,omitempty"`
	MerchantID    *string `json:"merchant_id,omitempty"`
}

type ClawbackRequest struct {
	Reason string `json:"reason" example:"misuse"`
	Amount int64  `json:"amount,omitempty" doc:"Partial amount in paise; zero claws back all pending funds"`
}

type ReputationEventRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CancelIntentResponse struct {
	Intent   domain.Intent `json:"intent"`
	Released int64         `json:"released"`
}
