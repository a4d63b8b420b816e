package domain

// Money amounts are int64 paise (minor units of INR).

type IntentStatus string

const (
	IntentActive    IntentStatus = "active"
	IntentExhausted IntentStatus = "exhausted"
	IntentExpired   IntentStatus = "expired"
	IntentCancelled IntentStatus = "cancelled"
)

type EscrowStatus string

const (
	EscrowLocked            EscrowStatus = "locked"
	EscrowPartiallyReleased EscrowStatus = "partially_released"
	EscrowReleased          EscrowStatus = "released"
	EscrowClawback          EscrowStatus = "clawback"
)

// Closed returns true once no further milestone releases are possible.
func (s EscrowStatus) Closed() bool {
	return s == EscrowReleased || s == EscrowClawback
}

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneCompleted MilestoneStatus = "completed"
)

type TransactionStatus string

const (
	TransactionApproved TransactionStatus = "approved"
	TransactionRejected TransactionStatus = "rejected"
)

// GeoRestriction limits an intent to a city or state.
type GeoRestriction struct {
	City     string   `json:"city,omitempty"`
	State    string   `json:"state,omitempty"`
	RadiusKM *float64 `json:"radius_km,omitempty"`
}

// SplitRule divides a locked amount into a spend and a save fraction.
// The two fractions sum to 1.0.
type SplitRule struct {
	Spend float64 `json:"spend"`
	Save  float64 `json:"save"`
}

// Policy is the compiled, enforceable part of an intent.
type Policy struct {
	AmountLimit          int64           `json:"amount_limit"`
	Currency             string          `json:"currency"`
	AllowedCategories    []string        `json:"allowed_categories,omitempty"`
	AllowedMerchantCodes []string        `json:"allowed_merchant_codes,omitempty"`
	CategoryKeys         []string        `json:"category_keys,omitempty"`
	DurationDays         int             `json:"duration_days"`
	GeoRestriction       *GeoRestriction `json:"geo_restriction,omitempty"`
	ProofRequired        bool            `json:"proof_required"`
	EnforcementTier      int             `json:"enforcement_tier"`
	SplitRule            *SplitRule      `json:"split_rule,omitempty"`
	EscrowEnabled        bool            `json:"escrow_enabled"`
}

// Intent is a user-authored spending policy with a locked fund balance.
// AmountUsed + AmountRemaining == AmountLocked at all times.
type Intent struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	RawText         string       `json:"raw_text"`
	Policy          Policy       `json:"policy"`
	Status          IntentStatus `json:"status" enum:"active,exhausted,expired,cancelled"`
	AmountLocked    int64        `json:"amount_locked"`
	AmountUsed      int64        `json:"amount_used"`
	AmountRemaining int64        `json:"amount_remaining"`
	ViolationCount  int          `json:"violation_count"`
	ApprovedCount   int          `json:"approved_count"`
	CreatedAt       string       `json:"created_at" format:"date-time"`
	ExpiresAt       string       `json:"expires_at" format:"date-time"`
}

// Merchant is read-only reference data from the merchant directory.
type Merchant struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	VPA           string   `json:"vpa"`
	MCC           string   `json:"mcc"`
	Category      string   `json:"category"`
	CategoryLabel string   `json:"category_label"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	GSTIN         string   `json:"gstin,omitempty"`
	Tier          int      `json:"tier"`
	Certified     bool     `json:"certified"`
	ProductTags   []string `json:"product_tags,omitempty"`
	RiskScore     float64  `json:"risk_score"`
}

// MixedCategory marks merchants with no single classification; payments
// against them always require escalation.
const MixedCategory = "mixed"

type User struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Phone           string  `json:"phone,omitempty"`
	VPA             string  `json:"vpa"`
	City            string  `json:"city,omitempty"`
	State           string  `json:"state,omitempty"`
	Lat             float64 `json:"lat,omitempty"`
	Lng             float64 `json:"lng,omitempty"`
	WalletBalance   int64   `json:"wallet_balance"`
	LockedBalance   int64   `json:"locked_balance"`
	ReputationScore int     `json:"reputation_score"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// AvailableBalance is the spendable part of the wallet.
func (u User) AvailableBalance() int64 {
	return u.WalletBalance - u.LockedBalance
}

// Escrow is a fund sub-ledger released incrementally against milestones.
// ReleasedAmount + PendingAmount + ClawedBack == TotalAmount at all times.
type Escrow struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	IntentID       *string      `json:"intent_id,omitempty"`
	Title          string       `json:"title"`
	TotalAmount    int64        `json:"total_amount"`
	ReleasedAmount int64        `json:"released_amount"`
	PendingAmount  int64        `json:"pending_amount"`
	ClawedBack     int64        `json:"clawed_back"`
	Status         EscrowStatus `json:"status" enum:"locked,partially_released,released,clawback"`
	Milestones     []Milestone  `json:"milestones,omitempty"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
	ExpiresAt      string       `json:"expires_at" format:"date-time"`
}

type Milestone struct {
	ID          string          `json:"id"`
	EscrowID    string          `json:"escrow_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Amount      int64           `json:"amount"`
	ProofKind   string          `json:"proof_kind,omitempty"`
	Status      MilestoneStatus `json:"status" enum:"pending,completed"`
	CompletedAt *string         `json:"completed_at,omitempty" format:"date-time"`
	MerchantID  *string         `json:"merchant_id,omitempty"`
}

// ReputationEvent is one append-only entry in a user's trust history.
type ReputationEvent struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Delta       int    `json:"delta"`
	Description string `json:"description,omitempty"`
	ScoreAfter  int    `json:"score_after"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Reputation event kinds with fixed score deltas (configured).
const (
	EventIntentCompliance       = "intent_compliance"
	EventIntentViolationAttempt = "intent_violation_attempt"
	EventEscrowReleased         = "escrow_released"
	EventEscrowClawbackMisuse   = "escrow_clawback_misuse"
	EventProofSubmitted         = "proof_submitted"
	EventEmergencyOverride      = "emergency_override"
	EventIntentCreated          = "intent_created"
	EventSavingsMilestone       = "savings_milestone"
)

// Transaction is the persisted record of one validation attempt.
type Transaction struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	IntentID        *string           `json:"intent_id,omitempty"`
	MerchantID      string            `json:"merchant_id"`
	Amount          int64             `json:"amount"`
	Status          TransactionStatus `json:"status" enum:"approved,rejected"`
	SettlementRef   string            `json:"settlement_ref,omitempty"`
	FailedAtCheck   string            `json:"failed_at_check,omitempty"`
	ViolationReason string            `json:"violation_reason,omitempty"`
	RiskLevel       string            `json:"risk_level,omitempty"`
	Checks          []CheckResult     `json:"checks,omitempty"`
	ProcessingMs    int64             `json:"processing_ms"`
	CreatedAt       string            `json:"created_at" format:"date-time"`
}

// CheckResult is the outcome of one pipeline stage. Stages after the
// first failure are recorded with Evaluated=false.
type CheckResult struct {
	Name      string `json:"name"`
	Evaluated bool   `json:"evaluated"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is advisory only; it never gates approval.
type RiskAssessment struct {
	Level   RiskLevel `json:"level" enum:"low,medium,high"`
	Factors []string  `json:"factors,omitempty"`
	Score   float64   `json:"score"`
}

// ValidationResult is the full outcome of the rule pipeline for one
// payment request.
type ValidationResult struct {
	Approved           bool            `json:"approved"`
	Checks             []CheckResult   `json:"checks"`
	FailedAtCheck      string          `json:"failed_at_check,omitempty"`
	ViolationReason    string          `json:"violation_reason,omitempty"`
	SettlementRef      string          `json:"settlement_ref,omitempty"`
	Risk               *RiskAssessment `json:"risk,omitempty"`
	Emergency          bool            `json:"emergency,omitempty"`
	RequiresEscalation bool            `json:"requires_escalation,omitempty"`
	ProcessingMs       int64           `json:"processing_ms"`
}

// AuditEvent is one row of the append-only audit log.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// CreditTier is derived from the reputation score, never stored.
type CreditTier struct {
	Name         string  `json:"name"`
	MaxCreditPs  int64   `json:"max_credit"`
	InterestRate float64 `json:"interest_rate"`
}

// ReputationSnapshot is the read model for a user's trust state.
type ReputationSnapshot struct {
	UserID            string            `json:"user_id"`
	Score             int               `json:"score"`
	Tier              CreditTier        `json:"tier"`
	LevelLabel        string            `json:"level_label"`
	TotalTransactions int               `json:"total_transactions"`
	CompliantCount    int               `json:"compliant_count"`
	ViolationCount    int               `json:"violation_count"`
	ComplianceRate    float64           `json:"compliance_rate"`
	RecentEvents      []ReputationEvent `json:"recent_events,omitempty"`
}
