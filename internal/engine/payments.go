package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intentpay/internal/domain"
	"intentpay/internal/repo"
	"intentpay/internal/rules"
)

// PaymentRequest describes one attempted payment. IntentID is optional;
// when empty the engine resolves the governing intent itself.
type PaymentRequest struct {
	UserID            string
	MerchantID        string
	Amount            int64
	IntentID          string
	ProofProvided     bool
	EmergencyOverride bool
	ActorID           string
}

// PaymentOutcome bundles the persisted transaction with the full
// pipeline trace for the caller.
type PaymentOutcome struct {
	Transaction domain.Transaction      `json:"transaction"`
	Result      domain.ValidationResult `json:"result"`
	Intent      *domain.Intent          `json:"intent,omitempty"`
}

// ValidatePayment runs a payment through the rule pipeline and persists
// the outcome. Approved payments consume intent balance and spend the
// user's locked funds; rejected ones record a violation against the
// intent. Either way every attempt leaves a transaction row.
func (e Engine) ValidatePayment(ctx context.Context, req PaymentRequest) (PaymentOutcome, error) {
	if req.Amount <= 0 {
		return PaymentOutcome{}, fmt.Errorf("payment amount must be positive")
	}
	if _, err := e.Repo.GetUser(ctx, req.UserID); err != nil {
		return PaymentOutcome{}, fmt.Errorf("user %s: %w", req.UserID, err)
	}
	merchant, err := e.Repo.GetMerchant(ctx, req.MerchantID)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("merchant %s: %w", req.MerchantID, err)
	}

	var intent *domain.Intent
	if req.IntentID != "" {
		it, err := e.GetIntent(ctx, req.IntentID)
		if err != nil {
			return PaymentOutcome{}, fmt.Errorf("intent %s: %w", req.IntentID, err)
		}
		if it.UserID != req.UserID {
			return PaymentOutcome{}, fmt.Errorf("intent %s: %w", req.IntentID, ErrIntentNotOwned)
		}
		intent = &it
	} else {
		it, err := e.ResolveIntent(ctx, req.UserID, merchant, req.Amount)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return PaymentOutcome{}, err
		}
		if err == nil {
			intent = &it
		}
	}

	res := e.Rules.Validate(intent, merchant, req.Amount, rules.Context{
		ProofProvided:     req.ProofProvided,
		EmergencyOverride: req.EmergencyOverride,
	})

	now := e.now().UTC()
	txn := domain.Transaction{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		MerchantID:      req.MerchantID,
		Amount:          req.Amount,
		SettlementRef:   res.SettlementRef,
		FailedAtCheck:   res.FailedAtCheck,
		ViolationReason: res.ViolationReason,
		Checks:          res.Checks,
		ProcessingMs:    res.ProcessingMs,
		CreatedAt:       now.Format(time.RFC3339),
	}
	if intent != nil {
		id := intent.ID
		txn.IntentID = &id
	}
	if res.Risk != nil {
		txn.RiskLevel = string(res.Risk.Level)
	}
	if res.Approved {
		txn.Status = domain.TransactionApproved
	} else {
		txn.Status = domain.TransactionRejected
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return PaymentOutcome{}, err
	}
	defer tx.Rollback()

	if res.Approved && intent != nil && !res.Emergency {
		ok, err := e.Repo.ApplyIntentUsage(ctx, tx, intent.ID, req.Amount)
		if err != nil {
			return PaymentOutcome{}, err
		}
		if !ok {
			return PaymentOutcome{}, fmt.Errorf("intent %s: %w", intent.ID, ErrIntentConflict)
		}
		if err := e.spendFromWallet(ctx, tx, req.UserID, req.Amount); err != nil {
			return PaymentOutcome{}, err
		}
	}
	if !res.Approved && intent != nil {
		if err := e.Repo.IncrementViolation(ctx, tx, intent.ID); err != nil {
			return PaymentOutcome{}, err
		}
	}
	if err := e.Repo.InsertTransaction(ctx, tx, txn); err != nil {
		return PaymentOutcome{}, fmt.Errorf("insert transaction: %w", err)
	}

	evtType := "payment.rejected"
	if res.Approved {
		evtType = "payment.approved"
	}
	payload := map[string]any{
		"amount":      req.Amount,
		"merchant_id": req.MerchantID,
	}
	if res.FailedAtCheck != "" {
		payload["failed_at"] = res.FailedAtCheck
	}
	if res.Emergency {
		payload["emergency"] = true
	}
	if err := e.Events.Append(ctx, tx, evtType, req.UserID, "transaction", txn.ID, req.ActorID, payload); err != nil {
		return PaymentOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return PaymentOutcome{}, err
	}

	e.recordPaymentReputation(ctx, req, merchant, res)

	out := PaymentOutcome{Transaction: txn, Result: res}
	if intent != nil {
		refreshed, err := e.Repo.GetIntent(ctx, intent.ID)
		if err == nil {
			out.Intent = &refreshed
		} else {
			out.Intent = intent
		}
	}
	return out, nil
}

func (e Engine) recordPaymentReputation(ctx context.Context, req PaymentRequest, merchant domain.Merchant, res domain.ValidationResult) {
	switch {
	case res.Emergency:
		e.recordReputation(ctx, req.UserID, domain.EventEmergencyOverride,
			fmt.Sprintf("Emergency override at %s for %s", merchant.Name, domain.Rupees(req.Amount)))
	case res.Approved:
		e.recordReputation(ctx, req.UserID, domain.EventIntentCompliance,
			fmt.Sprintf("Compliant payment of %s at %s", domain.Rupees(req.Amount), merchant.Name))
		if req.ProofProvided {
			e.recordReputation(ctx, req.UserID, domain.EventProofSubmitted,
				fmt.Sprintf("Proof submitted for payment at %s", merchant.Name))
		}
	default:
		e.recordReputation(ctx, req.UserID, domain.EventIntentViolationAttempt,
			fmt.Sprintf("Blocked at %s: %s", res.FailedAtCheck, res.ViolationReason))
	}
}
