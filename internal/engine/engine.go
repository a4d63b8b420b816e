// Package engine sequences every mutating operation of the wallet:
// intent lifecycle, payment validation, escrow fund movements and the
// reputation ledger. Each operation runs in a single SQL transaction so
// a lifecycle step is observed either fully or not at all.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"intentpay/internal/config"
	"intentpay/internal/domain"
	"intentpay/internal/events"
	"intentpay/internal/repo"
	"intentpay/internal/rules"
)

// Precondition failures, distinct from policy rejections: a caller can
// tell a malformed request apart from a payment blocked by rules.
var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrIntentNotActive     = errors.New("intent is not active")
	ErrIntentNotOwned      = errors.New("intent belongs to another user")
	ErrIntentConflict      = errors.New("intent changed concurrently; re-validate before retrying")
	ErrMilestoneCompleted  = errors.New("milestone already completed")
	ErrProofRequired       = errors.New("milestone requires proof")
	ErrEscrowClosed        = errors.New("escrow is released or clawed back")
	ErrNoMilestones        = errors.New("escrow requires at least one milestone")
	ErrUnknownEventKind    = errors.New("unknown reputation event kind")
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Rules   rules.Engine
	Log     *slog.Logger
	Now     func() time.Time
	Resolve ResolutionStrategy
}

func New(db *sql.DB, cfg *config.Config, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Rules:   rules.New(cfg),
		Log:     log,
		Now:     time.Now,
		Resolve: SoonestExpiring,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateIntent locks the policy amount from the user's spendable balance
// atomically with the intent row: either both commit or neither does.
func (e Engine) CreateIntent(ctx context.Context, userID, rawText string, policy domain.Policy, actorID string) (domain.Intent, error) {
	if policy.AmountLimit <= 0 {
		return domain.Intent{}, fmt.Errorf("policy amount must be positive")
	}
	if policy.Currency == "" {
		policy.Currency = e.Config.Wallet.Currency
	}
	if policy.EnforcementTier < 1 || policy.EnforcementTier > 3 {
		return domain.Intent{}, fmt.Errorf("enforcement tier must be 1..3")
	}
	if policy.SplitRule != nil {
		if diff := policy.SplitRule.Spend + policy.SplitRule.Save - 1.0; diff > 1e-9 || diff < -1e-9 {
			return domain.Intent{}, fmt.Errorf("split rule fractions must sum to 1.0")
		}
	}
	if policy.DurationDays <= 0 {
		policy.DurationDays = 30
	}

	now := e.now().UTC()
	it := domain.Intent{
		ID:              uuid.New().String(),
		UserID:          userID,
		RawText:         rawText,
		Policy:          policy,
		Status:          domain.IntentActive,
		AmountLocked:    policy.AmountLimit,
		AmountRemaining: policy.AmountLimit,
		CreatedAt:       now.Format(time.RFC3339),
		ExpiresAt:       now.AddDate(0, 0, policy.DurationDays).Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()

	user, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("user %s: %w", userID, err)
	}
	if user.AvailableBalance() < policy.AmountLimit {
		return domain.Intent{}, fmt.Errorf("%w: available %s, required %s",
			ErrInsufficientBalance, domain.Rupees(user.AvailableBalance()), domain.Rupees(policy.AmountLimit))
	}
	if err := e.Repo.LockFunds(ctx, tx, userID, policy.AmountLimit); err != nil {
		return domain.Intent{}, fmt.Errorf("lock funds: %w", err)
	}
	if err := e.Repo.InsertIntent(ctx, tx, it); err != nil {
		return domain.Intent{}, fmt.Errorf("insert intent: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "intent.created", userID, "intent", it.ID, actorID, events.EventPayload{
		"amount_locked": it.AmountLocked,
		"expires_at":    it.ExpiresAt,
	}); err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}

	e.recordReputation(ctx, userID, domain.EventIntentCreated, fmt.Sprintf("Created intent %q", truncate(rawText, 50)))
	return it, nil
}

// ApplyUsage decrements the remaining balance for an approved payment.
// The guarded update keeps two racing payments from both succeeding.
// GetIntent loads an intent, persisting an expiry observed on read.
// Nothing sweeps intents in the background; the transition to expired
// happens the first time anyone looks after the deadline.
func (e Engine) GetIntent(ctx context.Context, intentID string) (domain.Intent, error) {
	it, err := e.Repo.GetIntent(ctx, intentID)
	if err != nil {
		return domain.Intent{}, err
	}
	return e.expireIfDue(ctx, it)
}

func (e Engine) expireIfDue(ctx context.Context, it domain.Intent) (domain.Intent, error) {
	if it.Status != domain.IntentActive {
		return it, nil
	}
	exp, err := time.Parse(time.RFC3339, it.ExpiresAt)
	if err != nil || !e.now().UTC().After(exp) {
		return it, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkIntentExpired(ctx, tx, it.ID); err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}
	it.Status = domain.IntentExpired
	return it, nil
}

func (e Engine) ApplyUsage(ctx context.Context, intentID string, amount int64, actorID string) (domain.Intent, error) {
	if amount <= 0 {
		return domain.Intent{}, fmt.Errorf("usage amount must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetIntentTx(ctx, tx, intentID)
	if err != nil {
		return domain.Intent{}, err
	}
	if it.Status != domain.IntentActive {
		return domain.Intent{}, fmt.Errorf("intent %s: %w", intentID, ErrIntentNotActive)
	}
	ok, err := e.Repo.ApplyIntentUsage(ctx, tx, intentID, amount)
	if err != nil {
		return domain.Intent{}, err
	}
	if !ok {
		return domain.Intent{}, fmt.Errorf("intent %s: %w", intentID, ErrIntentConflict)
	}
	if err := e.spendFromWallet(ctx, tx, it.UserID, amount); err != nil {
		return domain.Intent{}, err
	}
	if err := e.Events.Append(ctx, tx, "intent.usage", it.UserID, "intent", intentID, actorID, events.EventPayload{
		"amount": amount,
	}); err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}
	return e.Repo.GetIntent(ctx, intentID)
}

func (e Engine) spendFromWallet(ctx context.Context, tx *sql.Tx, userID string, amount int64) error {
	if err := e.Repo.SpendLocked(ctx, tx, userID, amount); err != nil {
		return fmt.Errorf("spend locked funds: %w", err)
	}
	return nil
}

// RecordViolation bumps the violation counter; balances are untouched.
func (e Engine) RecordViolation(ctx context.Context, intentID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetIntentTx(ctx, tx, intentID)
	if err != nil {
		return err
	}
	if err := e.Repo.IncrementViolation(ctx, tx, intentID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "intent.violation", it.UserID, "intent", intentID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CancelIntent transitions an active intent to cancelled and unlocks the
// remaining balance. Returns the released amount.
func (e Engine) CancelIntent(ctx context.Context, intentID, actorID string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetIntentTx(ctx, tx, intentID)
	if err != nil {
		return 0, err
	}
	ok, err := e.Repo.MarkIntentCancelled(ctx, tx, intentID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("intent %s is %s: %w", intentID, it.Status, ErrIntentNotActive)
	}
	if it.AmountRemaining > 0 {
		if err := e.Repo.UnlockFunds(ctx, tx, it.UserID, it.AmountRemaining); err != nil {
			return 0, fmt.Errorf("unlock funds: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "intent.cancelled", it.UserID, "intent", intentID, actorID, events.EventPayload{
		"released": it.AmountRemaining,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return it.AmountRemaining, nil
}

// recordReputation applies a reputation event in its own transaction.
// A failure here is logged, never propagated: the primary mutation has
// already committed and reflects a real spend.
func (e Engine) recordReputation(ctx context.Context, userID, kind, description string) {
	if _, err := e.RecordReputationEvent(ctx, userID, kind, description); err != nil {
		e.Log.Error("reputation event not recorded",
			"user_id", userID, "kind", kind, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
