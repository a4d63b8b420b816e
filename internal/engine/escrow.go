package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"intentpay/internal/domain"
)

// MilestoneSpec is the caller-supplied shape of one escrow tranche.
type MilestoneSpec struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	ProofKind   string `json:"proof_kind,omitempty"`
}

// CreateEscrow locks the sum of the milestone amounts and persists the
// escrow with every milestone pending.
func (e Engine) CreateEscrow(ctx context.Context, userID, title string, intentID *string, milestones []MilestoneSpec, durationDays int, actorID string) (domain.Escrow, error) {
	if len(milestones) == 0 {
		return domain.Escrow{}, ErrNoMilestones
	}
	var total int64
	for i, m := range milestones {
		if m.Amount <= 0 {
			return domain.Escrow{}, fmt.Errorf("milestone %d: amount must be positive", i+1)
		}
		total += m.Amount
	}
	if durationDays <= 0 {
		durationDays = e.Config.Escrow.DefaultDurationDays
	}

	now := e.now().UTC()
	esc := domain.Escrow{
		ID:            uuid.New().String(),
		UserID:        userID,
		IntentID:      intentID,
		Title:         title,
		TotalAmount:   total,
		PendingAmount: total,
		Status:        domain.EscrowLocked,
		CreatedAt:     now.Format(time.RFC3339),
		ExpiresAt:     now.AddDate(0, 0, durationDays).Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escrow{}, err
	}
	defer tx.Rollback()

	user, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.Escrow{}, fmt.Errorf("user %s: %w", userID, err)
	}
	if user.AvailableBalance() < total {
		return domain.Escrow{}, fmt.Errorf("%w: available %s, required %s",
			ErrInsufficientBalance, domain.Rupees(user.AvailableBalance()), domain.Rupees(total))
	}
	if err := e.Repo.LockFunds(ctx, tx, userID, total); err != nil {
		return domain.Escrow{}, fmt.Errorf("lock funds: %w", err)
	}
	if err := e.Repo.InsertEscrow(ctx, tx, esc); err != nil {
		return domain.Escrow{}, fmt.Errorf("insert escrow: %w", err)
	}
	for i, spec := range milestones {
		m := domain.Milestone{
			ID:          uuid.New().String(),
			EscrowID:    esc.ID,
			Position:    i + 1,
			Description: spec.Description,
			Amount:      spec.Amount,
			ProofKind:   spec.ProofKind,
			Status:      domain.MilestonePending,
		}
		if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
			return domain.Escrow{}, fmt.Errorf("insert milestone %d: %w", i+1, err)
		}
		esc.Milestones = append(esc.Milestones, m)
	}
	if err := e.Events.Append(ctx, tx, "escrow.created", userID, "escrow", esc.ID, actorID, map[string]any{
		"total":      total,
		"milestones": len(milestones),
	}); err != nil {
		return domain.Escrow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escrow{}, err
	}
	return esc, nil
}

// ReleaseSummary reports what a milestone release did to the escrow.
type ReleaseSummary struct {
	Escrow    domain.Escrow    `json:"escrow"`
	Milestone domain.Milestone `json:"milestone"`
	Released  int64            `json:"released"`
}

// ReleaseMilestone completes one milestone and moves its amount from
// pending to released. Escrow status is recomputed from the balances
// alone, never tracked separately.
func (e Engine) ReleaseMilestone(ctx context.Context, escrowID, milestoneID string, proofProvided bool, merchantID *string, actorID string) (ReleaseSummary, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReleaseSummary{}, err
	}
	defer tx.Rollback()

	esc, err := e.Repo.GetEscrowTx(ctx, tx, escrowID)
	if err != nil {
		return ReleaseSummary{}, fmt.Errorf("escrow %s: %w", escrowID, err)
	}
	if esc.Status.Closed() {
		return ReleaseSummary{}, fmt.Errorf("escrow %s is %s: %w", escrowID, esc.Status, ErrEscrowClosed)
	}
	ms, err := e.Repo.GetMilestoneTx(ctx, tx, escrowID, milestoneID)
	if err != nil {
		return ReleaseSummary{}, fmt.Errorf("milestone %s: %w", milestoneID, err)
	}
	if ms.Status == domain.MilestoneCompleted {
		return ReleaseSummary{}, fmt.Errorf("milestone %s: %w", milestoneID, ErrMilestoneCompleted)
	}
	if ms.ProofKind != "" && !proofProvided {
		return ReleaseSummary{}, fmt.Errorf("milestone %s needs %s proof: %w", milestoneID, ms.ProofKind, ErrProofRequired)
	}

	completedAt := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.CompleteMilestone(ctx, tx, milestoneID, completedAt, merchantID)
	if err != nil {
		return ReleaseSummary{}, err
	}
	if !ok {
		return ReleaseSummary{}, fmt.Errorf("milestone %s: %w", milestoneID, ErrMilestoneCompleted)
	}
	ok, err = e.Repo.ReleaseEscrowFunds(ctx, tx, escrowID, ms.Amount)
	if err != nil {
		return ReleaseSummary{}, err
	}
	if !ok {
		return ReleaseSummary{}, fmt.Errorf("escrow %s: %w", escrowID, ErrEscrowClosed)
	}
	// Released funds leave the wallet entirely; they were paid out.
	if err := e.spendFromWallet(ctx, tx, esc.UserID, ms.Amount); err != nil {
		return ReleaseSummary{}, err
	}
	if err := e.Events.Append(ctx, tx, "escrow.milestone_released", esc.UserID, "escrow", escrowID, actorID, map[string]any{
		"milestone_id": milestoneID,
		"amount":       ms.Amount,
	}); err != nil {
		return ReleaseSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReleaseSummary{}, err
	}

	e.recordReputation(ctx, esc.UserID, domain.EventEscrowReleased,
		fmt.Sprintf("Milestone %d released: %s", ms.Position, domain.Rupees(ms.Amount)))

	after, err := e.Repo.GetEscrow(ctx, escrowID)
	if err != nil {
		return ReleaseSummary{}, err
	}
	ms.Status = domain.MilestoneCompleted
	ms.CompletedAt = &completedAt
	ms.MerchantID = merchantID
	return ReleaseSummary{Escrow: after, Milestone: ms, Released: ms.Amount}, nil
}

// ClawbackResult itemizes where a clawed-back amount went.
type ClawbackResult struct {
	Escrow       domain.Escrow `json:"escrow"`
	Amount       int64         `json:"amount"`
	Penalty      int64         `json:"penalty"`
	NetReturned  int64         `json:"net_returned"`
	AutoInvested int64         `json:"auto_invested"`
	ToWallet     int64         `json:"to_wallet"`
	Reason       string        `json:"reason"`
}

// InitiateClawback pulls pending funds back out of an escrow. Reason
// "misuse" withholds a penalty and routes a share of the net into the
// savings allocation; any other reason returns the amount in full.
// Clawback is terminal: the escrow accepts no further releases.
func (e Engine) InitiateClawback(ctx context.Context, escrowID, reason string, partialAmount int64, actorID string) (ClawbackResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ClawbackResult{}, err
	}
	defer tx.Rollback()

	esc, err := e.Repo.GetEscrowTx(ctx, tx, escrowID)
	if err != nil {
		return ClawbackResult{}, fmt.Errorf("escrow %s: %w", escrowID, err)
	}
	if esc.Status.Closed() {
		return ClawbackResult{}, fmt.Errorf("escrow %s is %s: %w", escrowID, esc.Status, ErrEscrowClosed)
	}
	amount := esc.PendingAmount
	if partialAmount > 0 {
		if partialAmount > esc.PendingAmount {
			return ClawbackResult{}, fmt.Errorf("clawback %s exceeds pending %s",
				domain.Rupees(partialAmount), domain.Rupees(esc.PendingAmount))
		}
		amount = partialAmount
	}
	if amount <= 0 {
		return ClawbackResult{}, fmt.Errorf("escrow %s has no pending funds", escrowID)
	}

	var penalty, invested int64
	if reason == "misuse" {
		penalty = int64(math.Round(float64(amount) * e.Config.Escrow.MisusePenaltyRate))
	}
	net := amount - penalty
	if reason == "misuse" {
		invested = int64(math.Round(float64(net) * e.Config.Escrow.SavingsAllocationRate))
	}
	toWallet := net - invested

	ok, err := e.Repo.ClawbackEscrow(ctx, tx, escrowID, amount)
	if err != nil {
		return ClawbackResult{}, err
	}
	if !ok {
		return ClawbackResult{}, fmt.Errorf("escrow %s: %w", escrowID, ErrEscrowClosed)
	}
	// Penalty and auto-invested funds leave the wallet; the rest of the
	// net stays in the wallet and simply unlocks.
	if penalty+invested > 0 {
		if err := e.spendFromWallet(ctx, tx, esc.UserID, penalty+invested); err != nil {
			return ClawbackResult{}, err
		}
	}
	if toWallet > 0 {
		if err := e.Repo.UnlockFunds(ctx, tx, esc.UserID, toWallet); err != nil {
			return ClawbackResult{}, fmt.Errorf("unlock funds: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "escrow.clawback", esc.UserID, "escrow", escrowID, actorID, map[string]any{
		"reason":        reason,
		"amount":        amount,
		"penalty":       penalty,
		"net_returned":  net,
		"auto_invested": invested,
	}); err != nil {
		return ClawbackResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ClawbackResult{}, err
	}

	if reason == "misuse" {
		e.recordReputation(ctx, esc.UserID, domain.EventEscrowClawbackMisuse,
			fmt.Sprintf("Clawback for misuse: %s withheld, %s invested", domain.Rupees(penalty), domain.Rupees(invested)))
	}

	after, err := e.Repo.GetEscrow(ctx, escrowID)
	if err != nil {
		return ClawbackResult{}, err
	}
	return ClawbackResult{
		Escrow:       after,
		Amount:       amount,
		Penalty:      penalty,
		NetReturned:  net,
		AutoInvested: invested,
		ToWallet:     toWallet,
		Reason:       reason,
	}, nil
}
