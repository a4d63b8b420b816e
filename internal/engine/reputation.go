package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intentpay/internal/domain"
)

const (
	scoreFloor   = 0
	scoreCeiling = 1000
)

// RecordReputationEvent applies one scoring event: look up the kind's
// delta, clamp the running score into [0,1000], append the ledger entry
// with the resulting score snapshot.
func (e Engine) RecordReputationEvent(ctx context.Context, userID, kind, description string) (domain.ReputationEvent, error) {
	delta, ok := e.Config.Delta(kind)
	if !ok {
		return domain.ReputationEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReputationEvent{}, err
	}
	defer tx.Rollback()

	user, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.ReputationEvent{}, fmt.Errorf("user %s: %w", userID, err)
	}
	score := user.ReputationScore + delta
	if score < scoreFloor {
		score = scoreFloor
	}
	if score > scoreCeiling {
		score = scoreCeiling
	}

	evt := domain.ReputationEvent{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        kind,
		Delta:       delta,
		Description: description,
		ScoreAfter:  score,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.SetReputationScore(ctx, tx, userID, score); err != nil {
		return domain.ReputationEvent{}, err
	}
	if err := e.Repo.InsertReputationEvent(ctx, tx, evt); err != nil {
		return domain.ReputationEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReputationEvent{}, err
	}
	return evt, nil
}

// ReputationSnapshot derives the user's current standing: score, tier
// (a pure function of the score), compliance stats and recent events.
func (e Engine) ReputationSnapshot(ctx context.Context, userID string) (domain.ReputationSnapshot, error) {
	user, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.ReputationSnapshot{}, err
	}
	counts, err := e.Repo.CountReputationEvents(ctx, userID)
	if err != nil {
		return domain.ReputationSnapshot{}, err
	}
	recent, err := e.Repo.ListReputationEvents(ctx, userID, 10)
	if err != nil {
		return domain.ReputationSnapshot{}, err
	}

	totals, err := e.Repo.TransactionTotalsByUser(ctx, userID)
	if err != nil {
		return domain.ReputationSnapshot{}, err
	}

	compliant := counts[domain.EventIntentCompliance]
	violations := counts[domain.EventIntentViolationAttempt]
	rate := 100.0
	if compliant+violations > 0 {
		rate = float64(compliant) / float64(compliant+violations) * 100
	}

	band := e.Config.TierFor(user.ReputationScore)
	return domain.ReputationSnapshot{
		UserID: userID,
		Score:  user.ReputationScore,
		Tier: domain.CreditTier{
			Name:         band.Name,
			MaxCreditPs:  band.MaxCredit,
			InterestRate: band.InterestRate,
		},
		LevelLabel:        levelLabel(user.ReputationScore),
		TotalTransactions: totals.Approved + totals.Rejected,
		CompliantCount:    compliant,
		ViolationCount:    violations,
		ComplianceRate:    rate,
		RecentEvents:      recent,
	}, nil
}

func levelLabel(score int) string {
	switch {
	case score >= 800:
		return "excellent"
	case score >= 600:
		return "good"
	case score >= 400:
		return "fair"
	default:
		return "poor"
	}
}
