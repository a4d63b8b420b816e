package engine

import (
	"context"
	"time"

	"intentpay/internal/domain"
	"intentpay/internal/repo"
)

// ResolutionStrategy picks which of a user's intents should govern a
// payment when the caller did not name one. Returning nil means no
// intent covers the payment and the transaction is rejected outright.
type ResolutionStrategy func(now time.Time, candidates []domain.Intent, merchant domain.Merchant, amount int64) *domain.Intent

// SoonestExpiring prefers the active intent closest to expiry among
// those with enough remaining balance. Spending down the intent that
// dies first preserves the most future spending power.
func SoonestExpiring(now time.Time, candidates []domain.Intent, merchant domain.Merchant, amount int64) *domain.Intent {
	var best *domain.Intent
	var bestExp time.Time
	for i := range candidates {
		c := &candidates[i]
		if c.Status != domain.IntentActive || c.AmountRemaining < amount {
			continue
		}
		exp, err := time.Parse(time.RFC3339, c.ExpiresAt)
		if err != nil || !exp.After(now) {
			continue
		}
		if best == nil || exp.Before(bestExp) {
			best = c
			bestExp = exp
		}
	}
	return best
}

// ResolveIntent applies the engine's strategy over the user's active
// intents. repo.ErrNotFound reports that nothing matched.
func (e Engine) ResolveIntent(ctx context.Context, userID string, merchant domain.Merchant, amount int64) (domain.Intent, error) {
	candidates, err := e.Repo.ListActiveIntentsByUser(ctx, userID)
	if err != nil {
		return domain.Intent{}, err
	}
	// Realize expiry for any candidate past its deadline so listings
	// stop reporting it as active.
	live := candidates[:0]
	for i := range candidates {
		it, err := e.expireIfDue(ctx, candidates[i])
		if err != nil {
			return domain.Intent{}, err
		}
		if it.Status == domain.IntentActive {
			live = append(live, it)
		}
	}
	strategy := e.Resolve
	if strategy == nil {
		strategy = SoonestExpiring
	}
	picked := strategy(e.now(), live, merchant, amount)
	if picked == nil {
		return domain.Intent{}, repo.ErrNotFound
	}
	return *picked, nil
}
