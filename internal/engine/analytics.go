package engine

import (
	"context"

	"intentpay/internal/domain"
)

// WalletSummary is the per-user dashboard read model.
type WalletSummary struct {
	User            domain.User `json:"user"`
	ActiveIntents   int         `json:"active_intents"`
	OpenEscrows     int         `json:"open_escrows"`
	Approved        int         `json:"approved"`
	Rejected        int         `json:"rejected"`
	TotalSpent      int64       `json:"total_spent"`
	TotalBlocked    int64       `json:"total_blocked"`
	ComplianceRate  float64     `json:"compliance_rate"`
	ReputationScore int         `json:"reputation_score"`
	CreditTier      string      `json:"credit_tier"`
}

// SystemSummary is the platform-wide read model.
type SystemSummary struct {
	TotalTransactions int     `json:"total_transactions"`
	ApprovedRate      float64 `json:"approved_rate"`
	TotalIntents      int     `json:"total_intents"`
	ActiveIntents     int     `json:"active_intents"`
	TotalValueLocked  int64   `json:"total_value_locked"`
	LeakagePrevented  int64   `json:"leakage_prevented"`
	AvgProcessingMs   float64 `json:"avg_processing_ms"`
}

// SystemStats aggregates counters across every user and merchant.
func (e Engine) SystemStats(ctx context.Context) (SystemSummary, error) {
	tot, err := e.Repo.SystemTotals(ctx)
	if err != nil {
		return SystemSummary{}, err
	}
	rate := 0.0
	if tot.TotalTransactions > 0 {
		rate = float64(tot.Approved) / float64(tot.TotalTransactions) * 100
	}
	return SystemSummary{
		TotalTransactions: tot.TotalTransactions,
		ApprovedRate:      rate,
		TotalIntents:      tot.TotalIntents,
		ActiveIntents:     tot.ActiveIntents,
		TotalValueLocked:  tot.ValueLocked,
		LeakagePrevented:  tot.LeakagePrevented,
		AvgProcessingMs:   tot.AvgProcessingMs,
	}, nil
}

// Summary aggregates a user's wallet state for the status views.
func (e Engine) Summary(ctx context.Context, userID string) (WalletSummary, error) {
	user, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	intents, err := e.Repo.ListActiveIntentsByUser(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	escrows, err := e.Repo.ListEscrowsByUser(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	open := 0
	for _, esc := range escrows {
		if !esc.Status.Closed() {
			open++
		}
	}
	totals, err := e.Repo.TransactionTotalsByUser(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	rate := 100.0
	if totals.Approved+totals.Rejected > 0 {
		rate = float64(totals.Approved) / float64(totals.Approved+totals.Rejected) * 100
	}
	return WalletSummary{
		User:            user,
		ActiveIntents:   len(intents),
		OpenEscrows:     open,
		Approved:        totals.Approved,
		Rejected:        totals.Rejected,
		TotalSpent:      totals.TotalSpent,
		TotalBlocked:    totals.TotalBlocked,
		ComplianceRate:  rate,
		ReputationScore: user.ReputationScore,
		CreditTier:      e.Config.TierFor(user.ReputationScore).Name,
	}, nil
}
