package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"intentpay/internal/domain"
)

const transactionColumns = `id,user_id,intent_id,merchant_id,amount,status,settlement_ref,failed_at_check,violation_reason,risk_level,checks_json,processing_ms,created_at`

func (r Repo) InsertTransaction(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	checks, err := json.Marshal(t.Checks)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO transactions(`+transactionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, nullableStringPtr(t.IntentID), t.MerchantID, t.Amount, string(t.Status),
		nullable(t.SettlementRef), nullable(t.FailedAtCheck), nullable(t.ViolationReason),
		nullable(t.RiskLevel), string(checks), t.ProcessingMs, t.CreatedAt)
	return err
}

func scanTransaction(scan func(...any) error) (domain.Transaction, error) {
	var t domain.Transaction
	var intentID, ref, failed, reason, risk, checks sql.NullString
	var status string
	err := scan(&t.ID, &t.UserID, &intentID, &t.MerchantID, &t.Amount, &status, &ref, &failed,
		&reason, &risk, &checks, &t.ProcessingMs, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TransactionStatus(status)
	if intentID.Valid {
		t.IntentID = &intentID.String
	}
	t.SettlementRef = ref.String
	t.FailedAtCheck = failed.String
	t.ViolationReason = reason.String
	t.RiskLevel = risk.String
	if checks.Valid && checks.String != "" {
		_ = json.Unmarshal([]byte(checks.String), &t.Checks)
	}
	return t, nil
}

func (r Repo) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=?`, id)
	return scanTransaction(row.Scan)
}

func (r Repo) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TransactionTotals aggregates approved/rejected counts and amounts for
// the analytics summary.
type TransactionTotals struct {
	Approved      int
	Rejected      int
	TotalSpent    int64
	TotalBlocked  int64
}

func (r Repo) TransactionTotalsByUser(ctx context.Context, userID string) (TransactionTotals, error) {
	var tot TransactionTotals
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount),0) FROM transactions WHERE user_id=? GROUP BY status`, userID)
	if err != nil {
		return tot, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		var sum int64
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return tot, err
		}
		switch domain.TransactionStatus(status) {
		case domain.TransactionApproved:
			tot.Approved = count
			tot.TotalSpent = sum
		case domain.TransactionRejected:
			tot.Rejected = count
			tot.TotalBlocked = sum
		}
	}
	return tot, rows.Err()
}

// SystemTotals aggregates platform-wide counters for the admin view.
type SystemTotals struct {
	TotalTransactions int
	Approved          int
	Rejected          int
	TotalIntents      int
	ActiveIntents     int
	ValueLocked       int64
	LeakagePrevented  int64
	AvgProcessingMs   float64
}

func (r Repo) SystemTotals(ctx context.Context) (SystemTotals, error) {
	var tot SystemTotals
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status='approved' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN status='rejected' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN status='rejected' THEN amount ELSE 0 END),0),
		COALESCE(AVG(processing_ms),0)
		FROM transactions`).Scan(
		&tot.TotalTransactions, &tot.Approved, &tot.Rejected, &tot.LeakagePrevented, &tot.AvgProcessingMs)
	if err != nil {
		return tot, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status='active' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN status='active' THEN amount_remaining ELSE 0 END),0)
		FROM intents`).Scan(&tot.TotalIntents, &tot.ActiveIntents, &tot.ValueLocked)
	return tot, err
}
