package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"intentpay/internal/domain"
)

const intentColumns = `id,user_id,raw_text,policy_json,status,amount_locked,amount_used,amount_remaining,violation_count,approved_count,created_at,expires_at`

func scanIntent(scan func(...any) error) (domain.Intent, error) {
	var it domain.Intent
	var policyJSON string
	var status string
	err := scan(&it.ID, &it.UserID, &it.RawText, &policyJSON, &status, &it.AmountLocked,
		&it.AmountUsed, &it.AmountRemaining, &it.ViolationCount, &it.ApprovedCount, &it.CreatedAt, &it.ExpiresAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Status = domain.IntentStatus(status)
	if err := json.Unmarshal([]byte(policyJSON), &it.Policy); err != nil {
		return it, fmt.Errorf("decode policy for intent %s: %w", it.ID, err)
	}
	return it, nil
}

func (r Repo) GetIntent(ctx context.Context, id string) (domain.Intent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id=?`, id)
	return scanIntent(row.Scan)
}

func (r Repo) GetIntentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Intent, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id=?`, id)
	return scanIntent(row.Scan)
}

func (r Repo) InsertIntent(ctx context.Context, tx *sql.Tx, it domain.Intent) error {
	policy, err := json.Marshal(it.Policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO intents(`+intentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.UserID, it.RawText, string(policy), string(it.Status), it.AmountLocked,
		it.AmountUsed, it.AmountRemaining, it.ViolationCount, it.ApprovedCount, it.CreatedAt, it.ExpiresAt)
	return err
}

func (r Repo) ListIntentsByUser(ctx context.Context, userID string) ([]domain.Intent, error) {
	return r.listIntents(ctx, `SELECT `+intentColumns+` FROM intents WHERE user_id=? ORDER BY created_at DESC`, userID)
}

// ListActiveIntentsByUser orders by soonest expiry so the default
// best-match strategy can pick the head of the candidate list.
func (r Repo) ListActiveIntentsByUser(ctx context.Context, userID string) ([]domain.Intent, error) {
	return r.listIntents(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE user_id=? AND status='active' ORDER BY expires_at ASC, id ASC`, userID)
}

func (r Repo) listIntents(ctx context.Context, query string, args ...any) ([]domain.Intent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Intent
	for rows.Next() {
		it, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ApplyIntentUsage performs the guarded usage decrement. The WHERE
// clause is the per-aggregate atomicity guard: a racing payment that
// would drive the remaining balance negative affects zero rows.
func (r Repo) ApplyIntentUsage(ctx context.Context, tx *sql.Tx, intentID string, amount int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE intents SET
		amount_used = amount_used + ?,
		amount_remaining = amount_remaining - ?,
		approved_count = approved_count + 1,
		status = CASE WHEN amount_remaining - ? = 0 THEN 'exhausted' ELSE status END
		WHERE id=? AND status='active' AND amount_remaining >= ?`,
		amount, amount, amount, intentID, amount)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) IncrementViolation(ctx context.Context, tx *sql.Tx, intentID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE intents SET violation_count = violation_count + 1 WHERE id=?`, intentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkIntentCancelled transitions an active intent to cancelled.
func (r Repo) MarkIntentCancelled(ctx context.Context, tx *sql.Tx, intentID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE intents SET status='cancelled' WHERE id=? AND status='active'`, intentID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkIntentExpired records a lazily observed expiry.
func (r Repo) MarkIntentExpired(ctx context.Context, tx *sql.Tx, intentID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE intents SET status='expired' WHERE id=? AND status='active'`, intentID)
	return err
}
