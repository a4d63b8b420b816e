package repo

import (
	"context"
	"database/sql"

	"intentpay/internal/domain"
)

const escrowColumns = `id,user_id,intent_id,title,total_amount,released_amount,pending_amount,clawed_back,status,created_at,expires_at`
const milestoneColumns = `id,escrow_id,position,description,amount,proof_kind,status,completed_at,merchant_id`

func scanEscrow(scan func(...any) error) (domain.Escrow, error) {
	var e domain.Escrow
	var intentID sql.NullString
	var status string
	err := scan(&e.ID, &e.UserID, &intentID, &e.Title, &e.TotalAmount, &e.ReleasedAmount,
		&e.PendingAmount, &e.ClawedBack, &status, &e.CreatedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if intentID.Valid {
		e.IntentID = &intentID.String
	}
	e.Status = domain.EscrowStatus(status)
	return e, nil
}

func scanMilestone(scan func(...any) error) (domain.Milestone, error) {
	var m domain.Milestone
	var proofKind, completedAt, merchantID sql.NullString
	var status string
	err := scan(&m.ID, &m.EscrowID, &m.Position, &m.Description, &m.Amount, &proofKind, &status, &completedAt, &merchantID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.ProofKind = proofKind.String
	m.Status = domain.MilestoneStatus(status)
	if completedAt.Valid {
		m.CompletedAt = &completedAt.String
	}
	if merchantID.Valid {
		m.MerchantID = &merchantID.String
	}
	return m, nil
}

func (r Repo) InsertEscrow(ctx context.Context, tx *sql.Tx, e domain.Escrow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escrows(`+escrowColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, nullableStringPtr(e.IntentID), e.Title, e.TotalAmount, e.ReleasedAmount,
		e.PendingAmount, e.ClawedBack, string(e.Status), e.CreatedAt, e.ExpiresAt)
	return err
}

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO milestones(`+milestoneColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.EscrowID, m.Position, m.Description, m.Amount, nullable(m.ProofKind),
		string(m.Status), nullableStringPtr(m.CompletedAt), nullableStringPtr(m.MerchantID))
	return err
}

func (r Repo) GetEscrow(ctx context.Context, id string) (domain.Escrow, error) {
	e, err := scanEscrow(r.DB.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id=?`, id).Scan)
	if err != nil {
		return e, err
	}
	e.Milestones, err = r.listMilestones(ctx, id)
	return e, err
}

func (r Repo) GetEscrowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Escrow, error) {
	return scanEscrow(tx.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id=?`, id).Scan)
}

func (r Repo) GetMilestoneTx(ctx context.Context, tx *sql.Tx, escrowID, milestoneID string) (domain.Milestone, error) {
	return scanMilestone(tx.QueryRowContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id=? AND escrow_id=?`, milestoneID, escrowID).Scan)
}

func (r Repo) ListEscrowsByUser(ctx context.Context, userID string) ([]domain.Escrow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Milestones, err = r.listMilestones(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) listMilestones(ctx context.Context, escrowID string) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE escrow_id=? ORDER BY position`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CompleteMilestone marks a pending milestone completed; the guard makes
// a double release affect zero rows.
func (r Repo) CompleteMilestone(ctx context.Context, tx *sql.Tx, milestoneID, completedAt string, merchantID *string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE milestones SET status='completed', completed_at=?, merchant_id=? WHERE id=? AND status='pending'`,
		completedAt, nullableStringPtr(merchantID), milestoneID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseEscrowFunds moves a milestone amount from pending to released
// and recomputes status purely from the resulting balances.
func (r Repo) ReleaseEscrowFunds(ctx context.Context, tx *sql.Tx, escrowID string, amount int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE escrows SET
		released_amount = released_amount + ?,
		pending_amount = pending_amount - ?,
		status = CASE WHEN pending_amount - ? = 0 THEN 'released' ELSE 'partially_released' END
		WHERE id=? AND status IN ('locked','partially_released') AND pending_amount >= ?`,
		amount, amount, amount, escrowID, amount)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClawbackEscrow terminally claws back part or all of the pending funds.
func (r Repo) ClawbackEscrow(ctx context.Context, tx *sql.Tx, escrowID string, amount int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE escrows SET
		pending_amount = pending_amount - ?,
		clawed_back = clawed_back + ?,
		status = 'clawback'
		WHERE id=? AND status IN ('locked','partially_released') AND pending_amount >= ?`,
		amount, amount, escrowID, amount)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
