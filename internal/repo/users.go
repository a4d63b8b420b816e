package repo

import (
	"context"
	"database/sql"

	"intentpay/internal/domain"
)

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var phone, city, state sql.NullString
	err := row.Scan(&u.ID, &u.Name, &phone, &u.VPA, &city, &state, &u.Lat, &u.Lng,
		&u.WalletBalance, &u.LockedBalance, &u.ReputationScore, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Phone = phone.String
	u.City = city.String
	u.State = state.String
	return u, err
}

const userColumns = `id,name,phone,vpa,city,state,lat,lng,wallet_balance,locked_balance,reputation_score,created_at`

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByVPA(ctx context.Context, vpa string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE vpa=?`, vpa))
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, nullable(u.Phone), u.VPA, nullable(u.City), nullable(u.State), u.Lat, u.Lng,
		u.WalletBalance, u.LockedBalance, u.ReputationScore, u.CreatedAt)
	return err
}

// LockFunds raises the user's locked balance inside the caller's tx.
// Fails with ErrInsufficientBalance semantics when the available balance
// cannot cover the amount; the CHECK constraints back this guard up.
func (r Repo) LockFunds(ctx context.Context, tx *sql.Tx, userID string, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET locked_balance = locked_balance + ? WHERE id=? AND wallet_balance - locked_balance >= ?`,
		amount, userID, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnlockFunds lowers the locked balance, clamping at zero.
func (r Repo) UnlockFunds(ctx context.Context, tx *sql.Tx, userID string, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET locked_balance = MAX(0, locked_balance - ?) WHERE id=?`,
		amount, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SpendLocked consumes settled funds: both the wallet and the locked
// balance drop by the amount.
func (r Repo) SpendLocked(ctx context.Context, tx *sql.Tx, userID string, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET wallet_balance = wallet_balance - ?, locked_balance = locked_balance - ? WHERE id=? AND locked_balance >= ?`,
		amount, amount, userID, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReputationScore stores the already-clamped running score.
func (r Repo) SetReputationScore(ctx context.Context, tx *sql.Tx, userID string, score int) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET reputation_score=? WHERE id=?`, score, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var phone, city, state sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &phone, &u.VPA, &city, &state, &u.Lat, &u.Lng,
			&u.WalletBalance, &u.LockedBalance, &u.ReputationScore, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Phone = phone.String
		u.City = city.String
		u.State = state.String
		res = append(res, u)
	}
	return res, rows.Err()
}
