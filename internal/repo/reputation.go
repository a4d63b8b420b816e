package repo

import (
	"context"
	"database/sql"

	"intentpay/internal/domain"
)

const reputationColumns = `id,user_id,kind,delta,description,score_after,created_at`

func (r Repo) InsertReputationEvent(ctx context.Context, tx *sql.Tx, e domain.ReputationEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reputation_events(`+reputationColumns+`) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.Kind, e.Delta, nullable(e.Description), e.ScoreAfter, e.CreatedAt)
	return err
}

func (r Repo) ListReputationEvents(ctx context.Context, userID string, limit int) ([]domain.ReputationEvent, error) {
	query := `SELECT ` + reputationColumns + ` FROM reputation_events WHERE user_id=? ORDER BY created_at DESC, id DESC`
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
	var res []domain.ReputationEvent
	for rows.Next() {
		var e domain.ReputationEvent
		var desc sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Delta, &desc, &e.ScoreAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Description = desc.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountReputationEvents returns per-kind event counts for a user.
func (r Repo) CountReputationEvents(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM reputation_events WHERE user_id=? GROUP BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
