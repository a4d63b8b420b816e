package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"intentpay/internal/domain"
)

const merchantColumns = `id,name,vpa,mcc,category,category_label,city,state,lat,lng,gstin,tier,certified,product_tags_json,risk_score`

func scanMerchant(scan func(...any) error) (domain.Merchant, error) {
	var m domain.Merchant
	var state, gstin, tags sql.NullString
	var certified int
	err := scan(&m.ID, &m.Name, &m.VPA, &m.MCC, &m.Category, &m.CategoryLabel, &m.City, &state,
		&m.Lat, &m.Lng, &gstin, &m.Tier, &certified, &tags, &m.RiskScore)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.State = state.String
	m.GSTIN = gstin.String
	m.Certified = certified != 0
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &m.ProductTags)
	}
	return m, nil
}

func (r Repo) GetMerchant(ctx context.Context, id string) (domain.Merchant, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id=?`, id)
	return scanMerchant(row.Scan)
}

func (r Repo) InsertMerchant(ctx context.Context, m domain.Merchant) error {
	tags, err := json.Marshal(m.ProductTags)
	if err != nil {
		return err
	}
	certified := 0
	if m.Certified {
		certified = 1
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO merchants(`+merchantColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Name, m.VPA, m.MCC, m.Category, m.CategoryLabel, m.City, nullable(m.State),
		m.Lat, m.Lng, nullable(m.GSTIN), m.Tier, certified, string(tags), m.RiskScore)
	return err
}

func (r Repo) ListMerchants(ctx context.Context) ([]domain.Merchant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+merchantColumns+` FROM merchants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
