package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/xavierca1/lead-market/internal/entity"
)

type SuppressionRepository struct {
	DB *sql.DB
}

func NewSuppressionRepository(db *sql.DB) *SuppressionRepository {
	return &SuppressionRepository{DB: db}
}

const suppressionColumns = `id, lead_key, tier, order_id, sale_date`

func scanSuppression(row rowScanner) (*entity.SuppressionRecord, error) {
	var rec entity.SuppressionRecord
	var tier int
	if err := row.Scan(&rec.ID, &rec.LeadKey, &tier, &rec.OrderID, &rec.SaleDate); err != nil {
		return nil, err
	}
	rec.Tier = entity.Tier(tier)
	return &rec, nil
}

// CreateIfAbsent relies on the (lead_key, order_id) constraint. When the insert
// is skipped the existing row is read back.
func (r *SuppressionRepository) CreateIfAbsent(ctx context.Context, rec *entity.SuppressionRecord) (*entity.SuppressionRecord, bool, error) {
	query := `
		INSERT INTO suppression_records (` + suppressionColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lead_key, order_id) DO NOTHING
		RETURNING ` + suppressionColumns

	stored, err := scanSuppression(r.DB.QueryRowContext(ctx, query,
		rec.ID, rec.LeadKey, int(rec.Tier), rec.OrderID, rec.SaleDate))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := scanSuppression(r.DB.QueryRowContext(ctx,
		`SELECT `+suppressionColumns+` FROM suppression_records WHERE lead_key = $1 AND order_id = $2`,
		rec.LeadKey, rec.OrderID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SuppressionRepository) ExistsForLead(ctx context.Context, leadKey string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppression_records WHERE lead_key = $1)`, leadKey).Scan(&exists)
	return exists, err
}

func (r *SuppressionRepository) SuppressedAmong(ctx context.Context, leadKeys []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(leadKeys) == 0 {
		return out, nil
	}

	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT lead_key FROM suppression_records WHERE lead_key = ANY($1)`, pq.Array(leadKeys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = true
	}
	return out, rows.Err()
}

func (r *SuppressionRepository) ListByOrder(ctx context.Context, orderID string) ([]*entity.SuppressionRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+suppressionColumns+` FROM suppression_records WHERE order_id = $1 ORDER BY sale_date, lead_key`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.SuppressionRecord
	for rows.Next() {
		rec, err := scanSuppression(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SuppressionRepository) DeleteForOrder(ctx context.Context, leadKey, orderID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM suppression_records WHERE lead_key = $1 AND order_id = $2`, leadKey, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
