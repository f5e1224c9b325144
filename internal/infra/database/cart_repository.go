package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/xavierca1/lead-market/internal/entity"
)

var errNoCartOwner = errors.New("cart owner is required")

type CartRepository struct {
	DB *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{DB: db}
}

func (r *CartRepository) Add(ctx context.Context, item *entity.CartItem) error {
	query := `
		INSERT INTO cart_items (id, user_id, session_id, lead_key, added_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.DB.ExecContext(ctx, query,
		item.ID, nullIfEmpty(item.UserID), nullIfEmpty(item.SessionID), item.LeadKey, item.AddedAt)
	return err
}

// ownerClause matches on user_id when present, otherwise on session_id.
func ownerClause(owner entity.CartOwner) (string, string) {
	if owner.UserID != "" {
		return "user_id = $1", owner.UserID
	}
	return "session_id = $1", owner.SessionID
}

func (r *CartRepository) ListByOwner(ctx context.Context, owner entity.CartOwner) ([]*entity.CartItem, error) {
	if owner.Empty() {
		return nil, errNoCartOwner
	}
	where, arg := ownerClause(owner)

	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, session_id, lead_key, added_at FROM cart_items WHERE `+where+` ORDER BY added_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.CartItem
	for rows.Next() {
		var (
			it                entity.CartItem
			userID, sessionID sql.NullString
		)
		if err := rows.Scan(&it.ID, &userID, &sessionID, &it.LeadKey, &it.AddedAt); err != nil {
			return nil, err
		}
		it.UserID = userID.String
		it.SessionID = sessionID.String
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (r *CartRepository) DeleteLeads(ctx context.Context, owner entity.CartOwner, leadKeys []string) (int, error) {
	if owner.Empty() {
		return 0, errNoCartOwner
	}
	if len(leadKeys) == 0 {
		return 0, nil
	}
	where, arg := ownerClause(owner)

	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM cart_items WHERE `+where+` AND lead_key = ANY($2)`, arg, pq.Array(leadKeys))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
