package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/xavierca1/lead-market/internal/entity"
)

const orderColumns = `id, customer_id, customer_email, user_id, session_id, status, total_price,
	lead_count, leads_purchased, lead_data_snapshot, payment_reference,
	created_at, updated_at, claimed_at, completed_at`

const constraintCompletedPaymentRef = "orders_completed_payment_reference_key"

type OrderRepository struct {
	DB *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	var (
		o                                     entity.Order
		customerID, userID, sessionID, payRef sql.NullString
		status                                string
		snapshot                              []byte
		claimedAt, completedAt                sql.NullTime
	)
	err := row.Scan(
		&o.ID, &customerID, &o.CustomerEmail, &userID, &sessionID, &status, &o.TotalPrice,
		&o.LeadCount, pq.Array(&o.LeadsPurchased), &snapshot, &payRef,
		&o.CreatedAt, &o.UpdatedAt, &claimedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	o.CustomerID = customerID.String
	o.UserID = userID.String
	o.SessionID = sessionID.String
	o.PaymentReference = payRef.String
	o.Status = entity.OrderStatus(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		o.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &o.LeadDataSnapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot of order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func (r *OrderRepository) insert(ctx context.Context, o *entity.Order) error {
	snapshot, err := json.Marshal(snapshotOrEmpty(o.LeadDataSnapshot))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.DB.ExecContext(ctx, query,
		o.ID,
		nullIfEmpty(o.CustomerID),
		o.CustomerEmail,
		nullIfEmpty(o.UserID),
		nullIfEmpty(o.SessionID),
		string(o.Status),
		o.TotalPrice,
		o.LeadCount,
		pq.Array(o.LeadsPurchased),
		snapshot,
		nullIfEmpty(o.PaymentReference),
		o.CreatedAt,
		o.UpdatedAt,
		o.ClaimedAt,
		o.CompletedAt,
	)
	return err
}

func (r *OrderRepository) CreatePending(ctx context.Context, o *entity.Order) error {
	o.Status = entity.OrderPending
	return r.insert(ctx, o)
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrOrderNotFound
	}
	return o, err
}

func (r *OrderRepository) FindCompletedByPaymentReference(ctx context.Context, ref string) (*entity.Order, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1 AND status = 'completed'`, ref)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrOrderNotFound
	}
	return o, err
}

// ClaimPending is a single conditional UPDATE; Postgres row locking makes it
// the serialization point between concurrent deliveries.
func (r *OrderRepository) ClaimPending(ctx context.Context, id string, at time.Time) (*entity.Order, bool, error) {
	return r.transition(ctx, id, at, entity.OrderPending)
}

func (r *OrderRepository) ReclaimProcessing(ctx context.Context, id string, at time.Time) (*entity.Order, bool, error) {
	return r.transition(ctx, id, at, entity.OrderProcessing)
}

func (r *OrderRepository) transition(ctx context.Context, id string, at time.Time, from entity.OrderStatus) (*entity.Order, bool, error) {
	query := `
		UPDATE orders
		SET status = 'processing', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status = $3
		RETURNING ` + orderColumns

	o, err := scanOrder(r.DB.QueryRowContext(ctx, query, id, at, string(from)))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *OrderRepository) CreateCompleted(ctx context.Context, o *entity.Order) error {
	if err := r.insert(ctx, o); err != nil {
		if uniqueViolation(err, constraintCompletedPaymentRef) {
			return entity.ErrDuplicatePaymentReference
		}
		return err
	}
	return nil
}

func (r *OrderRepository) ReplaceLeads(ctx context.Context, id string, leadsPurchased []string, snapshot []entity.Lead) error {
	data, err := json.Marshal(snapshotOrEmpty(snapshot))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE orders
		SET leads_purchased = $2, lead_data_snapshot = $3, lead_count = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'
	`, id, pq.Array(leadsPurchased), data, len(leadsPurchased))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return entity.ErrOrderNotCompleted
}

func (r *OrderRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *OrderRepository) ListCompletedMissingSuppression(ctx context.Context, limit int) ([]*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.status = 'completed'
		  AND o.lead_count > (SELECT COUNT(*) FROM suppression_records s WHERE s.order_id = o.id)
		ORDER BY o.suppression_checked_at NULLS FIRST, o.updated_at
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *OrderRepository) MarkSuppressionChecked(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE orders SET suppression_checked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) ListStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'processing' AND claimed_at < $1
		ORDER BY claimed_at
	`
	return r.list(ctx, query, claimedBefore)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]*entity.Order, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func snapshotOrEmpty(s []entity.Lead) []entity.Lead {
	if s == nil {
		return []entity.Lead{}
	}
	return s
}
