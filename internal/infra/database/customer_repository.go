package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xavierca1/lead-market/internal/entity"
)

type CustomerRepository struct {
	DB *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{DB: db}
}

func (r *CustomerRepository) Create(ctx context.Context, c *entity.Customer) error {
	query := `
		INSERT INTO customers (id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.DB.ExecContext(ctx, query, c.ID, c.Email, c.Name, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if uniqueViolation(err, "customers_email_key") {
			return entity.ErrEmailAlreadyExists
		}
		return err
	}
	return nil
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*entity.Customer, error) {
	query := `SELECT id, email, name, created_at, updated_at FROM customers WHERE email = $1`

	var c entity.Customer
	err := r.DB.QueryRowContext(ctx, query, entity.NormalizeEmail(email)).
		Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
