package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/xavierca1/lead-market/internal/entity"
)

// NewDBConnection opens the pool and pings it.
func NewDBConnection(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

const codeUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique violation, optionally on a
// specific constraint.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ entity.CustomerRepositoryInterface = (*CustomerRepository)(nil)
	_ entity.OrderRepository             = (*OrderRepository)(nil)
	_ entity.SuppressionRepository       = (*SuppressionRepository)(nil)
	_ entity.CartRepository              = (*CartRepository)(nil)
)
