package entity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
)

// Customer is keyed by email and created on the first completed order.
type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NewCustomer(email, name string) (*Customer, error) {
	customer := &Customer{
		ID:        uuid.New().String(),
		Email:     NormalizeEmail(email),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := customer.Validate(); err != nil {
		return nil, err
	}

	return customer, nil
}

func (c *Customer) Validate() error {
	if c.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return errors.New("email is invalid")
	}
	return nil
}

type CustomerRepositoryInterface interface {
	Create(ctx context.Context, c *Customer) error
	FindByEmail(ctx context.Context, email string) (*Customer, error)
}
