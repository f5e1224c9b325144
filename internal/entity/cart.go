package entity

import (
	"context"
	"time"
)

// CartItem is pre-order state owned by a signed-in user or an anonymous
// session.
type CartItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	LeadKey   string    `json:"lead_key"`
	AddedAt   time.Time `json:"added_at"`
}

// CartOwner identifies whose cart to touch. UserID wins when both are set.
type CartOwner struct {
	UserID    string
	SessionID string
}

func (o CartOwner) Empty() bool {
	return o.UserID == "" && o.SessionID == ""
}

type CartRepository interface {
	Add(ctx context.Context, item *CartItem) error
	ListByOwner(ctx context.Context, owner CartOwner) ([]*CartItem, error)
	// DeleteLeads removes the owner's items for the given lead keys and reports
	// how many rows went away.
	DeleteLeads(ctx context.Context, owner CartOwner, leadKeys []string) (int, error)
}
