package entity

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Tier buckets a lead's age at the time it was sold.
type Tier int

const (
	Tier1 Tier = iota + 1
	Tier2
	Tier3
	Tier4
	Tier5
)

// TierFromAge is the only place the age partition lives. The inventory sold
// column is derived from the same value, so callers must not re-bucket ages.
//
//	[1,3] tier1, [4,14] tier2, [15,30] tier3, [31,90] tier4, [91,inf) tier5
//
// An age of 0 (unknown or unparseable upload date) is tier1.
func TierFromAge(ageInDays int) Tier {
	switch {
	case ageInDays <= 3:
		return Tier1
	case ageInDays <= 14:
		return Tier2
	case ageInDays <= 30:
		return Tier3
	case ageInDays <= 90:
		return Tier4
	default:
		return Tier5
	}
}

func (t Tier) String() string {
	return fmt.Sprintf("tier%d", int(t))
}

// SoldColumn is the normalized inventory header that gets the sold marker for
// this tier.
func (t Tier) SoldColumn() string {
	return t.String() + "_sold"
}

func ParseTier(s string) (Tier, error) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "tier%d", &n); err != nil || n < 1 || n > 5 {
		return 0, fmt.Errorf("invalid tier %q", s)
	}
	return Tier(n), nil
}

// IsSoldColumn reports whether a normalized header is one of the tier sold
// columns.
func IsSoldColumn(column string) bool {
	for t := Tier1; t <= Tier5; t++ {
		if column == t.SoldColumn() {
			return true
		}
	}
	return false
}

// SuppressionRecord marks one lead as sold in one order.
type SuppressionRecord struct {
	ID       string    `json:"id"`
	LeadKey  string    `json:"lead_key"`
	Tier     Tier      `json:"tier"`
	OrderID  string    `json:"order_id"`
	SaleDate time.Time `json:"sale_date"`
}

type SuppressionRepository interface {
	// CreateIfAbsent inserts the record unless one already exists for the same
	// (lead key, order id). The stored record is returned either way.
	CreateIfAbsent(ctx context.Context, rec *SuppressionRecord) (*SuppressionRecord, bool, error)
	ExistsForLead(ctx context.Context, leadKey string) (bool, error)
	// SuppressedAmong returns the subset of leadKeys with at least one record.
	SuppressedAmong(ctx context.Context, leadKeys []string) (map[string]bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]*SuppressionRecord, error)
	// DeleteForOrder removes only the record of leadKey that belongs to orderID.
	DeleteForOrder(ctx context.Context, leadKey, orderID string) (bool, error)
}
