package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xavierca1/lead-market/internal/entity"
)

// SuppressionLedger is the authority on whether a lead has been sold. The
// inventory sold markers are cosmetic and never consulted here.
type SuppressionLedger struct {
	Repo entity.SuppressionRepository
	Now  func() time.Time
}

func NewSuppressionLedger(repo entity.SuppressionRepository) *SuppressionLedger {
	return &SuppressionLedger{Repo: repo, Now: time.Now}
}

func (l *SuppressionLedger) IsSuppressed(ctx context.Context, key entity.LeadKey) (bool, error) {
	return l.Repo.ExistsForLead(ctx, key.String())
}

// SuppressedSet returns which of the given lead keys already have a sale.
func (l *SuppressionLedger) SuppressedSet(ctx context.Context, keys []string) (map[string]bool, error) {
	if len(keys) == 0 {
		return map[string]bool{}, nil
	}
	return l.Repo.SuppressedAmong(ctx, keys)
}

// RecordSale suppresses key under orderID. Calling it again for the same pair
// returns the original record instead of creating a second one.
func (l *SuppressionLedger) RecordSale(ctx context.Context, key entity.LeadKey, ageInDays int, orderID string) (*entity.SuppressionRecord, error) {
	if orderID == "" {
		return nil, fmt.Errorf("record sale of %s: empty order id", key)
	}
	rec := &entity.SuppressionRecord{
		ID:       uuid.New().String(),
		LeadKey:  key.String(),
		Tier:     entity.TierFromAge(ageInDays),
		OrderID:  orderID,
		SaleDate: l.Now().UTC(),
	}
	stored, _, err := l.Repo.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record sale of %s: %w", key, err)
	}
	return stored, nil
}

// Unsuppress removes the sale of key in orderID only. A sale of the same lead
// in any other order is left alone.
func (l *SuppressionLedger) Unsuppress(ctx context.Context, key entity.LeadKey, orderID string) (bool, error) {
	if orderID == "" {
		return false, fmt.Errorf("unsuppress %s: empty order id", key)
	}
	removed, err := l.Repo.DeleteForOrder(ctx, key.String(), orderID)
	if err != nil {
		return false, fmt.Errorf("unsuppress %s: %w", key, err)
	}
	return removed, nil
}
