// Package memstore keeps every repository in process memory. It backs local
// runs without Postgres and the use case tests; the same invariants hold as in
// the SQL store (CAS claim, unique payment reference, unique suppression pair).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xavierca1/lead-market/internal/entity"
)

type Store struct {
	mu           sync.Mutex
	orders       map[string]*entity.Order
	customers    map[string]*entity.Customer
	suppressions map[string][]*entity.SuppressionRecord
	carts        []*entity.CartItem
	// checked holds the last reconciliation attempt per order.
	checked map[string]time.Time
}

func New() *Store {
	return &Store{
		orders:       map[string]*entity.Order{},
		customers:    map[string]*entity.Customer{},
		suppressions: map[string][]*entity.SuppressionRecord{},
		checked:      map[string]time.Time{},
	}
}

func (s *Store) Orders() *OrderRepository             { return &OrderRepository{s} }
func (s *Store) Customers() *CustomerRepository       { return &CustomerRepository{s} }
func (s *Store) Suppressions() *SuppressionRepository { return &SuppressionRepository{s} }
func (s *Store) Carts() *CartRepository               { return &CartRepository{s} }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func cloneOrder(o *entity.Order) *entity.Order {
	c := *o
	c.LeadsPurchased = append([]string(nil), o.LeadsPurchased...)
	c.LeadDataSnapshot = make([]entity.Lead, len(o.LeadDataSnapshot))
	for i, l := range o.LeadDataSnapshot {
		c.LeadDataSnapshot[i] = l
		if l.Extra != nil {
			c.LeadDataSnapshot[i].Extra = make(map[string]string, len(l.Extra))
			for k, v := range l.Extra {
				c.LeadDataSnapshot[i].Extra[k] = v
			}
		}
	}
	if o.ClaimedAt != nil {
		t := *o.ClaimedAt
		c.ClaimedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type OrderRepository struct{ s *Store }

func (r *OrderRepository) CreatePending(ctx context.Context, o *entity.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := cloneOrder(o)
	c.Status = entity.OrderPending
	r.s.orders[o.ID] = c
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) FindCompletedByPaymentReference(ctx context.Context, ref string) (*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.Status == entity.OrderCompleted && o.PaymentReference == ref {
			return cloneOrder(o), nil
		}
	}
	return nil, entity.ErrOrderNotFound
}

func (r *OrderRepository) ClaimPending(ctx context.Context, id string, at time.Time) (*entity.Order, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, false, entity.ErrOrderNotFound
	}
	if o.Status != entity.OrderPending {
		return cloneOrder(o), false, nil
	}
	o.Status = entity.OrderProcessing
	o.ClaimedAt = &at
	o.UpdatedAt = at
	return cloneOrder(o), true, nil
}

func (r *OrderRepository) ReclaimProcessing(ctx context.Context, id string, at time.Time) (*entity.Order, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, false, entity.ErrOrderNotFound
	}
	if o.Status != entity.OrderProcessing {
		return cloneOrder(o), false, nil
	}
	o.ClaimedAt = &at
	o.UpdatedAt = at
	return cloneOrder(o), true, nil
}

func (r *OrderRepository) CreateCompleted(ctx context.Context, o *entity.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.orders {
		if existing.Status == entity.OrderCompleted && existing.PaymentReference == o.PaymentReference {
			return entity.ErrDuplicatePaymentReference
		}
	}
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepository) ReplaceLeads(ctx context.Context, id string, leadsPurchased []string, snapshot []entity.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return entity.ErrOrderNotFound
	}
	if o.Status != entity.OrderCompleted {
		return entity.ErrOrderNotCompleted
	}
	next := cloneOrder(&entity.Order{LeadsPurchased: leadsPurchased, LeadDataSnapshot: snapshot})
	o.LeadsPurchased = next.LeadsPurchased
	o.LeadDataSnapshot = next.LeadDataSnapshot
	o.LeadCount = len(leadsPurchased)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[id]; !ok {
		return false, nil
	}
	delete(r.s.orders, id)
	delete(r.s.checked, id)
	return true, nil
}

func (r *OrderRepository) ListCompletedMissingSuppression(ctx context.Context, limit int) ([]*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Order
	for _, o := range r.s.orders {
		if o.Status != entity.OrderCompleted {
			continue
		}
		n := 0
		for _, recs := range r.s.suppressions {
			for _, rec := range recs {
				if rec.OrderID == o.ID {
					n++
				}
			}
		}
		if n < o.LeadCount {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, iChecked := r.s.checked[out[i].ID]
		cj, jChecked := r.s.checked[out[j].ID]
		if iChecked != jChecked {
			return !iChecked
		}
		if iChecked && !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) MarkSuppressionChecked(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[id]; !ok {
		return entity.ErrOrderNotFound
	}
	r.s.checked[id] = at
	return nil
}

func (r *OrderRepository) ListStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Order
	for _, o := range r.s.orders {
		if o.Status == entity.OrderProcessing && o.ClaimedAt != nil && o.ClaimedAt.Before(claimedBefore) {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

type CustomerRepository struct{ s *Store }

func (r *CustomerRepository) Create(ctx context.Context, c *entity.Customer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.customers[c.Email]; ok {
		return entity.ErrEmailAlreadyExists
	}
	cp := *c
	r.s.customers[c.Email] = &cp
	return nil
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*entity.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[entity.NormalizeEmail(email)]
	if !ok {
		return nil, entity.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

type SuppressionRepository struct{ s *Store }

func (r *SuppressionRepository) CreateIfAbsent(ctx context.Context, rec *entity.SuppressionRecord) (*entity.SuppressionRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.suppressions[rec.LeadKey] {
		if existing.OrderID == rec.OrderID {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *rec
	r.s.suppressions[rec.LeadKey] = append(r.s.suppressions[rec.LeadKey], &cp)
	out := cp
	return &out, true, nil
}

func (r *SuppressionRepository) ExistsForLead(ctx context.Context, leadKey string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.suppressions[leadKey]) > 0, nil
}

func (r *SuppressionRepository) SuppressedAmong(ctx context.Context, keys []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if len(r.s.suppressions[k]) > 0 {
			out[k] = true
		}
	}
	return out, nil
}

func (r *SuppressionRepository) ListByOrder(ctx context.Context, orderID string) ([]*entity.SuppressionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.SuppressionRecord
	for _, recs := range r.s.suppressions {
		for _, rec := range recs {
			if rec.OrderID == orderID {
				cp := *rec
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeadKey < out[j].LeadKey })
	return out, nil
}

func (r *SuppressionRepository) DeleteForOrder(ctx context.Context, leadKey, orderID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	recs := r.s.suppressions[leadKey]
	for i, rec := range recs {
		if rec.OrderID == orderID {
			r.s.suppressions[leadKey] = append(recs[:i:i], recs[i+1:]...)
			if len(r.s.suppressions[leadKey]) == 0 {
				delete(r.s.suppressions, leadKey)
			}
			return true, nil
		}
	}
	return false, nil
}

type CartRepository struct{ s *Store }

func (r *CartRepository) Add(ctx context.Context, item *entity.CartItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *item
	r.s.carts = append(r.s.carts, &cp)
	return nil
}

func (r *CartRepository) ListByOwner(ctx context.Context, owner entity.CartOwner) ([]*entity.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.CartItem
	for _, it := range r.s.carts {
		if owns(owner, it) {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *CartRepository) DeleteLeads(ctx context.Context, owner entity.CartOwner, leadKeys []string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[string]struct{}, len(leadKeys))
	for _, k := range leadKeys {
		want[k] = struct{}{}
	}
	kept := r.s.carts[:0]
	removed := 0
	for _, it := range r.s.carts {
		if _, hit := want[it.LeadKey]; hit && owns(owner, it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	r.s.carts = kept
	return removed, nil
}

// owns matches by user when the owner has one, else by session.
func owns(owner entity.CartOwner, it *entity.CartItem) bool {
	if owner.UserID != "" {
		return it.UserID == owner.UserID
	}
	return owner.SessionID != "" && it.SessionID == owner.SessionID
}

var (
	_ entity.OrderRepository             = (*OrderRepository)(nil)
	_ entity.CustomerRepositoryInterface = (*CustomerRepository)(nil)
	_ entity.SuppressionRepository       = (*SuppressionRepository)(nil)
	_ entity.CartRepository              = (*CartRepository)(nil)
)
