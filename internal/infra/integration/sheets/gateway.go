package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xavierca1/lead-market/internal/entity"
	"golang.org/x/sync/errgroup"
)

var (
	ErrTabNotFound    = errors.New("no inventory tab for lead type")
	ErrColumnNotFound = errors.New("column not found in header")
)

// SoldMarker is written into a tier's sold column.
const SoldMarker = "SOLD"

// lastColumn bounds every row read; the inventory never gets this wide.
const lastColumn = "ZZ"

const maxConcurrentTabs = 4

// Gateway translates lead keys into store reads and writes.
type Gateway struct {
	client *Client
	log    *slog.Logger
	now    func() time.Time
}

func NewGateway(client *Client, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{client: client, log: log, now: time.Now}
}

// ResolveTab maps a lead type to the tab holding it. Tab names are read on
// every call because operators rename tabs.
func (g *Gateway) ResolveTab(ctx context.Context, t entity.LeadType) (string, error) {
	tabs, err := g.client.ListTabs(ctx)
	if err != nil {
		return "", fmt.Errorf("list tabs: %w", err)
	}

	for _, tab := range tabs {
		if NormalizeHeader(tab.Title) == string(t) {
			return tab.Title, nil
		}
	}
	for _, tab := range tabs {
		if classifyTab(tab.Title) == t {
			return tab.Title, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTabNotFound, t)
}

// classifyTab returns the first lead type, in parse order, that prefixes the
// normalized title.
func classifyTab(title string) entity.LeadType {
	norm := NormalizeHeader(title)
	for _, t := range entity.LeadTypes() {
		s := string(t)
		if norm == s || (len(norm) > len(s) && norm[:len(s)] == s && norm[len(s)] == '_') {
			return t
		}
	}
	return ""
}

func (g *Gateway) FetchHeader(ctx context.Context, tab string) ([]string, error) {
	vr, err := g.client.GetRange(ctx, fmt.Sprintf("%s!A1:%s1", quoteTab(tab), lastColumn))
	if err != nil {
		return nil, fmt.Errorf("fetch header of %s: %w", tab, err)
	}
	rows := vr.Rows()
	if len(rows) == 0 {
		return nil, fmt.Errorf("tab %s has no header row", tab)
	}
	return NormalizeHeaders(rows[0]), nil
}

// FetchRows reads the given offsets in one batch. Offsets whose row is missing
// or blank are left out of the result.
func (g *Gateway) FetchRows(ctx context.Context, tab string, offsets []uint32) (map[uint32][]string, error) {
	uniq := dedupeOffsets(offsets)
	if len(uniq) == 0 {
		return map[uint32][]string{}, nil
	}

	ranges := make([]string, len(uniq))
	for i, off := range uniq {
		row := entity.LeadKey{Offset: off}.SheetRow()
		ranges[i] = fmt.Sprintf("%s!A%d:%s%d", quoteTab(tab), row, lastColumn, row)
	}

	vrs, err := g.client.BatchGet(ctx, ranges)
	if err != nil {
		return nil, fmt.Errorf("batch get %s: %w", tab, err)
	}

	out := make(map[uint32][]string, len(uniq))
	for i, vr := range vrs {
		rows := vr.Rows()
		if len(rows) == 0 || rowIsEmpty(rows[0]) {
			continue
		}
		out[uniq[i]] = rows[0]
	}
	return out, nil
}

// WriteCell writes value into the named column of the lead's row.
func (g *Gateway) WriteCell(ctx context.Context, tab string, offset uint32, column, value string) error {
	header, err := g.FetchHeader(ctx, tab)
	if err != nil {
		return err
	}
	col := NormalizeHeader(column)
	idx := -1
	for i, h := range header {
		if h == col {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s in %s", ErrColumnNotFound, col, tab)
	}

	row := entity.LeadKey{Offset: offset}.SheetRow()
	rng := fmt.Sprintf("%s!%s%d", quoteTab(tab), ColumnLetter(idx), row)
	if err := g.client.UpdateCell(ctx, rng, value); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// FetchLeads reads every key it can. Tabs are read concurrently; a failing
// tab only loses its own leads. The error is set only when every tab failed.
func (g *Gateway) FetchLeads(ctx context.Context, keys []entity.LeadKey) (map[string]entity.Lead, error) {
	byType := map[entity.LeadType][]uint32{}
	for _, k := range keys {
		byType[k.Type] = append(byType[k.Type], k.Offset)
	}

	var (
		mu     sync.Mutex
		out    = make(map[string]entity.Lead, len(keys))
		errs   []error
		failed int
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentTabs)
	for t, offsets := range byType {
		eg.Go(func() error {
			leads, err := g.fetchType(ctx, t, offsets)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
				g.log.Warn("inventory.fetch_failed", "lead_type", t, "err", err)
				return nil
			}
			for k, l := range leads {
				out[k] = l
			}
			return nil
		})
	}
	_ = eg.Wait()

	if len(byType) > 0 && failed == len(byType) {
		return out, errors.Join(errs...)
	}
	return out, nil
}

func (g *Gateway) fetchType(ctx context.Context, t entity.LeadType, offsets []uint32) (map[string]entity.Lead, error) {
	tab, err := g.ResolveTab(ctx, t)
	if err != nil {
		return nil, err
	}
	header, err := g.FetchHeader(ctx, tab)
	if err != nil {
		return nil, err
	}
	rows, err := g.FetchRows(ctx, tab, offsets)
	if err != nil {
		return nil, err
	}

	now := g.now()
	out := make(map[string]entity.Lead, len(rows))
	for off, row := range rows {
		key := entity.LeadKey{Type: t, Offset: off}
		out[key.String()] = LeadFromRow(key, header, row, now)
	}
	return out, nil
}

func (g *Gateway) MarkSold(ctx context.Context, key entity.LeadKey, tier entity.Tier) error {
	tab, err := g.ResolveTab(ctx, key.Type)
	if err != nil {
		return err
	}
	return g.WriteCell(ctx, tab, key.Offset, tier.SoldColumn(), SoldMarker)
}

// ListAvailable returns every addressable row of the type's tab as a lead.
// Whether a lead is still for sale is the ledger's call, not the sheet's.
func (g *Gateway) ListAvailable(ctx context.Context, t entity.LeadType) ([]entity.Lead, error) {
	tab, err := g.ResolveTab(ctx, t)
	if err != nil {
		return nil, err
	}
	header, err := g.FetchHeader(ctx, tab)
	if err != nil {
		return nil, err
	}
	first := entity.LeadKey{Offset: 1}.SheetRow()
	vr, err := g.client.GetRange(ctx, fmt.Sprintf("%s!A%d:%s", quoteTab(tab), first, lastColumn))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}

	now := g.now()
	var out []entity.Lead
	for i, row := range vr.Rows() {
		if rowIsEmpty(row) {
			continue
		}
		off, _ := entity.OffsetFromSheetRow(first + i)
		key := entity.LeadKey{Type: t, Offset: off}
		out = append(out, LeadFromRow(key, header, row, now))
	}
	return out, nil
}

func dedupeOffsets(in []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(in))
	out := make([]uint32, 0, len(in))
	for _, o := range in {
		if o == 0 {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
