package invoice

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerline/invoicing/internal/shared"
)

func (s *Service) visible(ctx context.Context, actor shared.Actor, inv *Invoice) (*Invoice, error) {
	if err := Authorize(actor, inv, ActionView); err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

// Get returns an invoice with its items.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.visible(ctx, actor, inv)
}

// GetByUUID returns an invoice by its public identifier.
func (s *Service) GetByUUID(ctx context.Context, actor shared.Actor, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.visible(ctx, actor, inv)
}

// GetByNumber looks an invoice number up within the actor's visibility.
// Numbers are unique per scope only, so several matches are a Conflict.
func (s *Service) GetByNumber(ctx context.Context, actor shared.Actor, number string) (*Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, shared.Invalid("invoiceNumber", "is required")
	}
	found, err := s.repo.FindByNumber(ctx, number, VisibilityOf(actor))
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: invoice %s", shared.ErrNotFound, number)
	case 1:
		return s.visible(ctx, actor, &found[0])
	default:
		return nil, fmt.Errorf("%w: invoice number %s matches %d invoices, use the id or uuid", shared.ErrConflict, number, len(found))
	}
}

// GetByRef resolves a numeric id, a uuid or an invoice number.
func (s *Service) GetByRef(ctx context.Context, actor shared.Actor, ref string) (*Invoice, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.Get(ctx, actor, id)
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.GetByUUID(ctx, actor, id)
	}
	return s.GetByNumber(ctx, actor, ref)
}

// GetPublic returns a sent B2B invoice to the holder of its confirm token.
func (s *Service) GetPublic(ctx context.Context, id uuid.UUID, token string) (*Invoice, error) {
	inv, err := s.repo.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := verifyConfirmToken(inv, token); err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func normalizeFilter(f ListFilter) (ListFilter, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return f, shared.Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Type != "" && f.Type != TypeEmployee && f.Type != TypeB2B {
		return f, shared.Invalid("type", fmt.Sprintf("unknown type %q", f.Type))
	}
	switch f.Direction {
	case "":
		f.Direction = DirectionBoth
	case DirectionSent, DirectionReceived, DirectionBoth:
	default:
		return f, shared.Invalid("direction", "must be sent, received or both")
	}
	if f.Currency != "" {
		cur, err := NormalizeCurrency(f.Currency)
		if err != nil {
			return f, err
		}
		f.Currency = cur
	}
	f.Search = strings.TrimSpace(f.Search)
	page := shared.NormalizePage(f.Page, f.Limit)
	f.Page, f.Limit = page.Page, page.Limit
	return f, nil
}

// List returns one page of the invoices visible to actor.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) (shared.Page[Invoice], error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return shared.Page[Invoice]{}, err
	}
	items, total, err := s.repo.List(ctx, VisibilityOf(actor), filter)
	if err != nil {
		return shared.Page[Invoice]{}, err
	}
	if items == nil {
		items = []Invoice{}
	}
	return shared.Page[Invoice]{Items: items, Pagination: shared.NewPagination(filter.Page, filter.Limit, total)}, nil
}

// Stats counts visible invoices per status and sums their totals. The
// per-currency breakdown is included when byCurrency is set.
func (s *Service) Stats(ctx context.Context, actor shared.Actor, filter ListFilter, byCurrency bool) (Stats, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return Stats{}, err
	}
	vis := VisibilityOf(actor)

	var (
		counts []StatusCount
		sums   []CurrencyTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.repo.CountByStatus(gctx, vis, filter)
		return err
	})
	g.Go(func() error {
		var err error
		sums, err = s.repo.SumByCurrency(gctx, vis, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	out := Stats{Counts: make(map[Status]int, len(Statuses)), TotalAmount: decimal.Zero}
	for _, st := range Statuses {
		out.Counts[st] = 0
	}
	for _, c := range counts {
		out.Counts[c.Status] += c.Count
		out.Total += c.Count
	}
	for _, c := range sums {
		out.TotalAmount = out.TotalAmount.Add(c.Total)
	}
	if byCurrency {
		out.ByCurrency = sums
	}
	return out, nil
}
