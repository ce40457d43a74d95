package invoice

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledgerline/invoicing/internal/invoice/calc"
	"github.com/ledgerline/invoicing/internal/shared"
)

// itemMutation changes the items of a locked DRAFT invoice. The invoice
// totals are recomputed from the stored items afterwards.
type itemMutation func(ctx context.Context, inv *Invoice, items []Item) (map[string]any, error)

func (s *Service) mutateItems(ctx context.Context, actor shared.Actor, invoiceID int64, action string, mutate itemMutation) (*Invoice, error) {
	var out *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, inv, ActionEditItems); err != nil {
			return err
		}
		if !inv.Status.CanEdit() {
			return fmt.Errorf("%w: items of invoice %d cannot change in %s", shared.ErrInvalidState, inv.ID, inv.Status)
		}
		items, err := s.repo.ListItems(ctx, inv.ID)
		if err != nil {
			return err
		}
		meta, err := mutate(ctx, inv, items)
		if err != nil {
			return err
		}
		if err := s.recalculate(ctx, inv); err != nil {
			return err
		}
		out = inv
		return s.record(ctx, actor, inv, action, inv.Status, inv.Status, meta)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// recalculate reloads the items of inv and writes the aggregate back.
func (s *Service) recalculate(ctx context.Context, inv *Invoice) error {
	items, err := s.repo.ListItems(ctx, inv.ID)
	if err != nil {
		return err
	}
	amounts := make([]calc.ItemAmounts, 0, len(items))
	for i, it := range items {
		a, err := calc.CalculateItem(calc.ItemInput{Quantity: it.Quantity, UnitPrice: it.UnitPrice, Discount: it.Discount, TaxRate: it.TaxRate})
		if err != nil {
			return prefixItemError(err, i)
		}
		amounts = append(amounts, a)
	}
	totals, err := calc.Aggregate(amounts, inv.Discount, inv.TaxRate)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateTotals(ctx, inv.ID, totals); err != nil {
		return err
	}
	applyTotals(inv, totals)
	inv.Items = items
	return nil
}

// ListItems returns the items of an invoice visible to actor ordered by
// sort order.
func (s *Service) ListItems(ctx context.Context, actor shared.Actor, invoiceID int64) ([]Item, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, inv, ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, inv.ID)
}

// AddItem appends an item after the current last one unless a sort order
// is given.
func (s *Service) AddItem(ctx context.Context, actor shared.Actor, invoiceID int64, in ItemInput) (*Invoice, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}
	return s.mutateItems(ctx, actor, invoiceID, "invoice.item.add", func(ctx context.Context, inv *Invoice, items []Item) (map[string]any, error) {
		item, _, err := buildItem(in, nextSortOrder(items))
		if err != nil {
			return nil, err
		}
		item.InvoiceID = inv.ID
		id, err := s.repo.InsertItem(ctx, item)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item_id": id}, nil
	})
}

func nextSortOrder(items []Item) int {
	if len(items) == 0 {
		return 0
	}
	top := items[0].SortOrder
	for _, it := range items[1:] {
		top = max(top, it.SortOrder)
	}
	return top + 1
}

// UpdateItem applies a partial update to one item.
func (s *Service) UpdateItem(ctx context.Context, actor shared.Actor, invoiceID, itemID int64, patch ItemPatch) (*Invoice, error) {
	if err := shared.ValidateStruct(patch); err != nil {
		return nil, err
	}
	return s.mutateItems(ctx, actor, invoiceID, "invoice.item.update", func(ctx context.Context, inv *Invoice, items []Item) (map[string]any, error) {
		current, ok := findItem(items, itemID)
		if !ok {
			return nil, fmt.Errorf("%w: item %d on invoice %d", shared.ErrNotFound, itemID, inv.ID)
		}
		in := ItemInput{
			Description: current.Description,
			Unit:        current.Unit,
			Quantity:    current.Quantity,
			UnitPrice:   current.UnitPrice,
			Discount:    current.Discount,
			TaxRate:     current.TaxRate,
		}
		if patch.Description != nil {
			in.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Unit != nil {
			in.Unit = *patch.Unit
		}
		if patch.Quantity != nil {
			in.Quantity = *patch.Quantity
		}
		if patch.UnitPrice != nil {
			in.UnitPrice = *patch.UnitPrice
		}
		if patch.Discount != nil {
			in.Discount = *patch.Discount
		}
		if patch.TaxRate != nil {
			in.TaxRate = *patch.TaxRate
		}
		order := current.SortOrder
		if patch.SortOrder != nil {
			order = *patch.SortOrder
		}
		updated, _, err := buildItem(in, order)
		if err != nil {
			return nil, err
		}
		updated.ID = current.ID
		updated.InvoiceID = inv.ID
		updated.CreatedAt = current.CreatedAt
		if err := s.repo.UpdateItem(ctx, updated); err != nil {
			return nil, err
		}
		return map[string]any{"item_id": itemID}, nil
	})
}

// DeleteItem removes one item.
func (s *Service) DeleteItem(ctx context.Context, actor shared.Actor, invoiceID, itemID int64) (*Invoice, error) {
	return s.mutateItems(ctx, actor, invoiceID, "invoice.item.delete", func(ctx context.Context, inv *Invoice, items []Item) (map[string]any, error) {
		if _, ok := findItem(items, itemID); !ok {
			return nil, fmt.Errorf("%w: item %d on invoice %d", shared.ErrNotFound, itemID, inv.ID)
		}
		if err := s.repo.DeleteItem(ctx, inv.ID, itemID); err != nil {
			return nil, err
		}
		return map[string]any{"item_id": itemID}, nil
	})
}

// ReorderItems stores the given sort orders as supplied. Every item must
// belong to the invoice.
func (s *Service) ReorderItems(ctx context.Context, actor shared.Actor, invoiceID int64, req ReorderItemsRequest) (*Invoice, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(req.Items))
	for i, o := range req.Items {
		if _, dup := seen[o.ItemID]; dup {
			return nil, shared.Invalid(fmt.Sprintf("items[%d].itemId", i), "duplicate item")
		}
		seen[o.ItemID] = struct{}{}
	}
	return s.mutateItems(ctx, actor, invoiceID, "invoice.item.reorder", func(ctx context.Context, inv *Invoice, items []Item) (map[string]any, error) {
		for i, o := range req.Items {
			if _, ok := findItem(items, o.ItemID); !ok {
				return nil, shared.Invalid(fmt.Sprintf("items[%d].itemId", i), fmt.Sprintf("item %d does not belong to invoice %d", o.ItemID, inv.ID))
			}
		}
		if err := s.repo.UpdateItemOrders(ctx, inv.ID, req.Items); err != nil {
			return nil, err
		}
		return map[string]any{"items": len(req.Items)}, nil
	})
}

// ReplaceItems deletes every item and inserts inputs in list order.
func (s *Service) ReplaceItems(ctx context.Context, actor shared.Actor, invoiceID int64, req ReplaceItemsRequest) (*Invoice, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	return s.mutateItems(ctx, actor, invoiceID, "invoice.item.replace", func(ctx context.Context, inv *Invoice, _ []Item) (map[string]any, error) {
		if inv.Type() == TypeB2B && len(req.Items) == 0 {
			return nil, shared.Invalid("items", "at least one item is required")
		}
		built := make([]Item, 0, len(req.Items))
		for i, in := range req.Items {
			item, _, err := buildItem(in, i)
			if err != nil {
				return nil, prefixItemError(err, i)
			}
			item.InvoiceID = inv.ID
			built = append(built, item)
		}
		if err := s.repo.DeleteItems(ctx, inv.ID); err != nil {
			return nil, err
		}
		for i, item := range built {
			if _, err := s.repo.InsertItem(ctx, item); err != nil {
				return nil, fmt.Errorf("insert item %d: %w", i, err)
			}
		}
		return map[string]any{"items": len(built)}, nil
	})
}

func findItem(items []Item, id int64) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}
