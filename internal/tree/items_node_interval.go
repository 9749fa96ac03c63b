package tree

import (
	"sort"
	"time"

	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
)

// ItemsNodeInterval is the concrete tree node used for invoice items.
type ItemsNodeInterval = NodeInterval[*ItemsInterval]

func newItemsRoot() *ItemsNodeInterval {
	return &ItemsNodeInterval{Payload: newItemsInterval()}
}

func newItemsNodeInterval(item *Item) *ItemsNodeInterval {
	return NewNodeInterval(item.startDate, item.endDate, newItemsInterval(item))
}

// existingItemCallback is the insertion policy for the first phase, when the
// tree absorbs items already present on past invoices. Everything is kept;
// coinciding periods pile their items onto the same node.
type existingItemCallback struct{}

func (existingItemCallback) OnExistingNode(existing, incoming *ItemsNodeInterval) (bool, error) {
	for _, item := range incoming.Payload.Items() {
		existing.Payload.Add(item)
	}
	return false, nil
}

func (existingItemCallback) ShouldInsertNode(parent, incoming *ItemsNodeInterval) (bool, error) {
	return true, nil
}

// mergeItemCallback is the insertion policy for proposed items merged into a
// flattened tree. A proposed charge either reconfirms a pending reversal
// (fully or for a sub-period) and is consumed, or it does not relate to the
// existing state at all and is collected as-is in unmerged.
type mergeItemCallback struct {
	unmerged *[]*Item
}

func (c mergeItemCallback) OnExistingNode(existing, incoming *ItemsNodeInterval) (bool, error) {
	for _, proposed := range incoming.Payload.Items() {
		if !existing.Payload.RemoveSameKindCancel(proposed) {
			*c.unmerged = append(*c.unmerged, proposed)
		}
	}
	return false, nil
}

func (c mergeItemCallback) ShouldInsertNode(parent, incoming *ItemsNodeInterval) (bool, error) {
	if parent.IsRoot() {
		*c.unmerged = append(*c.unmerged, incoming.Payload.Items()...)
		return false, nil
	}
	// A proposed charge inside a period whose reversal is pending partially
	// reconfirms the existing item; keeping the node carves the reversal down
	// to the uncovered remainder during the build phase.
	for _, proposed := range incoming.Payload.Items() {
		if parent.Payload.hasSameKindCancel(proposed) {
			return true, nil
		}
	}
	*c.unmerged = append(*c.unmerged, incoming.Payload.Items()...)
	return false, nil
}

// buildCallback turns the built tree back into items. In merge mode the
// output is the invoice delta: leftover reversals and gap repairs. In
// existing mode the output is the flat net state of what has been billed.
type buildCallback struct {
	mergeMode bool
	output    *[]*Item
}

func (c buildCallback) OnMissingInterval(node *ItemsNodeInterval, start, end time.Time) error {
	item, err := createNewItem(node, start, end, c.mergeMode)
	if err != nil {
		return err
	}
	if item != nil {
		*c.output = append(*c.output, item)
	}
	return nil
}

func (c buildCallback) OnLastNode(node *ItemsNodeInterval) error {
	if c.mergeMode {
		if cancel := node.Payload.ResultingCancelItem(); cancel != nil {
			*c.output = append(*c.output, cancel)
		}
		return nil
	}
	add, err := node.Payload.ResultingAddItem()
	if err != nil {
		return err
	}
	if add == nil {
		return nil
	}
	if err := checkDoubleBilling(node, add); err != nil {
		return err
	}
	*c.output = append(*c.output, add)
	return nil
}

// createNewItem resolves what a gap in a node's coverage means. If the node
// nets out to a charge, the gap is a sub-period of that charge not overridden
// by anything narrower, so it surfaces prorated. If the node nets out to a
// reversal, the gap is the part of the reversal not reconfirmed by proposed
// charges, so it surfaces as a prorated repair and is recorded on the source
// item.
func createNewItem(node *ItemsNodeInterval, start, end time.Time, mergeMode bool) (*Item, error) {
	add, err := node.Payload.ResultingAddItem()
	if err != nil {
		return nil, err
	}
	if add != nil {
		if !mergeMode {
			if err := checkDoubleBilling(node, add); err != nil {
				return nil, err
			}
		}
		record, err := add.ToProratedInvoiceItem(start, end)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, nil
		}
		return NewItem(record, add.targetInvoiceID, types.ItemActionAdd), nil
	}
	if !mergeMode {
		// Nothing live here: whatever was billed for this stretch has been
		// repaired and nothing re-billed it.
		return nil, nil
	}

	cancel := node.Payload.ResultingCancelItem()
	if cancel == nil {
		return nil, nil
	}
	record, err := cancel.ToProratedInvoiceItem(start, end)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if err := cancel.IncrementCurrentRepairedAmount(record.Amount.Abs()); err != nil {
		return nil, err
	}
	return NewItem(record, cancel.targetInvoiceID, types.ItemActionCancel), nil
}

// checkDoubleBilling verifies that a charge surviving at this node is not
// stacked on top of another live charge in an enclosing period. Every
// ancestor's surviving charge must have been cancelled somewhere along the
// path down to this node.
func checkDoubleBilling(node *ItemsNodeInterval, add *Item) error {
	cancelled := make(map[string]struct{})
	for cur := node; cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		for _, item := range cur.Payload.Items() {
			if item.action == types.ItemActionCancel {
				cancelled[item.linkedID] = struct{}{}
			}
		}
	}
	for cur := node.Parent(); cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		ancestorAdd, err := cur.Payload.ResultingAddItem()
		if err != nil {
			return err
		}
		if ancestorAdd == nil {
			continue
		}
		if _, ok := cancelled[ancestorAdd.id]; !ok {
			return ierr.NewError("double billing detected").
				WithHintf("item %s overlaps live item %s billed for [%s, %s)",
					add.id, ancestorAdd.id,
					cur.Start.Format(time.DateOnly), cur.End.Format(time.DateOnly)).
				WithReportableDetails(map[string]any{
					"item_ids": []string{add.id, ancestorAdd.id},
				}).
				Mark(ierr.ErrInvalidOperation)
		}
	}
	return nil
}

// mergeAdjacentSplitItems glues back together contiguous halves of items
// that were split during insertion but ended up adjacent in the output, so
// one uninterrupted charge materializes as one row instead of several.
func mergeAdjacentSplitItems(items []*Item) []*Item {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].startDate.Before(items[b].startDate)
	})
	merged := make([]*Item, 0, len(items))
	for _, item := range items {
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			if last.canRejoinWith(item) {
				last.rejoin(item)
				continue
			}
		}
		merged = append(merged, item)
	}
	return merged
}
