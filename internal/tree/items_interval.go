package tree

import (
	"time"

	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
	"github.com/samber/lo"
)

// ItemsInterval is the payload of one tree node: the set of ADD and CANCEL
// items whose period is exactly the node's interval.
type ItemsInterval struct {
	items []*Item
}

func newItemsInterval(items ...*Item) *ItemsInterval {
	return &ItemsInterval{items: items}
}

func (ii *ItemsInterval) Add(item *Item) {
	ii.items = append(ii.items, item)
}

func (ii *ItemsInterval) Items() []*Item {
	return ii.items
}

func (ii *ItemsInterval) IsEmpty() bool {
	return len(ii.items) == 0
}

// Split cuts every item in the interval at the given date and distributes
// the halves to two new payloads.
func (ii *ItemsInterval) Split(at time.Time) (*ItemsInterval, *ItemsInterval, error) {
	left := newItemsInterval()
	right := newItemsInterval()
	for _, item := range ii.items {
		l, r, err := item.Split(at)
		if err != nil {
			return nil, nil, err
		}
		left.Add(l)
		right.Add(r)
	}
	return left, right, nil
}

func (ii *ItemsInterval) ContainsItemID(id string) bool {
	return lo.ContainsBy(ii.items, func(item *Item) bool {
		return item.id == id
	})
}

func (ii *ItemsInterval) FindItem(id string) *Item {
	item, _ := lo.Find(ii.items, func(item *Item) bool {
		return item.id == id
	})
	return item
}

// ResultingAddItem resolves the node's items to the single ADD item that
// survives cancellation, or nil when every ADD is cancelled. Each CANCEL
// neutralizes the ADD it links to; more than one surviving ADD on the same
// period means the account was billed twice for it.
func (ii *ItemsInterval) ResultingAddItem() (*Item, error) {
	cancelled := make(map[string]struct{})
	for _, item := range ii.items {
		if item.action == types.ItemActionCancel {
			cancelled[item.linkedID] = struct{}{}
		}
	}

	var survivor *Item
	for _, item := range ii.items {
		if item.action != types.ItemActionAdd {
			continue
		}
		if _, ok := cancelled[item.id]; ok {
			continue
		}
		if survivor != nil {
			return nil, ierr.NewError("double billing detected").
				WithHintf("items %s and %s both bill period [%s, %s)",
					survivor.id, item.id,
					item.startDate.Format(time.DateOnly), item.endDate.Format(time.DateOnly)).
				WithReportableDetails(map[string]any{
					"item_ids": []string{survivor.id, item.id},
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		survivor = item
	}
	return survivor, nil
}

// ResultingCancelItem returns the first CANCEL item whose target ADD is not
// present in this node, meaning the reversal applies to an item elsewhere in
// the tree and must surface as a repair.
func (ii *ItemsInterval) ResultingCancelItem() *Item {
	for _, item := range ii.items {
		if item.action != types.ItemActionCancel {
			continue
		}
		if !ii.ContainsItemID(item.linkedID) {
			return item
		}
	}
	return nil
}

// RemoveSameKindCancel drops the first CANCEL item equivalent to the
// proposed charge and reports whether one was found. Used during merge: a
// proposed item matching a pending full-period reversal reconfirms the
// existing charge, and both disappear.
func (ii *ItemsInterval) RemoveSameKindCancel(proposed *Item) bool {
	for idx, item := range ii.items {
		if item.action == types.ItemActionCancel && item.IsSameKind(proposed) {
			ii.items = append(ii.items[:idx], ii.items[idx+1:]...)
			return true
		}
	}
	return false
}

func (ii *ItemsInterval) hasSameKindCancel(proposed *Item) bool {
	return lo.ContainsBy(ii.items, func(item *Item) bool {
		return item.action == types.ItemActionCancel && item.IsSameKind(proposed)
	})
}
