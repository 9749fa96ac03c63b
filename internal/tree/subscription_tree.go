package tree

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
)

// SubscriptionItemTree reconciles the billed history of one subscription
// against a freshly proposed set of charges. It runs through a strict
// lifecycle: existing items are ingested and built into the net billed
// state, that state is flattened into pending reversals, proposed items are
// merged against the reversals, and a final build yields the delta to put on
// the target invoice.
type SubscriptionItemTree struct {
	subscriptionID  string
	targetInvoiceID string
	state           types.TreeState
	root            *ItemsNodeInterval
	items           []*Item

	ignoredItemIDs     map[string]struct{}
	pendingAdjustments []*invoiceitem.InvoiceItem
}

func NewSubscriptionItemTree(subscriptionID, targetInvoiceID string) *SubscriptionItemTree {
	return &SubscriptionItemTree{
		subscriptionID:  subscriptionID,
		targetInvoiceID: targetInvoiceID,
		state:           types.TreeStateEmpty,
		root:            newItemsRoot(),
		ignoredItemIDs:  make(map[string]struct{}),
	}
}

func (t *SubscriptionItemTree) SubscriptionID() string {
	return t.subscriptionID
}

func (t *SubscriptionItemTree) State() types.TreeState {
	return t.state
}

func (t *SubscriptionItemTree) requireState(op string, allowed ...types.TreeState) error {
	for _, s := range allowed {
		if t.state == s {
			return nil
		}
	}
	return ierr.NewError("invalid tree operation").
		WithHintf("%s not allowed in state %s", op, t.state).
		WithReportableDetails(map[string]any{
			"subscription_id": t.subscriptionID,
			"state":           t.state,
		}).
		Mark(ierr.ErrInvalidOperation)
}

// AddExistingItem ingests one item from a past invoice. Recurring charges
// and repairs shape the tree; item adjustments are queued and applied at
// build time; everything else has no period semantics here and is ignored.
// Zero amount charges are remembered so adjustments pointing at them can be
// skipped silently.
func (t *SubscriptionItemTree) AddExistingItem(src *invoiceitem.InvoiceItem) error {
	if err := t.requireState("AddExistingItem", types.TreeStateEmpty, types.TreeStateIngesting); err != nil {
		return err
	}
	if err := src.Validate(); err != nil {
		return err
	}
	t.state = types.TreeStateIngesting

	switch src.Type {
	case types.InvoiceItemTypeRecurring:
		if src.Amount.IsZero() {
			t.ignoredItemIDs[src.ID] = struct{}{}
			return nil
		}
		return t.root.AddNode(newItemsNodeInterval(NewItem(src, t.targetInvoiceID, types.ItemActionAdd)), existingItemCallback{})
	case types.InvoiceItemTypeRepairAdj:
		return t.root.AddNode(newItemsNodeInterval(NewItem(src, t.targetInvoiceID, types.ItemActionCancel)), existingItemCallback{})
	case types.InvoiceItemTypeItemAdj:
		t.pendingAdjustments = append(t.pendingAdjustments, src)
		return nil
	case types.InvoiceItemTypeFixed:
		t.ignoredItemIDs[src.ID] = struct{}{}
		return nil
	default:
		return nil
	}
}

// Build resolves the ingested items into the flat net billed state. Pending
// adjustments are applied to their target items first; an adjustment whose
// target is unknown or was ignored is dropped without error, since the
// amount it removed is simply not in this tree.
func (t *SubscriptionItemTree) Build() error {
	if err := t.requireState("Build", types.TreeStateEmpty, types.TreeStateIngesting); err != nil {
		return err
	}

	for _, adj := range t.pendingAdjustments {
		if _, ignored := t.ignoredItemIDs[adj.LinkedItemID]; ignored {
			continue
		}
		target := t.root.FindNode(func(n *ItemsNodeInterval) bool {
			return n.Payload.ContainsItemID(adj.LinkedItemID)
		})
		if target == nil {
			continue
		}
		item := target.Payload.FindItem(adj.LinkedItemID)
		if err := item.IncrementAdjustedAmount(adj.Amount.Abs()); err != nil {
			return err
		}
	}
	t.pendingAdjustments = nil

	var flat []*Item
	if err := t.root.Build(buildCallback{mergeMode: false, output: &flat}); err != nil {
		return err
	}
	t.items = flat
	t.state = types.TreeStateBuilt
	return nil
}

// Flatten replaces the tree with a single level built from the net state.
// With reverse set, every surviving charge is re-inserted as a pending
// reversal of itself, priming the tree for the merge pass: any part of a
// charge not reconfirmed by a proposed item will come out as a repair.
func (t *SubscriptionItemTree) Flatten(reverse bool) error {
	if err := t.requireState("Flatten", types.TreeStateBuilt); err != nil {
		return err
	}

	root := newItemsRoot()
	for _, item := range t.items {
		if item.action != types.ItemActionAdd {
			return ierr.NewError("unexpected reversal in built state").
				WithHintf("item %s is a reversal after build", item.id).
				WithReportableDetails(map[string]any{"subscription_id": t.subscriptionID}).
				Mark(ierr.ErrInvalidOperation)
		}
		insert := item
		if reverse {
			insert = item.Mirror()
		}
		if err := root.AddNode(newItemsNodeInterval(insert), existingItemCallback{}); err != nil {
			return err
		}
	}
	t.root = root
	t.items = nil
	t.state = types.TreeStateFlattened
	return nil
}

// MergeProposedItem merges one freshly computed charge against the
// flattened state. Fixed charges never interact with periods and pass
// straight through. A zero amount recurring charge bills nothing and needs
// no reconciliation; skipping it still lets the pending reversal of any
// previous charge for that period surface as a repair.
func (t *SubscriptionItemTree) MergeProposedItem(src *invoiceitem.InvoiceItem) error {
	if err := t.requireState("MergeProposedItem", types.TreeStateFlattened, types.TreeStateMerging); err != nil {
		return err
	}
	if err := src.Validate(); err != nil {
		return err
	}
	t.state = types.TreeStateMerging

	switch src.Type {
	case types.InvoiceItemTypeRecurring:
		if src.Amount.IsZero() {
			return nil
		}
		var unmerged []*Item
		proposed := newItemsNodeInterval(NewItem(src, t.targetInvoiceID, types.ItemActionAdd))
		if err := t.root.AddNode(proposed, mergeItemCallback{unmerged: &unmerged}); err != nil {
			return err
		}
		t.items = append(t.items, unmerged...)
		return nil
	case types.InvoiceItemTypeFixed:
		t.items = append(t.items, NewItem(src, t.targetInvoiceID, types.ItemActionAdd))
		return nil
	default:
		return ierr.NewError("unsupported proposed item type").
			WithHintf("proposed items must be RECURRING or FIXED, got %s", src.Type).
			WithReportableDetails(map[string]any{"item_id": src.ID}).
			Mark(ierr.ErrValidation)
	}
}

// BuildForMerge resolves the merged tree into the invoice delta.
func (t *SubscriptionItemTree) BuildForMerge() error {
	if err := t.requireState("BuildForMerge", types.TreeStateFlattened, types.TreeStateMerging); err != nil {
		return err
	}
	if err := t.root.Build(buildCallback{mergeMode: true, output: &t.items}); err != nil {
		return err
	}
	t.state = types.TreeStateMerged
	return nil
}

// View materializes the delta as invoice item records ordered charges
// first, then fixed charges, then repairs, each class sorted by start date.
// Overlapping periods within a class indicate a broken delta and fail.
func (t *SubscriptionItemTree) View() ([]*invoiceitem.InvoiceItem, error) {
	if err := t.requireState("View", types.TreeStateMerged); err != nil {
		return nil, err
	}

	items := mergeAdjacentSplitItems(t.items)

	var recurring, fixed, repairs []*invoiceitem.InvoiceItem
	for _, item := range items {
		record, err := item.ToProratedInvoiceItem(item.startDate, item.endDate)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		switch record.Type {
		case types.InvoiceItemTypeFixed:
			fixed = append(fixed, record)
		case types.InvoiceItemTypeRepairAdj:
			repairs = append(repairs, record)
		default:
			recurring = append(recurring, record)
		}
	}

	sortByStart(recurring)
	sortByStart(repairs)
	if err := t.validateNoOverlap(recurring); err != nil {
		return nil, err
	}
	if err := t.validateNoOverlap(repairs); err != nil {
		return nil, err
	}

	result := make([]*invoiceitem.InvoiceItem, 0, len(recurring)+len(fixed)+len(repairs))
	result = append(result, recurring...)
	result = append(result, fixed...)
	result = append(result, repairs...)
	return result, nil
}

func sortByStart(items []*invoiceitem.InvoiceItem) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].StartDate.Before(items[b].StartDate)
	})
}

func (t *SubscriptionItemTree) validateNoOverlap(items []*invoiceitem.InvoiceItem) error {
	for idx := 1; idx < len(items); idx++ {
		if items[idx].StartDate.Before(items[idx-1].EndDate) {
			return ierr.NewError("overlapping items in reconciliation result").
				WithHintf("items %s and %s overlap", items[idx-1].ID, items[idx].ID).
				WithReportableDetails(map[string]any{
					"subscription_id": t.subscriptionID,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
	}
	return nil
}

// String renders the tree for debugging, one node per line indented by
// depth.
func (t *SubscriptionItemTree) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "subscription %s (%s)\n", t.subscriptionID, t.state)
	_ = t.root.Walk(func(depth int, n *ItemsNodeInterval) error {
		indent := strings.Repeat("  ", depth)
		if n.IsRoot() {
			fmt.Fprintf(&b, "%sroot [%s, %s)\n", indent,
				n.Start.Format(time.DateOnly), n.End.Format(time.DateOnly))
			return nil
		}
		fmt.Fprintf(&b, "%s[%s, %s)", indent,
			n.Start.Format(time.DateOnly), n.End.Format(time.DateOnly))
		for _, item := range n.Payload.Items() {
			fmt.Fprintf(&b, " %s:%s:%s", item.action, item.id, item.amount)
		}
		b.WriteString("\n")
		return nil
	})
	return b.String()
}
