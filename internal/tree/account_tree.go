package tree

import (
	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
)

// AccountItemTree fans invoice items out to per subscription trees and runs
// the reconciliation lifecycle across all of them. Adjustments carry no
// subscription of their own; they are routed through the item they link to,
// which may arrive later in the ingest stream, so unroutable adjustments are
// parked until build time.
type AccountItemTree struct {
	accountID       string
	targetInvoiceID string

	subscriptionTrees map[string]*SubscriptionItemTree
	subscriptionOrder []string

	knownItemSubscriptions map[string]string
	pendingItems           []*invoiceitem.InvoiceItem

	built  bool
	merged bool
}

func NewAccountItemTree(accountID, targetInvoiceID string) *AccountItemTree {
	return &AccountItemTree{
		accountID:              accountID,
		targetInvoiceID:        targetInvoiceID,
		subscriptionTrees:      make(map[string]*SubscriptionItemTree),
		knownItemSubscriptions: make(map[string]string),
	}
}

func (a *AccountItemTree) AccountID() string {
	return a.accountID
}

func (a *AccountItemTree) subscriptionTree(subscriptionID string) *SubscriptionItemTree {
	if t, ok := a.subscriptionTrees[subscriptionID]; ok {
		return t
	}
	t := NewSubscriptionItemTree(subscriptionID, a.targetInvoiceID)
	a.subscriptionTrees[subscriptionID] = t
	a.subscriptionOrder = append(a.subscriptionOrder, subscriptionID)
	return t
}

// AddExistingItem routes one persisted item to its subscription tree.
func (a *AccountItemTree) AddExistingItem(src *invoiceitem.InvoiceItem) error {
	if a.built {
		return ierr.NewError("invalid tree operation").
			WithHint("cannot add existing items after build").
			WithReportableDetails(map[string]any{"account_id": a.accountID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if err := src.Validate(); err != nil {
		return err
	}

	switch src.Type {
	case types.InvoiceItemTypeRecurring, types.InvoiceItemTypeFixed:
		if src.SubscriptionID == "" {
			return ierr.NewError("invoice item validation failed").
				WithHintf("%s item requires a subscription id", src.Type).
				WithReportableDetails(map[string]any{"item_id": src.ID}).
				Mark(ierr.ErrValidation)
		}
		a.knownItemSubscriptions[src.ID] = src.SubscriptionID
		return a.subscriptionTree(src.SubscriptionID).AddExistingItem(src)
	case types.InvoiceItemTypeRepairAdj, types.InvoiceItemTypeItemAdj:
		return a.addAdjustment(src, false)
	default:
		// Account level credits and the like carry no period to reconcile.
		return nil
	}
}

// addAdjustment routes an adjustment through the item it links to. During
// ingest an unroutable adjustment is parked; at build time it is an error,
// since by then every chargeable item has been seen.
func (a *AccountItemTree) addAdjustment(src *invoiceitem.InvoiceItem, failOnMissing bool) error {
	subscriptionID, ok := a.knownItemSubscriptions[src.LinkedItemID]
	if !ok && src.SubscriptionID != "" {
		subscriptionID = src.SubscriptionID
		ok = true
	}
	if !ok {
		if failOnMissing {
			return ierr.NewError("adjustment references unknown item").
				WithHintf("no subscription found for linked item %s", src.LinkedItemID).
				WithReportableDetails(map[string]any{
					"item_id":        src.ID,
					"linked_item_id": src.LinkedItemID,
				}).
				Mark(ierr.ErrValidation)
		}
		a.pendingItems = append(a.pendingItems, src)
		return nil
	}
	return a.subscriptionTree(subscriptionID).AddExistingItem(src)
}

// Build drains parked adjustments and builds every subscription tree.
func (a *AccountItemTree) Build() error {
	if a.built {
		return ierr.NewError("invalid tree operation").
			WithHint("tree already built").
			WithReportableDetails(map[string]any{"account_id": a.accountID}).
			Mark(ierr.ErrInvalidOperation)
	}

	pending := a.pendingItems
	a.pendingItems = nil
	for _, src := range pending {
		if err := a.addAdjustment(src, true); err != nil {
			return err
		}
	}

	for _, id := range a.subscriptionOrder {
		if err := a.subscriptionTrees[id].Build(); err != nil {
			return err
		}
	}
	a.built = true
	return nil
}

// MergeWithProposedItems reconciles the proposed charges against the billed
// state. Proposed items for subscriptions never seen before get a fresh tree
// fast forwarded through the empty lifecycle so every tree sits in the same
// phase before the final build.
func (a *AccountItemTree) MergeWithProposedItems(proposed []*invoiceitem.InvoiceItem) error {
	if a.merged {
		return ierr.NewError("invalid tree operation").
			WithHint("tree already merged").
			WithReportableDetails(map[string]any{"account_id": a.accountID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !a.built {
		if err := a.Build(); err != nil {
			return err
		}
	}

	for _, id := range a.subscriptionOrder {
		if err := a.subscriptionTrees[id].Flatten(true); err != nil {
			return err
		}
	}

	for _, src := range proposed {
		if err := src.Validate(); err != nil {
			return err
		}
		if src.SubscriptionID == "" {
			return ierr.NewError("invoice item validation failed").
				WithHint("proposed item requires a subscription id").
				WithReportableDetails(map[string]any{"item_id": src.ID}).
				Mark(ierr.ErrValidation)
		}
		t, ok := a.subscriptionTrees[src.SubscriptionID]
		if !ok {
			t = a.subscriptionTree(src.SubscriptionID)
			if err := t.Build(); err != nil {
				return err
			}
			if err := t.Flatten(true); err != nil {
				return err
			}
		}
		if err := t.MergeProposedItem(src); err != nil {
			return err
		}
	}

	for _, id := range a.subscriptionOrder {
		if err := a.subscriptionTrees[id].BuildForMerge(); err != nil {
			return err
		}
	}
	a.merged = true
	return nil
}

// ResultingItemList concatenates each subscription's delta in the order the
// subscriptions were first seen.
func (a *AccountItemTree) ResultingItemList() ([]*invoiceitem.InvoiceItem, error) {
	if !a.merged {
		return nil, ierr.NewError("invalid tree operation").
			WithHint("merge must run before reading the result").
			WithReportableDetails(map[string]any{"account_id": a.accountID}).
			Mark(ierr.ErrInvalidOperation)
	}
	var result []*invoiceitem.InvoiceItem
	for _, id := range a.subscriptionOrder {
		items, err := a.subscriptionTrees[id].View()
		if err != nil {
			return nil, err
		}
		result = append(result, items...)
	}
	return result, nil
}

// String renders every subscription tree for debugging.
func (a *AccountItemTree) String() string {
	out := ""
	for _, id := range a.subscriptionOrder {
		out += a.subscriptionTrees[id].String()
	}
	return out
}
