package types

import (
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/samber/lo"
)

// InvoiceItemType categorizes a persisted or freshly computed invoice item
type InvoiceItemType string

const (
	// InvoiceItemTypeRecurring is a recurring subscription charge for a service period
	InvoiceItemTypeRecurring InvoiceItemType = "RECURRING"
	// InvoiceItemTypeFixed is a one-time charge, billed once and never repaired
	InvoiceItemTypeFixed InvoiceItemType = "FIXED"
	// InvoiceItemTypeRepairAdj reverses all or part of a previously billed recurring item
	InvoiceItemTypeRepairAdj InvoiceItemType = "REPAIR_ADJ"
	// InvoiceItemTypeItemAdj is a manual adjustment applied against a specific item
	InvoiceItemTypeItemAdj InvoiceItemType = "ITEM_ADJ"
	// InvoiceItemTypeCreditAdj is an account-level credit, opaque to reconciliation
	InvoiceItemTypeCreditAdj InvoiceItemType = "CREDIT_ADJ"
)

func (t InvoiceItemType) String() string {
	return string(t)
}

func (t InvoiceItemType) Validate() error {
	allowed := []InvoiceItemType{
		InvoiceItemTypeRecurring,
		InvoiceItemTypeFixed,
		InvoiceItemTypeRepairAdj,
		InvoiceItemTypeItemAdj,
		InvoiceItemTypeCreditAdj,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid invoice item type").
			WithHint("Please provide a valid invoice item type").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ItemAction is the role an item plays inside one tree pass
// ADD bills a period, CANCEL reverses a previously billed period
type ItemAction string

const (
	ItemActionAdd    ItemAction = "ADD"
	ItemActionCancel ItemAction = "CANCEL"
)

func (a ItemAction) String() string {
	return string(a)
}

func (a ItemAction) Validate() error {
	allowed := []ItemAction{
		ItemActionAdd,
		ItemActionCancel,
	}
	if !lo.Contains(allowed, a) {
		return ierr.NewError("invalid item action").
			WithHint("Please provide a valid item action").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TreeState tracks the strictly linear lifecycle of a subscription item tree.
// Out of order calls fail fast instead of silently corrupting state.
type TreeState string

const (
	TreeStateEmpty     TreeState = "EMPTY"
	TreeStateIngesting TreeState = "INGESTING"
	TreeStateBuilt     TreeState = "BUILT"
	TreeStateFlattened TreeState = "FLATTENED"
	TreeStateMerging   TreeState = "MERGING"
	TreeStateMerged    TreeState = "MERGED"
)

func (s TreeState) String() string {
	return string(s)
}
