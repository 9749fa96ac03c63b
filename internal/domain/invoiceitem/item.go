package invoiceitem

import (
	"time"

	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceItem is the plain record the reconciliation engine consumes and
// produces. Existing items come from persisted invoices, proposed items from
// the billing-event collaborator; resulting items are ready to be persisted
// on the target invoice. The engine never talks to storage itself.
type InvoiceItem struct {
	ID             string                `json:"id"`
	InvoiceID      string                `json:"invoice_id"`
	AccountID      string                `json:"account_id"`
	BundleID       string                `json:"bundle_id,omitempty"`
	SubscriptionID string                `json:"subscription_id,omitempty"`
	Type           types.InvoiceItemType `json:"type"`
	PlanName       string                `json:"plan_name,omitempty"`
	PhaseName      string                `json:"phase_name,omitempty"`
	StartDate      time.Time             `json:"start_date"`
	EndDate        time.Time             `json:"end_date"`
	Amount         decimal.Decimal       `json:"amount"`
	Rate           decimal.Decimal       `json:"rate"`
	Currency       string                `json:"currency"`
	LinkedItemID   string                `json:"linked_item_id,omitempty"`
}

// Validate checks the shape of a single record. Period ordering is enforced
// for every type that carries a service period; sign conventions follow the
// item type.
func (i *InvoiceItem) Validate() error {
	if i.ID == "" {
		return ierr.NewError("invoice item validation failed").
			WithHint("id is required").
			Mark(ierr.ErrValidation)
	}

	if err := i.Type.Validate(); err != nil {
		return err
	}

	if i.EndDate.Before(i.StartDate) {
		return ierr.NewError("invoice item validation failed").
			WithHint("end_date must not be before start_date").
			WithReportableDetails(map[string]any{
				"item_id":    i.ID,
				"start_date": i.StartDate,
				"end_date":   i.EndDate,
			}).
			Mark(ierr.ErrValidation)
	}

	switch i.Type {
	case types.InvoiceItemTypeRecurring, types.InvoiceItemTypeFixed:
		if i.Amount.IsNegative() {
			return ierr.NewError("invoice item validation failed").
				WithHintf("%s amount must be non negative", i.Type).
				WithReportableDetails(map[string]any{"item_id": i.ID}).
				Mark(ierr.ErrValidation)
		}
	case types.InvoiceItemTypeRepairAdj:
		if i.Amount.IsPositive() {
			return ierr.NewError("invoice item validation failed").
				WithHint("REPAIR_ADJ amount must be negative").
				WithReportableDetails(map[string]any{"item_id": i.ID}).
				Mark(ierr.ErrValidation)
		}
		if i.LinkedItemID == "" {
			return ierr.NewError("invoice item validation failed").
				WithHint("REPAIR_ADJ requires a linked item id").
				WithReportableDetails(map[string]any{"item_id": i.ID}).
				Mark(ierr.ErrValidation)
		}
	case types.InvoiceItemTypeItemAdj:
		if i.LinkedItemID == "" {
			return ierr.NewError("invoice item validation failed").
				WithHint("ITEM_ADJ requires a linked item id").
				WithReportableDetails(map[string]any{"item_id": i.ID}).
				Mark(ierr.ErrValidation)
		}
	}

	return nil
}

// IsSameKind reports whether two items represent equivalent charges for
// matching purposes: same plan, same phase, same rate.
func (i *InvoiceItem) IsSameKind(other *InvoiceItem) bool {
	if other == nil {
		return false
	}
	return i.PlanName == other.PlanName &&
		i.PhaseName == other.PhaseName &&
		i.Rate.Equal(other.Rate)
}
