package tree

import (
	"time"

	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
	"github.com/shopspring/decimal"
)

// Item is the internal working representation of one invoice item inside the
// tree. The amount is always stored non negative; the action carries the
// sign. An ADD stands for a billed charge, a CANCEL for a reversal of the
// item it links to.
type Item struct {
	id              string
	linkedID        string
	accountID       string
	bundleID        string
	subscriptionID  string
	targetInvoiceID string
	planName        string
	phaseName       string
	startDate       time.Time
	endDate         time.Time
	amount          decimal.Decimal
	rate            decimal.Decimal
	currency        string
	action          types.ItemAction
	sourceType      types.InvoiceItemType

	// Cumulative amounts already taken off this item by ITEM_ADJ rows and by
	// repairs generated during the current pass. Their sum can never exceed
	// amount; the remainder is the most a new repair may reverse.
	adjustedAmount        decimal.Decimal
	currentRepairedAmount decimal.Decimal
}

// NewItem wraps a source record for insertion. Repair rows enter the tree as
// CANCEL items linked to the item they reverse; charge rows enter as ADD.
func NewItem(src *invoiceitem.InvoiceItem, targetInvoiceID string, action types.ItemAction) *Item {
	item := &Item{
		id:              src.ID,
		accountID:       src.AccountID,
		bundleID:        src.BundleID,
		subscriptionID:  src.SubscriptionID,
		targetInvoiceID: targetInvoiceID,
		planName:        src.PlanName,
		phaseName:       src.PhaseName,
		startDate:       types.TruncateToDay(src.StartDate),
		endDate:         types.TruncateToDay(src.EndDate),
		amount:          src.Amount.Abs(),
		rate:            src.Rate,
		currency:        src.Currency,
		action:          action,
		sourceType:      src.Type,
	}
	if action == types.ItemActionCancel {
		item.linkedID = src.LinkedItemID
	}
	return item
}

// Mirror returns a CANCEL item reversing this one over its full period,
// carrying the bookkeeping amounts along so that a mirror of an already
// adjusted item can only repair what is actually left.
func (i *Item) Mirror() *Item {
	mirror := *i
	mirror.action = types.ItemActionCancel
	mirror.linkedID = i.id
	return &mirror
}

func (i *Item) ID() string               { return i.id }
func (i *Item) LinkedID() string         { return i.linkedID }
func (i *Item) SubscriptionID() string   { return i.subscriptionID }
func (i *Item) StartDate() time.Time     { return i.startDate }
func (i *Item) EndDate() time.Time       { return i.endDate }
func (i *Item) Amount() decimal.Decimal  { return i.amount }
func (i *Item) Action() types.ItemAction { return i.action }
func (i *Item) Currency() string         { return i.currency }

// NetAmount is what remains reversible on this item after adjustments and
// repairs already accounted for.
func (i *Item) NetAmount() decimal.Decimal {
	return i.amount.Sub(i.adjustedAmount).Sub(i.currentRepairedAmount)
}

// IsSameKind reports whether two items bill the same thing: same plan, same
// phase, same rate.
func (i *Item) IsSameKind(other *Item) bool {
	if other == nil {
		return false
	}
	return i.planName == other.planName &&
		i.phaseName == other.phaseName &&
		i.rate.Equal(other.rate)
}

// IncrementAdjustedAmount records an ITEM_ADJ against this item.
func (i *Item) IncrementAdjustedAmount(delta decimal.Decimal) error {
	return i.increment(&i.adjustedAmount, delta, "adjusted")
}

// IncrementCurrentRepairedAmount records a repair generated in this pass.
func (i *Item) IncrementCurrentRepairedAmount(delta decimal.Decimal) error {
	return i.increment(&i.currentRepairedAmount, delta, "repaired")
}

func (i *Item) increment(field *decimal.Decimal, delta decimal.Decimal, what string) error {
	if !delta.IsPositive() {
		return ierr.NewError("invalid increment").
			WithHintf("%s increment must be positive, got %s", what, delta).
			WithReportableDetails(map[string]any{"item_id": i.id}).
			Mark(ierr.ErrInvalidOperation)
	}
	next := field.Add(delta)
	if i.amount.Sub(i.adjustedAmount).Sub(i.currentRepairedAmount).LessThan(delta) {
		return ierr.NewError("item repaired beyond its amount").
			WithHintf("cannot take %s off item with net amount %s", delta, i.NetAmount()).
			WithReportableDetails(map[string]any{
				"item_id":         i.id,
				"amount":          i.amount,
				"adjusted_amount": i.adjustedAmount,
				"repaired_amount": i.currentRepairedAmount,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	*field = next
	return nil
}

// prorate scales the item amount by the day count of [start, end) relative
// to the item's own period. An identical range returns the amount untouched
// so no rounding creeps into unchanged items.
func (i *Item) prorate(amount decimal.Decimal, start, end time.Time) decimal.Decimal {
	if start.Equal(i.startDate) && end.Equal(i.endDate) {
		return amount
	}
	totalDays := types.DaysBetween(i.startDate, i.endDate)
	if totalDays == 0 {
		return decimal.Zero
	}
	slice := decimal.NewFromInt(int64(types.DaysBetween(start, end)))
	total := decimal.NewFromInt(int64(totalDays))
	return amount.Mul(slice).Div(total).Round(2)
}

// ToProratedInvoiceItem materializes this item as an invoice item row over
// the given sub-period. ADD items come out as charges keeping their source
// id; CANCEL items come out as freshly identified REPAIR_ADJ rows capped at
// the linked item's remaining net amount. A nil return means the slice nets
// out to nothing and no row should be produced.
func (i *Item) ToProratedInvoiceItem(start, end time.Time) (*invoiceitem.InvoiceItem, error) {
	if start.Before(i.startDate) || end.After(i.endDate) {
		return nil, ierr.NewError("proration period outside item period").
			WithHintf("requested [%s, %s) from item [%s, %s)",
				start.Format(time.DateOnly), end.Format(time.DateOnly),
				i.startDate.Format(time.DateOnly), i.endDate.Format(time.DateOnly)).
			WithReportableDetails(map[string]any{"item_id": i.id}).
			Mark(ierr.ErrInvalidOperation)
	}

	if i.action == types.ItemActionAdd {
		itemType := types.InvoiceItemTypeRecurring
		if i.sourceType == types.InvoiceItemTypeFixed {
			itemType = types.InvoiceItemTypeFixed
		}
		return &invoiceitem.InvoiceItem{
			ID:             i.id,
			InvoiceID:      i.targetInvoiceID,
			AccountID:      i.accountID,
			BundleID:       i.bundleID,
			SubscriptionID: i.subscriptionID,
			Type:           itemType,
			PlanName:       i.planName,
			PhaseName:      i.phaseName,
			StartDate:      start,
			EndDate:        end,
			Amount:         i.prorate(i.amount, start, end),
			Rate:           i.rate,
			Currency:       i.currency,
		}, nil
	}

	// CANCEL: repair at most what is still reversible on the item.
	candidate := i.prorate(i.amount, start, end)
	net := i.NetAmount()
	if candidate.GreaterThan(net) {
		candidate = net
	}
	if !candidate.IsPositive() {
		return nil, nil
	}
	return &invoiceitem.InvoiceItem{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_ITEM),
		InvoiceID:      i.targetInvoiceID,
		AccountID:      i.accountID,
		BundleID:       i.bundleID,
		SubscriptionID: i.subscriptionID,
		Type:           types.InvoiceItemTypeRepairAdj,
		PlanName:       i.planName,
		PhaseName:      i.phaseName,
		StartDate:      start,
		EndDate:        end,
		Amount:         candidate.Neg(),
		Rate:           i.rate,
		Currency:       i.currency,
		LinkedItemID:   i.linkedID,
	}, nil
}

// Split cuts the item in two at the given date. Both halves keep the
// original id and point their linkedID at it, which later lets adjacent
// halves that were never separated by other items be rejoined. The right
// half takes the exact complement of the left so the two always sum back to
// the original amount.
func (i *Item) Split(at time.Time) (*Item, *Item, error) {
	if !at.After(i.startDate) || !at.Before(i.endDate) {
		return nil, nil, ierr.NewError("split date outside item period").
			WithHintf("date %s not strictly inside [%s, %s)",
				at.Format(time.DateOnly), i.startDate.Format(time.DateOnly), i.endDate.Format(time.DateOnly)).
			WithReportableDetails(map[string]any{"item_id": i.id}).
			Mark(ierr.ErrInvalidOperation)
	}

	left := *i
	right := *i
	left.endDate = at
	right.startDate = at

	left.amount = i.prorate(i.amount, i.startDate, at)
	right.amount = i.amount.Sub(left.amount)
	left.adjustedAmount = i.prorate(i.adjustedAmount, i.startDate, at)
	right.adjustedAmount = i.adjustedAmount.Sub(left.adjustedAmount)
	left.currentRepairedAmount = i.prorate(i.currentRepairedAmount, i.startDate, at)
	right.currentRepairedAmount = i.currentRepairedAmount.Sub(left.currentRepairedAmount)

	if i.action == types.ItemActionAdd {
		left.linkedID = i.id
		right.linkedID = i.id
	}
	return &left, &right, nil
}

// canRejoinWith reports whether other is the right-adjacent half of a split
// of the same source item.
func (i *Item) canRejoinWith(other *Item) bool {
	return i.action == types.ItemActionAdd &&
		other.action == types.ItemActionAdd &&
		i.id == other.id &&
		i.endDate.Equal(other.startDate) &&
		i.IsSameKind(other)
}

// rejoin folds a right-adjacent split half back into this item.
func (i *Item) rejoin(other *Item) {
	i.endDate = other.endDate
	i.amount = i.amount.Add(other.amount)
	i.adjustedAmount = i.adjustedAmount.Add(other.adjustedAmount)
	i.currentRepairedAmount = i.currentRepairedAmount.Add(other.currentRepairedAmount)
}
