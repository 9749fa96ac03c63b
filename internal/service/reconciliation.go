// Package service provides the business logic on top of the reconciliation
// trees.
package service

import (
	"context"

	"github.com/flexprice/invoicetree/internal/config"
	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/logger"
	"github.com/flexprice/invoicetree/internal/tree"
	"github.com/flexprice/invoicetree/internal/types"
	"github.com/shopspring/decimal"
)

// ReconciliationParams carries one reconciliation request: everything billed
// so far for the account and the freshly computed target state.
type ReconciliationParams struct {
	AccountID       string
	TargetInvoiceID string
	ExistingItems   []*invoiceitem.InvoiceItem
	ProposedItems   []*invoiceitem.InvoiceItem
}

// ReconciliationResult is the minimal delta to append to the target invoice
// plus its totals. ChargedAmount sums the new charges, RepairedAmount the
// reversals; NetAmount is what the invoice balance moves by.
type ReconciliationResult struct {
	Items          []*invoiceitem.InvoiceItem `json:"items"`
	ChargedAmount  decimal.Decimal            `json:"charged_amount"`
	RepairedAmount decimal.Decimal            `json:"repaired_amount"`
	NetAmount      decimal.Decimal            `json:"net_amount"`
	Currency       string                     `json:"currency"`
}

// ReconciliationService computes invoice deltas. It owns no storage; callers
// load the existing items and persist the result.
type ReconciliationService interface {
	Reconcile(ctx context.Context, params ReconciliationParams) (*ReconciliationResult, error)
}

type reconciliationService struct {
	Config *config.Configuration
	Logger *logger.Logger
}

func NewReconciliationService(cfg *config.Configuration, log *logger.Logger) ReconciliationService {
	return &reconciliationService{
		Config: cfg,
		Logger: log,
	}
}

func (s *reconciliationService) Reconcile(ctx context.Context, params ReconciliationParams) (*ReconciliationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.AccountID == "" {
		return nil, ierr.NewError("reconciliation request validation failed").
			WithHint("account id is required").
			Mark(ierr.ErrValidation)
	}
	if params.TargetInvoiceID == "" {
		return nil, ierr.NewError("reconciliation request validation failed").
			WithHint("target invoice id is required").
			Mark(ierr.ErrValidation)
	}

	currency, err := s.resolveCurrency(params)
	if err != nil {
		return nil, err
	}

	proposed := s.dedupProposedFixedItems(params)

	accountTree := tree.NewAccountItemTree(params.AccountID, params.TargetInvoiceID)
	for _, item := range params.ExistingItems {
		if err := accountTree.AddExistingItem(item); err != nil {
			return nil, err
		}
	}
	if err := accountTree.MergeWithProposedItems(proposed); err != nil {
		return nil, err
	}
	items, err := accountTree.ResultingItemList()
	if err != nil {
		return nil, err
	}

	if s.Config.Reconciliation.PrettyPrintTrees {
		s.Logger.Debugw("reconciliation trees", "account_id", params.AccountID, "trees", accountTree.String())
	}

	result := &ReconciliationResult{
		Items:    items,
		Currency: currency,
	}
	for _, item := range items {
		if item.Type == types.InvoiceItemTypeRepairAdj {
			result.RepairedAmount = result.RepairedAmount.Add(item.Amount.Abs())
		} else {
			result.ChargedAmount = result.ChargedAmount.Add(item.Amount)
		}
	}
	result.NetAmount = result.ChargedAmount.Sub(result.RepairedAmount)

	s.Logger.Infow("reconciliation complete",
		"account_id", params.AccountID,
		"target_invoice_id", params.TargetInvoiceID,
		"existing_items", len(params.ExistingItems),
		"proposed_items", len(params.ProposedItems),
		"resulting_items", len(result.Items),
		"charged_amount", result.ChargedAmount,
		"repaired_amount", result.RepairedAmount,
		"net_amount", result.NetAmount)

	return result, nil
}

// resolveCurrency enforces that all items across both sets agree on one
// currency. Amounts from different currencies must never net against each
// other. Falls back to the configured default when the request carries no
// items at all.
func (s *reconciliationService) resolveCurrency(params ReconciliationParams) (string, error) {
	currency := ""
	for _, set := range [][]*invoiceitem.InvoiceItem{params.ExistingItems, params.ProposedItems} {
		for _, item := range set {
			if item.Currency == "" {
				return "", ierr.NewError("reconciliation request validation failed").
					WithHint("every item must carry a currency").
					WithReportableDetails(map[string]any{"item_id": item.ID}).
					Mark(ierr.ErrValidation)
			}
			if currency == "" {
				currency = item.Currency
				continue
			}
			if item.Currency != currency {
				return "", ierr.NewError("mixed currencies in reconciliation request").
					WithHintf("item %s has currency %s, expected %s", item.ID, item.Currency, currency).
					Mark(ierr.ErrValidation)
			}
		}
	}
	if currency == "" {
		currency = s.Config.Reconciliation.DefaultCurrency
	}
	return currency, nil
}

// dedupProposedFixedItems drops proposed one time charges that are already
// present on a past invoice. Fixed charges carry no period to reconcile
// through the trees, so replays are filtered here by identity: same
// subscription, plan, phase, start date and amount.
func (s *reconciliationService) dedupProposedFixedItems(params ReconciliationParams) []*invoiceitem.InvoiceItem {
	existingFixed := make(map[string]struct{})
	for _, item := range params.ExistingItems {
		if item.Type == types.InvoiceItemTypeFixed {
			existingFixed[fixedItemKey(item)] = struct{}{}
		}
	}
	if len(existingFixed) == 0 {
		return params.ProposedItems
	}

	proposed := make([]*invoiceitem.InvoiceItem, 0, len(params.ProposedItems))
	for _, item := range params.ProposedItems {
		if item.Type == types.InvoiceItemTypeFixed {
			if _, ok := existingFixed[fixedItemKey(item)]; ok {
				s.Logger.Debugw("dropping already billed fixed charge",
					"item_id", item.ID,
					"subscription_id", item.SubscriptionID,
					"plan_name", item.PlanName)
				continue
			}
		}
		proposed = append(proposed, item)
	}
	return proposed
}

func fixedItemKey(item *invoiceitem.InvoiceItem) string {
	return item.SubscriptionID + "|" + item.PlanName + "|" + item.PhaseName + "|" +
		item.StartDate.Format("2006-01-02") + "|" + item.Amount.String()
}
