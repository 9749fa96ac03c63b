package tree

import (
	"testing"
	"time"

	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlanRecord(id, plan string, start, end time.Time, amount, rate string) *invoiceitem.InvoiceItem {
	return &invoiceitem.InvoiceItem{
		ID:             id,
		InvoiceID:      "inv_past",
		AccountID:      "acct_1",
		SubscriptionID: "subs_1",
		Type:           types.InvoiceItemTypeRecurring,
		PlanName:       plan,
		PhaseName:      plan + "-evergreen",
		StartDate:      start,
		EndDate:        end,
		Amount:         decimal.RequireFromString(amount),
		Rate:           decimal.RequireFromString(rate),
		Currency:       "USD",
	}
}

func newItemAdjRecord(id, linkedID string, start time.Time, amount string) *invoiceitem.InvoiceItem {
	return &invoiceitem.InvoiceItem{
		ID:           id,
		InvoiceID:    "inv_past",
		AccountID:    "acct_1",
		Type:         types.InvoiceItemTypeItemAdj,
		StartDate:    start,
		EndDate:      start,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		LinkedItemID: linkedID,
	}
}

func newRepairRecord(id, linkedID string, start, end time.Time, amount string) *invoiceitem.InvoiceItem {
	return &invoiceitem.InvoiceItem{
		ID:           id,
		InvoiceID:    "inv_past",
		AccountID:    "acct_1",
		Type:         types.InvoiceItemTypeRepairAdj,
		StartDate:    start,
		EndDate:      end,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		LinkedItemID: linkedID,
	}
}

func reconcileSubscription(t *testing.T, existing, proposed []*invoiceitem.InvoiceItem) []*invoiceitem.InvoiceItem {
	t.Helper()
	tree := NewSubscriptionItemTree("subs_1", "inv_target")
	for _, item := range existing {
		require.NoError(t, tree.AddExistingItem(item))
	}
	require.NoError(t, tree.Build())
	require.NoError(t, tree.Flatten(true))
	for _, item := range proposed {
		require.NoError(t, tree.MergeProposedItem(item))
	}
	require.NoError(t, tree.BuildForMerge())
	result, err := tree.View()
	require.NoError(t, err)
	return result
}

func TestCancellationProducesFullRepair(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
	}

	result := reconcileSubscription(t, existing, nil)

	require.Len(t, result, 1)
	repair := result[0]
	assert.Equal(t, types.InvoiceItemTypeRepairAdj, repair.Type)
	assert.True(t, decimal.RequireFromString("-30").Equal(repair.Amount), "got %s", repair.Amount)
	assert.Equal(t, "item_a", repair.LinkedItemID)
	assert.Equal(t, "inv_target", repair.InvoiceID)
	assert.True(t, repair.StartDate.Equal(date(2026, time.January, 1)))
	assert.True(t, repair.EndDate.Equal(date(2026, time.February, 1)))
}

func TestIdenticalProposedItemYieldsNoDelta(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
	}
	proposed := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_p", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
	}

	result := reconcileSubscription(t, existing, proposed)
	assert.Empty(t, result)
}

func TestPlanChangeRepairsOldAndBillsNew(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "10", "10"),
	}
	proposed := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_b", "platinum", date(2026, time.January, 1), date(2026, time.January, 15), "5", "10.71"),
		newPlanRecord("item_c", "platinum", date(2026, time.January, 15), date(2026, time.February, 1), "5", "10.71"),
	}

	result := reconcileSubscription(t, existing, proposed)

	require.Len(t, result, 3)
	assert.Equal(t, "item_b", result[0].ID)
	assert.Equal(t, types.InvoiceItemTypeRecurring, result[0].Type)
	assert.True(t, decimal.RequireFromString("5").Equal(result[0].Amount))
	assert.Equal(t, "item_c", result[1].ID)

	repair := result[2]
	assert.Equal(t, types.InvoiceItemTypeRepairAdj, repair.Type)
	assert.True(t, decimal.RequireFromString("-10").Equal(repair.Amount), "got %s", repair.Amount)
	assert.Equal(t, "item_a", repair.LinkedItemID)
}

func TestFullyAdjustedItemIsNotRepaired(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
		newItemAdjRecord("item_adj", "item_a", date(2026, time.January, 5), "-30"),
	}

	result := reconcileSubscription(t, existing, nil)
	assert.Empty(t, result)
}

func TestPartiallyAdjustedItemRepairsRemainder(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
		newItemAdjRecord("item_adj", "item_a", date(2026, time.January, 5), "-12"),
	}

	result := reconcileSubscription(t, existing, nil)

	require.Len(t, result, 1)
	assert.Equal(t, types.InvoiceItemTypeRepairAdj, result[0].Type)
	assert.True(t, decimal.RequireFromString("-18").Equal(result[0].Amount), "got %s", result[0].Amount)
}

func TestPartialReconfirmationRepairsUncoveredPeriod(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.January, 31), "30", "30"),
	}
	// Same kind, first half of the period only: the charge stands for the
	// covered half and the uncovered half is repaired.
	proposed := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_p", "gold", date(2026, time.January, 1), date(2026, time.January, 16), "15", "30"),
	}

	result := reconcileSubscription(t, existing, proposed)

	require.Len(t, result, 1)
	repair := result[0]
	assert.Equal(t, types.InvoiceItemTypeRepairAdj, repair.Type)
	assert.True(t, decimal.RequireFromString("-15").Equal(repair.Amount), "got %s", repair.Amount)
	assert.Equal(t, "item_a", repair.LinkedItemID)
	assert.True(t, repair.StartDate.Equal(date(2026, time.January, 16)))
	assert.True(t, repair.EndDate.Equal(date(2026, time.January, 31)))
}

func TestZeroAmountProposedStillRepairsExisting(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
	}
	free := newPlanRecord("item_p", "free", date(2026, time.January, 1), date(2026, time.February, 1), "0", "0")
	proposed := []*invoiceitem.InvoiceItem{free}

	result := reconcileSubscription(t, existing, proposed)

	require.Len(t, result, 1)
	assert.Equal(t, types.InvoiceItemTypeRepairAdj, result[0].Type)
	assert.True(t, decimal.RequireFromString("-30").Equal(result[0].Amount))
}

func TestExistingRepairShrinksBilledState(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.January, 31), "30", "30"),
		newRepairRecord("item_r", "item_a", date(2026, time.January, 16), date(2026, time.January, 31), "-15"),
	}
	// Re-proposing the surviving first half changes nothing.
	proposed := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_p", "gold", date(2026, time.January, 1), date(2026, time.January, 16), "15", "30"),
	}

	result := reconcileSubscription(t, existing, proposed)
	assert.Empty(t, result)
}

func TestDoubleBillingDetected(t *testing.T) {
	tree := NewSubscriptionItemTree("subs_1", "inv_target")
	require.NoError(t, tree.AddExistingItem(
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.January, 31), "30", "30")))
	require.NoError(t, tree.AddExistingItem(
		newPlanRecord("item_b", "gold", date(2026, time.January, 10), date(2026, time.January, 20), "10", "30")))

	err := tree.Build()
	assert.True(t, ierr.IsInvalidOperation(err))
}

func TestRepairedPeriodCanBeRebilled(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.January, 31), "30", "30"),
		newRepairRecord("item_r", "item_a", date(2026, time.January, 10), date(2026, time.January, 20), "-10"),
		newPlanRecord("item_b", "platinum", date(2026, time.January, 10), date(2026, time.January, 20), "20", "60"),
	}
	// Proposing the exact current state yields no delta.
	proposed := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_p1", "gold", date(2026, time.January, 1), date(2026, time.January, 10), "9", "30"),
		newPlanRecord("item_p2", "platinum", date(2026, time.January, 10), date(2026, time.January, 20), "20", "60"),
		newPlanRecord("item_p3", "gold", date(2026, time.January, 20), date(2026, time.January, 31), "11", "30"),
	}

	result := reconcileSubscription(t, existing, proposed)
	assert.Empty(t, result)
}

func TestZeroAmountExistingItemIsIgnored(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_free", "free", date(2026, time.January, 1), date(2026, time.February, 1), "0", "0"),
		newItemAdjRecord("item_adj", "item_free", date(2026, time.January, 5), "-1"),
	}

	result := reconcileSubscription(t, existing, nil)
	assert.Empty(t, result)
}

func TestAdjustmentForUnknownItemIsSkipped(t *testing.T) {
	existing := []*invoiceitem.InvoiceItem{
		newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30"),
		newItemAdjRecord("item_adj", "item_elsewhere", date(2026, time.January, 5), "-5"),
	}

	result := reconcileSubscription(t, existing, nil)

	require.Len(t, result, 1)
	assert.True(t, decimal.RequireFromString("-30").Equal(result[0].Amount))
}

func TestFixedProposedItemPassesThrough(t *testing.T) {
	fixed := &invoiceitem.InvoiceItem{
		ID:             "item_f",
		InvoiceID:      "inv_src",
		AccountID:      "acct_1",
		SubscriptionID: "subs_1",
		Type:           types.InvoiceItemTypeFixed,
		PlanName:       "gold",
		StartDate:      date(2026, time.January, 1),
		EndDate:        date(2026, time.January, 1),
		Amount:         decimal.RequireFromString("100"),
		Currency:       "USD",
	}

	result := reconcileSubscription(t, nil, []*invoiceitem.InvoiceItem{fixed})

	require.Len(t, result, 1)
	assert.Equal(t, types.InvoiceItemTypeFixed, result[0].Type)
	assert.Equal(t, "item_f", result[0].ID)
	assert.True(t, decimal.RequireFromString("100").Equal(result[0].Amount))
}

func TestLifecycleEnforcement(t *testing.T) {
	tree := NewSubscriptionItemTree("subs_1", "inv_target")
	record := newPlanRecord("item_a", "gold", date(2026, time.January, 1), date(2026, time.February, 1), "30", "30")

	// Merge before flatten.
	err := tree.MergeProposedItem(record)
	assert.True(t, ierr.IsInvalidOperation(err))

	// View before merge build.
	_, err = tree.View()
	assert.True(t, ierr.IsInvalidOperation(err))

	require.NoError(t, tree.AddExistingItem(record))
	require.NoError(t, tree.Build())

	// Ingest after build.
	err = tree.AddExistingItem(newPlanRecord("item_b", "gold", date(2026, time.March, 1), date(2026, time.April, 1), "30", "30"))
	assert.True(t, ierr.IsInvalidOperation(err))

	require.NoError(t, tree.Flatten(true))
	require.NoError(t, tree.BuildForMerge())
	_, err = tree.View()
	assert.NoError(t, err)
}

func TestUnsupportedProposedTypeFails(t *testing.T) {
	tree := NewSubscriptionItemTree("subs_1", "inv_target")
	require.NoError(t, tree.Build())
	require.NoError(t, tree.Flatten(true))

	err := tree.MergeProposedItem(newRepairRecord("item_r", "item_a",
		date(2026, time.January, 1), date(2026, time.January, 10), "-5"))
	assert.True(t, ierr.IsValidation(err))
}
