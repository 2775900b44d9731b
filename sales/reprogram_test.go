package sales_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/sales"
)

func ptr[T any](v T) *T { return &v }

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestReprogram_BlockedByPaidInstallment(t *testing.T) {
	// GIVEN: An approved sale whose installment 1 is PAID
	// WHEN: Reprogramming to a 0% rate
	// THEN: STATE_CONFLICT naming the installment, amounts unchanged, no event

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, installments[0].Amount, march1)
	require.NoError(t, err)

	_, err = f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Actor:  "manager-1",
		Reason: "rate relief",
		Plan:   sales.PlanChange{AnnualRate: ptr(d("0"))},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeReprogrammingBlocked, sales.CodeOf(err))
	assert.Contains(t, err.Error(), "installment 1")

	for i, inst := range installments[1:] {
		assert.True(t, f.installment(t, sale.ID, i+2).Amount.Equal(inst.Amount))
	}
	got, err := f.engine.Lifecycle.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, got.AnnualRate.Equal(d("12")), "plan unchanged")

	history, err := f.engine.Reprogram.History(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReprogram_DiscountBlockedByPaidInstallment(t *testing.T) {
	// GIVEN: A three-installment schedule whose installment 1 is PAID
	// WHEN: Discounting installment 2
	// THEN: STATE_CONFLICT, every amount unchanged, no event recorded

	f := newFixture(t)
	ctx := context.Background()
	sale := f.approvedSale(t, nil)
	installments, err := f.engine.Ledger.PlanSchedule(ctx, sale.ID, 3, march1, "clerk-1")
	require.NoError(t, err)
	require.Len(t, installments, 3)

	_, err = f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, installments[0].Amount, march1)
	require.NoError(t, err)

	_, err = f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID:    sale.ID,
		Actor:     "manager-1",
		Reason:    "goodwill",
		Discounts: []sales.DiscountInput{{InstallmentNumber: 2, Amount: d("500")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeReprogrammingBlocked, sales.CodeOf(err))

	for _, inst := range installments {
		assert.True(t, f.installment(t, sale.ID, inst.Number).Amount.Equal(inst.Amount),
			"installment %d", inst.Number)
	}
	history, err := f.engine.Reprogram.History(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReprogram_RequiresApprovedSale(t *testing.T) {
	f := newFixture(t)
	sale := f.createSale(t, nil)

	_, err := f.engine.Reprogram.Reprogram(context.Background(), sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "early",
		Plan:   sales.PlanChange{AnnualRate: ptr(d("10"))},
	})
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeReprogrammingBlocked, sales.CodeOf(err))
}

func TestReprogram_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	sale, _ := f.scheduledSale(t)

	tests := []struct {
		name string
		req  sales.ReprogramRequest
	}{
		{"missing reason", sales.ReprogramRequest{SaleID: sale.ID, Plan: sales.PlanChange{AnnualRate: ptr(d("1"))}}},
		{"no changes", sales.ReprogramRequest{SaleID: sale.ID, Reason: "nothing"}},
		{"negative rate", sales.ReprogramRequest{SaleID: sale.ID, Reason: "x", Plan: sales.PlanChange{AnnualRate: ptr(d("-1"))}}},
		{"unknown model", sales.ReprogramRequest{SaleID: sale.ID, Reason: "x", Plan: sales.PlanChange{Model: ptr(amortization.Model("BULLET"))}}},
		{"zero discount", sales.ReprogramRequest{SaleID: sale.ID, Reason: "x", Discounts: []sales.DiscountInput{{InstallmentNumber: 1, Amount: d("0")}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Reprogram.Reprogram(context.Background(), tt.req)
			assert.ErrorIs(t, err, sales.ErrValidation)
		})
	}
}

// =============================================================================
// DISCOUNTS & MODIFICATIONS
// =============================================================================

func TestReprogram_Discount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, _ := f.scheduledSale(t)

	res, err := f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID:    sale.ID,
		Actor:     "manager-1",
		Reason:    "loyalty",
		Discounts: []sales.DiscountInput{{InstallmentNumber: 3, Amount: d("1000"), Reason: "promo"}},
	})
	require.NoError(t, err)

	assert.False(t, res.Event.Recalculated)
	require.Len(t, res.Event.Discounts, 1)
	assert.Equal(t, 3, res.Event.Discounts[0].InstallmentNumber)
	assert.True(t, res.Event.Discounts[0].Amount.Equal(d("1000")))

	assert.True(t, f.installment(t, sale.ID, 3).Amount.Equal(d("6996.39")))
	assert.True(t, f.installment(t, sale.ID, 4).Amount.Equal(d("7996.39")), "other installments untouched")
}

func TestReprogram_Discount_NeverBelowPaid(t *testing.T) {
	// GIVEN: Installment 2 has 2,000 paid
	// WHEN: Discounting it by more than it owes
	// THEN: Its amount drops to what was paid and it is settled

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[1].ID, d("2000"), march1)
	require.NoError(t, err)

	_, err = f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID:    sale.ID,
		Reason:    "hardship",
		Discounts: []sales.DiscountInput{{InstallmentNumber: 2, Amount: d("9000")}},
	})
	require.NoError(t, err)

	inst := f.installment(t, sale.ID, 2)
	assert.True(t, inst.Amount.Equal(d("2000")))
	assert.Equal(t, sales.InstallmentPaid, inst.State)
	require.NotNil(t, inst.PaymentDate)
	assert.Equal(t, march1, *inst.PaymentDate)
}

func TestReprogram_ModificationToZero_SettlesInstallment(t *testing.T) {
	// GIVEN: An unpaid schedule
	// WHEN: Installment 2 is edited down to 0.00
	// THEN: It is PAID as of the edit, with nothing paid, and later
	//       reprogramming is blocked like for any PAID installment

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "waived",
		Modifications: []sales.ModificationInput{
			{InstallmentNumber: 2, NewAmount: d("0"), NewDueDate: installments[1].DueDate},
		},
	})
	require.NoError(t, err)

	inst := f.installment(t, sale.ID, 2)
	assert.Equal(t, sales.InstallmentPaid, inst.State)
	assert.True(t, inst.PaidAmount.IsZero())
	require.NotNil(t, inst.PaymentDate)
	assert.Equal(t, march1, *inst.PaymentDate)

	_, err = f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "rate relief",
		Plan:   sales.PlanChange{AnnualRate: ptr(d("0"))},
	})
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Contains(t, err.Error(), "installment 2")
}

func TestReprogram_Modification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	newDue := installments[1].DueDate.AddDate(0, 0, 10)
	res, err := f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "buyer request",
		Modifications: []sales.ModificationInput{
			{InstallmentNumber: 2, NewAmount: d("5000"), NewDueDate: newDue},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Event.Modifications, 1)
	m := res.Event.Modifications[0]
	assert.True(t, m.PreviousAmount.Equal(d("7996.39")))
	assert.True(t, m.NewAmount.Equal(d("5000")))
	assert.Equal(t, installments[1].DueDate, m.PreviousDueDate)
	assert.Equal(t, newDue, m.NewDueDate)

	inst := f.installment(t, sale.ID, 2)
	assert.True(t, inst.Amount.Equal(d("5000")))
	assert.Equal(t, newDue, inst.DueDate)
	assert.Equal(t, sales.InstallmentPending, inst.State)
}

func TestReprogram_Modification_BelowPaid_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, d("3000"), march1)
	require.NoError(t, err)

	_, err = f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "typo",
		Modifications: []sales.ModificationInput{
			{InstallmentNumber: 1, NewAmount: d("2999.99"), NewDueDate: installments[0].DueDate},
		},
	})
	assert.ErrorIs(t, err, sales.ErrValidation)
	assert.True(t, f.installment(t, sale.ID, 1).Amount.Equal(d("7996.39")))
}

func TestReprogram_UnknownInstallment_AbortsAll(t *testing.T) {
	// GIVEN: A request with one valid and one unknown discount plus a plan change
	// WHEN: Reprogramming
	// THEN: INVALID_INPUT naming the item, and neither the valid discount nor the plan persists

	f := newFixture(t)
	ctx := context.Background()
	sale, _ := f.scheduledSale(t)

	_, err := f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "mixed",
		Plan:   sales.PlanChange{Model: ptr(amortization.German)},
		Discounts: []sales.DiscountInput{
			{InstallmentNumber: 1, Amount: d("100")},
			{InstallmentNumber: 40, Amount: d("100")},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sales.ErrValidation)
	assert.Equal(t, sales.CodeInvalidInput, sales.CodeOf(err))
	assert.Contains(t, err.Error(), "installment 40")

	assert.True(t, f.installment(t, sale.ID, 1).Amount.Equal(d("7996.39")))
	got, err := f.engine.Lifecycle.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, amortization.French, got.Model)
}

// =============================================================================
// RECALCULATION
// =============================================================================

func TestReprogram_RateChange_Recalculates(t *testing.T) {
	// GIVEN: The 95,956.69 schedule with 1,000 already paid on installment 1
	// WHEN: The rate drops to 0%
	// THEN: 94,956.69 is spread over the 12 unpaid installments; installment 1
	//       keeps its 1,000 on top of the new period total

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, d("1000"), march1)
	require.NoError(t, err)

	res, err := f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Actor:  "manager-1",
		Reason: "rate relief",
		Plan:   sales.PlanChange{AnnualRate: ptr(d("0"))},
	})
	require.NoError(t, err)
	assert.True(t, res.Event.Recalculated)

	first := f.installment(t, sale.ID, 1)
	assert.True(t, first.Amount.Equal(d("8913.06")), "amount: %s", first.Amount)
	assert.True(t, first.PaidAmount.Equal(d("1000")))
	assert.Equal(t, sales.InstallmentPartial, first.State)
	assert.True(t, first.Interest.IsZero())
	assert.True(t, first.PriorBalance.Equal(d("94956.69")))

	assert.True(t, f.installment(t, sale.ID, 6).Amount.Equal(d("7913.06")))
	last := f.installment(t, sale.ID, 12)
	assert.True(t, last.Amount.Equal(d("7913.03")), "last: %s", last.Amount)
	assert.True(t, last.PostBalance.IsZero())
	assert.Equal(t, installments[11].DueDate, last.DueDate, "due dates kept")

	got, err := f.engine.Lifecycle.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, got.AnnualRate.IsZero())

	history, err := f.engine.Reprogram.History(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "rate relief", history[0].Reason)
	require.NotNil(t, history[0].Plan.AnnualRate)
	assert.True(t, history[0].Plan.AnnualRate.IsZero())

	entries, err := f.store.AuditEntries(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.AuditSaleReprogrammed, entries[len(entries)-1].Action)
}

func TestReprogram_ModelChange_ConservesOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, _ := f.scheduledSale(t)

	before, err := f.engine.Ledger.UnpaidRemainder(ctx, sale.ID)
	require.NoError(t, err)

	_, err = f.engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Reason: "switch to constant capital",
		Plan:   sales.PlanChange{Model: ptr(amortization.German)},
	})
	require.NoError(t, err)

	list, err := f.engine.Ledger.Installments(ctx, sale.ID)
	require.NoError(t, err)
	capital := d("0")
	for i, inst := range list {
		capital = capital.Add(inst.Capital)
		if i > 0 {
			assert.True(t, inst.Interest.LessThanOrEqual(list[i-1].Interest))
		}
	}
	assert.True(t, capital.Equal(before.Outstanding), "capital %s vs outstanding %s", capital, before.Outstanding)
}
