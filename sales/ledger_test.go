package sales_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// MATERIALIZATION
// =============================================================================

func TestLedger_PlanSchedule_FinancedPrincipal(t *testing.T) {
	// GIVEN: A 100,000 sale with 10,000 down at 12%, monthly FRENCH
	// WHEN: Planning 12 installments
	// THEN: 90,000 is amortized; every installment starts PENDING and unpaid

	f := newFixture(t)
	_, installments := f.scheduledSale(t)

	first := installments[0]
	assert.Equal(t, 1, first.Number)
	assert.True(t, first.Amount.Equal(d("7996.39")), "amount: %s", first.Amount)
	assert.True(t, first.Interest.Equal(d("900")))
	assert.True(t, first.Capital.Equal(d("7096.39")))
	assert.True(t, first.PriorBalance.Equal(d("90000")))
	assert.Equal(t, sales.InstallmentPending, first.State)
	assert.True(t, first.PaidAmount.IsZero())
	assert.Equal(t, march1.AddDate(0, 1, 0), first.DueDate)

	last := installments[11]
	assert.Equal(t, 12, last.Number)
	assert.True(t, last.PostBalance.IsZero())
}

func TestLedger_Materialize_Twice_AlreadyExists(t *testing.T) {
	f := newFixture(t)
	sale, _ := f.scheduledSale(t)

	schedule, err := amortization.Generate(amortization.Input{
		Principal: d("1000"), AnnualRate: d("0"), Periods: 2,
		Frequency: amortization.Monthly, Model: amortization.German, StartDate: march1,
	})
	require.NoError(t, err)

	_, err = f.engine.Ledger.Materialize(context.Background(), sale.ID, schedule, "clerk-1")
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeAlreadyExists, sales.CodeOf(err))

	list, err := f.engine.Ledger.Installments(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Len(t, list, 12, "original schedule untouched")
}

func TestLedger_Materialize_CashSale_Rejected(t *testing.T) {
	f := newFixture(t)
	sale := f.createSale(t, func(r *sales.CreateSaleRequest) { r.Mode = sales.ModeCash })

	_, err := f.engine.Ledger.PlanSchedule(context.Background(), sale.ID, 12, march1, "clerk-1")
	assert.ErrorIs(t, err, sales.ErrValidation)
}

func TestLedger_Materialize_UnknownSale(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Ledger.PlanSchedule(context.Background(), "missing", 12, march1, "clerk-1")
	assert.ErrorIs(t, err, sales.ErrNotFound)
}

func TestLedger_PlanSchedule_InvalidPeriods(t *testing.T) {
	f := newFixture(t)
	sale := f.approvedSale(t, nil)

	_, err := f.engine.Ledger.PlanSchedule(context.Background(), sale.ID, 0, march1, "clerk-1")
	assert.ErrorIs(t, err, sales.ErrValidation)
}

func TestLedger_PlanSchedule_TooManyPeriods(t *testing.T) {
	f := newFixture(t)
	sale := f.approvedSale(t, nil)

	_, err := f.engine.Ledger.PlanSchedule(context.Background(), sale.ID, amortization.MaxPeriods+1, march1, "clerk-1")
	assert.ErrorIs(t, err, sales.ErrValidation)
	assert.Equal(t, sales.CodeInvalidInput, sales.CodeOf(err))
}

func TestLedger_PlanSchedule_CancellationInProgress_Rejected(t *testing.T) {
	// GIVEN: An approved sale with a pending cancellation request
	// WHEN: Planning its schedule
	// THEN: STATE_CONFLICT and no installments are created

	f := newFixture(t)
	ctx := context.Background()
	sale := f.approvedSale(t, nil)
	_, err := f.engine.Lifecycle.RequestCancellation(ctx, sale.ID, sales.CancellationInput{
		Type: "BUYER_WITHDRAWAL", Reason: "relocation", RefundType: sales.RefundNone, RequestedBy: "clerk-1",
	})
	require.NoError(t, err)

	_, err = f.engine.Ledger.PlanSchedule(ctx, sale.ID, 12, march1, "clerk-1")
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeInvalidTransition, sales.CodeOf(err))

	list, err := f.engine.Ledger.Installments(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestLedger_ApplyPayment_PartialThenFull(t *testing.T) {
	// GIVEN: Installment 1 owes 7,996.39
	// WHEN: 3,000 is paid, then the remaining 4,996.39
	// THEN: PARTIAL, then PAID with the payment date set

	f := newFixture(t)
	ctx := context.Background()
	_, installments := f.scheduledSale(t)
	id := installments[0].ID

	inst, err := f.engine.Ledger.ApplyPayment(ctx, id, d("3000"), march1)
	require.NoError(t, err)
	assert.Equal(t, sales.InstallmentPartial, inst.State)
	assert.True(t, inst.PaidAmount.Equal(d("3000")))
	assert.Nil(t, inst.PaymentDate)

	paidOn := march1.AddDate(0, 0, 5)
	inst, err = f.engine.Ledger.ApplyPayment(ctx, id, d("4996.39"), paidOn)
	require.NoError(t, err)
	assert.Equal(t, sales.InstallmentPaid, inst.State)
	assert.True(t, inst.PaidAmount.Equal(inst.Amount))
	require.NotNil(t, inst.PaymentDate)
	assert.Equal(t, paidOn, *inst.PaymentDate)
}

func TestLedger_ApplyPayment_Overpayment_Rejected(t *testing.T) {
	// GIVEN: Installment 1 has 1,000 paid
	// WHEN: Paying one cent more than what remains
	// THEN: INVALID_PAYMENT and nothing changes

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)
	id := installments[0].ID

	_, err := f.engine.Ledger.ApplyPayment(ctx, id, d("1000"), march1)
	require.NoError(t, err)

	_, err = f.engine.Ledger.ApplyPayment(ctx, id, d("6996.40"), march1)
	assert.ErrorIs(t, err, sales.ErrValidation)
	assert.Equal(t, sales.CodeInvalidPayment, sales.CodeOf(err))

	inst := f.installment(t, sale.ID, 1)
	assert.True(t, inst.PaidAmount.Equal(d("1000")))
	assert.Equal(t, sales.InstallmentPartial, inst.State)
}

func TestLedger_ApplyPayment_InvalidDelta(t *testing.T) {
	f := newFixture(t)
	_, installments := f.scheduledSale(t)

	for _, delta := range []string{"0", "-10", "0.001"} {
		t.Run(delta, func(t *testing.T) {
			_, err := f.engine.Ledger.ApplyPayment(context.Background(), installments[0].ID, d(delta), march1)
			assert.ErrorIs(t, err, sales.ErrValidation)
			assert.Equal(t, sales.CodeInvalidPayment, sales.CodeOf(err))
		})
	}
}

func TestLedger_ApplyPayment_UnknownInstallment(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Ledger.ApplyPayment(context.Background(), "nope", d("10"), march1)
	assert.ErrorIs(t, err, sales.ErrNotFound)
	assert.True(t, sales.IsNotFound(err))
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

func TestLedger_OverdueSweep_OnRead(t *testing.T) {
	// GIVEN: A schedule starting today
	// WHEN: Reading it two and a half months later
	// THEN: The first two installments are OVERDUE, the rest PENDING

	f := newFixture(t)
	sale, _ := f.scheduledSale(t)

	f.clock.Advance(75 * 24 * time.Hour)

	list, err := f.engine.Ledger.Installments(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.InstallmentOverdue, list[0].State)
	assert.Equal(t, sales.InstallmentOverdue, list[1].State)
	for _, inst := range list[2:] {
		assert.Equal(t, sales.InstallmentPending, inst.State, "installment %d", inst.Number)
	}
}

func TestLedger_OverdueSweep_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scheduledSale(t)

	asOf := march1.AddDate(0, 3, 1)
	n, err := f.engine.Ledger.RefreshOverdueStates(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.engine.Ledger.RefreshOverdueStates(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep changes nothing")
}

func TestLedger_OverdueSweep_NeverReverts(t *testing.T) {
	// GIVEN: Installment 1 is OVERDUE
	// WHEN: Sweeping again with an earlier asOf
	// THEN: It stays OVERDUE; a partial payment makes it PARTIAL

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.RefreshOverdueStates(ctx, march1.AddDate(0, 1, 1))
	require.NoError(t, err)

	_, err = f.engine.Ledger.RefreshOverdueStates(ctx, march1)
	require.NoError(t, err)
	assert.Equal(t, sales.InstallmentOverdue, f.installment(t, sale.ID, 1).State)

	inst, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, d("100"), march1)
	require.NoError(t, err)
	assert.Equal(t, sales.InstallmentPartial, inst.State)
}

func TestLedger_OverdueSweep_SkipsPartialAndPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, installments[0].Amount, march1)
	require.NoError(t, err)
	_, err = f.engine.Ledger.ApplyPayment(ctx, installments[1].ID, d("10"), march1)
	require.NoError(t, err)

	_, err = f.engine.Ledger.RefreshOverdueStates(ctx, march1.AddDate(1, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, sales.InstallmentPaid, f.installment(t, sale.ID, 1).State)
	assert.Equal(t, sales.InstallmentPartial, f.installment(t, sale.ID, 2).State)
	assert.Equal(t, sales.InstallmentOverdue, f.installment(t, sale.ID, 3).State)
}

// =============================================================================
// REMAINDER / SUMMARY
// =============================================================================

func TestLedger_UnpaidRemainder(t *testing.T) {
	// GIVEN: The 90,000 schedule totals 95,956.69
	// WHEN: Installment 1 is paid in full and installment 2 partially
	// THEN: 11 installments remain, owing 95,956.69 − 7,996.39 − 500

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, d("7996.39"), march1)
	require.NoError(t, err)
	_, err = f.engine.Ledger.ApplyPayment(ctx, installments[1].ID, d("500"), march1)
	require.NoError(t, err)

	rem, err := f.engine.Ledger.UnpaidRemainder(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, rem.Installments, 11)
	assert.Equal(t, 2, rem.Installments[0].Number)
	assert.True(t, rem.Outstanding.Equal(d("87460.30")), "outstanding: %s", rem.Outstanding)
}

func TestLedger_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	_, err := f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, d("7996.39"), march1)
	require.NoError(t, err)

	s, err := f.engine.Ledger.Summary(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, s.Count)
	assert.Equal(t, 1, s.ByState[sales.InstallmentPaid])
	assert.Equal(t, 11, s.ByState[sales.InstallmentPending])
	assert.True(t, s.TotalAmount.Equal(d("95956.69")), "total: %s", s.TotalAmount)
	assert.True(t, s.TotalPaid.Equal(d("7996.39")))
	assert.True(t, s.Outstanding.Equal(d("87960.30")))
	require.NotNil(t, s.NextDue)
	assert.Equal(t, 2, s.NextDue.Number)
}
