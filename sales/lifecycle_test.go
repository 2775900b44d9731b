package sales_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// CREATE
// =============================================================================

func TestLifecycle_CreateSale(t *testing.T) {
	f := newFixture(t)
	sale := f.createSale(t, nil)

	assert.Equal(t, sales.SalePending, sale.State)
	assert.True(t, sale.FinancedAmount().Equal(d("90000")))
	assert.Equal(t, march1, sale.CreatedAt)
	assert.Equal(t, sales.UnitAvailable, f.unitState(t, sale.Unit), "unit is only held at approval")
}

func TestLifecycle_CreateSale_Invalid(t *testing.T) {
	f := newFixture(t)
	unit := f.newUnit(t)

	tests := []struct {
		name   string
		mutate func(*sales.CreateSaleRequest)
		kind   error
	}{
		{"negative price", func(r *sales.CreateSaleRequest) { r.TotalPrice = d("-1") }, sales.ErrValidation},
		{"down payment above price", func(r *sales.CreateSaleRequest) { r.DownPayment = d("100001") }, sales.ErrValidation},
		{"unknown mode", func(r *sales.CreateSaleRequest) { r.Mode = "BARTER" }, sales.ErrValidation},
		{"missing buyer", func(r *sales.CreateSaleRequest) { r.BuyerID = "" }, sales.ErrValidation},
		{"negative commission", func(r *sales.CreateSaleRequest) { r.CommissionAmount = d("-5") }, sales.ErrValidation},
		{"unknown unit", func(r *sales.CreateSaleRequest) { r.Unit.ID = "ghost" }, sales.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := financedSale(unit)
			tt.mutate(&req)
			_, err := f.engine.Lifecycle.CreateSale(context.Background(), req)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestLifecycle_CreateSale_SoldUnit(t *testing.T) {
	f := newFixture(t)
	sale := f.approvedSale(t, nil)

	_, err := f.engine.Lifecycle.CreateSale(context.Background(), financedSale(sale.Unit))
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeUnitUnavailable, sales.CodeOf(err))
}

func TestLifecycle_RegisterUnit_Duplicate(t *testing.T) {
	f := newFixture(t)
	ref := f.newUnit(t)

	_, err := f.engine.Lifecycle.RegisterUnit(context.Background(), sales.Unit{Ref: ref})
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeAlreadyExists, sales.CodeOf(err))
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestLifecycle_Approve(t *testing.T) {
	// GIVEN: A PENDING sale on an AVAILABLE unit
	// WHEN: A manager approves it
	// THEN: APPROVED with approver and date, unit SOLD, audited

	f := newFixture(t)
	ctx := context.Background()
	sale := f.createSale(t, nil)

	approved, err := f.engine.Lifecycle.Approve(ctx, sale.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, sales.SaleApproved, approved.State)
	require.NotNil(t, approved.ApproverID)
	assert.Equal(t, sales.ActorID("manager-1"), *approved.ApproverID)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, march1, *approved.ApprovedAt)
	assert.Equal(t, sales.UnitSold, f.unitState(t, sale.Unit))

	entries, err := f.store.AuditEntries(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, sales.AuditSaleCreated, entries[0].Action)
	assert.Equal(t, sales.AuditSaleApproved, entries[1].Action)
	assert.Equal(t, sales.ActorID("manager-1"), entries[1].ActorID)
}

func TestLifecycle_Approve_NotPending(t *testing.T) {
	f := newFixture(t)
	sale := f.approvedSale(t, nil)

	_, err := f.engine.Lifecycle.Approve(context.Background(), sale.ID, "manager-1")
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	assert.Equal(t, sales.CodeInvalidTransition, sales.CodeOf(err))
}

func TestLifecycle_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.createSale(t, nil)

	_, err := f.engine.Lifecycle.Reject(ctx, sale.ID, "manager-1", "  ")
	assert.ErrorIs(t, err, sales.ErrValidation)

	rejected, err := f.engine.Lifecycle.Reject(ctx, sale.ID, "manager-1", "buyer credit denied")
	require.NoError(t, err)
	assert.Equal(t, sales.SaleRejected, rejected.State)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "buyer credit denied", *rejected.RejectionReason)
	assert.Equal(t, sales.UnitAvailable, f.unitState(t, sale.Unit))

	_, err = f.engine.Lifecycle.Approve(ctx, sale.ID, "manager-1")
	assert.ErrorIs(t, err, sales.ErrStateConflict, "REJECTED is terminal")
}

func TestLifecycle_CompetingSales_NoDoubleRelease(t *testing.T) {
	// GIVEN: Two PENDING sales on the same unit
	// WHEN: The first is approved, then the second approved and rejected
	// THEN: The second approval fails and its rejection leaves the unit SOLD

	f := newFixture(t)
	ctx := context.Background()
	unit := f.newUnit(t)

	first, err := f.engine.Lifecycle.CreateSale(ctx, financedSale(unit))
	require.NoError(t, err)
	second, err := f.engine.Lifecycle.CreateSale(ctx, financedSale(unit))
	require.NoError(t, err)

	_, err = f.engine.Lifecycle.Approve(ctx, first.ID, "manager-1")
	require.NoError(t, err)

	_, err = f.engine.Lifecycle.Approve(ctx, second.ID, "manager-1")
	assert.Equal(t, sales.CodeUnitUnavailable, sales.CodeOf(err))

	_, err = f.engine.Lifecycle.Reject(ctx, second.ID, "manager-1", "unit taken")
	require.NoError(t, err)
	assert.Equal(t, sales.UnitSold, f.unitState(t, unit))
}

func TestLifecycle_Approve_AuditFailureDoesNotFail(t *testing.T) {
	ctrl := gomock.NewController(t)
	audit := sales.NewMockAuditLog(ctrl)
	audit.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("audit db down")).AnyTimes()

	f := newFixture(t, sales.WithAuditLog(audit))
	sale := f.createSale(t, nil)

	approved, err := f.engine.Lifecycle.Approve(context.Background(), sale.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, sales.SaleApproved, approved.State)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestLifecycle_RequestCancellation(t *testing.T) {
	// GIVEN: An APPROVED sale with a schedule
	// WHEN: A cancellation is requested with a 50% refund
	// THEN: A REQUESTED request exists, the sale is CANCELLATION_IN_PROGRESS,
	//       the pipeline is handed the request, and payments stop

	ctrl := gomock.NewController(t)
	pipeline := sales.NewMockCancellationPipeline(ctrl)
	pipeline.EXPECT().
		CancellationRequested(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req sales.CancellationRequest) error {
			assert.Equal(t, sales.CancellationRequested, req.State)
			return nil
		})

	f := newFixture(t, sales.WithCancellationPipeline(pipeline))
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)

	req, err := f.engine.Lifecycle.RequestCancellation(ctx, sale.ID, sales.CancellationInput{
		Type:             "BUYER_WITHDRAWAL",
		Reason:           "relocation",
		RefundType:       sales.RefundPercentage,
		RefundPercentage: ptr(d("50")),
		RequestedBy:      "clerk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, sales.CancellationRequested, req.State)
	require.NotNil(t, req.RefundPercentage)
	assert.True(t, req.RefundPercentage.Equal(d("50")))

	got, err := f.engine.Lifecycle.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.SaleCancellationInProgress, got.State)
	assert.Equal(t, sales.UnitSold, f.unitState(t, sale.Unit), "unit disposition belongs to the pipeline")

	list, err := f.engine.Lifecycle.Cancellations(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.engine.Ledger.ApplyPayment(ctx, installments[0].ID, d("10"), march1)
	assert.ErrorIs(t, err, sales.ErrStateConflict)
	_, err = f.engine.Commissions.RecordPayment(ctx, commissionReq(sale.ID, "10"))
	assert.ErrorIs(t, err, sales.ErrStateConflict)
}

func TestLifecycle_RequestCancellation_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.createSale(t, nil)
	approved := f.approvedSale(t, nil)

	valid := sales.CancellationInput{Type: "BUYER_WITHDRAWAL", Reason: "r", RefundType: sales.RefundNone}

	_, err := f.engine.Lifecycle.RequestCancellation(ctx, pending.ID, valid)
	assert.ErrorIs(t, err, sales.ErrStateConflict)

	tests := []struct {
		name string
		in   sales.CancellationInput
	}{
		{"missing reason", sales.CancellationInput{Type: "X", RefundType: sales.RefundNone}},
		{"percentage without value", sales.CancellationInput{Type: "X", Reason: "r", RefundType: sales.RefundPercentage}},
		{"percentage above 100", sales.CancellationInput{Type: "X", Reason: "r", RefundType: sales.RefundPercentage, RefundPercentage: ptr(d("101"))}},
		{"amount above price", sales.CancellationInput{Type: "X", Reason: "r", RefundType: sales.RefundAmount, RefundAmount: ptr(d("100000.01"))}},
		{"unknown refund type", sales.CancellationInput{Type: "X", Reason: "r", RefundType: "PARTIAL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Lifecycle.RequestCancellation(ctx, approved.ID, tt.in)
			assert.ErrorIs(t, err, sales.ErrValidation)
		})
	}

	got, err := f.engine.Lifecycle.GetSale(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.SaleApproved, got.State)
}

// =============================================================================
// EMERGENCY DELETION
// =============================================================================

func TestLifecycle_EmergencyDelete(t *testing.T) {
	// GIVEN: An approved sale with installments and a commission payment
	// WHEN: It is deleted through the override
	// THEN: The sale and children are gone, the unit is AVAILABLE, and it is audited

	f := newFixture(t)
	ctx := context.Background()
	sale, installments := f.scheduledSale(t)
	_, err := f.engine.Commissions.RecordPayment(ctx, commissionReq(sale.ID, "100"))
	require.NoError(t, err)

	err = f.engine.Lifecycle.EmergencyDelete(ctx, sale.ID, "admin-1", "")
	assert.ErrorIs(t, err, sales.ErrValidation)

	require.NoError(t, f.engine.Lifecycle.EmergencyDelete(ctx, sale.ID, "admin-1", "duplicate entry"))

	_, err = f.engine.Lifecycle.GetSale(ctx, sale.ID)
	assert.ErrorIs(t, err, sales.ErrNotFound)
	inst, err := f.store.GetInstallment(ctx, installments[0].ID)
	require.NoError(t, err)
	assert.Nil(t, inst)
	payments, err := f.store.ListCommissionPayments(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Equal(t, sales.UnitAvailable, f.unitState(t, sale.Unit))

	entries, err := f.store.AuditEntries(ctx, sale.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, sales.AuditSaleDeleted, last.Action)
	assert.Equal(t, "duplicate entry", last.Payload["reason"])
}
