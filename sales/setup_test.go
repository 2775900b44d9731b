package sales_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/sales"
	"github.com/warp/sales-engine/sales/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march1 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// testClock is a settable clock shared by every service of an engine.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(dur)
}

type fixture struct {
	engine *sales.Engine
	store  *store.Memory
	clock  *testClock
}

func newFixture(t *testing.T, opts ...sales.Option) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clock := &testClock{t: march1}
	all := append([]sales.Option{sales.WithClock(clock.Now), sales.WithAuditLog(mem)}, opts...)
	return &fixture{
		engine: sales.NewEngine(mem, all...),
		store:  mem,
		clock:  clock,
	}
}

// financedSale is 100,000 with 10,000 down: 90,000 financed at 12%, monthly FRENCH.
func financedSale(unit sales.UnitRef) sales.CreateSaleRequest {
	return sales.CreateSaleRequest{
		Unit:             unit,
		BuyerID:          "buyer-1",
		SellerID:         "seller-1",
		TotalPrice:       d("100000"),
		DownPayment:      d("10000"),
		Mode:             sales.ModeInstallments,
		Model:            amortization.French,
		AnnualRate:       d("12"),
		Frequency:        amortization.Monthly,
		CommissionAmount: d("1000"),
		Actor:            "clerk-1",
	}
}

func (f *fixture) newUnit(t *testing.T) sales.UnitRef {
	t.Helper()
	ref := sales.UnitRef{Kind: sales.UnitLot, ID: sales.UnitID("lot-" + uuid.NewString()[:8])}
	_, err := f.engine.Lifecycle.RegisterUnit(context.Background(), sales.Unit{Ref: ref, Label: "Lot", ProjectID: "project-1"})
	require.NoError(t, err)
	return ref
}

func (f *fixture) createSale(t *testing.T, mutate func(*sales.CreateSaleRequest)) *sales.Sale {
	t.Helper()
	req := financedSale(f.newUnit(t))
	if mutate != nil {
		mutate(&req)
	}
	sale, err := f.engine.Lifecycle.CreateSale(context.Background(), req)
	require.NoError(t, err)
	return sale
}

func (f *fixture) approvedSale(t *testing.T, mutate func(*sales.CreateSaleRequest)) *sales.Sale {
	t.Helper()
	sale := f.createSale(t, mutate)
	approved, err := f.engine.Lifecycle.Approve(context.Background(), sale.ID, "manager-1")
	require.NoError(t, err)
	return approved
}

// scheduledSale is an approved sale with its 12 monthly installments
// starting today, so nothing is overdue yet.
func (f *fixture) scheduledSale(t *testing.T) (*sales.Sale, []sales.Installment) {
	t.Helper()
	sale := f.approvedSale(t, nil)
	installments, err := f.engine.Ledger.PlanSchedule(context.Background(), sale.ID, 12, f.clock.Now(), "clerk-1")
	require.NoError(t, err)
	require.Len(t, installments, 12)
	return sale, installments
}

func (f *fixture) installment(t *testing.T, saleID sales.SaleID, number int) sales.Installment {
	t.Helper()
	list, err := f.engine.Ledger.Installments(context.Background(), saleID)
	require.NoError(t, err)
	for _, inst := range list {
		if inst.Number == number {
			return inst
		}
	}
	t.Fatalf("installment %d not found", number)
	return sales.Installment{}
}

func (f *fixture) unitState(t *testing.T, ref sales.UnitRef) sales.UnitState {
	t.Helper()
	unit, err := f.store.GetUnit(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, unit)
	return unit.State
}
