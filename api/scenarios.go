/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	sales for demos. Each scenario goes through the engine exactly as a
	client would: register a unit, create the sale, approve it, then plan,
	pay, reprogram or pay out commission.

AVAILABLE SCENARIOS:

	financed-lot:           FRENCH schedule, first installment paid, one partial,
	                        older ones overdue
	cemetery-german:        GERMAN biweekly schedule reprogrammed with a discount
	                        and a lower rate
	cash-commission:        Cash sale whose commission is paid out in two steps
	cancellation-requested: Approved sale with an open 50% refund cancellation

HOW SCENARIOS WORK:
 1. Register a fresh unit (ids carry a random suffix, so loads never clash)
 2. Create and approve the sale
 3. Run the scenario-specific operations

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "financed-lot"}

NOTE:

	Scenarios add data, they never reset the store. Only enabled when
	DEMO_SCENARIOS=true.

SEE ALSO:
  - handlers.go: Handler
  - server.go: Scenario routes
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "financed-lot",
		Name:        "Financed Lot",
		Description: "12 monthly FRENCH installments at 12%, one paid, one partial, some overdue",
		Category:    "installments",
	},
	{
		ID:          "cemetery-german",
		Name:        "Cemetery Unit, German Plan",
		Description: "24 biweekly GERMAN installments reprogrammed with a discount and a lower rate",
		Category:    "reprogramming",
	},
	{
		ID:          "cash-commission",
		Name:        "Cash Sale Commission",
		Description: "Cash sale whose commission pool is paid out in a partial and a final payment",
		Category:    "commission",
	},
	{
		ID:          "cancellation-requested",
		Name:        "Cancellation Requested",
		Description: "Approved sale with an open cancellation refunding half of the price",
		Category:    "lifecycle",
	},
}

const (
	demoClerk      sales.ActorID = "demo-clerk"
	demoManager    sales.ActorID = "demo-manager"
	demoAccountant sales.ActorID = "demo-accountant"
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	saleID, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		if _, ok := scenarioByID(req.ScenarioID); !ok {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"sale_id":  string(saleID),
	})
}

// LoadDemo loads every scenario once. Used at startup in demo mode.
func (h *Handler) LoadDemo(ctx context.Context) error {
	for _, s := range scenarios {
		if _, err := h.loadScenario(ctx, s.ID); err != nil {
			return fmt.Errorf("scenario %s: %w", s.ID, err)
		}
	}
	return nil
}

func scenarioByID(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

func (h *Handler) loadScenario(ctx context.Context, id string) (sales.SaleID, error) {
	var (
		saleID sales.SaleID
		err    error
	)
	switch id {
	case "financed-lot":
		saleID, err = h.loadFinancedLotScenario(ctx)
	case "cemetery-german":
		saleID, err = h.loadCemeteryGermanScenario(ctx)
	case "cash-commission":
		saleID, err = h.loadCashCommissionScenario(ctx)
	case "cancellation-requested":
		saleID, err = h.loadCancellationScenario(ctx)
	default:
		return "", fmt.Errorf("unknown scenario %q", id)
	}
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return saleID, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// approvedSale registers a fresh unit and walks a sale to APPROVED.
func (h *Handler) approvedSale(ctx context.Context, kind sales.UnitKind, label string, req sales.CreateSaleRequest) (*sales.Sale, error) {
	unit, err := h.Engine.Lifecycle.RegisterUnit(ctx, sales.Unit{
		Ref:       sales.UnitRef{Kind: kind, ID: sales.UnitID(fmt.Sprintf("demo-%s", uuid.NewString()[:8]))},
		Label:     label,
		ProjectID: "demo",
	})
	if err != nil {
		return nil, err
	}

	req.Unit = unit.Ref
	req.SellerID = "seller-demo"
	req.Actor = demoClerk
	sale, err := h.Engine.Lifecycle.CreateSale(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.Engine.Lifecycle.Approve(ctx, sale.ID, demoManager)
}

func (h *Handler) loadFinancedLotScenario(ctx context.Context) (sales.SaleID, error) {
	sale, err := h.approvedSale(ctx, sales.UnitLot, "Lot 14, Block C", sales.CreateSaleRequest{
		BuyerID:          "buyer-garcia",
		TotalPrice:       decimal.NewFromInt(100000),
		DownPayment:      decimal.NewFromInt(10000),
		Mode:             sales.ModeInstallments,
		Model:            amortization.French,
		AnnualRate:       decimal.NewFromInt(12),
		Frequency:        amortization.Monthly,
		CommissionAmount: decimal.NewFromInt(5000),
	})
	if err != nil {
		return "", err
	}

	// Start four months back so the first installments are already due.
	start := h.today().AddDate(0, -4, 0)
	list, err := h.Engine.Ledger.PlanSchedule(ctx, sale.ID, 12, start, demoClerk)
	if err != nil {
		return "", err
	}

	if _, err := h.Engine.Ledger.ApplyPayment(ctx, list[0].ID, list[0].Amount, list[0].DueDate); err != nil {
		return "", err
	}
	if _, err := h.Engine.Ledger.ApplyPayment(ctx, list[1].ID, decimal.NewFromInt(3000), list[1].DueDate); err != nil {
		return "", err
	}
	if _, err := h.Engine.Ledger.RefreshOverdueStates(ctx, h.today()); err != nil {
		return "", err
	}
	return sale.ID, nil
}

func (h *Handler) loadCemeteryGermanScenario(ctx context.Context) (sales.SaleID, error) {
	sale, err := h.approvedSale(ctx, sales.UnitCemeteryPlace, "Garden of Peace, Row 3, Place 7", sales.CreateSaleRequest{
		BuyerID:          "buyer-muller",
		TotalPrice:       decimal.NewFromInt(24000),
		DownPayment:      decimal.NewFromInt(4000),
		Mode:             sales.ModeInstallments,
		Model:            amortization.German,
		AnnualRate:       decimal.NewFromInt(8),
		Frequency:        amortization.Biweekly,
		CommissionAmount: decimal.NewFromInt(1200),
	})
	if err != nil {
		return "", err
	}

	if _, err := h.Engine.Ledger.PlanSchedule(ctx, sale.ID, 24, h.today(), demoClerk); err != nil {
		return "", err
	}

	rate := decimal.NewFromInt(6)
	_, err = h.Engine.Reprogram.Reprogram(ctx, sales.ReprogramRequest{
		SaleID: sale.ID,
		Actor:  demoManager,
		Reason: "Loyalty agreement with the family",
		Plan:   sales.PlanChange{AnnualRate: &rate},
		Discounts: []sales.DiscountInput{
			{InstallmentNumber: 1, Amount: decimal.NewFromInt(150), Reason: "Early signature"},
		},
	})
	if err != nil {
		return "", err
	}
	return sale.ID, nil
}

func (h *Handler) loadCashCommissionScenario(ctx context.Context) (sales.SaleID, error) {
	sale, err := h.approvedSale(ctx, sales.UnitLot, "Lot 2, Block A", sales.CreateSaleRequest{
		BuyerID:          "buyer-tanaka",
		TotalPrice:       decimal.NewFromInt(45000),
		DownPayment:      decimal.NewFromInt(45000),
		Mode:             sales.ModeCash,
		CommissionAmount: decimal.NewFromInt(2000),
	})
	if err != nil {
		return "", err
	}

	paidOn := h.today()
	for _, amount := range []int64{1200, 800} {
		_, err := h.Engine.Commissions.RecordPayment(ctx, sales.CommissionPaymentRequest{
			SaleID:      sale.ID,
			Amount:      decimal.NewFromInt(amount),
			PaymentDate: paidOn,
			Method:      "TRANSFER",
			Actor:       demoAccountant,
		})
		if err != nil {
			return "", err
		}
		paidOn = paidOn.Add(24 * time.Hour)
	}
	return sale.ID, nil
}

func (h *Handler) loadCancellationScenario(ctx context.Context) (sales.SaleID, error) {
	sale, err := h.approvedSale(ctx, sales.UnitLot, "Lot 9, Block B", sales.CreateSaleRequest{
		BuyerID:          "buyer-okafor",
		TotalPrice:       decimal.NewFromInt(60000),
		DownPayment:      decimal.NewFromInt(60000),
		Mode:             sales.ModeCash,
		CommissionAmount: decimal.NewFromInt(1500),
	})
	if err != nil {
		return "", err
	}

	pct := decimal.NewFromInt(50)
	_, err = h.Engine.Lifecycle.RequestCancellation(ctx, sale.ID, sales.CancellationInput{
		Type:             "BUYER_WITHDRAWAL",
		Reason:           "Buyer relocating abroad",
		RefundType:       sales.RefundPercentage,
		RefundPercentage: &pct,
		RequestedBy:      demoClerk,
	})
	if err != nil {
		return "", err
	}
	return sale.ID, nil
}
