/*
reprogram.go - Reprogramming engine

PURPOSE:
  Changes the financing of an approved sale while none of its installments
  is settled: new plan terms, per-installment discounts, direct edits of an
  installment's amount or due date, and a recalculation of the unpaid
  schedule when the terms change.

PRECONDITIONS (checked inside the sale lock):
  1. Sale is APPROVED.
  2. No installment of the sale is PAID. One settled installment blocks
     the whole call.

STEPS (one unit of work, in this order):
  1. Plan change      model / rate / frequency copied onto the sale
  2. Discounts        amount' = max(paid, amount - discount)
  3. Modifications    amount and due date overwritten
  4. Recalculation    only when the plan touched model, rate or frequency

ITEM POLICY:
  Abort-all. A discount or modification naming an installment number the
  sale does not have rejects the whole call with INVALID_INPUT and nothing
  is written. The error names the offending item.

  An edit that leaves nothing owed settles the installment: it becomes
  PAID with the edit date as payment date, and blocks later reprogramming
  like any other PAID installment.

RECALCULATION:
  The outstanding sum and count of unpaid installments go back through the
  calculator with start = now. Each unpaid installment, in number order,
  takes the new capital, interest and balances; its amount becomes the new
  period total plus whatever was already paid on it, so PaidAmount never
  exceeds Amount. Due dates are kept.

SEE ALSO:
  - ledger.go: unpaid remainder
  - amortization/amortization.go: schedule generation
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
)

type ReprogrammingEngine struct {
	d *deps
}

func NewReprogrammingEngine(store TxStore, opts ...Option) *ReprogrammingEngine {
	return &ReprogrammingEngine{d: newDeps(store, opts)}
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

type DiscountInput struct {
	InstallmentNumber int
	Amount            decimal.Decimal
	Reason            string
}

type ModificationInput struct {
	InstallmentNumber int
	NewAmount         decimal.Decimal
	NewDueDate        time.Time
}

type ReprogramRequest struct {
	SaleID        SaleID
	Actor         ActorID
	Reason        string
	Plan          PlanChange
	Discounts     []DiscountInput
	Modifications []ModificationInput
}

func (r ReprogramRequest) validate() error {
	if r.Reason == "" {
		return validationError(CodeInvalidInput, "reprogramming reason is required")
	}
	if r.Plan.Empty() && len(r.Discounts) == 0 && len(r.Modifications) == 0 {
		return validationError(CodeInvalidInput, "reprogramming changes nothing")
	}
	if r.Plan.Model != nil && !r.Plan.Model.Valid() {
		return validationError(CodeInvalidInput, "unknown amortization model %q", *r.Plan.Model)
	}
	if r.Plan.Frequency != nil && !r.Plan.Frequency.Valid() {
		return validationError(CodeInvalidInput, "unknown frequency %q", *r.Plan.Frequency)
	}
	if r.Plan.AnnualRate != nil && r.Plan.AnnualRate.IsNegative() {
		return validationError(CodeInvalidInput, "annual rate must not be negative, got %s", r.Plan.AnnualRate)
	}
	for i, dc := range r.Discounts {
		if !dc.Amount.IsPositive() {
			return validationError(CodeInvalidInput, "discount %d: amount must be positive, got %s", i+1, dc.Amount)
		}
	}
	for i, m := range r.Modifications {
		if m.NewAmount.IsNegative() {
			return validationError(CodeInvalidInput, "modification %d: amount must not be negative, got %s", i+1, m.NewAmount)
		}
		if m.NewDueDate.IsZero() {
			return validationError(CodeInvalidInput, "modification %d: due date is required", i+1)
		}
	}
	return nil
}

type ReprogramResult struct {
	Event        ReprogrammingEvent
	Installments []Installment
}

// =============================================================================
// REPROGRAM
// =============================================================================

func (e *ReprogrammingEngine) Reprogram(ctx context.Context, req ReprogramRequest) (*ReprogramResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result ReprogramResult
	err := e.d.store.WithSaleLock(ctx, req.SaleID, func(repo Repository) error {
		now := e.d.now()

		sale, err := loadSale(ctx, repo, req.SaleID)
		if err != nil {
			return err
		}
		if sale.State != SaleApproved {
			return conflictError(CodeReprogrammingBlocked,
				"sale %s is %s; only APPROVED sales can be reprogrammed", sale.ID, sale.State)
		}

		if _, err := repo.MarkOverdue(ctx, &sale.ID, now); err != nil {
			return err
		}
		installments, err := repo.ListInstallments(ctx, sale.ID)
		if err != nil {
			return err
		}
		for _, inst := range installments {
			if inst.State == InstallmentPaid {
				return conflictError(CodeReprogrammingBlocked,
					"installment %d of sale %s is PAID; a sale with settled installments cannot be reprogrammed",
					inst.Number, sale.ID)
			}
		}

		byNumber := make(map[int]*Installment, len(installments))
		for i := range installments {
			byNumber[installments[i].Number] = &installments[i]
		}
		lookup := func(kind string, idx, number int) (*Installment, error) {
			inst, ok := byNumber[number]
			if !ok {
				return nil, validationError(CodeInvalidInput,
					"%s %d: installment %d not found on sale %s", kind, idx+1, number, sale.ID)
			}
			return inst, nil
		}

		event := ReprogrammingEvent{
			ID:        NewReprogrammingID(),
			SaleID:    sale.ID,
			Reason:    req.Reason,
			Plan:      req.Plan,
			CreatedAt: now,
			CreatedBy: req.Actor,
		}
		touched := make(map[int]bool)

		// 1. Plan change
		if req.Plan.Model != nil {
			sale.Model = *req.Plan.Model
		}
		if req.Plan.AnnualRate != nil {
			sale.AnnualRate = *req.Plan.AnnualRate
		}
		if req.Plan.Frequency != nil {
			sale.Frequency = *req.Plan.Frequency
		}

		// 2. Discounts
		for i, dc := range req.Discounts {
			inst, err := lookup("discount", i, dc.InstallmentNumber)
			if err != nil {
				return err
			}
			amount := decimal.Max(inst.PaidAmount, inst.Amount.Sub(dc.Amount.Round(2)))
			inst.Amount = decimal.Max(decimal.Zero, amount)
			rederive(inst, now)
			touched[inst.Number] = true

			event.Discounts = append(event.Discounts, Discount{
				InstallmentID:     inst.ID,
				InstallmentNumber: inst.Number,
				Amount:            dc.Amount.Round(2),
				Reason:            dc.Reason,
			})
		}

		// 3. Direct modifications
		for i, m := range req.Modifications {
			inst, err := lookup("modification", i, m.InstallmentNumber)
			if err != nil {
				return err
			}
			newAmount := m.NewAmount.Round(2)
			if newAmount.LessThan(inst.PaidAmount) {
				return validationError(CodeInvalidInput,
					"modification %d: new amount %s of installment %d is below the %s already paid",
					i+1, newAmount.StringFixed(2), inst.Number, inst.PaidAmount.StringFixed(2))
			}
			event.Modifications = append(event.Modifications, Modification{
				InstallmentID:     inst.ID,
				InstallmentNumber: inst.Number,
				PreviousAmount:    inst.Amount,
				NewAmount:         newAmount,
				PreviousDueDate:   inst.DueDate,
				NewDueDate:        m.NewDueDate,
			})
			inst.Amount = newAmount
			inst.DueDate = m.NewDueDate
			rederive(inst, now)
			touched[inst.Number] = true
		}

		// 4. Recalculation
		if !req.Plan.Empty() {
			if err := recalculate(sale, installments, now); err != nil {
				return err
			}
			event.Recalculated = true
			for _, inst := range installments {
				touched[inst.Number] = true
			}
		}

		sale.UpdatedAt = now
		if err := repo.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		for _, inst := range installments {
			if !touched[inst.Number] {
				continue
			}
			if err := repo.UpdateInstallment(ctx, inst); err != nil {
				return fmt.Errorf("updating installment %d: %w", inst.Number, err)
			}
		}
		if err := repo.InsertReprogramming(ctx, event); err != nil {
			return err
		}

		result = ReprogramResult{Event: event, Installments: installments}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.d.record(ctx, req.Actor, AuditSaleReprogrammed, req.SaleID, map[string]any{
		"event_id":      result.Event.ID,
		"reason":        req.Reason,
		"discounts":     len(result.Event.Discounts),
		"modifications": len(result.Event.Modifications),
		"recalculated":  result.Event.Recalculated,
	})
	return &result, nil
}

// recalculate regenerates the unpaid tail of the schedule in place.
func recalculate(sale *Sale, installments []Installment, now time.Time) error {
	remainder := unpaidRemainder(installments)
	if len(remainder.Installments) == 0 {
		return nil
	}

	schedule, err := amortization.Generate(amortization.Input{
		Principal:  remainder.Outstanding,
		AnnualRate: sale.AnnualRate,
		Periods:    len(remainder.Installments),
		Frequency:  sale.Frequency,
		Model:      sale.Model,
		StartDate:  now,
	})
	if err != nil {
		return validationError(CodeInvalidInput, "recalculating schedule: %v", err)
	}

	k := 0
	for i := range installments {
		inst := &installments[i]
		if inst.State == InstallmentPaid {
			continue
		}
		entry := schedule[k]
		k++

		inst.Capital = entry.Capital
		inst.Interest = entry.Interest
		inst.PriorBalance = entry.PriorBalance
		inst.PostBalance = entry.PostBalance
		inst.Amount = entry.Total.Add(inst.PaidAmount)
		rederive(inst, now)
	}
	return nil
}

// rederive refreshes the state after an edit. An installment settled by a
// discount or a zero amount counts as paid on the day of the edit.
func rederive(inst *Installment, now time.Time) {
	inst.State = deriveState(*inst, now)
	if inst.State == InstallmentPaid && inst.PaymentDate == nil {
		at := now
		inst.PaymentDate = &at
	}
}

// deriveState recomputes an installment's state after its amount or due
// date was rewritten.
func deriveState(inst Installment, now time.Time) InstallmentState {
	switch {
	case inst.PaidAmount.GreaterThanOrEqual(inst.Amount):
		return InstallmentPaid
	case inst.PaidAmount.IsPositive():
		return InstallmentPartial
	case inst.DueDate.Before(now):
		return InstallmentOverdue
	default:
		return InstallmentPending
	}
}

// =============================================================================
// HISTORY
// =============================================================================

// History lists the sale's reprogramming events, oldest first.
func (e *ReprogrammingEngine) History(ctx context.Context, saleID SaleID) ([]ReprogrammingEvent, error) {
	sale, err := e.d.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, notFoundError("sale", saleID)
	}
	return e.d.store.ListReprogrammings(ctx, saleID)
}
