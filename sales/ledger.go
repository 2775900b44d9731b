/*
ledger.go - Installment ledger

PURPOSE:
  Persists a generated schedule as installments and keeps each one
  consistent as money comes in.

INVARIANTS:
  - 0 ≤ PaidAmount ≤ Amount, always. An overpayment is rejected, never clamped.
  - PAID ⇒ PaidAmount ≥ Amount.
  - OVERDUE ⇒ PaidAmount < Amount and DueDate < now.
  - The overdue sweep only moves PENDING → OVERDUE. Nothing here moves an
    installment back from OVERDUE to PENDING.

READ-TIME SWEEP:
  Every read (Installments, UnpaidRemainder, Summary) first runs the overdue
  sweep for the sale, so a listing is never staler than the call itself.
  RefreshOverdueStates sweeps every sale and is what the periodic scheduler
  calls. Both are idempotent.

SEE ALSO:
  - amortization/amortization.go: schedule generation
  - reprogram.go: rewrites the unpaid part of the ledger
*/
package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
)

type InstallmentLedger struct {
	d *deps
}

func NewInstallmentLedger(store TxStore, opts ...Option) *InstallmentLedger {
	return &InstallmentLedger{d: newDeps(store, opts)}
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

// Materialize stores schedule as the sale's installments 1..n.
func (l *InstallmentLedger) Materialize(ctx context.Context, saleID SaleID, schedule []amortization.Entry, actor ActorID) ([]Installment, error) {
	if len(schedule) == 0 {
		return nil, validationError(CodeInvalidInput, "schedule must contain at least one period")
	}

	var created []Installment
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, saleID)
		if err != nil {
			return err
		}
		created, err = materializeIn(ctx, repo, sale, schedule)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.d.record(ctx, actor, AuditScheduleMaterialized, saleID, map[string]any{
		"installments": len(created),
	})
	return created, nil
}

// PlanSchedule generates the schedule from the sale's own financing terms
// and materializes it.
func (l *InstallmentLedger) PlanSchedule(ctx context.Context, saleID SaleID, periods int, start time.Time, actor ActorID) ([]Installment, error) {
	var created []Installment
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, saleID)
		if err != nil {
			return err
		}
		schedule, err := amortization.Generate(amortization.Input{
			Principal:  sale.FinancedAmount(),
			AnnualRate: sale.AnnualRate,
			Periods:    periods,
			Frequency:  sale.Frequency,
			Model:      sale.Model,
			StartDate:  start,
		})
		if err != nil {
			return validationError(CodeInvalidInput, "%v", err)
		}
		created, err = materializeIn(ctx, repo, sale, schedule)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.d.record(ctx, actor, AuditScheduleMaterialized, saleID, map[string]any{
		"installments": len(created),
		"periods":      periods,
		"start":        start.Format(time.DateOnly),
	})
	return created, nil
}

func materializeIn(ctx context.Context, repo Repository, sale *Sale, schedule []amortization.Entry) ([]Installment, error) {
	if sale.Mode == ModeCash {
		return nil, validationError(CodeInvalidInput, "sale %s is paid in cash and carries no schedule", sale.ID)
	}
	if !sale.State.Financeable() {
		return nil, conflictError(CodeInvalidTransition, "schedule cannot be materialized while sale %s is %s", sale.ID, sale.State)
	}

	existing, err := repo.ListInstallments(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, conflictError(CodeAlreadyExists, "sale %s already has %d installments", sale.ID, len(existing))
	}

	installments := make([]Installment, 0, len(schedule))
	for _, e := range schedule {
		installments = append(installments, Installment{
			ID:           NewInstallmentID(),
			SaleID:       sale.ID,
			Number:       e.Period,
			DueDate:      e.DueDate,
			Amount:       e.Total,
			Capital:      e.Capital,
			Interest:     e.Interest,
			PriorBalance: e.PriorBalance,
			PostBalance:  e.PostBalance,
			PaidAmount:   decimal.Zero,
			State:        InstallmentPending,
		})
	}
	if err := repo.InsertInstallments(ctx, installments); err != nil {
		return nil, err
	}
	return installments, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ApplyPayment adds delta to the installment's paid amount.
// delta must be positive and no larger than what remains.
func (l *InstallmentLedger) ApplyPayment(ctx context.Context, id InstallmentID, delta decimal.Decimal, paymentDate time.Time) (*Installment, error) {
	delta = delta.Round(2)
	if !delta.IsPositive() {
		return nil, validationError(CodeInvalidPayment, "payment amount must be positive, got %s", delta.StringFixed(2))
	}

	inst, err := l.d.store.GetInstallment(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, notFoundError("installment", id)
	}

	var updated Installment
	err = l.d.store.WithSaleLock(ctx, inst.SaleID, func(repo Repository) error {
		current, err := repo.GetInstallment(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return notFoundError("installment", id)
		}
		sale, err := loadSale(ctx, repo, current.SaleID)
		if err != nil {
			return err
		}
		if !sale.State.Financeable() {
			return conflictError(CodeInvalidTransition, "payments are not accepted while sale %s is %s", sale.ID, sale.State)
		}

		remaining := current.Remaining()
		if delta.GreaterThan(remaining) {
			return validationError(CodeInvalidPayment,
				"payment of %s exceeds remaining balance %s of installment %d",
				delta.StringFixed(2), remaining.StringFixed(2), current.Number)
		}

		current.PaidAmount = current.PaidAmount.Add(delta)
		switch {
		case current.PaidAmount.GreaterThanOrEqual(current.Amount):
			current.State = InstallmentPaid
			if current.PaymentDate == nil {
				pd := paymentDate
				current.PaymentDate = &pd
			}
		case current.PaidAmount.IsPositive():
			current.State = InstallmentPartial
		}

		updated = *current
		return repo.UpdateInstallment(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	l.d.logger.Info("payment applied",
		"installment_id", id, "sale_id", updated.SaleID, "amount", delta.StringFixed(2), "state", updated.State)
	return &updated, nil
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// RefreshOverdueStates moves every PENDING installment due before asOf to OVERDUE.
func (l *InstallmentLedger) RefreshOverdueStates(ctx context.Context, asOf time.Time) (int, error) {
	var n int
	err := l.d.store.WithTx(ctx, func(repo Repository) error {
		var err error
		n, err = repo.MarkOverdue(ctx, nil, asOf)
		return err
	})
	return n, err
}

// sweptInstallments sweeps one sale and returns its installments.
func (l *InstallmentLedger) sweptInstallments(ctx context.Context, saleID SaleID) ([]Installment, error) {
	var list []Installment
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		if _, err := loadSale(ctx, repo, saleID); err != nil {
			return err
		}
		if _, err := repo.MarkOverdue(ctx, &saleID, l.d.now()); err != nil {
			return err
		}
		var err error
		list, err = repo.ListInstallments(ctx, saleID)
		return err
	})
	return list, err
}

// =============================================================================
// READS
// =============================================================================

// Installments lists the sale's installments in number order.
func (l *InstallmentLedger) Installments(ctx context.Context, saleID SaleID) ([]Installment, error) {
	return l.sweptInstallments(ctx, saleID)
}

// Remainder is the unpaid part of a sale's schedule.
type Remainder struct {
	Installments []Installment
	Outstanding  decimal.Decimal
}

// UnpaidRemainder returns every installment not yet PAID and the sum still owed on them.
func (l *InstallmentLedger) UnpaidRemainder(ctx context.Context, saleID SaleID) (Remainder, error) {
	list, err := l.sweptInstallments(ctx, saleID)
	if err != nil {
		return Remainder{}, err
	}
	return unpaidRemainder(list), nil
}

func unpaidRemainder(list []Installment) Remainder {
	r := Remainder{Outstanding: decimal.Zero}
	for _, inst := range list {
		if inst.State == InstallmentPaid {
			continue
		}
		r.Installments = append(r.Installments, inst)
		r.Outstanding = r.Outstanding.Add(inst.Remaining())
	}
	return r
}

// ScheduleSummary counts installments by state and totals the money.
type ScheduleSummary struct {
	SaleID      SaleID
	Count       int
	ByState     map[InstallmentState]int
	TotalAmount decimal.Decimal
	TotalPaid   decimal.Decimal
	Outstanding decimal.Decimal
	NextDue     *Installment
}

func (l *InstallmentLedger) Summary(ctx context.Context, saleID SaleID) (ScheduleSummary, error) {
	list, err := l.sweptInstallments(ctx, saleID)
	if err != nil {
		return ScheduleSummary{}, err
	}

	s := ScheduleSummary{
		SaleID:      saleID,
		Count:       len(list),
		ByState:     make(map[InstallmentState]int),
		TotalAmount: decimal.Zero,
		TotalPaid:   decimal.Zero,
		Outstanding: decimal.Zero,
	}
	for i, inst := range list {
		s.ByState[inst.State]++
		s.TotalAmount = s.TotalAmount.Add(inst.Amount)
		s.TotalPaid = s.TotalPaid.Add(inst.PaidAmount)
		s.Outstanding = s.Outstanding.Add(inst.Remaining())
		if s.NextDue == nil && inst.State != InstallmentPaid {
			s.NextDue = &list[i]
		}
	}
	return s, nil
}
