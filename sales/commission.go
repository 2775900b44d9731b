/*
commission.go - Commission reconciliation ledger

PURPOSE:
  Records payouts to the seller against the sale's commission pool and
  guarantees the pool is never overdrawn.

RULES:
  - Pool ≤ 0                       → NO_COMMISSION
  - amount ≤ 0                     → INVALID_AMOUNT
  - alreadyPaid + amount > pool    → EXCEEDS_POOL, with the remaining allowance
  - alreadyPaid + amount ≥ pool    → type FULL, otherwise PARTIAL

  The sum read and the insert share one sale lock, so two concurrent
  payments cannot both pass the pool check.

RECEIPTS:
  Uploaded after the payment commits, in parallel, each bounded by its own
  timeout. An upload failure never rolls back the payment; the result
  carries a PartialReceiptsError saying how many receipts made it.

SEE ALSO:
  - docstore/: DocumentStore implementations
*/
package sales

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type CommissionLedger struct {
	d *deps
}

func NewCommissionLedger(store TxStore, opts ...Option) *CommissionLedger {
	return &CommissionLedger{d: newDeps(store, opts)}
}

// Receipt is one file to attach to a commission payment.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CommissionPaymentRequest struct {
	SaleID       SaleID
	Amount       decimal.Decimal
	PaymentDate  time.Time
	Method       string
	Observations *string
	Actor        ActorID
	Receipts     []Receipt
}

type CommissionResult struct {
	Payment   CommissionPayment
	Remaining decimal.Decimal
	// Warning is set when the payment committed but some receipts did not attach.
	Warning *PartialReceiptsError
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

func (c *CommissionLedger) RecordPayment(ctx context.Context, req CommissionPaymentRequest) (*CommissionResult, error) {
	amount := req.Amount.Round(2)
	if req.Method == "" {
		return nil, validationError(CodeInvalidInput, "payment method is required")
	}

	var (
		payment   CommissionPayment
		remaining decimal.Decimal
	)
	err := c.d.store.WithSaleLock(ctx, req.SaleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, req.SaleID)
		if err != nil {
			return err
		}
		if !sale.State.Financeable() {
			return conflictError(CodeInvalidTransition,
				"commission cannot be paid while sale %s is %s", sale.ID, sale.State)
		}
		pool := sale.CommissionAmount
		if !pool.IsPositive() {
			return validationError(CodeNoCommission, "sale %s has no commission to pay", sale.ID)
		}
		if !amount.IsPositive() {
			return validationError(CodeInvalidAmount, "commission payment must be positive, got %s", amount.StringFixed(2))
		}

		existing, err := repo.ListCommissionPayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		paid := sumPayments(existing)
		if paid.Add(amount).GreaterThan(pool) {
			return &PoolExceededError{
				SaleID:    sale.ID,
				Pool:      pool,
				Paid:      paid,
				Requested: amount,
				Remaining: pool.Sub(paid),
			}
		}

		typ := CommissionPartial
		if paid.Add(amount).GreaterThanOrEqual(pool) {
			typ = CommissionFull
		}
		payment = CommissionPayment{
			ID:           NewCommissionPaymentID(),
			SaleID:       sale.ID,
			Amount:       amount,
			PaymentDate:  req.PaymentDate,
			Method:       req.Method,
			Type:         typ,
			Observations: req.Observations,
			CreatedAt:    c.d.now(),
		}
		remaining = pool.Sub(paid).Sub(amount)
		return repo.InsertCommissionPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	result := &CommissionResult{Payment: payment, Remaining: remaining}
	if len(req.Receipts) > 0 {
		refs, failures := c.attachReceipts(ctx, payment, req.Receipts)
		result.Payment.Receipts = refs
		if len(failures) > 0 {
			result.Warning = &PartialReceiptsError{
				PaymentID: payment.ID,
				Attached:  len(refs),
				Total:     len(req.Receipts),
				Failures:  failures,
			}
			c.d.logger.Warn("receipts partially attached",
				"payment_id", payment.ID, "attached", len(refs), "total", len(req.Receipts))
		}
	}

	c.d.record(ctx, req.Actor, AuditCommissionRecorded, req.SaleID, map[string]any{
		"payment_id": payment.ID,
		"amount":     amount.StringFixed(2),
		"type":       payment.Type,
		"remaining":  remaining.StringFixed(2),
	})
	if payment.Type == CommissionFull {
		c.d.notify(ctx, EventCommissionCompleted, req.SaleID, map[string]any{
			"payment_id": payment.ID,
		})
	}
	return result, nil
}

// attachReceipts uploads receipts and links the stored ones to the payment.
// Returned refs keep the order of the input.
func (c *CommissionLedger) attachReceipts(ctx context.Context, payment CommissionPayment, receipts []Receipt) ([]ReceiptRef, []ReceiptFailure) {
	if c.d.documents == nil {
		failures := make([]ReceiptFailure, len(receipts))
		for i, r := range receipts {
			failures[i] = ReceiptFailure{Filename: r.Filename, Err: fmt.Errorf("no document store configured")}
		}
		return nil, failures
	}

	var (
		mu       sync.Mutex
		refs     = make([]ReceiptRef, len(receipts))
		ok       = make([]bool, len(receipts))
		failures []ReceiptFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.d.receiptParallelism)
	for i, r := range receipts {
		g.Go(func() error {
			ref, err := c.uploadReceipt(gctx, payment, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, ReceiptFailure{Filename: r.Filename, Err: err})
				return nil
			}
			refs[i], ok[i] = ref, true
			return nil
		})
	}
	_ = g.Wait()

	attached := make([]ReceiptRef, 0, len(receipts))
	for i := range receipts {
		if ok[i] {
			attached = append(attached, refs[i])
		}
	}
	return attached, failures
}

func (c *CommissionLedger) uploadReceipt(ctx context.Context, payment CommissionPayment, r Receipt) (ReceiptRef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.d.receiptTimeout)
	defer cancel()

	ref, err := c.d.documents.Store(ctx, r.Data, DocumentMeta{
		SaleID:      payment.SaleID,
		PaymentID:   payment.ID,
		Filename:    r.Filename,
		ContentType: r.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", r.Filename, err)
	}
	err = c.d.store.WithSaleLock(ctx, payment.SaleID, func(repo Repository) error {
		return repo.AttachReceipt(ctx, payment.ID, ref)
	})
	if err != nil {
		return "", fmt.Errorf("attaching %s: %w", r.Filename, err)
	}
	return ref, nil
}

func sumPayments(payments []CommissionPayment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// =============================================================================
// SUMMARY
// =============================================================================

type CommissionSummary struct {
	SaleID    SaleID
	Pool      decimal.Decimal
	Paid      decimal.Decimal
	Remaining decimal.Decimal
	Complete  bool
	Payments  []CommissionPayment
}

func (c *CommissionLedger) Summary(ctx context.Context, saleID SaleID) (CommissionSummary, error) {
	sale, err := c.d.store.GetSale(ctx, saleID)
	if err != nil {
		return CommissionSummary{}, err
	}
	if sale == nil {
		return CommissionSummary{}, notFoundError("sale", saleID)
	}
	payments, err := c.d.store.ListCommissionPayments(ctx, saleID)
	if err != nil {
		return CommissionSummary{}, err
	}
	paid := sumPayments(payments)
	return CommissionSummary{
		SaleID:    saleID,
		Pool:      sale.CommissionAmount,
		Paid:      paid,
		Remaining: sale.CommissionAmount.Sub(paid),
		Complete:  sale.CommissionAmount.IsPositive() && paid.GreaterThanOrEqual(sale.CommissionAmount),
		Payments:  payments,
	}, nil
}
