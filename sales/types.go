/*
Package sales implements the financial lifecycle of a property sale.

PURPOSE:
  A sale of a lot or cemetery unit is approved or rejected, optionally
  financed through an installment schedule, reprogrammed while nothing is
  settled, and pays out a capped commission to its seller. This package owns
  those rules; storage, documents, notifications and audit persistence are
  collaborators behind interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Sale: the aggregate root, single entity for both unit kinds
  - UnitRef / Unit: the inventory unit a sale holds
  - Installment: one row of a materialized schedule
  - ReprogrammingEvent: append-only record of a plan change
  - CommissionPayment: one payout against the sale's commission pool
  - CancellationRequest: opened when an approved sale starts cancelling

MONEY:
  decimal.Decimal, two decimal places, half-up rounding.

SEE ALSO:
  - ledger.go: installment ledger
  - reprogram.go: reprogramming engine
  - commission.go: commission reconciliation
  - lifecycle.go: approval / rejection / cancellation
*/
package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	SaleID              string
	UnitID              string
	InstallmentID       string
	ReprogrammingID     string
	CommissionPaymentID string
	CancellationID      string
	ActorID             string
)

func NewSaleID() SaleID                           { return SaleID(uuid.NewString()) }
func NewInstallmentID() InstallmentID             { return InstallmentID(uuid.NewString()) }
func NewReprogrammingID() ReprogrammingID         { return ReprogrammingID(uuid.NewString()) }
func NewCommissionPaymentID() CommissionPaymentID { return CommissionPaymentID(uuid.NewString()) }
func NewCancellationID() CancellationID           { return CancellationID(uuid.NewString()) }

// =============================================================================
// INVENTORY UNIT
// =============================================================================

type UnitKind string

const (
	UnitLot           UnitKind = "LOT"
	UnitCemeteryPlace UnitKind = "CEMETERY_UNIT"
)

func (k UnitKind) Valid() bool { return k == UnitLot || k == UnitCemeteryPlace }

// UnitRef identifies the unit a sale is for.
type UnitRef struct {
	Kind UnitKind
	ID   UnitID
}

func (r UnitRef) String() string { return string(r.Kind) + ":" + string(r.ID) }

type UnitState string

const (
	UnitAvailable UnitState = "AVAILABLE"
	UnitSold      UnitState = "SOLD"
)

type Unit struct {
	Ref       UnitRef
	Label     string
	ProjectID string
	State     UnitState
}

// =============================================================================
// SALE
// =============================================================================

type PaymentMode string

const (
	ModeCash         PaymentMode = "CASH"
	ModeInstallments PaymentMode = "INSTALLMENTS"
)

type SaleState string

const (
	SalePending                SaleState = "PENDING"
	SaleApproved               SaleState = "APPROVED"
	SaleRejected               SaleState = "REJECTED"
	SaleCancellationInProgress SaleState = "CANCELLATION_IN_PROGRESS"
	SaleCancelled              SaleState = "CANCELLED"
)

// Financeable reports whether money may still be scheduled or recorded
// against the sale.
func (s SaleState) Financeable() bool {
	return s == SalePending || s == SaleApproved
}

type Sale struct {
	ID               SaleID
	Unit             UnitRef
	BuyerID          string
	SellerID         string
	TotalPrice       decimal.Decimal
	DownPayment      decimal.Decimal
	Mode             PaymentMode
	Model            amortization.Model
	AnnualRate       decimal.Decimal // nominal percentage
	Frequency        amortization.Frequency
	CommissionAmount decimal.Decimal
	State            SaleState
	ApproverID       *ActorID
	ApprovedAt       *time.Time
	RejectionReason  *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FinancedAmount is the principal the schedule amortizes.
func (s Sale) FinancedAmount() decimal.Decimal {
	return s.TotalPrice.Sub(s.DownPayment)
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type InstallmentState string

const (
	InstallmentPending InstallmentState = "PENDING"
	InstallmentPartial InstallmentState = "PARTIAL"
	InstallmentPaid    InstallmentState = "PAID"
	InstallmentOverdue InstallmentState = "OVERDUE"
)

type Installment struct {
	ID           InstallmentID
	SaleID       SaleID
	Number       int
	DueDate      time.Time
	Amount       decimal.Decimal
	Capital      decimal.Decimal
	Interest     decimal.Decimal
	PriorBalance decimal.Decimal
	PostBalance  decimal.Decimal
	PaidAmount   decimal.Decimal
	State        InstallmentState
	PaymentDate  *time.Time
}

// Remaining is what is still owed on the installment.
func (i Installment) Remaining() decimal.Decimal {
	return i.Amount.Sub(i.PaidAmount)
}

// =============================================================================
// REPROGRAMMING
// =============================================================================

// PlanChange carries the optional new financing terms of a reprogramming.
// Supplying any of them triggers a recalculation of the unpaid schedule.
type PlanChange struct {
	Model      *amortization.Model
	AnnualRate *decimal.Decimal
	Frequency  *amortization.Frequency
}

func (p PlanChange) Empty() bool {
	return p.Model == nil && p.AnnualRate == nil && p.Frequency == nil
}

type ReprogrammingEvent struct {
	ID            ReprogrammingID
	SaleID        SaleID
	Reason        string
	Plan          PlanChange
	Recalculated  bool
	CreatedAt     time.Time
	CreatedBy     ActorID
	Discounts     []Discount
	Modifications []Modification
}

type Discount struct {
	InstallmentID     InstallmentID
	InstallmentNumber int
	Amount            decimal.Decimal
	Reason            string
}

type Modification struct {
	InstallmentID     InstallmentID
	InstallmentNumber int
	PreviousAmount    decimal.Decimal
	NewAmount         decimal.Decimal
	PreviousDueDate   time.Time
	NewDueDate        time.Time
}

// =============================================================================
// COMMISSION
// =============================================================================

type CommissionType string

const (
	CommissionPartial CommissionType = "PARTIAL"
	CommissionFull    CommissionType = "FULL"
)

// ReceiptRef is an opaque handle returned by the document store.
type ReceiptRef string

type CommissionPayment struct {
	ID           CommissionPaymentID
	SaleID       SaleID
	Amount       decimal.Decimal
	PaymentDate  time.Time
	Method       string
	Type         CommissionType
	Observations *string
	Receipts     []ReceiptRef
	CreatedAt    time.Time
}

// =============================================================================
// CANCELLATION
// =============================================================================

type RefundType string

const (
	RefundNone       RefundType = "NONE"
	RefundTotal      RefundType = "TOTAL"
	RefundAmount     RefundType = "AMOUNT"
	RefundPercentage RefundType = "PERCENTAGE"
)

type CancellationState string

const (
	CancellationRequested CancellationState = "REQUESTED"
	CancellationInReview  CancellationState = "IN_REVIEW"
	CancellationApproved  CancellationState = "APPROVED"
	CancellationRejected  CancellationState = "REJECTED"
	CancellationCompleted CancellationState = "COMPLETED"
)

type CancellationRequest struct {
	ID               CancellationID
	SaleID           SaleID
	Type             string
	Reason           string
	RefundType       RefundType
	RefundAmount     *decimal.Decimal
	RefundPercentage *decimal.Decimal
	State            CancellationState
	RequestedBy      ActorID
	CreatedAt        time.Time
}
