/*
store.go - Persistence interface for sales and their children

PURPOSE:
  Defines the boundary between the sale rules and the database. The rules
  never touch SQL; they read and write through Repository inside a unit of
  work opened by TxStore.

UNITS OF WORK:
  WithTx:        one transaction, no ordering guarantee across sales
  WithSaleLock:  one transaction serialized against every other unit of
                 work on the same sale. All check-then-act mutations
                 (payment application, commission cap, approval) use this.

MISSING ROWS:
  Getters return (nil, nil) when the row does not exist. Callers decide
  whether that is NOT_FOUND.

IMPLEMENTATIONS:
  - sales/store/memory.go: in-memory, snapshot rollback
  - store/sqldb/sqldb.go: SQLite and PostgreSQL

SEE ALSO:
  - collaborators.go: audit, documents, notifications
*/
package sales

import (
	"context"
	"time"
)

// Repository is the data access surface used inside a unit of work.
type Repository interface {
	// Units
	GetUnit(ctx context.Context, ref UnitRef) (*Unit, error)
	SaveUnit(ctx context.Context, unit Unit) error
	ListUnits(ctx context.Context) ([]Unit, error)

	// Sales
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	ListSales(ctx context.Context) ([]Sale, error)
	InsertSale(ctx context.Context, sale Sale) error
	UpdateSale(ctx context.Context, sale Sale) error
	// DeleteSale removes the sale with every child row.
	DeleteSale(ctx context.Context, id SaleID) error

	// Installments, listed in number order
	InsertInstallments(ctx context.Context, installments []Installment) error
	GetInstallment(ctx context.Context, id InstallmentID) (*Installment, error)
	ListInstallments(ctx context.Context, saleID SaleID) ([]Installment, error)
	UpdateInstallment(ctx context.Context, inst Installment) error
	// MarkOverdue moves PENDING installments due before asOf to OVERDUE,
	// for one sale or, with a nil saleID, for all of them.
	MarkOverdue(ctx context.Context, saleID *SaleID, asOf time.Time) (int, error)

	// Reprogramming history, oldest first
	InsertReprogramming(ctx context.Context, event ReprogrammingEvent) error
	ListReprogrammings(ctx context.Context, saleID SaleID) ([]ReprogrammingEvent, error)

	// Commission payments, oldest first
	InsertCommissionPayment(ctx context.Context, payment CommissionPayment) error
	ListCommissionPayments(ctx context.Context, saleID SaleID) ([]CommissionPayment, error)
	AttachReceipt(ctx context.Context, paymentID CommissionPaymentID, ref ReceiptRef) error

	// Cancellation requests, oldest first
	InsertCancellation(ctx context.Context, req CancellationRequest) error
	ListCancellations(ctx context.Context, saleID SaleID) ([]CancellationRequest, error)
}

// TxStore wraps Repository with units of work.
// If fn returns an error, nothing it wrote is kept.
type TxStore interface {
	Repository

	WithTx(ctx context.Context, fn func(Repository) error) error
	WithSaleLock(ctx context.Context, saleID SaleID, fn func(Repository) error) error
}
