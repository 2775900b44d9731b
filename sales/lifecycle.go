/*
lifecycle.go - Sale approval / rejection / cancellation state machine

STATES:
  PENDING ──approve──▶ APPROVED ──requestCancellation──▶ CANCELLATION_IN_PROGRESS ──▶ CANCELLED
     │
     └──reject──▶ REJECTED

  PENDING and APPROVED are the only states that accept payments and
  commission payouts. REJECTED and CANCELLED are terminal.

INVENTORY:
  approve   unit → SOLD       (refused if the unit is already SOLD)
  reject    unit → AVAILABLE
  emergency deletion releases the unit the same way

  The sale row, the unit row and the approval or cancellation metadata are
  written in one unit of work. A unit is never released while another
  live sale still holds it.

AFTER COMMIT:
  Audit entry, notification and, for cancellations, the cancellation
  pipeline hook. None of them can fail the transition.
*/
package sales

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
)

type Lifecycle struct {
	d *deps
}

func NewLifecycle(store TxStore, opts ...Option) *Lifecycle {
	return &Lifecycle{d: newDeps(store, opts)}
}

// =============================================================================
// UNITS
// =============================================================================

// RegisterUnit adds an AVAILABLE unit to the inventory.
func (l *Lifecycle) RegisterUnit(ctx context.Context, unit Unit) (*Unit, error) {
	if !unit.Ref.Kind.Valid() {
		return nil, validationError(CodeInvalidInput, "unknown unit kind %q", unit.Ref.Kind)
	}
	if strings.TrimSpace(string(unit.Ref.ID)) == "" {
		return nil, validationError(CodeInvalidInput, "unit id is required")
	}
	unit.State = UnitAvailable

	err := l.d.store.WithTx(ctx, func(repo Repository) error {
		existing, err := repo.GetUnit(ctx, unit.Ref)
		if err != nil {
			return err
		}
		if existing != nil {
			return conflictError(CodeAlreadyExists, "unit %s already exists", unit.Ref)
		}
		return repo.SaveUnit(ctx, unit)
	})
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

func (l *Lifecycle) Units(ctx context.Context) ([]Unit, error) {
	return l.d.store.ListUnits(ctx)
}

// =============================================================================
// CREATE / READ
// =============================================================================

type CreateSaleRequest struct {
	Unit             UnitRef
	BuyerID          string
	SellerID         string
	TotalPrice       decimal.Decimal
	DownPayment      decimal.Decimal
	Mode             PaymentMode
	Model            amortization.Model
	AnnualRate       decimal.Decimal
	Frequency        amortization.Frequency
	CommissionAmount decimal.Decimal
	Actor            ActorID
}

func (r *CreateSaleRequest) normalize() error {
	if r.Model == "" {
		r.Model = amortization.French
	}
	if r.Frequency == "" {
		r.Frequency = amortization.Monthly
	}
	r.TotalPrice = r.TotalPrice.Round(2)
	r.DownPayment = r.DownPayment.Round(2)
	r.CommissionAmount = r.CommissionAmount.Round(2)

	switch {
	case !r.Unit.Kind.Valid():
		return validationError(CodeInvalidInput, "unknown unit kind %q", r.Unit.Kind)
	case r.Unit.ID == "":
		return validationError(CodeInvalidInput, "unit id is required")
	case r.BuyerID == "" || r.SellerID == "":
		return validationError(CodeInvalidInput, "buyer and seller are required")
	case r.Mode != ModeCash && r.Mode != ModeInstallments:
		return validationError(CodeInvalidInput, "unknown sale mode %q", r.Mode)
	case !r.Model.Valid():
		return validationError(CodeInvalidInput, "unknown amortization model %q", r.Model)
	case !r.Frequency.Valid():
		return validationError(CodeInvalidInput, "unknown frequency %q", r.Frequency)
	case r.TotalPrice.IsNegative():
		return validationError(CodeInvalidInput, "total price must not be negative")
	case r.DownPayment.IsNegative() || r.DownPayment.GreaterThan(r.TotalPrice):
		return validationError(CodeInvalidInput, "down payment must be between 0 and the total price")
	case r.AnnualRate.IsNegative():
		return validationError(CodeInvalidInput, "annual rate must not be negative")
	case r.CommissionAmount.IsNegative():
		return validationError(CodeInvalidInput, "commission amount must not be negative")
	}
	return nil
}

// CreateSale stores a new PENDING sale for an AVAILABLE unit.
func (l *Lifecycle) CreateSale(ctx context.Context, req CreateSaleRequest) (*Sale, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	now := l.d.now()
	sale := Sale{
		ID:               NewSaleID(),
		Unit:             req.Unit,
		BuyerID:          req.BuyerID,
		SellerID:         req.SellerID,
		TotalPrice:       req.TotalPrice,
		DownPayment:      req.DownPayment,
		Mode:             req.Mode,
		Model:            req.Model,
		AnnualRate:       req.AnnualRate,
		Frequency:        req.Frequency,
		CommissionAmount: req.CommissionAmount,
		State:            SalePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := l.d.store.WithTx(ctx, func(repo Repository) error {
		unit, err := repo.GetUnit(ctx, req.Unit)
		if err != nil {
			return err
		}
		if unit == nil {
			return notFoundError("unit", req.Unit)
		}
		if unit.State != UnitAvailable {
			return conflictError(CodeUnitUnavailable, "unit %s is %s", unit.Ref, unit.State)
		}
		return repo.InsertSale(ctx, sale)
	})
	if err != nil {
		return nil, err
	}

	l.d.record(ctx, req.Actor, AuditSaleCreated, sale.ID, map[string]any{
		"unit":        sale.Unit.String(),
		"total_price": sale.TotalPrice.StringFixed(2),
		"mode":        sale.Mode,
	})
	return &sale, nil
}

func (l *Lifecycle) GetSale(ctx context.Context, id SaleID) (*Sale, error) {
	sale, err := l.d.store.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, notFoundError("sale", id)
	}
	return sale, nil
}

func (l *Lifecycle) ListSales(ctx context.Context) ([]Sale, error) {
	return l.d.store.ListSales(ctx)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve moves a PENDING sale to APPROVED and marks its unit SOLD.
func (l *Lifecycle) Approve(ctx context.Context, saleID SaleID, approver ActorID) (*Sale, error) {
	var approved Sale
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, saleID)
		if err != nil {
			return err
		}
		if sale.State != SalePending {
			return conflictError(CodeInvalidTransition, "sale %s is %s; only PENDING sales can be approved", sale.ID, sale.State)
		}

		unit, err := repo.GetUnit(ctx, sale.Unit)
		if err != nil {
			return err
		}
		if unit == nil {
			return notFoundError("unit", sale.Unit)
		}
		if unit.State == UnitSold {
			return conflictError(CodeUnitUnavailable, "unit %s is already SOLD", unit.Ref)
		}

		now := l.d.now()
		unit.State = UnitSold
		sale.State = SaleApproved
		sale.ApproverID = &approver
		sale.ApprovedAt = &now
		sale.UpdatedAt = now

		if err := repo.SaveUnit(ctx, *unit); err != nil {
			return err
		}
		approved = *sale
		return repo.UpdateSale(ctx, approved)
	})
	if err != nil {
		return nil, err
	}

	l.d.record(ctx, approver, AuditSaleApproved, saleID, map[string]any{"unit": approved.Unit.String()})
	l.d.notify(ctx, EventSaleApproved, saleID, map[string]any{"approver_id": approver})
	return &approved, nil
}

// Reject moves a PENDING sale to REJECTED and releases its unit.
func (l *Lifecycle) Reject(ctx context.Context, saleID SaleID, approver ActorID, reason string) (*Sale, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError(CodeInvalidInput, "rejection reason is required")
	}

	var rejected Sale
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, saleID)
		if err != nil {
			return err
		}
		if sale.State != SalePending {
			return conflictError(CodeInvalidTransition, "sale %s is %s; only PENDING sales can be rejected", sale.ID, sale.State)
		}

		now := l.d.now()
		sale.State = SaleRejected
		sale.ApproverID = &approver
		sale.RejectionReason = &reason
		sale.UpdatedAt = now

		if err := releaseUnit(ctx, repo, *sale); err != nil {
			return err
		}
		rejected = *sale
		return repo.UpdateSale(ctx, rejected)
	})
	if err != nil {
		return nil, err
	}

	l.d.record(ctx, approver, AuditSaleRejected, saleID, map[string]any{"reason": reason})
	l.d.notify(ctx, EventSaleRejected, saleID, map[string]any{"reason": reason})
	return &rejected, nil
}

type CancellationInput struct {
	Type             string
	Reason           string
	RefundType       RefundType
	RefundAmount     *decimal.Decimal
	RefundPercentage *decimal.Decimal
	RequestedBy      ActorID
}

func (in CancellationInput) validate(sale *Sale) error {
	if strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Reason) == "" {
		return validationError(CodeInvalidInput, "cancellation type and reason are required")
	}
	switch in.RefundType {
	case RefundNone, RefundTotal:
	case RefundAmount:
		if in.RefundAmount == nil || !in.RefundAmount.IsPositive() || in.RefundAmount.GreaterThan(sale.TotalPrice) {
			return validationError(CodeInvalidInput, "refund amount must be positive and at most the total price %s", sale.TotalPrice.StringFixed(2))
		}
	case RefundPercentage:
		if in.RefundPercentage == nil || !in.RefundPercentage.IsPositive() || in.RefundPercentage.GreaterThan(decimal.NewFromInt(100)) {
			return validationError(CodeInvalidInput, "refund percentage must be in (0, 100]")
		}
	default:
		return validationError(CodeInvalidInput, "unknown refund type %q", in.RefundType)
	}
	return nil
}

// RequestCancellation opens a cancellation request on an APPROVED sale and
// moves the sale to CANCELLATION_IN_PROGRESS.
func (l *Lifecycle) RequestCancellation(ctx context.Context, saleID SaleID, in CancellationInput) (*CancellationRequest, error) {
	var req CancellationRequest
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, saleID)
		if err != nil {
			return err
		}
		if sale.State != SaleApproved {
			return conflictError(CodeInvalidTransition, "sale %s is %s; only APPROVED sales can be cancelled", sale.ID, sale.State)
		}
		if err := in.validate(sale); err != nil {
			return err
		}

		now := l.d.now()
		req = CancellationRequest{
			ID:          NewCancellationID(),
			SaleID:      sale.ID,
			Type:        in.Type,
			Reason:      in.Reason,
			RefundType:  in.RefundType,
			State:       CancellationRequested,
			RequestedBy: in.RequestedBy,
			CreatedAt:   now,
		}
		switch in.RefundType {
		case RefundAmount:
			amt := in.RefundAmount.Round(2)
			req.RefundAmount = &amt
		case RefundPercentage:
			pct := in.RefundPercentage.Round(2)
			req.RefundPercentage = &pct
		}

		sale.State = SaleCancellationInProgress
		sale.UpdatedAt = now
		if err := repo.InsertCancellation(ctx, req); err != nil {
			return err
		}
		return repo.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return nil, err
	}

	l.d.record(ctx, in.RequestedBy, AuditCancellationRequested, saleID, map[string]any{
		"cancellation_id": req.ID,
		"type":            req.Type,
		"refund_type":     req.RefundType,
	})
	l.d.notify(ctx, EventCancellationRequested, saleID, map[string]any{"cancellation_id": req.ID})
	if l.d.pipeline != nil {
		if err := l.d.pipeline.CancellationRequested(ctx, req); err != nil {
			l.d.logger.Warn("cancellation pipeline failed", "sale_id", saleID, "cancellation_id", req.ID, "error", err)
		}
	}
	return &req, nil
}

func (l *Lifecycle) Cancellations(ctx context.Context, saleID SaleID) ([]CancellationRequest, error) {
	if _, err := l.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return l.d.store.ListCancellations(ctx, saleID)
}

// =============================================================================
// EMERGENCY DELETION
// =============================================================================

// EmergencyDelete removes a sale with all its children and releases its
// unit. It bypasses the state machine and is always audited.
func (l *Lifecycle) EmergencyDelete(ctx context.Context, saleID SaleID, actor ActorID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationError(CodeInvalidInput, "deletion reason is required")
	}

	var deleted Sale
	err := l.d.store.WithSaleLock(ctx, saleID, func(repo Repository) error {
		sale, err := loadSale(ctx, repo, saleID)
		if err != nil {
			return err
		}
		deleted = *sale
		if err := repo.DeleteSale(ctx, saleID); err != nil {
			return err
		}
		return releaseUnit(ctx, repo, *sale)
	})
	if err != nil {
		return err
	}

	l.d.logger.Warn("sale deleted through emergency override", "sale_id", saleID, "actor", actor)
	l.d.record(ctx, actor, AuditSaleDeleted, saleID, map[string]any{
		"reason":      reason,
		"state":       deleted.State,
		"unit":        deleted.Unit.String(),
		"total_price": deleted.TotalPrice.StringFixed(2),
	})
	return nil
}

// releaseUnit sets the sale's unit AVAILABLE unless another live sale holds it.
func releaseUnit(ctx context.Context, repo Repository, sale Sale) error {
	unit, err := repo.GetUnit(ctx, sale.Unit)
	if err != nil {
		return err
	}
	if unit == nil || unit.State == UnitAvailable {
		return nil
	}

	others, err := repo.ListSales(ctx)
	if err != nil {
		return err
	}
	for _, other := range others {
		if other.ID == sale.ID || other.Unit != sale.Unit {
			continue
		}
		if other.State == SaleApproved || other.State == SaleCancellationInProgress {
			return nil
		}
	}

	unit.State = UnitAvailable
	return repo.SaveUnit(ctx, *unit)
}

