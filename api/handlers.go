/*
handlers.go - HTTP API handlers for the sale lifecycle engine

PURPOSE:
  Exposes the sales engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the sales services.

ENDPOINTS:
  Units:
    GET    /api/units                         List inventory units
    POST   /api/units                         Register a unit

  Sales:
    GET    /api/sales                         List sales (?state=)
    POST   /api/sales                         Create a sale (PENDING)
    GET    /api/sales/{id}                    Get sale details
    DELETE /api/sales/{id}                    Emergency delete
    POST   /api/sales/{id}/approve            Approve
    POST   /api/sales/{id}/reject             Reject with reason
    POST   /api/sales/{id}/cancellations      Open a cancellation request
    GET    /api/sales/{id}/cancellations      List cancellation requests

  Schedule:
    POST   /api/sales/{id}/schedule           Generate and materialize
    GET    /api/sales/{id}/installments       Installments, overdue refreshed
    GET    /api/sales/{id}/schedule/summary   Counts and totals
    GET    /api/sales/{id}/schedule/remainder Unpaid installments
    GET    /api/sales/{id}/schedule/export    XLSX download
    POST   /api/installments/{id}/payments    Apply a payment delta

  Reprogramming:
    POST   /api/sales/{id}/reprogram          Discounts, modifications, new plan
    GET    /api/sales/{id}/reprogrammings     Event history

  Commissions:
    POST   /api/sales/{id}/commissions        Record a payment (JSON or multipart)
    GET    /api/sales/{id}/commissions        Pool summary and payments

  Other:
    POST   /api/amortization/preview          Schedule without persisting
    GET    /api/sales/{id}/audit              Audit trail
    POST   /api/admin/overdue/refresh         Run the overdue sweep now

ERROR HANDLING:
  Domain errors map to HTTP status by kind:
  - 400: VALIDATION, bad request body
  - 404: NOT_FOUND
  - 409: STATE_CONFLICT
  - 422: POOL_EXCEEDED
  - 500: Everything else
  The body always carries the machine-readable code next to the message.

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller identity
  - server.go: Router setup and role gates
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/export"
	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditReader reads back the audit trail of a sale.
type AuditReader interface {
	AuditEntries(ctx context.Context, saleID sales.SaleID) ([]sales.AuditEntry, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *sales.Engine
	Audit  AuditReader

	// Now is the clock used for default payment and start dates.
	Now func() time.Time
	// MaxUploadBytes bounds a multipart commission request.
	MaxUploadBytes int64

	logger *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *sales.Engine, audit AuditReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:         engine,
		Audit:          audit,
		Now:            time.Now,
		MaxUploadBytes: 20 << 20,
		logger:         logger,
	}
}

func actor(r *http.Request) sales.ActorID {
	id, _ := IdentityFrom(r.Context())
	return id.Actor
}

func (h *Handler) today() time.Time {
	now := h.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Engine.Lifecycle.Units(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list units", err)
		return
	}
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RegisterUnit(w http.ResponseWriter, r *http.Request) {
	var req RegisterUnitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	unit, err := h.Engine.Lifecycle.RegisterUnit(r.Context(), sales.Unit{
		Ref:       sales.UnitRef{Kind: sales.UnitKind(req.Kind), ID: sales.UnitID(req.ID)},
		Label:     req.Label,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to register unit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(*unit))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns all sales, optionally filtered by ?state=.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Lifecycle.ListSales(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list sales", err)
		return
	}
	state := strings.ToUpper(r.URL.Query().Get("state"))
	dtos := make([]SaleDTO, 0, len(list))
	for _, s := range list {
		if state != "" && string(s.State) != state {
			continue
		}
		dtos = append(dtos, toSaleDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := h.Engine.Lifecycle.CreateSale(r.Context(), req.toDomain(actor(r)))
	if err != nil {
		h.writeDomainError(w, "Failed to create sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(*sale))
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Engine.Lifecycle.GetSale(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// DeleteSale is the administrative escape hatch: the sale and everything
// attached to it is removed and its unit released.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Engine.Lifecycle.EmergencyDelete(r.Context(), saleID(r), actor(r), req.Reason); err != nil {
		h.writeDomainError(w, "Failed to delete sale", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ApproveSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Engine.Lifecycle.Approve(r.Context(), saleID(r), actor(r))
	if err != nil {
		h.writeDomainError(w, "Failed to approve sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

func (h *Handler) RejectSale(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := h.Engine.Lifecycle.Reject(r.Context(), saleID(r), actor(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to reject sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// =============================================================================
// CANCELLATION HANDLERS
// =============================================================================

func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	var req CancellationRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Engine.Lifecycle.RequestCancellation(r.Context(), saleID(r), sales.CancellationInput{
		Type:             req.Type,
		Reason:           req.Reason,
		RefundType:       sales.RefundType(strings.ToUpper(req.RefundType)),
		RefundAmount:     req.RefundAmount,
		RefundPercentage: req.RefundPercentage,
		RequestedBy:      actor(r),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to request cancellation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCancellationDTO(*c))
}

func (h *Handler) ListCancellations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Lifecycle.Cancellations(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list cancellations", err)
		return
	}
	dtos := make([]CancellationDTO, len(list))
	for i, c := range list {
		dtos[i] = toCancellationDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// PlanSchedule generates the sale's schedule from its own terms and
// materializes it. A sale gets exactly one schedule.
func (h *Handler) PlanSchedule(w http.ResponseWriter, r *http.Request) {
	var req PlanScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := parseDate(req.StartDate, h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	list, err := h.Engine.Ledger.PlanSchedule(r.Context(), saleID(r), req.Periods, start, actor(r))
	if err != nil {
		h.writeDomainError(w, "Failed to plan schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInstallmentDTOs(list))
}

func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Ledger.Installments(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(list))
}

func (h *Handler) ScheduleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.Ledger.Summary(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to summarize schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleSummaryDTO(sum))
}

func (h *Handler) UnpaidRemainder(w http.ResponseWriter, r *http.Request) {
	rem, err := h.Engine.Ledger.UnpaidRemainder(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to compute remainder", err)
		return
	}
	writeJSON(w, http.StatusOK, RemainderDTO{
		Installments: toInstallmentDTOs(rem.Installments),
		Outstanding:  rem.Outstanding,
	})
}

// ExportSchedule streams the schedule as an XLSX workbook.
func (h *Handler) ExportSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := saleID(r)

	sale, err := h.Engine.Lifecycle.GetSale(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to get sale", err)
		return
	}
	list, err := h.Engine.Ledger.Installments(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to list installments", err)
		return
	}
	data, err := export.ScheduleWorkbook(*sale, list)
	if err != nil {
		h.writeDomainError(w, "Failed to render schedule", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(id, h.Now())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write schedule export", "sale_id", id, "error", err)
	}
}

// PayInstallment applies a payment delta to one installment.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	paidOn, err := parseDate(req.PaymentDate, h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment_date", err)
		return
	}
	inst, err := h.Engine.Ledger.ApplyPayment(r.Context(), sales.InstallmentID(chi.URLParam(r, "id")), req.Amount, paidOn)
	if err != nil {
		h.writeDomainError(w, "Failed to apply payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(*inst))
}

// =============================================================================
// REPROGRAMMING HANDLERS
// =============================================================================

func (h *Handler) Reprogram(w http.ResponseWriter, r *http.Request) {
	var body ReprogramRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := body.toDomain(saleID(r), actor(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reprogramming request", err)
		return
	}
	res, err := h.Engine.Reprogram.Reprogram(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to reprogram sale", err)
		return
	}
	writeJSON(w, http.StatusOK, ReprogramResponse{
		Event:        toReprogrammingEventDTO(res.Event),
		Installments: toInstallmentDTOs(res.Installments),
	})
}

func (h *Handler) ListReprogrammings(w http.ResponseWriter, r *http.Request) {
	events, err := h.Engine.Reprogram.History(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list reprogrammings", err)
		return
	}
	dtos := make([]ReprogrammingEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toReprogrammingEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// RecordCommission records a payout against the commission pool. Receipts
// can be attached by sending multipart/form-data with one or more
// "receipts" file parts; the other fields travel as form values.
func (h *Handler) RecordCommission(w http.ResponseWriter, r *http.Request) {
	var (
		body     CommissionPaymentRequest
		receipts []sales.Receipt
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		body, receipts, err = h.parseCommissionForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid multipart request", err)
			return
		}
	} else if !decodeJSON(w, r, &body) {
		return
	}

	paidOn, err := parseDate(body.PaymentDate, h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment_date", err)
		return
	}

	res, err := h.Engine.Commissions.RecordPayment(r.Context(), sales.CommissionPaymentRequest{
		SaleID:       saleID(r),
		Amount:       body.Amount,
		PaymentDate:  paidOn,
		Method:       body.Method,
		Observations: body.Observations,
		Actor:        actor(r),
		Receipts:     receipts,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record commission payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommissionResponse(res))
}

func (h *Handler) parseCommissionForm(w http.ResponseWriter, r *http.Request) (CommissionPaymentRequest, []sales.Receipt, error) {
	var body CommissionPaymentRequest

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		return body, nil, err
	}
	amount, err := decimal.NewFromString(r.FormValue("amount"))
	if err != nil {
		return body, nil, fmt.Errorf("invalid amount: %w", err)
	}
	body.Amount = amount
	body.PaymentDate = r.FormValue("payment_date")
	body.Method = r.FormValue("method")
	if obs := r.FormValue("observations"); obs != "" {
		body.Observations = &obs
	}

	var receipts []sales.Receipt
	for _, fh := range r.MultipartForm.File["receipts"] {
		f, err := fh.Open()
		if err != nil {
			return body, nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return body, nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}
		receipts = append(receipts, sales.Receipt{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return body, receipts, nil
}

func (h *Handler) CommissionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.Commissions.Summary(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to summarize commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionSummaryDTO(sum))
}

// =============================================================================
// PREVIEW / AUDIT / ADMIN
// =============================================================================

// PreviewAmortization computes a schedule without persisting anything.
func (h *Handler) PreviewAmortization(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := parseDate(req.StartDate, h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	in := amortization.Input{
		Principal:  req.Principal,
		AnnualRate: req.AnnualRate,
		Periods:    req.Periods,
		Frequency:  amortization.Frequency(req.Frequency),
		Model:      amortization.Model(req.Model),
		StartDate:  start,
	}
	if in.Frequency == "" {
		in.Frequency = amortization.Monthly
	}
	if in.Model == "" {
		in.Model = amortization.French
	}
	entries, err := amortization.Generate(in)
	if err != nil {
		h.writeDomainError(w, "Failed to compute schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(entries))
}

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}
	entries, err := h.Audit.AuditEntries(r.Context(), saleID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to read audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// RefreshOverdue runs the overdue sweep across every sale. ?as_of= moves
// the reference date, which is only useful for demos and back-office
// corrections.
func (h *Handler) RefreshOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r.URL.Query().Get("as_of"), h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	n, err := h.Engine.Ledger.RefreshOverdueStates(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to refresh overdue states", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":   formatDate(asOf),
		"updated": n,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func saleID(r *http.Request) sales.SaleID {
	return sales.SaleID(chi.URLParam(r, "id"))
}

// decodeJSON decodes the request body into dst. An empty body leaves dst at
// its zero value. On failure the 400 response is already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch sales.KindOf(err) {
	case sales.KindValidation:
		return http.StatusBadRequest
	case sales.KindNotFound:
		return http.StatusNotFound
	case sales.KindStateConflict:
		return http.StatusConflict
	case sales.KindPoolExceeded:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, amortization.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:   message,
		Code:    string(sales.CodeOf(err)),
		Kind:    string(sales.KindOf(err)),
		Details: err.Error(),
	}
	if resp.Code == "" && errors.Is(err, amortization.ErrInvalidInput) {
		resp.Code = string(sales.CodeInvalidInput)
		resp.Kind = string(sales.KindValidation)
	}

	var pe *sales.PoolExceededError
	if errors.As(err, &pe) {
		resp.Details = map[string]any{
			"message":   err.Error(),
			"pool":      pe.Pool,
			"paid":      pe.Paid,
			"requested": pe.Requested,
			"remaining": pe.Remaining,
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(message, "error", err)
	}
	writeJSON(w, status, resp)
}
