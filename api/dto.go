/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  sales domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  decimal.Decimal marshals as a JSON string ("7996.39") and accepts either a
  string or a number on input, so no float ever touches an amount.

DATES:
  Dates are "2006-01-02"; timestamps are RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/sales"
)

const dateLayout = "2006-01-02"

// parseDate accepts a plain date or an RFC 3339 timestamp. An empty string
// yields def.
func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

func formatDate(t time.Time) string { return t.Format(dateLayout) }

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTimestamp(*t)
	return &s
}

func optDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}

// =============================================================================
// UNITS
// =============================================================================

type UnitDTO struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Label     string `json:"label"`
	ProjectID string `json:"project_id,omitempty"`
	State     string `json:"state"`
}

type RegisterUnitRequest struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Label     string `json:"label"`
	ProjectID string `json:"project_id"`
}

func toUnitDTO(u sales.Unit) UnitDTO {
	return UnitDTO{
		Kind:      string(u.Ref.Kind),
		ID:        string(u.Ref.ID),
		Label:     u.Label,
		ProjectID: u.ProjectID,
		State:     string(u.State),
	}
}

// =============================================================================
// SALES
// =============================================================================

type SaleDTO struct {
	ID               string          `json:"id"`
	UnitKind         string          `json:"unit_kind"`
	UnitID           string          `json:"unit_id"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	DownPayment      decimal.Decimal `json:"down_payment"`
	FinancedAmount   decimal.Decimal `json:"financed_amount"`
	Mode             string          `json:"mode"`
	Model            string          `json:"model"`
	AnnualRate       decimal.Decimal `json:"annual_rate"`
	Frequency        string          `json:"frequency"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	State            string          `json:"state"`
	ApproverID       *string         `json:"approver_id,omitempty"`
	ApprovedAt       *string         `json:"approved_at,omitempty"`
	RejectionReason  *string         `json:"rejection_reason,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

type CreateSaleRequest struct {
	UnitKind         string          `json:"unit_kind"`
	UnitID           string          `json:"unit_id"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	DownPayment      decimal.Decimal `json:"down_payment"`
	Mode             string          `json:"mode"`
	Model            string          `json:"model,omitempty"`
	AnnualRate       decimal.Decimal `json:"annual_rate"`
	Frequency        string          `json:"frequency,omitempty"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
}

func (r CreateSaleRequest) toDomain(actor sales.ActorID) sales.CreateSaleRequest {
	return sales.CreateSaleRequest{
		Unit:             sales.UnitRef{Kind: sales.UnitKind(r.UnitKind), ID: sales.UnitID(r.UnitID)},
		BuyerID:          r.BuyerID,
		SellerID:         r.SellerID,
		TotalPrice:       r.TotalPrice,
		DownPayment:      r.DownPayment,
		Mode:             sales.PaymentMode(r.Mode),
		Model:            amortization.Model(r.Model),
		AnnualRate:       r.AnnualRate,
		Frequency:        amortization.Frequency(r.Frequency),
		CommissionAmount: r.CommissionAmount,
		Actor:            actor,
	}
}

// ReasonRequest carries the reason of a rejection or emergency delete.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

func toSaleDTO(s sales.Sale) SaleDTO {
	dto := SaleDTO{
		ID:               string(s.ID),
		UnitKind:         string(s.Unit.Kind),
		UnitID:           string(s.Unit.ID),
		BuyerID:          s.BuyerID,
		SellerID:         s.SellerID,
		TotalPrice:       s.TotalPrice,
		DownPayment:      s.DownPayment,
		FinancedAmount:   s.FinancedAmount(),
		Mode:             string(s.Mode),
		Model:            string(s.Model),
		AnnualRate:       s.AnnualRate,
		Frequency:        string(s.Frequency),
		CommissionAmount: s.CommissionAmount,
		State:            string(s.State),
		ApprovedAt:       optTimestamp(s.ApprovedAt),
		RejectionReason:  s.RejectionReason,
		CreatedAt:        formatTimestamp(s.CreatedAt),
		UpdatedAt:        formatTimestamp(s.UpdatedAt),
	}
	if s.ApproverID != nil {
		a := string(*s.ApproverID)
		dto.ApproverID = &a
	}
	return dto
}

// =============================================================================
// CANCELLATION
// =============================================================================

type CancellationRequestBody struct {
	Type             string           `json:"type"`
	Reason           string           `json:"reason"`
	RefundType       string           `json:"refund_type"`
	RefundAmount     *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundPercentage *decimal.Decimal `json:"refund_percentage,omitempty"`
}

type CancellationDTO struct {
	ID               string           `json:"id"`
	SaleID           string           `json:"sale_id"`
	Type             string           `json:"type"`
	Reason           string           `json:"reason"`
	RefundType       string           `json:"refund_type"`
	RefundAmount     *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundPercentage *decimal.Decimal `json:"refund_percentage,omitempty"`
	State            string           `json:"state"`
	RequestedBy      string           `json:"requested_by"`
	CreatedAt        string           `json:"created_at"`
}

func toCancellationDTO(c sales.CancellationRequest) CancellationDTO {
	return CancellationDTO{
		ID:               string(c.ID),
		SaleID:           string(c.SaleID),
		Type:             c.Type,
		Reason:           c.Reason,
		RefundType:       string(c.RefundType),
		RefundAmount:     c.RefundAmount,
		RefundPercentage: c.RefundPercentage,
		State:            string(c.State),
		RequestedBy:      string(c.RequestedBy),
		CreatedAt:        formatTimestamp(c.CreatedAt),
	}
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

type PlanScheduleRequest struct {
	Periods   int    `json:"periods"`
	StartDate string `json:"start_date,omitempty"`
}

type InstallmentDTO struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	Number       int             `json:"number"`
	DueDate      string          `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
	Capital      decimal.Decimal `json:"capital"`
	Interest     decimal.Decimal `json:"interest"`
	PriorBalance decimal.Decimal `json:"prior_balance"`
	PostBalance  decimal.Decimal `json:"post_balance"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	Remaining    decimal.Decimal `json:"remaining"`
	State        string          `json:"state"`
	PaymentDate  *string         `json:"payment_date,omitempty"`
}

func toInstallmentDTO(i sales.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:           string(i.ID),
		SaleID:       string(i.SaleID),
		Number:       i.Number,
		DueDate:      formatDate(i.DueDate),
		Amount:       i.Amount,
		Capital:      i.Capital,
		Interest:     i.Interest,
		PriorBalance: i.PriorBalance,
		PostBalance:  i.PostBalance,
		PaidAmount:   i.PaidAmount,
		Remaining:    i.Remaining(),
		State:        string(i.State),
		PaymentDate:  optDate(i.PaymentDate),
	}
}

func toInstallmentDTOs(list []sales.Installment) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(list))
	for i, inst := range list {
		dtos[i] = toInstallmentDTO(inst)
	}
	return dtos
}

type ScheduleSummaryDTO struct {
	SaleID      string          `json:"sale_id"`
	Count       int             `json:"count"`
	ByState     map[string]int  `json:"by_state"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	NextDue     *InstallmentDTO `json:"next_due,omitempty"`
}

func toScheduleSummaryDTO(s sales.ScheduleSummary) ScheduleSummaryDTO {
	dto := ScheduleSummaryDTO{
		SaleID:      string(s.SaleID),
		Count:       s.Count,
		ByState:     make(map[string]int, len(s.ByState)),
		TotalAmount: s.TotalAmount,
		TotalPaid:   s.TotalPaid,
		Outstanding: s.Outstanding,
	}
	for state, n := range s.ByState {
		dto.ByState[string(state)] = n
	}
	if s.NextDue != nil {
		next := toInstallmentDTO(*s.NextDue)
		dto.NextDue = &next
	}
	return dto
}

type RemainderDTO struct {
	Installments []InstallmentDTO `json:"installments"`
	Outstanding  decimal.Decimal  `json:"outstanding"`
}

type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date,omitempty"`
}

// =============================================================================
// REPROGRAMMING
// =============================================================================

type DiscountDTO struct {
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason,omitempty"`
}

type ModificationRequest struct {
	InstallmentNumber int             `json:"installment_number"`
	NewAmount         decimal.Decimal `json:"new_amount"`
	NewDueDate        string          `json:"new_due_date"`
}

type ReprogramRequest struct {
	Reason        string                `json:"reason"`
	Model         *string               `json:"model,omitempty"`
	AnnualRate    *decimal.Decimal      `json:"annual_rate,omitempty"`
	Frequency     *string               `json:"frequency,omitempty"`
	Discounts     []DiscountDTO         `json:"discounts,omitempty"`
	Modifications []ModificationRequest `json:"modifications,omitempty"`
}

func (r ReprogramRequest) toDomain(saleID sales.SaleID, actor sales.ActorID) (sales.ReprogramRequest, error) {
	req := sales.ReprogramRequest{
		SaleID: saleID,
		Actor:  actor,
		Reason: r.Reason,
		Plan:   sales.PlanChange{AnnualRate: r.AnnualRate},
	}
	if r.Model != nil {
		m := amortization.Model(*r.Model)
		req.Plan.Model = &m
	}
	if r.Frequency != nil {
		f := amortization.Frequency(*r.Frequency)
		req.Plan.Frequency = &f
	}
	for _, dc := range r.Discounts {
		req.Discounts = append(req.Discounts, sales.DiscountInput{
			InstallmentNumber: dc.InstallmentNumber,
			Amount:            dc.Amount,
			Reason:            dc.Reason,
		})
	}
	for i, m := range r.Modifications {
		due, err := parseDate(m.NewDueDate, time.Time{})
		if err != nil {
			return req, fmt.Errorf("modification %d: %w", i+1, err)
		}
		req.Modifications = append(req.Modifications, sales.ModificationInput{
			InstallmentNumber: m.InstallmentNumber,
			NewAmount:         m.NewAmount,
			NewDueDate:        due,
		})
	}
	return req, nil
}

type ModificationDTO struct {
	InstallmentNumber int             `json:"installment_number"`
	PreviousAmount    decimal.Decimal `json:"previous_amount"`
	NewAmount         decimal.Decimal `json:"new_amount"`
	PreviousDueDate   string          `json:"previous_due_date"`
	NewDueDate        string          `json:"new_due_date"`
}

type ReprogrammingEventDTO struct {
	ID            string            `json:"id"`
	SaleID        string            `json:"sale_id"`
	Reason        string            `json:"reason"`
	Model         *string           `json:"model,omitempty"`
	AnnualRate    *decimal.Decimal  `json:"annual_rate,omitempty"`
	Frequency     *string           `json:"frequency,omitempty"`
	Recalculated  bool              `json:"recalculated"`
	Discounts     []DiscountDTO     `json:"discounts"`
	Modifications []ModificationDTO `json:"modifications"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     string            `json:"created_at"`
}

func toReprogrammingEventDTO(ev sales.ReprogrammingEvent) ReprogrammingEventDTO {
	dto := ReprogrammingEventDTO{
		ID:            string(ev.ID),
		SaleID:        string(ev.SaleID),
		Reason:        ev.Reason,
		AnnualRate:    ev.Plan.AnnualRate,
		Recalculated:  ev.Recalculated,
		Discounts:     make([]DiscountDTO, len(ev.Discounts)),
		Modifications: make([]ModificationDTO, len(ev.Modifications)),
		CreatedBy:     string(ev.CreatedBy),
		CreatedAt:     formatTimestamp(ev.CreatedAt),
	}
	if ev.Plan.Model != nil {
		m := string(*ev.Plan.Model)
		dto.Model = &m
	}
	if ev.Plan.Frequency != nil {
		f := string(*ev.Plan.Frequency)
		dto.Frequency = &f
	}
	for i, dc := range ev.Discounts {
		dto.Discounts[i] = DiscountDTO{InstallmentNumber: dc.InstallmentNumber, Amount: dc.Amount, Reason: dc.Reason}
	}
	for i, m := range ev.Modifications {
		dto.Modifications[i] = ModificationDTO{
			InstallmentNumber: m.InstallmentNumber,
			PreviousAmount:    m.PreviousAmount,
			NewAmount:         m.NewAmount,
			PreviousDueDate:   formatDate(m.PreviousDueDate),
			NewDueDate:        formatDate(m.NewDueDate),
		}
	}
	return dto
}

type ReprogramResponse struct {
	Event        ReprogrammingEventDTO `json:"event"`
	Installments []InstallmentDTO      `json:"installments"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

type CommissionPaymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	PaymentDate  string          `json:"payment_date,omitempty"`
	Method       string          `json:"method"`
	Observations *string         `json:"observations,omitempty"`
}

type CommissionPaymentDTO struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentDate  string          `json:"payment_date"`
	Method       string          `json:"method"`
	Type         string          `json:"type"`
	Observations *string         `json:"observations,omitempty"`
	Receipts     []string        `json:"receipts"`
	CreatedAt    string          `json:"created_at"`
}

func toCommissionPaymentDTO(p sales.CommissionPayment) CommissionPaymentDTO {
	receipts := make([]string, len(p.Receipts))
	for i, r := range p.Receipts {
		receipts[i] = string(r)
	}
	return CommissionPaymentDTO{
		ID:           string(p.ID),
		SaleID:       string(p.SaleID),
		Amount:       p.Amount,
		PaymentDate:  formatDate(p.PaymentDate),
		Method:       p.Method,
		Type:         string(p.Type),
		Observations: p.Observations,
		Receipts:     receipts,
		CreatedAt:    formatTimestamp(p.CreatedAt),
	}
}

type ReceiptFailureDTO struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type ReceiptWarningDTO struct {
	Code     string              `json:"code"`
	Attached int                 `json:"attached"`
	Total    int                 `json:"total"`
	Failures []ReceiptFailureDTO `json:"failures"`
}

type CommissionResponse struct {
	Payment   CommissionPaymentDTO `json:"payment"`
	Remaining decimal.Decimal      `json:"remaining"`
	Warning   *ReceiptWarningDTO   `json:"warning,omitempty"`
}

func toCommissionResponse(res *sales.CommissionResult) CommissionResponse {
	out := CommissionResponse{
		Payment:   toCommissionPaymentDTO(res.Payment),
		Remaining: res.Remaining,
	}
	if w := res.Warning; w != nil {
		out.Warning = &ReceiptWarningDTO{
			Code:     string(sales.CodeReceiptsPartial),
			Attached: w.Attached,
			Total:    w.Total,
		}
		for _, f := range w.Failures {
			out.Warning.Failures = append(out.Warning.Failures, ReceiptFailureDTO{Filename: f.Filename, Error: f.Err.Error()})
		}
	}
	return out
}

type CommissionSummaryDTO struct {
	SaleID    string                 `json:"sale_id"`
	Pool      decimal.Decimal        `json:"pool"`
	Paid      decimal.Decimal        `json:"paid"`
	Remaining decimal.Decimal        `json:"remaining"`
	Complete  bool                   `json:"complete"`
	Payments  []CommissionPaymentDTO `json:"payments"`
}

func toCommissionSummaryDTO(s sales.CommissionSummary) CommissionSummaryDTO {
	dto := CommissionSummaryDTO{
		SaleID:    string(s.SaleID),
		Pool:      s.Pool,
		Paid:      s.Paid,
		Remaining: s.Remaining,
		Complete:  s.Complete,
		Payments:  make([]CommissionPaymentDTO, len(s.Payments)),
	}
	for i, p := range s.Payments {
		dto.Payments[i] = toCommissionPaymentDTO(p)
	}
	return dto
}

// =============================================================================
// AMORTIZATION PREVIEW
// =============================================================================

type PreviewRequest struct {
	Principal  decimal.Decimal `json:"principal"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
	Periods    int             `json:"periods"`
	Frequency  string          `json:"frequency,omitempty"`
	Model      string          `json:"model,omitempty"`
	StartDate  string          `json:"start_date,omitempty"`
}

type EntryDTO struct {
	Period       int             `json:"period"`
	DueDate      string          `json:"due_date"`
	Capital      decimal.Decimal `json:"capital"`
	Interest     decimal.Decimal `json:"interest"`
	Total        decimal.Decimal `json:"total"`
	PriorBalance decimal.Decimal `json:"prior_balance"`
	PostBalance  decimal.Decimal `json:"post_balance"`
}

type PreviewResponse struct {
	Entries       []EntryDTO      `json:"entries"`
	TotalCapital  decimal.Decimal `json:"total_capital"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}

func toPreviewResponse(entries []amortization.Entry) PreviewResponse {
	sum := amortization.Summarize(entries)
	resp := PreviewResponse{
		Entries:       make([]EntryDTO, len(entries)),
		TotalCapital:  sum.TotalCapital,
		TotalInterest: sum.TotalInterest,
		TotalPaid:     sum.TotalPaid,
	}
	for i, e := range entries {
		resp.Entries[i] = EntryDTO{
			Period:       e.Period,
			DueDate:      formatDate(e.DueDate),
			Capital:      e.Capital,
			Interest:     e.Interest,
			Total:        e.Total,
			PriorBalance: e.PriorBalance,
			PostBalance:  e.PostBalance,
		}
	}
	return resp
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	SaleID    string         `json:"sale_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toAuditEntryDTOs(entries []sales.AuditEntry) []AuditEntryDTO {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Timestamp: formatTimestamp(e.Timestamp),
			ActorID:   string(e.ActorID),
			Action:    string(e.Action),
			SaleID:    string(e.SaleID),
			Payload:   e.Payload,
		}
	}
	return dtos
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}
