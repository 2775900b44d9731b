package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/amortization"
	"github.com/warp/sales-engine/sales"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements sales.Repository over a querier.
type repo struct {
	q    querier
	s    *Store
	inTx bool
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.s.rebind(query), args...)
}

func (r *repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.s.rebind(query), args...)
}

func (r *repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.s.rebind(query), args...)
}

// =============================================================================
// UNITS
// =============================================================================

func (r *repo) GetUnit(ctx context.Context, ref sales.UnitRef) (*sales.Unit, error) {
	query := `SELECT kind, id, label, project_id, state FROM units WHERE kind = ? AND id = ?`
	if r.inTx && r.s.dialect == Postgres {
		query += ` FOR UPDATE`
	}

	var u sales.Unit
	err := r.queryRow(ctx, query, ref.Kind, ref.ID).Scan(&u.Ref.Kind, &u.Ref.ID, &u.Label, &u.ProjectID, &u.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting unit %s: %w", ref, err)
	}
	return &u, nil
}

func (r *repo) SaveUnit(ctx context.Context, u sales.Unit) error {
	_, err := r.exec(ctx, `
		INSERT INTO units (kind, id, label, project_id, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			label = excluded.label,
			project_id = excluded.project_id,
			state = excluded.state
	`, u.Ref.Kind, u.Ref.ID, u.Label, u.ProjectID, u.State)
	if err != nil {
		return fmt.Errorf("saving unit %s: %w", u.Ref, err)
	}
	return nil
}

func (r *repo) ListUnits(ctx context.Context) ([]sales.Unit, error) {
	rows, err := r.query(ctx, `SELECT kind, id, label, project_id, state FROM units ORDER BY kind, id`)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()

	var units []sales.Unit
	for rows.Next() {
		var u sales.Unit
		if err := rows.Scan(&u.Ref.Kind, &u.Ref.ID, &u.Label, &u.ProjectID, &u.State); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, unit_kind, unit_id, buyer_id, seller_id, total_price, down_payment,
	mode, model, annual_rate, frequency, commission_amount, state,
	approver_id, approved_at, rejection_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (sales.Sale, error) {
	var (
		s                                       sales.Sale
		total, down, rate, commission           string
		approverID, approvedAt, rejectionReason sql.NullString
		createdAt, updatedAt                    string
	)
	err := row.Scan(
		&s.ID, &s.Unit.Kind, &s.Unit.ID, &s.BuyerID, &s.SellerID, &total, &down,
		&s.Mode, &s.Model, &rate, &s.Frequency, &commission, &s.State,
		&approverID, &approvedAt, &rejectionReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return s, err
	}

	var dec columnDecoder
	s.TotalPrice = dec.decimal("total_price", total)
	s.DownPayment = dec.decimal("down_payment", down)
	s.AnnualRate = dec.decimal("annual_rate", rate)
	s.CommissionAmount = dec.decimal("commission_amount", commission)
	if approverID.Valid {
		a := sales.ActorID(approverID.String)
		s.ApproverID = &a
	}
	s.ApprovedAt = dec.nullTime("approved_at", approvedAt)
	if rejectionReason.Valid {
		s.RejectionReason = &rejectionReason.String
	}
	s.CreatedAt = dec.time("created_at", createdAt)
	s.UpdatedAt = dec.time("updated_at", updatedAt)
	if dec.err != nil {
		return s, fmt.Errorf("decoding sale %s: %w", s.ID, dec.err)
	}
	return s, nil
}

func (r *repo) GetSale(ctx context.Context, id sales.SaleID) (*sales.Sale, error) {
	s, err := scanSale(r.queryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting sale %s: %w", id, err)
	}
	return &s, nil
}

func (r *repo) ListSales(ctx context.Context) ([]sales.Sale, error) {
	rows, err := r.query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	defer rows.Close()

	var list []sales.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sale: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *repo) InsertSale(ctx context.Context, s sales.Sale) error {
	_, err := r.exec(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Unit.Kind, s.Unit.ID, s.BuyerID, s.SellerID,
		s.TotalPrice.String(), s.DownPayment.String(),
		s.Mode, s.Model, s.AnnualRate.String(), s.Frequency, s.CommissionAmount.String(), s.State,
		nullActor(s.ApproverID), nullTime(s.ApprovedAt), nullStringPtr(s.RejectionReason),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return wrapWriteError(err, "inserting sale %s", s.ID)
	}
	return nil
}

func (r *repo) UpdateSale(ctx context.Context, s sales.Sale) error {
	res, err := r.exec(ctx, `
		UPDATE sales SET
			buyer_id = ?, seller_id = ?, total_price = ?, down_payment = ?,
			mode = ?, model = ?, annual_rate = ?, frequency = ?, commission_amount = ?, state = ?,
			approver_id = ?, approved_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ?
	`,
		s.BuyerID, s.SellerID, s.TotalPrice.String(), s.DownPayment.String(),
		s.Mode, s.Model, s.AnnualRate.String(), s.Frequency, s.CommissionAmount.String(), s.State,
		nullActor(s.ApproverID), nullTime(s.ApprovedAt), nullStringPtr(s.RejectionReason), formatTime(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating sale %s: %w", s.ID, err)
	}
	return expectOneRow(res, "sale", s.ID)
}

func (r *repo) DeleteSale(ctx context.Context, id sales.SaleID) error {
	if _, err := r.exec(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting sale %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, sale_id, number, due_date, amount, capital, interest,
	prior_balance, post_balance, paid_amount, state, payment_date`

func scanInstallment(row rowScanner) (sales.Installment, error) {
	var (
		i                                            sales.Installment
		due                                          string
		amount, capital, interest, prior, post, paid string
		paymentDate                                  sql.NullString
	)
	err := row.Scan(&i.ID, &i.SaleID, &i.Number, &due, &amount, &capital, &interest,
		&prior, &post, &paid, &i.State, &paymentDate)
	if err != nil {
		return i, err
	}
	var dec columnDecoder
	i.DueDate = dec.time("due_date", due)
	i.Amount = dec.decimal("amount", amount)
	i.Capital = dec.decimal("capital", capital)
	i.Interest = dec.decimal("interest", interest)
	i.PriorBalance = dec.decimal("prior_balance", prior)
	i.PostBalance = dec.decimal("post_balance", post)
	i.PaidAmount = dec.decimal("paid_amount", paid)
	i.PaymentDate = dec.nullTime("payment_date", paymentDate)
	if dec.err != nil {
		return i, fmt.Errorf("decoding installment %s: %w", i.ID, dec.err)
	}
	return i, nil
}

func (r *repo) InsertInstallments(ctx context.Context, list []sales.Installment) error {
	for _, i := range list {
		_, err := r.exec(ctx, `
			INSERT INTO installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			i.ID, i.SaleID, i.Number, formatTime(i.DueDate),
			i.Amount.String(), i.Capital.String(), i.Interest.String(),
			i.PriorBalance.String(), i.PostBalance.String(), i.PaidAmount.String(),
			i.State, nullTime(i.PaymentDate),
		)
		if err != nil {
			return wrapWriteError(err, "inserting installment %d of sale %s", i.Number, i.SaleID)
		}
	}
	return nil
}

func (r *repo) GetInstallment(ctx context.Context, id sales.InstallmentID) (*sales.Installment, error) {
	i, err := scanInstallment(r.queryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting installment %s: %w", id, err)
	}
	return &i, nil
}

func (r *repo) ListInstallments(ctx context.Context, saleID sales.SaleID) ([]sales.Installment, error) {
	rows, err := r.query(ctx, `SELECT `+installmentColumns+` FROM installments WHERE sale_id = ? ORDER BY number`, saleID)
	if err != nil {
		return nil, fmt.Errorf("listing installments: %w", err)
	}
	defer rows.Close()

	var list []sales.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning installment: %w", err)
		}
		list = append(list, i)
	}
	return list, rows.Err()
}

func (r *repo) UpdateInstallment(ctx context.Context, i sales.Installment) error {
	res, err := r.exec(ctx, `
		UPDATE installments SET
			due_date = ?, amount = ?, capital = ?, interest = ?,
			prior_balance = ?, post_balance = ?, paid_amount = ?, state = ?, payment_date = ?
		WHERE id = ?
	`,
		formatTime(i.DueDate), i.Amount.String(), i.Capital.String(), i.Interest.String(),
		i.PriorBalance.String(), i.PostBalance.String(), i.PaidAmount.String(), i.State, nullTime(i.PaymentDate),
		i.ID,
	)
	if err != nil {
		return fmt.Errorf("updating installment %s: %w", i.ID, err)
	}
	return expectOneRow(res, "installment", i.ID)
}

func (r *repo) MarkOverdue(ctx context.Context, saleID *sales.SaleID, asOf time.Time) (int, error) {
	query := `UPDATE installments SET state = ? WHERE state = ? AND due_date < ?`
	args := []any{sales.InstallmentOverdue, sales.InstallmentPending, formatTime(asOf)}
	if saleID != nil {
		query += ` AND sale_id = ?`
		args = append(args, *saleID)
	}

	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("marking overdue installments: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// REPROGRAMMING
// =============================================================================

func (r *repo) InsertReprogramming(ctx context.Context, ev sales.ReprogrammingEvent) error {
	var model, rate, freq sql.NullString
	if ev.Plan.Model != nil {
		model = sql.NullString{String: string(*ev.Plan.Model), Valid: true}
	}
	if ev.Plan.AnnualRate != nil {
		rate = sql.NullString{String: ev.Plan.AnnualRate.String(), Valid: true}
	}
	if ev.Plan.Frequency != nil {
		freq = sql.NullString{String: string(*ev.Plan.Frequency), Valid: true}
	}

	_, err := r.exec(ctx, `
		INSERT INTO reprogramming_events
		(id, sale_id, reason, plan_model, plan_rate, plan_frequency, recalculated, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.SaleID, ev.Reason, model, rate, freq, boolInt(ev.Recalculated), formatTime(ev.CreatedAt), ev.CreatedBy)
	if err != nil {
		return wrapWriteError(err, "inserting reprogramming event %s", ev.ID)
	}

	for pos, dc := range ev.Discounts {
		_, err := r.exec(ctx, `
			INSERT INTO reprogramming_discounts
			(event_id, position, installment_id, installment_number, amount, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ev.ID, pos, dc.InstallmentID, dc.InstallmentNumber, dc.Amount.String(), dc.Reason)
		if err != nil {
			return fmt.Errorf("inserting discount %d: %w", pos, err)
		}
	}
	for pos, m := range ev.Modifications {
		_, err := r.exec(ctx, `
			INSERT INTO reprogramming_modifications
			(event_id, position, installment_id, installment_number,
			 previous_amount, new_amount, previous_due_date, new_due_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID, pos, m.InstallmentID, m.InstallmentNumber,
			m.PreviousAmount.String(), m.NewAmount.String(), formatTime(m.PreviousDueDate), formatTime(m.NewDueDate))
		if err != nil {
			return fmt.Errorf("inserting modification %d: %w", pos, err)
		}
	}
	return nil
}

func (r *repo) ListReprogrammings(ctx context.Context, saleID sales.SaleID) ([]sales.ReprogrammingEvent, error) {
	rows, err := r.query(ctx, `
		SELECT id, sale_id, reason, plan_model, plan_rate, plan_frequency, recalculated, created_at, created_by
		FROM reprogramming_events
		WHERE sale_id = ?
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("listing reprogramming events: %w", err)
	}

	var events []sales.ReprogrammingEvent
	for rows.Next() {
		var (
			ev                sales.ReprogrammingEvent
			model, rate, freq sql.NullString
			recalculated      int
			createdAt         string
		)
		if err := rows.Scan(&ev.ID, &ev.SaleID, &ev.Reason, &model, &rate, &freq, &recalculated, &createdAt, &ev.CreatedBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning reprogramming event: %w", err)
		}
		if model.Valid {
			m := amortization.Model(model.String)
			ev.Plan.Model = &m
		}
		var dec columnDecoder
		ev.Plan.AnnualRate = dec.nullDecimal("annual_rate", rate)
		if freq.Valid {
			f := amortization.Frequency(freq.String)
			ev.Plan.Frequency = &f
		}
		ev.Recalculated = recalculated != 0
		ev.CreatedAt = dec.time("created_at", createdAt)
		if dec.err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding reprogramming event %s: %w", ev.ID, dec.err)
		}
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Children are read after the parent cursor is closed; SQLite runs on a
	// single connection.
	for i := range events {
		if events[i].Discounts, err = r.listDiscounts(ctx, events[i].ID); err != nil {
			return nil, err
		}
		if events[i].Modifications, err = r.listModifications(ctx, events[i].ID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (r *repo) listDiscounts(ctx context.Context, eventID sales.ReprogrammingID) ([]sales.Discount, error) {
	rows, err := r.query(ctx, `
		SELECT installment_id, installment_number, amount, reason
		FROM reprogramming_discounts WHERE event_id = ? ORDER BY position
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("listing discounts: %w", err)
	}
	defer rows.Close()

	var list []sales.Discount
	for rows.Next() {
		var (
			dc     sales.Discount
			amount string
		)
		if err := rows.Scan(&dc.InstallmentID, &dc.InstallmentNumber, &amount, &dc.Reason); err != nil {
			return nil, fmt.Errorf("scanning discount: %w", err)
		}
		var dec columnDecoder
		dc.Amount = dec.decimal("amount", amount)
		if dec.err != nil {
			return nil, fmt.Errorf("decoding discount on installment %d: %w", dc.InstallmentNumber, dec.err)
		}
		list = append(list, dc)
	}
	return list, rows.Err()
}

func (r *repo) listModifications(ctx context.Context, eventID sales.ReprogrammingID) ([]sales.Modification, error) {
	rows, err := r.query(ctx, `
		SELECT installment_id, installment_number, previous_amount, new_amount, previous_due_date, new_due_date
		FROM reprogramming_modifications WHERE event_id = ? ORDER BY position
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("listing modifications: %w", err)
	}
	defer rows.Close()

	var list []sales.Modification
	for rows.Next() {
		var (
			m                     sales.Modification
			prevAmount, newAmount string
			prevDue, newDue       string
		)
		if err := rows.Scan(&m.InstallmentID, &m.InstallmentNumber, &prevAmount, &newAmount, &prevDue, &newDue); err != nil {
			return nil, fmt.Errorf("scanning modification: %w", err)
		}
		var dec columnDecoder
		m.PreviousAmount = dec.decimal("previous_amount", prevAmount)
		m.NewAmount = dec.decimal("new_amount", newAmount)
		m.PreviousDueDate = dec.time("previous_due_date", prevDue)
		m.NewDueDate = dec.time("new_due_date", newDue)
		if dec.err != nil {
			return nil, fmt.Errorf("decoding modification of installment %d: %w", m.InstallmentNumber, dec.err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// =============================================================================
// COMMISSION PAYMENTS
// =============================================================================

func (r *repo) InsertCommissionPayment(ctx context.Context, p sales.CommissionPayment) error {
	_, err := r.exec(ctx, `
		INSERT INTO commission_payments
		(id, sale_id, amount, payment_date, method, payment_type, observations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SaleID, p.Amount.String(), formatTime(p.PaymentDate), p.Method, p.Type,
		nullStringPtr(p.Observations), formatTime(p.CreatedAt))
	if err != nil {
		return wrapWriteError(err, "inserting commission payment %s", p.ID)
	}
	for _, ref := range p.Receipts {
		if err := r.AttachReceipt(ctx, p.ID, ref); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListCommissionPayments(ctx context.Context, saleID sales.SaleID) ([]sales.CommissionPayment, error) {
	rows, err := r.query(ctx, `
		SELECT id, sale_id, amount, payment_date, method, payment_type, observations, created_at
		FROM commission_payments
		WHERE sale_id = ?
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("listing commission payments: %w", err)
	}

	var list []sales.CommissionPayment
	for rows.Next() {
		var (
			p                     sales.CommissionPayment
			amount, paid, created string
			observations          sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.SaleID, &amount, &paid, &p.Method, &p.Type, &observations, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning commission payment: %w", err)
		}
		var dec columnDecoder
		p.Amount = dec.decimal("amount", amount)
		p.PaymentDate = dec.time("payment_date", paid)
		p.CreatedAt = dec.time("created_at", created)
		if dec.err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding commission payment %s: %w", p.ID, dec.err)
		}
		if observations.Valid {
			p.Observations = &observations.String
		}
		list = append(list, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		if list[i].Receipts, err = r.listReceipts(ctx, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *repo) listReceipts(ctx context.Context, paymentID sales.CommissionPaymentID) ([]sales.ReceiptRef, error) {
	rows, err := r.query(ctx, `SELECT ref FROM commission_receipts WHERE payment_id = ? ORDER BY seq`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer rows.Close()

	var refs []sales.ReceiptRef
	for rows.Next() {
		var ref sales.ReceiptRef
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *repo) AttachReceipt(ctx context.Context, paymentID sales.CommissionPaymentID, ref sales.ReceiptRef) error {
	_, err := r.exec(ctx, `
		INSERT INTO commission_receipts (payment_id, seq, ref)
		VALUES (?, (SELECT COUNT(*) FROM commission_receipts WHERE payment_id = ?), ?)
	`, paymentID, paymentID, ref)
	if err != nil {
		return wrapWriteError(err, "attaching receipt to payment %s", paymentID)
	}
	return nil
}

// =============================================================================
// CANCELLATIONS
// =============================================================================

func (r *repo) InsertCancellation(ctx context.Context, c sales.CancellationRequest) error {
	_, err := r.exec(ctx, `
		INSERT INTO cancellation_requests
		(id, sale_id, type, reason, refund_type, refund_amount, refund_percentage, state, requested_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.SaleID, c.Type, c.Reason, c.RefundType,
		nullDecimal(c.RefundAmount), nullDecimal(c.RefundPercentage),
		c.State, c.RequestedBy, formatTime(c.CreatedAt))
	if err != nil {
		return wrapWriteError(err, "inserting cancellation request %s", c.ID)
	}
	return nil
}

func (r *repo) ListCancellations(ctx context.Context, saleID sales.SaleID) ([]sales.CancellationRequest, error) {
	rows, err := r.query(ctx, `
		SELECT id, sale_id, type, reason, refund_type, refund_amount, refund_percentage, state, requested_by, created_at
		FROM cancellation_requests
		WHERE sale_id = ?
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("listing cancellation requests: %w", err)
	}
	defer rows.Close()

	var list []sales.CancellationRequest
	for rows.Next() {
		var (
			c           sales.CancellationRequest
			amount, pct sql.NullString
			created     string
		)
		if err := rows.Scan(&c.ID, &c.SaleID, &c.Type, &c.Reason, &c.RefundType, &amount, &pct,
			&c.State, &c.RequestedBy, &created); err != nil {
			return nil, fmt.Errorf("scanning cancellation request: %w", err)
		}
		var dec columnDecoder
		c.RefundAmount = dec.nullDecimal("refund_amount", amount)
		c.RefundPercentage = dec.nullDecimal("refund_percentage", pct)
		c.CreatedAt = dec.time("created_at", created)
		if dec.err != nil {
			return nil, fmt.Errorf("decoding cancellation request %s: %w", c.ID, dec.err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// columnDecoder converts text columns back into values and keeps the first
// failure, so a corrupted row is reported instead of read as zero.
type columnDecoder struct {
	err error
}

func (c *columnDecoder) fail(col, kind, raw string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("column %s: invalid %s %q: %w", col, kind, raw, err)
	}
}

func (c *columnDecoder) time(col, raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		c.fail(col, "timestamp", raw, err)
	}
	return t
}

func (c *columnDecoder) nullTime(col string, raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := c.time(col, raw.String)
	return &t
}

func (c *columnDecoder) decimal(col, raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		c.fail(col, "decimal", raw, err)
	}
	return d
}

func (c *columnDecoder) nullDecimal(col string, raw sql.NullString) *decimal.Decimal {
	if !raw.Valid {
		return nil
	}
	d := c.decimal(col, raw.String)
	return &d
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullActor(a *sales.ActorID) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*a), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &sales.Error{Kind: sales.KindNotFound, Code: sales.CodeNotFound, Reason: fmt.Sprintf("%s %v not found", what, id)}
	}
	return nil
}

// wrapWriteError turns unique-key violations from either driver into
// ALREADY_EXISTS conflicts.
func wrapWriteError(err error, format string, args ...any) error {
	if isUniqueViolation(err) {
		return &sales.Error{
			Kind:   sales.KindStateConflict,
			Code:   sales.CodeAlreadyExists,
			Reason: fmt.Sprintf(format, args...) + ": already exists",
		}
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
