// Package store provides in-memory sales.TxStore and sales.AuditLog implementations.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one mutex. A unit of work
// holds the mutex for its whole duration, which serializes all sales.
type Memory struct {
	mu            sync.Mutex
	units         map[sales.UnitRef]sales.Unit
	sales         map[sales.SaleID]sales.Sale
	installments  map[sales.InstallmentID]sales.Installment
	reprogramming []sales.ReprogrammingEvent
	commissions   []sales.CommissionPayment
	cancellations []sales.CancellationRequest
	audit         []sales.AuditEntry
}

var (
	_ sales.TxStore  = (*Memory)(nil)
	_ sales.AuditLog = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		units:        make(map[sales.UnitRef]sales.Unit),
		sales:        make(map[sales.SaleID]sales.Sale),
		installments: make(map[sales.InstallmentID]sales.Installment),
	}
}

// =============================================================================
// UNITS OF WORK
// =============================================================================

// WithTx runs fn holding the store lock. On error every write made by fn
// is discarded by restoring a snapshot taken before it ran.
func (m *Memory) WithTx(ctx context.Context, fn func(sales.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) WithSaleLock(ctx context.Context, _ sales.SaleID, fn func(sales.Repository) error) error {
	return m.WithTx(ctx, fn)
}

type memorySnapshot struct {
	units         map[sales.UnitRef]sales.Unit
	sales         map[sales.SaleID]sales.Sale
	installments  map[sales.InstallmentID]sales.Installment
	reprogramming []sales.ReprogrammingEvent
	commissions   []sales.CommissionPayment
	cancellations []sales.CancellationRequest
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		units:         make(map[sales.UnitRef]sales.Unit, len(m.units)),
		sales:         make(map[sales.SaleID]sales.Sale, len(m.sales)),
		installments:  make(map[sales.InstallmentID]sales.Installment, len(m.installments)),
		reprogramming: slices.Clone(m.reprogramming),
		commissions:   make([]sales.CommissionPayment, len(m.commissions)),
		cancellations: slices.Clone(m.cancellations),
	}
	for k, v := range m.units {
		s.units[k] = v
	}
	for k, v := range m.sales {
		s.sales[k] = v
	}
	for k, v := range m.installments {
		s.installments[k] = v
	}
	for i, p := range m.commissions {
		p.Receipts = slices.Clone(p.Receipts)
		s.commissions[i] = p
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.units = s.units
	m.sales = s.sales
	m.installments = s.installments
	m.reprogramming = s.reprogramming
	m.commissions = s.commissions
	m.cancellations = s.cancellations
}

// =============================================================================
// REPOSITORY - Reads outside a unit of work take the lock per call
// =============================================================================

func (m *Memory) locked(fn func(v *memoryView)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&memoryView{m: m})
}

func (m *Memory) GetUnit(ctx context.Context, ref sales.UnitRef) (u *sales.Unit, err error) {
	m.locked(func(v *memoryView) { u, err = v.GetUnit(ctx, ref) })
	return
}

func (m *Memory) SaveUnit(ctx context.Context, unit sales.Unit) (err error) {
	m.locked(func(v *memoryView) { err = v.SaveUnit(ctx, unit) })
	return
}

func (m *Memory) ListUnits(ctx context.Context) (list []sales.Unit, err error) {
	m.locked(func(v *memoryView) { list, err = v.ListUnits(ctx) })
	return
}

func (m *Memory) GetSale(ctx context.Context, id sales.SaleID) (s *sales.Sale, err error) {
	m.locked(func(v *memoryView) { s, err = v.GetSale(ctx, id) })
	return
}

func (m *Memory) ListSales(ctx context.Context) (list []sales.Sale, err error) {
	m.locked(func(v *memoryView) { list, err = v.ListSales(ctx) })
	return
}

func (m *Memory) InsertSale(ctx context.Context, sale sales.Sale) (err error) {
	m.locked(func(v *memoryView) { err = v.InsertSale(ctx, sale) })
	return
}

func (m *Memory) UpdateSale(ctx context.Context, sale sales.Sale) (err error) {
	m.locked(func(v *memoryView) { err = v.UpdateSale(ctx, sale) })
	return
}

func (m *Memory) DeleteSale(ctx context.Context, id sales.SaleID) (err error) {
	m.locked(func(v *memoryView) { err = v.DeleteSale(ctx, id) })
	return
}

func (m *Memory) InsertInstallments(ctx context.Context, list []sales.Installment) (err error) {
	m.locked(func(v *memoryView) { err = v.InsertInstallments(ctx, list) })
	return
}

func (m *Memory) GetInstallment(ctx context.Context, id sales.InstallmentID) (i *sales.Installment, err error) {
	m.locked(func(v *memoryView) { i, err = v.GetInstallment(ctx, id) })
	return
}

func (m *Memory) ListInstallments(ctx context.Context, saleID sales.SaleID) (list []sales.Installment, err error) {
	m.locked(func(v *memoryView) { list, err = v.ListInstallments(ctx, saleID) })
	return
}

func (m *Memory) UpdateInstallment(ctx context.Context, inst sales.Installment) (err error) {
	m.locked(func(v *memoryView) { err = v.UpdateInstallment(ctx, inst) })
	return
}

func (m *Memory) MarkOverdue(ctx context.Context, saleID *sales.SaleID, asOf time.Time) (n int, err error) {
	m.locked(func(v *memoryView) { n, err = v.MarkOverdue(ctx, saleID, asOf) })
	return
}

func (m *Memory) InsertReprogramming(ctx context.Context, ev sales.ReprogrammingEvent) (err error) {
	m.locked(func(v *memoryView) { err = v.InsertReprogramming(ctx, ev) })
	return
}

func (m *Memory) ListReprogrammings(ctx context.Context, saleID sales.SaleID) (list []sales.ReprogrammingEvent, err error) {
	m.locked(func(v *memoryView) { list, err = v.ListReprogrammings(ctx, saleID) })
	return
}

func (m *Memory) InsertCommissionPayment(ctx context.Context, p sales.CommissionPayment) (err error) {
	m.locked(func(v *memoryView) { err = v.InsertCommissionPayment(ctx, p) })
	return
}

func (m *Memory) ListCommissionPayments(ctx context.Context, saleID sales.SaleID) (list []sales.CommissionPayment, err error) {
	m.locked(func(v *memoryView) { list, err = v.ListCommissionPayments(ctx, saleID) })
	return
}

func (m *Memory) AttachReceipt(ctx context.Context, id sales.CommissionPaymentID, ref sales.ReceiptRef) (err error) {
	m.locked(func(v *memoryView) { err = v.AttachReceipt(ctx, id, ref) })
	return
}

func (m *Memory) InsertCancellation(ctx context.Context, req sales.CancellationRequest) (err error) {
	m.locked(func(v *memoryView) { err = v.InsertCancellation(ctx, req) })
	return
}

func (m *Memory) ListCancellations(ctx context.Context, saleID sales.SaleID) (list []sales.CancellationRequest, err error) {
	m.locked(func(v *memoryView) { list, err = v.ListCancellations(ctx, saleID) })
	return
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// Record appends an audit entry. Entries survive a rolled-back unit of work.
func (m *Memory) Record(_ context.Context, entry sales.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns the audit entries of one sale, oldest first.
func (m *Memory) AuditEntries(_ context.Context, saleID sales.SaleID) ([]sales.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sales.AuditEntry
	for _, e := range m.audit {
		if e.SaleID == saleID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// VIEW - Lock already held
// =============================================================================

type memoryView struct {
	m *Memory
}

func (v *memoryView) GetUnit(_ context.Context, ref sales.UnitRef) (*sales.Unit, error) {
	u, ok := v.m.units[ref]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (v *memoryView) SaveUnit(_ context.Context, unit sales.Unit) error {
	v.m.units[unit.Ref] = unit
	return nil
}

func (v *memoryView) ListUnits(_ context.Context) ([]sales.Unit, error) {
	out := make([]sales.Unit, 0, len(v.m.units))
	for _, u := range v.m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.String() < out[j].Ref.String() })
	return out, nil
}

func (v *memoryView) GetSale(_ context.Context, id sales.SaleID) (*sales.Sale, error) {
	s, ok := v.m.sales[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (v *memoryView) ListSales(_ context.Context) ([]sales.Sale, error) {
	out := make([]sales.Sale, 0, len(v.m.sales))
	for _, s := range v.m.sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *memoryView) InsertSale(_ context.Context, sale sales.Sale) error {
	if _, ok := v.m.sales[sale.ID]; ok {
		return fmt.Errorf("sale %s already exists", sale.ID)
	}
	if _, ok := v.m.units[sale.Unit]; !ok {
		return fmt.Errorf("sale %s references unknown unit %s", sale.ID, sale.Unit)
	}
	v.m.sales[sale.ID] = sale
	return nil
}

func (v *memoryView) UpdateSale(_ context.Context, sale sales.Sale) error {
	if _, ok := v.m.sales[sale.ID]; !ok {
		return fmt.Errorf("sale %s does not exist", sale.ID)
	}
	v.m.sales[sale.ID] = sale
	return nil
}

func (v *memoryView) DeleteSale(_ context.Context, id sales.SaleID) error {
	delete(v.m.sales, id)
	for k, inst := range v.m.installments {
		if inst.SaleID == id {
			delete(v.m.installments, k)
		}
	}
	v.m.reprogramming = slices.DeleteFunc(v.m.reprogramming, func(e sales.ReprogrammingEvent) bool { return e.SaleID == id })
	v.m.commissions = slices.DeleteFunc(v.m.commissions, func(p sales.CommissionPayment) bool { return p.SaleID == id })
	v.m.cancellations = slices.DeleteFunc(v.m.cancellations, func(c sales.CancellationRequest) bool { return c.SaleID == id })
	return nil
}

func (v *memoryView) InsertInstallments(_ context.Context, list []sales.Installment) error {
	for _, inst := range list {
		if _, ok := v.m.sales[inst.SaleID]; !ok {
			return fmt.Errorf("installment %d references unknown sale %s", inst.Number, inst.SaleID)
		}
		v.m.installments[inst.ID] = inst
	}
	return nil
}

func (v *memoryView) GetInstallment(_ context.Context, id sales.InstallmentID) (*sales.Installment, error) {
	inst, ok := v.m.installments[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (v *memoryView) ListInstallments(_ context.Context, saleID sales.SaleID) ([]sales.Installment, error) {
	var out []sales.Installment
	for _, inst := range v.m.installments {
		if inst.SaleID == saleID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (v *memoryView) UpdateInstallment(_ context.Context, inst sales.Installment) error {
	if _, ok := v.m.installments[inst.ID]; !ok {
		return fmt.Errorf("installment %s does not exist", inst.ID)
	}
	v.m.installments[inst.ID] = inst
	return nil
}

func (v *memoryView) MarkOverdue(_ context.Context, saleID *sales.SaleID, asOf time.Time) (int, error) {
	n := 0
	for k, inst := range v.m.installments {
		if saleID != nil && inst.SaleID != *saleID {
			continue
		}
		if inst.State == sales.InstallmentPending && inst.DueDate.Before(asOf) {
			inst.State = sales.InstallmentOverdue
			v.m.installments[k] = inst
			n++
		}
	}
	return n, nil
}

func (v *memoryView) InsertReprogramming(_ context.Context, ev sales.ReprogrammingEvent) error {
	ev.Discounts = slices.Clone(ev.Discounts)
	ev.Modifications = slices.Clone(ev.Modifications)
	v.m.reprogramming = append(v.m.reprogramming, ev)
	return nil
}

func (v *memoryView) ListReprogrammings(_ context.Context, saleID sales.SaleID) ([]sales.ReprogrammingEvent, error) {
	var out []sales.ReprogrammingEvent
	for _, ev := range v.m.reprogramming {
		if ev.SaleID == saleID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (v *memoryView) InsertCommissionPayment(_ context.Context, p sales.CommissionPayment) error {
	p.Receipts = slices.Clone(p.Receipts)
	v.m.commissions = append(v.m.commissions, p)
	return nil
}

func (v *memoryView) ListCommissionPayments(_ context.Context, saleID sales.SaleID) ([]sales.CommissionPayment, error) {
	var out []sales.CommissionPayment
	for _, p := range v.m.commissions {
		if p.SaleID == saleID {
			p.Receipts = slices.Clone(p.Receipts)
			out = append(out, p)
		}
	}
	return out, nil
}

func (v *memoryView) AttachReceipt(_ context.Context, id sales.CommissionPaymentID, ref sales.ReceiptRef) error {
	for i := range v.m.commissions {
		if v.m.commissions[i].ID == id {
			v.m.commissions[i].Receipts = append(v.m.commissions[i].Receipts, ref)
			return nil
		}
	}
	return fmt.Errorf("commission payment %s does not exist", id)
}

func (v *memoryView) InsertCancellation(_ context.Context, req sales.CancellationRequest) error {
	v.m.cancellations = append(v.m.cancellations, req)
	return nil
}

func (v *memoryView) ListCancellations(_ context.Context, saleID sales.SaleID) ([]sales.CancellationRequest, error) {
	var out []sales.CancellationRequest
	for _, c := range v.m.cancellations {
		if c.SaleID == saleID {
			out = append(out, c)
		}
	}
	return out, nil
}
