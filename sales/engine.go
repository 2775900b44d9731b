package sales

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// OPTIONS - Collaborators shared by every service
// =============================================================================

type deps struct {
	store     TxStore
	audit     AuditLog
	notifier  Notifier
	documents DocumentStore
	pipeline  CancellationPipeline
	logger    *slog.Logger
	now       func() time.Time

	receiptTimeout     time.Duration
	receiptParallelism int
}

type Option func(*deps)

func WithAuditLog(a AuditLog) Option           { return func(d *deps) { d.audit = a } }
func WithNotifier(n Notifier) Option           { return func(d *deps) { d.notifier = n } }
func WithDocumentStore(s DocumentStore) Option { return func(d *deps) { d.documents = s } }
func WithLogger(l *slog.Logger) Option         { return func(d *deps) { d.logger = l } }

func WithCancellationPipeline(p CancellationPipeline) Option {
	return func(d *deps) { d.pipeline = p }
}

// WithClock replaces time.Now, for tests and replays.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

// WithReceiptUpload bounds each receipt upload and how many run at once.
func WithReceiptUpload(timeout time.Duration, parallelism int) Option {
	return func(d *deps) {
		if timeout > 0 {
			d.receiptTimeout = timeout
		}
		if parallelism > 0 {
			d.receiptParallelism = parallelism
		}
	}
}

func newDeps(store TxStore, opts []Option) *deps {
	d := &deps{
		store:              store,
		logger:             slog.Default(),
		now:                time.Now,
		receiptTimeout:     30 * time.Second,
		receiptParallelism: 4,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// record writes an audit entry after commit. Errors are logged only.
func (d *deps) record(ctx context.Context, actor ActorID, action AuditAction, saleID SaleID, payload map[string]any) {
	if d.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: d.now().UTC(),
		ActorID:   actor,
		Action:    action,
		SaleID:    saleID,
		Payload:   payload,
	}
	if err := d.audit.Record(ctx, entry); err != nil {
		d.logger.Warn("audit record failed", "action", action, "sale_id", saleID, "error", err)
	}
}

// notify publishes an event after commit. Errors are logged only.
func (d *deps) notify(ctx context.Context, typ EventType, saleID SaleID, payload map[string]any) {
	if d.notifier == nil {
		return
	}
	ev := Event{Type: typ, SaleID: saleID, Timestamp: d.now().UTC(), Payload: payload}
	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.logger.Warn("notification failed", "event", typ, "sale_id", saleID, "error", err)
	}
}

// loadSale reads a sale inside a unit of work, mapping a missing row to NOT_FOUND.
func loadSale(ctx context.Context, repo Repository, id SaleID) (*Sale, error) {
	sale, err := repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, notFoundError("sale", id)
	}
	return sale, nil
}

// =============================================================================
// ENGINE - The four services over one store
// =============================================================================

type Engine struct {
	Ledger      *InstallmentLedger
	Reprogram   *ReprogrammingEngine
	Commissions *CommissionLedger
	Lifecycle   *Lifecycle
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	d := newDeps(store, opts)
	return &Engine{
		Ledger:      &InstallmentLedger{d: d},
		Reprogram:   &ReprogrammingEngine{d: d},
		Commissions: &CommissionLedger{d: d},
		Lifecycle:   &Lifecycle{d: d},
	}
}
