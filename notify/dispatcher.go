package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/warp/sales-engine/sales"
)

// deliverTimeout bounds a single sink delivery.
const deliverTimeout = 5 * time.Second

// Dispatcher queues events and delivers them to every sink from a single
// background goroutine. Notify never blocks: when the queue is full the
// event is dropped and logged.
type Dispatcher struct {
	logger *slog.Logger
	sinks  []sales.Notifier
	queue  chan sales.Event

	done chan struct{}
}

var _ sales.Notifier = (*Dispatcher)(nil)

func NewDispatcher(logger *slog.Logger, buffer int, sinks ...sales.Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	var kept []sales.Notifier
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Dispatcher{
		logger: logger,
		sinks:  kept,
		queue:  make(chan sales.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) Notify(_ context.Context, ev sales.Event) error {
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("notification queue full, dropping event", "type", ev.Type, "sale_id", ev.SaleID)
	}
	return nil
}

// Run delivers queued events until ctx is cancelled. Events still queued
// at that point are delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) deliver(ev sales.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := sink.Notify(ctx, ev); err != nil {
			d.logger.Warn("notification delivery failed", "type", ev.Type, "sale_id", ev.SaleID, "error", err)
		}
		cancel()
	}
}
