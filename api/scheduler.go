/*
scheduler.go - Periodic overdue sweep

PURPOSE:
  Installments are refreshed to OVERDUE whenever a sale's schedule is read,
  but sales nobody looks at would keep a stale PENDING state forever. This
  scheduler runs the sweep across all sales on a fixed interval so reports
  and notifications see current states.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each sweep is one UPDATE per store; there is no per-sale work here

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueScheduler(engine.Ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RefreshOverdue endpoint (manual sweep)
  - sales/ledger.go: RefreshOverdueStates
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OverdueRefresher is the part of the installment ledger the scheduler needs.
type OverdueRefresher interface {
	RefreshOverdueStates(ctx context.Context, asOf time.Time) (int, error)
}

// OverdueScheduler sweeps overdue installments on an interval.
type OverdueScheduler struct {
	Ledger        OverdueRefresher
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScheduler creates a new scheduler.
func NewOverdueScheduler(ledger OverdueRefresher, logger *slog.Logger) *OverdueScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueScheduler{
		Ledger:        ledger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		logger:        logger.With("component", "overdue-scheduler"),
	}
}

// Start begins the scheduler.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info("started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("stopped")
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-stop:
			return
		}
	}
}

func (s *OverdueScheduler) sweep() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := s.Now().UTC()
	asOf := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	n, err := s.Ledger.RefreshOverdueStates(ctx, asOf)
	if err != nil {
		s.logger.Error("overdue sweep failed", "as_of", asOf.Format(dateLayout), "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("overdue sweep completed", "as_of", asOf.Format(dateLayout), "updated", n)
	}
	return n
}

// RunNow triggers an immediate sweep and reports how many installments
// changed state.
func (s *OverdueScheduler) RunNow() int {
	return s.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (s *OverdueScheduler) GetNextRunTime() time.Time {
	return s.Now().Add(s.CheckInterval)
}
