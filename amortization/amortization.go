/*
Package amortization turns a financed principal into a schedule of periodic payments.

PURPOSE:
  Pure, deterministic schedule generation. No storage, no clock, no side
  effects: the same Input always yields the same []Entry. The installment
  ledger persists the output; the reprogramming engine feeds the unpaid
  remainder of a sale back in to regenerate its tail.

MODELS:
  FRENCH  constant total payment   payment = P·r / (1 − (1+r)^−n)
  GERMAN  constant capital         capital = P / n, interest on the open balance

PERIOD RATE:
  AnnualRate is a nominal percentage (12 = 12%). The period rate is
  AnnualRate / 100 / periods-per-year (MONTHLY 12, BIWEEKLY 26, WEEKLY 52).

ROUNDING:
  Every period is rounded to cents, half-up. The last period's capital is
  whatever balance remains, so the capital column always sums to the
  principal and the closing balance is exactly 0.00.

EXAMPLE:
  entries, err := amortization.Generate(amortization.Input{
      Principal:  decimal.NewFromInt(90000),
      AnnualRate: decimal.NewFromInt(12),
      Periods:    12,
      Frequency:  amortization.Monthly,
      Model:      amortization.French,
      StartDate:  time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
  })
  // entries[0].Total = 7996.39, entries[0].Interest = 900.00

SEE ALSO:
  - sales/ledger.go: materializes a schedule as installments
  - sales/reprogram.go: regenerates the unpaid tail
*/
package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MODEL & FREQUENCY
// =============================================================================

// Model is the algorithm distributing principal and interest across periods.
type Model string

const (
	French Model = "FRENCH" // constant total payment
	German Model = "GERMAN" // constant capital amortization
)

func (m Model) Valid() bool { return m == French || m == German }

// Frequency is the spacing between two consecutive due dates.
type Frequency string

const (
	Monthly  Frequency = "MONTHLY"
	Biweekly Frequency = "BIWEEKLY"
	Weekly   Frequency = "WEEKLY"
)

func (f Frequency) Valid() bool { return f.PeriodsPerYear() > 0 }

// PeriodsPerYear returns how many periods of this frequency fit in a year,
// or 0 for an unknown frequency.
func (f Frequency) PeriodsPerYear() int {
	switch f {
	case Monthly:
		return 12
	case Biweekly:
		return 26
	case Weekly:
		return 52
	default:
		return 0
	}
}

// DueDate returns the due date of period k (1-based) counted from start.
// Monthly dates keep the start's day of month, clamped to the month's last day.
func (f Frequency) DueDate(start time.Time, k int) time.Time {
	switch f {
	case Biweekly:
		return start.AddDate(0, 0, 14*k)
	case Weekly:
		return start.AddDate(0, 0, 7*k)
	default:
		return addMonthsClamped(start, k)
	}
}

func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := t.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// ErrInvalidInput is returned for inputs no schedule can be built from.
var ErrInvalidInput = errors.New("invalid amortization input")

// MaxPeriods caps the schedule length: fifty years of weekly installments.
const MaxPeriods = 2600

// Input describes the loan to amortize.
type Input struct {
	Principal  decimal.Decimal
	AnnualRate decimal.Decimal // nominal percentage, 12 = 12%
	Periods    int
	Frequency  Frequency
	Model      Model
	StartDate  time.Time
}

// Entry is one period of a schedule.
type Entry struct {
	Period       int
	DueDate      time.Time
	Capital      decimal.Decimal
	Interest     decimal.Decimal
	Total        decimal.Decimal
	PriorBalance decimal.Decimal
	PostBalance  decimal.Decimal
}

// Validate reports the first problem with the input, wrapped in ErrInvalidInput.
func (in Input) Validate() error {
	switch {
	case in.Periods <= 0:
		return fmt.Errorf("%w: period count must be positive, got %d", ErrInvalidInput, in.Periods)
	case in.Periods > MaxPeriods:
		return fmt.Errorf("%w: period count must not exceed %d, got %d", ErrInvalidInput, MaxPeriods, in.Periods)
	case in.Principal.IsNegative():
		return fmt.Errorf("%w: principal must not be negative, got %s", ErrInvalidInput, in.Principal)
	case in.AnnualRate.IsNegative():
		return fmt.Errorf("%w: annual rate must not be negative, got %s", ErrInvalidInput, in.AnnualRate)
	case !in.Frequency.Valid():
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidInput, in.Frequency)
	case !in.Model.Valid():
		return fmt.Errorf("%w: unknown amortization model %q", ErrInvalidInput, in.Model)
	}
	return nil
}

// =============================================================================
// GENERATION
// =============================================================================

const ratePrecision = 20

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// PeriodRate converts a nominal annual percentage into the rate of one period.
func PeriodRate(annualRate decimal.Decimal, f Frequency) decimal.Decimal {
	ppy := f.PeriodsPerYear()
	if ppy == 0 {
		return decimal.Zero
	}
	return annualRate.DivRound(hundred, ratePrecision).DivRound(decimal.NewFromInt(int64(ppy)), ratePrecision)
}

// Generate builds the full schedule for the input.
func Generate(in Input) ([]Entry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		principal = in.Principal.Round(2)
		r         = PeriodRate(in.AnnualRate, in.Frequency)
		n         = decimal.NewFromInt(int64(in.Periods))
		payment   decimal.Decimal
		capital   decimal.Decimal
	)

	switch in.Model {
	case French:
		payment = frenchPayment(principal, r, in.Periods)
	case German:
		capital = principal.DivRound(n, 2)
	}

	entries := make([]Entry, 0, in.Periods)
	balance := principal

	for k := 1; k <= in.Periods; k++ {
		interest := balance.Mul(r).Round(2)

		c := capital
		if in.Model == French {
			c = payment.Sub(interest)
		}

		// The last period absorbs every rounding residue.
		if k == in.Periods || c.GreaterThan(balance) {
			c = balance
		}
		if c.IsNegative() {
			c = decimal.Zero
		}

		entries = append(entries, Entry{
			Period:       k,
			DueDate:      in.Frequency.DueDate(in.StartDate, k),
			Capital:      c,
			Interest:     interest,
			Total:        c.Add(interest),
			PriorBalance: balance,
			PostBalance:  balance.Sub(c),
		})
		balance = balance.Sub(c)
	}

	return entries, nil
}

// frenchPayment computes P·r·(1+r)^n / ((1+r)^n − 1), rounded to cents.
func frenchPayment(principal, r decimal.Decimal, periods int) decimal.Decimal {
	if r.IsZero() {
		return principal.DivRound(decimal.NewFromInt(int64(periods)), 2)
	}
	factor := compound(one.Add(r), periods)
	return principal.Mul(r).Mul(factor).DivRound(factor.Sub(one), ratePrecision).Round(2)
}

// compound raises base to n with bounded precision; decimal.Pow on long
// schedules grows the mantissa without limit.
func compound(base decimal.Decimal, n int) decimal.Decimal {
	result := one
	for i := 0; i < n; i++ {
		result = result.Mul(base).Round(ratePrecision)
	}
	return result
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary totals a schedule.
type Summary struct {
	Periods       int
	TotalCapital  decimal.Decimal
	TotalInterest decimal.Decimal
	TotalPaid     decimal.Decimal
}

// Summarize totals the capital, interest and payments of a schedule.
func Summarize(entries []Entry) Summary {
	s := Summary{Periods: len(entries)}
	for _, e := range entries {
		s.TotalCapital = s.TotalCapital.Add(e.Capital)
		s.TotalInterest = s.TotalInterest.Add(e.Interest)
		s.TotalPaid = s.TotalPaid.Add(e.Total)
	}
	return s
}
