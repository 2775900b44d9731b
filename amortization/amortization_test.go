package amortization_test

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/amortization"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var jan15 = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

// =============================================================================
// FRENCH
// =============================================================================

func TestGenerate_French_ConstantPayment(t *testing.T) {
	// GIVEN: 90,000 financed at 12% nominal, 12 monthly periods
	// WHEN: Generating a FRENCH schedule
	// THEN: Period 1 pays 900.00 interest inside a 7,996.39 payment,
	//       and the last period closes the balance at exactly zero

	entries, err := amortization.Generate(amortization.Input{
		Principal:  d("90000"),
		AnnualRate: d("12"),
		Periods:    12,
		Frequency:  amortization.Monthly,
		Model:      amortization.French,
		StartDate:  jan15,
	})
	require.NoError(t, err)
	require.Len(t, entries, 12)

	first := entries[0]
	assert.True(t, first.Interest.Equal(d("900.00")), "interest: %s", first.Interest)
	assert.True(t, first.Total.Equal(d("7996.39")), "total: %s", first.Total)
	assert.True(t, first.Capital.Equal(d("7096.39")), "capital: %s", first.Capital)
	assert.True(t, first.PriorBalance.Equal(d("90000")))
	assert.True(t, first.PostBalance.Equal(d("82903.61")))
	assert.Equal(t, time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC), first.DueDate)

	// Every period except the last pays the same total.
	for _, e := range entries[:11] {
		assert.True(t, e.Total.Equal(d("7996.39")), "period %d total: %s", e.Period, e.Total)
	}

	last := entries[11]
	assert.True(t, last.PostBalance.IsZero())
	assert.True(t, last.Capital.Equal(d("7917.23")), "last capital: %s", last.Capital)
	assert.True(t, last.Total.Equal(d("7996.40")), "last total: %s", last.Total)

	sum := amortization.Summarize(entries)
	assert.True(t, sum.TotalCapital.Equal(d("90000")))
	assert.True(t, sum.TotalInterest.Equal(d("5956.69")), "interest: %s", sum.TotalInterest)
}

func TestGenerate_French_ZeroRate(t *testing.T) {
	// GIVEN: An interest-free loan that does not divide evenly
	// THEN: The residue cent lands in the last period

	entries, err := amortization.Generate(amortization.Input{
		Principal:  d("10000"),
		AnnualRate: decimal.Zero,
		Periods:    3,
		Frequency:  amortization.Monthly,
		Model:      amortization.French,
		StartDate:  jan15,
	})
	require.NoError(t, err)

	assert.True(t, entries[0].Total.Equal(d("3333.33")))
	assert.True(t, entries[1].Total.Equal(d("3333.33")))
	assert.True(t, entries[2].Total.Equal(d("3333.34")))
	for _, e := range entries {
		assert.True(t, e.Interest.IsZero())
	}
}

// =============================================================================
// GERMAN
// =============================================================================

func TestGenerate_German_ConstantCapital(t *testing.T) {
	entries, err := amortization.Generate(amortization.Input{
		Principal:  d("90000"),
		AnnualRate: d("12"),
		Periods:    12,
		Frequency:  amortization.Monthly,
		Model:      amortization.German,
		StartDate:  jan15,
	})
	require.NoError(t, err)
	require.Len(t, entries, 12)

	assert.True(t, entries[0].Capital.Equal(d("7500")))
	assert.True(t, entries[0].Interest.Equal(d("900")))
	assert.True(t, entries[0].Total.Equal(d("8400")))

	// Interest decreases with the balance.
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].Interest.LessThan(entries[i-1].Interest), "period %d", entries[i].Period)
	}

	assert.True(t, entries[11].Interest.Equal(d("75")))
	assert.True(t, entries[11].PostBalance.IsZero())
	assert.True(t, amortization.Summarize(entries).TotalInterest.Equal(d("5850")))
}

func TestGenerate_German_ResidueInLastPeriod(t *testing.T) {
	entries, err := amortization.Generate(amortization.Input{
		Principal:  d("100"),
		AnnualRate: decimal.Zero,
		Periods:    3,
		Frequency:  amortization.Monthly,
		Model:      amortization.German,
		StartDate:  jan15,
	})
	require.NoError(t, err)

	assert.True(t, entries[0].Capital.Equal(d("33.33")))
	assert.True(t, entries[1].Capital.Equal(d("33.33")))
	assert.True(t, entries[2].Capital.Equal(d("33.34")))
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestGenerate_ConservationAcrossInputs(t *testing.T) {
	// Sum of capital equals principal, and the balance chain is continuous,
	// for every model and frequency.
	principals := []string{"1", "999.99", "90000", "123456.78"}
	rates := []string{"0", "5.5", "12", "24"}
	periods := []int{1, 7, 12, 60}
	models := []amortization.Model{amortization.French, amortization.German}
	freqs := []amortization.Frequency{amortization.Monthly, amortization.Biweekly, amortization.Weekly}

	for _, p := range principals {
		for _, r := range rates {
			for _, n := range periods {
				for _, m := range models {
					for _, f := range freqs {
						name := fmt.Sprintf("%s/%s/%d/%s/%s", p, r, n, m, f)
						t.Run(name, func(t *testing.T) {
							entries, err := amortization.Generate(amortization.Input{
								Principal:  d(p),
								AnnualRate: d(r),
								Periods:    n,
								Frequency:  f,
								Model:      m,
								StartDate:  jan15,
							})
							require.NoError(t, err)
							require.Len(t, entries, n)

							total := decimal.Zero
							for i, e := range entries {
								assert.False(t, e.Capital.IsNegative())
								assert.False(t, e.Interest.IsNegative())
								assert.True(t, e.Total.Equal(e.Capital.Add(e.Interest)))
								if i > 0 {
									assert.True(t, e.PriorBalance.Equal(entries[i-1].PostBalance))
									assert.True(t, e.DueDate.After(entries[i-1].DueDate))
								}
								total = total.Add(e.Capital)
							}
							assert.True(t, total.Equal(d(p)), "capital sum %s", total)
							assert.True(t, entries[n-1].PostBalance.IsZero())
						})
					}
				}
			}
		}
	}
}

// =============================================================================
// DUE DATES
// =============================================================================

func TestFrequency_DueDate(t *testing.T) {
	jan31 := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		freq  amortization.Frequency
		start time.Time
		k     int
		want  time.Time
	}{
		{"monthly keeps day", amortization.Monthly, jan15, 1, time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)},
		{"monthly clamps to february", amortization.Monthly, jan31, 1, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{"monthly clamps leap year", amortization.Monthly, jan31.AddDate(-1, 0, 0), 1, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{"monthly returns to day 31", amortization.Monthly, jan31, 2, time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)},
		{"monthly crosses year", amortization.Monthly, jan15, 12, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)},
		{"biweekly", amortization.Biweekly, jan15, 2, time.Date(2025, time.February, 12, 0, 0, 0, 0, time.UTC)},
		{"weekly", amortization.Weekly, jan15, 3, time.Date(2025, time.February, 5, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.freq.DueDate(tt.start, tt.k))
		})
	}
}

func TestPeriodRate(t *testing.T) {
	assert.True(t, amortization.PeriodRate(d("12"), amortization.Monthly).Equal(d("0.01")))
	assert.True(t, amortization.PeriodRate(d("26"), amortization.Biweekly).Equal(d("0.01")))
	assert.True(t, amortization.PeriodRate(d("52"), amortization.Weekly).Equal(d("0.01")))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestGenerate_InvalidInput(t *testing.T) {
	valid := amortization.Input{
		Principal:  d("1000"),
		AnnualRate: d("10"),
		Periods:    12,
		Frequency:  amortization.Monthly,
		Model:      amortization.French,
		StartDate:  jan15,
	}

	tests := []struct {
		name   string
		mutate func(*amortization.Input)
	}{
		{"zero periods", func(in *amortization.Input) { in.Periods = 0 }},
		{"negative periods", func(in *amortization.Input) { in.Periods = -3 }},
		{"too many periods", func(in *amortization.Input) { in.Periods = amortization.MaxPeriods + 1 }},
		{"huge period count", func(in *amortization.Input) { in.Periods = math.MaxInt32 }},
		{"negative principal", func(in *amortization.Input) { in.Principal = d("-1") }},
		{"negative rate", func(in *amortization.Input) { in.AnnualRate = d("-0.5") }},
		{"unknown frequency", func(in *amortization.Input) { in.Frequency = "DAILY" }},
		{"unknown model", func(in *amortization.Input) { in.Model = "AMERICAN" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := amortization.Generate(in)
			assert.ErrorIs(t, err, amortization.ErrInvalidInput)
		})
	}
}
