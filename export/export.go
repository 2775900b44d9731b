// Package export renders installment schedules as XLSX workbooks.
package export

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/sales-engine/sales"
)

const ScheduleSheet = "Schedule"

type column struct {
	Header string
	Money  bool
	Value  func(sales.Installment) any
}

func money(d decimal.Decimal) any { return d.Round(2).InexactFloat64() }

func date(t *time.Time) any {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

var scheduleColumns = []column{
	{Header: "No.", Value: func(i sales.Installment) any { return i.Number }},
	{Header: "Due date", Value: func(i sales.Installment) any { return date(&i.DueDate) }},
	{Header: "Prior balance", Money: true, Value: func(i sales.Installment) any { return money(i.PriorBalance) }},
	{Header: "Capital", Money: true, Value: func(i sales.Installment) any { return money(i.Capital) }},
	{Header: "Interest", Money: true, Value: func(i sales.Installment) any { return money(i.Interest) }},
	{Header: "Amount", Money: true, Value: func(i sales.Installment) any { return money(i.Amount) }},
	{Header: "Paid", Money: true, Value: func(i sales.Installment) any { return money(i.PaidAmount) }},
	{Header: "Remaining", Money: true, Value: func(i sales.Installment) any { return money(i.Remaining()) }},
	{Header: "Post balance", Money: true, Value: func(i sales.Installment) any { return money(i.PostBalance) }},
	{Header: "State", Value: func(i sales.Installment) any { return string(i.State) }},
	{Header: "Paid on", Value: func(i sales.Installment) any { return date(i.PaymentDate) }},
}

// ScheduleWorkbook returns an XLSX file with the sale's header block and
// one row per installment, followed by a totals row.
func ScheduleWorkbook(sale sales.Sale, installments []sales.Installment) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ScheduleSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("Installment schedule %s", sale.ID),
		Creator: "sales-engine",
	})

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return nil, fmt.Errorf("creating money style: %w", err)
	}

	// Sale header block.
	header := [][2]any{
		{"Sale", string(sale.ID)},
		{"Unit", sale.Unit.String()},
		{"Buyer", sale.BuyerID},
		{"Financed", money(sale.FinancedAmount())},
		{"Annual rate %", sale.AnnualRate.String()},
		{"Model", string(sale.Model)},
		{"Frequency", string(sale.Frequency)},
	}
	for i, kv := range header {
		row := i + 1
		_ = f.SetCellValue(ScheduleSheet, cell(1, row), kv[0])
		_ = f.SetCellValue(ScheduleSheet, cell(2, row), kv[1])
		_ = f.SetCellStyle(ScheduleSheet, cell(1, row), cell(1, row), bold)
	}
	_ = f.SetCellStyle(ScheduleSheet, cell(2, 4), cell(2, 4), moneyStyle)

	first := len(header) + 2
	for i, col := range scheduleColumns {
		_ = f.SetCellValue(ScheduleSheet, cell(i+1, first), col.Header)
	}
	_ = f.SetCellStyle(ScheduleSheet, cell(1, first), cell(len(scheduleColumns), first), bold)

	var totals [3]decimal.Decimal // amount, paid, remaining
	row := first + 1
	for _, inst := range installments {
		for c, col := range scheduleColumns {
			_ = f.SetCellValue(ScheduleSheet, cell(c+1, row), col.Value(inst))
		}
		totals[0] = totals[0].Add(inst.Amount)
		totals[1] = totals[1].Add(inst.PaidAmount)
		totals[2] = totals[2].Add(inst.Remaining())
		row++
	}

	_ = f.SetCellValue(ScheduleSheet, cell(1, row), "Total")
	_ = f.SetCellValue(ScheduleSheet, cell(6, row), money(totals[0]))
	_ = f.SetCellValue(ScheduleSheet, cell(7, row), money(totals[1]))
	_ = f.SetCellValue(ScheduleSheet, cell(8, row), money(totals[2]))
	_ = f.SetCellStyle(ScheduleSheet, cell(1, row), cell(len(scheduleColumns), row), bold)

	for c, col := range scheduleColumns {
		if col.Money {
			_ = f.SetCellStyle(ScheduleSheet, cell(c+1, first+1), cell(c+1, row), moneyStyle)
		}
	}
	_ = f.SetColWidth(ScheduleSheet, "A", "K", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is the suggested download name for a sale's schedule.
func Filename(saleID sales.SaleID, at time.Time) string {
	return fmt.Sprintf("schedule_%s_%s.xlsx", saleID, at.Format("20060102_150405"))
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
