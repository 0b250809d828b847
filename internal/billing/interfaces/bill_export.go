package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	billing "residence-cloud/internal/billing/domain"
)

var billColumns = []string{
	"Apartment", "Owner", "Period", "Electric", "Water", "Service", "Vehicles", "Other",
	"Pre-debt", "Late fee", "Discount", "Total", "Paid amount", "Balance", "Status", "Due date",
}

// BuildInvoicePDF renders a one-page invoice for a bill.
func BuildInvoicePDF(bill billing.BillView, currency string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Invoice")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Apartment: %s", bill.ApartmentID))
	pdf.Ln(5)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Owner: %s", bill.OwnerName)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", bill.Period))
	pdf.Ln(5)
	if !bill.DueDate.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Due date: %s", bill.DueDate.Format("2006-01-02")))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", bill.Status))
	pdf.Ln(5)
	if bill.PaidAt != nil {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Paid: %s (%s)", bill.PaidAt.Format(time.RFC3339), bill.PaymentMethod)))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(80, 6, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(60, 6, fmt.Sprintf("Amount (%s)", currency), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	lines := []struct {
		label  string
		amount decimal.Decimal
	}{
		{"Electric", bill.Electric},
		{"Water", bill.Water},
		{"Service", bill.Service},
		{"Vehicles", bill.Vehicles},
		{"Other", bill.Other},
		{"Previous debt", bill.PreDebt},
		{"Late fee", bill.LateFee},
		{"Discount", bill.Discount.Neg()},
	}
	for _, line := range lines {
		pdf.CellFormat(80, 6, line.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, line.amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 10)
	for _, line := range []struct {
		label  string
		amount decimal.Decimal
	}{
		{"Total", bill.Total},
		{"Paid", bill.PaidAmount},
		{"Balance", bill.Balance},
	} {
		pdf.CellFormat(80, 6, line.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, line.amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBillsXLSX renders the bills of a period as a sheet plus a summary sheet.
func BuildBillsXLSX(period billing.Period, bills []billing.BillView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	billsSheet := "bills"
	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", billsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(billsSheet, "A1", &billColumns); err != nil {
		return nil, err
	}
	total, paid, balance := decimal.Zero, decimal.Zero, decimal.Zero
	for i, b := range bills {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{
			b.ApartmentID, b.OwnerName, string(b.Period),
			b.Electric.InexactFloat64(), b.Water.InexactFloat64(), b.Service.InexactFloat64(),
			b.Vehicles.InexactFloat64(), b.Other.InexactFloat64(), b.PreDebt.InexactFloat64(),
			b.LateFee.InexactFloat64(), b.Discount.InexactFloat64(), b.Total.InexactFloat64(),
			b.PaidAmount.InexactFloat64(), b.Balance.InexactFloat64(), b.Status, dueDate(b),
		}
		if err := f.SetSheetRow(billsSheet, cell, &row); err != nil {
			return nil, err
		}
		total = total.Add(b.Total)
		paid = paid.Add(b.PaidAmount)
		balance = balance.Add(b.Balance)
	}

	_ = f.SetCellValue(summarySheet, "A1", "Period")
	_ = f.SetCellValue(summarySheet, "B1", string(period))
	_ = f.SetCellValue(summarySheet, "A2", "Bills")
	_ = f.SetCellValue(summarySheet, "B2", len(bills))
	_ = f.SetCellValue(summarySheet, "A3", "Total")
	_ = f.SetCellValue(summarySheet, "B3", total.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A4", "Collected")
	_ = f.SetCellValue(summarySheet, "B4", paid.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A5", "Outstanding")
	_ = f.SetCellValue(summarySheet, "B5", balance.InexactFloat64())

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type billCSV struct {
	ApartmentID string `csv:"apt_id"`
	OwnerName   string `csv:"owner_name"`
	Period      string `csv:"period"`
	Electric    string `csv:"electric"`
	Water       string `csv:"water"`
	Service     string `csv:"service"`
	Vehicles    string `csv:"vehicles"`
	Other       string `csv:"other"`
	PreDebt     string `csv:"pre_debt"`
	LateFee     string `csv:"late_fee"`
	Discount    string `csv:"discount"`
	Total       string `csv:"total"`
	PaidAmount  string `csv:"paid_amount"`
	Balance     string `csv:"balance"`
	Status      string `csv:"status"`
	DueDate     string `csv:"due_date"`
}

// BuildBillsCSV renders bills as CSV with a header row.
func BuildBillsCSV(bills []billing.BillView) ([]byte, error) {
	records := make([]*billCSV, 0, len(bills))
	for _, b := range bills {
		records = append(records, &billCSV{
			ApartmentID: b.ApartmentID,
			OwnerName:   b.OwnerName,
			Period:      string(b.Period),
			Electric:    b.Electric.String(),
			Water:       b.Water.String(),
			Service:     b.Service.String(),
			Vehicles:    b.Vehicles.String(),
			Other:       b.Other.String(),
			PreDebt:     b.PreDebt.String(),
			LateFee:     b.LateFee.String(),
			Discount:    b.Discount.String(),
			Total:       b.Total.String(),
			PaidAmount:  b.PaidAmount.String(),
			Balance:     b.Balance.String(),
			Status:      b.Status,
			DueDate:     dueDate(b),
		})
	}
	var buf bytes.Buffer
	if err := gocsv.Marshal(records, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dueDate(b billing.BillView) string {
	if b.DueDate.IsZero() {
		return ""
	}
	return b.DueDate.Format("2006-01-02")
}
