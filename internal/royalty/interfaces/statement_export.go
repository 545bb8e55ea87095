package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	royalty "royalty-cloud/internal/royalty/domain"
)

const dateLayout = "2006-01-02"

func tierLabel(slice royalty.TierSlice) string {
	if slice.MaxQuantity == nil {
		return fmt.Sprintf("%d+", slice.MinQuantity)
	}
	return fmt.Sprintf("%d-%d", slice.MinQuantity, *slice.MaxQuantity-1)
}

// BuildStatementPDF renders a royalty statement with its format, tier and payee tables.
func BuildStatementPDF(rec *royalty.StatementRecord, companyName string) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("export pdf: nil statement")
	}
	st := rec.Statement
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 13)
	pdf.AddPage()

	pdf.Cell(0, 8, companyName)
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(0, 8, "Royalty Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, line := range []string{
		fmt.Sprintf("Statement: %s", rec.ID),
		fmt.Sprintf("Contract: %s", rec.ContractID),
		fmt.Sprintf("Title: %s", st.TitleID),
		fmt.Sprintf("Period: %s to %s", rec.PeriodStart.Format(dateLayout), rec.PeriodEnd.Format(dateLayout)),
		fmt.Sprintf("Version: %d", rec.Version),
		fmt.Sprintf("Status: %s", rec.Status),
		fmt.Sprintf("Generated: %s", rec.CreatedAt.Format(time.RFC3339)),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	if !rec.FinalizedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Finalized: %s (%s)", rec.FinalizedAt.Format(time.RFC3339), rec.SnapshotHash))
		pdf.Ln(5)
	}
	if rec.Supersedes != "" {
		pdf.Cell(0, 6, "Corrects: "+rec.Supersedes)
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Gross Royalty (%s): %s", st.Currency, st.GrossRoyalty))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Advance Recouped: %s (outstanding %s)", st.RecoupmentApplied, st.Advance.OutstandingAfter))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Net Payable (%s): %s", st.Currency, st.NetPayable))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Format", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Sold", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Returned", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Net", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Royalty", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, f := range st.Formats {
		pdf.CellFormat(35, 6, f.Format, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", f.UnitsSold), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", f.UnitsReturned), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", f.NetUnits), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, f.GrossRoyalty.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
		for _, slice := range f.Resolution.Breakdown {
			pdf.CellFormat(35, 5, "  tier "+tierLabel(slice), "", 0, "L", false, 0, "")
			pdf.CellFormat(50, 5, fmt.Sprintf("%d @ %s", slice.Units, slice.Rate), "", 0, "R", false, 0, "")
			pdf.CellFormat(65, 5, slice.Subtotal.String(), "", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	if len(st.Payees) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 6, "Payee", "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, "Share %", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Gross", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Recouped", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Net", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, p := range st.Payees {
			name := p.PayeeName
			if name == "" {
				name = p.PayeeID
			}
			pdf.CellFormat(45, 6, name, "1", 0, "L", false, 0, "")
			pdf.CellFormat(20, 6, p.Percentage.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, p.GrossRoyalty.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, p.RecoupmentApplied.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, p.NetPayable.String(), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a statement workbook with summary, formats, tiers and payees sheets.
func BuildStatementXLSX(rec *royalty.StatementRecord, companyName string) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("export xlsx: nil statement")
	}
	st := rec.Statement
	f := excelize.NewFile()
	defer f.Close()

	const (
		summarySheet = "summary"
		formatsSheet = "formats"
		tiersSheet   = "tiers"
		payeesSheet  = "payees"
	)
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, name := range []string{formatsSheet, tiersSheet, payeesSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	summary := [][2]any{
		{"Statement", rec.ID},
		{"Contract", rec.ContractID},
		{"Title", st.TitleID},
		{"Period Start", rec.PeriodStart.Format(dateLayout)},
		{"Period End", rec.PeriodEnd.Format(dateLayout)},
		{"Version", rec.Version},
		{"Status", rec.Status},
		{"Currency", st.Currency},
		{"Gross Royalty", st.GrossRoyalty.String()},
		{"Advance Recouped", st.RecoupmentApplied.String()},
		{"Advance Outstanding", st.Advance.OutstandingAfter.String()},
		{"Net Payable", st.NetPayable.String()},
		{"Snapshot Hash", rec.SnapshotHash},
		{"Supersedes", rec.Supersedes},
	}
	_ = f.SetCellValue(summarySheet, "A1", companyName)
	_ = f.SetCellValue(summarySheet, "A2", "Royalty Statement")
	for i, kv := range summary {
		row := i + 4
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), kv[1])
	}

	for col, header := range []string{"Format", "Units Sold", "Units Returned", "Net Units", "Sales Amount", "Returns Amount", "Gross Royalty"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(formatsSheet, cell, header)
	}
	for col, header := range []string{"Format", "Tier", "Units", "Rate", "Unit Price", "Subtotal"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(tiersSheet, cell, header)
	}
	tierRow := 2
	for i, agg := range st.Formats {
		row := i + 2
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("A%d", row), agg.Format)
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("B%d", row), agg.UnitsSold)
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("C%d", row), agg.UnitsReturned)
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("D%d", row), agg.NetUnits)
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("E%d", row), agg.SalesAmount.String())
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("F%d", row), agg.ReturnsAmount.String())
		_ = f.SetCellValue(formatsSheet, fmt.Sprintf("G%d", row), agg.GrossRoyalty.String())
		for _, slice := range agg.Resolution.Breakdown {
			_ = f.SetCellValue(tiersSheet, fmt.Sprintf("A%d", tierRow), agg.Format)
			_ = f.SetCellValue(tiersSheet, fmt.Sprintf("B%d", tierRow), tierLabel(slice))
			_ = f.SetCellValue(tiersSheet, fmt.Sprintf("C%d", tierRow), slice.Units)
			_ = f.SetCellValue(tiersSheet, fmt.Sprintf("D%d", tierRow), slice.Rate.String())
			_ = f.SetCellValue(tiersSheet, fmt.Sprintf("E%d", tierRow), agg.Resolution.UnitPrice.String())
			_ = f.SetCellValue(tiersSheet, fmt.Sprintf("F%d", tierRow), slice.Subtotal.String())
			tierRow++
		}
	}

	for col, header := range []string{"Payee", "Name", "Percentage", "Gross Royalty", "Recoupment Applied", "Net Payable"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(payeesSheet, cell, header)
	}
	for i, p := range st.Payees {
		row := i + 2
		_ = f.SetCellValue(payeesSheet, fmt.Sprintf("A%d", row), p.PayeeID)
		_ = f.SetCellValue(payeesSheet, fmt.Sprintf("B%d", row), p.PayeeName)
		_ = f.SetCellValue(payeesSheet, fmt.Sprintf("C%d", row), p.Percentage.String())
		_ = f.SetCellValue(payeesSheet, fmt.Sprintf("D%d", row), p.GrossRoyalty.String())
		_ = f.SetCellValue(payeesSheet, fmt.Sprintf("E%d", row), p.RecoupmentApplied.String())
		_ = f.SetCellValue(payeesSheet, fmt.Sprintf("F%d", row), p.NetPayable.String())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
