package reports

import (
	"fmt"
	"io"

	"bitbucket.org/owlinhq/reconcile_backend/workflow"
	"github.com/xuri/excelize/v2"
)

const discrepancySheet = "Discrepancies"

// WriteDiscrepancyWorkbook renders an aggregation result as an xlsx workbook.
// One row per discrepancy, in the order the aggregator sorted them, with a
// trailing sheet listing per-document failures when there are any.
func WriteDiscrepancyWorkbook(w io.Writer, result *workflow.AggregationResult) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(discrepancySheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	// Add headers
	f.SetCellValue(discrepancySheet, "A1", "InvoiceId")
	f.SetCellValue(discrepancySheet, "B1", "Type")
	f.SetCellValue(discrepancySheet, "C1", "Severity")
	f.SetCellValue(discrepancySheet, "D1", "FinancialImpact")
	f.SetCellValue(discrepancySheet, "E1", "Percentage")
	f.SetCellValue(discrepancySheet, "F1", "Description")
	f.SetCellValue(discrepancySheet, "G1", "AffectedLines")

	// Add data
	for i, d := range result.Discrepancies {
		row := fmt.Sprint(i + 2)
		impact, _ := d.FinancialImpact.Float64()
		f.SetCellValue(discrepancySheet, "A"+row, d.DocumentID)
		f.SetCellValue(discrepancySheet, "B"+row, string(d.Type))
		f.SetCellValue(discrepancySheet, "C"+row, string(d.Severity))
		f.SetCellValue(discrepancySheet, "D"+row, impact)
		f.SetCellValue(discrepancySheet, "E"+row, d.Percentage)
		f.SetCellValue(discrepancySheet, "F"+row, d.Description)
		f.SetCellValue(discrepancySheet, "G"+row, len(d.Items))
	}

	if len(result.Failures) > 0 {
		failureSheet := "Failures"
		if _, err := f.NewSheet(failureSheet); err != nil {
			return err
		}
		f.SetCellValue(failureSheet, "A1", "InvoiceId")
		f.SetCellValue(failureSheet, "B1", "Error")
		rowNo := 2
		for id, message := range result.Failures {
			f.SetCellValue(failureSheet, "A"+fmt.Sprint(rowNo), id)
			f.SetCellValue(failureSheet, "B"+fmt.Sprint(rowNo), message)
			rowNo++
		}
	}

	return f.Write(w)
}
