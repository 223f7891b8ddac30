package reports

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet   = "Run"
	shortfallSheet = "Shortfalls"
)

// ShortfallWorkbook lays out one supply run: a summary sheet with the run
// counters and a sheet with one row per short component.
func ShortfallWorkbook(run *models.SupplyRun) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(shortfallSheet); err != nil {
		return nil, err
	}

	finished := ""
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	summary := [][]interface{}{
		{"Run", run.RunUuid},
		{"Week", run.WeekLabel},
		{"Window start", run.WindowStart.Format(time.DateOnly)},
		{"Window end", run.WindowEnd.Format(time.DateOnly)},
		{"Dry run", run.DryRun},
		{"Outcome", string(run.Outcome)},
		{"Started", run.StartedAt.Format(time.RFC3339)},
		{"Finished", finished},
		{"Orders scanned", run.OrdersScanned},
		{"Orders touched", run.OrdersTouched},
		{"Stock reserved", run.StockReservedQty.InexactFloat64()},
		{"PO reserved", run.PoReservedQty.InexactFloat64()},
		{"Shortfall qty", run.ShortfallQty.InexactFloat64()},
		{"Purchase orders", run.PurchaseOrdersCreated},
		{"Error", utils.DereferencePtr(run.ErrorMessage)},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	header := []interface{}{"ComponentId", "Qty", "SupplierId", "Orders"}
	if err := f.SetSheetRow(shortfallSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, s := range run.Shortfalls {
		orders := make([]string, 0, len(s.OrderIds))
		for _, id := range s.OrderIds {
			orders = append(orders, fmt.Sprint(id))
		}
		supplier := interface{}(s.SupplierId)
		if s.SupplierId == 0 {
			supplier = "none"
		}
		row := []interface{}{s.ComponentId, s.Qty.InexactFloat64(), supplier, strings.Join(orders, ",")}
		if err := f.SetSheetRow(shortfallSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WriteShortfalls streams the workbook of run to w.
func WriteShortfalls(w io.Writer, run *models.SupplyRun) error {
	f, err := ShortfallWorkbook(run)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// ExportShortfalls saves the workbook of run to filename.
func ExportShortfalls(run *models.SupplyRun, filename string) error {
	f, err := ShortfallWorkbook(run)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}
