package valuation

import (
	"fmt"
	"net/http"
	"net/url"

	"dmr/database"
	"dmr/model"
	"dmr/report"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Closing Stock"

// BuildClosingStockWorkbook lays out one row per month: month, closing stock
// and the report date the figure came from.
func BuildClosingStockWorkbook(site string, history []model.MonthlyClosingStock) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, err
	}

	f.SetCellValue(sheetName, "A1", "Site")
	f.SetCellValue(sheetName, "B1", site)
	headers := []string{"Month", "Closing Stock", "Source Date"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		f.SetCellValue(sheetName, cell, h)
	}

	numFmt := "#,##0.00"
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		f.Close()
		return nil, err
	}

	for i, m := range history {
		row := i + 4
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), m.Month)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), m.ClosingStock.InexactFloat64())
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), m.SourceDate)
	}
	if len(history) > 0 {
		last := fmt.Sprintf("B%d", len(history)+3)
		if err := f.SetCellStyle(sheetName, "B4", last, style); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetColWidth(sheetName, "A", "C", 16)
	return f, nil
}

// ExportClosingStockHandler serves the closing stock history of ?site= as an
// XLSX download. ?months= and ?end= work as for the JSON view.
func ExportClosingStockHandler(dbs report.SiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endMonth, months, err := report.HistoryParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		site, db, ok := report.SiteDB(w, r, dbs)
		if !ok {
			return
		}

		history, err := database.ClosingStockHistory(db, endMonth, months)
		if err != nil {
			http.Error(w, "Failed to get closing stock history: "+err.Error(), http.StatusInternalServerError)
			return
		}

		f, err := BuildClosingStockWorkbook(site.Name, history)
		if err != nil {
			http.Error(w, "Failed to build workbook: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		filename := fmt.Sprintf("closing_stock_%s.xlsx", site.Name)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
		if err := f.Write(w); err != nil {
			http.Error(w, "Failed to write file", http.StatusInternalServerError)
		}
	}
}
