package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dmr/model"

	"github.com/shopspring/decimal"
)

// monthBounds returns the first and last day of month (YYYY-MM).
func monthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	return start, start.AddDate(0, 1, -1), nil
}

// monthFact is one SUM or AVG over a month's entries of a category.
// descOp is "=" or "LIKE".
type monthFact struct {
	fn       string
	category string
	descOp   string
	desc     string
	dest     *decimal.Decimal
}

func (f monthFact) load(db DBTX, start, end string) error {
	q := fmt.Sprintf(`
		SELECT %s(today_value) FROM report_entries
		WHERE category = ? AND description %s ? AND date >= ? AND date <= ?`, f.fn, f.descOp)
	var v sql.NullFloat64
	if err := db.Get(&v, q, f.category, f.desc, start, end); err != nil {
		return fmt.Errorf("failed to load %s %s: %w", f.category, f.desc, err)
	}
	*f.dest = decimal.NewFromFloat(v.Float64)
	return nil
}

func loadFacts(db DBTX, month string, facts []monthFact) (time.Time, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return time.Time{}, err
	}
	for _, f := range facts {
		if err := f.load(db, start.Format(dateLayout), end.Format(dateLayout)); err != nil {
			return time.Time{}, err
		}
	}
	return end, nil
}

// MonthAggregatesFor sums the month's turnover, stock trading and sales
// figures. Missing facts count as zero.
func MonthAggregatesFor(db DBTX, month string) (model.MonthAggregates, error) {
	var a model.MonthAggregates
	_, err := loadFacts(db, month, []monthFact{
		{"SUM", model.CategoryTurnover, "LIKE", "%TOTAL TURNOVER%", &a.Turnover},
		{"SUM", model.CategoryStockTrading, "=", model.CostOfSalesDesc, &a.CostOfSales},
		{"SUM", model.CategoryStockTrading, "=", model.PurchasesDesc, &a.Purchases},
		{"SUM", model.CategorySales, "=", model.POSTransactionsDesc, &a.Transactions},
		{"SUM", model.CategoryDispensary, "=", model.DispensaryTurnoverDesc, &a.DispensaryTurnover},
		{"SUM", model.CategoryDispensary, "LIKE", "%scripts%", &a.TotalScripts},
		{"AVG", model.CategorySales, "=", model.AvgBasketValueDesc, &a.AvgBasketValueReported},
		{"AVG", model.CategorySales, "=", model.AvgItemsPerBasketDesc, &a.AvgBasketSizeReported},
	})
	return a, err
}

// MonthStockKPIs returns the month's opening stock (first day with a figure),
// closing stock (last day with a figure), flows, stock turnover ratio
// (cost of sales over average stock) and days sales of inventory.
func MonthStockKPIs(db DBTX, month string) (model.StockKPIs, error) {
	var k model.StockKPIs
	end, err := loadFacts(db, month, []monthFact{
		{"SUM", model.CategoryStockTrading, "=", model.CostOfSalesDesc, &k.CostOfSales},
		{"SUM", model.CategoryStockTrading, "=", model.PurchasesDesc, &k.Purchases},
		{"SUM", model.CategoryStockTrading, "=", model.AdjustmentsDesc, &k.Adjustments},
	})
	if err != nil {
		return k, err
	}
	start := end.Format("2006-01") + "-01"
	last := end.Format(dateLayout)

	if k.OpeningStock, err = stockPoint(db, model.OpeningStockDescription, start, last, "ASC"); err != nil {
		return k, err
	}
	if k.ClosingStock, err = stockPoint(db, model.ClosingStockDescription, start, last, "DESC"); err != nil {
		return k, err
	}

	avgStock := decimal.Zero
	if sum := k.OpeningStock.Add(k.ClosingStock); sum.IsPositive() {
		avgStock = sum.Div(decimal.NewFromInt(2))
	}
	k.StockTurnoverRatio = decimal.Zero
	if avgStock.IsPositive() {
		k.StockTurnoverRatio = k.CostOfSales.Div(avgStock)
	}
	if !k.CostOfSales.IsZero() {
		days := decimal.NewFromInt(int64(end.Day()))
		k.DSI = decimal.NewNullDecimal(avgStock.Div(k.CostOfSales).Mul(days))
	}
	return k, nil
}

// stockPoint reads a stock trading figure from the first (ASC) or last (DESC)
// day in range that has a value. No such day gives zero.
func stockPoint(db DBTX, description, start, end, order string) (decimal.Decimal, error) {
	q := `SELECT today_value FROM report_entries
		WHERE category = ? AND description = ? AND date >= ? AND date <= ?
		  AND today_value IS NOT NULL
		ORDER BY date ` + order + ` LIMIT 1`
	var v float64
	err := db.Get(&v, q, model.CategoryStockTrading, description, start, end)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get %s: %w", description, err)
	}
	return decimal.NewFromFloat(v), nil
}

// DailyStockMovementsForMonth returns purchases and cost of sales for every
// calendar day of month, zero where no report exists.
func DailyStockMovementsForMonth(db DBTX, month string) ([]model.DailyStockMovement, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Date        string          `db:"date"`
		Description string          `db:"description"`
		Value       sql.NullFloat64 `db:"value"`
	}
	err = db.Select(&rows, `
		SELECT date, description, SUM(today_value) AS value
		FROM report_entries
		WHERE category = ? AND description IN (?, ?) AND date >= ? AND date <= ?
		GROUP BY date, description`,
		model.CategoryStockTrading, model.PurchasesDesc, model.CostOfSalesDesc,
		start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stock movements for %s: %w", month, err)
	}

	days := make([]model.DailyStockMovement, end.Day())
	for i := range days {
		days[i].Day = i + 1
	}
	for _, r := range rows {
		d, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			continue
		}
		v := decimal.NewFromFloat(r.Value.Float64)
		if r.Description == model.PurchasesDesc {
			days[d.Day()-1].Purchases = v
		} else {
			days[d.Day()-1].CostOfSales = v
		}
	}
	return days, nil
}
