package database

import (
	"fmt"

	"dmr/config"
	"dmr/model"

	"github.com/jmoiron/sqlx"
)

// RecomputeMonthlyClosingStock rebuilds monthly_closing_stock from
// report_entries in one transaction. Each month takes the closing stock of its
// latest day that has a non-null figure; months without one are left as they
// are. Returns the number of months written.
func RecomputeMonthlyClosingStock(db *sqlx.DB) (months int, err error) {
	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin rollup transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			config.GetLogger().WithError(err).Error("rolling back monthly closing stock")
			tx.Rollback()
		} else {
			err = tx.Commit()
			if err != nil {
				months = 0
				err = fmt.Errorf("failed to commit monthly closing stock: %w", err)
			}
		}
	}()

	var latest []model.MonthlyClosingStock
	err = tx.Select(&latest, `
		SELECT substr(e.date, 1, 7) AS month, e.today_value AS closing_stock, e.date AS source_date
		FROM report_entries e
		JOIN (
			SELECT substr(date, 1, 7) AS month, MAX(date) AS max_date
			FROM report_entries
			WHERE category = ? AND description = ? AND today_value IS NOT NULL
			GROUP BY substr(date, 1, 7)
		) l ON e.date = l.max_date
		WHERE e.category = ? AND e.description = ?
		ORDER BY month`,
		model.CategoryStockTrading, model.ClosingStockDescription,
		model.CategoryStockTrading, model.ClosingStockDescription)
	if err != nil {
		return 0, fmt.Errorf("failed to find month-end closing stock: %w", err)
	}

	const upsert = `
		INSERT INTO monthly_closing_stock (month, closing_stock, source_date)
		VALUES (?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			closing_stock = excluded.closing_stock,
			source_date = excluded.source_date`
	for _, m := range latest {
		if _, err = tx.Exec(upsert, m.Month, m.ClosingStock.InexactFloat64(), m.SourceDate); err != nil {
			return 0, fmt.Errorf("failed to upsert closing stock for %s: %w", m.Month, err)
		}
	}

	config.GetLogger().Infof("Monthly closing stock updated for %d months", len(latest))
	return len(latest), nil
}

// ClosingStockHistory returns up to limit months ending at endMonth (YYYY-MM,
// inclusive), oldest first. An empty endMonth means no upper bound and a
// limit of zero or less means no limit.
func ClosingStockHistory(db DBTX, endMonth string, limit int) ([]model.MonthlyClosingStock, error) {
	q := `SELECT id, month, closing_stock, source_date FROM monthly_closing_stock`
	var args []interface{}
	if endMonth != "" {
		q += ` WHERE month <= ?`
		args = append(args, endMonth)
	}
	q += ` ORDER BY month DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	history := []model.MonthlyClosingStock{}
	if err := db.Select(&history, q, args...); err != nil {
		return nil, fmt.Errorf("failed to get closing stock history: %w", err)
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
