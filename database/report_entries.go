package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dmr/config"
	"dmr/model"
	"dmr/parsers"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

const entryColumns = `id, date, category, description, today_value`

// SaveEntries stores the entries of one report date and returns how many
// rows were new. Each insert runs in its own savepoint so a duplicate
// (date, category, description) only drops that row; the rest of the batch
// is still committed.
func SaveEntries(db *sqlx.DB, entries []model.ExtractedEntry, reportDate string) (int, error) {
	log := config.GetLogger().WithField("date", reportDate)

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for %s: %w", reportDate, err)
	}
	defer tx.Rollback()

	added, skipped := 0, 0
	for _, entry := range entries {
		value := entry.Value
		if !entry.Normalized {
			value = parsers.NormalizeDecimal(entry.RawValue)
		}

		inserted, err := insertEntryInTx(tx, reportDate, entry.Category, entry.Description, value)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"category":    entry.Category,
				"description": entry.Description,
			}).Error("failed to insert report entry")
			continue
		}
		if inserted {
			added++
		} else {
			skipped++
		}
	}

	if skipped > 0 {
		log.Infof("Skipped %d duplicate entries", skipped)
	}
	if added == 0 {
		return 0, nil
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit entries for %s: %w", reportDate, err)
	}
	log.Infof("Committed %d new entries", added)
	return added, nil
}

// insertEntryInTx reports false without error when the row already exists.
func insertEntryInTx(tx *sqlx.Tx, date, category, description string, value decimal.NullDecimal) (bool, error) {
	if _, err := tx.Exec(`SAVEPOINT report_entry`); err != nil {
		return false, fmt.Errorf("savepoint failed: %w", err)
	}

	const q = `INSERT INTO report_entries (date, category, description, today_value) VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(q, date, category, description, nullFloat(value)); err != nil {
		if _, rbErr := tx.Exec(`ROLLBACK TO SAVEPOINT report_entry`); rbErr != nil {
			return false, fmt.Errorf("rollback to savepoint failed: %v (insert error: %w)", rbErr, err)
		}
		if _, relErr := tx.Exec(`RELEASE SAVEPOINT report_entry`); relErr != nil {
			return false, fmt.Errorf("release savepoint failed: %w", relErr)
		}
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	if _, err := tx.Exec(`RELEASE SAVEPOINT report_entry`); err != nil {
		return false, fmt.Errorf("release savepoint failed: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func nullFloat(v decimal.NullDecimal) sql.NullFloat64 {
	if !v.Valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v.Decimal.InexactFloat64(), Valid: true}
}

func HasEntriesForDate(db DBTX, date string) (bool, error) {
	var exists bool
	if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM report_entries WHERE date = ?)`, date); err != nil {
		return false, fmt.Errorf("failed to check entries for %s: %w", date, err)
	}
	return exists, nil
}

func EntriesForDate(db DBTX, date string) ([]model.ReportEntry, error) {
	entries := []model.ReportEntry{}
	err := db.Select(&entries, `SELECT `+entryColumns+` FROM report_entries WHERE date = ? ORDER BY category, id`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries for %s: %w", date, err)
	}
	return entries, nil
}

// MonthToDateAggregates sums today_value per (category, description) from the
// first of date's month up to and including date.
func MonthToDateAggregates(db DBTX, date string) ([]model.MonthToDateAggregate, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	firstDay := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).Format(dateLayout)

	results := []model.MonthToDateAggregate{}
	err = db.Select(&results, `
		SELECT category, description, SUM(today_value) AS sum_value
		FROM report_entries
		WHERE date >= ? AND date <= ?
		GROUP BY category, description
		ORDER BY category, description`,
		firstDay, date)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate month to date for %s: %w", date, err)
	}
	return results, nil
}

// LatestDate returns the most recent business date with data, or "" when the
// store is empty.
func LatestDate(db DBTX) (string, error) {
	var latest sql.NullString
	if err := db.Get(&latest, `SELECT MAX(date) FROM report_entries`); err != nil {
		return "", fmt.Errorf("failed to get latest date: %w", err)
	}
	return latest.String, nil
}

// DailyTurnoverForMonth returns one row per calendar day of month (YYYY-MM)
// with the reported total turnover and average basket value; days without a
// report are zero.
func DailyTurnoverForMonth(db DBTX, month string) ([]model.DailyTurnover, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Date        string          `db:"date"`
		Description string          `db:"description"`
		TodayValue  sql.NullFloat64 `db:"today_value"`
	}
	err = db.Select(&rows, `
		SELECT date, description, today_value
		FROM report_entries
		WHERE date >= ? AND date <= ?
		  AND category IN (?, ?)
		  AND (description LIKE '%TOTAL TURNOVER%' OR description = ?)`,
		start.Format(dateLayout), end.Format(dateLayout),
		model.CategoryTurnover, model.CategorySales, model.AvgBasketValueDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily turnover for %s: %w", month, err)
	}

	days := make([]model.DailyTurnover, end.Day())
	for i := range days {
		days[i].Day = i + 1
	}
	for _, r := range rows {
		d, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			continue
		}
		day := &days[d.Day()-1]
		v := decimal.NewFromFloat(r.TodayValue.Float64)
		if r.Description == model.AvgBasketValueDesc {
			day.AvgBasketValueReported = v
		} else {
			day.Turnover = day.Turnover.Add(v)
		}
	}
	return days, nil
}
