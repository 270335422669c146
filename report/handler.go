package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dmr/config"
	"dmr/database"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	dateLayout           = "2006-01-02"
	monthLayout          = "2006-01"
	defaultHistoryMonths = 18
)

// SiteStore hands out the database of a site.
type SiteStore interface {
	Get(site config.Site) (*sqlx.DB, error)
}

// Refresher pulls the latest reports before a live view is served.
type Refresher interface {
	FetchLatest(site config.Site) (int, error)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		config.GetLogger().WithError(err).Warn("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// SiteDB resolves ?site= and opens that site's database. On failure the error
// response has already been written.
func SiteDB(w http.ResponseWriter, r *http.Request, dbs SiteStore) (config.Site, *sqlx.DB, bool) {
	site, err := config.GetConfig().ResolveSite(r.URL.Query().Get("site"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrUnknownSite) {
			status = http.StatusNotFound
		}
		writeJSONError(w, err.Error(), status)
		return config.Site{}, nil, false
	}
	db, err := dbs.Get(site)
	if err != nil {
		writeJSONError(w, "failed to open database: "+err.Error(), http.StatusInternalServerError)
		return config.Site{}, nil, false
	}
	return site, db, true
}

// refresh runs a best-effort fetch; the view is served from whatever is
// stored even when the mailbox cannot be reached.
func refresh(refresher Refresher, site config.Site) {
	if refresher == nil {
		return
	}
	if _, err := refresher.FetchLatest(site); err != nil {
		config.GetLogger().WithField("site", site.Name).WithError(err).Warn("refresh before view failed")
	}
}

type entryView struct {
	Category    string              `json:"category"`
	Description string              `json:"description"`
	TodayValue  decimal.NullDecimal `json:"today_value"`
}

func entriesFor(db *sqlx.DB, date string) ([]entryView, error) {
	entries, err := database.EntriesForDate(db, date)
	if err != nil {
		return nil, err
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{Category: e.Category, Description: e.Description, TodayValue: e.TodayValue})
	}
	return views, nil
}

// DayHandler serves /api/day/{YYYY-MM-DD}.
func DayHandler(dbs SiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dateStr := strings.TrimPrefix(r.URL.Path, "/api/day/")
		if _, err := time.Parse(dateLayout, dateStr); err != nil {
			writeJSONError(w, "invalid date format", http.StatusBadRequest)
			return
		}
		_, db, ok := SiteDB(w, r, dbs)
		if !ok {
			return
		}
		views, err := entriesFor(db, dateStr)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, views)
	}
}

// TodayHandler refreshes the site and serves today's entries.
func TodayHandler(dbs SiteStore, refresher Refresher, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, db, ok := SiteDB(w, r, dbs)
		if !ok {
			return
		}
		refresh(refresher, site)
		views, err := entriesFor(db, now().Format(dateLayout))
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, views)
	}
}

// MonthToDateHandler refreshes the site and serves per-line sums from the
// first of the month through today.
func MonthToDateHandler(dbs SiteStore, refresher Refresher, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, db, ok := SiteDB(w, r, dbs)
		if !ok {
			return
		}
		refresh(refresher, site)
		aggregates, err := database.MonthToDateAggregates(db, now().Format(dateLayout))
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, aggregates)
	}
}

// LatestDateHandler serves the newest stored date, today when the store is
// empty or unreadable.
func LatestDateHandler(dbs SiteStore, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, db, ok := SiteDB(w, r, dbs)
		if !ok {
			return
		}
		latest, err := database.LatestDate(db)
		if err != nil {
			config.GetLogger().WithField("site", site.Name).WithError(err).Warn("error querying latest date")
		}
		if latest == "" {
			latest = now().Format(dateLayout)
		}
		writeJSON(w, map[string]string{"latest_date": latest})
	}
}

// HistoryParams reads ?months= and ?end= of the closing stock views.
func HistoryParams(r *http.Request) (endMonth string, months int, err error) {
	months = defaultHistoryMonths
	q := r.URL.Query()
	if v := q.Get("months"); v != "" {
		months, err = strconv.Atoi(v)
		if err != nil || months <= 0 {
			return "", 0, errors.New("months must be a positive integer")
		}
	}
	endMonth = q.Get("end")
	if endMonth != "" {
		if _, err := time.Parse(monthLayout, endMonth); err != nil {
			return "", 0, errors.New("end must be YYYY-MM")
		}
	}
	return endMonth, months, nil
}

// ClosingHistoryHandler serves up to ?months= monthly closing stock values
// ending at ?end=, oldest first.
func ClosingHistoryHandler(dbs SiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endMonth, months, err := HistoryParams(r)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, db, ok := SiteDB(w, r, dbs)
		if !ok {
			return
		}
		history, err := database.ClosingStockHistory(db, endMonth, months)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, history)
	}
}

// monthViews are the per-month views under /api/month/{YYYY-MM}/.
var monthViews = map[string]func(db database.DBTX, month string) (interface{}, error){
	"turnover": func(db database.DBTX, month string) (interface{}, error) {
		return database.DailyTurnoverForMonth(db, month)
	},
	"aggregates": func(db database.DBTX, month string) (interface{}, error) {
		return database.MonthAggregatesFor(db, month)
	},
	"stock_kpis": func(db database.DBTX, month string) (interface{}, error) {
		return database.MonthStockKPIs(db, month)
	},
	"daily_stock_movements": func(db database.DBTX, month string) (interface{}, error) {
		return database.DailyStockMovementsForMonth(db, month)
	},
}

// MonthHandler serves /api/month/{YYYY-MM}/{view}: daily turnover, month
// aggregates, stock KPIs and daily stock movements. Daily views have one row
// per calendar day, zero where no report exists.
func MonthHandler(dbs SiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/month/")
		monthStr, view, _ := strings.Cut(rest, "/")
		load, ok := monthViews[view]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if _, err := time.Parse(monthLayout, monthStr); err != nil {
			writeJSONError(w, "invalid month format", http.StatusBadRequest)
			return
		}
		_, db, ok := SiteDB(w, r, dbs)
		if !ok {
			return
		}
		result, err := load(db, monthStr)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, result)
	}
}
