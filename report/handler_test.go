package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dmr/config"
	"dmr/database"
	"dmr/loader"
	"dmr/model"

	"github.com/shopspring/decimal"
)

type countingRefresher struct{ calls []string }

func (c *countingRefresher) FetchLatest(site config.Site) (int, error) {
	c.calls = append(c.calls, site.Name)
	return 0, nil
}

func setup(t *testing.T) *loader.SiteDBs {
	t.Helper()
	dir := t.TempDir()
	cfg := `{"defaultSite":"reitz","sites":[` +
		`{"name":"reitz","envFile":".env.reitz","dbPath":"reports.db"},` +
		`{"name":"roos","envFile":".env.roos","dbPath":"reports_roos.db"}]}`
	path := filepath.Join(dir, "dmr_config.json")
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := config.LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}

	dbs := loader.NewSiteDBs()
	t.Cleanup(dbs.CloseAll)

	site, err := c.ResolveSite("reitz")
	if err != nil {
		t.Fatal(err)
	}
	db, err := dbs.Get(site)
	if err != nil {
		t.Fatal(err)
	}
	seed := map[string][]model.ExtractedEntry{
		"2024-02-01": {
			{Category: model.CategoryTurnover, Description: "TOTAL TURNOVER", RawValue: "R1,000.00"},
			{Category: model.CategoryStockTrading, Description: model.ClosingStockDescription, RawValue: "R300,000.00"},
		},
		"2024-02-29": {
			{Category: model.CategoryTurnover, Description: "TOTAL TURNOVER", RawValue: "R2,000.50"},
			{Category: model.CategorySales, Description: model.AvgBasketValueDesc, RawValue: "R36.87"},
		},
	}
	for date, entries := range seed {
		if _, err := database.SaveEntries(db, entries, date); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := database.RecomputeMonthlyClosingStock(db); err != nil {
		t.Fatal(err)
	}
	return dbs
}

func serve(h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestDayHandler(t *testing.T) {
	dbs := setup(t)
	h := DayHandler(dbs)

	rec := serve(h, http.MethodGet, "/api/day/2024-02-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var entries []entryView
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	if rec := serve(h, http.MethodGet, "/api/day/01-02-2024"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/day/2024-02-01?site=unknown"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown site status = %d", rec.Code)
	}
}

func TestSitesAreIsolated(t *testing.T) {
	dbs := setup(t)
	rec := serve(DayHandler(dbs), http.MethodGet, "/api/day/2024-02-01?site=roos")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []entryView
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 0 {
		t.Fatalf("roos sees %d reitz entries", len(entries))
	}
}

func TestMonthHandler(t *testing.T) {
	dbs := setup(t)
	h := MonthHandler(dbs)

	rec := serve(h, http.MethodGet, "/api/month/2024-02/turnover")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var days []model.DailyTurnover
	if err := json.Unmarshal(rec.Body.Bytes(), &days); err != nil {
		t.Fatal(err)
	}
	if len(days) != 29 {
		t.Fatalf("got %d days, want 29", len(days))
	}
	last := days[28]
	if !last.Turnover.Equal(decimal.RequireFromString("2000.5")) || !last.AvgBasketValueReported.Equal(decimal.RequireFromString("36.87")) {
		t.Fatalf("29th = %+v", last)
	}
	if !days[1].Turnover.IsZero() {
		t.Fatalf("2nd should be zero: %+v", days[1])
	}

	if rec := serve(h, http.MethodGet, "/api/month/2024-13/turnover"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month status = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/month/2024-02/other"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown view status = %d", rec.Code)
	}
}

func TestClosingHistoryHandler(t *testing.T) {
	dbs := setup(t)
	h := ClosingHistoryHandler(dbs)

	rec := serve(h, http.MethodGet, "/api/stock/closing_history?months=3&end=2024-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var history []model.MonthlyClosingStock
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Month != "2024-02" || history[0].SourceDate != "2024-02-01" {
		t.Fatalf("history = %+v", history)
	}

	if rec := serve(h, http.MethodGet, "/api/stock/closing_history?months=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad months status = %d", rec.Code)
	}
}

func TestLiveViewsRefreshFirst(t *testing.T) {
	dbs := setup(t)
	refresher := &countingRefresher{}
	now := func() time.Time { return time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC) }

	rec := serve(TodayHandler(dbs, refresher, now), http.MethodGet, "/api/today")
	var entries []entryView
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Fatalf("today entries = %d, want 2", len(entries))
	}

	rec = serve(MonthToDateHandler(dbs, refresher, now), http.MethodGet, "/api/mtd?site=reitz")
	var aggregates []model.MonthToDateAggregate
	json.Unmarshal(rec.Body.Bytes(), &aggregates)
	var turnover decimal.NullDecimal
	for _, a := range aggregates {
		if a.Description == "TOTAL TURNOVER" {
			turnover = a.SumValue
		}
	}
	if !turnover.Valid || !turnover.Decimal.Equal(decimal.RequireFromString("3000.5")) {
		t.Fatalf("mtd turnover = %+v", turnover)
	}

	if len(refresher.calls) != 2 || refresher.calls[0] != "reitz" {
		t.Fatalf("refresh calls = %v", refresher.calls)
	}
}

func TestLatestDateHandler(t *testing.T) {
	dbs := setup(t)
	now := func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	h := LatestDateHandler(dbs, now)

	var resp map[string]string
	json.Unmarshal(serve(h, http.MethodGet, "/api/latest_date").Body.Bytes(), &resp)
	if resp["latest_date"] != "2024-02-29" {
		t.Fatalf("latest = %q", resp["latest_date"])
	}

	json.Unmarshal(serve(h, http.MethodGet, "/api/latest_date?site=roos").Body.Bytes(), &resp)
	if resp["latest_date"] != "2024-06-01" {
		t.Fatalf("empty store latest = %q, want today", resp["latest_date"])
	}
}

func TestMonthSummaryViews(t *testing.T) {
	dbs := setup(t)
	h := MonthHandler(dbs)

	rec := serve(h, http.MethodGet, "/api/month/2024-02/aggregates")
	if rec.Code != http.StatusOK {
		t.Fatalf("aggregates status = %d: %s", rec.Code, rec.Body.String())
	}
	var aggregates model.MonthAggregates
	if err := json.Unmarshal(rec.Body.Bytes(), &aggregates); err != nil {
		t.Fatal(err)
	}
	if !aggregates.Turnover.Equal(decimal.RequireFromString("3000.5")) {
		t.Errorf("turnover = %s, want 3000.5", aggregates.Turnover)
	}

	rec = serve(h, http.MethodGet, "/api/month/2024-02/stock_kpis")
	var kpis model.StockKPIs
	if err := json.Unmarshal(rec.Body.Bytes(), &kpis); err != nil {
		t.Fatal(err)
	}
	if !kpis.ClosingStock.Equal(decimal.NewFromInt(300000)) || kpis.DSI.Valid {
		t.Errorf("stock kpis = %+v", kpis)
	}

	rec = serve(h, http.MethodGet, "/api/month/2024-02/daily_stock_movements")
	var movements []model.DailyStockMovement
	if err := json.Unmarshal(rec.Body.Bytes(), &movements); err != nil {
		t.Fatal(err)
	}
	if len(movements) != 29 {
		t.Errorf("got %d days, want 29", len(movements))
	}

	if rec := serve(h, http.MethodGet, "/api/month/bad/stock_kpis"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d", rec.Code)
	}
}
