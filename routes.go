package main

import (
	"net/http"
	"time"

	"dmr/automation"
	"dmr/config"
	"dmr/loader"
	"dmr/report"
	"dmr/valuation"
)

func SetupRoutes(mux *http.ServeMux, dbs *loader.SiteDBs, syncer *automation.Syncer) {
	limiter := automation.NewFetchLimiter(config.GetConfig().FetchRatePerMinute)

	mux.HandleFunc("/api/sites", GetSitesHandler())

	mux.HandleFunc("/api/fetch_reports", automation.FetchReportsHandler(syncer, limiter))

	mux.HandleFunc("/api/today", report.TodayHandler(dbs, syncer, time.Now))
	mux.HandleFunc("/api/mtd", report.MonthToDateHandler(dbs, syncer, time.Now))
	mux.HandleFunc("/api/day/", report.DayHandler(dbs))
	mux.HandleFunc("/api/month/", report.MonthHandler(dbs))
	mux.HandleFunc("/api/latest_date", report.LatestDateHandler(dbs, time.Now))

	mux.HandleFunc("/api/stock/closing_history", report.ClosingHistoryHandler(dbs))
	mux.HandleFunc("/api/stock/closing_history/export", valuation.ExportClosingStockHandler(dbs))
}
