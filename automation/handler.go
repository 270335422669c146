package automation

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"dmr/config"
	"dmr/database"

	"golang.org/x/time/rate"
)

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// FetchLimiter throttles manual fetch triggers per site.
type FetchLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func NewFetchLimiter(perMinute int) *FetchLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &FetchLimiter{perMin: perMinute, limiters: make(map[string]*rate.Limiter)}
}

func (l *FetchLimiter) Allow(site string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[site]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), 1)
		l.limiters[site] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

type fetchResponse struct {
	Status       string `json:"status"`
	LatestDate   string `json:"latest_date"`
	NewDaysCount int    `json:"new_days_count"`
	Error        string `json:"error,omitempty"`
}

// FetchReportsHandler runs FetchLatest for the site named by ?site= and
// reports the latest stored date afterwards.
func FetchReportsHandler(s *Syncer, limiter *FetchLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		site, err := config.GetConfig().ResolveSite(r.URL.Query().Get("site"))
		if err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
		if !limiter.Allow(site.Name) {
			writeJSONError(w, "fetch already triggered recently, try again shortly", http.StatusTooManyRequests)
			return
		}

		log := config.GetLogger().WithField("site", site.Name)
		log.Info("--- Fetching latest report triggered via API ---")
		resp := fetchResponse{Status: "success"}
		newDays, err := s.FetchLatest(site)
		switch {
		case errors.Is(err, ErrRollupFailed):
			// entries are committed; only the monthly figures are stale
			log.WithError(err).Errorf("fetch_reports added %d new days but the rollup failed", newDays)
			resp.Status = "partial"
			resp.Error = err.Error()
		case err != nil:
			log.WithError(err).Error("fetch_reports failed")
			writeJSONError(w, err.Error(), statusFor(err))
			return
		default:
			log.Infof("--- Report fetch process completed, %d new days added ---", newDays)
		}
		resp.NewDaysCount = newDays

		resp.LatestDate = "N/A"
		db, err := s.DBs.Get(site)
		if err == nil {
			var d string
			if d, err = database.LatestDate(db); err == nil && d != "" {
				resp.LatestDate = d
			}
		}
		if err != nil {
			log.WithError(err).Warn("could not read latest date after fetch")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrUnknownSite):
		return http.StatusNotFound
	case IsConfigError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
