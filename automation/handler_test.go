package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dmr/config"
	"dmr/loader"
)

func loadTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	env := "GMAIL_USERNAME=pharmacy@example.com\nGMAIL_APP_PASSWORD=secret\nREPORT_SENDER=reports@example.com\nREPORT_SUBJECT=Daily Management Report\n"
	if err := os.WriteFile(filepath.Join(dir, ".env.reitz"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := `{"defaultSite":"reitz","sites":[{"name":"reitz","envFile":".env.reitz","dbPath":"reports.db"}]}`
	path := filepath.Join(dir, "dmr_config.json")
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadConfigFrom(path); err != nil {
		t.Fatal(err)
	}
}

func TestFetchReportsHandler(t *testing.T) {
	loadTestConfig(t)

	mail := &fakeMailbox{}
	mail.add(1, reportMessage(day("2024-03-09"), "R510,000.00"))

	dbs := loader.NewSiteDBs()
	t.Cleanup(dbs.CloseAll)
	s := NewSyncer(dbs)
	s.Now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	s.Dial = func(config.Site, []string) (MailSource, error) { return mail, nil }
	handler := FetchReportsHandler(s, NewFetchLimiter(1))

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/fetch_reports?site=reitz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp fetchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.NewDaysCount != 1 || resp.LatestDate != "2024-03-09" {
		t.Fatalf("response = %+v", resp)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/fetch_reports", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second trigger status = %d, want 429", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/fetch_reports?site=nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown site status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/fetch_reports", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}
}

func TestFetchReportsHandlerReportsCountWhenRollupFails(t *testing.T) {
	loadTestConfig(t)

	dbs := loader.NewSiteDBs()
	t.Cleanup(dbs.CloseAll)
	site, err := config.GetConfig().ResolveSite("reitz")
	if err != nil {
		t.Fatal(err)
	}
	db, err := dbs.Get(site)
	if err != nil {
		t.Fatal(err)
	}

	mail := &fakeMailbox{}
	mail.add(1, reportMessage(day("2024-03-09"), "R510,000.00"))
	mail.beforeFetch = func() { db.Exec(`DROP TABLE IF EXISTS monthly_closing_stock`) }

	s := NewSyncer(dbs)
	s.Now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	s.Dial = func(config.Site, []string) (MailSource, error) { return mail, nil }

	rec := httptest.NewRecorder()
	FetchReportsHandler(s, NewFetchLimiter(1))(rec, httptest.NewRequest(http.MethodPost, "/api/fetch_reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp fetchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "partial" || resp.NewDaysCount != 1 || resp.Error == "" || resp.LatestDate != "2024-03-09" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("site x: %w", config.ErrUnknownSite), http.StatusNotFound},
		{fmt.Errorf("site x: %w", config.ErrMissingCredentials), http.StatusBadRequest},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
