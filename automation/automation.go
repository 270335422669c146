package automation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dmr/config"
	"dmr/database"
	"dmr/mailbox"
	"dmr/model"
	"dmr/parsers"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const (
	dateLayout = "2006-01-02"
	// latestWindowDays is the number of days, today included, that
	// FetchLatest looks back over.
	latestWindowDays = 7
)

// ErrRollupFailed marks a sync whose entries were committed but whose monthly
// closing stock recomputation failed. The returned count is still valid.
var ErrRollupFailed = errors.New("closing stock rollup failed")

// MailSource is a logged-in mailbox with a folder selected.
type MailSource interface {
	Search(criteria mailbox.Criteria) ([]uint32, error)
	Fetch(uid uint32, allowInternalDate bool) (model.MailMessage, error)
	Close() error
}

// SiteStore hands out the database of a site.
type SiteStore interface {
	Get(site config.Site) (*sqlx.DB, error)
}

// Syncer pulls report emails into the site databases. A site is synced by
// at most one run at a time; different sites run independently.
type Syncer struct {
	Dial func(site config.Site, folders []string) (MailSource, error)
	DBs  SiteStore
	Now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSyncer(dbs SiteStore) *Syncer {
	return &Syncer{Dial: DialIMAP, DBs: dbs, Now: time.Now}
}

// DialIMAP opens a real IMAP session.
func DialIMAP(site config.Site, folders []string) (MailSource, error) {
	c, err := mailbox.Dial(site, folders)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Syncer) lockSite(name string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// run describes one pass over a mailbox.
type run struct {
	folders           []string
	criteria          mailbox.Criteria
	first, last       string
	skipExistingDates bool
	allowInternalDate bool
}

// FetchLatest imports the reports of the last seven days, today included.
// Dates that already have entries are not fetched again. It returns the
// number of distinct dates that received new rows.
func (s *Syncer) FetchLatest(site config.Site) (int, error) {
	if err := site.RequireMailbox(); err != nil {
		return 0, err
	}
	today := dayOf(s.Now())
	since := today.AddDate(0, 0, -(latestWindowDays - 1))

	return s.sync(site, run{
		folders: mailbox.InboxFolders,
		criteria: mailbox.Criteria{
			From:    site.Sender,
			Subject: site.Subject,
			Since:   since,
		},
		first:             since.Format(dateLayout),
		last:              today.Format(dateLayout),
		skipExistingDates: true,
	})
}

// ImportHistory imports every report dated start..end inclusive. Dates that
// already have entries are processed again; only new rows are added.
func (s *Syncer) ImportHistory(site config.Site, start, end time.Time) (int, error) {
	if err := site.RequireMailbox(); err != nil {
		return 0, err
	}
	start, end = dayOf(start), dayOf(end)
	if end.Before(start) {
		return 0, fmt.Errorf("end date %s is before start date %s", end.Format(dateLayout), start.Format(dateLayout))
	}

	return s.sync(site, run{
		folders: mailbox.ArchiveFolders,
		criteria: mailbox.Criteria{
			From:    site.Sender,
			Subject: site.Subject,
			Since:   start,
			Before:  end.AddDate(0, 0, 1),
		},
		first:             start.Format(dateLayout),
		last:              end.Format(dateLayout),
		allowInternalDate: true,
	})
}

// PopulateStock recomputes the monthly closing stock of a site without
// touching the mailbox.
func (s *Syncer) PopulateStock(site config.Site) (int, error) {
	unlock := s.lockSite(site.Name)
	defer unlock()

	db, err := s.DBs.Get(site)
	if err != nil {
		return 0, err
	}
	return database.RecomputeMonthlyClosingStock(db)
}

func (s *Syncer) sync(site config.Site, r run) (int, error) {
	unlock := s.lockSite(site.Name)
	defer unlock()

	log := config.GetLogger().WithField("site", site.Name)

	db, err := s.DBs.Get(site)
	if err != nil {
		return 0, err
	}

	src, err := s.Dial(site, r.folders)
	if err != nil {
		return 0, fmt.Errorf("failed to open mailbox for %s: %w", site.Name, err)
	}
	defer src.Close()

	uids, err := src.Search(r.criteria)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		log.Infof("No report emails between %s and %s", r.first, r.last)
	} else {
		log.Infof("Processing %d emails between %s and %s", len(uids), r.first, r.last)
	}

	savedDates := make(map[string]bool)
	for _, uid := range uids {
		date, added, err := s.importMessage(db, src, uid, r)
		if err != nil {
			log.WithField("uid", uid).WithError(err).Warn("skipping email")
			continue
		}
		if added > 0 {
			savedDates[date] = true
		}
	}
	log.Infof("Fetch complete. Added data for %d new dates.", len(savedDates))

	if _, err := database.RecomputeMonthlyClosingStock(db); err != nil {
		return len(savedDates), fmt.Errorf("%w: %w", ErrRollupFailed, err)
	}
	return len(savedDates), nil
}

// importMessage runs one email through extraction and persistence. A
// message that is skipped returns zero rows and no error.
func (s *Syncer) importMessage(db *sqlx.DB, src MailSource, uid uint32, r run) (string, int, error) {
	log := config.GetLogger().WithField("uid", uid)

	msg, err := src.Fetch(uid, r.allowInternalDate)
	if err != nil {
		return "", 0, err
	}
	date := msg.Date.Format(dateLayout)
	log = log.WithField("date", date)

	if date < r.first || date > r.last {
		log.Infof("Email date outside %s..%s, skipping", r.first, r.last)
		return date, 0, nil
	}

	if r.skipExistingDates {
		exists, err := database.HasEntriesForDate(db, date)
		if err != nil {
			return date, 0, err
		}
		if exists {
			log.Info("Report for this date already exists, skipping")
			return date, 0, nil
		}
	}

	html, ok, err := mailbox.ExtractHTML(msg.Body)
	if err != nil {
		return date, 0, err
	}
	if !mailbox.IsDailyReport(msg.Subject, html) {
		log.Info("Not a daily management report, skipping")
		return date, 0, nil
	}
	if !ok {
		log.Warn("No HTML content found, skipping")
		return date, 0, nil
	}

	entries := parsers.ParseReportHTML(html)
	if len(entries) == 0 {
		log.Warn("No data extracted, skipping")
		return date, 0, nil
	}

	added, err := database.SaveEntries(db, entries, date)
	if err != nil {
		return date, 0, err
	}
	log.WithFields(logrus.Fields{"extracted": len(entries), "added": added}).Info("Saved report entries")
	return date, added, nil
}

// dayOf truncates t to midnight in its own location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsConfigError reports whether err stems from site configuration rather
// than from the mailbox or the store.
func IsConfigError(err error) bool {
	return errors.Is(err, config.ErrMissingCredentials) || errors.Is(err, config.ErrUnknownSite)
}
