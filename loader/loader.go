package loader

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dmr/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// OpenSiteDB opens the site's own SQLite file and makes sure the schema
// exists. Each site has a separate file; nothing here is shared between sites.
func OpenSiteDB(site config.Site) (*sqlx.DB, error) {
	if site.DBPath == "" {
		return nil, fmt.Errorf("site %s has no database path", site.Name)
	}
	if dir := filepath.Dir(site.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory for %s: %w", site.Name, err)
		}
	}

	db, err := sqlx.Open("sqlite3", site.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("db open error for %s: %w", site.Name, err)
	}
	if err := InitDatabase(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database initialization failed for %s: %w", site.Name, err)
	}
	return db, nil
}

// InitDatabase applies the embedded schema. It is safe to run repeatedly.
func InitDatabase(db *sqlx.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// SiteDBs keeps one open handle per site for long-running processes such as
// the HTTP server.
type SiteDBs struct {
	mu  sync.Mutex
	dbs map[string]*sqlx.DB
}

func NewSiteDBs() *SiteDBs {
	return &SiteDBs{dbs: make(map[string]*sqlx.DB)}
}

func (s *SiteDBs) Get(site config.Site) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[site.Name]; ok {
		return db, nil
	}
	db, err := OpenSiteDB(site)
	if err != nil {
		return nil, err
	}
	s.dbs[site.Name] = db
	config.GetLogger().WithField("site", site.Name).Infof("Opened database %s", site.DBPath)
	return db, nil
}

func (s *SiteDBs) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, db := range s.dbs {
		if err := db.Close(); err != nil {
			config.GetLogger().WithError(err).WithField("site", name).Warn("failed to close database")
		}
		delete(s.dbs, name)
	}
}
