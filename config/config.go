package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	ErrUnknownSite        = errors.New("unknown site")
	ErrMissingCredentials = errors.New("missing mailbox credentials")
)

const (
	defaultIMAPAddr    = "imap.gmail.com:993"
	defaultListenAddr  = ":5001"
	defaultFetchPerMin = 6
)

// SiteEntry is one site as written in the config file. Credentials live in the
// site's env file, not here.
type SiteEntry struct {
	Name     string `json:"name"`
	EnvFile  string `json:"envFile"`
	DBPath   string `json:"dbPath"`
	IMAPAddr string `json:"imapAddr,omitempty"`
}

type Config struct {
	DefaultSite        string      `json:"defaultSite"`
	ListenAddr         string      `json:"listenAddr"`
	FetchRatePerMinute int         `json:"fetchRatePerMinute"`
	Sites              []SiteEntry `json:"sites"`
}

// Site is the fully resolved routing key handed to every ingestion and query
// operation. Nothing in the pipeline reads credentials from anywhere else.
type Site struct {
	Name        string
	DBPath      string
	IMAPAddr    string
	Username    string
	AppPassword string
	Sender      string
	Subject     string
}

// RequireMailbox reports ErrMissingCredentials when any mailbox field is blank.
func (s Site) RequireMailbox() error {
	var missing []string
	if s.Username == "" {
		missing = append(missing, "GMAIL_USERNAME")
	}
	if s.AppPassword == "" {
		missing = append(missing, "GMAIL_APP_PASSWORD")
	}
	if s.Sender == "" {
		missing = append(missing, "REPORT_SENDER")
	}
	if s.Subject == "" {
		missing = append(missing, "REPORT_SUBJECT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("site %s: %w (%s)", s.Name, ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

var (
	cfg Config
	mu  sync.RWMutex
)

const configFilePath = "./dmr_config.json"

func defaultConfig() Config {
	c := Config{
		DefaultSite:        "reitz",
		ListenAddr:         defaultListenAddr,
		FetchRatePerMinute: defaultFetchPerMin,
	}
	for _, name := range []string{"reitz", "villiers", "roos", "tugela", "winterton"} {
		db := "reports_" + name + ".db"
		if name == "reitz" {
			db = "reports.db"
		}
		c.Sites = append(c.Sites, SiteEntry{Name: name, EnvFile: ".env." + name, DBPath: db})
	}
	return c
}

func LoadConfig() (Config, error) {
	return LoadConfigFrom(configFilePath)
}

// LoadConfigFrom reads the config file at path. A missing file yields the
// built-in site list.
func LoadConfigFrom(path string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = defaultConfig()
			return cfg, nil
		}
		return Config{}, err
	}

	var tempCfg Config
	if err := json.Unmarshal(file, &tempCfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(tempCfg.Sites) == 0 {
		tempCfg.Sites = defaultConfig().Sites
	}
	for i := range tempCfg.Sites {
		tempCfg.Sites[i].Name = normalizeSiteName(tempCfg.Sites[i].Name)
	}
	tempCfg.DefaultSite = normalizeSiteName(tempCfg.DefaultSite)
	if tempCfg.DefaultSite == "" {
		tempCfg.DefaultSite = tempCfg.Sites[0].Name
	}
	if tempCfg.ListenAddr == "" {
		tempCfg.ListenAddr = defaultListenAddr
	}
	if tempCfg.FetchRatePerMinute == 0 {
		tempCfg.FetchRatePerMinute = defaultFetchPerMin
	}

	// relative paths are taken from the config file's directory
	base := filepath.Dir(path)
	for i := range tempCfg.Sites {
		tempCfg.Sites[i].EnvFile = resolvePath(base, tempCfg.Sites[i].EnvFile)
		tempCfg.Sites[i].DBPath = resolvePath(base, tempCfg.Sites[i].DBPath)
	}

	cfg = tempCfg
	return cfg, nil
}

// normalizeSiteName makes site names case-insensitive routing keys.
func normalizeSiteName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func GetConfig() Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// SiteNames lists the configured sites in file order.
func (c Config) SiteNames() []string {
	names := make([]string, 0, len(c.Sites))
	for _, s := range c.Sites {
		names = append(names, s.Name)
	}
	return names
}

// ResolveSite builds the Site value for name. Mailbox credentials are read from
// the site's env file without touching the process environment; a missing env
// file leaves them blank so that database-only operations still work.
func (c Config) ResolveSite(name string) (Site, error) {
	if name == "" {
		name = c.DefaultSite
	}
	name = normalizeSiteName(name)

	for _, entry := range c.Sites {
		if !strings.EqualFold(entry.Name, name) {
			continue
		}
		site := Site{
			Name:     entry.Name,
			DBPath:   entry.DBPath,
			IMAPAddr: entry.IMAPAddr,
		}
		if site.DBPath == "" {
			site.DBPath = "reports_" + entry.Name + ".db"
		}
		if site.IMAPAddr == "" {
			site.IMAPAddr = defaultIMAPAddr
		}

		if entry.EnvFile != "" {
			env, err := godotenv.Read(entry.EnvFile)
			if err != nil && !os.IsNotExist(err) {
				return Site{}, fmt.Errorf("failed to read env file for site %s: %w", name, err)
			}
			site.Username = env["GMAIL_USERNAME"]
			site.AppPassword = env["GMAIL_APP_PASSWORD"]
			site.Sender = env["REPORT_SENDER"]
			site.Subject = env["REPORT_SUBJECT"]
		}
		return site, nil
	}
	return Site{}, fmt.Errorf("%w: %q", ErrUnknownSite, name)
}
