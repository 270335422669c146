package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"dmr/automation"
	"dmr/config"
	"dmr/loader"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

const cliDateLayout = "2006-01-02"

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	app := &cli.App{
		Name:  "dmr",
		Usage: "import Daily Management Report emails and serve the figures",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./dmr_config.json", Usage: "path to the site configuration file"},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"DMR_LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			config.SetLogLevel(c.String("log-level"))
			if _, err := config.LoadConfigFrom(c.String("config")); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
		Action: fetchCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address, overrides the config file"}},
				Action: serveCommand,
			},
			{
				Name:   "fetch",
				Usage:  "import the reports of the last seven days",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "site", Usage: "site name, default site when empty"}},
				Action: fetchCommand,
			},
			{
				Name:      "history",
				Usage:     "import every report between two dates, inclusive",
				ArgsUsage: "START END [SITE]",
				Action:    historyCommand,
			},
			{
				Name:      "populate_stock",
				Usage:     "recompute the monthly closing stock table",
				ArgsUsage: "[SITE]",
				Action:    populateStockCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		config.GetLogger().Fatal(err)
	}
}

func serveCommand(c *cli.Context) error {
	dbs := loader.NewSiteDBs()
	defer dbs.CloseAll()

	mux := http.NewServeMux()
	SetupRoutes(mux, dbs, automation.NewSyncer(dbs))

	addr := c.String("addr")
	if addr == "" {
		addr = config.GetConfig().ListenAddr
	}
	config.GetLogger().Infof("Starting server on %s for sites %v", addr, config.GetConfig().SiteNames())
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("server start error: %w", err)
	}
	return nil
}

func fetchCommand(c *cli.Context) error {
	site, err := config.GetConfig().ResolveSite(c.String("site"))
	if err != nil {
		return err
	}
	dbs := loader.NewSiteDBs()
	defer dbs.CloseAll()

	n, err := automation.NewSyncer(dbs).FetchLatest(site)
	return reportSync(site, "Added data for %d new dates", n, err)
}

func historyCommand(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.Exit("usage: dmr history START END [SITE] (dates as YYYY-MM-DD)", 2)
	}
	start, err := time.ParseInLocation(cliDateLayout, c.Args().Get(0), time.Local)
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.ParseInLocation(cliDateLayout, c.Args().Get(1), time.Local)
	if err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}
	site, err := config.GetConfig().ResolveSite(c.Args().Get(2))
	if err != nil {
		return err
	}

	dbs := loader.NewSiteDBs()
	defer dbs.CloseAll()

	n, err := automation.NewSyncer(dbs).ImportHistory(site, start, end)
	return reportSync(site, "History import complete, %d dates with new data", n, err)
}

// reportSync logs the date count of a sync run. The count is logged even when
// only the rollup failed, since those rows are committed. Configuration
// errors exit with status 2.
func reportSync(site config.Site, format string, n int, err error) error {
	log := config.GetLogger().WithField("site", site.Name)
	switch {
	case err == nil:
		log.Infof(format, n)
		return nil
	case errors.Is(err, automation.ErrRollupFailed):
		log.Infof(format, n)
		return err
	case automation.IsConfigError(err):
		return cli.Exit(err.Error(), 2)
	default:
		return err
	}
}

func populateStockCommand(c *cli.Context) error {
	site, err := config.GetConfig().ResolveSite(c.Args().First())
	if err != nil {
		return err
	}
	dbs := loader.NewSiteDBs()
	defer dbs.CloseAll()

	months, err := automation.NewSyncer(dbs).PopulateStock(site)
	if err != nil {
		return err
	}
	config.GetLogger().WithField("site", site.Name).Infof("Monthly closing stock populated for %d months", months)
	return nil
}
