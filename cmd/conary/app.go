package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/internal/cas"
	"github.com/conarylabs/conary/internal/catalog"
	"github.com/conarylabs/conary/internal/config"
	"github.com/conarylabs/conary/internal/deploy"
	"github.com/conarylabs/conary/internal/metrics"
	"github.com/conarylabs/conary/internal/txn"
	"github.com/conarylabs/conary/pkg/log"
)

// app bundles the subsystems every install/remove/rollback command needs.
// It is assembled fresh per command invocation rather than held across a
// long-lived process, since the CLI is a one-shot subprocess per spec.md's
// CAS and catalog lifetimes.
type app struct {
	cfg      *config.Configuration
	logger   *log.Logger
	catalog  *catalog.Catalog
	store    *cas.Store
	engine   *txn.Engine
	deployer *deploy.Deployer
	metrics  *metrics.Collector
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataRoot, _ := cmd.Flags().GetString("data-root")
	installRoot, _ := cmd.Flags().GetString("install-root")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg := config.NewDefault()
	if cfgPath != "" {
		if err := cfg.LoadFromFile(cfgPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if dataRoot != "" {
		cfg.Store.DataRoot = dataRoot
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	format := log.FormatText
	if logJSON || cfg.Monitoring.Logging.Format == "json" {
		format = log.FormatJSON
	}
	logger, err := log.New(&log.Config{Level: level, Format: format, IncludeCaller: false})
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Catalog.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.Store.DataRoot, dbPath)
	}
	cat, err := catalog.Open(dbPath, cfg.Catalog.BusyTimeout)
	if err != nil {
		return nil, err
	}

	store, err := cas.New(cfg.Store.DataRoot, logger.WithComponent("cas"))
	if err != nil {
		_ = cat.Close()
		return nil, err
	}

	if installRoot == "" {
		installRoot = "/"
	}
	deployer := deploy.New(store, installRoot, logger.WithComponent("deploy"))
	engine := txn.New(cat, logger.WithComponent("txn"))

	metricsCollector, err := metrics.NewCollector(&metrics.Config{Enabled: cfg.Monitoring.Metrics.Enabled, Port: cfg.Global.MetricsPort})
	if err != nil {
		_ = cat.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  cat,
		store:    store,
		engine:   engine,
		deployer: deployer,
		metrics:  metricsCollector,
	}, nil
}

func (a *app) Close() {
	_ = a.catalog.Close()
}

// addCommonFlags registers, on one subcommand's own flag set, the flags
// its newApp call reads; main.go applies it to each subcommand that
// bootstraps an app.
func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a YAML configuration file")
	cmd.Flags().String("data-root", "", "Override the configured data root directory")
	cmd.Flags().String("install-root", "/", "Filesystem root to materialize files under")
	cmd.Flags().String("log-level", "", "Override the configured log level")
	cmd.Flags().Bool("log-json", false, "Emit logs as JSON regardless of configuration")
}
