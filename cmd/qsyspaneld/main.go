package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/connection"
	"github.com/g960059/qsyspanel/internal/daemon"
	"github.com/g960059/qsyspanel/internal/journal"
	"github.com/g960059/qsyspanel/internal/logging"
	"github.com/g960059/qsyspanel/internal/panel"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

const flushTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "YAML config path")
	socketPath := flag.String("socket", "", "UDS path for qsyspaneld (overrides config)")
	httpAddr := flag.String("http", "", "optional TCP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite journal path (overrides config)")
	coreHost := flag.String("core", "", "core host or IP (overrides config and environment)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	applyFlagOverrides(&cfg, *socketPath, *httpAddr, *dbPath, *coreHost)

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fatal(err)
	}
	defer closeLog()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, coreDialer(cfg, logging.Component(logger, "qrwc"))); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("qsyspaneld exited")
		closeLog()
		os.Exit(1)
	}
}

func applyFlagOverrides(cfg *config.Config, socketPath, httpAddr, dbPath, coreHost string) {
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if coreHost != "" {
		cfg.CoreHost = coreHost
	}
}

// run wires journal, connection manager, panels and API, and blocks until
// ctx ends or the server fails.
func run(ctx context.Context, cfg config.Config, logger *log.Logger, dial connection.Dialer) error {
	store, err := journal.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if err := journal.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}
	startRetentionLoop(ctx, store, cfg, logging.Component(logger, "journal"))

	mgr := connection.NewManager(cfg, dial, logging.Component(logger, "connection"), connection.WithRecorder(store))
	hub := panel.NewHub(cfg, store, logging.Component(logger, "panel"))
	hub.Attach(mgr)
	go mgr.Start(ctx)

	srv := daemon.NewServer(cfg, daemon.Deps{
		Hub:        hub,
		Connection: mgr,
		Journal:    store,
		Log:        logging.Component(logger, "api"),
	})
	serveErr := srv.Start(ctx)

	if !hub.FlushTimeout(flushTimeout) {
		logger.Warn("pending writes not flushed before shutdown")
	}
	hub.Close()
	if err := mgr.Close(); err != nil {
		logger.WithError(err).Warn("close connection manager")
	}
	return serveErr
}

// coreDialer opens a fresh session with the configured core for every attempt.
func coreDialer(cfg config.Config, logger *log.Entry) connection.Dialer {
	return func(ctx context.Context) (qrwc.Session, error) {
		endpoint := cfg.CoreEndpoint()
		if endpoint == "" {
			return nil, fmt.Errorf("core host is not configured; set core_host or %s", config.EnvCoreHost)
		}
		client, err := qrwc.Dial(ctx, endpoint, qrwc.Options{
			PollingInterval: cfg.PollingInterval,
			RequestTimeout:  cfg.ConnectTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			KeepAlive:       cfg.KeepAliveInterval,
			Components:      cfg.Components.Names(),
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func startRetentionLoop(ctx context.Context, store *journal.Store, cfg config.Config, logger *log.Entry) {
	if cfg.JournalTTL <= 0 {
		return
	}
	run := func() {
		cutoff := time.Now().UTC().Add(-cfg.JournalTTL)
		if err := store.PurgeBefore(ctx, cutoff); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("journal retention purge failed")
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "qsyspaneld: %v\n", err)
	os.Exit(1)
}
