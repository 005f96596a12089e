// Command refreshd runs the wallet-state refresh orchestrator: a single
// process that polls a durable job queue and a watcher registry backed by
// PostgreSQL, and drives a bounded pool of per-wallet workers against the
// external wallet HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goerrors "github.com/go-errors/errors"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/config"
	"github.com/rgbtools/refreshd/jobhandler"
	"github.com/rgbtools/refreshd/orchestrator"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferwatcher"
	"github.com/rgbtools/refreshd/walletworker"
)

var log = build.NewPkgLogger("RFSD")

func main() {
	if err := run(); err != nil {
		// Wrap at the boundary where a fatal startup/shutdown error
		// surfaces to the operator, so the stack trace at the failure
		// site isn't lost once it's flattened into a log line.
		wrapped := goerrors.Wrap(err, 1)
		log.Errorf("fatal: %s\n%s", wrapped.Error(), wrapped.Stack())
		fmt.Fprintln(os.Stderr, "refreshd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logWriter := build.NewRotatingLogWriter()
	if err := logWriter.InitLogRotator(filepath.Join(cfg.LogDir, "refreshd.log"), 10, 3); err != nil {
		return fmt.Errorf("init log rotator: %w", err)
	}
	build.SetupLoggers(logWriter)
	if err := logWriter.SetLogLevels(cfg.LogLevel); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := store.NewPostgresStore(ctx, store.PoolConfig{
		DSN:            cfg.PostgresURL,
		MinConnections: cfg.PostgresMinConnections,
		MaxConnections: cfg.PostgresMaxConnections,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	api := apiclient.New(apiclient.Config{
		BaseURL:           cfg.APIURL,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.APIRequestsPerSec,
	})

	var metrics *build.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = build.NewMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server exited: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	orch := orchestrator.New(orchestrator.Config{
		PollInterval:       cfg.PollInterval,
		MaxWalletProcesses: cfg.MaxWalletProcesses,
		DrainTimeout:       cfg.DrainTimeout,
		EnableRecovery:     cfg.EnableRecovery,
		LockTTL:            cfg.WalletLockTTL,
		WorkerConfig: walletworker.Config{
			PollInterval: cfg.WalletWorkerPollInterval,
			IdleTimeout:  cfg.WalletWorkerIdleTimeout,
		},
		JobConfig: jobhandler.Config{
			MaxRetries:          cfg.MaxRefreshRetries,
			RetryDelayBase:      cfg.RetryDelayBase,
			WatcherTTL:          cfg.WatcherTTL,
			InvoiceWatcherTTL:   cfg.InvoiceCreatedWatcherTTL,
			DurationRcvTransfer: cfg.DurationRcvTransfer,
		},
		WatcherConfig: transferwatcher.Config{
			DurationRcvTransfer: cfg.DurationRcvTransfer,
		},
		Metrics: metrics,
	}, s, api)

	log.Infof("starting refreshd, cap=%d poll=%s", cfg.MaxWalletProcesses, cfg.PollInterval)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	<-ctx.Done()
	log.Infof("shutdown signal received, draining")
	orch.Stop()
	log.Infof("refreshd exited")

	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
