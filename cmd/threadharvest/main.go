// Package main wires together the forum crawl service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/api"
	"github.com/threadharvest/threadharvest/internal/config"
	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/events"
	"github.com/threadharvest/threadharvest/internal/fetch"
	"github.com/threadharvest/threadharvest/internal/logging"
	"github.com/threadharvest/threadharvest/internal/manager"
	"github.com/threadharvest/threadharvest/internal/metrics"
	"github.com/threadharvest/threadharvest/internal/parse"
	"github.com/threadharvest/threadharvest/internal/scheduler"
	"github.com/threadharvest/threadharvest/internal/session"
	memorystorage "github.com/threadharvest/threadharvest/internal/storage/memory"
	"github.com/threadharvest/threadharvest/internal/storage/postgres"
	"github.com/threadharvest/threadharvest/internal/themes"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		recordStore crawler.RecordStore
		recordList  api.RecordLister
		taskStore   scheduler.TaskStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			logger.Fatal("database connect failed", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		records := postgres.NewRecordStore(pool)
		recordStore = records
		recordList = records
		taskStore = postgres.NewTaskStore(pool)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		records := memorystorage.NewRecordStore()
		recordStore = records
		recordList = records
		taskStore = memorystorage.NewTaskStore()
	}

	hub := events.NewHub(logger.Named("events"),
		events.NewLogSink(logger.Named("crawl")),
		metrics.NewSink(),
	)

	cookieStore := session.NewStore(cfg.Session.CookiesFile)
	acquirer, err := session.NewAcquirer(session.Config{
		TargetURL:            cfg.Site.BaseURL,
		Proxy:                cfg.Proxy.URL,
		ContainerHostAlias:   cfg.Proxy.ContainerHostAlias,
		ContainerHostAddr:    cfg.Proxy.ContainerHostAddr,
		NavTimeout:           time.Duration(cfg.Session.NavTimeoutSeconds) * time.Second,
		InterstitialWait:     time.Duration(cfg.Session.InterstitialWaitSec) * time.Second,
		InterstitialLongWait: time.Duration(cfg.Session.InterstitialLongerSec) * time.Second,
	}, cookieStore, logger.Named("session"))
	if err != nil {
		logger.Fatal("session acquirer init failed", zap.Error(err))
	}

	fetcher, err := fetch.New(fetch.Config{
		BaseURL:       cfg.Site.BaseURL,
		MaxConcurrent: cfg.Crawler.MaxConcurrent,
		Timeout:       cfg.FetchTimeout(),
		Proxy:         cfg.Proxy.URL,
		NoProxyHosts:  cfg.Proxy.NoProxyHosts,
	}, cookieStore, logger.Named("fetch"))
	if err != nil {
		logger.Fatal("fetch client init failed", zap.Error(err))
	}

	parser, err := parse.New(cfg.Site.BaseURL, logger.Named("parse"))
	if err != nil {
		logger.Fatal("parser init failed", zap.Error(err))
	}

	snapshots, err := crawler.NewSnapshotWriter(cfg.Crawler.ResultsDir, logger.Named("snapshot"))
	if err != nil {
		logger.Fatal("snapshot writer init failed", zap.Error(err))
	}

	registry := themes.FromMap(cfg.Site.Themes)
	engine := crawler.NewOrchestrator(fetcher, parser, recordStore, snapshots, registry, hub, logger.Named("crawler"))

	mgr, err := manager.New(manager.Config{
		BaseURL:         cfg.Site.BaseURL,
		MaxRetries:      cfg.Session.MaxRetries,
		RetryDelay:      time.Duration(cfg.Session.RetryDelaySeconds) * time.Second,
		RefreshInterval: cfg.SessionRefreshInterval(),
		Headless:        true,
	}, engine, fetcher, acquirer, cookieStore, hub, logger.Named("manager"))
	if err != nil {
		logger.Fatal("manager init failed", zap.Error(err))
	}

	var runner *scheduler.Runner
	var taskRunner api.TaskRunner
	if cfg.Scheduler.Enabled {
		runner = scheduler.NewRunner(scheduler.Config{
			PollInterval:    time.Duration(cfg.Scheduler.PollSeconds) * time.Second,
			DefaultTimezone: cfg.Scheduler.DefaultTimezone,
			PageDelay:       cfg.PageDelay(),
			MaxConcurrent:   cfg.Crawler.MaxConcurrent,
		}, taskStore, mgr.Run, logger.Named("scheduler"))
		runner.Start(ctx)
		taskRunner = runner
	}

	apiServer := api.NewServer(mgr, recordList, taskStore, taskRunner, registry, api.Defaults{
		PageDelay:     cfg.PageDelay(),
		MaxConcurrent: cfg.Crawler.MaxConcurrent,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	mgr.Stop()
	if runner != nil {
		runner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}
}
