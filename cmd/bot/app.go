package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pbaumgartner/ivcrush/internal/broker"
	"github.com/pbaumgartner/ivcrush/internal/cache"
	"github.com/pbaumgartner/ivcrush/internal/config"
	"github.com/pbaumgartner/ivcrush/internal/earnings"
	"github.com/pbaumgartner/ivcrush/internal/gatekeeper"
	"github.com/pbaumgartner/ivcrush/internal/models"
	"github.com/pbaumgartner/ivcrush/internal/monitor"
	"github.com/pbaumgartner/ivcrush/internal/storage"
)

// app wires the broker, earnings source, storage, and loops together for the
// CLI commands.
type app struct {
	cfg      *config.Config
	broker   broker.Broker
	earnings *earnings.Client
	store    *storage.JSONStorage
	monitor  *monitor.Monitor
	logger   *log.Logger
	logrus   *logrus.Logger
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	structured := logrus.New()
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	structured.SetLevel(level)

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)

	policy := broker.DefaultRetryPolicy
	policy.MaxRetries = cfg.Broker.MaxRetries

	alpaca := broker.NewAlpacaAPI(
		cfg.Broker.APIKey,
		cfg.Broker.APISecret,
		cfg.IsPaperTrading(),
		broker.WithHTTPClient(&http.Client{Timeout: cfg.BrokerTimeout()}),
		broker.WithRetryPolicy(policy),
		broker.WithRateLimit(cfg.Broker.RequestsPerSec),
		broker.WithBaseURLs(cfg.Broker.TradingEndpoint, cfg.Broker.DataEndpoint),
	)
	brk := broker.NewCircuitBreakerBroker(alpaca)

	store, err := storage.NewJSONStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &app{
		cfg:      cfg,
		broker:   brk,
		earnings: earnings.NewClient(cfg.Earnings.Endpoint, cfg.Earnings.APIToken, logger),
		store:    store,
		monitor:  monitor.New(brk, cfg.Monitor, cfg.Sizing, logger),
		logger:   logger,
		logrus:   structured,
	}, nil
}

// scanCycle runs one full gatekeeper pass over the configured tickers and
// persists the decisions under scanDate (today when empty). Cycles outside
// market hours are skipped.
func (a *app) scanCycle(ctx context.Context, scanDate string) error {
	open, err := a.broker.IsMarketOpen(ctx)
	if err != nil {
		return fmt.Errorf("checking market clock: %w", err)
	}
	if !open {
		a.logger.Println("Market closed, skipping scan cycle")
		return nil
	}

	a.logger.Printf("Starting scan cycle over %d tickers", len(a.cfg.Scan.Tickers))

	// A fresh cache per cycle keeps quotes and chains current across cycles
	// while still collapsing duplicate fetches within one.
	c := cache.New(a.cfg.CacheTTL(), a.cfg.Cache.MaxEntries)
	pipeline := gatekeeper.NewPipeline(a.broker, a.earnings, c, a.cfg, a.logger)

	decisions := pipeline.EvaluateAll(ctx, a.cfg.Scan.Tickers)

	if scanDate == "" {
		scanDate = storage.DateKey(time.Now())
	}
	approved := 0
	for _, d := range decisions {
		if err := a.store.SaveDecision(scanDate, d); err != nil {
			a.logger.Printf("Failed to persist decision for %s: %v", d.Ticker, err)
			continue
		}
		if d.Approved {
			approved++
		}
		a.saveEarningsDate(ctx, c, scanDate, d.Ticker)
	}

	hits, misses := c.Stats()
	a.logger.Printf("Scan cycle complete: %d approved / %d evaluated (cache %d hits, %d misses)",
		approved, len(decisions), hits, misses)
	return nil
}

// saveEarningsDate records the upcoming earnings date behind a decision. The
// fetch hits the cycle cache the pipeline already populated.
func (a *app) saveEarningsDate(ctx context.Context, c *cache.Manager, scanDate, ticker string) {
	records, err := cache.Fetch(c, "earnings:"+ticker, func() ([]models.EarningsRecord, error) {
		return a.earnings.HistoricalEarnings(ctx, ticker)
	})
	if err != nil {
		a.logger.Printf("Failed to fetch earnings dates for %s: %v", ticker, err)
		return
	}
	next, ok := earnings.NextEarningsDate(records, time.Now())
	if !ok {
		return
	}
	if err := a.store.SaveEarningsDate(scanDate, ticker, next); err != nil {
		a.logger.Printf("Failed to persist earnings date for %s: %v", ticker, err)
	}
}

// monitorPass runs one order-lifecycle pass over the open orders.
func (a *app) monitorPass(ctx context.Context) error {
	return a.monitor.RunOnce(ctx)
}

// runLoops drives the combined scan and monitor loops until ctx is canceled.
// Both run immediately on start, then on their configured intervals.
func (a *app) runLoops(ctx context.Context) error {
	account, err := a.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("verifying broker connection: %w", err)
	}
	a.logger.Printf("Connected to broker. Equity: $%.2f, buying power: $%.2f",
		account.Equity, account.BuyingPower)

	if err := a.scanCycle(ctx, ""); err != nil {
		a.logger.Printf("Scan cycle failed: %v", err)
	}
	if err := a.monitorPass(ctx); err != nil {
		a.logger.Printf("Monitor pass failed: %v", err)
	}

	scanTicker := time.NewTicker(a.cfg.ScanInterval())
	defer scanTicker.Stop()
	monitorTicker := time.NewTicker(a.cfg.MonitorInterval())
	defer monitorTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-scanTicker.C:
			if err := a.scanCycle(ctx, ""); err != nil {
				a.logger.Printf("Scan cycle failed: %v", err)
			}
		case <-monitorTicker.C:
			if err := a.monitorPass(ctx); err != nil {
				a.logger.Printf("Monitor pass failed: %v", err)
			}
		}
	}
}
