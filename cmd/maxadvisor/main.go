package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/advisor"
	"github.com/rewired-gh/maxadvisor/internal/api"
	"github.com/rewired-gh/maxadvisor/internal/config"
	"github.com/rewired-gh/maxadvisor/internal/feed"
	"github.com/rewired-gh/maxadvisor/internal/logger"
	"github.com/rewired-gh/maxadvisor/internal/metrics"
	"github.com/rewired-gh/maxadvisor/internal/storage"
	"github.com/rewired-gh/maxadvisor/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	logger.Info("Storage ready (driver: %s)", cfg.Storage.Driver)

	m := metrics.New()
	adv := advisor.New(newSource(cfg), store, m, advisor.Options{
		Workers:         cfg.Feed.Workers,
		KickoffGrace:    cfg.Advice.KickoffGrace,
		SafestCount:     cfg.Advice.SafestCount,
		AccumulatorLegs: cfg.Advice.AccumulatorLegs,
		MaxLegs:         cfg.Advice.MaxLegs,
		Location:        cfg.DisplayLocation(),
	})

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.DigestChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, m)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram bot disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Start Telegram command listener
	if telegramClient != nil {
		bot := telegram.NewBot(telegramClient, adv, m, telegram.BotConfig{
			AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
			RequestsPerMin: cfg.Telegram.RequestsPerMin,
			UpdateTimeout:  cfg.Telegram.UpdateTimeout,
		})
		bot.ListenForCommands(ctx)
	}

	// Start HTTP API
	var srv *http.Server
	if cfg.API.Enabled {
		var apiMetrics *metrics.Metrics
		if cfg.Metrics.Enabled {
			apiMetrics = m
		}
		server := api.NewServer(adv, apiMetrics, api.Config{
			CORSOrigins:    cfg.API.CORSOrigins,
			RequestTimeout: cfg.API.RequestTimeout,
			MaxLegs:        cfg.Advice.MaxLegs,
			MetricsPath:    cfg.Metrics.Path,
		})
		srv = &http.Server{
			Addr:         cfg.API.ListenAddr,
			Handler:      server.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: cfg.API.RequestTimeout + 5*time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("API listening on %s", cfg.API.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server failed: %v", err)
				cancel()
			}
		}()
	}

	logger.Info("Starting refresh loop (interval: %v, workers: %d, display zone: %s)",
		cfg.Feed.PollInterval, cfg.Feed.Workers, cfg.Advice.DisplayTimezone)

	ticker := time.NewTicker(cfg.Feed.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	var failingSince time.Time

	runCycle := func() {
		res, err := adv.Refresh(ctx)
		if err != nil {
			if consecutiveFailures == 0 {
				failingSince = time.Now()
			}
			consecutiveFailures++
			logger.Error("Refresh cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}

		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures, time.Since(failingSince)); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0

		if len(res.NewValueBets) > 0 && telegramClient != nil {
			if err := telegramClient.SendDigest(res.NewValueBets, res.Upcoming); err != nil {
				logger.Error("Failed to send value bet digest: %v", err)
			} else {
				logger.Info("Sent digest with %d new value bets", len(res.NewValueBets))
			}
		}
	}

	// Run initial refresh immediately
	logger.Debug("Running initial refresh")
	runCycle()

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("API shutdown: %v", err)
				}
				shutdownCancel()
			}
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled refresh")
			runCycle()

			if err := adv.Prune(ctx, cfg.Storage.Retention); err != nil {
				logger.Warn("Failed to prune storage: %v", err)
			}
		}
	}
}

func newSource(cfg *config.Config) feed.Source {
	if cfg.Feed.FilePath != "" {
		logger.Info("Reading predictions from %s", cfg.Feed.FilePath)
		return feed.FileSource{Path: cfg.Feed.FilePath}
	}

	opts := []feed.ClientOption{
		feed.WithTimeout(cfg.Feed.Timeout),
		feed.WithRetry(cfg.Feed.MaxRetries, cfg.Feed.RetryDelayBase),
		feed.WithRateLimit(cfg.Feed.RateLimit, cfg.Feed.RateBurst),
	}
	if cfg.Feed.APIKey != "" {
		opts = append(opts, feed.WithAPIKey(cfg.Feed.APIKey))
	}
	logger.Info("Polling predictions from %s", cfg.Feed.URL)
	return feed.NewClient(cfg.Feed.URL, opts...)
}
