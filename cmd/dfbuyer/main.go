package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/rewired-gh/dfbuyer/internal/allocator"
	"github.com/rewired-gh/dfbuyer/internal/chain"
	"github.com/rewired-gh/dfbuyer/internal/config"
	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
	"github.com/rewired-gh/dfbuyer/internal/storage"
	"github.com/rewired-gh/dfbuyer/internal/subgraph"
	"github.com/rewired-gh/dfbuyer/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.InitWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.PrivateKey, cfg.Chain.DialTimeout)
	if err != nil {
		logger.Fatal("Failed to connect to chain: %v", err)
	}
	defer chainClient.Close()

	graph := subgraph.NewClient(cfg.Subgraph.URL, subgraph.ClientConfig{
		Timeout:        cfg.Subgraph.Timeout,
		MaxRetries:     cfg.Subgraph.MaxRetries,
		RetryDelayBase: cfg.Subgraph.RetryDelayBase,
	})

	filters := models.MarketFilters{
		Pairs:      cfg.Buyer.PairFilter,
		Timeframes: cfg.Buyer.TimeframeFilter,
		Sources:    cfg.Buyer.SourceFilter,
		Owners:     cfg.Buyer.OwnerAddrs,
	}

	if _, err := subgraph.NewMatcher(filters); err != nil {
		logger.Fatal("Invalid market filters: %v", err)
	}

	allocConfig := allocator.DefaultConfig()
	allocConfig.Owner = chainClient.Owner()
	allocConfig.WeeklySpendLimit = cfg.Buyer.WeeklySpendLimit
	allocConfig.GasLimitFactor = cfg.Buyer.GasLimitFactor
	allocConfig.MaxUnitsPerTopic = uint64(cfg.Buyer.MaxUnitsPerTopic)
	allocConfig.Filters = filters
	alloc := allocator.New(allocConfig, graph, graph, chainClient)

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxCycles, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		alloc.SetRecorder(store)

		rotator := cron.New()
		if _, err := rotator.AddFunc(cfg.Storage.RotateSchedule, func() {
			if err := store.RotateCycles(); err != nil {
				logger.Warn("Failed to rotate cycles: %v", err)
			}
		}); err != nil {
			logger.Fatal("Failed to schedule journal rotation: %v", err)
		}
		rotator.Start()
		defer rotator.Stop()
		logger.Info("Cycle journal enabled (max %d cycles, rotation %q)", cfg.Storage.MaxCycles, cfg.Storage.RotateSchedule)
	} else {
		logger.Debug("Cycle journal disabled")
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.SetStatusFunc(alloc.Status)
		if store != nil {
			telegramClient.SetJournal(store)
		}
		telegramClient.ListenForCommands(ctx)
		if cfg.Telegram.NotifyCycles {
			alloc.SetNotifier(telegramClient)
		}
		if err := telegramClient.SendStarted(allocConfig.Owner, allocConfig.WeeklySpendLimit, filters); err != nil {
			logger.Warn("Failed to send start notification to Telegram: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	logger.Info("Starting buyer (owner: %s, weekly limit: %.2f, poll interval: %v, filters: %s)",
		allocConfig.Owner,
		cfg.Buyer.WeeklySpendLimit,
		cfg.Buyer.PollInterval,
		filters,
	)

	watcher := allocator.NewWatcher(chainClient, alloc, cfg.Buyer.PollInterval)
	err = watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Service stopped")
		return
	}

	logger.Error("Buyer loop failed: %v", err)
	if telegramClient != nil {
		if sendErr := telegramClient.SendError(err); sendErr != nil {
			logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
		}
	}
	exitCode = 1
}
