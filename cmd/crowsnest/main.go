package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/categorizer"
	"github.com/crowsnest-trading/crowsnest/internal/config"
	"github.com/crowsnest-trading/crowsnest/internal/execution"
	"github.com/crowsnest-trading/crowsnest/internal/fetcher"
	"github.com/crowsnest-trading/crowsnest/internal/history"
	"github.com/crowsnest-trading/crowsnest/internal/ledger"
	"github.com/crowsnest-trading/crowsnest/internal/observability"
	"github.com/crowsnest-trading/crowsnest/internal/positions"
	"github.com/crowsnest-trading/crowsnest/internal/pricing"
	"github.com/crowsnest-trading/crowsnest/internal/push"
	"github.com/crowsnest-trading/crowsnest/internal/quote"
	"github.com/crowsnest-trading/crowsnest/internal/retry"
	"github.com/crowsnest-trading/crowsnest/internal/signalgate"
	"github.com/crowsnest-trading/crowsnest/internal/solana"
	"github.com/crowsnest-trading/crowsnest/internal/store"
	"github.com/crowsnest-trading/crowsnest/internal/trading"
	"github.com/crowsnest-trading/crowsnest/internal/wallets"
)

// noopSigner stands in for the wallet keypair in stub and dry-run modes,
// where nothing is ever signed or submitted.
type noopSigner struct{}

func (noopSigner) PublicKey() solana.Pubkey { return "11111111111111111111111111111111" }

func (noopSigner) SignTransaction(tx string) (string, error) { return tx, nil }

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC, history, and quotes (no external calls)")
	dryRunFlag := flag.Bool("dry-run", false, "Quote but never submit transactions")
	flag.Parse()

	// 2. Load .env so ${VAR} references in the config expand.
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file, using process environment")
	}

	// 3. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	setupLogging(cfg.General)

	dryRun := cfg.General.DryRun || *dryRunFlag || *stubMode
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("dry_run", dryRun).
		Bool("stub_mode", *stubMode).
		Int("max_positions", cfg.Trading.MaxPositions).
		Float64("ai_size", cfg.Trading.AISize).
		Float64("meme_size", cfg.Trading.MemeSize).
		Msg("crowsnest starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Event bus.
	events := bus.New()

	// 5. Wallet registry and roster.
	registry := wallets.NewRegistry(wallets.Thresholds{
		VeryActiveWithin: cfg.Monitor.VeryActiveWithin,
		ActiveWithin:     cfg.Monitor.ActiveWithin,
		WatchingWithin:   cfg.Monitor.WatchingWithin,
		AsleepWithin:     cfg.Monitor.AsleepWithin,
	})
	if cfg.Monitor.RosterPath != "" {
		n, err := wallets.LoadRosterInto(cfg.Monitor.RosterPath, registry)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Monitor.RosterPath).Msg("roster load failed")
		}
		log.Info().Int("wallets", n).Str("path", cfg.Monitor.RosterPath).Msg("roster loaded")
	} else {
		log.Warn().Msg("no roster configured, starting with an empty registry")
	}

	// 6. History source.
	var histSvc history.Service
	if *stubMode {
		histSvc = history.NewStub()
		log.Info().Msg("history: STUB mode")
	} else {
		histSvc = history.NewClient(history.ClientConfig{
			BaseURL:  cfg.History.BaseURL,
			APIKey:   cfg.History.APIKey,
			Timeout:  cfg.History.Timeout,
			PageSize: cfg.History.Limit,
		})
	}

	// 7. Categorizer. Without a metadata provider it classifies from the
	// symbol alone.
	var provider categorizer.MetadataProvider
	if !*stubMode {
		provider = categorizer.NewClient(categorizer.ClientConfig{
			BaseURL: cfg.History.BaseURL,
			APIKey:  cfg.History.APIKey,
		})
	}
	cat := categorizer.New(categorizer.DefaultConfig(), provider)

	// 8. Score ledger.
	scoreLedger := ledger.New(ledger.Config{
		Thresholds: map[ledger.Category]float64{
			ledger.CategoryAI:      cfg.Scoring.AIThreshold,
			ledger.CategoryMeme:    cfg.Scoring.MemeThreshold,
			ledger.CategoryHybrid:  cfg.Scoring.HybridThreshold,
			ledger.CategoryUnknown: cfg.Scoring.UnknownThreshold,
		},
		TokenMaxAge: cfg.Scoring.TokenMaxAge,
	}, cat, registry, events.TradingSignals, events.TokenMetrics)

	// 9. Transaction fetcher feeding the ledger.
	fetch := fetcher.New(fetcher.Config{
		LookbackWindow:   cfg.Monitor.LookbackWindow,
		MinSettlementSOL: cfg.Monitor.MinSettlementSOL,
		MinCallSpacing:   cfg.Monitor.MinCallSpacing,
		Retries: retry.Policy{
			MaxAttempts: cfg.Monitor.FetchRetries,
			Delay:       cfg.Monitor.FetchRetryDelay,
			Backoff:     retry.Linear,
		},
	}, histSvc, registry, scoreLedger, events.Transactions)

	// 10. Tier scheduler.
	scheduler := wallets.NewScheduler(wallets.SchedulerConfig{
		BatchSize:  cfg.Monitor.BatchSize,
		BatchDelay: cfg.Monitor.BatchDelay,
		TierIntervals: map[wallets.Tier]time.Duration{
			wallets.TierVeryActive: cfg.Monitor.VeryActiveInterval,
			wallets.TierActive:     cfg.Monitor.ActiveInterval,
			wallets.TierWatching:   cfg.Monitor.WatchingInterval,
			wallets.TierAsleep:     cfg.Monitor.AsleepInterval,
			wallets.TierDormant:    cfg.Monitor.DormantInterval,
		},
		MaintenanceInterval: cfg.Monitor.MaintenanceInterval,
	}, registry, fetch.Process)
	scheduler.SetOnMaintenance(func() {
		removed := scoreLedger.Cleanup(time.Now())
		if removed > 0 {
			log.Info().Int("tokens", removed).Msg("ledger maintenance removed stale tokens")
		}
	})

	// 11. Solana RPC.
	var rpc solana.Client
	var liveRPC *solana.LiveClient
	if *stubMode {
		rpc = solana.NewStubClient()
		log.Info().Msg("solana rpc: STUB mode")
	} else {
		liveRPC = solana.NewLiveClient(solana.RPCConfig{
			Endpoint:     cfg.Solana.RPCEndpoint,
			Timeout:      cfg.Solana.Timeout,
			MaxRetries:   cfg.Solana.MaxRetries,
			RateLimitRPS: cfg.Solana.RateLimitRPS,
		})
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.RPCEndpoint).
				Msg("solana rpc health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("solana rpc connected")
		}
		healthCancel()
	}

	// 12. Wallet signer.
	var signer execution.Signer
	if cfg.Solana.PrivateKey != "" {
		s, err := solana.NewSigner(cfg.Solana.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid wallet private key")
		}
		signer = s
		log.Info().Str("wallet", string(s.PublicKey())).Msg("signer ready")
	} else if dryRun {
		signer = noopSigner{}
	} else {
		log.Fatal().Msg("no private key configured and not in dry-run mode")
	}

	// 13. Quote aggregator and pricing.
	var quotes quote.Service
	if *stubMode {
		quotes = quote.NewStub()
		log.Info().Msg("quotes: STUB mode")
	} else {
		quotes = quote.NewClient(quote.ClientConfig{})
	}
	prices := pricing.New(pricing.Config{
		CacheTTL:    cfg.Trading.PriceCacheTTL,
		SlippageBps: cfg.Trading.SlippageBps,
	}, quotes)

	// 14. Position store.
	var db store.Store
	var pg *store.Postgres
	if cfg.Store.Enabled {
		pg, err = store.NewPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres store init failed")
		}
		db = pg
		log.Info().Msg("position store: postgres")
	} else {
		db = store.NewMemory()
		log.Info().Msg("position store: in-memory (positions lost on restart)")
	}
	defer db.Close()

	// 15. Position book and execution engine.
	ladder := make([]positions.LadderSpec, 0, len(cfg.Trading.ProfitLevels))
	for _, lvl := range cfg.Trading.ProfitLevels {
		ladder = append(ladder, positions.LadderSpec{Increase: lvl.Increase, SellPortion: lvl.SellPortion})
	}
	book := positions.NewBook(positions.Caps{
		Global: cfg.Trading.MaxPositions,
		PerCategory: map[ledger.Category]int{
			ledger.CategoryAI:   cfg.Trading.MaxAIPositions,
			ledger.CategoryMeme: cfg.Trading.MaxMemePositions,
		},
	}, ladder)

	engine := execution.New(execution.Config{
		MaxAttempts:       cfg.Trading.MaxRetries,
		RetryDelay:        cfg.Trading.RetryDelay,
		TakeProfitRetries: cfg.Trading.TakeProfitRetries,
		TakeProfitDelay:   cfg.Trading.TakeProfitDelay,
		ConfirmAttempts:   cfg.Trading.ConfirmAttempts,
		ConfirmPollDelay:  cfg.Trading.ConfirmPollDelay,
		DryRun:            dryRun,
	}, quotes, rpc, signer)

	gate := signalgate.New(signalgate.Config{
		Thresholds: map[ledger.Category]float64{
			ledger.CategoryAI:      cfg.Scoring.AIThreshold,
			ledger.CategoryMeme:    cfg.Scoring.MemeThreshold,
			ledger.CategoryHybrid:  cfg.Scoring.HybridThreshold,
			ledger.CategoryUnknown: cfg.Scoring.UnknownThreshold,
		},
		Sizes: map[ledger.Category]float64{
			ledger.CategoryAI:     cfg.Trading.AISize,
			ledger.CategoryMeme:   cfg.Trading.MemeSize,
			ledger.CategoryHybrid: cfg.Trading.HybridSize,
		},
		SlippageBps: cfg.Trading.SlippageBps,
		PriorityFee: cfg.Trading.PriorityFee,
	})

	// 16. Trading system.
	system := trading.New(trading.Config{
		RepriceInterval: cfg.Trading.RepriceInterval,
		SlippageBps:     cfg.Trading.SlippageBps,
		PriorityFee:     cfg.Trading.PriorityFee,
	}, gate, book, engine, prices, db, events)

	if _, err := system.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("position restore failed")
	}

	// 17. Observability.
	monitor := observability.NewMonitor(cfg.Health.CheckInterval)
	monitor.Register("rpc", rpc.Health)
	if pg != nil {
		monitor.Register("store", pg.Ping)
	}
	if !*stubMode {
		monitor.Register("quote", func(ctx context.Context) error {
			_, err := quotes.GetQuote(ctx, quote.Request{
				InputMint:   solana.SOLMint,
				OutputMint:  solana.USDCMint,
				AmountRaw:   decimal.NewFromInt(1_000_000), // 0.001 SOL probe
				SlippageBps: cfg.Trading.SlippageBps,
			})
			return err
		})
		if cfg.History.APIKey != "" {
			monitor.Register("history", func(ctx context.Context) error {
				// Probe with the system program address: cheap, always valid.
				_, err := histSvc.List(ctx, "11111111111111111111111111111111", time.Now().Add(-time.Minute))
				return err
			})
		}
	}
	obsServer := observability.NewServer(cfg.Health.Addr, monitor)
	obsServer.RegisterStats("wallets", func() any { return registry.Stats() })
	obsServer.RegisterStats("fetcher", func() any { return fetch.Stats() })
	obsServer.RegisterStats("ledger", func() any { return scoreLedger.Stats() })
	obsServer.RegisterStats("trading", func() any { return system.Stats() })
	obsServer.RegisterStats("positions", func() any { return book.Summarize() })

	// 18. Run everything.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		system.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := obsServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("observability server error")
		}
	}()

	if cfg.Push.Enabled {
		pushServer := push.NewServer(push.Config{Addr: cfg.Push.Addr}, events)
		obsServer.RegisterStats("push", func() any { return pushServer.Stats() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pushServer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("push server error")
			}
		}()
	}

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fs := fetch.Stats()
				ls := scoreLedger.Stats()
				ts := system.Stats()
				summary := book.Summarize()
				log.Info().
					Uint64("fetches", fs.Fetches).
					Uint64("swaps", fs.Swaps).
					Int("tokens", ls.TokensTracked).
					Int64("signals", ts.SignalsSeen).
					Int64("entries", ts.EntriesOpened).
					Int64("take_profits", ts.TakeProfits).
					Int("open_pos", summary.Open).
					Str("realized_pnl", summary.RealizedPnL.String()).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("crowsnest running")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	wg.Wait()
	log.Info().Msg("crowsnest stopped")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "crowsnest").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "crowsnest").
			Str("instance", general.InstanceID).Logger()
	}
}
