// crowsnest-diag probes every external dependency the trader needs and
// reports pass/fail per check. Run it before deploying a new box or after
// rotating keys.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/config"
	"github.com/crowsnest-trading/crowsnest/internal/history"
	"github.com/crowsnest-trading/crowsnest/internal/quote"
	"github.com/crowsnest-trading/crowsnest/internal/solana"
	"github.com/crowsnest-trading/crowsnest/internal/store"
)

// USDC has deep routes against SOL on every aggregator; if this pair does
// not quote, the aggregator is down.
const probeLamports = 100_000_000 // 0.1 SOL

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	wallet := flag.String("wallet", "", "Optional wallet address to fetch history for")
	flag.Parse()

	godotenv.Load()
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	failures := 0
	check := func(name string, fn func() error) {
		start := time.Now()
		if err := fn(); err != nil {
			failures++
			log.Error().Err(err).Str("check", name).Dur("took", time.Since(start)).Msg("FAIL")
			return
		}
		log.Info().Str("check", name).Dur("took", time.Since(start)).Msg("OK")
	}

	rpc := solana.NewLiveClient(solana.RPCConfig{
		Endpoint:     cfg.Solana.RPCEndpoint,
		Timeout:      cfg.Solana.Timeout,
		MaxRetries:   1,
		RateLimitRPS: cfg.Solana.RateLimitRPS,
	})
	defer rpc.Close()
	check("solana-rpc", func() error { return rpc.Health(ctx) })

	quotes := quote.NewClient(quote.ClientConfig{})
	check("quote-aggregator", func() error {
		q, err := quotes.GetQuote(ctx, quote.Request{
			InputMint:   solana.SOLMint,
			OutputMint:  solana.USDCMint,
			AmountRaw:   decimal.NewFromInt(probeLamports),
			SlippageBps: cfg.Trading.SlippageBps,
		})
		if err != nil {
			return err
		}
		log.Info().Str("out_usdc_raw", q.OutAmountRaw.String()).Msg("probe quote")
		return nil
	})

	if cfg.History.APIKey == "" {
		log.Warn().Msg("history api key not set, skipping history check")
	} else {
		probe := *wallet
		if probe == "" {
			log.Warn().Msg("no -wallet given, history check verifies auth only")
			probe = "11111111111111111111111111111111"
		}
		hist := history.NewClient(history.ClientConfig{
			BaseURL:  cfg.History.BaseURL,
			APIKey:   cfg.History.APIKey,
			Timeout:  cfg.History.Timeout,
			PageSize: 5,
		})
		check("history-api", func() error {
			txs, err := hist.List(ctx, probe, time.Now().Add(-24*time.Hour))
			if err != nil {
				return err
			}
			log.Info().Int("transactions", len(txs)).Str("wallet", probe).Msg("history fetch")
			return nil
		})
	}

	if cfg.Solana.PrivateKey == "" {
		log.Warn().Msg("private key not set, skipping signer and balance checks")
	} else {
		var signer *solana.Signer
		check("signer", func() error {
			signer, err = solana.NewSigner(cfg.Solana.PrivateKey)
			return err
		})
		if signer != nil {
			check("wallet-balance", func() error {
				bal, err := rpc.WalletBalance(ctx, signer.PublicKey())
				if err != nil {
					return err
				}
				log.Info().
					Str("wallet", string(signer.PublicKey())).
					Str("sol", bal.SOL.String()).
					Int("tokens", len(bal.Tokens)).
					Msg("balance")
				return nil
			})
		}
	}

	if cfg.Store.Enabled {
		check("postgres", func() error {
			pg, err := store.NewPostgres(ctx, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer pg.Close()
			return pg.Ping(ctx)
		})
	} else {
		log.Info().Msg("store disabled, skipping postgres check")
	}

	if failures > 0 {
		log.Error().Int("failures", failures).Msg("diagnostics FAILED")
		os.Exit(1)
	}
	log.Info().Msg("all diagnostics passed")
}
