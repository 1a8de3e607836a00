package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Crow's Nest.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Monitor MonitorConfig `yaml:"monitor"`
	Scoring ScoringConfig `yaml:"scoring"`
	Trading TradingConfig `yaml:"trading"`
	Solana  SolanaConfig  `yaml:"solana"`
	History HistoryConfig `yaml:"history"`
	Store   StoreConfig   `yaml:"store"`
	Push    PushConfig    `yaml:"push"`
	Health  HealthConfig  `yaml:"health"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	DryRun   bool   `yaml:"dry_run"`
	LogLevel string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|console
}

// MonitorConfig drives the wallet tier scheduler and transaction fetcher.
type MonitorConfig struct {
	RosterPath string `yaml:"roster_path"` // CSV of wallet,score

	BatchSize       int           `yaml:"batch_size"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
	MinCallSpacing  time.Duration `yaml:"min_call_spacing"`
	LookbackWindow  time.Duration `yaml:"lookback_window"`
	FetchRetries    int           `yaml:"fetch_retries"`
	FetchRetryDelay time.Duration `yaml:"fetch_retry_delay"`

	// Tier thresholds: elapsed time since last activity.
	VeryActiveWithin time.Duration `yaml:"very_active_within"`
	ActiveWithin     time.Duration `yaml:"active_within"`
	WatchingWithin   time.Duration `yaml:"watching_within"`
	AsleepWithin     time.Duration `yaml:"asleep_within"`

	// Polling interval per tier.
	VeryActiveInterval time.Duration `yaml:"very_active_interval"`
	ActiveInterval     time.Duration `yaml:"active_interval"`
	WatchingInterval   time.Duration `yaml:"watching_interval"`
	AsleepInterval     time.Duration `yaml:"asleep_interval"`
	DormantInterval    time.Duration `yaml:"dormant_interval"`

	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// Minimum settlement-asset (SOL) size for a swap to count.
	MinSettlementSOL float64 `yaml:"min_settlement_sol"`
}

// ScoringConfig holds per-category thresholds and the token GC window.
type ScoringConfig struct {
	AIThreshold      float64       `yaml:"ai_threshold"`
	MemeThreshold    float64       `yaml:"meme_threshold"`
	HybridThreshold  float64       `yaml:"hybrid_threshold"`
	UnknownThreshold float64       `yaml:"unknown_threshold"`
	TokenMaxAge      time.Duration `yaml:"token_max_age"`
}

// ProfitLevel is one rung of the take-profit ladder.
type ProfitLevel struct {
	Increase    float64 `yaml:"increase"`     // 0.6 = +60% over entry
	SellPortion float64 `yaml:"sell_portion"` // 0.25 = sell 25% of remaining
}

type TradingConfig struct {
	// Position size in SOL per category.
	AISize     float64 `yaml:"ai_size"`
	MemeSize   float64 `yaml:"meme_size"`
	HybridSize float64 `yaml:"hybrid_size"`

	MaxPositions     int `yaml:"max_positions"`
	MaxAIPositions   int `yaml:"max_ai_positions"`
	MaxMemePositions int `yaml:"max_meme_positions"`

	ProfitLevels []ProfitLevel `yaml:"profit_levels"`

	SlippageBps       int           `yaml:"slippage_bps"`
	PriorityFee       uint64        `yaml:"priority_fee_lamports"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	TakeProfitRetries int           `yaml:"take_profit_retries"`
	TakeProfitDelay   time.Duration `yaml:"take_profit_delay"`
	ConfirmAttempts   int           `yaml:"confirm_attempts"`
	ConfirmPollDelay  time.Duration `yaml:"confirm_poll_delay"`
	RepriceInterval   time.Duration `yaml:"reprice_interval"`
	PriceCacheTTL     time.Duration `yaml:"price_cache_ttl"`
}

type SolanaConfig struct {
	RPCEndpoint  string        `yaml:"rpc_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	PrivateKey   string        `yaml:"private_key"` // base58, usually ${SOL_PRIVATE_KEY}
}

type HistoryConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"` // usually ${BIRDEYE_API_KEY}
	Timeout time.Duration `yaml:"timeout"`
	Limit   int           `yaml:"limit"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"` // usually ${POSTGRES_DSN}
}

type PushConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type HealthConfig struct {
	Addr          string        `yaml:"addr"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with every default applied, no file needed.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "crowsnest-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	m := &cfg.Monitor
	if m.BatchSize == 0 {
		m.BatchSize = 10
	}
	if m.BatchDelay == 0 {
		m.BatchDelay = time.Second
	}
	if m.MinCallSpacing == 0 {
		m.MinCallSpacing = 100 * time.Millisecond
	}
	if m.LookbackWindow == 0 {
		m.LookbackWindow = 15 * time.Minute
	}
	if m.FetchRetries == 0 {
		m.FetchRetries = 3
	}
	if m.FetchRetryDelay == 0 {
		m.FetchRetryDelay = 2 * time.Second
	}
	if m.VeryActiveWithin == 0 {
		m.VeryActiveWithin = 15 * time.Minute
	}
	if m.ActiveWithin == 0 {
		m.ActiveWithin = time.Hour
	}
	if m.WatchingWithin == 0 {
		m.WatchingWithin = 4 * time.Hour
	}
	if m.AsleepWithin == 0 {
		m.AsleepWithin = 5 * 24 * time.Hour
	}
	if m.VeryActiveInterval == 0 {
		m.VeryActiveInterval = 15 * time.Minute
	}
	if m.ActiveInterval == 0 {
		m.ActiveInterval = 30 * time.Minute
	}
	if m.WatchingInterval == 0 {
		m.WatchingInterval = time.Hour
	}
	if m.AsleepInterval == 0 {
		m.AsleepInterval = 4 * time.Hour
	}
	if m.DormantInterval == 0 {
		m.DormantInterval = 24 * time.Hour
	}
	if m.MaintenanceInterval == 0 {
		m.MaintenanceInterval = time.Hour
	}
	if m.MinSettlementSOL == 0 {
		m.MinSettlementSOL = 0.1
	}

	s := &cfg.Scoring
	if s.AIThreshold == 0 {
		s.AIThreshold = 199
	}
	if s.MemeThreshold == 0 {
		s.MemeThreshold = 399
	}
	if s.HybridThreshold == 0 {
		s.HybridThreshold = 199
	}
	if s.UnknownThreshold == 0 {
		s.UnknownThreshold = 399
	}
	if s.TokenMaxAge == 0 {
		s.TokenMaxAge = 24 * time.Hour
	}

	t := &cfg.Trading
	if t.AISize == 0 {
		t.AISize = 0.05
	}
	if t.MemeSize == 0 {
		t.MemeSize = 0.025
	}
	if t.HybridSize == 0 {
		t.HybridSize = 0.05
	}
	if t.MaxPositions == 0 {
		t.MaxPositions = 10
	}
	if t.MaxAIPositions == 0 {
		t.MaxAIPositions = 8
	}
	if t.MaxMemePositions == 0 {
		t.MaxMemePositions = 2
	}
	if len(t.ProfitLevels) == 0 {
		t.ProfitLevels = []ProfitLevel{
			{Increase: 0.6, SellPortion: 0.25},
			{Increase: 1.2, SellPortion: 0.25},
			{Increase: 1.8, SellPortion: 0.25},
			{Increase: 2.4, SellPortion: 0.25},
		}
	}
	if t.SlippageBps == 0 {
		t.SlippageBps = 100
	}
	if t.PriorityFee == 0 {
		t.PriorityFee = 1_000_000
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	if t.RetryDelay == 0 {
		t.RetryDelay = time.Second
	}
	if t.TakeProfitRetries == 0 {
		t.TakeProfitRetries = 10
	}
	if t.TakeProfitDelay == 0 {
		t.TakeProfitDelay = 30 * time.Second
	}
	if t.ConfirmAttempts == 0 {
		t.ConfirmAttempts = 30
	}
	if t.ConfirmPollDelay == 0 {
		t.ConfirmPollDelay = time.Second
	}
	if t.RepriceInterval == 0 {
		t.RepriceInterval = time.Minute
	}
	if t.PriceCacheTTL == 0 {
		t.PriceCacheTTL = time.Minute
	}

	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.Timeout == 0 {
		cfg.Solana.Timeout = 10 * time.Second
	}
	if cfg.Solana.MaxRetries == 0 {
		cfg.Solana.MaxRetries = 3
	}
	if cfg.Solana.RateLimitRPS == 0 {
		cfg.Solana.RateLimitRPS = 10
	}

	if cfg.History.BaseURL == "" {
		cfg.History.BaseURL = "https://public-api.birdeye.so"
	}
	if cfg.History.Timeout == 0 {
		cfg.History.Timeout = 10 * time.Second
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = 100
	}

	if cfg.Push.Addr == "" {
		cfg.Push.Addr = ":8422"
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":8423"
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 30 * time.Second
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	m := c.Monitor
	if !(m.VeryActiveWithin < m.ActiveWithin && m.ActiveWithin < m.WatchingWithin && m.WatchingWithin < m.AsleepWithin) {
		return fmt.Errorf("config: tier thresholds must be strictly increasing")
	}
	if m.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1")
	}
	for i, lvl := range c.Trading.ProfitLevels {
		if lvl.Increase <= 0 {
			return fmt.Errorf("config: profit_levels[%d].increase must be > 0", i)
		}
		if lvl.SellPortion <= 0 || lvl.SellPortion > 1 {
			return fmt.Errorf("config: profit_levels[%d].sell_portion must be in (0, 1]", i)
		}
		if i > 0 && lvl.Increase <= c.Trading.ProfitLevels[i-1].Increase {
			return fmt.Errorf("config: profit_levels must be ordered by increase")
		}
	}
	if c.Trading.MaxPositions < c.Trading.MaxAIPositions || c.Trading.MaxPositions < c.Trading.MaxMemePositions {
		return fmt.Errorf("config: per-category position caps cannot exceed the global cap")
	}
	if c.Store.Enabled && c.Store.DSN == "" {
		return fmt.Errorf("config: store enabled but dsn is empty")
	}
	return nil
}
