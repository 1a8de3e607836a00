package categorizer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowsnest-trading/crowsnest/internal/ledger"
)

// Metadata is the descriptive information used for classification.
type Metadata struct {
	Name        string
	Symbol      string
	Description string
}

// MetadataProvider fetches token metadata by mint address.
type MetadataProvider interface {
	TokenMetadata(ctx context.Context, mint string) (Metadata, error)
}

var aiKeywords = []string{
	"ai", "gpt", "agent", "neural", "llm", "intelligen", "brain",
	"mind", "cortex", "synth", "bot", "machine", "deep", "sentient",
}

var memeKeywords = []string{
	"doge", "pepe", "inu", "shib", "cat", "wif", "moon", "pump",
	"wojak", "chad", "frog", "bonk", "elon", "baby", "floki", "meme",
}

// Config tunes the Categorizer.
type Config struct {
	CacheTTL time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{CacheTTL: time.Hour}
}

type cacheEntry struct {
	meta    Metadata
	expires time.Time
}

// Categorizer classifies tokens by keyword signals in their metadata.
// Implements ledger.Categorizer. Metadata lookups are cached per mint.
type Categorizer struct {
	cfg      Config
	provider MetadataProvider

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a Categorizer. provider may be nil; classification then uses
// only the symbol seen on chain.
func New(cfg Config, provider MetadataProvider) *Categorizer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Categorizer{
		cfg:      cfg,
		provider: provider,
		cache:    make(map[string]cacheEntry),
	}
}

// Categorize implements ledger.Categorizer. A metadata fetch failure is not
// an error: classification degrades to the on-chain symbol alone.
func (c *Categorizer) Categorize(ctx context.Context, mint, symbol string) (ledger.Category, float64, error) {
	meta := Metadata{Symbol: symbol}
	if c.provider != nil {
		fetched, err := c.metadata(ctx, mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", mint).Msg("categorizer: metadata unavailable, using symbol only")
		} else {
			meta = fetched
			if meta.Symbol == "" {
				meta.Symbol = symbol
			}
		}
	}

	category, confidence := Classify(meta)
	return category, confidence, nil
}

// metadata returns cached metadata or fetches and caches it.
func (c *Categorizer) metadata(ctx context.Context, mint string) (Metadata, error) {
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.cache[mint]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.meta, nil
	}

	meta, err := c.provider.TokenMetadata(ctx, mint)
	if err != nil {
		return Metadata{}, err
	}

	c.mu.Lock()
	c.cache[mint] = cacheEntry{meta: meta, expires: now.Add(c.cfg.CacheTTL)}
	c.mu.Unlock()
	return meta, nil
}

// CacheSize returns the number of cached entries.
func (c *Categorizer) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Classify maps metadata to a category and confidence. Tokens matching both
// keyword families are HYBRID; tokens matching neither are UNKNOWN.
func Classify(meta Metadata) (ledger.Category, float64) {
	text := strings.ToLower(meta.Name + " " + meta.Symbol + " " + meta.Description)

	aiHits := countHits(text, aiKeywords)
	memeHits := countHits(text, memeKeywords)

	switch {
	case aiHits > 0 && memeHits > 0:
		return ledger.CategoryHybrid, confidence(aiHits + memeHits)
	case aiHits > 0:
		return ledger.CategoryAI, confidence(aiHits)
	case memeHits > 0:
		return ledger.CategoryMeme, confidence(memeHits)
	default:
		return ledger.CategoryUnknown, 0
	}
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}

// confidence grows with keyword hits and saturates below certainty.
func confidence(hits int) float64 {
	c := 0.5 + 0.1*float64(hits)
	if c > 0.95 {
		c = 0.95
	}
	return c
}
