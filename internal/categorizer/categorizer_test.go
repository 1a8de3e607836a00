package categorizer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowsnest-trading/crowsnest/internal/ledger"
)

type fakeProvider struct {
	meta  Metadata
	err   error
	calls atomic.Int64
}

func (f *fakeProvider) TokenMetadata(context.Context, string) (Metadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Metadata{}, f.err
	}
	return f.meta, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
		want ledger.Category
	}{
		{"ai name", Metadata{Name: "Neural Trader", Symbol: "NRL"}, ledger.CategoryAI},
		{"ai symbol", Metadata{Symbol: "GPTCOIN"}, ledger.CategoryAI},
		{"meme name", Metadata{Name: "Doge Killer", Symbol: "DK"}, ledger.CategoryMeme},
		{"meme description", Metadata{Symbol: "X", Description: "the next pepe"}, ledger.CategoryMeme},
		{"both families", Metadata{Name: "AI Doge", Symbol: "AIDOGE"}, ledger.CategoryHybrid},
		{"neither", Metadata{Name: "Plain Token", Symbol: "PLN"}, ledger.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := Classify(tt.meta)
			assert.Equal(t, tt.want, got)
			if tt.want == ledger.CategoryUnknown {
				assert.Zero(t, conf)
			} else {
				assert.Greater(t, conf, 0.5)
				assert.LessOrEqual(t, conf, 0.95)
			}
		})
	}
}

func TestConfidence_GrowsWithHits(t *testing.T) {
	_, one := Classify(Metadata{Symbol: "GPT"})
	_, many := Classify(Metadata{Name: "Neural AI Agent", Symbol: "BRAIN"})
	assert.Greater(t, many, one)
}

func TestCategorize_UsesProvider(t *testing.T) {
	provider := &fakeProvider{meta: Metadata{Name: "Moon Cat", Symbol: "MCAT"}}
	c := New(DefaultConfig(), provider)

	cat, conf, err := c.Categorize(context.Background(), "Mint1", "MCAT")
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryMeme, cat)
	assert.Greater(t, conf, 0.5)
}

func TestCategorize_CachesMetadata(t *testing.T) {
	provider := &fakeProvider{meta: Metadata{Symbol: "GPT"}}
	c := New(Config{CacheTTL: time.Minute}, provider)

	for i := 0; i < 3; i++ {
		_, _, err := c.Categorize(context.Background(), "Mint1", "GPT")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Equal(t, 1, c.CacheSize())
}

func TestCategorize_ProviderFailureDegradesToSymbol(t *testing.T) {
	provider := &fakeProvider{err: errors.New("api down")}
	c := New(DefaultConfig(), provider)

	cat, _, err := c.Categorize(context.Background(), "Mint1", "PEPE2")
	require.NoError(t, err, "metadata failure must not fail classification")
	assert.Equal(t, ledger.CategoryMeme, cat)
}

func TestCategorize_NilProvider(t *testing.T) {
	c := New(DefaultConfig(), nil)

	cat, _, err := c.Categorize(context.Background(), "Mint1", "AGENTX")
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryAI, cat)
}
