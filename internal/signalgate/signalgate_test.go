package signalgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/ledger"
)

func signal(category string) bus.TradingSignal {
	return bus.TradingSignal{
		BaseEvent:    bus.NewBaseEvent("test"),
		TokenAddress: "Mint1",
		Symbol:       "PUMP",
		Category:     category,
		Score:        450,
		Confidence:   0.8,
	}
}

func TestEvaluate(t *testing.T) {
	g := New(DefaultConfig())

	tests := []struct {
		name     string
		category string
		wantSOL  string
	}{
		{"ai", string(ledger.CategoryAI), "0.05"},
		{"meme", string(ledger.CategoryMeme), "0.025"},
		{"hybrid", string(ledger.CategoryHybrid), "0.05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := g.Evaluate(signal(tt.category))
			require.NotNil(t, params)
			assert.Equal(t, tt.wantSOL, params.SpendSOL.String())
			assert.Equal(t, "Mint1", params.TokenAddress)
			assert.Equal(t, 100, params.SlippageBps)
			assert.Equal(t, uint64(1_000_000), params.PriorityFee)
		})
	}
}

func TestEvaluate_BelowThresholdNotTraded(t *testing.T) {
	g := New(DefaultConfig())

	sig := signal(string(ledger.CategoryAI))
	sig.Score = 1
	assert.Nil(t, g.Evaluate(sig), "score far below the AI bar")

	sig.Score = 198
	assert.Nil(t, g.Evaluate(sig), "score just below the AI bar")

	sig.Score = 199
	assert.NotNil(t, g.Evaluate(sig), "score at the AI bar trades")

	// Meme runs a higher bar than AI.
	meme := signal(string(ledger.CategoryMeme))
	meme.Score = 250
	assert.Nil(t, g.Evaluate(meme))
}

func TestEvaluate_UnknownCategoryNotTraded(t *testing.T) {
	g := New(DefaultConfig())
	assert.Nil(t, g.Evaluate(signal(string(ledger.CategoryUnknown))))
}

func TestEvaluate_InvalidCategory(t *testing.T) {
	g := New(DefaultConfig())
	assert.Nil(t, g.Evaluate(signal("GARBAGE")))
	assert.Nil(t, g.Evaluate(signal("")))
}

func TestEvaluate_ZeroSizeDisablesCategory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sizes[ledger.CategoryMeme] = 0
	g := New(cfg)
	assert.Nil(t, g.Evaluate(signal(string(ledger.CategoryMeme))))
}
