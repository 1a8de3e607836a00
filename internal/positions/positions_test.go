package positions

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowsnest-trading/crowsnest/internal/ledger"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testLadder() []LadderSpec {
	return []LadderSpec{
		{Increase: 0.6, SellPortion: 0.25},
		{Increase: 1.2, SellPortion: 0.25},
	}
}

func newTestBook() *Book {
	return NewBook(DefaultCaps(), testLadder())
}

func TestOpen_FixesLadderTargets(t *testing.T) {
	b := newTestBook()
	p, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)

	require.Len(t, p.Levels, 2)
	assert.True(t, p.Levels[0].Target.Equal(d("1.6")))
	assert.True(t, p.Levels[1].Target.Equal(d("2.2")))
	assert.Equal(t, StatusOpen, p.Status)
	assert.True(t, p.CurrentPrice.Equal(d("1.0")))
}

func TestOpen_RejectsDuplicateToken(t *testing.T) {
	b := newTestBook()
	_, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)
	_, err = b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestOpen_EnforcesCategoryCap(t *testing.T) {
	b := NewBook(Caps{Global: 10, PerCategory: map[ledger.Category]int{ledger.CategoryMeme: 2}}, testLadder())

	for i := 0; i < 2; i++ {
		_, err := b.Open(fmt.Sprintf("Meme%d", i), "M", ledger.CategoryMeme, 6, d("1"), d("10"), d("10"))
		require.NoError(t, err)
	}
	_, err := b.Open("Meme2", "M", ledger.CategoryMeme, 6, d("1"), d("10"), d("10"))
	assert.ErrorIs(t, err, ErrCategoryCap)

	// Other categories are unaffected.
	_, err = b.Open("AI0", "A", ledger.CategoryAI, 6, d("1"), d("10"), d("10"))
	assert.NoError(t, err)
}

func TestOpen_EnforcesGlobalCap(t *testing.T) {
	b := NewBook(Caps{Global: 3}, testLadder())
	for i := 0; i < 3; i++ {
		_, err := b.Open(fmt.Sprintf("T%d", i), "T", ledger.CategoryAI, 6, d("1"), d("10"), d("10"))
		require.NoError(t, err)
	}
	_, err := b.Open("T3", "T", ledger.CategoryAI, 6, d("1"), d("10"), d("10"))
	assert.ErrorIs(t, err, ErrGlobalCap)

	require.ErrorIs(t, b.CanOpen(ledger.CategoryAI), ErrGlobalCap)
}

func TestLadderScenario(t *testing.T) {
	// Entry 1.0, 100 tokens, ladder +60%/25% then +120%/25%, price 1.6.
	b := newTestBook()
	_, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)
	require.NoError(t, b.Reprice("Mint1", d("1.6")))

	tp, ok := b.NextTakeProfit("Mint1")
	require.True(t, ok)
	assert.Equal(t, 0, tp.Level)
	assert.True(t, tp.SellTokens.Equal(d("25")), "sell 25%% of 100: got %s", tp.SellTokens)

	// Fill at the mark: 25 tokens * 1.6 = 40 SOL proceeds.
	p, err := b.ApplySell("Mint1", tp.Level, tp.SellTokens, d("40"))
	require.NoError(t, err)

	assert.True(t, p.Tokens.Equal(d("75")), "tokens: %s", p.Tokens)
	assert.True(t, p.RealizedPnL.Equal(d("15")), "realized: %s", p.RealizedPnL)
	assert.True(t, p.UnrealizedPnL().Equal(d("45")), "unrealized: %s", p.UnrealizedPnL())
	assert.True(t, p.TotalPnL().Equal(d("60")), "total: %s", p.TotalPnL())
	assert.Equal(t, []int{0}, p.LevelsHit())
}

func TestNextTakeProfit_OneLevelPerCall(t *testing.T) {
	b := newTestBook()
	_, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)

	// Price gaps over both rungs at once.
	require.NoError(t, b.Reprice("Mint1", d("3.0")))

	tp, ok := b.NextTakeProfit("Mint1")
	require.True(t, ok)
	assert.Equal(t, 0, tp.Level, "lowest unhit rung first")

	_, err = b.ApplySell("Mint1", tp.Level, tp.SellTokens, d("75"))
	require.NoError(t, err)

	tp, ok = b.NextTakeProfit("Mint1")
	require.True(t, ok)
	assert.Equal(t, 1, tp.Level)
	// 25% of the 75 remaining.
	assert.True(t, tp.SellTokens.Equal(d("18.75")), "got %s", tp.SellTokens)
}

func TestNextTakeProfit_NoneWhenBelowTarget(t *testing.T) {
	b := newTestBook()
	_, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)
	require.NoError(t, b.Reprice("Mint1", d("1.59")))

	_, ok := b.NextTakeProfit("Mint1")
	assert.False(t, ok)
}

func TestDustAndClose(t *testing.T) {
	b := newTestBook()
	_, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)

	assert.False(t, b.IsDust("Mint1"))

	_, err = b.ApplySell("Mint1", 0, d("99.5"), d("160"))
	require.NoError(t, err)
	assert.True(t, b.IsDust("Mint1"))

	p, err := b.Close("Mint1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, p.Status)
	assert.False(t, p.ClosedAt.IsZero())

	// Closed positions free the slot and stay queryable.
	_, err = b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("2.0"), d("50"), d("100"))
	assert.NoError(t, err)
	got, ok := b.Get("Mint1")
	require.True(t, ok)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestRestore(t *testing.T) {
	b := newTestBook()
	p, err := b.Open("Mint1", "PUMP", ledger.CategoryMeme, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)

	fresh := newTestBook()
	require.NoError(t, fresh.Restore(p))
	got, ok := fresh.Get("Mint1")
	require.True(t, ok)
	assert.True(t, got.EntryPrice.Equal(d("1.0")))

	assert.ErrorIs(t, fresh.Restore(p), ErrDuplicate)

	p.Status = StatusClosed
	assert.Error(t, fresh.Restore(p))
}

func TestSummarize(t *testing.T) {
	b := newTestBook()
	_, err := b.Open("Mint1", "A", ledger.CategoryAI, 6, d("1.0"), d("100"), d("100"))
	require.NoError(t, err)
	_, err = b.Open("Mint2", "B", ledger.CategoryMeme, 6, d("2.0"), d("50"), d("100"))
	require.NoError(t, err)

	require.NoError(t, b.Reprice("Mint1", d("1.5")))

	s := b.Summarize()
	assert.Equal(t, 2, s.Open)
	assert.Equal(t, 1, s.ByCategory[ledger.CategoryAI])
	assert.Equal(t, 1, s.ByCategory[ledger.CategoryMeme])
	assert.True(t, s.UnrealizedPnL.Equal(d("50")), "unrealized: %s", s.UnrealizedPnL)
}
