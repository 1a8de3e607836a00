package positions

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/ledger"
)

// Status is a position's lifecycle state.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// dustThreshold: a position holding fewer than one token is uneconomical to
// sell and gets closed out.
var dustThreshold = decimal.NewFromInt(1)

var (
	ErrDuplicate       = errors.New("positions: token already has an open position")
	ErrGlobalCap       = errors.New("positions: global position cap reached")
	ErrCategoryCap     = errors.New("positions: category position cap reached")
	ErrNotFound        = errors.New("positions: no open position for token")
	ErrLevelOutOfRange = errors.New("positions: ladder level out of range")
)

// Level is one rung of a position's take-profit ladder, with its absolute
// price target fixed at open time.
type Level struct {
	Target      decimal.Decimal `json:"target"`       // entry * (1 + increase)
	SellPortion decimal.Decimal `json:"sell_portion"` // fraction of remaining tokens
	Hit         bool            `json:"hit"`
}

// LadderSpec is one configured rung, relative to entry.
type LadderSpec struct {
	Increase    float64
	SellPortion float64
}

// Position is one open or closed token position.
type Position struct {
	ID           string          `json:"id"`
	TokenAddress string          `json:"token_address"`
	Symbol       string          `json:"symbol"`
	Category     ledger.Category `json:"category"`
	Decimals     int             `json:"decimals"`

	EntryPrice    decimal.Decimal `json:"entry_price"` // SOL per token
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Tokens        decimal.Decimal `json:"tokens"` // remaining
	InitialTokens decimal.Decimal `json:"initial_tokens"`
	SpentSOL      decimal.Decimal `json:"spent_sol"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`

	Levels []Level `json:"levels"`
	Status Status  `json:"status"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// UnrealizedPnL values the remaining tokens at the current price.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.Status != StatusOpen {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Tokens)
}

// TotalPnL is realized plus unrealized.
func (p *Position) TotalPnL() decimal.Decimal {
	return p.RealizedPnL.Add(p.UnrealizedPnL())
}

// LevelsHit lists the indices of hit ladder rungs, ascending.
func (p *Position) LevelsHit() []int {
	var out []int
	for i, lvl := range p.Levels {
		if lvl.Hit {
			out = append(out, i)
		}
	}
	return out
}

// Caps bounds how many positions may be open at once.
type Caps struct {
	Global      int
	PerCategory map[ledger.Category]int
}

// DefaultCaps returns production limits. Categories absent from the map are
// bounded only by the global cap.
func DefaultCaps() Caps {
	return Caps{
		Global: 10,
		PerCategory: map[ledger.Category]int{
			ledger.CategoryAI:   8,
			ledger.CategoryMeme: 2,
		},
	}
}

// TakeProfit describes the next ladder rung that is due.
type TakeProfit struct {
	TokenAddress string
	Level        int
	Target       decimal.Decimal
	SellTokens   decimal.Decimal // portion of remaining tokens
}

// Summary is an aggregate view of the book.
type Summary struct {
	Open          int
	Closed        int
	ByCategory    map[ledger.Category]int
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalPnL      decimal.Decimal
}

// Book holds every position, keyed by token address. One open position per
// token. All mutations go through the Book so the caps and ladder invariants
// hold under concurrent access.
type Book struct {
	caps   Caps
	ladder []LadderSpec

	mu     sync.Mutex
	open   map[string]*Position
	closed []*Position
}

// NewBook creates an empty Book with the given caps and ladder template.
func NewBook(caps Caps, ladder []LadderSpec) *Book {
	return &Book{
		caps:   caps,
		ladder: ladder,
		open:   make(map[string]*Position),
	}
}

// Open creates a position. The ladder's absolute targets are fixed here from
// the entry price; later price moves never reshape them.
func (b *Book) Open(token, symbol string, category ledger.Category, decimals int, entryPrice, tokens, spentSOL decimal.Decimal) (Position, error) {
	if !entryPrice.IsPositive() || !tokens.IsPositive() {
		return Position{}, fmt.Errorf("positions: entry price and tokens must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.open[token]; exists {
		return Position{}, ErrDuplicate
	}
	if len(b.open) >= b.caps.Global {
		return Position{}, ErrGlobalCap
	}
	if limit, ok := b.caps.PerCategory[category]; ok && b.countLocked(category) >= limit {
		return Position{}, fmt.Errorf("%w: %s", ErrCategoryCap, category)
	}

	now := time.Now().UTC()
	p := &Position{
		ID:            uuid.New().String(),
		TokenAddress:  token,
		Symbol:        symbol,
		Category:      category,
		Decimals:      decimals,
		EntryPrice:    entryPrice,
		CurrentPrice:  entryPrice,
		Tokens:        tokens,
		InitialTokens: tokens,
		SpentSOL:      spentSOL,
		Status:        StatusOpen,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	for _, spec := range b.ladder {
		increase := decimal.NewFromFloat(spec.Increase)
		p.Levels = append(p.Levels, Level{
			Target:      entryPrice.Mul(decimal.NewFromInt(1).Add(increase)),
			SellPortion: decimal.NewFromFloat(spec.SellPortion),
		})
	}

	b.open[token] = p
	log.Info().
		Str("token", symbol).
		Str("category", string(category)).
		Str("entry", entryPrice.String()).
		Str("tokens", tokens.String()).
		Msg("positions: opened")
	return *p, nil
}

// CanOpen reports whether a new position in the category would pass the caps.
func (b *Book) CanOpen(category ledger.Category) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.open) >= b.caps.Global {
		return ErrGlobalCap
	}
	if limit, ok := b.caps.PerCategory[category]; ok && b.countLocked(category) >= limit {
		return fmt.Errorf("%w: %s", ErrCategoryCap, category)
	}
	return nil
}

func (b *Book) countLocked(category ledger.Category) int {
	n := 0
	for _, p := range b.open {
		if p.Category == category {
			n++
		}
	}
	return n
}

// Reprice updates a position's mark price.
func (b *Book) Reprice(token string, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[token]
	if !ok {
		return ErrNotFound
	}
	p.CurrentPrice = price
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// NextTakeProfit returns the first unhit ladder rung whose target the
// current price has reached. At most one rung per call; a price that gaps
// over several rungs takes them one reprice pass at a time.
func (b *Book) NextTakeProfit(token string) (TakeProfit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[token]
	if !ok {
		return TakeProfit{}, false
	}
	for i, lvl := range p.Levels {
		if lvl.Hit {
			continue
		}
		if p.CurrentPrice.LessThan(lvl.Target) {
			return TakeProfit{}, false
		}
		return TakeProfit{
			TokenAddress: token,
			Level:        i,
			Target:       lvl.Target,
			SellTokens:   p.Tokens.Mul(lvl.SellPortion),
		}, true
	}
	return TakeProfit{}, false
}

// ApplySell records a filled take-profit: marks the rung hit, removes the
// sold tokens, and realizes proceeds minus entry cost for those tokens.
func (b *Book) ApplySell(token string, level int, tokensSold, proceedsSOL decimal.Decimal) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[token]
	if !ok {
		return Position{}, ErrNotFound
	}
	if level < 0 || level >= len(p.Levels) {
		return Position{}, ErrLevelOutOfRange
	}

	p.Levels[level].Hit = true
	p.Tokens = p.Tokens.Sub(tokensSold)
	if p.Tokens.IsNegative() {
		p.Tokens = decimal.Zero
	}
	costBasis := tokensSold.Mul(p.EntryPrice)
	p.RealizedPnL = p.RealizedPnL.Add(proceedsSOL.Sub(costBasis))
	p.UpdatedAt = time.Now().UTC()

	log.Info().
		Str("token", p.Symbol).
		Int("level", level).
		Str("sold", tokensSold.String()).
		Str("proceeds", proceedsSOL.String()).
		Str("realized", p.RealizedPnL.String()).
		Msg("positions: take-profit filled")
	return *p, nil
}

// IsDust reports whether a position's remaining tokens are below the
// sellable threshold.
func (b *Book) IsDust(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[token]
	return ok && p.Tokens.LessThan(dustThreshold)
}

// Close finalizes a position and moves it out of the open set.
func (b *Book) Close(token string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[token]
	if !ok {
		return Position{}, ErrNotFound
	}
	delete(b.open, token)
	p.Status = StatusClosed
	p.ClosedAt = time.Now().UTC()
	p.UpdatedAt = p.ClosedAt
	b.closed = append(b.closed, p)

	log.Info().
		Str("token", p.Symbol).
		Str("realized", p.RealizedPnL.String()).
		Msg("positions: closed")
	return *p, nil
}

// Get returns a copy of a position, open or closed.
func (b *Book) Get(token string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.open[token]; ok {
		return *p, true
	}
	for _, p := range b.closed {
		if p.TokenAddress == token {
			return *p, true
		}
	}
	return Position{}, false
}

// OpenPositions returns copies of every open position, ordered by token.
func (b *Book) OpenPositions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.open))
	for _, p := range b.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenAddress < out[j].TokenAddress })
	return out
}

// Restore reinserts a previously saved open position, bypassing the caps.
// Used when loading the book from the store at startup.
func (b *Book) Restore(p Position) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("positions: cannot restore %s position", p.Status)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.open[p.TokenAddress]; exists {
		return ErrDuplicate
	}
	cp := p
	b.open[p.TokenAddress] = &cp
	return nil
}

// Summarize aggregates the whole book.
func (b *Book) Summarize() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		Open:       len(b.open),
		Closed:     len(b.closed),
		ByCategory: make(map[ledger.Category]int),
	}
	for _, p := range b.open {
		s.ByCategory[p.Category]++
		s.RealizedPnL = s.RealizedPnL.Add(p.RealizedPnL)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(p.UnrealizedPnL())
	}
	for _, p := range b.closed {
		s.RealizedPnL = s.RealizedPnL.Add(p.RealizedPnL)
	}
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	return s
}
