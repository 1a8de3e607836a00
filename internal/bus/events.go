package bus

import (
	"time"

	"github.com/google/uuid"
)

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"ts"`
	Producer  string    `json:"producer"`
}

// NewBaseEvent creates a new BaseEvent with a generated ID.
func NewBaseEvent(producer string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Producer:  producer,
	}
}

// TradingSignal is emitted once when a token's score crosses its
// category threshold upward. Ephemeral: consumed within one pipeline pass.
type TradingSignal struct {
	BaseEvent
	TokenAddress string  `json:"token_address"`
	Symbol       string  `json:"symbol"`
	Category     string  `json:"category"`
	Decimals     int     `json:"decimals"`
	Score        float64 `json:"score"`
	Confidence   float64 `json:"confidence"`
}

// PositionUpdate is published after every position mutation.
type PositionUpdate struct {
	BaseEvent
	TokenAddress  string `json:"token_address"`
	Symbol        string `json:"symbol"`
	Category      string `json:"category"`
	EntryPrice    string `json:"entry_price"`
	CurrentPrice  string `json:"current_price"`
	Tokens        string `json:"tokens"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
	TotalPnL      string `json:"total_pnl"`
	Status        string `json:"status"`
	LevelsHit     []int  `json:"levels_hit"`
}

// TokenMetricsSnapshot carries every scored token with score > 0,
// published after each ledger mutation.
type TokenMetricsSnapshot struct {
	BaseEvent
	Tokens map[string]TokenMetricsEntry `json:"token_metrics"`
}

// TokenMetricsEntry is one token's metrics inside a snapshot.
type TokenMetricsEntry struct {
	Symbol        string        `json:"symbol"`
	Category      string        `json:"category"`
	Score         float64       `json:"score"`
	Confidence    float64       `json:"confidence"`
	BuyCount      int           `json:"buy_count"`
	SellCount     int           `json:"sell_count"`
	TotalVolume   float64       `json:"total_volume"`
	UniqueBuyers  int           `json:"unique_buyers"`
	LastUpdate    time.Time     `json:"last_update"`
	RecentChanges []ScoreChange `json:"recent_changes"`
}

// ScoreChange is one entry of a token's recent-changes ring.
type ScoreChange struct {
	Type   string    `json:"type"` // buy|sell
	Amount float64   `json:"amount"`
	Time   time.Time `json:"time"`
}

// Transaction is published for every classified swap.
type Transaction struct {
	BaseEvent
	Wallet      string `json:"wallet_address"`
	Signature   string `json:"signature"`
	TokenMint   string `json:"token_address"`
	TokenSymbol string `json:"symbol"`
	Side        string    `json:"side"` // buy|sell
	SolAmount   string    `json:"sol_amount"`
	TokenAmount string    `json:"token_amount"`
	BlockTime   time.Time `json:"block_time"`
}
