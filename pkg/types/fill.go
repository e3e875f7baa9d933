package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Fill is one executed trade reported by the exchange.
//
// ID is a surrogate ordinal assigned by the fill store on insert; it is 0
// until the fill has been persisted. (AccountID, TradeID) is unique: a fill
// is ingested at most once no matter how many overlapping poll windows
// observe it.
type Fill struct {
	ID         int64           `json:"id"`
	AccountID  string          `json:"account_id"`
	TradeID    string          `json:"trade_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExecutedAt int64           `json:"executed_at"` // epoch milliseconds
	IngestedAt time.Time       `json:"ingested_at"`
}

// ExecutedTime returns the execution timestamp as a time.Time.
func (f *Fill) ExecutedTime() time.Time {
	return time.UnixMilli(f.ExecutedAt)
}
