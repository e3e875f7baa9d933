package testutil

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mreyes/tradereflect/pkg/types"
)

// CreateTestAccount creates an account with plausible-looking credentials.
func CreateTestAccount(id string) types.Account {
	return types.Account{
		ID:        id,
		APIKey:    "key-" + id,
		APISecret: "secret-" + id,
	}
}

// CreateTestFill creates an unpersisted BTCUSDT buy fill.
func CreateTestFill(accountID, tradeID string) types.Fill {
	return types.Fill{
		AccountID:  accountID,
		TradeID:    tradeID,
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		Price:      decimal.NewFromInt(50000),
		Quantity:   decimal.RequireFromString("0.1"),
		ExecutedAt: 1700000000000,
	}
}

// CreateTestFills creates n fills for one account with distinct trade IDs.
func CreateTestFills(accountID string, n int) []types.Fill {
	fills := make([]types.Fill, 0, n)
	for i := 0; i < n; i++ {
		fill := CreateTestFill(accountID, "T"+strconv.Itoa(i+1))
		fill.ExecutedAt += int64(i) * 1000
		fills = append(fills, fill)
	}
	return fills
}
