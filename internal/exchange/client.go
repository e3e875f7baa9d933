package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mreyes/tradereflect/pkg/cache"
	"github.com/mreyes/tradereflect/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Binance error codes that mean the credentials are bad rather than the
// request being transiently unlucky.
const (
	codeBadAPIKeyFormat = -2014
	codeRejectedAPIKey  = -2015
	codeBadSignature    = -1022
)

// maxTradesPerSymbol is Binance's per-request cap on /fapi/v1/userTrades.
const maxTradesPerSymbol = 1000

// fallbackSymbols is queried when symbol discovery fails transiently; the
// common pairs catch most retail accounts until discovery recovers.
var fallbackSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}

// Client fetches executed fills from the Binance USDT-M futures API.
//
// Fills are reported per symbol, so the client first derives the account's
// symbols from its open positions, then queries each symbol's trades inside
// the requested window. The symbol list is cached per account.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	symbolCache cache.Cache
	symbolTTL   time.Duration
	logger      *zap.Logger
}

// ClientConfig holds configuration for the Binance client.
type ClientConfig struct {
	BaseURL        string
	Timeout        time.Duration
	SymbolCache    cache.Cache // may be nil, disables caching
	SymbolCacheTTL time.Duration
	Logger         *zap.Logger
}

// NewClient creates a new Binance futures client.
func NewClient(cfg *ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		symbolCache: cfg.SymbolCache,
		symbolTTL:   cfg.SymbolCacheTTL,
		logger:      cfg.Logger,
	}
}

// userTrade is one row of /fapi/v1/userTrades.
type userTrade struct {
	ID     json.Number `json:"id"`
	Symbol string      `json:"symbol"`
	Side   string      `json:"side"`
	Price  string      `json:"price"`
	Qty    string      `json:"qty"`
	Time   int64       `json:"time"`
}

type accountPosition struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
}

type accountInfo struct {
	Positions []accountPosition `json:"positions"`
}

type exchangeSymbol struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

type exchangeInfo struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FetchFills returns the account's fills executed inside [start, end).
// A window with no fills is an empty slice, not an error. Individual
// malformed trade records are skipped and logged.
func (c *Client) FetchFills(ctx context.Context, account types.Account, start, end time.Time) ([]types.Fill, error) {
	symbols, err := c.accountSymbols(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("discover symbols: %w", err)
	}

	var fills []types.Fill
	for _, symbol := range symbols {
		trades, err := c.fetchSymbolTrades(ctx, account, symbol, start, end)
		if err != nil {
			var authErr *types.AuthError
			if errors.As(err, &authErr) {
				return nil, err
			}
			// One symbol failing must not lose the rest of the window.
			c.logger.Warn("symbol-trades-fetch-failed",
				zap.String("account-id", account.ID),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}

		for i := range trades {
			fill, ok := c.mapTrade(account.ID, &trades[i])
			if !ok {
				continue
			}
			fills = append(fills, fill)
		}
	}

	sort.Slice(fills, func(i, j int) bool {
		return fills[i].ExecutedAt < fills[j].ExecutedAt
	})

	c.logger.Debug("fills-fetched",
		zap.String("account-id", account.ID),
		zap.Int("symbols", len(symbols)),
		zap.Int("fills", len(fills)))

	return fills, nil
}

// mapTrade converts an exchange trade row into a Fill. Returns false and
// logs when the record is malformed.
func (c *Client) mapTrade(accountID string, trade *userTrade) (types.Fill, bool) {
	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		MalformedTradesTotal.Inc()
		c.logger.Warn("malformed-trade-skipped",
			zap.String("account-id", accountID),
			zap.String("trade-id", trade.ID.String()),
			zap.String("field", "price"),
			zap.String("value", trade.Price))
		return types.Fill{}, false
	}

	qty, err := decimal.NewFromString(trade.Qty)
	if err != nil {
		MalformedTradesTotal.Inc()
		c.logger.Warn("malformed-trade-skipped",
			zap.String("account-id", accountID),
			zap.String("trade-id", trade.ID.String()),
			zap.String("field", "qty"),
			zap.String("value", trade.Qty))
		return types.Fill{}, false
	}

	side := types.Side(trade.Side)
	if !side.Valid() {
		MalformedTradesTotal.Inc()
		c.logger.Warn("malformed-trade-skipped",
			zap.String("account-id", accountID),
			zap.String("trade-id", trade.ID.String()),
			zap.String("field", "side"),
			zap.String("value", trade.Side))
		return types.Fill{}, false
	}

	return types.Fill{
		AccountID:  accountID,
		TradeID:    trade.ID.String(),
		Symbol:     trade.Symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		ExecutedAt: trade.Time,
	}, true
}

func (c *Client) fetchSymbolTrades(ctx context.Context, account types.Account, symbol string, start, end time.Time) ([]userTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(maxTradesPerSymbol))

	body, err := c.signedGet(ctx, account, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}

	var trades []userTrade
	err = json.Unmarshal(body, &trades)
	if err != nil {
		return nil, &types.TransientError{Op: "user-trades", Message: "unmarshal response", Err: err}
	}

	return trades, nil
}

// accountSymbols returns the symbols worth querying for the account: open
// position symbols first, then the exchange's active symbols, then a static
// fallback. Results are cached per account.
func (c *Client) accountSymbols(ctx context.Context, account types.Account) ([]string, error) {
	cacheKey := "symbols:" + account.ID
	if c.symbolCache != nil {
		if cached, found := c.symbolCache.Get(cacheKey); found {
			if symbols, ok := cached.([]string); ok {
				return symbols, nil
			}
		}
	}

	symbols, err := c.positionSymbols(ctx, account)
	if err != nil {
		var authErr *types.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		c.logger.Warn("symbol-discovery-failed-using-fallback",
			zap.String("account-id", account.ID),
			zap.Error(err))
		SymbolFallbacksTotal.Inc()
		return fallbackSymbols, nil
	}

	if len(symbols) == 0 {
		symbols, err = c.activeExchangeSymbols(ctx, account)
		if err != nil {
			var authErr *types.AuthError
			if errors.As(err, &authErr) {
				return nil, err
			}
			c.logger.Warn("exchange-info-failed-using-fallback",
				zap.String("account-id", account.ID),
				zap.Error(err))
			SymbolFallbacksTotal.Inc()
			return fallbackSymbols, nil
		}
	}

	// Discovery can succeed and still resolve nothing: no open positions
	// and an empty or fully filtered exchange info. Caching that would
	// leave the account polling no symbols for the TTL.
	if len(symbols) == 0 {
		c.logger.Warn("symbol-discovery-resolved-empty-using-fallback",
			zap.String("account-id", account.ID))
		SymbolFallbacksTotal.Inc()
		symbols = fallbackSymbols
	}

	if c.symbolCache != nil {
		c.symbolCache.Set(cacheKey, symbols, c.symbolTTL)
	}

	return symbols, nil
}

// positionSymbols returns the symbols of the account's nonzero positions.
func (c *Client) positionSymbols(ctx context.Context, account types.Account) ([]string, error) {
	body, err := c.signedGet(ctx, account, "/fapi/v2/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var info accountInfo
	err = json.Unmarshal(body, &info)
	if err != nil {
		return nil, &types.TransientError{Op: "account", Message: "unmarshal response", Err: err}
	}

	var symbols []string
	for _, pos := range info.Positions {
		amt, err := strconv.ParseFloat(pos.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		symbols = append(symbols, pos.Symbol)
	}

	return symbols, nil
}

// activeExchangeSymbols returns the first 20 TRADING symbols as candidates
// for accounts with no open positions.
func (c *Client) activeExchangeSymbols(ctx context.Context, account types.Account) ([]string, error) {
	body, err := c.signedGet(ctx, account, "/fapi/v1/exchangeInfo", url.Values{})
	if err != nil {
		return nil, err
	}

	var info exchangeInfo
	err = json.Unmarshal(body, &info)
	if err != nil {
		return nil, &types.TransientError{Op: "exchange-info", Message: "unmarshal response", Err: err}
	}

	var symbols []string
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == 20 {
			break
		}
	}

	return symbols, nil
}

// signedGet performs a signed GET request against the futures API and maps
// failures into the auth/transient taxonomy.
func (c *Client) signedGet(ctx context.Context, account types.Account, path string, params url.Values) ([]byte, error) {
	start := time.Now()
	defer func() {
		RequestDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	// The signature covers the query string without the signature itself.
	signature := sign(params.Encode(), account.APISecret)
	params.Set("signature", signature)

	requestURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &types.TransientError{Op: path, Message: "create request", Err: err}
	}
	req.Header.Set("X-MBX-APIKEY", account.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		RequestErrorsTotal.Inc()
		return nil, &types.TransientError{Op: path, Message: "do request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		RequestErrorsTotal.Inc()
		return nil, &types.TransientError{Op: path, Message: "read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		RequestErrorsTotal.Inc()
		return nil, c.mapAPIError(account.ID, path, resp.StatusCode, body)
	}

	return body, nil
}

// mapAPIError classifies a non-200 response as auth or transient.
func (c *Client) mapAPIError(accountID, path string, status int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	if status == http.StatusUnauthorized || status == http.StatusForbidden ||
		apiErr.Code == codeBadAPIKeyFormat || apiErr.Code == codeRejectedAPIKey || apiErr.Code == codeBadSignature {
		AuthErrorsTotal.Inc()
		return &types.AuthError{
			AccountID: accountID,
			Code:      apiErr.Code,
			Message:   apiErr.Msg,
		}
	}

	return &types.TransientError{
		Op:      path,
		Message: fmt.Sprintf("status %d: %s", status, apiErr.Msg),
	}
}

// sign computes the HMAC-SHA256 signature Binance expects over the query
// string.
func sign(queryString, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}
