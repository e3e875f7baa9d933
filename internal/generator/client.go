package generator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// Client calls the review generator service to turn a fill (and optionally
// the trader's own thought) into reflection text.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientConfig holds configuration for the generator client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewClient creates a new generator client.
func NewClient(cfg *ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: cfg.Logger,
	}
}

type reviewRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	UserThought string  `json:"user_thought"`
}

type reviewResponse struct {
	Review string `json:"review"`
}

// Generate returns reflection text for the fill. userThought is nil on the
// auto path. Every failure is a *types.GenerationError so the scheduler can
// apply its retry budget uniformly.
func (c *Client) Generate(ctx context.Context, fill *types.Fill, userThought *string) (string, error) {
	reqBody := reviewRequest{
		Symbol:   fill.Symbol,
		Side:     string(fill.Side),
		Price:    fill.Price.InexactFloat64(),
		Quantity: fill.Quantity.InexactFloat64(),
	}
	if userThought != nil {
		reqBody.UserThought = *userThought
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &types.GenerationError{FillID: fill.ID, Message: "marshal request", Err: err}
	}

	start := time.Now()
	defer func() {
		GenerationDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/review", bytes.NewReader(payload))
	if err != nil {
		return "", &types.GenerationError{FillID: fill.ID, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		GenerationErrorsTotal.Inc()
		return "", &types.GenerationError{FillID: fill.ID, Message: "do request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		GenerationErrorsTotal.Inc()
		return "", &types.GenerationError{FillID: fill.ID, Message: "read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		GenerationErrorsTotal.Inc()
		return "", &types.GenerationError{
			FillID:  fill.ID,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var reviewResp reviewResponse
	err = json.Unmarshal(body, &reviewResp)
	if err != nil {
		GenerationErrorsTotal.Inc()
		return "", &types.GenerationError{FillID: fill.ID, Message: "unmarshal response", Err: err}
	}

	if reviewResp.Review == "" {
		GenerationErrorsTotal.Inc()
		return "", &types.GenerationError{FillID: fill.ID, Message: "empty review in response"}
	}

	c.logger.Debug("review-generated",
		zap.Int64("fill-id", fill.ID),
		zap.String("symbol", fill.Symbol),
		zap.Bool("has-user-thought", userThought != nil))

	return reviewResp.Review, nil
}
