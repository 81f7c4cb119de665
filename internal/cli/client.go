package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketsim/internal/market"
)

// Client is a thin typed wrapper around the HTTP API for the marketctl tool.
type Client struct {
	BaseURL string
	ActorID string
	HTTP    *http.Client
}

func NewClient(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		ActorID: actorID,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ListInstruments(ctx context.Context) ([]market.Quote, error) {
	var out struct {
		Instruments []market.Quote `json:"instruments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/instruments", nil, &out, "")
	return out.Instruments, err
}

func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var out market.Quote
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/instruments/"+url.PathEscape(symbol), nil, &out, "")
	return out, err
}

func (c *Client) History(ctx context.Context, symbol, window string) ([]market.PricePoint, error) {
	path := "/v1/instruments/" + url.PathEscape(symbol) + "/history"
	if window != "" {
		path += "?window=" + url.QueryEscape(window)
	}
	var out struct {
		Points []market.PricePoint `json:"points"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out.Points, err
}

func (c *Client) Metrics(ctx context.Context, symbol string) (market.Metrics, error) {
	var out struct {
		Metrics market.Metrics `json:"metrics"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/instruments/"+url.PathEscape(symbol)+"/metrics", nil, &out, "")
	return out.Metrics, err
}

func (c *Client) Correlation(ctx context.Context, a, b string) (float64, error) {
	var out struct {
		Correlation float64 `json:"correlation"`
	}
	path := fmt.Sprintf("/v1/correlation?a=%s&b=%s", url.QueryEscape(a), url.QueryEscape(b))
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out.Correlation, err
}

func (c *Client) CreateInstrument(ctx context.Context, symbol, name, category string, rating, initialPrice float64) (market.Instrument, error) {
	var out market.Instrument
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/instruments", map[string]any{
		"symbol":                symbol,
		"display_name":          name,
		"category":              category,
		"volatility_rating":     rating,
		"initial_price_credits": initialPrice,
	}, &out, "")
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, req market.OrderRequest, idem string) (market.TradeResult, error) {
	body := map[string]any{
		"symbol":         req.Symbol,
		"side":           req.Side,
		"quantity_units": req.QuantityUnits,
		"order_type":     req.Type,
	}
	if req.LimitPriceMicros != nil {
		body["limit_price_micros"] = *req.LimitPriceMicros
	}
	if req.StopPriceMicros != nil {
		body["stop_price_micros"] = *req.StopPriceMicros
	}
	var out market.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders", body, &out, idem)
	return out, err
}

func (c *Client) Wallet(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/wallet", nil, &out, "")
	return out, err
}

func (c *Client) Position(ctx context.Context, symbol string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/positions/"+url.PathEscape(symbol), nil, &out, "")
	return out, err
}

func (c *Client) ListHalts(ctx context.Context) ([]market.Halt, error) {
	var out struct {
		Halts []market.Halt `json:"halts"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/halts", nil, &out, "")
	return out.Halts, err
}

func (c *Client) TriggerTick(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/admin/tick", map[string]any{}, nil, "")
}

func (c *Client) InjectInfluence(ctx context.Context, factor string, valueDelta, intensityDelta float64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/influence", map[string]any{
		"factor":          factor,
		"value_delta":     valueDelta,
		"intensity_delta": intensityDelta,
	}, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-ID", c.ActorID)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// 422 carries a structured rejection the caller wants to render.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnprocessableEntity {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
