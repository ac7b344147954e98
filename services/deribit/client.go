package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bookscope/bookscope/internal/book"
	"github.com/bookscope/bookscope/internal/config"
	"github.com/bookscope/bookscope/internal/venue"
	"github.com/bookscope/bookscope/pkg/cache"
	"github.com/bookscope/bookscope/pkg/types"
)

const snapshotTTL = 2 * time.Second

// Client is the Deribit venue adapter. Deribit is JSON-RPC flavored, sends
// price levels as numeric tuples, and only lists the BTC-PERPETUAL
// instrument here. Its public streaming endpoint is not wired up, so
// Connect fails immediately and the coordinator falls back to REST
// snapshots.
type Client struct {
	cfg        config.VenueConfig
	httpClient *http.Client
	conn       *venue.Conn
	cache      *cache.MemoryCache
	log        *logrus.Entry
}

type restResponse struct {
	Result *bookPayload `json:"result"`
}

type bookPayload struct {
	Asks      [][]float64 `json:"asks"`
	Bids      [][]float64 `json:"bids"`
	Timestamp int64       `json:"timestamp"`
}

type wsMessage struct {
	Method string `json:"method"`
	Params *struct {
		Channel string       `json:"channel"`
		Data    *bookPayload `json:"data"`
	} `json:"params"`
}

type subscriptionMessage struct {
	Method string `json:"method"`
	Params struct {
		Channels []string `json:"channels"`
	} `json:"params"`
}

func newSubscriptionMessage(method, symbol string) subscriptionMessage {
	msg := subscriptionMessage{Method: method}
	msg.Params.Channels = []string{fmt.Sprintf("book.%s.20.100ms", formatSymbol(symbol))}
	return msg
}

// New creates the Deribit adapter. Events are delivered on the supplied
// channel.
func New(cfg config.VenueConfig, events chan<- venue.Event) *Client {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache.NewMemoryCache(),
		log:   logrus.WithField("venue", types.VenueDeribit),
	}
	c.conn = venue.NewConn(venue.ConnConfig{
		Venue: types.VenueDeribit,
		URL:   cfg.WSURL,
		Parse: c.parseMessage,
		SubscribeMsg: func(symbol string) interface{} {
			return newSubscriptionMessage("public/subscribe", symbol)
		},
		UnsubscribeMsg: func(symbol string) interface{} {
			return newSubscriptionMessage("public/unsubscribe", symbol)
		},
	}, events)
	return c
}

func (c *Client) Venue() types.VenueType { return types.VenueDeribit }

// FetchOrderBook retrieves a snapshot from /get_order_book.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (*types.OrderBookData, error) {
	cacheKey := fmt.Sprintf("orderbook:%s", symbol)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*types.OrderBookData), nil
	}

	endpoint := fmt.Sprintf("%s/get_order_book?instrument_name=%s&depth=20",
		c.cfg.BaseURL, formatSymbol(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed restResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Result == nil {
		return nil, fmt.Errorf("empty order book response for %s", symbol)
	}

	ob := book.New(symbol,
		parseLevels(parsed.Result.Asks),
		parseLevels(parsed.Result.Bids),
		parseTimestamp(parsed.Result.Timestamp))
	c.cache.Set(cacheKey, ob, snapshotTTL)
	return ob, nil
}

// Connect always fails: the venue is REST-only in this deployment.
func (c *Client) Connect(ctx context.Context) error {
	if !c.cfg.SupportsStreaming {
		return types.ErrStreamingUnsupported
	}
	return c.conn.Connect(ctx)
}

func (c *Client) Disconnect() { c.conn.Disconnect() }
func (c *Client) Subscribe(symbol string) { c.conn.Subscribe(symbol) }
func (c *Client) Unsubscribe(symbol string) { c.conn.Unsubscribe(symbol) }
func (c *Client) IsConnected() bool { return c.conn.IsConnected() }

// parseMessage recognizes book subscription notifications.
func (c *Client) parseMessage(raw []byte) *types.IncrementalUpdate {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debugf("unparseable frame: %v", err)
		return nil
	}
	if msg.Method != "subscription" || msg.Params == nil || msg.Params.Data == nil {
		return nil
	}
	if !strings.Contains(msg.Params.Channel, "book") {
		return nil
	}

	return &types.IncrementalUpdate{
		AskUpdates:    parseLevels(msg.Params.Data.Asks),
		BidUpdates:    parseLevels(msg.Params.Data.Bids),
		LastUpdate:    parseTimestamp(msg.Params.Data.Timestamp),
		IsIncremental: true,
	}
}

// formatSymbol pins the only instrument traded here.
func formatSymbol(string) string { return "BTC-PERPETUAL" }

func parseLevels(entries [][]float64) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			continue
		}
		levels = append(levels, types.NewPriceLevel(
			decimal.NewFromFloat(entry[0]),
			decimal.NewFromFloat(entry[1])))
	}
	return levels
}

func parseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
