package bybit

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

// Client is the Bybit venue adapter. Bybit wraps every REST payload in a
// retCode/result envelope, abbreviates book sides to "a"/"b", and wants
// symbols without the dash (BTCUSDT).
type Client struct {
	cfg        config.VenueConfig
	httpClient *http.Client
	conn       *venue.Conn
	cache      *cache.MemoryCache
	log        *logrus.Entry
}

type baseResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type bookPayload struct {
	Asks [][]string `json:"a"`
	Bids [][]string `json:"b"`
	Ts   int64      `json:"ts"`
}

type wsMessage struct {
	Topic string       `json:"topic"`
	Data  *bookPayload `json:"data"`
}

type subscriptionMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// New creates the Bybit adapter. Events are delivered on the supplied
// channel.
func New(cfg config.VenueConfig, events chan<- venue.Event) *Client {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache.NewMemoryCache(),
		log:   logrus.WithField("venue", types.VenueBybit),
	}
	c.conn = venue.NewConn(venue.ConnConfig{
		Venue: types.VenueBybit,
		URL:   cfg.WSURL,
		Parse: c.parseMessage,
		SubscribeMsg: func(symbol string) interface{} {
			return subscriptionMessage{
				Op:   "subscribe",
				Args: []string{"orderbook.20." + formatSymbol(symbol)},
			}
		},
		UnsubscribeMsg: func(symbol string) interface{} {
			return subscriptionMessage{
				Op:   "unsubscribe",
				Args: []string{"orderbook.20." + formatSymbol(symbol)},
			}
		},
	}, events)
	return c
}

func (c *Client) Venue() types.VenueType { return types.VenueBybit }

// FetchOrderBook retrieves a spot book snapshot from /market/orderbook.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (*types.OrderBookData, error) {
	cacheKey := fmt.Sprintf("orderbook:%s", symbol)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*types.OrderBookData), nil
	}

	endpoint := fmt.Sprintf("%s/market/orderbook?category=spot&symbol=%s&limit=20",
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

	var base baseResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if base.RetCode != 0 {
		return nil, fmt.Errorf("API error %d: %s", base.RetCode, base.RetMsg)
	}

	var payload bookPayload
	if err := json.Unmarshal(base.Result, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	ob := book.New(symbol, parseLevels(payload.Asks), parseLevels(payload.Bids), parseTimestamp(payload.Ts))
	c.cache.Set(cacheKey, ob, snapshotTTL)
	return ob, nil
}

// Connect opens the public spot streaming socket.
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

// parseMessage recognizes orderbook topic frames; everything else is
// dropped.
func (c *Client) parseMessage(raw []byte) *types.IncrementalUpdate {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debugf("unparseable frame: %v", err)
		return nil
	}
	if msg.Data == nil || !strings.Contains(msg.Topic, "orderbook") {
		return nil
	}

	return &types.IncrementalUpdate{
		AskUpdates:    parseLevels(msg.Data.Asks),
		BidUpdates:    parseLevels(msg.Data.Bids),
		LastUpdate:    parseTimestamp(msg.Data.Ts),
		IsIncremental: true,
	}
}

// formatSymbol converts the canonical BTC-USDT form to Bybit's BTCUSDT.
func formatSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "")
}

func parseLevels(entries [][]string) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			continue
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			continue
		}
		quantity, err := decimal.NewFromString(entry[1])
		if err != nil {
			continue
		}
		levels = append(levels, types.NewPriceLevel(price, quantity))
	}
	return levels
}

func parseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
