package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
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

// Client is the OKX venue adapter. OKX delivers price levels as arrays of
// string tuples and uses BTC-USDT style instrument ids.
type Client struct {
	cfg        config.VenueConfig
	httpClient *http.Client
	conn       *venue.Conn
	cache      *cache.MemoryCache
	log        *logrus.Entry
}

type restResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		Ts   string     `json:"ts"`
	} `json:"data"`
}

type wsMessage struct {
	Data []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		Ts   string     `json:"ts"`
	} `json:"data"`
}

type subscriptionArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscriptionMessage struct {
	Op   string            `json:"op"`
	Args []subscriptionArg `json:"args"`
}

// New creates the OKX adapter. Events are delivered on the supplied channel.
func New(cfg config.VenueConfig, events chan<- venue.Event) *Client {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache.NewMemoryCache(),
		log:   logrus.WithField("venue", types.VenueOKX),
	}
	c.conn = venue.NewConn(venue.ConnConfig{
		Venue: types.VenueOKX,
		URL:   cfg.WSURL,
		Parse: c.parseMessage,
		SubscribeMsg: func(symbol string) interface{} {
			return subscriptionMessage{
				Op:   "subscribe",
				Args: []subscriptionArg{{Channel: "books", InstID: formatSymbol(symbol)}},
			}
		},
		UnsubscribeMsg: func(symbol string) interface{} {
			return subscriptionMessage{
				Op:   "unsubscribe",
				Args: []subscriptionArg{{Channel: "books", InstID: formatSymbol(symbol)}},
			}
		},
	}, events)
	return c
}

func (c *Client) Venue() types.VenueType { return types.VenueOKX }

// FetchOrderBook retrieves a snapshot from /market/books and normalizes it.
// Snapshots are cached briefly to avoid hammering the endpoint.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (*types.OrderBookData, error) {
	cacheKey := fmt.Sprintf("orderbook:%s", symbol)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*types.OrderBookData), nil
	}

	endpoint := fmt.Sprintf("%s/market/books?instId=%s&sz=20", c.cfg.BaseURL, formatSymbol(symbol))
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
	if parsed.Code != "" && parsed.Code != "0" {
		return nil, fmt.Errorf("API error %s: %s", parsed.Code, parsed.Msg)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("empty order book response for %s", symbol)
	}

	raw := parsed.Data[0]
	ob := book.New(symbol, parseLevels(raw.Asks), parseLevels(raw.Bids), parseTimestamp(raw.Ts))
	c.cache.Set(cacheKey, ob, snapshotTTL)
	return ob, nil
}

// Connect opens the public streaming socket.
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

// parseMessage recognizes book push frames. Anything else (subscription
// acks, heartbeats, malformed payloads) is dropped by returning nil.
func (c *Client) parseMessage(raw []byte) *types.IncrementalUpdate {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debugf("unparseable frame: %v", err)
		return nil
	}
	if len(msg.Data) == 0 {
		return nil
	}

	data := msg.Data[0]
	return &types.IncrementalUpdate{
		AskUpdates:    parseLevels(data.Asks),
		BidUpdates:    parseLevels(data.Bids),
		LastUpdate:    parseTimestamp(data.Ts),
		IsIncremental: true,
	}
}

// formatSymbol is the identity: OKX already uses the BTC-USDT format.
func formatSymbol(symbol string) string { return symbol }

// parseLevels converts OKX string tuples. Zero quantities are kept: they
// are tombstones for the merge engine.
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

func parseTimestamp(ts string) time.Time {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
