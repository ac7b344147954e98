package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookscope/bookscope/internal/config"
	"github.com/bookscope/bookscope/internal/venue"
	"github.com/bookscope/bookscope/pkg/types"
)

func newTestClient(baseURL string) *Client {
	events := make(chan venue.Event, 16)
	return New(config.VenueConfig{
		ID:                types.VenueOKX,
		BaseURL:           baseURL,
		WSURL:             "wss://example.test/ws",
		DefaultSymbol:     "BTC-USDT",
		SupportsStreaming: true,
	}, events)
}

func bookResponse(asks, bids [][]string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"code": "0",
		"msg":  "",
		"data": []map[string]interface{}{{
			"asks": asks,
			"bids": bids,
			"ts":   "1700000000000",
		}},
	})
	return string(body)
}

func TestFetchOrderBookNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/books", r.URL.Path)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		assert.Equal(t, "20", r.URL.Query().Get("sz"))
		fmt.Fprint(w, bookResponse(
			[][]string{{"101", "2"}, {"100", "1"}}, // out of order on purpose
			[][]string{{"98", "2"}, {"99", "1"}},
		))
	}))
	defer srv.Close()

	ob, err := newTestClient(srv.URL).FetchOrderBook(context.Background(), "BTC-USDT")
	require.NoError(t, err)

	require.Len(t, ob.Asks, 2)
	assert.True(t, ob.Asks[0].Price.Equal(decimal.NewFromInt(100)), "asks sorted ascending")
	assert.True(t, ob.Bids[0].Price.Equal(decimal.NewFromInt(99)), "bids sorted descending")
	assert.True(t, ob.Spread.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(1700000000000), ob.LastUpdate.UnixMilli())
}

func TestFetchOrderBookTruncatesDepth(t *testing.T) {
	asks := make([][]string, 20)
	bids := make([][]string, 20)
	for i := 0; i < 20; i++ {
		asks[i] = []string{fmt.Sprintf("%d", 100+i), "1"}
		bids[i] = []string{fmt.Sprintf("%d", 99-i), "1"}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bookResponse(asks, bids))
	}))
	defer srv.Close()

	ob, err := newTestClient(srv.URL).FetchOrderBook(context.Background(), "BTC-USDT")
	require.NoError(t, err)

	assert.Len(t, ob.Asks, types.MaxDepth)
	assert.Len(t, ob.Bids, types.MaxDepth)
}

func TestFetchOrderBookCachesSnapshot(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, bookResponse([][]string{{"100", "1"}}, [][]string{{"99", "1"}}))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	first, err := client.FetchOrderBook(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	second, err := client.FetchOrderBook(context.Background(), "BTC-USDT")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchOrderBookAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchOrderBook(context.Background(), "NOPE-USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "51001")
}

func TestFetchOrderBookHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchOrderBook(context.Background(), "BTC-USDT")
	require.Error(t, err)

	var statusErr *types.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
}

func TestParseMessageBookFrame(t *testing.T) {
	client := newTestClient("http://example.test")

	upd := client.parseMessage([]byte(`{
		"arg": {"channel": "books", "instId": "BTC-USDT"},
		"data": [{"asks": [["100", "0"]], "bids": [["99", "2"]], "ts": "1700000000000"}]
	}`))
	require.NotNil(t, upd)
	assert.True(t, upd.IsIncremental)
	require.Len(t, upd.AskUpdates, 1)
	assert.True(t, upd.AskUpdates[0].Quantity.IsZero(), "zero quantities pass through as tombstones")
	require.Len(t, upd.BidUpdates, 1)
}

func TestParseMessageIgnoresNoise(t *testing.T) {
	client := newTestClient("http://example.test")

	assert.Nil(t, client.parseMessage([]byte(`{"event":"subscribe","arg":{"channel":"books"}}`)))
	assert.Nil(t, client.parseMessage([]byte(`{invalid`)))
	assert.Nil(t, client.parseMessage([]byte(`{"data":[]}`)))
}

func TestFormatSymbolIsIdentity(t *testing.T) {
	assert.Equal(t, "BTC-USDT", formatSymbol("BTC-USDT"))
	assert.Equal(t, "ETH-USDT", formatSymbol("ETH-USDT"))
}

func TestParseLevelsSkipsMalformedEntries(t *testing.T) {
	levels := parseLevels([][]string{
		{"100", "1"},
		{"oops", "1"},
		{"100"},
		{"101", "bad"},
	})
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Price.Equal(decimal.NewFromInt(100)))
}
