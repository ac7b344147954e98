package venue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookscope/bookscope/pkg/types"
)

type readResult struct {
	data []byte
	err  error
}

// fakeSocket feeds the read loop from a channel and records writes.
type fakeSocket struct {
	readC chan readResult

	mu     sync.Mutex
	writes []interface{}
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{readC: make(chan readResult, 16)}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	r, ok := <-s.readC
	if !ok {
		return 0, nil, errors.New("socket closed")
	}
	return 1, r.data, r.err
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, v)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.readC)
	}
	return nil
}

func (s *fakeSocket) failRead(err error) {
	s.readC <- readResult{err: err}
}

func (s *fakeSocket) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testConfig(dial DialFunc) ConnConfig {
	return ConnConfig{
		Venue: types.VenueOKX,
		URL:   "wss://example.test/ws",
		Parse: func(raw []byte) *types.IncrementalUpdate {
			var upd types.IncrementalUpdate
			if err := json.Unmarshal(raw, &upd); err != nil {
				return nil
			}
			return &upd
		},
		SubscribeMsg:   func(symbol string) interface{} { return map[string]string{"op": "sub", "symbol": symbol} },
		UnsubscribeMsg: func(symbol string) interface{} { return map[string]string{"op": "unsub", "symbol": symbol} },
		ReconnectMin:   time.Millisecond,
		Dial:           dial,
	}
}

func waitForEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestReconnectDelaySchedule(t *testing.T) {
	events := make(chan Event, 16)
	cfg := testConfig(nil)
	cfg.ReconnectMin = time.Second
	c := NewConn(cfg, events)

	expected := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for i, want := range expected {
		assert.Equal(t, want, c.reconnectDelay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, defaultMaxReconnects, c.cfg.MaxReconnects)
}

func TestConnectSuccess(t *testing.T) {
	events := make(chan Event, 16)
	sock := newFakeSocket()
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		return sock, nil
	}), events)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, types.ConnStateConnected, c.State())

	ev := waitForEvent(t, events, EventConnection)
	assert.True(t, ev.Connected)

	c.Disconnect()
}

func TestConnectFailure(t *testing.T) {
	events := make(chan Event, 16)
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		return nil, errors.New("refused")
	}), events)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ConnStateDisconnected, c.State())

	ev := waitForEvent(t, events, EventError)
	assert.Contains(t, ev.Err, "connect failed")
}

func TestUpdateDelivery(t *testing.T) {
	events := make(chan Event, 16)
	sock := newFakeSocket()
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		return sock, nil
	}), events)

	require.NoError(t, c.Connect(context.Background()))
	waitForEvent(t, events, EventConnection)

	sock.readC <- readResult{data: []byte(`{"is_incremental":true}`)}
	ev := waitForEvent(t, events, EventUpdate)
	require.NotNil(t, ev.Update)
	assert.True(t, ev.Update.IsIncremental)

	// Unparseable frames are dropped, not surfaced.
	sock.readC <- readResult{data: []byte(`{invalid`)}
	sock.readC <- readResult{data: []byte(`{"is_incremental":false}`)}
	ev = waitForEvent(t, events, EventUpdate)
	assert.False(t, ev.Update.IsIncremental)

	c.Disconnect()
}

func TestGiveUpAfterMaxReconnects(t *testing.T) {
	events := make(chan Event, 64)
	sock := newFakeSocket()

	var mu sync.Mutex
	dials := 0
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return sock, nil
		}
		return nil, errors.New("refused")
	}), events)

	require.NoError(t, c.Connect(context.Background()))
	waitForEvent(t, events, EventConnection)

	sock.failRead(errors.New("connection reset"))

	ev := waitForEvent(t, events, EventConnection)
	assert.False(t, ev.Connected)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventError && ev.Err == "reconnect attempts exhausted" {
				mu.Lock()
				assert.Equal(t, 1+defaultMaxReconnects, dials)
				mu.Unlock()
				assert.Equal(t, types.ConnStateDisconnected, c.State())
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for give-up")
		}
	}
}

func TestResubscribeAfterReconnect(t *testing.T) {
	events := make(chan Event, 64)
	first := newFakeSocket()
	second := newFakeSocket()

	var mu sync.Mutex
	dials := 0
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}), events)

	require.NoError(t, c.Connect(context.Background()))
	waitForEvent(t, events, EventConnection)

	c.Subscribe("BTC-USDT")
	assert.Equal(t, 1, first.writeCount())

	first.failRead(errors.New("connection reset"))

	// Reconnect succeeds and replays the subscription on the new socket.
	ev := waitForEvent(t, events, EventConnection)
	assert.False(t, ev.Connected)
	ev = waitForEvent(t, events, EventConnection)
	assert.True(t, ev.Connected)

	require.Eventually(t, func() bool {
		return second.writeCount() == 1
	}, time.Second, 5*time.Millisecond)

	c.Disconnect()
}

func TestDisconnectStopsReconnectLoop(t *testing.T) {
	events := make(chan Event, 64)
	sock := newFakeSocket()

	var mu sync.Mutex
	dials := 0
	cfg := testConfig(func(ctx context.Context, url string) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return sock, nil
		}
		return nil, errors.New("refused")
	})
	cfg.ReconnectMin = 50 * time.Millisecond
	c := NewConn(cfg, events)

	require.NoError(t, c.Connect(context.Background()))
	waitForEvent(t, events, EventConnection)

	sock.failRead(errors.New("connection reset"))
	waitForEvent(t, events, EventConnection) // disconnected

	c.Disconnect()
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials, "no reconnect dial after Disconnect")
	assert.Equal(t, types.ConnStateDisconnected, c.State())
}

func TestManualConnectCancelsPendingReconnect(t *testing.T) {
	events := make(chan Event, 64)
	first := newFakeSocket()
	second := newFakeSocket()

	var mu sync.Mutex
	dials := 0
	cfg := testConfig(func(ctx context.Context, url string) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})
	cfg.ReconnectMin = 100 * time.Millisecond
	c := NewConn(cfg, events)

	require.NoError(t, c.Connect(context.Background()))
	waitForEvent(t, events, EventConnection)

	// Drop the socket, then connect manually before the 100ms retry fires.
	first.failRead(errors.New("connection reset"))
	ev := waitForEvent(t, events, EventConnection)
	assert.False(t, ev.Connected)

	require.NoError(t, c.Connect(context.Background()))
	ev = waitForEvent(t, events, EventConnection)
	assert.True(t, ev.Connected)

	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, dials, "pending auto-reconnect must not dial over the manual connect")
	mu.Unlock()
	assert.Equal(t, types.ConnStateConnected, c.State())
	assert.False(t, second.isClosed())

	c.Disconnect()
}

func TestDisconnectDuringReconnectDialDiscardsSocket(t *testing.T) {
	events := make(chan Event, 64)
	first := newFakeSocket()
	second := newFakeSocket()
	dialStarted := make(chan struct{})
	releaseDial := make(chan struct{})

	var mu sync.Mutex
	dials := 0
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		if n == 1 {
			return first, nil
		}
		close(dialStarted)
		<-releaseDial
		return second, nil
	}), events)

	require.NoError(t, c.Connect(context.Background()))
	waitForEvent(t, events, EventConnection)

	first.failRead(errors.New("connection reset"))
	<-dialStarted

	// The reconnect dial is in flight; Disconnect must win.
	c.Disconnect()
	close(releaseDial)

	require.Eventually(t, second.isClosed, time.Second, 5*time.Millisecond,
		"socket dialed after Disconnect must be discarded")
	assert.Equal(t, types.ConnStateDisconnected, c.State())
}

func TestReconnectDelayHonorsConfiguredCap(t *testing.T) {
	events := make(chan Event, 16)
	cfg := testConfig(nil)
	cfg.ReconnectMin = time.Second
	cfg.MaxReconnects = 7
	c := NewConn(cfg, events)

	assert.Equal(t, 32*time.Second, c.reconnectDelay(6))
	assert.Equal(t, 64*time.Second, c.reconnectDelay(7))
}

func TestSubscribeIsNoOpWhileDisconnected(t *testing.T) {
	events := make(chan Event, 16)
	c := NewConn(testConfig(func(ctx context.Context, url string) (Socket, error) {
		return nil, errors.New("refused")
	}), events)

	c.Subscribe("BTC-USDT")
	c.Unsubscribe("BTC-USDT")
	assert.Equal(t, types.ConnStateDisconnected, c.State())
}
