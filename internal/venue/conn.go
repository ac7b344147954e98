package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/bookscope/bookscope/pkg/types"
)

const defaultMaxReconnects = 5

// Socket is the subset of *websocket.Conn the state machine needs.
// Injectable so tests can drive the machine without a live endpoint.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc opens a socket to the given URL.
type DialFunc func(ctx context.Context, url string) (Socket, error)

func gorillaDial(ctx context.Context, url string) (Socket, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// ConnConfig wires one venue's streaming dialect into the shared state
// machine.
type ConnConfig struct {
	Venue types.VenueType
	URL   string

	// Parse converts a raw frame into a canonical update. Returning nil
	// drops the frame (protocol noise, malformed payloads).
	Parse func(raw []byte) *types.IncrementalUpdate

	// SubscribeMsg and UnsubscribeMsg build the venue's control frames for
	// one symbol's book channel.
	SubscribeMsg   func(symbol string) interface{}
	UnsubscribeMsg func(symbol string) interface{}

	// ReconnectMin is the first retry delay; each following retry doubles
	// it. Defaults to one second.
	ReconnectMin time.Duration
	// MaxReconnects caps consecutive failed retries before giving up.
	// Defaults to 5.
	MaxReconnects int

	Dial DialFunc
}

// Conn owns one venue's streaming socket: connection lifecycle, the read
// loop, subscription replay, and the reconnect/backoff policy
// (disconnected -> connecting -> connected -> reconnecting -> ...).
type Conn struct {
	cfg    ConnConfig
	events chan<- Event
	log    *logrus.Entry
	bo     *backoff.Backoff

	mu       sync.Mutex
	ws       Socket
	state    types.ConnectionState
	subs     map[string]struct{}
	attempts int
	gen      int
	stopC    chan struct{}
}

// NewConn creates the state machine for one venue socket. Events are
// delivered on the supplied channel in arrival order.
func NewConn(cfg ConnConfig, events chan<- Event) *Conn {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if cfg.Dial == nil {
		cfg.Dial = gorillaDial
	}

	return &Conn{
		cfg:    cfg,
		events: events,
		log:    logrus.WithField("venue", cfg.Venue),
		bo: &backoff.Backoff{
			Min:    cfg.ReconnectMin,
			Max:    cfg.ReconnectMin << (cfg.MaxReconnects - 1),
			Factor: 2,
			Jitter: false,
		},
		state: types.ConnStateDisconnected,
		subs:  make(map[string]struct{}),
		stopC: make(chan struct{}),
	}
}

// Connect dials the streaming endpoint. A successful connect resets the
// retry counter and replays every recorded subscription. Calling Connect
// while an automatic reconnect is pending cancels that reconnect; the
// manual dial supersedes it.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.ConnStateConnected || c.state == types.ConnStateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.state == types.ConnStateReconnecting {
		close(c.stopC)
	}
	c.state = types.ConnStateConnecting
	c.attempts = 0
	c.stopC = make(chan struct{})
	stopC := c.stopC
	c.mu.Unlock()

	ws, err := c.cfg.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.mu.Lock()
		if c.stopC == stopC {
			c.state = types.ConnStateDisconnected
		}
		c.mu.Unlock()
		c.emit(Event{Venue: c.cfg.Venue, Kind: EventError, Err: fmt.Sprintf("connect failed: %v", err)})
		return fmt.Errorf("%s: connect: %w", c.cfg.Venue, err)
	}

	c.establish(ws, stopC)
	return nil
}

// establish installs a freshly dialed socket and starts its read loop.
// stopC is the stop channel current when the dial began: if Disconnect or a
// newer Connect replaced it while the dial was in flight, the socket is
// discarded instead of installed.
func (c *Conn) establish(ws Socket, stopC chan struct{}) bool {
	c.mu.Lock()
	if c.stopC != stopC {
		c.mu.Unlock()
		ws.Close()
		return false
	}
	c.ws = ws
	c.state = types.ConnStateConnected
	c.attempts = 0
	c.bo.Reset()
	c.gen++
	gen := c.gen
	resubs := make([]string, 0, len(c.subs))
	for symbol := range c.subs {
		resubs = append(resubs, symbol)
	}
	c.mu.Unlock()

	c.emit(Event{Venue: c.cfg.Venue, Kind: EventConnection, Connected: true})

	for _, symbol := range resubs {
		if err := ws.WriteJSON(c.cfg.SubscribeMsg(symbol)); err != nil {
			c.log.Warnf("resubscribe %s failed: %v", symbol, err)
		}
	}

	go c.readLoop(ws, gen)
	return true
}

func (c *Conn) readLoop(ws Socket, gen int) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}

		update := c.cfg.Parse(raw)
		if update == nil {
			// Expected protocol noise: acks, heartbeats, junk frames.
			c.log.Debug("dropped unrecognized frame")
			continue
		}
		c.emit(Event{Venue: c.cfg.Venue, Kind: EventUpdate, Update: update})
	}
}

// handleClosed reacts to a socket error or close. Stale generations (a
// manual Disconnect already replaced the socket) are ignored.
func (c *Conn) handleClosed(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state == types.ConnStateDisconnected {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = types.ConnStateReconnecting
	stopC := c.stopC
	c.mu.Unlock()

	c.log.Warnf("socket closed: %v", err)
	c.emit(Event{Venue: c.cfg.Venue, Kind: EventConnection, Connected: false})

	go c.reconnectLoop(stopC)
}

// reconnectLoop retries with exponential backoff: 1s, 2s, 4s, 8s, 16s.
// After MaxReconnects consecutive failures the venue stays disconnected
// until Connect is called again.
func (c *Conn) reconnectLoop(stopC chan struct{}) {
	for {
		c.mu.Lock()
		if c.stopC != stopC {
			// A manual Connect or Disconnect superseded this loop.
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if attempt > c.cfg.MaxReconnects {
			c.mu.Lock()
			if c.stopC != stopC {
				c.mu.Unlock()
				return
			}
			c.state = types.ConnStateDisconnected
			c.mu.Unlock()
			c.emit(Event{Venue: c.cfg.Venue, Kind: EventError, Err: "reconnect attempts exhausted"})
			return
		}

		timer := time.NewTimer(c.reconnectDelay(attempt))
		select {
		case <-timer.C:
		case <-stopC:
			timer.Stop()
			return
		}

		ws, err := c.cfg.Dial(context.Background(), c.cfg.URL)
		if err != nil {
			c.log.Warnf("reconnect attempt %d failed: %v", attempt, err)
			c.emit(Event{Venue: c.cfg.Venue, Kind: EventError, Err: fmt.Sprintf("reconnect failed: %v", err)})
			continue
		}

		c.establish(ws, stopC)
		return
	}
}

// reconnectDelay returns the wait before the given attempt (1-based).
func (c *Conn) reconnectDelay(attempt int) time.Duration {
	return c.bo.ForAttempt(float64(attempt - 1))
}

// Subscribe sends the venue's subscription frame for one symbol and records
// it for replay after a reconnect. No-op while disconnected.
func (c *Conn) Subscribe(symbol string) {
	c.mu.Lock()
	ws := c.ws
	if c.state != types.ConnStateConnected || ws == nil {
		c.mu.Unlock()
		return
	}
	c.subs[symbol] = struct{}{}
	c.mu.Unlock()

	if err := ws.WriteJSON(c.cfg.SubscribeMsg(symbol)); err != nil {
		c.log.Warnf("subscribe %s failed: %v", symbol, err)
	}
}

// Unsubscribe cancels one symbol's book channel. No-op while disconnected.
func (c *Conn) Unsubscribe(symbol string) {
	c.mu.Lock()
	ws := c.ws
	if c.state != types.ConnStateConnected || ws == nil {
		c.mu.Unlock()
		return
	}
	delete(c.subs, symbol)
	c.mu.Unlock()

	if err := ws.WriteJSON(c.cfg.UnsubscribeMsg(symbol)); err != nil {
		c.log.Warnf("unsubscribe %s failed: %v", symbol, err)
	}
}

// Disconnect closes the socket, clears subscriptions and cancels any
// scheduled reconnect. Other venues are unaffected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	close(c.stopC)
	c.stopC = make(chan struct{})
	c.gen++
	ws := c.ws
	c.ws = nil
	c.state = types.ConnStateDisconnected
	c.subs = make(map[string]struct{})
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// State returns the current connection state.
func (c *Conn) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is live.
func (c *Conn) IsConnected() bool {
	return c.State() == types.ConnStateConnected
}

func (c *Conn) emit(ev Event) {
	c.events <- ev
}
