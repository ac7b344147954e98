package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bookscope/bookscope/internal/book"
	"github.com/bookscope/bookscope/internal/config"
	"github.com/bookscope/bookscope/internal/simulation"
	"github.com/bookscope/bookscope/internal/venue"
	"github.com/bookscope/bookscope/pkg/types"
)

const eventBuffer = 64

// Publisher receives every freshly merged canonical book. A nil Publisher
// disables fan-out.
type Publisher interface {
	PublishBook(venue types.VenueType, ob *types.OrderBookData)
}

// venueState is one venue's isolated state record. Each venue has its own
// lock and its own event loop goroutine, so venues never contend with each
// other; within a venue, events apply strictly in arrival order.
type venueState struct {
	mu        sync.RWMutex
	adapter   venue.Adapter
	book      *types.OrderBookData
	loading   bool
	lastError string
	connected bool

	events chan venue.Event
	done   chan struct{}
}

// Coordinator owns one adapter and one canonical book per venue, routes
// adapter events into per-venue state, and answers current-book and
// simulation queries for the selected venue/symbol.
type Coordinator struct {
	mu             sync.RWMutex
	selectedVenue  types.VenueType
	selectedSymbol string

	venues    map[types.VenueType]*venueState
	publisher Publisher
	log       *logrus.Entry
}

// New constructs one adapter per configured venue and starts its event
// loop. Every venue starts empty and disconnected.
func New(cfg *config.Config, pub Publisher) (*Coordinator, error) {
	return newWithFactory(cfg, pub, newAdapter)
}

type adapterFactory func(cfg config.VenueConfig, events chan<- venue.Event) (venue.Adapter, error)

func newWithFactory(cfg *config.Config, pub Publisher, factory adapterFactory) (*Coordinator, error) {
	c := &Coordinator{
		selectedVenue:  types.VenueOKX,
		selectedSymbol: "BTC-USDT",
		venues:         make(map[types.VenueType]*venueState),
		publisher:      pub,
		log:            logrus.WithField("component", "coordinator"),
	}

	for _, id := range types.AllVenues() {
		vcfg, ok := cfg.Venues[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownVenue, id)
		}

		events := make(chan venue.Event, eventBuffer)
		adapter, err := factory(vcfg, events)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", id, err)
		}

		vs := &venueState{
			adapter: adapter,
			events:  events,
			done:    make(chan struct{}),
		}
		c.venues[id] = vs
		go c.runVenue(id, vs)
	}

	return c, nil
}

// runVenue drains one venue's event channel until Close.
func (c *Coordinator) runVenue(id types.VenueType, vs *venueState) {
	for {
		select {
		case ev := <-vs.events:
			c.handleEvent(id, vs, ev)
		case <-vs.done:
			return
		}
	}
}

func (c *Coordinator) handleEvent(id types.VenueType, vs *venueState, ev venue.Event) {
	switch ev.Kind {
	case venue.EventUpdate:
		vs.mu.Lock()
		if vs.book == nil {
			// Incremental updates need a snapshot-seeded book to apply to.
			vs.mu.Unlock()
			c.log.WithField("venue", id).Debug("dropped update for unseeded book")
			return
		}
		merged := book.Merge(vs.book, ev.Update)
		vs.book = merged
		vs.mu.Unlock()

		if c.publisher != nil {
			c.publisher.PublishBook(id, merged)
		}

	case venue.EventConnection:
		vs.mu.Lock()
		vs.connected = ev.Connected
		vs.mu.Unlock()

	case venue.EventError:
		vs.mu.Lock()
		vs.lastError = ev.Err
		vs.loading = false
		vs.mu.Unlock()
		c.log.WithField("venue", id).Warn(ev.Err)
	}
}

// FetchSnapshot seeds or replaces one venue's book via REST. The loading
// flag is cleared on every outcome; a failure is recorded as the venue's
// last error without touching any other venue.
func (c *Coordinator) FetchSnapshot(ctx context.Context, id types.VenueType, symbol string) error {
	vs, ok := c.venues[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownVenue, id)
	}

	vs.mu.Lock()
	vs.loading = true
	vs.mu.Unlock()

	ob, err := vs.adapter.FetchOrderBook(ctx, symbol)

	vs.mu.Lock()
	vs.loading = false
	if err != nil {
		vs.lastError = err.Error()
		vs.mu.Unlock()
		return fmt.Errorf("%s: snapshot fetch: %w", id, err)
	}
	vs.book = ob
	vs.lastError = ""
	vs.mu.Unlock()

	if c.publisher != nil {
		c.publisher.PublishBook(id, ob)
	}
	return nil
}

// Connect opens one venue's streaming socket and subscribes the currently
// selected symbol. Failures are recorded on the venue and returned.
func (c *Coordinator) Connect(ctx context.Context, id types.VenueType) error {
	vs, ok := c.venues[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownVenue, id)
	}

	if err := vs.adapter.Connect(ctx); err != nil {
		vs.mu.Lock()
		vs.lastError = err.Error()
		vs.mu.Unlock()
		return err
	}

	c.mu.RLock()
	symbol := c.selectedSymbol
	c.mu.RUnlock()
	if symbol != "" {
		vs.adapter.Subscribe(symbol)
	}
	return nil
}

// Disconnect closes one venue's socket and stops its reconnect loop.
func (c *Coordinator) Disconnect(id types.VenueType) {
	if vs, ok := c.venues[id]; ok {
		vs.adapter.Disconnect()
	}
}

// SelectVenue records the venue selection; no network activity.
func (c *Coordinator) SelectVenue(id types.VenueType) {
	c.mu.Lock()
	c.selectedVenue = id
	c.mu.Unlock()
}

// SelectSymbol records the symbol selection; no network activity.
func (c *Coordinator) SelectSymbol(symbol string) {
	c.mu.Lock()
	c.selectedSymbol = symbol
	c.mu.Unlock()
}

// Selection returns the current venue and symbol.
func (c *Coordinator) Selection() (types.VenueType, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedVenue, c.selectedSymbol
}

// CurrentBook returns the selected venue's book, or nil before the first
// successful snapshot.
func (c *Coordinator) CurrentBook() *types.OrderBookData {
	c.mu.RLock()
	id := c.selectedVenue
	c.mu.RUnlock()
	return c.BookFor(id)
}

// BookFor returns one venue's book, or nil.
func (c *Coordinator) BookFor(id types.VenueType) *types.OrderBookData {
	vs, ok := c.venues[id]
	if !ok {
		return nil
	}
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.book
}

// VenueStatus reports one venue's loading/error/connection state.
func (c *Coordinator) VenueStatus(id types.VenueType) (types.VenueStatus, error) {
	vs, ok := c.venues[id]
	if !ok {
		return types.VenueStatus{}, fmt.Errorf("%w: %s", types.ErrUnknownVenue, id)
	}
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return types.VenueStatus{
		Loading:   vs.loading,
		Error:     vs.lastError,
		Connected: vs.connected,
	}, nil
}

// SimulateOrder runs the simulation engine against the order's venue book.
// It fails fast with types.ErrNoOrderBook when no snapshot has seeded that
// venue yet.
func (c *Coordinator) SimulateOrder(order *types.SimulatedOrder) (*types.SimulationResult, error) {
	ob := c.BookFor(order.Venue)
	if ob == nil {
		return nil, types.ErrNoOrderBook
	}
	return simulation.Simulate(order, ob)
}

// Close disconnects every venue and stops all event loops.
func (c *Coordinator) Close() {
	for _, vs := range c.venues {
		vs.adapter.Disconnect()
		close(vs.done)
	}
}
