package venue

import (
	"context"

	"github.com/bookscope/bookscope/pkg/types"
)

// EventKind discriminates the events an adapter can emit.
type EventKind string

const (
	EventUpdate     EventKind = "update"
	EventConnection EventKind = "connection"
	EventError      EventKind = "error"
)

// Event is delivered on a per-venue channel instead of callbacks, so the
// coordinator processes one venue's events strictly in arrival order while
// venues stay fully independent.
type Event struct {
	Venue     types.VenueType
	Kind      EventKind
	Update    *types.IncrementalUpdate
	Connected bool
	Err       string
}

// Adapter is the capability set every venue connector implements. Each
// concrete adapter speaks one venue's REST/WebSocket dialect and normalizes
// everything into pkg/types before it leaves the adapter boundary.
type Adapter interface {
	// Venue returns the adapter's venue id.
	Venue() types.VenueType

	// FetchOrderBook retrieves a full snapshot via the venue's REST API.
	FetchOrderBook(ctx context.Context, symbol string) (*types.OrderBookData, error)

	// Connect opens the venue's streaming socket. Venues without streaming
	// support fail immediately with types.ErrStreamingUnsupported.
	Connect(ctx context.Context) error

	// Disconnect closes the socket, clears subscriptions and stops any
	// pending reconnect.
	Disconnect()

	// Subscribe and Unsubscribe manage one symbol's book channel. Both are
	// no-ops while disconnected.
	Subscribe(symbol string)
	Unsubscribe(symbol string)

	IsConnected() bool
}
