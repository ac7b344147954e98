package coordinator

import (
	"fmt"

	"github.com/bookscope/bookscope/internal/config"
	"github.com/bookscope/bookscope/internal/venue"
	"github.com/bookscope/bookscope/pkg/types"
	"github.com/bookscope/bookscope/services/bybit"
	"github.com/bookscope/bookscope/services/deribit"
	"github.com/bookscope/bookscope/services/okx"
)

// newAdapter creates the concrete adapter for a venue id. Selection is a
// plain lookup: every venue-specific behavior lives behind venue.Adapter.
func newAdapter(cfg config.VenueConfig, events chan<- venue.Event) (venue.Adapter, error) {
	switch cfg.ID {
	case types.VenueOKX:
		return okx.New(cfg, events), nil
	case types.VenueBybit:
		return bybit.New(cfg, events), nil
	case types.VenueDeribit:
		return deribit.New(cfg, events), nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownVenue, cfg.ID)
	}
}
