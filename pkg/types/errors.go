package types

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamingUnsupported is returned by Connect on venues without a
	// public streaming endpoint.
	ErrStreamingUnsupported = errors.New("venue does not support streaming")

	// ErrNoOrderBook is returned when a simulation is requested before any
	// snapshot has been fetched, or against an empty book side.
	ErrNoOrderBook = errors.New("no order book available")

	// ErrUnknownVenue is returned for venue ids without a registered adapter.
	ErrUnknownVenue = errors.New("unknown venue")
)

// StatusError carries a non-2xx HTTP status from a venue REST endpoint.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}
