package types

// VenueType identifies an external exchange providing order book data.
type VenueType string

const (
	VenueOKX     VenueType = "okx"
	VenueBybit   VenueType = "bybit"
	VenueDeribit VenueType = "deribit"
)

// AllVenues returns every known venue id.
func AllVenues() []VenueType {
	return []VenueType{VenueOKX, VenueBybit, VenueDeribit}
}

// ConnectionState tracks the lifecycle of a venue's streaming socket.
type ConnectionState string

const (
	ConnStateDisconnected ConnectionState = "disconnected"
	ConnStateConnecting   ConnectionState = "connecting"
	ConnStateConnected    ConnectionState = "connected"
	ConnStateReconnecting ConnectionState = "reconnecting"
)

// VenueStatus is the externally visible per-venue state.
type VenueStatus struct {
	Loading   bool   `json:"loading"`
	Error     string `json:"error,omitempty"`
	Connected bool   `json:"connected"`
}
