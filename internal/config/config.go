package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/bookscope/bookscope/pkg/types"
)

// VenueConfig holds one venue's endpoints and capabilities.
type VenueConfig struct {
	ID                types.VenueType
	Name              string
	BaseURL           string
	WSURL             string
	DefaultSymbol     string
	SupportsStreaming bool
}

// Config is the full service configuration.
type Config struct {
	Venues   map[types.VenueType]VenueConfig
	NATSURL  string
	LogLevel string
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("nats.url", "")

	viper.SetDefault("venues.okx.name", "OKX")
	viper.SetDefault("venues.okx.base_url", "https://www.okx.com/api/v5")
	viper.SetDefault("venues.okx.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	viper.SetDefault("venues.okx.default_symbol", "BTC-USDT")
	viper.SetDefault("venues.okx.supports_streaming", true)

	viper.SetDefault("venues.bybit.name", "Bybit")
	viper.SetDefault("venues.bybit.base_url", "https://api.bybit.com/v5")
	viper.SetDefault("venues.bybit.ws_url", "wss://stream.bybit.com/v5/public/spot")
	viper.SetDefault("venues.bybit.default_symbol", "BTC-USDT")
	viper.SetDefault("venues.bybit.supports_streaming", true)

	viper.SetDefault("venues.deribit.name", "Deribit")
	viper.SetDefault("venues.deribit.base_url", "https://www.deribit.com/api/v2/public")
	viper.SetDefault("venues.deribit.ws_url", "wss://www.deribit.com/ws/api/v2")
	viper.SetDefault("venues.deribit.default_symbol", "BTC-PERPETUAL")
	viper.SetDefault("venues.deribit.supports_streaming", false)
}

// Load reads configuration from the given file (optional) merged over
// built-in defaults for the three known venues.
func Load(path string) (*Config, error) {
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Venues:   make(map[types.VenueType]VenueConfig),
		NATSURL:  viper.GetString("nats.url"),
		LogLevel: viper.GetString("log.level"),
	}

	for _, id := range types.AllVenues() {
		key := string(id)
		cfg.Venues[id] = VenueConfig{
			ID:                id,
			Name:              viper.GetString(fmt.Sprintf("venues.%s.name", key)),
			BaseURL:           viper.GetString(fmt.Sprintf("venues.%s.base_url", key)),
			WSURL:             viper.GetString(fmt.Sprintf("venues.%s.ws_url", key)),
			DefaultSymbol:     viper.GetString(fmt.Sprintf("venues.%s.default_symbol", key)),
			SupportsStreaming: viper.GetBool(fmt.Sprintf("venues.%s.supports_streaming", key)),
		}
	}

	return cfg, nil
}
