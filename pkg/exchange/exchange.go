package exchange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Name identifies one endpoint family of the Binance exchange group.
type Name string

// Supported exchanges.
const (
	BinanceCom                      Name = "binance.com"
	BinanceComTestnet               Name = "binance.com-testnet"
	BinanceComMargin                Name = "binance.com-margin"
	BinanceComMarginTestnet         Name = "binance.com-margin-testnet"
	BinanceComIsolatedMargin        Name = "binance.com-isolated_margin"
	BinanceComIsolatedMarginTestnet Name = "binance.com-isolated_margin-testnet"
	BinanceComFutures               Name = "binance.com-futures"
	BinanceComFuturesTestnet        Name = "binance.com-futures-testnet"
	BinanceComCoinFutures           Name = "binance.com-coin_futures"
	BinanceUS                       Name = "binance.us"
	BinanceOrg                      Name = "binance.org"
	BinanceOrgTestnet               Name = "binance.org-testnet"
	TRBinanceCom                    Name = "trbinance.com"
)

// Default subscription caps per stream.
const (
	MaxSubscriptionsCEX     = 1024
	MaxSubscriptionsFutures = 200
	MaxSubscriptionsDEX     = 1000
)

// Profile describes the endpoints and limits of one exchange.
type Profile struct {
	Name       Name
	MarketType core.MarketType
	// StreamURI is the WebSocket root; "/ws" and "/ws/<path>" are appended.
	StreamURI string
	// APIURI is the WS-API endpoint, empty when the exchange has none.
	APIURI string
	// RestURI is the REST host for listen keys and server time.
	RestURI       string
	ListenKeyPath string
	TimePath      string
	// MaxSubscriptions is the subscription cap of a single stream.
	MaxSubscriptions int
	Testnet          bool
}

// IsDex reports whether the exchange speaks the BNB Chain DEX dialect.
func (p Profile) IsDex() bool {
	return p.MarketType == core.MarketTypeDex
}

// IsIsolatedMargin reports whether listen keys require a symbol.
func (p Profile) IsIsolatedMargin() bool {
	return p.MarketType == core.MarketTypeIsolatedMargin
}

// IsFutures reports whether the exchange is a futures venue.
func (p Profile) IsFutures() bool {
	return p.MarketType == core.MarketTypeFutures || p.MarketType == core.MarketTypeCoinFutures
}

// SupportsAPI reports whether the exchange has a WS-API endpoint.
func (p Profile) SupportsAPI() bool {
	return p.APIURI != ""
}

const (
	spotListenKey     = "/api/v3/userDataStream"
	marginListenKey   = "/sapi/v1/userDataStream"
	isolatedListenKey = "/sapi/v1/userDataStream/isolated"
	spotTime          = "/api/v3/time"
)

var profiles = map[Name]Profile{
	BinanceCom: {
		MarketType:       core.MarketTypeSpot,
		StreamURI:        "wss://stream.binance.com:9443",
		APIURI:           "wss://ws-api.binance.com:443/ws-api/v3",
		RestURI:          "https://api.binance.com",
		ListenKeyPath:    spotListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
	},
	BinanceComTestnet: {
		MarketType:       core.MarketTypeSpot,
		StreamURI:        "wss://testnet.binance.vision",
		APIURI:           "wss://testnet.binance.vision/ws-api/v3",
		RestURI:          "https://testnet.binance.vision",
		ListenKeyPath:    spotListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
		Testnet:          true,
	},
	BinanceComMargin: {
		MarketType:       core.MarketTypeMargin,
		StreamURI:        "wss://stream.binance.com:9443",
		RestURI:          "https://api.binance.com",
		ListenKeyPath:    marginListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
	},
	BinanceComMarginTestnet: {
		MarketType:       core.MarketTypeMargin,
		StreamURI:        "wss://testnet.binance.vision",
		RestURI:          "https://testnet.binance.vision",
		ListenKeyPath:    marginListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
		Testnet:          true,
	},
	BinanceComIsolatedMargin: {
		MarketType:       core.MarketTypeIsolatedMargin,
		StreamURI:        "wss://stream.binance.com:9443",
		RestURI:          "https://api.binance.com",
		ListenKeyPath:    isolatedListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
	},
	BinanceComIsolatedMarginTestnet: {
		MarketType:       core.MarketTypeIsolatedMargin,
		StreamURI:        "wss://testnet.binance.vision",
		RestURI:          "https://testnet.binance.vision",
		ListenKeyPath:    isolatedListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
		Testnet:          true,
	},
	BinanceComFutures: {
		MarketType:       core.MarketTypeFutures,
		StreamURI:        "wss://fstream.binance.com",
		APIURI:           "wss://ws-fapi.binance.com/ws-fapi/v1",
		RestURI:          "https://fapi.binance.com",
		ListenKeyPath:    "/fapi/v1/listenKey",
		TimePath:         "/fapi/v1/time",
		MaxSubscriptions: MaxSubscriptionsFutures,
	},
	BinanceComFuturesTestnet: {
		MarketType:       core.MarketTypeFutures,
		StreamURI:        "wss://stream.binancefuture.com",
		APIURI:           "wss://testnet.binancefuture.com/ws-fapi/v1",
		RestURI:          "https://testnet.binancefuture.com",
		ListenKeyPath:    "/fapi/v1/listenKey",
		TimePath:         "/fapi/v1/time",
		MaxSubscriptions: MaxSubscriptionsFutures,
		Testnet:          true,
	},
	BinanceComCoinFutures: {
		MarketType:       core.MarketTypeCoinFutures,
		StreamURI:        "wss://dstream.binance.com",
		RestURI:          "https://dapi.binance.com",
		ListenKeyPath:    "/dapi/v1/listenKey",
		TimePath:         "/dapi/v1/time",
		MaxSubscriptions: MaxSubscriptionsFutures,
	},
	BinanceUS: {
		MarketType:       core.MarketTypeSpot,
		StreamURI:        "wss://stream.binance.us:9443",
		APIURI:           "wss://ws-api.binance.us:443/ws-api/v3",
		RestURI:          "https://api.binance.us",
		ListenKeyPath:    spotListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
	},
	BinanceOrg: {
		MarketType:       core.MarketTypeDex,
		StreamURI:        "wss://dex.binance.org/api",
		RestURI:          "https://dex.binance.org",
		TimePath:         "/api/v1/time",
		MaxSubscriptions: MaxSubscriptionsDEX,
	},
	BinanceOrgTestnet: {
		MarketType:       core.MarketTypeDex,
		StreamURI:        "wss://testnet-dex.binance.org/api",
		RestURI:          "https://testnet-dex.binance.org",
		TimePath:         "/api/v1/time",
		MaxSubscriptions: MaxSubscriptionsDEX,
		Testnet:          true,
	},
	TRBinanceCom: {
		MarketType:       core.MarketTypeSpot,
		StreamURI:        "wss://stream-cloud.trbinance.com",
		RestURI:          "https://api.binance.me",
		ListenKeyPath:    spotListenKey,
		TimePath:         spotTime,
		MaxSubscriptions: MaxSubscriptionsCEX,
	},
}

// Lookup returns the profile of an exchange name.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[Name(strings.TrimSpace(name))]
	if !ok {
		if p, ok = Registry.Get(name); ok {
			return p, nil
		}
		return Profile{}, fmt.Errorf("%w: %q", core.ErrUnknownExchange, name)
	}
	p.Name = Name(strings.TrimSpace(name))
	return p, nil
}

// Names returns all supported exchange names, sorted.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, string(n))
	}
	names = append(names, Registry.Names()...)
	sort.Strings(names)
	return names
}

// Cap returns the effective subscription cap: the exchange default, lowered
// by override when override is positive.
func (p Profile) Cap(override int) int {
	if override > 0 && override < p.MaxSubscriptions {
		return override
	}
	return p.MaxSubscriptions
}

// CheckCap fails with ErrMaximumSubscriptionsExceeded when count exceeds the cap.
func (p Profile) CheckCap(count, override int) error {
	limit := p.Cap(override)
	if count > limit {
		return &core.StreamError{
			Kind:    core.KindQuota,
			Message: fmt.Sprintf("%d subscriptions requested, %s allows %d per stream", count, p.Name, limit),
			Err:     core.ErrMaximumSubscriptionsExceeded,
		}
	}
	return nil
}
