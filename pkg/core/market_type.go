package core

// MarketType represents the product family an exchange endpoint serves.
type MarketType int

// Market type constants define the Binance product families.
const (
	// MarketTypeSpot indicates spot trading.
	MarketTypeSpot MarketType = iota
	// MarketTypeMargin indicates cross margin; user data uses the sapi listen-key endpoint.
	MarketTypeMargin
	// MarketTypeIsolatedMargin indicates isolated margin; listen keys are bound to a symbol.
	MarketTypeIsolatedMargin
	// MarketTypeFutures indicates USDⓈ-M futures.
	MarketTypeFutures
	// MarketTypeCoinFutures indicates COIN-M futures.
	MarketTypeCoinFutures
	// MarketTypeDex indicates the BNB Chain decentralized exchange.
	MarketTypeDex
)

// String returns the string representation of the market type.
func (m MarketType) String() string {
	return [...]string{
		"spot",
		"margin",
		"isolated_margin",
		"futures",
		"coin_futures",
		"dex",
	}[m]
}
