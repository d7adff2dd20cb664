package normalize

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Event carries the fields shared by every normalized market event.
type Event struct {
	// StreamType is the stream name of a combined envelope, e.g. "bnbbtc@trade".
	StreamType string    `json:"stream_type,omitempty"`
	EventType  string    `json:"event_type"`
	EventTime  time.Time `json:"event_time"`
	Symbol     string    `json:"symbol"`
}

type Trade struct {
	Event
	TradeID       int64       `json:"trade_id"`
	Price         apd.Decimal `json:"price"`
	Quantity      apd.Decimal `json:"quantity"`
	TradeTime     time.Time   `json:"trade_time"`
	IsMarketMaker bool        `json:"is_market_maker"`
}

type AggTrade struct {
	Event
	AggTradeID    int64       `json:"aggregate_trade_id"`
	FirstTradeID  int64       `json:"first_trade_id"`
	LastTradeID   int64       `json:"last_trade_id"`
	Price         apd.Decimal `json:"price"`
	Quantity      apd.Decimal `json:"quantity"`
	TradeTime     time.Time   `json:"trade_time"`
	IsMarketMaker bool        `json:"is_market_maker"`
}

type Kline struct {
	Event
	Interval    string      `json:"interval"`
	StartTime   time.Time   `json:"kline_start_time"`
	CloseTime   time.Time   `json:"kline_close_time"`
	Open        apd.Decimal `json:"open_price"`
	High        apd.Decimal `json:"high_price"`
	Low         apd.Decimal `json:"low_price"`
	Close       apd.Decimal `json:"close_price"`
	Volume      apd.Decimal `json:"base_volume"`
	QuoteVolume apd.Decimal `json:"quote"`
	NumTrades   int64       `json:"number_of_trades"`
	IsClosed    bool        `json:"is_closed"`
}

type Ticker struct {
	Event
	PriceChange        apd.Decimal `json:"price_change"`
	PriceChangePercent apd.Decimal `json:"price_change_percent"`
	WeightedAverage    apd.Decimal `json:"weighted_average_price"`
	Last               apd.Decimal `json:"last_price"`
	LastQuantity       apd.Decimal `json:"last_quantity"`
	Bid                apd.Decimal `json:"best_bid_price"`
	BidQuantity        apd.Decimal `json:"best_bid_quantity"`
	Ask                apd.Decimal `json:"best_ask_price"`
	AskQuantity        apd.Decimal `json:"best_ask_quantity"`
	Open               apd.Decimal `json:"open_price"`
	High               apd.Decimal `json:"high_price"`
	Low                apd.Decimal `json:"low_price"`
	Volume             apd.Decimal `json:"total_traded_base_asset_volume"`
	QuoteVolume        apd.Decimal `json:"total_traded_quote_asset_volume"`
	NumTrades          int64       `json:"total_nr_of_trades"`
}

type MiniTicker struct {
	Event
	Close       apd.Decimal `json:"close_price"`
	Open        apd.Decimal `json:"open_price"`
	High        apd.Decimal `json:"high_price"`
	Low         apd.Decimal `json:"low_price"`
	Volume      apd.Decimal `json:"taker_by_base_asset_volume"`
	QuoteVolume apd.Decimal `json:"taker_by_quote_asset_volume"`
}

// Level is one price level of an order book side.
type Level struct {
	Price    apd.Decimal `json:"price"`
	Quantity apd.Decimal `json:"quantity"`
}

type DepthUpdate struct {
	Event
	FirstUpdateID int64   `json:"first_update_id_in_event"`
	FinalUpdateID int64   `json:"final_update_id_in_event"`
	Bids          []Level `json:"bids"`
	Asks          []Level `json:"asks"`
}

// PartialDepth is a top-of-book snapshot from the "<symbol>@depth<levels>" streams.
type PartialDepth struct {
	Event
	LastUpdateID int64   `json:"last_update_id"`
	Bids         []Level `json:"bids"`
	Asks         []Level `json:"asks"`
}

type BookTicker struct {
	Event
	UpdateID    int64       `json:"order_book_updateId"`
	Bid         apd.Decimal `json:"best_bid_price"`
	BidQuantity apd.Decimal `json:"best_bid_quantity"`
	Ask         apd.Decimal `json:"best_ask_price"`
	AskQuantity apd.Decimal `json:"best_ask_quantity"`
}

// Result is the answer to a subscription control request.
type Result struct {
	ID     any `json:"id"`
	Result any `json:"result"`
}
