// Package catalog holds the fixed exchange and channel vocabulary that
// replay and stream validation is checked against.
package catalog

import "sort"

// Exchange identifies one of the supported trading venues.
type Exchange string

const (
	Bitmex              Exchange = "bitmex"
	Binance             Exchange = "binance"
	BinanceFutures      Exchange = "binance-futures"
	Deribit             Exchange = "deribit"
	Okex                Exchange = "okex"
	Bitfinex            Exchange = "bitfinex"
	BitfinexDerivatives Exchange = "bitfinex-derivatives"
	Coinbase            Exchange = "coinbase"
	Ftx                 Exchange = "ftx"
)

// channels is the per-exchange channel vocabulary. This fixed table is the
// only vocabulary the validator in internal/validate checks filters
// against; results of GetExchangeDetails are not fed back into it.
var channels = map[Exchange][]string{
	Bitmex:              {"trade", "orderBookL2", "quote", "instrument", "liquidation"},
	Binance:             {"trade", "depth", "bookTicker", "ticker", "aggTrade"},
	BinanceFutures:      {"trade", "depth", "bookTicker", "markPrice", "forceOrder"},
	Deribit:             {"trades", "book", "ticker", "quote"},
	Okex:                {"trades", "books", "tickers", "liquidation-orders"},
	Bitfinex:            {"trades", "book", "ticker", "raw_book"},
	BitfinexDerivatives: {"trades", "book", "ticker", "status"},
	Coinbase:            {"matches", "level2", "ticker", "full"},
	Ftx:                 {"trades", "orderbook", "ticker"},
}

// nonFilterable is the set of exchanges whose entire channel stream is
// captured and replayed regardless of the caller's filters (spec.md §4.6):
// their capture format interleaves channels in a way that cannot be split
// by filter at fetch time.
var nonFilterable = map[Exchange]bool{
	Bitfinex:            true,
	BitfinexDerivatives: true,
}

// Exchanges returns the fixed catalog of supported exchange ids, sorted for
// deterministic error messages.
func Exchanges() []string {
	out := make([]string, 0, len(channels))
	for ex := range channels {
		out = append(out, string(ex))
	}
	sort.Strings(out)
	return out
}

// Known reports whether id names a supported exchange.
func Known(id string) bool {
	_, ok := channels[Exchange(id)]
	return ok
}

// Channels returns the valid channel names for an exchange, sorted. Returns
// nil if the exchange is not known.
func Channels(id string) []string {
	cs, ok := channels[Exchange(id)]
	if !ok {
		return nil
	}
	out := append([]string(nil), cs...)
	sort.Strings(out)
	return out
}

// ValidChannel reports whether channel is in id's vocabulary.
func ValidChannel(id, channel string) bool {
	for _, c := range channels[Exchange(id)] {
		if c == channel {
			return true
		}
	}
	return false
}

// Filterable reports whether the exchange honors per-filter symbol
// restriction, or whether (per spec.md §4.6) its full channel stream must
// always be fetched.
func Filterable(id string) bool {
	return !nonFilterable[Exchange(id)]
}
