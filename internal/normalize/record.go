// Package normalize implements the Normalizer Adapter (spec.md §4.6): it
// wraps a replay (or live stream) source and applies a chain of per-exchange
// mappers that turn raw payloads into a uniform cross-exchange domain model.
package normalize

import "time"

// Record is a normalized cross-exchange value — spec.md's GLOSSARY entry:
// "a cross-exchange typed value (trade, book change, ticker, ...), carrying
// at minimum symbol and localTimestamp." Type carries the mapper-assigned
// kind ("trade", "book_change", "ticker", "disconnect", ...); Fields holds
// the rest of the normalized payload.
type Record struct {
	Type           string
	Exchange       string
	Symbol         string
	LocalTimestamp time.Time
	Fields         map[string]any
}

// Mapper recognizes a subset of one exchange's raw payloads and emits
// normalized Records from them (spec.md §4.6).
//
// CanHandle and Map are called once per raw message; Filters is called once
// up front (before any replay/stream is started) to derive the channel
// filters the source should be restricted to.
type Mapper interface {
	CanHandle(payload []byte) bool
	Map(payload []byte, localTimestamp time.Time) []Record
	Filters(symbols []string) []Filter
}

// Filter mirrors the public Filter type (spec.md §3).
type Filter struct {
	Channel string
	Symbols []string
}

// MapperFactory constructs one fresh Mapper instance. The Normalizer
// Adapter calls it once at start and again after every disconnect, so each
// mapper's internal state (order books, sequence counters, ...) is reset
// exactly on the same boundary the source reports a connection drop —
// spec.md §8's "mapper reset on disconnect" property.
type MapperFactory func(exchange string) Mapper
