package tardis

import (
	"time"

	"github.com/tardis-go/tardis/internal/normalize"
)

// Filter is the public {channel, symbols?} selector spec.md §3 describes.
type Filter struct {
	Channel string
	Symbols []string
}

// ReplayOptions configures a historical replay (spec.md §4.5's public
// contract: "given (exchange, from, to, filters, skipDecoding?,
// returnDisconnectsAsUndefined?)").
type ReplayOptions struct {
	Exchange string
	From     string // RFC3339 or "2006-01-02"
	To       string
	Filters  []Filter

	// SkipDecoding, if true, yields raw timestamp/payload byte slices
	// instead of parsed values (spec.md §4.5's decoding policy). Forced to
	// false by ReplayNormalized, which needs decoded payloads to run
	// mappers against.
	SkipDecoding bool

	// ReturnDisconnectsAsUndefined enables disconnect sentinels in the
	// yielded sequence (spec.md §3/§4.5). Forced to true by
	// ReplayNormalized (spec.md §4.6: "unconditionally").
	ReturnDisconnectsAsUndefined bool
}

// StreamOptions configures a live feed subscription (spec.md §4.7/§4.8).
type StreamOptions struct {
	Exchange string
	Filters  []Filter

	// TimeoutInterval overrides the feed's idle-silence reconnect window
	// (spec.md §5, default 10s). Nil keeps the default; a non-nil zero
	// value disables the timeout entirely.
	TimeoutInterval *time.Duration
}

// NormalizeOptions configures the Normalizer/Live Stream Adapter layered
// over a Replay or Stream (spec.md §4.6).
type NormalizeOptions struct {
	// Symbols restricts normalized output to these symbols (case
	// insensitive — both replayNormalized and streamNormalized behave
	// identically for s and strings.ToUpper(s), per spec.md §8). Empty
	// means pass-all.
	Symbols []string

	// WithDisconnectMessages, if true, emits a {type: "disconnect"}
	// normalized record for every disconnect marker that arrives after at
	// least one real message has been seen (spec.md §4.6).
	WithDisconnectMessages bool
}

// MapperFactory constructs a fresh normalize.Mapper chain element; re-
// exported so callers don't need to import internal/normalize directly.
type MapperFactory = normalize.MapperFactory

// NormalizedRecord is a cross-exchange normalized value; re-exported from
// internal/normalize.
type NormalizedRecord = normalize.Record
