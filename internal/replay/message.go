// Package replay implements the Replay Driver, spec.md §4.5: the central
// orchestrator that spawns a fetch worker and walks a time range minute by
// minute in strict chronological order, yielding decoded records.
package replay

import (
	"encoding/json"
	"time"
)

// Message is one yielded element of a replay: spec.md §3's ReplayMessage.
// Exactly one of (Disconnect) or (LocalTimestamp/RawTimestamp +
// Message/RawMessage) applies, selected by the Disconnect flag and the
// SkipDecoding option the replay was started with.
type Message struct {
	// Disconnect is true for a disconnect sentinel; when true, the
	// timestamp/message fields below are zero and must be ignored.
	Disconnect bool

	// Decoded mode (SkipDecoding == false):
	LocalTimestamp time.Time
	Message        json.RawMessage

	// Skip-decoding mode (SkipDecoding == true): byte-identical slices of
	// the cache file, per spec.md §8's decode round-trip property.
	RawTimestamp []byte
	RawMessage   []byte
}
