// Package mappers holds worked-example normalize.Mapper implementations.
// Generic covers every exchange whose capture format already tags each
// message with a "type"/"symbol" envelope; Bitfinex covers the two
// channel-multiplexed exchanges that don't.
package mappers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tardis-go/tardis/internal/catalog"
	"github.com/tardis-go/tardis/internal/normalize"
)

type genericEnvelope struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Generic maps payloads of the form {"type": "...", "symbol": "...", ...}
// into normalize.Records, passing the remaining fields through verbatim.
type Generic struct {
	exchange string
}

// NewGeneric is a normalize.MapperFactory for exchanges using the tagged
// envelope format.
func NewGeneric(exchange string) normalize.Mapper {
	return &Generic{exchange: exchange}
}

func (g *Generic) CanHandle(payload []byte) bool {
	var env genericEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	switch env.Type {
	case "trade", "book_change", "ticker", "depth", "match":
		return true
	default:
		return false
	}
}

func (g *Generic) Map(payload []byte, ts time.Time) []normalize.Record {
	var env genericEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	delete(fields, "type")
	delete(fields, "symbol")

	return []normalize.Record{{
		Type:           env.Type,
		Symbol:         strings.ToUpper(env.Symbol),
		LocalTimestamp: ts,
		Fields:         fields,
	}}
}

// Filters returns one filter per channel in the exchange's catalog whose
// name looks like a trade, book, ticker, depth or match feed — the channels
// this mapper actually recognizes.
func (g *Generic) Filters(symbols []string) []normalize.Filter {
	var out []normalize.Filter
	for _, ch := range catalog.Channels(g.exchange) {
		lower := strings.ToLower(ch)
		if strings.Contains(lower, "trade") ||
			strings.Contains(lower, "book") ||
			strings.Contains(lower, "ticker") ||
			strings.Contains(lower, "depth") ||
			strings.Contains(lower, "match") {
			out = append(out, normalize.Filter{Channel: ch, Symbols: symbols})
		}
	}
	return out
}
