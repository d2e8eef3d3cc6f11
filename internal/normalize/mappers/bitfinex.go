package mappers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tardis-go/tardis/internal/normalize"
)

// Bitfinex handles bitfinex/bitfinex-derivatives' channel-multiplexed wire
// format: a subscription ack assigns a numeric channel id to a
// (channel, symbol) pair, and every later update on that channel is a bare
// JSON array keyed only by the id — there is no per-message type tag to
// dispatch on. This is also why these two exchanges sit in the catalog's
// non-filterable set (internal/catalog.Filterable): the whole multiplexed
// stream must be captured at fetch time. This mapper resolves each update's
// symbol from its channel id; the Normalizer Adapter's symbol filter then
// narrows the resulting records.
type Bitfinex struct {
	channels map[float64]bitfinexChannel
}

type bitfinexChannel struct {
	channel string
	symbol  string
}

// NewBitfinex is a normalize.MapperFactory for bitfinex and
// bitfinex-derivatives.
func NewBitfinex(exchange string) normalize.Mapper {
	return &Bitfinex{channels: make(map[float64]bitfinexChannel)}
}

type bitfinexSubscriptionAck struct {
	Event   string  `json:"event"`
	ChanID  float64 `json:"chanId"`
	Channel string  `json:"channel"`
	Symbol  string  `json:"symbol"`
	Pair    string  `json:"pair"`
}

func (b *Bitfinex) CanHandle(payload []byte) bool {
	trimmed := strings.TrimSpace(string(payload))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func (b *Bitfinex) Map(payload []byte, ts time.Time) []normalize.Record {
	trimmed := strings.TrimSpace(string(payload))

	if strings.HasPrefix(trimmed, "{") {
		var ack bitfinexSubscriptionAck
		if err := json.Unmarshal(payload, &ack); err == nil && ack.Event == "subscribed" {
			symbol := ack.Symbol
			if symbol == "" {
				symbol = ack.Pair
			}
			b.channels[ack.ChanID] = bitfinexChannel{channel: ack.Channel, symbol: strings.ToUpper(symbol)}
		}
		return nil
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil || len(frame) < 2 {
		return nil
	}
	var chanID float64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return nil
	}
	ch, ok := b.channels[chanID]
	if !ok {
		return nil
	}

	return []normalize.Record{{
		Type:           ch.channel,
		Symbol:         ch.symbol,
		LocalTimestamp: ts,
		Fields:         map[string]any{"raw": json.RawMessage(payload)},
	}}
}

// Filters returns nil: bitfinex/bitfinex-derivatives are non-filterable, so
// the replay/stream source always carries the full channel stream and
// narrowing happens only after Map, by the adapter's symbol filter.
func (b *Bitfinex) Filters(symbols []string) []normalize.Filter {
	return nil
}
