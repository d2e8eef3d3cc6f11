package normalize

import (
	"fmt"
	"strings"
	"time"
)

// Raw is the minimal shape the Normalizer Adapter needs from any source
// (replay driver or live feed). Spec.md §4.6 unconditionally sets
// returnDisconnectsAsUndefined on its replay source so the adapter always
// sees explicit disconnect markers rather than silent gaps.
type Raw struct {
	Disconnect     bool
	LocalTimestamp time.Time
	Payload        []byte
}

// Source is anything the Normalizer Adapter can pull Raw elements from: a
// decoded-mode internal/replay.Driver wrapped by the root package's
// replaySource, or internal/stream.Source over a live feed.
type Source interface {
	Next() bool
	Current() Raw
	Err() error
	Close() error
}

// Options configures one Adapter.
type Options struct {
	Exchange               string
	Symbols                []string
	WithDisconnectMessages bool
}

// Adapter applies an ordered chain of mappers over a Source, normalizing
// raw payloads and re-instantiating every mapper on each disconnect marker
// (spec.md §4.6).
type Adapter struct {
	exchange       string
	source         Source
	factories      []MapperFactory
	symbols        map[string]bool // nil/empty means pass-all
	withDisconnect bool

	mappers  []Mapper
	lastSeen time.Time
	sawAny   bool

	pending []Record
	cur     Record
	err     error
}

// New builds an Adapter over source. At least one factory is required
// (spec.md §4.6: "Requires at least one mapper; otherwise fails with a
// configuration error").
func New(source Source, factories []MapperFactory, opts Options) (*Adapter, error) {
	if len(factories) == 0 {
		return nil, fmt.Errorf("normalize: at least one mapper is required")
	}

	a := &Adapter{
		exchange:       opts.Exchange,
		source:         source,
		factories:      factories,
		withDisconnect: opts.WithDisconnectMessages,
	}
	if len(opts.Symbols) > 0 {
		a.symbols = make(map[string]bool, len(opts.Symbols))
		for _, s := range opts.Symbols {
			a.symbols[strings.ToUpper(s)] = true
		}
	}
	a.instantiateMappers()
	return a, nil
}

// Filters derives the upfront replay/stream filters from every mapper's
// Filters method (spec.md §4.6: "used to derive replay filters upfront").
// Symbols are upper-cased before being handed to mappers, since mappers
// assume upper-case input (spec.md §4.6, and the "symbol uppercase"
// equivalence property in §8).
func Filters(factories []MapperFactory, exchange string, symbols []string) []Filter {
	upper := upperAll(symbols)
	var out []Filter
	for _, f := range factories {
		out = append(out, f(exchange).Filters(upper)...)
	}
	return out
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func (a *Adapter) instantiateMappers() {
	a.mappers = make([]Mapper, len(a.factories))
	for i, f := range a.factories {
		a.mappers[i] = f(a.exchange)
	}
}

// Next advances to the next normalized record. One raw source element may
// expand to zero, one, or several normalized records (fan-out across
// mappers and each mapper's own Map result); Next buffers the overflow and
// drains it before pulling the next raw element.
func (a *Adapter) Next() bool {
	for {
		if len(a.pending) > 0 {
			a.cur = a.pending[0]
			a.pending = a.pending[1:]
			return true
		}

		if !a.source.Next() {
			a.err = a.source.Err()
			return false
		}

		raw := a.source.Current()

		if raw.Disconnect {
			a.handleDisconnect()
			continue
		}

		a.lastSeen = raw.LocalTimestamp
		a.sawAny = true
		a.mapPayload(raw.Payload, raw.LocalTimestamp)
	}
}

func (a *Adapter) mapPayload(payload []byte, ts time.Time) {
	for _, m := range a.mappers {
		if !m.CanHandle(payload) {
			continue
		}
		for _, rec := range m.Map(payload, ts) {
			if !a.passesFilter(rec.Symbol) {
				continue
			}
			rec.Exchange = a.exchange
			a.pending = append(a.pending, rec)
		}
	}
}

func (a *Adapter) handleDisconnect() {
	emitMarker := a.withDisconnect && a.sawAny
	lastSeen := a.lastSeen

	a.instantiateMappers()

	if emitMarker {
		a.pending = append(a.pending, Record{
			Type:           "disconnect",
			Exchange:       a.exchange,
			LocalTimestamp: lastSeen,
		})
	}
}

func (a *Adapter) passesFilter(symbol string) bool {
	if len(a.symbols) == 0 {
		return true
	}
	return a.symbols[strings.ToUpper(symbol)]
}

// Current returns the most recently read normalized record.
func (a *Adapter) Current() Record { return a.cur }

// Err returns the fatal error that stopped iteration, if any.
func (a *Adapter) Err() error { return a.err }

// Close releases the underlying source.
func (a *Adapter) Close() error { return a.source.Close() }
