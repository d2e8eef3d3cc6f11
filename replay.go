package tardis

import (
	"context"

	"github.com/tardis-go/tardis/internal/catalog"
	"github.com/tardis-go/tardis/internal/fetchworker"
	"github.com/tardis-go/tardis/internal/normalize"
	"github.com/tardis-go/tardis/internal/replay"
	"github.com/tardis-go/tardis/internal/validate"
)

// Replay is a chronologically ordered iterator over one exchange's raw
// messages across a time range (spec.md §6's `replay(opts)`).
type Replay struct {
	driver *replay.Driver
}

// NewReplay validates opts and starts the replay job (spec.md §4.5, steps
// 1-2: validate, then construct the Job and launch the Fetch Worker).
func NewReplay(ctx context.Context, opts ReplayOptions) (*Replay, error) {
	from, to, err := validate.Replay(validate.ReplayOptions{
		Exchange: opts.Exchange,
		From:     opts.From,
		To:       opts.To,
		Filters:  toValidateFilters(opts.Filters),
	})
	if err != nil {
		return nil, err
	}

	c := current()
	driver := replay.Start(ctx, replay.Options{
		Exchange:                     opts.Exchange,
		From:                         from,
		To:                           to,
		Filters:                      toFetchFilters(opts.Filters),
		SkipDecoding:                 opts.SkipDecoding,
		ReturnDisconnectsAsUndefined: opts.ReturnDisconnectsAsUndefined,
		CacheDir:                     c.CacheDir,
		Endpoint:                     c.Endpoint,
		APIKey:                       c.APIKey,
		FetchConfig:                  c.FetchConfig,
	}, currentLogger())

	return &Replay{driver: driver}, nil
}

// Next advances to the next yielded message.
func (r *Replay) Next() bool { return r.driver.Next() }

// Message returns the most recently read message.
func (r *Replay) Message() replay.Message { return r.driver.Message() }

// Err returns the fatal error that stopped iteration, if any.
func (r *Replay) Err() error { return r.driver.Err() }

// Close cancels the replay and waits for its background fetch worker to
// release all resources (spec.md §5/§7).
func (r *Replay) Close() error { return r.driver.Close() }

// replaySource adapts a decoded-mode *replay.Driver to normalize.Source.
type replaySource struct {
	driver *replay.Driver
}

func (s *replaySource) Next() bool { return s.driver.Next() }

func (s *replaySource) Current() normalize.Raw {
	m := s.driver.Message()
	if m.Disconnect {
		return normalize.Raw{Disconnect: true}
	}
	return normalize.Raw{LocalTimestamp: m.LocalTimestamp, Payload: []byte(m.Message)}
}

func (s *replaySource) Err() error { return s.driver.Err() }

func (s *replaySource) Close() error { return s.driver.Close() }

// ReplayNormalized layers the Normalizer Adapter over a replay (spec.md
// §4.6). It forces SkipDecoding off and ReturnDisconnectsAsUndefined on,
// and — for filterable exchanges with no explicit filters — derives the
// replay's filters from the mapper chain itself (spec.md §4.6: "used to
// derive replay filters upfront"). Non-filterable exchanges always carry
// the full channel stream, regardless of any filters given.
func ReplayNormalized(ctx context.Context, opts ReplayOptions, normOpts NormalizeOptions, factories ...normalize.MapperFactory) (*normalize.Adapter, error) {
	opts.SkipDecoding = false
	opts.ReturnDisconnectsAsUndefined = true

	if !catalog.Filterable(opts.Exchange) {
		opts.Filters = nil
	} else if len(opts.Filters) == 0 && len(factories) > 0 {
		opts.Filters = fromNormalizeFilters(normalize.Filters(factories, opts.Exchange, normOpts.Symbols))
	}

	r, err := NewReplay(ctx, opts)
	if err != nil {
		return nil, err
	}

	return normalize.New(&replaySource{driver: r.driver}, factories, normalize.Options{
		Exchange:               opts.Exchange,
		Symbols:                normOpts.Symbols,
		WithDisconnectMessages: normOpts.WithDisconnectMessages,
	})
}

func toValidateFilters(fs []Filter) []validate.Filter {
	out := make([]validate.Filter, len(fs))
	for i, f := range fs {
		out[i] = validate.Filter{Channel: f.Channel, Symbols: f.Symbols}
	}
	return out
}

func toFetchFilters(fs []Filter) []fetchworker.Filter {
	out := make([]fetchworker.Filter, len(fs))
	for i, f := range fs {
		out[i] = fetchworker.Filter{Channel: f.Channel, Symbols: f.Symbols}
	}
	return out
}

func fromNormalizeFilters(fs []normalize.Filter) []Filter {
	out := make([]Filter, len(fs))
	for i, f := range fs {
		out[i] = Filter{Channel: f.Channel, Symbols: f.Symbols}
	}
	return out
}
