package tardis

import (
	"context"
	"fmt"
	"strings"

	"github.com/tardis-go/tardis/internal/catalog"
	"github.com/tardis-go/tardis/internal/livefeed"
	"github.com/tardis-go/tardis/internal/normalize"
	"github.com/tardis-go/tardis/internal/stream"
	"github.com/tardis-go/tardis/internal/validate"
)

// Stream is a live iterator over one exchange's raw messages (spec.md §6's
// `stream(opts)`).
type Stream struct {
	source *stream.Source
}

// NewStream validates opts and dials the live feed (spec.md §4.7/§4.8).
func NewStream(ctx context.Context, opts StreamOptions) (*Stream, error) {
	if err := validate.Stream(opts.Exchange, toValidateFilters(opts.Filters)); err != nil {
		return nil, err
	}

	c := current()
	feed := livefeed.New(wsURL(c.Endpoint, opts.Exchange), currentLogger())
	if opts.TimeoutInterval != nil {
		feed.SetTimeoutInterval(*opts.TimeoutInterval)
	}

	src := stream.New(ctx, feed, toLiveFilters(opts.Filters))
	return &Stream{source: src}, nil
}

// Next advances to the next yielded message.
func (s *Stream) Next() bool { return s.source.Next() }

// Message returns the most recently read element.
func (s *Stream) Message() normalize.Raw { return s.source.Current() }

// Err returns the terminal feed error, if any.
func (s *Stream) Err() error { return s.source.Err() }

// Close stops the feed.
func (s *Stream) Close() error { return s.source.Close() }

// StreamNormalized layers the Normalizer Adapter over a live stream
// (spec.md §4.7), with the same non-filterable-exchange and filter-
// derivation behavior as ReplayNormalized.
func StreamNormalized(ctx context.Context, opts StreamOptions, normOpts NormalizeOptions, factories ...normalize.MapperFactory) (*normalize.Adapter, error) {
	if !catalog.Filterable(opts.Exchange) {
		opts.Filters = nil
	} else if len(opts.Filters) == 0 && len(factories) > 0 {
		opts.Filters = fromNormalizeFilters(normalize.Filters(factories, opts.Exchange, normOpts.Symbols))
	}

	s, err := NewStream(ctx, opts)
	if err != nil {
		return nil, err
	}

	return normalize.New(s.source, factories, normalize.Options{
		Exchange:               opts.Exchange,
		Symbols:                normOpts.Symbols,
		WithDisconnectMessages: normOpts.WithDisconnectMessages,
	})
}

func wsURL(endpoint, exchange string) string {
	u := strings.Replace(endpoint, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return fmt.Sprintf("%s/v1/ws/%s", u, exchange)
}

func toLiveFilters(fs []Filter) []livefeed.Filter {
	out := make([]livefeed.Filter, len(fs))
	for i, f := range fs {
		out[i] = livefeed.Filter{Channel: f.Channel, Symbols: f.Symbols}
	}
	return out
}
