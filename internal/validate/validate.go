// Package validate implements the option checks spec.md §4.8 requires
// before a replay or stream job is allowed to start.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/tardis-go/tardis/internal/catalog"
)

// Filter mirrors the public Filter type without importing the root package
// (which itself depends on validate), per spec.md §3: {channel, symbols?}.
type Filter struct {
	Channel string
	Symbols []string
}

// ReplayOptions is the subset of replay.Options validation cares about.
type ReplayOptions struct {
	Exchange string
	From     string
	To       string
	Filters  []Filter
}

// Replay checks exchange, date range and filters per spec.md §4.8, and
// returns the parsed UTC bounds on success.
func Replay(opts ReplayOptions) (from, to time.Time, err error) {
	if !catalog.Known(opts.Exchange) {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"invalid exchange %q: must be one of %s",
			opts.Exchange, strings.Join(catalog.Exchanges(), ", "),
		)
	}

	from, err = parseDate(opts.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", opts.From, err)
	}
	to, err = parseDate(opts.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", opts.To, err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to (%s) must be after from (%s)", opts.To, opts.From)
	}

	if err := filters(opts.Exchange, opts.Filters); err != nil {
		return time.Time{}, time.Time{}, err
	}

	return from.UTC(), to.UTC(), nil
}

// Stream checks the filters passed to a live stream per spec.md §4.8. A
// non-filterable exchange (internal/catalog.Filterable) always carries its
// full channel stream regardless of filters (spec.md §4.6), so the
// "filters present" rule only binds exchanges where a filter actually
// narrows anything.
func Stream(exchange string, fs []Filter) error {
	if !catalog.Known(exchange) {
		return fmt.Errorf(
			"invalid exchange %q: must be one of %s",
			exchange, strings.Join(catalog.Exchanges(), ", "),
		)
	}
	if catalog.Filterable(exchange) && len(fs) == 0 {
		return fmt.Errorf("at least one filter is required")
	}
	return filters(exchange, fs)
}

func filters(exchange string, fs []Filter) error {
	for _, f := range fs {
		if !catalog.ValidChannel(exchange, f.Channel) {
			return fmt.Errorf(
				"invalid channel %q for exchange %q: must be one of %s",
				f.Channel, exchange, strings.Join(catalog.Channels(exchange), ", "),
			)
		}
		for _, s := range f.Symbols {
			if s == "" {
				return fmt.Errorf("filter for channel %q has an empty symbol", f.Channel)
			}
		}
	}
	return nil
}

// parseDate accepts RFC3339 and the bare YYYY-MM-DD form the spec's examples
// use ("2020-03-01"), both as UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD")
}
