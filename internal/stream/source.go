// Package stream adapts internal/livefeed into the normalize.Source
// contract, so the Normalizer Adapter can consume a live feed exactly the
// way it consumes a replay — spec.md §4.7: "Mirrors §4.6 but its source is
// a real-time feed object."
package stream

import (
	"context"
	"time"

	"github.com/tardis-go/tardis/internal/livefeed"
	"github.com/tardis-go/tardis/internal/normalize"
)

// Source wraps a live feed subscription as a normalize.Source, stamping
// each raw message with the current wall clock as LocalTimestamp (spec.md
// §4.7: "the adapter stamps each raw message with the current wall clock").
type Source struct {
	cancel context.CancelFunc
	msgs   <-chan livefeed.RawMessage
	errs   <-chan error

	cur normalize.Raw
	err error
}

// New starts feed streaming filters and returns a normalize.Source over it.
// The feed (and its reconnect loop) runs until Close is called or ctx is
// cancelled.
func New(ctx context.Context, feed *livefeed.Feed, filters []livefeed.Filter) *Source {
	cctx, cancel := context.WithCancel(ctx)
	msgs, errs := feed.Stream(cctx, filters)
	return &Source{cancel: cancel, msgs: msgs, errs: errs}
}

// Next reads the next raw element, converting it to normalize.Raw.
func (s *Source) Next() bool {
	m, ok := <-s.msgs
	if !ok {
		select {
		case err := <-s.errs:
			s.err = err
		default:
		}
		return false
	}

	if m.Disconnect {
		s.cur = normalize.Raw{Disconnect: true}
		return true
	}

	s.cur = normalize.Raw{LocalTimestamp: time.Now().UTC(), Payload: m.Payload}
	return true
}

// Current returns the most recently read element.
func (s *Source) Current() normalize.Raw { return s.cur }

// Err returns the terminal feed error, if any.
func (s *Source) Err() error { return s.err }

// Close stops the underlying feed.
func (s *Source) Close() error {
	s.cancel()
	return nil
}
