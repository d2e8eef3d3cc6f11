package replay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/tardis-go/tardis/internal/fetchworker"
)

// sliceServer serves gzip slice bodies keyed by the sliceKey query
// parameter. A missing entry yields an empty (zero-line) slice, matching
// how the real endpoint represents a minute with no activity; a key in
// errKeys yields a 500.
type sliceServer struct {
	bodies  map[string][]string // sliceKey -> lines
	errKeys map[string]bool
}

func (s *sliceServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("sliceKey")
		if s.errKeys[key] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		for _, line := range s.bodies[key] {
			gz.Write([]byte(line + "\n"))
		}
		gz.Close()

		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func tsLine(minute time.Time, offsetMS int, payload string) string {
	ts := minute.Add(time.Duration(offsetMS) * time.Millisecond).UTC().Format(timestampLayout)
	return ts + " " + payload
}

func drainAll(t *testing.T, d *Driver) ([]Message, error) {
	t.Helper()
	var msgs []Message
	for d.Next() {
		msgs = append(msgs, d.Message())
	}
	return msgs, d.Err()
}

func TestDriverHappyPathTwoMinutes(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	m0 := fetchworker.FormatSliceKey(from)
	m1 := fetchworker.FormatSliceKey(from.Add(time.Minute))

	srv := &sliceServer{bodies: map[string][]string{
		m0: {tsLine(from, 100, `{"a":1}`)},
		m1: {tsLine(from.Add(time.Minute), 200, `{"a":2}`)},
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	d := Start(context.Background(), Options{
		Exchange: "binance",
		From:     from,
		To:       from.Add(2 * time.Minute),
		CacheDir: t.TempDir(),
		Endpoint: ts.URL,
	}, zerolog.Nop())
	defer d.Close()

	msgs, err := drainAll(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if string(msgs[0].Message) != `{"a":1}` || string(msgs[1].Message) != `{"a":2}` {
		t.Errorf("unexpected payloads: %+v", msgs)
	}
}

func TestDriverEmptyIntermediateSliceYieldsDisconnect(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	m0 := fetchworker.FormatSliceKey(from)
	m1 := fetchworker.FormatSliceKey(from.Add(time.Minute))
	m2 := fetchworker.FormatSliceKey(from.Add(2 * time.Minute))

	srv := &sliceServer{bodies: map[string][]string{
		m0: {tsLine(from, 0, `{"a":1}`)},
		m1: {}, // empty minute
		m2: {tsLine(from.Add(2*time.Minute), 0, `{"a":2}`)},
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	d := Start(context.Background(), Options{
		Exchange:                     "binance",
		From:                         from,
		To:                           from.Add(3 * time.Minute),
		CacheDir:                     t.TempDir(),
		Endpoint:                     ts.URL,
		ReturnDisconnectsAsUndefined: true,
	}, zerolog.Nop())
	defer d.Close()

	msgs, err := drainAll(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (record, disconnect, record): %+v", len(msgs), msgs)
	}
	if msgs[0].Disconnect || !msgs[1].Disconnect || msgs[2].Disconnect {
		t.Errorf("unexpected disconnect pattern: %+v", msgs)
	}
}

func TestDriverConsecutiveEmptySlicesCoalesceToOneDisconnect(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	m0 := fetchworker.FormatSliceKey(from)
	m1 := fetchworker.FormatSliceKey(from.Add(time.Minute))
	m2 := fetchworker.FormatSliceKey(from.Add(2 * time.Minute))

	srv := &sliceServer{bodies: map[string][]string{
		m0: {tsLine(from, 0, `{"a":1}`)},
		m1: {},
		m2: {},
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	d := Start(context.Background(), Options{
		Exchange:                     "binance",
		From:                         from,
		To:                           from.Add(3 * time.Minute),
		CacheDir:                     t.TempDir(),
		Endpoint:                     ts.URL,
		ReturnDisconnectsAsUndefined: true,
	}, zerolog.Nop())
	defer d.Close()

	msgs, err := drainAll(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (record, single coalesced disconnect): %+v", len(msgs), msgs)
	}
	if msgs[0].Disconnect || !msgs[1].Disconnect {
		t.Errorf("unexpected disconnect pattern: %+v", msgs)
	}
}

func TestDriverPropagatesWorkerError(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	m0 := fetchworker.FormatSliceKey(from)
	m1 := fetchworker.FormatSliceKey(from.Add(time.Minute))

	srv := &sliceServer{
		bodies:  map[string][]string{m0: {tsLine(from, 0, `{"a":1}`)}},
		errKeys: map[string]bool{m1: true},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	d := Start(context.Background(), Options{
		Exchange: "binance",
		From:     from,
		To:       from.Add(2 * time.Minute),
		CacheDir: t.TempDir(),
		Endpoint: ts.URL,
	}, zerolog.Nop())
	defer d.Close()

	msgs, err := drainAll(t, d)
	if err == nil {
		t.Fatal("expected a propagated fetch error")
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages before error, want 1", len(msgs))
	}
}

func TestDriverSkipDecodingPreservesRawBytes(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	m0 := fetchworker.FormatSliceKey(from)

	srv := &sliceServer{bodies: map[string][]string{
		m0: {tsLine(from, 0, `{"a":1}`)},
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	d := Start(context.Background(), Options{
		Exchange:     "binance",
		From:         from,
		To:           from.Add(time.Minute),
		CacheDir:     t.TempDir(),
		Endpoint:     ts.URL,
		SkipDecoding: true,
	}, zerolog.Nop())
	defer d.Close()

	msgs, err := drainAll(t, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if string(msgs[0].RawMessage) != `{"a":1}` {
		t.Errorf("got raw message %q", msgs[0].RawMessage)
	}
	if !msgs[0].LocalTimestamp.IsZero() {
		t.Errorf("expected LocalTimestamp to stay zero in skip-decoding mode")
	}
}
