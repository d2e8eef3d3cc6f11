package tardis

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tardis-go/tardis/internal/fetchworker"
	"github.com/tardis-go/tardis/internal/normalize/mappers"
)

func gzipLines(lines ...string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, l := range lines {
		gz.Write([]byte(l + "\n"))
	}
	gz.Close()
	return buf.Bytes()
}

func TestReplayYieldsDecodedMessages(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	key := fetchworker.FormatSliceKey(from)
	line := from.Format("2006-01-02T15:04:05.000Z") + ` {"type":"trade","symbol":"BTC-USD"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sliceKey := r.URL.Query().Get("sliceKey")
		if sliceKey == key {
			w.Write(gzipLines(line))
			return
		}
		w.Write(gzipLines())
	}))
	defer srv.Close()

	if err := Init(Config{Endpoint: srv.URL, CacheDir: t.TempDir()}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := NewReplay(ctx, ReplayOptions{
		Exchange: "binance",
		From:     "2020-03-01T00:00:00.000Z",
		To:       "2020-03-01T00:01:00.000Z",
		Filters:  []Filter{{Channel: "trade", Symbols: []string{"BTC-USD"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.Next() {
		t.Fatalf("expected a message, Err=%v", r.Err())
	}
	if string(r.Message().Message) != `{"type":"trade","symbol":"BTC-USD"}` {
		t.Errorf("got %s", r.Message().Message)
	}
	if r.Next() {
		t.Errorf("expected exactly one message, got a second: %+v", r.Message())
	}
	if err := r.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReplayNormalizedAppliesMappers(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	key := fetchworker.FormatSliceKey(from)
	line := from.Format("2006-01-02T15:04:05.000Z") + ` {"type":"trade","symbol":"btc-usd","price":100}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sliceKey := r.URL.Query().Get("sliceKey")
		if sliceKey == key {
			w.Write(gzipLines(line))
			return
		}
		w.Write(gzipLines())
	}))
	defer srv.Close()

	if err := Init(Config{Endpoint: srv.URL, CacheDir: t.TempDir()}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := ReplayNormalized(ctx,
		ReplayOptions{
			Exchange: "binance",
			From:     "2020-03-01T00:00:00.000Z",
			To:       "2020-03-01T00:01:00.000Z",
		},
		NormalizeOptions{Symbols: []string{"BTC-USD"}},
		mappers.NewGeneric,
	)
	if err != nil {
		t.Fatal(err)
	}
	defer adapter.Close()

	if !adapter.Next() {
		t.Fatalf("expected a normalized record, Err=%v", adapter.Err())
	}
	rec := adapter.Current()
	if rec.Type != "trade" || rec.Symbol != "BTC-USD" {
		t.Errorf("got %+v", rec)
	}
}

func TestReplayRejectsInvalidOptions(t *testing.T) {
	if err := Init(Config{CacheDir: t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	_, err := NewReplay(context.Background(), ReplayOptions{
		Exchange: "not-an-exchange",
		From:     "2020-03-01",
		To:       "2020-03-02",
	})
	if err == nil {
		t.Fatal("expected a validation error for an unknown exchange")
	}
}
