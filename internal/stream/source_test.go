package stream

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/tardis-go/tardis/internal/livefeed"
)

func testServer(t *testing.T, fn func(conn net.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		go fn(conn)
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSourceStampsLocalTimestampOnRegularMessages(t *testing.T) {
	srv := testServer(t, func(conn net.Conn) {
		defer conn.Close()
		wsutil.ReadClientData(conn)
		wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"a":1}`))
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	feed := livefeed.New(wsURL(srv.URL), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := New(ctx, feed, nil)
	defer src.Close()

	before := time.Now().UTC()
	if !src.Next() {
		t.Fatalf("expected a message, got Err=%v", src.Err())
	}
	raw := src.Current()
	if raw.Disconnect {
		t.Fatal("expected a regular message, got a disconnect marker")
	}
	if string(raw.Payload) != `{"a":1}` {
		t.Errorf("got payload %q", raw.Payload)
	}
	if raw.LocalTimestamp.Before(before) {
		t.Errorf("expected LocalTimestamp to be stamped at read time, got %v (before %v)", raw.LocalTimestamp, before)
	}
}

func TestSourceSurfacesDisconnectMarker(t *testing.T) {
	srv := testServer(t, func(conn net.Conn) {
		wsutil.ReadClientData(conn)
		conn.Close()
	})
	defer srv.Close()

	feed := livefeed.New(wsURL(srv.URL), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := New(ctx, feed, nil)
	defer src.Close()

	if !src.Next() {
		t.Fatalf("expected a disconnect marker, got Err=%v", src.Err())
	}
	if !src.Current().Disconnect {
		t.Errorf("expected Disconnect=true, got %+v", src.Current())
	}
}

func TestSourceCloseStopsDelivery(t *testing.T) {
	srv := testServer(t, func(conn net.Conn) {
		defer conn.Close()
		wsutil.ReadClientData(conn)
		time.Sleep(time.Second)
	})
	defer srv.Close()

	feed := livefeed.New(wsURL(srv.URL), zerolog.Nop())
	ctx := context.Background()
	src := New(ctx, feed, nil)

	if err := src.Close(); err != nil {
		t.Fatal(err)
	}

	done := make(chan bool, 1)
	go func() { done <- src.Next() }()
	select {
	case ok := <-done:
		if ok {
			t.Error("expected Next to return false after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return promptly after Close")
	}
}
