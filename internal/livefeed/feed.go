// Package livefeed is the real-time counterpart to internal/fetchworker:
// instead of an HTTP slice download, it dials a WebSocket and turns the
// connection into the same shape of event the Stream Adapter consumes
// (spec.md §4.7), including the idle-timeout/reconnect policy.
//
// Grounded on ws/server.go's connection handling (gobwas/ws + wsutil, read
// deadlines, disconnect taxonomy) and ws/worker_pool.go's context-driven
// graceful shutdown, adapted from server-accepts-connection to
// client-dials-connection.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/tardis-go/tardis/internal/logging"
)

// defaultTimeoutInterval is spec.md §5's documented default idle timeout.
const defaultTimeoutInterval = 10 * time.Second

// Filter mirrors the public Filter type; sent to the remote endpoint as a
// subscription message once the socket is open.
type Filter struct {
	Channel string
	Symbols []string
}

// RawMessage is one element of a Feed's stream: either a disconnect marker
// or the verbatim bytes of one received WebSocket text frame.
type RawMessage struct {
	Disconnect bool
	Payload    []byte
}

// Feed dials url and streams RawMessages until its context is cancelled.
// Silence longer than the timeout interval is treated as a disconnect; the
// feed then reconnects on its own, per spec.md §4.7/§5.
type Feed struct {
	url    string
	logger zerolog.Logger

	mu      sync.Mutex
	timeout time.Duration
}

// New constructs a Feed for url with the default idle timeout.
func New(url string, logger zerolog.Logger) *Feed {
	return &Feed{url: url, logger: logger, timeout: defaultTimeoutInterval}
}

// SetTimeoutInterval changes the idle-silence window that triggers a
// reconnect. Zero disables the timeout entirely (spec.md §4.7).
func (f *Feed) SetTimeoutInterval(d time.Duration) {
	f.mu.Lock()
	f.timeout = d
	f.mu.Unlock()
}

func (f *Feed) timeoutInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

// Stream dials the feed and returns a channel of RawMessages plus a channel
// carrying at most one terminal error, mirroring fetchworker's
// Messages/Errors contract so the Stream Adapter can consume both sources
// uniformly. The message channel closes once ctx is cancelled or after a
// fatal error has been sent; the error channel is never closed.
func (f *Feed) Stream(ctx context.Context, filters []Filter) (<-chan RawMessage, <-chan error) {
	out := make(chan RawMessage, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer logging.RecoverPanic(f.logger, "livefeed.Stream", map[string]any{"url": f.url})

		for {
			if ctx.Err() != nil {
				return
			}
			if err := f.runOnce(ctx, filters, out); err != nil {
				select {
				case errc <- err:
				default:
				}
				return
			}
			// runOnce returned nil on a dropped connection (idle timeout,
			// read failure or close frame) or on cancellation; loop to
			// reconnect, unless the caller cancelled meanwhile.
		}
	}()

	return out, errc
}

// runOnce dials, subscribes, and reads frames until either the connection
// drops (returns nil, to trigger a reconnect), the context is cancelled
// (returns nil), or a fatal error occurs (returned to the caller).
func (f *Feed) runOnce(ctx context.Context, filters []Filter, out chan<- RawMessage) error {
	conn, _, _, err := ws.Dial(ctx, f.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	for _, flt := range filters {
		sub, err := json.Marshal(map[string]any{
			"op":      "subscribe",
			"channel": flt.Channel,
			"symbols": flt.Symbols,
		})
		if err != nil {
			return fmt.Errorf("marshal subscription: %w", err)
		}
		if err := wsutil.WriteClientMessage(conn, ws.OpText, sub); err != nil {
			return fmt.Errorf("send subscription: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if interval := f.timeoutInterval(); interval > 0 {
			conn.SetReadDeadline(time.Now().Add(interval))
		}

		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				f.emitDisconnect(out)
				return nil // reconnect
			}
			f.emitDisconnect(out)
			return nil // any read failure is treated as a capture-side disconnect, not fatal
		}

		if op == ws.OpClose {
			f.emitDisconnect(out)
			return nil // reconnect
		}
		if op != ws.OpText {
			continue
		}

		select {
		case out <- RawMessage{Payload: msg}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Feed) emitDisconnect(out chan<- RawMessage) {
	select {
	case out <- RawMessage{Disconnect: true}:
	default:
	}
}
