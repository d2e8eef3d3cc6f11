package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tardis-go/tardis/internal/cacheindex"
	"github.com/tardis-go/tardis/internal/fetchworker"
	"github.com/tardis-go/tardis/internal/logging"
	"github.com/tardis-go/tardis/internal/metrics"
	"github.com/tardis-go/tardis/internal/slicereader"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Options configures one replay job. Callers are expected to have already
// run it through internal/validate; the driver itself does not re-validate
// the catalog, only range mechanics.
type Options struct {
	Exchange string
	From     time.Time
	To       time.Time
	Filters  []fetchworker.Filter

	SkipDecoding                 bool
	ReturnDisconnectsAsUndefined bool

	CacheDir string
	Endpoint string
	APIKey   string

	FetchConfig       fetchworker.Config
	SlicePollInterval time.Duration
}

type result struct {
	msg Message
	err error
}

// Driver is the pull-based iterator spec.md §9 calls for: a single
// goroutine runs the orchestration algorithm (§4.5) and feeds a channel;
// Next/Message/Err/Close give the caller a synchronous iterator over it.
// The channel itself is the backpressure mechanism (§5): the orchestration
// goroutine blocks on send until the caller calls Next again.
type Driver struct {
	opts   Options
	logger zerolog.Logger

	worker *fetchworker.Worker
	index  *cacheindex.Index

	results chan result

	cur Message
	err error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start validates nothing itself (the caller validates options against the
// catalog beforehand, per spec.md §4.5 step 1) and launches the fetch
// worker plus the driver's own orchestration goroutine.
func Start(ctx context.Context, opts Options, logger zerolog.Logger) *Driver {
	if opts.SlicePollInterval <= 0 {
		opts.SlicePollInterval = 100 * time.Millisecond
	}

	dctx, cancel := context.WithCancel(ctx)

	job := fetchworker.Job{
		CacheDir: opts.CacheDir,
		Endpoint: opts.Endpoint,
		APIKey:   opts.APIKey,
		Exchange: opts.Exchange,
		From:     opts.From,
		To:       opts.To,
		Filters:  opts.Filters,
	}

	d := &Driver{
		opts:    opts,
		logger:  logger,
		worker:  fetchworker.New(job, opts.FetchConfig, logger),
		index:   cacheindex.New(),
		results: make(chan result),
		ctx:     dctx,
		cancel:  cancel,
	}

	d.worker.Start(dctx)

	d.wg.Add(1)
	go d.handleWorkerEvents(dctx)

	d.wg.Add(1)
	go d.run(dctx)

	return d
}

// Next advances to the next yielded element. It returns false at the end
// of the range, on a fatal error, or when the caller cancels the context
// passed to Start; Err distinguishes these.
func (d *Driver) Next() bool {
	r, ok := <-d.results
	if !ok {
		return false
	}
	if r.err != nil {
		d.err = r.err
		return false
	}
	d.cur = r.msg
	return true
}

// Message returns the most recently read element.
func (d *Driver) Message() Message { return d.cur }

// Err returns the fatal error that stopped iteration, if any. A caller
// that simply cancelled its context sees Err() == nil or
// context.Canceled, depending on whether the cancellation error reached
// Next before the results channel closed — per spec.md §7,
// cancellation is a terminal state, not an error category.
func (d *Driver) Err() error { return d.err }

// Close cancels the driver and blocks until both the orchestration
// goroutine and the fetch worker have released all resources (spec.md
// §5's cooperative cancellation: "no further cache-file writes occur
// after the caller has moved on").
func (d *Driver) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}

// handleWorkerEvents copies fetch worker announcements into the cache
// index. It runs on its own goroutine so it keeps making progress while
// run() is blocked inside slice-reader I/O, per spec.md §4.3's
// independent-execution-context requirement.
func (d *Driver) handleWorkerEvents(ctx context.Context) {
	defer d.wg.Done()
	defer logging.RecoverPanic(d.logger, "replay.handleWorkerEvents", map[string]any{"exchange": d.opts.Exchange})

	for {
		select {
		case <-ctx.Done():
			return

		case m, ok := <-d.worker.Messages():
			if !ok {
				return
			}
			d.index.Put(m.SliceKey, m.Path)
			metrics.CacheIndexDepth.WithLabelValues(d.opts.Exchange).Inc()

		case err := <-d.worker.Errors():
			d.index.SetErr(err)

		case <-d.worker.Done():
			d.drainMessages()
			// Done can win the select over a buffered error; latch it too.
			select {
			case err := <-d.worker.Errors():
				d.index.SetErr(err)
			default:
			}
			return
		}
	}
}

// drainMessages flushes any announcements still buffered in the worker's
// message channel after it signals Done, so a message racing the Done
// close is never lost.
func (d *Driver) drainMessages() {
	for {
		select {
		case m, ok := <-d.worker.Messages():
			if !ok {
				return
			}
			d.index.Put(m.SliceKey, m.Path)
			metrics.CacheIndexDepth.WithLabelValues(d.opts.Exchange).Inc()
		default:
			return
		}
	}
}

// run implements spec.md §4.5's algorithm.
func (d *Driver) run(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.results)
	defer d.worker.Stop()
	defer logging.RecoverPanic(d.logger, "replay.run", map[string]any{"exchange": d.opts.Exchange})

	current := d.opts.From.UTC().Truncate(time.Minute)
	lastWasDisconnect := false

	for current.Before(d.opts.To) {
		sliceKey := fetchworker.FormatSliceKey(current)

		path, err := d.waitForSlice(ctx, sliceKey)
		if err != nil {
			d.emitErr(ctx, err)
			return
		}

		nonEmpty, ok := d.consumeSlice(ctx, path, &lastWasDisconnect)
		if !ok {
			return
		}

		if nonEmpty == 0 && d.opts.ReturnDisconnectsAsUndefined && !lastWasDisconnect {
			if !d.emit(ctx, Message{Disconnect: true}) {
				return
			}
			lastWasDisconnect = true
			metrics.DisconnectsYielded.WithLabelValues(d.opts.Exchange).Inc()
		}

		d.index.Delete(sliceKey)
		metrics.CacheIndexDepth.WithLabelValues(d.opts.Exchange).Dec()
		current = current.Add(time.Minute)
	}
}

// consumeSlice streams one slice through the Slice Reader, yielding a
// Message per record, and reports how many non-empty records it produced.
// The bool result is false if the caller abandoned iteration or a fatal
// error occurred (both already reported to d.results).
func (d *Driver) consumeSlice(ctx context.Context, path string, lastWasDisconnect *bool) (nonEmpty int, ok bool) {
	reader, err := slicereader.Open(path)
	if err != nil {
		d.emitErr(ctx, err)
		return 0, false
	}
	defer reader.Close()

	for reader.Next() {
		rec := reader.Record()

		if rec.IsDisconnect {
			if d.opts.ReturnDisconnectsAsUndefined && !*lastWasDisconnect {
				if !d.emit(ctx, Message{Disconnect: true}) {
					return nonEmpty, false
				}
				*lastWasDisconnect = true
				metrics.DisconnectsYielded.WithLabelValues(d.opts.Exchange).Inc()
			}
			continue
		}

		msg, err := decode(rec, d.opts.SkipDecoding)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(d.opts.Exchange).Inc()
			d.emitErr(ctx, fmt.Errorf("slice %s: %w", path, err))
			return nonEmpty, false
		}
		if !d.emit(ctx, msg) {
			return nonEmpty, false
		}
		*lastWasDisconnect = false
		nonEmpty++
		metrics.RecordsYielded.WithLabelValues(d.opts.Exchange).Inc()
	}

	if err := reader.Err(); err != nil {
		metrics.DecodeErrors.WithLabelValues(d.opts.Exchange).Inc()
		d.emitErr(ctx, fmt.Errorf("slice %s: %w", path, err))
		return nonEmpty, false
	}

	return nonEmpty, true
}

// waitForSlice implements spec.md §4.5.b: poll the cache index for
// sliceKey, raising the worker's latched error immediately if one is set,
// otherwise waiting up to SlicePollInterval before re-checking. The index's
// Ready/ErrReady channels let this resolve sooner than the floor when the
// worker announces or fails promptly; the ticker is the documented fallback
// for the case where no notification arrives.
func (d *Driver) waitForSlice(ctx context.Context, sliceKey string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.WaitLoopDuration.WithLabelValues(d.opts.Exchange).Observe(time.Since(start).Seconds())
	}()

	ticker := time.NewTicker(d.opts.SlicePollInterval)
	defer ticker.Stop()

	for {
		if err := d.index.Err(); err != nil {
			return "", err
		}
		if path, found := d.index.Get(sliceKey); found {
			return path, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-d.index.ErrReady():
		case <-d.index.Ready():
		case <-ticker.C:
		}
	}
}

func (d *Driver) emit(ctx context.Context, msg Message) bool {
	select {
	case d.results <- result{msg: msg}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Driver) emitErr(ctx context.Context, err error) {
	select {
	case d.results <- result{err: err}:
	case <-ctx.Done():
	}
}

// decode implements spec.md §4.5's decoding policy: raw bytes verbatim in
// skip-decoding mode, or a parsed Instant plus validated JSON otherwise.
// Bytes are copied out of the Slice Reader's internal buffer because the
// Message crosses a goroutine boundary over d.results — without the copy,
// the reader's next Next() call would overwrite the bytes before the
// consumer goroutine gets to read them.
func decode(rec slicereader.Record, skipDecoding bool) (Message, error) {
	if skipDecoding {
		return Message{
			RawTimestamp: append([]byte(nil), rec.Timestamp...),
			RawMessage:   append([]byte(nil), rec.Payload...),
		}, nil
	}

	ts, err := time.Parse(timestampLayout, string(rec.Timestamp))
	if err != nil {
		return Message{}, fmt.Errorf("parse timestamp %q: %w", rec.Timestamp, err)
	}
	if !json.Valid(rec.Payload) {
		return Message{}, fmt.Errorf("invalid JSON payload at %s", rec.Timestamp)
	}

	return Message{
		LocalTimestamp: ts,
		Message:        json.RawMessage(append([]byte(nil), rec.Payload...)),
	}, nil
}
