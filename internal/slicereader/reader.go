// Package slicereader opens a cached gzip slice and streams out
// (timestamp, payload) pairs per the fixed-width record format in
// spec.md §4.2/§6.
package slicereader

import (
	"bufio"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/tardis-go/tardis/internal/linesplit"
)

// TimestampWidth is the fixed ASCII timestamp prefix length: the
// millisecond-precision ISO-8601 form "2020-03-01T00:00:13.123Z", 24 bytes,
// matching the layout every other part of this module reads and writes
// (internal/replay.decode's timestampLayout, the fetch worker's slice
// writers, and every record a slice actually contains).
const TimestampWidth = 24

// readBufferSize is the large read buffer spec.md §4.2 recommends
// (≥128 KiB) for both the file reader and the matching gunzip chunk size.
const readBufferSize = 128 * 1024

// Record is one parsed line: either a (timestamp, payload) pair, or an
// empty line standing in for a disconnect sentinel.
type Record struct {
	Timestamp    []byte // 24-byte ISO-8601 prefix, verbatim
	Payload      []byte // JSON payload, verbatim
	IsDisconnect bool   // true for an empty line
}

// Reader streams Records out of one gzip-compressed slice file. Exactly one
// Reader is open at a time per replay (spec.md §5's "Open file count per
// replay ≤ 1"): callers must fully drain or Close one before opening the
// next.
type Reader struct {
	file   *os.File
	gz     *gzip.Reader
	split  *linesplit.Splitter
	lines  int
	cur    Record
	err    error
	opened bool
}

// Open starts streaming decompression of path. The caller must call Close
// when done, whether or not iteration completed normally.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open slice %s: %w", path, err)
	}

	gz, err := gzip.NewReader(bufio.NewReaderSize(f, readBufferSize))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
	}

	return &Reader{
		file:   f,
		gz:     gz,
		split:  linesplit.New(gz, readBufferSize),
		opened: true,
	}, nil
}

// Next advances to the next record. It returns false at end-of-slice or on
// a fatal error (corrupt gzip, I/O error, a non-empty line shorter than
// TimestampWidth+1 bytes); Err distinguishes the two.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.split.Next() {
		if err := r.split.Err(); err != nil {
			r.err = fmt.Errorf("decompress/split slice: %w", err)
		}
		return false
	}

	line := r.split.Line()
	r.lines++

	if len(line) == 0 {
		r.cur = Record{IsDisconnect: true}
		return true
	}

	if len(line) < TimestampWidth+1 {
		r.err = fmt.Errorf("truncated record line: got %d bytes, want at least %d", len(line), TimestampWidth+1)
		return false
	}
	if line[TimestampWidth] != ' ' {
		r.err = fmt.Errorf("malformed record line: byte %d is %q, want a space separator", TimestampWidth, line[TimestampWidth])
		return false
	}

	r.cur = Record{
		Timestamp: line[:TimestampWidth],
		Payload:   line[TimestampWidth+1:],
	}
	return true
}

// Record returns the most recently read record. Its byte slices alias the
// splitter's internal buffer and are only valid until the next call to
// Next.
func (r *Reader) Record() Record {
	return r.cur
}

// Lines returns the number of lines consumed so far, letting the driver
// detect an "entirely empty" slice (spec.md §4.2).
func (r *Reader) Lines() int {
	return r.lines
}

// Err returns the fatal error that stopped iteration, if any.
func (r *Reader) Err() error {
	return r.err
}

// Close releases the gzip reader and underlying file. Safe to call once
// iteration has stopped, error or not.
func (r *Reader) Close() error {
	if !r.opened {
		return nil
	}
	r.opened = false

	gzErr := r.gz.Close()
	fileErr := r.file.Close()
	if gzErr != nil {
		return gzErr
	}
	if fileErr != nil {
		return fileErr
	}
	return nil
}
