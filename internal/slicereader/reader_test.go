package slicereader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeSlice(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	for _, line := range lines {
		if _, err := gz.Write([]byte(line + "\n")); err != nil {
			t.Fatal(err)
		}
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReaderParsesRecordsAndDisconnects(t *testing.T) {
	dir := t.TempDir()
	ts := "2020-03-01T00:00:00.100Z"
	path := writeSlice(t, dir, "slice.json.gz", []string{
		ts + ` {"a":1}`,
		"",
		ts + ` {"a":2}`,
	})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var records []Record
	for r.Next() {
		records = append(records, r.Record())
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if string(records[0].Timestamp) != ts || string(records[0].Payload) != `{"a":1}` {
		t.Errorf("record 0: %+v", records[0])
	}
	if !records[1].IsDisconnect {
		t.Errorf("record 1: expected disconnect")
	}
	if string(records[2].Payload) != `{"a":2}` {
		t.Errorf("record 2: %+v", records[2])
	}
	if r.Lines() != 3 {
		t.Errorf("got %d lines, want 3", r.Lines())
	}
}

func TestReaderEmptySlice(t *testing.T) {
	dir := t.TempDir()
	path := writeSlice(t, dir, "empty.json.gz", nil)

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Next() {
		t.Fatal("expected no records in empty slice")
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Lines() != 0 {
		t.Errorf("got %d lines, want 0", r.Lines())
	}
}

func TestReaderTruncatedLineIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeSlice(t, dir, "bad.json.gz", []string{"short"})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Next() {
		t.Fatal("expected Next to fail on a truncated line")
	}
	if r.Err() == nil {
		t.Fatal("expected a fatal error")
	}
}

func TestReaderMalformedSeparatorIsFatal(t *testing.T) {
	dir := t.TempDir()
	ts := "2020-03-01T00:00:00.100Z" // 24 chars
	line := ts + `X{"a":1}`         // byte 24 is not a space
	path := writeSlice(t, dir, "bad_sep.json.gz", []string{line})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Next() {
		t.Fatal("expected Next to fail on a malformed separator")
	}
	if r.Err() == nil {
		t.Fatal("expected a fatal error")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.json.gz")); err == nil {
		t.Fatal("expected an error opening a missing file")
	}
}
