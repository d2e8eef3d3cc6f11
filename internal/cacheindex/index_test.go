package cacheindex

import (
	"errors"
	"testing"
	"time"
)

func TestPutGetDelete(t *testing.T) {
	idx := New()

	if _, ok := idx.Get("k1"); ok {
		t.Fatal("expected miss on empty index")
	}

	idx.Put("k1", "/tmp/k1.json.gz")
	path, ok := idx.Get("k1")
	if !ok || path != "/tmp/k1.json.gz" {
		t.Fatalf("got (%q, %v), want hit", path, ok)
	}

	idx.Delete("k1")
	if _, ok := idx.Get("k1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestSetErrLatchesOnce(t *testing.T) {
	idx := New()
	first := errors.New("first")
	second := errors.New("second")

	idx.SetErr(first)
	idx.SetErr(second)

	if got := idx.Err(); got != first {
		t.Fatalf("got %v, want %v (only the first error should latch)", got, first)
	}

	select {
	case <-idx.ErrReady():
	case <-time.After(time.Second):
		t.Fatal("expected ErrReady to be closed once an error is latched")
	}
}

func TestReadyWakesUpOnPut(t *testing.T) {
	idx := New()
	idx.Put("k1", "/tmp/k1.json.gz")

	select {
	case <-idx.Ready():
	default:
		t.Fatal("expected a pending wakeup after Put")
	}
}

func TestReadyWakesUpOnSetErr(t *testing.T) {
	idx := New()
	idx.SetErr(errors.New("boom"))

	select {
	case <-idx.Ready():
	default:
		t.Fatal("expected a pending wakeup after SetErr")
	}
}
