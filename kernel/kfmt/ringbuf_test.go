package kfmt

import (
	"io"
	"testing"
)

func TestRingBufferWrapAround(t *testing.T) {
	var rb ringBuffer

	rb.Write([]byte("hello"))

	buf := make([]byte, 5)
	n, err := rb.Read(buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("got (%q, %d, %v)", buf[:n], n, err)
	}

	if _, err := rb.Read(buf); err != io.EOF {
		t.Fatalf("expected io.EOF on empty buffer, got %v", err)
	}
}

func TestRingBufferOverrunDropsOldestBytes(t *testing.T) {
	// A writer that overruns a reader that never drains the buffer does
	// not block: each byte written into a full buffer pushes the read
	// cursor forward, so the oldest bytes are lost and the newest
	// ringBufferSize-1 bytes stay readable. This is accepted for an early
	// boot print buffer: losing stale diagnostic output is preferable to a
	// kernel that stalls because nobody read from it yet.
	var rb ringBuffer

	filler := make([]byte, ringBufferSize)
	rb.Write(filler)
	rb.Write([]byte("OVERFLOW"))

	got, err := io.ReadAll(&rb)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != ringBufferSize-1 {
		t.Fatalf("expected %d buffered bytes, got %d", ringBufferSize-1, len(got))
	}
	if tail := string(got[len(got)-8:]); tail != "OVERFLOW" {
		t.Fatalf("expected the newest bytes to be kept, got tail %q", tail)
	}
}

func TestRingBufferPartialWrap(t *testing.T) {
	var rb ringBuffer

	// Push the write cursor most of the way around so the next write
	// wraps across the end of the backing array.
	rb.Write(make([]byte, ringBufferSize-4))
	drained := make([]byte, ringBufferSize-4)
	rb.Read(drained)

	rb.Write([]byte("wraps"))

	// One Read stops at the end of the backing array; io.ReadFull collects
	// the bytes past the wrap with the next call.
	out := make([]byte, 5)
	n, err := io.ReadFull(&rb, out)
	if err != nil || string(out[:n]) != "wraps" {
		t.Fatalf("got (%q, %v)", out[:n], err)
	}
}
