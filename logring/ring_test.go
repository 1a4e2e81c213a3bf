// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package logring

import (
	"bytes"
	"testing"
)

func TestWriteUnderCapacityPreservesOrder(t *testing.T) {
	var r Ring
	r.Write([]byte("hello "))
	r.Write([]byte("world"))

	got := r.Snapshot()
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
	if r.Len() != len("hello world") {
		t.Fatalf("Len = %d, want %d", r.Len(), len("hello world"))
	}
}

func TestWriteOverCapacityKeepsLastBytesInOrder(t *testing.T) {
	var r Ring

	// Write capacity+100 bytes of an increasing byte pattern; the
	// ring must retain exactly the last Capacity bytes, in order.
	total := Capacity + 100
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i)
	}

	// Feed it in chunks to exercise the wrap-mid-write path, not just
	// a single oversized write.
	const chunk = 4096
	for off := 0; off < total; off += chunk {
		end := off + chunk
		if end > total {
			end = total
		}
		r.Write(data[off:end])
	}

	got := r.Snapshot()
	want := data[total-Capacity:]
	if !bytes.Equal(got, want) {
		t.Fatalf("snapshot mismatch: got first/last bytes %d/%d, want %d/%d",
			got[0], got[len(got)-1], want[0], want[len(want)-1])
	}
	if r.Len() != Capacity {
		t.Fatalf("Len = %d, want %d", r.Len(), Capacity)
	}
}

func TestSingleWriteLargerThanCapacity(t *testing.T) {
	var r Ring
	data := make([]byte, Capacity+10)
	for i := range data {
		data[i] = byte(i)
	}
	r.Write(data)

	got := r.Snapshot()
	want := data[10:]
	if !bytes.Equal(got, want) {
		t.Fatalf("snapshot did not retain the final Capacity bytes")
	}
}

func TestReaderDrainsSnapshotInChunks(t *testing.T) {
	var r Ring
	r.Write([]byte("0123456789"))

	reader := r.StartRead()
	r.Write([]byte("ignored")) // must not be visible to the in-flight reader

	var got []byte
	for {
		chunk := reader.ReadChunk(3)
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}

	if !bytes.Equal(got, []byte("0123456789")) {
		t.Fatalf("got %q, want %q", got, "0123456789")
	}
}

func TestClearEmptiesRing(t *testing.T) {
	var r Ring
	r.Write([]byte("data"))
	r.Clear()

	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after Clear", r.Len())
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("Snapshot not empty after Clear")
	}
}
