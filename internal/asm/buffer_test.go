package asm

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferChainsFragments(t *testing.T) {
	var buf Buffer

	chunk := bytes.Repeat([]byte{0xAB}, 1000)
	for i := 0; i < 5; i++ {
		off, err := buf.Append(chunk)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if off != i*1000 {
			t.Fatalf("append %d offset=%d, want %d", i, off, i*1000)
		}
	}

	if got, want := buf.Len(), 5000; got != want {
		t.Fatalf("Len()=%d, want %d", got, want)
	}
	// 4 chunks fit in the first fragment, the fifth forces a new one.
	if got, want := buf.Fragments(), 2; got != want {
		t.Fatalf("Fragments()=%d, want %d", got, want)
	}
	if got := buf.Bytes(); !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 5000)) {
		t.Fatalf("Bytes() mismatch")
	}
}

func TestBufferReservationsAreContiguous(t *testing.T) {
	var buf Buffer

	if _, _, err := buf.Reserve(FragmentSize - 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	off, err := buf.Put32(0x11223344)
	if err != nil {
		t.Fatalf("put32: %v", err)
	}
	if off != FragmentSize-2 {
		t.Fatalf("put32 offset=%d, want %d", off, FragmentSize-2)
	}
	word, err := buf.Slice(off, 4)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if !bytes.Equal(word, []byte{0x44, 0x33, 0x22, 0x11}) {
		t.Fatalf("slice=% x", word)
	}

	word[0] = 0x55
	if got := buf.Bytes()[off]; got != 0x55 {
		t.Fatalf("patch through Slice not visible, got 0x%x", got)
	}
}

func TestBufferLimit(t *testing.T) {
	buf := Buffer{Limit: 8}
	if _, err := buf.Append(make([]byte, 8)); err != nil {
		t.Fatalf("append within limit: %v", err)
	}
	if _, err := buf.Append([]byte{1}); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("append past limit err=%v, want ErrBufferFull", err)
	}
	if got := buf.Len(); got != 8 {
		t.Fatalf("Len()=%d after failed append, want 8", got)
	}
}

func TestBufferRejectsOversizedReservation(t *testing.T) {
	var buf Buffer
	if _, _, err := buf.Reserve(FragmentSize + 1); err == nil {
		t.Fatalf("expected error for oversized reservation")
	}
}
