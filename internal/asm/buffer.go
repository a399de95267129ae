package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FragmentSize is the payload capacity of a single buffer fragment. No
// single reservation may exceed it.
const FragmentSize = 4096

// ErrBufferFull is returned when a reservation would grow the buffer past
// its configured limit.
var ErrBufferFull = errors.New("asm: code buffer limit reached")

type fragment struct {
	next  *fragment
	start int
	used  int
	data  [FragmentSize]byte
}

// Buffer is an append-only chain of fixed-capacity fragments. Every
// reservation is contiguous, so an encoded instruction never straddles two
// fragments. Offsets are logical: they count only bytes that were reserved.
type Buffer struct {
	head  *fragment
	tail  *fragment
	size  int
	count int

	// Limit bounds the total number of reserved bytes. Zero means unlimited.
	Limit int
}

// Len returns the number of bytes reserved so far.
func (b *Buffer) Len() int { return b.size }

// Fragments returns the number of fragments in the chain.
func (b *Buffer) Fragments() int { return b.count }

// Reserve returns a zeroed, contiguous slice of n bytes at the end of the
// buffer together with its logical offset.
func (b *Buffer) Reserve(n int) ([]byte, int, error) {
	if n < 0 || n > FragmentSize {
		return nil, 0, fmt.Errorf("asm: reservation of %d bytes out of range", n)
	}
	if b.Limit > 0 && b.size+n > b.Limit {
		return nil, 0, ErrBufferFull
	}
	if b.tail == nil || b.tail.used+n > FragmentSize {
		frag := &fragment{start: b.size}
		if b.tail == nil {
			b.head = frag
		} else {
			b.tail.next = frag
		}
		b.tail = frag
		b.count++
	}
	off := b.size
	p := b.tail.data[b.tail.used : b.tail.used+n : b.tail.used+n]
	b.tail.used += n
	b.size += n
	return p, off, nil
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) (int, error) {
	dst, off, err := b.Reserve(len(p))
	if err != nil {
		return 0, err
	}
	copy(dst, p)
	return off, nil
}

// Put32 appends a little-endian 32-bit word.
func (b *Buffer) Put32(word uint32) (int, error) {
	dst, off, err := b.Reserve(4)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(dst, word)
	return off, nil
}

// Slice returns the n bytes at logical offset off. The range must not cross a
// fragment boundary.
func (b *Buffer) Slice(off, n int) ([]byte, error) {
	for frag := b.head; frag != nil; frag = frag.next {
		if off < frag.start || off >= frag.start+frag.used {
			continue
		}
		local := off - frag.start
		if local+n > frag.used {
			return nil, fmt.Errorf("asm: range [%d,%d) crosses a fragment boundary", off, off+n)
		}
		return frag.data[local : local+n : local+n], nil
	}
	return nil, fmt.Errorf("asm: offset %d out of range (size %d)", off, b.size)
}

// Each calls fn for every fragment payload in order, stopping early when fn
// returns false.
func (b *Buffer) Each(fn func(off int, p []byte) bool) {
	for frag := b.head; frag != nil; frag = frag.next {
		if !fn(frag.start, frag.data[:frag.used]) {
			return
		}
	}
}

// Bytes concatenates the fragments into a fresh slice.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	b.Each(func(_ int, p []byte) bool {
		out = append(out, p...)
		return true
	})
	return out
}

// Reset drops every fragment.
func (b *Buffer) Reset() {
	b.head = nil
	b.tail = nil
	b.size = 0
	b.count = 0
}
