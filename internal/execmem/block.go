package execmem

import (
	"fmt"
	"sync/atomic"
)

// Block is one allocation. Code is written through Bytes and executed at
// Addr; the two differ by ExecOffset in dual mode.
type Block struct {
	a     *Allocator
	c     *chunk
	addr  uintptr
	size  int
	freed atomic.Bool
	// sealed is only tracked in W^X mode.
	sealed bool
}

func (b *Block) off() int { return int(b.addr - b.c.base) }

// Addr is the executable address of the first byte.
func (b *Block) Addr() uintptr { return b.addr }

// Size is the usable size in bytes.
func (b *Block) Size() int { return b.size }

// Bytes is the writable view of the block. In W^X mode it may only be
// written between Unseal and Seal.
func (b *Block) Bytes() []byte { return b.c.rw[b.off() : b.off()+b.size] }

// ExecOffset is Addr minus the address of the writable view.
func (b *Block) ExecOffset() int64 {
	return int64(b.c.base) - int64(rwBase(b.c))
}

// Seal makes the block executable after writes and flushes the instruction
// cache over it.
func (b *Block) Seal() error {
	if b.freed.Load() {
		return ErrClosed
	}
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	return b.sealLocked()
}

// Unseal makes the block writable again. It is a no-op unless the allocator
// runs in W^X mode.
func (b *Block) Unseal() error {
	if b.freed.Load() {
		return ErrClosed
	}
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	return b.unsealLocked()
}

func (b *Block) sealLocked() error {
	if b.a.mode == ModeWX && !b.sealed {
		if err := protect(b.c.rw, true); err != nil {
			return fmt.Errorf("execmem: seal: %w", err)
		}
		b.sealed = true
	}
	FlushICache(b.addr, b.size)
	return nil
}

func (b *Block) unsealLocked() error {
	if b.a.mode == ModeWX && b.sealed {
		if err := protect(b.c.rw, false); err != nil {
			return fmt.Errorf("execmem: unseal: %w", err)
		}
		b.sealed = false
	}
	return nil
}

// Patch rewrites n bytes at off inside live code. Write access is toggled
// around fn when needed and the instruction cache is flushed afterwards.
// Concurrent patches of one chunk are serialised.
func (b *Block) Patch(off, n int, fn func(p []byte)) error {
	if off < 0 || n < 0 || off+n > b.size {
		return fmt.Errorf("execmem: patch range [%d,%d) outside block of %d bytes", off, off+n, b.size)
	}
	if b.freed.Load() {
		return ErrClosed
	}
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	wasSealed := b.sealed
	if err := b.unsealLocked(); err != nil {
		return err
	}
	fn(b.Bytes()[off : off+n])
	if wasSealed {
		if err := b.sealLocked(); err != nil {
			return err
		}
	}
	FlushICache(b.addr+uintptr(off), n)
	return nil
}

// Contains reports whether the executable address falls inside the block.
func (b *Block) Contains(addr uintptr) bool {
	return addr >= b.addr && addr < b.addr+uintptr(b.size)
}

// Free returns the block to its allocator. Freeing twice is an error.
func (b *Block) Free() error {
	if !b.freed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	untrack(b)
	return b.a.release(b)
}
