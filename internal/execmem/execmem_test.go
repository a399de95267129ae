//go:build linux || darwin

package execmem

import (
	"errors"
	"runtime"
	"sync"
	"testing"
)

func newTestAllocator(t *testing.T, mode Mode) *Allocator {
	t.Helper()
	a := New(Options{Mode: mode, ChunkSize: 4 * pageSize()})
	t.Cleanup(func() {
		if err := a.FreeUnused(); err != nil {
			t.Errorf("FreeUnused: %v", err)
		}
	})
	return a
}

func TestAllocCoalescesFreedNeighbours(t *testing.T) {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		t.Skip("rwx mappings need MAP_JIT on darwin/arm64")
	}
	a := newTestAllocator(t, ModeRWX)

	var blocks []*Block
	for i := 0; i < 4; i++ {
		b, err := a.Alloc(100)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if b.Size() != 112 {
			t.Fatalf("size=%d, want 112", b.Size())
		}
		blocks = append(blocks, b)
	}
	if got := a.Stats().Chunks; got != 1 {
		t.Fatalf("chunks=%d, want 1", got)
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Addr() != blocks[i-1].Addr()+112 {
			t.Fatalf("block %d not adjacent to previous", i)
		}
	}

	// Free out of order so both neighbour merges are exercised.
	for _, idx := range []int{1, 3, 2, 0} {
		if err := blocks[idx].Free(); err != nil {
			t.Fatalf("Free(%d): %v", idx, err)
		}
	}
	stats := a.Stats()
	if stats.Spans != 1 || stats.InUse != 0 {
		t.Fatalf("after free: %+v, want one span and nothing in use", stats)
	}

	b, err := a.Alloc(3 * pageSize())
	if err != nil {
		t.Fatalf("Alloc after coalesce: %v", err)
	}
	if b.Addr() != blocks[0].Addr() {
		t.Fatalf("coalesced span not reused")
	}
	if err := b.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestDoubleFree(t *testing.T) {
	a := newTestAllocator(t, defaultMode())
	b, err := a.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := b.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := b.Free(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Free=%v, want ErrClosed", err)
	}
}

func TestFreeUnusedUnmapsEmptyChunks(t *testing.T) {
	a := newTestAllocator(t, defaultMode())
	b, err := a.Alloc(10 * pageSize())
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a.Stats().Mapped < 10*pageSize() {
		t.Fatalf("large allocation should map its own chunk")
	}
	if err := b.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := a.FreeUnused(); err != nil {
		t.Fatalf("FreeUnused: %v", err)
	}
	if stats := a.Stats(); stats.Mapped != 0 || stats.Chunks != 0 {
		t.Fatalf("stats after FreeUnused: %s", stats)
	}
}

func TestWXBlockTogglesProtection(t *testing.T) {
	a := newTestAllocator(t, ModeWX)
	b, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer b.Free()
	if b.Size() != 64 || len(b.Bytes()) != 64 {
		t.Fatalf("block size %d, %d writable bytes, want 64", b.Size(), len(b.Bytes()))
	}
	if st := a.Stats(); st.InUse != 64 || st.Mapped < 64 {
		t.Fatalf("stats %s", st)
	}

	copy(b.Bytes(), []byte{1, 2, 3, 4})
	if err := b.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := b.Patch(1, 2, func(p []byte) { p[0], p[1] = 9, 9 }); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !b.sealed {
		t.Fatalf("patch should leave a sealed block sealed")
	}
	if got := b.Bytes()[:4]; got[0] != 1 || got[1] != 9 || got[2] != 9 || got[3] != 4 {
		t.Fatalf("bytes after patch = %v", got)
	}
	if err := b.Patch(60, 8, func([]byte) {}); err == nil {
		t.Fatalf("expected out of range patch to fail")
	}
}

func TestConcurrentPatchesKeepBlockSealed(t *testing.T) {
	for _, mode := range []Mode{ModeRWX, ModeWX} {
		if mode == ModeRWX && runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			continue
		}
		a := newTestAllocator(t, mode)
		b, err := a.Alloc(256)
		if err != nil {
			t.Fatalf("%s: Alloc: %v", mode, err)
		}
		if err := b.Seal(); err != nil {
			t.Fatalf("%s: Seal: %v", mode, err)
		}
		var wg sync.WaitGroup
		for g := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 32 {
					off := g*32 + i
					if err := b.Patch(off, 1, func(p []byte) { p[0] = byte(off) }); err != nil {
						t.Errorf("%s: Patch(%d): %v", mode, off, err)
						return
					}
				}
			}()
		}
		wg.Wait()
		if mode == ModeWX && !b.sealed {
			t.Fatalf("%s: block left writable after concurrent patches", mode)
		}
		for i, v := range b.Bytes() {
			if v != byte(i) {
				t.Fatalf("%s: byte %d = %d", mode, i, v)
			}
		}
		if err := b.Free(); err != nil {
			t.Fatalf("%s: Free: %v", mode, err)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeRWX, ModeDual, ModeWX} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %v, %v", m, got, err)
		}
	}
	if _, err := ParseMode("rw"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestLookupFindsLiveBlocks(t *testing.T) {
	a := newTestAllocator(t, defaultMode())
	b, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got := Lookup(b.Addr() + 10); got != b {
		t.Fatalf("Lookup inside block = %p, want %p", got, b)
	}
	if got := Lookup(b.Addr() + uintptr(b.Size())); got == b {
		t.Fatalf("Lookup past the end should not return the block")
	}
	if err := b.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if got := Lookup(b.Addr()); got != nil {
		t.Fatalf("Lookup after Free = %p, want nil", got)
	}
}
