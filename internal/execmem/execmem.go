// Package execmem hands out executable memory for generated code.
//
// Chunks are mapped from the OS and carved into blocks. Free space is kept in
// two btrees, one ordered by size for best-fit allocation and one ordered by
// address so neighbouring spans coalesce when a block is released.
package execmem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docker/go-units"
	"github.com/google/btree"
)

// Mode selects how writable and executable access are granted.
type Mode int

const (
	// ModeRWX maps chunks readable, writable and executable at once.
	ModeRWX Mode = iota
	// ModeDual maps each chunk twice from a memfd: one RW view for writing
	// and one RX view handed out as the code address.
	ModeDual
	// ModeWX keeps every block either writable or executable and toggles
	// protection around writes. Each block owns its pages.
	ModeWX
)

func (m Mode) String() string {
	switch m {
	case ModeRWX:
		return "rwx"
	case ModeDual:
		return "dual"
	case ModeWX:
		return "wx"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "rwx":
		return ModeRWX, nil
	case "dual":
		return ModeDual, nil
	case "wx":
		return ModeWX, nil
	}
	return 0, fmt.Errorf("unknown protection mode %q", s)
}

const (
	DefaultChunkSize = 64 * 1024
	blockAlign       = 16
)

var (
	ErrUnsupported = errors.New("execmem: executable memory not supported on this platform")
	ErrClosed      = errors.New("execmem: block already freed")
)

// Options configures an Allocator.
type Options struct {
	Mode      Mode
	ChunkSize int
	Logger    *slog.Logger
}

type chunk struct {
	// mu serialises protection changes. In W^X mode a chunk backs one
	// block and the whole mapping is toggled.
	mu sync.Mutex
	rw []byte
	rx []byte
	// base is the executable address of rx.
	base uintptr
}

func (c *chunk) size() int { return len(c.rw) }

type span struct {
	c    *chunk
	addr uintptr
	size int
}

func bySize(a, b span) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.addr < b.addr
}

func byAddr(a, b span) bool { return a.addr < b.addr }

// Allocator is safe for concurrent use.
type Allocator struct {
	mu        sync.Mutex
	mode      Mode
	chunkSize int
	log       *slog.Logger

	chunks map[*chunk]struct{}
	free   *btree.BTreeG[span]
	addrs  *btree.BTreeG[span]

	mapped int
	inUse  int
}

// New returns an allocator. The mode is downgraded with a warning when the
// platform cannot provide it.
func New(opts Options) *Allocator {
	a := &Allocator{
		mode:      opts.Mode,
		chunkSize: opts.ChunkSize,
		log:       opts.Logger,
		chunks:    make(map[*chunk]struct{}),
		free:      btree.NewG[span](8, bySize),
		addrs:     btree.NewG[span](8, byAddr),
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.chunkSize <= 0 {
		a.chunkSize = DefaultChunkSize
	}
	a.chunkSize = roundUp(a.chunkSize, pageSize())
	if a.mode == ModeDual && !dualSupported() {
		a.log.Warn("dual mapping unavailable, falling back", "mode", defaultMode())
		a.mode = defaultMode()
	}
	return a
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

// Default returns the process-wide allocator.
func Default() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = New(Options{Mode: defaultMode()})
	})
	return defaultAlloc
}

// Mode reports the protection mode in effect.
func (a *Allocator) Mode() Mode { return a.mode }

// Stats describes the allocator's mappings.
type Stats struct {
	Mapped int
	InUse  int
	Chunks int
	Spans  int
}

func (s Stats) String() string {
	return fmt.Sprintf("%s mapped, %s in use, %d chunks, %d free spans",
		units.BytesSize(float64(s.Mapped)), units.BytesSize(float64(s.InUse)), s.Chunks, s.Spans)
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Mapped: a.mapped, InUse: a.inUse, Chunks: len(a.chunks), Spans: a.free.Len()}
}

// Alloc returns a block of at least size bytes.
func (a *Allocator) Alloc(size int) (*Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("execmem: invalid allocation size %d", size)
	}
	size = roundUp(size, blockAlign)

	if a.mode == ModeWX {
		c, err := a.mapChunk(roundUp(size, pageSize()))
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.inUse += size
		a.mu.Unlock()
		b := &Block{a: a, c: c, addr: c.base, size: size}
		track(b)
		return b, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var found span
	ok := false
	a.free.AscendGreaterOrEqual(span{size: size}, func(s span) bool {
		found, ok = s, true
		return false
	})
	if !ok {
		want := a.chunkSize
		if size > want {
			want = roundUp(size, pageSize())
		}
		c, err := a.mapChunkLocked(want)
		if err != nil {
			return nil, err
		}
		found = span{c: c, addr: c.base, size: c.size()}
	} else {
		a.removeSpan(found)
	}
	if rest := found.size - size; rest > 0 {
		a.insertSpan(span{c: found.c, addr: found.addr + uintptr(size), size: rest})
	}
	a.inUse += size
	b := &Block{a: a, c: found.c, addr: found.addr, size: size}
	track(b)
	return b, nil
}

func (a *Allocator) mapChunk(size int) (*chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapChunkLocked(size)
}

func (a *Allocator) mapChunkLocked(size int) (*chunk, error) {
	c, err := mapChunk(a.mode, size)
	if err != nil {
		return nil, fmt.Errorf("execmem: map %s chunk (%s): %w", units.BytesSize(float64(size)), a.mode, err)
	}
	a.chunks[c] = struct{}{}
	a.mapped += c.size()
	a.log.Debug("execmem chunk mapped", "size", c.size(), "mode", a.mode.String())
	return c, nil
}

func (a *Allocator) insertSpan(s span) {
	a.free.ReplaceOrInsert(s)
	a.addrs.ReplaceOrInsert(s)
}

func (a *Allocator) removeSpan(s span) {
	a.free.Delete(s)
	a.addrs.Delete(s)
}

func (a *Allocator) release(b *Block) error {
	if a.mode == ModeWX {
		a.mu.Lock()
		delete(a.chunks, b.c)
		a.mapped -= b.c.size()
		a.inUse -= b.size
		a.mu.Unlock()
		return unmapChunk(b.c)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse -= b.size
	s := span{c: b.c, addr: b.addr, size: b.size}
	var prev, next span
	a.addrs.DescendLessOrEqual(span{addr: s.addr}, func(p span) bool {
		prev = p
		return false
	})
	a.addrs.AscendGreaterOrEqual(span{addr: s.addr + uintptr(s.size)}, func(n span) bool {
		next = n
		return false
	})
	if prev.c == s.c && prev.addr+uintptr(prev.size) == s.addr {
		a.removeSpan(prev)
		s.addr = prev.addr
		s.size += prev.size
	}
	if next.c == s.c && next.addr == s.addr+uintptr(s.size) {
		a.removeSpan(next)
		s.size += next.size
	}
	a.insertSpan(s)
	return nil
}

// FreeUnused returns chunks without live blocks to the OS.
func (a *Allocator) FreeUnused() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var whole []span
	a.free.Ascend(func(s span) bool {
		if s.addr == s.c.base && s.size == s.c.size() {
			whole = append(whole, s)
		}
		return true
	})
	var errs []error
	for _, s := range whole {
		a.removeSpan(s)
		delete(a.chunks, s.c)
		a.mapped -= s.c.size()
		if err := unmapChunk(s.c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(whole) > 0 {
		a.log.Debug("execmem released unused chunks", "count", len(whole))
	}
	return errors.Join(errs...)
}

func roundUp(v, to int) int { return (v + to - 1) / to * to }
