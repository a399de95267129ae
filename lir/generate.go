package lir

import (
	"context"
	"fmt"
	"sort"

	"github.com/docker/go-units"

	"github.com/tinyrange/lirjit/internal/execmem"
)

// Code is a linked function in executable memory.
type Code struct {
	arch  Arch
	block *execmem.Block

	// Entry is the executable address of the first instruction.
	Entry uintptr
	// Size is the length of the code in bytes.
	Size int
	// ExecutableOffset is the executable minus the writable address.
	ExecutableOffset int64
}

// Bytes returns a copy of the generated machine code.
func (k *Code) Bytes() []byte {
	out := make([]byte, k.Size)
	copy(out, k.block.Bytes())
	return out
}

// Free releases the executable memory. The code must not run afterwards.
func (k *Code) Free() error { return k.block.Free() }

// SetJumpAddr retargets a rewritable jump of this code.
func (k *Code) SetJumpAddr(addr, target uintptr) error {
	return SetJumpAddr(k.arch, addr, target, k.ExecutableOffset)
}

// SetConst rewrites the value loaded by a const of this code.
func (k *Code) SetConst(addr uintptr, v int64) error {
	return SetConst(k.arch, addr, v, k.ExecutableOffset)
}

// layout maps offsets in the unlinked buffer to offsets in the final code.
type layout struct {
	jumps []*Jump
	// shrink[i] is the number of bytes saved by jumps[:i].
	shrink []int
}

func newLayout(jumps []*Jump) *layout {
	l := &layout{jumps: jumps, shrink: make([]int, len(jumps)+1)}
	l.update()
	return l
}

func (l *layout) update() {
	for i, j := range l.jumps {
		l.shrink[i+1] = l.shrink[i] + j.max - j.size
	}
}

// final translates a raw offset. Jumps starting at or after raw do not
// move it.
func (l *layout) final(raw int) int {
	n := sort.Search(len(l.jumps), func(i int) bool { return l.jumps[i].off >= raw })
	return raw - l.shrink[n]
}

// relax shortens jumps until no jump can use a smaller encoding. Sizes only
// ever decrease, so every distance measured in a later pass is no larger
// and the loop terminates.
func (c *Compiler) relax(ctx context.Context, l *layout) (int, error) {
	passes := 0
	for {
		if err := ctx.Err(); err != nil {
			return passes, err
		}
		passes++
		changed := false
		for _, j := range l.jumps {
			if j.fixed() {
				continue
			}
			pc := int64(l.final(j.off))
			target := int64(l.final(j.label.off))
			if n := c.be.jumpSize(j, pc, target); n < j.size {
				j.size = n
				changed = true
			}
		}
		if !changed {
			return passes, nil
		}
		l.update()
	}
}

// GenerateCode links the recorded function into executable memory. The
// session is closed afterwards: every later emit fails with ErrCompiled.
func (c *Compiler) GenerateCode(ctx context.Context) (*Code, error) {
	if c.err != nil {
		return nil, c.err
	}
	for _, j := range c.jumps {
		if j.label == nil && !j.hasTarget {
			return nil, c.finish(errorf(ErrBadArgument, "jump j%d has no target", j.id))
		}
	}
	for _, p := range c.putLabels {
		if p.label == nil {
			return nil, c.finish(errorf(ErrBadArgument, "put_label p%d has no label", p.id))
		}
	}

	l := newLayout(c.jumps)
	passes, err := c.relax(ctx, l)
	if err != nil {
		// Cancellation leaves the session usable for another attempt.
		for _, j := range c.jumps {
			j.size = j.max
		}
		return nil, err
	}
	raw := c.buf.Bytes()
	size := l.final(len(raw))

	alloc := c.alloc
	if alloc == nil {
		alloc = execmem.Default()
	}
	block, err := alloc.Alloc(max(size, 1))
	if err != nil {
		return nil, c.finish(fmt.Errorf("lir: allocate %s of code: %v: %w",
			units.BytesSize(float64(size)), err, ErrExAllocFailed))
	}
	fail := func(err error) (*Code, error) {
		block.Free()
		return nil, c.finish(err)
	}

	base := block.Addr()
	dst := block.Bytes()
	for _, lb := range c.labels {
		lb.addr = base + uintptr(l.final(lb.off))
	}

	w, r := 0, 0
	for _, j := range c.jumps {
		w += copy(dst[w:], raw[r:j.off])
		r = j.off + j.max
		j.addr = base + uintptr(w)
		target := uint64(j.target)
		if j.label != nil {
			target = uint64(j.label.addr)
		}
		if err := c.be.encodeJump(dst[w:w+j.size], j, uint64(j.addr), target); err != nil {
			return fail(err)
		}
		w += j.size
	}
	copy(dst[w:], raw[r:])

	for _, k := range c.consts {
		off := l.final(k.off)
		k.addr = base + uintptr(off)
		if err := c.spec.patchConst(dst[off:], k.init); err != nil {
			return fail(err)
		}
	}
	for _, p := range c.putLabels {
		off := l.final(p.off)
		p.addr = base + uintptr(off)
		if err := c.spec.patchConst(dst[off:], int64(p.label.addr)); err != nil {
			return fail(err)
		}
	}

	if err := block.Seal(); err != nil {
		return fail(fmt.Errorf("lir: seal code: %v: %w", err, ErrExAllocFailed))
	}

	c.entry = base
	c.executableOffset = block.ExecOffset()
	c.executableSize = size
	c.err = fmt.Errorf("lir: session closed by GenerateCode: %w", ErrCompiled)
	c.log.Debug("lir code generated",
		"arch", c.arch.String(),
		"size", units.BytesSize(float64(size)),
		"jumps", len(c.jumps),
		"passes", passes,
		"exec_offset", c.executableOffset)

	return &Code{
		arch:             c.arch,
		block:            block,
		Entry:            base,
		Size:             size,
		ExecutableOffset: c.executableOffset,
	}, nil
}
