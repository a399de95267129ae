package lir

import (
	"fmt"

	"github.com/tinyrange/lirjit/internal/execmem"
)

// SetJumpAddr retargets the rewritable jump whose encoding starts at the
// executable address addr. executableOffset must match the mapping the
// code was generated into; the bytes are written through its writable
// view and the instruction cache is flushed.
func SetJumpAddr(arch Arch, addr, target uintptr, executableOffset int64) error {
	spec, err := lookupArch(arch)
	if err != nil {
		return err
	}
	return patchLive(addr, executableOffset, spec.jumpPatchSize, func(p []byte) error {
		return spec.patchJump(p, addr, target)
	})
}

// SetConst rewrites the value loaded by the const whose sequence starts at
// the executable address addr.
func SetConst(arch Arch, addr uintptr, v int64, executableOffset int64) error {
	spec, err := lookupArch(arch)
	if err != nil {
		return err
	}
	return patchLive(addr, executableOffset, spec.constPatchSize, func(p []byte) error {
		return spec.patchConst(p, v)
	})
}

// patchLive hands fn at most n writable bytes at addr. The code must be
// owned by a live execmem block, whose Patch toggles protection in W^X
// mode and flushes the instruction cache.
func patchLive(addr uintptr, executableOffset int64, n int, fn func(p []byte) error) error {
	if addr == 0 {
		return errorf(ErrBadArgument, "patch at nil address")
	}
	b := execmem.Lookup(addr)
	if b == nil {
		return errorf(ErrDynCodeMod, "%#x is not inside live generated code", addr)
	}
	if b.ExecOffset() != executableOffset {
		return errorf(ErrBadArgument, "executable offset %d, code was mapped with %d", executableOffset, b.ExecOffset())
	}
	off := int(addr - b.Addr())
	n = min(n, b.Size()-off)
	var ferr error
	if err := b.Patch(off, n, func(p []byte) { ferr = fn(p) }); err != nil {
		return fmt.Errorf("lir: patch %#x: %v: %w", addr, err, ErrDynCodeMod)
	}
	return ferr
}
