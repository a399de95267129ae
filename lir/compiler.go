// Package lir is a stack-less low-level IR just-in-time compiler.
//
// A Compiler records one function as a stream of architecture neutral
// operations and lowers each one to native code for its target as it is
// emitted. GenerateCode links the result into executable memory.
//
//	c, _ := lir.NewCompiler(lir.HostArch(), lir.Options{})
//	c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgW, lir.ArgW), 1, 2, 0, 0, 0)
//	c.EmitOp2(lir.OpAdd, lir.R(0), lir.S(0), lir.S(1))
//	c.EmitReturn(lir.OpMov, lir.R(0))
//	code, err := c.GenerateCode(ctx)
package lir

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/lirjit/internal/asm"
	"github.com/tinyrange/lirjit/internal/execmem"
)

// Options configures a Compiler.
type Options struct {
	// Logger receives lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
	// Verbose, when set, receives a listing of every recorded operation.
	Verbose io.Writer
	// Allocator provides executable memory. Defaults to execmem.Default().
	Allocator *execmem.Allocator
	// CPU overrides the probed host features, which is useful when
	// generating code for another machine.
	CPU *execmem.CPU
	// SkipChecks disables the semantic argument checks (flag pairing and
	// 32-bit move rules). Operand validity is always checked.
	SkipChecks bool
	// MaxCodeSize bounds the emitted code. Zero means unlimited.
	MaxCodeSize int
}

// frame is the register and stack configuration set by EmitEnter or
// SetContext.
type frame struct {
	set        bool
	options    int
	args       Args
	scratches  int
	saveds     int
	fscratches int
	fsaveds    int
	localSize  int
}

// flagRecord remembers which flags the last flag setting operation
// requested.
type flagRecord struct {
	valid bool
	op    Op
}

func (f flagRecord) allows(cond Cond) bool {
	if !f.valid {
		return false
	}
	t := cond.Type()
	if t <= NotEqual && f.op.HasSetZ() {
		return true
	}
	fc := f.op.FlagCond()
	if fc < 0 {
		return false
	}
	return t == fc || t == fc.Invert()
}

// Compiler is one function under construction. It is not safe for
// concurrent use.
type Compiler struct {
	arch    Arch
	spec    *archSpec
	be      backend
	log     *slog.Logger
	verbose io.Writer
	alloc   *execmem.Allocator
	cpu     execmem.CPU
	checks  bool

	err error
	buf asm.Buffer

	labels    []*Label
	jumps     []*Jump
	consts    []*Const
	putLabels []*PutLabel

	frame frame
	flags flagRecord

	// lastLabel lets consecutive EmitLabel calls share one label.
	lastLabel *Label

	entry            uintptr
	executableOffset int64
	executableSize   int
}

// NewCompiler opens a session for arch. Architectures without a backend
// fail with ErrUnsupported.
func NewCompiler(arch Arch, opts Options) (*Compiler, error) {
	spec, err := lookupArch(arch)
	if err != nil {
		return nil, err
	}
	c := &Compiler{
		arch:    arch,
		spec:    spec,
		log:     opts.Logger,
		verbose: opts.Verbose,
		alloc:   opts.Allocator,
		checks:  !opts.SkipChecks,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if opts.CPU != nil {
		c.cpu = *opts.CPU
	} else if arch == HostArch() {
		c.cpu = execmem.HostCPU()
	} else {
		c.cpu = baselineCPU(arch)
	}
	c.buf.Limit = opts.MaxCodeSize
	c.be = spec.newBackend(c)
	return c, nil
}

// baselineCPU describes the features every member of a family has.
func baselineCPU(arch Arch) execmem.CPU {
	switch arch {
	case ArchX86_64:
		return execmem.CPU{Arch: "amd64", FPU: true, SSE2: true, CMOV: true}
	case ArchARM64:
		return execmem.CPU{Arch: "arm64", FPU: true}
	case ArchRISCV64:
		return execmem.CPU{Arch: "riscv64", FPU: true}
	}
	return execmem.CPU{Arch: arch.String()}
}

// Arch is the target of the session.
func (c *Compiler) Arch() Arch { return c.arch }

// Err returns the latched error, if any.
func (c *Compiler) Err() error { return c.err }

// ErrorCode returns the latched status code, or 0.
func (c *Compiler) ErrorCode() Error { return codeOf(c.err) }

// SetCompilerMemoryError latches ErrAllocFailed unless another error is
// already latched. It lets callers fold their own allocation failures
// into the session.
func (c *Compiler) SetCompilerMemoryError() {
	if c.err == nil {
		c.err = fmt.Errorf("lir: caller reported allocation failure: %w", ErrAllocFailed)
	}
}

// Free releases the session's buffers. Code produced by GenerateCode stays
// valid until its own Free.
func (c *Compiler) Free() {
	c.log.Debug("lir compiler freed", "arch", c.arch.String(), "buffered", c.buf.Len())
	c.buf.Reset()
	c.labels = nil
	c.jumps = nil
	c.consts = nil
	c.putLabels = nil
	c.lastLabel = nil
}

// GeneratedCodeSize is the number of bytes emitted so far, or the final
// size after GenerateCode.
func (c *Compiler) GeneratedCodeSize() int {
	if c.executableSize > 0 {
		return c.executableSize
	}
	return c.buf.Len()
}

// ExecutableOffset is the distance between the executable and writable
// views of the generated code. It is zero unless memory is dual mapped.
func (c *Compiler) ExecutableOffset() int64 { return c.executableOffset }

// fail latches err if no error is latched yet and reports whether the
// session is (now) failed.
func (c *Compiler) fail(err error) bool {
	if err != nil && c.err == nil {
		var code Error
		if !errors.As(err, &code) {
			err = fmt.Errorf("lir: %w: %v", ErrUnsupported, err)
		}
		c.err = err
	}
	return c.err != nil
}

// emit appends raw instruction bytes.
func (c *Compiler) emit(p []byte) error {
	if _, err := c.buf.Append(p); err != nil {
		return c.bufErr(err)
	}
	c.lastLabel = nil
	return nil
}

// emit32 appends one little-endian instruction word.
func (c *Compiler) emit32(words ...uint32) error {
	for _, w := range words {
		if _, err := c.buf.Put32(w); err != nil {
			return c.bufErr(err)
		}
	}
	c.lastLabel = nil
	return nil
}

// reserve appends n zero bytes and returns their offset.
func (c *Compiler) reserve(n int) (int, error) {
	_, off, err := c.buf.Reserve(n)
	if err != nil {
		return 0, c.bufErr(err)
	}
	c.lastLabel = nil
	return off, nil
}

func (c *Compiler) bufErr(err error) error {
	if err == asm.ErrBufferFull {
		return fmt.Errorf("lir: %v: %w", err, ErrAllocFailed)
	}
	return fmt.Errorf("lir: %v: %w", err, ErrUnsupported)
}

// trace writes one line of the verbose listing.
func (c *Compiler) trace(format string, args ...any) {
	if c.verbose == nil {
		return
	}
	fmt.Fprintf(c.verbose, format+"\n", args...)
}
