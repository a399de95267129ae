package lir

import (
	"encoding/binary"

	"github.com/tinyrange/lirjit/internal/asm/amd64"
)

// System V x86-64. R0 is rax and the saved registers are allocated from
// rbx downwards, so R1..R3 already sit in the second to fourth argument
// registers.
var x86Regs = [...]amd64.Reg{
	amd64.RAX, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9, amd64.RDI,
	amd64.RBP, amd64.R15, amd64.R14, amd64.R13, amd64.R12, amd64.RBX,
}

// x86FirstCalleeSaved is the first index of x86Regs preserved by callees.
const x86FirstCalleeSaved = 7

var x86ArgRegs = [...]amd64.Reg{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX}

const (
	// x86Tmp1 holds values, x86Tmp2 addresses and large immediates.
	x86Tmp1 = amd64.R11
	x86Tmp2 = amd64.R10
	x86FTmp = amd64.XReg(15)
)

const (
	x86JumpMax     = 13
	x86CallMax     = 13
	x86CondMax     = 15
	x86TwinMax     = 17
	x86PatchSize   = 17
	x86ConstLength = 10
)

func init() {
	registerArch(ArchX86_64, &archSpec{
		platform:           "x86 64bit (little endian + unaligned)",
		newBackend:         func(c *Compiler) backend { return &x86Backend{c: c} },
		patchJump:          x86PatchJump,
		patchConst:         x86PatchConst,
		jumpPatchSize:      x86PatchSize,
		constPatchSize:     x86ConstLength,
		numRegisters:       len(x86Regs),
		numSavedRegisters:  len(x86Regs) - x86FirstCalleeSaved,
		numFloatRegisters:  15,
		numSavedFloatRegs:  0,
		customInstrMinSize: 1,
		customInstrMaxSize: 15,
	})
}

type x86Backend struct {
	c      *Compiler
	pushed []amd64.Reg
	// frameSize is subtracted from rsp after the pushes.
	frameSize int32
}

func (b *x86Backend) gpr(r reg) amd64.Reg {
	switch {
	case r == regSP:
		return amd64.RSP
	case r.isSaved():
		return x86Regs[len(x86Regs)-1-r.num()]
	}
	return x86Regs[r.num()]
}

func (b *x86Backend) xmm(r reg) amd64.XReg {
	if r.isSaved() {
		return amd64.XReg(14 - r.num())
	}
	return amd64.XReg(r.num())
}

func opSize(op Op) amd64.Size {
	if op.Is32() {
		return amd64.S32
	}
	return amd64.S64
}

func (b *x86Backend) put(p []byte, err error) error {
	if err != nil {
		return err
	}
	return b.c.emit(p)
}

// rm converts a register or memory operand. Addresses that do not fit the
// encoding are built in x86Tmp2, so the result must be used before the
// next call.
func (b *x86Backend) rm(o Operand) (amd64.Operand, error) {
	switch o.kind {
	case kindReg:
		return amd64.R(b.gpr(o.base)), nil
	case kindFReg:
		return amd64.X(b.xmm(o.base)), nil
	case kindMem0:
		if amd64.FitsInt32(o.w) {
			return amd64.Abs(int32(o.w)), nil
		}
		if err := b.c.emit(amd64.MovImm64(x86Tmp2, uint64(o.w))); err != nil {
			return amd64.Operand{}, err
		}
		return amd64.Mem(x86Tmp2, 0), nil
	case kindMem1:
		base := b.gpr(o.base)
		if amd64.FitsInt32(o.w) {
			return amd64.Mem(base, int32(o.w)), nil
		}
		if err := b.c.emit(amd64.MovImm64(x86Tmp2, uint64(o.w))); err != nil {
			return amd64.Operand{}, err
		}
		return amd64.MemIndex(base, x86Tmp2, 0, 0), nil
	case kindMem2:
		return amd64.MemIndex(b.gpr(o.base), b.gpr(o.index), uint8(o.w), 0), nil
	}
	return amd64.Operand{}, errorf(ErrBadArgument, "operand %s cannot be addressed", o)
}

// loadImm loads v without touching the flags.
func (b *x86Backend) loadImm(size amd64.Size, dst amd64.Reg, v int64) error {
	switch {
	case size == amd64.S32 || (v >= 0 && v <= 0xFFFFFFFF):
		return b.c.emit(amd64.MovImm32(dst, uint32(v)))
	case amd64.FitsInt32(v):
		return b.put(amd64.MovImm(amd64.S64, amd64.R(dst), int32(v)))
	}
	return b.c.emit(amd64.MovImm64(dst, uint64(v)))
}

// load copies src into dst.
func (b *x86Backend) load(size amd64.Size, dst amd64.Reg, src Operand) error {
	switch src.kind {
	case kindImm:
		return b.loadImm(size, dst, src.w)
	case kindReg:
		r := b.gpr(src.base)
		if r == dst && size == amd64.S64 {
			return nil
		}
		return b.put(amd64.Load(size, dst, amd64.R(r)))
	}
	m, err := b.rm(src)
	if err != nil {
		return err
	}
	return b.put(amd64.Load(size, dst, m))
}

// store writes src to dst, which is a register or memory operand.
func (b *x86Backend) store(size amd64.Size, dst Operand, src amd64.Reg) error {
	if dst.IsReg() && b.gpr(dst.base) == src {
		return nil
	}
	m, err := b.rm(dst)
	if err != nil {
		return err
	}
	return b.put(amd64.Mov(size, m, src))
}

// srcReg returns the register holding src, loading it into tmp when it is
// not a register.
func (b *x86Backend) srcReg(size amd64.Size, src Operand, tmp amd64.Reg) (amd64.Reg, error) {
	if src.IsReg() {
		return b.gpr(src.base), nil
	}
	return tmp, b.load(size, tmp, src)
}

// Frame.

func (b *x86Backend) layout(f *frame) {
	used := make([]bool, len(x86Regs))
	for i := x86FirstCalleeSaved; i < f.scratches; i++ {
		used[i] = true
	}
	kept := f.options & 3
	for k := kept; k < f.saveds; k++ {
		used[len(x86Regs)-1-k] = true
	}
	b.pushed = b.pushed[:0]
	for i := len(x86Regs) - 1; i >= x86FirstCalleeSaved; i-- {
		if used[i] {
			b.pushed = append(b.pushed, x86Regs[i])
		}
	}
	n := 8 + 8*len(b.pushed)
	b.frameSize = int32((f.localSize+n+15)&^15 - n)
}

func (b *x86Backend) setContext(f *frame) { b.layout(f) }

func (b *x86Backend) enter(f *frame) error {
	b.layout(f)
	for _, r := range b.pushed {
		if err := b.c.emit(amd64.Push(r)); err != nil {
			return err
		}
	}
	if b.frameSize > 0 {
		if err := b.put(amd64.ALUImm(amd64.SUB, amd64.S64, amd64.R(amd64.RSP), b.frameSize)); err != nil {
			return err
		}
	}
	word := 0
	for _, t := range f.args.List() {
		if t.isFloat() {
			continue
		}
		dst := b.gpr(savedReg(word))
		if t.scratch() {
			dst = b.gpr(scratchReg(word))
		}
		if src := x86ArgRegs[word]; dst != src {
			if err := b.put(amd64.Load(amd64.S64, dst, amd64.R(src))); err != nil {
				return err
			}
		}
		word++
	}
	return nil
}

func (b *x86Backend) epilogue() error {
	if b.frameSize > 0 {
		if err := b.put(amd64.ALUImm(amd64.ADD, amd64.S64, amd64.R(amd64.RSP), b.frameSize)); err != nil {
			return err
		}
	}
	for i := len(b.pushed) - 1; i >= 0; i-- {
		if err := b.c.emit(amd64.Pop(b.pushed[i])); err != nil {
			return err
		}
	}
	return nil
}

func (b *x86Backend) ret(op Op, src Operand) error {
	if op != 0 {
		var err error
		if op.Base() == OpMovF64 {
			err = b.fop1(op, FR(0), src)
		} else {
			err = b.op1(op, R(0), src)
		}
		if err != nil {
			return err
		}
	}
	if err := b.epilogue(); err != nil {
		return err
	}
	return b.c.emit(amd64.Ret())
}

func (b *x86Backend) fastEnter(dst Operand) error {
	if dst.IsReg() {
		return b.c.emit(amd64.Pop(b.gpr(dst.base)))
	}
	m, err := b.rm(dst)
	if err != nil {
		return err
	}
	return b.put(amd64.PopRM(m))
}

func (b *x86Backend) localBase(dst Operand, off int64) error {
	target := x86Tmp1
	if dst.IsReg() {
		target = b.gpr(dst.base)
	}
	m, err := b.rm(Mem1(SP, off))
	if err != nil {
		return err
	}
	if err := b.put(amd64.Lea(amd64.S64, target, m)); err != nil {
		return err
	}
	return b.store(amd64.S64, dst, target)
}

// Integer operations.

func (b *x86Backend) op0(op Op) error {
	size := opSize(op)
	rdx, r1 := amd64.RDX, x86Regs[1]
	switch op.Base() {
	case OpBreakpoint:
		return b.c.emit(amd64.Int3())
	case OpNop:
		return b.c.emit(amd64.Nop())
	case OpEndbr:
		return b.c.emit(amd64.Endbr64())
	case OpSkipFramesBeforeReturn:
		return nil
	case OpLmulUW, OpLmulSW:
		uop := amd64.MUL
		if op.Base() == OpLmulSW {
			uop = amd64.IMUL
		}
		return b.seq(
			fixed(amd64.Load(amd64.S64, x86Tmp2, amd64.R(rdx))),
			fixed(amd64.Unary(uop, amd64.S64, amd64.R(r1))),
			fixed(amd64.Load(amd64.S64, r1, amd64.R(rdx))),
			fixed(amd64.Load(amd64.S64, rdx, amd64.R(x86Tmp2))),
		)
	case OpDivmodUW, OpDivUW:
		parts := [][]byte{
			mustBytes(amd64.Load(amd64.S64, x86Tmp2, amd64.R(rdx))),
			amd64.MovImm32(rdx, 0),
			mustBytes(amd64.Unary(amd64.DIV, size, amd64.R(r1))),
		}
		if op.Base() == OpDivmodUW {
			parts = append(parts, mustBytes(amd64.Load(size, r1, amd64.R(rdx))))
		}
		parts = append(parts, mustBytes(amd64.Load(amd64.S64, rdx, amd64.R(x86Tmp2))))
		return b.emitAll(parts...)
	case OpDivmodSW, OpDivSW:
		return b.signedDiv(op, size)
	}
	return errorf(ErrBadArgument, "unknown op0 %s", op)
}

// signedDiv wraps INT_MIN / -1 instead of trapping: a divisor of -1
// negates the dividend and leaves a zero remainder.
func (b *x86Backend) signedDiv(op Op, size amd64.Size) error {
	rdx, r0, r1 := amd64.RDX, x86Regs[0], x86Regs[1]
	neg := mustBytes(amd64.Unary(amd64.NEG, size, amd64.R(r0)))
	if op.Base() == OpDivmodSW {
		neg = append(neg, amd64.MovImm32(r1, 0)...)
	}
	ext := amd64.Cqo()
	if size == amd64.S32 {
		ext = amd64.Cdq()
	}
	div := append(append([]byte{}, ext...), mustBytes(amd64.Unary(amd64.IDIV, size, amd64.R(r1)))...)
	if op.Base() == OpDivmodSW {
		div = append(div, mustBytes(amd64.Load(size, r1, amd64.R(rdx)))...)
	}
	negPath := append(neg, amd64.Jmp8(int8(len(div)))...)
	return b.emitAll(
		mustBytes(amd64.Load(amd64.S64, x86Tmp2, amd64.R(rdx))),
		mustBytes(amd64.ALUImm(amd64.CMP, size, amd64.R(r1), -1)),
		amd64.Jcc8(amd64.CondNE, int8(len(negPath))),
		negPath,
		div,
		mustBytes(amd64.Load(amd64.S64, rdx, amd64.R(x86Tmp2))),
	)
}

// mustBytes unwraps encodings whose operands are fixed registers and
// therefore cannot fail.
func mustBytes(p []byte, err error) []byte {
	if err != nil {
		panic("lir: x86 fixed encoding: " + err.Error())
	}
	return p
}

type encoded struct {
	p   []byte
	err error
}

func fixed(p []byte, err error) encoded { return encoded{p, err} }

func (b *x86Backend) seq(parts ...encoded) error {
	for _, e := range parts {
		if err := b.put(e.p, e.err); err != nil {
			return err
		}
	}
	return nil
}

func (b *x86Backend) emitAll(parts ...[]byte) error {
	for _, p := range parts {
		if err := b.c.emit(p); err != nil {
			return err
		}
	}
	return nil
}

func movWidth(op Op) (width int, signed bool) {
	switch op.Base() {
	case OpMovU8:
		return 1, false
	case OpMovS8:
		return 1, true
	case OpMovU16:
		return 2, false
	case OpMovS16:
		return 2, true
	case OpMovU32, OpMov32:
		return 4, false
	case OpMovS32:
		return 4, true
	}
	return 8, false
}

// movWide reports whether a move writes a full 64-bit register.
func movWide(op Op) bool { return !op.Is32() && op.Base() != OpMov32 }

func extendImm(v int64, width int, signed bool) int64 {
	switch width {
	case 1:
		if signed {
			return int64(int8(v))
		}
		return int64(uint8(v))
	case 2:
		if signed {
			return int64(int16(v))
		}
		return int64(uint16(v))
	case 4:
		if signed {
			return int64(int32(v))
		}
		return int64(uint32(v))
	}
	return v
}

var x86Widths = map[int]amd64.Size{1: amd64.S8, 2: amd64.S16, 4: amd64.S32, 8: amd64.S64}

func (b *x86Backend) op1(op Op, dst, src Operand) error {
	switch op.Base() {
	case OpNot:
		return b.not(op, dst, src)
	case OpClz:
		return b.clz(op, dst, src)
	}
	return b.mov(op, dst, src)
}

func (b *x86Backend) mov(op Op, dst, src Operand) error {
	width, signed := movWidth(op)
	wide := movWide(op)
	if src.IsImm() {
		v := extendImm(src.w, width, signed)
		if dst.IsReg() {
			size := amd64.S64
			if !wide {
				size = amd64.S32
			}
			return b.loadImm(size, b.gpr(dst.base), v)
		}
		if width == 8 && !amd64.FitsInt32(v) {
			if err := b.c.emit(amd64.MovImm64(x86Tmp1, uint64(v))); err != nil {
				return err
			}
			return b.store(amd64.S64, dst, x86Tmp1)
		}
		m, err := b.rm(dst)
		if err != nil {
			return err
		}
		return b.put(amd64.MovImm(x86Widths[width], m, int32(v)))
	}
	if dst.IsReg() {
		return b.loadExt(b.gpr(dst.base), src, width, signed, wide)
	}
	r, err := b.srcReg(amd64.S64, src, x86Tmp1)
	if err != nil {
		return err
	}
	return b.store(x86Widths[width], dst, r)
}

func (b *x86Backend) loadExt(dst amd64.Reg, src Operand, width int, signed, wide bool) error {
	size := amd64.S64
	if !wide {
		size = amd64.S32
	}
	if width == 8 {
		return b.load(size, dst, src)
	}
	m, err := b.rm(src)
	if err != nil {
		return err
	}
	switch {
	case width == 4 && signed && wide:
		return b.put(amd64.Movsxd(dst, m))
	case width == 4:
		return b.put(amd64.Load(amd64.S32, dst, m))
	case signed:
		return b.put(amd64.Movsx(size, dst, m, x86Widths[width]))
	}
	return b.put(amd64.Movzx(size, dst, m, x86Widths[width]))
}

func (b *x86Backend) target(dst Operand, avoid ...Operand) amd64.Reg {
	if !dst.IsReg() {
		return x86Tmp1
	}
	for _, o := range avoid {
		if o.uses(dst.base) {
			return x86Tmp1
		}
	}
	return b.gpr(dst.base)
}

func (b *x86Backend) not(op Op, dst, src Operand) error {
	size := opSize(op)
	t := b.target(dst)
	if err := b.load(size, t, src); err != nil {
		return err
	}
	if err := b.put(amd64.Unary(amd64.NOT, size, amd64.R(t))); err != nil {
		return err
	}
	if op.HasSetZ() {
		if err := b.put(amd64.Test(size, amd64.R(t), t)); err != nil {
			return err
		}
	}
	return b.store(size, dst, t)
}

func (b *x86Backend) clz(op Op, dst, src Operand) error {
	size := opSize(op)
	zero, mask := int64(127), int32(63)
	if size == amd64.S32 {
		zero, mask = 63, 31
	}
	var srm amd64.Operand
	if src.IsImm() {
		if err := b.load(size, x86Tmp1, src); err != nil {
			return err
		}
		srm = amd64.R(x86Tmp1)
	} else {
		var err error
		if srm, err = b.rm(src); err != nil {
			return err
		}
	}
	if err := b.seq(
		fixed(amd64.Bsr(size, x86Tmp1, srm)),
		fixed(amd64.MovImm32(x86Tmp2, uint32(zero)), nil),
		fixed(amd64.Cmovcc(amd64.CondE, size, x86Tmp1, amd64.R(x86Tmp2))),
		fixed(amd64.ALUImm(amd64.XOR, size, amd64.R(x86Tmp1), mask)),
	); err != nil {
		return err
	}
	return b.store(size, dst, x86Tmp1)
}

func (b *x86Backend) op2(op Op, dst, src1, src2 Operand) error {
	size := opSize(op)
	switch op.Base() {
	case OpAdd:
		if !op.HasFlags() && dst.IsReg() {
			if ok, err := b.lea(size, dst, src1, src2); ok || err != nil {
				return err
			}
		}
		return b.alu(amd64.ADD, size, dst, src1, src2, true)
	case OpAddc:
		return b.alu(amd64.ADC, size, dst, src1, src2, true)
	case OpSub:
		if !dst.valid() {
			return b.compare(amd64.CMP, size, src1, src2)
		}
		return b.alu(amd64.SUB, size, dst, src1, src2, false)
	case OpSubc:
		return b.alu(amd64.SBB, size, dst, src1, src2, false)
	case OpAnd:
		if !dst.valid() {
			return b.test(size, src1, src2)
		}
		return b.alu(amd64.AND, size, dst, src1, src2, true)
	case OpOr:
		return b.alu(amd64.OR, size, dst, src1, src2, true)
	case OpXor:
		return b.alu(amd64.XOR, size, dst, src1, src2, true)
	case OpMul:
		return b.mul(size, dst, src1, src2)
	case OpShl:
		return b.shift(amd64.SHL, op, dst, src1, src2)
	case OpLshr:
		return b.shift(amd64.SHR, op, dst, src1, src2)
	case OpAshr:
		return b.shift(amd64.SAR, op, dst, src1, src2)
	}
	return errorf(ErrBadArgument, "unknown op2 %s", op)
}

// lea lowers a flagless ADD of registers and small immediates.
func (b *x86Backend) lea(size amd64.Size, dst, src1, src2 Operand) (bool, error) {
	if src1.IsImm() {
		src1, src2 = src2, src1
	}
	if !src1.IsReg() {
		return false, nil
	}
	base := b.gpr(src1.base)
	switch {
	case src2.IsReg():
		return true, b.put(amd64.Lea(size, b.gpr(dst.base), amd64.MemIndex(base, b.gpr(src2.base), 0, 0)))
	case src2.IsImm() && amd64.FitsInt32(src2.w):
		return true, b.put(amd64.Lea(size, b.gpr(dst.base), amd64.Mem(base, int32(src2.w))))
	}
	return false, nil
}

// apply computes t = t op src.
func (b *x86Backend) apply(aop amd64.ALUOp, size amd64.Size, t amd64.Reg, src Operand) error {
	switch src.kind {
	case kindImm:
		v := src.w
		if size == amd64.S32 {
			v = int64(int32(v))
		}
		if amd64.FitsInt32(v) {
			return b.put(amd64.ALUImm(aop, size, amd64.R(t), int32(v)))
		}
		if err := b.loadImm(size, x86Tmp2, v); err != nil {
			return err
		}
		return b.put(amd64.ALULoad(aop, size, t, amd64.R(x86Tmp2)))
	case kindReg:
		return b.put(amd64.ALULoad(aop, size, t, amd64.R(b.gpr(src.base))))
	}
	m, err := b.rm(src)
	if err != nil {
		return err
	}
	return b.put(amd64.ALULoad(aop, size, t, m))
}

func (b *x86Backend) alu(aop amd64.ALUOp, size amd64.Size, dst, src1, src2 Operand, commutative bool) error {
	if commutative && dst.IsReg() && src2.IsReg() && src2.base == dst.base && !src1.uses(dst.base) {
		src1, src2 = src2, src1
	}
	t := b.target(dst, src2)
	if err := b.load(size, t, src1); err != nil {
		return err
	}
	if err := b.apply(aop, size, t, src2); err != nil {
		return err
	}
	if !dst.valid() {
		return nil
	}
	return b.store(size, dst, t)
}

// compare sets the flags of src1 - src2 (CMP) or src1 & src2 (TEST)
// without storing a result.
func (b *x86Backend) compare(aop amd64.ALUOp, size amd64.Size, src1, src2 Operand) error {
	if src2.IsImm() {
		v := src2.w
		if size == amd64.S32 {
			v = int64(int32(v))
		}
		if amd64.FitsInt32(v) {
			if src1.IsImm() {
				if err := b.load(size, x86Tmp1, src1); err != nil {
					return err
				}
				return b.put(amd64.ALUImm(aop, size, amd64.R(x86Tmp1), int32(v)))
			}
			m, err := b.rm(src1)
			if err != nil {
				return err
			}
			return b.put(amd64.ALUImm(aop, size, m, int32(v)))
		}
	}
	if src1.IsImm() || (src1.IsMem() && src2.IsMem()) {
		if err := b.load(size, x86Tmp1, src1); err != nil {
			return err
		}
		return b.apply(aop, size, x86Tmp1, src2)
	}
	if src2.IsImm() {
		// src1 is a register or memory, src2 a wide immediate.
		if err := b.loadImm(size, x86Tmp1, src2.w); err != nil {
			return err
		}
		m, err := b.rm(src1)
		if err != nil {
			return err
		}
		return b.put(amd64.ALU(aop, size, m, x86Tmp1))
	}
	if src2.IsReg() {
		m, err := b.rm(src1)
		if err != nil {
			return err
		}
		return b.put(amd64.ALU(aop, size, m, b.gpr(src2.base)))
	}
	m, err := b.rm(src2)
	if err != nil {
		return err
	}
	return b.put(amd64.ALULoad(aop, size, b.gpr(src1.base), m))
}

func (b *x86Backend) test(size amd64.Size, src1, src2 Operand) error {
	if src1.IsImm() && !src2.IsImm() {
		src1, src2 = src2, src1
	}
	if src2.IsImm() {
		v := src2.w
		if size == amd64.S32 {
			v = int64(int32(v))
		}
		r, err := b.srcReg(size, src1, x86Tmp1)
		if err != nil {
			return err
		}
		if amd64.FitsInt32(v) {
			return b.put(amd64.TestImm(size, amd64.R(r), int32(v)))
		}
		if err := b.loadImm(size, x86Tmp2, v); err != nil {
			return err
		}
		return b.put(amd64.Test(size, amd64.R(r), x86Tmp2))
	}
	r, err := b.srcReg(size, src2, x86Tmp1)
	if err != nil {
		return err
	}
	m, err := b.rm(src1)
	if err != nil {
		return err
	}
	return b.put(amd64.Test(size, m, r))
}

func (b *x86Backend) mul(size amd64.Size, dst, src1, src2 Operand) error {
	if src1.IsImm() && !src2.IsImm() {
		src1, src2 = src2, src1
	}
	if src2.IsImm() {
		v := src2.w
		if size == amd64.S32 {
			v = int64(int32(v))
		}
		if amd64.FitsInt32(v) {
			t := b.target(dst)
			var m amd64.Operand
			if src1.IsImm() {
				if err := b.load(size, x86Tmp1, src1); err != nil {
					return err
				}
				m = amd64.R(x86Tmp1)
			} else {
				var err error
				if m, err = b.rm(src1); err != nil {
					return err
				}
			}
			if err := b.put(amd64.ImulImm(size, t, m, int32(v))); err != nil {
				return err
			}
			return b.storeIf(size, dst, t)
		}
	}
	if dst.IsReg() && src2.IsReg() && src2.base == dst.base && !src1.uses(dst.base) {
		src1, src2 = src2, src1
	}
	t := b.target(dst, src2)
	if err := b.load(size, t, src1); err != nil {
		return err
	}
	var m amd64.Operand
	if src2.IsImm() {
		if err := b.loadImm(size, x86Tmp2, src2.w); err != nil {
			return err
		}
		m = amd64.R(x86Tmp2)
	} else {
		var err error
		if m, err = b.rm(src2); err != nil {
			return err
		}
	}
	if err := b.put(amd64.Imul(size, t, m)); err != nil {
		return err
	}
	return b.storeIf(size, dst, t)
}

func (b *x86Backend) storeIf(size amd64.Size, dst Operand, t amd64.Reg) error {
	if !dst.valid() {
		return nil
	}
	return b.store(size, dst, t)
}

func (b *x86Backend) shift(sop amd64.ShiftOp, op Op, dst, src1, src2 Operand) error {
	size := opSize(op)
	mask := int64(63)
	if size == amd64.S32 {
		mask = 31
	}
	testZ := func(t amd64.Reg) error {
		if !op.HasSetZ() {
			return nil
		}
		return b.put(amd64.Test(size, amd64.R(t), t))
	}
	rcx := amd64.RCX

	if src2.IsImm() {
		t := b.target(dst)
		if err := b.load(size, t, src1); err != nil {
			return err
		}
		if n := uint8(src2.w & mask); n != 0 {
			if err := b.put(amd64.ShiftImm(sop, size, amd64.R(t), n)); err != nil {
				return err
			}
		}
		if err := testZ(t); err != nil {
			return err
		}
		return b.storeIf(size, dst, t)
	}

	if src2.IsReg() && b.gpr(src2.base) == rcx {
		t := b.target(dst)
		if t == rcx {
			t = x86Tmp1
		}
		if err := b.load(size, t, src1); err != nil {
			return err
		}
		if err := b.put(amd64.ShiftCL(sop, size, amd64.R(t))); err != nil {
			return err
		}
		if err := testZ(t); err != nil {
			return err
		}
		return b.storeIf(size, dst, t)
	}

	// Park rcx in x86Tmp2 while the count occupies it.
	if err := b.load(size, x86Tmp1, src1); err != nil {
		return err
	}
	if err := b.load(amd64.S64, x86Tmp2, src2); err != nil {
		return err
	}
	if err := b.seq(
		fixed(amd64.Xchg(amd64.S64, amd64.R(x86Tmp2), rcx)),
		fixed(amd64.ShiftCL(sop, size, amd64.R(x86Tmp1))),
		fixed(amd64.Load(amd64.S64, rcx, amd64.R(x86Tmp2))),
	); err != nil {
		return err
	}
	if err := testZ(x86Tmp1); err != nil {
		return err
	}
	return b.storeIf(size, dst, x86Tmp1)
}

func (b *x86Backend) opSrc(op Op, src Operand) error {
	switch op.Base() {
	case OpFastReturn:
		if src.IsReg() {
			if err := b.c.emit(amd64.Push(b.gpr(src.base))); err != nil {
				return err
			}
		} else {
			m, err := b.rm(src)
			if err != nil {
				return err
			}
			if err := b.put(amd64.PushRM(m)); err != nil {
				return err
			}
		}
		return b.c.emit(amd64.Ret())
	case OpSkipFramesBeforeFastReturn:
		return nil
	}
	hint := map[Op]amd64.PrefetchHint{
		OpPrefetchL1:   amd64.PrefetchT0,
		OpPrefetchL2:   amd64.PrefetchT1,
		OpPrefetchL3:   amd64.PrefetchT2,
		OpPrefetchOnce: amd64.PrefetchNTA,
	}[op.Base()]
	m, err := b.rm(src)
	if err != nil {
		return err
	}
	return b.put(amd64.Prefetch(hint, m))
}

// Floating point.

// floatInto loads a float operand into x unless it already lives there.
func (b *x86Backend) floatInto(single bool, x amd64.XReg, src Operand) error {
	if src.IsFloatReg() {
		if b.xmm(src.base) == x {
			return nil
		}
		return b.put(amd64.Movaps(x, b.xmm(src.base)))
	}
	m, err := b.rm(src)
	if err != nil {
		return err
	}
	return b.put(amd64.MovsLoad(single, x, m))
}

func (b *x86Backend) floatStore(single bool, dst Operand, x amd64.XReg) error {
	if dst.IsFloatReg() {
		if b.xmm(dst.base) == x {
			return nil
		}
		return b.put(amd64.Movaps(b.xmm(dst.base), x))
	}
	m, err := b.rm(dst)
	if err != nil {
		return err
	}
	return b.put(amd64.MovsStore(single, m, x))
}

func (b *x86Backend) ftarget(dst Operand, avoid ...Operand) amd64.XReg {
	if !dst.IsFloatReg() {
		return x86FTmp
	}
	for _, o := range avoid {
		if o.IsFloatReg() && o.base == dst.base {
			return x86FTmp
		}
	}
	return b.xmm(dst.base)
}

func (b *x86Backend) fop1(op Op, dst, src Operand) error {
	single := op.Is32()
	switch op.Base() {
	case OpMovF64:
		if dst.IsMem() && src.IsMem() {
			if err := b.floatInto(single, x86FTmp, src); err != nil {
				return err
			}
			return b.floatStore(single, dst, x86FTmp)
		}
		if dst.IsFloatReg() {
			return b.floatInto(single, b.xmm(dst.base), src)
		}
		return b.floatStore(single, dst, b.xmm(src.base))

	case OpConvF64FromF32:
		t := b.ftarget(dst)
		m, err := b.rm(src)
		if err != nil {
			return err
		}
		if err := b.put(amd64.CvtFloat(single, t, m)); err != nil {
			return err
		}
		return b.floatStore(single, dst, t)

	case OpConvSWFromF64, OpConvS32FromF64:
		size := amd64.S64
		if op.Base() == OpConvS32FromF64 {
			size = amd64.S32
		}
		t := b.target(dst)
		m, err := b.rm(src)
		if err != nil {
			return err
		}
		if err := b.put(amd64.Cvtt(single, size, t, m)); err != nil {
			return err
		}
		return b.store(size, dst, t)

	case OpConvF64FromSW, OpConvF64FromS32:
		size := amd64.S64
		if op.Base() == OpConvF64FromS32 {
			size = amd64.S32
		}
		var m amd64.Operand
		if src.IsImm() {
			if err := b.loadImm(size, x86Tmp1, src.w); err != nil {
				return err
			}
			m = amd64.R(x86Tmp1)
		} else {
			var err error
			if m, err = b.rm(src); err != nil {
				return err
			}
		}
		t := b.ftarget(dst)
		if err := b.put(amd64.Cvtsi(single, size, t, m)); err != nil {
			return err
		}
		return b.floatStore(single, dst, t)

	case OpCmpF64:
		a, c := dst, src
		if _, swap, _ := x86FloatCond(op.FlagCond()); swap {
			a, c = c, a
		}
		xa := x86FTmp
		if a.IsFloatReg() {
			xa = b.xmm(a.base)
		} else if err := b.floatInto(single, xa, a); err != nil {
			return err
		}
		m, err := b.rm(c)
		if err != nil {
			return err
		}
		return b.put(amd64.Ucomis(single, xa, m))

	case OpNegF64, OpAbsF64:
		return b.signOp(op, dst, src)
	}
	return errorf(ErrBadArgument, "unknown fop1 %s", op)
}

// signOp flips or clears the sign bit through x86Tmp1, which needs no
// constant in memory.
func (b *x86Backend) signOp(op Op, dst, src Operand) error {
	single := op.Is32()
	size := amd64.S64
	if single {
		size = amd64.S32
	}
	if src.IsFloatReg() {
		if err := b.put(amd64.MovqFromX(size, amd64.R(x86Tmp1), b.xmm(src.base))); err != nil {
			return err
		}
	} else if err := b.load(size, x86Tmp1, src); err != nil {
		return err
	}
	t := amd64.R(x86Tmp1)
	var err error
	switch {
	case op.Base() == OpNegF64 && single:
		err = b.put(amd64.ALUImm(amd64.XOR, size, t, -0x80000000))
	case op.Base() == OpNegF64:
		if err = b.c.emit(amd64.MovImm64(x86Tmp2, 1<<63)); err == nil {
			err = b.put(amd64.ALU(amd64.XOR, size, t, x86Tmp2))
		}
	case single:
		err = b.put(amd64.ALUImm(amd64.AND, size, t, 0x7FFFFFFF))
	default:
		if err = b.put(amd64.ShiftImm(amd64.SHL, size, t, 1)); err == nil {
			err = b.put(amd64.ShiftImm(amd64.SHR, size, t, 1))
		}
	}
	if err != nil {
		return err
	}
	if dst.IsFloatReg() {
		return b.put(amd64.MovqToX(size, b.xmm(dst.base), t))
	}
	return b.store(size, dst, x86Tmp1)
}

func (b *x86Backend) fop2(op Op, dst, src1, src2 Operand) error {
	single := op.Is32()
	sop := map[Op]amd64.SSEOp{
		OpAddF64: amd64.SSEAdd, OpSubF64: amd64.SSESub,
		OpMulF64: amd64.SSEMul, OpDivF64: amd64.SSEDiv,
	}[op.Base()]
	commutative := op.Base() == OpAddF64 || op.Base() == OpMulF64
	if commutative && dst.IsFloatReg() && src2.IsFloatReg() && src2.base == dst.base {
		src1, src2 = src2, src1
	}
	t := b.ftarget(dst, src2)
	if err := b.floatInto(single, t, src1); err != nil {
		return err
	}
	m, err := b.rm(src2)
	if err != nil {
		return err
	}
	if err := b.put(amd64.SSEArith(sop, single, t, m)); err != nil {
		return err
	}
	return b.floatStore(single, dst, t)
}

// Conditions.

var x86IntCond = [...]amd64.Cond{
	Equal:           amd64.CondE,
	NotEqual:        amd64.CondNE,
	Less:            amd64.CondB,
	GreaterEqual:    amd64.CondAE,
	Greater:         amd64.CondA,
	LessEqual:       amd64.CondBE,
	SigLess:         amd64.CondL,
	SigGreaterEqual: amd64.CondGE,
	SigGreater:      amd64.CondG,
	SigLessEqual:    amd64.CondLE,
	Overflow:        amd64.CondO,
	NotOverflow:     amd64.CondNO,
	Carry:           amd64.CondB,
	NotCarry:        amd64.CondAE,
}

// x86FloatCond maps a float condition to the flags of ucomis. swap means
// the operands are compared in reverse order.
func x86FloatCond(cond Cond) (cc amd64.Cond, swap bool, twin twinKind) {
	switch cond.Type() {
	case FEqual, UnorderedOrEqual:
		return amd64.CondE, false, twinNone
	case FNotEqual, OrderedNotEqual:
		return amd64.CondNE, false, twinNone
	case FLess, OrderedLess:
		return amd64.CondA, true, twinNone
	case FGreaterEqual, UnorderedOrGreaterEqual:
		return amd64.CondBE, true, twinNone
	case FGreater, OrderedGreater:
		return amd64.CondA, false, twinNone
	case FLessEqual, UnorderedOrLessEqual:
		return amd64.CondBE, false, twinNone
	case Unordered:
		return amd64.CondP, false, twinNone
	case Ordered:
		return amd64.CondNP, false, twinNone
	case OrderedEqual:
		return amd64.CondE, false, twinAnd
	case UnorderedOrNotEqual:
		return amd64.CondNE, false, twinOr
	case UnorderedOrLess:
		return amd64.CondB, false, twinNone
	case OrderedGreaterEqual:
		return amd64.CondAE, false, twinNone
	case UnorderedOrGreater:
		return amd64.CondB, true, twinNone
	case OrderedLessEqual:
		return amd64.CondAE, true, twinNone
	}
	return 0, false, twinNone
}

func x86Cond(cond Cond) (amd64.Cond, twinKind) {
	t := cond.Type()
	if t.isFloat() {
		cc, _, twin := x86FloatCond(t)
		return cc, twin
	}
	return x86IntCond[t], twinNone
}

// guard runs body only when the twin condition cc holds: and-form needs
// parity clear and cc, or-form needs parity set or cc.
func x86Guard(cc amd64.Cond, twin twinKind, body []byte) []byte {
	n := int8(len(body))
	var out []byte
	if twin == twinAnd {
		out = append(amd64.Jcc8(amd64.CondP, 2+n), amd64.Jcc8(cc.Invert(), n)...)
	} else {
		out = append(amd64.Jcc8(amd64.CondP, 2), amd64.Jcc8(cc.Invert(), n)...)
	}
	return append(out, body...)
}

func (b *x86Backend) opFlags(op Op, dst Operand, cond Cond) error {
	cc, twin := x86Cond(cond)
	if err := b.c.emit(amd64.MovImm32(x86Tmp1, 0)); err != nil {
		return err
	}
	if twin != twinNone {
		if err := b.c.emit(x86Guard(cc, twin, amd64.MovImm32(x86Tmp1, 1))); err != nil {
			return err
		}
	} else if err := b.put(amd64.Setcc(cc, amd64.R(x86Tmp1))); err != nil {
		return err
	}
	size := opSize(op)
	switch op.Base() {
	case OpMov:
		return b.store(amd64.S64, dst, x86Tmp1)
	case OpMov32:
		return b.store(amd64.S32, dst, x86Tmp1)
	}
	aop := map[Op]amd64.ALUOp{OpAnd: amd64.AND, OpOr: amd64.OR, OpXor: amd64.XOR}[op.Base()]
	m, err := b.rm(dst)
	if err != nil {
		return err
	}
	return b.put(amd64.ALU(aop, size, m, x86Tmp1))
}

func (b *x86Backend) cmov(cond Cond, dst, src Operand) error {
	size := amd64.S64
	if cond&Cond32 != 0 {
		size = amd64.S32
	}
	cc, twin := x86Cond(cond)
	d := b.gpr(dst.base)
	if twin != twinNone {
		var body []byte
		var err error
		if src.IsImm() {
			body, err = x86ImmBytes(size, d, src.w)
		} else {
			body, err = amd64.Load(size, d, amd64.R(b.gpr(src.base)))
		}
		if err != nil {
			return err
		}
		return b.c.emit(x86Guard(cc, twin, body))
	}
	s := amd64.R(x86Tmp1)
	if src.IsImm() {
		if err := b.loadImm(size, x86Tmp1, src.w); err != nil {
			return err
		}
	} else {
		s = amd64.R(b.gpr(src.base))
	}
	if b.c.cpu.CMOV {
		return b.put(amd64.Cmovcc(cc, size, d, s))
	}
	body, err := amd64.Load(size, d, s)
	if err != nil {
		return err
	}
	return b.c.emit(append(amd64.Jcc8(cc.Invert(), int8(len(body))), body...))
}

func x86ImmBytes(size amd64.Size, dst amd64.Reg, v int64) ([]byte, error) {
	switch {
	case size == amd64.S32 || (v >= 0 && v <= 0xFFFFFFFF):
		return amd64.MovImm32(dst, uint32(v)), nil
	case amd64.FitsInt32(v):
		return amd64.MovImm(amd64.S64, amd64.R(dst), int32(v))
	}
	return amd64.MovImm64(dst, uint64(v)), nil
}

// Memory access with base update has no native form; it is emulated with
// lea unless the caller only probes.
func (b *x86Backend) mem(op Op, flags MemFlags, r, m Operand) error {
	return b.memAccess(flags, m, func(addr Operand) error {
		if flags&MemStore != 0 {
			return b.mov(op, addr, r)
		}
		return b.mov(op, r, addr)
	})
}

func (b *x86Backend) fmem(op Op, flags MemFlags, r, m Operand) error {
	return b.memAccess(flags, m, func(addr Operand) error {
		if flags&MemStore != 0 {
			return b.fop1(op, addr, r)
		}
		return b.fop1(op, r, addr)
	})
}

func (b *x86Backend) memAccess(flags MemFlags, m Operand, access func(addr Operand) error) error {
	update := flags&(MemPre|MemPost) != 0
	if flags&MemSupp != 0 {
		if update {
			return errorf(ErrUnsupported, "x86 has no base update addressing")
		}
		return nil
	}
	if !update {
		return access(m)
	}
	base := Operand{kind: kindReg, base: m.base}
	if flags&MemPost != 0 {
		if err := access(Mem1(base, 0)); err != nil {
			return err
		}
	}
	am, err := b.rm(m)
	if err != nil {
		return err
	}
	if err := b.put(amd64.Lea(amd64.S64, b.gpr(m.base), am)); err != nil {
		return err
	}
	if flags&MemPre != 0 {
		return access(Mem1(base, 0))
	}
	return nil
}

func (b *x86Backend) custom(p []byte) error { return b.c.emit(p) }

func (b *x86Backend) setCurrentFlags(int32) {}

// Jumps and calls.

func (b *x86Backend) jump(j *Jump) error {
	switch t := j.kind.Type(); t {
	case JumpAlways:
		return b.c.reserveJump(j, jumpForm{kind: formJump}, x86JumpMax)
	case FastCall:
		return b.c.reserveJump(j, jumpForm{kind: formCall}, x86CallMax)
	default:
		return b.reserveCond(j, t)
	}
}

func (b *x86Backend) reserveCond(j *Jump, t Cond) error {
	cc, twin := x86Cond(t)
	form := jumpForm{kind: formCond, cc: uint8(cc), twin: twin}
	if twin != twinNone {
		return b.c.reserveJump(j, form, x86TwinMax)
	}
	return b.c.reserveJump(j, form, x86CondMax)
}

var x86SwapCond = map[Cond]Cond{
	Less: Greater, Greater: Less, GreaterEqual: LessEqual, LessEqual: GreaterEqual,
	SigLess: SigGreater, SigGreater: SigLess, SigGreaterEqual: SigLessEqual, SigLessEqual: SigGreaterEqual,
}

// swapCond returns the condition that holds for (b, a) when cond holds for
// (a, b).
func swapCond(cond Cond) Cond {
	if s, ok := x86SwapCond[cond]; ok {
		return s
	}
	return cond
}

func (b *x86Backend) cmp(j *Jump, src1, src2 Operand) error {
	size := amd64.S64
	if j.kind&Cond32 != 0 {
		size = amd64.S32
	}
	t := j.kind.Type()
	if src1.IsImm() && !src2.IsImm() {
		src1, src2 = src2, src1
		t = swapCond(t)
	}
	var err error
	if src2.IsImm() && src2.w == 0 && src1.IsReg() && (t == Equal || t == NotEqual) {
		r := b.gpr(src1.base)
		err = b.put(amd64.Test(size, amd64.R(r), r))
	} else {
		err = b.compare(amd64.CMP, size, src1, src2)
	}
	if err != nil {
		return err
	}
	return b.reserveCond(j, t)
}

func (b *x86Backend) fcmp(j *Jump, src1, src2 Operand) error {
	op := OpCmpF64 | Set(j.kind.Type())
	if j.kind&Cond32 != 0 {
		op |= F32
	}
	if err := b.fop1(op, src1, src2); err != nil {
		return err
	}
	return b.reserveCond(j, j.kind.Type())
}

func (b *x86Backend) callArgs(args Args) error {
	for _, t := range args.List() {
		if !t.isFloat() {
			return b.put(amd64.Load(amd64.S64, amd64.RDI, amd64.R(x86Regs[0])))
		}
	}
	return nil
}

func (b *x86Backend) call(j *Jump, args Args) error {
	if err := b.callArgs(args); err != nil {
		return err
	}
	if j.kind&CallReturn != 0 {
		if err := b.epilogue(); err != nil {
			return err
		}
		return b.c.reserveJump(j, jumpForm{kind: formJump}, x86JumpMax)
	}
	return b.c.reserveJump(j, jumpForm{kind: formCall}, x86CallMax)
}

func (b *x86Backend) ijump(kind Cond, src Operand) error {
	m := amd64.R(x86Tmp1)
	if src.IsImm() {
		if err := b.c.emit(amd64.MovImm64(x86Tmp1, uint64(src.w))); err != nil {
			return err
		}
	} else {
		var err error
		if m, err = b.rm(src); err != nil {
			return err
		}
	}
	if kind == FastCall {
		return b.put(amd64.CallRM(m))
	}
	return b.put(amd64.JmpRM(m))
}

func (b *x86Backend) icall(kind Cond, args Args, src Operand) error {
	if err := b.load(amd64.S64, x86Tmp1, src); err != nil {
		return err
	}
	if err := b.callArgs(args); err != nil {
		return err
	}
	if kind&CallReturn != 0 {
		if err := b.epilogue(); err != nil {
			return err
		}
		return b.put(amd64.JmpRM(amd64.R(x86Tmp1)))
	}
	return b.put(amd64.CallRM(amd64.R(x86Tmp1)))
}

func (b *x86Backend) loadFixed(off *int, dst Operand, v int64) error {
	*off = b.c.buf.Len()
	if dst.IsReg() {
		return b.c.emit(amd64.MovImm64(b.gpr(dst.base), uint64(v)))
	}
	if err := b.c.emit(amd64.MovImm64(x86Tmp1, uint64(v))); err != nil {
		return err
	}
	return b.store(amd64.S64, dst, x86Tmp1)
}

func (b *x86Backend) loadConst(k *Const, dst Operand) error { return b.loadFixed(&k.off, dst, k.init) }

func (b *x86Backend) loadLabel(p *PutLabel, dst Operand) error { return b.loadFixed(&p.off, dst, 0) }

func fits8(v int64) bool { return v >= -128 && v <= 127 }

func fits32(v int64) bool { return amd64.FitsInt32(v) }

func (b *x86Backend) jumpSize(j *Jump, pc, target int64) int {
	d := target - pc
	switch j.form.kind {
	case formJump:
		switch {
		case fits8(d - 2):
			return 2
		case fits32(d - 5):
			return 5
		}
		return x86JumpMax
	case formCall:
		if fits32(d - 5) {
			return 5
		}
		return x86CallMax
	}
	switch j.form.twin {
	case twinAnd:
		switch {
		case fits8(d - 4):
			return 4
		case fits32(d - 8):
			return 8
		}
		return x86TwinMax
	case twinOr:
		switch {
		case fits8(d-2) && fits8(d-4):
			return 4
		case fits32(d-6) && fits32(d-12):
			return 12
		}
		return x86TwinMax
	}
	switch {
	case fits8(d - 2):
		return 2
	case fits32(d - 6):
		return 6
	}
	return x86CondMax
}

// x86Far is movabs r11, target; jmp/call r11.
func x86Far(target uint64, call bool) []byte {
	out := amd64.MovImm64(x86Tmp1, target)
	if call {
		return append(out, mustBytes(amd64.CallRM(amd64.R(x86Tmp1)))...)
	}
	return append(out, mustBytes(amd64.JmpRM(amd64.R(x86Tmp1)))...)
}

func (b *x86Backend) encodeJump(p []byte, j *Jump, pc, target uint64) error {
	rel := func(end int) int64 { return int64(target) - int64(pc) - int64(end) }
	cc := amd64.Cond(j.form.cc)
	var out []byte
	switch j.form.kind {
	case formJump:
		switch len(p) {
		case 2:
			out = amd64.Jmp8(int8(rel(2)))
		case 5:
			out = amd64.Jmp32(int32(rel(5)))
		default:
			out = x86Far(target, false)
		}
	case formCall:
		if len(p) == 5 {
			out = amd64.Call32(int32(rel(5)))
		} else {
			out = x86Far(target, true)
		}
	default:
		switch j.form.twin {
		case twinAnd:
			switch len(p) {
			case 4:
				out = append(amd64.Jcc8(amd64.CondP, 2), amd64.Jcc8(cc, int8(rel(4)))...)
			case 8:
				out = append(amd64.Jcc8(amd64.CondP, 6), amd64.Jcc32(cc, int32(rel(8)))...)
			default:
				out = append(amd64.Jcc8(amd64.CondP, 15), amd64.Jcc8(cc.Invert(), 13)...)
				out = append(out, x86Far(target, false)...)
			}
		case twinOr:
			switch len(p) {
			case 4:
				out = append(amd64.Jcc8(amd64.CondP, int8(rel(2))), amd64.Jcc8(cc, int8(rel(4)))...)
			case 12:
				out = append(amd64.Jcc32(amd64.CondP, int32(rel(6))), amd64.Jcc32(cc, int32(rel(12)))...)
			default:
				out = append(amd64.Jcc8(amd64.CondP, 2), amd64.Jcc8(cc.Invert(), 13)...)
				out = append(out, x86Far(target, false)...)
			}
		default:
			switch len(p) {
			case 2:
				out = amd64.Jcc8(cc, int8(rel(2)))
			case 6:
				out = amd64.Jcc32(cc, int32(rel(6)))
			default:
				out = append(amd64.Jcc8(cc.Invert(), 13), x86Far(target, false)...)
			}
		}
	}
	if len(out) != len(p) {
		return errorf(ErrUnsupported, "x86 jump j%d encoded to %d bytes in a %d byte slot", j.id, len(out), len(p))
	}
	copy(p, out)
	return nil
}

// x86PatchJump rewrites the movabs of a far jump. The movabs starts at 0
// for unconditional jumps and calls, at 2 for conditional jumps and at 4
// for twin float jumps.
func x86PatchJump(p []byte, _, target uintptr) error {
	for _, at := range []int{0, 2, 4} {
		if len(p) >= at+10 && p[at] == 0x49 && p[at+1] == 0xBB {
			binary.LittleEndian.PutUint64(p[at+2:], uint64(target))
			return nil
		}
	}
	return errorf(ErrDynCodeMod, "no rewritable x86 jump at this address")
}

func x86PatchConst(p []byte, v int64) error {
	if len(p) < x86ConstLength || p[0]&0xFE != 0x48 || p[1]&0xF8 != 0xB8 {
		return errorf(ErrDynCodeMod, "no x86 const load at this address")
	}
	binary.LittleEndian.PutUint64(p[2:], uint64(v))
	return nil
}

func (b *x86Backend) regIndex(r reg) int { return int(b.gpr(r)) }

func (b *x86Backend) fregIndex(r reg) int { return int(b.xmm(r)) }

func (b *x86Backend) feature(f Feature) FeatureStatus {
	cpu := b.c.cpu
	switch f {
	case FeatureHasFPU, FeatureHasSSE2:
		if cpu.SSE2 {
			return FeatureNative
		}
	case FeatureHasClz:
		return FeatureEmulated
	case FeatureHasCmov:
		if cpu.CMOV {
			return FeatureNative
		}
		return FeatureEmulated
	case FeatureHasPrefetch:
		return FeatureNative
	}
	return FeatureUnavailable
}

func (b *x86Backend) cmpInfo(cond Cond) bool { return cond.isFloat() }
