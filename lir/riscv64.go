package lir

import (
	"encoding/binary"
	"math"

	"github.com/tinyrange/lirjit/internal/asm/riscv"
)

// LP64D. R0..R9 are a0..a7, t5 and t6; the saved registers are s0..s11.
var riscvRegs = []riscv.Reg{
	riscv.A0, riscv.A1, riscv.A2, riscv.A3, riscv.A4, riscv.A5, riscv.A6, riscv.A7,
	riscv.T5, riscv.T6,
	riscv.S11, riscv.S10, riscv.S9, riscv.S8, riscv.S7, riscv.S6,
	riscv.S5, riscv.S4, riscv.S3, riscv.S2, riscv.S1, riscv.S0,
}

const riscvFirstCalleeSaved = 10

// fa0..fa7, ft0..ft8, then fs11..fs0.
var riscvFRegs = []riscv.FReg{
	10, 11, 12, 13, 14, 15, 16, 17,
	0, 1, 2, 3, 4, 5, 6, 7, 28,
	27, 26, 25, 24, 23, 22, 21, 20, 19, 18, 9, 8,
}

const riscvFirstCalleeSavedF = 17

const (
	rvTmp1 = riscv.T1
	// ra is saved by every prologue, so it doubles as the address
	// temporary.
	rvTmp2 = riscv.RA
	rvTmp3 = riscv.T2

	// Flags live in registers. rvEqual holds a value that is zero exactly
	// when the zero flag is set; rvOther and rvFlagTmp keep the operands
	// of the last flag-setting operation.
	rvEqual   = riscv.T0
	rvOther   = riscv.T3
	rvFlagTmp = riscv.T4

	rvFTmp1 = riscv.FReg(29)
	rvFTmp2 = riscv.FReg(30)
)

const (
	riscvJumpMax  = 4 + 4*riscv.LiFixedLen
	riscvCondMax  = 8 + 4*riscv.LiFixedLen
	riscvConstLen = 4 * riscv.LiFixedLen
)

func init() {
	registerArch(ArchRISCV64, &archSpec{
		platform:           "RISC-V-64 (little endian)",
		newBackend:         func(c *Compiler) backend { return &riscvBackend{c: c} },
		patchJump:          riscvPatchJump,
		patchConst:         riscvPatchConst,
		jumpPatchSize:      riscvCondMax,
		constPatchSize:     riscvConstLen,
		numRegisters:       len(riscvRegs),
		numSavedRegisters:  len(riscvRegs) - riscvFirstCalleeSaved,
		numFloatRegisters:  len(riscvFRegs),
		numSavedFloatRegs:  len(riscvFRegs) - riscvFirstCalleeSavedF,
		customInstrMinSize: 4,
		customInstrMaxSize: 4,
	})
}

type riscvBackend struct {
	c      *Compiler
	saved  []riscv.Reg
	fsaved []riscv.FReg
	// saveArea holds ra and the callee-saved registers, locals sits
	// below it.
	saveArea int64
	locals   int64
	flags    rvFlags
}

type rvFlagKind uint8

const (
	rvFlagsAdd rvFlagKind = iota
	rvFlagsSub
	rvFlagsMul
	rvFlagsAddc
	rvFlagsSubc
	// rvFlagsBool means rvOther already holds the even member of cond as
	// 0 or 1.
	rvFlagsBool
)

// rvFlags describes the last flag-setting operation. Its operands sit in
// rvOther and rvFlagTmp and its result in rvEqual; 32-bit operations
// capture sign extended values. Conditions are computed from them only
// when a jump, cmov, op_flags or carry operation reads them.
type rvFlags struct {
	kind rvFlagKind
	word bool
	cond Cond
}

func rvLo12(v int64) int64 { return v << 52 >> 52 }

func (b *riscvBackend) gpr(r reg) riscv.Reg {
	switch {
	case r == regSP:
		return riscv.SP
	case r.isSaved():
		return riscvRegs[len(riscvRegs)-1-r.num()]
	}
	return riscvRegs[r.num()]
}

func (b *riscvBackend) freg(r reg) riscv.FReg {
	if r.isSaved() {
		return riscvFRegs[len(riscvFRegs)-1-r.num()]
	}
	return riscvFRegs[r.num()]
}

func (b *riscvBackend) word(w uint32, err error) error {
	if err != nil {
		return err
	}
	return b.c.emit32(w)
}

func (b *riscvBackend) li(rd riscv.Reg, v int64) error { return b.c.emit32(riscv.Li(rd, v)...) }

// address resolves m to a base register and a 12-bit displacement,
// building whatever does not fit in rvTmp2.
func (b *riscvBackend) address(m Operand) (riscv.Reg, int64, error) {
	switch m.kind {
	case kindMem0:
		lo := rvLo12(m.w)
		return rvTmp2, lo, b.li(rvTmp2, m.w-lo)
	case kindMem1:
		base := b.gpr(m.base)
		if riscv.FitsImm12(m.w) {
			return base, m.w, nil
		}
		lo := rvLo12(m.w)
		if err := b.li(rvTmp2, m.w-lo); err != nil {
			return 0, 0, err
		}
		return rvTmp2, lo, b.c.emit32(riscv.Reg3(riscv.ADD, false, rvTmp2, rvTmp2, base))
	case kindMem2:
		base, index := b.gpr(m.base), b.gpr(m.index)
		if m.w == 0 {
			return rvTmp2, 0, b.c.emit32(riscv.Reg3(riscv.ADD, false, rvTmp2, base, index))
		}
		return rvTmp2, 0, b.c.emit32(
			riscv.ShiftImm(riscv.SLLI, false, rvTmp2, index, uint8(m.w)),
			riscv.Reg3(riscv.ADD, false, rvTmp2, rvTmp2, base))
	}
	return 0, 0, errorf(ErrBadArgument, "operand %s cannot be addressed", m)
}

func (b *riscvBackend) load(width riscv.Width, rd riscv.Reg, m Operand) error {
	base, off, err := b.address(m)
	if err != nil {
		return err
	}
	return b.word(riscv.Load(width, rd, base, off))
}

func (b *riscvBackend) store(width riscv.Width, rs riscv.Reg, m Operand) error {
	base, off, err := b.address(m)
	if err != nil {
		return err
	}
	return b.word(riscv.Store(width, rs, base, off))
}

// reg returns a register holding src. Immediate zero reads as x0.
func (b *riscvBackend) reg(src Operand, tmp riscv.Reg, word bool) (riscv.Reg, error) {
	switch src.kind {
	case kindReg:
		return b.gpr(src.base), nil
	case kindImm:
		if src.w == 0 {
			return riscv.ZERO, nil
		}
		return tmp, b.li(tmp, src.w)
	}
	w := riscv.D
	if word {
		w = riscv.W
	}
	return tmp, b.load(w, tmp, src)
}

func (b *riscvBackend) dstReg(dst Operand) riscv.Reg {
	if dst.IsReg() {
		return b.gpr(dst.base)
	}
	return rvTmp1
}

func (b *riscvBackend) storeResult(word bool, dst Operand, rd riscv.Reg) error {
	if !dst.IsMem() {
		return nil
	}
	w := riscv.D
	if word {
		w = riscv.W
	}
	return b.store(w, rd, dst)
}

func (b *riscvBackend) mv(rd, rs riscv.Reg) error {
	if rd == rs {
		return nil
	}
	return b.c.emit32(riscv.Mv(rd, rs))
}

// Frame.

func (b *riscvBackend) layout(f *frame) {
	b.saved = b.saved[:0]
	b.fsaved = b.fsaved[:0]
	for i := riscvFirstCalleeSaved; i < f.scratches; i++ {
		b.saved = append(b.saved, riscvRegs[i])
	}
	for k := f.options & 3; k < f.saveds; k++ {
		b.saved = append(b.saved, riscvRegs[len(riscvRegs)-1-k])
	}
	for i := riscvFirstCalleeSavedF; i < f.fscratches; i++ {
		b.fsaved = append(b.fsaved, riscvFRegs[i])
	}
	for k := 0; k < f.fsaveds; k++ {
		b.fsaved = append(b.fsaved, riscvFRegs[len(riscvFRegs)-1-k])
	}
	b.saveArea = (int64(8*(1+len(b.saved)+len(b.fsaved))) + 15) &^ 15
	b.locals = (int64(f.localSize) + 15) &^ 15
}

func (b *riscvBackend) setContext(f *frame) { b.layout(f) }

// adjustSP adds delta to sp, using rvTmp3 when it does not fit an addi.
func (b *riscvBackend) adjustSP(delta int64) error {
	switch {
	case delta == 0:
		return nil
	case riscv.FitsImm12(delta):
		return b.c.emit32(riscv.Addi(riscv.SP, riscv.SP, delta))
	}
	if err := b.li(rvTmp3, delta); err != nil {
		return err
	}
	return b.c.emit32(riscv.Reg3(riscv.ADD, false, riscv.SP, riscv.SP, rvTmp3))
}

func (b *riscvBackend) saveRegs(load bool) error {
	off := b.saveArea - 8
	step := func(w uint32, err error) error {
		off -= 8
		return b.word(w, err)
	}
	var err error
	if load {
		err = step(riscv.Load(riscv.D, riscv.RA, riscv.SP, off))
	} else {
		err = step(riscv.Store(riscv.D, riscv.RA, riscv.SP, off))
	}
	if err != nil {
		return err
	}
	for _, r := range b.saved {
		if load {
			err = step(riscv.Load(riscv.D, r, riscv.SP, off))
		} else {
			err = step(riscv.Store(riscv.D, r, riscv.SP, off))
		}
		if err != nil {
			return err
		}
	}
	for _, f := range b.fsaved {
		if load {
			err = step(riscv.FLoad(true, f, riscv.SP, off))
		} else {
			err = step(riscv.FStore(true, f, riscv.SP, off))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *riscvBackend) enter(f *frame) error {
	b.layout(f)
	if err := b.adjustSP(-b.saveArea); err != nil {
		return err
	}
	if err := b.saveRegs(false); err != nil {
		return err
	}
	if err := b.adjustSP(-b.locals); err != nil {
		return err
	}
	word := 0
	for _, t := range f.args.List() {
		if t.isFloat() {
			continue
		}
		if !t.scratch() {
			if err := b.mv(b.gpr(savedReg(word)), riscv.A0+riscv.Reg(word)); err != nil {
				return err
			}
		}
		word++
	}
	return nil
}

func (b *riscvBackend) epilogue() error {
	if err := b.adjustSP(b.locals); err != nil {
		return err
	}
	if err := b.saveRegs(true); err != nil {
		return err
	}
	return b.adjustSP(b.saveArea)
}

func (b *riscvBackend) ret(op Op, src Operand) error {
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
	return b.c.emit32(riscv.Jalr(riscv.ZERO, riscv.RA, 0))
}

func (b *riscvBackend) fastEnter(dst Operand) error {
	if dst.IsReg() {
		return b.mv(b.gpr(dst.base), riscv.RA)
	}
	// The address temporary is ra itself, so copy it out first.
	if err := b.mv(rvTmp1, riscv.RA); err != nil {
		return err
	}
	return b.store(riscv.D, rvTmp1, dst)
}

func (b *riscvBackend) localBase(dst Operand, off int64) error {
	rd := b.dstReg(dst)
	if riscv.FitsImm12(off) {
		if err := b.c.emit32(riscv.Addi(rd, riscv.SP, off)); err != nil {
			return err
		}
	} else {
		if err := b.li(rvTmp3, off); err != nil {
			return err
		}
		if err := b.c.emit32(riscv.Reg3(riscv.ADD, false, rd, riscv.SP, rvTmp3)); err != nil {
			return err
		}
	}
	return b.storeResult(false, dst, rd)
}

// Integer operations.

func (b *riscvBackend) op0(op Op) error {
	word := op.Is32()
	a0, a1 := riscvRegs[0], riscvRegs[1]
	switch op.Base() {
	case OpBreakpoint:
		return b.c.emit32(riscv.Ebreak())
	case OpNop:
		return b.c.emit32(riscv.Nop())
	case OpEndbr, OpSkipFramesBeforeReturn:
		return nil
	case OpLmulUW, OpLmulSW:
		hi := riscv.MULHU
		if op.Base() == OpLmulSW {
			hi = riscv.MULH
		}
		return b.c.emit32(
			riscv.Reg3(hi, false, rvTmp1, a0, a1),
			riscv.Reg3(riscv.MUL, false, a0, a0, a1),
			riscv.Mv(a1, rvTmp1))
	case OpDivmodUW, OpDivmodSW:
		div, rem := riscv.DIVU, riscv.REMU
		if op.Base() == OpDivmodSW {
			div, rem = riscv.DIV, riscv.REM
		}
		return b.c.emit32(
			riscv.Reg3(div, word, rvTmp1, a0, a1),
			riscv.Reg3(rem, word, a1, a0, a1),
			riscv.Mv(a0, rvTmp1))
	case OpDivUW:
		return b.c.emit32(riscv.Reg3(riscv.DIVU, word, a0, a0, a1))
	case OpDivSW:
		return b.c.emit32(riscv.Reg3(riscv.DIV, word, a0, a0, a1))
	}
	return errorf(ErrBadArgument, "unknown op0 %s", op)
}

func riscvLoadWidth(width int, signed bool) riscv.Width {
	switch {
	case width == 1 && signed:
		return riscv.B
	case width == 1:
		return riscv.BU
	case width == 2 && signed:
		return riscv.H
	case width == 2:
		return riscv.HU
	case width == 4 && signed:
		return riscv.W
	case width == 4:
		return riscv.WU
	}
	return riscv.D
}

func riscvStoreWidth(width int) riscv.Width {
	switch width {
	case 1:
		return riscv.B
	case 2:
		return riscv.H
	case 4:
		return riscv.W
	}
	return riscv.D
}

func riscvExtend(rd, rs riscv.Reg, width int, signed bool) []uint32 {
	switch {
	case width == 8:
		if rd == rs {
			return nil
		}
		return []uint32{riscv.Mv(rd, rs)}
	case width == 4 && signed:
		return []uint32{riscv.Addiw(rd, rs, 0)}
	case width == 1 && !signed:
		w, _ := riscv.Imm(riscv.ANDI, rd, rs, 0xFF)
		return []uint32{w}
	}
	n := uint8(64 - 8*width)
	right := riscv.SRLI
	if signed {
		right = riscv.SRAI
	}
	return []uint32{riscv.ShiftImm(riscv.SLLI, false, rd, rs, n), riscv.ShiftImm(right, false, rd, rd, n)}
}

func (b *riscvBackend) op1(op Op, dst, src Operand) error {
	word := op.Is32()
	switch op.Base() {
	case OpNot:
		rs, err := b.reg(src, rvTmp1, word)
		if err != nil {
			return err
		}
		rd := b.dstReg(dst)
		if err := b.word(riscv.Imm(riscv.XORI, rd, rs, -1)); err != nil {
			return err
		}
		if op.HasSetZ() {
			if err := b.setZero(word, rd); err != nil {
				return err
			}
		}
		return b.storeResult(word, dst, rd)
	case OpClz:
		rs, err := b.reg(src, rvTmp1, word)
		if err != nil {
			return err
		}
		rd := b.dstReg(dst)
		if err := b.clz(word, rd, rs); err != nil {
			return err
		}
		return b.storeResult(word, dst, rd)
	}
	return b.mov(op, dst, src)
}

// clz uses Zbb when present and a branchy binary search otherwise.
func (b *riscvBackend) clz(word bool, rd, rs riscv.Reg) error {
	if b.c.cpu.Zbb {
		return b.c.emit32(riscv.Clz(word, rd, rs))
	}
	words := []uint32{riscv.Mv(rvTmp3, rs)}
	steps := []uint8{32, 16, 8, 4, 2, 1}
	if word {
		words[0] = riscv.ShiftImm(riscv.SLLI, false, rvTmp3, rs, 32)
		steps = steps[1:]
	}
	// rs is dead once copied, so rvTmp1 can count.
	words = append(words, riscv.Mv(rvTmp1, riscv.ZERO))
	for _, s := range steps {
		skip, _ := riscv.Branch(riscv.BNE, rvTmp2, riscv.ZERO, 12)
		words = append(words,
			riscv.ShiftImm(riscv.SRLI, false, rvTmp2, rvTmp3, 64-s),
			skip,
			riscv.Addi(rvTmp1, rvTmp1, int64(s)),
			riscv.ShiftImm(riscv.SLLI, false, rvTmp3, rvTmp3, s))
	}
	// A zero input leaves the top bit clear after the search.
	flip, _ := riscv.Imm(riscv.XORI, rvTmp2, rvTmp2, 1)
	words = append(words,
		riscv.ShiftImm(riscv.SRLI, false, rvTmp2, rvTmp3, 63),
		flip,
		riscv.Reg3(riscv.ADD, false, rd, rvTmp1, rvTmp2))
	return b.c.emit32(words...)
}

func (b *riscvBackend) mov(op Op, dst, src Operand) error {
	width, signed := movWidth(op)
	wide := movWide(op)
	if !wide && width == 8 {
		width, signed = 4, true
	}
	if dst.IsReg() {
		rd := b.gpr(dst.base)
		switch src.kind {
		case kindImm:
			return b.li(rd, extendImm(src.w, width, signed))
		case kindReg:
			return b.c.emit32(riscvExtend(rd, b.gpr(src.base), width, signed)...)
		}
		return b.load(riscvLoadWidth(width, signed), rd, src)
	}
	var rs riscv.Reg
	switch {
	case src.IsImm() && extendImm(src.w, width, false) == 0:
		rs = riscv.ZERO
	case src.IsImm():
		rs = rvTmp1
		if err := b.li(rs, src.w); err != nil {
			return err
		}
	case src.IsReg():
		rs = b.gpr(src.base)
	default:
		rs = rvTmp1
		if err := b.load(riscvLoadWidth(width, false), rs, src); err != nil {
			return err
		}
	}
	return b.store(riscvStoreWidth(width), rs, dst)
}

func (b *riscvBackend) setZero(word bool, r riscv.Reg) error {
	if word {
		return b.c.emit32(riscv.Addiw(rvEqual, r, 0))
	}
	return b.mv(rvEqual, r)
}

// immOp emits the single instruction forms taking a 12-bit immediate. It
// reports false when src2 needs a register.
func (b *riscvBackend) immOp(op Op, rd, rs riscv.Reg, v int64) (bool, error) {
	word := op.Is32()
	base := op.Base()
	if base == OpSub && v != math.MinInt64 {
		base, v = OpAdd, -v
	}
	switch base {
	case OpAdd:
		if !riscv.FitsImm12(v) {
			return false, nil
		}
		if word {
			return true, b.c.emit32(riscv.Addiw(rd, rs, v))
		}
		return true, b.c.emit32(riscv.Addi(rd, rs, v))
	case OpAnd, OpOr, OpXor:
		if !riscv.FitsImm12(v) {
			return false, nil
		}
		iop := map[Op]riscv.ImmOp{OpAnd: riscv.ANDI, OpOr: riscv.ORI, OpXor: riscv.XORI}[base]
		return true, b.word(riscv.Imm(iop, rd, rs, v))
	case OpShl, OpLshr, OpAshr:
		n := uint8(v)
		if word {
			n &= 31
		} else {
			n &= 63
		}
		if n == 0 {
			if word {
				return true, b.c.emit32(riscv.Addiw(rd, rs, 0))
			}
			return true, b.mv(rd, rs)
		}
		sop := map[Op]riscv.ShiftOp{OpShl: riscv.SLLI, OpLshr: riscv.SRLI, OpAshr: riscv.SRAI}[base]
		return true, b.c.emit32(riscv.ShiftImm(sop, word, rd, rs, n))
	}
	return false, nil
}

var riscvALU = map[Op]riscv.ALUOp{
	OpAdd: riscv.ADD, OpSub: riscv.SUB, OpMul: riscv.MUL,
	OpAnd: riscv.AND, OpOr: riscv.OR, OpXor: riscv.XOR,
	OpShl: riscv.SLL, OpLshr: riscv.SRL, OpAshr: riscv.SRA,
	OpAddc: riscv.ADD, OpSubc: riscv.SUB,
}

func (b *riscvBackend) op2(op Op, dst, src1, src2 Operand) error {
	word := op.Is32()
	base := op.Base()
	fc := op.FlagCond()
	if src1.IsImm() && !src2.IsImm() {
		switch base {
		case OpAdd, OpMul, OpAnd, OpOr, OpXor:
			src1, src2 = src2, src1
		}
	}
	if base == OpAddc || base == OpSubc {
		// The carry in is read before the operands take the temporaries.
		if err := b.boolOf(Carry, rvFlagTmp); err != nil {
			return err
		}
	}
	rs1, err := b.reg(src1, rvTmp1, word)
	if err != nil {
		return err
	}
	rd := b.dstReg(dst)
	if fc >= 0 {
		rd = rvTmp3
	}

	if src2.IsImm() && fc < 0 && base != OpMul && base != OpAddc && base != OpSubc {
		v := src2.w
		if word {
			v = int64(int32(v))
		}
		ok, err := b.immOp(op, rd, rs1, v)
		if err != nil {
			return err
		}
		if ok {
			return b.finishOp(op, dst, rd)
		}
	}
	rs2, err := b.reg(src2, rvTmp2, word)
	if err != nil {
		return err
	}

	// Logical operations have no 32-bit form; their upper bits are
	// undefined for 32-bit results anyway.
	w := word && base != OpAnd && base != OpOr && base != OpXor
	words := []uint32{riscv.Reg3(riscvALU[base], w, rd, rs1, rs2)}
	if base == OpAddc || base == OpSubc {
		words = append(words, riscv.Reg3(riscvALU[base], w, rd, rd, rvFlagTmp))
		rs2 = rvFlagTmp
	}
	if err := b.c.emit32(words...); err != nil {
		return err
	}
	if fc >= 0 {
		if err := b.capture(op, rs1, rs2, rd); err != nil {
			return err
		}
	}
	return b.finishOp(op, dst, rd)
}

// finishOp records the zero flag and moves the result to dst.
func (b *riscvBackend) finishOp(op Op, dst Operand, rd riscv.Reg) error {
	word := op.Is32()
	if op.HasSetZ() {
		if err := b.setZero(word, rd); err != nil {
			return err
		}
	}
	switch {
	case dst.IsReg():
		return b.mv(b.gpr(dst.base), rd)
	case dst.IsMem():
		return b.storeResult(word, dst, rd)
	}
	return nil
}

var rvFlagKinds = map[Op]rvFlagKind{
	OpAdd: rvFlagsAdd, OpSub: rvFlagsSub, OpMul: rvFlagsMul,
	OpAddc: rvFlagsAddc, OpSubc: rvFlagsSubc,
}

// capture records the operands a and c and the result r of a flag-setting
// operation. For addc and subc, c is the carry in.
func (b *riscvBackend) capture(op Op, a, c, r riscv.Reg) error {
	kind, ok := rvFlagKinds[op.Base()]
	if !ok {
		return errorf(ErrBadArgument, "%s cannot set %s", op, op.FlagCond())
	}
	word := op.Is32()
	b.flags = rvFlags{kind: kind, word: word}
	copyTo := func(rd, rs riscv.Reg) uint32 {
		if word {
			return riscv.Addiw(rd, rs, 0)
		}
		return riscv.Mv(rd, rs)
	}
	words := []uint32{copyTo(rvOther, a)}
	if c != rvFlagTmp {
		words = append(words, copyTo(rvFlagTmp, c))
	}
	return b.c.emit32(append(words, copyTo(rvEqual, r))...)
}

func (b *riscvBackend) opSrc(op Op, src Operand) error {
	switch op.Base() {
	case OpFastReturn:
		r, err := b.reg(src, rvTmp1, false)
		if err != nil {
			return err
		}
		return b.c.emit32(riscv.Jalr(riscv.ZERO, r, 0))
	}
	// No prefetch in the base ISA; the hints are dropped.
	return nil
}

// Floating point.

func (b *riscvBackend) fsrc(double bool, src Operand, tmp riscv.FReg) (riscv.FReg, error) {
	if src.IsFloatReg() {
		return b.freg(src.base), nil
	}
	base, off, err := b.address(src)
	if err != nil {
		return 0, err
	}
	return tmp, b.word(riscv.FLoad(double, tmp, base, off))
}

func (b *riscvBackend) fdst(dst Operand) riscv.FReg {
	if dst.IsFloatReg() {
		return b.freg(dst.base)
	}
	return rvFTmp1
}

func (b *riscvBackend) fstore(double bool, dst Operand, f riscv.FReg) error {
	if dst.IsFloatReg() {
		return nil
	}
	base, off, err := b.address(dst)
	if err != nil {
		return err
	}
	return b.word(riscv.FStore(double, f, base, off))
}

func (b *riscvBackend) fop1(op Op, dst, src Operand) error {
	double := !op.Is32()
	switch op.Base() {
	case OpMovF64:
		if dst.IsFloatReg() {
			if src.IsFloatReg() {
				rd, rs := b.freg(dst.base), b.freg(src.base)
				if rd == rs {
					return nil
				}
				return b.c.emit32(riscv.FSign(riscv.FSGNJ, double, rd, rs, rs))
			}
			_, err := b.fsrc(double, src, b.freg(dst.base))
			return err
		}
		f, err := b.fsrc(double, src, rvFTmp1)
		if err != nil {
			return err
		}
		return b.fstore(double, dst, f)

	case OpConvF64FromF32:
		rs, err := b.fsrc(!double, src, rvFTmp1)
		if err != nil {
			return err
		}
		rd := b.fdst(dst)
		if err := b.c.emit32(riscv.FCvtPrec(double, rd, rs)); err != nil {
			return err
		}
		return b.fstore(double, dst, rd)

	case OpConvSWFromF64, OpConvS32FromF64:
		long := op.Base() == OpConvSWFromF64
		rs, err := b.fsrc(double, src, rvFTmp1)
		if err != nil {
			return err
		}
		rd := b.dstReg(dst)
		if err := b.c.emit32(riscv.FCvtToInt(long, double, rd, rs)); err != nil {
			return err
		}
		return b.storeResult(!long, dst, rd)

	case OpConvF64FromSW, OpConvF64FromS32:
		long := op.Base() == OpConvF64FromSW
		rs, err := b.reg(src, rvTmp1, !long)
		if err != nil {
			return err
		}
		rd := b.fdst(dst)
		if err := b.c.emit32(riscv.FCvtFromInt(long, double, rd, rs)); err != nil {
			return err
		}
		return b.fstore(double, dst, rd)

	case OpCmpF64:
		x, err := b.fsrc(double, dst, rvFTmp1)
		if err != nil {
			return err
		}
		y, err := b.fsrc(double, src, rvFTmp2)
		if err != nil {
			return err
		}
		return b.fcompare(double, op.FlagCond(), x, y)

	case OpNegF64, OpAbsF64:
		sop := riscv.FSGNJN
		if op.Base() == OpAbsF64 {
			sop = riscv.FSGNJX
		}
		rs, err := b.fsrc(double, src, rvFTmp1)
		if err != nil {
			return err
		}
		rd := b.fdst(dst)
		if err := b.c.emit32(riscv.FSign(sop, double, rd, rs, rs)); err != nil {
			return err
		}
		return b.fstore(double, dst, rd)
	}
	return errorf(ErrBadArgument, "unknown fop1 %s", op)
}

// fcompare evaluates the even member of cond for x and y into rvOther.
// feq, flt and fle are all false on unordered inputs.
func (b *riscvBackend) fcompare(double bool, cond Cond, x, y riscv.FReg) error {
	even := cond &^ 1
	b.flags = rvFlags{kind: rvFlagsBool, cond: even}
	fcmp := func(op riscv.FCmpOp, rd riscv.Reg, l, r riscv.FReg) uint32 { return riscv.FCmp(op, double, rd, l, r) }
	not, _ := riscv.Imm(riscv.XORI, rvOther, rvOther, 1)
	var words []uint32
	switch even {
	case FEqual, OrderedEqual:
		words = []uint32{fcmp(riscv.FEQ, rvOther, x, y)}
	case FLess, OrderedLess:
		words = []uint32{fcmp(riscv.FLT, rvOther, x, y)}
	case FGreater, OrderedGreater:
		words = []uint32{fcmp(riscv.FLT, rvOther, y, x)}
	case Unordered:
		words = []uint32{
			fcmp(riscv.FEQ, rvOther, x, x),
			fcmp(riscv.FEQ, rvFlagTmp, y, y),
			riscv.Reg3(riscv.AND, false, rvOther, rvOther, rvFlagTmp),
			not,
		}
	case UnorderedOrEqual:
		words = []uint32{
			fcmp(riscv.FLT, rvOther, x, y),
			fcmp(riscv.FLT, rvFlagTmp, y, x),
			riscv.Reg3(riscv.OR, false, rvOther, rvOther, rvFlagTmp),
			not,
		}
	case UnorderedOrLess:
		words = []uint32{fcmp(riscv.FLE, rvOther, y, x), not}
	case UnorderedOrGreater:
		words = []uint32{fcmp(riscv.FLE, rvOther, x, y), not}
	default:
		return errorf(ErrBadArgument, "float compare needs a float condition, got %s", cond)
	}
	return b.c.emit32(words...)
}

func (b *riscvBackend) fop2(op Op, dst, src1, src2 Operand) error {
	double := !op.Is32()
	fop := map[Op]riscv.FArithOp{
		OpAddF64: riscv.FADD, OpSubF64: riscv.FSUB,
		OpMulF64: riscv.FMUL, OpDivF64: riscv.FDIV,
	}[op.Base()]
	x, err := b.fsrc(double, src1, rvFTmp1)
	if err != nil {
		return err
	}
	y, err := b.fsrc(double, src2, rvFTmp2)
	if err != nil {
		return err
	}
	rd := b.fdst(dst)
	if err := b.c.emit32(riscv.FArith(fop, double, rd, x, y)); err != nil {
		return err
	}
	return b.fstore(double, dst, rd)
}

// Conditions.

// materialise returns a branch taken exactly when t holds, as
// op(rs1, rs2) after the pre instructions. Those only write rvTmp1 and
// rvTmp3.
func (b *riscvBackend) materialise(t Cond) (op riscv.BranchOp, rs1, rs2 riscv.Reg, pre []uint32) {
	switch t {
	case Equal:
		return riscv.BEQ, rvEqual, riscv.ZERO, nil
	case NotEqual:
		return riscv.BNE, rvEqual, riscv.ZERO, nil
	}
	even, invert := t&^1, t&1 != 0
	defer func() {
		if invert {
			op = op.Invert()
		}
	}()
	f := b.flags
	if f.kind == rvFlagsBool {
		if even == f.cond {
			return riscv.BNE, rvOther, riscv.ZERO, nil
		}
		// The recorded condition is the inverse of the one asked for.
		return riscv.BEQ, rvOther, riscv.ZERO, nil
	}
	a, c, r := rvOther, rvFlagTmp, rvEqual
	x1, x3 := rvTmp1, rvTmp3
	reg3 := func(op riscv.ALUOp, rd, rs1, rs2 riscv.Reg) uint32 { return riscv.Reg3(op, false, rd, rs1, rs2) }
	switch even {
	case Less:
		return riscv.BLTU, a, c, nil
	case Greater:
		return riscv.BLTU, c, a, nil
	case SigLess:
		return riscv.BLT, a, c, nil
	case SigGreater:
		return riscv.BLT, c, a, nil
	case Carry:
		switch {
		case f.kind == rvFlagsSub:
			return riscv.BLTU, a, c, nil
		case f.kind == rvFlagsAdd && f.word:
			// Carry out of the low halves moved to the top.
			return riscv.BLTU, x1, x3, []uint32{
				riscv.ShiftImm(riscv.SLLI, false, x3, a, 32),
				riscv.ShiftImm(riscv.SLLI, false, x1, c, 32),
				reg3(riscv.ADD, x1, x3, x1),
			}
		case f.kind == rvFlagsAdd:
			return riscv.BLTU, r, a, nil
		}
		// With a carry in the result may equal the first operand; the
		// carry in then decides.
		lt := reg3(riscv.SLTU, x3, r, a)
		if f.kind == rvFlagsSubc {
			lt = reg3(riscv.SLTU, x3, a, r)
		}
		eq, _ := riscv.Imm(riscv.SLTIU, x1, x1, 1)
		return riscv.BNE, x3, riscv.ZERO, []uint32{
			lt,
			reg3(riscv.XOR, x1, r, a),
			eq,
			reg3(riscv.AND, x1, x1, c),
			reg3(riscv.OR, x3, x3, x1),
		}
	case Overflow:
		switch {
		case f.word:
			// The 64-bit result of the sign extended operands differs
			// from the sign extended 32-bit result.
			return riscv.BNE, x3, r, []uint32{reg3(riscvALU[rvKindOps[f.kind]], x3, a, c)}
		case f.kind == rvFlagsMul:
			return riscv.BNE, x3, x1, []uint32{
				reg3(riscv.MULH, x3, a, c),
				riscv.ShiftImm(riscv.SRAI, false, x1, r, 63),
			}
		case f.kind == rvFlagsAdd:
			return riscv.BLT, x3, riscv.ZERO, []uint32{
				reg3(riscv.XOR, x3, r, a),
				reg3(riscv.XOR, x1, r, c),
				reg3(riscv.AND, x3, x3, x1),
			}
		}
		return riscv.BLT, x3, riscv.ZERO, []uint32{
			reg3(riscv.XOR, x3, a, c),
			reg3(riscv.XOR, x1, a, r),
			reg3(riscv.AND, x3, x3, x1),
		}
	}
	// Unreachable behind the front end checks; never taken.
	return riscv.BNE, riscv.ZERO, riscv.ZERO, nil
}

var rvKindOps = map[rvFlagKind]Op{rvFlagsAdd: OpAdd, rvFlagsSub: OpSub, rvFlagsMul: OpMul}

// boolOf writes 1 to rd when t holds and 0 otherwise.
func (b *riscvBackend) boolOf(t Cond, rd riscv.Reg) error {
	op, x, y, words := b.materialise(t)
	if y != riscv.ZERO && (op == riscv.BEQ || op == riscv.BNE) {
		words = append(words, riscv.Reg3(riscv.XOR, false, rd, x, y))
		x = rd
	}
	not, _ := riscv.Imm(riscv.XORI, rd, rd, 1)
	switch op {
	case riscv.BEQ:
		w, _ := riscv.Imm(riscv.SLTIU, rd, x, 1)
		words = append(words, w)
	case riscv.BNE:
		words = append(words, riscv.Reg3(riscv.SLTU, false, rd, riscv.ZERO, x))
	case riscv.BLT:
		words = append(words, riscv.Reg3(riscv.SLT, false, rd, x, y))
	case riscv.BGE:
		words = append(words, riscv.Reg3(riscv.SLT, false, rd, x, y), not)
	case riscv.BLTU:
		words = append(words, riscv.Reg3(riscv.SLTU, false, rd, x, y))
	default:
		words = append(words, riscv.Reg3(riscv.SLTU, false, rd, x, y), not)
	}
	return b.c.emit32(words...)
}

func (b *riscvBackend) opFlags(op Op, dst Operand, cond Cond) error {
	if err := b.boolOf(cond.Type(), rvTmp1); err != nil {
		return err
	}
	switch op.Base() {
	case OpMov, OpMov32:
		if dst.IsReg() {
			return b.mv(b.gpr(dst.base), rvTmp1)
		}
		width := riscv.D
		if op.Base() == OpMov32 {
			width = riscv.W
		}
		return b.store(width, rvTmp1, dst)
	}
	word := op.Is32()
	x, err := b.reg(dst, rvTmp3, word)
	if err != nil {
		return err
	}
	rd := b.dstReg(dst)
	if err := b.c.emit32(riscv.Reg3(riscvALU[op.Base()], false, rd, x, rvTmp1)); err != nil {
		return err
	}
	if op.HasSetZ() {
		if err := b.setZero(word, rd); err != nil {
			return err
		}
	}
	return b.storeResult(word, dst, rd)
}

func (b *riscvBackend) cmov(cond Cond, dst, src Operand) error {
	rs, err := b.reg(src, rvTmp2, cond&Cond32 != 0)
	if err != nil {
		return err
	}
	op, x, y, words := b.materialise(cond.Type())
	return b.c.emit32(append(words,
		mustWord(riscv.Branch(op.Invert(), x, y, 8)),
		riscv.Mv(b.gpr(dst.base), rs))...)
}

func mustWord(w uint32, err error) uint32 {
	if err != nil {
		panic(err)
	}
	return w
}

// There are no base update addressing modes; MemSupp always reports them
// unsupported and the emulation adds to the base separately.
func (b *riscvBackend) mem(op Op, flags MemFlags, r, m Operand) error {
	return b.memAccess(flags, m, func(addr Operand) error {
		if flags&MemStore != 0 {
			return b.mov(op, addr, r)
		}
		return b.mov(op, r, addr)
	})
}

func (b *riscvBackend) fmem(op Op, flags MemFlags, r, m Operand) error {
	return b.memAccess(flags, m, func(addr Operand) error {
		if flags&MemStore != 0 {
			return b.fop1(op, addr, r)
		}
		return b.fop1(op, r, addr)
	})
}

func (b *riscvBackend) memAccess(flags MemFlags, m Operand, access func(Operand) error) error {
	update := flags&(MemPre|MemPost) != 0
	if flags&MemSupp != 0 {
		if update {
			return errorf(ErrUnsupported, "riscv64 has no base update addressing")
		}
		return nil
	}
	if !update {
		return access(m)
	}
	baseOp := Operand{kind: kindReg, base: m.base}
	if flags&MemPost != 0 {
		if err := access(Mem1(baseOp, 0)); err != nil {
			return err
		}
	}
	var err error
	if m.kind == kindMem1 {
		err = b.op2(OpAdd, baseOp, baseOp, Imm(m.w))
	} else {
		base, index := b.gpr(m.base), b.gpr(m.index)
		err = b.c.emit32(
			riscv.ShiftImm(riscv.SLLI, false, rvTmp2, index, uint8(m.w)),
			riscv.Reg3(riscv.ADD, false, base, base, rvTmp2))
	}
	if err != nil {
		return err
	}
	if flags&MemPre != 0 {
		return access(Mem1(baseOp, 0))
	}
	return nil
}

func (b *riscvBackend) custom(p []byte) error { return b.c.emit(p) }

// setCurrentFlags follows the register convention: custom code leaves the
// zero flag value in t0 and the declared condition as 0 or 1 in t3.
func (b *riscvBackend) setCurrentFlags(flags int32) {
	if fc := Op(flags).FlagCond(); fc >= 0 {
		b.flags = rvFlags{kind: rvFlagsBool, cond: fc &^ 1}
	}
}

// Jumps and calls.

func (b *riscvBackend) jump(j *Jump) error {
	switch t := j.kind.Type(); t {
	case JumpAlways:
		return b.c.reserveJump(j, jumpForm{kind: formJump}, riscvJumpMax)
	case FastCall:
		return b.c.reserveJump(j, jumpForm{kind: formCall}, riscvJumpMax)
	}
	return b.flagBranch(j)
}

// flagBranch reserves a branch on the recorded flags.
func (b *riscvBackend) flagBranch(j *Jump) error {
	op, x, y, pre := b.materialise(j.kind.Type())
	if err := b.c.emit32(pre...); err != nil {
		return err
	}
	return b.reserveBranch(j, op, x, y)
}

func (b *riscvBackend) reserveBranch(j *Jump, bop riscv.BranchOp, rs1, rs2 riscv.Reg) error {
	form := jumpForm{kind: formCond, cc: uint8(bop), rs1: uint8(rs1), rs2: uint8(rs2)}
	return b.c.reserveJump(j, form, riscvCondMax)
}

var riscvCmpBranch = map[Cond]struct {
	op   riscv.BranchOp
	swap bool
}{
	Equal:           {riscv.BEQ, false},
	NotEqual:        {riscv.BNE, false},
	Less:            {riscv.BLTU, false},
	GreaterEqual:    {riscv.BGEU, false},
	Greater:         {riscv.BLTU, true},
	LessEqual:       {riscv.BGEU, true},
	SigLess:         {riscv.BLT, false},
	SigGreaterEqual: {riscv.BGE, false},
	SigGreater:      {riscv.BLT, true},
	SigLessEqual:    {riscv.BGE, true},
}

// cmp branches on the operands directly and leaves the flag registers
// alone.
func (b *riscvBackend) cmp(j *Jump, src1, src2 Operand) error {
	word := j.kind&Cond32 != 0
	x, err := b.reg(src1, rvTmp1, word)
	if err != nil {
		return err
	}
	y, err := b.reg(src2, rvTmp3, word)
	if err != nil {
		return err
	}
	if word {
		// Sign extension keeps the unsigned order of the low halves.
		if x != riscv.ZERO {
			if err := b.c.emit32(riscv.Addiw(rvTmp1, x, 0)); err != nil {
				return err
			}
			x = rvTmp1
		}
		if y != riscv.ZERO {
			if err := b.c.emit32(riscv.Addiw(rvTmp3, y, 0)); err != nil {
				return err
			}
			y = rvTmp3
		}
	}
	br := riscvCmpBranch[j.kind.Type()]
	if br.swap {
		x, y = y, x
	}
	return b.reserveBranch(j, br.op, x, y)
}

func (b *riscvBackend) fcmp(j *Jump, src1, src2 Operand) error {
	op := OpCmpF64 | Set(j.kind.Type())
	if j.kind&Cond32 != 0 {
		op |= F32
	}
	if err := b.fop1(op, src1, src2); err != nil {
		return err
	}
	return b.flagBranch(j)
}

func (b *riscvBackend) call(j *Jump, args Args) error {
	if j.kind&CallReturn != 0 {
		if err := b.epilogue(); err != nil {
			return err
		}
		return b.c.reserveJump(j, jumpForm{kind: formJump}, riscvJumpMax)
	}
	return b.c.reserveJump(j, jumpForm{kind: formCall}, riscvJumpMax)
}

func (b *riscvBackend) ijump(kind Cond, src Operand) error {
	r, err := b.reg(src, rvTmp1, false)
	if err != nil {
		return err
	}
	link := riscv.ZERO
	if kind == FastCall {
		link = riscv.RA
	}
	return b.c.emit32(riscv.Jalr(link, r, 0))
}

func (b *riscvBackend) icall(kind Cond, args Args, src Operand) error {
	r, err := b.reg(src, rvTmp1, false)
	if err != nil {
		return err
	}
	if kind&CallReturn != 0 {
		if err := b.mv(rvTmp1, r); err != nil {
			return err
		}
		if err := b.epilogue(); err != nil {
			return err
		}
		return b.c.emit32(riscv.Jalr(riscv.ZERO, rvTmp1, 0))
	}
	return b.c.emit32(riscv.Jalr(riscv.RA, r, 0))
}

func (b *riscvBackend) loadFixed(off *int, dst Operand, v int64) error {
	*off = b.c.buf.Len()
	rd := b.dstReg(dst)
	seq := riscv.LiFixed(rd, v)
	if err := b.c.emit32(seq[:]...); err != nil {
		return err
	}
	return b.storeResult(false, dst, rd)
}

func (b *riscvBackend) loadConst(k *Const, dst Operand) error { return b.loadFixed(&k.off, dst, k.init) }

func (b *riscvBackend) loadLabel(p *PutLabel, dst Operand) error { return b.loadFixed(&p.off, dst, 0) }

// riscvFitsPCRel reports whether an auipc and jalr pair reaches d.
func riscvFitsPCRel(d int64) bool {
	return d >= math.MinInt32 && d <= math.MaxInt32-2048
}

func (b *riscvBackend) jumpSize(j *Jump, pc, target int64) int {
	d := target - pc
	if j.form.kind != formCond {
		switch {
		case riscv.FitsJal(d):
			return 4
		case riscvFitsPCRel(d):
			return 8
		}
		return riscvJumpMax
	}
	switch {
	case riscv.FitsBranch(d):
		return 4
	case riscv.FitsJal(d - 4):
		return 8
	case riscvFitsPCRel(d - 4):
		return 12
	}
	return riscvCondMax
}

// riscvJumpTo reaches target from pc in exactly n bytes, linking into rd.
func riscvJumpTo(n int, rd riscv.Reg, pc, target uint64) ([]uint32, error) {
	d := int64(target) - int64(pc)
	switch n {
	case 4:
		w, err := riscv.Jal(rd, d)
		return []uint32{w}, err
	case 8:
		lo := rvLo12(d)
		return []uint32{riscv.Auipc(rvTmp1, int32((d-lo)>>12)), riscv.Jalr(rd, rvTmp1, lo)}, nil
	}
	seq := riscv.LiFixed(rvTmp1, int64(target))
	return append(seq[:], riscv.Jalr(rd, rvTmp1, 0)), nil
}

func (b *riscvBackend) encodeJump(p []byte, j *Jump, pc, target uint64) error {
	f := j.form
	var words []uint32
	var err error
	if f.kind != formCond {
		rd := riscv.ZERO
		if f.kind == formCall {
			rd = riscv.RA
		}
		words, err = riscvJumpTo(len(p), rd, pc, target)
	} else {
		bop := riscv.BranchOp(f.cc)
		rs1, rs2 := riscv.Reg(f.rs1), riscv.Reg(f.rs2)
		if len(p) == 4 {
			var w uint32
			w, err = riscv.Branch(bop, rs1, rs2, int64(target)-int64(pc))
			words = []uint32{w}
		} else {
			var skip uint32
			if skip, err = riscv.Branch(bop.Invert(), rs1, rs2, int64(len(p))); err == nil {
				var rest []uint32
				rest, err = riscvJumpTo(len(p)-4, riscv.ZERO, pc+4, target)
				words = append([]uint32{skip}, rest...)
			}
		}
	}
	if err != nil {
		return errorf(ErrUnsupported, "riscv64 jump j%d: %v", j.id, err)
	}
	if 4*len(words) != len(p) {
		return errorf(ErrUnsupported, "riscv64 jump j%d encoded to %d bytes in a %d byte slot", j.id, 4*len(words), len(p))
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(p[4*i:], w)
	}
	return nil
}

func riscvDecodeFixed(p []byte) (riscv.Reg, error) {
	if len(p) < riscvConstLen {
		return 0, errorf(ErrDynCodeMod, "riscv64 fixed load truncated")
	}
	var words [riscv.LiFixedLen]uint32
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	rd, _, err := riscv.DecodeLiFixed(words)
	if err != nil {
		return 0, errorf(ErrDynCodeMod, "%v", err)
	}
	return rd, nil
}

func riscvWriteFixed(p []byte, rd riscv.Reg, v int64) {
	for i, w := range riscv.LiFixed(rd, v) {
		binary.LittleEndian.PutUint32(p[4*i:], w)
	}
}

func riscvPatchJump(p []byte, _, target uintptr) error {
	if len(p) >= 4 && binary.LittleEndian.Uint32(p)&0x7F == 0x63 {
		p = p[4:]
	}
	rd, err := riscvDecodeFixed(p)
	if err != nil {
		return err
	}
	riscvWriteFixed(p, rd, int64(target))
	return nil
}

func riscvPatchConst(p []byte, v int64) error {
	rd, err := riscvDecodeFixed(p)
	if err != nil {
		return err
	}
	riscvWriteFixed(p, rd, v)
	return nil
}

func (b *riscvBackend) regIndex(r reg) int { return int(b.gpr(r)) }

func (b *riscvBackend) fregIndex(r reg) int { return int(b.freg(r)) }

func (b *riscvBackend) feature(f Feature) FeatureStatus {
	switch f {
	case FeatureHasFPU:
		if b.c.cpu.FPU {
			return FeatureNative
		}
	case FeatureHasZeroRegister:
		return FeatureNative
	case FeatureHasClz:
		if b.c.cpu.Zbb {
			return FeatureNative
		}
		return FeatureEmulated
	case FeatureHasCmov:
		return FeatureEmulated
	}
	return FeatureUnavailable
}

// cmpInfo is true for float conditions: every float compare goes through
// the eager flag register.
func (b *riscvBackend) cmpInfo(cond Cond) bool { return cond.isFloat() }
