package lir

import (
	"encoding/binary"
	"math"

	"github.com/tinyrange/lirjit/internal/asm/arm64"
)

// AAPCS64. R0..R14 are x0..x14 and the saved registers are allocated from
// x19 upwards, so high scratch registers spill into x28 downwards.
var arm64Regs = func() []arm64.Reg {
	regs := make([]arm64.Reg, 0, 25)
	for r := arm64.X0; r <= arm64.X14; r++ {
		regs = append(regs, r)
	}
	for r := arm64.X28; r >= arm64.X19; r-- {
		regs = append(regs, r)
	}
	return regs
}()

const arm64FirstCalleeSaved = 15

var arm64FRegs = func() []arm64.VReg {
	regs := make([]arm64.VReg, 0, 30)
	for v := arm64.VReg(0); v <= 7; v++ {
		regs = append(regs, v)
	}
	for v := arm64.VReg(16); v <= 29; v++ {
		regs = append(regs, v)
	}
	for v := arm64.VReg(15); v >= 8; v-- {
		regs = append(regs, v)
	}
	return regs
}()

const arm64FirstCalleeSavedF = 22

const (
	arm64Tmp1  = arm64.X16
	arm64Tmp2  = arm64.X17
	arm64Tmp3  = arm64.X15
	arm64FTmp1 = arm64.VReg(31)
	arm64FTmp2 = arm64.VReg(30)
)

const (
	arm64JumpMax  = 20
	arm64CondMax  = 24
	arm64TwinMax  = 28
	arm64ConstLen = 16
)

func init() {
	registerArch(ArchARM64, &archSpec{
		platform:           "ARM-64 (little endian + unaligned)",
		newBackend:         func(c *Compiler) backend { return &arm64Backend{c: c} },
		patchJump:          arm64PatchJump,
		patchConst:         arm64PatchConst,
		jumpPatchSize:      arm64TwinMax,
		constPatchSize:     arm64ConstLen,
		numRegisters:       len(arm64Regs),
		numSavedRegisters:  len(arm64Regs) - arm64FirstCalleeSaved,
		numFloatRegisters:  len(arm64FRegs),
		numSavedFloatRegs:  len(arm64FRegs) - arm64FirstCalleeSavedF,
		customInstrMinSize: 4,
		customInstrMaxSize: 4,
	})
}

// flagSource records which kind of operation last set the flags, since
// the carry and overflow conditions read differently after each.
type flagSource uint8

const (
	flagsAdd flagSource = iota
	flagsSub
	flagsMul
)

type arm64Backend struct {
	c *Compiler
	// saved lists the callee-saved registers stored below the frame
	// record, fsaved the float ones after them.
	saved     []arm64.Reg
	fsaved    []arm64.VReg
	frameSize int64
	flags     flagSource
}

func (b *arm64Backend) gpr(r reg) arm64.Reg {
	switch {
	case r == regSP:
		return arm64.SP
	case r.isSaved():
		return arm64Regs[len(arm64Regs)-1-r.num()]
	}
	return arm64Regs[r.num()]
}

func (b *arm64Backend) vreg(r reg) arm64.VReg {
	if r.isSaved() {
		return arm64FRegs[len(arm64FRegs)-1-r.num()]
	}
	return arm64FRegs[r.num()]
}

func (b *arm64Backend) word(w uint32, err error) error {
	if err != nil {
		return err
	}
	return b.c.emit32(w)
}

func (b *arm64Backend) loadImm(is64 bool, rd arm64.Reg, v int64) error {
	return b.c.emit32(arm64.LoadImm(is64, rd, uint64(v))...)
}

// access emits one load, store or prefetch of m. Addresses that do not fit
// the encoding are built in arm64Tmp2.
func (b *arm64Backend) access(op arm64.MemOp, rt arm64.Reg, m Operand) error {
	switch m.kind {
	case kindMem0:
		if err := b.loadImm(true, arm64Tmp2, m.w); err != nil {
			return err
		}
		return b.word(arm64.LoadStore(op, rt, arm64Tmp2, 0))
	case kindMem1:
		base, off := b.gpr(m.base), m.w
		switch {
		case arm64.FitsScaled(op, off):
			return b.word(arm64.LoadStore(op, rt, base, off))
		case arm64.FitsUnscaled(off):
			return b.word(arm64.LoadStoreUnscaled(op, rt, base, off))
		}
		if err := b.loadImm(true, arm64Tmp2, off); err != nil {
			return err
		}
		return b.word(arm64.LoadStoreReg(op, rt, base, arm64Tmp2, 0))
	case kindMem2:
		base, index, shift := b.gpr(m.base), b.gpr(m.index), uint8(m.w)
		if shift == 0 || shift == op.Scale() {
			return b.word(arm64.LoadStoreReg(op, rt, base, index, shift))
		}
		if err := b.c.emit32(arm64.AddSubReg(true, false, false, arm64Tmp2, base, index, arm64.LSL, shift)); err != nil {
			return err
		}
		return b.word(arm64.LoadStore(op, rt, arm64Tmp2, 0))
	}
	return errorf(ErrBadArgument, "operand %s cannot be addressed", m)
}

// reg returns a register holding src, loading immediates and memory into
// tmp.
func (b *arm64Backend) reg(is64 bool, src Operand, tmp arm64.Reg) (arm64.Reg, error) {
	switch src.kind {
	case kindReg:
		return b.gpr(src.base), nil
	case kindImm:
		return tmp, b.loadImm(is64, tmp, src.w)
	}
	op := arm64.LDRX
	if !is64 {
		op = arm64.LDRW
	}
	return tmp, b.access(op, tmp, src)
}

// storeResult writes the value computed in rd to a memory destination.
func (b *arm64Backend) storeResult(is64 bool, dst Operand, rd arm64.Reg) error {
	if !dst.IsMem() {
		return nil
	}
	op := arm64.STRX
	if !is64 {
		op = arm64.STRW
	}
	return b.access(op, rd, dst)
}

func (b *arm64Backend) dstReg(dst Operand) arm64.Reg {
	if dst.IsReg() {
		return b.gpr(dst.base)
	}
	return arm64Tmp1
}

// Frame.

func (b *arm64Backend) layout(f *frame) {
	b.saved = b.saved[:0]
	b.fsaved = b.fsaved[:0]
	for i := arm64FirstCalleeSaved; i < f.scratches; i++ {
		b.saved = append(b.saved, arm64Regs[i])
	}
	for k := f.options & 3; k < f.saveds; k++ {
		b.saved = append(b.saved, arm64Regs[len(arm64Regs)-1-k])
	}
	for i := arm64FirstCalleeSavedF; i < f.fscratches; i++ {
		b.fsaved = append(b.fsaved, arm64FRegs[i])
	}
	for k := 0; k < f.fsaveds; k++ {
		b.fsaved = append(b.fsaved, arm64FRegs[len(arm64FRegs)-1-k])
	}
	area := int64(8 * (len(b.saved) + len(b.fsaved)))
	b.frameSize = (area+15)&^15 + (int64(f.localSize)+15)&^15
}

func (b *arm64Backend) setContext(f *frame) { b.layout(f) }

// adjustSP adds delta, a multiple of 16 below 2^24, to sp.
func (b *arm64Backend) adjustSP(delta int64) error {
	sub := delta < 0
	if sub {
		delta = -delta
	}
	if hi := uint32(delta >> 12); hi != 0 {
		if err := b.word(arm64.AddSubImm(true, sub, false, arm64.SP, arm64.SP, hi, true)); err != nil {
			return err
		}
	}
	if lo := uint32(delta & 0xFFF); lo != 0 {
		return b.word(arm64.AddSubImm(true, sub, false, arm64.SP, arm64.SP, lo, false))
	}
	return nil
}

func (b *arm64Backend) enter(f *frame) error {
	b.layout(f)
	if err := b.word(arm64.Pair(arm64.STPX, arm64.PairPre, arm64.FP, arm64.LR, arm64.SP, -16)); err != nil {
		return err
	}
	if err := b.c.emit32(arm64.MovSP(arm64.FP, arm64.SP)); err != nil {
		return err
	}
	if err := b.adjustSP(-b.frameSize); err != nil {
		return err
	}
	if err := b.saveArea(false); err != nil {
		return err
	}
	word := 0
	for _, t := range f.args.List() {
		if t.isFloat() {
			continue
		}
		if !t.scratch() {
			if err := b.c.emit32(arm64.MovReg(true, b.gpr(savedReg(word)), arm64.Reg(word))); err != nil {
				return err
			}
		}
		word++
	}
	return nil
}

// saveArea stores or reloads the callee-saved registers below the frame
// record.
func (b *arm64Backend) saveArea(load bool) error {
	off := int64(0)
	for _, r := range b.saved {
		off -= 8
		op := arm64.STRX
		if load {
			op = arm64.LDRX
		}
		if err := b.word(arm64.LoadStoreUnscaled(op, r, arm64.FP, off)); err != nil {
			return err
		}
	}
	for _, v := range b.fsaved {
		off -= 8
		if err := b.word(arm64.LoadStoreUnscaled(arm64.FLoadStore(true, load), arm64.Reg(v), arm64.FP, off)); err != nil {
			return err
		}
	}
	return nil
}

func (b *arm64Backend) epilogue() error {
	if err := b.saveArea(true); err != nil {
		return err
	}
	if err := b.c.emit32(arm64.MovSP(arm64.SP, arm64.FP)); err != nil {
		return err
	}
	return b.word(arm64.Pair(arm64.LDPX, arm64.PairPost, arm64.FP, arm64.LR, arm64.SP, 16))
}

func (b *arm64Backend) ret(op Op, src Operand) error {
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
	return b.c.emit32(arm64.Ret(arm64.LR))
}

func (b *arm64Backend) fastEnter(dst Operand) error {
	if dst.IsReg() {
		return b.c.emit32(arm64.MovReg(true, b.gpr(dst.base), arm64.LR))
	}
	return b.access(arm64.STRX, arm64.LR, dst)
}

func (b *arm64Backend) localBase(dst Operand, off int64) error {
	rd := b.dstReg(dst)
	if off >= 0 && off <= 0xFFF {
		if err := b.word(arm64.AddSubImm(true, false, false, rd, arm64.SP, uint32(off), false)); err != nil {
			return err
		}
	} else {
		if err := b.loadImm(true, arm64Tmp2, off); err != nil {
			return err
		}
		if err := b.c.emit32(arm64.AddExt(true, rd, arm64.SP, arm64Tmp2, 0)); err != nil {
			return err
		}
	}
	return b.storeResult(true, dst, rd)
}

// Integer operations.

func (b *arm64Backend) op0(op Op) error {
	is64 := !op.Is32()
	x0, x1 := arm64Regs[0], arm64Regs[1]
	switch op.Base() {
	case OpBreakpoint:
		return b.c.emit32(arm64.Brk(0))
	case OpNop:
		return b.c.emit32(arm64.Nop())
	case OpEndbr, OpSkipFramesBeforeReturn:
		return nil
	case OpLmulUW:
		return b.c.emit32(arm64.Umulh(arm64Tmp3, x0, x1), arm64.Mul(true, x0, x0, x1), arm64.MovReg(true, x1, arm64Tmp3))
	case OpLmulSW:
		return b.c.emit32(arm64.Smulh(arm64Tmp3, x0, x1), arm64.Mul(true, x0, x0, x1), arm64.MovReg(true, x1, arm64Tmp3))
	case OpDivmodUW, OpDivmodSW:
		div := arm64.UDIV
		if op.Base() == OpDivmodSW {
			div = arm64.SDIV
		}
		// sdiv wraps INT_MIN / -1, and the remainder follows as zero.
		return b.c.emit32(
			arm64.Reg2(div, is64, arm64Tmp3, x0, x1),
			arm64.Msub(is64, x1, arm64Tmp3, x1, x0),
			arm64.MovReg(is64, x0, arm64Tmp3),
		)
	case OpDivUW:
		return b.c.emit32(arm64.Reg2(arm64.UDIV, is64, x0, x0, x1))
	case OpDivSW:
		return b.c.emit32(arm64.Reg2(arm64.SDIV, is64, x0, x0, x1))
	}
	return errorf(ErrBadArgument, "unknown op0 %s", op)
}

func arm64LoadOp(width int, signed bool) arm64.MemOp {
	switch {
	case width == 1 && signed:
		return arm64.LDRSBX
	case width == 1:
		return arm64.LDRB
	case width == 2 && signed:
		return arm64.LDRSHX
	case width == 2:
		return arm64.LDRH
	case width == 4 && signed:
		return arm64.LDRSW
	case width == 4:
		return arm64.LDRW
	}
	return arm64.LDRX
}

func arm64StoreOp(width int) arm64.MemOp {
	switch width {
	case 1:
		return arm64.STRB
	case 2:
		return arm64.STRH
	case 4:
		return arm64.STRW
	}
	return arm64.STRX
}

// arm64Extend copies rn to rd with the extension of a width byte move.
func arm64Extend(rd, rn arm64.Reg, width int, signed, wide bool) []uint32 {
	switch {
	case width == 8:
		if rd == rn {
			return nil
		}
		return []uint32{arm64.MovReg(true, rd, rn)}
	case width == 4 && signed && wide:
		return []uint32{arm64.Sxt(rd, rn, 32)}
	case width == 4:
		return []uint32{arm64.MovReg(false, rd, rn)}
	case !signed:
		return []uint32{arm64.Uxt(rd, rn, uint8(8*width))}
	case wide:
		return []uint32{arm64.Sxt(rd, rn, uint8(8*width))}
	}
	return []uint32{arm64.Bfm(arm64.SBFM, false, rd, rn, 0, uint8(8*width-1))}
}

func (b *arm64Backend) op1(op Op, dst, src Operand) error {
	is64 := !op.Is32()
	switch op.Base() {
	case OpNot:
		rn, err := b.reg(is64, src, arm64Tmp1)
		if err != nil {
			return err
		}
		rd := b.dstReg(dst)
		if err := b.c.emit32(arm64.LogicReg(arm64.ORN, is64, rd, arm64.XZR, rn, arm64.LSL, 0)); err != nil {
			return err
		}
		if op.HasSetZ() {
			if err := b.test(is64, rd); err != nil {
				return err
			}
		}
		return b.storeResult(is64, dst, rd)
	case OpClz:
		rn, err := b.reg(is64, src, arm64Tmp1)
		if err != nil {
			return err
		}
		rd := b.dstReg(dst)
		if err := b.c.emit32(arm64.Clz(is64, rd, rn)); err != nil {
			return err
		}
		return b.storeResult(is64, dst, rd)
	}
	return b.mov(op, dst, src)
}

func (b *arm64Backend) test(is64 bool, r arm64.Reg) error {
	return b.c.emit32(arm64.LogicReg(arm64.ANDS, is64, arm64.XZR, r, r, arm64.LSL, 0))
}

func (b *arm64Backend) mov(op Op, dst, src Operand) error {
	width, signed := movWidth(op)
	wide := movWide(op)
	if dst.IsReg() {
		rd := b.gpr(dst.base)
		switch src.kind {
		case kindImm:
			return b.loadImm(wide, rd, extendImm(src.w, width, signed))
		case kindReg:
			return b.c.emit32(arm64Extend(rd, b.gpr(src.base), width, signed, wide)...)
		}
		return b.access(arm64LoadOp(width, signed), rd, src)
	}
	var rt arm64.Reg
	switch {
	case src.IsImm() && extendImm(src.w, width, false) == 0:
		rt = arm64.XZR
	case src.IsImm():
		rt = arm64Tmp1
		if err := b.loadImm(true, rt, src.w); err != nil {
			return err
		}
	case src.IsReg():
		rt = b.gpr(src.base)
	default:
		rt = arm64Tmp1
		if err := b.access(arm64LoadOp(width, false), rt, src); err != nil {
			return err
		}
	}
	return b.access(arm64StoreOp(width), rt, dst)
}

func fitsImm12(v int64) (imm uint32, shift bool, ok bool) {
	switch {
	case v >= 0 && v <= 0xFFF:
		return uint32(v), false, true
	case v >= 0 && v&0xFFF == 0 && v>>12 <= 0xFFF:
		return uint32(v >> 12), true, true
	}
	return 0, false, false
}

func (b *arm64Backend) op2(op Op, dst, src1, src2 Operand) error {
	is64 := !op.Is32()
	base := op.Base()
	setFlags := op.HasFlags()
	if src1.IsImm() && !src2.IsImm() {
		switch base {
		case OpAdd, OpMul, OpAnd, OpOr, OpXor:
			src1, src2 = src2, src1
		}
	}
	rd := b.dstReg(dst)
	rn, err := b.reg(is64, src1, arm64Tmp1)
	if err != nil {
		return err
	}
	imm := src2.w
	if !is64 {
		imm = int64(int32(imm))
	}

	switch base {
	case OpAdd, OpSub:
		sub := base == OpSub
		if setFlags {
			b.flags = flagsAdd
			if sub {
				b.flags = flagsSub
			}
		}
		if src2.IsImm() {
			v := imm
			if v < 0 && v != math.MinInt64 && op.FlagCond() < 0 {
				v, sub = -v, !sub
			}
			if u, shift, ok := fitsImm12(v); ok {
				if err := b.word(arm64.AddSubImm(is64, sub, setFlags, rd, rn, u, shift)); err != nil {
					return err
				}
				return b.storeResult(is64, dst, rd)
			}
		}
		rm, err := b.reg(is64, src2, arm64Tmp2)
		if err != nil {
			return err
		}
		if err := b.c.emit32(arm64.AddSubReg(is64, sub, setFlags, rd, rn, rm, arm64.LSL, 0)); err != nil {
			return err
		}
		return b.storeResult(is64, dst, rd)

	case OpAddc, OpSubc:
		if setFlags {
			b.flags = flagsAdd
			if base == OpSubc {
				b.flags = flagsSub
			}
		}
		rm, err := b.reg(is64, src2, arm64Tmp2)
		if err != nil {
			return err
		}
		if err := b.c.emit32(arm64.Carry(is64, base == OpSubc, setFlags, rd, rn, rm)); err != nil {
			return err
		}
		return b.storeResult(is64, dst, rd)

	case OpAnd, OpOr, OpXor:
		lop := map[Op]arm64.LogicOp{OpAnd: arm64.AND, OpOr: arm64.ORR, OpXor: arm64.EOR}[base]
		if base == OpAnd && setFlags {
			lop = arm64.ANDS
		}
		var w uint32
		ok := false
		if src2.IsImm() {
			v := uint64(imm)
			if !is64 {
				v = uint64(uint32(imm))
			}
			w, ok = arm64.LogicImm(lop, is64, rd, rn, v)
		}
		if !ok {
			rm, err := b.reg(is64, src2, arm64Tmp2)
			if err != nil {
				return err
			}
			w = arm64.LogicReg(lop, is64, rd, rn, rm, arm64.LSL, 0)
		}
		if err := b.c.emit32(w); err != nil {
			return err
		}
		if setFlags && base != OpAnd {
			if err := b.test(is64, rd); err != nil {
				return err
			}
		}
		return b.storeResult(is64, dst, rd)

	case OpMul:
		rm, err := b.reg(is64, src2, arm64Tmp2)
		if err != nil {
			return err
		}
		if op.FlagCond() != Overflow {
			if err := b.c.emit32(arm64.Mul(is64, rd, rn, rm)); err != nil {
				return err
			}
			return b.storeResult(is64, dst, rd)
		}
		// The product overflows when its high part is not the sign
		// extension of the low part; the test leaves NE set.
		b.flags = flagsMul
		var words []uint32
		if is64 {
			words = []uint32{
				arm64.Smulh(arm64Tmp3, rn, rm),
				arm64.Mul(true, rd, rn, rm),
				arm64.AddSubReg(true, true, true, arm64.XZR, arm64Tmp3, rd, arm64.ASR, 63),
			}
		} else {
			words = []uint32{
				arm64.Smull(arm64Tmp3, rn, rm),
				arm64.MovReg(false, rd, arm64Tmp3),
				arm64.Sxt(arm64Tmp2, arm64Tmp3, 32),
				arm64.AddSubReg(true, true, true, arm64.XZR, arm64Tmp3, arm64Tmp2, arm64.LSL, 0),
			}
		}
		if err := b.c.emit32(words...); err != nil {
			return err
		}
		return b.storeResult(is64, dst, rd)

	case OpShl, OpLshr, OpAshr:
		var w uint32
		if src2.IsImm() {
			n := uint8(imm)
			if is64 {
				n &= 63
			} else {
				n &= 31
			}
			switch {
			case n == 0:
				w = arm64.MovReg(is64, rd, rn)
			case base == OpShl:
				w = arm64.LslImm(is64, rd, rn, n)
			case base == OpLshr:
				w = arm64.LsrImm(is64, rd, rn, n)
			default:
				w = arm64.AsrImm(is64, rd, rn, n)
			}
		} else {
			rm, err := b.reg(is64, src2, arm64Tmp2)
			if err != nil {
				return err
			}
			rop := map[Op]arm64.Reg2Op{OpShl: arm64.LSLV, OpLshr: arm64.LSRV, OpAshr: arm64.ASRV}[base]
			w = arm64.Reg2(rop, is64, rd, rn, rm)
		}
		if err := b.c.emit32(w); err != nil {
			return err
		}
		if op.HasSetZ() {
			if err := b.test(is64, rd); err != nil {
				return err
			}
		}
		return b.storeResult(is64, dst, rd)
	}
	return errorf(ErrBadArgument, "unknown op2 %s", op)
}

func (b *arm64Backend) opSrc(op Op, src Operand) error {
	switch op.Base() {
	case OpFastReturn:
		r, err := b.reg(true, src, arm64Tmp1)
		if err != nil {
			return err
		}
		return b.c.emit32(arm64.Ret(r))
	case OpSkipFramesBeforeFastReturn:
		return nil
	}
	hint := map[Op]arm64.Reg{
		OpPrefetchL1:   arm64.PLDL1KEEP,
		OpPrefetchL2:   arm64.PLDL2KEEP,
		OpPrefetchL3:   arm64.PLDL3KEEP,
		OpPrefetchOnce: arm64.PLDL1STRM,
	}[op.Base()]
	return b.access(arm64.PRFM, hint, src)
}

// Floating point.

// fsrc returns a register holding a float operand of the given precision.
func (b *arm64Backend) fsrc(double bool, src Operand, tmp arm64.VReg) (arm64.VReg, error) {
	if src.IsFloatReg() {
		return b.vreg(src.base), nil
	}
	return tmp, b.access(arm64.FLoadStore(double, true), arm64.Reg(tmp), src)
}

func (b *arm64Backend) fdst(dst Operand) arm64.VReg {
	if dst.IsFloatReg() {
		return b.vreg(dst.base)
	}
	return arm64FTmp1
}

func (b *arm64Backend) fstore(double bool, dst Operand, v arm64.VReg) error {
	if dst.IsFloatReg() {
		return nil
	}
	return b.access(arm64.FLoadStore(double, false), arm64.Reg(v), dst)
}

func (b *arm64Backend) fop1(op Op, dst, src Operand) error {
	double := !op.Is32()
	switch op.Base() {
	case OpMovF64:
		if dst.IsFloatReg() && src.IsFloatReg() {
			if b.vreg(dst.base) == b.vreg(src.base) {
				return nil
			}
			return b.c.emit32(arm64.FUnary(arm64.FMOV, double, b.vreg(dst.base), b.vreg(src.base)))
		}
		if dst.IsFloatReg() {
			return b.access(arm64.FLoadStore(double, true), arm64.Reg(b.vreg(dst.base)), src)
		}
		v, err := b.fsrc(double, src, arm64FTmp1)
		if err != nil {
			return err
		}
		return b.fstore(double, dst, v)

	case OpConvF64FromF32:
		// The source has the other precision.
		rn, err := b.fsrc(!double, src, arm64FTmp1)
		if err != nil {
			return err
		}
		rd := b.fdst(dst)
		if err := b.c.emit32(arm64.Fcvt(double, rd, rn)); err != nil {
			return err
		}
		return b.fstore(double, dst, rd)

	case OpConvSWFromF64, OpConvS32FromF64:
		is64 := op.Base() == OpConvSWFromF64
		rn, err := b.fsrc(double, src, arm64FTmp1)
		if err != nil {
			return err
		}
		rd := b.dstReg(dst)
		if err := b.c.emit32(arm64.Fcvtzs(is64, double, rd, rn)); err != nil {
			return err
		}
		return b.storeResult(is64, dst, rd)

	case OpConvF64FromSW, OpConvF64FromS32:
		is64 := op.Base() == OpConvF64FromSW
		rn, err := b.reg(is64, src, arm64Tmp1)
		if err != nil {
			return err
		}
		rd := b.fdst(dst)
		if err := b.c.emit32(arm64.Scvtf(is64, double, rd, rn)); err != nil {
			return err
		}
		return b.fstore(double, dst, rd)

	case OpCmpF64:
		rn, err := b.fsrc(double, dst, arm64FTmp1)
		if err != nil {
			return err
		}
		rm, err := b.fsrc(double, src, arm64FTmp2)
		if err != nil {
			return err
		}
		return b.c.emit32(arm64.Fcmp(double, rn, rm))

	case OpNegF64, OpAbsF64:
		uop := arm64.FNEG
		if op.Base() == OpAbsF64 {
			uop = arm64.FABS
		}
		rn, err := b.fsrc(double, src, arm64FTmp1)
		if err != nil {
			return err
		}
		rd := b.fdst(dst)
		if err := b.c.emit32(arm64.FUnary(uop, double, rd, rn)); err != nil {
			return err
		}
		return b.fstore(double, dst, rd)
	}
	return errorf(ErrBadArgument, "unknown fop1 %s", op)
}

func (b *arm64Backend) fop2(op Op, dst, src1, src2 Operand) error {
	double := !op.Is32()
	fop := map[Op]arm64.FArithOp{
		OpAddF64: arm64.FADD, OpSubF64: arm64.FSUB,
		OpMulF64: arm64.FMUL, OpDivF64: arm64.FDIV,
	}[op.Base()]
	rn, err := b.fsrc(double, src1, arm64FTmp1)
	if err != nil {
		return err
	}
	rm, err := b.fsrc(double, src2, arm64FTmp2)
	if err != nil {
		return err
	}
	rd := b.fdst(dst)
	if err := b.c.emit32(arm64.FArith(fop, double, rd, rn, rm)); err != nil {
		return err
	}
	return b.fstore(double, dst, rd)
}

// Conditions.

func (b *arm64Backend) intCond(t Cond) arm64.Cond {
	switch t {
	case Equal:
		return arm64.EQ
	case NotEqual:
		return arm64.NE
	case Less:
		return arm64.LO
	case GreaterEqual:
		return arm64.HS
	case Greater:
		return arm64.HI
	case LessEqual:
		return arm64.LS
	case SigLess:
		return arm64.LT
	case SigGreaterEqual:
		return arm64.GE
	case SigGreater:
		return arm64.GT
	case SigLessEqual:
		return arm64.LE
	case Overflow, NotOverflow:
		cc := arm64.VS
		if b.flags == flagsMul {
			cc = arm64.NE
		}
		if t == NotOverflow {
			cc = cc.Invert()
		}
		return cc
	}
	// Carry reads as a borrow after subtraction.
	cc := arm64.CS
	if b.flags == flagsSub {
		cc = arm64.CC
	}
	if t == NotCarry {
		cc = cc.Invert()
	}
	return cc
}

// arm64FloatCond maps a float condition to the NZCV state left by fcmp.
// Twin conditions combine cc with the overflow flag.
func arm64FloatCond(t Cond) (cc, cc2 arm64.Cond, twin twinKind) {
	switch t {
	case FEqual, OrderedEqual:
		return arm64.EQ, 0, twinNone
	case FNotEqual, UnorderedOrNotEqual:
		return arm64.NE, 0, twinNone
	case FLess, OrderedLess:
		return arm64.MI, 0, twinNone
	case FGreaterEqual, UnorderedOrGreaterEqual:
		return arm64.PL, 0, twinNone
	case FGreater, OrderedGreater:
		return arm64.GT, 0, twinNone
	case FLessEqual, UnorderedOrLessEqual:
		return arm64.LE, 0, twinNone
	case Unordered:
		return arm64.VS, 0, twinNone
	case Ordered:
		return arm64.VC, 0, twinNone
	case UnorderedOrLess:
		return arm64.LT, 0, twinNone
	case OrderedGreaterEqual:
		return arm64.GE, 0, twinNone
	case UnorderedOrGreater:
		return arm64.HI, 0, twinNone
	case OrderedLessEqual:
		return arm64.LS, 0, twinNone
	case UnorderedOrEqual:
		return arm64.EQ, arm64.VS, twinOr
	case OrderedNotEqual:
		return arm64.NE, arm64.VC, twinAnd
	}
	return arm64.AL, 0, twinNone
}

func (b *arm64Backend) cond(cond Cond) (cc, cc2 arm64.Cond, twin twinKind) {
	t := cond.Type()
	if t.isFloat() {
		return arm64FloatCond(t)
	}
	return b.intCond(t), 0, twinNone
}

func (b *arm64Backend) opFlags(op Op, dst Operand, cond Cond) error {
	cc, cc2, twin := b.cond(cond)
	words := []uint32{arm64.Cset(true, arm64Tmp1, cc)}
	switch twin {
	case twinAnd:
		words = append(words, arm64.Cset(true, arm64Tmp2, cc2),
			arm64.LogicReg(arm64.AND, true, arm64Tmp1, arm64Tmp1, arm64Tmp2, arm64.LSL, 0))
	case twinOr:
		words = append(words, arm64.Cset(true, arm64Tmp2, cc2),
			arm64.LogicReg(arm64.ORR, true, arm64Tmp1, arm64Tmp1, arm64Tmp2, arm64.LSL, 0))
	}
	if err := b.c.emit32(words...); err != nil {
		return err
	}
	switch op.Base() {
	case OpMov, OpMov32:
		if dst.IsReg() {
			return b.c.emit32(arm64.MovReg(true, b.gpr(dst.base), arm64Tmp1))
		}
		st := arm64.STRX
		if op.Base() == OpMov32 {
			st = arm64.STRW
		}
		return b.access(st, arm64Tmp1, dst)
	}
	is64 := !op.Is32()
	rn, err := b.reg(is64, dst, arm64Tmp2)
	if err != nil {
		return err
	}
	lop := map[Op]arm64.LogicOp{OpAnd: arm64.AND, OpOr: arm64.ORR, OpXor: arm64.EOR}[op.Base()]
	if op.Base() == OpAnd && op.HasSetZ() {
		lop = arm64.ANDS
	}
	rd := b.dstReg(dst)
	if err := b.c.emit32(arm64.LogicReg(lop, is64, rd, rn, arm64Tmp1, arm64.LSL, 0)); err != nil {
		return err
	}
	if op.HasSetZ() && lop != arm64.ANDS {
		if err := b.test(is64, rd); err != nil {
			return err
		}
	}
	return b.storeResult(is64, dst, rd)
}

func (b *arm64Backend) cmov(cond Cond, dst, src Operand) error {
	is64 := cond&Cond32 == 0
	cc, cc2, twin := b.cond(cond)
	rd := b.gpr(dst.base)
	rs := arm64.XZR
	if !src.IsImm() || src.w != 0 {
		var err error
		if rs, err = b.reg(is64, src, arm64Tmp1); err != nil {
			return err
		}
	}
	switch twin {
	case twinOr:
		return b.c.emit32(
			arm64.CondSel(arm64.CSEL, is64, rd, rs, rd, cc),
			arm64.CondSel(arm64.CSEL, is64, rd, rs, rd, cc2))
	case twinAnd:
		return b.c.emit32(
			arm64.CondSel(arm64.CSEL, is64, arm64Tmp2, rs, rd, cc),
			arm64.CondSel(arm64.CSEL, is64, rd, arm64Tmp2, rd, cc2))
	}
	return b.c.emit32(arm64.CondSel(arm64.CSEL, is64, rd, rs, rd, cc))
}

// Memory access with base update uses the pre and post indexed forms when
// the displacement fits, and is emulated otherwise.
func (b *arm64Backend) mem(op Op, flags MemFlags, r, m Operand) error {
	width, signed := movWidth(op)
	mop := arm64StoreOp(width)
	if flags&MemStore == 0 {
		mop = arm64LoadOp(width, signed)
	}
	return b.memAccess(flags, mop, b.gpr(r.base), m, func(addr Operand) error {
		if flags&MemStore != 0 {
			return b.mov(op, addr, r)
		}
		return b.mov(op, r, addr)
	})
}

func (b *arm64Backend) fmem(op Op, flags MemFlags, r, m Operand) error {
	mop := arm64.FLoadStore(!op.Is32(), flags&MemStore == 0)
	return b.memAccess(flags, mop, arm64.Reg(b.vreg(r.base)), m, func(addr Operand) error {
		if flags&MemStore != 0 {
			return b.fop1(op, addr, r)
		}
		return b.fop1(op, r, addr)
	})
}

func (b *arm64Backend) memAccess(flags MemFlags, mop arm64.MemOp, rt arm64.Reg, m Operand, access func(Operand) error) error {
	update := flags&(MemPre|MemPost) != 0
	native := !update || (m.kind == kindMem1 && arm64.FitsUnscaled(m.w))
	if flags&MemSupp != 0 {
		if !native {
			return errorf(ErrUnsupported, "arm64 base update needs a 9-bit displacement, got %s", m)
		}
		return nil
	}
	if !update {
		return access(m)
	}
	base := b.gpr(m.base)
	if native {
		return b.word(arm64.LoadStoreIndexed(mop, flags&MemPre != 0, rt, base, m.w))
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
		err = b.c.emit32(arm64.AddSubReg(true, false, false, base, base, b.gpr(m.index), arm64.LSL, uint8(m.w)))
	}
	if err != nil {
		return err
	}
	if flags&MemPre != 0 {
		return access(Mem1(baseOp, 0))
	}
	return nil
}

func (b *arm64Backend) custom(p []byte) error { return b.c.emit(p) }

func (b *arm64Backend) setCurrentFlags(flags int32) {
	switch {
	case flags&(CurrentFlagsSub|CurrentFlagsCompare) != 0:
		b.flags = flagsSub
	case flags&CurrentFlagsAdd != 0:
		b.flags = flagsAdd
	}
}

// Jumps and calls.

func (b *arm64Backend) jump(j *Jump) error {
	switch t := j.kind.Type(); t {
	case JumpAlways:
		return b.c.reserveJump(j, jumpForm{kind: formJump}, arm64JumpMax)
	case FastCall:
		return b.c.reserveJump(j, jumpForm{kind: formCall}, arm64JumpMax)
	}
	return b.reserveCond(j, j.kind)
}

func (b *arm64Backend) reserveCond(j *Jump, cond Cond) error {
	cc, cc2, twin := b.cond(cond)
	form := jumpForm{kind: formCond, cc: uint8(cc), cc2: uint8(cc2), twin: twin}
	if twin != twinNone {
		return b.c.reserveJump(j, form, arm64TwinMax)
	}
	return b.c.reserveJump(j, form, arm64CondMax)
}

func (b *arm64Backend) cmp(j *Jump, src1, src2 Operand) error {
	is64 := j.kind&Cond32 == 0
	t := j.kind.Type()
	if src1.IsImm() && !src2.IsImm() {
		src1, src2 = src2, src1
		t = swapCond(t)
	}
	if src2.IsImm() && src2.w == 0 && (t == Equal || t == NotEqual) {
		rt, err := b.reg(is64, src1, arm64Tmp1)
		if err != nil {
			return err
		}
		form := jumpForm{kind: formCond, cbz: true, cbz64: is64, rs1: uint8(rt)}
		if t == NotEqual {
			form.cc = 1
		}
		return b.c.reserveJump(j, form, arm64CondMax)
	}
	op := OpSub | Set(Less)
	if !is64 {
		op |= Op32
	}
	if err := b.op2(op, Operand{}, src1, src2); err != nil {
		return err
	}
	return b.reserveCond(j, t)
}

func (b *arm64Backend) fcmp(j *Jump, src1, src2 Operand) error {
	op := OpCmpF64 | Set(j.kind.Type())
	if j.kind&Cond32 != 0 {
		op |= F32
	}
	if err := b.fop1(op, src1, src2); err != nil {
		return err
	}
	return b.reserveCond(j, j.kind.Type())
}

func (b *arm64Backend) call(j *Jump, args Args) error {
	if j.kind&CallReturn != 0 {
		if err := b.epilogue(); err != nil {
			return err
		}
		return b.c.reserveJump(j, jumpForm{kind: formJump}, arm64JumpMax)
	}
	return b.c.reserveJump(j, jumpForm{kind: formCall}, arm64JumpMax)
}

func (b *arm64Backend) ijump(kind Cond, src Operand) error {
	r, err := b.reg(true, src, arm64Tmp1)
	if err != nil {
		return err
	}
	if kind == FastCall {
		return b.c.emit32(arm64.Blr(r))
	}
	return b.c.emit32(arm64.Br(r))
}

func (b *arm64Backend) icall(kind Cond, args Args, src Operand) error {
	r, err := b.reg(true, src, arm64Tmp1)
	if err != nil {
		return err
	}
	if kind&CallReturn != 0 {
		if r != arm64Tmp1 {
			if err := b.c.emit32(arm64.MovReg(true, arm64Tmp1, r)); err != nil {
				return err
			}
		}
		if err := b.epilogue(); err != nil {
			return err
		}
		return b.c.emit32(arm64.Br(arm64Tmp1))
	}
	return b.c.emit32(arm64.Blr(r))
}

func (b *arm64Backend) loadFixed(off *int, dst Operand, v int64) error {
	*off = b.c.buf.Len()
	rd := b.dstReg(dst)
	seq := arm64.LoadImmFixed(rd, uint64(v))
	if err := b.c.emit32(seq[:]...); err != nil {
		return err
	}
	return b.storeResult(true, dst, rd)
}

func (b *arm64Backend) loadConst(k *Const, dst Operand) error { return b.loadFixed(&k.off, dst, k.init) }

func (b *arm64Backend) loadLabel(p *PutLabel, dst Operand) error { return b.loadFixed(&p.off, dst, 0) }

func (b *arm64Backend) jumpSize(j *Jump, pc, target int64) int {
	d := target - pc
	switch {
	case j.form.kind == formJump || j.form.kind == formCall:
		if arm64.FitsBranch26(d) {
			return 4
		}
		return arm64JumpMax
	case j.form.twin == twinOr:
		switch {
		case arm64.FitsBranch19(d) && arm64.FitsBranch19(d-4):
			return 8
		case arm64.FitsBranch26(d - 8):
			return 12
		}
		return arm64TwinMax
	case j.form.twin == twinAnd:
		switch {
		case arm64.FitsBranch19(d - 4):
			return 8
		case arm64.FitsBranch26(d - 8):
			return 12
		}
		return arm64TwinMax
	}
	switch {
	case arm64.FitsBranch19(d):
		return 4
	case arm64.FitsBranch26(d - 4):
		return 8
	}
	return arm64CondMax
}

// arm64Far loads target into x16 and branches through it.
func arm64Far(target uint64, call bool) []uint32 {
	seq := arm64.LoadImmFixed(arm64Tmp1, target)
	out := seq[:]
	if call {
		return append(out, arm64.Blr(arm64Tmp1))
	}
	return append(out, arm64.Br(arm64Tmp1))
}

// condWord encodes the conditional branch of form f, or its inverse.
func (f jumpForm) condWord(invert bool, off int64) (uint32, error) {
	if f.cbz {
		nonZero := f.cc != 0
		if invert {
			nonZero = !nonZero
		}
		return arm64.Cbz(f.cbz64, nonZero, arm64.Reg(f.rs1), off)
	}
	cc := arm64.Cond(f.cc)
	if invert {
		cc = cc.Invert()
	}
	return arm64.BCond(cc, off)
}

func (b *arm64Backend) encodeJump(p []byte, j *Jump, pc, target uint64) error {
	d := int64(target) - int64(pc)
	f := j.form
	var words []uint32
	add := func(w uint32, err error) error {
		words = append(words, w)
		return err
	}
	var err error
	switch {
	case f.kind == formJump || f.kind == formCall:
		if len(p) == 4 {
			if f.kind == formCall {
				err = add(arm64.BL(d))
			} else {
				err = add(arm64.B(d))
			}
		} else {
			words = arm64Far(target, f.kind == formCall)
		}
	case f.twin == twinOr:
		cc, cc2 := arm64.Cond(f.cc), arm64.Cond(f.cc2)
		switch len(p) {
		case 8:
			if err = add(arm64.BCond(cc, d)); err == nil {
				err = add(arm64.BCond(cc2, d-4))
			}
		case 12:
			if err = add(arm64.BCond(cc, 8)); err == nil {
				if err = add(arm64.BCond(cc2.Invert(), 8)); err == nil {
					err = add(arm64.B(d - 8))
				}
			}
		default:
			if err = add(arm64.BCond(cc, 8)); err == nil {
				err = add(arm64.BCond(cc2.Invert(), 24))
			}
			words = append(words, arm64Far(target, false)...)
		}
	case f.twin == twinAnd:
		cc, cc2 := arm64.Cond(f.cc), arm64.Cond(f.cc2)
		switch len(p) {
		case 8:
			if err = add(arm64.BCond(cc2.Invert(), 8)); err == nil {
				err = add(arm64.BCond(cc, d-4))
			}
		case 12:
			if err = add(arm64.BCond(cc2.Invert(), 12)); err == nil {
				if err = add(arm64.BCond(cc.Invert(), 8)); err == nil {
					err = add(arm64.B(d - 8))
				}
			}
		default:
			if err = add(arm64.BCond(cc2.Invert(), 28)); err == nil {
				err = add(arm64.BCond(cc.Invert(), 24))
			}
			words = append(words, arm64Far(target, false)...)
		}
	default:
		switch len(p) {
		case 4:
			err = add(f.condWord(false, d))
		case 8:
			if err = add(f.condWord(true, 8)); err == nil {
				err = add(arm64.B(d - 4))
			}
		default:
			err = add(f.condWord(true, 24))
			words = append(words, arm64Far(target, false)...)
		}
	}
	if err != nil {
		return errorf(ErrUnsupported, "arm64 jump j%d: %v", j.id, err)
	}
	if 4*len(words) != len(p) {
		return errorf(ErrUnsupported, "arm64 jump j%d encoded to %d bytes in a %d byte slot", j.id, 4*len(words), len(p))
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(p[4*i:], w)
	}
	return nil
}

// arm64IsMovz matches movz rd, #imm with no shift.
func arm64IsMovz(w uint32, rd arm64.Reg) bool {
	return w&0xFFE0001F == 0xD2800000|uint32(rd)
}

func arm64PatchJump(p []byte, _, target uintptr) error {
	for at := 0; at+arm64JumpMax <= len(p) && at <= 8; at += 4 {
		if arm64IsMovz(binary.LittleEndian.Uint32(p[at:]), arm64Tmp1) {
			seq := arm64.LoadImmFixed(arm64Tmp1, uint64(target))
			for i, w := range seq {
				binary.LittleEndian.PutUint32(p[at+4*i:], w)
			}
			return nil
		}
	}
	return errorf(ErrDynCodeMod, "no rewritable arm64 jump at this address")
}

func arm64PatchConst(p []byte, v int64) error {
	if len(p) < arm64ConstLen {
		return errorf(ErrDynCodeMod, "arm64 const sequence truncated")
	}
	var words [4]uint32
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	rd, _ := arm64.DecodeImmFixed(words)
	if !arm64IsMovz(words[0], rd) {
		return errorf(ErrDynCodeMod, "no arm64 const load at this address")
	}
	for i, w := range arm64.LoadImmFixed(rd, uint64(v)) {
		binary.LittleEndian.PutUint32(p[4*i:], w)
	}
	return nil
}

func (b *arm64Backend) regIndex(r reg) int { return int(b.gpr(r)) }

func (b *arm64Backend) fregIndex(r reg) int { return int(b.vreg(r)) }

func (b *arm64Backend) feature(f Feature) FeatureStatus {
	switch f {
	case FeatureHasFPU, FeatureHasZeroRegister, FeatureHasClz, FeatureHasCmov, FeatureHasPrefetch:
		return FeatureNative
	}
	return FeatureUnavailable
}

func (b *arm64Backend) cmpInfo(cond Cond) bool { return cond.isFloat() }
