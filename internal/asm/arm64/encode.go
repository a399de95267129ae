package arm64

import (
	"fmt"
	"math/bits"
)

// AddSubImm encodes ADD/ADDS/SUB/SUBS with a 12-bit unsigned immediate,
// optionally shifted left by 12. Rn and Rd may be SP unless flags are set.
func AddSubImm(is64, sub, setFlags bool, rd, rn Reg, imm uint32, shift12 bool) (uint32, error) {
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: add/sub immediate %#x out of range", imm)
	}
	w := uint32(0x11000000) | sf(is64)
	if sub {
		w |= 1 << 30
	}
	if setFlags {
		w |= 1 << 29
	}
	if shift12 {
		w |= 1 << 22
	}
	return w | imm<<10 | uint32(rn&31)<<5 | uint32(rd&31), nil
}

// AddSubReg encodes ADD/ADDS/SUB/SUBS with a shifted register. Register 31
// is the zero register here, never SP.
func AddSubReg(is64, sub, setFlags bool, rd, rn, rm Reg, shift Shift, amount uint8) uint32 {
	w := uint32(0x0B000000) | sf(is64)
	if sub {
		w |= 1 << 30
	}
	if setFlags {
		w |= 1 << 29
	}
	return w | uint32(shift&3)<<22 | uint32(rm&31)<<16 | uint32(amount&63)<<10 | uint32(rn&31)<<5 | uint32(rd&31)
}

// AddExt encodes ADD (extended register) with UXTX, the form that accepts
// SP as the first source and destination.
func AddExt(is64 bool, rd, rn, rm Reg, amount uint8) uint32 {
	return 0x0B206000 | sf(is64) | uint32(rm&31)<<16 | uint32(amount&7)<<10 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Carry encodes ADC/ADCS/SBC/SBCS.
func Carry(is64, sub, setFlags bool, rd, rn, rm Reg) uint32 {
	w := uint32(0x1A000000) | sf(is64)
	if sub {
		w |= 1 << 30
	}
	if setFlags {
		w |= 1 << 29
	}
	return w | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rd&31)
}

// LogicOp selects a logical instruction. The N variants invert the second
// operand.
type LogicOp uint32

const (
	AND  LogicOp = 0x0A000000
	BIC  LogicOp = 0x0A200000
	ORR  LogicOp = 0x2A000000
	ORN  LogicOp = 0x2A200000
	EOR  LogicOp = 0x4A000000
	EON  LogicOp = 0x4A200000
	ANDS LogicOp = 0x6A000000
)

// LogicReg encodes a logical operation with a shifted register.
func LogicReg(op LogicOp, is64 bool, rd, rn, rm Reg, shift Shift, amount uint8) uint32 {
	return uint32(op) | sf(is64) | uint32(shift&3)<<22 | uint32(rm&31)<<16 | uint32(amount&63)<<10 |
		uint32(rn&31)<<5 | uint32(rd&31)
}

// MovReg encodes MOV rd, rm as ORR rd, xzr, rm.
func MovReg(is64 bool, rd, rm Reg) uint32 {
	return LogicReg(ORR, is64, rd, XZR, rm, LSL, 0)
}

// MovSP copies between SP and a general register (ADD rd, rn, #0).
func MovSP(rd, rn Reg) uint32 {
	w, _ := AddSubImm(true, false, false, rd, rn, 0, false)
	return w
}

// LogicImm encodes AND/ORR/EOR/ANDS with a bitmask immediate. It reports
// false when value has no bitmask encoding.
func LogicImm(op LogicOp, is64 bool, rd, rn Reg, value uint64) (uint32, bool) {
	n, immr, imms, ok := EncodeBitmask(value, is64)
	if !ok {
		return 0, false
	}
	var base uint32
	switch op {
	case AND:
		base = 0x12000000
	case ORR:
		base = 0x32000000
	case EOR:
		base = 0x52000000
	case ANDS:
		base = 0x72000000
	default:
		return 0, false
	}
	return base | sf(is64) | n<<22 | immr<<16 | imms<<10 | uint32(rn&31)<<5 | uint32(rd&31), true
}

// EncodeBitmask finds the N:immr:imms fields describing value as a rotated
// run of ones replicated across the register.
func EncodeBitmask(value uint64, is64 bool) (n, immr, imms uint32, ok bool) {
	if !is64 {
		value = value&0xFFFFFFFF | value<<32
	}
	if value == 0 || value == ^uint64(0) {
		return 0, 0, 0, false
	}
	size := uint32(64)
	for size > 2 {
		half := size / 2
		mask := uint64(1)<<half - 1
		if value&mask != (value>>half)&mask {
			break
		}
		size = half
	}
	mask := ^uint64(0) >> (64 - size)
	elem := value & mask
	ones := bits.OnesCount64(elem)
	want := uint64(1)<<ones - 1
	for r := uint32(0); r < size; r++ {
		rot := (elem>>r | elem<<(size-r)) & mask
		if rot != want {
			continue
		}
		if size == 64 {
			n = 1
		}
		immr = (size - r) % size
		imms = (^(size-1)<<1 | uint32(ones-1)) & 0x3F
		return n, immr, imms, true
	}
	return 0, 0, 0, false
}

// MoveWide selects MOVN, MOVZ or MOVK.
type MoveWide uint32

const (
	MOVN MoveWide = 0x12800000
	MOVZ MoveWide = 0x52800000
	MOVK MoveWide = 0x72800000
)

// Movw encodes a move-wide instruction placing imm16 at halfword hw.
func Movw(op MoveWide, is64 bool, rd Reg, imm16 uint16, hw uint8) uint32 {
	return uint32(op) | sf(is64) | uint32(hw&3)<<21 | uint32(imm16)<<5 | uint32(rd&31)
}

// LoadImm returns the shortest MOVZ/MOVN/MOVK/ORR sequence materialising
// value in rd.
func LoadImm(is64 bool, rd Reg, value uint64) []uint32 {
	if !is64 {
		value &= 0xFFFFFFFF
	}
	if w, ok := LogicImm(ORR, is64, rd, XZR, value); ok && value != 0 {
		return []uint32{w}
	}
	halves := 4
	if !is64 {
		halves = 2
	}
	var zeros, ones int
	for i := 0; i < halves; i++ {
		switch uint16(value >> (16 * i)) {
		case 0:
			zeros++
		case 0xFFFF:
			ones++
		}
	}
	invert := ones > zeros
	var out []uint32
	for i := 0; i < halves; i++ {
		h := uint16(value >> (16 * i))
		skip := uint16(0)
		if invert {
			skip = 0xFFFF
		}
		if h == skip {
			continue
		}
		switch {
		case len(out) > 0:
			out = append(out, Movw(MOVK, is64, rd, h, uint8(i)))
		case invert:
			out = append(out, Movw(MOVN, is64, rd, ^h, uint8(i)))
		default:
			out = append(out, Movw(MOVZ, is64, rd, h, uint8(i)))
		}
	}
	if len(out) == 0 {
		if invert {
			return []uint32{Movw(MOVN, is64, rd, 0, 0)}
		}
		return []uint32{Movw(MOVZ, is64, rd, 0, 0)}
	}
	return out
}

// LoadImmFixed returns a MOVZ followed by three MOVKs. The shape does not
// depend on value so the sequence can be rewritten in place.
func LoadImmFixed(rd Reg, value uint64) [4]uint32 {
	return [4]uint32{
		Movw(MOVZ, true, rd, uint16(value), 0),
		Movw(MOVK, true, rd, uint16(value>>16), 1),
		Movw(MOVK, true, rd, uint16(value>>32), 2),
		Movw(MOVK, true, rd, uint16(value>>48), 3),
	}
}

// DecodeImmFixed recovers the value and register of a LoadImmFixed
// sequence.
func DecodeImmFixed(words [4]uint32) (Reg, uint64) {
	var v uint64
	for i, w := range words {
		v |= uint64((w>>5)&0xFFFF) << (16 * i)
	}
	return Reg(words[0] & 31), v
}

// Bitfield selects SBFM or UBFM.
type Bitfield uint32

const (
	SBFM Bitfield = 0x13000000
	UBFM Bitfield = 0x53000000
)

// Bfm encodes a bitfield move.
func Bfm(op Bitfield, is64 bool, rd, rn Reg, immr, imms uint8) uint32 {
	w := uint32(op) | sf(is64)
	if is64 {
		w |= 1 << 22
	}
	return w | uint32(immr&63)<<16 | uint32(imms&63)<<10 | uint32(rn&31)<<5 | uint32(rd&31)
}

func width(is64 bool) uint8 {
	if is64 {
		return 64
	}
	return 32
}

// LslImm encodes LSL rd, rn, #shift.
func LslImm(is64 bool, rd, rn Reg, shift uint8) uint32 {
	w := width(is64)
	shift &= w - 1
	return Bfm(UBFM, is64, rd, rn, (w-shift)&(w-1), w-1-shift)
}

// LsrImm encodes LSR rd, rn, #shift.
func LsrImm(is64 bool, rd, rn Reg, shift uint8) uint32 {
	w := width(is64)
	return Bfm(UBFM, is64, rd, rn, shift&(w-1), w-1)
}

// AsrImm encodes ASR rd, rn, #shift.
func AsrImm(is64 bool, rd, rn Reg, shift uint8) uint32 {
	w := width(is64)
	return Bfm(SBFM, is64, rd, rn, shift&(w-1), w-1)
}

// Sxt sign-extends the low bits of rn (8, 16 or 32) into a 64-bit rd.
func Sxt(rd, rn Reg, from uint8) uint32 {
	return Bfm(SBFM, true, rd, rn, 0, from-1)
}

// Uxt zero-extends the low 8 or 16 bits of rn into rd.
func Uxt(rd, rn Reg, from uint8) uint32 {
	return Bfm(UBFM, false, rd, rn, 0, from-1)
}

// Reg2Op selects a two-source data processing instruction.
type Reg2Op uint32

const (
	UDIV Reg2Op = 0x1AC00800
	SDIV Reg2Op = 0x1AC00C00
	LSLV Reg2Op = 0x1AC02000
	LSRV Reg2Op = 0x1AC02400
	ASRV Reg2Op = 0x1AC02800
	RORV Reg2Op = 0x1AC02C00
)

// Reg2 encodes rd = rn op rm.
func Reg2(op Reg2Op, is64 bool, rd, rn, rm Reg) uint32 {
	return uint32(op) | sf(is64) | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Madd encodes rd = ra + rn*rm.
func Madd(is64 bool, rd, rn, rm, ra Reg) uint32 {
	return 0x1B000000 | sf(is64) | uint32(rm&31)<<16 | uint32(ra&31)<<10 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Msub encodes rd = ra - rn*rm.
func Msub(is64 bool, rd, rn, rm, ra Reg) uint32 {
	return Madd(is64, rd, rn, rm, ra) | 1<<15
}

// Mul encodes rd = rn*rm.
func Mul(is64 bool, rd, rn, rm Reg) uint32 { return Madd(is64, rd, rn, rm, XZR) }

// Smulh returns the high 64 bits of the signed 128-bit product.
func Smulh(rd, rn, rm Reg) uint32 {
	return 0x9B407C00 | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Umulh returns the high 64 bits of the unsigned 128-bit product.
func Umulh(rd, rn, rm Reg) uint32 {
	return 0x9BC07C00 | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Smull multiplies two signed 32-bit values into a 64-bit result.
func Smull(rd, rn, rm Reg) uint32 {
	return 0x9B207C00 | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Clz counts leading zero bits.
func Clz(is64 bool, rd, rn Reg) uint32 {
	return 0x5AC01000 | sf(is64) | uint32(rn&31)<<5 | uint32(rd&31)
}

// CondSelOp selects CSEL, CSINC, CSINV or CSNEG.
type CondSelOp uint32

const (
	CSEL  CondSelOp = 0x1A800000
	CSINC CondSelOp = 0x1A800400
	CSINV CondSelOp = 0x5A800000
	CSNEG CondSelOp = 0x5A800400
)

// CondSel encodes rd = cond ? rn : f(rm).
func CondSel(op CondSelOp, is64 bool, rd, rn, rm Reg, cond Cond) uint32 {
	return uint32(op) | sf(is64) | uint32(rm&31)<<16 | uint32(cond&0xF)<<12 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Cset writes 1 to rd when cond holds and 0 otherwise.
func Cset(is64 bool, rd Reg, cond Cond) uint32 {
	return CondSel(CSINC, is64, rd, XZR, XZR, cond.Invert())
}
