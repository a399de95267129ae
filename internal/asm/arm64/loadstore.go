package arm64

import "fmt"

// MemOp is the unsigned-offset encoding of a load or store. The other
// addressing forms are derived from it.
type MemOp uint32

const (
	STRB   MemOp = 0x39000000
	LDRB   MemOp = 0x39400000
	LDRSBX MemOp = 0x39800000
	STRH   MemOp = 0x79000000
	LDRH   MemOp = 0x79400000
	LDRSHX MemOp = 0x79800000
	STRW   MemOp = 0xB9000000
	LDRW   MemOp = 0xB9400000
	LDRSW  MemOp = 0xB9800000
	STRX   MemOp = 0xF9000000
	LDRX   MemOp = 0xF9400000
	STRS   MemOp = 0xBD000000
	LDRS   MemOp = 0xBD400000
	STRD   MemOp = 0xFD000000
	LDRD   MemOp = 0xFD400000
	PRFM   MemOp = 0xF9800000
)

// Scale returns log2 of the access size.
func (op MemOp) Scale() uint8 { return uint8(op >> 30) }

// IsLoad reports whether op reads memory into its register.
func (op MemOp) IsLoad() bool { return op&(3<<22) != 0 && op != PRFM }

// Prefetch operations for PRFM.
const (
	PLDL1KEEP = 0
	PLDL1STRM = 1
	PLDL2KEEP = 2
	PLDL3KEEP = 4
)

// LoadStore encodes [rn + offset] with a scaled unsigned 12-bit offset.
func LoadStore(op MemOp, rt, rn Reg, offset int64) (uint32, error) {
	scale := op.Scale()
	if offset < 0 || offset&(1<<scale-1) != 0 || offset>>scale > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: offset %d not encodable for scaled access", offset)
	}
	return uint32(op) | uint32(offset>>scale)<<10 | uint32(rn&31)<<5 | uint32(rt&31), nil
}

// FitsScaled reports whether offset can use the unsigned-offset form of op.
func FitsScaled(op MemOp, offset int64) bool {
	scale := op.Scale()
	return offset >= 0 && offset&(1<<scale-1) == 0 && offset>>scale <= 0xFFF
}

// FitsUnscaled reports whether offset fits a signed 9-bit displacement.
func FitsUnscaled(offset int64) bool { return offset >= -256 && offset <= 255 }

func unscaledBase(op MemOp) uint32 { return uint32(op) &^ (1 << 24) }

// LoadStoreUnscaled encodes LDUR/STUR with a signed 9-bit offset.
func LoadStoreUnscaled(op MemOp, rt, rn Reg, offset int64) (uint32, error) {
	if !FitsUnscaled(offset) {
		return 0, fmt.Errorf("arm64 asm: unscaled offset %d out of range", offset)
	}
	return unscaledBase(op) | uint32(offset&0x1FF)<<12 | uint32(rn&31)<<5 | uint32(rt&31), nil
}

// LoadStoreIndexed encodes the pre-index (writeback before access) or
// post-index form. Rn is updated by offset.
func LoadStoreIndexed(op MemOp, pre bool, rt, rn Reg, offset int64) (uint32, error) {
	if op == PRFM {
		return 0, fmt.Errorf("arm64 asm: prfm has no writeback form")
	}
	if !FitsUnscaled(offset) {
		return 0, fmt.Errorf("arm64 asm: writeback offset %d out of range", offset)
	}
	w := unscaledBase(op) | uint32(offset&0x1FF)<<12 | uint32(rn&31)<<5 | uint32(rt&31)
	if pre {
		return w | 0xC00, nil
	}
	return w | 0x400, nil
}

// LoadStoreReg encodes [rn + rm<<shift]. The shift must be zero or the
// access scale.
func LoadStoreReg(op MemOp, rt, rn, rm Reg, shift uint8) (uint32, error) {
	w := unscaledBase(op) | 0x00206800 | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rt&31)
	switch shift {
	case 0:
		return w, nil
	case op.Scale():
		return w | 1<<12, nil
	}
	return 0, fmt.Errorf("arm64 asm: index shift %d not supported for %d-byte access", shift, 1<<op.Scale())
}

// PairOp selects a load/store pair instruction family.
type PairOp uint32

const (
	STPX PairOp = 0xA9000000
	LDPX PairOp = 0xA9400000
	STPD PairOp = 0x6D000000
	LDPD PairOp = 0x6D400000
)

// PairMode is the addressing mode of a pair access.
type PairMode uint8

const (
	PairOffset PairMode = iota
	PairPre
	PairPost
)

// Pair encodes STP/LDP of two 8-byte registers at [rn + offset].
func Pair(op PairOp, mode PairMode, rt, rt2, rn Reg, offset int64) (uint32, error) {
	if offset&7 != 0 || offset < -512 || offset > 504 {
		return 0, fmt.Errorf("arm64 asm: pair offset %d out of range", offset)
	}
	w := uint32(op)
	switch mode {
	case PairPre:
		w |= 1 << 23
	case PairPost:
		w = w&^(1<<24) | 1<<23
	}
	return w | uint32((offset>>3)&0x7F)<<15 | uint32(rt2&31)<<10 | uint32(rn&31)<<5 | uint32(rt&31), nil
}
