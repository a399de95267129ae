package arm64

import "fmt"

const (
	opB     = 0x14000000
	opBL    = 0x94000000
	opBCond = 0x54000000
	opCBZ   = 0x34000000
)

func checkBranch(offset int64, bits uint) error {
	if offset&3 != 0 {
		return fmt.Errorf("arm64 asm: branch offset %d not word aligned", offset)
	}
	limit := int64(1) << (bits + 1)
	if offset < -limit || offset >= limit {
		return fmt.Errorf("arm64 asm: branch offset %d exceeds %d-bit range", offset, bits)
	}
	return nil
}

// FitsBranch26 reports whether offset is reachable by B/BL.
func FitsBranch26(offset int64) bool { return checkBranch(offset, 26) == nil }

// FitsBranch19 reports whether offset is reachable by B.cond/CBZ.
func FitsBranch19(offset int64) bool { return checkBranch(offset, 19) == nil }

// B encodes an unconditional PC-relative branch.
func B(offset int64) (uint32, error) {
	if err := checkBranch(offset, 26); err != nil {
		return 0, err
	}
	return opB | uint32(offset>>2)&0x3FFFFFF, nil
}

// BL encodes a PC-relative call.
func BL(offset int64) (uint32, error) {
	if err := checkBranch(offset, 26); err != nil {
		return 0, err
	}
	return opBL | uint32(offset>>2)&0x3FFFFFF, nil
}

// BCond encodes a conditional PC-relative branch.
func BCond(cond Cond, offset int64) (uint32, error) {
	if err := checkBranch(offset, 19); err != nil {
		return 0, err
	}
	return opBCond | (uint32(offset>>2)&0x7FFFF)<<5 | uint32(cond&0xF), nil
}

// Cbz encodes CBZ, or CBNZ when nonZero is set.
func Cbz(is64, nonZero bool, rt Reg, offset int64) (uint32, error) {
	if err := checkBranch(offset, 19); err != nil {
		return 0, err
	}
	w := uint32(opCBZ) | sf(is64)
	if nonZero {
		w |= 1 << 24
	}
	return w | (uint32(offset>>2)&0x7FFFF)<<5 | uint32(rt&31), nil
}

// Retarget rewrites the displacement of an existing B, BL, B.cond or
// CBZ/CBNZ word.
func Retarget(word uint32, offset int64) (uint32, error) {
	switch {
	case word&0x7C000000 == opB:
		if err := checkBranch(offset, 26); err != nil {
			return 0, err
		}
		return word&0xFC000000 | uint32(offset>>2)&0x3FFFFFF, nil
	case word&0xFF000010 == opBCond, word&0x7E000000 == opCBZ:
		if err := checkBranch(offset, 19); err != nil {
			return 0, err
		}
		return word&^(0x7FFFF<<5) | (uint32(offset>>2)&0x7FFFF)<<5, nil
	}
	return 0, fmt.Errorf("arm64 asm: %#08x is not a direct branch", word)
}

// Br branches to the address in rn.
func Br(rn Reg) uint32 { return 0xD61F0000 | uint32(rn&31)<<5 }

// Blr calls the address in rn.
func Blr(rn Reg) uint32 { return 0xD63F0000 | uint32(rn&31)<<5 }

// Ret returns to the address in rn, normally LR.
func Ret(rn Reg) uint32 { return 0xD65F0000 | uint32(rn&31)<<5 }

// Brk raises a breakpoint exception.
func Brk(imm uint16) uint32 { return 0xD4200000 | uint32(imm)<<5 }

func Nop() uint32 { return 0xD503201F }
