package riscv

import (
	"fmt"
	"math"
)

// LiFixedLen is the number of instructions emitted by LiFixed.
const LiFixedLen = 8

func lo12(v int64) int64 { return v << 52 >> 52 }

// Li returns the shortest LUI/ADDI/SLLI sequence loading value into rd.
func Li(rd Reg, value int64) []uint32 {
	switch {
	case FitsImm12(value):
		return []uint32{Addi(rd, ZERO, value)}
	case value >= math.MinInt32 && value <= math.MaxInt32:
		lo := lo12(value)
		hi := int32((value - lo) >> 12)
		out := []uint32{Lui(rd, hi)}
		if lo != 0 {
			out = append(out, Addiw(rd, rd, lo))
		}
		return out
	}
	lo := lo12(value)
	hi := (value - lo) >> 12
	shift := uint8(12)
	for hi&1 == 0 && shift < 63 {
		hi >>= 1
		shift++
	}
	out := Li(rd, hi)
	out = append(out, ShiftImm(SLLI, false, rd, rd, shift))
	if lo != 0 {
		out = append(out, Addi(rd, rd, lo))
	}
	return out
}

// LiFixed returns a sequence of exactly LiFixedLen instructions loading
// value into rd, so that it can be rewritten in place later.
func LiFixed(rd Reg, value int64) [LiFixedLen]uint32 {
	l0 := lo12(value)
	v1 := (value - l0) >> 12
	l1 := lo12(v1)
	v2 := (v1 - l1) >> 12
	l2 := lo12(v2)
	v3 := (v2 - l2) >> 12
	l3 := lo12(v3)
	hi := int32((v3 - l3) >> 12)
	return [LiFixedLen]uint32{
		Lui(rd, hi),
		Addiw(rd, rd, l3),
		ShiftImm(SLLI, false, rd, rd, 12),
		Addi(rd, rd, l2),
		ShiftImm(SLLI, false, rd, rd, 12),
		Addi(rd, rd, l1),
		ShiftImm(SLLI, false, rd, rd, 12),
		Addi(rd, rd, l0),
	}
}

// DecodeLiFixed recovers the register and value of a LiFixed sequence.
func DecodeLiFixed(words [LiFixedLen]uint32) (Reg, int64, error) {
	if words[0]&0x7F != opLUI {
		return 0, 0, fmt.Errorf("riscv asm: %#08x does not start a fixed immediate load", words[0])
	}
	iimm := func(w uint32) int64 { return int64(int32(w) >> 20) }
	v := int64(int32(words[0] &^ 0xFFF))
	v += iimm(words[1])
	v = int64(int32(v))
	for i := 3; i < LiFixedLen; i += 2 {
		v = v<<12 + iimm(words[i])
	}
	return Reg(words[0] >> 7 & 31), v, nil
}
