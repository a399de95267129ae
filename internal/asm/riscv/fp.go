package riscv

import "fmt"

// Rounding modes used in the rm field.
const (
	RoundRTZ = 1
	RoundDyn = 7
)

func fmtBit(double bool) uint32 {
	if double {
		return 1
	}
	return 0
}

// FArithOp is the funct7 of a single-precision arithmetic instruction. The
// double-precision variant sets the low bit.
type FArithOp uint32

const (
	FADD FArithOp = 0x00
	FSUB FArithOp = 0x04
	FMUL FArithOp = 0x08
	FDIV FArithOp = 0x0C
)

// FArith encodes rd = rs1 op rs2 using the dynamic rounding mode.
func FArith(op FArithOp, double bool, rd, rs1, rs2 FReg) uint32 {
	return encodeR(opFP, RoundDyn, uint32(op)|fmtBit(double), uint8(rd), uint8(rs1), uint8(rs2))
}

// SignOp selects a sign-injection instruction.
type SignOp uint32

const (
	FSGNJ  SignOp = 0
	FSGNJN SignOp = 1
	FSGNJX SignOp = 2
)

// FSign encodes a sign-injection. FSGNJ with rs1 == rs2 is a move, FSGNJN a
// negation and FSGNJX an absolute value.
func FSign(op SignOp, double bool, rd, rs1, rs2 FReg) uint32 {
	return encodeR(opFP, uint32(op), 0x10|fmtBit(double), uint8(rd), uint8(rs1), uint8(rs2))
}

// FCmpOp selects FEQ, FLT or FLE.
type FCmpOp uint32

const (
	FLE FCmpOp = 0
	FLT FCmpOp = 1
	FEQ FCmpOp = 2
)

// FCmp writes 1 to rd when the comparison holds. Every comparison is false
// when either input is NaN.
func FCmp(op FCmpOp, double bool, rd Reg, rs1, rs2 FReg) uint32 {
	return encodeR(opFP, uint32(op), 0x50|fmtBit(double), uint8(rd), uint8(rs1), uint8(rs2))
}

// FCvtPrec converts between precisions. toDouble widens rs1 into rd.
func FCvtPrec(toDouble bool, rd, rs1 FReg) uint32 {
	if toDouble {
		return encodeR(opFP, 0, 0x21, uint8(rd), uint8(rs1), 0)
	}
	return encodeR(opFP, RoundDyn, 0x20, uint8(rd), uint8(rs1), 1)
}

// FCvtToInt converts a float to a signed integer rounding toward zero. long
// selects a 64-bit result.
func FCvtToInt(long, double bool, rd Reg, rs1 FReg) uint32 {
	rs2 := uint8(0)
	if long {
		rs2 = 2
	}
	return encodeR(opFP, RoundRTZ, 0x60|fmtBit(double), uint8(rd), uint8(rs1), rs2)
}

// FCvtFromInt converts a signed integer to a float.
func FCvtFromInt(long, double bool, rd FReg, rs1 Reg) uint32 {
	rs2 := uint8(0)
	if long {
		rs2 = 2
	}
	return encodeR(opFP, RoundDyn, 0x68|fmtBit(double), uint8(rd), uint8(rs1), rs2)
}

// FMvToInt copies the raw bits of rs1 into rd.
func FMvToInt(double bool, rd Reg, rs1 FReg) uint32 {
	return encodeR(opFP, 0, 0x70|fmtBit(double), uint8(rd), uint8(rs1), 0)
}

// FMvFromInt copies the raw bits of rs1 into rd.
func FMvFromInt(double bool, rd FReg, rs1 Reg) uint32 {
	return encodeR(opFP, 0, 0x78|fmtBit(double), uint8(rd), uint8(rs1), 0)
}

// FLoad encodes FLW/FLD.
func FLoad(double bool, rd FReg, rs1 Reg, offset int64) (uint32, error) {
	if !FitsImm12(offset) {
		return 0, fmt.Errorf("riscv asm: load offset %d out of range", offset)
	}
	return encodeI(opLoadFP, uint32(W)+fmtBit(double), uint8(rd), uint8(rs1), int32(offset)), nil
}

// FStore encodes FSW/FSD.
func FStore(double bool, rs2 FReg, rs1 Reg, offset int64) (uint32, error) {
	if !FitsImm12(offset) {
		return 0, fmt.Errorf("riscv asm: store offset %d out of range", offset)
	}
	return encodeS(opStoreFP, uint32(W)+fmtBit(double), uint8(rs1), uint8(rs2), int32(offset)), nil
}
