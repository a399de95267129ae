package arm64

func ftype(double bool) uint32 {
	if double {
		return 1 << 22
	}
	return 0
}

// FArithOp selects a two-source scalar FP instruction.
type FArithOp uint32

const (
	FMUL FArithOp = 0x1E200800
	FDIV FArithOp = 0x1E201800
	FADD FArithOp = 0x1E202800
	FSUB FArithOp = 0x1E203800
)

// FArith encodes rd = rn op rm.
func FArith(op FArithOp, double bool, rd, rn, rm VReg) uint32 {
	return uint32(op) | ftype(double) | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(rd&31)
}

// FUnaryOp selects a one-source scalar FP instruction.
type FUnaryOp uint32

const (
	FMOV  FUnaryOp = 0x1E204000
	FABS  FUnaryOp = 0x1E20C000
	FNEG  FUnaryOp = 0x1E214000
	FSQRT FUnaryOp = 0x1E21C000
)

// FUnary encodes rd = op(rn).
func FUnary(op FUnaryOp, double bool, rd, rn VReg) uint32 {
	return uint32(op) | ftype(double) | uint32(rn&31)<<5 | uint32(rd&31)
}

// Fcmp compares rn with rm and sets NZCV. Unordered inputs set C and V.
func Fcmp(double bool, rn, rm VReg) uint32 {
	return 0x1E202000 | ftype(double) | uint32(rm&31)<<16 | uint32(rn&31)<<5
}

// Fcvt converts between precisions. toDouble widens a single into rd.
func Fcvt(toDouble bool, rd, rn VReg) uint32 {
	if toDouble {
		return 0x1E22C000 | uint32(rn&31)<<5 | uint32(rd&31)
	}
	return 0x1E624000 | uint32(rn&31)<<5 | uint32(rd&31)
}

// Fcvtzs converts a float to a signed integer, rounding toward zero.
func Fcvtzs(is64, double bool, rd Reg, rn VReg) uint32 {
	return 0x1E380000 | sf(is64) | ftype(double) | uint32(rn&31)<<5 | uint32(rd&31)
}

// Scvtf converts a signed integer to a float.
func Scvtf(is64, double bool, rd VReg, rn Reg) uint32 {
	return 0x1E220000 | sf(is64) | ftype(double) | uint32(rn&31)<<5 | uint32(rd&31)
}

// FmovToGP copies the raw bits of a FP register into a general register.
func FmovToGP(double bool, rd Reg, rn VReg) uint32 {
	return 0x1E260000 | sf(double) | ftype(double) | uint32(rn&31)<<5 | uint32(rd&31)
}

// FmovFromGP copies the raw bits of a general register into a FP register.
func FmovFromGP(double bool, rd VReg, rn Reg) uint32 {
	return 0x1E270000 | sf(double) | ftype(double) | uint32(rn&31)<<5 | uint32(rd&31)
}

// FLoadStore returns the memory op moving a single or double FP register.
func FLoadStore(double, load bool) MemOp {
	switch {
	case double && load:
		return LDRD
	case double:
		return STRD
	case load:
		return LDRS
	}
	return STRS
}
