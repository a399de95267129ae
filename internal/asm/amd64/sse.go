package amd64

func scalarPrefix(single bool) byte {
	if single {
		return 0xF3
	}
	return 0xF2
}

func packedPrefix(single bool) byte {
	if single {
		return 0
	}
	return 0x66
}

// MovsLoad loads a scalar float (MOVSD/MOVSS xmm, r/m).
func MovsLoad(single bool, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: scalarPrefix(single), Op: []byte{0x0F, 0x10}, Reg: uint8(dst), RM: src}.Encode()
}

// MovsStore stores a scalar float (MOVSD/MOVSS r/m, xmm).
func MovsStore(single bool, dst Operand, src XReg) ([]byte, error) {
	return Inst{Prefix: scalarPrefix(single), Op: []byte{0x0F, 0x11}, Reg: uint8(src), RM: dst}.Encode()
}

// Movaps copies a whole SSE register.
func Movaps(dst, src XReg) ([]byte, error) {
	return Inst{Op: []byte{0x0F, 0x28}, Reg: uint8(dst), RM: X(src)}.Encode()
}

// SSEOp is the second opcode byte of a scalar SSE arithmetic instruction.
type SSEOp byte

const (
	SSEAdd  SSEOp = 0x58
	SSEMul  SSEOp = 0x59
	SSESub  SSEOp = 0x5C
	SSEDiv  SSEOp = 0x5E
	SSESqrt SSEOp = 0x51
)

// SSEArith computes dst = dst op src on scalar floats.
func SSEArith(op SSEOp, single bool, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: scalarPrefix(single), Op: []byte{0x0F, byte(op)}, Reg: uint8(dst), RM: src}.Encode()
}

// Ucomis compares a with b and sets ZF, PF and CF. Unordered operands set
// all three.
func Ucomis(single bool, a XReg, b Operand) ([]byte, error) {
	return Inst{Prefix: packedPrefix(single), Op: []byte{0x0F, 0x2E}, Reg: uint8(a), RM: b}.Encode()
}

// CvtFloat converts between precisions. toSingle selects CVTSD2SS, otherwise
// CVTSS2SD.
func CvtFloat(toSingle bool, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: scalarPrefix(!toSingle), Op: []byte{0x0F, 0x5A}, Reg: uint8(dst), RM: src}.Encode()
}

// Cvtt converts a float to a signed integer, truncating toward zero.
func Cvtt(single bool, size Size, dst Reg, src Operand) ([]byte, error) {
	return Inst{Prefix: scalarPrefix(single), Op: []byte{0x0F, 0x2C}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// Cvtsi converts a signed integer to a float.
func Cvtsi(single bool, size Size, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: scalarPrefix(single), Op: []byte{0x0F, 0x2A}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// Xorp computes dst ^= src on packed floats.
func Xorp(single bool, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: packedPrefix(single), Op: []byte{0x0F, 0x57}, Reg: uint8(dst), RM: src}.Encode()
}

// Andp computes dst &= src on packed floats.
func Andp(single bool, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: packedPrefix(single), Op: []byte{0x0F, 0x54}, Reg: uint8(dst), RM: src}.Encode()
}

// MovqToX copies a general register into the low lane of an SSE register.
func MovqToX(size Size, dst XReg, src Operand) ([]byte, error) {
	return Inst{Prefix: 0x66, Op: []byte{0x0F, 0x6E}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// MovqFromX copies the low lane of an SSE register into dst.
func MovqFromX(size Size, dst Operand, src XReg) ([]byte, error) {
	return Inst{Prefix: 0x66, Op: []byte{0x0F, 0x7E}, Size: size, Reg: uint8(src), RM: dst}.Encode()
}
