package amd64

import "fmt"

// Reg is a general-purpose register number as used in ModRM/REX encoding.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// XReg is an SSE register number.
type XReg uint8

func (x XReg) String() string { return fmt.Sprintf("xmm%d", uint8(x)) }

// Size is the operand width of an instruction in bytes.
type Size uint8

const (
	S8  Size = 1
	S16 Size = 2
	S32 Size = 4
	S64 Size = 8
)

type operandKind uint8

const (
	kindNone operandKind = iota
	kindReg
	kindMem
	kindAbs
)

// Operand is the r/m side of a ModRM encoded instruction: a register, a
// base+index*scale+disp memory reference or an absolute 32-bit address.
type Operand struct {
	kind     operandKind
	reg      uint8
	base     Reg
	index    Reg
	shift    uint8
	hasIndex bool
	disp     int32
}

// R returns a register operand.
func R(r Reg) Operand { return Operand{kind: kindReg, reg: uint8(r)} }

// X returns an SSE register used as the r/m operand.
func X(x XReg) Operand { return Operand{kind: kindReg, reg: uint8(x)} }

// Mem returns [base + disp].
func Mem(base Reg, disp int32) Operand {
	return Operand{kind: kindMem, base: base, disp: disp}
}

// MemIndex returns [base + index<<shift + disp].
func MemIndex(base, index Reg, shift uint8, disp int32) Operand {
	return Operand{kind: kindMem, base: base, index: index, shift: shift, hasIndex: true, disp: disp}
}

// Abs returns a sign-extended 32-bit absolute address.
func Abs(addr int32) Operand { return Operand{kind: kindAbs, disp: addr} }

// IsReg reports whether the operand names a register.
func (o Operand) IsReg() bool { return o.kind == kindReg }

// IsMem reports whether the operand references memory.
func (o Operand) IsMem() bool { return o.kind == kindMem || o.kind == kindAbs }

// Reg returns the register of a register operand.
func (o Operand) Reg() Reg { return Reg(o.reg) }

// Uses reports whether the operand reads register r, either directly or as
// part of an address.
func (o Operand) Uses(r Reg) bool {
	switch o.kind {
	case kindReg:
		return Reg(o.reg) == r
	case kindMem:
		return o.base == r || (o.hasIndex && o.index == r)
	}
	return false
}

// WithDisp returns a copy of a memory operand with disp added.
func (o Operand) WithDisp(delta int32) Operand {
	o.disp += delta
	return o
}

func (o Operand) String() string {
	switch o.kind {
	case kindReg:
		return Reg(o.reg).String()
	case kindMem:
		if o.hasIndex {
			return fmt.Sprintf("[%s+%s<<%d%+d]", o.base, o.index, o.shift, o.disp)
		}
		return fmt.Sprintf("[%s%+d]", o.base, o.disp)
	case kindAbs:
		return fmt.Sprintf("[0x%x]", uint32(o.disp))
	}
	return "<none>"
}
