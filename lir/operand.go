package lir

import (
	"fmt"
	"strconv"
)

type operandKind uint8

const (
	kindNone operandKind = iota
	kindImm
	kindReg
	kindFReg
	kindMem0
	kindMem1
	kindMem2
)

// reg identifies a logical register. 1..63 are R0..R62, 64..126 are
// S0..S62 and 127 is the stack pointer.
type reg int16

const (
	regNone  reg = 0
	regSaved reg = 64
	regSP    reg = 127
)

func scratchReg(i int) reg { return reg(1 + i) }
func savedReg(i int) reg   { return regSaved + reg(i) }

func (r reg) isScratch() bool { return r >= 1 && r < regSaved }
func (r reg) isSaved() bool   { return r >= regSaved && r < regSP }

// num is the index within the scratch or saved bank.
func (r reg) num() int {
	if r.isSaved() {
		return int(r - regSaved)
	}
	return int(r - 1)
}

func (r reg) name(float bool) string {
	p := ""
	if float {
		p = "f"
	}
	switch {
	case r == regSP:
		return "sp"
	case r.isSaved():
		return p + "s" + strconv.Itoa(r.num())
	case r.isScratch():
		return p + "r" + strconv.Itoa(r.num())
	}
	return "?"
}

// Operand is an LIR source or destination: an immediate, a register or a
// memory reference.
type Operand struct {
	kind  operandKind
	base  reg
	index reg
	w     int64
}

// Imm is an immediate source operand.
func Imm(v int64) Operand { return Operand{kind: kindImm, w: v} }

// R is scratch register i.
func R(i int) Operand { return Operand{kind: kindReg, base: scratchReg(i)} }

// S is saved register i.
func S(i int) Operand { return Operand{kind: kindReg, base: savedReg(i)} }

// SP is the base of the local area. It may only be used as a Mem1 base.
var SP = Operand{kind: kindReg, base: regSP}

// FR is float scratch register i.
func FR(i int) Operand { return Operand{kind: kindFReg, base: scratchReg(i)} }

// FS is float saved register i.
func FS(i int) Operand { return Operand{kind: kindFReg, base: savedReg(i)} }

// Mem0 addresses an absolute location.
func Mem0(addr uintptr) Operand { return Operand{kind: kindMem0, w: int64(addr)} }

// Mem1 addresses base + disp. base must be an integer register or SP.
func Mem1(base Operand, disp int64) Operand {
	return Operand{kind: kindMem1, base: base.regOrNone(), w: disp}
}

// Mem2 addresses base + (index << shift), shift in 0..3.
func Mem2(base, index Operand, shift int) Operand {
	return Operand{kind: kindMem2, base: base.regOrNone(), index: index.regOrNone(), w: int64(shift)}
}

func (o Operand) regOrNone() reg {
	if o.kind != kindReg {
		return regNone
	}
	return o.base
}

// IsImm reports whether o is an immediate.
func (o Operand) IsImm() bool { return o.kind == kindImm }

// IsReg reports whether o is an integer register.
func (o Operand) IsReg() bool { return o.kind == kindReg }

// IsFloatReg reports whether o is a float register.
func (o Operand) IsFloatReg() bool { return o.kind == kindFReg }

// IsMem reports whether o is a memory reference.
func (o Operand) IsMem() bool { return o.kind >= kindMem0 }

// Value is the immediate, displacement, absolute address or shift.
func (o Operand) Value() int64 { return o.w }

func (o Operand) valid() bool { return o.kind != kindNone }

// uses reports whether a register or memory operand reads r.
func (o Operand) uses(r reg) bool {
	switch o.kind {
	case kindReg, kindMem1:
		return o.base == r
	case kindMem2:
		return o.base == r || o.index == r
	}
	return false
}

func (o Operand) String() string {
	switch o.kind {
	case kindImm:
		return "#" + strconv.FormatInt(o.w, 10)
	case kindReg:
		return o.base.name(false)
	case kindFReg:
		return o.base.name(true)
	case kindMem0:
		return fmt.Sprintf("[%#x]", uint64(o.w))
	case kindMem1:
		switch {
		case o.w == 0:
			return "[" + o.base.name(false) + "]"
		case o.w < 0:
			return fmt.Sprintf("[%s - %d]", o.base.name(false), -o.w)
		}
		return fmt.Sprintf("[%s + %d]", o.base.name(false), o.w)
	case kindMem2:
		if o.w == 0 {
			return fmt.Sprintf("[%s + %s]", o.base.name(false), o.index.name(false))
		}
		return fmt.Sprintf("[%s + %s << %d]", o.base.name(false), o.index.name(false), o.w)
	}
	return "<none>"
}
