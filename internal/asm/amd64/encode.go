package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

// needsByteREX reports whether an 8-bit access to register code r requires
// a REX prefix to select SPL/BPL/SIL/DIL instead of AH/CH/DH/BH.
func needsByteREX(r uint8) bool {
	return r >= 4 && r <= 7
}

type memEncoding struct {
	mod  byte
	rm   byte
	sib  []byte
	disp []byte
	rex  rexState
}

func encodeMemoryOperand(op Operand) (memEncoding, error) {
	if op.kind == kindAbs {
		var disp [4]byte
		binary.LittleEndian.PutUint32(disp[:], uint32(op.disp))
		// SIB with no base and no index selects a bare disp32.
		return memEncoding{mod: 0x00, rm: 4, sib: []byte{0x25}, disp: disp[:]}, nil
	}
	if op.kind != kindMem {
		return memEncoding{}, fmt.Errorf("amd64 asm: operand %s is not a memory reference", op)
	}
	if op.hasIndex && op.index == RSP {
		return memEncoding{}, fmt.Errorf("amd64 asm: rsp cannot be used as index register")
	}
	if op.shift > 3 {
		return memEncoding{}, fmt.Errorf("amd64 asm: invalid index shift %d", op.shift)
	}

	enc := memEncoding{
		rex: rexState{
			b: op.base >= R8,
			x: op.hasIndex && op.index >= R8,
		},
	}

	baseCode := byte(op.base) & 7
	switch {
	case op.disp == 0 && baseCode != 5:
		enc.mod = 0x00
	case op.disp >= math.MinInt8 && op.disp <= math.MaxInt8:
		enc.mod = 0x40
		enc.disp = []byte{byte(op.disp)}
	default:
		enc.mod = 0x80
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(op.disp))
		enc.disp = buf[:]
	}

	if op.hasIndex || baseCode == 4 {
		indexCode := byte(4)
		if op.hasIndex {
			indexCode = byte(op.index) & 7
		}
		enc.rm = 4
		enc.sib = []byte{op.shift<<6 | indexCode<<3 | baseCode}
	} else {
		enc.rm = baseCode
	}
	return enc, nil
}

// Inst describes one legacy-encoded instruction with a ModRM byte.
type Inst struct {
	// Prefix is a mandatory SSE prefix (0x66, 0xF2, 0xF3) emitted before REX.
	Prefix byte
	Op     []byte
	// Size selects REX.W for S64 and the operand-size prefix for S16.
	Size Size
	// Reg is the ModRM.reg field: a register code or an opcode extension.
	Reg uint8
	RM  Operand
	Imm []byte
	// RegByte and RMByte mark 8-bit register accesses.
	RegByte bool
	RMByte  bool
}

// Encode lowers the instruction to bytes.
func (i Inst) Encode() ([]byte, error) {
	if len(i.Op) == 0 {
		return nil, fmt.Errorf("amd64 asm: missing opcode")
	}
	out := make([]byte, 0, 16)
	if i.Size == S16 {
		out = append(out, 0x66)
	}
	if i.Prefix != 0 {
		out = append(out, i.Prefix)
	}

	rex := rexState{
		w:     i.Size == S64,
		r:     i.Reg&8 != 0,
		force: i.RegByte && needsByteREX(i.Reg),
	}

	var modrm byte
	var sib, disp []byte
	switch i.RM.kind {
	case kindReg:
		rm := i.RM.reg
		rex.b = rm&8 != 0
		rex.force = rex.force || (i.RMByte && needsByteREX(rm))
		modrm = 0xC0 | (i.Reg&7)<<3 | rm&7
	case kindMem, kindAbs:
		enc, err := encodeMemoryOperand(i.RM)
		if err != nil {
			return nil, err
		}
		rex.b = enc.rex.b
		rex.x = enc.rex.x
		modrm = enc.mod | (i.Reg&7)<<3 | enc.rm
		sib = enc.sib
		disp = enc.disp
	default:
		return nil, fmt.Errorf("amd64 asm: instruction %x missing r/m operand", i.Op)
	}

	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, i.Op...)
	out = append(out, modrm)
	out = append(out, sib...)
	out = append(out, disp...)
	out = append(out, i.Imm...)
	if len(out) > 15 {
		return nil, fmt.Errorf("amd64 asm: instruction too long (%d bytes)", len(out))
	}
	return out, nil
}

func imm8(v int32) []byte { return []byte{byte(v)} }

func imm16(v int32) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(v))
	return buf[:]
}

func imm32(v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return buf[:]
}

func fitsInt8(v int32) bool { return v >= math.MinInt8 && v <= math.MaxInt8 }

// FitsInt32 reports whether v survives sign extension from 32 bits.
func FitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func sized(size Size, wide, narrow byte) []byte {
	if size == S8 {
		return []byte{narrow}
	}
	return []byte{wide}
}

// Mov stores register src into dst (MOV r/m, r).
func Mov(size Size, dst Operand, src Reg) ([]byte, error) {
	return Inst{Op: sized(size, 0x89, 0x88), Size: size, Reg: uint8(src), RM: dst,
		RegByte: size == S8, RMByte: size == S8}.Encode()
}

// Load reads src into register dst (MOV r, r/m).
func Load(size Size, dst Reg, src Operand) ([]byte, error) {
	return Inst{Op: sized(size, 0x8B, 0x8A), Size: size, Reg: uint8(dst), RM: src,
		RegByte: size == S8, RMByte: size == S8}.Encode()
}

// MovImm stores a sign-extended immediate into dst (MOV r/m, imm).
func MovImm(size Size, dst Operand, value int32) ([]byte, error) {
	inst := Inst{Op: sized(size, 0xC7, 0xC6), Size: size, RM: dst, RMByte: size == S8}
	switch size {
	case S8:
		inst.Imm = imm8(value)
	case S16:
		inst.Imm = imm16(value)
	default:
		inst.Imm = imm32(value)
	}
	return inst.Encode()
}

// MovImm64 loads a full 64-bit immediate (MOVABS). The immediate always
// occupies the final eight bytes of the encoding.
func MovImm64(dst Reg, value uint64) []byte {
	rex := rexState{w: true, b: dst >= R8}
	out := []byte{rex.prefix(), 0xB8 + byte(dst)&7, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[2:], value)
	return out
}

// MovImm32 loads a zero-extended 32-bit immediate.
func MovImm32(dst Reg, value uint32) []byte {
	out := make([]byte, 0, 6)
	if dst >= R8 {
		out = append(out, rexState{b: true}.prefix())
	}
	out = append(out, 0xB8+byte(dst)&7)
	return binary.LittleEndian.AppendUint32(out, value)
}

// Movzx zero-extends an 8- or 16-bit source into dst.
func Movzx(size Size, dst Reg, src Operand, from Size) ([]byte, error) {
	op := []byte{0x0F, 0xB6}
	if from == S16 {
		op[1] = 0xB7
	}
	return Inst{Op: op, Size: size, Reg: uint8(dst), RM: src, RMByte: from == S8}.Encode()
}

// Movsx sign-extends an 8- or 16-bit source into dst.
func Movsx(size Size, dst Reg, src Operand, from Size) ([]byte, error) {
	op := []byte{0x0F, 0xBE}
	if from == S16 {
		op[1] = 0xBF
	}
	return Inst{Op: op, Size: size, Reg: uint8(dst), RM: src, RMByte: from == S8}.Encode()
}

// Movsxd sign-extends a 32-bit source into a 64-bit register.
func Movsxd(dst Reg, src Operand) ([]byte, error) {
	return Inst{Op: []byte{0x63}, Size: S64, Reg: uint8(dst), RM: src}.Encode()
}

// Lea computes the effective address of src into dst.
func Lea(size Size, dst Reg, src Operand) ([]byte, error) {
	if !src.IsMem() {
		return nil, fmt.Errorf("amd64 asm: lea requires a memory operand")
	}
	return Inst{Op: []byte{0x8D}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// ALUOp selects one of the eight classic arithmetic group-1 operations.
type ALUOp uint8

const (
	ADD ALUOp = iota
	OR
	ADC
	SBB
	AND
	SUB
	XOR
	CMP
)

// ALU performs dst = dst op src with a register source.
func ALU(op ALUOp, size Size, dst Operand, src Reg) ([]byte, error) {
	base := byte(op) << 3
	return Inst{Op: sized(size, base|0x01, base), Size: size, Reg: uint8(src), RM: dst,
		RegByte: size == S8, RMByte: size == S8}.Encode()
}

// ALULoad performs dst = dst op src with a memory or register source.
func ALULoad(op ALUOp, size Size, dst Reg, src Operand) ([]byte, error) {
	base := byte(op) << 3
	return Inst{Op: sized(size, base|0x03, base|0x02), Size: size, Reg: uint8(dst), RM: src,
		RegByte: size == S8, RMByte: size == S8}.Encode()
}

// ALUImm performs dst = dst op imm, choosing the short immediate form when
// the value fits in a signed byte.
func ALUImm(op ALUOp, size Size, dst Operand, value int32) ([]byte, error) {
	inst := Inst{Size: size, Reg: uint8(op), RM: dst, RMByte: size == S8}
	switch {
	case size == S8:
		inst.Op = []byte{0x80}
		inst.Imm = imm8(value)
	case fitsInt8(value):
		inst.Op = []byte{0x83}
		inst.Imm = imm8(value)
	case size == S16:
		inst.Op = []byte{0x81}
		inst.Imm = imm16(value)
	default:
		inst.Op = []byte{0x81}
		inst.Imm = imm32(value)
	}
	return inst.Encode()
}

// Test sets flags from a AND src without storing.
func Test(size Size, a Operand, src Reg) ([]byte, error) {
	return Inst{Op: sized(size, 0x85, 0x84), Size: size, Reg: uint8(src), RM: a,
		RegByte: size == S8, RMByte: size == S8}.Encode()
}

// TestImm sets flags from a AND imm.
func TestImm(size Size, a Operand, value int32) ([]byte, error) {
	inst := Inst{Op: sized(size, 0xF7, 0xF6), Size: size, RM: a, RMByte: size == S8}
	switch size {
	case S8:
		inst.Imm = imm8(value)
	case S16:
		inst.Imm = imm16(value)
	default:
		inst.Imm = imm32(value)
	}
	return inst.Encode()
}

// UnaryOp is the opcode extension of the F7 group.
type UnaryOp uint8

const (
	NOT  UnaryOp = 2
	NEG  UnaryOp = 3
	MUL  UnaryOp = 4
	IMUL UnaryOp = 5
	DIV  UnaryOp = 6
	IDIV UnaryOp = 7
)

// Unary encodes NOT/NEG on dst or the one-operand MUL/IMUL/DIV/IDIV forms
// that implicitly use RDX:RAX.
func Unary(op UnaryOp, size Size, dst Operand) ([]byte, error) {
	return Inst{Op: sized(size, 0xF7, 0xF6), Size: size, Reg: uint8(op), RM: dst, RMByte: size == S8}.Encode()
}

// Imul computes dst = dst * src.
func Imul(size Size, dst Reg, src Operand) ([]byte, error) {
	return Inst{Op: []byte{0x0F, 0xAF}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// ImulImm computes dst = src * imm.
func ImulImm(size Size, dst Reg, src Operand, value int32) ([]byte, error) {
	if fitsInt8(value) {
		return Inst{Op: []byte{0x6B}, Size: size, Reg: uint8(dst), RM: src, Imm: imm8(value)}.Encode()
	}
	return Inst{Op: []byte{0x69}, Size: size, Reg: uint8(dst), RM: src, Imm: imm32(value)}.Encode()
}

// ShiftOp is the opcode extension of the shift group.
type ShiftOp uint8

const (
	SHL ShiftOp = 4
	SHR ShiftOp = 5
	SAR ShiftOp = 7
)

// ShiftImm shifts dst by a constant count.
func ShiftImm(op ShiftOp, size Size, dst Operand, count uint8) ([]byte, error) {
	if count == 1 {
		return Inst{Op: sized(size, 0xD1, 0xD0), Size: size, Reg: uint8(op), RM: dst, RMByte: size == S8}.Encode()
	}
	return Inst{Op: sized(size, 0xC1, 0xC0), Size: size, Reg: uint8(op), RM: dst, RMByte: size == S8,
		Imm: []byte{count}}.Encode()
}

// ShiftCL shifts dst by CL.
func ShiftCL(op ShiftOp, size Size, dst Operand) ([]byte, error) {
	return Inst{Op: sized(size, 0xD3, 0xD2), Size: size, Reg: uint8(op), RM: dst, RMByte: size == S8}.Encode()
}

// Bsr stores the index of the highest set bit of src in dst. ZF is set and
// dst is left unchanged on AMD/Intel when src is zero.
func Bsr(size Size, dst Reg, src Operand) ([]byte, error) {
	return Inst{Op: []byte{0x0F, 0xBD}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// Lzcnt counts leading zero bits. Requires ABM/LZCNT support.
func Lzcnt(size Size, dst Reg, src Operand) ([]byte, error) {
	return Inst{Prefix: 0xF3, Op: []byte{0x0F, 0xBD}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// Xchg swaps a register with an r/m operand.
func Xchg(size Size, dst Operand, src Reg) ([]byte, error) {
	return Inst{Op: sized(size, 0x87, 0x86), Size: size, Reg: uint8(src), RM: dst,
		RegByte: size == S8, RMByte: size == S8}.Encode()
}

// Cond is an x86 condition code as used by Jcc, SETcc and CMOVcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Invert returns the complementary condition.
func (c Cond) Invert() Cond { return c ^ 1 }

// Setcc writes 0 or 1 to the low byte of dst.
func Setcc(cc Cond, dst Operand) ([]byte, error) {
	return Inst{Op: []byte{0x0F, 0x90 | byte(cc&0xF)}, RM: dst, RMByte: true}.Encode()
}

// Cmovcc moves src into dst when cc holds.
func Cmovcc(cc Cond, size Size, dst Reg, src Operand) ([]byte, error) {
	return Inst{Op: []byte{0x0F, 0x40 | byte(cc&0xF)}, Size: size, Reg: uint8(dst), RM: src}.Encode()
}

// JmpRM jumps to the address held in dst.
func JmpRM(dst Operand) ([]byte, error) {
	return Inst{Op: []byte{0xFF}, Reg: 4, RM: dst}.Encode()
}

// CallRM calls the address held in dst.
func CallRM(dst Operand) ([]byte, error) {
	return Inst{Op: []byte{0xFF}, Reg: 2, RM: dst}.Encode()
}

// PushRM pushes a 64-bit r/m operand.
func PushRM(src Operand) ([]byte, error) {
	return Inst{Op: []byte{0xFF}, Reg: 6, RM: src}.Encode()
}

// PopRM pops into a 64-bit r/m operand.
func PopRM(dst Operand) ([]byte, error) {
	return Inst{Op: []byte{0x8F}, Reg: 0, RM: dst}.Encode()
}

// PrefetchHint selects the prefetch variant (0F 18 /hint).
type PrefetchHint uint8

const (
	PrefetchNTA PrefetchHint = 0
	PrefetchT0  PrefetchHint = 1
	PrefetchT1  PrefetchHint = 2
	PrefetchT2  PrefetchHint = 3
)

// Prefetch encodes a cache prefetch of mem.
func Prefetch(hint PrefetchHint, mem Operand) ([]byte, error) {
	if !mem.IsMem() {
		return nil, fmt.Errorf("amd64 asm: prefetch requires a memory operand")
	}
	return Inst{Op: []byte{0x0F, 0x18}, Reg: uint8(hint), RM: mem}.Encode()
}

// Push pushes a 64-bit register.
func Push(r Reg) []byte {
	if r >= R8 {
		return []byte{0x41, 0x50 + byte(r)&7}
	}
	return []byte{0x50 + byte(r)}
}

// Pop pops a 64-bit register.
func Pop(r Reg) []byte {
	if r >= R8 {
		return []byte{0x41, 0x58 + byte(r)&7}
	}
	return []byte{0x58 + byte(r)}
}

func Ret() []byte { return []byte{0xC3} }

func Int3() []byte { return []byte{0xCC} }

func Nop() []byte { return []byte{0x90} }

// Endbr64 marks an indirect branch target for CET.
func Endbr64() []byte { return []byte{0xF3, 0x0F, 0x1E, 0xFA} }

// Cqo sign-extends RAX into RDX:RAX.
func Cqo() []byte { return []byte{0x48, 0x99} }

// Cdq sign-extends EAX into EDX:EAX.
func Cdq() []byte { return []byte{0x99} }

// Jcc8 encodes a short conditional branch.
func Jcc8(cc Cond, rel int8) []byte { return []byte{0x70 | byte(cc&0xF), byte(rel)} }

// Jcc32 encodes a near conditional branch.
func Jcc32(cc Cond, rel int32) []byte {
	return binary.LittleEndian.AppendUint32([]byte{0x0F, 0x80 | byte(cc&0xF)}, uint32(rel))
}

// Jmp8 encodes a short unconditional branch.
func Jmp8(rel int8) []byte { return []byte{0xEB, byte(rel)} }

// Jmp32 encodes a near unconditional branch.
func Jmp32(rel int32) []byte { return binary.LittleEndian.AppendUint32([]byte{0xE9}, uint32(rel)) }

// Call32 encodes a near relative call.
func Call32(rel int32) []byte { return binary.LittleEndian.AppendUint32([]byte{0xE8}, uint32(rel)) }
