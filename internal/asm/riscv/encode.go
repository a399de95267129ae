package riscv

import "fmt"

// Reg is an integer register x0..x31.
type Reg uint8

const (
	ZERO Reg = 0
	RA   Reg = 1
	SP   Reg = 2
	GP   Reg = 3
	TP   Reg = 4
	T0   Reg = 5
	T1   Reg = 6
	T2   Reg = 7
	S0   Reg = 8
	S1   Reg = 9
	A0   Reg = 10
	A1   Reg = 11
	A2   Reg = 12
	A3   Reg = 13
	A4   Reg = 14
	A5   Reg = 15
	A6   Reg = 16
	A7   Reg = 17
	S2   Reg = 18
	S3   Reg = 19
	S4   Reg = 20
	S5   Reg = 21
	S6   Reg = 22
	S7   Reg = 23
	S8   Reg = 24
	S9   Reg = 25
	S10  Reg = 26
	S11  Reg = 27
	T3   Reg = 28
	T4   Reg = 29
	T5   Reg = 30
	T6   Reg = 31
)

var regNames = [...]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("x%d", uint8(r))
}

// FReg is a floating-point register f0..f31.
type FReg uint8

func (f FReg) String() string { return fmt.Sprintf("f%d", uint8(f)) }

// Major opcodes.
const (
	opLoad    = 0x03
	opLoadFP  = 0x07
	opMiscMem = 0x0F
	opImm     = 0x13
	opAUIPC   = 0x17
	opImm32   = 0x1B
	opStore   = 0x23
	opStoreFP = 0x27
	opReg     = 0x33
	opLUI     = 0x37
	opReg32   = 0x3B
	opFP      = 0x53
	opBranch  = 0x63
	opJALR    = 0x67
	opJAL     = 0x6F
	opSystem  = 0x73
)

// FitsImm12 reports whether v fits a signed 12-bit immediate.
func FitsImm12(v int64) bool { return v >= -2048 && v <= 2047 }

func encodeR(op, f3, f7 uint32, rd, rs1, rs2 uint8) uint32 {
	return f7<<25 | uint32(rs2&31)<<20 | uint32(rs1&31)<<15 | f3<<12 | uint32(rd&31)<<7 | op
}

func encodeI(op, f3 uint32, rd, rs1 uint8, imm int32) uint32 {
	return uint32(imm&0xFFF)<<20 | uint32(rs1&31)<<15 | f3<<12 | uint32(rd&31)<<7 | op
}

func encodeS(op, f3 uint32, rs1, rs2 uint8, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | uint32(rs2&31)<<20 | uint32(rs1&31)<<15 | f3<<12 | (u&0x1F)<<7 | op
}

func encodeB(f3 uint32, rs1, rs2 uint8, offset int32) uint32 {
	u := uint32(offset)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | uint32(rs2&31)<<20 | uint32(rs1&31)<<15 | f3<<12 |
		(u>>1&0xF)<<8 | (u>>11&1)<<7 | opBranch
}

func encodeU(op uint32, rd uint8, imm20 int32) uint32 {
	return uint32(imm20&0xFFFFF)<<12 | uint32(rd&31)<<7 | op
}

func encodeJ(rd uint8, offset int32) uint32 {
	u := uint32(offset)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 | uint32(rd&31)<<7 | opJAL
}

// ALUOp is an OP/OP-32 instruction, funct7<<3 | funct3.
type ALUOp uint32

const (
	ADD    ALUOp = 0x000
	SUB    ALUOp = 0x100
	SLL    ALUOp = 0x001
	SLT    ALUOp = 0x002
	SLTU   ALUOp = 0x003
	XOR    ALUOp = 0x004
	SRL    ALUOp = 0x005
	SRA    ALUOp = 0x105
	OR     ALUOp = 0x006
	AND    ALUOp = 0x007
	MUL    ALUOp = 0x008
	MULH   ALUOp = 0x009
	MULHSU ALUOp = 0x00A
	MULHU  ALUOp = 0x00B
	DIV    ALUOp = 0x00C
	DIVU   ALUOp = 0x00D
	REM    ALUOp = 0x00E
	REMU   ALUOp = 0x00F
)

func (op ALUOp) fields() (f3, f7 uint32) {
	f3 = uint32(op) & 7
	f7 = uint32(op) >> 3
	return f3, f7
}

// Reg3 encodes rd = rs1 op rs2. word selects the 32-bit OP-32 form.
func Reg3(op ALUOp, word bool, rd, rs1, rs2 Reg) uint32 {
	f3, f7 := op.fields()
	major := uint32(opReg)
	if word {
		major = opReg32
	}
	return encodeR(major, f3, f7, uint8(rd), uint8(rs1), uint8(rs2))
}

// ImmOp is an OP-IMM instruction selected by funct3.
type ImmOp uint32

const (
	ADDI  ImmOp = 0
	SLTI  ImmOp = 2
	SLTIU ImmOp = 3
	XORI  ImmOp = 4
	ORI   ImmOp = 6
	ANDI  ImmOp = 7
)

// Imm encodes rd = rs1 op imm with a signed 12-bit immediate.
func Imm(op ImmOp, rd, rs1 Reg, imm int64) (uint32, error) {
	if !FitsImm12(imm) {
		return 0, fmt.Errorf("riscv asm: immediate %d out of range", imm)
	}
	return encodeI(opImm, uint32(op), uint8(rd), uint8(rs1), int32(imm)), nil
}

// Addi encodes rd = rs1 + imm and panics on out of range immediates, which
// callers are expected to have checked.
func Addi(rd, rs1 Reg, imm int64) uint32 {
	w, err := Imm(ADDI, rd, rs1, imm)
	if err != nil {
		panic(err)
	}
	return w
}

// Addiw encodes the 32-bit add immediate with sign extension of the result.
func Addiw(rd, rs1 Reg, imm int64) uint32 {
	return encodeI(opImm32, 0, uint8(rd), uint8(rs1), int32(imm))
}

// Mv copies rs into rd.
func Mv(rd, rs Reg) uint32 { return Addi(rd, rs, 0) }

// ShiftOp selects a shift-immediate instruction.
type ShiftOp uint32

const (
	SLLI ShiftOp = 0x001
	SRLI ShiftOp = 0x005
	SRAI ShiftOp = 0x405
)

// ShiftImm encodes a shift by a constant. word selects the 32-bit form.
func ShiftImm(op ShiftOp, word bool, rd, rs1 Reg, shamt uint8) uint32 {
	major := uint32(opImm)
	mask := uint8(63)
	if word {
		major = opImm32
		mask = 31
	}
	imm := int32(op>>3)<<3 | int32(shamt&mask)
	return encodeI(major, uint32(op)&7, uint8(rd), uint8(rs1), imm)
}

// Lui loads imm20<<12, sign-extended, into rd.
func Lui(rd Reg, imm20 int32) uint32 { return encodeU(opLUI, uint8(rd), imm20) }

// Auipc adds imm20<<12 to the address of this instruction.
func Auipc(rd Reg, imm20 int32) uint32 { return encodeU(opAUIPC, uint8(rd), imm20) }

// Width is the access width of a load or store, as funct3.
type Width uint32

const (
	B  Width = 0
	H  Width = 1
	W  Width = 2
	D  Width = 3
	BU Width = 4
	HU Width = 5
	WU Width = 6
)

// Load encodes rd = [rs1 + offset].
func Load(width Width, rd, rs1 Reg, offset int64) (uint32, error) {
	if !FitsImm12(offset) {
		return 0, fmt.Errorf("riscv asm: load offset %d out of range", offset)
	}
	return encodeI(opLoad, uint32(width), uint8(rd), uint8(rs1), int32(offset)), nil
}

// Store encodes [rs1 + offset] = rs2.
func Store(width Width, rs2, rs1 Reg, offset int64) (uint32, error) {
	if !FitsImm12(offset) || width > D {
		return 0, fmt.Errorf("riscv asm: store width %d offset %d not encodable", width, offset)
	}
	return encodeS(opStore, uint32(width), uint8(rs1), uint8(rs2), int32(offset)), nil
}

// BranchOp is the funct3 of a conditional branch.
type BranchOp uint32

const (
	BEQ  BranchOp = 0
	BNE  BranchOp = 1
	BLT  BranchOp = 4
	BGE  BranchOp = 5
	BLTU BranchOp = 6
	BGEU BranchOp = 7
)

// Invert returns the branch taken exactly when op is not.
func (op BranchOp) Invert() BranchOp { return op ^ 1 }

// FitsBranch reports whether offset is reachable by a conditional branch.
func FitsBranch(offset int64) bool { return offset&1 == 0 && offset >= -4096 && offset <= 4094 }

// FitsJal reports whether offset is reachable by JAL.
func FitsJal(offset int64) bool { return offset&1 == 0 && offset >= -(1<<20) && offset < 1<<20 }

// Branch encodes a conditional branch to pc+offset.
func Branch(op BranchOp, rs1, rs2 Reg, offset int64) (uint32, error) {
	if !FitsBranch(offset) {
		return 0, fmt.Errorf("riscv asm: branch offset %d out of range", offset)
	}
	return encodeB(uint32(op), uint8(rs1), uint8(rs2), int32(offset)), nil
}

// Jal jumps to pc+offset storing the return address in rd.
func Jal(rd Reg, offset int64) (uint32, error) {
	if !FitsJal(offset) {
		return 0, fmt.Errorf("riscv asm: jal offset %d out of range", offset)
	}
	return encodeJ(uint8(rd), int32(offset)), nil
}

// Jalr jumps to rs1+offset storing the return address in rd.
func Jalr(rd, rs1 Reg, offset int64) uint32 {
	return encodeI(opJALR, 0, uint8(rd), uint8(rs1), int32(offset))
}

// Retarget rewrites the displacement of an existing branch or JAL word.
func Retarget(word uint32, offset int64) (uint32, error) {
	switch word & 0x7F {
	case opBranch:
		if !FitsBranch(offset) {
			return 0, fmt.Errorf("riscv asm: branch offset %d out of range", offset)
		}
		return encodeB((word>>12)&7, uint8(word>>15), uint8(word>>20), int32(offset)), nil
	case opJAL:
		if !FitsJal(offset) {
			return 0, fmt.Errorf("riscv asm: jal offset %d out of range", offset)
		}
		return encodeJ(uint8(word>>7), int32(offset)), nil
	}
	return 0, fmt.Errorf("riscv asm: %#08x is not a direct branch", word)
}

// Clz counts leading zeros (Zbb). word selects CLZW.
func Clz(word bool, rd, rs1 Reg) uint32 {
	major := uint32(opImm)
	if word {
		major = opImm32
	}
	return encodeI(major, 1, uint8(rd), uint8(rs1), 0x600)
}

func Ebreak() uint32 { return encodeI(opSystem, 0, 0, 0, 1) }

func Nop() uint32 { return Addi(ZERO, ZERO, 0) }

// FenceI synchronises the instruction stream of the executing hart.
func FenceI() uint32 { return encodeI(opMiscMem, 1, 0, 0, 0) }
