package amd64

import (
	"testing"

	"github.com/tinyrange/lirjit/internal/asm/testutil"
)

func TestKitchenSinkDisassemblyAMD64(t *testing.T) {
	b := testutil.NewSink(t, testutil.AMD64)

	b.Raw("mov_imm", "movabs", MovImm64(RAX, 0x1122334455667788), "$0x1122334455667788,%rax")
	enc, err := Mov(S64, R(R9), R10)
	b.Add("mov_reg", "mov", enc, err, "%r10,%r9")
	enc, err = Mov(S64, Mem(RSP, 0x28), RAX)
	b.Add("mov_to_memory", "mov", enc, err, "%rax,0x28(%rsp)")
	enc, err = Load(S64, RBX, Mem(RSP, 0x18))
	b.Add("mov_from_memory", "mov", enc, err, "0x18(%rsp),%rbx")
	enc, err = CallRM(R(R11))
	b.Add("call_reg", "call", enc, err, "*%r11")
	enc, err = Movzx(S64, R12, Mem(RDI, 0x10), S8)
	b.Add("movzx8", "", enc, err, "movz", "0x10(%rdi)", "%r12")
	enc, err = Movsx(S64, R13, Mem(RSI, 0x14), S16)
	b.Add("movsx16", "", enc, err, "movs", "0x14(%rsi)", "%r13")
	enc, err = Movsxd(RAX, R(RCX))
	b.Add("movsxd", "", enc, err, "movs", "%ecx,%rax")
	enc, err = MovImm(S8, Mem(RDX, 5), 0x7f)
	b.Add("mov_store_imm8", "movb", enc, err, "$0x7f,0x5(%rdx)")
	enc, err = ALUImm(ADD, S64, R(RAX), 0x21)
	b.Add("add_reg_imm", "add", enc, err, "$0x21,%rax")
	enc, err = ALU(ADD, S64, R(R14), R15)
	b.Add("add_reg_reg", "add", enc, err, "%r15,%r14")
	enc, err = ALU(SUB, S64, R(R13), R12)
	b.Add("sub_reg_reg", "sub", enc, err, "%r12,%r13")
	enc, err = ALULoad(ADC, S64, RAX, Mem(RBP, -8))
	b.Add("adc_reg_mem", "adc", enc, err, "-0x8(%rbp),%rax")
	enc, err = ALUImm(CMP, S64, R(R9), 0x44)
	b.Add("cmp_reg_imm", "cmp", enc, err, "$0x44,%r9")
	enc, err = ALU(XOR, S32, R(RBX), RCX)
	b.Add("xor_reg_reg", "xor", enc, err, "%ecx,%ebx")
	enc, err = ImulImm(S64, RAX, R(RCX), 3)
	b.Add("imul_reg_imm", "imul", enc, err, "$0x3,%rcx,%rax")
	enc, err = Unary(DIV, S64, R(R11))
	b.Add("div", "div", enc, err, "%r11")
	enc, err = ShiftImm(SHR, S64, R(RDX), 2)
	b.Add("shr_reg_imm", "shr", enc, err, "$0x2,%rdx")
	enc, err = ShiftCL(SHL, S64, R(RSI))
	b.Add("shl_cl", "shl", enc, err, "%cl,%rsi")
	enc, err = Bsr(S64, RAX, R(RDI))
	b.Add("bsr", "bsr", enc, err, "%rdi,%rax")
	enc, err = Cmovcc(CondL, S64, RAX, R(RDX))
	b.Add("cmovl", "cmovl", enc, err, "%rdx,%rax")
	enc, err = Setcc(CondA, R(RDI))
	b.Add("seta", "seta", enc, err, "%dil")
	enc, err = Lea(S64, R15, MemIndex(RAX, RBX, 2, 0x40))
	b.Add("lea", "lea", enc, err, "0x40(%rax,%rbx,4),%r15")
	enc, err = Prefetch(PrefetchT0, Mem(RSI, 0))
	b.Add("prefetch", "prefetcht0", enc, err, "(%rsi)")
	enc, err = SSEArith(SSEMul, true, 3, Mem(RAX, 4))
	b.Add("mulss", "mulss", enc, err, "0x4(%rax),%xmm3")
	enc, err = Ucomis(false, 2, X(9))
	b.Add("ucomisd", "ucomisd", enc, err, "%xmm9,%xmm2")
	enc, err = Cvtsi(false, S64, 1, R(R8))
	b.Add("cvtsi2sd", "", enc, err, "cvtsi2sd", "%r8", "%xmm1")
	enc, err = MovqToX(S64, 4, R(RAX))
	b.Add("movq", "movq", enc, err, "%rax,%xmm4")
	b.Raw("jne", "jne", Jcc32(CondNE, 0))
	b.Raw("jmp", "jmp", Jmp8(0))
	b.Raw("endbr64", "endbr64", Endbr64())
	b.Raw("ret", "ret", Ret())

	b.Verify()
}
