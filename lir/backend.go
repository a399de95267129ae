package lir

// backend lowers validated operations to native code. Every method appends
// to the session buffer through the Compiler it was created for. Operands
// reaching a backend are checked: registers are in range and SP only
// appears as a Mem1 base.
type backend interface {
	enter(f *frame) error
	// setContext recomputes the frame layout without emitting code.
	setContext(f *frame)
	// ret emits the epilogue. op is 0 for a void return, otherwise a MOV
	// variant moving src into the return register first.
	ret(op Op, src Operand) error

	op0(op Op) error
	op1(op Op, dst, src Operand) error
	// op2 receives a zero Operand as dst for EmitOp2u.
	op2(op Op, dst, src1, src2 Operand) error
	opSrc(op Op, src Operand) error
	fop1(op Op, dst, src Operand) error
	fop2(op Op, dst, src1, src2 Operand) error

	fastEnter(dst Operand) error
	localBase(dst Operand, off int64) error
	opFlags(op Op, dst Operand, cond Cond) error
	cmov(cond Cond, dst, src Operand) error
	// mem reports ErrUnsupported for forms the target cannot do in one
	// instruction when flags carries MemSupp.
	mem(op Op, flags MemFlags, r, m Operand) error
	fmem(op Op, flags MemFlags, r, m Operand) error
	custom(p []byte) error
	setCurrentFlags(flags int32)

	// jump, cmp, fcmp and call reserve a slot for j with reserveJump.
	jump(j *Jump) error
	cmp(j *Jump, src1, src2 Operand) error
	fcmp(j *Jump, src1, src2 Operand) error
	call(j *Jump, args Args) error
	ijump(kind Cond, src Operand) error
	icall(kind Cond, args Args, src Operand) error
	loadConst(k *Const, dst Operand) error
	loadLabel(p *PutLabel, dst Operand) error

	// jumpSize returns the smallest encoding of j that reaches target from
	// pc, both offsets from the start of the code.
	jumpSize(j *Jump, pc, target int64) int
	// encodeJump writes the final encoding of j into p, which is j.size
	// bytes long and executes at pc.
	encodeJump(p []byte, j *Jump, pc, target uint64) error

	regIndex(r reg) int
	fregIndex(r reg) int
	feature(f Feature) FeatureStatus
	cmpInfo(cond Cond) bool
}

// reserveJump records the form of j and reserves its largest encoding.
func (c *Compiler) reserveJump(j *Jump, form jumpForm, max int) error {
	off, err := c.reserve(max)
	if err != nil {
		return err
	}
	j.form = form
	j.off = off
	j.max = max
	j.size = max
	return nil
}
