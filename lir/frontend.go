package lir

// finish latches err and returns the session state.
func (c *Compiler) finish(err error) error {
	c.fail(err)
	return c.err
}

// semantic runs check unless SkipChecks is set.
func (c *Compiler) semantic(check func() error) error {
	if !c.checks {
		return nil
	}
	return check()
}

func (c *Compiler) needFPU() error {
	if c.be.feature(FeatureHasFPU) == FeatureUnavailable {
		return errorf(ErrUnsupported, "%s has no floating point unit", c.arch)
	}
	return nil
}

// setFlags updates the flag record after op. Integer operations that
// request no flags may still clobber them on some targets, so only moves
// keep an earlier record alive.
func (c *Compiler) setFlags(op Op) {
	switch {
	case op.HasFlags():
		c.flags = flagRecord{valid: true, op: op}
	case clobbersFlags(op):
		c.clearFlags()
	}
}

func clobbersFlags(op Op) bool {
	switch op.class() {
	case classOp0:
		switch op.Base() {
		case OpLmulUW, OpLmulSW, OpDivmodUW, OpDivmodSW, OpDivUW, OpDivSW:
			return true
		}
	case classOp1:
		return !isMovOp(op)
	case classOp2:
		return true
	}
	return false
}

func (c *Compiler) clearFlags() { c.flags = flagRecord{} }

// EmitEnter opens the function: it saves the callee-saved registers the
// register set touches, reserves localSize bytes at SP and moves the
// arguments into place.
func (c *Compiler) EmitEnter(options int, args Args, scratches, saveds, fscratches, fsaveds, localSize int) error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkEnter(options, args, scratches, saveds, fscratches, fsaveds, localSize); err != nil {
		return c.finish(err)
	}
	c.frame = frame{set: true, options: options, args: args, scratches: scratches, saveds: saveds,
		fscratches: fscratches, fsaveds: fsaveds, localSize: localSize}
	c.traceFrame("enter")
	c.clearFlags()
	return c.finish(c.be.enter(&c.frame))
}

// SetContext declares the frame of code that continues a function entered
// elsewhere. No code is emitted.
func (c *Compiler) SetContext(options int, args Args, scratches, saveds, fscratches, fsaveds, localSize int) error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkEnter(options, args, scratches, saveds, fscratches, fsaveds, localSize); err != nil {
		return c.finish(err)
	}
	c.frame = frame{set: true, options: options, args: args, scratches: scratches, saveds: saveds,
		fscratches: fscratches, fsaveds: fsaveds, localSize: localSize}
	c.traceFrame("set_context")
	c.be.setContext(&c.frame)
	return nil
}

// EmitReturnVoid restores the frame and returns.
func (c *Compiler) EmitReturnVoid() error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkEntered(); err != nil {
		return c.finish(err)
	}
	c.traceOp("return_void")
	return c.finish(c.be.ret(0, Operand{}))
}

// EmitReturn moves src into R0 (or FR0 for float moves) with op and
// returns.
func (c *Compiler) EmitReturn(op Op, src Operand) error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkEntered(); err != nil {
		return c.finish(err)
	}
	var err error
	switch {
	case op.HasFlags():
		err = c.badArg("return %s requests flags", op)
	case op.Base() == OpMovF64:
		if err = c.needFPU(); err == nil {
			err = c.checkFSrc(src)
		}
	case isMovOp(op):
		err = c.checkSrc(src)
		if err == nil {
			err = c.semantic(func() error { return c.check32(op) })
		}
	default:
		err = c.badArg("return needs a move, got %s", op.Name())
	}
	if err != nil {
		return c.finish(err)
	}
	c.traceOp("return."+op.Name(), src)
	return c.finish(c.be.ret(op, src))
}

// EmitFastEnter stores the return address of a fast call into dst.
func (c *Compiler) EmitFastEnter(dst Operand) error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkDst(dst); err != nil {
		return c.finish(err)
	}
	c.traceOp("fast_enter", dst)
	return c.finish(c.be.fastEnter(dst))
}

// GetLocalBase computes the address SP+off into dst.
func (c *Compiler) GetLocalBase(dst Operand, off int64) error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkDst(dst); err != nil {
		return c.finish(err)
	}
	c.traceOp("local_base", dst, Imm(off))
	return c.finish(c.be.localBase(dst, off))
}

// EmitOp0 emits an operation without operands. The multiply and divide
// forms work on R0 and R1.
func (c *Compiler) EmitOp0(op Op) error {
	if c.err != nil {
		return c.err
	}
	if op.class() != classOp0 || op.HasFlags() {
		return c.finish(c.badArg("%s is not an op0 operation", op))
	}
	switch op.Base() {
	case OpLmulUW, OpLmulSW, OpDivmodUW, OpDivmodSW, OpDivUW, OpDivSW:
		if c.frame.scratches < 2 {
			return c.finish(c.badArg("%s needs at least two scratch registers", op.Name()))
		}
	}
	if err := c.semantic(func() error { return c.check32(op) }); err != nil {
		return c.finish(err)
	}
	c.traceOp(op.Name())
	if err := c.be.op0(op); err != nil {
		return c.finish(err)
	}
	c.setFlags(op)
	return nil
}

// EmitOp1 emits a move, extension or single operand operation.
func (c *Compiler) EmitOp1(op Op, dst, src Operand) error {
	if c.err != nil {
		return c.err
	}
	if op.class() != classOp1 {
		return c.finish(c.badArg("%s is not an op1 operation", op))
	}
	if err := c.checkDst(dst); err != nil {
		return c.finish(err)
	}
	if err := c.checkSrc(src); err != nil {
		return c.finish(err)
	}
	if err := c.semantic(func() error {
		if err := c.checkFlags(op); err != nil {
			return err
		}
		return c.check32(op)
	}); err != nil {
		return c.finish(err)
	}
	c.traceOp(op.String(), dst, src)
	if err := c.be.op1(op, dst, src); err != nil {
		return c.finish(err)
	}
	c.setFlags(op)
	return nil
}

// EmitOp2 computes dst = src1 op src2.
func (c *Compiler) EmitOp2(op Op, dst, src1, src2 Operand) error {
	if c.err != nil {
		return c.err
	}
	if err := c.checkDst(dst); err != nil {
		return c.finish(err)
	}
	return c.op2(op, dst, src1, src2)
}

// EmitOp2u computes src1 op src2 for its flags only.
func (c *Compiler) EmitOp2u(op Op, src1, src2 Operand) error {
	if c.err != nil {
		return c.err
	}
	if !op.HasFlags() {
		return c.finish(c.badArg("%s discards its result without requesting flags", op))
	}
	return c.op2(op, Operand{}, src1, src2)
}

func (c *Compiler) op2(op Op, dst, src1, src2 Operand) error {
	if op.class() != classOp2 {
		return c.finish(c.badArg("%s is not an op2 operation", op))
	}
	if err := c.checkSrc(src1); err != nil {
		return c.finish(err)
	}
	if err := c.checkSrc(src2); err != nil {
		return c.finish(err)
	}
	if err := c.semantic(func() error { return c.checkFlags(op) }); err != nil {
		return c.finish(err)
	}
	if dst.valid() {
		c.traceOp(op.String(), dst, src1, src2)
	} else {
		c.traceOp(op.String(), src1, src2)
	}
	if err := c.be.op2(op, dst, src1, src2); err != nil {
		return c.finish(err)
	}
	c.setFlags(op)
	return nil
}

// EmitOpSrc emits an operation that only reads src.
func (c *Compiler) EmitOpSrc(op Op, src Operand) error {
	if c.err != nil {
		return c.err
	}
	if op.class() != classSrc || op.HasFlags() || op.Is32() {
		return c.finish(c.badArg("%s is not a source operation", op))
	}
	var err error
	switch op.Base() {
	case OpFastReturn, OpSkipFramesBeforeFastReturn:
		if src.IsImm() {
			err = c.badArg("%s needs a register or memory source", op.Name())
		} else {
			err = c.checkSrc(src)
		}
	default:
		if !src.IsMem() {
			err = c.badArg("%s needs a memory operand", op.Name())
		} else {
			err = c.checkMem(src)
		}
	}
	if err != nil {
		return c.finish(err)
	}
	c.traceOp(op.Name(), src)
	return c.finish(c.be.opSrc(op, src))
}

// EmitFOp1 emits a float move, conversion, negation, absolute value or
// comparison. A comparison takes its first operand in dst.
func (c *Compiler) EmitFOp1(op Op, dst, src Operand) error {
	if c.err != nil {
		return c.err
	}
	if op.class() != classFop1 {
		return c.finish(c.badArg("%s is not a float op1 operation", op))
	}
	if err := c.needFPU(); err != nil {
		return c.finish(err)
	}
	var err error
	switch op.Base() {
	case OpConvSWFromF64, OpConvS32FromF64:
		if dst.IsImm() {
			err = c.badArg("immediate used as destination")
		} else if err = c.checkSrc(dst); err == nil {
			err = c.checkFSrc(src)
		}
	case OpConvF64FromSW, OpConvF64FromS32:
		if err = c.checkFSrc(dst); err == nil {
			err = c.checkSrc(src)
		}
	default:
		if err = c.checkFSrc(dst); err == nil {
			err = c.checkFSrc(src)
		}
	}
	if err == nil {
		err = c.semantic(func() error {
			if op.Base() == OpCmpF64 {
				if op.HasSetZ() || !op.FlagCond().isFloat() {
					return c.badArg("%s must request one float condition", op)
				}
				return nil
			}
			if op.HasFlags() {
				return c.badArg("%s cannot set flags", op)
			}
			return nil
		})
	}
	if err != nil {
		return c.finish(err)
	}
	c.traceOp(op.String(), dst, src)
	if err := c.be.fop1(op, dst, src); err != nil {
		return c.finish(err)
	}
	c.setFlags(op)
	return nil
}

// EmitFOp2 computes dst = src1 op src2 on floats.
func (c *Compiler) EmitFOp2(op Op, dst, src1, src2 Operand) error {
	if c.err != nil {
		return c.err
	}
	if op.class() != classFop2 || op.HasFlags() {
		return c.finish(c.badArg("%s is not a float op2 operation", op))
	}
	if err := c.needFPU(); err != nil {
		return c.finish(err)
	}
	for _, o := range []Operand{dst, src1, src2} {
		if err := c.checkFSrc(o); err != nil {
			return c.finish(err)
		}
	}
	c.traceOp(op.Name(), dst, src1, src2)
	return c.finish(c.be.fop2(op, dst, src1, src2))
}

// EmitLabel marks the current position. Consecutive labels without code
// between them share one Label.
func (c *Compiler) EmitLabel() *Label {
	if c.err != nil {
		return nil
	}
	c.clearFlags()
	if c.lastLabel != nil && c.lastLabel.off == c.buf.Len() {
		return c.lastLabel
	}
	l := &Label{c: c, id: len(c.labels), off: c.buf.Len()}
	c.labels = append(c.labels, l)
	c.lastLabel = l
	c.trace("label_%d:", l.id)
	return l
}

func (c *Compiler) newJump(kind Cond) *Jump {
	j := &Jump{c: c, id: len(c.jumps), kind: kind}
	c.jumps = append(c.jumps, j)
	return j
}

// EmitJump emits a conditional or unconditional jump, or a fast call.
func (c *Compiler) EmitJump(kind Cond) *Jump {
	if c.err != nil {
		return nil
	}
	t := kind.Type()
	if t > FastCall || kind&^(0xFF|RewritableJump) != 0 {
		c.fail(c.badArg("invalid jump type %s", kind))
		return nil
	}
	if err := c.checkJumpCond(t); err != nil {
		c.fail(err)
		return nil
	}
	if t.isFloat() {
		if err := c.needFPU(); err != nil {
			c.fail(err)
			return nil
		}
	}
	j := c.newJump(kind)
	if t >= JumpAlways {
		c.trace("  %s j%d", kind, j.id)
	} else {
		c.trace("  jump.%s j%d", kind, j.id)
	}
	if c.fail(c.be.jump(j)) {
		return nil
	}
	if t == FastCall {
		c.clearFlags()
	}
	return j
}

// EmitCall emits a direct call. Integer arguments are read from R0, R1, ...
// and float arguments from FR0, FR1, ...
func (c *Compiler) EmitCall(kind Cond, args Args) *Jump {
	if c.err != nil {
		return nil
	}
	t := kind.Type()
	if (t != Call && t != CallCdecl) || kind&^(0xFF|RewritableJump|CallReturn) != 0 {
		c.fail(c.badArg("invalid call type %s", kind))
		return nil
	}
	if err := c.checkCallArgs(args); err != nil {
		c.fail(err)
		return nil
	}
	if kind&CallReturn != 0 {
		if err := c.checkEntered(); err != nil {
			c.fail(err)
			return nil
		}
	}
	j := c.newJump(kind)
	c.trace("  %s j%d, %s", kind, j.id, args)
	if c.fail(c.be.call(j, args)) {
		return nil
	}
	c.clearFlags()
	return j
}

// EmitCmp compares two integers and jumps when cond holds.
func (c *Compiler) EmitCmp(kind Cond, src1, src2 Operand) *Jump {
	if c.err != nil {
		return nil
	}
	t := kind.Type()
	if t > SigLessEqual || kind&^(0xFF|Cond32|RewritableJump) != 0 {
		c.fail(c.badArg("invalid compare type %s", kind))
		return nil
	}
	if err := c.checkSrc(src1); err != nil {
		c.fail(err)
		return nil
	}
	if err := c.checkSrc(src2); err != nil {
		c.fail(err)
		return nil
	}
	j := c.newJump(kind)
	c.trace("  cmp.%s j%d, %s, %s", kind, j.id, src1, src2)
	if c.fail(c.be.cmp(j, src1, src2)) {
		return nil
	}
	c.clearFlags()
	return j
}

// EmitFCmp compares two floats and jumps when cond holds. Cond32 selects
// single precision.
func (c *Compiler) EmitFCmp(kind Cond, src1, src2 Operand) *Jump {
	if c.err != nil {
		return nil
	}
	t := kind.Type()
	if !t.isFloat() || kind&^(0xFF|Cond32|RewritableJump) != 0 {
		c.fail(c.badArg("invalid float compare type %s", kind))
		return nil
	}
	if err := c.needFPU(); err != nil {
		c.fail(err)
		return nil
	}
	if err := c.checkFSrc(src1); err != nil {
		c.fail(err)
		return nil
	}
	if err := c.checkFSrc(src2); err != nil {
		c.fail(err)
		return nil
	}
	j := c.newJump(kind)
	c.trace("  fcmp.%s j%d, %s, %s", kind, j.id, src1, src2)
	if c.fail(c.be.fcmp(j, src1, src2)) {
		return nil
	}
	c.clearFlags()
	return j
}

// EmitIJump jumps or fast calls to the address in src.
func (c *Compiler) EmitIJump(kind Cond, src Operand) error {
	if c.err != nil {
		return c.err
	}
	if kind != JumpAlways && kind != FastCall {
		return c.finish(c.badArg("invalid indirect jump type %s", kind))
	}
	if err := c.checkSrc(src); err != nil {
		return c.finish(err)
	}
	c.traceOp("ijump."+kind.String(), src)
	if err := c.be.ijump(kind, src); err != nil {
		return c.finish(err)
	}
	if kind == FastCall {
		c.clearFlags()
	}
	return nil
}

// EmitICall calls the address in src.
func (c *Compiler) EmitICall(kind Cond, args Args, src Operand) error {
	if c.err != nil {
		return c.err
	}
	t := kind.Type()
	if (t != Call && t != CallCdecl) || kind&^(0xFF|CallReturn) != 0 {
		return c.finish(c.badArg("invalid indirect call type %s", kind))
	}
	if err := c.checkCallArgs(args); err != nil {
		return c.finish(err)
	}
	if err := c.checkSrc(src); err != nil {
		return c.finish(err)
	}
	if kind&CallReturn != 0 {
		if err := c.checkEntered(); err != nil {
			return c.finish(err)
		}
		if src.IsMem() && (src.uses(regSP) || usesSaved(src)) {
			return c.finish(c.badArg("tail call target %s is released by the epilogue", src))
		}
	}
	c.trace("  icall.%s %s, %s", kind, src, args)
	if err := c.be.icall(kind, args, src); err != nil {
		return c.finish(err)
	}
	c.clearFlags()
	return nil
}

func usesSaved(o Operand) bool {
	return o.base.isSaved() || o.index.isSaved()
}

// EmitOpFlags combines the 0/1 value of cond with dst. op is a move, which
// stores the value, or AND, OR and XOR, which use dst as the other operand.
func (c *Compiler) EmitOpFlags(op Op, dst Operand, cond Cond) error {
	if c.err != nil {
		return c.err
	}
	switch op.Base() {
	case OpMov, OpMov32:
		if op.Is32() || op.HasFlags() {
			return c.finish(c.badArg("%s cannot set flags or take the 32-bit bit here", op))
		}
	case OpAnd, OpOr, OpXor:
		if op.FlagCond() >= 0 {
			return c.finish(c.badArg("%s may only request the zero flag", op))
		}
	default:
		return c.finish(c.badArg("%s cannot combine a condition", op))
	}
	t := cond.Type()
	if t > OrderedLessEqual || cond&^(0xFF|Cond32) != 0 {
		return c.finish(c.badArg("invalid condition %s", cond))
	}
	if err := c.checkDst(dst); err != nil {
		return c.finish(err)
	}
	if err := c.checkJumpCond(t); err != nil {
		return c.finish(err)
	}
	c.trace("  op_flags.%s %s, %s", op, dst, t)
	if err := c.be.opFlags(op, dst, t); err != nil {
		return c.finish(err)
	}
	c.setFlags(op)
	return nil
}

// EmitCmov moves src into the register dst when cond holds. Cond32 makes
// it a 32-bit move.
func (c *Compiler) EmitCmov(cond Cond, dst, src Operand) error {
	if c.err != nil {
		return c.err
	}
	t := cond.Type()
	if t > OrderedLessEqual || cond&^(0xFF|Cond32) != 0 {
		return c.finish(c.badArg("invalid condition %s", cond))
	}
	if !dst.IsReg() {
		return c.finish(c.badArg("cmov destination %s is not a register", dst))
	}
	if err := c.checkReg(dst.base, false); err != nil {
		return c.finish(err)
	}
	if src.IsMem() {
		return c.finish(c.badArg("cmov source %s must be a register or immediate", src))
	}
	if err := c.checkSrc(src); err != nil {
		return c.finish(err)
	}
	if err := c.checkJumpCond(t); err != nil {
		return c.finish(err)
	}
	c.traceOp("cmov."+cond.String(), dst, src)
	return c.finish(c.be.cmov(cond, dst, src))
}

// EmitMem loads or stores r with an optional base update. With MemSupp
// nothing is emitted: the result only says whether the form is native,
// and ErrUnsupported is returned without being latched.
func (c *Compiler) EmitMem(op Op, flags MemFlags, r, m Operand) error {
	if c.err != nil {
		return c.err
	}
	if !isMovOp(op) || op.HasFlags() {
		return c.finish(c.badArg("%s is not a move", op))
	}
	if !r.IsReg() {
		return c.finish(c.badArg("memory access register %s is not an integer register", r))
	}
	if err := c.checkMemAccess(flags, r, m); err != nil {
		return c.finish(err)
	}
	if err := c.checkReg(r.base, false); err != nil {
		return c.finish(err)
	}
	if err := c.semantic(func() error { return c.check32(op) }); err != nil {
		return c.finish(err)
	}
	err := c.be.mem(op, flags, r, m)
	if flags&MemSupp != 0 {
		return err
	}
	c.trace("  mem.%s.%s %s, %s", op.Name(), memFlagsString(flags), r, m)
	return c.finish(err)
}

// EmitFMem is EmitMem for float registers.
func (c *Compiler) EmitFMem(op Op, flags MemFlags, r, m Operand) error {
	if c.err != nil {
		return c.err
	}
	if op&^Op32 != OpMovF64 {
		return c.finish(c.badArg("%s is not a float move", op))
	}
	if err := c.needFPU(); err != nil {
		return c.finish(err)
	}
	if !r.IsFloatReg() {
		return c.finish(c.badArg("memory access register %s is not a float register", r))
	}
	if err := c.checkMemAccess(flags, r, m); err != nil {
		return c.finish(err)
	}
	if err := c.checkReg(r.base, true); err != nil {
		return c.finish(err)
	}
	err := c.be.fmem(op, flags, r, m)
	if flags&MemSupp != 0 {
		return err
	}
	c.trace("  fmem.%s.%s %s, %s", op.Name(), memFlagsString(flags), r, m)
	return c.finish(err)
}

func (c *Compiler) checkMemAccess(flags MemFlags, r, m Operand) error {
	if flags&^(MemSupp|MemStore|MemPre|MemPost) != 0 {
		return c.badArg("unknown memory flags %#x", int32(flags))
	}
	if flags&MemPre != 0 && flags&MemPost != 0 {
		return c.badArg("pre and post update are exclusive")
	}
	if m.kind != kindMem1 && m.kind != kindMem2 {
		return c.badArg("%s is not a base addressed memory operand", m)
	}
	if err := c.checkMem(m); err != nil {
		return err
	}
	if flags&(MemPre|MemPost) != 0 {
		if m.base == regSP {
			return c.badArg("sp cannot be updated")
		}
		if r.IsReg() && m.uses(r.base) {
			return c.badArg("updated base %s overlaps the transferred register", m)
		}
	}
	return nil
}

// EmitConst loads init into dst with a fixed size sequence SetConst can
// rewrite.
func (c *Compiler) EmitConst(dst Operand, init int64) *Const {
	if c.err != nil {
		return nil
	}
	if err := c.checkDst(dst); err != nil {
		c.fail(err)
		return nil
	}
	k := &Const{c: c, id: len(c.consts), init: init}
	c.consts = append(c.consts, k)
	c.trace("  const k%d, %s, #%d", k.id, dst, init)
	if c.fail(c.be.loadConst(k, dst)) {
		return nil
	}
	return k
}

// EmitPutLabel loads the address of a label into dst. The label is chosen
// with SetLabel and resolved by GenerateCode.
func (c *Compiler) EmitPutLabel(dst Operand) *PutLabel {
	if c.err != nil {
		return nil
	}
	if err := c.checkDst(dst); err != nil {
		c.fail(err)
		return nil
	}
	p := &PutLabel{c: c, id: len(c.putLabels)}
	c.putLabels = append(c.putLabels, p)
	c.trace("  put_label p%d, %s", p.id, dst)
	if c.fail(c.be.loadLabel(p, dst)) {
		return nil
	}
	return p
}

// EmitOpCustom copies raw instruction bytes into the code. Flags are
// assumed clobbered afterwards; see SetCurrentFlags.
func (c *Compiler) EmitOpCustom(p []byte) error {
	if c.err != nil {
		return c.err
	}
	if len(p) < c.spec.customInstrMinSize || len(p) > c.spec.customInstrMaxSize {
		return c.finish(c.badArg("custom instruction of %d bytes, want %d..%d",
			len(p), c.spec.customInstrMinSize, c.spec.customInstrMaxSize))
	}
	c.traceCustom(p)
	c.clearFlags()
	return c.finish(c.be.custom(p))
}

// SetCurrentFlags declares which flags hold after custom instructions.
// flags combines CurrentFlags32, one of CurrentFlagsAdd, CurrentFlagsSub
// or CurrentFlagsCompare, and SetZ or Set bits.
func (c *Compiler) SetCurrentFlags(flags int32) error {
	if c.err != nil {
		return c.err
	}
	known := int32(CurrentFlags32) | CurrentFlagsAdd | CurrentFlagsSub | CurrentFlagsCompare | int32(SetZ) | 0x3F<<10
	if flags&^known != 0 {
		return c.finish(c.badArg("unknown current flags %#x", flags))
	}
	c.trace("  set_current_flags %#x", flags)
	c.be.setCurrentFlags(flags)
	op := Op(flags) &^ 0xFF
	if op.HasFlags() {
		c.flags = flagRecord{valid: true, op: op}
	} else {
		c.clearFlags()
	}
	return nil
}
