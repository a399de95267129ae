package lir

// Operand validity is always checked. The semantic rules (flag pairing,
// width rules) are skipped with Options.SkipChecks.

func (c *Compiler) badArg(format string, args ...any) error {
	return errorf(ErrBadArgument, format, args...)
}

func (c *Compiler) checkReg(r reg, float bool) error {
	if r == regSP {
		return c.badArg("sp is only valid as a memory base")
	}
	scratches, saveds := c.frame.scratches, c.frame.saveds
	if float {
		scratches, saveds = c.frame.fscratches, c.frame.fsaveds
	}
	switch {
	case r.isScratch() && r.num() < scratches:
		return nil
	case r.isSaved() && r.num() < saveds:
		return nil
	}
	return c.badArg("register %s outside the declared context", r.name(float))
}

func (c *Compiler) checkMem(o Operand) error {
	switch o.kind {
	case kindMem0:
		return nil
	case kindMem1:
		if o.base == regSP {
			if o.w < 0 || o.w >= int64(c.frame.localSize) {
				return c.badArg("stack offset %d outside local area of %d bytes", o.w, c.frame.localSize)
			}
			return nil
		}
		if o.base == regNone {
			return c.badArg("memory base is not a register")
		}
		return c.checkReg(o.base, false)
	case kindMem2:
		if o.w < 0 || o.w > 3 {
			return c.badArg("index shift %d out of range", o.w)
		}
		if o.base == regNone || o.index == regNone {
			return c.badArg("memory base or index is not a register")
		}
		if err := c.checkReg(o.base, false); err != nil {
			return err
		}
		return c.checkReg(o.index, false)
	}
	return c.badArg("%s is not a memory operand", o)
}

// checkSrc validates an integer source.
func (c *Compiler) checkSrc(o Operand) error {
	switch o.kind {
	case kindImm:
		return nil
	case kindReg:
		return c.checkReg(o.base, false)
	case kindMem0, kindMem1, kindMem2:
		return c.checkMem(o)
	}
	return c.badArg("invalid integer source %s", o)
}

// checkDst validates an integer destination.
func (c *Compiler) checkDst(o Operand) error {
	if o.kind == kindImm {
		return c.badArg("immediate used as destination")
	}
	return c.checkSrc(o)
}

func (c *Compiler) checkFSrc(o Operand) error {
	switch o.kind {
	case kindFReg:
		return c.checkReg(o.base, true)
	case kindMem0, kindMem1, kindMem2:
		return c.checkMem(o)
	}
	return c.badArg("invalid float operand %s", o)
}

func (c *Compiler) checkEntered() error {
	if !c.frame.set {
		return c.badArg("no function context, call EmitEnter or SetContext first")
	}
	return nil
}

// allowedFlags lists the flags an integer operation may set. The variable
// conditions are stored by their even member.
func allowedFlags(base Op) (z bool, conds []Cond) {
	switch base {
	case OpAdd:
		return true, []Cond{Overflow, Carry}
	case OpAddc, OpSubc:
		return false, []Cond{Carry}
	case OpSub:
		return true, []Cond{Less, Greater, SigLess, SigGreater, GreaterEqual, LessEqual,
			SigGreaterEqual, SigLessEqual, Overflow, Carry}
	case OpMul:
		return false, []Cond{Overflow}
	case OpAnd, OpOr, OpXor, OpShl, OpLshr, OpAshr, OpNot:
		return true, nil
	}
	return false, nil
}

func (c *Compiler) checkFlags(op Op) error {
	if !op.HasFlags() {
		return nil
	}
	z, conds := allowedFlags(op.Base())
	if op.HasSetZ() && !z {
		return c.badArg("%s cannot set the zero flag", op.Name())
	}
	fc := op.FlagCond()
	if fc < 0 {
		return nil
	}
	for _, a := range conds {
		if fc == a {
			return nil
		}
	}
	return c.badArg("%s cannot set the %s flag", op.Name(), fc)
}

// check32 rejects the 32-bit bit on operations without a 32-bit form.
func (c *Compiler) check32(op Op) error {
	if !op.Is32() {
		return nil
	}
	switch op.Base() {
	case OpMovU8, OpMovS8, OpMovU16, OpMovS16, OpNot, OpClz,
		OpDivmodUW, OpDivmodSW, OpDivUW, OpDivSW:
		return nil
	}
	if op.class() == classOp2 {
		return nil
	}
	return c.badArg("%s has no 32-bit form", Op(op.Base()).Name())
}

func isMovOp(op Op) bool {
	b := op.Base()
	return b >= OpMov && b <= OpMovP
}

func (c *Compiler) checkEnter(options int, args Args, scratches, saveds, fscratches, fsaveds, localSize int) error {
	s := c.spec
	switch {
	case scratches < 0 || saveds < 0 || fscratches < 0 || fsaveds < 0:
		return c.badArg("negative register count")
	case scratches+saveds > s.numRegisters:
		return c.badArg("%d scratch + %d saved registers exceed %d", scratches, saveds, s.numRegisters)
	case saveds > s.numSavedRegisters:
		return c.badArg("%d saved registers exceed %d", saveds, s.numSavedRegisters)
	case fscratches+fsaveds > s.numFloatRegisters:
		return c.badArg("%d float registers exceed %d", fscratches+fsaveds, s.numFloatRegisters)
	case fsaveds > s.numSavedFloatRegs:
		return c.badArg("%d saved float registers exceed %d", fsaveds, s.numSavedFloatRegs)
	case localSize < 0 || localSize > MaxLocalSize:
		return c.badArg("local size %d outside 0..%d", localSize, MaxLocalSize)
	case options&^(EnterKeepS0|EnterKeepS0S1|EnterCdecl) != 0:
		return c.badArg("unknown enter options %#x", options)
	case options&3 == EnterKeepS0 && saveds < 1, options&3 == EnterKeepS0S1 && saveds < 2:
		return c.badArg("kept saved registers exceed saveds")
	case options&3 == 3:
		return c.badArg("keep_s0 and keep_s0_s1 are exclusive")
	}
	if err := checkArgTypes(args, true); err != nil {
		return err
	}
	words, floats := 0, 0
	for _, t := range args.List() {
		switch {
		case t.isFloat():
			floats++
			if floats > fscratches {
				return c.badArg("float argument %d needs fscratches >= %d", floats-1, floats)
			}
		case t.scratch():
			if words >= scratches {
				return c.badArg("argument %d placed in r%d beyond scratches", words, words)
			}
			words++
		default:
			if words >= saveds {
				return c.badArg("argument %d placed in s%d beyond saveds", words, words)
			}
			words++
		}
	}
	return nil
}

func checkArgTypes(args Args, enter bool) error {
	if args>>20 != 0 {
		return errorf(ErrBadArgument, "more than four arguments")
	}
	ret := args.Ret()
	if ret.scratch() || ret.base() > ArgF32 {
		return errorf(ErrBadArgument, "invalid return type %d", ret)
	}
	void := false
	for i := 0; i < 4; i++ {
		t := args.Arg(i)
		if t == ArgVoid {
			void = true
			continue
		}
		if void {
			return errorf(ErrBadArgument, "argument %d follows a void slot", i)
		}
		if t.base() == ArgVoid || t.base() > ArgF32 {
			return errorf(ErrBadArgument, "invalid argument type %d", t)
		}
		if t.scratch() && (!enter || t.isFloat()) {
			return errorf(ErrBadArgument, "scratch placement only applies to integer enter arguments")
		}
	}
	return nil
}

// checkCallArgs validates a call site: integer arguments must be readable
// scratch registers.
func (c *Compiler) checkCallArgs(args Args) error {
	if err := checkArgTypes(args, false); err != nil {
		return err
	}
	words, floats := 0, 0
	for _, t := range args.List() {
		if t.isFloat() {
			floats++
		} else {
			words++
		}
	}
	if words > c.frame.scratches && words > 0 {
		return c.badArg("call passes %d integer arguments with %d scratches", words, c.frame.scratches)
	}
	if floats > c.frame.fscratches {
		return c.badArg("call passes %d float arguments with %d float scratches", floats, c.frame.fscratches)
	}
	return nil
}

func (c *Compiler) checkJumpCond(cond Cond) error {
	if !c.checks {
		return nil
	}
	t := cond.Type()
	if t > OrderedLessEqual {
		return nil
	}
	if !c.flags.allows(t) {
		return c.badArg("jump on %s without a preceding operation setting it", t)
	}
	return nil
}
