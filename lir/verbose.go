package lir

import (
	"encoding/hex"
	"strings"
)

// The verbose listing prints one operation per line. internal/lirtext
// parses the same format back.
//
//	  enter options=none args=w(w,w) scratches=1 saveds=2 fscratches=0 fsaveds=0 local_size=0
//	  add.z r0, s0, #5
//	label_0:
//	  cmp.sig_less j0, s0, #0
//	  j0 -> label_0
//	  return.mov r0

func (a Args) String() string {
	var sb strings.Builder
	sb.WriteString(a.Ret().String())
	sb.WriteByte('(')
	for i, t := range a.List() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(t.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// ParseArgs reads the format printed by Args.String.
func ParseArgs(s string) (Args, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return 0, errorf(ErrBadArgument, "malformed argument list %q", s)
	}
	ret, err := parseArgType(s[:open])
	if err != nil {
		return 0, err
	}
	var types []ArgType
	if inner := s[open+1 : len(s)-1]; inner != "" {
		for _, f := range strings.Split(inner, ",") {
			t, err := parseArgType(f)
			if err != nil {
				return 0, err
			}
			types = append(types, t)
		}
	}
	if len(types) > 4 {
		return 0, errorf(ErrBadArgument, "more than four arguments in %q", s)
	}
	return ArgsOf(ret, types...), nil
}

func parseArgType(s string) (ArgType, error) {
	var flag ArgType
	if strings.HasSuffix(s, "_r") {
		flag = ArgScratch
		s = strings.TrimSuffix(s, "_r")
	}
	for i, n := range argNames[:6] {
		if n == s {
			return ArgType(i) | flag, nil
		}
	}
	return 0, errorf(ErrBadArgument, "unknown argument type %q", s)
}

// EnterOptionsString names a set of EmitEnter options.
func EnterOptionsString(options int) string {
	s := "none"
	switch options & 3 {
	case EnterKeepS0:
		s = "keep_s0"
	case EnterKeepS0S1:
		s = "keep_s0_s1"
	}
	if options&EnterCdecl != 0 {
		s += "+cdecl"
	}
	return s
}

// ParseEnterOptions reads the format printed by EnterOptionsString.
func ParseEnterOptions(s string) (int, error) {
	opts := 0
	if base, ok := strings.CutSuffix(s, "+cdecl"); ok {
		opts |= EnterCdecl
		s = base
	}
	switch s {
	case "none":
	case "keep_s0":
		opts |= EnterKeepS0
	case "keep_s0_s1":
		opts |= EnterKeepS0S1
	default:
		return 0, errorf(ErrBadArgument, "unknown enter options %q", s)
	}
	return opts, nil
}

func memFlagsString(f MemFlags) string {
	s := "load"
	if f&MemStore != 0 {
		s = "store"
	}
	if f&MemPre != 0 {
		s += ".pre"
	}
	if f&MemPost != 0 {
		s += ".post"
	}
	if f&MemSupp != 0 {
		s += ".supp"
	}
	return s
}

func (c *Compiler) traceFrame(name string) {
	f := &c.frame
	c.trace("  %s options=%s args=%s scratches=%d saveds=%d fscratches=%d fsaveds=%d local_size=%d",
		name, EnterOptionsString(f.options), f.args, f.scratches, f.saveds, f.fscratches, f.fsaveds, f.localSize)
}

func (c *Compiler) traceOp(name string, ops ...Operand) {
	if c.verbose == nil {
		return
	}
	if len(ops) == 0 {
		c.trace("  %s", name)
		return
	}
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	c.trace("  %s %s", name, strings.Join(parts, ", "))
}

func (c *Compiler) traceCustom(p []byte) {
	c.trace("  custom %s", hex.EncodeToString(p))
}
