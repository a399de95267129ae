// Package lirtext reads the listing written by lir.Options.Verbose and
// replays it into a compiler session.
package lirtext

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tinyrange/lirjit/lir"
)

// MaxLineLength bounds a single listing line.
const MaxLineLength = 4096

// ParseError reports a malformed listing line.
type ParseError struct {
	Line    int    // 1-indexed
	Message string // what was wrong
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Program is a parsed listing.
type Program struct {
	Stmts []Stmt
}

// Stmt is one operation of a listing.
type Stmt struct {
	Line int
	Text string
	run  func(*state) error
}

// Parse reads a listing. Blank lines and lines starting with ';' are
// skipped.
func Parse(data []byte) (*Program, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, MaxLineLength), MaxLineLength)

	prog := &Program{}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, ";") {
			continue
		}
		run, err := parseStmt(text)
		if err != nil {
			return nil, &ParseError{Line: lineNum, Message: err.Error()}
		}
		prog.Stmts = append(prog.Stmts, Stmt{Line: lineNum, Text: text, run: run})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Message: "read error: " + err.Error()}
	}
	return prog, nil
}

// ParseReader is Parse on the contents of r.
func ParseReader(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func parseStmt(text string) (func(*state) error, error) {
	if name, ok := strings.CutSuffix(text, ":"); ok {
		id, err := ref(name, "label_")
		if err != nil {
			return nil, err
		}
		return func(s *state) error {
			l := s.c.EmitLabel()
			if l == nil {
				return s.c.Err()
			}
			s.Labels[id] = l
			return nil
		}, nil
	}
	if from, to, ok := strings.Cut(text, " -> "); ok {
		return parseBind(from, to)
	}

	verb, rest, _ := strings.Cut(text, " ")
	var fields []string
	if rest = strings.TrimSpace(rest); rest != "" {
		fields = strings.Split(rest, ", ")
	}
	head, tail, _ := strings.Cut(verb, ".")

	switch head {
	case "enter", "set_context":
		return parseFrame(head, rest)
	case "return_void":
		if err := want(fields, 0); err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitReturnVoid() }, nil
	case "return":
		op, err := parseOp(tail)
		if err != nil {
			return nil, err
		}
		ops, err := operands(fields, 1)
		if err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitReturn(op, ops[0]) }, nil
	case "fast_enter":
		ops, err := operands(fields, 1)
		if err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitFastEnter(ops[0]) }, nil
	case "local_base":
		ops, err := operands(fields, 2)
		if err != nil {
			return nil, err
		}
		if !ops[1].IsImm() {
			return nil, fmt.Errorf("local_base offset %s is not an immediate", ops[1])
		}
		return func(s *state) error { return s.c.GetLocalBase(ops[0], ops[1].Value()) }, nil
	case "jump", "fast_call":
		return parseJump(verb, tail, fields)
	case "call", "call_cdecl":
		return parseCall(verb, fields)
	case "cmp", "fcmp":
		return parseCmp(head, tail, fields)
	case "ijump":
		kind, err := ParseCond(tail)
		if err != nil {
			return nil, err
		}
		ops, err := operands(fields, 1)
		if err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitIJump(kind, ops[0]) }, nil
	case "icall":
		kind, err := ParseCond(tail)
		if err != nil {
			return nil, err
		}
		if err := want(fields, 2); err != nil {
			return nil, err
		}
		src, err := ParseOperand(fields[0])
		if err != nil {
			return nil, err
		}
		args, err := lir.ParseArgs(fields[1])
		if err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitICall(kind, args, src) }, nil
	case "op_flags":
		op, err := parseOp(tail)
		if err != nil {
			return nil, err
		}
		if err := want(fields, 2); err != nil {
			return nil, err
		}
		dst, err := ParseOperand(fields[0])
		if err != nil {
			return nil, err
		}
		cond, err := ParseCond(fields[1])
		if err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitOpFlags(op, dst, cond) }, nil
	case "cmov":
		cond, err := ParseCond(tail)
		if err != nil {
			return nil, err
		}
		ops, err := operands(fields, 2)
		if err != nil {
			return nil, err
		}
		return func(s *state) error { return s.c.EmitCmov(cond, ops[0], ops[1]) }, nil
	case "mem", "fmem":
		return parseMemAccess(head, tail, fields)
	case "const":
		if err := want(fields, 3); err != nil {
			return nil, err
		}
		id, err := ref(fields[0], "k")
		if err != nil {
			return nil, err
		}
		ops, err := operands(fields[1:], 2)
		if err != nil {
			return nil, err
		}
		if !ops[1].IsImm() {
			return nil, fmt.Errorf("const value %s is not an immediate", ops[1])
		}
		return func(s *state) error {
			k := s.c.EmitConst(ops[0], ops[1].Value())
			if k == nil {
				return s.c.Err()
			}
			s.Consts[id] = k
			return nil
		}, nil
	case "put_label":
		if err := want(fields, 2); err != nil {
			return nil, err
		}
		id, err := ref(fields[0], "p")
		if err != nil {
			return nil, err
		}
		dst, err := ParseOperand(fields[1])
		if err != nil {
			return nil, err
		}
		return func(s *state) error {
			p := s.c.EmitPutLabel(dst)
			if p == nil {
				return s.c.Err()
			}
			s.PutLabels[id] = p
			return nil
		}, nil
	case "custom":
		if err := want(fields, 1); err != nil {
			return nil, err
		}
		p, err := hex.DecodeString(fields[0])
		if err != nil {
			return nil, fmt.Errorf("custom instruction: %w", err)
		}
		return func(s *state) error { return s.c.EmitOpCustom(p) }, nil
	case "set_current_flags":
		if err := want(fields, 1); err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(fields[0], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("set_current_flags: %w", err)
		}
		return func(s *state) error { return s.c.SetCurrentFlags(int32(v)) }, nil
	}
	return parseGeneric(verb, fields)
}

func parseFrame(name, rest string) (func(*state) error, error) {
	kv := map[string]string{}
	for _, f := range strings.Fields(rest) {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed field %q", name, f)
		}
		kv[k] = v
	}
	options, err := lir.ParseEnterOptions(kv["options"])
	if err != nil {
		return nil, err
	}
	args, err := lir.ParseArgs(kv["args"])
	if err != nil {
		return nil, err
	}
	var n [5]int
	for i, k := range []string{"scratches", "saveds", "fscratches", "fsaveds", "local_size"} {
		v, ok := kv[k]
		if !ok {
			return nil, fmt.Errorf("%s: missing %s", name, k)
		}
		if n[i], err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", name, k, err)
		}
	}
	if name == "enter" {
		return func(s *state) error {
			return s.c.EmitEnter(options, args, n[0], n[1], n[2], n[3], n[4])
		}, nil
	}
	return func(s *state) error {
		return s.c.SetContext(options, args, n[0], n[1], n[2], n[3], n[4])
	}, nil
}

// parseBind reads "j1 -> label_2", "j1 -> 0x1000" and "p0 -> label_2".
func parseBind(from, to string) (func(*state) error, error) {
	if strings.HasPrefix(from, "p") {
		id, err := ref(from, "p")
		if err != nil {
			return nil, err
		}
		lid, err := ref(to, "label_")
		if err != nil {
			return nil, err
		}
		return func(s *state) error {
			p, l := s.PutLabels[id], s.Labels[lid]
			if p == nil || l == nil {
				return fmt.Errorf("unknown put_label p%d or label_%d", id, lid)
			}
			p.SetLabel(l)
			return nil
		}, nil
	}
	id, err := ref(from, "j")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(to, "0x") {
		addr, err := strconv.ParseUint(to, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("jump target: %w", err)
		}
		return func(s *state) error {
			j := s.Jumps[id]
			if j == nil {
				return fmt.Errorf("unknown jump j%d", id)
			}
			j.SetTarget(uintptr(addr))
			return nil
		}, nil
	}
	lid, err := ref(to, "label_")
	if err != nil {
		return nil, err
	}
	return func(s *state) error {
		j, l := s.Jumps[id], s.Labels[lid]
		if j == nil || l == nil {
			return fmt.Errorf("unknown jump j%d or label_%d", id, lid)
		}
		j.SetLabel(l)
		return nil
	}, nil
}

func parseJump(verb, tail string, fields []string) (func(*state) error, error) {
	// "jump.sig_less j0" is conditional, "jump.rewritable j0" is not.
	name := verb
	if verb != "fast_call" && tail != "" {
		first, _, _ := strings.Cut(tail, ".")
		if first != "rewritable" && first != "return" {
			name = tail
		}
	}
	kind, err := ParseCond(name)
	if err != nil {
		return nil, err
	}
	if err := want(fields, 1); err != nil {
		return nil, err
	}
	id, err := ref(fields[0], "j")
	if err != nil {
		return nil, err
	}
	return func(s *state) error {
		j := s.c.EmitJump(kind)
		if j == nil {
			return s.c.Err()
		}
		s.Jumps[id] = j
		return nil
	}, nil
}

func parseCall(verb string, fields []string) (func(*state) error, error) {
	kind, err := ParseCond(verb)
	if err != nil {
		return nil, err
	}
	if err := want(fields, 2); err != nil {
		return nil, err
	}
	id, err := ref(fields[0], "j")
	if err != nil {
		return nil, err
	}
	args, err := lir.ParseArgs(fields[1])
	if err != nil {
		return nil, err
	}
	return func(s *state) error {
		j := s.c.EmitCall(kind, args)
		if j == nil {
			return s.c.Err()
		}
		s.Jumps[id] = j
		return nil
	}, nil
}

func parseCmp(head, tail string, fields []string) (func(*state) error, error) {
	kind, err := ParseCond(tail)
	if err != nil {
		return nil, err
	}
	if err := want(fields, 3); err != nil {
		return nil, err
	}
	id, err := ref(fields[0], "j")
	if err != nil {
		return nil, err
	}
	ops, err := operands(fields[1:], 2)
	if err != nil {
		return nil, err
	}
	emit := (*lir.Compiler).EmitCmp
	if head == "fcmp" {
		emit = (*lir.Compiler).EmitFCmp
	}
	return func(s *state) error {
		j := emit(s.c, kind, ops[0], ops[1])
		if j == nil {
			return s.c.Err()
		}
		s.Jumps[id] = j
		return nil
	}, nil
}

func parseMemAccess(head, tail string, fields []string) (func(*state) error, error) {
	parts := strings.Split(tail, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%s: missing direction", head)
	}
	op, ok := lir.LookupOp(parts[0])
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", parts[0])
	}
	var flags lir.MemFlags
	switch parts[1] {
	case "load":
	case "store":
		flags |= lir.MemStore
	default:
		return nil, fmt.Errorf("%s: unknown direction %q", head, parts[1])
	}
	for _, p := range parts[2:] {
		switch p {
		case "pre":
			flags |= lir.MemPre
		case "post":
			flags |= lir.MemPost
		case "supp":
			flags |= lir.MemSupp
		default:
			return nil, fmt.Errorf("%s: unknown flag %q", head, p)
		}
	}
	ops, err := operands(fields, 2)
	if err != nil {
		return nil, err
	}
	emit := (*lir.Compiler).EmitMem
	if head == "fmem" {
		emit = (*lir.Compiler).EmitFMem
	}
	return func(s *state) error {
		err := emit(s.c, op, flags, ops[0], ops[1])
		if flags&lir.MemSupp != 0 && errors.Is(err, lir.ErrUnsupported) {
			return nil
		}
		return err
	}, nil
}

// parseGeneric handles the operations printed under their own mnemonic.
// The operand count picks between EmitOp2 and EmitOp2u.
func parseGeneric(verb string, fields []string) (func(*state) error, error) {
	op, err := parseOp(verb)
	if err != nil {
		return nil, err
	}
	ops, err := operands(fields, len(fields))
	if err != nil {
		return nil, err
	}
	b, n := op.Base(), len(ops)
	switch {
	case b <= lir.OpSkipFramesBeforeReturn && n == 0:
		return func(s *state) error { return s.c.EmitOp0(op) }, nil
	case b >= lir.OpMov && b <= lir.OpClz && n == 2:
		return func(s *state) error { return s.c.EmitOp1(op, ops[0], ops[1]) }, nil
	case b >= lir.OpAdd && b <= lir.OpAshr && n == 3:
		return func(s *state) error { return s.c.EmitOp2(op, ops[0], ops[1], ops[2]) }, nil
	case b >= lir.OpAdd && b <= lir.OpAshr && n == 2:
		return func(s *state) error { return s.c.EmitOp2u(op, ops[0], ops[1]) }, nil
	case b >= lir.OpFastReturn && b <= lir.OpPrefetchOnce && n == 1:
		return func(s *state) error { return s.c.EmitOpSrc(op, ops[0]) }, nil
	case b >= lir.OpMovF64 && b <= lir.OpAbsF64 && n == 2:
		return func(s *state) error { return s.c.EmitFOp1(op, ops[0], ops[1]) }, nil
	case b >= lir.OpAddF64 && b <= lir.OpDivF64 && n == 3:
		return func(s *state) error { return s.c.EmitFOp2(op, ops[0], ops[1], ops[2]) }, nil
	}
	return nil, fmt.Errorf("%s does not take %d operands", verb, n)
}

// parseOp reads an Op.String spelling such as "add32.z.carry".
func parseOp(s string) (lir.Op, error) {
	parts := strings.Split(s, ".")
	op, ok := lir.LookupOp(parts[0])
	if !ok {
		return 0, fmt.Errorf("unknown operation %q", parts[0])
	}
	for _, p := range parts[1:] {
		if p == "z" {
			op |= lir.SetZ
			continue
		}
		c, ok := lir.LookupCond(p)
		if !ok {
			return 0, fmt.Errorf("unknown flag %q in %q", p, s)
		}
		op |= lir.Set(c)
	}
	return op, nil
}

// ParseCond reads a Cond.String spelling such as "sig_less32.rewritable".
func ParseCond(s string) (lir.Cond, error) {
	parts := strings.Split(s, ".")
	name := parts[0]
	var c lir.Cond
	if base, ok := strings.CutSuffix(name, "32"); ok {
		name = base
		c |= lir.Cond32
	}
	t, ok := lir.LookupCond(name)
	if !ok {
		return 0, fmt.Errorf("unknown condition %q", s)
	}
	c |= t
	for _, p := range parts[1:] {
		switch p {
		case "rewritable":
			c |= lir.RewritableJump
		case "return":
			c |= lir.CallReturn
		default:
			return 0, fmt.Errorf("unknown condition suffix %q in %q", p, s)
		}
	}
	return c, nil
}

func ref(s, prefix string) (int, error) {
	v, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return 0, fmt.Errorf("expected %s<n>, got %q", prefix, s)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad reference %q", s)
	}
	return n, nil
}

func want(fields []string, n int) error {
	if len(fields) != n {
		return fmt.Errorf("want %d operands, got %d", n, len(fields))
	}
	return nil
}

func operands(fields []string, n int) ([]lir.Operand, error) {
	if err := want(fields, n); err != nil {
		return nil, err
	}
	ops := make([]lir.Operand, n)
	for i, f := range fields {
		o, err := ParseOperand(f)
		if err != nil {
			return nil, err
		}
		ops[i] = o
	}
	return ops, nil
}
