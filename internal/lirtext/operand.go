package lirtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinyrange/lirjit/lir"
)

// ParseOperand reads an Operand.String spelling: "#-5", "r0", "fs1",
// "sp", "[0x1000]", "[s0 + 8]", "[r1 + r2 << 3]".
func ParseOperand(s string) (lir.Operand, error) {
	if v, ok := strings.CutPrefix(s, "#"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return lir.Operand{}, fmt.Errorf("immediate %q: %w", s, err)
		}
		return lir.Imm(n), nil
	}
	if inner, ok := strings.CutPrefix(s, "["); ok {
		inner, ok = strings.CutSuffix(inner, "]")
		if !ok {
			return lir.Operand{}, fmt.Errorf("unterminated memory operand %q", s)
		}
		return parseMem(inner)
	}
	return parseReg(s, true)
}

func parseReg(s string, allowFloat bool) (lir.Operand, error) {
	if s == "sp" {
		return lir.SP, nil
	}
	name := s
	float := false
	if rest, ok := strings.CutPrefix(name, "f"); ok && allowFloat {
		name, float = rest, true
	}
	if len(name) < 2 {
		return lir.Operand{}, fmt.Errorf("unknown operand %q", s)
	}
	i, err := strconv.Atoi(name[1:])
	if err != nil || i < 0 {
		return lir.Operand{}, fmt.Errorf("unknown operand %q", s)
	}
	switch {
	case name[0] == 'r' && float:
		return lir.FR(i), nil
	case name[0] == 's' && float:
		return lir.FS(i), nil
	case name[0] == 'r':
		return lir.R(i), nil
	case name[0] == 's':
		return lir.S(i), nil
	}
	return lir.Operand{}, fmt.Errorf("unknown operand %q", s)
}

func parseMem(inner string) (lir.Operand, error) {
	f := strings.Fields(inner)
	if len(f) == 1 && strings.HasPrefix(f[0], "0x") {
		addr, err := strconv.ParseUint(f[0], 0, 64)
		if err != nil {
			return lir.Operand{}, fmt.Errorf("absolute address %q: %w", f[0], err)
		}
		return lir.Mem0(uintptr(addr)), nil
	}
	if len(f) == 0 {
		return lir.Operand{}, fmt.Errorf("empty memory operand")
	}
	base, err := parseReg(f[0], false)
	if err != nil {
		return lir.Operand{}, err
	}
	switch {
	case len(f) == 1:
		return lir.Mem1(base, 0), nil
	case len(f) == 3 && (f[1] == "+" || f[1] == "-"):
		if d, err := strconv.ParseInt(f[2], 10, 64); err == nil {
			if f[1] == "-" {
				d = -d
			}
			return lir.Mem1(base, d), nil
		}
		if f[1] == "-" {
			return lir.Operand{}, fmt.Errorf("cannot subtract register in [%s]", inner)
		}
		index, err := parseReg(f[2], false)
		if err != nil {
			return lir.Operand{}, err
		}
		return lir.Mem2(base, index, 0), nil
	case len(f) == 5 && f[1] == "+" && f[3] == "<<":
		index, err := parseReg(f[2], false)
		if err != nil {
			return lir.Operand{}, err
		}
		shift, err := strconv.Atoi(f[4])
		if err != nil {
			return lir.Operand{}, fmt.Errorf("shift in [%s]: %w", inner, err)
		}
		return lir.Mem2(base, index, shift), nil
	}
	return lir.Operand{}, fmt.Errorf("malformed memory operand [%s]", inner)
}
