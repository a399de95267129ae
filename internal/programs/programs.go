// Package programs holds small LIR functions used by the lirjit command
// and by the native execution tests.
package programs

import (
	"fmt"
	"math"
	"sort"

	"github.com/tinyrange/lirjit/lir"
)

// Handles are the patchable parts of a built program.
type Handles struct {
	// Jump is the rewritable jump of "select".
	Jump *lir.Jump
	// Alt is the label "select" can be retargeted to.
	Alt *lir.Label
	// Const is the patchable constant of "const".
	Const *lir.Const
}

// Sample is one call of a program and its expected word result.
type Sample struct {
	Args   []uintptr
	Floats []float64
	Want   uintptr
}

// Program records one function into a session.
type Program struct {
	Name    string
	Summary string
	Build   func(c *lir.Compiler) (*Handles, error)
	Samples []Sample
}

// Word converts a signed value to a call argument.
func Word(v int64) uintptr { return uintptr(v) }

var registry = map[string]*Program{}

func register(p *Program) { registry[p.Name] = p }

// Lookup returns the program called name.
func Lookup(name string) (*Program, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown program %q", name)
	}
	return p, nil
}

// All returns every program sorted by name.
func All() []*Program {
	out := make([]*Program, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// errs stops at the first failing emit.
type errs struct {
	c   *lir.Compiler
	err error
}

func (e *errs) do(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *errs) jump(j *lir.Jump) *lir.Jump {
	if j == nil && e.err == nil {
		e.err = e.c.Err()
	}
	return j
}

func (e *errs) label() *lir.Label {
	l := e.c.EmitLabel()
	if l == nil && e.err == nil {
		e.err = e.c.Err()
	}
	return l
}

func init() {
	register(&Program{
		Name:    "sum",
		Summary: "w(w,w): returns a + b",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgW, lir.ArgW), 1, 2, 0, 0, 0))
			e.do(c.EmitOp1(lir.OpMov, lir.R(0), lir.S(0)))
			e.do(c.EmitOp2(lir.OpAdd, lir.R(0), lir.R(0), lir.S(1)))
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			return &Handles{}, e.err
		},
		Samples: []Sample{
			{Args: []uintptr{7, 35}, Want: 42},
			{Args: []uintptr{Word(-1), 1}, Want: 0},
		},
	})

	register(&Program{
		Name:    "abs",
		Summary: "w(w): absolute value through a forward branch",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgW), 1, 1, 0, 0, 0))
			neg := e.jump(c.EmitCmp(lir.SigLess, lir.S(0), lir.Imm(0)))
			e.do(c.EmitOp1(lir.OpMov, lir.R(0), lir.S(0)))
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			l := e.label()
			if neg != nil {
				neg.SetLabel(l)
			}
			e.do(c.EmitOp2(lir.OpSub, lir.R(0), lir.Imm(0), lir.S(0)))
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			return &Handles{}, e.err
		},
		Samples: []Sample{
			{Args: []uintptr{Word(-5)}, Want: 5},
			{Args: []uintptr{0}, Want: 0},
			{Args: []uintptr{5}, Want: 5},
		},
	})

	register(&Program{
		Name:    "loop",
		Summary: "w(w): n + (n-1) + ... + 1 with a backward branch",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgW), 1, 1, 0, 0, 0))
			e.do(c.EmitOp1(lir.OpMov, lir.R(0), lir.Imm(0)))
			top := e.label()
			e.do(c.EmitOp2(lir.OpAdd, lir.R(0), lir.R(0), lir.S(0)))
			e.do(c.EmitOp2(lir.OpSub|lir.SetZ, lir.S(0), lir.S(0), lir.Imm(1)))
			if j := e.jump(c.EmitJump(lir.NotZero)); j != nil {
				j.SetLabel(top)
			}
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			return &Handles{}, e.err
		},
		Samples: []Sample{
			{Args: []uintptr{10}, Want: 55},
			{Args: []uintptr{1}, Want: 1},
		},
	})

	register(&Program{
		Name:    "is_zero",
		Summary: "w(w): 1 when n is 0, with moves between the flag setter and the branch",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgW), 2, 1, 0, 0, 0))
			e.do(c.EmitOp2(lir.OpSub|lir.SetZ, lir.R(0), lir.S(0), lir.Imm(0)))
			e.do(c.EmitOp1(lir.OpMov, lir.R(1), lir.Imm(1)))
			e.do(c.EmitOp1(lir.OpMovU8, lir.R(0), lir.R(1)))
			zero := e.jump(c.EmitJump(lir.Equal))
			e.do(c.EmitReturn(lir.OpMov, lir.Imm(0)))
			l := e.label()
			if zero != nil {
				zero.SetLabel(l)
			}
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			return &Handles{}, e.err
		},
		Samples: []Sample{
			{Args: []uintptr{0}, Want: 1},
			{Args: []uintptr{7}, Want: 0},
			{Args: []uintptr{Word(-1)}, Want: 0},
		},
	})

	register(&Program{
		Name:    "select",
		Summary: "w(): returns 1, or 2 once the rewritable jump is moved to Alt",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW), 1, 0, 0, 0, 0))
			j := e.jump(c.EmitJump(lir.JumpAlways | lir.RewritableJump))
			a := e.label()
			e.do(c.EmitReturn(lir.OpMov, lir.Imm(1)))
			b := e.label()
			e.do(c.EmitReturn(lir.OpMov, lir.Imm(2)))
			if j != nil {
				j.SetLabel(a)
			}
			return &Handles{Jump: j, Alt: b}, e.err
		},
		Samples: []Sample{{Want: 1}},
	})

	register(&Program{
		Name:    "const",
		Summary: "w(): returns a patchable constant, initially 0",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW), 1, 0, 0, 0, 0))
			k := c.EmitConst(lir.R(0), 0)
			if k == nil {
				e.do(c.Err())
			}
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			return &Handles{Const: k}, e.err
		},
		Samples: []Sample{{Want: 0}},
	})

	register(&Program{
		Name:    "fless",
		Summary: "w(f64,f64): 1 when a < b",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgF64, lir.ArgF64), 1, 0, 2, 0, 0))
			taken := e.jump(c.EmitFCmp(lir.FLess, lir.FR(0), lir.FR(1)))
			e.do(c.EmitReturn(lir.OpMov, lir.Imm(0)))
			l := e.label()
			if taken != nil {
				taken.SetLabel(l)
			}
			e.do(c.EmitReturn(lir.OpMov, lir.Imm(1)))
			return &Handles{}, e.err
		},
		Samples: []Sample{
			{Floats: []float64{1, 2}, Want: 1},
			{Floats: []float64{2, 1}, Want: 0},
			{Floats: []float64{-math.MaxFloat64, 0}, Want: 1},
		},
	})

	register(&Program{
		Name:    "ordered_less",
		Summary: "w(f64,f64): 1 when a < b and neither is NaN",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgF64, lir.ArgF64), 1, 0, 2, 0, 0))
			e.do(c.EmitFOp1(lir.OpCmpF64|lir.Set(lir.OrderedLess), lir.FR(0), lir.FR(1)))
			e.do(c.EmitOpFlags(lir.OpMov, lir.R(0), lir.OrderedLess))
			e.do(c.EmitReturn(lir.OpMov, lir.R(0)))
			return &Handles{}, e.err
		},
		Samples: []Sample{
			{Floats: []float64{1, 2}, Want: 1},
			{Floats: []float64{math.NaN(), 1}, Want: 0},
			{Floats: []float64{1, math.NaN()}, Want: 0},
		},
	})

	register(&Program{
		Name:    "fill",
		Summary: "p(p,w): pushes n, n-1, ..., 1 below top and returns the new top",
		Build: func(c *lir.Compiler) (*Handles, error) {
			e := &errs{c: c}
			e.do(c.EmitEnter(0, lir.ArgsOf(lir.ArgP, lir.ArgP, lir.ArgW), 1, 2, 0, 0, 0))
			done := e.jump(c.EmitCmp(lir.Equal, lir.S(1), lir.Imm(0)))
			top := e.label()
			e.do(c.EmitMem(lir.OpMov, lir.MemStore|lir.MemPre, lir.S(1), lir.Mem1(lir.S(0), -8)))
			e.do(c.EmitOp2(lir.OpSub|lir.SetZ, lir.S(1), lir.S(1), lir.Imm(1)))
			if j := e.jump(c.EmitJump(lir.NotZero)); j != nil {
				j.SetLabel(top)
			}
			l := e.label()
			if done != nil {
				done.SetLabel(l)
			}
			e.do(c.EmitReturn(lir.OpMov, lir.S(0)))
			return &Handles{}, e.err
		},
	})
}

// Call runs s against code generated for the host.
func Call(code *lir.Code, s Sample) (uintptr, error) {
	if len(s.Floats) == 0 {
		return code.Call(s.Args...)
	}
	if len(s.Floats) != 2 || len(s.Args) != 0 {
		return 0, fmt.Errorf("samples take two floats and no words, got %d and %d", len(s.Floats), len(s.Args))
	}
	var f func(a, b float64) uintptr
	if err := code.Func(&f); err != nil {
		return 0, err
	}
	return f(s.Floats[0], s.Floats[1]), nil
}
