package lirtext

import (
	"context"
	"fmt"

	"github.com/tinyrange/lirjit/lir"
)

// Session maps the handle numbers printed in a listing to the handles
// created by Replay.
type Session struct {
	Labels    map[int]*lir.Label
	Jumps     map[int]*lir.Jump
	Consts    map[int]*lir.Const
	PutLabels map[int]*lir.PutLabel
}

type state struct {
	*Session
	c *lir.Compiler
}

// Replay records every statement of p into c. The first failing
// statement stops the replay; its line is part of the error.
func (p *Program) Replay(c *lir.Compiler) (*Session, error) {
	s := &state{
		Session: &Session{
			Labels:    map[int]*lir.Label{},
			Jumps:     map[int]*lir.Jump{},
			Consts:    map[int]*lir.Const{},
			PutLabels: map[int]*lir.PutLabel{},
		},
		c: c,
	}
	for _, st := range p.Stmts {
		if err := st.run(s); err != nil {
			return s.Session, fmt.Errorf("line %d: %s: %w", st.Line, st.Text, err)
		}
	}
	return s.Session, nil
}

// Assemble parses src, replays it into a new session for arch and
// generates the code. The compiler is freed before returning.
func Assemble(ctx context.Context, arch lir.Arch, opts lir.Options, src []byte) (*lir.Code, *Session, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, nil, err
	}
	c, err := lir.NewCompiler(arch, opts)
	if err != nil {
		return nil, nil, err
	}
	defer c.Free()
	sess, err := prog.Replay(c)
	if err != nil {
		return nil, sess, err
	}
	code, err := c.GenerateCode(ctx)
	if err != nil {
		return nil, sess, err
	}
	return code, sess, nil
}
