package lir

// Label is a position in the code. Its address is known after
// GenerateCode.
type Label struct {
	c    *Compiler
	id   int
	off  int
	addr uintptr
}

// ID is the label's sequence number within its session.
func (l *Label) ID() int {
	if l == nil {
		return -1
	}
	return l.id
}

// Addr is the executable address of the label. It is zero before
// GenerateCode.
func (l *Label) Addr() uintptr {
	if l == nil {
		return 0
	}
	return l.addr
}

// Offset is the distance of the label from the start of the code. Before
// GenerateCode it is the offset in the unlinked buffer.
func (l *Label) Offset() int {
	if l == nil {
		return -1
	}
	if l.addr != 0 {
		return int(l.addr - l.c.entry)
	}
	return l.off
}

type formKind uint8

const (
	formCond formKind = iota
	formJump
	formCall
)

type twinKind uint8

const (
	twinNone twinKind = iota
	// twinAnd jumps when both conditions hold.
	twinAnd
	// twinOr jumps when either condition holds.
	twinOr
)

// jumpForm is the backend's description of a reserved branch slot.
type jumpForm struct {
	kind formKind
	// cc is the native condition (x86 cc, arm64 cond or RISC-V funct3).
	cc uint8
	// cc2 is the second condition of a twin float branch.
	cc2  uint8
	twin twinKind
	// rs1 and rs2 are the compared registers of a RISC-V branch or the
	// tested register of an arm64 cbz.
	rs1, rs2 uint8
	cbz      bool
	cbz64    bool
}

// Jump is a branch or call whose target is resolved at link time.
type Jump struct {
	c    *Compiler
	id   int
	kind Cond
	form jumpForm

	off  int
	max  int
	size int

	label     *Label
	target    uintptr
	hasTarget bool

	addr uintptr
}

// ID is the jump's sequence number within its session.
func (j *Jump) ID() int {
	if j == nil {
		return -1
	}
	return j.id
}

// SetLabel points the jump at a label of the same session.
func (j *Jump) SetLabel(l *Label) {
	if j == nil || j.c.err != nil {
		return
	}
	if l == nil || l.c != j.c {
		j.c.fail(errorf(ErrBadArgument, "jump j%d: label from another session", j.id))
		return
	}
	j.label = l
	j.hasTarget = false
	j.c.trace("  j%d -> label_%d", j.id, l.id)
}

// SetTarget points the jump at an absolute address.
func (j *Jump) SetTarget(addr uintptr) {
	if j == nil || j.c.err != nil {
		return
	}
	j.label = nil
	j.target = addr
	j.hasTarget = true
	j.c.trace("  j%d -> %#x", j.id, addr)
}

// Rewritable reports whether SetJumpAddr may retarget the jump.
func (j *Jump) Rewritable() bool { return j != nil && j.kind&RewritableJump != 0 }

// Addr is the executable address of the jump's encoding, the address
// SetJumpAddr expects. It is zero before GenerateCode.
func (j *Jump) Addr() uintptr {
	if j == nil {
		return 0
	}
	return j.addr
}

// Size is the final size of the jump's encoding in bytes.
func (j *Jump) Size() int {
	if j == nil {
		return 0
	}
	return j.size
}

func (j *Jump) fixed() bool {
	return j.hasTarget || j.kind&RewritableJump != 0
}

// Const is a full-width immediate load whose value can be rewritten in
// live code.
type Const struct {
	c    *Compiler
	id   int
	off  int
	init int64
	addr uintptr
}

// Addr is the executable address of the load sequence, the address
// SetConst expects.
func (k *Const) Addr() uintptr {
	if k == nil {
		return 0
	}
	return k.addr
}

// PutLabel loads the address of a label, resolved at link time.
type PutLabel struct {
	c     *Compiler
	id    int
	off   int
	label *Label
	addr  uintptr
}

// SetLabel selects the label whose address is loaded.
func (p *PutLabel) SetLabel(l *Label) {
	if p == nil || p.c.err != nil {
		return
	}
	if l == nil || l.c != p.c {
		p.c.fail(errorf(ErrBadArgument, "put_label %d: label from another session", p.id))
		return
	}
	p.label = l
	p.c.trace("  p%d -> label_%d", p.id, l.id)
}

// Addr is the executable address of the load sequence.
func (p *PutLabel) Addr() uintptr {
	if p == nil {
		return 0
	}
	return p.addr
}
