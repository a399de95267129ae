package arm64

import "testing"

func must(t *testing.T) func(uint32, error) uint32 {
	return func(w uint32, err error) uint32 {
		t.Helper()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return w
	}
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		got  func(t *testing.T) uint32
		want uint32
	}{
		{"add x0, x1, x2", func(t *testing.T) uint32 { return AddSubReg(true, false, false, X0, X1, X2, LSL, 0) }, 0x8B020020},
		{"subs xzr, x1, x2", func(t *testing.T) uint32 { return AddSubReg(true, true, true, XZR, X1, X2, LSL, 0) }, 0xEB02003F},
		{"add x0, x1, #1", func(t *testing.T) uint32 {
			return must(t)(AddSubImm(true, false, false, X0, X1, 1, false))
		}, 0x91000420},
		{"mov x0, x1", func(t *testing.T) uint32 { return MovReg(true, X0, X1) }, 0xAA0103E0},
		{"mov sp, x16", func(t *testing.T) uint32 { return MovSP(SP, X16) }, 0x9100021F},
		{"movz x0, #1", func(t *testing.T) uint32 { return Movw(MOVZ, true, X0, 1, 0) }, 0xD2800020},
		{"movk x0, #1, lsl 16", func(t *testing.T) uint32 { return Movw(MOVK, true, X0, 1, 1) }, 0xF2A00020},
		{"movn x0, #0", func(t *testing.T) uint32 { return Movw(MOVN, true, X0, 0, 0) }, 0x92800000},
		{"lsl x0, x1, #3", func(t *testing.T) uint32 { return LslImm(true, X0, X1, 3) }, 0xD37DF020},
		{"udiv x0, x1, x2", func(t *testing.T) uint32 { return Reg2(UDIV, true, X0, X1, X2) }, 0x9AC20820},
		{"mul x0, x1, x2", func(t *testing.T) uint32 { return Mul(true, X0, X1, X2) }, 0x9B027C20},
		{"smulh x0, x1, x2", func(t *testing.T) uint32 { return Smulh(X0, X1, X2) }, 0x9B427C20},
		{"umulh x0, x1, x2", func(t *testing.T) uint32 { return Umulh(X0, X1, X2) }, 0x9BC27C20},
		{"clz x0, x1", func(t *testing.T) uint32 { return Clz(true, X0, X1) }, 0xDAC01020},
		{"cset x0, eq", func(t *testing.T) uint32 { return Cset(true, X0, EQ) }, 0x9A9F17E0},
		{"ldr x0, [x1, #8]", func(t *testing.T) uint32 { return must(t)(LoadStore(LDRX, X0, X1, 8)) }, 0xF9400420},
		{"ldur x0, [x1, #-8]", func(t *testing.T) uint32 { return must(t)(LoadStoreUnscaled(LDRX, X0, X1, -8)) }, 0xF85F8020},
		{"ldr x0, [x1, x2, lsl #3]", func(t *testing.T) uint32 { return must(t)(LoadStoreReg(LDRX, X0, X1, X2, 3)) }, 0xF8627820},
		{"stp x29, x30, [sp, #-16]!", func(t *testing.T) uint32 {
			return must(t)(Pair(STPX, PairPre, FP, LR, SP, -16))
		}, 0xA9BF7BFD},
		{"ldp x29, x30, [sp], #16", func(t *testing.T) uint32 {
			return must(t)(Pair(LDPX, PairPost, FP, LR, SP, 16))
		}, 0xA8C17BFD},
		{"fadd d0, d1, d2", func(t *testing.T) uint32 { return FArith(FADD, true, 0, 1, 2) }, 0x1E622820},
		{"fcmp d0, d1", func(t *testing.T) uint32 { return Fcmp(true, 0, 1) }, 0x1E612000},
		{"fmov d0, d1", func(t *testing.T) uint32 { return FUnary(FMOV, true, 0, 1) }, 0x1E604020},
		{"scvtf d0, x1", func(t *testing.T) uint32 { return Scvtf(true, true, 0, X1) }, 0x9E620020},
		{"fcvtzs x0, d1", func(t *testing.T) uint32 { return Fcvtzs(true, true, X0, 1) }, 0x9E780020},
		{"fcvt d0, s1", func(t *testing.T) uint32 { return Fcvt(true, 0, 1) }, 0x1E22C020},
		{"fcvt s0, d1", func(t *testing.T) uint32 { return Fcvt(false, 0, 1) }, 0x1E624020},
		{"ldr d0, [x1]", func(t *testing.T) uint32 { return must(t)(LoadStore(LDRD, 0, X1, 0)) }, 0xFD400020},
		{"prfm pldl1keep, [x0]", func(t *testing.T) uint32 { return must(t)(LoadStore(PRFM, PLDL1KEEP, X0, 0)) }, 0xF9800000},
		{"b.ne +8", func(t *testing.T) uint32 { return must(t)(BCond(NE, 8)) }, 0x54000041},
		{"b -4", func(t *testing.T) uint32 { return must(t)(B(-4)) }, 0x17FFFFFF},
		{"ret", func(t *testing.T) uint32 { return Ret(LR) }, 0xD65F03C0},
		{"brk #0", func(t *testing.T) uint32 { return Brk(0) }, 0xD4200000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(t); got != tt.want {
				t.Fatalf("encoding=%#08x, want %#08x", got, tt.want)
			}
		})
	}
}

func TestEncodeBitmask(t *testing.T) {
	tests := []struct {
		value         uint64
		is64          bool
		n, immr, imms uint32
		ok            bool
	}{
		{0xFF, true, 1, 0, 7, true},
		{0xFFFFFFFF00000000, true, 1, 32, 31, true},
		{0x5555555555555555, true, 0, 0, 0x3C, true},
		{0x0F0F0F0F, false, 0, 0, 0x33, true},
		{0x1234, true, 0, 0, 0, false},
		{0, true, 0, 0, 0, false},
		{^uint64(0), true, 0, 0, 0, false},
	}
	for _, tt := range tests {
		n, immr, imms, ok := EncodeBitmask(tt.value, tt.is64)
		if ok != tt.ok {
			t.Fatalf("EncodeBitmask(%#x) ok=%v, want %v", tt.value, ok, tt.ok)
		}
		if ok && (n != tt.n || immr != tt.immr || imms != tt.imms) {
			t.Fatalf("EncodeBitmask(%#x)=(%d,%d,%#x), want (%d,%d,%#x)", tt.value, n, immr, imms, tt.n, tt.immr, tt.imms)
		}
	}
}

func TestLoadImmShortestForm(t *testing.T) {
	tests := []struct {
		value uint64
		words int
	}{
		{0, 1},
		{0x1234, 1},
		{0xFFFFFFFFFFFFFFFE, 1},
		{0x12345678, 2},
		{0x123456789ABCDEF0, 4},
		{0xFFFF0000FFFF, 1},
	}
	for _, tt := range tests {
		if got := LoadImm(true, X3, tt.value); len(got) != tt.words {
			t.Errorf("LoadImm(%#x) used %d words, want %d", tt.value, len(got), tt.words)
		}
	}
}

func TestLoadImmFixedRoundTrip(t *testing.T) {
	const v = 0xDEADBEEFCAFEF00D
	reg, got := DecodeImmFixed(LoadImmFixed(X16, v))
	if reg != X16 || got != v {
		t.Fatalf("decoded (%s, %#x), want (x16, %#x)", reg, got, uint64(v))
	}
}

func TestRetarget(t *testing.T) {
	b := must(t)(BCond(EQ, 0))
	w, err := Retarget(b, -64)
	if err != nil {
		t.Fatalf("retarget: %v", err)
	}
	if want := must(t)(BCond(EQ, -64)); w != want {
		t.Fatalf("retarget=%#08x, want %#08x", w, want)
	}
	if _, err := Retarget(Nop(), 8); err == nil {
		t.Fatalf("expected error retargeting a nop")
	}
	if _, err := BCond(EQ, 1<<21); err == nil {
		t.Fatalf("expected range error for b.cond")
	}
}
