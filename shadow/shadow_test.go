package shadow

import "testing"

func TestInitAndTrunc(t *testing.T) {
	v := Init32(0xdeadbeef)
	if v.IsUninitialized() {
		t.Fatal("Init32 should be fully initialized")
	}
	b := v.TruncTo(8)
	if b.U8() != 0xef || b.IsUninitialized() {
		t.Fatalf("TruncTo(8) = %#x, uninit=%v", b.U8(), b.IsUninitialized())
	}
	if u := Uninit32(); !u.IsUninitialized() {
		t.Fatal("Uninit32 should be uninitialized")
	}
}

func TestArithTaintsWholeResult(t *testing.T) {
	undef := Uninit32()
	def := Init32(1)
	if r := undef.Add(def); !r.IsUninitialized() || r.M != 0 {
		t.Fatalf("add(undef, def) mask = %#x, want 0", r.M)
	}
	if r := def.Add(def); r.IsUninitialized() || r.U32() != 2 {
		t.Fatalf("add(def, def) = %#x mask %#x", r.U32(), r.M)
	}
	// a single uninitialized bit taints every output byte
	partial := Raw(0x10, 0xfffffffe, 32)
	if r := partial.Sub(def); !r.IsUninitialized() || r.M != 0 {
		t.Fatalf("sub with partial input mask = %#x, want 0", r.M)
	}
}

func TestBitwiseIsPerBit(t *testing.T) {
	a := Raw(0xff, 0x0f, 8)
	b := Init8(0xf0)
	r := a.Xor(b)
	if r.M != 0x0f {
		t.Fatalf("xor mask = %#x, want 0x0f", r.M)
	}
	// xor(x, x) with defined x gives a defined zero
	x := Init32(0x12345678)
	r = x.Xor(x)
	if r.U32() != 0 || r.IsUninitialized() {
		t.Fatalf("xor(x, x) = %#x uninit=%v", r.U32(), r.IsUninitialized())
	}
}

func TestExtension(t *testing.T) {
	// top bit defined: new high bits defined
	v := Init8(0x80).SignExtTo(32)
	if v.U32() != 0xffffff80 || v.IsUninitialized() {
		t.Fatalf("sign extend = %#x uninit=%v", v.U32(), v.IsUninitialized())
	}
	// top bit undefined: new high bits undefined
	u := Raw(0x80, 0x7f, 8).ZeroExtTo(32)
	if u.M&0xffffff00 != 0 {
		t.Fatalf("zero extend of undef top bit leaked mask %#x", u.M)
	}
}

func TestSigned(t *testing.T) {
	if v := Init8(0xfe).Signed(); v != -2 {
		t.Fatalf("Signed() = %d, want -2", v)
	}
	if v := Init16(0x7fff).Signed(); v != 32767 {
		t.Fatalf("Signed() = %d, want 32767", v)
	}
}
