// Package shadow implements values that carry per-bit initialization
// state alongside their data bits. Every byte the CPU moves, and every
// byte the MMU stores, travels with a shadow mask: bit i of the mask is
// set iff bit i of the value has been initialized.
package shadow

// Value is an 8, 16 or 32 bit integer with a per-bit initialization mask.
type Value struct {
	V    uint32
	M    uint32
	Bits uint
}

func mask(bits uint) uint32 {
	return ^uint32(0) >> (32 - bits)
}

func Init8(v uint8) Value   { return Value{V: uint32(v), M: mask(8), Bits: 8} }
func Init16(v uint16) Value { return Value{V: uint32(v), M: mask(16), Bits: 16} }
func Init32(v uint32) Value { return Value{V: v, M: mask(32), Bits: 32} }

func Uninit8() Value  { return Value{Bits: 8} }
func Uninit16() Value { return Value{Bits: 16} }
func Uninit32() Value { return Value{Bits: 32} }

// Raw builds a value with an explicit mask, truncated to width.
func Raw(v, m uint32, bits uint) Value {
	return Value{V: v & mask(bits), M: m & mask(bits), Bits: bits}
}

// IsUninitialized reports whether any bit of the value is uninitialized.
func (a Value) IsUninitialized() bool {
	return a.M&mask(a.Bits) != mask(a.Bits)
}

func (a Value) U8() uint8   { return uint8(a.V) }
func (a Value) U16() uint16 { return uint16(a.V) }
func (a Value) U32() uint32 { return a.V }

// Signed returns the value sign-extended to a host int32.
func (a Value) Signed() int32 {
	sh := 32 - a.Bits
	return int32(a.V<<sh) >> sh
}

// arith collapses shadow state for non-bitwise operations: the result is
// fully initialized only if both inputs were.
func arith(v uint32, a, b Value, bits uint) Value {
	if a.IsUninitialized() || b.IsUninitialized() {
		return Value{V: v & mask(bits), Bits: bits}
	}
	return Value{V: v & mask(bits), M: mask(bits), Bits: bits}
}

func (a Value) Add(b Value) Value { return arith(a.V+b.V, a, b, a.Bits) }
func (a Value) Sub(b Value) Value { return arith(a.V-b.V, a, b, a.Bits) }
func (a Value) Mul(b Value) Value { return arith(a.V*b.V, a, b, a.Bits) }

func (a Value) Div(b Value) Value {
	var q uint32
	if b.V != 0 {
		q = a.V / b.V
	}
	return arith(q, a, b, a.Bits)
}

func (a Value) Neg() Value {
	return arith(-a.V, a, a, a.Bits)
}

// Not is bitwise: each result bit is exactly as initialized as its input.
func (a Value) Not() Value {
	return Value{V: ^a.V & mask(a.Bits), M: a.M, Bits: a.Bits}
}

// Bitwise combinators define a result bit only when both operand bits
// are defined.
func (a Value) And(b Value) Value {
	return Value{V: a.V & b.V, M: a.M & b.M, Bits: a.Bits}
}

func (a Value) Or(b Value) Value {
	return Value{V: (a.V | b.V) & mask(a.Bits), M: a.M & b.M, Bits: a.Bits}
}

func (a Value) Xor(b Value) Value {
	return Value{V: (a.V ^ b.V) & mask(a.Bits), M: a.M & b.M, Bits: a.Bits}
}

func (a Value) Shl(n uint32) Value {
	n &= 31
	return arith(a.V<<n, a, a, a.Bits)
}

func (a Value) Shr(n uint32) Value {
	n &= 31
	return arith((a.V&mask(a.Bits))>>n, a, a, a.Bits)
}

func (a Value) Sar(n uint32) Value {
	n &= 31
	return arith(uint32(a.Signed()>>n), a, a, a.Bits)
}

// ZeroExtTo widens the value; the fresh high bits take the definedness
// of the top source bit.
func (a Value) ZeroExtTo(bits uint) Value {
	v := a.V & mask(a.Bits)
	m := a.M & mask(a.Bits)
	if a.M&(1<<(a.Bits-1)) != 0 {
		m |= mask(bits) &^ mask(a.Bits)
	}
	return Value{V: v, M: m, Bits: bits}
}

// SignExtTo widens the value arithmetically with the same high-bit rule.
func (a Value) SignExtTo(bits uint) Value {
	v := uint32(a.Signed()) & mask(bits)
	m := a.M & mask(a.Bits)
	if a.M&(1<<(a.Bits-1)) != 0 {
		m |= mask(bits) &^ mask(a.Bits)
	}
	return Value{V: v, M: m, Bits: bits}
}

// TruncTo narrows the value, slicing both data and shadow.
func (a Value) TruncTo(bits uint) Value {
	return Value{V: a.V & mask(bits), M: a.M & mask(bits), Bits: bits}
}
