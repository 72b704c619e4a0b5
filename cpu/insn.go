package cpu

import (
	"fmt"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/codebutler/serenity/shadow"
)

// UnhandledOpcodeError is returned for opcodes outside the implemented
// subset; the emulator treats it as fatal.
type UnhandledOpcodeError struct {
	Addr uint32
	Op   []byte
}

func (e *UnhandledOpcodeError) Error() string {
	return fmt.Sprintf("unhandled opcode % x at %#08x", e.Op, e.Addr)
}

type Handler func(c *CPU, op byte) error

func (c *CPU) unhandled() error {
	return &UnhandledOpcodeError{Addr: c.baseEIP, Op: append([]byte(nil), c.raw...)}
}

var oneByte [256]Handler
var twoByte [256]Handler

// operand is a decoded ModRM r/m field: either a register or an
// effective address.
type operand struct {
	isReg bool
	reg   byte
	addr  uint32
}

func widthMask(bits uint) uint32 {
	return ^uint32(0) >> (32 - bits)
}

// width is the current operand size, honoring the 0x66 prefix.
func (c *CPU) width() uint {
	if c.opsize16 {
		return 16
	}
	return 32
}

// regEA reads a register for address computation, flagging taint.
func (c *CPU) regEA(reg byte, tainted *bool) uint32 {
	v := c.gpr[reg]
	if v.IsUninitialized() {
		*tainted = true
	}
	return v.U32()
}

func (c *CPU) fetchModRM() (mod, regop byte, rm operand, err error) {
	b, err := c.fetch8()
	if err != nil {
		return 0, 0, rm, err
	}
	mod = b >> 6
	regop = (b >> 3) & 7
	rmBits := b & 7
	if mod == 3 {
		return mod, regop, operand{isReg: true, reg: rmBits}, nil
	}

	var addr uint32
	tainted := false
	switch {
	case mod == 0 && rmBits == 5:
		addr, err = c.fetch32()
		if err != nil {
			return 0, 0, rm, err
		}
	case rmBits == 4:
		sib, err := c.fetch8()
		if err != nil {
			return 0, 0, rm, err
		}
		base := sib & 7
		index := (sib >> 3) & 7
		scale := sib >> 6
		if base == 5 && mod == 0 {
			addr, err = c.fetch32()
			if err != nil {
				return 0, 0, rm, err
			}
		} else {
			addr = c.regEA(base, &tainted)
		}
		if index != 4 {
			addr += c.regEA(index, &tainted) << scale
		}
	default:
		addr = c.regEA(rmBits, &tainted)
	}

	switch mod {
	case 1:
		d, err := c.fetch8()
		if err != nil {
			return 0, 0, rm, err
		}
		addr += uint32(int32(int8(d)))
	case 2:
		d, err := c.fetch32()
		if err != nil {
			return 0, 0, rm, err
		}
		addr += d
	}
	if tainted {
		c.env.ReportTaint("%#08x: memory address computed from uninitialized data", c.baseEIP)
	}
	return mod, regop, operand{addr: addr}, nil
}

func (c *CPU) readOp(op operand, bits uint) (shadow.Value, error) {
	if op.isReg {
		return c.readReg(op.reg, bits), nil
	}
	switch bits {
	case 8:
		return c.mem.Read8(op.addr)
	case 16:
		return c.mem.Read16(op.addr)
	}
	return c.mem.Read32(op.addr)
}

func (c *CPU) writeOp(op operand, v shadow.Value) error {
	if op.isReg {
		c.writeReg(op.reg, v)
		return nil
	}
	switch v.Bits {
	case 8:
		return c.mem.Write8(op.addr, v)
	case 16:
		return c.mem.Write16(op.addr, v)
	}
	return c.mem.Write32(op.addr, v)
}

func parityEven(b byte) bool {
	return bits.OnesCount8(b)%2 == 0
}

func (c *CPU) setPZS(res shadow.Value) {
	v := res.V & widthMask(res.Bits)
	c.zf = v == 0
	c.sf = v&(1<<(res.Bits-1)) != 0
	c.pf = parityEven(byte(v))
}

// ALU operation indices as encoded in opcodes 0x00-0x3f and group 1.
const (
	aluAdd = iota
	aluOr
	aluAdc
	aluSbb
	aluAnd
	aluSub
	aluXor
	aluCmp
)

var aluNames = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

// alu computes one arithmetic/logical operation, updating flags and
// recording whether they came from tainted inputs.
func (c *CPU) alu(idx byte, a, b shadow.Value) shadow.Value {
	w := a.Bits
	msk := uint64(widthMask(w))
	av, bv := uint64(a.V)&msk, uint64(b.V)&msk
	sign := uint64(1) << (w - 1)

	var res shadow.Value
	switch idx {
	case aluOr:
		res = a.Or(b)
		c.cf, c.of = false, false
	case aluAnd:
		res = a.And(b)
		c.cf, c.of = false, false
	case aluXor:
		res = a.Xor(b)
		c.cf, c.of = false, false
	case aluAdd, aluAdc:
		var ci uint64
		if idx == aluAdc && c.cf {
			ci = 1
		}
		wide := av + bv + ci
		res = shadow.Raw(uint32(wide), a.Add(b).M, w)
		c.cf = wide>>w != 0
		c.of = ^(av^bv)&(av^wide)&sign != 0
	default: // sub, sbb, cmp
		var ci uint64
		if idx == aluSbb && c.cf {
			ci = 1
		}
		wide := av - bv - ci
		res = shadow.Raw(uint32(wide), a.Sub(b).M, w)
		c.cf = av < bv+ci
		c.of = (av^bv)&(av^wide)&sign != 0
	}
	c.setPZS(res)
	c.flagsTainted = a.IsUninitialized() || b.IsUninitialized()
	return res
}

func aluHandler(c *CPU, op byte) error {
	idx := op >> 3
	form := op & 7
	c.mnem = aluNames[idx]
	w := c.width()
	if form == 0 || form == 2 || form == 4 {
		w = 8
	}
	switch form {
	case 0, 1: // r/m, r
		_, regop, rm, err := c.fetchModRM()
		if err != nil {
			return err
		}
		a, err := c.readOp(rm, w)
		if err != nil {
			return err
		}
		res := c.alu(idx, a, c.readReg(regop, w))
		if idx == aluCmp {
			return nil
		}
		return c.writeOp(rm, res)
	case 2, 3: // r, r/m
		_, regop, rm, err := c.fetchModRM()
		if err != nil {
			return err
		}
		b, err := c.readOp(rm, w)
		if err != nil {
			return err
		}
		res := c.alu(idx, c.readReg(regop, w), b)
		if idx != aluCmp {
			c.writeReg(regop, res)
		}
		return nil
	default: // accumulator, imm
		imm, err := c.fetchImm(w)
		if err != nil {
			return err
		}
		res := c.alu(idx, c.readReg(EAX, w), imm)
		if idx != aluCmp {
			c.writeReg(EAX, res)
		}
		return nil
	}
}

func (c *CPU) fetchImm(w uint) (shadow.Value, error) {
	switch w {
	case 8:
		b, err := c.fetch8()
		return shadow.Init8(b), err
	case 16:
		v, err := c.fetch16()
		return shadow.Init16(v), err
	}
	v, err := c.fetch32()
	return shadow.Init32(v), err
}

// group1: 0x80 rm8,imm8 / 0x81 rm,imm / 0x83 rm,imm8 sign-extended
func group1Handler(c *CPU, op byte) error {
	w := c.width()
	if op == 0x80 {
		w = 8
	}
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	c.mnem = aluNames[regop]
	var imm shadow.Value
	if op == 0x83 {
		b, err := c.fetch8()
		if err != nil {
			return err
		}
		imm = shadow.Init8(b).SignExtTo(w)
	} else {
		if imm, err = c.fetchImm(w); err != nil {
			return err
		}
	}
	a, err := c.readOp(rm, w)
	if err != nil {
		return err
	}
	res := c.alu(regop, a, imm)
	if regop == aluCmp {
		return nil
	}
	return c.writeOp(rm, res)
}

func testHandler(c *CPU, op byte) error {
	c.mnem = "test"
	w := c.width()
	if op == 0x84 || op == 0xa8 {
		w = 8
	}
	var a, b shadow.Value
	var err error
	switch op {
	case 0x84, 0x85:
		var regop byte
		var rm operand
		if _, regop, rm, err = c.fetchModRM(); err != nil {
			return err
		}
		if a, err = c.readOp(rm, w); err != nil {
			return err
		}
		b = c.readReg(regop, w)
	default: // 0xa8, 0xa9: accumulator, imm
		a = c.readReg(EAX, w)
		if b, err = c.fetchImm(w); err != nil {
			return err
		}
	}
	c.alu(aluAnd, a, b)
	return nil
}

func xchgHandler(c *CPU, op byte) error {
	c.mnem = "xchg"
	w := c.width()
	if op == 0x86 {
		w = 8
	}
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	a, err := c.readOp(rm, w)
	if err != nil {
		return err
	}
	b := c.readReg(regop, w)
	if err := c.writeOp(rm, b); err != nil {
		return err
	}
	c.writeReg(regop, a)
	return nil
}

func movHandler(c *CPU, op byte) error {
	c.mnem = "mov"
	w := c.width()
	if op == 0x88 || op == 0x8a {
		w = 8
	}
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	switch op {
	case 0x88, 0x89: // r/m, r
		return c.writeOp(rm, c.readReg(regop, w))
	default: // 0x8a, 0x8b: r, r/m
		v, err := c.readOp(rm, w)
		if err != nil {
			return err
		}
		c.writeReg(regop, v)
		return nil
	}
}

func movImmRMHandler(c *CPU, op byte) error {
	c.mnem = "mov"
	w := c.width()
	if op == 0xc6 {
		w = 8
	}
	_, _, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	imm, err := c.fetchImm(w)
	if err != nil {
		return err
	}
	return c.writeOp(rm, imm)
}

func movImmRegHandler(c *CPU, op byte) error {
	c.mnem = "mov"
	if op < 0xb8 {
		b, err := c.fetch8()
		if err != nil {
			return err
		}
		c.writeReg(op-0xb0, shadow.Init8(b))
		return nil
	}
	imm, err := c.fetchImm(c.width())
	if err != nil {
		return err
	}
	c.writeReg(op-0xb8, imm)
	return nil
}

func movMoffsHandler(c *CPU, op byte) error {
	c.mnem = "mov"
	addr, err := c.fetch32()
	if err != nil {
		return err
	}
	switch op {
	case 0xa0:
		v, err := c.mem.Read8(addr)
		if err != nil {
			return err
		}
		c.writeReg(EAX, v)
		return nil
	case 0xa1:
		v, err := c.mem.Read32(addr)
		if err != nil {
			return err
		}
		c.writeReg(EAX, v)
		return nil
	case 0xa2:
		return c.mem.Write8(addr, c.readReg(EAX, 8))
	default:
		return c.mem.Write32(addr, c.gpr[EAX])
	}
}

func leaHandler(c *CPU, op byte) error {
	c.mnem = "lea"
	mod, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	if mod == 3 {
		return c.unhandled()
	}
	c.writeReg(regop, shadow.Init32(rm.addr))
	return nil
}

func pushRegHandler(c *CPU, op byte) error {
	c.mnem = "push"
	return c.Push32(c.gpr[op-0x50])
}

func popRegHandler(c *CPU, op byte) error {
	c.mnem = "pop"
	v, err := c.Pop32()
	if err != nil {
		return err
	}
	c.gpr[op-0x58] = v
	return nil
}

func pushImmHandler(c *CPU, op byte) error {
	c.mnem = "push"
	if op == 0x6a {
		b, err := c.fetch8()
		if err != nil {
			return err
		}
		return c.Push32(shadow.Init8(b).SignExtTo(32))
	}
	v, err := c.fetch32()
	if err != nil {
		return err
	}
	return c.Push32(shadow.Init32(v))
}

func popRMHandler(c *CPU, op byte) error {
	c.mnem = "pop"
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	if regop != 0 {
		return c.unhandled()
	}
	v, err := c.Pop32()
	if err != nil {
		return err
	}
	return c.writeOp(rm, v)
}

func incDecRegHandler(c *CPU, op byte) error {
	reg := op & 7
	savedCF := c.cf
	var res shadow.Value
	if op < 0x48 {
		c.mnem = "inc"
		res = c.alu(aluAdd, c.gpr[reg], shadow.Init32(1))
	} else {
		c.mnem = "dec"
		res = c.alu(aluSub, c.gpr[reg], shadow.Init32(1))
	}
	c.cf = savedCF
	c.gpr[reg] = res
	return nil
}

// cond evaluates a Jcc/SETcc condition code; tainted flags in a
// control position are a reportable violation.
func (c *CPU) cond(cc byte) bool {
	if c.flagsTainted {
		c.env.ReportTaint("%#08x: conditional branch depends on uninitialized data", c.baseEIP)
	}
	var r bool
	switch cc >> 1 {
	case 0:
		r = c.of
	case 1:
		r = c.cf
	case 2:
		r = c.zf
	case 3:
		r = c.cf || c.zf
	case 4:
		r = c.sf
	case 5:
		r = c.pf
	case 6:
		r = c.sf != c.of
	case 7:
		r = c.zf || c.sf != c.of
	}
	if cc&1 == 1 {
		r = !r
	}
	return r
}

func jccShortHandler(c *CPU, op byte) error {
	c.mnem = "j" + condNames[op&0xf]
	d, err := c.fetch8()
	if err != nil {
		return err
	}
	if c.cond(op & 0xf) {
		c.eip += uint32(int32(int8(d)))
	}
	return nil
}

func jccNearHandler(c *CPU, op byte) error {
	c.mnem = "j" + condNames[op&0xf]
	d, err := c.fetch32()
	if err != nil {
		return err
	}
	if c.cond(op & 0xf) {
		c.eip += d
	}
	return nil
}

var condNames = [16]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g"}

func setccHandler(c *CPU, op byte) error {
	c.mnem = "set" + condNames[op&0xf]
	_, _, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	var v uint8
	if c.cond(op & 0xf) {
		v = 1
	}
	return c.writeOp(rm, shadow.Init8(v))
}

func callRelHandler(c *CPU, op byte) error {
	c.mnem = "call"
	d, err := c.fetch32()
	if err != nil {
		return err
	}
	if err := c.Push32(shadow.Init32(c.eip)); err != nil {
		return err
	}
	c.eip += d
	return nil
}

func jmpRelHandler(c *CPU, op byte) error {
	c.mnem = "jmp"
	if op == 0xeb {
		d, err := c.fetch8()
		if err != nil {
			return err
		}
		c.eip += uint32(int32(int8(d)))
		return nil
	}
	d, err := c.fetch32()
	if err != nil {
		return err
	}
	c.eip += d
	return nil
}

func retHandler(c *CPU, op byte) error {
	c.mnem = "ret"
	v, err := c.Pop32()
	if err != nil {
		return err
	}
	if v.IsUninitialized() {
		c.env.ReportTaint("%#08x: return address is uninitialized", c.baseEIP)
	}
	if op == 0xc2 {
		imm, err := c.fetch16()
		if err != nil {
			return err
		}
		c.gpr[ESP] = shadow.Init32(c.gpr[ESP].U32() + uint32(imm))
	}
	c.eip = v.U32()
	return nil
}

func leaveHandler(c *CPU, op byte) error {
	c.mnem = "leave"
	c.gpr[ESP] = c.gpr[EBP]
	v, err := c.Pop32()
	if err != nil {
		return err
	}
	c.gpr[EBP] = v
	return nil
}

func nopHandler(c *CPU, op byte) error {
	c.mnem = "nop"
	return nil
}

func xchgAccHandler(c *CPU, op byte) error {
	c.mnem = "xchg"
	reg := op & 7
	c.gpr[EAX], c.gpr[reg] = c.gpr[reg], c.gpr[EAX]
	return nil
}

func cdqHandler(c *CPU, op byte) error {
	c.mnem = "cdq"
	c.gpr[EDX] = c.gpr[EAX].Sar(31)
	return nil
}

func shiftHandler(c *CPU, op byte) error {
	w := c.width()
	if op == 0xc0 {
		w = 8
	}
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	var count uint32
	switch op {
	case 0xc0, 0xc1:
		b, err := c.fetch8()
		if err != nil {
			return err
		}
		count = uint32(b)
	case 0xd1:
		count = 1
	default: // 0xd3: by cl
		cl := c.readReg(ECX, 8)
		if cl.IsUninitialized() {
			c.env.ReportTaint("%#08x: shift count is uninitialized", c.baseEIP)
		}
		count = cl.U32()
	}
	count &= 31
	a, err := c.readOp(rm, w)
	if err != nil {
		return err
	}
	var res shadow.Value
	switch regop {
	case 4: // shl
		c.mnem = "shl"
		res = a.Shl(count)
		if count > 0 {
			c.cf = a.V>>(w-uint(count))&1 != 0
		}
	case 5: // shr
		c.mnem = "shr"
		res = a.Shr(count)
		if count > 0 {
			c.cf = a.V>>(count-1)&1 != 0
		}
	case 7: // sar
		c.mnem = "sar"
		res = a.Sar(count)
		if count > 0 {
			c.cf = uint32(a.Signed())>>(count-1)&1 != 0
		}
	default:
		return c.unhandled()
	}
	c.of = false
	c.setPZS(res)
	c.flagsTainted = a.IsUninitialized()
	return c.writeOp(rm, res)
}

func group3Handler(c *CPU, op byte) error {
	w := c.width()
	if op == 0xf6 {
		w = 8
	}
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	a, err := c.readOp(rm, w)
	if err != nil {
		return err
	}
	switch regop {
	case 0: // test rm, imm
		c.mnem = "test"
		imm, err := c.fetchImm(w)
		if err != nil {
			return err
		}
		c.alu(aluAnd, a, imm)
		return nil
	case 2: // not
		c.mnem = "not"
		return c.writeOp(rm, a.Not())
	case 3: // neg
		c.mnem = "neg"
		res := c.alu(aluSub, shadow.Raw(0, widthMask(w), w), a)
		c.cf = a.V&widthMask(w) != 0
		return c.writeOp(rm, res)
	case 4: // mul: edx:eax = eax * rm
		c.mnem = "mul"
		if w != 32 {
			return c.unhandled()
		}
		eax := c.gpr[EAX]
		wide := uint64(eax.U32()) * uint64(a.U32())
		lo := shadow.Raw(uint32(wide), eax.Mul(a).M, 32)
		hi := shadow.Raw(uint32(wide>>32), eax.Mul(a).M, 32)
		c.gpr[EAX], c.gpr[EDX] = lo, hi
		c.cf = hi.U32() != 0
		c.of = c.cf
		c.flagsTainted = eax.IsUninitialized() || a.IsUninitialized()
		return nil
	case 6: // div: eax = edx:eax / rm, edx = remainder
		c.mnem = "div"
		if w != 32 {
			return c.unhandled()
		}
		if a.IsUninitialized() {
			c.env.ReportTaint("%#08x: divisor is uninitialized", c.baseEIP)
		}
		if a.U32() == 0 {
			return errors.Errorf("divide by zero at %#08x", c.baseEIP)
		}
		eax, edx := c.gpr[EAX], c.gpr[EDX]
		wide := uint64(edx.U32())<<32 | uint64(eax.U32())
		shadowM := eax.Div(a).And(edx.Div(a)).M
		c.gpr[EAX] = shadow.Raw(uint32(wide/uint64(a.U32())), shadowM, 32)
		c.gpr[EDX] = shadow.Raw(uint32(wide%uint64(a.U32())), shadowM, 32)
		return nil
	}
	return c.unhandled()
}

func group4Handler(c *CPU, op byte) error {
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	a, err := c.readOp(rm, 8)
	if err != nil {
		return err
	}
	savedCF := c.cf
	var res shadow.Value
	switch regop {
	case 0:
		c.mnem = "inc"
		res = c.alu(aluAdd, a, shadow.Init8(1))
	case 1:
		c.mnem = "dec"
		res = c.alu(aluSub, a, shadow.Init8(1))
	default:
		return c.unhandled()
	}
	c.cf = savedCF
	return c.writeOp(rm, res)
}

func group5Handler(c *CPU, op byte) error {
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	switch regop {
	case 0, 1: // inc/dec rm
		a, err := c.readOp(rm, c.width())
		if err != nil {
			return err
		}
		savedCF := c.cf
		var res shadow.Value
		if regop == 0 {
			c.mnem = "inc"
			res = c.alu(aluAdd, a, shadow.Init32(1).TruncTo(a.Bits))
		} else {
			c.mnem = "dec"
			res = c.alu(aluSub, a, shadow.Init32(1).TruncTo(a.Bits))
		}
		c.cf = savedCF
		return c.writeOp(rm, res)
	case 2: // call rm
		c.mnem = "call"
		target, err := c.readOp(rm, 32)
		if err != nil {
			return err
		}
		if target.IsUninitialized() {
			c.env.ReportTaint("%#08x: call target is uninitialized", c.baseEIP)
		}
		if err := c.Push32(shadow.Init32(c.eip)); err != nil {
			return err
		}
		c.eip = target.U32()
		return nil
	case 4: // jmp rm
		c.mnem = "jmp"
		target, err := c.readOp(rm, 32)
		if err != nil {
			return err
		}
		if target.IsUninitialized() {
			c.env.ReportTaint("%#08x: jump target is uninitialized", c.baseEIP)
		}
		c.eip = target.U32()
		return nil
	case 6: // push rm
		c.mnem = "push"
		v, err := c.readOp(rm, 32)
		if err != nil {
			return err
		}
		return c.Push32(v)
	}
	return c.unhandled()
}

func intHandler(c *CPU, op byte) error {
	imm, err := c.fetch8()
	if err != nil {
		return err
	}
	if imm != 0x82 {
		return c.unhandled()
	}
	c.mnem = "int"
	fn := c.gpr[EAX]
	if fn.IsUninitialized() {
		c.env.ReportTaint("%#08x: syscall number is uninitialized", c.baseEIP)
	}
	ret := c.env.Syscall(fn.U32(), c.gpr[EBX].U32(), c.gpr[ECX].U32(), c.gpr[EDX].U32())
	c.gpr[EAX] = shadow.Init32(ret)
	return nil
}

func hltHandler(c *CPU, op byte) error {
	return errors.Errorf("hlt at %#08x", c.baseEIP)
}

func flagDirHandler(c *CPU, op byte) error {
	if op == 0xfc {
		c.mnem = "cld"
		c.df = false
	} else {
		c.mnem = "std"
		c.df = true
	}
	return nil
}

// strDelta is the per-element pointer step for string instructions.
func (c *CPU) strDelta(size uint32) uint32 {
	if c.df {
		return -size
	}
	return size
}

func (c *CPU) repCount() (uint32, bool) {
	if c.rep != 0xf3 {
		return 1, false
	}
	cx := c.gpr[ECX]
	if cx.IsUninitialized() {
		c.env.ReportTaint("%#08x: rep count is uninitialized", c.baseEIP)
	}
	return cx.U32(), true
}

func movsHandler(c *CPU, op byte) error {
	c.mnem = "movs"
	size := uint32(4)
	if op == 0xa4 {
		size = 1
	} else if c.opsize16 {
		size = 2
	}
	count, isRep := c.repCount()
	for i := uint32(0); i < count; i++ {
		src, dst := c.gpr[ESI].U32(), c.gpr[EDI].U32()
		var v shadow.Value
		var err error
		switch size {
		case 1:
			v, err = c.mem.Read8(src)
		case 2:
			v, err = c.mem.Read16(src)
		default:
			v, err = c.mem.Read32(src)
		}
		if err != nil {
			return err
		}
		if err := c.writeOp(operand{addr: dst}, v); err != nil {
			return err
		}
		d := c.strDelta(size)
		c.gpr[ESI] = shadow.Init32(src + d)
		c.gpr[EDI] = shadow.Init32(dst + d)
	}
	if isRep {
		c.gpr[ECX] = shadow.Init32(0)
	}
	return nil
}

func stosHandler(c *CPU, op byte) error {
	c.mnem = "stos"
	size := uint32(4)
	if op == 0xaa {
		size = 1
	} else if c.opsize16 {
		size = 2
	}
	count, isRep := c.repCount()
	for i := uint32(0); i < count; i++ {
		dst := c.gpr[EDI].U32()
		v := c.gpr[EAX].TruncTo(uint(size * 8))
		if err := c.writeOp(operand{addr: dst}, v); err != nil {
			return err
		}
		c.gpr[EDI] = shadow.Init32(dst + c.strDelta(size))
	}
	if isRep {
		c.gpr[ECX] = shadow.Init32(0)
	}
	return nil
}

func movExtHandler(c *CPU, op byte) error {
	srcBits := uint(8)
	if op == 0xb7 || op == 0xbf {
		srcBits = 16
	}
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	v, err := c.readOp(rm, srcBits)
	if err != nil {
		return err
	}
	if op == 0xb6 || op == 0xb7 {
		c.mnem = "movzx"
		c.writeReg(regop, v.ZeroExtTo(32))
	} else {
		c.mnem = "movsx"
		c.writeReg(regop, v.SignExtTo(32))
	}
	return nil
}

func imulHandler(c *CPU, op byte) error {
	c.mnem = "imul"
	_, regop, rm, err := c.fetchModRM()
	if err != nil {
		return err
	}
	b, err := c.readOp(rm, 32)
	if err != nil {
		return err
	}
	a := c.readReg(regop, 32)
	wide := int64(a.Signed()) * int64(b.Signed())
	res := shadow.Raw(uint32(wide), a.Mul(b).M, 32)
	c.cf = wide != int64(int32(wide))
	c.of = c.cf
	c.flagsTainted = a.IsUninitialized() || b.IsUninitialized()
	c.writeReg(regop, res)
	return nil
}

func init() {
	for op := 0; op < 0x40; op++ {
		if op&7 <= 5 {
			oneByte[op] = aluHandler
		}
	}
	for op := 0x40; op < 0x50; op++ {
		oneByte[op] = incDecRegHandler
	}
	for op := 0x50; op < 0x58; op++ {
		oneByte[op] = pushRegHandler
	}
	for op := 0x58; op < 0x60; op++ {
		oneByte[op] = popRegHandler
	}
	oneByte[0x68] = pushImmHandler
	oneByte[0x6a] = pushImmHandler
	for op := 0x70; op < 0x80; op++ {
		oneByte[op] = jccShortHandler
	}
	oneByte[0x80] = group1Handler
	oneByte[0x81] = group1Handler
	oneByte[0x83] = group1Handler
	oneByte[0x84] = testHandler
	oneByte[0x85] = testHandler
	oneByte[0x86] = xchgHandler
	oneByte[0x87] = xchgHandler
	for op := 0x88; op < 0x8c; op++ {
		oneByte[op] = movHandler
	}
	oneByte[0x8d] = leaHandler
	oneByte[0x8f] = popRMHandler
	oneByte[0x90] = nopHandler
	for op := 0x91; op < 0x98; op++ {
		oneByte[op] = xchgAccHandler
	}
	oneByte[0x99] = cdqHandler
	for op := 0xa0; op < 0xa4; op++ {
		oneByte[op] = movMoffsHandler
	}
	oneByte[0xa4] = movsHandler
	oneByte[0xa5] = movsHandler
	oneByte[0xa8] = testHandler
	oneByte[0xa9] = testHandler
	oneByte[0xaa] = stosHandler
	oneByte[0xab] = stosHandler
	for op := 0xb0; op < 0xc0; op++ {
		oneByte[op] = movImmRegHandler
	}
	oneByte[0xc0] = shiftHandler
	oneByte[0xc1] = shiftHandler
	oneByte[0xc2] = retHandler
	oneByte[0xc3] = retHandler
	oneByte[0xc6] = movImmRMHandler
	oneByte[0xc7] = movImmRMHandler
	oneByte[0xc9] = leaveHandler
	oneByte[0xcd] = intHandler
	oneByte[0xd1] = shiftHandler
	oneByte[0xd3] = shiftHandler
	oneByte[0xe8] = callRelHandler
	oneByte[0xe9] = jmpRelHandler
	oneByte[0xeb] = jmpRelHandler
	oneByte[0xf4] = hltHandler
	oneByte[0xf6] = group3Handler
	oneByte[0xf7] = group3Handler
	oneByte[0xfc] = flagDirHandler
	oneByte[0xfd] = flagDirHandler
	oneByte[0xfe] = group4Handler
	oneByte[0xff] = group5Handler

	for op := 0x80; op < 0x90; op++ {
		twoByte[op] = jccNearHandler
	}
	for op := 0x90; op < 0xa0; op++ {
		twoByte[op] = setccHandler
	}
	twoByte[0xaf] = imulHandler
	twoByte[0xb6] = movExtHandler
	twoByte[0xb7] = movExtHandler
	twoByte[0xbe] = movExtHandler
	twoByte[0xbf] = movExtHandler
}

// Step decodes and executes one instruction at EIP.
func (c *CPU) Step() error {
	c.opsize16 = false
	c.rep = 0
	c.raw = c.raw[:0]
	c.mnem = ""
	for {
		op, err := c.fetch8()
		if err != nil {
			return err
		}
		switch op {
		case 0x66:
			c.opsize16 = true
			continue
		case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65, 0xf0:
			// segment bases are flat; lock is a no-op for a single thread
			continue
		case 0xf2, 0xf3:
			c.rep = op
			continue
		case 0x0f:
			op2, err := c.fetch8()
			if err != nil {
				return err
			}
			h := twoByte[op2]
			if h == nil {
				return c.unhandled()
			}
			return h(c, op2)
		}
		h := oneByte[op]
		if h == nil {
			return c.unhandled()
		}
		return h(c, op)
	}
}
