// Package cpu interprets IA-32 instructions against a register file
// that carries per-bit initialization state, fetching code bytes
// through the MMU and trapping INT 0x82 out to the syscall layer.
package cpu

import (
	"fmt"
	"strings"

	"github.com/codebutler/serenity/mmu"
	"github.com/codebutler/serenity/shadow"
)

// General-purpose register indices in instruction encoding order.
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

var regNames = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// Env is what the CPU needs from its surroundings: somewhere to send
// taint diagnostics and a syscall dispatcher for INT 0x82.
type Env interface {
	ReportTaint(format string, args ...interface{})
	Syscall(fn, a1, a2, a3 uint32) uint32
}

type CPU struct {
	mem *mmu.MMU
	env Env

	gpr     [8]shadow.Value
	eip     uint32
	baseEIP uint32

	cf, pf, zf, sf, of bool
	df                 bool
	flagsTainted       bool

	// per-instruction decode state
	opsize16 bool
	rep      byte
	raw      []byte
	mnem     string
}

func New(m *mmu.MMU, env Env) *CPU {
	c := &CPU{mem: m, env: env}
	for i := range c.gpr {
		c.gpr[i] = shadow.Uninit32()
	}
	return c
}

func (c *CPU) Reg(i int) shadow.Value { return c.gpr[i] }

// SetReg stores a full-width register value.
func (c *CPU) SetReg(i int, v shadow.Value) { c.gpr[i] = v }

func (c *CPU) EIP() uint32        { return c.eip }
func (c *CPU) SetEIP(addr uint32) { c.eip = addr }
func (c *CPU) BaseEIP() uint32    { return c.baseEIP }

// SaveBaseEIP snapshots the address of the instruction about to run.
func (c *CPU) SaveBaseEIP() { c.baseEIP = c.eip }

// InstrBytes returns the raw bytes of the last decoded instruction.
func (c *CPU) InstrBytes() []byte { return c.raw }

// Mnemonic returns a coarse name for the last decoded instruction.
func (c *CPU) Mnemonic() string {
	if c.mnem == "" {
		return "?"
	}
	return c.mnem
}

func (c *CPU) fetch8() (byte, error) {
	p, err := c.mem.Fetch(c.eip, 1)
	if err != nil {
		return 0, err
	}
	c.eip++
	c.raw = append(c.raw, p[0])
	return p[0], nil
}

func (c *CPU) fetch16() (uint16, error) {
	lo, err := c.fetch8()
	if err != nil {
		return 0, err
	}
	hi, err := c.fetch8()
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (c *CPU) fetch32() (uint32, error) {
	lo, err := c.fetch16()
	if err != nil {
		return 0, err
	}
	hi, err := c.fetch16()
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

func (c *CPU) Push32(v shadow.Value) error {
	esp := c.gpr[ESP].U32() - 4
	if err := c.mem.Write32(esp, v); err != nil {
		return err
	}
	c.gpr[ESP] = shadow.Init32(esp)
	return nil
}

func (c *CPU) Pop32() (shadow.Value, error) {
	esp := c.gpr[ESP].U32()
	v, err := c.mem.Read32(esp)
	if err != nil {
		return v, err
	}
	c.gpr[ESP] = shadow.Init32(esp + 4)
	return v, nil
}

func (c *CPU) readReg(reg byte, bits uint) shadow.Value {
	switch bits {
	case 16:
		return c.gpr[reg].TruncTo(16)
	case 8:
		if reg < 4 {
			return c.gpr[reg].TruncTo(8)
		}
		v := c.gpr[reg-4]
		return shadow.Raw(v.V>>8, v.M>>8, 8)
	}
	return c.gpr[reg]
}

func (c *CPU) writeReg(reg byte, v shadow.Value) {
	switch v.Bits {
	case 16:
		old := c.gpr[reg]
		c.gpr[reg] = shadow.Raw(old.V&0xffff0000|v.V&0xffff, old.M&0xffff0000|v.M&0xffff, 32)
	case 8:
		if reg < 4 {
			old := c.gpr[reg]
			c.gpr[reg] = shadow.Raw(old.V&^uint32(0xff)|v.V&0xff, old.M&^uint32(0xff)|v.M&0xff, 32)
		} else {
			old := c.gpr[reg-4]
			c.gpr[reg-4] = shadow.Raw(old.V&^uint32(0xff00)|(v.V&0xff)<<8, old.M&^uint32(0xff00)|(v.M&0xff)<<8, 32)
		}
	default:
		c.gpr[reg] = v
	}
}

// Dump formats the register file, marking values with uninitialized
// bits.
func (c *CPU) Dump() string {
	var out []string
	for i, v := range c.gpr {
		s := fmt.Sprintf("%s=%08x", regNames[i], v.U32())
		if v.IsUninitialized() {
			s += "?"
		}
		out = append(out, s)
	}
	out = append(out, fmt.Sprintf("eip=%08x", c.eip))
	flags := ""
	for _, f := range []struct {
		on bool
		ch string
	}{{c.cf, "c"}, {c.pf, "p"}, {c.zf, "z"}, {c.sf, "s"}, {c.of, "o"}} {
		if f.on {
			flags += f.ch
		}
	}
	out = append(out, "flags="+flags)
	return strings.Join(out, " ")
}
