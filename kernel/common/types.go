package common

import (
	"github.com/codebutler/serenity/mmu"
)

// Emu is the narrow surface of the emulator visible to syscall
// handlers.
type Emu interface {
	Mmu() *mmu.MMU
	Pid() int
	Exe() string
	Args() []string
	Report(format string, args ...interface{})
	DumpBacktrace()
	// Abort reports a fatal diagnostic and does not return. It prints
	// no backtrace; callers call DumpBacktrace first.
	Abort(format string, args ...interface{})
	Exit(status int)
	AllocateVM(size, alignment uint32) uint32
}

// Typed wrappers argjoy coerces raw trap arguments into.
type (
	// Buf is a guest pointer used as a syscall input.
	Buf struct {
		Addr uint32
		K    *KernelBase
	}
	// Obuf is a guest pointer the syscall writes back through.
	Obuf struct{ Buf }
	Len  uint32
	Off  int64
	Fd   int32
	Ptr  uint32
)

func NewBuf(k Kernel, addr uint32) Buf {
	return Buf{K: k.Base(), Addr: addr}
}

func (b Buf) Struc() *mmu.StrucStream {
	return b.K.U.Mmu().StreamAt(b.Addr)
}

func (b Buf) Pack(i interface{}) error {
	return b.Struc().Pack(i)
}

func (b Buf) Unpack(i interface{}) error {
	return b.Struc().Unpack(i)
}
