// Package emulator drives guest execution: it owns the MMU, the
// soft-CPU, the syscall layer, and the malloc tracer, and runs the
// fetch-dispatch loop until the guest exits.
package emulator

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/codebutler/serenity/cpu"
	"github.com/codebutler/serenity/kernel"
	"github.com/codebutler/serenity/loader"
	"github.com/codebutler/serenity/mmu"
	"github.com/codebutler/serenity/mtrace"
)

const (
	StackBase = 0x10000000
	StackSize = 64 * 1024

	vmBase = 0x30000000

	maxBacktraceDepth = 64
)

type Emulator struct {
	mem    *mmu.MMU
	cpu    *cpu.CPU
	kernel *kernel.Kernel
	ldr    *loader.Loader
	tracer *mtrace.Tracer

	exe  string
	args []string
	pid  int

	shutdown   bool
	exitStatus int

	mallocStart, mallocEnd uint32
	freeStart, freeEnd     uint32

	nextVM uint32
	taints int

	// Trace prints each instruction and a register dump as it runs.
	Trace bool
}

func New(exe string, args, env []string) (*Emulator, error) {
	ldr, err := loader.LoadFile(exe)
	if err != nil {
		return nil, err
	}
	e := &Emulator{
		mem:    mmu.New(),
		ldr:    ldr,
		exe:    exe,
		args:   args,
		pid:    os.Getpid(),
		nextVM: vmBase,
	}
	e.cpu = cpu.New(e.mem, e)
	e.kernel = kernel.New(e)
	e.tracer = mtrace.New(e)

	if err := ldr.MapInto(e.mem); err != nil {
		return nil, errors.Wrap(err, "mapping executable")
	}
	e.cpu.SetEIP(ldr.Entry())
	e.mallocStart, e.mallocEnd, _ = ldr.SymbolRange("malloc")
	e.freeStart, e.freeEnd, _ = ldr.SymbolRange("free")

	if err := e.setupStack(args, env); err != nil {
		return nil, errors.Wrap(err, "building initial stack")
	}
	return e, nil
}

func (e *Emulator) Mmu() *mmu.MMU            { return e.mem }
func (e *Emulator) CPU() *cpu.CPU            { return e.cpu }
func (e *Emulator) Kernel() *kernel.Kernel   { return e.kernel }
func (e *Emulator) Tracer() *mtrace.Tracer   { return e.tracer }
func (e *Emulator) Loader() *loader.Loader   { return e.ldr }
func (e *Emulator) Pid() int                 { return e.pid }
func (e *Emulator) Exe() string              { return e.exe }
func (e *Emulator) Args() []string           { return e.args }

// SetStrace toggles per-syscall trace lines.
func (e *Emulator) SetStrace(on bool) { e.kernel.Trace = on }

// Exit records the guest's exit status and stops the dispatch loop at
// the next instruction boundary.
func (e *Emulator) Exit(status int) {
	e.exitStatus = status
	e.shutdown = true
}

// AllocateVM hands out fresh guest address space from a monotonically
// growing cursor.
func (e *Emulator) AllocateVM(size, alignment uint32) uint32 {
	if alignment == 0 {
		alignment = mmu.PageSize
	}
	base := (e.nextVM + alignment - 1) &^ (alignment - 1)
	e.nextVM = base + size
	return base
}

// Syscall is the CPU's INT 0x82 trap target.
func (e *Emulator) Syscall(fn, a1, a2, a3 uint32) uint32 {
	return e.kernel.Dispatch(fn, a1, a2, a3)
}

// Run executes the guest until the exit syscall or a fatal diagnostic.
func (e *Emulator) Run() (int, error) {
	for !e.shutdown {
		e.cpu.SaveBaseEIP()
		err := e.cpu.Step()
		if e.Trace {
			e.Report("==%d==  %#08x  %s\n", e.pid, e.cpu.BaseEIP(),
				paint("yellow+b", fmt.Sprintf("% x  %s", e.cpu.InstrBytes(), e.cpu.Mnemonic())))
		}
		if err != nil {
			if merr, ok := err.(*mmu.MemError); ok {
				e.Report("==%d==  \033[31;1mMemory access violation: %s at eip=%#08x\033[0m\n",
					e.pid, merr, e.cpu.BaseEIP())
			} else {
				e.Report("==%d==  \033[31;1m%s\033[0m\n", e.pid, err)
			}
			e.DumpBacktrace()
			return 0, err
		}
		if e.Trace {
			e.Report("==%d==  %s\n", e.pid, e.cpu.Dump())
		}
	}
	e.tracer.DumpLeakReport()
	return e.exitStatus, nil
}

// IsInMallocOrFree reports whether the current instruction lies inside
// the guest allocator itself.
func (e *Emulator) IsInMallocOrFree() bool {
	ip := e.cpu.BaseEIP()
	return ip >= e.mallocStart && ip < e.mallocEnd ||
		ip >= e.freeStart && ip < e.freeEnd
}

// RawBacktrace walks the guest EBP chain through the MMU.
func (e *Emulator) RawBacktrace() []uint32 {
	backtrace := []uint32{e.cpu.BaseEIP()}
	fp := e.cpu.Reg(cpu.EBP).U32()
	for fp != 0 && len(backtrace) < maxBacktraceDepth {
		ret, err := e.mem.Read32(fp + 4)
		if err != nil || ret.U32() == 0 {
			break
		}
		backtrace = append(backtrace, ret.U32())
		next, err := e.mem.Read32(fp)
		if err != nil {
			break
		}
		fp = next.U32()
	}
	return backtrace
}

func (e *Emulator) DumpBacktrace() {
	e.DumpBacktraceFor(e.RawBacktrace())
}
