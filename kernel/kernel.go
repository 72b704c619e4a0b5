// Package kernel virtualizes the guest's system calls, marshalling
// arguments across the guest/host boundary and forwarding to the host.
package kernel

import (
	co "github.com/codebutler/serenity/kernel/common"
)

type Kernel struct {
	co.KernelBase

	// trace prints one line per syscall when enabled
	Trace bool

	// host-side backing store for emulated shared buffers
	shbufs      map[int32][]byte
	nextShbufID int32
}

func New(u co.Emu) *Kernel {
	k := &Kernel{
		shbufs:      make(map[int32][]byte),
		nextShbufID: 1,
	}
	co.Init(k, u)
	return k
}

// Dispatch demultiplexes one guest syscall. Unknown numbers and missing
// handlers are fatal with a backtrace; handler results (including
// negative errno values) pass through to the guest's EAX.
func (k *Kernel) Dispatch(fn, a1, a2, a3 uint32) uint32 {
	name, ok := Names[fn]
	if !ok {
		k.U.Report("==%d==  \033[31;1mUnimplemented syscall: %d\033[0m\n", k.U.Pid(), fn)
		k.U.DumpBacktrace()
		k.U.Abort("unknown syscall %d", fn)
		return 0
	}
	sys := co.Lookup(k, name)
	if sys == nil {
		k.U.Report("==%d==  Unimplemented syscall: %s (%d)\n", k.U.Pid(), name, fn)
		k.U.DumpBacktrace()
		k.U.Abort("unimplemented syscall %s", name)
		return 0
	}
	args := []uint64{uint64(a1), uint64(a2), uint64(a3)}
	if n := len(sys.In); n < len(args) {
		args = args[:n]
	}
	ret := sys.Call(args)
	if k.Trace {
		k.U.Report("==%d==  syscall %s(%#x, %#x, %#x) = %d\n",
			k.U.Pid(), name, a1, a2, a3, int32(ret))
	}
	return uint32(ret)
}
