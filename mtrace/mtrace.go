// Package mtrace tracks the guest allocator's live chunks and reports
// leaks at shutdown.
package mtrace

import (
	"sort"
)

// Env is the hook surface the emulator publishes to the tracer.
type Env interface {
	Pid() int
	Report(format string, args ...interface{})
	RawBacktrace() []uint32
	DumpBacktraceFor(addrs []uint32)
	// IsInMallocOrFree reports whether the current instruction lies
	// inside the guest's malloc or free. The Tracer does not call it.
	IsInMallocOrFree() bool
}

type Chunk struct {
	Address   uint32
	Size      uint32
	Backtrace []uint32
}

type Tracer struct {
	env    Env
	chunks map[uint32]*Chunk
}

func New(env Env) *Tracer {
	return &Tracer{env: env, chunks: make(map[uint32]*Chunk)}
}

func (t *Tracer) DidMalloc(addr, size uint32) {
	if _, ok := t.chunks[addr]; ok {
		t.env.Report("==%d==  \033[31;1mDouble allocation at %#08x\033[0m\n", t.env.Pid(), addr)
		t.env.DumpBacktraceFor(t.env.RawBacktrace())
		return
	}
	t.chunks[addr] = &Chunk{
		Address:   addr,
		Size:      size,
		Backtrace: t.env.RawBacktrace(),
	}
}

func (t *Tracer) DidFree(addr uint32) {
	if addr == 0 {
		return
	}
	if _, ok := t.chunks[addr]; !ok {
		t.env.Report("==%d==  \033[31;1mInvalid free of %#08x\033[0m\n", t.env.Pid(), addr)
		t.env.DumpBacktraceFor(t.env.RawBacktrace())
		return
	}
	delete(t.chunks, addr)
}

func (t *Tracer) LiveChunks() []*Chunk {
	out := make([]*Chunk, 0, len(t.chunks))
	for _, chunk := range t.chunks {
		out = append(out, chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// DumpLeakReport prints every chunk still live at shutdown.
func (t *Tracer) DumpLeakReport() {
	leaks := t.LiveChunks()
	for _, chunk := range leaks {
		t.env.Report("==%d==  \033[31;1mLeaked %d-byte chunk at %#08x\033[0m\n",
			t.env.Pid(), chunk.Size, chunk.Address)
		t.env.DumpBacktraceFor(chunk.Backtrace)
	}
	if len(leaks) == 0 {
		t.env.Report("==%d==  \033[32;1mNo leaks found!\033[0m\n", t.env.Pid())
	}
}
