package mmu

import (
	"fmt"

	"github.com/codebutler/serenity/shadow"
)

const PageSize = 4096

// RegionKind tags the variant payload carried by a Region.
type RegionKind int

const (
	KindSimple RegionKind = iota
	KindMmap
	KindSharedBuffer
)

// Region is a contiguous span of guest virtual memory. It owns one data
// byte and one shadow byte per guest byte; a shadow byte of 0x01 means
// the data byte has been initialized.
type Region struct {
	Base   uint32
	Size   uint32
	Data   []byte
	Shadow []byte

	Kind       RegionKind
	Readable   bool
	Writable   bool
	Executable bool
	Stack      bool
	Text       bool

	// mmap payload
	Prot   int
	Flags  int
	Fd     int32
	Offset int64

	// shared buffer payload: Data aliases a host-visible mapping
	ShbufID     int32
	sealed      bool
	isVolatile  bool
	allowedPids []int32
	allowAll    bool
}

func NewSimpleRegion(base, size uint32) *Region {
	return &Region{
		Base:     base,
		Size:     size,
		Data:     make([]byte, size),
		Shadow:   make([]byte, size),
		Kind:     KindSimple,
		Readable: true,
		Writable: true,
	}
}

// NewMmapRegion builds an anonymous or file-backed mapping. A non-nil
// contents slice seeds the data bytes and marks them initialized;
// anonymous mappings stay zero-filled and uninitialized.
func NewMmapRegion(base, size uint32, prot, flags int, fd int32, offset int64, contents []byte) *Region {
	r := &Region{
		Base:       base,
		Size:       size,
		Data:       make([]byte, size),
		Shadow:     make([]byte, size),
		Kind:       KindMmap,
		Readable:   prot&ProtRead != 0,
		Writable:   prot&ProtWrite != 0,
		Executable: prot&ProtExec != 0,
		Prot:       prot,
		Flags:      flags,
		Fd:         fd,
		Offset:     offset,
	}
	if contents != nil {
		n := copy(r.Data, contents)
		for i := 0; i < n; i++ {
			r.Shadow[i] = 0x01
		}
	}
	return r
}

// NewSharedBufferRegion aliases host-owned storage. Bytes another
// process may have written are treated as initialized.
func NewSharedBufferRegion(base uint32, id int32, host []byte) *Region {
	shadowBytes := make([]byte, len(host))
	for i := range shadowBytes {
		shadowBytes[i] = 0x01
	}
	return &Region{
		Base:     base,
		Size:     uint32(len(host)),
		Data:     host,
		Shadow:   shadowBytes,
		Kind:     KindSharedBuffer,
		Readable: true,
		Writable: true,
		ShbufID:  id,
	}
}

const (
	ProtRead  = 1
	ProtWrite = 2
	ProtExec  = 4
)

func (r *Region) End() uint32 {
	return r.Base + r.Size
}

func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr < r.End()
}

func (r *Region) ContainsRange(addr, size uint32) bool {
	return addr >= r.Base && addr+size <= r.End() && addr+size >= addr
}

func (r *Region) String() string {
	prot := ""
	for _, f := range []struct {
		on bool
		ch string
	}{{r.Readable, "r"}, {r.Writable, "w"}, {r.Executable, "x"}} {
		if f.on {
			prot += f.ch
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("%#08x-%#08x %s", r.Base, r.End(), prot)
	switch {
	case r.Stack:
		desc += " [stack]"
	case r.Text:
		desc += " [text]"
	case r.Kind == KindMmap:
		desc += " [mmap]"
	case r.Kind == KindSharedBuffer:
		desc += fmt.Sprintf(" [shbuf %d]", r.ShbufID)
	}
	return desc
}

// expand turns a per-byte shadow byte into the 8-bit mask the CPU sees.
func expand(sb byte) uint32 {
	if sb != 0 {
		return 0xff
	}
	return 0
}

func (r *Region) Read8(offset uint32) shadow.Value {
	return shadow.Raw(uint32(r.Data[offset]), expand(r.Shadow[offset]), 8)
}

func (r *Region) Read16(offset uint32) shadow.Value {
	var v, m uint32
	for i := uint32(0); i < 2; i++ {
		v |= uint32(r.Data[offset+i]) << (8 * i)
		m |= expand(r.Shadow[offset+i]) << (8 * i)
	}
	return shadow.Raw(v, m, 16)
}

func (r *Region) Read32(offset uint32) shadow.Value {
	var v, m uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(r.Data[offset+i]) << (8 * i)
		m |= expand(r.Shadow[offset+i]) << (8 * i)
	}
	return shadow.Raw(v, m, 32)
}

// writeBytes stores value bytes and derives each shadow byte from the
// corresponding 8 bits of the mask: a byte is initialized only if all
// of its bits are.
func (r *Region) writeBytes(offset uint32, v shadow.Value) {
	n := v.Bits / 8
	for i := uint32(0); i < uint32(n); i++ {
		r.Data[offset+i] = byte(v.V >> (8 * i))
		if v.M>>(8*i)&0xff == 0xff {
			r.Shadow[offset+i] = 0x01
		} else {
			r.Shadow[offset+i] = 0x00
		}
	}
}

func (r *Region) Write8(offset uint32, v shadow.Value)  { r.writeBytes(offset, v) }
func (r *Region) Write16(offset uint32, v shadow.Value) { r.writeBytes(offset, v) }
func (r *Region) Write32(offset uint32, v shadow.Value) { r.writeBytes(offset, v) }

// Shared buffer state machine. Sealing is one-way and refuses further
// allow operations.

func (r *Region) AllowPid(pid int32) int32 {
	if r.sealed {
		return -1
	}
	r.allowedPids = append(r.allowedPids, pid)
	return 0
}

func (r *Region) AllowAll() int32 {
	if r.sealed {
		return -1
	}
	r.allowAll = true
	return 0
}

func (r *Region) Seal() int32 {
	r.sealed = true
	return 0
}

func (r *Region) SetVolatile(v bool) int32 {
	r.isVolatile = v
	return 0
}

func (r *Region) Sealed() bool   { return r.sealed }
func (r *Region) Volatile() bool { return r.isVolatile }
