// Package mmu owns every region of the guest address space and mediates
// all guest<->host memory transfers, carrying per-byte initialization
// state on both sides of each move.
package mmu

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/codebutler/serenity/shadow"
)

// Access fault causes, carried by MemError.
const (
	MemReadUnmapped = iota
	MemWriteUnmapped
	MemFetchUnmapped
	MemReadProt
	MemWriteProt
	MemFetchProt
)

type MemError struct {
	Addr uint32
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MemWriteUnmapped:
		reason = "unmapped write"
	case MemReadUnmapped:
		reason = "unmapped read"
	case MemFetchUnmapped:
		reason = "unmapped fetch"
	case MemWriteProt:
		reason = "protected write"
	case MemReadProt:
		reason = "protected read"
	case MemFetchProt:
		reason = "protected exec"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// MMU holds the sorted region list. Region counts stay small (tens), so
// a sorted slice with binary search over Base is enough.
type MMU struct {
	regions []*Region
	tls     *Region
	shbufs  map[int32]*Region
}

func New() *MMU {
	return &MMU{shbufs: make(map[int32]*Region)}
}

// bsearch returns the index of the region containing addr, or -1.
func (m *MMU) bsearch(addr uint32) int {
	l, r := 0, len(m.regions)-1
	for l <= r {
		mid := (l + r) / 2
		e := m.regions[mid]
		if addr >= e.Base {
			if addr < e.End() {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (m *MMU) FindRegion(addr uint32) *Region {
	if i := m.bsearch(addr); i >= 0 {
		return m.regions[i]
	}
	return nil
}

func (m *MMU) AddRegion(r *Region) error {
	if r.Size == 0 {
		return errors.New("zero-sized region")
	}
	for _, other := range m.regions {
		if r.Base < other.End() && other.Base < r.End() {
			return errors.Errorf("region %s overlaps %s", r, other)
		}
	}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].Base < m.regions[j].Base
	})
	if r.Kind == KindSharedBuffer {
		m.shbufs[r.ShbufID] = r
	}
	return nil
}

func (m *MMU) RemoveRegion(r *Region) error {
	for i, other := range m.regions {
		if other == r {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			if r.Kind == KindSharedBuffer {
				delete(m.shbufs, r.ShbufID)
			}
			return nil
		}
	}
	return errors.Errorf("region %s not installed", r)
}

func (m *MMU) Regions() []*Region {
	return m.regions
}

func (m *MMU) ShbufRegion(id int32) *Region {
	return m.shbufs[id]
}

// SetTLSRegion installs the 4-byte TLS pointer region. It participates
// in normal address lookup like any other region.
func (m *MMU) SetTLSRegion(r *Region) error {
	if err := m.AddRegion(r); err != nil {
		return err
	}
	m.tls = r
	return nil
}

func (m *MMU) TLSRegion() *Region {
	return m.tls
}

// forAccess resolves a typed access that must land inside one region.
func (m *MMU) forAccess(addr, size uint32, write bool) (*Region, error) {
	unmapped, prot := MemReadUnmapped, MemReadProt
	if write {
		unmapped, prot = MemWriteUnmapped, MemWriteProt
	}
	r := m.FindRegion(addr)
	if r == nil || !r.ContainsRange(addr, size) {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: unmapped}
	}
	if write && !r.Writable || !write && !r.Readable {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: prot}
	}
	return r, nil
}

func (m *MMU) Read8(addr uint32) (shadow.Value, error) {
	r, err := m.forAccess(addr, 1, false)
	if err != nil {
		return shadow.Uninit8(), err
	}
	return r.Read8(addr - r.Base), nil
}

func (m *MMU) Read16(addr uint32) (shadow.Value, error) {
	r, err := m.forAccess(addr, 2, false)
	if err != nil {
		return shadow.Uninit16(), err
	}
	return r.Read16(addr - r.Base), nil
}

func (m *MMU) Read32(addr uint32) (shadow.Value, error) {
	r, err := m.forAccess(addr, 4, false)
	if err != nil {
		return shadow.Uninit32(), err
	}
	return r.Read32(addr - r.Base), nil
}

func (m *MMU) Write8(addr uint32, v shadow.Value) error {
	r, err := m.forAccess(addr, 1, true)
	if err != nil {
		return err
	}
	r.Write8(addr-r.Base, v)
	return nil
}

func (m *MMU) Write16(addr uint32, v shadow.Value) error {
	r, err := m.forAccess(addr, 2, true)
	if err != nil {
		return err
	}
	r.Write16(addr-r.Base, v)
	return nil
}

func (m *MMU) Write32(addr uint32, v shadow.Value) error {
	r, err := m.forAccess(addr, 4, true)
	if err != nil {
		return err
	}
	r.Write32(addr-r.Base, v)
	return nil
}

// Fetch reads instruction bytes, requiring execute permission.
func (m *MMU) Fetch(addr, size uint32) ([]byte, error) {
	r := m.FindRegion(addr)
	if r == nil || !r.ContainsRange(addr, size) {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: MemFetchUnmapped}
	}
	if !r.Executable {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: MemFetchProt}
	}
	o := addr - r.Base
	return r.Data[o : o+size], nil
}

// CopyFromVM copies guest memory into p, crossing region boundaries.
func (m *MMU) CopyFromVM(p []byte, addr uint32) error {
	for len(p) > 0 {
		r := m.FindRegion(addr)
		if r == nil || !r.Readable {
			enum := MemReadUnmapped
			if r != nil {
				enum = MemReadProt
			}
			return &MemError{Addr: addr, Size: len(p), Enum: enum}
		}
		o := addr - r.Base
		n := copy(p, r.Data[o:])
		addr, p = addr+uint32(n), p[n:]
	}
	return nil
}

// CopyToVM copies host bytes into guest memory and marks the
// destination initialized.
func (m *MMU) CopyToVM(addr uint32, p []byte) error {
	for len(p) > 0 {
		r := m.FindRegion(addr)
		if r == nil || !r.Writable {
			enum := MemWriteUnmapped
			if r != nil {
				enum = MemWriteProt
			}
			return &MemError{Addr: addr, Size: len(p), Enum: enum}
		}
		o := addr - r.Base
		n := copy(r.Data[o:], p)
		for i := uint32(0); i < uint32(n); i++ {
			r.Shadow[o+i] = 0x01
		}
		addr, p = addr+uint32(n), p[n:]
	}
	return nil
}

func (m *MMU) CopyBufferFromVM(addr, size uint32) ([]byte, error) {
	p := make([]byte, size)
	if err := m.CopyFromVM(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadStrAt reads a NUL-terminated guest string.
func (m *MMU) ReadStrAt(addr uint32) (string, error) {
	var out []byte
	for {
		r := m.FindRegion(addr)
		if r == nil || !r.Readable {
			return "", &MemError{Addr: addr, Size: 1, Enum: MemReadUnmapped}
		}
		o := addr - r.Base
		for _, b := range r.Data[o:] {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
			addr++
		}
	}
}
