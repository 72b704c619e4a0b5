package mmu

import (
	"encoding/binary"

	"github.com/lunixbochs/struc"
)

// MemIO is an io view of guest memory starting at Addr, advancing as it
// is read or written. Writes mark the destination initialized.
type MemIO struct {
	M    *MMU
	Addr uint32
}

func (m *MemIO) Read(p []byte) (int, error) {
	if err := m.M.CopyFromVM(p, m.Addr); err != nil {
		return 0, err
	}
	m.Addr += uint32(len(p))
	return len(p), nil
}

func (m *MemIO) Write(p []byte) (int, error) {
	if err := m.M.CopyToVM(m.Addr, p); err != nil {
		return 0, err
	}
	m.Addr += uint32(len(p))
	return len(p), nil
}

// StrucStream packs and unpacks guest-visible structs at a guest
// address, in the guest's byte order.
type StrucStream struct {
	Stream *MemIO
	Order  binary.ByteOrder
}

func (m *MMU) StreamAt(addr uint32) *StrucStream {
	return &StrucStream{
		Stream: &MemIO{M: m, Addr: addr},
		Order:  binary.LittleEndian,
	}
}

func (s *StrucStream) Pack(i interface{}) error {
	return struc.PackWithOrder(s.Stream, i, s.Order)
}

func (s *StrucStream) Unpack(i interface{}) error {
	return struc.UnpackWithOrder(s.Stream, i, s.Order)
}

func (s *StrucStream) Sizeof(i interface{}) (int, error) {
	return struc.Sizeof(i)
}
