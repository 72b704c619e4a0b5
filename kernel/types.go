package kernel

import (
	"syscall"
)

// Guest-visible parameter structs. Layouts mirror the guest libc's
// syscall header, packed little-endian through struc.

type StringArg struct {
	Chars  uint32
	Length uint32
}

// StringList points at a guest array of StringArgs.
type StringList struct {
	Strings uint32
	Length  uint32
}

type BufArg struct {
	Data uint32
	Size uint32
}

type OpenParams struct {
	Dirfd   int32
	Path    StringArg
	Options int32
	Mode    uint16
	Pad     [2]byte
}

type MmapParams struct {
	Addr      uint32
	Size      uint32
	Alignment uint32
	Prot      int32
	Flags     int32
	Fd        int32
	Offset    int32
	Name      StringArg
}

type StatParams struct {
	Path           StringArg
	Statbuf        uint32
	FollowSymlinks int32
}

type RealpathParams struct {
	Path   StringArg
	Buffer BufArg
}

type ExecveParams struct {
	Path        StringArg
	Arguments   StringList
	Environment StringList
}

type SetsockoptParams struct {
	Sockfd    int32
	Level     int32
	Option    int32
	Value     uint32
	ValueSize uint32
}

type GetsockoptParams struct {
	Sockfd    int32
	Level     int32
	Option    int32
	Value     uint32
	ValueSize uint32 // pointer to guest socklen_t
}

type RecvfromParams struct {
	Sockfd     int32
	Buffer     BufArg
	Flags      int32
	Addr       uint32
	AddrLength uint32 // pointer to guest socklen_t
}

type SelectParams struct {
	Nfds      int32
	Readfds   uint32
	Writefds  uint32
	Exceptfds uint32
	Timeout   uint32
	Sigmask   uint32
}

type Timeval struct {
	Sec  int32
	Usec int32
}

type Timespec struct {
	Sec  int32
	Nsec int32
}

type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// Stat is the guest's stat layout; every field is 32 bits.
type Stat struct {
	Dev     uint32
	Ino     uint32
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint32
	Size    int32
	Blksize int32
	Blocks  int32
	Atime   int32
	Mtime   int32
	Ctime   int32
}

func statFromHost(hs *syscall.Stat_t) *Stat {
	return &Stat{
		Dev:     uint32(hs.Dev),
		Ino:     uint32(hs.Ino),
		Mode:    uint32(hs.Mode),
		Nlink:   uint32(hs.Nlink),
		Uid:     hs.Uid,
		Gid:     hs.Gid,
		Rdev:    uint32(hs.Rdev),
		Size:    int32(hs.Size),
		Blksize: int32(hs.Blksize),
		Blocks:  int32(hs.Blocks),
		Atime:   int32(hs.Atim.Sec),
		Mtime:   int32(hs.Mtim.Sec),
		Ctime:   int32(hs.Ctim.Sec),
	}
}

// The guest fd_set is a 64-bit mask (FD_SETSIZE 64).
const FdSetSize = 64

type GuestFdSet struct {
	Bits [8]byte
}

func (f *GuestFdSet) IsSet(fd int) bool {
	return f.Bits[fd/8]&(1<<(uint(fd)&7)) != 0
}

func (f *GuestFdSet) Set(fd int) {
	f.Bits[fd/8] |= 1 << (uint(fd) & 7)
}
