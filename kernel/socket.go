package kernel

import (
	"bytes"
	"encoding/binary"
	"syscall"

	"golang.org/x/sys/unix"

	co "github.com/codebutler/serenity/kernel/common"
)

func (k *Kernel) Socket(domain, typ, protocol int) uint64 {
	fd, err := syscall.Socket(domain, typ, protocol)
	if err != nil {
		return Errno(err)
	}
	return uint64(fd)
}

func (k *Kernel) Bind(fd co.Fd, addr co.Buf, length co.Len) uint64 {
	sa, err := k.sockaddrFromGuest(addr.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	return Errno(syscall.Bind(int(fd), sa))
}

func (k *Kernel) Connect(fd co.Fd, addr co.Buf, length co.Len) uint64 {
	sa, err := k.sockaddrFromGuest(addr.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	return Errno(syscall.Connect(int(fd), sa))
}

func (k *Kernel) Listen(fd co.Fd, backlog int) uint64 {
	return Errno(syscall.Listen(int(fd), backlog))
}

func (k *Kernel) Accept(fd co.Fd, addr co.Obuf, addrLength co.Ptr) uint64 {
	nfd, sa, err := syscall.Accept(int(fd))
	if err != nil {
		return Errno(err)
	}
	if addr.Addr != 0 && addrLength != 0 {
		var guestLen uint32
		if err := k.U.Mmu().StreamAt(uint32(addrLength)).Unpack(&guestLen); err != nil {
			return Errno(syscall.EFAULT)
		}
		raw := sockaddrToGuest(sa)
		if uint32(len(raw)) > guestLen {
			raw = raw[:guestLen]
		}
		if err := k.U.Mmu().CopyToVM(addr.Addr, raw); err != nil {
			return Errno(syscall.EFAULT)
		}
		if err := k.U.Mmu().StreamAt(uint32(addrLength)).Pack(uint32(len(raw))); err != nil {
			return Errno(syscall.EFAULT)
		}
	}
	return uint64(nfd)
}

func (k *Kernel) Setsockopt(params co.Buf) uint64 {
	var p SetsockoptParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}
	switch p.Option {
	case syscall.SO_RCVTIMEO:
		var tv Timeval
		if err := k.U.Mmu().StreamAt(p.Value).Unpack(&tv); err != nil {
			return Errno(syscall.EFAULT)
		}
		host := syscall.NsecToTimeval(int64(tv.Sec)*1e9 + int64(tv.Usec)*1e3)
		return Errno(syscall.SetsockoptTimeval(int(p.Sockfd), int(p.Level), syscall.SO_RCVTIMEO, &host))
	}
	k.U.Report("==%d==  Unsupported setsockopt option: %d\n", k.U.Pid(), p.Option)
	k.U.DumpBacktrace()
	k.U.Abort("unsupported setsockopt option %d", p.Option)
	return 0
}

func (k *Kernel) Getsockopt(params co.Buf) uint64 {
	var p GetsockoptParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}
	switch p.Option {
	case syscall.SO_PEERCRED:
		creds, err := unix.GetsockoptUcred(int(p.Sockfd), int(p.Level), unix.SO_PEERCRED)
		if err != nil {
			return Errno(err)
		}
		var valueSize uint32
		if err := k.U.Mmu().StreamAt(p.ValueSize).Unpack(&valueSize); err != nil {
			return Errno(syscall.EFAULT)
		}
		out := struct {
			Pid int32
			Uid uint32
			Gid uint32
		}{creds.Pid, creds.Uid, creds.Gid}
		if valueSize < 12 {
			return Errno(syscall.EINVAL)
		}
		if err := k.U.Mmu().StreamAt(p.Value).Pack(&out); err != nil {
			return Errno(syscall.EFAULT)
		}
		return 0
	}
	k.U.Report("==%d==  Unsupported getsockopt option: %d\n", k.U.Pid(), p.Option)
	k.U.DumpBacktrace()
	k.U.Abort("unsupported getsockopt option %d", p.Option)
	return 0
}

func (k *Kernel) Recvfrom(params co.Buf) uint64 {
	var p RecvfromParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}
	tmp := make([]byte, p.Buffer.Size)
	n, from, err := syscall.Recvfrom(int(p.Sockfd), tmp, int(p.Flags))
	if err != nil {
		return Errno(err)
	}
	if err := k.U.Mmu().CopyToVM(p.Buffer.Data, tmp[:n]); err != nil {
		return Errno(syscall.EFAULT)
	}
	if p.Addr != 0 && p.AddrLength != 0 {
		var guestLen uint32
		if err := k.U.Mmu().StreamAt(p.AddrLength).Unpack(&guestLen); err != nil {
			return Errno(syscall.EFAULT)
		}
		raw := sockaddrToGuest(from)
		if uint32(len(raw)) > guestLen {
			raw = raw[:guestLen]
		}
		if err := k.U.Mmu().CopyToVM(p.Addr, raw); err != nil {
			return Errno(syscall.EFAULT)
		}
		if err := k.U.Mmu().StreamAt(p.AddrLength).Pack(uint32(len(raw))); err != nil {
			return Errno(syscall.EFAULT)
		}
	}
	return uint64(n)
}

func (k *Kernel) sockaddrFromGuest(addr, length uint32) (syscall.Sockaddr, error) {
	raw, err := k.U.Mmu().CopyBufferFromVM(addr, length)
	if err != nil || len(raw) < 2 {
		return nil, syscall.EFAULT
	}
	family := binary.LittleEndian.Uint16(raw)
	switch family {
	case syscall.AF_UNIX:
		path := raw[2:]
		if i := bytes.IndexByte(path, 0); i >= 0 {
			path = path[:i]
		}
		return &syscall.SockaddrUnix{Name: string(path)}, nil
	case syscall.AF_INET:
		if len(raw) < 8 {
			return nil, syscall.EFAULT
		}
		sa := &syscall.SockaddrInet4{
			Port: int(binary.BigEndian.Uint16(raw[2:4])),
		}
		copy(sa.Addr[:], raw[4:8])
		return sa, nil
	}
	return nil, syscall.EAFNOSUPPORT
}

func sockaddrToGuest(sa syscall.Sockaddr) []byte {
	switch v := sa.(type) {
	case *syscall.SockaddrUnix:
		raw := make([]byte, 2+len(v.Name)+1)
		binary.LittleEndian.PutUint16(raw, syscall.AF_UNIX)
		copy(raw[2:], v.Name)
		return raw
	case *syscall.SockaddrInet4:
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint16(raw, syscall.AF_INET)
		binary.BigEndian.PutUint16(raw[2:4], uint16(v.Port))
		copy(raw[4:8], v.Addr[:])
		return raw
	}
	return nil
}
