package kernel

import (
	"syscall"

	"golang.org/x/sys/unix"

	co "github.com/codebutler/serenity/kernel/common"
)

func (k *Kernel) readFdSet(addr uint32) (*GuestFdSet, error) {
	if addr == 0 {
		return nil, nil
	}
	set := &GuestFdSet{}
	if err := k.U.Mmu().StreamAt(addr).Unpack(set); err != nil {
		return nil, err
	}
	return set, nil
}

func (k *Kernel) writeFdSet(addr uint32, set *GuestFdSet) error {
	if addr == 0 || set == nil {
		return nil
	}
	return k.U.Mmu().StreamAt(addr).Pack(set)
}

func toHostFdSet(set *GuestFdSet, nfds int) *unix.FdSet {
	if set == nil {
		return nil
	}
	host := &unix.FdSet{}
	for fd := 0; fd < nfds && fd < FdSetSize; fd++ {
		if set.IsSet(fd) {
			host.Set(fd)
		}
	}
	return host
}

func fromHostFdSet(host *unix.FdSet, nfds int) *GuestFdSet {
	if host == nil {
		return nil
	}
	set := &GuestFdSet{}
	for fd := 0; fd < nfds && fd < FdSetSize; fd++ {
		if host.IsSet(fd) {
			set.Set(fd)
		}
	}
	return set
}

func (k *Kernel) Select(params co.Buf) uint64 {
	var p SelectParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}

	readfds, err := k.readFdSet(p.Readfds)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	writefds, err := k.readFdSet(p.Writefds)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	exceptfds, err := k.readFdSet(p.Exceptfds)
	if err != nil {
		return Errno(syscall.EFAULT)
	}

	var timeout *unix.Timespec
	if p.Timeout != 0 {
		var ts Timespec
		if err := k.U.Mmu().StreamAt(p.Timeout).Unpack(&ts); err != nil {
			return Errno(syscall.EFAULT)
		}
		host := unix.NsecToTimespec(int64(ts.Sec)*1e9 + int64(ts.Nsec))
		timeout = &host
	}
	var sigmask *unix.Sigset_t
	if p.Sigmask != 0 {
		var mask uint32
		if err := k.U.Mmu().StreamAt(p.Sigmask).Unpack(&mask); err != nil {
			return Errno(syscall.EFAULT)
		}
		sigmask = &unix.Sigset_t{}
		sigmask.Val[0] = uint64(mask)
	}

	nfds := int(p.Nfds)
	r, w, e := toHostFdSet(readfds, nfds), toHostFdSet(writefds, nfds), toHostFdSet(exceptfds, nfds)
	n, err := unix.Pselect(nfds, r, w, e, timeout, sigmask)
	if err != nil {
		return Errno(err)
	}

	if err := k.writeFdSet(p.Readfds, fromHostFdSet(r, nfds)); err != nil {
		return Errno(syscall.EFAULT)
	}
	if err := k.writeFdSet(p.Writefds, fromHostFdSet(w, nfds)); err != nil {
		return Errno(syscall.EFAULT)
	}
	if err := k.writeFdSet(p.Exceptfds, fromHostFdSet(e, nfds)); err != nil {
		return Errno(syscall.EFAULT)
	}
	return uint64(n)
}
