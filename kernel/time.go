package kernel

import (
	"syscall"

	"golang.org/x/sys/unix"

	co "github.com/codebutler/serenity/kernel/common"
)

func (k *Kernel) Gettimeofday(tv co.Obuf) uint64 {
	var host syscall.Timeval
	if err := syscall.Gettimeofday(&host); err != nil {
		return Errno(err)
	}
	out := Timeval{Sec: int32(host.Sec), Usec: int32(host.Usec)}
	if err := tv.Pack(&out); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

func (k *Kernel) ClockGettime(clockid int, ts co.Obuf) uint64 {
	var host unix.Timespec
	if err := unix.ClockGettime(int32(clockid), &host); err != nil {
		return Errno(err)
	}
	out := Timespec{Sec: int32(host.Sec), Nsec: int32(host.Nsec)}
	if err := ts.Pack(&out); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}
