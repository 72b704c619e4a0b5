package kernel

import (
	"syscall"

	"golang.org/x/sys/unix"

	co "github.com/codebutler/serenity/kernel/common"
)

func (k *Kernel) Ioctl(fd co.Fd, request uint32, arg co.Ptr) uint64 {
	switch request {
	case unix.TIOCGWINSZ:
		ws, err := unix.IoctlGetWinsize(int(fd), unix.TIOCGWINSZ)
		if err != nil {
			return Errno(err)
		}
		out := Winsize{Row: ws.Row, Col: ws.Col, Xpixel: ws.Xpixel, Ypixel: ws.Ypixel}
		if err := k.U.Mmu().StreamAt(uint32(arg)).Pack(&out); err != nil {
			return Errno(syscall.EFAULT)
		}
		return 0
	}
	k.U.Report("==%d==  Unsupported ioctl: %#x\n", k.U.Pid(), request)
	k.U.DumpBacktrace()
	k.U.Abort("unsupported ioctl %#x", request)
	return 0
}
