package kernel

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"

	co "github.com/codebutler/serenity/kernel/common"
)

func (k *Kernel) Read(fd co.Fd, buf co.Obuf, size co.Len) uint64 {
	tmp := make([]byte, size)
	n, err := syscall.Read(int(fd), tmp)
	if err != nil {
		return Errno(err)
	}
	if err := k.U.Mmu().CopyToVM(buf.Addr, tmp[:n]); err != nil {
		return Errno(syscall.EFAULT)
	}
	return uint64(n)
}

func (k *Kernel) Write(fd co.Fd, data co.Buf, size co.Len) uint64 {
	buf, err := k.U.Mmu().CopyBufferFromVM(data.Addr, uint32(size))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	n, err := syscall.Write(int(fd), buf)
	if err != nil {
		return Errno(err)
	}
	return uint64(n)
}

func (k *Kernel) Open(params co.Buf) uint64 {
	var p OpenParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}
	path, err := k.U.Mmu().CopyBufferFromVM(p.Path.Chars, p.Path.Length)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	fd, err := syscall.Open(string(path), int(p.Options), uint32(p.Mode))
	if err != nil {
		return Errno(err)
	}
	return uint64(fd)
}

func (k *Kernel) Close(fd co.Fd) uint64 {
	return Errno(syscall.Close(int(fd)))
}

func (k *Kernel) Lseek(fd co.Fd, offset co.Off, whence int) uint64 {
	off, err := syscall.Seek(int(fd), int64(offset), whence)
	if err != nil {
		return Errno(err)
	}
	return uint64(off)
}

func (k *Kernel) Fstat(fd co.Fd, buf co.Obuf) uint64 {
	var hs syscall.Stat_t
	if err := syscall.Fstat(int(fd), &hs); err != nil {
		return Errno(err)
	}
	if err := buf.Pack(statFromHost(&hs)); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

func (k *Kernel) Stat(params co.Buf) uint64 {
	var p StatParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}
	path, err := k.U.Mmu().CopyBufferFromVM(p.Path.Chars, p.Path.Length)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	var hs syscall.Stat_t
	if p.FollowSymlinks != 0 {
		err = syscall.Stat(string(path), &hs)
	} else {
		err = syscall.Lstat(string(path), &hs)
	}
	if err != nil {
		return Errno(err)
	}
	if err := k.U.Mmu().StreamAt(p.Statbuf).Pack(statFromHost(&hs)); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

func (k *Kernel) Realpath(params co.Buf) uint64 {
	var p RealpathParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}
	path, err := k.U.Mmu().CopyBufferFromVM(p.Path.Chars, p.Path.Length)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	resolved, err := filepath.EvalSymlinks(string(path))
	if err != nil {
		return Errno(syscall.ENOENT)
	}
	resolved, _ = filepath.Abs(resolved)
	out := []byte(resolved + "\x00")
	if uint32(len(out)) > p.Buffer.Size {
		out = out[:p.Buffer.Size]
	}
	if err := k.U.Mmu().CopyToVM(p.Buffer.Data, out); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

func (k *Kernel) Mkdir(path co.Buf, length co.Len, mode uint32) uint64 {
	buf, err := k.U.Mmu().CopyBufferFromVM(path.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	return Errno(syscall.Mkdir(string(buf), mode))
}

func (k *Kernel) Unlink(path co.Buf, length co.Len) uint64 {
	buf, err := k.U.Mmu().CopyBufferFromVM(path.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	return Errno(syscall.Unlink(string(buf)))
}

func (k *Kernel) Pipe(fds co.Obuf, flags int) uint64 {
	var pair [2]int
	if err := syscall.Pipe(pair[:]); err != nil {
		return Errno(err)
	}
	st := fds.Struc()
	if err := st.Pack(int32(pair[0])); err != nil {
		return Errno(syscall.EFAULT)
	}
	if err := st.Pack(int32(pair[1])); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

// the guest's F_ISTTY has no host command; it is answered locally
const fIsTTY = 5

// whitelist of passed-through fcntl commands; anything else is fatal
var fcntlCmds = map[int]bool{
	syscall.F_DUPFD: true,
	syscall.F_GETFD: true,
	syscall.F_SETFD: true,
	syscall.F_GETFL: true,
	syscall.F_SETFL: true,
}

func (k *Kernel) Fcntl(fd co.Fd, cmd int, arg uint32) uint64 {
	if cmd == fIsTTY {
		if isatty.IsTerminal(uintptr(fd)) {
			return 1
		}
		return 0
	}
	if !fcntlCmds[cmd] {
		k.U.Report("==%d==  Unsupported fcntl command: %d\n", k.U.Pid(), cmd)
		k.U.DumpBacktrace()
		k.U.Abort("unsupported fcntl command %d", cmd)
		return 0
	}
	ret, err := unix.FcntlInt(uintptr(fd), cmd, int(arg))
	if err != nil {
		return Errno(err)
	}
	return uint64(ret)
}

func (k *Kernel) GetDirEntries(fd co.Fd, buf co.Obuf, size co.Len) uint64 {
	tmp := make([]byte, size)
	n, err := unix.Getdents(int(fd), tmp)
	if err != nil {
		return Errno(err)
	}
	if err := k.U.Mmu().CopyToVM(buf.Addr, tmp[:n]); err != nil {
		return Errno(syscall.EFAULT)
	}
	return uint64(n)
}

func (k *Kernel) Getrandom(buf co.Obuf, size co.Len, flags uint32) uint64 {
	tmp := make([]byte, size)
	n, err := unix.Getrandom(tmp, int(flags))
	if err != nil {
		return Errno(err)
	}
	if err := k.U.Mmu().CopyToVM(buf.Addr, tmp[:n]); err != nil {
		return Errno(syscall.EFAULT)
	}
	return uint64(n)
}

func (k *Kernel) Gethostname(buf co.Obuf, size co.Len) uint64 {
	name, err := os.Hostname()
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	out := []byte(name + "\x00")
	if uint32(len(out)) > uint32(size) {
		return Errno(syscall.ENAMETOOLONG)
	}
	if err := k.U.Mmu().CopyToVM(buf.Addr, out); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

func (k *Kernel) Dbgputstr(chars co.Buf, length co.Len) uint64 {
	buf, err := k.U.Mmu().CopyBufferFromVM(chars.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	os.Stderr.Write(buf)
	return 0
}

func (k *Kernel) Dbgputch(ch uint32) uint64 {
	os.Stderr.Write([]byte{byte(ch)})
	return 0
}

func (k *Kernel) Fchmod(fd co.Fd, mode uint32) uint64 {
	return Errno(syscall.Fchmod(int(fd), mode))
}

func (k *Kernel) Dup(fd co.Fd) uint64 {
	nfd, err := syscall.Dup(int(fd))
	if err != nil {
		return Errno(err)
	}
	return uint64(nfd)
}

func (k *Kernel) Dup2(oldFd, newFd co.Fd) uint64 {
	if err := syscall.Dup2(int(oldFd), int(newFd)); err != nil {
		return Errno(err)
	}
	return uint64(newFd)
}

func (k *Kernel) Getcwd(buf co.Obuf, size co.Len) uint64 {
	wd, err := os.Getwd()
	if err != nil {
		return Errno(syscall.ENOENT)
	}
	out := []byte(wd + "\x00")
	if uint32(len(out)) > uint32(size) {
		return Errno(syscall.ERANGE)
	}
	if err := k.U.Mmu().CopyToVM(buf.Addr, out); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

func (k *Kernel) Chdir(path co.Buf, length co.Len) uint64 {
	buf, err := k.U.Mmu().CopyBufferFromVM(path.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	return Errno(syscall.Chdir(string(buf)))
}

func (k *Kernel) Access(path co.Buf, length co.Len, mode uint32) uint64 {
	buf, err := k.U.Mmu().CopyBufferFromVM(path.Addr, uint32(length))
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	return Errno(syscall.Access(string(buf), mode))
}
