package kernel

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	co "github.com/codebutler/serenity/kernel/common"
)

func (k *Kernel) Exit(status int) uint64 {
	k.U.Report("\n==%d==  \033[33;1mSyscall: exit(%d)\033[0m, shutting down!\n", k.U.Pid(), status)
	k.U.Exit(status)
	return 0
}

func (k *Kernel) Getpid() uint64 {
	return uint64(os.Getpid())
}

func (k *Kernel) Gettid() uint64 {
	return uint64(unix.Gettid())
}

func (k *Kernel) Getuid() uint64 {
	return uint64(os.Getuid())
}

func (k *Kernel) Getgid() uint64 {
	return uint64(os.Getgid())
}

func (k *Kernel) Setuid(uid int) uint64 {
	return Errno(syscall.Setuid(uid))
}

func (k *Kernel) Setgid(gid int) uint64 {
	return Errno(syscall.Setgid(gid))
}

func (k *Kernel) Getgroups(count int, groups co.Obuf) uint64 {
	gids, err := os.Getgroups()
	if err != nil {
		return Errno(syscall.EINVAL)
	}
	if count == 0 {
		return uint64(len(gids))
	}
	if count < len(gids) {
		return Errno(syscall.EINVAL)
	}
	st := groups.Struc()
	for _, g := range gids {
		if err := st.Pack(uint32(g)); err != nil {
			return Errno(syscall.EFAULT)
		}
	}
	return uint64(len(gids))
}

func (k *Kernel) Kill(pid, signal int) uint64 {
	return Errno(syscall.Kill(pid, syscall.Signal(signal)))
}

func (k *Kernel) Usleep(usec uint32) uint64 {
	time.Sleep(time.Duration(usec) * time.Microsecond)
	return 0
}

func (k *Kernel) Pledge(params co.Ptr) uint64 {
	return 0
}

func (k *Kernel) Unveil(params co.Ptr) uint64 {
	return 0
}

func (k *Kernel) SetProcessIcon(id int) uint64 {
	return 0
}

func (k *Kernel) GetProcessName(buf co.Obuf, size co.Len) uint64 {
	if int32(size) < 0 {
		return Errno(syscall.EINVAL)
	}
	name := filepath.Base(k.U.Exe())
	out := make([]byte, size)
	copy(out, name)
	if err := k.U.Mmu().CopyToVM(buf.Addr, out); err != nil {
		return Errno(syscall.EFAULT)
	}
	return 0
}

// Fork forwards to the host. The child's host memory is a copy-on-write
// clone, so both processes keep emulating with their own MMU contents.
func (k *Kernel) Fork() uint64 {
	rc, _, errno := syscall.RawSyscall(syscall.SYS_FORK, 0, 0, 0)
	if errno != 0 {
		return Errno(errno)
	}
	return uint64(rc)
}

// Execve re-executes the emulator itself with the extracted argv/envp
// appended, so the replacement process stays supervised.
func (k *Kernel) Execve(params co.Buf) uint64 {
	var p ExecveParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}

	path, err := k.U.Mmu().CopyBufferFromVM(p.Path.Chars, p.Path.Length)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	arguments, err := k.copyStringList(p.Arguments)
	if err != nil {
		return Errno(syscall.EFAULT)
	}
	environment, err := k.copyStringList(p.Environment)
	if err != nil {
		return Errno(syscall.EFAULT)
	}

	k.U.Report("\n==%d==  \033[33;1mSyscall:\033[0m execve %s\n", k.U.Pid(), path)
	for _, argument := range arguments {
		k.U.Report("==%d==    - %s\n", k.U.Pid(), argument)
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	argv := append([]string{self}, arguments...)
	if err := syscall.Exec(self, argv, environment); err != nil {
		return Errno(err)
	}
	return 0
}

func (k *Kernel) copyStringList(list StringList) ([]string, error) {
	out := make([]string, 0, list.Length)
	st := k.U.Mmu().StreamAt(list.Strings)
	for i := uint32(0); i < list.Length; i++ {
		var s StringArg
		if err := st.Unpack(&s); err != nil {
			return nil, err
		}
		buf, err := k.U.Mmu().CopyBufferFromVM(s.Chars, s.Length)
		if err != nil {
			return nil, err
		}
		out = append(out, string(buf))
	}
	return out, nil
}

func (k *Kernel) Waitpid(pid int, status co.Obuf, options int) uint64 {
	var ws syscall.WaitStatus
	rpid, err := syscall.Wait4(pid, &ws, options, nil)
	if err != nil {
		return Errno(err)
	}
	if status.Addr != 0 {
		if err := status.Pack(int32(ws)); err != nil {
			return Errno(syscall.EFAULT)
		}
	}
	return uint64(rpid)
}

func (k *Kernel) Umask(mask uint32) uint64 {
	return uint64(syscall.Umask(int(mask)))
}

func (k *Kernel) Getppid() uint64 {
	return uint64(os.Getppid())
}
