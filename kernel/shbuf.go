package kernel

import (
	"syscall"

	co "github.com/codebutler/serenity/kernel/common"
	"github.com/codebutler/serenity/mmu"
)

// Shared buffers alias host-visible storage. Without a host that hands
// out cross-process mappings these are backed by emulator-owned
// buffers, which preserves every guest-visible property except
// cross-process aliasing.

func (k *Kernel) ShbufCreate(size int, buffer co.Obuf) uint64 {
	if size <= 0 {
		return Errno(syscall.EINVAL)
	}
	id := k.nextShbufID
	k.nextShbufID++
	host := make([]byte, roundUpToPage(uint32(size)))
	k.shbufs[id] = host

	base := k.U.AllocateVM(uint32(len(host)), mmu.PageSize)
	region := mmu.NewSharedBufferRegion(base, id, host)
	if err := k.U.Mmu().AddRegion(region); err != nil {
		return Errno(syscall.ENOMEM)
	}
	if err := buf32(buffer, base); err != nil {
		return Errno(syscall.EFAULT)
	}
	return uint64(id)
}

func (k *Kernel) ShbufGet(id int, sizeOut co.Obuf) uint64 {
	host, ok := k.shbufs[int32(id)]
	if !ok {
		return Errno(syscall.EINVAL)
	}
	base := k.U.AllocateVM(uint32(len(host)), mmu.PageSize)
	region := mmu.NewSharedBufferRegion(base, int32(id), host)
	if err := k.U.Mmu().AddRegion(region); err != nil {
		return Errno(syscall.ENOMEM)
	}
	if err := buf32(sizeOut, uint32(len(host))); err != nil {
		return Errno(syscall.EFAULT)
	}
	return uint64(base)
}

func (k *Kernel) ShbufAllowPid(id int, pid int) uint64 {
	region := k.U.Mmu().ShbufRegion(int32(id))
	if region == nil {
		return Errno(syscall.EINVAL)
	}
	if region.AllowPid(int32(pid)) != 0 {
		return Errno(syscall.EPERM)
	}
	return 0
}

func (k *Kernel) ShbufAllowAll(id int) uint64 {
	region := k.U.Mmu().ShbufRegion(int32(id))
	if region == nil {
		return Errno(syscall.EINVAL)
	}
	if region.AllowAll() != 0 {
		return Errno(syscall.EPERM)
	}
	return 0
}

func (k *Kernel) ShbufSeal(id int) uint64 {
	region := k.U.Mmu().ShbufRegion(int32(id))
	if region == nil {
		return Errno(syscall.EINVAL)
	}
	region.Seal()
	return 0
}

func (k *Kernel) ShbufSetVolatile(id int, isVolatile int) uint64 {
	region := k.U.Mmu().ShbufRegion(int32(id))
	if region == nil {
		return Errno(syscall.EINVAL)
	}
	region.SetVolatile(isVolatile != 0)
	return 0
}

func (k *Kernel) ShbufRelease(id int) uint64 {
	region := k.U.Mmu().ShbufRegion(int32(id))
	if region == nil {
		return Errno(syscall.EINVAL)
	}
	if err := k.U.Mmu().RemoveRegion(region); err != nil {
		return Errno(syscall.EINVAL)
	}
	delete(k.shbufs, int32(id))
	return 0
}

// buf32 writes one little-endian u32 through an output pointer.
func buf32(buf co.Obuf, v uint32) error {
	return buf.Pack(v)
}
