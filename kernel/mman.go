package kernel

import (
	"syscall"

	co "github.com/codebutler/serenity/kernel/common"
	"github.com/codebutler/serenity/mmu"
)

const (
	mapAnonymous = 0x20
)

func roundUpToPage(size uint32) uint32 {
	return (size + mmu.PageSize - 1) &^ (mmu.PageSize - 1)
}

func (k *Kernel) Mmap(params co.Buf) uint64 {
	var p MmapParams
	if err := params.Unpack(&p); err != nil {
		return Errno(syscall.EFAULT)
	}

	size := roundUpToPage(p.Size)
	base := k.U.AllocateVM(size, p.Alignment)

	var region *mmu.Region
	if p.Flags&mapAnonymous != 0 {
		region = mmu.NewMmapRegion(base, size, int(p.Prot), int(p.Flags), -1, 0, nil)
	} else {
		contents := make([]byte, p.Size)
		n, err := syscall.Pread(int(p.Fd), contents, int64(p.Offset))
		if err != nil {
			return Errno(err)
		}
		region = mmu.NewMmapRegion(base, size, int(p.Prot), int(p.Flags), p.Fd, int64(p.Offset), contents[:n])
	}
	if err := k.U.Mmu().AddRegion(region); err != nil {
		return Errno(syscall.ENOMEM)
	}
	return uint64(base)
}

func (k *Kernel) Munmap(addr co.Ptr, size co.Len) uint64 {
	region := k.U.Mmu().FindRegion(uint32(addr))
	if region == nil {
		return Errno(syscall.EINVAL)
	}
	if region.Size != roundUpToPage(uint32(size)) {
		k.U.Report("==%d==  munmap size %#x does not match region %s\n", k.U.Pid(), uint32(size), region)
		k.U.DumpBacktrace()
		k.U.Abort("partial munmap is not supported")
		return 0
	}
	if err := k.U.Mmu().RemoveRegion(region); err != nil {
		return Errno(syscall.EINVAL)
	}
	return 0
}

func (k *Kernel) Mprotect(addr co.Ptr, size co.Len, prot int) uint64 {
	return 0
}

func (k *Kernel) Madvise(addr co.Ptr, size co.Len, advice int) uint64 {
	return 0
}

func (k *Kernel) SetMmapName(params co.Buf) uint64 {
	return 0
}
