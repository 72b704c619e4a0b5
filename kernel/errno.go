package kernel

import (
	"syscall"
)

// Errno translates a host error into the guest's negative-errno return
// convention.
func Errno(err error) uint64 {
	if err == nil {
		return 0
	}
	if errno, ok := err.(syscall.Errno); ok {
		return uint64(int64(-errno))
	}
	einval := int64(syscall.EINVAL)
	return uint64(-einval)
}
