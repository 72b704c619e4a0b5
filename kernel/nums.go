package kernel

// Syscall numbers. The table must stay in lockstep with the syscall
// header the guest libc was compiled against.
const (
	SCYield = iota
	SCOpen
	SCClose
	SCRead
	SCLseek
	SCKill
	SCGetuid
	SCExit
	SCGetgid
	SCGetpid
	SCWaitpid
	SCMmap
	SCMunmap
	SCGetDirEntries
	SCGetcwd
	SCGettimeofday
	SCGethostname
	SCChdir
	SCUname
	SCSetMmapName
	SCReadlink
	SCWrite
	SCTtynameR
	SCStat
	SCGetsid
	SCSetsid
	SCGetpgid
	SCSetpgid
	SCGetpgrp
	SCFork
	SCExecve
	SCDup
	SCDup2
	SCSigaction
	SCUmask
	SCGetppid
	SCPipe
	SCKillpg
	SCSetuid
	SCSetgid
	SCAlarm
	SCFstat
	SCAccess
	SCFcntl
	SCIoctl
	SCMkdir
	SCTimes
	SCUtime
	SCSync
	SCPtsnameR
	SCSelect
	SCUnlink
	SCPoll
	SCRmdir
	SCChmod
	SCUsleep
	SCSocket
	SCBind
	SCAccept
	SCListen
	SCConnect
	SCLink
	SCChown
	SCFchmod
	SCSymlink
	SCShbufCreate
	SCShbufAllowPid
	SCShbufGet
	SCShbufRelease
	SCShbufSeal
	SCShbufSetVolatile
	SCShbufAllowAll
	SCSendto
	SCRecvfrom
	SCGetsockopt
	SCSetsockopt
	SCSigreturn
	SCSigprocmask
	SCSigpending
	SCGetgroups
	SCSetgroups
	SCClockGettime
	SCClockNanosleep
	SCGettid
	SCDonate
	SCRename
	SCFtruncate
	SCExitThread
	SCMknod
	SCWritev
	SCBeep
	SCGetrandom
	SCGetProcessName
	SCSetProcessName
	SCDbgputch
	SCDbgputstr
	SCDump
	SCMprotect
	SCRealpath
	SCGetProcessInformation
	SCSetProcessIcon
	SCMadvise
	SCMinherit
	SCPledge
	SCUnveil
	SCCount
)

// Names maps each number to the snake_case name the dispatch table is
// keyed by.
var Names = map[uint32]string{
	SCYield:             "yield",
	SCOpen:              "open",
	SCClose:             "close",
	SCRead:              "read",
	SCLseek:             "lseek",
	SCKill:              "kill",
	SCGetuid:            "getuid",
	SCExit:              "exit",
	SCGetgid:            "getgid",
	SCGetpid:            "getpid",
	SCWaitpid:           "waitpid",
	SCMmap:              "mmap",
	SCMunmap:            "munmap",
	SCGetDirEntries:     "get_dir_entries",
	SCGetcwd:            "getcwd",
	SCGettimeofday:      "gettimeofday",
	SCGethostname:       "gethostname",
	SCChdir:             "chdir",
	SCUname:             "uname",
	SCSetMmapName:       "set_mmap_name",
	SCReadlink:          "readlink",
	SCWrite:             "write",
	SCTtynameR:          "ttyname_r",
	SCStat:              "stat",
	SCGetsid:            "getsid",
	SCSetsid:            "setsid",
	SCGetpgid:           "getpgid",
	SCSetpgid:           "setpgid",
	SCGetpgrp:           "getpgrp",
	SCFork:              "fork",
	SCExecve:            "execve",
	SCDup:               "dup",
	SCDup2:              "dup2",
	SCSigaction:         "sigaction",
	SCUmask:             "umask",
	SCGetppid:           "getppid",
	SCPipe:              "pipe",
	SCKillpg:            "killpg",
	SCSetuid:            "setuid",
	SCSetgid:            "setgid",
	SCAlarm:             "alarm",
	SCFstat:             "fstat",
	SCAccess:            "access",
	SCFcntl:             "fcntl",
	SCIoctl:             "ioctl",
	SCMkdir:             "mkdir",
	SCTimes:             "times",
	SCUtime:             "utime",
	SCSync:              "sync",
	SCPtsnameR:          "ptsname_r",
	SCSelect:            "select",
	SCUnlink:            "unlink",
	SCPoll:              "poll",
	SCRmdir:             "rmdir",
	SCChmod:             "chmod",
	SCUsleep:            "usleep",
	SCSocket:            "socket",
	SCBind:              "bind",
	SCAccept:            "accept",
	SCListen:            "listen",
	SCConnect:           "connect",
	SCLink:              "link",
	SCChown:             "chown",
	SCFchmod:            "fchmod",
	SCSymlink:           "symlink",
	SCShbufCreate:       "shbuf_create",
	SCShbufAllowPid:     "shbuf_allow_pid",
	SCShbufGet:          "shbuf_get",
	SCShbufRelease:      "shbuf_release",
	SCShbufSeal:         "shbuf_seal",
	SCShbufSetVolatile:  "shbuf_set_volatile",
	SCShbufAllowAll:     "shbuf_allow_all",
	SCSendto:            "sendto",
	SCRecvfrom:          "recvfrom",
	SCGetsockopt:        "getsockopt",
	SCSetsockopt:        "setsockopt",
	SCSigreturn:         "sigreturn",
	SCSigprocmask:       "sigprocmask",
	SCSigpending:        "sigpending",
	SCGetgroups:         "getgroups",
	SCSetgroups:         "setgroups",
	SCClockGettime:      "clock_gettime",
	SCClockNanosleep:    "clock_nanosleep",
	SCGettid:            "gettid",
	SCDonate:            "donate",
	SCRename:            "rename",
	SCFtruncate:         "ftruncate",
	SCExitThread:        "exit_thread",
	SCMknod:             "mknod",
	SCWritev:            "writev",
	SCBeep:              "beep",
	SCGetrandom:         "getrandom",
	SCGetProcessName:    "get_process_name",
	SCSetProcessName:    "set_process_name",
	SCDbgputch:          "dbgputch",
	SCDbgputstr:         "dbgputstr",
	SCDump:              "dump",
	SCMprotect:          "mprotect",
	SCRealpath:          "realpath",
	SCSetProcessIcon:    "set_process_icon",
	SCMadvise:           "madvise",
	SCMinherit:          "minherit",
	SCPledge:            "pledge",
	SCUnveil:            "unveil",
	SCGetProcessInformation: "get_process_information",
}
