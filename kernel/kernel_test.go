package kernel

import (
	"os"
	"testing"

	"github.com/codebutler/serenity/mmu"
)

type mockEmu struct {
	m      *mmu.MMU
	exit   int
	exited bool
	nextVM uint32
}

func newMockEmu() *mockEmu {
	return &mockEmu{m: mmu.New(), nextVM: 0x30000000}
}

func (e *mockEmu) Mmu() *mmu.MMU                             { return e.m }
func (e *mockEmu) Pid() int                                  { return os.Getpid() }
func (e *mockEmu) Exe() string                               { return "mock" }
func (e *mockEmu) Args() []string                            { return []string{"mock"} }
func (e *mockEmu) Report(format string, args ...interface{}) {}
func (e *mockEmu) DumpBacktrace()                            {}
func (e *mockEmu) Abort(format string, args ...interface{})  { panic("abort: " + format) }
func (e *mockEmu) Exit(status int)                           { e.exit = status; e.exited = true }

func (e *mockEmu) AllocateVM(size, alignment uint32) uint32 {
	if alignment == 0 {
		alignment = mmu.PageSize
	}
	base := (e.nextVM + alignment - 1) &^ (alignment - 1)
	e.nextVM = base + size
	return base
}

func testKernel(t *testing.T) (*Kernel, *mockEmu) {
	t.Helper()
	u := newMockEmu()
	if err := u.m.AddRegion(mmu.NewSimpleRegion(0x1000, 0x10000)); err != nil {
		t.Fatal(err)
	}
	return New(u), u
}

func TestExit(t *testing.T) {
	k, u := testKernel(t)
	k.Dispatch(SCExit, 42, 0, 0)
	if !u.exited || u.exit != 42 {
		t.Fatalf("exit = %d exited=%v", u.exit, u.exited)
	}
}

func TestWriteFromGuest(t *testing.T) {
	k, u := testKernel(t)
	if err := u.m.CopyToVM(0x2000, []byte("hi\n")); err != nil {
		t.Fatal(err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	ret := k.Dispatch(SCWrite, uint32(w.Fd()), 0x2000, 3)
	if ret != 3 {
		t.Fatalf("write returned %d", int32(ret))
	}
	buf := make([]byte, 3)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hi\n" {
		t.Fatalf("host received %q", buf)
	}
}

func TestReadIntoGuest(t *testing.T) {
	k, u := testKernel(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := w.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	ret := k.Dispatch(SCRead, uint32(r.Fd()), 0x3000, 4)
	if ret != 4 {
		t.Fatalf("read returned %d", int32(ret))
	}
	got, err := u.m.CopyBufferFromVM(0x3000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Fatalf("guest buffer = %q", got)
	}
	// read destination must be marked initialized
	v, err := u.m.Read8(0x3000)
	if err != nil || v.IsUninitialized() {
		t.Fatalf("read destination shadow uninit=%v err=%v", v.IsUninitialized(), err)
	}
}

func TestBadFdBecomesErrno(t *testing.T) {
	k, u := testKernel(t)
	if err := u.m.CopyToVM(0x2000, []byte("x")); err != nil {
		t.Fatal(err)
	}
	ret := k.Dispatch(SCWrite, 0xffff, 0x2000, 1)
	if int32(ret) >= 0 {
		t.Fatalf("write to bad fd returned %d, want negative errno", int32(ret))
	}
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	k, u := testKernel(t)
	params := MmapParams{
		Size:  100,
		Prot:  mmu.ProtRead | mmu.ProtWrite,
		Flags: mapAnonymous,
		Fd:    -1,
	}
	if err := u.m.StreamAt(0x4000).Pack(&params); err != nil {
		t.Fatal(err)
	}
	before := len(u.m.Regions())
	base := k.Dispatch(SCMmap, 0x4000, 0, 0)
	if base%mmu.PageSize != 0 {
		t.Fatalf("mmap base %#x not page aligned", base)
	}
	region := u.m.FindRegion(base)
	if region == nil || region.Kind != mmu.KindMmap || region.Size != mmu.PageSize {
		t.Fatalf("mmap region = %v", region)
	}
	// fresh anonymous memory is uninitialized
	v, err := u.m.Read8(base)
	if err != nil || !v.IsUninitialized() {
		t.Fatalf("fresh mmap shadow uninit=%v err=%v", v.IsUninitialized(), err)
	}

	if ret := k.Dispatch(SCMunmap, base, 100, 0); ret != 0 {
		t.Fatalf("munmap = %d", int32(ret))
	}
	if len(u.m.Regions()) != before {
		t.Fatal("munmap did not restore the region set")
	}
}

func TestShbufLifecycle(t *testing.T) {
	k, u := testKernel(t)
	id := k.Dispatch(SCShbufCreate, 4096, 0x5000, 0)
	if int32(id) <= 0 {
		t.Fatalf("shbuf_create = %d", int32(id))
	}
	var base uint32
	if err := u.m.StreamAt(0x5000).Unpack(&base); err != nil {
		t.Fatal(err)
	}
	region := u.m.FindRegion(base)
	if region == nil || region.Kind != mmu.KindSharedBuffer {
		t.Fatalf("shbuf region = %v", region)
	}

	if ret := k.Dispatch(SCShbufSeal, id, 0, 0); ret != 0 {
		t.Fatalf("seal = %d", int32(ret))
	}
	if ret := k.Dispatch(SCShbufAllowPid, id, 1234, 0); int32(ret) >= 0 {
		t.Fatal("allow_pid after seal should fail")
	}
	if ret := k.Dispatch(SCShbufRelease, id, 0, 0); ret != 0 {
		t.Fatalf("release = %d", int32(ret))
	}
	if u.m.FindRegion(base) != nil {
		t.Fatal("region should be gone after release")
	}
}

func TestUnimplementedSyscallAborts(t *testing.T) {
	k, _ := testKernel(t)
	defer func() {
		if recover() == nil {
			t.Fatal("unknown syscall should abort")
		}
	}()
	k.Dispatch(0xffff, 0, 0, 0)
}

func TestNoopSyscalls(t *testing.T) {
	k, _ := testKernel(t)
	for _, fn := range []uint32{SCPledge, SCUnveil, SCMprotect, SCMadvise, SCSetMmapName} {
		if ret := k.Dispatch(fn, 0, 0, 0); ret != 0 {
			t.Fatalf("syscall %s should be a successful no-op, got %d", Names[fn], int32(ret))
		}
	}
}

func TestGettimeofday(t *testing.T) {
	k, u := testKernel(t)
	if ret := k.Dispatch(SCGettimeofday, 0x6000, 0, 0); ret != 0 {
		t.Fatalf("gettimeofday = %d", int32(ret))
	}
	var tv Timeval
	if err := u.m.StreamAt(0x6000).Unpack(&tv); err != nil {
		t.Fatal(err)
	}
	if tv.Sec == 0 {
		t.Fatal("gettimeofday wrote no seconds")
	}
}

func TestGetProcessName(t *testing.T) {
	k, u := testKernel(t)
	if ret := k.Dispatch(SCGetProcessName, 0x7000, 16, 0); ret != 0 {
		t.Fatalf("get_process_name = %d", int32(ret))
	}
	s, err := u.m.ReadStrAt(0x7000)
	if err != nil {
		t.Fatal(err)
	}
	if s != "mock" {
		t.Fatalf("process name = %q", s)
	}
}
