package emulator

import (
	"os"
	"testing"

	"github.com/codebutler/serenity/cpu"
	"github.com/codebutler/serenity/kernel"
	"github.com/codebutler/serenity/loader"
	"github.com/codebutler/serenity/mmu"
	"github.com/codebutler/serenity/mtrace"
	"github.com/codebutler/serenity/shadow"
)

const textBase = 0x8048000

// testEmulator wires an emulator around a raw code image instead of a
// parsed executable.
func testEmulator(t *testing.T, code []byte, args, env []string) *Emulator {
	t.Helper()
	e := &Emulator{
		mem:    mmu.New(),
		ldr:    &loader.Loader{},
		exe:    "test",
		args:   args,
		pid:    os.Getpid(),
		nextVM: vmBase,
	}
	e.cpu = cpu.New(e.mem, e)
	e.kernel = kernel.New(e)
	e.tracer = mtrace.New(e)

	text := mmu.NewSimpleRegion(textBase, 0x1000)
	copy(text.Data, code)
	for i := range code {
		text.Shadow[i] = 0x01
	}
	text.Writable = false
	text.Executable = true
	text.Text = true
	if err := e.mem.AddRegion(text); err != nil {
		t.Fatal(err)
	}
	e.cpu.SetEIP(textBase)
	if err := e.setupStack(args, env); err != nil {
		t.Fatal(err)
	}
	return e
}

func mov(reg byte, v uint32) []byte {
	return []byte{0xb8 + reg, byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func syscall3(fn, a1, a2, a3 uint32) []byte {
	var code []byte
	code = append(code, mov(0, fn)...)
	code = append(code, mov(3, a1)...) // ebx
	code = append(code, mov(1, a2)...) // ecx
	code = append(code, mov(2, a3)...) // edx
	return append(code, 0xcd, 0x82)
}

func TestExitStatus(t *testing.T) {
	code := syscall3(kernel.SCExit, 42, 0, 0)
	e := testEmulator(t, code, []string{"test"}, nil)
	status, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	if status != 42 {
		t.Fatalf("exit status = %d, want 42", status)
	}
	if len(e.Tracer().LiveChunks()) != 0 {
		t.Fatal("no allocations were made, leak list should be empty")
	}
}

func TestWriteReachesHost(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// stage "hi\n" in the stack region
	dataAddr := uint32(StackBase + 0x100)
	code := syscall3(kernel.SCWrite, uint32(w.Fd()), dataAddr, 3)
	code = append(code, 0x89, 0xc3)                       // mov ebx, eax
	code = append(code, mov(0, kernel.SCExit)...)         // mov eax, SCExit
	code = append(code, 0xcd, 0x82)                       // int 0x82

	e := testEmulator(t, code, []string{"test"}, nil)
	if err := e.mem.CopyToVM(dataAddr, []byte("hi\n")); err != nil {
		t.Fatal(err)
	}
	status, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if status != 3 {
		t.Fatalf("write returned %d, want 3", status)
	}
	buf := make([]byte, 3)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hi\n" {
		t.Fatalf("host stdout side received %q", buf)
	}
}

func TestStackLayout(t *testing.T) {
	args := []string{"prog", "arg1"}
	env := []string{"TERM=dumb"}
	e := testEmulator(t, nil, args, env)

	esp := e.cpu.Reg(cpu.ESP).U32()
	read32 := func(addr uint32) uint32 {
		t.Helper()
		v, err := e.mem.Read32(addr)
		if err != nil {
			t.Fatal(err)
		}
		if v.IsUninitialized() {
			t.Fatalf("stack word at %#x is uninitialized", addr)
		}
		return v.U32()
	}

	if read32(esp) != 0 {
		t.Fatal("top of stack should hold the alignment word")
	}
	argc := read32(esp + 4)
	argv := read32(esp + 8)
	envp := read32(esp + 12)
	if argc != uint32(len(args)) {
		t.Fatalf("argc = %d, want %d", argc, len(args))
	}
	for i, want := range args {
		p := read32(argv + uint32(4*i))
		if p < StackBase || p >= StackBase+StackSize {
			t.Fatalf("argv[%d] = %#x points outside the stack", i, p)
		}
		s, err := e.mem.ReadStrAt(p)
		if err != nil {
			t.Fatal(err)
		}
		if s != want {
			t.Fatalf("argv[%d] = %q, want %q", i, s, want)
		}
	}
	if read32(argv+uint32(4*len(args))) != 0 {
		t.Fatal("argv must be NULL terminated")
	}
	if s, _ := e.mem.ReadStrAt(read32(envp)); s != "TERM=dumb" {
		t.Fatalf("envp[0] = %q", s)
	}
	if read32(envp+uint32(4*len(env))) != 0 {
		t.Fatal("envp must be NULL terminated")
	}
}

func TestTaintViolationIsNonFatal(t *testing.T) {
	// read an uninitialized stack slot, branch on it, then exit 0
	code := []byte{
		0x8b, 0x44, 0x24, 0xf0, // mov eax, [esp-16]
		0x85, 0xc0, // test eax, eax
		0x74, 0x00, // je +0
	}
	code = append(code, syscall3(kernel.SCExit, 0, 0, 0)...)
	e := testEmulator(t, code, []string{"test"}, nil)
	status, err := e.Run()
	if err != nil {
		t.Fatal(err)
	}
	if status != 0 {
		t.Fatalf("exit status = %d", status)
	}
	if e.TaintViolations() == 0 {
		t.Fatal("expected at least one taint violation diagnostic")
	}
}

func TestMemoryFaultIsFatal(t *testing.T) {
	code := []byte{
		0xa1, 0x00, 0x00, 0xf0, 0x0f, // mov eax, [0x0ff00000] (unmapped)
	}
	e := testEmulator(t, code, []string{"test"}, nil)
	_, err := e.Run()
	if err == nil {
		t.Fatal("unmapped read should abort the run")
	}
	if _, ok := err.(*mmu.MemError); !ok {
		t.Fatalf("error type = %T", err)
	}
}

func TestAllocateVM(t *testing.T) {
	e := testEmulator(t, nil, []string{"test"}, nil)
	a := e.AllocateVM(100, 0)
	b := e.AllocateVM(mmu.PageSize, mmu.PageSize)
	if a < vmBase || a%mmu.PageSize != 0 {
		t.Fatalf("first allocation %#x", a)
	}
	if b <= a {
		t.Fatalf("allocations must not overlap: %#x then %#x", a, b)
	}
	if b%mmu.PageSize != 0 {
		t.Fatalf("allocation %#x not aligned", b)
	}
}

func TestBacktraceWalksFramePointers(t *testing.T) {
	e := testEmulator(t, nil, []string{"test"}, nil)
	// build two fake frames on the stack
	fp1 := uint32(StackBase + 0x200)
	fp2 := uint32(StackBase + 0x300)
	mustWrite := func(addr, v uint32) {
		t.Helper()
		if err := e.mem.CopyToVM(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(fp1, fp2)          // saved ebp
	mustWrite(fp1+4, 0x8048111)  // return address
	mustWrite(fp2, 0)            // end of chain
	mustWrite(fp2+4, 0x8048222)  // return address
	e.cpu.SetReg(cpu.EBP, shadow.Init32(fp1))
	e.cpu.SaveBaseEIP()

	bt := e.RawBacktrace()
	if len(bt) != 3 {
		t.Fatalf("backtrace = %#v", bt)
	}
	if bt[1] != 0x8048111 || bt[2] != 0x8048222 {
		t.Fatalf("backtrace = %#v", bt)
	}
}

func TestIsInMallocOrFree(t *testing.T) {
	e := testEmulator(t, nil, []string{"test"}, nil)
	e.mallocStart, e.mallocEnd = 0x8048100, 0x8048180
	e.cpu.SetEIP(0x8048110)
	e.cpu.SaveBaseEIP()
	if !e.IsInMallocOrFree() {
		t.Fatal("address inside malloc range")
	}
	e.cpu.SetEIP(0x8048200)
	e.cpu.SaveBaseEIP()
	if e.IsInMallocOrFree() {
		t.Fatal("address outside both ranges")
	}
}

func TestLeakScenarios(t *testing.T) {
	e := testEmulator(t, nil, []string{"test"}, nil)
	tr := e.Tracer()

	// allocate, then free: no leaks
	tr.DidMalloc(0x30000000, 16)
	tr.DidFree(0x30000000)
	if n := len(tr.LiveChunks()); n != 0 {
		t.Fatalf("live chunks after free = %d", n)
	}

	// allocate and forget: one 16-byte leak
	tr.DidMalloc(0x30001000, 16)
	leaks := tr.LiveChunks()
	if len(leaks) != 1 || leaks[0].Size != 16 {
		t.Fatalf("leaks = %#v", leaks)
	}
}
