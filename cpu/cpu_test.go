package cpu

import (
	"testing"

	"github.com/codebutler/serenity/mmu"
	"github.com/codebutler/serenity/shadow"
)

const (
	textBase  = 0x8048000
	stackBase = 0x10000000
	stackSize = 0x10000
)

type stubEnv struct {
	taints   int
	syscalls []([4]uint32)
	sysRet   uint32
}

func (s *stubEnv) ReportTaint(format string, args ...interface{}) {
	s.taints++
}

func (s *stubEnv) Syscall(fn, a1, a2, a3 uint32) uint32 {
	s.syscalls = append(s.syscalls, [4]uint32{fn, a1, a2, a3})
	return s.sysRet
}

// testCPU maps a text region holding code and a stack, then returns a
// CPU ready to step from the first instruction.
func testCPU(t *testing.T, code []byte) (*CPU, *stubEnv, *mmu.MMU) {
	t.Helper()
	m := mmu.New()
	text := mmu.NewSimpleRegion(textBase, 0x1000)
	copy(text.Data, code)
	for i := range code {
		text.Shadow[i] = 0x01
	}
	text.Writable = false
	text.Executable = true
	text.Text = true
	if err := m.AddRegion(text); err != nil {
		t.Fatal(err)
	}
	stack := mmu.NewSimpleRegion(stackBase, stackSize)
	stack.Stack = true
	if err := m.AddRegion(stack); err != nil {
		t.Fatal(err)
	}
	env := &stubEnv{}
	c := New(m, env)
	c.SetEIP(textBase)
	c.SetReg(ESP, shadow.Init32(stackBase+stackSize))
	return c, env, m
}

func step(t *testing.T, c *CPU, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c.SaveBaseEIP()
		if err := c.Step(); err != nil {
			t.Fatalf("step %d at %#x: %v", i, c.BaseEIP(), err)
		}
	}
}

func TestMovImmediate(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0xb8, 0xef, 0xbe, 0xad, 0xde, // mov eax, 0xdeadbeef
		0xb3, 0x7f, // mov bl, 0x7f
	})
	step(t, c, 2)
	if v := c.Reg(EAX); v.U32() != 0xdeadbeef || v.IsUninitialized() {
		t.Fatalf("eax = %#x uninit=%v", v.U32(), v.IsUninitialized())
	}
	if v := c.Reg(EBX); v.U32()&0xff != 0x7f {
		t.Fatalf("bl = %#x", v.U32()&0xff)
	}
}

func TestAluAndFlags(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0xb8, 0x05, 0x00, 0x00, 0x00, // mov eax, 5
		0x83, 0xe8, 0x05, // sub eax, 5
	})
	step(t, c, 2)
	if !c.zf {
		t.Fatal("zf should be set after sub to zero")
	}
	if v := c.Reg(EAX); v.U32() != 0 || v.IsUninitialized() {
		t.Fatalf("eax = %#x uninit=%v", v.U32(), v.IsUninitialized())
	}
}

func TestXorClearsAndDefines(t *testing.T) {
	// xor on a fully uninitialized register still yields defined 0
	// only when both inputs are the same defined value; here we first
	// initialize eax.
	c, _, _ := testCPU(t, []byte{
		0xb8, 0x78, 0x56, 0x34, 0x12, // mov eax, 0x12345678
		0x31, 0xc0, // xor eax, eax
	})
	step(t, c, 2)
	if v := c.Reg(EAX); v.U32() != 0 || v.IsUninitialized() {
		t.Fatalf("xor eax, eax = %#x uninit=%v", v.U32(), v.IsUninitialized())
	}
	if !c.zf {
		t.Fatal("zf should be set")
	}
}

func TestMemoryOperands(t *testing.T) {
	c, _, m := testCPU(t, []byte{
		0xb8, 0x44, 0x33, 0x22, 0x11, // mov eax, 0x11223344
		0xa3, 0x00, 0x10, 0x00, 0x10, // mov [0x10001000], eax
		0x8b, 0x1d, 0x00, 0x10, 0x00, 0x10, // mov ebx, [0x10001000]
	})
	step(t, c, 3)
	if v := c.Reg(EBX); v.U32() != 0x11223344 {
		t.Fatalf("ebx = %#x", v.U32())
	}
	stored, err := m.Read32(0x10001000)
	if err != nil || stored.U32() != 0x11223344 || stored.IsUninitialized() {
		t.Fatalf("memory = %#x uninit=%v err=%v", stored.U32(), stored.IsUninitialized(), err)
	}
}

func TestPushPopCall(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0xe8, 0x02, 0x00, 0x00, 0x00, // call +2
		0xeb, 0x05, // jmp over the callee
		0xb8, 0xff, 0x00, 0x00, 0x00, // (callee) mov eax, 0xff
	})
	// call target = end of the call (base+5) + 2 = base+7, the callee
	c2, _, _ := testCPU(t, []byte{
		0x68, 0x2a, 0x00, 0x00, 0x00, // push 42
		0x58, // pop eax
	})
	step(t, c2, 2)
	if v := c2.Reg(EAX); v.U32() != 42 || v.IsUninitialized() {
		t.Fatalf("pop eax = %#x", v.U32())
	}

	step(t, c, 1) // call
	if got := c.EIP(); got != textBase+7 {
		t.Fatalf("call target = %#x, want %#x", got, textBase+7)
	}
	ret, err := c.Pop32()
	if err != nil {
		t.Fatal(err)
	}
	if ret.U32() != textBase+5 {
		t.Fatalf("pushed return address = %#x, want %#x", ret.U32(), textBase+5)
	}
}

func TestLoopCountsDown(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0xb9, 0x05, 0x00, 0x00, 0x00, // mov ecx, 5
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, 0
		0x40,       // inc eax
		0x49,       // dec ecx
		0x75, 0xfc, // jne -4
	})
	c.SaveBaseEIP()
	for c.EIP() != textBase+14 {
		c.SaveBaseEIP()
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if v := c.Reg(EAX); v.U32() != 5 {
		t.Fatalf("loop ran %d times", v.U32())
	}
}

func TestTaintedBranchReports(t *testing.T) {
	c, env, _ := testCPU(t, []byte{
		0x8b, 0x44, 0x24, 0xf8, // mov eax, [esp-8]   (uninitialized stack)
		0x85, 0xc0, // test eax, eax
		0x74, 0x00, // je +0
	})
	step(t, c, 3)
	if env.taints == 0 {
		t.Fatal("branch on uninitialized flags should report taint")
	}
}

func TestUninitializedPropagatesThroughAdd(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0x8b, 0x44, 0x24, 0xf8, // mov eax, [esp-8]   (uninitialized)
		0x83, 0xc0, 0x01, // add eax, 1
	})
	step(t, c, 2)
	if !c.Reg(EAX).IsUninitialized() {
		t.Fatal("add with uninitialized input should stay uninitialized")
	}
}

func TestSyscallTrap(t *testing.T) {
	c, env, _ := testCPU(t, []byte{
		0xb8, 0x07, 0x00, 0x00, 0x00, // mov eax, 7
		0xbb, 0x2a, 0x00, 0x00, 0x00, // mov ebx, 42
		0xb9, 0x02, 0x00, 0x00, 0x00, // mov ecx, 2
		0xba, 0x03, 0x00, 0x00, 0x00, // mov edx, 3
		0xcd, 0x82, // int 0x82
	})
	env.sysRet = 99
	step(t, c, 5)
	if len(env.syscalls) != 1 {
		t.Fatalf("syscall count = %d", len(env.syscalls))
	}
	got := env.syscalls[0]
	if got != [4]uint32{7, 42, 2, 3} {
		t.Fatalf("syscall args = %v", got)
	}
	if v := c.Reg(EAX); v.U32() != 99 || v.IsUninitialized() {
		t.Fatalf("syscall result = %#x uninit=%v", v.U32(), v.IsUninitialized())
	}
}

func TestMovzxMovsx(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0xb8, 0xfe, 0x00, 0x00, 0x00, // mov eax, 0xfe
		0x0f, 0xbe, 0xd8, // movsx ebx, al
		0x0f, 0xb6, 0xc8, // movzx ecx, al
	})
	step(t, c, 3)
	if v := c.Reg(EBX); v.U32() != 0xfffffffe {
		t.Fatalf("movsx = %#x", v.U32())
	}
	if v := c.Reg(ECX); v.U32() != 0xfe {
		t.Fatalf("movzx = %#x", v.U32())
	}
}

func TestShifts(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0xb8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
		0xc1, 0xe0, 0x04, // shl eax, 4
		0xc1, 0xe8, 0x02, // shr eax, 2
	})
	step(t, c, 3)
	if v := c.Reg(EAX); v.U32() != 4 {
		t.Fatalf("shift result = %#x", v.U32())
	}
}

func TestRepStos(t *testing.T) {
	c, _, m := testCPU(t, []byte{
		0xb8, 0xaa, 0x00, 0x00, 0x00, // mov eax, 0xaa
		0xbf, 0x00, 0x10, 0x00, 0x10, // mov edi, 0x10001000
		0xb9, 0x08, 0x00, 0x00, 0x00, // mov ecx, 8
		0xf3, 0xaa, // rep stosb
	})
	step(t, c, 4)
	for i := uint32(0); i < 8; i++ {
		v, err := m.Read8(0x10001000 + i)
		if err != nil || v.U8() != 0xaa || v.IsUninitialized() {
			t.Fatalf("stos byte %d = %#x uninit=%v err=%v", i, v.U8(), v.IsUninitialized(), err)
		}
	}
	if c.Reg(ECX).U32() != 0 {
		t.Fatal("rep should leave ecx at 0")
	}
}

func TestLeave(t *testing.T) {
	c, _, _ := testCPU(t, []byte{
		0x68, 0x11, 0x00, 0x00, 0x00, // push 0x11 (saved ebp)
		0x89, 0xe5, // mov ebp, esp
		0x83, 0xec, 0x10, // sub esp, 16
		0xc9, // leave
	})
	step(t, c, 4)
	if v := c.Reg(EBP); v.U32() != 0x11 {
		t.Fatalf("ebp after leave = %#x", v.U32())
	}
	if v := c.Reg(ESP); v.U32() != stackBase+stackSize {
		t.Fatalf("esp after leave = %#x", v.U32())
	}
}

func TestUnhandledOpcode(t *testing.T) {
	c, _, _ := testCPU(t, []byte{0x0f, 0x0b}) // ud2
	c.SaveBaseEIP()
	err := c.Step()
	if err == nil {
		t.Fatal("ud2 should be unhandled")
	}
	if _, ok := err.(*UnhandledOpcodeError); !ok {
		t.Fatalf("error type = %T", err)
	}
}

func TestFetchFault(t *testing.T) {
	c, _, _ := testCPU(t, []byte{0xe9, 0xfb, 0xff, 0xef, 0x0f}) // jmp far away
	step(t, c, 1)
	c.SaveBaseEIP()
	if err := c.Step(); err == nil {
		t.Fatal("fetch from unmapped memory should fail")
	}
}
