package emulator

import (
	"github.com/codebutler/serenity/cpu"
	"github.com/codebutler/serenity/mmu"
	"github.com/codebutler/serenity/shadow"
)

// pushString copies a NUL-terminated string onto the guest stack,
// keeping ESP word-aligned, and returns its guest address.
func (e *Emulator) pushString(s string) (uint32, error) {
	esp := e.cpu.Reg(cpu.ESP).U32()
	esp -= uint32(len(s) + 1)
	esp &^= 3
	if err := e.mem.CopyToVM(esp, append([]byte(s), 0)); err != nil {
		return 0, err
	}
	e.cpu.SetReg(cpu.ESP, shadow.Init32(esp))
	return esp, nil
}

func (e *Emulator) push32(v uint32) error {
	return e.cpu.Push32(shadow.Init32(v))
}

// setupStack builds the SysV IA-32 process entry frame: argument and
// environment strings, the argv/envp pointer arrays, then
// envp/argv/argc with alignment words.
func (e *Emulator) setupStack(args, env []string) error {
	stack := mmu.NewSimpleRegion(StackBase, StackSize)
	stack.Stack = true
	if err := e.mem.AddRegion(stack); err != nil {
		return err
	}
	e.cpu.SetReg(cpu.ESP, shadow.Init32(StackBase+StackSize))

	var argvEntries []uint32
	for _, arg := range args {
		addr, err := e.pushString(arg)
		if err != nil {
			return err
		}
		argvEntries = append(argvEntries, addr)
	}

	var envEntries []uint32
	for _, variable := range env {
		addr, err := e.pushString(variable)
		if err != nil {
			return err
		}
		envEntries = append(envEntries, addr)
	}

	if err := e.push32(0); err != nil { // envp terminator
		return err
	}
	for i := len(envEntries) - 1; i >= 0; i-- {
		if err := e.push32(envEntries[i]); err != nil {
			return err
		}
	}
	envp := e.cpu.Reg(cpu.ESP).U32()

	if err := e.push32(0); err != nil { // argv terminator
		return err
	}
	for i := len(argvEntries) - 1; i >= 0; i-- {
		if err := e.push32(argvEntries[i]); err != nil {
			return err
		}
	}
	argv := e.cpu.Reg(cpu.ESP).U32()

	if err := e.push32(0); err != nil { // alignment
		return err
	}

	argc := uint32(len(argvEntries))
	if err := e.push32(envp); err != nil {
		return err
	}
	if err := e.push32(argv); err != nil {
		return err
	}
	if err := e.push32(argc); err != nil {
		return err
	}
	return e.push32(0) // alignment
}
