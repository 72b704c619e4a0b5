package loader

import (
	"debug/dwarf"
	"debug/elf"
	"sort"

	"github.com/pkg/errors"

	"github.com/codebutler/serenity/mmu"
	"github.com/codebutler/serenity/shadow"
)

// Loader is the immutable parsed program image.
type Loader struct {
	exe   string
	entry uint32
	progs []Prog
	syms  []Symbol
	lines lineTable
}

// Prog is one program header with its image bytes already read out.
type Prog struct {
	Type       elf.ProgType
	Vaddr      uint32
	Memsz      uint32
	Data       []byte // Filesz bytes from the image
	Executable bool
	Writable   bool
}

func LoadFile(path string) (*Loader, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "parsing executable image")
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, errors.New("only 32-bit executables are supported")
	}
	if f.Machine != elf.EM_386 {
		return nil, errors.Errorf("unsupported machine: %s", f.Machine)
	}

	l := &Loader{exe: path, entry: uint32(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD && prog.Type != elf.PT_TLS {
			continue
		}
		data := make([]byte, prog.Filesz)
		if n, err := prog.ReadAt(data, 0); err != nil && n != len(data) {
			return nil, errors.Wrap(err, "reading segment")
		}
		l.progs = append(l.progs, Prog{
			Type:       prog.Type,
			Vaddr:      uint32(prog.Vaddr),
			Memsz:      uint32(prog.Memsz),
			Data:       data,
			Executable: prog.Flags&elf.PF_X != 0,
			Writable:   prog.Flags&elf.PF_W != 0,
		})
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, errors.Wrap(err, "reading symbol table")
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 {
			continue
		}
		l.syms = append(l.syms, Symbol{
			Name:  sym.Name,
			Start: uint32(sym.Value),
			End:   uint32(sym.Value + sym.Size),
		})
	}

	if d, err := f.DWARF(); err == nil {
		l.lines = readLineTable(d)
	}
	return l, nil
}

func readLineTable(d *dwarf.Data) lineTable {
	var table lineTable
	r := d.Reader()
	for {
		ent, err := r.Next()
		if err != nil || ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			continue
		}
		lr, err := d.LineReader(ent)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for lr.Next(&le) == nil {
			if le.EndSequence || le.File == nil {
				continue
			}
			table = append(table, lineEntry{
				Addr: uint32(le.Address),
				File: le.File.Name,
				Line: le.Line,
			})
		}
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Addr < table[j].Addr })
	return table
}

func (l *Loader) Exe() string {
	return l.exe
}

func (l *Loader) Entry() uint32 {
	return l.entry
}

// MapInto builds regions for every loadable and thread-local segment.
// Image bytes get shadow 0x01; the zero-filled remainder (BSS) stays
// uninitialized.
func (l *Loader) MapInto(m *mmu.MMU) error {
	for _, prog := range l.progs {
		switch prog.Type {
		case elf.PT_LOAD:
			r := mmu.NewSimpleRegion(prog.Vaddr, prog.Memsz)
			copy(r.Data, prog.Data)
			for i := range prog.Data {
				r.Shadow[i] = 0x01
			}
			if prog.Executable && !prog.Writable {
				r.Writable = false
				r.Executable = true
				r.Text = true
			}
			if err := m.AddRegion(r); err != nil {
				return err
			}
		case elf.PT_TLS:
			tcb := mmu.NewSimpleRegion(TCBBase, prog.Memsz)
			copy(tcb.Data, prog.Data)
			for i := range prog.Data {
				tcb.Shadow[i] = 0x01
			}
			if err := m.AddRegion(tcb); err != nil {
				return err
			}
			tls := mmu.NewSimpleRegion(0, 4)
			tls.Write32(0, shadow.Init32(tcb.End()))
			if err := m.SetTLSRegion(tls); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) Symbols() []Symbol {
	return l.syms
}

func (l *Loader) Symbolicate(addr uint32) (string, uint32) {
	return symbolicate(l.syms, addr)
}

// SymbolRange returns the [start, end) range of a named function.
func (l *Loader) SymbolRange(name string) (uint32, uint32, bool) {
	for _, s := range l.syms {
		if s.Name == name {
			return s.Start, s.End, true
		}
	}
	return 0, 0, false
}

// SourceLine resolves addr to a file and line via debug info, if any.
func (l *Loader) SourceLine(addr uint32) (string, int, bool) {
	return l.lines.find(addr)
}
