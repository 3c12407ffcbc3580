// Package symbol resolves names, source lines, functions and variables of the
// modules loaded by the debuggee, and recognizes the CALL and RET
// instructions the stepping logic depends on.
package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hitzhangjie/srcdbg/pkg/dwarf/frame"
	"github.com/hitzhangjie/srcdbg/pkg/dwarf/godwarf"
	"github.com/hitzhangjie/srcdbg/pkg/logflags"
)

var (
	// ErrNoLineInfo no code is generated for the requested source line.
	ErrNoLineInfo = errors.New("no line info")
	// ErrSymbolNotFound the requested symbol is not defined by any module.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNoDebugInfo the module carries no DWARF.
	ErrNoDebugInfo = errors.New("no debug info")
)

// LineInfo a resolved source position, Line is 1-based
type LineInfo struct {
	File string
	Line int
}

func (l LineInfo) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// lineRow one row of the line number program
type lineRow struct {
	addr        uint64
	file        string
	line        int
	isStmt      bool
	prologueEnd bool
	endSeq      bool
}

// elfSymbol a function from .symtab or .dynsym
type elfSymbol struct {
	name string
	addr uint64
	size uint64
}

// BinaryInfo debug info of one module, addresses are link-time addresses
type BinaryInfo struct {
	Path         string
	Functions    []*Function // sorted by entry address
	CompileUnits []*CompileUnit
	Globals      []*Variable
	FdeEntries   frame.FrameDescriptionEntries

	lines     []lineRow
	symbols   []elfSymbol
	loadVaddr uint64
	typeSizes map[dwarf.Offset]int64
	sorted    bool
}

// NewBinaryInfo returns an empty BinaryInfo, filled by Analyze or by the
// Add* methods.
func NewBinaryInfo(path string) *BinaryInfo {
	return &BinaryInfo{
		Path:      path,
		typeSizes: map[dwarf.Offset]int64{},
	}
}

// Analyze analyzes the ELF file execFile and returns its binary info. A
// module without DWARF still resolves the names in its symbol table.
func Analyze(execFile string) (*BinaryInfo, error) {
	file, err := elf.Open(execFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	logger := logflags.SymbolLogger()
	bi := NewBinaryInfo(execFile)
	bi.loadVaddr = firstLoadVaddr(file)
	bi.parseSymtab(file)

	// parse .(z)debug_line and .(z)debug_info
	dwarfData, err := file.DWARF()
	if err != nil {
		logger.Debugf("%s: %v: %v", execFile, ErrNoDebugInfo, err)
	} else if err = bi.ParseLineAndInfo(dwarfData); err != nil {
		return nil, fmt.Errorf("parse dwarf of %s error: %v", execFile, err)
	}

	// parse .(z)debug_frame
	if err = bi.ParseFrame(file); err != nil {
		logger.Debugf("%s: %v", execFile, err)
	}

	bi.finish()
	logger.Debugf("%s: %d functions, %d globals, %d line rows", execFile, len(bi.Functions), len(bi.Globals), len(bi.lines))
	return bi, nil
}

// firstLoadVaddr returns the page of the first PT_LOAD segment, the address
// the module's lowest mapping corresponds to.
func firstLoadVaddr(file *elf.File) uint64 {
	for _, p := range file.Progs {
		if p.Type == elf.PT_LOAD {
			return p.Vaddr &^ 0xfff
		}
	}
	return 0
}

func (bi *BinaryInfo) parseSymtab(file *elf.File) {
	syms, err := file.Symbols()
	if err != nil || len(syms) == 0 {
		syms, _ = file.DynamicSymbols()
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		bi.symbols = append(bi.symbols, elfSymbol{name: s.Name, addr: s.Value, size: s.Size})
	}
}

// ParseLineAndInfo parses .(z)debug_line and .(z)debug_info sections
//
// unit entries: see DWARF v4 chapter 3.3.1 normal and partial compilation unit entries
func (bi *BinaryInfo) ParseLineAndInfo(dwarfData *dwarf.Data) error {
	var (
		rd      = dwarfData.Reader()
		cu      *CompileUnit
		fn      *Function
		fnDepth = -1
		depth   = 0
	)

	for {
		entry, err := rd.Next()
		if err != nil {
			return err
		}
		if entry == nil { // reaches the end
			break
		}
		if entry.Tag == 0 {
			depth--
			continue
		}
		if fn != nil && depth <= fnDepth {
			fn = nil
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit, dwarf.TagPartialUnit:
			cu = &CompileUnit{entry: entry, bi: bi}
			bi.CompileUnits = append(bi.CompileUnits, cu)

			lr, err := dwarfData.LineReader(entry)
			if err != nil {
				return err
			}
			if lr != nil {
				if err := cu.parseLineSection(lr); err != nil {
					return err
				}
			}
		case dwarf.TagSubprogram:
			f := &Function{cu: cu}
			if err := f.parseFrom(entry); err != nil {
				return err
			}
			// declarations and abstract instances have no code
			if f.lowpc == 0 {
				break
			}
			bi.Functions = append(bi.Functions, f)
			if cu != nil {
				cu.functions = append(cu.functions, f)
			}
			fn, fnDepth = f, depth
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			v := bi.parseVariable(dwarfData, entry)
			if v == nil {
				break
			}
			if fn != nil {
				fn.variables = append(fn.variables, v)
			} else if entry.Tag == dwarf.TagVariable && depth == 1 {
				bi.Globals = append(bi.Globals, v)
			}
		}

		if entry.Children {
			depth++
		}
	}

	return nil
}

// ParseFrame parses .(z)debug_frame section to get the extent of every
// function the compiler described.
//
// see DWARFv4 6.4 Call Frame Information.
func (bi *BinaryInfo) ParseFrame(elffile *elf.File) error {
	frameData, err := godwarf.GetDebugSectionElf(elffile, "frame")
	if err != nil {
		return err
	}

	ptrSize := 8
	if elffile.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}
	frameEntries, err := frame.Parse(frameData, elffile.ByteOrder, 0, ptrSize)
	if err != nil {
		return err
	}
	if len(frameEntries) == 0 {
		return errors.New("no frame entries found")
	}
	bi.FdeEntries = frameEntries

	return nil
}

// AddFunction registers a function covering [lowpc, highpc).
func (bi *BinaryInfo) AddFunction(name string, lowpc, highpc uint64) *Function {
	f := &Function{name: name, lowpc: lowpc, highpc: highpc}
	bi.Functions = append(bi.Functions, f)
	bi.sorted = false
	return f
}

// AddLine registers a line table row starting at addr.
func (bi *BinaryInfo) AddLine(addr uint64, file string, line int) {
	bi.lines = append(bi.lines, lineRow{addr: addr, file: file, line: line, isStmt: true})
	bi.sorted = false
}

// AddEndSequence terminates the line table sequence at addr.
func (bi *BinaryInfo) AddEndSequence(addr uint64) {
	bi.lines = append(bi.lines, lineRow{addr: addr, endSeq: true})
	bi.sorted = false
}

// AddGlobal registers a global variable.
func (bi *BinaryInfo) AddGlobal(v *Variable) {
	bi.Globals = append(bi.Globals, v)
}

// finish completes function extents and sorts the lookup tables.
func (bi *BinaryInfo) finish() {
	if bi.sorted {
		return
	}

	sort.SliceStable(bi.lines, func(i, j int) bool {
		a, b := bi.lines[i], bi.lines[j]
		if a.addr != b.addr {
			return a.addr < b.addr
		}
		// the end of a sequence precedes the start of the next one
		return a.endSeq && !b.endSeq
	})
	sort.Slice(bi.symbols, func(i, j int) bool { return bi.symbols[i].addr < bi.symbols[j].addr })

	for _, f := range bi.Functions {
		if f.highpc > f.lowpc {
			continue
		}
		if fde, err := bi.FdeEntries.FDEForPC(f.lowpc); err == nil {
			f.highpc = fde.End()
		} else if s, ok := bi.symbolAt(f.lowpc); ok && s.size > 0 {
			f.highpc = s.addr + s.size
		}
	}
	sort.SliceStable(bi.Functions, func(i, j int) bool { return bi.Functions[i].lowpc < bi.Functions[j].lowpc })

	bi.sorted = true
}

func (bi *BinaryInfo) symbolAt(addr uint64) (elfSymbol, bool) {
	i := sort.Search(len(bi.symbols), func(i int) bool { return bi.symbols[i].addr >= addr })
	if i < len(bi.symbols) && bi.symbols[i].addr == addr {
		return bi.symbols[i], true
	}
	return elfSymbol{}, false
}

// PCToFunction returns the function whose range covers PC
//
// note: not considered inline function
func (bi *BinaryInfo) PCToFunction(pc uint64) (*Function, bool) {
	i := sort.Search(len(bi.Functions), func(i int) bool { return bi.Functions[i].lowpc > pc }) - 1
	for ; i >= 0; i-- {
		f := bi.Functions[i]
		if f.lowpc <= pc && pc < f.highpc {
			return f, true
		}
		// functions do not nest, the closest entry decides
		if f.highpc > f.lowpc {
			break
		}
	}
	return nil, false
}

// pcToSymbol returns the symbol table function covering pc.
func (bi *BinaryInfo) pcToSymbol(pc uint64) (elfSymbol, bool) {
	i := sort.Search(len(bi.symbols), func(i int) bool { return bi.symbols[i].addr > pc }) - 1
	if i < 0 {
		return elfSymbol{}, false
	}
	s := bi.symbols[i]
	if pc-s.addr < s.size {
		return s, true
	}
	return elfSymbol{}, false
}

// PCToFileLine resolves pc to the source position of the line table row
// covering it.
func (bi *BinaryInfo) PCToFileLine(pc uint64) (LineInfo, bool) {
	i := sort.Search(len(bi.lines), func(i int) bool { return bi.lines[i].addr > pc }) - 1
	if i < 0 {
		return LineInfo{}, false
	}
	row := bi.lines[i]
	if row.endSeq || row.file == "" || row.line == 0 {
		return LineInfo{}, false
	}
	return LineInfo{File: row.file, Line: row.line}, true
}

// FileLineToPC converts location `filename:lineno` to the address a
// breakpoint should be placed at, the end of the prologue when the compiler
// marked one. filename may be a path suffix.
func (bi *BinaryInfo) FileLineToPC(filename string, lineno int) (uint64, error) {
	var (
		addr, prologueAddr   uint64
		found, foundPrologue bool
	)
	for _, row := range bi.lines {
		if row.endSeq || row.line != lineno || !row.isStmt || !fileMatch(row.file, filename) {
			continue
		}
		if !found || row.addr < addr {
			addr, found = row.addr, true
		}
		if row.prologueEnd && (!foundPrologue || row.addr < prologueAddr) {
			prologueAddr, foundPrologue = row.addr, true
		}
	}
	switch {
	case foundPrologue:
		return prologueAddr, nil
	case found:
		return addr, nil
	default:
		return 0, fmt.Errorf("%s:%d: %w", filename, lineno, ErrNoLineInfo)
	}
}

func fileMatch(full, query string) bool {
	return full == query || strings.HasSuffix(full, "/"+query)
}

// LookupFunc returns the entry address of the function named name, from the
// DWARF first and then from the symbol table.
func (bi *BinaryInfo) LookupFunc(name string) (uint64, bool) {
	for _, f := range bi.Functions {
		if f.name == name {
			return f.lowpc, true
		}
	}
	for _, s := range bi.symbols {
		if s.name == name {
			return s.addr, true
		}
	}
	return 0, false
}

// Files returns the source files listed by the line table.
func (bi *BinaryInfo) Files() []string {
	seen := map[string]bool{}
	var files []string
	for _, row := range bi.lines {
		if row.file == "" || seen[row.file] {
			continue
		}
		seen[row.file] = true
		files = append(files, row.file)
	}
	sort.Strings(files)
	return files
}

func (bi *BinaryInfo) typeSize(data *dwarf.Data, off dwarf.Offset) int64 {
	if sz, ok := bi.typeSizes[off]; ok {
		return sz
	}
	var sz int64
	if typ, err := data.Type(off); err == nil {
		sz = typ.Size()
	}
	bi.typeSizes[off] = sz
	return sz
}
