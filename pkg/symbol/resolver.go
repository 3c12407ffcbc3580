package symbol

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/srcdbg/pkg/logflags"
)

const defaultLineCacheSize = 4096

// systemPathFragments source paths belonging to the toolchain or the system
var systemPathFragments = []string{
	"/usr/include/", "/usr/lib/", "/usr/src/", "/usr/local/go/src/",
	"/go/src/runtime/", "/go/src/internal/", "/pkg/mod/", "<autogenerated>",
	"/build/glibc", "/libio/", "/csu/", "../sysdeps/",
}

// ModuleInfo a module mapped into the debuggee
type ModuleInfo struct {
	Path string
	Base uint64
	Size uint64
}

// FuncInfo the runtime extent of a function
type FuncInfo struct {
	Name  string
	Entry uint64
	End   uint64
}

type module struct {
	ModuleInfo
	bi   *BinaryInfo
	bias uint64
}

func (m *module) contains(addr uint64) bool {
	if m.Size == 0 {
		return addr >= m.Base
	}
	return addr >= m.Base && addr-m.Base < m.Size
}

type lineResult struct {
	info LineInfo
	ok   bool
}

// Option configures a Resolver
type Option func(*Resolver)

// WithOpener replaces the loader of module debug info.
func WithOpener(fn func(path string) (*BinaryInfo, error)) Option {
	return func(r *Resolver) {
		r.opener = fn
	}
}

// WithCacheSize sets the number of resolved addresses kept.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithDenyPrefixes hides variables whose name starts with one of prefixes.
func WithDenyPrefixes(prefixes ...string) Option {
	return func(r *Resolver) {
		r.denyExtra = append(r.denyExtra, prefixes...)
	}
}

// WithEntryFile pins the source file line stepping is restricted to.
func WithEntryFile(file string) Option {
	return func(r *Resolver) {
		r.entryOverride = file
	}
}

// Resolver resolves addresses of the debuggee against the debug info of its
// loaded modules. The first module loaded after a Reset is the main module.
type Resolver struct {
	opener        func(path string) (*BinaryInfo, error)
	cacheSize     int
	denyExtra     []string
	entryOverride string

	modules   []*module
	main      *module
	entryFile string
	deny      *denylist
	lines     *lru.Cache
	logger    *logrus.Entry
}

// NewResolver creates a Resolver without modules.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		opener:    Analyze,
		cacheSize: defaultLineCacheSize,
		logger:    logflags.SymbolLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	r.deny = newDenylist(r.denyExtra)
	// size is positive, New fails on non-positive sizes only
	r.lines, _ = lru.New(r.cacheSize)
	r.entryFile = r.entryOverride
	return r
}

// Load reads the debug info of a newly mapped module.
func (r *Resolver) Load(info ModuleInfo) error {
	bi, err := r.opener(info.Path)
	if err != nil {
		return fmt.Errorf("load %s: %w", info.Path, err)
	}
	bi.finish()

	m := &module{ModuleInfo: info, bi: bi}
	if info.Base != 0 {
		m.bias = info.Base - bi.loadVaddr
	}
	r.modules = append(r.modules, m)
	sort.SliceStable(r.modules, func(i, j int) bool { return r.modules[i].Base < r.modules[j].Base })
	if r.main == nil {
		r.main = m
	}
	r.lines.Purge()

	r.logger.Debugf("load module %s at %#x bias %#x", info.Path, info.Base, m.bias)
	return nil
}

// Unload forgets the module mapped at base.
func (r *Resolver) Unload(base uint64) {
	for i, m := range r.modules {
		if m.Base != base {
			continue
		}
		r.modules = append(r.modules[:i], r.modules[i+1:]...)
		if r.main == m {
			r.main = nil
		}
		r.lines.Purge()
		r.logger.Debugf("unload module %s at %#x", m.Path, base)
		return
	}
}

// Reset forgets every module.
func (r *Resolver) Reset() {
	r.modules = nil
	r.main = nil
	r.entryFile = r.entryOverride
	r.lines.Purge()
}

// Modules returns the loaded modules ordered by base.
func (r *Resolver) Modules() []ModuleInfo {
	out := make([]ModuleInfo, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m.ModuleInfo)
	}
	return out
}

// MainModule returns the module of the executable.
func (r *Resolver) MainModule() (ModuleInfo, bool) {
	if r.main == nil {
		return ModuleInfo{}, false
	}
	return r.main.ModuleInfo, true
}

// EntryFile returns the source file line stepping is restricted to, empty
// when every file qualifies.
func (r *Resolver) EntryFile() string {
	return r.entryFile
}

// SetEntryFile restricts line stepping to file unless a file was pinned by
// WithEntryFile.
func (r *Resolver) SetEntryFile(file string) {
	if r.entryOverride != "" {
		return
	}
	r.entryFile = file
}

func (r *Resolver) moduleFor(addr uint64) *module {
	// the latest base below addr wins
	for i := len(r.modules) - 1; i >= 0; i-- {
		if m := r.modules[i]; m.contains(addr) {
			return m
		}
	}
	return nil
}

// searchOrder returns the main module first, then the others.
func (r *Resolver) searchOrder() []*module {
	out := make([]*module, 0, len(r.modules))
	if r.main != nil {
		out = append(out, r.main)
	}
	for _, m := range r.modules {
		if m != r.main {
			out = append(out, m)
		}
	}
	return out
}

// FindAddress returns the runtime address of the function name.
func (r *Resolver) FindAddress(name string) (uint64, error) {
	for _, m := range r.searchOrder() {
		if addr, ok := m.bi.LookupFunc(name); ok {
			return addr + m.bias, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
}

// SourceLine resolves addr to a source position in any file.
func (r *Resolver) SourceLine(addr uint64) (LineInfo, bool) {
	if v, ok := r.lines.Get(addr); ok {
		res := v.(lineResult)
		return res.info, res.ok
	}

	var res lineResult
	if m := r.moduleFor(addr); m != nil {
		res.info, res.ok = m.bi.PCToFileLine(addr - m.bias)
	}
	r.lines.Add(addr, res)
	return res.info, res.ok
}

// LineAt resolves addr to a source position of the entry file.
func (r *Resolver) LineAt(addr uint64) (LineInfo, bool) {
	li, ok := r.SourceLine(addr)
	if !ok {
		return LineInfo{}, false
	}
	if r.entryFile != "" && li.File != r.entryFile {
		return LineInfo{}, false
	}
	return li, true
}

// PCForLine returns the runtime address a breakpoint on file:line goes to.
func (r *Resolver) PCForLine(file string, line int) (uint64, error) {
	for _, m := range r.searchOrder() {
		if pc, err := m.bi.FileLineToPC(file, line); err == nil {
			return pc + m.bias, nil
		}
	}
	return 0, fmt.Errorf("%s:%d: %w", file, line, ErrNoLineInfo)
}

// FunctionAt returns the function containing addr.
func (r *Resolver) FunctionAt(addr uint64) (FuncInfo, bool) {
	m := r.moduleFor(addr)
	if m == nil {
		return FuncInfo{}, false
	}
	pc := addr - m.bias
	if f, ok := m.bi.PCToFunction(pc); ok {
		return FuncInfo{Name: f.name, Entry: f.lowpc + m.bias, End: f.highpc + m.bias}, true
	}
	if s, ok := m.bi.pcToSymbol(pc); ok {
		return FuncInfo{Name: s.name, Entry: s.addr + m.bias, End: s.addr + s.size + m.bias}, true
	}
	return FuncInfo{}, false
}

// ReturnAddressOf returns the address of the RET instruction ending the
// function containing pc. The function end is probed for the three byte
// form first, then for the one byte form.
func (r *Resolver) ReturnAddressOf(mem Memory, pc uint64) (uint64, bool) {
	fn, ok := r.FunctionAt(pc)
	if !ok || fn.End <= fn.Entry {
		return 0, false
	}
	for _, back := range []uint64{3, 1} {
		if fn.End-fn.Entry < back {
			continue
		}
		addr := fn.End - back
		if n, ok := RetLength(mem, addr); ok && uint64(n) == back {
			return addr, true
		}
	}
	return 0, false
}

// Globals returns the user defined global variables of the main module.
func (r *Resolver) Globals() []VariableDescriptor {
	m := r.main
	if m == nil {
		return nil
	}
	var out []VariableDescriptor
	for _, v := range m.bi.Globals {
		if r.deny.denied(v.Name) {
			continue
		}
		addr, ok := v.static()
		if !ok {
			continue
		}
		out = append(out, VariableDescriptor{
			Name:    v.Name,
			Address: addr + m.bias,
			ModBase: m.Base,
			TypeID:  v.TypeID,
			Size:    v.Size,
		})
	}
	return out
}

// Locals returns the local variables and parameters of the function a
// thread with registers regs is stopped in.
func (r *Resolver) Locals(regs Registers) []VariableDescriptor {
	m := r.moduleFor(regs.PC)
	if m == nil {
		return nil
	}
	pc := regs.PC - m.bias
	f, ok := m.bi.PCToFunction(pc)
	if !ok {
		return nil
	}
	frameBase, hasFrameBase := f.frameBaseAt(pc, regs)

	var out []VariableDescriptor
	for _, v := range f.variables {
		if r.deny.denied(v.Name) {
			continue
		}
		var addr uint64
		if off, ok := v.frameOffset(); ok && hasFrameBase {
			addr = uint64(int64(frameBase) + off)
		} else if static, ok := v.static(); ok {
			addr = static + m.bias
		} else {
			continue
		}
		out = append(out, VariableDescriptor{
			Name:    v.Name,
			Address: addr,
			ModBase: m.Base,
			TypeID:  v.TypeID,
			Size:    v.Size,
		})
	}
	return out
}

// SourceFiles returns the source files of the main module, toolchain and
// system sources excluded.
func (r *Resolver) SourceFiles() []string {
	if r.main == nil {
		return nil
	}
	var out []string
	for _, f := range r.main.bi.Files() {
		if !systemSource(f) {
			out = append(out, f)
		}
	}
	return out
}

func systemSource(path string) bool {
	for _, frag := range systemPathFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}
