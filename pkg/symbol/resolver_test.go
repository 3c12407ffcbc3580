package symbol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// program a position independent executable linked at 0 and its libc
func program() map[string]*BinaryInfo {
	exe := NewBinaryInfo("/home/u/prog")
	exe.AddLine(0x1100, "/home/u/main.c", 5)
	exe.AddLine(0x1108, "/home/u/main.c", 6)
	exe.AddLine(0x1110, "/home/u/util.c", 2)
	exe.AddLine(0x1118, "/usr/include/stdio.h", 9)
	exe.AddEndSequence(0x1120)
	mainFn := exe.AddFunction("main", 0x1100, 0x1110)
	mainFn.SetFrameBase([]byte{opCallFrameCFA})
	mainFn.AddVariable(&Variable{Name: "count", Size: 4, TypeID: 0x40, Location: FbregLocation(-20)})
	mainFn.AddVariable(&Variable{Name: "argc", Size: 4, TypeID: 0x40, Location: FbregLocation(-36)})
	mainFn.AddVariable(&Variable{Name: "__internal", Size: 4, Location: FbregLocation(-40)})
	mainFn.AddVariable(&Variable{Name: "limit", Size: 8, TypeID: 0x48, Location: AddrLocation(0x4010)})
	exe.AddFunction("util", 0x1110, 0x1120)
	exe.AddGlobal(&Variable{Name: "total", Size: 8, TypeID: 0x48, Location: AddrLocation(0x4018)})
	exe.AddGlobal(&Variable{Name: "stdout", Size: 8, Location: AddrLocation(0x4020)})
	exe.AddGlobal(&Variable{Name: "runtime.x", Size: 8, Location: AddrLocation(0x4028)})
	exe.AddGlobal(&Variable{Name: "x$1", Size: 8, Location: AddrLocation(0x4030)})
	exe.AddGlobal(&Variable{Name: "tls", Size: 8})

	libc := NewBinaryInfo("/usr/lib/libc.so.6")
	libc.AddFunction("puts", 0x2000, 0x2040)

	return map[string]*BinaryInfo{exe.Path: exe, libc.Path: libc}
}

func newTestResolver(opts ...Option) *Resolver {
	bins := program()
	opener := func(path string) (*BinaryInfo, error) {
		bi, ok := bins[path]
		if !ok {
			return nil, errors.New("no such file")
		}
		return bi, nil
	}
	return NewResolver(append([]Option{WithOpener(opener)}, opts...)...)
}

const (
	exeBase  = 0x555555554000
	libcBase = 0x7ffff7d80000
)

func loaded(t *testing.T, opts ...Option) *Resolver {
	r := newTestResolver(opts...)
	require.NoError(t, r.Load(ModuleInfo{Path: "/home/u/prog", Base: exeBase, Size: 0x5000}))
	require.NoError(t, r.Load(ModuleInfo{Path: "/usr/lib/libc.so.6", Base: libcBase, Size: 0x3000}))
	return r
}

func TestResolver_Load(t *testing.T) {
	r := newTestResolver()
	err := r.Load(ModuleInfo{Path: "/missing", Base: 0x1000})
	require.Error(t, err)
	_, ok := r.MainModule()
	assert.False(t, ok)

	r = loaded(t)
	m, ok := r.MainModule()
	require.True(t, ok)
	assert.Equal(t, "/home/u/prog", m.Path)
	assert.Len(t, r.Modules(), 2)

	r.Unload(libcBase)
	assert.Len(t, r.Modules(), 1)
	r.Reset()
	assert.Empty(t, r.Modules())
}

func TestResolver_FindAddress(t *testing.T) {
	r := loaded(t)

	addr, err := r.FindAddress("main")
	require.NoError(t, err)
	assert.Equal(t, uint64(exeBase+0x1100), addr)

	addr, err = r.FindAddress("puts")
	require.NoError(t, err)
	assert.Equal(t, uint64(libcBase+0x2000), addr)

	_, err = r.FindAddress("WinMain")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestResolver_LineAt(t *testing.T) {
	r := loaded(t)

	// no entry file accepts every line
	li, ok := r.LineAt(exeBase + 0x1112)
	require.True(t, ok)
	assert.Equal(t, "/home/u/util.c:2", li.String())

	r.SetEntryFile("/home/u/main.c")
	_, ok = r.LineAt(exeBase + 0x1112)
	assert.False(t, ok)
	li, ok = r.LineAt(exeBase + 0x1109)
	require.True(t, ok)
	assert.Equal(t, LineInfo{File: "/home/u/main.c", Line: 6}, li)

	// unfiltered
	li, ok = r.SourceLine(exeBase + 0x1112)
	require.True(t, ok)
	assert.Equal(t, 2, li.Line)

	_, ok = r.LineAt(libcBase + 0x10)
	assert.False(t, ok)
	_, ok = r.LineAt(0x10)
	assert.False(t, ok)

	// cached result served after a second lookup
	li, ok = r.LineAt(exeBase + 0x1109)
	require.True(t, ok)
	assert.Equal(t, 6, li.Line)
}

func TestResolver_entryFileOverride(t *testing.T) {
	r := loaded(t, WithEntryFile("/home/u/util.c"))
	r.SetEntryFile("/home/u/main.c")
	assert.Equal(t, "/home/u/util.c", r.EntryFile())

	r.Reset()
	assert.Equal(t, "/home/u/util.c", r.EntryFile())
}

func TestResolver_PCForLine(t *testing.T) {
	r := loaded(t)

	pc, err := r.PCForLine("main.c", 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(exeBase+0x1108), pc)

	_, err = r.PCForLine("main.c", 60)
	assert.ErrorIs(t, err, ErrNoLineInfo)
}

func TestResolver_ReturnAddressOf(t *testing.T) {
	r := loaded(t)
	mem := fakeMem{}

	// main ends with ret
	mem.load(exeBase+0x110d, 0x90, 0x5d, 0xC3)
	addr, ok := r.ReturnAddressOf(mem, exeBase+0x1104)
	require.True(t, ok)
	assert.Equal(t, uint64(exeBase+0x110f), addr)

	// util ends with ret imm16
	mem.load(exeBase+0x111d, 0xC2, 0x08, 0x00)
	addr, ok = r.ReturnAddressOf(mem, exeBase+0x1110)
	require.True(t, ok)
	assert.Equal(t, uint64(exeBase+0x111d), addr)

	// puts does not end with a ret
	mem.load(libcBase+0x203d, 0x90, 0x90, 0x90)
	_, ok = r.ReturnAddressOf(mem, libcBase+0x2000)
	assert.False(t, ok)

	_, ok = r.ReturnAddressOf(mem, 0x10)
	assert.False(t, ok)
}

func TestResolver_Globals(t *testing.T) {
	r := loaded(t)

	globals := r.Globals()
	require.Len(t, globals, 1)
	assert.Equal(t, VariableDescriptor{
		Name:    "total",
		Address: exeBase + 0x4018,
		ModBase: exeBase,
		TypeID:  0x48,
		Size:    8,
	}, globals[0])
}

func TestResolver_Locals(t *testing.T) {
	r := loaded(t)

	// stopped past the prologue, the frame base is rbp+16
	locals := r.Locals(Registers{PC: exeBase + 0x1108, SP: 0x7fffffffe000, BP: 0x7fffffffe020})
	require.Len(t, locals, 3)
	assert.Equal(t, "count", locals[0].Name)
	assert.Equal(t, uint64(0x7fffffffe030-20), locals[0].Address)
	assert.Equal(t, "argc", locals[1].Name)
	assert.Equal(t, uint64(0x7fffffffe030-36), locals[1].Address)
	assert.Equal(t, "limit", locals[2].Name)
	assert.Equal(t, uint64(exeBase+0x4010), locals[2].Address)

	// at the first instruction only the return address was pushed
	locals = r.Locals(Registers{PC: exeBase + 0x1100, SP: 0x7fffffffe038, BP: 0x1})
	require.Len(t, locals, 3)
	assert.Equal(t, uint64(0x7fffffffe040-20), locals[0].Address)

	assert.Empty(t, r.Locals(Registers{PC: exeBase + 0x1110}))
	assert.Empty(t, r.Locals(Registers{PC: 0x10}))
}

func TestResolver_SourceFiles(t *testing.T) {
	r := loaded(t)
	assert.Equal(t, []string{"/home/u/main.c", "/home/u/util.c"}, r.SourceFiles())
}

func TestDenylist(t *testing.T) {
	d := newDenylist([]string{"my_"})

	args := []struct {
		name   string
		denied bool
	}{
		{"count", false},
		{"main.counter", false},
		{"_start", true},
		{"std::cout", true},
		{"runtime.mheap_", true},
		{"MFStartup", true},
		{"x$1", true},
		{"my_secret", true},
		{"stdout", true},
		{"stdout2", false},
		{"environ", true},
		{"", true},
	}
	for _, arg := range args {
		assert.Equal(t, arg.denied, d.denied(arg.name), arg.name)
	}
}

func TestFrameBaseAt(t *testing.T) {
	regs := Registers{PC: 0x1010, SP: 0x7000, BP: 0x7100}
	args := []struct {
		expr []byte
		want uint64
		ok   bool
	}{
		{[]byte{opBreg6, 0x10}, 0x7110, true},
		{[]byte{opBreg7, 0x78}, 0x6ff8, true},
		{[]byte{opReg6}, 0x7100, true},
		{[]byte{opReg7}, 0x7000, true},
		{[]byte{opCallFrameCFA}, 0x7110, true},
		{nil, 0, false},
		{[]byte{0x50}, 0, false},
	}
	for _, arg := range args {
		f := &Function{lowpc: 0x1000, highpc: 0x1100, frameBase: arg.expr}
		got, ok := f.frameBaseAt(regs.PC, regs)
		assert.Equal(t, arg.ok, ok, "% x", arg.expr)
		assert.Equal(t, arg.want, got, "% x", arg.expr)
	}
}
