package target

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/srcdbg/pkg/native"
	"github.com/hitzhangjie/srcdbg/pkg/native/nativetest"
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
)

const (
	testPid     = 100
	testUserTid = 101
	stackTop    = 0x7ffe0000
	libcText    = 0x7ffff7d8a000
)

// main, linked at 0x401000
var mainCode = []byte{
	0x55,                         // 0x401000 push rbp
	0x48, 0x89, 0xe5,             // 0x401001 mov rbp, rsp
	0xe8, 0x17, 0x00, 0x00, 0x00, // 0x401004 call helper
	0x90, 0x90, 0x90,             // 0x401009 nop
	0xb8, 0x00, 0x00, 0x00, 0x00, // 0x40100c mov eax, 0
	0x5d,                         // 0x401011 pop rbp
	0xc3,                         // 0x401012 ret
}

// helper, linked at 0x401020
var helperCode = []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0x90, 0x5d, 0xc3}

func program(path string) (*symbol.BinaryInfo, error) {
	if path != "/t/prog" {
		return nil, errors.New("no such file")
	}
	bi := symbol.NewBinaryInfo(path)
	bi.AddLine(0x401000, "/t/main.c", 10)
	bi.AddLine(0x401004, "/t/main.c", 11)
	bi.AddLine(0x40100c, "/t/main.c", 12)
	bi.AddLine(0x401011, "/t/main.c", 13)
	bi.AddLine(0x401020, "/t/main.c", 20)
	bi.AddEndSequence(0x401028)

	mainFn := bi.AddFunction("main", 0x401000, 0x401013)
	mainFn.SetFrameBase([]byte{0x9c}) // DW_OP_call_frame_cfa
	mainFn.AddVariable(&symbol.Variable{Name: "i", Size: 4, Location: symbol.FbregLocation(-20)})
	bi.AddFunction("helper", 0x401020, 0x401028)
	bi.AddGlobal(&symbol.Variable{Name: "counter", Size: 8, Location: symbol.AddrLocation(0x404010)})
	bi.AddGlobal(&symbol.Variable{Name: "stderr", Size: 8, Location: symbol.AddrLocation(0x404018)})
	return bi, nil
}

func line(n int) symbol.LineInfo {
	return symbol.LineInfo{File: "/t/main.c", Line: n}
}

func trap(tid int, addr uint64) native.Event {
	return native.Event{
		Kind:      native.EventException,
		Pid:       testPid,
		Tid:       tid,
		Exception: native.Exception{Code: native.ExceptionBreakpoint, Addr: addr, FirstChance: true},
	}
}

func singleStep(tid int, addr uint64) native.Event {
	return native.Event{
		Kind:      native.EventException,
		Pid:       testPid,
		Tid:       tid,
		Exception: native.Exception{Code: native.ExceptionSingleStep, Addr: addr, FirstChance: true},
	}
}

func exited(code int) native.Event {
	return native.Event{Kind: native.EventProcessExited, Pid: testPid, Tid: testPid, ExitCode: code}
}

// startup the events of a launch, up to the entry breakpoint hit by thread
// testUserTid
func startup() []native.Event {
	return []native.Event{
		{Kind: native.EventProcessCreated, Pid: testPid, Tid: testPid, Module: native.Module{Path: "/t/prog"}},
		{Kind: native.EventModuleLoaded, Pid: testPid, Tid: testPid, Module: native.Module{Path: "/lib/libc.so.6", Base: 0x7ffff7d80000}},
		trap(testPid, 0x7ffff7fe3290),
		{Kind: native.EventThreadCreated, Pid: testPid, Tid: testUserTid},
		trap(testUserTid, 0x401000),
	}
}

func newTestSession(opts Options) (*Session, *nativetest.Tracer) {
	tr := nativetest.New(testPid)
	tr.LoadCode(0x401000, mainCode)
	tr.LoadCode(0x401020, helperCode)
	r := symbol.NewResolver(symbol.WithOpener(program))
	return NewSession(tr, r, opts), tr
}

func defaultOptions() Options {
	return Options{EntryFunctions: []string{"main.main", "main"}, StopOnEntry: true}
}

// atEntry returns a session stopped at the entry breakpoint.
func atEntry(t *testing.T) (*Session, *nativetest.Tracer) {
	s, tr := newTestSession(defaultOptions())
	tr.Push(startup()...)
	require.NoError(t, s.Start("/t/prog", []string{"-v"}))
	require.NoError(t, s.Continue())
	require.Equal(t, StatusInterrupted, s.Status())
	return s, tr
}

func word(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func trapFlag(tr *nativetest.Tracer, tid int) bool {
	return tr.Context(tid).Eflags&native.TrapFlag != 0
}

func TestSession_StartStopsAtEntry(t *testing.T) {
	s, tr := atEntry(t)

	assert.Equal(t, "/t/prog", tr.Path)
	assert.Equal(t, []string{"-v"}, tr.Args)
	assert.Equal(t, 0, tr.Suspends[testPid])

	assert.True(t, s.Attached())
	assert.Equal(t, testPid, s.ProcessID())
	assert.Equal(t, testPid, s.MainThreadID())
	assert.Equal(t, testUserTid, s.UserThreadID())
	assert.Equal(t, testUserTid, s.StoppedThreadID())
	assert.Equal(t, []int{testPid, testUserTid}, s.Threads())
	assert.Equal(t, line(10), s.CurrentLine())
	assert.Equal(t, "/t/main.c", s.Resolver().EntryFile())

	// entry breakpoint removed, rip rewound onto it
	assert.Equal(t, byte(0x55), tr.Mem[0x401000])
	assert.Equal(t, uint64(0x401000), tr.Context(testUserTid).Rip)
	assert.Empty(t, s.bps.Patched())

	assert.Equal(t, []nativetest.Continuation{
		{Tid: testPid, Disposition: native.Handled},
		{Tid: testPid, Disposition: native.Handled},
		{Tid: testPid, Disposition: native.Handled},
		{Tid: testUserTid, Disposition: native.Handled},
	}, tr.Continued)
}

func TestSession_TrapBeforeEntry(t *testing.T) {
	s, tr := newTestSession(defaultOptions())
	tr.LoadCode(0x401030, []byte{0xcc})
	events := startup()
	tr.Push(events[:4]...)
	tr.Push(trap(testUserTid, 0x401030))
	require.NoError(t, s.Start("/t/prog", nil))

	// an int3 of the program stops the thread, entry breakpoint stays armed
	require.NoError(t, s.Continue())
	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, testUserTid, s.StoppedThreadID())
	assert.Equal(t, 0, s.UserThreadID())
	assert.Equal(t, uint64(0x401031), tr.Context(testUserTid).Rip)
	assert.Equal(t, TrapOpcode, tr.Mem[0x401000])
	assert.Equal(t, []uint64{0x401000}, s.bps.Patched())

	tr.Push(events[4])
	require.NoError(t, s.Continue())
	assert.Equal(t, testUserTid, s.UserThreadID())
	assert.Equal(t, line(10), s.CurrentLine())
	assert.Equal(t, byte(0x55), tr.Mem[0x401000])
	assert.Empty(t, s.bps.Patched())
}

func TestSession_StartErrors(t *testing.T) {
	s, tr := newTestSession(defaultOptions())
	assert.Equal(t, ErrNotRunning, s.Continue())
	assert.Equal(t, ErrNotRunning, s.StepIn())

	tr.LaunchErr = errors.New("permission denied")
	require.Error(t, s.Start("/t/prog", nil))
	assert.Equal(t, StatusNone, s.Status())

	tr.LaunchErr = nil
	require.NoError(t, s.Start("/t/prog", nil))
	assert.Equal(t, StatusSuspended, s.Status())
	assert.Equal(t, ErrAlreadyRunning, s.Start("/t/prog", nil))
}

func TestSession_RunToExitWithoutStopOnEntry(t *testing.T) {
	s, tr := newTestSession(Options{EntryFunctions: []string{"main"}})
	tr.Push(startup()...)
	tr.Push(exited(3))

	require.NoError(t, s.Start("/t/prog", nil))
	require.NoError(t, s.Continue())

	assert.Equal(t, StatusNone, s.Status())
	assert.False(t, s.Attached())
	assert.Equal(t, 3, s.ExitCode())
	assert.Empty(t, s.Threads())
	assert.Empty(t, s.Breakpoints())
	assert.Equal(t, byte(0x55), tr.Mem[0x401000])
	assert.Equal(t, ErrNotRunning, s.Continue())
}

func TestSession_NoEntryFunction(t *testing.T) {
	s, tr := newTestSession(Options{EntryFunctions: []string{"WinMain"}, StopOnEntry: true})
	tr.Push(startup()...)
	tr.Push(exited(0))

	require.NoError(t, s.Start("/t/prog", nil))
	require.NoError(t, s.Continue())

	// without an entry breakpoint the trap at 0x401000 is a plain code trap
	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, 0, s.UserThreadID())
	assert.Equal(t, uint64(0x401001), tr.Context(testUserTid).Rip)
}

func TestSession_StepIn(t *testing.T) {
	s, tr := atEntry(t)

	require.NoError(t, s.StepIn())
	assert.True(t, trapFlag(tr, testUserTid))

	tr.Push(singleStep(testUserTid, 0x401001), singleStep(testUserTid, 0x401004))
	require.NoError(t, s.Continue())

	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, line(11), s.CurrentLine())
	assert.False(t, s.bps.singleInstruction)
	assert.Equal(t, nativetest.Continuation{Tid: testUserTid, Disposition: native.Handled}, tr.Continued[4])
	assert.Len(t, tr.Continued, 6)
}

func TestSession_StepOverCall(t *testing.T) {
	s, tr := atEntry(t)
	tr.Context(testUserTid).Rip = 0x401004

	require.NoError(t, s.StepOver())
	assert.Equal(t, []uint64{0x401009}, s.bps.Patched())
	assert.Equal(t, TrapOpcode, tr.Mem[0x401009])
	assert.False(t, trapFlag(tr, testUserTid))

	tr.Push(trap(testUserTid, 0x401009), singleStep(testUserTid, 0x40100c))
	require.NoError(t, s.Continue())

	assert.Equal(t, line(12), s.CurrentLine())
	assert.Empty(t, s.bps.Patched())
	assert.Equal(t, byte(0x90), tr.Mem[0x401009])
	assert.False(t, s.bps.steppingOver)
}

func TestSession_StepOverCallWithBreakpoint(t *testing.T) {
	s, tr := atEntry(t)
	_, err := s.SetBreakpoint(0x401004)
	require.NoError(t, err)

	// single steps reach the call without hitting its breakpoint
	require.NoError(t, s.StepIn())
	tr.Push(singleStep(testUserTid, 0x401001), singleStep(testUserTid, 0x401004))
	require.NoError(t, s.Continue())
	assert.Equal(t, line(11), s.CurrentLine())
	assert.Equal(t, TrapOpcode, tr.Mem[0x401004])

	require.NoError(t, s.StepOver())
	at, ok := s.bps.StepOverAt()
	require.True(t, ok)
	assert.Equal(t, uint64(0x401009), at)
	assert.False(t, s.bps.singleInstruction)
	assert.Equal(t, []uint64{0x401004, 0x401009}, s.bps.Patched())

	// the call executes once with its breakpoint lifted, then the breakpoint is back
	tr.Push(singleStep(testUserTid, 0x401020), trap(testUserTid, 0x401009), singleStep(testUserTid, 0x40100c))
	require.NoError(t, s.Continue())
	assert.Equal(t, line(12), s.CurrentLine())
	assert.Equal(t, TrapOpcode, tr.Mem[0x401004])
	assert.Equal(t, byte(0x90), tr.Mem[0x401009])
	assert.Equal(t, []uint64{0x401004}, s.bps.Patched())
	assert.False(t, s.bps.steppingOver)
}

func TestSession_StepOverLine(t *testing.T) {
	s, tr := atEntry(t)

	require.NoError(t, s.StepOver())
	assert.Empty(t, s.bps.Patched())
	assert.True(t, trapFlag(tr, testUserTid))

	tr.Push(singleStep(testUserTid, 0x401001), singleStep(testUserTid, 0x401004))
	require.NoError(t, s.Continue())
	assert.Equal(t, line(11), s.CurrentLine())
	assert.Empty(t, s.bps.Patched())
}

func TestSession_StepOut(t *testing.T) {
	s, tr := atEntry(t)
	ctx := tr.Context(testUserTid)
	ctx.Rip, ctx.Rsp = 0x401024, stackTop
	tr.LoadCode(stackTop, word(0x401009))

	require.NoError(t, s.StepOut())
	assert.Equal(t, []uint64{0x401027}, s.bps.Patched())

	tr.Push(trap(testUserTid, 0x401027), trap(testUserTid, 0x401009))
	require.NoError(t, s.Continue())

	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, line(11), s.CurrentLine())
	assert.Equal(t, uint64(0x401009), tr.Context(testUserTid).Rip)
	assert.Empty(t, s.bps.Patched())
	assert.Equal(t, byte(0xc3), tr.Mem[0x401027])
	assert.Equal(t, byte(0x90), tr.Mem[0x401009])
	assert.False(t, s.bps.steppingOut)
}

func TestSession_StepOutBreakpointOnRet(t *testing.T) {
	s, tr := atEntry(t)
	ctx := tr.Context(testUserTid)
	ctx.Rip, ctx.Rsp = 0x401024, stackTop
	tr.LoadCode(stackTop, word(0x401009))
	_, err := s.SetBreakpoint(0x401027)
	require.NoError(t, err)

	require.NoError(t, s.StepOut())
	at, ok := s.bps.StepOutAt()
	require.True(t, ok)
	assert.Equal(t, uint64(0x401027), at)
	assert.True(t, s.bps.steppingOut)
	assert.False(t, trapFlag(tr, testUserTid))

	// ret is recognised under the trap opcode, then the user breakpoint stops the thread
	tr.Push(trap(testUserTid, 0x401027), trap(testUserTid, 0x401027))
	require.NoError(t, s.Continue())
	assert.Equal(t, line(20), s.CurrentLine())
	assert.Equal(t, uint64(0x401027), tr.Context(testUserTid).Rip)
	assert.Equal(t, byte(0x90), tr.Mem[0x401009])
	assert.False(t, s.bps.steppingOut)
}

func TestSession_StepOutWithoutFunction(t *testing.T) {
	s, tr := atEntry(t)
	tr.Context(testUserTid).Rip = 0x401015

	require.NoError(t, s.StepOut())
	assert.Empty(t, s.bps.Patched())
	assert.True(t, trapFlag(tr, testUserTid))
	assert.True(t, s.bps.singleInstruction)
}

func TestSession_UserBreakpoint(t *testing.T) {
	s, tr := atEntry(t)

	bp, err := s.SetBreakpointAtLine("main.c", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40100c), bp.Addr)
	assert.Equal(t, "/t/main.c:12", bp.Pos)
	assert.Equal(t, TrapOpcode, tr.Mem[0x40100c])

	buf, err := s.ReadMemory(0x40100c, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb8, 0x00}, buf)

	tr.Push(trap(testUserTid, 0x40100c))
	require.NoError(t, s.Continue())
	assert.Equal(t, line(12), s.CurrentLine())
	assert.Equal(t, uint64(0x40100c), tr.Context(testUserTid).Rip)
	assert.Equal(t, byte(0xb8), tr.Mem[0x40100c])
	assert.True(t, trapFlag(tr, testUserTid))

	// the breakpoint comes back after its instruction executed
	tr.Push(singleStep(testUserTid, 0x401011), exited(0))
	require.NoError(t, s.Continue())
	assert.Equal(t, TrapOpcode, tr.Mem[0x40100c])
	assert.Equal(t, StatusNone, s.Status())
	assert.Empty(t, s.Breakpoints())
}

func TestSession_EditBreakpoints(t *testing.T) {
	s, tr := atEntry(t)

	bp1, err := s.SetBreakpointAtFunc("helper")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401020), bp1.Addr)
	bp2, err := s.SetBreakpoint(0x401009)
	require.NoError(t, err)
	_, err = s.SetBreakpoint(0x401009)
	assert.Equal(t, ErrBreakpointExisted, err)
	_, err = s.SetBreakpointAtFunc("nope")
	assert.Error(t, err)
	_, err = s.SetBreakpointAtLine("main.c", 99)
	assert.Error(t, err)

	assert.Equal(t, Breakpoints{bp1, bp2}, s.Breakpoints())

	_, err = s.ClearBreakpointByID(bp1.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(0x55), tr.Mem[0x401020])
	_, err = s.ClearBreakpointByID(bp1.ID)
	assert.Equal(t, ErrBreakpointNotExisted, err)

	s.ClearAllBreakpoints()
	assert.Empty(t, s.Breakpoints())
	assert.Equal(t, byte(0x90), tr.Mem[0x401009])
}

func TestSession_UnhandledException(t *testing.T) {
	s, tr := atEntry(t)

	tr.Push(native.Event{
		Kind:      native.EventException,
		Pid:       testPid,
		Tid:       testUserTid,
		Exception: native.Exception{Code: native.ExceptionAccessViolation, Addr: 0x40100c, FirstChance: true},
	})
	require.NoError(t, s.Continue())
	assert.Equal(t, StatusInterrupted, s.Status())
	exc, ok := s.LastException()
	require.True(t, ok)
	assert.Equal(t, native.ExceptionAccessViolation, exc.Code)

	tr.Push(exited(139))
	require.NoError(t, s.Continue())
	assert.Equal(t, nativetest.Continuation{Tid: testUserTid, Disposition: native.NotHandled}, tr.Continued[len(tr.Continued)-1])
	assert.Equal(t, 139, s.ExitCode())
	_, ok = s.LastException()
	assert.False(t, ok)
}

func TestSession_RequestBreak(t *testing.T) {
	s, tr := atEntry(t)
	require.NoError(t, s.StepOver())

	require.NoError(t, s.RequestBreak())
	assert.Equal(t, []int{testUserTid}, tr.Interrupted())

	tr.Push(singleStep(testUserTid, 0x401001))
	require.NoError(t, s.Continue())
	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, line(10), s.CurrentLine())
	assert.False(t, s.bps.singleInstruction)
	assert.False(t, s.bps.steppingOver)

	// a stale interrupt is swallowed
	tr.Push(singleStep(testUserTid, 0x401004), exited(0))
	require.NoError(t, s.Continue())
	assert.Equal(t, StatusNone, s.Status())
}

func TestSession_RequestSuspend(t *testing.T) {
	s, tr := atEntry(t)

	require.NoError(t, s.RequestSuspend())
	tr.Push(singleStep(testUserTid, 0x401004))
	require.NoError(t, s.Continue())
	assert.Equal(t, StatusSuspended, s.Status())
	assert.Equal(t, 1, tr.Suspends[testUserTid])
	assert.Equal(t, line(11), s.CurrentLine())

	tr.Push(exited(0))
	require.NoError(t, s.Resume())
	assert.Equal(t, 0, tr.Suspends[testUserTid])
	assert.Equal(t, StatusNone, s.Status())
}

func TestSession_SuspendResume(t *testing.T) {
	s, tr := atEntry(t)

	require.NoError(t, s.Suspend())
	require.NoError(t, s.Suspend())
	assert.Equal(t, StatusSuspended, s.Status())
	assert.Equal(t, 1, tr.Suspends[testUserTid])

	tr.Push(exited(0))
	require.NoError(t, s.Resume())
	assert.Equal(t, 0, tr.Suspends[testUserTid])
	assert.Equal(t, nativetest.Continuation{Tid: testUserTid, Disposition: native.Handled}, tr.Continued[len(tr.Continued)-1])

	require.NoError(t, s.Resume())
	assert.Equal(t, ErrNotRunning, s.Suspend())
}

func TestSession_ThreadsAndOutput(t *testing.T) {
	s, tr := atEntry(t)

	tr.Push(
		native.Event{Kind: native.EventThreadCreated, Pid: testPid, Tid: 102},
		native.Event{Kind: native.EventDebugString, Pid: testPid, Tid: 102, Output: []byte("hello\xff")},
		native.Event{Kind: native.EventThreadExited, Pid: testPid, Tid: 102},
		native.Event{Kind: native.EventThreadExited, Pid: testPid, Tid: testPid},
		native.Event{Kind: native.EventModuleUnloaded, Pid: testPid, Tid: testPid, Module: native.Module{Base: 0x7ffff7d80000}},
		native.Event{Kind: native.EventProtocolError, Pid: testPid, Tid: testUserTid, Err: errors.New("bad event")},
	)
	require.NoError(t, s.Continue())

	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, []int{testPid, testUserTid}, s.Threads())
	assert.Equal(t, "hello\uFFFD", s.DebugOutput())
}

func TestSession_WaitError(t *testing.T) {
	s, _ := atEntry(t)

	err := s.Continue()
	require.Error(t, err)
	assert.True(t, errors.Is(err, native.ErrNoRunnableThread))
	assert.Equal(t, StatusInterrupted, s.Status())
}

func TestSession_KillAndRestart(t *testing.T) {
	s, tr := atEntry(t)

	path, _ := s.Command()
	s.SetArgs([]string{"-v"})
	require.NoError(t, s.Restart())
	assert.True(t, tr.Killed)
	assert.Equal(t, path, tr.Path)
	assert.Equal(t, []string{"-v"}, tr.Args)
	assert.Equal(t, StatusSuspended, s.Status())
	assert.Equal(t, 0, s.UserThreadID())

	tr.Push(startup()...)
	require.NoError(t, s.Continue())
	assert.Equal(t, testUserTid, s.UserThreadID())
	assert.Equal(t, line(10), s.CurrentLine())

	require.NoError(t, s.Close())
	assert.True(t, tr.Closed)
	assert.Equal(t, StatusNone, s.Status())
}

func TestSession_Registers(t *testing.T) {
	s, tr := atEntry(t)

	ctx, err := s.Registers(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401000), ctx.Rip)

	require.NoError(t, s.SetRegister(0, "RAX", 5))
	assert.Equal(t, uint64(5), tr.Context(testUserTid).Rax)
	assert.Error(t, s.SetRegister(0, "xmm0", 1))

	_, err = s.Registers(999)
	assert.True(t, errors.Is(err, native.ErrUnknownThread))
}

func TestSession_Memory(t *testing.T) {
	s, tr := atEntry(t)

	require.NoError(t, s.WriteMemory(0x404010, word(42)))
	buf, err := s.ReadMemory(0x404010, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(buf))
	assert.Equal(t, byte(42), tr.Mem[0x404010])

	_, err = s.ReadMemory(0x500000, 4)
	assert.Error(t, err)
}

func TestSession_Variables(t *testing.T) {
	s, tr := atEntry(t)
	tr.Context(testUserTid).Rsp = stackTop

	globals := s.Globals()
	require.Len(t, globals, 1)
	assert.Equal(t, "counter", globals[0].Name)
	assert.Equal(t, uint64(0x404010), globals[0].Address)

	locals, err := s.Locals()
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, "i", locals[0].Name)
	assert.Equal(t, uint64(stackTop+8-20), locals[0].Address)
}

func TestSession_Backtrace(t *testing.T) {
	s, tr := atEntry(t)
	ctx := tr.Context(testUserTid)
	ctx.Rip, ctx.Rbp = 0x401024, stackTop
	tr.LoadCode(stackTop, word(stackTop+0x20))
	tr.LoadCode(stackTop+8, word(0x401009))
	tr.LoadCode(stackTop+0x20, word(0))
	tr.LoadCode(stackTop+0x28, word(libcText))

	frames, err := s.Backtrace(10)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, Frame{PC: 0x401024, Func: "helper", Line: line(20)}, frames[0])
	assert.Equal(t, Frame{PC: 0x401009, Func: "main", Line: line(11)}, frames[1])
	assert.Equal(t, Frame{PC: libcText}, frames[2])

	frames, err = s.Backtrace(2)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
}
