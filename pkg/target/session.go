// Package target drives one debuggee: the session state machine, the
// breakpoint bookkeeping and the line stepping logic, on top of a native
// debug facility and the symbol resolver.
package target

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/srcdbg/pkg/logflags"
	"github.com/hitzhangjie/srcdbg/pkg/native"
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
)

var (
	ErrAlreadyRunning = errors.New("debuggee already running")
	ErrNotRunning     = errors.New("no debuggee running")
)

// Status 调试会话状态
type Status int

const (
	StatusNone Status = iota
	StatusSuspended
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "none"
	}
}

// Options 调试会话选项
type Options struct {
	// EntryFunctions candidates for the function the entry breakpoint is
	// planted at, the first one found wins.
	EntryFunctions []string
	// StopOnEntry stops the session when the entry breakpoint is reached.
	StopOnEntry bool
}

// Session 调试会话，维护被调试进程的生命周期
//
// All methods except RequestBreak and RequestSuspend must be called from the
// goroutine that started the session.
type Session struct {
	tracer   native.Tracer
	resolver *symbol.Resolver
	bps      *BreakpointManager
	steps    *StepController
	opts     Options

	path string
	args []string

	pid       int
	mainTid   int
	userTid   int
	threads   map[int]*Thread // 包含的线程列表,k=tid,v=thread
	stopped   int             // thread stopped at the last event, 0 if none
	pending   bool            // the stopped thread's event awaits a continuation
	suspended int             // thread held by SuspendThread, 0 if none
	status    Status

	disposition    native.Disposition
	alwaysContinue bool
	stepOutReturn  bool

	requestBreak   *atomic.Bool
	requestSuspend *atomic.Bool
	breakTid       *atomic.Int64

	output    strings.Builder
	exitCode  int
	exception *native.Exception

	logger *logrus.Entry
}

// NewSession 创建调试会话
func NewSession(tracer native.Tracer, resolver *symbol.Resolver, opts Options) *Session {
	s := &Session{
		tracer:         tracer,
		resolver:       resolver,
		opts:           opts,
		threads:        map[int]*Thread{},
		requestBreak:   atomic.NewBool(false),
		requestSuspend: atomic.NewBool(false),
		breakTid:       atomic.NewInt64(0),
		logger:         logflags.SessionLogger(),
	}
	s.bps = NewBreakpointManager(processMemory{s})
	s.steps = NewStepController(s)
	return s
}

// processMemory the address space of the session's debuggee
type processMemory struct {
	s *Session
}

func (m processMemory) ReadMemory(addr uint64, buf []byte) (int, error) {
	return m.s.tracer.ReadMemory(m.s.pid, addr, buf)
}

func (m processMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	return m.s.tracer.WriteMemory(m.s.pid, addr, data)
}

// textMemory 被调试进程内存，断点处返回被替换前的原始指令，用于指令解码
type textMemory struct {
	s *Session
}

func (m textMemory) ReadMemory(addr uint64, buf []byte) (int, error) {
	n, err := m.s.tracer.ReadMemory(m.s.pid, addr, buf)
	m.s.bps.maskOriginal(addr, buf[:n])
	return n, err
}

func (m textMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	return m.s.tracer.WriteMemory(m.s.pid, addr, data)
}

// reset returns the session to StatusNone.
func (s *Session) reset() {
	s.pid, s.mainTid, s.userTid = 0, 0, 0
	s.threads = map[int]*Thread{}
	s.stopped, s.pending, s.suspended = 0, false, 0
	s.status = StatusNone
	s.disposition = native.NotHandled
	s.alwaysContinue = false
	s.stepOutReturn = false
	s.requestBreak.Store(false)
	s.requestSuspend.Store(false)
	s.breakTid.Store(0)
	s.bps.Reset()
	s.steps.Reset()
	s.resolver.Reset()
}

// Start 启动被调试进程，主线程处于挂起状态
func (s *Session) Start(path string, args []string) error {
	if s.status != StatusNone {
		return ErrAlreadyRunning
	}

	proc, err := s.tracer.Launch(path, args)
	if err != nil {
		s.logger.Errorf("launch %s: %v", path, err)
		return fmt.Errorf("launch %s: %w", path, err)
	}

	s.path, s.args = path, args
	s.pid, s.mainTid, s.userTid = proc.Pid, proc.Tid, 0
	s.threads = map[int]*Thread{proc.Tid: newThread(proc.Tid, s.tracer)}
	s.status = StatusSuspended
	// 主线程创建后处于挂起状态
	s.stopped, s.pending, s.suspended = proc.Tid, false, proc.Tid
	s.disposition = native.Handled
	s.exitCode = 0
	s.exception = nil
	s.output.Reset()
	s.breakTid.Store(int64(proc.Tid))

	s.logger.Infof("process %d launched: %s", proc.Pid, path)
	return nil
}

// Restart 杀死当前被调试进程并以相同的命令重新启动
func (s *Session) Restart() error {
	if s.path == "" {
		return ErrNotRunning
	}
	if s.status != StatusNone {
		if err := s.Kill(); err != nil {
			return err
		}
	}
	return s.Start(s.path, s.args)
}

// Command 返回最近一次启动被调试进程使用的程序路径及参数
func (s *Session) Command() (string, []string) {
	return s.path, s.args
}

// SetArgs 修改下次Restart使用的参数
func (s *Session) SetArgs(args []string) {
	s.args = args
}

// Continue 恢复被调试进程执行，直到被调试进程再次停止或者退出
func (s *Session) Continue() error {
	if s.status == StatusNone {
		return ErrNotRunning
	}

	if s.suspended != 0 {
		if err := s.tracer.ResumeThread(s.suspended); err != nil {
			return fmt.Errorf("resume thread %d: %w", s.suspended, err)
		}
		s.suspended = 0
	}
	if s.pending && s.stopped != 0 {
		if err := s.stepOffBreakpoint(s.stopped); err != nil {
			return err
		}
		d := s.disposition
		if s.alwaysContinue {
			d = native.Handled
		}
		if err := s.tracer.Continue(s.pid, s.stopped, d); err != nil {
			return fmt.Errorf("continue thread %d: %w", s.stopped, err)
		}
	}
	s.alwaysContinue = false
	s.stopped, s.pending = 0, false
	s.exception = nil

	for {
		ev, err := s.tracer.WaitEvent()
		if err != nil {
			s.status = StatusInterrupted
			s.logger.Errorf("wait debug event: %v", err)
			return fmt.Errorf("wait debug event: %w", err)
		}

		if s.dispatch(ev) {
			if err := s.tracer.Continue(ev.Pid, ev.Tid, s.disposition); err != nil {
				s.status = StatusInterrupted
				s.logger.Errorf("continue thread %d: %v", ev.Tid, err)
				return fmt.Errorf("continue thread %d: %w", ev.Tid, err)
			}
			continue
		}
		s.requestBreak.Store(false)
		s.requestSuspend.Store(false)
		if s.stopped != 0 {
			s.pending = true
		}
		return nil
	}
}

// stepOffBreakpoint 线程停在尚未摘除的用户断点上时（例如单步到达断点地址），
// 摘除断点并单步执行原指令，单步完成后重新设置断点
func (s *Session) stepOffBreakpoint(tid int) error {
	th, ok := s.threads[tid]
	if !ok {
		return nil
	}
	pc, err := th.PC()
	if err != nil {
		return err
	}
	if !s.bps.LiftUser(pc) {
		return nil
	}
	return th.SetTrapFlag()
}

// RequestBreak 异步中断正在运行的用户线程，可在任意goroutine调用
func (s *Session) RequestBreak() error {
	tid := int(s.breakTid.Load())
	if tid == 0 {
		return ErrNotRunning
	}
	s.requestBreak.Store(true)
	return s.tracer.Interrupt(tid)
}

// RequestSuspend 异步中断并挂起正在运行的用户线程，可在任意goroutine调用
func (s *Session) RequestSuspend() error {
	s.requestSuspend.Store(true)
	return s.RequestBreak()
}

// Suspend 挂起已停止的用户线程
func (s *Session) Suspend() error {
	if s.status == StatusNone {
		return ErrNotRunning
	}
	if s.suspended != 0 {
		return nil
	}
	th := s.currentThread()
	if th == nil {
		return ErrNotRunning
	}
	if err := s.tracer.SuspendThread(th.Tid); err != nil {
		return fmt.Errorf("suspend thread %d: %w", th.Tid, err)
	}
	s.suspended = th.Tid
	s.status = StatusSuspended
	s.logger.Infof("thread %d suspended", th.Tid)
	return nil
}

// Resume 恢复挂起的用户线程
func (s *Session) Resume() error {
	if s.status != StatusSuspended {
		return nil
	}
	return s.Continue()
}

// Kill 杀死被调试进程
func (s *Session) Kill() error {
	if s.status == StatusNone {
		return nil
	}
	err := s.tracer.Kill()
	s.reset()
	if err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	return nil
}

// Close 杀死被调试进程并释放tracer
func (s *Session) Close() error {
	if err := s.Kill(); err != nil {
		s.logger.Errorf("%v", err)
	}
	return s.tracer.Close()
}

// currentThread 返回单步等操作作用的线程：停止的线程，其次是用户线程、主线程
func (s *Session) currentThread() *Thread {
	for _, tid := range []int{s.stopped, s.userTid, s.mainTid} {
		if th, ok := s.threads[tid]; ok && tid != 0 {
			return th
		}
	}
	return nil
}

// thread 返回tid对应的线程，未知线程按需创建
func (s *Session) thread(tid int) *Thread {
	th, ok := s.threads[tid]
	if !ok {
		th = newThread(tid, s.tracer)
		s.threads[tid] = th
	}
	return th
}

// LineOf resolves the entry file line thread tid executes.
func (s *Session) LineOf(tid int) (symbol.LineInfo, bool) {
	pc, err := s.thread(tid).PC()
	if err != nil {
		return symbol.LineInfo{}, false
	}
	return s.resolver.LineAt(pc)
}

// StepIn 单步执行，直到源码行发生变化
func (s *Session) StepIn() error {
	th, err := s.steppingThread()
	if err != nil {
		return err
	}
	s.steps.Snapshot(th.Tid)
	if err := th.SetTrapFlag(); err != nil {
		return err
	}
	s.bps.singleInstruction = true
	return nil
}

// StepOver 执行到下一行，跳过函数调用
func (s *Session) StepOver() error {
	th, err := s.steppingThread()
	if err != nil {
		return err
	}
	pc, err := th.PC()
	if err != nil {
		return err
	}

	s.steps.Snapshot(th.Tid)
	s.bps.steppingOver = true

	// CALL指令：在CALL之后设置断点，全速执行被调函数
	if n, ok := symbol.CallLength(textMemory{s}, pc); ok {
		if err := s.bps.SetStepOver(pc + uint64(n)); err != nil {
			return err
		}
		s.bps.singleInstruction = false
		return nil
	}

	// 其他指令：单步执行
	if err := th.SetTrapFlag(); err != nil {
		return err
	}
	s.bps.singleInstruction = true
	return nil
}

// StepOut 执行到当前函数返回
func (s *Session) StepOut() error {
	th, err := s.steppingThread()
	if err != nil {
		return err
	}
	pc, err := th.PC()
	if err != nil {
		return err
	}

	s.steps.Snapshot(th.Tid)

	// 在当前函数的ret指令处设置断点
	if ret, ok := s.resolver.ReturnAddressOf(textMemory{s}, pc); ok {
		if err := s.bps.SetStepOut(ret); err != nil {
			return err
		}
		s.bps.steppingOut = true
		s.bps.singleInstruction = false
		s.stepOutReturn = false
		return nil
	}

	s.logger.Debugf("no ret found for pc %#x, single stepping", pc)
	if err := th.SetTrapFlag(); err != nil {
		return err
	}
	s.bps.steppingOut = false
	s.bps.singleInstruction = true
	return nil
}

func (s *Session) steppingThread() (*Thread, error) {
	if s.status == StatusNone {
		return nil, ErrNotRunning
	}
	th := s.currentThread()
	if th == nil {
		return nil, ErrNotRunning
	}
	return th, nil
}

// --------------------------------------------------------------------

// Status 返回会话状态
func (s *Session) Status() Status {
	return s.status
}

// Attached 是否有被调试进程
func (s *Session) Attached() bool {
	return s.status != StatusNone
}

func (s *Session) ProcessID() int {
	return s.pid
}

func (s *Session) MainThreadID() int {
	return s.mainTid
}

// UserThreadID returns the thread that reached the entry function.
func (s *Session) UserThreadID() int {
	return s.userTid
}

// StoppedThreadID returns the thread stopped at the last event, 0 if none.
func (s *Session) StoppedThreadID() int {
	return s.stopped
}

// CurrentLine 返回最近一次停止时的源码行
func (s *Session) CurrentLine() symbol.LineInfo {
	return s.steps.Last()
}

// DebugOutput 返回被调试进程输出的调试信息
func (s *Session) DebugOutput() string {
	return s.output.String()
}

// ExitCode 返回被调试进程的退出码
func (s *Session) ExitCode() int {
	return s.exitCode
}

// LastException returns the unhandled exception the session stopped at.
func (s *Session) LastException() (native.Exception, bool) {
	if s.exception == nil {
		return native.Exception{}, false
	}
	return *s.exception, true
}

// Threads 返回所有线程ID
func (s *Session) Threads() []int {
	tids := make([]int, 0, len(s.threads))
	for tid := range s.threads {
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids
}

// Resolver returns the symbol resolver of the session.
func (s *Session) Resolver() *symbol.Resolver {
	return s.resolver
}

// --------------------------------------------------------------------

// Breakpoints 列出所有用户断点
func (s *Session) Breakpoints() Breakpoints {
	return s.bps.User()
}

// SetBreakpoint 在地址addr处添加断点
func (s *Session) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if s.status == StatusNone {
		return nil, ErrNotRunning
	}
	bp, err := s.bps.SetUser(addr)
	if err != nil {
		return nil, err
	}
	if li, ok := s.resolver.SourceLine(addr); ok {
		bp.Pos = li.String()
	}
	return bp, nil
}

// SetBreakpointAtLine 在源码位置file:line处添加断点
func (s *Session) SetBreakpointAtLine(file string, line int) (*Breakpoint, error) {
	if s.status == StatusNone {
		return nil, ErrNotRunning
	}
	addr, err := s.resolver.PCForLine(file, line)
	if err != nil {
		return nil, err
	}
	return s.SetBreakpoint(addr)
}

// SetBreakpointAtFunc 在函数name入口处添加断点
func (s *Session) SetBreakpointAtFunc(name string) (*Breakpoint, error) {
	if s.status == StatusNone {
		return nil, ErrNotRunning
	}
	addr, err := s.resolver.FindAddress(name)
	if err != nil {
		return nil, err
	}
	return s.SetBreakpoint(addr)
}

// ClearBreakpoint 删除addr处的断点
func (s *Session) ClearBreakpoint(addr uint64) (*Breakpoint, error) {
	return s.bps.CancelUser(addr)
}

// ClearBreakpointByID 删除编号为id的断点
func (s *Session) ClearBreakpointByID(id uint64) (*Breakpoint, error) {
	bp, ok := s.bps.UserByID(id)
	if !ok {
		return nil, ErrBreakpointNotExisted
	}
	return s.bps.CancelUser(bp.Addr)
}

// ClearAllBreakpoints 删除所有断点
func (s *Session) ClearAllBreakpoints() {
	for _, bp := range s.bps.User() {
		if _, err := s.bps.CancelUser(bp.Addr); err != nil {
			s.logger.Errorf("clear breakpoint %d: %v", bp.ID, err)
		}
	}
}

// --------------------------------------------------------------------

func (s *Session) threadOrCurrent(tid int) (*Thread, error) {
	if s.status == StatusNone {
		return nil, ErrNotRunning
	}
	if tid == 0 {
		if th := s.currentThread(); th != nil {
			return th, nil
		}
		return nil, ErrNotRunning
	}
	th, ok := s.threads[tid]
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", tid, native.ErrUnknownThread)
	}
	return th, nil
}

// Registers 读取线程tid的寄存器，tid为0时读取当前线程
func (s *Session) Registers(tid int) (*native.Context, error) {
	th, err := s.threadOrCurrent(tid)
	if err != nil {
		return nil, err
	}
	return th.Context()
}

// SetRegister 设置线程tid的寄存器，tid为0时设置当前线程
func (s *Session) SetRegister(tid int, name string, value uint64) error {
	th, err := s.threadOrCurrent(tid)
	if err != nil {
		return err
	}
	return th.SetRegister(name, value)
}

// ReadMemory 读取内存地址addr处的n字节数据，断点处返回原始数据
func (s *Session) ReadMemory(addr uint64, n int) ([]byte, error) {
	if s.status == StatusNone {
		return nil, ErrNotRunning
	}
	buf := make([]byte, n)
	read, err := s.tracer.ReadMemory(s.pid, addr, buf)
	if read == 0 && err != nil {
		return nil, fmt.Errorf("read memory at %#x: %w", addr, err)
	}
	buf = buf[:read]
	s.bps.maskOriginal(addr, buf)
	return buf, nil
}

// WriteMemory 设置内存地址addr处的数据
func (s *Session) WriteMemory(addr uint64, data []byte) error {
	if s.status == StatusNone {
		return ErrNotRunning
	}
	n, err := s.tracer.WriteMemory(s.pid, addr, data)
	if err != nil {
		return fmt.Errorf("write memory at %#x: %w", addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("write memory at %#x: %d of %d bytes", addr, n, len(data))
	}
	return nil
}

// Globals 返回主模块的全局变量
func (s *Session) Globals() []symbol.VariableDescriptor {
	return s.resolver.Globals()
}

// Locals 返回当前线程所在函数的局部变量
func (s *Session) Locals() ([]symbol.VariableDescriptor, error) {
	th, err := s.threadOrCurrent(0)
	if err != nil {
		return nil, err
	}
	regs, err := th.Registers()
	if err != nil {
		return nil, err
	}
	return s.resolver.Locals(regs), nil
}

// Frame 栈帧信息
type Frame struct {
	PC   uint64
	Func string
	Line symbol.LineInfo
}

// Backtrace 沿帧指针链回溯当前线程的调用栈，最多max个栈帧
func (s *Session) Backtrace(max int) ([]Frame, error) {
	th, err := s.threadOrCurrent(0)
	if err != nil {
		return nil, err
	}
	ctx, err := th.Context()
	if err != nil {
		return nil, err
	}

	mem := processMemory{s}
	frames := []Frame{}
	pc, bp := ctx.Rip, ctx.Rbp
	for len(frames) < max && pc != 0 {
		frames = append(frames, s.frameAt(pc))
		if bp == 0 {
			break
		}
		ret, err := symbol.ReadUint64(mem, bp+8)
		if err != nil {
			break
		}
		next, err := symbol.ReadUint64(mem, bp)
		if err != nil {
			break
		}
		pc = ret
		// the stack grows down, an outer frame lives at a higher address
		if next <= bp {
			next = 0
		}
		bp = next
	}
	return frames, nil
}

func (s *Session) frameAt(pc uint64) Frame {
	frame := Frame{PC: pc}
	if fn, ok := s.resolver.FunctionAt(pc); ok {
		frame.Func = fn.Name
	}
	frame.Line, _ = s.resolver.SourceLine(pc)
	return frame
}
