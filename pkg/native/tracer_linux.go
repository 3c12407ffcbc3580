//go:build linux && amd64

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/srcdbg/pkg/logflags"
)

// threadState bookkeeping of one traced thread
type threadState struct {
	tid     int
	stopped bool // in a ptrace stop
	resume  bool // resume on the next WaitEvent
	step    bool // resume with PTRACE_SINGLESTEP
	sig     int  // signal delivered when resumed
	suspend int  // suspend count, resumed only at zero
}

// ptraceTracer drives a debuggee through ptrace(2).
//
// Unlike the debug API it mirrors, ptrace does not stop the whole process
// when one thread reports an event: other threads keep running until they
// trap themselves.
type ptraceTracer struct {
	opts Options

	pid      *atomic.Int64
	threads  map[int]*threadState
	queue    []Event
	modules  []Module
	mainPath string

	interruptMu sync.Mutex
	interrupts  map[int]bool

	once       *sync.Once
	closed     bool
	ptraceCh   chan func() // all ptrace requests are executed by one locked thread
	ptraceDone chan struct{}
	stopCh     chan struct{}

	logger *logrus.Entry
}

// New returns the ptrace backed Tracer.
func New(opts Options) Tracer {
	return &ptraceTracer{
		opts:       opts,
		pid:        atomic.NewInt64(0),
		threads:    map[int]*threadState{},
		interrupts: map[int]bool{},
		once:       &sync.Once{},
		ptraceCh:   make(chan func()),
		ptraceDone: make(chan struct{}),
		stopCh:     make(chan struct{}),
		logger:     logflags.NativeLogger(),
	}
}

// execPtrace runs fn on the tracer thread.
//
// ptrace requests must come from the thread that attached the tracee,
// see https://github.com/golang/go/issues/7699.
func (t *ptraceTracer) execPtrace(fn func()) {
	t.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-t.ptraceCh:
					reqFn()
					t.ptraceDone <- struct{}{}
				case <-t.stopCh:
					return
				}
			}
		}()
	})
	t.ptraceCh <- fn
	<-t.ptraceDone
}

func (t *ptraceTracer) Launch(path string, args []string) (Process, error) {
	if t.closed {
		return Process{}, errors.New("tracer closed")
	}
	if t.pid.Load() != 0 {
		return Process{}, fmt.Errorf("process %d already launched", t.pid.Load())
	}

	var (
		cmd *exec.Cmd
		err error
	)
	t.execPtrace(func() {
		cmd = exec.Command(path, args...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		if t.opts.Stdin != nil {
			cmd.Stdin = t.opts.Stdin
		}
		if t.opts.Stdout != nil {
			cmd.Stdout = t.opts.Stdout
		}
		if t.opts.Stderr != nil {
			cmd.Stderr = t.opts.Stderr
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:     true, // implies PTRACE_TRACEME
			Setpgid:    true,
			Foreground: false,
		}
		cmd.Env = append(os.Environ(), "GODEBUG=asyncpreemptoff=1")
		cmd.Env = append(cmd.Env, t.opts.Env...)

		if err = cmd.Start(); err != nil {
			return
		}

		// the tracee stops with SIGTRAP once execve succeeds
		var ws unix.WaitStatus
		if _, ws, err = wait4(cmd.Process.Pid, 0); err != nil {
			return
		}
		if !ws.Stopped() {
			err = fmt.Errorf("process %d not stopped after exec, status: %#x", cmd.Process.Pid, uint32(ws))
			return
		}

		// trace newly created threads
		err = unix.PtraceSetOptions(cmd.Process.Pid, unix.PTRACE_O_TRACECLONE)
	})
	if err != nil {
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _, _ = wait4(cmd.Process.Pid, 0)
		}
		return Process{}, fmt.Errorf("launch %s error: %v", path, err)
	}

	pid := cmd.Process.Pid
	t.pid.Store(int64(pid))
	t.threads = map[int]*threadState{
		// created suspended, runs after the first ResumeThread
		pid: {tid: pid, stopped: true, suspend: 1},
	}
	t.queue = nil

	ctx, err := t.GetContext(pid)
	if err != nil {
		_ = t.Kill()
		return Process{}, fmt.Errorf("read context of %d error: %v", pid, err)
	}

	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		exe = path
	}
	t.mainPath = exe

	mods, err := readProcModules(pid)
	if err != nil {
		t.logger.Warnf("read modules of %d error: %v", pid, err)
	}
	t.modules = mods

	mainMod := Module{Path: exe}
	var others []Module
	for _, m := range mods {
		if m.Path == exe && mainMod.Base == 0 {
			mainMod = m
			continue
		}
		others = append(others, m)
	}

	t.queue = append(t.queue, Event{Kind: EventProcessCreated, Pid: pid, Tid: pid, Module: mainMod})
	for _, m := range others {
		t.queue = append(t.queue, Event{Kind: EventModuleLoaded, Pid: pid, Tid: pid, Module: m})
	}
	t.queue = append(t.queue, Event{
		Kind:      EventException,
		Pid:       pid,
		Tid:       pid,
		Exception: Exception{Code: ExceptionBreakpoint, Addr: ctx.Rip, FirstChance: true},
	})

	comm, _ := readProcComm(pid)
	t.logger.Debugf("process %d (%s) launched, stopped at %#x", pid, comm, ctx.Rip)

	return Process{Pid: pid, Tid: pid}, nil
}

func (t *ptraceTracer) WaitEvent() (Event, error) {
	for {
		if ev, ok := t.popEvent(); ok {
			t.logger.Debugf("event: %s", ev)
			return ev, nil
		}

		pid := int(t.pid.Load())
		if pid == 0 {
			return Event{}, ErrNoProcess
		}

		running := t.resumeThreads()
		if running == 0 {
			return Event{}, ErrNoRunnableThread
		}

		wpid, ws, err := wait4(-1, 0)
		if err != nil {
			return Event{}, fmt.Errorf("wait error: %v", err)
		}
		if err := t.handleWait(pid, wpid, ws); err != nil {
			t.queue = append(t.queue, Event{Kind: EventProtocolError, Pid: pid, Tid: wpid, Err: err})
		}
	}
}

func (t *ptraceTracer) popEvent() (Event, bool) {
	if len(t.queue) == 0 {
		return Event{}, false
	}
	ev := t.queue[0]
	t.queue = t.queue[1:]
	// the thread reports again, it waits for its own Continue
	if th, ok := t.threads[ev.Tid]; ok {
		th.resume = false
	}
	return ev, true
}

// resumeThreads resumes every stopped thread with a scheduled resume and
// returns the number of running threads.
func (t *ptraceTracer) resumeThreads() int {
	running := 0
	for _, th := range t.threads {
		if th.stopped && th.resume && th.suspend == 0 {
			var err error
			t.execPtrace(func() {
				if th.step {
					err = ptraceSingleStep(th.tid, th.sig)
				} else {
					err = ptraceCont(th.tid, th.sig)
				}
			})
			if err != nil && err != unix.ESRCH {
				t.logger.Warnf("resume thread %d error: %v", th.tid, err)
				continue
			}
			// on ESRCH the thread is dying, its exit is reported by wait4
			th.stopped, th.resume, th.sig = false, false, 0
		}
		if !th.stopped {
			running++
		}
	}
	return running
}

func (t *ptraceTracer) handleWait(pid, wpid int, ws unix.WaitStatus) error {
	th, known := t.threads[wpid]

	if ws.Exited() || ws.Signaled() {
		code := ws.ExitStatus()
		if ws.Signaled() {
			code = 128 + int(ws.Signal())
		}
		if wpid == pid {
			t.queue = append(t.queue, Event{Kind: EventProcessExited, Pid: pid, Tid: wpid, ExitCode: code})
			t.reset()
			return nil
		}
		if known {
			delete(t.threads, wpid)
			t.queue = append(t.queue, Event{Kind: EventThreadExited, Pid: pid, Tid: wpid, ExitCode: code})
		}
		return nil
	}

	if !ws.Stopped() {
		return nil
	}

	if !known {
		// initial stop of a new thread reported before its clone event
		t.threads[wpid] = &threadState{tid: wpid, stopped: true}
		return nil
	}

	wasStep := th.step
	th.stopped, th.step = true, false

	sig := ws.StopSignal()
	switch {
	case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_CLONE:
		return t.handleClone(pid, th)
	case sig == unix.SIGTRAP:
		return t.handleTrap(pid, th, wasStep)
	case sig == unix.SIGSTOP && t.takeInterrupt(wpid):
		ctx, err := t.GetContext(wpid)
		if err != nil {
			return err
		}
		t.queue = append(t.queue, Event{
			Kind:      EventException,
			Pid:       pid,
			Tid:       wpid,
			Exception: Exception{Code: ExceptionSingleStep, Addr: ctx.Rip, FirstChance: true},
		})
	case sig == unix.SIGSTOP:
		// suppressed, never turns into a group stop
		th.resume = true
	case sig == unix.SIGSEGV || sig == unix.SIGBUS || sig == unix.SIGFPE || sig == unix.SIGILL:
		var si ptraceSiginfo
		var err error
		t.execPtrace(func() { si, err = ptraceGetSiginfo(wpid) })
		if err != nil {
			return fmt.Errorf("get siginfo of %d error: %v", wpid, err)
		}
		th.sig = int(sig)
		t.queue = append(t.queue, Event{
			Kind:      EventException,
			Pid:       pid,
			Tid:       wpid,
			Exception: Exception{Code: exceptionCode(sig, si.code), Addr: si.addr, FirstChance: true},
		})
	default:
		// delivered silently
		th.sig = int(sig)
		th.resume = true
	}
	return nil
}

func exceptionCode(sig syscall.Signal, code uint32) ExceptionCode {
	switch sig {
	case unix.SIGSEGV:
		return ExceptionAccessViolation
	case unix.SIGBUS:
		return ExceptionInPageError
	case unix.SIGILL:
		return ExceptionIllegalInstruction
	}
	switch code {
	case fpeIntDiv:
		return ExceptionIntDivideByZero
	case fpeIntOvf:
		return ExceptionIntOverflow
	case fpeFltDiv:
		return ExceptionFltDivideByZero
	default:
		return ExceptionFltInvalidOperation
	}
}

func (t *ptraceTracer) handleClone(pid int, parent *threadState) error {
	var (
		msg uint
		err error
	)
	t.execPtrace(func() {
		msg, err = unix.PtraceGetEventMsg(parent.tid)
	})
	parent.resume = true
	if err != nil {
		if err == unix.ESRCH {
			// thread died while we were adding it
			return nil
		}
		return fmt.Errorf("could not get event message: %v", err)
	}

	child := int(msg)
	if _, ok := t.threads[child]; !ok {
		// clones inherit PTRACE_O_TRACECLONE and start with SIGSTOP
		_, ws, err := wait4(child, 0)
		if err != nil {
			return fmt.Errorf("wait new thread %d error: %v", child, err)
		}
		if !ws.Stopped() {
			return nil
		}
		t.threads[child] = &threadState{tid: child, stopped: true}
	}
	t.queue = append(t.queue, Event{Kind: EventThreadCreated, Pid: pid, Tid: child})
	return nil
}

func (t *ptraceTracer) handleTrap(pid int, th *threadState, wasStep bool) error {
	var (
		si  ptraceSiginfo
		err error
	)
	t.execPtrace(func() { si, err = ptraceGetSiginfo(th.tid) })
	if err != nil {
		return fmt.Errorf("get siginfo of %d error: %v", th.tid, err)
	}
	ctx, err := t.GetContext(th.tid)
	if err != nil {
		return err
	}

	code := si.code & 0xffff
	switch {
	case code == trapTrace || (code == trapBrkpt && wasStep):
		// stepping over syscall reports TRAP_BRKPT
		th.sig = int(unix.SIGTRAP)
		t.queue = append(t.queue, Event{
			Kind:      EventException,
			Pid:       pid,
			Tid:       th.tid,
			Exception: Exception{Code: ExceptionSingleStep, Addr: ctx.Rip, FirstChance: true},
		})
	case code == siKernel || code == trapBrkpt:
		t.refreshModules(pid, th.tid)
		th.sig = int(unix.SIGTRAP)
		t.queue = append(t.queue, Event{
			Kind:      EventException,
			Pid:       pid,
			Tid:       th.tid,
			Exception: Exception{Code: ExceptionBreakpoint, Addr: ctx.Rip - 1, FirstChance: true},
		})
	default:
		// raised by the debuggee itself
		th.sig = int(unix.SIGTRAP)
		th.resume = true
	}
	return nil
}

// refreshModules reports shared objects mapped or unmapped since the last
// look at /proc/pid/maps.
func (t *ptraceTracer) refreshModules(pid, tid int) {
	mods, err := readProcModules(pid)
	if err != nil {
		t.logger.Warnf("read modules of %d error: %v", pid, err)
		return
	}
	loaded, unloaded := diffModules(t.modules, mods)
	t.modules = mods
	for _, m := range unloaded {
		t.queue = append(t.queue, Event{Kind: EventModuleUnloaded, Pid: pid, Tid: tid, Module: m})
	}
	for _, m := range loaded {
		t.queue = append(t.queue, Event{Kind: EventModuleLoaded, Pid: pid, Tid: tid, Module: m})
	}
}

func (t *ptraceTracer) takeInterrupt(tid int) bool {
	t.interruptMu.Lock()
	defer t.interruptMu.Unlock()
	ok := t.interrupts[tid]
	delete(t.interrupts, tid)
	return ok
}

func (t *ptraceTracer) reset() {
	t.pid.Store(0)
	t.threads = map[int]*threadState{}
	t.modules = nil
	t.mainPath = ""
	t.interruptMu.Lock()
	t.interrupts = map[int]bool{}
	t.interruptMu.Unlock()
}

func (t *ptraceTracer) Continue(pid, tid int, d Disposition) error {
	if int(t.pid.Load()) != pid {
		// continuing the exit event of a finished process
		return nil
	}
	th, ok := t.threads[tid]
	if !ok {
		return nil
	}
	if d == Handled {
		th.sig = 0
	}
	if th.stopped {
		th.resume = true
	}
	return nil
}

func (t *ptraceTracer) SuspendThread(tid int) error {
	th, ok := t.threads[tid]
	if !ok {
		return ErrUnknownThread
	}
	th.suspend++
	return nil
}

func (t *ptraceTracer) ResumeThread(tid int) error {
	th, ok := t.threads[tid]
	if !ok {
		return ErrUnknownThread
	}
	if th.suspend > 0 {
		th.suspend--
	}
	if th.suspend == 0 && th.stopped {
		th.resume = true
	}
	return nil
}

func (t *ptraceTracer) Interrupt(tid int) error {
	pid := int(t.pid.Load())
	if pid == 0 {
		return ErrNoProcess
	}
	t.interruptMu.Lock()
	t.interrupts[tid] = true
	t.interruptMu.Unlock()
	return unix.Tgkill(pid, tid, unix.SIGSTOP)
}

func (t *ptraceTracer) stoppedThread(tid int) (*threadState, error) {
	th, ok := t.threads[tid]
	if !ok {
		return nil, ErrUnknownThread
	}
	if !th.stopped {
		return nil, fmt.Errorf("thread %d is running", tid)
	}
	return th, nil
}

func (t *ptraceTracer) GetContext(tid int) (*Context, error) {
	th, err := t.stoppedThread(tid)
	if err != nil {
		return nil, err
	}
	var ctx *Context
	t.execPtrace(func() { ctx, err = ptraceGetContext(tid) })
	if err != nil {
		return nil, fmt.Errorf("get regs of %d error: %v", tid, err)
	}
	if th.step {
		ctx.Eflags |= TrapFlag
	}
	return ctx, nil
}

func (t *ptraceTracer) SetContext(tid int, ctx *Context) error {
	th, err := t.stoppedThread(tid)
	if err != nil {
		return err
	}
	// the trap flag selects PTRACE_SINGLESTEP instead of being written
	regs := *ctx
	th.step = regs.Eflags&TrapFlag != 0
	regs.Eflags &^= TrapFlag

	t.execPtrace(func() { err = ptraceSetContext(tid, &regs) })
	if err != nil {
		return fmt.Errorf("set regs of %d error: %v", tid, err)
	}
	return nil
}

// memoryThread returns a stopped thread to issue peek/poke requests through,
// the main thread first.
func (t *ptraceTracer) memoryThread(pid int) (int, error) {
	if int(t.pid.Load()) != pid || pid == 0 {
		return 0, ErrNoProcess
	}
	if th, ok := t.threads[pid]; ok && th.stopped {
		return pid, nil
	}
	for tid, th := range t.threads {
		if th.stopped {
			return tid, nil
		}
	}
	return 0, fmt.Errorf("process %d has no stopped thread", pid)
}

func (t *ptraceTracer) ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	tid, err := t.memoryThread(pid)
	if err != nil {
		return 0, err
	}
	var n int
	t.execPtrace(func() {
		// PtracePeekText is the same as PtracePeekData on linux
		n, err = unix.PtracePeekData(tid, uintptr(addr), buf)
	})
	if err != nil {
		return n, fmt.Errorf("peek data %#x error: %v", addr, err)
	}
	return n, nil
}

func (t *ptraceTracer) WriteMemory(pid int, addr uint64, data []byte) (int, error) {
	tid, err := t.memoryThread(pid)
	if err != nil {
		return 0, err
	}
	var n int
	// x86 keeps the instruction cache coherent with poked code
	t.execPtrace(func() {
		n, err = unix.PtracePokeData(tid, uintptr(addr), data)
	})
	if err != nil {
		return n, fmt.Errorf("poke data %#x error: %v", addr, err)
	}
	return n, nil
}

func (t *ptraceTracer) Kill() error {
	pid := int(t.pid.Load())
	if pid == 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("kill %d error: %v", pid, err)
	}
	for {
		wpid, ws, err := wait4(-1, 0)
		if err != nil {
			// ECHILD, nothing left to reap
			break
		}
		if wpid == pid && (ws.Exited() || ws.Signaled()) {
			break
		}
	}
	t.queue = nil
	t.reset()
	return nil
}

func (t *ptraceTracer) Close() error {
	if t.closed {
		return nil
	}
	err := t.Kill()
	t.closed = true
	close(t.stopCh)
	return err
}
