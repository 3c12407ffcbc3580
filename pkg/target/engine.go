package target

import (
	"errors"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/srcdbg/pkg/logflags"
)

var (
	// ErrSuperseded returned to an operation replaced by a later Post before
	// the engine picked it up.
	ErrSuperseded = errors.New("operation superseded")
	// ErrEngineStopped returned once Shutdown was called.
	ErrEngineStopped = errors.New("engine stopped")
)

// OpKind 引擎执行的控制操作
type OpKind int

const (
	OpGo OpKind = iota
	OpStepIn
	OpStepOver
	OpStepOut
	OpResume
)

func (k OpKind) String() string {
	switch k {
	case OpGo:
		return "go"
	case OpStepIn:
		return "step-in"
	case OpStepOver:
		return "step-over"
	case OpStepOut:
		return "step-out"
	case OpResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Op one posted operation
type Op struct {
	Kind OpKind
	done chan error
}

type request struct {
	fn   func(*Session) error
	done chan error
}

// State 引擎发布给控制端的会话快照
type State struct {
	Attached   bool
	Status     Status
	Running    bool
	File       string
	Line       int
	MainTid    int
	UserTid    int
	StoppedTid int
	Output     string
	ExitCode   int
	Exception  string
}

// LineIndex returns the zero based index of Line, -1 when no line is known.
func (st State) LineIndex() int {
	return st.Line - 1
}

// Engine 调试引擎，Session的所有操作都在同一个锁定OS线程的goroutine中执行
//
// ptrace要求所有请求来自同一个tracer线程, see https://github.com/golang/go/issues/7699
type Engine struct {
	sess *Session

	mu   sync.Mutex
	ops  chan Op
	reqs chan request

	running *atomic.Bool
	stopped *atomic.Bool
	state   atomic.Value

	stopCh chan struct{}
	done   chan struct{}
	logger *logrus.Entry
}

// NewEngine 创建引擎并启动引擎goroutine
func NewEngine(sess *Session) *Engine {
	e := &Engine{
		sess:    sess,
		ops:     make(chan Op, 1),
		reqs:    make(chan request),
		running: atomic.NewBool(false),
		stopped: atomic.NewBool(false),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logflags.EngineLogger(),
	}
	e.state.Store(State{})
	go e.loop()
	return e
}

func (e *Engine) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	for {
		select {
		case op := <-e.ops:
			// Shutdown sees either the op rejected or running set
			e.mu.Lock()
			if e.stopped.Load() {
				e.mu.Unlock()
				op.done <- ErrEngineStopped
				continue
			}
			e.running.Store(true)
			e.mu.Unlock()
			e.publish()
			err := e.run(op.Kind)
			e.running.Store(false)
			e.publish()
			if err != nil {
				e.logger.Debugf("%s: %v", op.Kind, err)
			}
			op.done <- err
		case req := <-e.reqs:
			err := req.fn(e.sess)
			e.publish()
			req.done <- err
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) run(kind OpKind) error {
	s := e.sess
	switch kind {
	case OpGo:
		return s.Continue()
	case OpResume:
		return s.Resume()
	}

	var err error
	switch kind {
	case OpStepIn:
		err = s.StepIn()
	case OpStepOver:
		err = s.StepOver()
	case OpStepOut:
		err = s.StepOut()
	}
	if err != nil {
		return err
	}
	return s.Continue()
}

func (e *Engine) publish() {
	s := e.sess
	st := State{
		Attached:   s.Attached(),
		Status:     s.Status(),
		Running:    e.running.Load(),
		MainTid:    s.MainThreadID(),
		UserTid:    s.UserThreadID(),
		StoppedTid: s.StoppedThreadID(),
		Output:     s.DebugOutput(),
		ExitCode:   s.ExitCode(),
	}
	if st.Attached {
		li := s.CurrentLine()
		st.File, st.Line = li.File, li.Line
	}
	if exc, ok := s.LastException(); ok {
		st.Exception = exc.Code.String()
	}
	e.state.Store(st)
}

// State 返回最近一次发布的会话快照
func (e *Engine) State() State {
	return e.state.Load().(State)
}

// Running 被调试进程是否正在执行
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Post 提交一个控制操作，尚未被执行的操作会被新操作替换
func (e *Engine) Post(kind OpKind) <-chan error {
	op := Op{Kind: kind, done: make(chan error, 1)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped.Load() {
		op.done <- ErrEngineStopped
		return op.done
	}
	select {
	case old := <-e.ops:
		old.done <- ErrSuperseded
	default:
	}
	// only the engine drains ops, the slot is free now
	e.ops <- op
	return op.done
}

// Exec 提交控制操作并等待其完成
func (e *Engine) Exec(kind OpKind) error {
	return <-e.Post(kind)
}

// Do 在引擎goroutine中执行fn，被调试进程运行时会等待其停止
func (e *Engine) Do(fn func(*Session) error) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	return e.do(fn)
}

func (e *Engine) do(fn func(*Session) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case e.reqs <- req:
	case <-e.done:
		return ErrEngineStopped
	}
	return <-req.done
}

// RequestBreak 中断正在运行的被调试进程
func (e *Engine) RequestBreak() error {
	if !e.running.Load() {
		return nil
	}
	return e.sess.RequestBreak()
}

// Suspend 挂起用户线程，运行中的被调试进程先被中断
func (e *Engine) Suspend() error {
	if e.running.Load() {
		return e.sess.RequestSuspend()
	}
	return e.Do(func(s *Session) error { return s.Suspend() })
}

// Shutdown 停止引擎：中断运行中的被调试进程，杀死进程并等待引擎goroutine退出
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.stopped.CAS(false, true) {
		e.mu.Unlock()
		return nil
	}
	select {
	case old := <-e.ops:
		old.done <- ErrEngineStopped
	default:
	}
	running := e.running.Load()
	e.mu.Unlock()

	if running {
		if err := e.sess.RequestBreak(); err != nil {
			e.logger.Warnf("break running debuggee: %v", err)
		}
	}
	err := e.do(func(s *Session) error { return s.Close() })
	close(e.stopCh)
	<-e.done
	return err
}
