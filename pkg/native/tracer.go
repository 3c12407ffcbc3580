// Package native is the OS debug facility the engine drives: launching a
// process under debug control, delivering debug events one at a time, and
// accessing thread contexts and process memory.
package native

import (
	"errors"
	"os"
)

// TrapFlag single step bit of the flags register
const TrapFlag = 0x100

var (
	// ErrNoProcess returned when no debuggee is running.
	ErrNoProcess = errors.New("no process being debugged")
	// ErrNoRunnableThread returned by WaitEvent when every thread is stopped
	// and none is scheduled to resume.
	ErrNoRunnableThread = errors.New("no runnable thread")
	// ErrUnknownThread returned when a tid does not belong to the debuggee.
	ErrUnknownThread = errors.New("unknown thread")
	// ErrUnsupported returned on platforms without a native backend.
	ErrUnsupported = errors.New("native debugging not supported on this platform")
)

// Options controls how the debuggee is started, nil files default to the
// debugger's own standard streams.
type Options struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
	Env    []string // appended to the debugger environment
}

// Process ids of a newly launched debuggee
type Process struct {
	Pid int
	Tid int // main thread
}

// Context the general purpose registers of a thread
type Context struct {
	R15    uint64
	R14    uint64
	R13    uint64
	R12    uint64
	Rbp    uint64
	Rbx    uint64
	R11    uint64
	R10    uint64
	R9     uint64
	R8     uint64
	Rax    uint64
	Rcx    uint64
	Rdx    uint64
	Rsi    uint64
	Rdi    uint64
	Rip    uint64
	Cs     uint64
	Eflags uint64
	Rsp    uint64
	Ss     uint64
	FsBase uint64
	GsBase uint64
	Ds     uint64
	Es     uint64
	Fs     uint64
	Gs     uint64
}

// Tracer is the native debug facility. Except for Interrupt, methods must be
// called from one goroutine, the one that launched the process.
type Tracer interface {
	// Launch starts path with args under debug control. The main thread is
	// created suspended; the first events reported are ProcessCreated and the
	// bootstrap breakpoint exception.
	Launch(path string, args []string) (Process, error)
	// WaitEvent blocks until the next debug event.
	WaitEvent() (Event, error)
	// Continue resumes the thread that reported the last event.
	Continue(pid, tid int, d Disposition) error

	SuspendThread(tid int) error
	ResumeThread(tid int) error
	// Interrupt asks tid to stop, it is reported as a single step exception.
	// Safe for concurrent use.
	Interrupt(tid int) error

	GetContext(tid int) (*Context, error)
	SetContext(tid int, ctx *Context) error

	ReadMemory(pid int, addr uint64, buf []byte) (int, error)
	WriteMemory(pid int, addr uint64, data []byte) (int, error)

	// Kill terminates the debuggee, the ProcessExited event is consumed.
	Kill() error
	// Close releases the tracer resources.
	Close() error
}
