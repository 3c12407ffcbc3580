// Package nativetest provides a scripted native.Tracer for tests.
package nativetest

import (
	"fmt"
	"sync"

	"github.com/hitzhangjie/srcdbg/pkg/native"
)

// Continuation one recorded Continue call
type Continuation struct {
	Tid         int
	Disposition native.Disposition
}

// Tracer replays Events in order and keeps memory and thread contexts in
// maps. Popping a breakpoint exception leaves the thread's Rip just past the
// trap opcode, popping a single step leaves it at the event address; both
// clear the trap flag like the hardware does.
type Tracer struct {
	Process   native.Process
	LaunchErr error
	Path      string
	Args      []string

	Events    []native.Event
	Mem       map[uint64]byte
	Contexts  map[int]*native.Context
	Suspends  map[int]int
	Continued []Continuation
	Killed    bool
	Closed    bool

	// BeforeEvent, if set, runs right before an event is returned.
	BeforeEvent func(t *Tracer, ev native.Event)

	mu          sync.Mutex
	interrupted []int
}

// New returns a Tracer launching pid with its main thread tid = pid.
func New(pid int) *Tracer {
	return &Tracer{
		Process:  native.Process{Pid: pid, Tid: pid},
		Mem:      map[uint64]byte{},
		Contexts: map[int]*native.Context{pid: {}},
		Suspends: map[int]int{},
	}
}

// Push appends events to the script.
func (t *Tracer) Push(evs ...native.Event) {
	t.Events = append(t.Events, evs...)
}

// LoadCode copies code into memory starting at addr.
func (t *Tracer) LoadCode(addr uint64, code []byte) {
	for i, b := range code {
		t.Mem[addr+uint64(i)] = b
	}
}

// Context returns the context of tid, created on demand.
func (t *Tracer) Context(tid int) *native.Context {
	ctx, ok := t.Contexts[tid]
	if !ok {
		ctx = &native.Context{}
		t.Contexts[tid] = ctx
	}
	return ctx
}

// Interrupted returns the tids Interrupt was called with.
func (t *Tracer) Interrupted() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.interrupted...)
}

func (t *Tracer) Launch(path string, args []string) (native.Process, error) {
	if t.LaunchErr != nil {
		return native.Process{}, t.LaunchErr
	}
	t.Path, t.Args = path, args
	t.Suspends[t.Process.Tid] = 1
	return t.Process, nil
}

func (t *Tracer) WaitEvent() (native.Event, error) {
	if len(t.Events) == 0 {
		return native.Event{}, native.ErrNoRunnableThread
	}
	ev := t.Events[0]
	t.Events = t.Events[1:]

	if ev.Kind == native.EventException {
		ctx := t.Context(ev.Tid)
		ctx.Eflags &^= native.TrapFlag
		switch ev.Exception.Code {
		case native.ExceptionBreakpoint:
			ctx.Rip = ev.Exception.Addr + 1
		case native.ExceptionSingleStep:
			ctx.Rip = ev.Exception.Addr
		}
	}
	if ev.Kind == native.EventThreadCreated {
		t.Context(ev.Tid)
	}
	if t.BeforeEvent != nil {
		t.BeforeEvent(t, ev)
	}
	return ev, nil
}

func (t *Tracer) Continue(pid, tid int, d native.Disposition) error {
	t.Continued = append(t.Continued, Continuation{Tid: tid, Disposition: d})
	return nil
}

func (t *Tracer) SuspendThread(tid int) error {
	t.Suspends[tid]++
	return nil
}

func (t *Tracer) ResumeThread(tid int) error {
	if t.Suspends[tid] > 0 {
		t.Suspends[tid]--
	}
	return nil
}

func (t *Tracer) Interrupt(tid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupted = append(t.interrupted, tid)
	return nil
}

func (t *Tracer) GetContext(tid int) (*native.Context, error) {
	ctx, ok := t.Contexts[tid]
	if !ok {
		return nil, native.ErrUnknownThread
	}
	cp := *ctx
	return &cp, nil
}

func (t *Tracer) SetContext(tid int, ctx *native.Context) error {
	if _, ok := t.Contexts[tid]; !ok {
		return native.ErrUnknownThread
	}
	cp := *ctx
	t.Contexts[tid] = &cp
	return nil
}

func (t *Tracer) ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	for i := range buf {
		b, ok := t.Mem[addr+uint64(i)]
		if !ok {
			return i, fmt.Errorf("read unmapped address %#x", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (t *Tracer) WriteMemory(pid int, addr uint64, data []byte) (int, error) {
	for i, b := range data {
		t.Mem[addr+uint64(i)] = b
	}
	return len(data), nil
}

func (t *Tracer) Kill() error {
	t.Killed = true
	t.Events = nil
	return nil
}

func (t *Tracer) Close() error {
	t.Closed = true
	return nil
}
