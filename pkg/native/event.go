package native

import "fmt"

// EventKind debug event type reported by WaitEvent
type EventKind int

const (
	EventProcessCreated EventKind = iota + 1
	EventThreadCreated
	EventException
	EventProcessExited
	EventThreadExited
	EventModuleLoaded
	EventModuleUnloaded
	EventDebugString
	EventProtocolError
)

var eventNames = map[EventKind]string{
	EventProcessCreated: "CREATE_PROCESS",
	EventThreadCreated:  "CREATE_THREAD",
	EventException:      "EXCEPTION",
	EventProcessExited:  "EXIT_PROCESS",
	EventThreadExited:   "EXIT_THREAD",
	EventModuleLoaded:   "LOAD_MODULE",
	EventModuleUnloaded: "UNLOAD_MODULE",
	EventDebugString:    "OUTPUT_DEBUG_STRING",
	EventProtocolError:  "RIP",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ExceptionCode identifies the exception carried by an EventException.
type ExceptionCode uint32

const (
	ExceptionBreakpoint            ExceptionCode = 0x80000003
	ExceptionSingleStep            ExceptionCode = 0x80000004
	ExceptionAccessViolation       ExceptionCode = 0xC0000005
	ExceptionInPageError           ExceptionCode = 0xC0000006
	ExceptionIllegalInstruction    ExceptionCode = 0xC000001D
	ExceptionFltDivideByZero       ExceptionCode = 0xC000008E
	ExceptionFltInexactResult      ExceptionCode = 0xC000008F
	ExceptionFltInvalidOperation   ExceptionCode = 0xC0000090
	ExceptionFltOverflow           ExceptionCode = 0xC0000091
	ExceptionFltUnderflow          ExceptionCode = 0xC0000093
	ExceptionIntDivideByZero       ExceptionCode = 0xC0000094
	ExceptionIntOverflow           ExceptionCode = 0xC0000095
	ExceptionPrivilegedInstruction ExceptionCode = 0xC0000096
	ExceptionStackOverflow         ExceptionCode = 0xC00000FD
)

var exceptionNames = map[ExceptionCode]string{
	ExceptionBreakpoint:            "EXCEPTION_BREAKPOINT",
	ExceptionSingleStep:            "EXCEPTION_SINGLE_STEP",
	ExceptionAccessViolation:       "EXCEPTION_ACCESS_VIOLATION",
	ExceptionInPageError:           "EXCEPTION_IN_PAGE_ERROR",
	ExceptionIllegalInstruction:    "EXCEPTION_ILLEGAL_INSTRUCTION",
	ExceptionFltDivideByZero:       "EXCEPTION_FLT_DIVIDE_BY_ZERO",
	ExceptionFltInexactResult:      "EXCEPTION_FLT_INEXACT_RESULT",
	ExceptionFltInvalidOperation:   "EXCEPTION_FLT_INVALID_OPERATION",
	ExceptionFltOverflow:           "EXCEPTION_FLT_OVERFLOW",
	ExceptionFltUnderflow:          "EXCEPTION_FLT_UNDERFLOW",
	ExceptionIntDivideByZero:       "EXCEPTION_INT_DIVIDE_BY_ZERO",
	ExceptionIntOverflow:           "EXCEPTION_INT_OVERFLOW",
	ExceptionPrivilegedInstruction: "EXCEPTION_PRIV_INSTRUCTION",
	ExceptionStackOverflow:         "EXCEPTION_STACK_OVERFLOW",
}

func (c ExceptionCode) String() string {
	if s, ok := exceptionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("EXCEPTION(%#x)", uint32(c))
}

// Disposition tells the OS whether the debugger handled the last exception.
type Disposition int

const (
	// NotHandled lets the debuggee's own handling, or default termination,
	// proceed.
	NotHandled Disposition = iota
	// Handled resumes normal execution.
	Handled
)

func (d Disposition) String() string {
	if d == Handled {
		return "handled"
	}
	return "not-handled"
}

// Module a loaded executable image
type Module struct {
	Path string
	Base uint64 // lowest mapped address
	Size uint64
}

// Exception payload of EventException
type Exception struct {
	Code        ExceptionCode
	Addr        uint64 // for breakpoints, the address of the trap opcode
	FirstChance bool
}

// Event one debug event, a tagged union keyed by Kind.
type Event struct {
	Kind EventKind
	Pid  int
	Tid  int

	Module    Module    // ProcessCreated, ModuleLoaded, ModuleUnloaded
	Exception Exception // Exception
	ExitCode  int       // ProcessExited, ThreadExited
	Output    []byte    // DebugString
	Err       error     // ProtocolError
}

func (e Event) String() string {
	switch e.Kind {
	case EventException:
		return fmt.Sprintf("%s thread:%d %s at %#x", e.Kind, e.Tid, e.Exception.Code, e.Exception.Addr)
	case EventProcessCreated, EventModuleLoaded, EventModuleUnloaded:
		return fmt.Sprintf("%s thread:%d %s@%#x", e.Kind, e.Tid, e.Module.Path, e.Module.Base)
	case EventProcessExited, EventThreadExited:
		return fmt.Sprintf("%s thread:%d code:%d", e.Kind, e.Tid, e.ExitCode)
	case EventProtocolError:
		return fmt.Sprintf("%s thread:%d %v", e.Kind, e.Tid, e.Err)
	default:
		return fmt.Sprintf("%s thread:%d", e.Kind, e.Tid)
	}
}
