//go:build linux && amd64

package native

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// si_code values, see `man 2 sigaction`
const (
	trapBrkpt = 0x1
	trapTrace = 0x2
	siKernel  = 0x80

	fpeIntDiv = 0x1
	fpeIntOvf = 0x2
	fpeFltDiv = 0x3
)

type ptraceSiginfo struct {
	signo uint32
	errno uint32
	code  uint32
	addr  uint64    // only valid for SIGSEGV, SIGBUS, SIGFPE and SIGILL
	pad   [128]byte // siginfo_t is 128 bytes, fields beyond addr are unused
}

func ptraceGetSiginfo(tid int) (ptraceSiginfo, error) {
	var si ptraceSiginfo
	_, _, e1 := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if e1 != 0 {
		return si, e1
	}
	return si, nil
}

// ptraceSingleStep executes PTRACE_SINGLESTEP delivering sig
func ptraceSingleStep(tid, sig int) error {
	_, _, e1 := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(tid), 0, uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

func ptraceCont(tid, sig int) error {
	return unix.PtraceCont(tid, sig)
}

func ptraceGetContext(tid int) (*Context, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return nil, err
	}
	return &Context{
		R15: regs.R15, R14: regs.R14, R13: regs.R13, R12: regs.R12,
		Rbp: regs.Rbp, Rbx: regs.Rbx, R11: regs.R11, R10: regs.R10,
		R9: regs.R9, R8: regs.R8, Rax: regs.Rax, Rcx: regs.Rcx,
		Rdx: regs.Rdx, Rsi: regs.Rsi, Rdi: regs.Rdi, Rip: regs.Rip,
		Cs: regs.Cs, Eflags: regs.Eflags, Rsp: regs.Rsp, Ss: regs.Ss,
		FsBase: regs.Fs_base, GsBase: regs.Gs_base,
		Ds: regs.Ds, Es: regs.Es, Fs: regs.Fs, Gs: regs.Gs,
	}, nil
}

func ptraceSetContext(tid int, ctx *Context) error {
	var regs unix.PtraceRegs
	// keeps orig_rax so an interrupted syscall restarts correctly
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return err
	}
	regs.R15, regs.R14, regs.R13, regs.R12 = ctx.R15, ctx.R14, ctx.R13, ctx.R12
	regs.Rbp, regs.Rbx, regs.R11, regs.R10 = ctx.Rbp, ctx.Rbx, ctx.R11, ctx.R10
	regs.R9, regs.R8, regs.Rax, regs.Rcx = ctx.R9, ctx.R8, ctx.Rax, ctx.Rcx
	regs.Rdx, regs.Rsi, regs.Rdi, regs.Rip = ctx.Rdx, ctx.Rsi, ctx.Rdi, ctx.Rip
	regs.Cs, regs.Eflags, regs.Rsp, regs.Ss = ctx.Cs, ctx.Eflags, ctx.Rsp, ctx.Ss
	regs.Fs_base, regs.Gs_base = ctx.FsBase, ctx.GsBase
	regs.Ds, regs.Es, regs.Fs, regs.Gs = ctx.Ds, ctx.Es, ctx.Fs, ctx.Gs
	return unix.PtraceSetRegs(tid, &regs)
}

// wait4 waits for any traced thread, see `man 2 wait4` for __WALL.
func wait4(pid int, options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WALL|options, nil)
		if err == syscall.EINTR {
			continue
		}
		return wpid, ws, err
	}
}
