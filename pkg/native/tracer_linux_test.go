//go:build linux && amd64

package native

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer_launchToExit(t *testing.T) {
	const prog = "/bin/true"
	if _, err := os.Stat(prog); err != nil {
		t.Skipf("%s not available", prog)
	}

	tr := New(Options{})
	defer tr.Close()

	proc, err := tr.Launch(prog, nil)
	if err != nil {
		t.Skipf("ptrace not permitted: %v", err)
	}
	assert.Equal(t, proc.Pid, proc.Tid)

	ev, err := tr.WaitEvent()
	require.NoError(t, err)
	require.Equal(t, EventProcessCreated, ev.Kind)
	assert.NotZero(t, ev.Module.Base)

	// the main thread is created suspended
	for {
		ev, err = tr.WaitEvent()
		require.NoError(t, err)
		if ev.Kind == EventException {
			break
		}
		require.Equal(t, EventModuleLoaded, ev.Kind)
	}
	assert.Equal(t, ExceptionBreakpoint, ev.Exception.Code)

	ctx, err := tr.GetContext(proc.Tid)
	require.NoError(t, err)
	assert.Equal(t, ev.Exception.Addr, ctx.Rip)

	buf := make([]byte, 1)
	_, err = tr.ReadMemory(proc.Pid, ctx.Rip, buf)
	require.NoError(t, err)

	_, err = tr.WaitEvent()
	require.Equal(t, ErrNoRunnableThread, err)

	require.NoError(t, tr.ResumeThread(proc.Tid))
	require.NoError(t, tr.Continue(proc.Pid, proc.Tid, Handled))

	for {
		ev, err = tr.WaitEvent()
		require.NoError(t, err)
		if ev.Kind == EventProcessExited {
			break
		}
		require.NoError(t, tr.Continue(ev.Pid, ev.Tid, Handled))
	}
	assert.Equal(t, 0, ev.ExitCode)

	_, err = tr.WaitEvent()
	assert.Equal(t, ErrNoProcess, err)
}

func TestTracer_singleStep(t *testing.T) {
	const prog = "/bin/true"
	if _, err := os.Stat(prog); err != nil {
		t.Skipf("%s not available", prog)
	}

	tr := New(Options{})
	defer tr.Close()

	proc, err := tr.Launch(prog, nil)
	if err != nil {
		t.Skipf("ptrace not permitted: %v", err)
	}
	for {
		ev, err := tr.WaitEvent()
		require.NoError(t, err)
		if ev.Kind == EventException {
			break
		}
	}
	require.NoError(t, tr.ResumeThread(proc.Tid))

	ctx, err := tr.GetContext(proc.Tid)
	require.NoError(t, err)
	start := ctx.Rip
	ctx.Eflags |= TrapFlag
	require.NoError(t, tr.SetContext(proc.Tid, ctx))

	ctx, err = tr.GetContext(proc.Tid)
	require.NoError(t, err)
	assert.NotZero(t, ctx.Eflags&TrapFlag)

	require.NoError(t, tr.Continue(proc.Pid, proc.Tid, Handled))
	ev, err := tr.WaitEvent()
	require.NoError(t, err)
	require.Equal(t, EventException, ev.Kind)
	assert.Equal(t, ExceptionSingleStep, ev.Exception.Code)
	assert.NotEqual(t, start, ev.Exception.Addr)

	ctx, err = tr.GetContext(proc.Tid)
	require.NoError(t, err)
	assert.Zero(t, ctx.Eflags&TrapFlag)

	require.NoError(t, tr.Kill())
}
