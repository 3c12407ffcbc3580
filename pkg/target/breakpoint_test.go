package target

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMap map[uint64]byte

func (m memMap) ReadMemory(addr uint64, buf []byte) (int, error) {
	for i := range buf {
		b, ok := m[addr+uint64(i)]
		if !ok {
			return i, fmt.Errorf("unmapped %#x", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (m memMap) WriteMemory(addr uint64, data []byte) (int, error) {
	for i, b := range data {
		m[addr+uint64(i)] = b
	}
	return len(data), nil
}

func text() memMap {
	return memMap{
		0x1000: 0x55,
		0x1001: 0x48,
		0x1002: 0xCC, // int3 compiled into the program
		0x1003: 0xC3,
	}
}

func TestBreakpointManager_SetCancelUser(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)

	bp1, err := m.SetUser(0x1000)
	require.NoError(t, err)
	bp2, err := m.SetUser(0x1002)
	require.NoError(t, err)
	assert.Less(t, bp1.ID, bp2.ID)
	assert.Equal(t, byte(0x55), bp1.Orig)
	assert.Equal(t, byte(0xCC), bp2.Orig)
	assert.Equal(t, TrapOpcode, mem[0x1000])

	_, err = m.SetUser(0x1000)
	assert.Equal(t, ErrBreakpointExisted, err)

	assert.Equal(t, []uint64{0x1000, 0x1002}, m.Patched())
	assert.Equal(t, Breakpoints{bp1, bp2}, m.User())

	got, err := m.CancelUser(0x1000)
	require.NoError(t, err)
	assert.Equal(t, bp1, got)
	assert.Equal(t, byte(0x55), mem[0x1000])

	_, err = m.CancelUser(0x1000)
	assert.Equal(t, ErrBreakpointNotExisted, err)
	_, err = m.CancelUser(0x2000)
	assert.Equal(t, ErrBreakpointNotExisted, err)

	// the original byte of 0x1002 is the trap opcode itself
	_, err = m.CancelUser(0x1002)
	require.NoError(t, err)
	assert.Equal(t, text(), mem)
	assert.Empty(t, m.User())
	assert.Empty(t, m.Patched())
}

func TestBreakpointManager_SetUserUnmapped(t *testing.T) {
	m := NewBreakpointManager(text())
	_, err := m.SetUser(0x9000)
	require.Error(t, err)
	assert.Empty(t, m.User())
}

func TestBreakpointManager_SharedAddress(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)

	_, err := m.SetUser(0x1000)
	require.NoError(t, err)
	require.NoError(t, m.SetStepOver(0x1000))
	assert.Equal(t, byte(0x55), m.stepOver.Orig)

	m.CancelStepOver()
	assert.Equal(t, TrapOpcode, mem[0x1000])

	require.NoError(t, m.SetStepOut(0x1000))
	_, err = m.CancelUser(0x1000)
	require.NoError(t, err)
	assert.Equal(t, TrapOpcode, mem[0x1000])

	m.CancelStepOut()
	assert.Equal(t, byte(0x55), mem[0x1000])
}

func TestBreakpointManager_Classify(t *testing.T) {
	m := NewBreakpointManager(text())
	require.NoError(t, m.SetEntry(0x1001))
	_, err := m.SetUser(0x1000)
	require.NoError(t, err)
	require.NoError(t, m.SetStepOver(0x1003))

	assert.Equal(t, KindInit, m.Classify(0x7000))
	assert.Equal(t, KindEntry, m.Classify(0x1001))
	assert.Equal(t, KindStepOver, m.Classify(0x1003))
	assert.Equal(t, KindUser, m.Classify(0x1000))
	assert.Equal(t, KindCode, m.Classify(0x1002))

	m.CancelStepOver()
	assert.Equal(t, KindCode, m.Classify(0x1003))

	require.NoError(t, m.SetStepOut(0x1003))
	assert.Equal(t, KindStepOut, m.Classify(0x1003))
}

func TestBreakpointManager_ClassifyBeforeEntry(t *testing.T) {
	m := NewBreakpointManager(text())
	require.NoError(t, m.SetEntry(0x1001))
	_, err := m.SetUser(0x1000)
	require.NoError(t, err)

	assert.Equal(t, KindInit, m.Classify(0x7000))
	assert.Equal(t, KindCode, m.Classify(0x1002))
	assert.Equal(t, KindUser, m.Classify(0x1000))
	assert.Equal(t, KindEntry, m.Classify(0x1001))

	m.CancelEntry()
	assert.Equal(t, KindCode, m.Classify(0x1001))
}

func TestBreakpointManager_ClassifyWithoutEntry(t *testing.T) {
	m := NewBreakpointManager(text())
	assert.Equal(t, KindInit, m.Classify(0x7000))
	assert.Equal(t, KindCode, m.Classify(0x1002))

	m.Reset()
	assert.Equal(t, KindInit, m.Classify(0x1002))
}

func TestBreakpointManager_RecoverAndReset(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)
	bp, err := m.SetUser(0x1000)
	require.NoError(t, err)

	require.True(t, m.RecoverUser(0x1000))
	assert.False(t, m.RecoverUser(0x1001))
	assert.Equal(t, byte(0x55), mem[0x1000])
	assert.Empty(t, m.Patched())
	_, ok := m.UserAt(0x1000)
	assert.True(t, ok)

	m.SaveResetAt(0x1000)
	m.ResetIfNeeded()
	assert.Equal(t, TrapOpcode, mem[0x1000])
	assert.Equal(t, byte(0x55), bp.Orig)
	assert.Equal(t, []uint64{0x1000}, m.Patched())

	// nothing pending
	mem[0x1000] = 0x55
	m.ResetIfNeeded()
	assert.Equal(t, byte(0x55), mem[0x1000])
}

func TestBreakpointManager_LiftUser(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)
	_, err := m.SetUser(0x1000)
	require.NoError(t, err)

	assert.False(t, m.LiftUser(0x1001))
	require.True(t, m.LiftUser(0x1000))
	assert.Equal(t, byte(0x55), mem[0x1000])
	assert.Empty(t, m.Patched())

	// already lifted
	assert.False(t, m.LiftUser(0x1000))

	m.ResetIfNeeded()
	assert.Equal(t, TrapOpcode, mem[0x1000])
	assert.True(t, m.LiftUser(0x1000))
}

func TestBreakpointManager_CancelLifted(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)
	_, err := m.SetUser(0x1000)
	require.NoError(t, err)

	m.RecoverUser(0x1000)
	m.SaveResetAt(0x1000)
	_, err = m.CancelUser(0x1000)
	require.NoError(t, err)

	m.ResetIfNeeded()
	assert.Equal(t, byte(0x55), mem[0x1000])
	assert.Empty(t, m.Patched())
}

func TestBreakpointManager_MaskOriginal(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)
	_, err := m.SetUser(0x1000)
	require.NoError(t, err)
	require.NoError(t, m.SetStepOver(0x1003))

	buf := make([]byte, 4)
	_, err = mem.ReadMemory(0x1000, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCC, 0x48, 0xCC, 0xCC}, buf)

	m.maskOriginal(0x1000, buf)
	assert.Equal(t, []byte{0x55, 0x48, 0xCC, 0xC3}, buf)
}

func TestBreakpointManager_Reset(t *testing.T) {
	mem := text()
	m := NewBreakpointManager(mem)
	_, err := m.SetUser(0x1000)
	require.NoError(t, err)
	require.NoError(t, m.SetEntry(0x1001))
	m.singleInstruction = true

	m.Reset()
	assert.Empty(t, m.User())
	assert.Empty(t, m.Patched())
	assert.False(t, m.singleInstruction)
	_, ok := m.EntryAt()
	assert.False(t, ok)
	// the debuggee is gone, memory is left alone
	assert.Equal(t, TrapOpcode, mem[0x1000])
}

func TestBreakpointKind_String(t *testing.T) {
	assert.Equal(t, "step-over", KindStepOver.String())
	assert.Equal(t, "entry", KindEntry.String())
	assert.Equal(t, "code", BreakpointKind(42).String())
}
