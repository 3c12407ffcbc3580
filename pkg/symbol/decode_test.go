package symbol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// fakeMem sparse memory, reads stop at the first unmapped byte
type fakeMem map[uint64]byte

func (m fakeMem) ReadMemory(addr uint64, buf []byte) (int, error) {
	for i := range buf {
		b, ok := m[addr+uint64(i)]
		if !ok {
			if i == 0 {
				return 0, errors.New("unmapped")
			}
			return i, nil
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (m fakeMem) WriteMemory(addr uint64, data []byte) (int, error) {
	for i, b := range data {
		m[addr+uint64(i)] = b
	}
	return len(data), nil
}

func (m fakeMem) load(addr uint64, code ...byte) {
	m.WriteMemory(addr, code)
}

// encode returns opcode and modrm followed by the SIB byte the modrm
// requires and zeroed displacement bytes.
func encode(opcode, modrm, sib byte) []byte {
	code := []byte{opcode, modrm}
	if modrm&0x07 == 0x04 && modrm>>6 != 0x03 {
		code = append(code, sib)
	}
	return append(code, make([]byte, maxInstLen)...)
}

func TestDecodeCall_matchesDisassembler(t *testing.T) {
	for _, f := range callTable {
		if f.opcode == 0x9A {
			// invalid in 64-bit mode
			continue
		}
		forms := [][]byte{}
		if len(f.modrm) == 0 {
			forms = append(forms, append([]byte{f.opcode}, make([]byte, maxInstLen)...))
		}
		for _, m := range f.modrm {
			forms = append(forms, encode(f.opcode, m, 0x24))
			if m == 0x14 {
				// no base register, disp32 follows the SIB byte
				forms = append(forms, encode(f.opcode, m, 0x25))
			}
		}

		for _, code := range forms {
			inst, err := x86asm.Decode(code, 64)
			require.NoError(t, err, "% x", code[:3])
			require.Equal(t, x86asm.CALL, inst.Op, "% x", code[:3])

			n, ok := decodeCall(code)
			require.True(t, ok, "% x", code[:3])
			assert.Equal(t, inst.Len, n, "% x", code[:3])

			// with a REX prefix
			rex := append([]byte{0x41}, code...)
			inst, err = x86asm.Decode(rex, 64)
			require.NoError(t, err)
			n, ok = decodeCall(rex)
			require.True(t, ok)
			assert.Equal(t, inst.Len, n, "% x", rex[:4])
		}
	}
}

func TestDecodeCall_notCall(t *testing.T) {
	for _, code := range [][]byte{
		{0xC3},
		{0x90, 0xE8},
		{0xFF, 0x20},       // jmp [rax]
		{0xFF, 0xE0},       // jmp rax
		{0xFF},             // truncated
		{0x48},             // lone prefix
		{0x48, 0x89, 0xe5}, // mov rbp, rsp
	} {
		_, ok := decodeCall(code)
		assert.False(t, ok, "% x", code)
	}
}

func TestCallLength(t *testing.T) {
	mem := fakeMem{}
	mem.load(0x401000, 0xE8, 0x00, 0x00, 0x00, 0x00)
	mem.load(0x402000, 0xFF, 0xD0)

	n, ok := CallLength(mem, 0x401000)
	require.True(t, ok)
	assert.Equal(t, 5, n)

	n, ok = CallLength(mem, 0x402000)
	require.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = CallLength(mem, 0x403000)
	assert.False(t, ok)
}

func TestRetLength(t *testing.T) {
	mem := fakeMem{}
	mem.load(0x10, 0xC3, 0xC2, 0x08, 0x00, 0xCB, 0xCA, 0x90)

	args := []struct {
		addr uint64
		n    int
		ok   bool
	}{
		{0x10, 1, true},
		{0x11, 3, true},
		{0x14, 1, true},
		{0x15, 3, true},
		{0x16, 0, false},
		{0x20, 0, false},
	}
	for _, arg := range args {
		n, ok := RetLength(mem, arg.addr)
		assert.Equal(t, arg.ok, ok, "addr = %#x", arg.addr)
		assert.Equal(t, arg.n, n, "addr = %#x", arg.addr)
	}
}
