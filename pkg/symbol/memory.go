package symbol

import (
	"encoding/binary"
	"fmt"
)

// Memory raw access to the debuggee's address space
type Memory interface {
	ReadMemory(addr uint64, buf []byte) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
}

// ReadByte reads the byte at addr.
func ReadByte(mem Memory, addr uint64) (byte, error) {
	buf := [1]byte{}
	n, err := mem.ReadMemory(addr, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("read %#x: %d bytes", addr, n)
	}
	return buf[0], nil
}

// WriteByte writes b at addr.
func WriteByte(mem Memory, addr uint64, b byte) error {
	n, err := mem.WriteMemory(addr, []byte{b})
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("write %#x: %d bytes", addr, n)
	}
	return nil
}

// ReadUint64 reads a little endian machine word at addr.
func ReadUint64(mem Memory, addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	n, err := mem.ReadMemory(addr, buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("read %#x: %d bytes", addr, n)
	}
	return binary.LittleEndian.Uint64(buf), nil
}
