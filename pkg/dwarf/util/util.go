// Package util decodes the primitive encodings found in DWARF sections.
package util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrTruncated returned when a value runs past the end of its buffer.
var ErrTruncated = errors.New("truncated dwarf value")

// The Little Endian Base 128 format is defined in the DWARF v4 standard,
// section 7.6, page 161 and following.

// DecodeULEB128 decodes an unsigned Little Endian Base 128 number, returning
// the value and the number of bytes consumed.
func DecodeULEB128(buf *bytes.Buffer) (uint64, uint32, error) {
	var (
		result uint64
		shift  uint
		length uint32
	)
	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, length, ErrTruncated
		}
		length++
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		if b&0x80 == 0 {
			return result, length, nil
		}
		shift += 7
	}
}

// DecodeSLEB128 decodes a signed Little Endian Base 128 number, returning
// the value and the number of bytes consumed.
func DecodeSLEB128(buf *bytes.Buffer) (int64, uint32, error) {
	var (
		result int64
		shift  uint
		length uint32
		b      byte
		err    error
	)
	for {
		b, err = buf.ReadByte()
		if err != nil {
			return 0, length, ErrTruncated
		}
		length++
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// sign extend
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, length, nil
}

// EncodeULEB128 encodes x to the unsigned Little Endian Base 128 format
// into out.
func EncodeULEB128(out io.ByteWriter, x uint64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			b |= 0x80
		}
		out.WriteByte(b)
		if x == 0 {
			return
		}
	}
}

// EncodeSLEB128 encodes x to the signed Little Endian Base 128 format
// into out.
func EncodeSLEB128(out io.ByteWriter, x int64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		signb := b & 0x40
		if (x == 0 && signb == 0) || (x == -1 && signb != 0) {
			out.WriteByte(b)
			return
		}
		out.WriteByte(b | 0x80)
	}
}

// ParseString reads a NUL terminated string.
func ParseString(data *bytes.Buffer) (string, uint32, error) {
	str, err := data.ReadString(0x0)
	if err != nil {
		return "", uint32(len(str)), ErrTruncated
	}
	return str[:len(str)-1], uint32(len(str)), nil
}

// ReadUintRaw reads an integer of ptrSize bytes, with the specified byte order, from reader.
func ReadUintRaw(reader io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("not supported ptr size %d", ptrSize)
}
