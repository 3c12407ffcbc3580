// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame data.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hitzhangjie/srcdbg/pkg/dwarf/util"
)

type parsefunc func(*parseContext) parsefunc

// parseContext context which helps parsing the CIE and FDEs stored in .debug_frame
type parseContext struct {
	staticBase uint64

	buf     *bytes.Buffer
	order   binary.ByteOrder
	entries FrameDescriptionEntries
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry
	length  uint32
	ptrSize int
	err     error
}

// Parse takes in data (a byte slice) and returns FrameDescriptionEntries
// sorted by their begin address. Each FrameDescriptionEntry has a pointer
// to its CommonInformationEntry.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	var (
		buf  = bytes.NewBuffer(data)
		pctx = &parseContext{buf: buf, order: order, entries: newFrameIndex(), staticBase: staticBase, ptrSize: ptrSize}
	)

	for fn := parselength; buf.Len() != 0 && fn != nil; {
		fn = fn(pctx)
	}
	if pctx.err != nil {
		return nil, pctx.err
	}

	sort.SliceStable(pctx.entries, func(i, j int) bool {
		return pctx.entries[i].begin < pctx.entries[j].begin
	})
	return pctx.entries, nil
}

// cieEntry determines if data is the magic number of CIE
func cieEntry(data []byte) bool {
	return bytes.Equal(data, []byte{0xff, 0xff, 0xff, 0xff})
}

func (ctx *parseContext) fail(format string, args ...interface{}) parsefunc {
	ctx.err = fmt.Errorf(format, args...)
	return nil
}

// parselength parse the length of CIE or FDE
func parselength(ctx *parseContext) parsefunc {
	if err := binary.Read(ctx.buf, ctx.order, &ctx.length); err != nil {
		return ctx.fail("read entry length error: %v", err)
	}

	if ctx.length == 0 {
		// ZERO terminator
		return parselength
	}
	if ctx.length == 0xffffffff {
		return ctx.fail("64-bit dwarf frame not supported")
	}
	if int(ctx.length) > ctx.buf.Len() || ctx.length < 4 {
		return ctx.fail("entry length %d exceeds section", ctx.length)
	}

	// parsing CIE_id of CIE, or CIE_pointer of FDE
	var data = ctx.buf.Next(4)

	// take off the length of the CIE id / CIE pointer.
	ctx.length -= 4

	if cieEntry(data) {
		ctx.common = &CommonInformationEntry{Length: ctx.length, staticBase: ctx.staticBase}
		return parseCIE
	}
	if ctx.common == nil {
		return ctx.fail("FDE without preceding CIE")
	}

	ctx.frame = &FrameDescriptionEntry{Length: ctx.length, CIE: ctx.common, order: ctx.order}
	return parseFDE
}

// parseFDE parse FDE entry
func parseFDE(ctx *parseContext) parsefunc {
	r := ctx.buf.Next(int(ctx.length))
	reader := bytes.NewReader(r)

	// parsing initial_location of FDE
	begin, err := util.ReadUintRaw(reader, ctx.order, ctx.ptrSize)
	if err != nil {
		return ctx.fail("read FDE initial location error: %v", err)
	}
	ctx.frame.begin = begin + ctx.staticBase

	// parsing address_range of FDE
	size, err := util.ReadUintRaw(reader, ctx.order, ctx.ptrSize)
	if err != nil {
		return ctx.fail("read FDE address range error: %v", err)
	}
	ctx.frame.size = size

	// parsing instructions of FDE
	ctx.frame.Instructions = r[2*ctx.ptrSize:]
	ctx.entries = append(ctx.entries, ctx.frame)
	ctx.length = 0

	// prepare to parse next FDE or CIE
	return parselength
}

// parseCIE parse CIE entry
func parseCIE(ctx *parseContext) parsefunc {
	data := ctx.buf.Next(int(ctx.length))
	buf := bytes.NewBuffer(data)

	var err error
	if ctx.common.Version, err = buf.ReadByte(); err != nil {
		return ctx.fail("read CIE version error: %v", err)
	}
	if ctx.common.Augmentation, _, err = util.ParseString(buf); err != nil {
		return ctx.fail("read CIE augmentation error: %v", err)
	}
	if ctx.common.Version >= 4 {
		// address_size and segment_selector_size
		buf.Next(2)
	}
	if ctx.common.CodeAlignmentFactor, _, err = util.DecodeULEB128(buf); err != nil {
		return ctx.fail("read CIE code alignment error: %v", err)
	}
	if ctx.common.DataAlignmentFactor, _, err = util.DecodeSLEB128(buf); err != nil {
		return ctx.fail("read CIE data alignment error: %v", err)
	}
	if ctx.common.Version == 1 {
		b, err := buf.ReadByte()
		if err != nil {
			return ctx.fail("read CIE return address register error: %v", err)
		}
		ctx.common.ReturnAddressRegister = uint64(b)
	} else if ctx.common.ReturnAddressRegister, _, err = util.DecodeULEB128(buf); err != nil {
		return ctx.fail("read CIE return address register error: %v", err)
	}

	// the rest of this entry consists of the instructions
	ctx.common.InitialInstructions = buf.Bytes()

	// prepare to parse FDEs following this CIE
	ctx.length = 0

	return parselength
}
