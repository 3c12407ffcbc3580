package symbol

import (
	"bytes"
	"debug/dwarf"

	"github.com/hitzhangjie/srcdbg/pkg/dwarf/util"
)

// DWARF expression opcodes used by frame bases and variable locations
const (
	opAddr         = 0x03
	opReg6         = 0x56
	opReg7         = 0x57
	opBreg6        = 0x76
	opBreg7        = 0x77
	opFbreg        = 0x91
	opCallFrameCFA = 0x9c
)

// Registers the register values a frame base may be computed from
type Registers struct {
	PC uint64
	SP uint64
	BP uint64
}

// Function function
//
// see DWARFv4 3.3 subroutine and entry point entries
type Function struct {
	name      string
	lowpc     uint64
	highpc    uint64
	frameBase []byte
	external  bool

	variables []*Variable
	cu        *CompileUnit
}

func (f *Function) Name() string {
	return f.name
}

// Entry returns the link-time address of the first instruction.
func (f *Function) Entry() uint64 {
	return f.lowpc
}

// End returns the link-time address following the last instruction.
func (f *Function) End() uint64 {
	return f.highpc
}

func (f *Function) Variables() []*Variable {
	return f.variables
}

// SetFrameBase sets the DWARF expression of the frame base.
func (f *Function) SetFrameBase(expr []byte) {
	f.frameBase = expr
}

// AddVariable registers a local variable or parameter.
func (f *Function) AddVariable(v *Variable) {
	f.variables = append(f.variables, v)
}

func (f *Function) parseFrom(curEntry *dwarf.Entry) error {

	var (
		highpc       uint64
		highpcOffset bool
	)

	for _, field := range curEntry.Field {
		switch field.Attr {
		case dwarf.AttrName:
			if val, ok := field.Val.(string); ok {
				f.name = val
			}
		case dwarf.AttrLowpc:
			if val, ok := field.Val.(uint64); ok {
				f.lowpc = val
			}
		case dwarf.AttrHighpc:
			// DWARF 4 encodes high_pc as an offset from low_pc
			switch val := field.Val.(type) {
			case uint64:
				highpc = val
			case int64:
				highpc, highpcOffset = uint64(val), true
			}
		case dwarf.AttrFrameBase:
			if val, ok := field.Val.([]byte); ok {
				f.frameBase = val
			}
		case dwarf.AttrExternal:
			if val, ok := field.Val.(bool); ok {
				f.external = val
			}
		}
	}

	if highpcOffset {
		highpc += f.lowpc
	}
	f.highpc = highpc
	return nil
}

// frameBaseAt evaluates the frame base of f for a thread stopped at the
// link-time address pc.
func (f *Function) frameBaseAt(pc uint64, regs Registers) (uint64, bool) {
	if len(f.frameBase) == 0 {
		return 0, false
	}

	switch op := f.frameBase[0]; op {
	case opCallFrameCFA:
		// nothing pushed yet at the first instruction but the return address
		if pc == f.lowpc {
			return regs.SP + 8, true
		}
		return regs.BP + 16, true
	case opBreg6, opBreg7:
		off, _, err := util.DecodeSLEB128(bytes.NewBuffer(f.frameBase[1:]))
		if err != nil {
			return 0, false
		}
		base := regs.BP
		if op == opBreg7 {
			base = regs.SP
		}
		return uint64(int64(base) + off), true
	case opReg6:
		return regs.BP, true
	case opReg7:
		return regs.SP, true
	}
	return 0, false
}
