package symbol

import (
	"debug/dwarf"
	"io"
)

// CompileUnit compilation unit
//
// see DWARFv4 3.1.1 normal and partial compilation unit entries
type CompileUnit struct {
	functions []*Function
	entry     *dwarf.Entry
	bi        *BinaryInfo
}

// parseLineSection parse .(z)debug_line, appending its rows to the line table
// of the binary
//
// note: one compile unit may contains more than one source files.
func (c *CompileUnit) parseLineSection(lineReader *dwarf.LineReader) error {

	entry := dwarf.LineEntry{}

	for {
		// scan next entry
		err := lineReader.Next(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		row := lineRow{
			addr:        entry.Address,
			line:        entry.Line,
			isStmt:      entry.IsStmt,
			prologueEnd: entry.PrologueEnd,
			endSeq:      entry.EndSequence,
		}
		if entry.File != nil {
			row.file = entry.File.Name
		}
		c.bi.lines = append(c.bi.lines, row)
	}

	return nil
}

// Name returns the name of the primary source file.
func (c *CompileUnit) Name() string {
	if c.entry == nil {
		return ""
	}
	name, _ := c.entry.Val(dwarf.AttrName).(string)
	return name
}

// Functions returns the functions defined in this unit.
func (c *CompileUnit) Functions() []*Function {
	return c.functions
}
