package symbol

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"strings"

	"github.com/derekparker/trie"

	"github.com/hitzhangjie/srcdbg/pkg/dwarf/util"
)

// Variable a variable or parameter described by DWARF
type Variable struct {
	Name   string
	TypeID uint64
	Size   int64
	// Location the DWARF location expression
	Location []byte
}

// VariableDescriptor a variable resolved to a runtime address
type VariableDescriptor struct {
	Name    string
	Address uint64
	ModBase uint64
	TypeID  uint64
	Size    int64
}

// AddrLocation returns the location expression of a variable stored at the
// static address addr.
func AddrLocation(addr uint64) []byte {
	loc := make([]byte, 9)
	loc[0] = opAddr
	binary.LittleEndian.PutUint64(loc[1:], addr)
	return loc
}

// FbregLocation returns the location expression of a variable stored at
// offset off from the frame base.
func FbregLocation(off int64) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(opFbreg)
	util.EncodeSLEB128(buf, off)
	return buf.Bytes()
}

func (bi *BinaryInfo) parseVariable(data *dwarf.Data, entry *dwarf.Entry) *Variable {
	name, _ := entry.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil
	}
	if decl, _ := entry.Val(dwarf.AttrDeclaration).(bool); decl {
		return nil
	}

	v := &Variable{Name: name}
	// location lists are produced by optimized builds only
	if loc, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
		v.Location = loc
	}
	if off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		v.TypeID = uint64(off)
		v.Size = bi.typeSize(data, off)
	}
	return v
}

// static reports the link-time address of a variable with a fixed address.
func (v *Variable) static() (uint64, bool) {
	if len(v.Location) != 9 || v.Location[0] != opAddr {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v.Location[1:]), true
}

// frameOffset reports the offset of a variable relative to the frame base.
func (v *Variable) frameOffset() (int64, bool) {
	if len(v.Location) < 2 || v.Location[0] != opFbreg {
		return 0, false
	}
	off, _, err := util.DecodeSLEB128(bytes.NewBuffer(v.Location[1:]))
	if err != nil {
		return 0, false
	}
	return off, true
}

type denyKind int

const (
	denyPrefix denyKind = iota
	denyExact
)

// defaultDenyPrefixes names of compiler, runtime and system library symbols
var defaultDenyPrefixes = []string{
	"_", "std::", "DirectX::", "s3d::", "IID_", "GUID_", "CLSID_", "WPD_",
	"PKEY_", "MF", "L_", "TID_", "LIBID_", "DIID_", "s_f", "MMS", "MMI",
	"MDE_", "Concurrency::", "ENHANCED_STORAGE_", "MSBBUILDER_", "SDPBUILDER_",
	"ME_", "MEDIACACHE_", "SPROP_", "PPM_", "UnDecorator::", "NETSTREAMSINK_",
	"Dload", "MPEG4_RTP_AU_", "DPAID_", "module_", "DSDEVID_", "DDVPTYPE_",
	"DPSPGUID_", "FIREWALL_PORT_",
	// go toolchain
	"runtime.", "runtime/", "internal/", "sync.", "sync/", "syscall.",
	"reflect.", "unicode.", "unicode/", "go:", "go.", "type:", "type.",
	"os.", "io.", "io/", "fmt.", "errors.", "strconv.", "math.", "math/",
	"time.", "sort.", "strings.", "bytes.", "context.", "path.", "path/",
	"vendor/", "golang.org/",
}

// defaultDenyNames names of C runtime symbols
var defaultDenyNames = []string{
	"environ", "program_invocation_name", "program_invocation_short_name",
	"stdin", "stdout", "stderr", "optarg", "optind", "opterr", "optopt",
	"errno", "completed.0", "data_start", "timezone", "daylight", "tzname",
	"signgam",
}

// denylist filters out variables the user did not write
type denylist struct {
	t *trie.Trie
}

func newDenylist(extra []string) *denylist {
	d := &denylist{t: trie.New()}
	for _, p := range defaultDenyPrefixes {
		d.t.Add(p, denyPrefix)
	}
	for _, p := range extra {
		if p != "" {
			d.t.Add(p, denyPrefix)
		}
	}
	for _, n := range defaultDenyNames {
		if _, ok := d.t.Find(n); !ok {
			d.t.Add(n, denyExact)
		}
	}
	return d
}

// denied reports whether name should be hidden from variable listings.
func (d *denylist) denied(name string) bool {
	if name == "" || strings.Contains(name, "$") {
		return true
	}
	for i := 1; i <= len(name); i++ {
		key := name[:i]
		if !d.t.HasKeysWithPrefix(key) {
			return false
		}
		node, ok := d.t.Find(key)
		if !ok {
			continue
		}
		if node.Meta() == denyPrefix || i == len(name) {
			return true
		}
	}
	return false
}
