package symbol

// maxInstLen bytes read when classifying an instruction
const maxInstLen = 10

// callForm one x86-64 CALL encoding. Forms of the 0xFF group are selected by
// their ModRM byte; others match on the opcode alone.
type callForm struct {
	opcode byte
	modrm  []byte
	length int
}

var callTable = []callForm{
	{opcode: 0xE8, length: 5}, // call rel32
	{opcode: 0x9A, length: 7}, // call ptr16:32
	// call [reg]
	{opcode: 0xFF, modrm: []byte{0x10, 0x11, 0x12, 0x13, 0x16, 0x17}, length: 2},
	// call reg
	{opcode: 0xFF, modrm: []byte{0xD0, 0xD1, 0xD2, 0xD3, 0xD4, 0xD5, 0xD6, 0xD7}, length: 2},
	// call [base+index*scale]
	{opcode: 0xFF, modrm: []byte{0x14}, length: 3},
	// call [reg+disp8]
	{opcode: 0xFF, modrm: []byte{0x50, 0x51, 0x52, 0x53, 0x55, 0x56, 0x57}, length: 3},
	// call [base+index*scale+disp8]
	{opcode: 0xFF, modrm: []byte{0x54}, length: 4},
	// call [rip+disp32]
	{opcode: 0xFF, modrm: []byte{0x15}, length: 6},
	// call [reg+disp32]
	{opcode: 0xFF, modrm: []byte{0x90, 0x91, 0x92, 0x93, 0x95, 0x96, 0x97}, length: 6},
	// call [base+index*scale+disp32]
	{opcode: 0xFF, modrm: []byte{0x94}, length: 7},
}

var (
	callByOpcode = map[byte]int{}
	callByModRM  = map[[2]byte]int{}
)

func init() {
	for _, f := range callTable {
		if len(f.modrm) == 0 {
			callByOpcode[f.opcode] = f.length
			continue
		}
		for _, m := range f.modrm {
			callByModRM[[2]byte{f.opcode, m}] = f.length
		}
	}
}

func isREX(b byte) bool {
	return b&0xF0 == 0x40
}

// decodeCall returns the length of the CALL instruction starting code.
func decodeCall(code []byte) (int, bool) {
	prefix := 0
	if len(code) > 0 && isREX(code[0]) {
		prefix = 1
		code = code[1:]
	}
	if len(code) == 0 {
		return 0, false
	}

	if n, ok := callByOpcode[code[0]]; ok {
		return prefix + n, true
	}
	if len(code) < 2 {
		return 0, false
	}
	n, ok := callByModRM[[2]byte{code[0], code[1]}]
	if !ok {
		return 0, false
	}
	// a SIB byte with no base register carries a disp32
	if code[1] == 0x14 && len(code) > 2 && code[2]&0x07 == 0x05 {
		n += 4
	}
	return prefix + n, true
}

// decodeRet returns the length of the RET instruction whose opcode is b.
func decodeRet(b byte) (int, bool) {
	switch b {
	case 0xC3, 0xCB: // ret, far ret
		return 1, true
	case 0xC2, 0xCA: // ret imm16, far ret imm16
		return 3, true
	}
	return 0, false
}

// CallLength reports whether the instruction at addr is a CALL and its
// encoded length.
func CallLength(mem Memory, addr uint64) (int, bool) {
	buf := make([]byte, maxInstLen)
	n, _ := mem.ReadMemory(addr, buf)
	return decodeCall(buf[:n])
}

// RetLength reports whether the byte at addr is a RET opcode and the length
// of that instruction.
func RetLength(mem Memory, addr uint64) (int, bool) {
	b, err := ReadByte(mem, addr)
	if err != nil {
		return 0, false
	}
	return decodeRet(b)
}
