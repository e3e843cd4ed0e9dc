package dwarf

import "testing"

// byteBuf is a tiny little-endian byte builder used to hand-assemble
// synthetic DWARF sections for these tests.
type byteBuf struct {
	b []byte
}

func (w *byteBuf) u8(v uint8)   { w.b = append(w.b, v) }
func (w *byteBuf) u16(v uint16) { w.b = append(w.b, byte(v), byte(v>>8)) }
func (w *byteBuf) u32(v uint32) {
	w.b = append(w.b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (w *byteBuf) u64(v uint64) {
	for i := 0; i < 8; i++ {
		w.b = append(w.b, byte(v>>(8*i)))
	}
}
func (w *byteBuf) uleb(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.b = append(w.b, b)
		if v == 0 {
			break
		}
	}
}
func (w *byteBuf) sleb(v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.b = append(w.b, b)
	}
}
func (w *byteBuf) bytes(b []byte) { w.b = append(w.b, b...) }

// nulTable builds a .debug_str/.debug_line_str style section: a leading NUL
// followed by each given string NUL-terminated, returning the offset of
// each string within the section.
func nulTable(strs ...string) ([]byte, []uint32) {
	buf := []byte{0}
	offsets := make([]uint32, len(strs))
	for i, s := range strs {
		offsets[i] = uint32(len(buf))
		buf = append(buf, s...)
		buf = append(buf, 0)
	}
	return buf, offsets
}

// buildFixture assembles a minimal but complete DWARF5 .debug_abbrev,
// .debug_info, .debug_str, .debug_line_str and .debug_line set describing
// one compile unit containing one subprogram "myfunc" spanning
// [0x1000, 0x1050), with a two-row line program over [0x1000, 0x1008).
func buildFixture(t *testing.T) *Context {
	t.Helper()

	debugStr, strOff := nulTable("myfunc")
	debugLineStr, lineStrOff := nulTable("/src", "main.go")

	// .debug_abbrev
	var abbrev byteBuf
	// code 1: compile_unit, children=yes, {stmt_list:sec_offset, low_pc:addr, high_pc:data8}
	abbrev.uleb(1)
	abbrev.uleb(tagCompileUnit)
	abbrev.u8(1)
	abbrev.uleb(atStmtList)
	abbrev.uleb(formSecOffset)
	abbrev.uleb(atLowPC)
	abbrev.uleb(formAddr)
	abbrev.uleb(atHighPC)
	abbrev.uleb(formData8)
	abbrev.uleb(0)
	abbrev.uleb(0)
	// code 2: subprogram, children=no, {name:strp, low_pc:addr, high_pc:data8}
	abbrev.uleb(2)
	abbrev.uleb(tagSubprogram)
	abbrev.u8(0)
	abbrev.uleb(atName)
	abbrev.uleb(formStrp)
	abbrev.uleb(atLowPC)
	abbrev.uleb(formAddr)
	abbrev.uleb(atHighPC)
	abbrev.uleb(formData8)
	abbrev.uleb(0)
	abbrev.uleb(0)
	abbrev.uleb(0) // table terminator

	const stmtListOffset = 0 // .debug_line header starts at offset 0

	// .debug_info: CU header + CU DIE + subprogram DIE + null
	var body byteBuf
	body.u16(dwarfVersion5)
	body.u8(1) // unit_type = DW_UT_compile
	body.u8(8) // address_size
	body.u32(0) // debug_abbrev_offset

	body.uleb(1) // abbrev code 1: compile_unit
	body.u32(stmtListOffset)
	body.u64(0x1000) // low_pc
	body.u64(0x2000) // high_pc (length)

	body.uleb(2) // abbrev code 2: subprogram
	body.u32(strOff[0])
	body.u64(0x1000) // low_pc
	body.u64(0x50)   // high_pc (length) -> 0x1050

	body.uleb(0) // null DIE closes compile_unit's children

	var info byteBuf
	info.u32(uint32(len(body.b)))
	info.bytes(body.b)

	// .debug_line
	var tail byteBuf
	tail.u8(1) // minimum_instruction_length
	tail.u8(1) // maximum_operations_per_instruction
	tail.u8(1) // default_is_stmt
	lineBase := int8(-5)
	tail.u8(uint8(lineBase))  // line_base
	tail.u8(14)               // line_range
	tail.u8(13)               // opcode_base
	stdLens := []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}
	for _, n := range stdLens {
		tail.u8(n)
	}
	tail.u8(1) // directory_entry_format_count
	tail.uleb(lnctPath)
	tail.uleb(formLineStrp)
	tail.uleb(1) // directories_count
	tail.u32(lineStrOff[0]) // "/src"

	tail.u8(2) // file_name_entry_format_count
	tail.uleb(lnctPath)
	tail.uleb(formLineStrp)
	tail.uleb(lnctDirectoryIndex)
	tail.uleb(formUdata)
	// The line program's file register starts at 1, so entry 1 is the one
	// the rows below refer to; entry 0 repeats it as DWARF5 producers do.
	tail.uleb(2) // file_names_count
	tail.u32(lineStrOff[1]) // entry 0: "main.go"
	tail.uleb(0)            // directory_index
	tail.u32(lineStrOff[1]) // entry 1: "main.go"
	tail.uleb(0)            // directory_index

	var program byteBuf
	// set_address 0x1000
	program.u8(0)
	program.uleb(9)
	program.u8(lneSetAddress)
	program.u64(0x1000)
	// advance_line +9 -> line 10
	program.u8(lnsAdvanceLine)
	program.sleb(9)
	// copy -> commits row {0x1000, line 10}
	program.u8(lnsCopy)
	// advance_pc +4 -> address 0x1004
	program.u8(lnsAdvancePC)
	program.uleb(4)
	// advance_line +1 -> line 11
	program.u8(lnsAdvanceLine)
	program.sleb(1)
	// copy -> commits row {0x1004, line 11}
	program.u8(lnsCopy)
	// advance_pc +4 -> address 0x1008
	program.u8(lnsAdvancePC)
	program.uleb(4)
	// end_sequence -> commits row {0x1008, end_sequence}
	program.u8(0)
	program.uleb(1)
	program.u8(lneEndSequence)

	var lineBuf byteBuf
	lineBuf.u16(dwarfVersion5)
	lineBuf.u8(8) // address_size
	lineBuf.u8(0) // segment_selector_size
	lineBuf.u32(uint32(len(tail.b)))
	lineBuf.bytes(tail.b)
	lineBuf.bytes(program.b)

	var debugLine byteBuf
	debugLine.u32(uint32(len(lineBuf.b)))
	debugLine.bytes(lineBuf.b)

	return &Context{
		debugInfo:    info.b,
		debugAbbrev:  abbrev.b,
		debugStr:     debugStr,
		debugLineStr: debugLineStr,
		debugLine:    debugLine.b,
		abbrevCache:  make(map[uint64]abbrevTable),
	}
}

func TestQueryFuncFindsEnclosingSubprogram(t *testing.T) {
	ctx := buildFixture(t)

	fn, err := ctx.QueryFunc(0x1020)
	if err != nil {
		t.Fatalf("QueryFunc: %v", err)
	}
	if fn.Name != "myfunc" {
		t.Fatalf("expected myfunc, got %q", fn.Name)
	}
	if fn.LowPC != 0x1000 || fn.HighPC != 0x1050 {
		t.Fatalf("unexpected range [%#x, %#x)", fn.LowPC, fn.HighPC)
	}
}

func TestQueryFuncMissAddress(t *testing.T) {
	ctx := buildFixture(t)

	if _, err := ctx.QueryFunc(0x9999); err == nil {
		t.Fatalf("expected an error for an address outside every subprogram")
	}
}

func TestQueryLineExactMatch(t *testing.T) {
	ctx := buildFixture(t)

	fn, err := ctx.QueryFunc(0x1004)
	if err != nil {
		t.Fatalf("QueryFunc: %v", err)
	}

	line, err := ctx.QueryLine(fn, 0x1004, ExactLine)
	if err != nil {
		t.Fatalf("QueryLine: %v", err)
	}
	if line.Line != 11 {
		t.Fatalf("expected line 11, got %d", line.Line)
	}
	if line.File != "main.go" || line.Directory != "/src" {
		t.Fatalf("unexpected file/dir: %q %q", line.File, line.Directory)
	}
}

func TestQueryLinePreviousLineForReturnAddress(t *testing.T) {
	ctx := buildFixture(t)

	fn, err := ctx.QueryFunc(0x1004)
	if err != nil {
		t.Fatalf("QueryFunc: %v", err)
	}

	// A return address one byte past the start of the second row's
	// instruction should resolve to that row, not the one after it.
	line, err := ctx.QueryLine(fn, 0x1005, PreviousLine)
	if err != nil {
		t.Fatalf("QueryLine: %v", err)
	}
	if line.Line != 11 {
		t.Fatalf("expected line 11, got %d", line.Line)
	}
}

func TestQueryLineExactPastEndRestoresPrevious(t *testing.T) {
	ctx := buildFixture(t)

	fn, err := ctx.QueryFunc(0x1000)
	if err != nil {
		t.Fatalf("QueryFunc: %v", err)
	}

	// pc falls strictly between two committed rows; EXACT_LINE must
	// restore the previous row rather than report no match.
	line, err := ctx.QueryLine(fn, 0x1002, ExactLine)
	if err != nil {
		t.Fatalf("QueryLine: %v", err)
	}
	if line.Line != 10 {
		t.Fatalf("expected line 10, got %d", line.Line)
	}
}

func TestULEB128SLEB128RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 32, ^uint64(0)}
	for _, v := range values {
		var w byteBuf
		w.uleb(v)
		r := NewReader(w.b)
		got, err := r.ULEB128()
		if err != nil {
			t.Fatalf("ULEB128 decode: %v", err)
		}
		if got != v {
			t.Fatalf("ULEB128 round trip: want %d got %d", v, got)
		}
	}

	signed := []int64{0, 1, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40)}
	for _, v := range signed {
		var w byteBuf
		w.sleb(v)
		r := NewReader(w.b)
		got, err := r.SLEB128()
		if err != nil {
			t.Fatalf("SLEB128 decode: %v", err)
		}
		if got != v {
			t.Fatalf("SLEB128 round trip: want %d got %d", v, got)
		}
	}
}

func TestReaderBoundsAreChecked(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.U32(); err == nil {
		t.Fatalf("expected out-of-bounds error reading 4 bytes from a 3 byte section")
	}
	if r.Pos() != 0 {
		t.Fatalf("failed read must not advance the cursor, got pos=%d", r.Pos())
	}
}
