package dwarf

import (
	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/debug/elf"
)

// dwarfVersion5 is the only line/info format this symbolicator understands;
// anything else is rejected outright rather than guessed at.
const dwarfVersion5 = 5

// dwUTCompile is the only unit_type this symbolicator accepts: a normal
// compile unit. Split/skeleton/type units (DW_UT_partial, DW_UT_type, ...)
// never show up in a statically linked kernel image.
const dwUTCompile = 0x01

// aranges unit headers this symbolicator understands: DWARF's aranges
// format version, and a segment size of 0 (no segmented addressing).
const (
	arangesVersion2  = 2
	arangesSegSizeNo = 0
)

// Context holds the raw DWARF sections pulled out of the kernel's own ELF
// image and the abbreviation tables parsed from them on demand.
type Context struct {
	debugInfo     []byte
	debugAbbrev   []byte
	debugAranges  []byte
	debugStr      []byte
	debugLineStr  []byte
	debugLine     []byte

	abbrevCache map[uint64]abbrevTable
}

// Load extracts the six DWARF sections this package needs from the ELF
// image described by header. Only .debug_info and .debug_abbrev are
// required; a missing .debug_aranges, .debug_str, .debug_line_str or
// .debug_line only narrows what QueryFunc/QueryLine can resolve, it does not
// make Load fail.
func Load(header *elf.Header) (*Context, *kernel.Error) {
	ctx := &Context{abbrevCache: make(map[uint64]abbrevTable)}

	required := map[string]*[]byte{
		".debug_info":   &ctx.debugInfo,
		".debug_abbrev": &ctx.debugAbbrev,
	}
	for name, dst := range required {
		_, data, err := header.Section(name)
		if err != nil {
			return nil, err
		}
		*dst = data
	}

	optional := map[string]*[]byte{
		".debug_aranges":  &ctx.debugAranges,
		".debug_str":      &ctx.debugStr,
		".debug_line_str": &ctx.debugLineStr,
		".debug_line":     &ctx.debugLine,
	}
	for name, dst := range optional {
		if _, data, err := header.Section(name); err == nil {
			*dst = data
		}
	}

	return ctx, nil
}

// cuHeader is a decoded DWARF5 compilation unit header. DWARF5 reorders the
// header relative to DWARF4: unit_type and address_size come before
// debug_abbrev_offset.
type cuHeader struct {
	offset         uint64 // offset of this header in .debug_info
	length         uint64 // unit_length, not including the length field itself
	version        uint16
	unitType       uint8
	addrSize       uint8
	abbrevOffset   uint64
	firstDIEOffset uint64
}

func (c *cuHeader) endOffset() uint64 {
	return c.offset + 4 + c.length
}

// readCUHeader decodes the compile-unit header at offset in .debug_info.
func (ctx *Context) readCUHeader(offset uint64) (*cuHeader, *kernel.Error) {
	r := NewReader(ctx.debugInfo)
	r.SeekTo(int(offset))

	length, err := r.U32()
	if err != nil {
		return nil, err
	}
	if length == 0xffffffff {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfUnsupportedHeader, Message: "64-bit DWARF format is not supported"}
	}

	version, err := r.U16()
	if err != nil {
		return nil, err
	}
	if version != dwarfVersion5 {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfUnsupportedVersion, Message: "only DWARF version 5 is supported"}
	}

	unitType, err := r.U8()
	if err != nil {
		return nil, err
	}
	if unitType != dwUTCompile {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfInvalidUnit, Message: "only DW_UT_compile units are supported"}
	}
	addrSize, err := r.U8()
	if err != nil {
		return nil, err
	}
	abbrevOffset, err := r.U32()
	if err != nil {
		return nil, err
	}

	return &cuHeader{
		offset:         offset,
		length:         uint64(length),
		version:        version,
		unitType:       unitType,
		addrSize:       addrSize,
		abbrevOffset:   uint64(abbrevOffset),
		firstDIEOffset: uint64(r.Pos()),
	}, nil
}

func (ctx *Context) abbrevTableFor(offset uint64) (abbrevTable, *kernel.Error) {
	if t, ok := ctx.abbrevCache[offset]; ok {
		return t, nil
	}
	t, err := parseAbbrevTable(ctx.debugAbbrev, offset)
	if err != nil {
		return nil, err
	}
	ctx.abbrevCache[offset] = t
	return t, nil
}

// cuOffsetForAddress scans .debug_aranges for the address range set that
// covers addr, returning the offset of its compile unit in .debug_info.
// ErrNotFound means no arange set claims addr; findFuncLinear is the
// fallback, since .debug_aranges is permitted to be absent or partial.
func (ctx *Context) cuOffsetForAddress(addr uint64) (uint64, *kernel.Error) {
	if len(ctx.debugAranges) == 0 {
		return 0, &kernel.Error{Module: "dwarf", Code: kernel.ErrNotFound, Message: "no .debug_aranges section"}
	}

	r := NewReader(ctx.debugAranges)
	for !r.Done() {
		setStart := r.Pos()
		length, err := r.U32()
		if err != nil {
			return 0, err
		}
		setEnd := setStart + 4 + int(length)

		version, err := r.U16()
		if err != nil {
			return 0, err
		}
		if version != arangesVersion2 {
			return 0, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfUnsupportedVersion, Message: "only .debug_aranges version 2 is supported"}
		}
		debugInfoOffset, err := r.U32()
		if err != nil {
			return 0, err
		}
		addrSize, err := r.U8()
		if err != nil {
			return 0, err
		}
		segSize, err := r.U8()
		if err != nil {
			return 0, err
		}
		if segSize != arangesSegSizeNo {
			return 0, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfUnsupportedHeader, Message: "segmented .debug_aranges is not supported"}
		}

		// Tuples begin aligned to 2*address_size from the start of the set.
		tupleAlign := 2 * int(addrSize)
		headerLen := r.Pos() - setStart
		if pad := (tupleAlign - headerLen%tupleAlign) % tupleAlign; pad > 0 {
			if _, err := r.Bytes(pad); err != nil {
				return 0, err
			}
		}

		for r.Pos() < setEnd {
			var base, length uint64
			if addrSize == 8 {
				b, err := r.U64()
				if err != nil {
					return 0, err
				}
				l, err := r.U64()
				if err != nil {
					return 0, err
				}
				base, length = b, l
			} else {
				b, err := r.U32()
				if err != nil {
					return 0, err
				}
				l, err := r.U32()
				if err != nil {
					return 0, err
				}
				base, length = uint64(b), uint64(l)
			}
			if base == 0 && length == 0 {
				break
			}
			if addr >= base && addr < base+length {
				return uint64(debugInfoOffset), nil
			}
		}

		r.SeekTo(setEnd)
	}

	return 0, &kernel.Error{Module: "dwarf", Code: kernel.ErrNotFound, Message: "address not covered by any arange set"}
}

// Function describes a subprogram DIE matching a queried address.
type Function struct {
	Name     string
	LowPC    uint64
	HighPC   uint64
	StmtList uint64
	HaveStmtList bool
	CUOffset uint64
}

// QueryFunc finds the subprogram whose [low_pc, high_pc) range contains
// addr. It tries .debug_aranges first to avoid scanning every compile unit,
// falling back to a linear scan of .debug_info if aranges cannot place the
// address (common for addresses inside PLT-like stubs or when aranges was
// not emitted at all).
func (ctx *Context) QueryFunc(addr uint64) (*Function, *kernel.Error) {
	if cuOffset, err := ctx.cuOffsetForAddress(addr); err == nil {
		if fn, err := ctx.findFuncInCU(cuOffset, addr); err == nil {
			return fn, nil
		}
	}
	return ctx.findFuncLinear(addr)
}

func (ctx *Context) findFuncLinear(addr uint64) (*Function, *kernel.Error) {
	offset := uint64(0)
	for offset < uint64(len(ctx.debugInfo)) {
		cu, err := ctx.readCUHeader(offset)
		if err != nil {
			return nil, err
		}
		if fn, err := ctx.findFuncInCU(offset, addr); err == nil {
			return fn, nil
		}
		offset = cu.endOffset()
	}
	return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrNotFound, Message: "no subprogram covers address"}
}

// findFuncInCU walks every DIE in the compile unit at cuOffset looking for a
// subprogram DIE whose range contains addr, and records the unit's
// DW_AT_stmt_list along the way for QueryLine to use afterward.
func (ctx *Context) findFuncInCU(cuOffset uint64, addr uint64) (*Function, *kernel.Error) {
	cu, err := ctx.readCUHeader(cuOffset)
	if err != nil {
		return nil, err
	}
	table, err := ctx.abbrevTableFor(cu.abbrevOffset)
	if err != nil {
		return nil, err
	}
	sec := sectionSet{debugStr: ctx.debugStr, debugLineStr: ctx.debugLineStr}

	r := NewReader(ctx.debugInfo)
	r.SeekTo(int(cu.firstDIEOffset))

	var stmtList uint64
	var haveStmtList bool
	depth := 0
	started := false

	for r.Pos() < int(cu.endOffset()) {
		d, err := decodeDIE(r, table, cu.addrSize, sec)
		if err != nil {
			return nil, err
		}
		if d == nil {
			depth--
			if started && depth == 0 {
				break
			}
			continue
		}

		if d.tag == tagCompileUnit {
			if d.haveStmtList {
				stmtList, haveStmtList = d.stmtList, true
			}
		}

		if d.tag == tagSubprogram && d.haveLowPC && d.haveHighPC {
			high := d.resolvedHighPC()
			if addr >= d.lowPC && addr < high {
				return &Function{
					Name:         d.name,
					LowPC:        d.lowPC,
					HighPC:       high,
					StmtList:     stmtList,
					HaveStmtList: haveStmtList,
					CUOffset:     cuOffset,
				}, nil
			}
		}

		if d.hasChildren {
			depth++
		}
		started = true
	}

	return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrNotFound, Message: "no subprogram in this unit covers address"}
}
