package dwarf

import "github.com/maxdevos49/osdev/kernel"

// Standard line-number program opcodes (DWARF5 section 6.2.5.2).
const (
	lnsCopy             = 0x01
	lnsAdvancePC        = 0x02
	lnsAdvanceLine      = 0x03
	lnsSetFile          = 0x04
	lnsSetColumn        = 0x05
	lnsNegateStmt       = 0x06
	lnsSetBasicBlock    = 0x07
	lnsConstAddPC       = 0x08
	lnsFixedAdvancePC   = 0x09
	lnsSetPrologueEnd   = 0x0a
	lnsSetEpilogueBegin = 0x0b
	lnsSetISA           = 0x0c
)

// Extended opcodes, prefixed in the stream by a 0 opcode byte and a LEB128
// length.
const (
	lneEndSequence     = 0x01
	lneSetAddress      = 0x02
	lneSetDiscriminator = 0x04
)

// Directory/file entry content type codes (DWARF5 section 6.2.4.1).
const (
	lnctPath           = 0x1
	lnctDirectoryIndex = 0x2
)

// Selection policy for QueryLine, matching the two ways a caller arrives at
// a pc: EXACT for a pc known to land exactly on a statement boundary (a
// breakpoint address), PREVIOUS for a return address captured mid-call,
// which lies just after the call instruction that produced the row we want.
type LineSelect int

const (
	ExactLine LineSelect = iota
	PreviousLine
)

// lineRegisters is the line-number program's virtual machine state
// (DWARF5 section 6.2.2).
type lineRegisters struct {
	address       uint64
	opIndex       uint32
	file          uint32
	line          uint32 // signed in principle, but never legitimately negative
	column        uint32
	isStmt        bool
	basicBlock    bool
	endSequence   bool
	prologueEnd   bool
	epilogueBegin bool
	isa           uint32
	discriminator uint32
}

func newLineRegisters(defaultIsStmt bool) lineRegisters {
	return lineRegisters{file: 1, line: 1, isStmt: defaultIsStmt}
}

// lineProgramHeader is the decoded fixed portion of a .debug_line unit
// header, plus the directory and file name tables it governs.
type lineProgramHeader struct {
	unitEnd                  int
	addressSize              uint8
	minInsnLen                uint8
	maxOpsPerInsn             uint8
	defaultIsStmt             bool
	lineBase                  int8
	lineRange                 uint8
	opcodeBase                uint8
	standardOpcodeLengths     [13]uint8 // index 1..opcodeBase-1 used
	directories               []string
	files                     []lineFileEntry
	programStart              int
}

type lineFileEntry struct {
	name      string
	dirIndex  uint64
}

// readLineProgramHeader decodes the .debug_line unit at offset, including
// the DWARF5 directory/file entry-format tables. It rejects any header
// shape this symbolicator was not built to understand (entry-format
// counts or forms other than what query_line's single known producer
// emits) with ErrUnsupported rather than guess at the layout.
func (ctx *Context) readLineProgramHeader(offset uint64) (*lineProgramHeader, *kernel.Error) {
	r := NewReader(ctx.debugLine)
	r.SeekTo(int(offset))

	unitLength, err := r.U32()
	if err != nil {
		return nil, err
	}
	if unitLength == 0xffffffff {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfUnsupportedHeader, Message: "64-bit DWARF format is not supported"}
	}
	unitEnd := r.Pos() + int(unitLength)

	version, err := r.U16()
	if err != nil {
		return nil, err
	}
	if version != dwarfVersion5 {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfUnsupportedVersion, Message: "only DWARF version 5 line programs are supported"}
	}

	addrSize, err := r.U8()
	if err != nil {
		return nil, err
	}
	if _, err := r.U8(); err != nil { // segment_selector_size, unused
		return nil, err
	}
	headerLength, err := r.U32()
	if err != nil {
		return nil, err
	}
	programStart := r.Pos() + int(headerLength)

	minInsnLen, err := r.U8()
	if err != nil {
		return nil, err
	}
	maxOps, err := r.U8()
	if err != nil {
		return nil, err
	}
	defaultIsStmtByte, err := r.U8()
	if err != nil {
		return nil, err
	}
	lineBaseByte, err := r.U8()
	if err != nil {
		return nil, err
	}
	lineRange, err := r.U8()
	if err != nil {
		return nil, err
	}
	opcodeBase, err := r.U8()
	if err != nil {
		return nil, err
	}

	hdr := &lineProgramHeader{
		unitEnd:       unitEnd,
		addressSize:   addrSize,
		minInsnLen:    minInsnLen,
		maxOpsPerInsn: maxOps,
		defaultIsStmt: defaultIsStmtByte != 0,
		lineBase:      int8(lineBaseByte),
		lineRange:     lineRange,
		opcodeBase:    opcodeBase,
		programStart:  programStart,
	}
	if hdr.maxOpsPerInsn == 0 {
		hdr.maxOpsPerInsn = 1
	}

	for i := uint8(1); i < opcodeBase && int(i) < len(hdr.standardOpcodeLengths); i++ {
		n, err := r.U8()
		if err != nil {
			return nil, err
		}
		hdr.standardOpcodeLengths[i] = n
	}

	if err := ctx.readLineEntryTables(r, hdr); err != nil {
		return nil, err
	}

	return hdr, nil
}

// readLineEntryTables parses the DWARF5 directory and file name tables,
// each preceded by an explicit entry-format describing the (content-type,
// form) pairs present per row.
func (ctx *Context) readLineEntryTables(r *Reader, hdr *lineProgramHeader) *kernel.Error {
	dirFormatCount, err := r.U8()
	if err != nil {
		return err
	}
	if dirFormatCount != 1 {
		return &kernel.Error{Module: "dwarf", Code: kernel.ErrUnsupported, Message: "unsupported directory entry format count"}
	}
	dirContentType, err := r.ULEB128()
	if err != nil {
		return err
	}
	dirForm, err := r.ULEB128()
	if err != nil {
		return err
	}
	if dirContentType != lnctPath || dirForm != formLineStrp {
		return &kernel.Error{Module: "dwarf", Code: kernel.ErrUnsupported, Message: "unsupported directory entry format"}
	}

	dirCount, err := r.ULEB128()
	if err != nil {
		return err
	}
	sec := sectionSet{debugStr: ctx.debugStr, debugLineStr: ctx.debugLineStr}
	for i := uint64(0); i < dirCount; i++ {
		v, err := decodeForm(r, formLineStrp, hdr.addressSize, sec)
		if err != nil {
			return err
		}
		hdr.directories = append(hdr.directories, v.str)
	}

	fileFormatCount, err := r.U8()
	if err != nil {
		return err
	}
	if fileFormatCount != 2 {
		return &kernel.Error{Module: "dwarf", Code: kernel.ErrUnsupported, Message: "unsupported file entry format count"}
	}
	type formatPair struct{ contentType, form uint64 }
	formats := make([]formatPair, fileFormatCount)
	for i := range formats {
		ct, err := r.ULEB128()
		if err != nil {
			return err
		}
		f, err := r.ULEB128()
		if err != nil {
			return err
		}
		formats[i] = formatPair{ct, f}
	}
	if formats[0].contentType != lnctPath || formats[0].form != formLineStrp ||
		formats[1].contentType != lnctDirectoryIndex || formats[1].form != formUdata {
		return &kernel.Error{Module: "dwarf", Code: kernel.ErrUnsupported, Message: "unsupported file entry format"}
	}

	fileCount, err := r.ULEB128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < fileCount; i++ {
		pathVal, err := decodeForm(r, formLineStrp, hdr.addressSize, sec)
		if err != nil {
			return err
		}
		dirVal, err := decodeForm(r, formUdata, hdr.addressSize, sec)
		if err != nil {
			return err
		}
		hdr.files = append(hdr.files, lineFileEntry{name: pathVal.str, dirIndex: dirVal.u64})
	}

	return nil
}

// Line is a resolved source location.
type Line struct {
	File      string
	Directory string
	Line      uint32
	Column    uint32
}

// advancePC applies a standard address/op_index advance per DWARF5's VLIW
// operation-advance formula (section 6.2.5.1).
func advancePC(regs *lineRegisters, hdr *lineProgramHeader, opAdvance uint64) {
	maxOps := uint64(hdr.maxOpsPerInsn)
	total := uint64(regs.opIndex) + opAdvance
	regs.address += uint64(hdr.minInsnLen) * (total / maxOps)
	regs.opIndex = uint32(total % maxOps)
}

// QueryLine runs the line-number program belonging to the compile unit
// enclosing fn and returns the row selected by policy for pc.
func (ctx *Context) QueryLine(fn *Function, pc uint64, policy LineSelect) (*Line, *kernel.Error) {
	if !fn.HaveStmtList {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrNotFound, Message: "compile unit has no stmt_list"}
	}

	hdr, err := ctx.readLineProgramHeader(fn.StmtList)
	if err != nil {
		return nil, err
	}

	r := NewReader(ctx.debugLine)
	r.SeekTo(hdr.programStart)

	cur := newLineRegisters(hdr.defaultIsStmt)
	prev := cur

	commit := func() (*Line, bool) {
		matched := false
		var result lineRegisters

		switch policy {
		case ExactLine:
			if cur.address == pc {
				result, matched = cur, true
			} else if cur.address > pc {
				result, matched = prev, true
			}
		case PreviousLine:
			if cur.address >= pc {
				result, matched = prev, true
			}
		}

		if !matched {
			prev = cur
			return nil, false
		}
		return ctx.resolveLine(hdr, result), true
	}

	for r.Pos() < hdr.unitEnd {
		opcode, err := r.U8()
		if err != nil {
			return nil, err
		}

		switch {
		case opcode == 0:
			length, err := r.ULEB128()
			if err != nil {
				return nil, err
			}
			end := r.Pos() + int(length)
			sub, err := r.U8()
			if err != nil {
				return nil, err
			}
			switch sub {
			case lneEndSequence:
				cur.endSequence = true
				if line, ok := commit(); ok {
					return line, nil
				}
				cur = newLineRegisters(hdr.defaultIsStmt)
				prev = cur
			case lneSetAddress:
				addr, err := r.U64()
				if err != nil {
					return nil, err
				}
				cur.address = addr
				cur.opIndex = 0
			case lneSetDiscriminator:
				disc, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				cur.discriminator = uint32(disc)
			}
			r.SeekTo(end)

		case opcode < hdr.opcodeBase:
			switch opcode {
			case lnsCopy:
				if line, ok := commit(); ok {
					return line, nil
				}
				cur.basicBlock = false
				cur.prologueEnd = false
				cur.epilogueBegin = false
				cur.discriminator = 0
			case lnsAdvancePC:
				adv, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				advancePC(&cur, hdr, adv)
			case lnsAdvanceLine:
				delta, err := r.SLEB128()
				if err != nil {
					return nil, err
				}
				cur.line = uint32(int64(cur.line) + delta)
			case lnsSetFile:
				f, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				cur.file = uint32(f)
			case lnsSetColumn:
				c, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				cur.column = uint32(c)
			case lnsNegateStmt:
				cur.isStmt = !cur.isStmt
			case lnsSetBasicBlock:
				cur.basicBlock = true
			case lnsConstAddPC:
				adjusted := uint64(255 - hdr.opcodeBase)
				advancePC(&cur, hdr, adjusted/uint64(hdr.lineRange))
			case lnsFixedAdvancePC:
				adv, err := r.U16()
				if err != nil {
					return nil, err
				}
				cur.address += uint64(adv)
				cur.opIndex = 0
			case lnsSetPrologueEnd:
				cur.prologueEnd = true
			case lnsSetEpilogueBegin:
				cur.epilogueBegin = true
			case lnsSetISA:
				isa, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				cur.isa = uint32(isa)
			default:
				// Unknown standard opcode: skip its declared operand count.
				for i := uint8(0); i < hdr.standardOpcodeLengths[opcode]; i++ {
					if _, err := r.ULEB128(); err != nil {
						return nil, err
					}
				}
			}

		default:
			adjusted := uint64(opcode - hdr.opcodeBase)
			advancePC(&cur, hdr, adjusted/uint64(hdr.lineRange))
			cur.line = uint32(int64(cur.line) + int64(hdr.lineBase) + int64(adjusted%uint64(hdr.lineRange)))
			if line, ok := commit(); ok {
				return line, nil
			}
			cur.basicBlock = false
			cur.prologueEnd = false
			cur.epilogueBegin = false
			cur.discriminator = 0
		}
	}

	return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrNotFound, Message: "line program terminated without a matching row"}
}

// resolveLine turns a committed register set's file index into the
// {file, directory} pair the header's tables describe.
func (ctx *Context) resolveLine(hdr *lineProgramHeader, regs lineRegisters) *Line {
	line := &Line{Line: regs.line, Column: regs.column}

	idx := int(regs.file)
	if idx < 0 || idx >= len(hdr.files) {
		return line
	}
	entry := hdr.files[idx]
	line.File = entry.name

	dirIdx := int(entry.dirIndex)
	if dirIdx >= 0 && dirIdx < len(hdr.directories) {
		line.Directory = hdr.directories[dirIdx]
	}
	return line
}
