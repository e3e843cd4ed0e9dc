package dwarf

import "github.com/maxdevos49/osdev/kernel"

// DWARF tag and attribute constants, limited to the ones this symbolicator
// actually inspects.
const (
	tagCompileUnit = 0x11
	tagSubprogram  = 0x2e

	atName     = 0x03
	atStmtList = 0x10
	atLowPC    = 0x11
	atHighPC   = 0x12
)

// DWARF form constants (DWARF5, section 7.5.6).
const (
	formAddr        = 0x01
	formBlock2      = 0x03
	formBlock4      = 0x04
	formData2       = 0x05
	formData4       = 0x06
	formData8       = 0x07
	formString      = 0x08
	formBlock       = 0x09
	formBlock1      = 0x0a
	formData1       = 0x0b
	formFlag        = 0x0c
	formSdata       = 0x0d
	formStrp        = 0x0e
	formUdata       = 0x0f
	formRefAddr     = 0x10
	formRef1        = 0x11
	formRef2        = 0x12
	formRef4        = 0x13
	formRef8        = 0x14
	formRefUdata    = 0x15
	formIndirect    = 0x16
	formSecOffset   = 0x17
	formExprloc     = 0x18
	formFlagPresent = 0x19
	formStrx        = 0x1a
	formAddrx       = 0x1b
	formRefSup4     = 0x1c
	formStrpSup     = 0x1d
	formData16      = 0x1e
	formLineStrp    = 0x1f
	formRefSig8     = 0x20
	formImplicitConst = 0x21
	formLoclistx    = 0x22
	formRnglistx    = 0x23
	formRefSup8     = 0x24
)

// attrSpec is one (attribute, form) pair from an abbreviation declaration.
type attrSpec struct {
	attr           uint64
	form           uint64
	implicitConst  int64
}

// abbrevDecl describes one entry in a .debug_abbrev table: the tag it
// decodes, whether it has children DIEs, and the attributes every DIE using
// it carries, in order.
type abbrevDecl struct {
	tag         uint64
	hasChildren bool
	attrs       []attrSpec
}

// abbrevTable maps abbreviation code to its declaration, as parsed from one
// .debug_abbrev entry (CUs may share a table via identical offsets).
type abbrevTable map[uint64]*abbrevDecl

// parseAbbrevTable reads a single abbreviation table starting at offset in
// the .debug_abbrev section, stopping at the code-0 terminator.
func parseAbbrevTable(debugAbbrev []byte, offset uint64) (abbrevTable, *kernel.Error) {
	r := NewReader(debugAbbrev)
	r.SeekTo(int(offset))

	table := make(abbrevTable)
	for {
		code, err := r.ULEB128()
		if err != nil {
			return nil, err
		}
		if code == 0 {
			break
		}

		tag, err := r.ULEB128()
		if err != nil {
			return nil, err
		}
		hasChildrenByte, err := r.U8()
		if err != nil {
			return nil, err
		}

		decl := &abbrevDecl{tag: tag, hasChildren: hasChildrenByte != 0}

		for {
			attr, err := r.ULEB128()
			if err != nil {
				return nil, err
			}
			form, err := r.ULEB128()
			if err != nil {
				return nil, err
			}

			var implicitConst int64
			if form == formImplicitConst {
				implicitConst, err = r.SLEB128()
				if err != nil {
					return nil, err
				}
			}

			if attr == 0 && form == 0 {
				break
			}
			decl.attrs = append(decl.attrs, attrSpec{attr: attr, form: form, implicitConst: implicitConst})
		}

		table[code] = decl
	}

	return table, nil
}
