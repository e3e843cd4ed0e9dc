package dwarf

import "github.com/maxdevos49/osdev/kernel"

// formValue is the decoded value of a single DIE attribute. Only one of the
// fields is meaningful, selected by the form that produced it; callers know
// which field to read because they know which attribute they asked for.
type formValue struct {
	u64 uint64
	str string
}

// sectionSet bundles the sections a form decode may need to resolve an
// indirect reference (strp into .debug_str, line_strp into
// .debug_line_str).
type sectionSet struct {
	debugStr     []byte
	debugLineStr []byte
}

// decodeForm consumes the encoding for the given form from r and returns its
// decoded value. addrSize is the compile unit's address size (4 or 8),
// needed for DW_FORM_addr.
func decodeForm(r *Reader, form uint64, addrSize uint8, sec sectionSet) (formValue, *kernel.Error) {
	switch form {
	case formAddr:
		if addrSize == 8 {
			v, err := r.U64()
			return formValue{u64: v}, err
		}
		v, err := r.U32()
		return formValue{u64: uint64(v)}, err

	case formData1, formRef1, formFlag:
		v, err := r.U8()
		return formValue{u64: uint64(v)}, err

	case formData2, formRef2:
		v, err := r.U16()
		return formValue{u64: uint64(v)}, err

	case formData4, formRef4, formSecOffset, formRefSup4:
		v, err := r.U32()
		return formValue{u64: uint64(v)}, err

	case formData8, formRef8, formRefSig8, formRefSup8:
		v, err := r.U64()
		return formValue{u64: v}, err

	case formData16:
		b, err := r.Bytes(16)
		if err != nil {
			return formValue{}, err
		}
		return formValue{str: string(b)}, nil

	case formSdata:
		v, err := r.SLEB128()
		return formValue{u64: uint64(v)}, err

	case formUdata, formRefUdata, formStrx, formAddrx, formLoclistx, formRnglistx:
		v, err := r.ULEB128()
		return formValue{u64: v}, err

	case formString:
		s, err := r.CString()
		return formValue{str: s}, err

	case formStrp:
		off, err := r.U32()
		if err != nil {
			return formValue{}, err
		}
		s, err := StringAt(sec.debugStr, uint64(off))
		return formValue{str: s}, err

	case formLineStrp:
		off, err := r.U32()
		if err != nil {
			return formValue{}, err
		}
		s, err := StringAt(sec.debugLineStr, uint64(off))
		return formValue{str: s}, err

	case formFlagPresent:
		// The attribute's presence is the flag: nothing is consumed and the
		// value reads as true.
		return formValue{u64: 1}, nil

	case formImplicitConst:
		// The value lives in the abbreviation declaration, not the stream;
		// the caller substitutes it from attrSpec.implicitConst. Nothing to
		// consume here.
		return formValue{}, nil

	case formBlock1:
		n, err := r.U8()
		if err != nil {
			return formValue{}, err
		}
		b, err := r.Bytes(int(n))
		return formValue{str: string(b)}, err

	case formBlock2:
		n, err := r.U16()
		if err != nil {
			return formValue{}, err
		}
		b, err := r.Bytes(int(n))
		return formValue{str: string(b)}, err

	case formBlock4:
		n, err := r.U32()
		if err != nil {
			return formValue{}, err
		}
		b, err := r.Bytes(int(n))
		return formValue{str: string(b)}, err

	case formBlock, formExprloc:
		n, err := r.ULEB128()
		if err != nil {
			return formValue{}, err
		}
		b, err := r.Bytes(int(n))
		return formValue{str: string(b)}, err

	case formRefAddr, formStrpSup:
		v, err := r.U32()
		return formValue{u64: uint64(v)}, err

	default:
		return formValue{}, &kernel.Error{Module: "dwarf", Code: kernel.ErrUnsupported, Message: "unsupported DWARF form"}
	}
}

// die is a decoded debugging information entry: just the handful of
// attributes this symbolicator ever looks at.
type die struct {
	tag         uint64
	hasChildren bool
	name        string
	lowPC       uint64
	highPC      uint64
	highPCIsLen bool
	stmtList    uint64
	haveLowPC   bool
	haveHighPC  bool
	haveStmtList bool
}

// decodeDIE reads one DIE (abbreviation code + its attribute values) at the
// reader's current position.
func decodeDIE(r *Reader, table abbrevTable, addrSize uint8, sec sectionSet) (*die, *kernel.Error) {
	code, err := r.ULEB128()
	if err != nil {
		return nil, err
	}
	if code == 0 {
		// Null entry: end of a sibling chain.
		return nil, nil
	}

	decl, ok := table[code]
	if !ok {
		return nil, &kernel.Error{Module: "dwarf", Code: kernel.ErrDwarfInvalidUnit, Message: "unknown abbreviation code"}
	}

	d := &die{tag: decl.tag, hasChildren: decl.hasChildren}

	for _, spec := range decl.attrs {
		var v formValue
		if spec.form == formImplicitConst {
			v = formValue{u64: uint64(spec.implicitConst)}
		} else {
			v, err = decodeForm(r, spec.form, addrSize, sec)
			if err != nil {
				return nil, err
			}
		}

		switch spec.attr {
		case atName:
			d.name = v.str
		case atLowPC:
			d.lowPC = v.u64
			d.haveLowPC = true
		case atHighPC:
			d.highPC = v.u64
			d.haveHighPC = true
			d.highPCIsLen = spec.form != formAddr && spec.form != formAddrx
		case atStmtList:
			d.stmtList = v.u64
			d.haveStmtList = true
		}
	}

	return d, nil
}

// resolvedHighPC returns the DIE's high_pc as an absolute address, applying
// the DWARF4+ convention that a non-address-class high_pc is a length
// relative to low_pc rather than an address itself.
func (d *die) resolvedHighPC() uint64 {
	if d.highPCIsLen {
		return d.lowPC + d.highPC
	}
	return d.highPC
}
