// Package kernel contains types shared by every kernel subsystem: the error
// taxonomy, and a handful of memory primitives that are needed before the Go
// allocator is available.
package kernel

// ErrCode is a single discriminant describing the reason a kernel operation
// failed. Operations never return composite or wrapped errors; a caller that
// needs to react to a specific failure switches on Code.
type ErrCode uint8

// The error taxonomy named in the specification. ErrNone is the zero value
// and is never carried by a non-nil *Error.
const (
	ErrNone ErrCode = iota

	// Bounds/format.
	ErrOutOfBounds
	ErrInvalidAddress
	ErrAddressAlignment
	ErrUnexpectedNull

	// Capability.
	ErrUnsupported
	ErrNotImplemented
	ErrDependencyNotLoaded
	ErrNotFound

	// Resource.
	ErrInsufficientSpace
	ErrAlreadyUsed
	ErrAlreadyFree

	// DWARF-specific.
	ErrDwarfUnsupportedVersion
	ErrDwarfUnsupportedHeader
	ErrDwarfInvalidHeader
	ErrDwarfInvalidUnit
)

// String returns a short human readable name for the error code.
func (c ErrCode) String() string {
	switch c {
	case ErrNone:
		return "none"
	case ErrOutOfBounds:
		return "out of bounds"
	case ErrInvalidAddress:
		return "invalid address"
	case ErrAddressAlignment:
		return "address alignment"
	case ErrUnexpectedNull:
		return "unexpected null pointer"
	case ErrUnsupported:
		return "unsupported"
	case ErrNotImplemented:
		return "not implemented"
	case ErrDependencyNotLoaded:
		return "dependency not loaded"
	case ErrNotFound:
		return "not found"
	case ErrInsufficientSpace:
		return "insufficient space"
	case ErrAlreadyUsed:
		return "already used"
	case ErrAlreadyFree:
		return "already free"
	case ErrDwarfUnsupportedVersion:
		return "unsupported dwarf version"
	case ErrDwarfUnsupportedHeader:
		return "unsupported dwarf header"
	case ErrDwarfInvalidHeader:
		return "invalid dwarf header"
	case ErrDwarfInvalidUnit:
		return "invalid dwarf unit"
	default:
		return "unknown"
	}
}

// Error describes a kernel error. A few are package-level variables holding a
// pointer to this structure (vmm.ErrAlreadyMapped, vmm.ErrInvalidMapping);
// most are built as &Error{...} at the point of failure. errors.New is not
// used because the Go allocator is not guaranteed to be available yet on the
// early boot path; a package-level variable needs no allocation, while an
// &Error{...} that escapes does.
type Error struct {
	// Module is the package or subsystem where the error originated.
	Module string

	// Code is the single failure discriminant; never a composite value.
	Code ErrCode

	// Message is a human readable description, primarily for panic output.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
