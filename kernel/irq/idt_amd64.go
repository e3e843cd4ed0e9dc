package irq

// InterruptNumber identifies an IDT vector: 0-31 are CPU-reserved exceptions,
// 32+ are free for hardware/software use.
type InterruptNumber uint8

// The 23 CPU exception vectors this kernel installs a handler for. Vectors
// with no named constant (9, 15, 22-27) are reserved by Intel and never
// raised on amd64; they are still routed to the default handler so a
// misconfigured IDT entry cannot silently triple-fault.
const (
	DivideByZero               = InterruptNumber(0)
	Debug                      = InterruptNumber(1)
	NMI                        = InterruptNumber(2)
	Breakpoint                 = InterruptNumber(3)
	Overflow                   = InterruptNumber(4)
	BoundRangeExceeded         = InterruptNumber(5)
	InvalidOpcode              = InterruptNumber(6)
	DeviceNotAvailable         = InterruptNumber(7)
	DoubleFault                = InterruptNumber(8)
	InvalidTSS                 = InterruptNumber(10)
	SegmentNotPresent          = InterruptNumber(11)
	StackSegmentFault          = InterruptNumber(12)
	GPFException               = InterruptNumber(13)
	PageFaultException         = InterruptNumber(14)
	FloatingPointException     = InterruptNumber(16)
	AlignmentCheck             = InterruptNumber(17)
	MachineCheck               = InterruptNumber(18)
	SIMDFloatingPointException = InterruptNumber(19)
	VirtualizationException    = InterruptNumber(20)
	ControlProtectionException = InterruptNumber(21)
	HypervisorInjection        = InterruptNumber(28)
	VMMCommunicationException  = InterruptNumber(29)
	SecurityException         = InterruptNumber(30)

	// vectorCount is the number of entries populated in the IDT; vectors at
	// or above it are left non-present.
	vectorCount = 31
)

// String names the exception, falling back to a generic reserved label for
// vectors Intel has not assigned a mnemonic to.
func (n InterruptNumber) String() string {
	switch n {
	case DivideByZero:
		return "divide-by-zero"
	case Debug:
		return "debug"
	case NMI:
		return "non-maskable-interrupt"
	case Breakpoint:
		return "breakpoint"
	case Overflow:
		return "overflow"
	case BoundRangeExceeded:
		return "bound-range-exceeded"
	case InvalidOpcode:
		return "invalid-opcode"
	case DeviceNotAvailable:
		return "device-not-available"
	case DoubleFault:
		return "double-fault"
	case InvalidTSS:
		return "invalid-tss"
	case SegmentNotPresent:
		return "segment-not-present"
	case StackSegmentFault:
		return "stack-segment-fault"
	case GPFException:
		return "general-protection-fault"
	case PageFaultException:
		return "page-fault"
	case FloatingPointException:
		return "x87-floating-point-exception"
	case AlignmentCheck:
		return "alignment-check"
	case MachineCheck:
		return "machine-check"
	case SIMDFloatingPointException:
		return "simd-floating-point-exception"
	case VirtualizationException:
		return "virtualization-exception"
	case ControlProtectionException:
		return "control-protection-exception"
	case HypervisorInjection:
		return "hypervisor-injection-exception"
	case VMMCommunicationException:
		return "vmm-communication-exception"
	case SecurityException:
		return "security-exception"
	default:
		return "reserved-exception"
	}
}

// HasErrorCode reports whether the CPU pushes an error code for this vector,
// the set of exceptions whose Registers.ErrorCode() is meaningful.
func (n InterruptNumber) HasErrorCode() bool {
	switch n {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GPFException, PageFaultException, AlignmentCheck,
		ControlProtectionException, VMMCommunicationException, SecurityException:
		return true
	default:
		return false
	}
}

// Handler is invoked with the captured register frame when its vector fires.
// A handler returning normally resumes execution via IRETQ; the kernel has
// no recover, so a handler that panics does not return to the interrupted
// code.
type Handler func(*Registers)

var handlers [256]Handler

// Init installs the IDT with its first vectorCount gates marked present,
// pointing at the shared dispatch trampoline, and loads it into the CPU.
func Init() {
	installIDT()
}

// HandleInterrupt registers fn as the handler for the given vector. istOffset
// selects an interrupt-stack-table entry for vectors that must run on a
// known-good stack (NMI, double fault, stack-segment fault); 0 means use the
// current stack.
func HandleInterrupt(vector InterruptNumber, istOffset uint8, fn Handler) {
	handlers[vector] = fn
	installGate(vector, istOffset)
}

// dispatch is called by the assembly gate entrypoints with the frame they
// built on the stack. It is unexported because only the generated gate stubs
// call it; everything else goes through HandleInterrupt.
func dispatch(regs *Registers) {
	if h := handlers[regs.Vector()]; h != nil {
		h(regs)
		return
	}
	defaultHandler(regs)
}

// installIDT populates the IDT descriptor with vectorCount present gates,
// each pointing at its generated trampoline, and executes LIDT.
func installIDT()

// installGate marks the IDT entry for vector present, optionally routing it
// through the given IST stack slot.
func installGate(vector InterruptNumber, istOffset uint8)
