// Package tty adapts a raw byte-oriented device (the serial UART) into the
// console sink kfmt and the panic/trace reporters write to.
package tty

import "io"

// State tracks whether a TTY is actively echoing writes to its backing
// device.
type State uint8

const (
	// StateInactive discards writes instead of forwarding them.
	StateInactive State = iota

	// StateActive forwards every write to the backing device.
	StateActive
)

// Device is a minimal terminal: a byte sink that can be toggled active or
// inactive, backed by some lower-level writer (typically the serial port).
type Device struct {
	sink  io.Writer
	state State
}

// New returns a Device writing to sink, initially inactive until SetState
// is called by the HAL once the backing device has been probed.
func New(sink io.Writer) *Device {
	return &Device{sink: sink}
}

// State returns the TTY's current state.
func (d *Device) State() State { return d.state }

// SetState updates the TTY's state.
func (d *Device) SetState(s State) { d.state = s }

// Write forwards p to the backing sink when active; writes are silently
// discarded while inactive, mirroring how early boot output is dropped
// until a console is actually wired up.
func (d *Device) Write(p []byte) (int, error) {
	if d.state != StateActive {
		return len(p), nil
	}
	return d.sink.Write(p)
}

// WriteByte implements io.ByteWriter.
func (d *Device) WriteByte(b byte) error {
	_, err := d.Write([]byte{b})
	return err
}
