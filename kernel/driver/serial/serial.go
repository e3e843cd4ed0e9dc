// Package serial drives the COM1 UART, used as the kernel's early-boot
// console and panic sink before any richer console driver exists.
package serial

import (
	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/cpu"
)

// COM1 is the standard I/O port base for the first serial port on PC
// hardware.
const COM1 = 0x3f8

const (
	portData         = COM1
	portInterruptEn   = COM1 + 1
	portFIFOControl   = COM1 + 2
	portLineControl   = COM1 + 3
	portModemControl  = COM1 + 4
	portLineStatus    = COM1 + 5
)

const (
	lineStatusReceived = 0x01
	lineStatusTxEmpty  = 0x20
)

// Device is a polled driver for the COM1 UART, enough to act as a
// console for kernel logging before any framebuffer driver is available.
type Device struct {
	initialized bool
}

// DriverName implements device.Driver.
func (d *Device) DriverName() string { return "serial(com1)" }

// DriverVersion implements device.Driver.
func (d *Device) DriverVersion() (major, minor, patch uint16) { return 1, 0, 0 }

// DriverInit programs the UART for 38400 8N1 with FIFOs enabled, then
// verifies the port works by looping it back before switching to normal
// operation.
func (d *Device) DriverInit() *kernel.Error {
	cpu.Outb(portInterruptEn, 0x00)
	cpu.Outb(portLineControl, 0x80) // enable DLAB to set the baud divisor
	cpu.Outb(portData, 0x03)        // divisor low byte: 38400 baud
	cpu.Outb(portInterruptEn, 0x00) // divisor high byte
	cpu.Outb(portLineControl, 0x03) // 8 bits, no parity, one stop bit
	cpu.Outb(portFIFOControl, 0xc7) // enable FIFO, clear, 14-byte threshold
	cpu.Outb(portModemControl, 0x0b)

	cpu.Outb(portModemControl, 0x1e) // loopback mode to self-test
	cpu.Outb(portData, 0xae)
	if cpu.Inb(portData) != 0xae {
		return &kernel.Error{Module: "serial", Code: kernel.ErrUnsupported, Message: "COM1 loopback self-test failed"}
	}

	cpu.Outb(portModemControl, 0x0f) // back to normal operation
	d.initialized = true
	return nil
}

func (d *Device) transmitReady() bool {
	return cpu.Inb(portLineStatus)&lineStatusTxEmpty != 0
}

func (d *Device) receiveReady() bool {
	return cpu.Inb(portLineStatus)&lineStatusReceived != 0
}

// WriteByte blocks until the transmit holding register is empty, then
// writes one byte. Implements io.ByteWriter.
func (d *Device) WriteByte(b byte) error {
	for !d.transmitReady() {
	}
	cpu.Outb(portData, b)
	return nil
}

// Write implements io.Writer in terms of WriteByte.
func (d *Device) Write(p []byte) (int, error) {
	for _, b := range p {
		_ = d.WriteByte(b)
	}
	return len(p), nil
}

// ReadByte blocks until a byte is available and returns it. Implements
// io.ByteReader.
func (d *Device) ReadByte() (byte, error) {
	for !d.receiveReady() {
	}
	return cpu.Inb(portData), nil
}
