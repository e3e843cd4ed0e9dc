// Package hal probes for the handful of devices this kernel drives
// directly (currently just the COM1 serial port) and exposes the active
// console as a single writer the rest of the kernel logs to.
package hal

import (
	"bytes"
	"sort"

	"github.com/maxdevos49/osdev/kernel/device"
	"github.com/maxdevos49/osdev/kernel/driver/serial"
	"github.com/maxdevos49/osdev/kernel/driver/tty"
	"github.com/maxdevos49/osdev/kernel/kfmt"
)

var (
	activeTTY *tty.Device
	strBuf    bytes.Buffer
)

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: func() device.Driver { return &serial.Device{} },
	})
}

// ActiveTTY returns the currently active TTY, or nil if no console driver
// has been detected yet.
func ActiveTTY() *tty.Device {
	return activeTTY
}

// DetectHardware probes every registered driver in detection order and
// wires up the first successfully initialized serial device as the active
// console.
func DetectHardware() {
	drivers := device.DriverList()
	sort.Sort(drivers)

	probe(drivers)
}

// probe runs each driver's probe/init pair, tagging every line either one
// logs through w with "[hal] name(major.minor.patch): " so driver output is
// traceable to its source even before a driver becomes the active console.
func probe(drivers device.DriverInfoList) {
	// The tagged lines are collected here and printed after the loop, once
	// a driver may have become the console; until one has, kfmt keeps them
	// in its early buffer.
	var pending bytes.Buffer
	var w = kfmt.PrefixWriter{Sink: &pending}
	defer func() { kfmt.Printf("%s", pending.String()) }()

	for _, info := range drivers {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
	}
}

func onDriverInit(drv device.Driver) {
	if activeTTY != nil {
		return
	}
	if sink, ok := drv.(*serial.Device); ok {
		activeTTY = tty.New(sink)
		activeTTY.SetState(tty.StateActive)
		kfmt.SetOutputSink(activeTTY)
	}
}
