// Package device defines the driver interface and registry that the HAL
// probes during boot.
package device

import "github.com/maxdevos49/osdev/kernel"

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major, minor, patch uint16)

	// DriverInit initializes the device driver.
	DriverInit() *kernel.Error
}

// DetectOrder controls the relative order in which the HAL probes
// registered drivers; lower values probe first.
type DetectOrder uint8

const (
	DetectOrderEarly DetectOrder = iota
	DetectOrderNormal
	DetectOrderLast
)

// ProbeFn attempts to detect a piece of hardware, returning the driver
// instance to use if found or nil otherwise.
type ProbeFn func() Driver

// DriverInfo associates a probe function with its detection order.
type DriverInfo struct {
	Order DetectOrder
	Probe ProbeFn
}

// DriverInfoList implements sort.Interface, ordering by DetectOrder.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver adds info to the set of drivers the HAL will probe.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns all registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
