// Package device defines the contract between the kernel and its device
// drivers.
package device

import (
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() *semver.Version

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// PortIO is implemented by the CPU to access the legacy I/O port space.
type PortIO interface {
	PortWriteByte(port uint16, v uint8)
	PortReadByte(port uint16) uint8
}

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

// The list of supported detection order constants.
const (
	// DetectOrderEarly drivers provide the output devices so the rest of
	// the probe log becomes visible.
	DetectOrderEarly DetectOrder = -128 + iota

	// DetectOrderInterruptController drivers must run before any driver
	// that unmasks an IRQ line.
	DetectOrderInterruptController

	// DetectOrderNormal is the default order for all other drivers.
	DetectOrderNormal DetectOrder = 0

	// DetectOrderLast drivers are probed after everything else.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is a driver-defined struct that is passed to the hal package
// when probing for hardware.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection step the probe
	// function should be invoked.
	Order DetectOrder

	// Probe is a function that probes for the presence of the device and
	// returns back a driver for it. If the device is not present, Probe
	// returns nil.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
