// Package pit drives channel 0 of the 8253/8254 programmable interval timer.
package pit

import (
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/device"
	"ringos/kernel"
	"ringos/kernel/kfmt"
)

const (
	channel0 = uint16(0x40)
	control  = uint16(0x43)

	// rate generator, lobyte/hibyte access, binary counting
	controlWord = uint8(0<<6 | 3<<4 | 2<<1)

	// BaseFrequency is the input clock of the timer in Hz.
	BaseFrequency = uint32(1193182)

	// MinDivisor and MaxDivisor bound the reload value.
	MinDivisor = uint32(2)
	MaxDivisor = uint32(65536)
)

var (
	version = semver.MustParse("1.0.0")

	errBadFrequency = &kernel.Error{Module: "pit", Message: "frequency out of range"}
)

// Timer is the periodic timer driver.
type Timer struct {
	port    device.PortIO
	freq    uint32
	divisor uint32
}

// New returns a driver that programs the timer to fire at freq Hz.
func New(port device.PortIO, freq uint32) *Timer {
	return &Timer{port: port, freq: freq}
}

// Divisor returns the reload value for freq. It fails unless the quotient
// lies in [MinDivisor, MaxDivisor].
func Divisor(freq uint32) (uint32, *kernel.Error) {
	if freq == 0 {
		return 0, errBadFrequency
	}

	divisor := BaseFrequency / freq
	if divisor < MinDivisor || divisor > MaxDivisor {
		return 0, errBadFrequency
	}
	return divisor, nil
}

// Frequency returns the configured frequency in Hz.
func (t *Timer) Frequency() uint32 {
	return t.freq
}

// DriverName returns the name of this driver.
func (t *Timer) DriverName() string {
	return "pit8254"
}

// DriverVersion returns the version of this driver.
func (t *Timer) DriverVersion() *semver.Version {
	return version
}

// DriverInit programs channel 0.
func (t *Timer) DriverInit(w io.Writer) *kernel.Error {
	divisor, err := Divisor(t.freq)
	if err != nil {
		return err
	}
	t.divisor = divisor

	// A reload value of 0 selects 65536.
	reload := uint16(divisor % MaxDivisor)
	t.port.PortWriteByte(control, controlWord)
	t.port.PortWriteByte(channel0, uint8(reload))
	t.port.PortWriteByte(channel0, uint8(reload>>8))

	kfmt.Fprintf(w, "%d Hz (divisor %d)\n", t.freq, divisor)
	return nil
}
