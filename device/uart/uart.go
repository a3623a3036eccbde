// Package uart drives a 16550 serial port as a write-only log sink.
package uart

import (
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/device"
	"ringos/kernel"
	"ringos/kernel/kfmt"
)

const (
	regData       = 0
	regIER        = 1
	regFIFO       = 2
	regLineCtrl   = 3
	regModemCtrl  = 4
	regLineStatus = 5
	regScratch    = 7

	lineDLAB = uint8(0x80)
	line8N1  = uint8(0x03)

	statusTHREmpty = uint8(0x20)

	// sendPolls bounds the wait for an empty transmitter.
	sendPolls = 1 << 16

	scratchPattern = uint8(0xae)
)

var (
	version = semver.MustParse("0.2.0")

	errTimeout = &kernel.Error{Module: "uart", Message: "transmitter timeout"}
)

// Port is a serial port at a fixed I/O base.
type Port struct {
	io   device.PortIO
	base uint16
}

// New returns a driver for the serial port at base.
func New(port device.PortIO, base uint16) *Port {
	return &Port{io: port, base: base}
}

// Probe returns a driver for the serial port at base or nil if no UART
// answers there. A present UART echoes the scratch register.
func Probe(port device.PortIO, base uint16) *Port {
	port.PortWriteByte(base+regScratch, scratchPattern)
	if port.PortReadByte(base+regScratch) != scratchPattern {
		return nil
	}
	return New(port, base)
}

// Write implements io.Writer by transmitting p byte by byte.
func (p *Port) Write(data []byte) (int, error) {
	for n, b := range data {
		if err := p.send(b); err != nil {
			return n, err
		}
	}
	return len(data), nil
}

func (p *Port) send(b byte) *kernel.Error {
	for i := 0; i < sendPolls; i++ {
		if p.io.PortReadByte(p.base+regLineStatus)&statusTHREmpty != 0 {
			p.io.PortWriteByte(p.base+regData, b)
			return nil
		}
	}
	return errTimeout
}

// DriverName returns the name of this driver.
func (p *Port) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (p *Port) DriverVersion() *semver.Version {
	return version
}

// DriverInit programs 115200 baud 8N1 with FIFOs enabled and interrupts off.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	p.io.PortWriteByte(p.base+regIER, 0)
	p.io.PortWriteByte(p.base+regLineCtrl, lineDLAB)
	p.io.PortWriteByte(p.base+regData, 1)
	p.io.PortWriteByte(p.base+regIER, 0)
	p.io.PortWriteByte(p.base+regLineCtrl, line8N1)
	p.io.PortWriteByte(p.base+regFIFO, 0xc7)
	p.io.PortWriteByte(p.base+regModemCtrl, 0x03)

	kfmt.Fprintf(w, "port %#x, 115200 8N1\n", p.base)
	return nil
}
