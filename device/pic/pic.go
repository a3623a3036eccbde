// Package pic drives the cascaded pair of 8259A interrupt controllers.
package pic

import (
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/device"
	"ringos/kernel"
	"ringos/kernel/kfmt"
)

const (
	masterCommand = uint16(0x20)
	masterData    = uint16(0x21)
	slaveCommand  = uint16(0xa0)
	slaveData     = uint16(0xa1)
	ioWait        = uint16(0x80)

	icw1Init = uint8(0x10)
	icw1ICW4 = uint8(0x01)
	icw4x86  = uint8(0x01)

	cmdEOI = uint8(0x20)

	// cascadeLine is the master input the slave is wired to.
	cascadeLine = 2
)

var version = semver.MustParse("1.0.0")

// ChainedPICs is the master/slave controller pair.
type ChainedPICs struct {
	port         device.PortIO
	masterOffset uint8
	slaveOffset  uint8
}

// New returns a driver that remaps IRQ 0-7 to masterOffset and IRQ 8-15 to
// slaveOffset.
func New(port device.PortIO, masterOffset, slaveOffset uint8) *ChainedPICs {
	return &ChainedPICs{port: port, masterOffset: masterOffset, slaveOffset: slaveOffset}
}

// Vector returns the interrupt vector raised for irq.
func (p *ChainedPICs) Vector(irq uint8) uint8 {
	if irq < 8 {
		return p.masterOffset + irq
	}
	return p.slaveOffset + irq - 8
}

func (p *ChainedPICs) write(port uint16, v uint8) {
	p.port.PortWriteByte(port, v)
	p.port.PortWriteByte(ioWait, 0)
}

// EnableIRQ unmasks irq. Lines behind the slave also unmask the cascade.
func (p *ChainedPICs) EnableIRQ(irq uint8) {
	port := masterData
	if irq >= 8 {
		p.EnableIRQ(cascadeLine)
		port, irq = slaveData, irq-8
	}
	p.write(port, p.port.PortReadByte(port)&^(1<<irq))
}

// DisableIRQ masks irq.
func (p *ChainedPICs) DisableIRQ(irq uint8) {
	port := masterData
	if irq >= 8 {
		port, irq = slaveData, irq-8
	}
	p.write(port, p.port.PortReadByte(port)|1<<irq)
}

// SendEOI acknowledges irq so that lower priority lines can fire again.
func (p *ChainedPICs) SendEOI(irq uint8) {
	if irq >= 8 {
		p.write(slaveCommand, cmdEOI)
	}
	p.write(masterCommand, cmdEOI)
}

// DriverName returns the name of this driver.
func (p *ChainedPICs) DriverName() string {
	return "pic8259"
}

// DriverVersion returns the version of this driver.
func (p *ChainedPICs) DriverVersion() *semver.Version {
	return version
}

// DriverInit runs the ICW1-ICW4 initialization sequence and masks every line.
func (p *ChainedPICs) DriverInit(w io.Writer) *kernel.Error {
	p.write(masterCommand, icw1Init|icw1ICW4)
	p.write(slaveCommand, icw1Init|icw1ICW4)

	p.write(masterData, p.masterOffset)
	p.write(slaveData, p.slaveOffset)

	p.write(masterData, 1<<cascadeLine)
	p.write(slaveData, cascadeLine)

	p.write(masterData, icw4x86)
	p.write(slaveData, icw4x86)

	p.write(masterData, 0xff)
	p.write(slaveData, 0xff)

	kfmt.Fprintf(w, "remapped IRQ0-7 to %#x and IRQ8-15 to %#x\n", p.masterOffset, p.slaveOffset)
	return nil
}
