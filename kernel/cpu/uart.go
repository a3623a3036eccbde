package cpu

import "io"

// COM1Base is the I/O base of the first serial port.
const COM1Base = uint16(0x3f8)

const (
	uartLSRDataReady = uint8(1 << 0)
	uartLSRTHREmpty  = uint8(1 << 5)
	uartLSRIdle      = uint8(1 << 6)
	uartLCRDLAB      = uint8(1 << 7)
)

// UART models the transmit side of a 16550A. Bytes written to THR are
// forwarded to the host writer immediately, so the transmitter is always
// empty.
type UART struct {
	host io.Writer

	ier, lcr, mcr, scratch uint8
	divisor                uint16
}

func newUART(host io.Writer) *UART {
	return &UART{host: host}
}

// Divisor returns the programmed baud rate divisor.
func (u *UART) Divisor() uint16 { return u.divisor }

// In implements PortDevice.
func (u *UART) In(port uint16) uint8 {
	switch port - COM1Base {
	case 0:
		if u.lcr&uartLCRDLAB != 0 {
			return uint8(u.divisor)
		}
		return 0
	case 1:
		if u.lcr&uartLCRDLAB != 0 {
			return uint8(u.divisor >> 8)
		}
		return u.ier
	case 2:
		// no interrupt pending, FIFOs enabled
		return 0xc1
	case 3:
		return u.lcr
	case 4:
		return u.mcr
	case 5:
		return uartLSRTHREmpty | uartLSRIdle
	case 7:
		return u.scratch
	}
	return 0
}

// Out implements PortDevice.
func (u *UART) Out(port uint16, v uint8) {
	switch port - COM1Base {
	case 0:
		if u.lcr&uartLCRDLAB != 0 {
			u.divisor = u.divisor&0xff00 | uint16(v)
			return
		}
		if u.host != nil {
			u.host.Write([]byte{v})
		}
	case 1:
		if u.lcr&uartLCRDLAB != 0 {
			u.divisor = u.divisor&0x00ff | uint16(v)<<8
			return
		}
		u.ier = v
	case 3:
		u.lcr = v
	case 4:
		u.mcr = v
	case 7:
		u.scratch = v
	}
}
