package cpu

// PortDevice is a chipset device decoded on the I/O port bus.
type PortDevice interface {
	In(port uint16) uint8
	Out(port uint16, v uint8)
}

func (m *Machine) attach(dev PortDevice, ports ...uint16) {
	for _, port := range ports {
		m.bus[port] = dev
	}
}

// PortWriteByte writes a byte to an I/O port (OUT).
func (m *Machine) PortWriteByte(port uint16, v uint8) {
	if dev, ok := m.bus[port]; ok {
		dev.Out(port, v)
	}
}

// PortReadByte reads a byte from an I/O port (IN). Undecoded ports float
// high.
func (m *Machine) PortReadByte(port uint16) uint8 {
	if dev, ok := m.bus[port]; ok {
		return dev.In(port)
	}
	return 0xff
}

// ioDelay is the POST diagnostic port. Writes to it only burn a bus cycle.
type ioDelay struct{}

func (ioDelay) In(uint16) uint8   { return 0xff }
func (ioDelay) Out(uint16, uint8) {}
