package cpu

// PIT models channel 0 of the 8254 interval timer in rate generator mode.
type PIT struct {
	access  uint8
	mode    uint8
	reload  uint32
	count   uint32
	lowByte bool
	partial uint32
	armed   bool
	fire    func()
}

func newPIT(fire func()) *PIT {
	return &PIT{fire: fire}
}

// In implements PortDevice. The counter is not latched; reads return the
// low byte of the current count.
func (p *PIT) In(port uint16) uint8 {
	if port == 0x40 {
		return uint8(p.count)
	}
	return 0
}

// Out implements PortDevice.
func (p *PIT) Out(port uint16, v uint8) {
	switch port {
	case 0x43:
		if v>>6 != 0 {
			// Only channel 0 is wired.
			return
		}
		p.access = (v >> 4) & 3
		p.mode = (v >> 1) & 7
		p.lowByte = true
		p.armed = false
	case 0x40:
		switch {
		case p.access == 3 && p.lowByte:
			p.partial = uint32(v)
			p.lowByte = false
			return
		case p.access == 3:
			p.partial |= uint32(v) << 8
			p.lowByte = true
		case p.access == 1:
			p.partial = uint32(v)
		case p.access == 2:
			p.partial = uint32(v) << 8
		}
		p.reload = p.partial
		if p.reload == 0 {
			p.reload = 65536
		}
		p.count = p.reload
		p.armed = true
	}
}

// Divisor returns the programmed reload value.
func (p *PIT) Divisor() uint32 { return p.reload }

func (p *PIT) tick() {
	if !p.armed {
		return
	}
	p.count--
	if p.count == 0 {
		p.count = p.reload
		p.fire()
	}
}
