package cpu

// pic8259 is one 8259A programmable interrupt controller.
type pic8259 struct {
	offset   uint8
	imr      uint8
	irr      uint8
	isr      uint8
	initStep int
	wantICW4 bool
	readISR  bool
}

func (p *pic8259) command(v uint8) {
	switch {
	case v&0x10 != 0: // ICW1
		p.initStep = 1
		p.wantICW4 = v&0x01 != 0
		p.imr, p.irr, p.isr = 0, 0, 0
		p.readISR = false
	case v&0x08 != 0: // OCW3
		if v&0x02 != 0 {
			p.readISR = v&0x01 != 0
		}
	case v&0xe0 == 0x20: // non-specific EOI
		for line := uint8(0); line < 8; line++ {
			if p.isr&(1<<line) != 0 {
				p.isr &^= 1 << line
				return
			}
		}
	case v&0xe0 == 0x60: // specific EOI
		p.isr &^= 1 << (v & 7)
	}
}

func (p *pic8259) data(v uint8) {
	switch p.initStep {
	case 1:
		p.offset = v &^ 7
		p.initStep = 2
	case 2:
		p.initStep = 3
		if !p.wantICW4 {
			p.initStep = 0
		}
	case 3:
		p.initStep = 0
	default:
		p.imr = v
	}
}

// pending returns the highest priority line that may be acknowledged.
func (p *pic8259) pending(cascade bool) (uint8, bool) {
	req := p.irr &^ p.imr
	for line := uint8(0); line < 8; line++ {
		if p.isr&(1<<line) != 0 {
			return 0, false
		}
		if req&(1<<line) != 0 || (cascade && line == 2) {
			return line, true
		}
	}
	return 0, false
}

// PIC is the cascaded master/slave 8259 pair. The slave is wired to line 2
// of the master.
type PIC struct {
	master, slave pic8259
}

func newPIC() *PIC {
	p := &PIC{}
	p.master.offset, p.slave.offset = 0x08, 0x70
	return p
}

// Raise signals an edge on IRQ line (0-15).
func (p *PIC) Raise(line int) {
	if line < 8 {
		p.master.irr |= 1 << uint(line)
		return
	}
	p.slave.irr |= 1 << uint(line-8)
}

// Acknowledge runs an INTA cycle and returns the vector to deliver.
func (p *PIC) Acknowledge() (uint8, bool) {
	_, slaveReady := p.slave.pending(false)
	cascadeReady := slaveReady && p.master.imr&(1<<2) == 0

	line, ok := p.master.pending(cascadeReady)
	if !ok {
		return 0, false
	}

	p.master.isr |= 1 << line
	if line == 2 && cascadeReady {
		slaveLine, _ := p.slave.pending(false)
		p.slave.irr &^= 1 << slaveLine
		p.slave.isr |= 1 << slaveLine
		return p.slave.offset + slaveLine, true
	}

	p.master.irr &^= 1 << line
	return p.master.offset + line, true
}

// In implements PortDevice.
func (p *PIC) In(port uint16) uint8 {
	chip := p.chip(port)
	if port&1 != 0 {
		return chip.imr
	}
	if chip.readISR {
		return chip.isr
	}
	return chip.irr
}

// Out implements PortDevice.
func (p *PIC) Out(port uint16, v uint8) {
	chip := p.chip(port)
	if port&1 != 0 {
		chip.data(v)
		return
	}
	chip.command(v)
}

func (p *PIC) chip(port uint16) *pic8259 {
	if port >= 0xa0 {
		return &p.slave
	}
	return &p.master
}
