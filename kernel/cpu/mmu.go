package cpu

// Page-fault error code bits.
const (
	PFProtection = uint32(1 << 0)
	PFWrite      = uint32(1 << 1)
	PFUser       = uint32(1 << 2)
	PFFetch      = uint32(1 << 4)
)

const (
	pteP  = uint32(1 << 0)
	pteRW = uint32(1 << 1)
	pteUS = uint32(1 << 2)
	ptePS = uint32(1 << 7)
)

type accessKind uint8

const (
	accessRead accessKind = iota
	accessWrite
	accessFetch
)

// translate walks the active paging structures for a linear address. On
// failure it returns the page-fault error code the access would raise.
func (m *Machine) translate(linear uint32, kind accessKind, user bool) (uint32, uint32, bool) {
	if !m.PagingEnabled() {
		return linear, 0, true
	}

	var errCode uint32
	switch kind {
	case accessWrite:
		errCode |= PFWrite
	case accessFetch:
		errCode |= PFFetch
	}
	if user {
		errCode |= PFUser
	}

	pde := m.mem.read32(m.cr3 + (linear>>22)*4)
	if pde&pteP == 0 {
		return 0, errCode, false
	}

	var (
		phys  uint32
		flags = pde
	)
	if pde&ptePS != 0 && m.cr4&CR4PageSizeExt != 0 {
		phys = pde&0xffc00000 | linear&0x3fffff
	} else {
		pte := m.mem.read32(pde&^0xfff + ((linear>>12)&0x3ff)*4)
		if pte&pteP == 0 {
			return 0, errCode, false
		}
		// Effective rights are the intersection of both levels.
		flags = pde & pte
		phys = pte&^0xfff | linear&0xfff
	}

	if user && flags&pteUS == 0 {
		return 0, errCode | PFProtection, false
	}
	if user && kind == accessWrite && flags&pteRW == 0 {
		return 0, errCode | PFProtection, false
	}
	return phys, 0, true
}

// Translate resolves a linear address with supervisor rights using the
// active page directory. It reports false if the address is not mapped.
func (m *Machine) Translate(linear uint32) (uint32, bool) {
	phys, _, ok := m.translate(linear, accessRead, false)
	return phys, ok
}

// load32 and store32 perform a data access at the current privilege level.
// A failing access raises #PF.
func (m *Machine) load32(linear uint32) uint32 {
	var buf [4]byte
	for i := range buf {
		buf[i] = m.load8(linear + uint32(i))
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func (m *Machine) store32(linear, v uint32) {
	// Probe every byte first so a straddling store is all-or-nothing.
	for i := uint32(0); i < 4; i++ {
		m.physFor(linear+i, accessWrite)
	}
	for i := uint32(0); i < 4; i++ {
		m.store8(linear+i, uint8(v>>(8*i)))
	}
}

func (m *Machine) load8(linear uint32) uint8 {
	return m.mem.read8(m.physFor(linear, accessRead))
}

func (m *Machine) store8(linear uint32, v uint8) {
	m.mem.write8(m.physFor(linear, accessWrite), v)
}

func (m *Machine) physFor(linear uint32, kind accessKind) uint32 {
	phys, errCode, ok := m.translate(linear, kind, m.CPL() == 3)
	if !ok {
		m.pageFault(linear, errCode)
	}
	return phys
}
