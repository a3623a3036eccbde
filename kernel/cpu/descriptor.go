package cpu

import "fmt"

// Segment access byte bits.
const (
	accessPresent    = uint8(1 << 7)
	accessCodeData   = uint8(1 << 4)
	accessExecutable = uint8(1 << 3)
	accessRW         = uint8(1 << 1)
)

// Gate types.
const (
	gateInterrupt32 = uint8(0xe)
	gateTrap32      = uint8(0xf)
)

type gateDescriptor struct {
	offset    uint32
	selector  uint16
	dpl       uint8
	present   bool
	interrupt bool
}

// gate decodes an IDT entry from memory.
func (m *Machine) gate(vector uint8) (gateDescriptor, bool) {
	if uint32(vector)*8+7 > uint32(m.idtr.limit) {
		return gateDescriptor{}, false
	}

	addr := m.idtr.base + uint32(vector)*8
	lo, hi := m.mem.read32(addr), m.mem.read32(addr+4)
	flags := uint8(hi >> 8)

	kind := flags & 0xf
	if kind != gateInterrupt32 && kind != gateTrap32 {
		return gateDescriptor{}, false
	}

	return gateDescriptor{
		offset:    lo&0xffff | hi&0xffff0000,
		selector:  uint16(lo >> 16),
		dpl:       (flags >> 5) & 3,
		present:   flags&0x80 != 0,
		interrupt: kind == gateInterrupt32,
	}, true
}

// segment returns the access byte and base of the GDT descriptor referenced
// by sel.
func (m *Machine) segment(sel uint16) (access uint8, base uint32, ok bool) {
	index := uint32(sel >> 3)
	if index == 0 || index*8+7 > uint32(m.gdtr.limit) {
		return 0, 0, false
	}

	addr := m.gdtr.base + index*8
	lo, hi := m.mem.read32(addr), m.mem.read32(addr+4)
	access = uint8(hi >> 8)
	base = lo>>16 | (hi&0xff)<<16 | hi&0xff000000
	return access, base, true
}

// userSegment reports whether sel may be loaded into CS (code) or SS by an
// IRET that returns to ring 3.
func (m *Machine) userSegment(sel uint16, code bool) bool {
	if sel&3 != 3 {
		return false
	}

	access, _, ok := m.segment(sel)
	switch {
	case !ok, access&accessPresent == 0, access&accessCodeData == 0:
		return false
	case (access>>5)&3 != 3:
		return false
	case code:
		return access&accessExecutable != 0
	default:
		return access&accessExecutable == 0 && access&accessRW != 0
	}
}

// tssStack reads the ring 0 stack from the loaded TSS.
func (m *Machine) tssStack() (esp0 uint32, ss0 uint16) {
	access, base, ok := m.segment(m.tr)
	if m.tr == 0 || !ok || access&accessPresent == 0 || access&accessCodeData != 0 {
		m.machineCheck(fmt.Errorf("cpu: privilege transition with invalid task register %#x", m.tr))
	}
	return m.mem.read32(base + 4), uint16(m.mem.read32(base + 8))
}
