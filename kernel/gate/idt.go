package gate

import "encoding/binary"

// Kind selects how the CPU treats EFLAGS.IF when it enters a gate.
type Kind uint8

const (
	// InterruptGate clears IF on entry.
	InterruptGate = Kind(0xe)

	// TrapGate leaves IF untouched.
	TrapGate = Kind(0xf)
)

// NumVectors is the number of IDT entries.
const NumVectors = 256

// descriptorSize is the size of a 32-bit gate descriptor.
const descriptorSize = 8

// Descriptor is a 32-bit IDT gate.
type Descriptor struct {
	Offset   uint32
	Selector uint16
	Kind     Kind
	DPL      uint8
	Present  bool
}

// Encode returns the 8-byte hardware layout of the gate.
func (d Descriptor) Encode() uint64 {
	flags := uint64(d.Kind&0xf) | uint64(d.DPL&3)<<5
	if d.Present {
		flags |= 1 << 7
	}

	return uint64(d.Offset&0xffff0000)<<32 |
		flags<<40 |
		uint64(d.Selector)<<16 |
		uint64(d.Offset&0xffff)
}

func (d Descriptor) bytes() [descriptorSize]byte {
	var b [descriptorSize]byte
	binary.LittleEndian.PutUint64(b[:], d.Encode())
	return b
}
