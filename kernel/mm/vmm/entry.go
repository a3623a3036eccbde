package vmm

import "ringos/kernel/mm"

// Kind tags the variant stored in a paging Entry.
type Kind uint8

// The entry variants. Table and Huge only appear in directories; Page only
// appears in second-level tables.
const (
	Empty Kind = iota
	Table
	Huge
	Page
)

// Flags are the access rights of a present entry.
type Flags uint8

// Access rights.
const (
	FlagRW Flags = 1 << iota
	FlagUser
)

// Bits of the hardware encoding.
const (
	bitPresent = uint32(1 << 0)
	bitRW      = uint32(1 << 1)
	bitUser    = uint32(1 << 2)
	bitHuge    = uint32(1 << 7)

	hugeAddrMask = ^(mm.HugePageSize - 1)
)

// Entry is a typed directory or table entry. Frame is the backing table for
// Table entries, the first frame of the 4 MiB region for Huge entries and
// the mapped frame for Page entries.
type Entry struct {
	Kind  Kind
	Frame mm.Frame
	Flags Flags
}

// Present reports whether the entry maps anything.
func (e Entry) Present() bool { return e.Kind != Empty }

// Encode returns the 32-bit value the MMU expects for this entry.
func (e Entry) Encode() uint32 {
	var word uint32
	switch e.Kind {
	case Empty:
		return 0
	case Huge:
		word = e.Frame.Address()&hugeAddrMask | bitHuge
	default:
		word = e.Frame.Address()
	}

	word |= bitPresent
	if e.Flags&FlagRW != 0 {
		word |= bitRW
	}
	if e.Flags&FlagUser != 0 {
		word |= bitUser
	}
	return word
}

// DecodeEntry parses a hardware entry. dirLevel selects directory entry
// semantics (Table or Huge) over table entry semantics (Page).
func DecodeEntry(word uint32, dirLevel bool) Entry {
	if word&bitPresent == 0 {
		return Entry{}
	}

	e := Entry{Kind: Page, Frame: mm.FrameFromAddress(word)}
	if dirLevel {
		e.Kind = Table
		if word&bitHuge != 0 {
			e.Kind = Huge
			e.Frame = mm.FrameFromAddress(word & hugeAddrMask)
		}
	}
	if word&bitRW != 0 {
		e.Flags |= FlagRW
	}
	if word&bitUser != 0 {
		e.Flags |= FlagUser
	}
	return e
}
