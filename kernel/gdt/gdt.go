// Package gdt builds the global descriptor table and the task state segment
// that supplies the ring 0 stack on every ring 3 -> ring 0 transition.
package gdt

import (
	"encoding/binary"

	"ringos/kernel/cpu"
)

// Segment selectors. The RPL of user selectors is 3.
const (
	KernelCS    = uint16(0x08)
	KernelDS    = uint16(0x10)
	UserCS      = uint16(0x1b)
	UserDS      = uint16(0x23)
	TSSSelector = uint16(0x28)
)

// Access byte bits.
const (
	AccessPresent    = uint8(1 << 7)
	AccessDPL3       = uint8(3 << 5)
	AccessCodeData   = uint8(1 << 4)
	AccessExecutable = uint8(1 << 3)
	AccessRW         = uint8(1 << 1)

	// AccessTSS32 is the system type of an available 32-bit TSS.
	AccessTSS32 = uint8(0x9)
)

// Flag nibble bits.
const (
	FlagGranularity4K = uint8(1 << 3)
	FlagSize32        = uint8(1 << 2)
)

// numEntries covers null, kernel code/data, user code/data and the TSS.
const numEntries = 6

// Descriptor is a segment descriptor.
type Descriptor struct {
	Base   uint32
	Limit  uint32
	Access uint8
	Flags  uint8
}

// Encode returns the 8-byte hardware layout of the descriptor.
func (d Descriptor) Encode() uint64 {
	return uint64(d.Base&0xff000000)<<32 |
		uint64(d.Flags&0xf)<<52 |
		uint64(d.Limit&0xf0000)<<32 |
		uint64(d.Access)<<40 |
		uint64(d.Base&0xffffff)<<16 |
		uint64(d.Limit&0xffff)
}

// DPL returns the descriptor privilege level.
func (d Descriptor) DPL() uint8 { return (d.Access >> 5) & 3 }

func flatSegment(dpl uint8, code bool) Descriptor {
	access := AccessPresent | AccessCodeData | AccessRW | dpl<<5
	if code {
		access |= AccessExecutable
	}
	return Descriptor{Limit: 0xfffff, Access: access, Flags: FlagGranularity4K | FlagSize32}
}

// TSS holds the fields of the 32-bit task state segment the kernel uses.
type TSS struct {
	ESP0      uint32
	SS0       uint16
	IOMapBase uint16
}

// tssSize is the size of a 32-bit TSS without an I/O permission bitmap.
const tssSize = 104

// Encode returns the hardware layout of the TSS. Pointing IOMapBase past the
// end of the segment denies all port access from ring 3.
func (t TSS) Encode() [tssSize]byte {
	var out [tssSize]byte
	binary.LittleEndian.PutUint32(out[4:], t.ESP0)
	binary.LittleEndian.PutUint16(out[8:], t.SS0)
	binary.LittleEndian.PutUint16(out[102:], t.IOMapBase)
	return out
}

// Loader is the part of the CPU that installs descriptor tables.
type Loader interface {
	WritePhys(addr uint32, p []byte)
	LoadGDT(base uint32, limit uint16)
	LoadTR(sel uint16)
	SetSeg(s cpu.SegReg, sel uint16)
}

// Table is the GDT together with the TSS it references.
type Table struct {
	Entries [numEntries]Descriptor
	TSS     TSS

	gdtAddr, tssAddr uint32
}

// New returns the flat descriptor set with a TSS whose ring 0 stack is
// kernelStack. The TSS itself lives at physical address tssAddr.
func New(kernelStack, tssAddr uint32) *Table {
	t := &Table{
		TSS:     TSS{ESP0: kernelStack, SS0: KernelDS, IOMapBase: tssSize},
		tssAddr: tssAddr,
	}

	t.Entries[KernelCS>>3] = flatSegment(0, true)
	t.Entries[KernelDS>>3] = flatSegment(0, false)
	t.Entries[UserCS>>3] = flatSegment(3, true)
	t.Entries[UserDS>>3] = flatSegment(3, false)
	t.Entries[TSSSelector>>3] = Descriptor{
		Base:   tssAddr,
		Limit:  tssSize - 1,
		Access: AccessPresent | AccessTSS32,
	}
	return t
}

// Install writes the TSS and the GDT to physical memory at gdtAddr, loads
// GDTR and TR and reloads the data segment registers with the kernel data
// selector.
func (t *Table) Install(c Loader, gdtAddr uint32) {
	t.gdtAddr = gdtAddr

	tss := t.TSS.Encode()
	c.WritePhys(t.tssAddr, tss[:])

	var raw [numEntries * 8]byte
	for i, d := range t.Entries {
		binary.LittleEndian.PutUint64(raw[i*8:], d.Encode())
	}
	c.WritePhys(gdtAddr, raw[:])

	c.LoadGDT(gdtAddr, uint16(len(raw)-1))
	c.LoadTR(TSSSelector)
	for _, s := range []cpu.SegReg{cpu.DS, cpu.ES, cpu.FS, cpu.GS} {
		c.SetSeg(s, KernelDS)
	}
}
