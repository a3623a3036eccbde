// Package mm defines the page/frame vocabulary and the fixed memory layout
// shared by the physical allocator, the page-table builder and the process
// layer.
package mm

import "math"

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = uint32(1 << PageShift)

	// HugePageShift is equal to log2(HugePageSize).
	HugePageShift = 22

	// HugePageSize is the size of the region mapped by a single page
	// directory entry (either through a table or a 4 MiB page).
	HugePageSize = uint32(1 << HugePageShift)

	// EntriesPerTable is the number of entries in a page directory or a
	// page table.
	EntriesPerTable = 1024

	// PointerSize is the size of a machine word in bytes.
	PointerSize = 4
)

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uint32 {
	return uint32(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uint32) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uint32 {
	return uint32(p) << PageShift
}

// DirIndex returns the page directory slot covering this page.
func (p Page) DirIndex() int {
	return int(uint32(p) >> (HugePageShift - PageShift))
}

// TableIndex returns the page table slot for this page.
func (p Page) TableIndex() int {
	return int(uint32(p) & (EntriesPerTable - 1))
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uint32) Page {
	return Page(virtAddr >> PageShift)
}

// PageAligned returns true if addr is a multiple of PageSize.
func PageAligned(addr uint32) bool {
	return addr&(PageSize-1) == 0
}

// HugePageAligned returns true if addr is a multiple of HugePageSize.
func HugePageAligned(addr uint32) bool {
	return addr&(HugePageSize-1) == 0
}
