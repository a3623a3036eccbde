package vmm

import (
	"ringos/kernel"
	"ringos/kernel/mm"
)

// AddressSpace is a page directory together with the stack growth watermark
// of the process that owns it.
type AddressSpace struct {
	mgr *Manager
	dir mm.Frame

	// watermark is the lowest present page index of the stack table.
	watermark int
}

// Dir returns the frame holding the page directory.
func (as *AddressSpace) Dir() mm.Frame { return as.dir }

// StackWatermark returns the lowest present stack page index.
func (as *AddressSpace) StackWatermark() int { return as.watermark }

// Activate loads the directory into CR3.
func (as *AddressSpace) Activate() {
	as.mgr.cpu.SwitchPDT(as.dir.Address())
}

// DirEntry returns directory slot index.
func (as *AddressSpace) DirEntry(index int) Entry {
	return as.mgr.entry(as.dir, index)
}

// identityFlags returns the access rights of identity-mapped page addr.
// The low guard region and the window holding legacy video memory, the
// kernel and the process images are kernel-only.
func identityFlags(addr uint32) Flags {
	if addr < mm.LowGuardEnd || (addr >= mm.KernelOnlyStart && addr < mm.KernelOnlyEnd) {
		return FlagRW
	}
	return FlagRW | FlagUser
}

func (as *AddressSpace) initIdentity() *kernel.Error {
	tbl, err := as.mgr.allocTable()
	if err != nil {
		return err
	}

	for i := 0; i < mm.EntriesPerTable; i++ {
		addr := uint32(i) << mm.PageShift
		as.mgr.setEntry(tbl, i, Entry{Kind: Page, Frame: mm.Frame(i), Flags: identityFlags(addr)})
	}
	as.mgr.setEntry(as.dir, mm.IdentityDirIndex, Entry{Kind: Table, Frame: tbl, Flags: FlagRW | FlagUser})
	return nil
}

func (as *AddressSpace) mapFramebuffer() {
	if as.mgr.fbSize == 0 {
		return
	}

	first := mm.PageFromAddress(as.mgr.fbAddr).DirIndex()
	last := mm.PageFromAddress(as.mgr.fbAddr + as.mgr.fbSize - 1).DirIndex()
	for index := first; index <= last; index++ {
		base := uint32(index) << mm.HugePageShift
		as.mgr.setEntry(as.dir, index, Entry{Kind: Huge, Frame: mm.FrameFromAddress(base), Flags: FlagRW | FlagUser})
	}
}

// InitCodePages maps mm.CodePages pages of the image at physical origin at
// mm.CodeBase. It does nothing if the code region is already mapped.
func (as *AddressSpace) InitCodePages(origin uint32) *kernel.Error {
	if as.DirEntry(mm.CodeDirIndex).Present() {
		return nil
	}

	tbl, err := as.mgr.allocTable()
	if err != nil {
		return err
	}

	first := mm.FrameFromAddress(origin)
	for i := 0; i < mm.CodePages; i++ {
		as.mgr.setEntry(tbl, i, Entry{Kind: Page, Frame: first + mm.Frame(i), Flags: FlagRW | FlagUser})
	}
	as.mgr.setEntry(as.dir, mm.CodeDirIndex, Entry{Kind: Table, Frame: tbl, Flags: FlagRW | FlagUser})
	return nil
}

// InitStackPages (re)builds the stack region so that only its topmost page
// is present. Pages left over from a previous run are returned to the pool.
func (as *AddressSpace) InitStackPages() *kernel.Error {
	tbl, err := as.resetRegion(mm.StackDirIndex)
	if err != nil {
		return err
	}

	top := mm.EntriesPerTable - 1
	frame, err := as.mgr.allocZeroedFrame()
	if err != nil {
		return err
	}
	as.mgr.setEntry(tbl, top, Entry{Kind: Page, Frame: frame, Flags: FlagRW | FlagUser})
	as.watermark = top
	return nil
}

// EnableStackPages grows the stack down so that it covers faultAddr. Every
// absent page between the page holding faultAddr and the watermark gets a
// fresh zeroed frame; pages that are already present are left alone.
func (as *AddressSpace) EnableStackPages(faultAddr uint32) *kernel.Error {
	if faultAddr < mm.StackBottom || faultAddr >= mm.StackTop {
		return ErrNotStackAddress
	}

	dirEntry := as.DirEntry(mm.StackDirIndex)
	if dirEntry.Kind != Table {
		return ErrNotStackAddress
	}

	target := mm.PageFromAddress(faultAddr).TableIndex()
	for index := target; index <= as.watermark; index++ {
		if as.mgr.entry(dirEntry.Frame, index).Present() {
			continue
		}

		frame, err := as.mgr.allocZeroedFrame()
		if err != nil {
			return err
		}
		as.mgr.setEntry(dirEntry.Frame, index, Entry{Kind: Page, Frame: frame, Flags: FlagRW | FlagUser})
	}

	if target < as.watermark {
		as.watermark = target
	}
	return nil
}

// InitArgsPages copies args into the argument region: the argv vector goes
// in the first page and argument i, NUL-terminated, in page i+1. It returns
// the argc and argv values the process receives on entry.
func (as *AddressSpace) InitArgsPages(args []string) (argc, argv uint32, err *kernel.Error) {
	if len(args) > mm.MaxArgs {
		return 0, 0, ErrTooManyArgs
	}
	for _, arg := range args {
		if len(arg) >= int(mm.PageSize) {
			return 0, 0, ErrArgTooLong
		}
	}

	tbl, err := as.resetRegion(mm.ArgsDirIndex)
	if err != nil {
		return 0, 0, err
	}

	vector := make([]byte, 0, len(args)*mm.PointerSize)
	for i, arg := range args {
		frame, err := as.mgr.allocZeroedFrame()
		if err != nil {
			return 0, 0, err
		}
		as.mgr.cpu.WritePhys(frame.Address(), []byte(arg))
		as.mgr.setEntry(tbl, i+1, Entry{Kind: Page, Frame: frame, Flags: FlagRW | FlagUser})

		ptr := mm.ArgsBase + uint32(i+1)*mm.PageSize
		vector = append(vector, byte(ptr), byte(ptr>>8), byte(ptr>>16), byte(ptr>>24))
	}

	frame, err := as.mgr.allocZeroedFrame()
	if err != nil {
		return 0, 0, err
	}
	as.mgr.cpu.WritePhys(frame.Address(), vector)
	as.mgr.setEntry(tbl, 0, Entry{Kind: Page, Frame: frame, Flags: FlagRW | FlagUser})

	return uint32(len(args)), mm.ArgsBase, nil
}

// DeleteProcessPages tears down the user regions. Stack, argument and code
// tables are returned to the pool together with the leaves the pool handed
// out; image frames mapped by the code table are not pool memory and are
// only unmapped. The directory and the identity table survive so the
// process can be respawned in place.
func (as *AddressSpace) DeleteProcessPages() *kernel.Error {
	for _, index := range []int{mm.StackDirIndex, mm.ArgsDirIndex, mm.CodeDirIndex} {
		if as.DirEntry(index).Kind != Table {
			continue
		}

		tbl, err := as.resetRegion(index)
		if err != nil {
			return err
		}
		as.mgr.setEntry(as.dir, index, Entry{})
		if err = as.mgr.freeTable(tbl); err != nil {
			return err
		}
	}

	as.watermark = mm.EntriesPerTable - 1
	return nil
}

// resetRegion returns the table for directory slot index after releasing
// all of its leaves. A missing table is allocated.
func (as *AddressSpace) resetRegion(index int) (mm.Frame, *kernel.Error) {
	dirEntry := as.DirEntry(index)
	if dirEntry.Kind != Table {
		tbl, err := as.mgr.allocTable()
		if err != nil {
			return mm.InvalidFrame, err
		}
		as.mgr.setEntry(as.dir, index, Entry{Kind: Table, Frame: tbl, Flags: FlagRW | FlagUser})
		return tbl, nil
	}

	for i := 0; i < mm.EntriesPerTable; i++ {
		leaf := as.mgr.entry(dirEntry.Frame, i)
		if !leaf.Present() {
			continue
		}
		as.mgr.setEntry(dirEntry.Frame, i, Entry{})
		if !as.mgr.pool.Contains(leaf.Frame) {
			continue
		}
		if err := as.mgr.pool.Free(leaf.Frame); err != nil {
			return mm.InvalidFrame, err
		}
	}
	return dirEntry.Frame, nil
}
