package vmm

import (
	"ringos/kernel"
	"ringos/kernel/mm"
)

// Translate resolves a virtual address using the typed tables. It returns
// the physical address and the effective access rights of the mapping.
func (as *AddressSpace) Translate(virtAddr uint32) (uint32, Flags, bool) {
	page := mm.PageFromAddress(virtAddr)
	dirEntry := as.DirEntry(page.DirIndex())

	switch dirEntry.Kind {
	case Huge:
		return dirEntry.Frame.Address() | virtAddr&(mm.HugePageSize-1), dirEntry.Flags, true
	case Table:
		leaf := as.mgr.entry(dirEntry.Frame, page.TableIndex())
		if !leaf.Present() {
			return 0, 0, false
		}
		return leaf.Frame.Address() | virtAddr&(mm.PageSize-1), dirEntry.Flags & leaf.Flags, true
	}
	return 0, 0, false
}

// CopyFromUser copies len(dst) bytes starting at user address virtAddr. The
// whole range must be mapped with user access.
func (as *AddressSpace) CopyFromUser(dst []byte, virtAddr uint32) *kernel.Error {
	if uint64(virtAddr)+uint64(len(dst)) > 1<<32 {
		return ErrInvalidUserPointer
	}

	for len(dst) != 0 {
		phys, flags, ok := as.Translate(virtAddr)
		if !ok || flags&FlagUser == 0 {
			return ErrInvalidUserPointer
		}

		chunk := int(mm.PageSize - virtAddr&(mm.PageSize-1))
		if chunk > len(dst) {
			chunk = len(dst)
		}
		as.mgr.cpu.ReadPhys(phys, dst[:chunk])

		dst = dst[chunk:]
		virtAddr += uint32(chunk)
	}
	return nil
}

// VisitFn is invoked by Visit for each present entry. tableIndex is -1 for
// directory entries. Returning false stops the walk.
type VisitFn func(dirIndex, tableIndex int, e Entry) bool

// Visit walks all present directory entries and, for Table entries, their
// present leaves.
func (as *AddressSpace) Visit(fn VisitFn) {
	for dirIndex := 0; dirIndex < mm.EntriesPerTable; dirIndex++ {
		dirEntry := as.DirEntry(dirIndex)
		if !dirEntry.Present() {
			continue
		}
		if !fn(dirIndex, -1, dirEntry) {
			return
		}
		if dirEntry.Kind != Table {
			continue
		}

		for tableIndex := 0; tableIndex < mm.EntriesPerTable; tableIndex++ {
			leaf := as.mgr.entry(dirEntry.Frame, tableIndex)
			if leaf.Present() && !fn(dirIndex, tableIndex, leaf) {
				return
			}
		}
	}
}

// StackPages returns the number of present pages in the stack region.
func (as *AddressSpace) StackPages() int {
	var count int
	as.Visit(func(dirIndex, tableIndex int, _ Entry) bool {
		if dirIndex == mm.StackDirIndex && tableIndex >= 0 {
			count++
		}
		return true
	})
	return count
}
