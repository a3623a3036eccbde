package proc

import (
	"ringos/kernel/gate"
	"ringos/kernel/kfmt"
	"ringos/kernel/mm"
)

// Page fault error code bits.
const (
	pfPresent = uint32(1 << 0)
	pfUser    = uint32(1 << 2)
)

// FaultClass is the band a user-mode page fault address falls into.
type FaultClass uint8

// The fault classes.
const (
	// FaultNullPointer covers accesses near address 0.
	FaultNullPointer FaultClass = iota

	// FaultStackOverflow covers the unmapped gap below the stack region.
	FaultStackOverflow

	// FaultStackGuard covers the stack region itself; missing pages there
	// are mapped on demand.
	FaultStackGuard

	// FaultUndefined covers everything else.
	FaultUndefined
)

var faultTags = [...]string{"NPE", "SOE", "GUARD", "UB"}

// Tag returns the diagnostic printed for the class.
func (c FaultClass) Tag() string { return faultTags[c] }

// ClassifyFault maps a faulting linear address to its band.
func ClassifyFault(addr uint32) FaultClass {
	switch {
	case addr < mm.NullRegionEnd:
		return FaultNullPointer
	case addr < mm.OverflowRegionEnd:
		return FaultStackOverflow
	case addr < mm.GuardRegionEnd:
		return FaultStackGuard
	}
	return FaultUndefined
}

// handlePageFault grows the stack of the current process when it touches a
// missing page of its stack region and applies the fault policy otherwise.
// Faults raised by the kernel are fatal.
func (t *Table) handlePageFault(regs *gate.Registers) {
	p := t.current
	if regs.ErrorCode&pfUser == 0 || p == nil {
		t.gates.Unhandled(regs)
		return
	}

	class := ClassifyFault(regs.CR2)
	if class == FaultStackGuard {
		// A protection fault on a present stack page cannot be fixed
		// by mapping more memory.
		if regs.ErrorCode&pfPresent != 0 {
			class = FaultUndefined
		} else {
			t.growStack(p, regs.CR2)
			return
		}
	}

	p.printf("%s\n", class.Tag())
	t.terminate(p)
}

// growStack maps the stack pages of p down to addr and resumes the
// faulting instruction.
func (t *Table) growStack(p *Process, addr uint32) {
	t.paging.DisablePaging()
	err := p.space.EnableStackPages(addr)
	t.paging.EnablePaging()

	if err != nil {
		kfmt.Panic(err)
	}
}

// handleUserFault returns a handler for exceptions that terminate the
// current process when raised in ring 3 and halt the kernel otherwise.
func (t *Table) handleUserFault(tag string) gate.Handler {
	return func(regs *gate.Registers) {
		p := t.current
		if !regs.FromUser() || p == nil {
			t.gates.Unhandled(regs)
			return
		}

		p.printf("%s\n", tag)
		t.terminate(p)
	}
}
