// Package vmm builds and mutates the two-level page tables of the kernel and
// of every process.
//
// Page directories and tables are kept as typed [1024]Entry arrays in an
// arena keyed by the pool frame that backs them. Every update is mirrored to
// the backing frame in its hardware encoding since that is what the MMU
// walks.
package vmm

import (
	"ringos/kernel"
	"ringos/kernel/mm"
	"ringos/kernel/mm/pmm"
)

var (
	// ErrTooManyArgs is returned by InitArgsPages if more than mm.MaxArgs
	// arguments are supplied.
	ErrTooManyArgs = &kernel.Error{Module: "vmm", Message: "too many process arguments"}

	// ErrArgTooLong is returned by InitArgsPages if an argument does not
	// fit in a page together with its terminator.
	ErrArgTooLong = &kernel.Error{Module: "vmm", Message: "process argument does not fit in a page"}

	// ErrNotStackAddress is returned by EnableStackPages for addresses
	// outside the stack region.
	ErrNotStackAddress = &kernel.Error{Module: "vmm", Message: "address is not inside the stack region"}

	// ErrInvalidUserPointer is returned when a user buffer is not fully
	// mapped with user access.
	ErrInvalidUserPointer = &kernel.Error{Module: "vmm", Message: "buffer is not accessible from user mode"}
)

// PhysicalMemory gives access to physical RAM.
type PhysicalMemory interface {
	ReadPhys(addr uint32, p []byte)
	WritePhys(addr uint32, p []byte)
	WritePhys32(addr, v uint32)
	ZeroPhys(frameAddr uint32)
}

// MMU exposes the paging control bits of the CPU.
type MMU interface {
	SwitchPDT(pdtPhysAddr uint32)
	EnablePSE()
	EnablePaging()
	DisablePaging()
	PagingEnabled() bool
}

// CPU is the hardware the page-table builder programs.
type CPU interface {
	PhysicalMemory
	MMU
}

type table [mm.EntriesPerTable]Entry

// Manager owns the table arena and the kernel address space.
type Manager struct {
	cpu    CPU
	pool   *pmm.Pool
	tables map[mm.Frame]*table

	fbAddr, fbSize uint32
	kernelSpace    *AddressSpace
}

// NewManager returns a page-table builder that draws tables from pool. The
// framebuffer window [fbAddr, fbAddr+fbSize) is identity mapped in every
// address space.
func NewManager(cpu CPU, pool *pmm.Pool, fbAddr, fbSize uint32) *Manager {
	return &Manager{
		cpu:    cpu,
		pool:   pool,
		tables: make(map[mm.Frame]*table),
		fbAddr: fbAddr,
		fbSize: fbSize,
	}
}

// InitKernelPaging builds the kernel page directory, loads it into CR3 and
// turns on paging with 4 MiB page support.
func (m *Manager) InitKernelPaging() (*AddressSpace, *kernel.Error) {
	as, err := m.NewAddressSpace()
	if err != nil {
		return nil, err
	}

	m.kernelSpace = as
	as.Activate()
	m.cpu.EnablePSE()
	m.cpu.EnablePaging()
	return as, nil
}

// KernelSpace returns the address space built by InitKernelPaging.
func (m *Manager) KernelSpace() *AddressSpace { return m.kernelSpace }

// NewAddressSpace allocates a page directory holding the identity mapping of
// the first 4 MiB and the framebuffer huge pages. The user regions are left
// empty.
func (m *Manager) NewAddressSpace() (*AddressSpace, *kernel.Error) {
	dir, err := m.allocTable()
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{mgr: m, dir: dir, watermark: mm.EntriesPerTable - 1}
	if err = as.initIdentity(); err != nil {
		return nil, err
	}
	as.mapFramebuffer()
	return as, nil
}

// EnablePaging sets CR0.PG.
func (m *Manager) EnablePaging() { m.cpu.EnablePaging() }

// DisablePaging clears CR0.PG. Edits to the active directory must happen
// with paging disabled.
func (m *Manager) DisablePaging() { m.cpu.DisablePaging() }

// Tables returns the number of live paging structures in the arena.
func (m *Manager) Tables() int { return len(m.tables) }

func (m *Manager) allocTable() (mm.Frame, *kernel.Error) {
	frame, err := m.pool.Alloc()
	if err != nil {
		return mm.InvalidFrame, err
	}

	m.cpu.ZeroPhys(frame.Address())
	m.tables[frame] = new(table)
	return frame, nil
}

func (m *Manager) freeTable(frame mm.Frame) *kernel.Error {
	delete(m.tables, frame)
	return m.pool.Free(frame)
}

func (m *Manager) allocZeroedFrame() (mm.Frame, *kernel.Error) {
	frame, err := m.pool.Alloc()
	if err != nil {
		return mm.InvalidFrame, err
	}
	m.cpu.ZeroPhys(frame.Address())
	return frame, nil
}

// entry returns slot index of the paging structure backed by frame.
func (m *Manager) entry(frame mm.Frame, index int) Entry {
	return m.tables[frame][index]
}

// setEntry updates slot index of the paging structure backed by frame and
// writes its hardware encoding to the frame.
func (m *Manager) setEntry(frame mm.Frame, index int, e Entry) {
	m.tables[frame][index] = e
	m.cpu.WritePhys32(frame.Address()+uint32(index)*mm.PointerSize, e.Encode())
}
