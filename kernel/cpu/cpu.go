// Package cpu models the i386 board the kernel runs on. It is the only place
// where the kernel touches "hardware": control registers, descriptor-table
// registers, port I/O, physical memory and the privilege-transitioning IRET.
// Everything above this package is written exactly as it would be for a
// bare-metal build; only the instructions below are emulated.
package cpu

import (
	"errors"
	"io"
)

// Reg identifies a general purpose register. The values follow the x86
// register encoding and therefore the PUSHAD order.
type Reg uint8

// The general purpose registers.
const (
	EAX Reg = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	numRegs
)

var regNames = [numRegs]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// String returns the assembler name for the register.
func (r Reg) String() string {
	if r >= numRegs {
		return "r?"
	}
	return regNames[r]
}

// SegReg identifies a data segment register.
type SegReg uint8

// The data segment registers.
const (
	DS SegReg = iota
	ES
	FS
	GS
	numSegRegs
)

// EFlags bits used by the kernel.
const (
	FlagReserved = uint32(1 << 1)
	FlagIF       = uint32(1 << 9)
	FlagIOPLMask = uint32(3 << 12)
	FlagIOPL0    = uint32(0)
)

// Control register bits used by the kernel.
const (
	CR0ProtectedMode = uint32(1 << 0)
	CR0Paging        = uint32(1 << 31)
	CR4PageSizeExt   = uint32(1 << 4)
)

// Well-known kernel text addresses. They never hold trampolines; the run loop
// uses them to recognize the two places where ring 0 may be interrupted.
const (
	textBase   = uint32(0x10000)
	textStride = uint32(16)

	// IdleAddr is the EIP of a CPU parked in HLT with interrupts enabled.
	IdleAddr = uint32(0xfff0)

	// RelaxAddr is the EIP of kernel code spinning in a PAUSE loop.
	RelaxAddr = uint32(0xffe0)
)

// PITFrequency is the input clock of the programmable interval timer. The
// emulated CPU retires one instruction per PIT input cycle and the TSC counts
// at the same rate.
const PITFrequency = 1193182

var (
	// ErrHalted is returned by Boot and Run once the CPU executed HLT with
	// interrupts disabled (the kernel's terminal state).
	ErrHalted = errors.New("cpu: halted")

	// ErrNoContext is returned by Run if ring 0 code unwound without
	// leaving a runnable context behind.
	ErrNoContext = errors.New("cpu: no runnable context")
)

// Config describes the board.
type Config struct {
	// RAMSize is the amount of physical memory in bytes.
	RAMSize uint32

	// FramebufferAddr, FramebufferWidth and FramebufferHeight describe a
	// linear 32bpp framebuffer window.
	FramebufferAddr   uint32
	FramebufferWidth  uint32
	FramebufferHeight uint32

	// Serial receives everything transmitted on COM1.
	Serial io.Writer
}

// EntryFunc is the body of a kernel text entry point (a trap trampoline).
// Entry points run in ring 0 and must leave through IRet, Idle or Halt.
type EntryFunc func(*Machine)

// Machine is the emulated board: one i386 CPU, its physical memory and the
// legacy chipset (8259 PIC pair, 8254 PIT, 8042 PS/2 controller).
type Machine struct {
	gpr    [numRegs]uint32
	eip    uint32
	eflags uint32
	cs, ss uint16
	seg    [numSegRegs]uint16

	cr0, cr2, cr3, cr4 uint32
	gdtr, idtr         tableRegister
	tr                 uint16

	tsc  uint64
	mem  *memory
	bus  map[uint16]PortDevice
	pic  *PIC
	pit  *PIT
	kbd  *I8042
	uart *UART
	text []EntryFunc

	fbAddr, fbWidth, fbHeight uint32

	stopped bool
	lastErr error
}

type tableRegister struct {
	base  uint32
	limit uint16
}

// NewMachine powers on a board in protected mode with paging disabled,
// interrupts masked and the CPU parked in ring 0.
func NewMachine(cfg Config) *Machine {
	if cfg.RAMSize == 0 {
		cfg.RAMSize = 32 << 20
	}

	m := &Machine{
		eflags:   FlagReserved,
		cs:       0x08,
		ss:       0x10,
		cr0:      CR0ProtectedMode,
		fbAddr:   cfg.FramebufferAddr,
		fbWidth:  cfg.FramebufferWidth,
		fbHeight: cfg.FramebufferHeight,
		bus:      make(map[uint16]PortDevice),
	}
	m.gpr[ESP] = 0x7c00
	m.mem = newMemory(cfg.RAMSize, cfg.FramebufferAddr, cfg.FramebufferWidth*cfg.FramebufferHeight*4)

	m.pic = newPIC()
	m.pit = newPIT(func() { m.pic.Raise(0) })
	m.kbd = newI8042(func() { m.pic.Raise(1) })
	m.uart = newUART(cfg.Serial)

	m.attach(m.pic, 0x20, 0x21, 0xa0, 0xa1)
	m.attach(m.pit, 0x40, 0x41, 0x42, 0x43)
	m.attach(m.kbd, 0x60, 0x64)
	m.attach(ioDelay{}, 0x80)
	for port := COM1Base; port < COM1Base+8; port++ {
		m.attach(m.uart, port)
	}
	return m
}

// Keyboard returns the PS/2 controller so the host can inject key strokes.
func (m *Machine) Keyboard() *I8042 { return m.kbd }

// Serial returns the COM1 serial port.
func (m *Machine) Serial() *UART { return m.uart }

// Timer returns the interval timer.
func (m *Machine) Timer() *PIT { return m.pit }

// Framebuffer returns the physical address and dimensions of the
// framebuffer window.
func (m *Machine) Framebuffer() (addr, width, height uint32) {
	return m.fbAddr, m.fbWidth, m.fbHeight
}

// Reg returns the value of a general purpose register.
func (m *Machine) Reg(r Reg) uint32 { return m.gpr[r] }

// SetReg updates a general purpose register.
func (m *Machine) SetReg(r Reg, v uint32) { m.gpr[r] = v }

// Seg returns the value of a data segment register.
func (m *Machine) Seg(s SegReg) uint16 { return m.seg[s] }

// SetSeg loads a data segment register.
func (m *Machine) SetSeg(s SegReg, sel uint16) { m.seg[s] = sel }

// IP returns the current instruction pointer and code segment.
func (m *Machine) IP() (eip uint32, cs uint16) { return m.eip, m.cs }

// StackSegment returns the active stack segment selector.
func (m *Machine) StackSegment() uint16 { return m.ss }

// EFlags returns the flags register.
func (m *Machine) EFlags() uint32 { return m.eflags }

// CPL returns the current privilege level.
func (m *Machine) CPL() uint8 { return uint8(m.cs & 3) }

// EnableInterrupts sets EFLAGS.IF (STI).
func (m *Machine) EnableInterrupts() { m.eflags |= FlagIF }

// DisableInterrupts clears EFLAGS.IF (CLI).
func (m *Machine) DisableInterrupts() { m.eflags &^= FlagIF }

// InterruptsEnabled reports whether EFLAGS.IF is set.
func (m *Machine) InterruptsEnabled() bool { return m.eflags&FlagIF != 0 }

// ReadCR2 returns the linear address of the last page fault.
func (m *Machine) ReadCR2() uint32 { return m.cr2 }

// SwitchPDT loads CR3 with the physical address of a page directory.
func (m *Machine) SwitchPDT(pdtPhysAddr uint32) { m.cr3 = pdtPhysAddr &^ 0xfff }

// ActivePDT returns the physical address of the active page directory.
func (m *Machine) ActivePDT() uint32 { return m.cr3 }

// EnablePSE sets CR4.PSE so directory entries may map 4 MiB pages.
func (m *Machine) EnablePSE() { m.cr4 |= CR4PageSizeExt }

// EnablePaging sets CR0.PG.
func (m *Machine) EnablePaging() { m.cr0 |= CR0Paging }

// DisablePaging clears CR0.PG.
func (m *Machine) DisablePaging() { m.cr0 &^= CR0Paging }

// PagingEnabled reports whether CR0.PG is set.
func (m *Machine) PagingEnabled() bool { return m.cr0&CR0Paging != 0 }

// LoadGDT loads GDTR (LGDT).
func (m *Machine) LoadGDT(base uint32, limit uint16) { m.gdtr = tableRegister{base, limit} }

// LoadIDT loads IDTR (LIDT).
func (m *Machine) LoadIDT(base uint32, limit uint16) { m.idtr = tableRegister{base, limit} }

// LoadTR loads the task register (LTR).
func (m *Machine) LoadTR(sel uint16) { m.tr = sel }

// ReadTSC returns the time-stamp counter (RDTSC).
func (m *Machine) ReadTSC() uint64 { return m.tsc }

// Stopped reports whether the CPU halted for good.
func (m *Machine) Stopped() bool { return m.stopped }

// DefineEntry places fn in kernel text and returns its address. Gate
// descriptors point at addresses obtained here.
func (m *Machine) DefineEntry(fn EntryFunc) uint32 {
	m.text = append(m.text, fn)
	return textBase + uint32(len(m.text)-1)*textStride
}

func (m *Machine) entryAt(addr uint32) EntryFunc {
	if addr < textBase || (addr-textBase)%textStride != 0 {
		return nil
	}

	index := (addr - textBase) / textStride
	if index >= uint32(len(m.text)) {
		return nil
	}
	return m.text[index]
}

// tick advances the clock by one PIT input cycle.
func (m *Machine) tick() {
	m.tsc++
	m.pit.tick()
}
