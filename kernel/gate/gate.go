// Package gate owns the interrupt descriptor table. Every vector enters the
// kernel through a trampoline that pushes the vector number and hands over to
// a shared collect routine, so handlers always receive a complete Registers
// snapshot no matter whether the CPU pushed an error code.
package gate

import (
	"sync/atomic"

	"ringos/kernel"
	"ringos/kernel/cpu"
	"ringos/kernel/gdt"
	"ringos/kernel/kfmt"
)

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0.
	DivideByZero = InterruptNumber(0)

	// NMI is a hardware interrupt that indicates issues with RAM or
	// unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DoubleFault occurs when an exception occurs while the CPU is trying
	// to deliver another one.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// Timer is IRQ0 after the PIC has been remapped.
	Timer = InterruptNumber(0x20)

	// Keyboard is IRQ1 after the PIC has been remapped.
	Keyboard = InterruptNumber(0x21)

	// DebugTrap is a user-callable vector that dumps the caller's
	// registers.
	DebugTrap = InterruptNumber(0x30)

	// Syscall is the user-callable system call vector.
	Syscall = InterruptNumber(0x80)
)

var exceptionNames = [...]string{
	"divide error", "debug", "NMI", "breakpoint", "overflow",
	"bound range exceeded", "invalid opcode", "device not available",
	"double fault", "coprocessor segment overrun", "invalid TSS",
	"segment not present", "stack-segment fault", "general protection fault",
	"page fault", "reserved", "x87 floating point", "alignment check",
	"machine check", "SIMD floating point", "virtualization",
	"control protection",
}

// String returns a human readable name for the vector.
func (n InterruptNumber) String() string {
	switch {
	case int(n) < len(exceptionNames):
		return exceptionNames[n]
	case n < 32:
		return "reserved exception"
	case n < 48:
		return "IRQ"
	default:
		return "software interrupt"
	}
}

// Handler processes a trap. It may modify regs; the changes are applied when
// the handler returns and the interrupted context resumes.
type Handler func(regs *Registers)

var errUnhandled = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}

// trampoline is one row of the entry stub table.
type trampoline struct {
	vector    InterruptNumber
	errorCode bool
	entry     uint32
}

// Dispatcher builds and owns the IDT, the trampolines and the handler table.
type Dispatcher struct {
	cpu     *cpu.Machine
	idtAddr uint32

	trampolines [NumVectors]trampoline
	gates       [NumVectors]Descriptor
	handlers    [NumVectors]atomic.Pointer[Handler]
}

// New returns a dispatcher that will place the IDT at idtAddr.
func New(c *cpu.Machine, idtAddr uint32) *Dispatcher {
	return &Dispatcher{cpu: c, idtAddr: idtAddr}
}

// Init generates one trampoline per vector, points every slot at the
// unhandled handler, writes the IDT as ring-0 interrupt gates and loads it.
func (d *Dispatcher) Init() {
	unhandled := Handler(d.Unhandled)

	for v := range d.trampolines {
		t := &d.trampolines[v]
		t.vector = InterruptNumber(v)
		t.errorCode = cpu.HasErrorCode(uint8(v))
		t.entry = d.cpu.DefineEntry(d.enter(t))

		d.handlers[v].Store(&unhandled)
		d.gates[v] = Descriptor{
			Offset:   t.entry,
			Selector: gdt.KernelCS,
			Kind:     InterruptGate,
			Present:  true,
		}
		d.writeGate(t.vector)
	}

	d.cpu.LoadIDT(d.idtAddr, NumVectors*descriptorSize-1)
}

// HandleInterrupt installs handler for vector. The slot is replaced
// atomically and the last write wins.
func (d *Dispatcher) HandleInterrupt(vector InterruptNumber, handler Handler) {
	d.handlers[vector].Store(&handler)
}

// SetGateKind switches vector between an interrupt and a trap gate.
func (d *Dispatcher) SetGateKind(vector InterruptNumber, kind Kind) {
	d.gates[vector].Kind = kind
	d.writeGate(vector)
}

// MarkUserCallable lets ring 3 code raise vector with INT.
func (d *Dispatcher) MarkUserCallable(vector InterruptNumber) {
	d.gates[vector].DPL = 3
	d.writeGate(vector)
}

// Gate returns the current descriptor for vector.
func (d *Dispatcher) Gate(vector InterruptNumber) Descriptor {
	return d.gates[vector]
}

func (d *Dispatcher) writeGate(vector InterruptNumber) {
	b := d.gates[vector].bytes()
	d.cpu.WritePhys(d.idtAddr+uint32(vector)*descriptorSize, b[:])
}

// enter returns the entry stub for t: push the vector and jump to the
// matching collect routine.
func (d *Dispatcher) enter(t *trampoline) cpu.EntryFunc {
	return func(m *cpu.Machine) {
		m.Push(uint32(t.vector))
		if t.errorCode {
			d.collect(m)
			return
		}
		d.collectPushZero(m)
	}
}

// collectPushZero slides a zero error code below the vector so the frame
// layout matches vectors with a hardware error code.
func (d *Dispatcher) collectPushZero(m *cpu.Machine) {
	vector := m.Pop()
	m.Push(0)
	m.Push(vector)
	d.collect(m)
}

// collect saves the data segments and the general purpose registers, loads
// the kernel data selector and dispatches. When the handler returns the
// (possibly modified) frame is written back and the context resumes.
func (d *Dispatcher) collect(m *cpu.Machine) {
	m.Push(uint32(m.Seg(cpu.DS)))
	m.Push(uint32(m.Seg(cpu.ES)))
	m.Push(uint32(m.Seg(cpu.FS)))
	m.Push(uint32(m.Seg(cpu.GS)))
	m.PushAll()

	for _, s := range []cpu.SegReg{cpu.DS, cpu.ES, cpu.FS, cpu.GS} {
		m.SetSeg(s, gdt.KernelDS)
	}

	var regs Registers
	slots := regs.slots()
	for i := 0; i < frameWords; i++ {
		*slots[i] = m.PeekStack(i)
	}
	fromUser := regs.FromUser()
	if fromUser {
		regs.UserESP = m.PeekStack(frameWords)
		regs.UserSS = m.PeekStack(frameWords + 1)
	}
	regs.CR2 = m.ReadCR2()

	d.dispatch(&regs)

	// CS keeps its privilege level; a handler that wants to switch to
	// another context goes through Restore.
	regs.CS = regs.CS&^3 | uint32(m.PeekStack(15))&3
	for i := 0; i < frameWords; i++ {
		m.PokeStack(i, *slots[i])
	}
	if fromUser {
		m.PokeStack(frameWords, regs.UserESP)
		m.PokeStack(frameWords+1, regs.UserSS)
	}

	leave(m)
}

func (d *Dispatcher) dispatch(regs *Registers) {
	handler := d.handlers[uint8(regs.Vector)].Load()
	(*handler)(regs)
}

// Restore loads ctx into the CPU and returns to it. It is used both to
// resume a preempted process and to launch a fabricated context in ring 3.
// Restore never returns.
func (d *Dispatcher) Restore(ctx *Registers) {
	m := d.cpu
	if ctx.FromUser() {
		m.Push(ctx.UserSS)
		m.Push(ctx.UserESP)
	}

	slots := ctx.slots()
	for i := frameWords - 1; i >= 0; i-- {
		m.Push(*slots[i])
	}

	leave(m)
}

// leave pops a collected frame and executes IRET.
func leave(m *cpu.Machine) {
	m.PopAll()
	m.SetSeg(cpu.GS, uint16(m.Pop()))
	m.SetSeg(cpu.FS, uint16(m.Pop()))
	m.SetSeg(cpu.ES, uint16(m.Pop()))
	m.SetSeg(cpu.DS, uint16(m.Pop()))

	// vector and error code
	m.Pop()
	m.Pop()
	m.IRet()
}

// Unhandled is the default handler for every vector. It prints the trap
// frame and halts.
func (d *Dispatcher) Unhandled(regs *Registers) {
	vector := InterruptNumber(regs.Vector)
	kfmt.Printf("\nunhandled %s (vector %d, error code %#x)\n", vector, regs.Vector, regs.ErrorCode)
	regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Panic(errUnhandled)
}
