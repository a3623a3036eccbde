package proc

import (
	"io"

	"ringos/kernel"
	"ringos/kernel/gate"
	"ringos/kernel/hal"
	"ringos/kernel/kfmt"
	"ringos/kernel/mm/vmm"
)

// Policy selects what happens to a process after an unrecoverable fault.
type Policy uint8

// The supported fault policies.
const (
	// PolicyRespawn restarts the faulting process in place.
	PolicyRespawn Policy = iota

	// PolicyKill terminates the faulting process.
	PolicyKill
)

var errUnknownPolicy = &kernel.Error{Module: "proc", Message: "unknown fault policy"}

// ParsePolicy maps the onfault= boot parameter to a Policy.
func ParsePolicy(name string) (Policy, *kernel.Error) {
	switch name {
	case "respawn":
		return PolicyRespawn, nil
	case "kill":
		return PolicyKill, nil
	}
	return PolicyRespawn, errUnknownPolicy
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	if p == PolicyKill {
		return "kill"
	}
	return "respawn"
}

// CPU is the part of the processor the process layer controls directly.
type CPU interface {
	Idle()
	InterruptsEnabled() bool
	EnableInterrupts()
	DisableInterrupts()
	Framebuffer() (addr, width, height uint32)
}

// Devices routes IRQ lines and provides busy waiting.
type Devices interface {
	HandleIRQ(irq uint8, handler gate.Handler)
	SpinWait(timeout uint64, done func() bool) bool
}

// KeySource is a queue of decoded key presses.
type KeySource interface {
	ReadKey() (byte, bool)
	Pending() int
}

// Config lists the collaborators of a process table.
type Config struct {
	CPU     CPU
	Gates   *gate.Dispatcher
	Paging  *vmm.Manager
	Devices Devices

	// Keys may be nil if no keyboard is present; reads then return 0.
	Keys KeySource

	Policy Policy

	// ReadTimeout bounds, in TSC cycles, how long the read system call
	// waits for a key.
	ReadTimeout uint64
}

// Table owns the processes, schedules them on timer interrupts and applies
// the fault policy.
type Table struct {
	cpu         CPU
	gates       *gate.Dispatcher
	paging      *vmm.Manager
	devices     Devices
	keys        KeySource
	policy      Policy
	readTimeout uint64

	procs   []*Process
	current *Process
	ticks   uint64
}

// NewTable returns an empty process table.
func NewTable(cfg Config) *Table {
	return &Table{
		cpu:         cfg.CPU,
		gates:       cfg.Gates,
		paging:      cfg.Paging,
		devices:     cfg.Devices,
		keys:        cfg.Keys,
		policy:      cfg.Policy,
		readTimeout: cfg.ReadTimeout,
	}
}

// Install registers the page fault, protection fault, invalid opcode and
// system call handlers, makes the system call vectors callable from ring 3
// and attaches the scheduler to the timer IRQ.
func (t *Table) Install() {
	t.gates.HandleInterrupt(gate.PageFaultException, t.handlePageFault)
	t.gates.HandleInterrupt(gate.GPFException, t.handleUserFault("GPF"))
	t.gates.HandleInterrupt(gate.InvalidOpcode, t.handleUserFault("UD"))

	t.gates.HandleInterrupt(gate.Syscall, t.handleSyscall)
	t.gates.MarkUserCallable(gate.Syscall)
	t.gates.HandleInterrupt(gate.DebugTrap, t.handleDebugTrap)
	t.gates.MarkUserCallable(gate.DebugTrap)

	t.devices.HandleIRQ(hal.IRQTimer, t.handleTimer)
}

// New creates a process for the image at physical origin. Process output
// goes to sink or, if sink is nil, to the kernel output.
func (t *Table) New(name string, origin uint32, sink io.Writer) (*Process, *kernel.Error) {
	if sink == nil {
		sink = kfmt.Output()
	}

	space, err := t.paging.NewAddressSpace()
	if err != nil {
		return nil, err
	}
	if err = space.InitCodePages(origin); err != nil {
		return nil, err
	}

	p := &Process{
		table:  t,
		pid:    len(t.procs),
		name:   name,
		origin: origin,
		space:  space,
		sink:   sink,
		state:  StateCreated,
		ctx:    entryContext(),
	}
	t.procs = append(t.procs, p)
	return p, nil
}

// Processes returns all processes in creation order.
func (t *Table) Processes() []*Process { return t.procs }

// Current returns the running process or nil.
func (t *Table) Current() *Process { return t.current }

// Ticks returns the number of timer interrupts seen by the scheduler.
func (t *Table) Ticks() uint64 { return t.ticks }

// Policy returns the fault policy.
func (t *Table) Policy() Policy { return t.policy }

// Start jumps to the first live process. If there is none the CPU idles in
// the kernel address space. Start never returns.
func (t *Table) Start() {
	t.switchTo(t.nextAlive(nil))
}

// nextAlive returns the first live process after after in round-robin
// order. after itself is considered last.
func (t *Table) nextAlive(after *Process) *Process {
	start := 0
	if after != nil {
		start = after.pid + 1
	}

	for i := 0; i < len(t.procs); i++ {
		if p := t.procs[(start+i)%len(t.procs)]; p.Alive() {
			return p
		}
	}
	return nil
}

// switchTo jumps to next or, if it is nil, idles with the kernel directory
// active.
func (t *Table) switchTo(next *Process) {
	if next != nil {
		next.Jump()
	}

	t.current = nil
	t.paging.DisablePaging()
	t.paging.KernelSpace().Activate()
	t.paging.EnablePaging()
	t.cpu.Idle()
}

// handleTimer preempts the current process if another one is live. Only
// contexts interrupted in ring 3 are switched.
func (t *Table) handleTimer(regs *gate.Registers) {
	t.ticks++

	cur := t.current
	if cur == nil || !regs.FromUser() {
		return
	}

	next := t.nextAlive(cur)
	if next == nil || next == cur {
		return
	}

	cur.ctx = *regs
	cur.state = StateInitialized
	next.Jump()
}

// terminate applies the fault policy to p.
func (t *Table) terminate(p *Process) {
	var err *kernel.Error
	if t.policy == PolicyRespawn {
		err = p.Respawn()
	} else {
		err = p.Kill()
	}

	if err != nil {
		kfmt.Panic(err)
	}
	t.switchTo(t.nextAlive(p))
}
