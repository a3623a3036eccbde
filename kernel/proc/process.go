// Package proc implements user processes: their address spaces and saved
// contexts, the round-robin scheduler driven by the timer, the policy applied
// to user-mode faults and the system call interface.
package proc

import (
	"io"

	"ringos/kernel"
	"ringos/kernel/cpu"
	"ringos/kernel/gate"
	"ringos/kernel/gdt"
	"ringos/kernel/kfmt"
	"ringos/kernel/mm"
	"ringos/kernel/mm/vmm"
)

// State is the lifecycle state of a process.
type State uint8

// The process states.
const (
	// StateCreated processes have an address space with their code
	// mapped but no stack or arguments yet.
	StateCreated State = iota

	// StateInitialized processes hold a resumable ring 3 context.
	StateInitialized

	// StateRunning is the state of the current process.
	StateRunning

	// StateDead processes are never scheduled again unless respawned.
	StateDead
)

var stateNames = [...]string{"created", "initialized", "running", "dead"}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// userFlags enables interrupts with IOPL 0 so port I/O from ring 3 faults.
const userFlags = cpu.FlagIF | cpu.FlagReserved | cpu.FlagIOPL0

// Process is a user program together with its address space and saved
// context.
type Process struct {
	table *Table

	pid    int
	name   string
	origin uint32
	space  *vmm.AddressSpace
	sink   io.Writer
	state  State

	// ctx is the context the process resumes from.
	ctx gate.Registers
}

// PID returns the process identifier.
func (p *Process) PID() int { return p.pid }

// Name returns the name of the image the process runs.
func (p *Process) Name() string { return p.name }

// State returns the lifecycle state.
func (p *Process) State() State { return p.state }

// Alive reports whether the process holds a resumable context.
func (p *Process) Alive() bool {
	return p.state == StateInitialized || p.state == StateRunning
}

// AddressSpace returns the page directory of the process.
func (p *Process) AddressSpace() *vmm.AddressSpace { return p.space }

// Context returns a copy of the saved context.
func (p *Process) Context() gate.Registers { return p.ctx }

// Init rebuilds the stack and argument pages and resets the context so that
// the process starts at its entry point with argc in EAX and argv in ECX.
// Paging is left disabled; Jump turns it back on.
func (p *Process) Init(args []string) *kernel.Error {
	p.table.paging.DisablePaging()

	if err := p.space.InitCodePages(p.origin); err != nil {
		return err
	}
	if err := p.space.InitStackPages(); err != nil {
		return err
	}
	argc, argv, err := p.space.InitArgsPages(args)
	if err != nil {
		return err
	}

	p.ctx = entryContext()
	p.ctx.EAX, p.ctx.ECX = argc, argv
	p.state = StateInitialized
	return nil
}

// Run initializes the process with args and jumps to it. Run only returns
// if initialization fails.
func (p *Process) Run(args []string) *kernel.Error {
	if err := p.Init(args); err != nil {
		return err
	}
	p.Jump()
	return nil
}

// Jump makes p the current process, activates its page directory and
// resumes its saved context. Jump never returns.
func (p *Process) Jump() {
	t := p.table
	t.current = p
	p.state = StateRunning

	t.paging.DisablePaging()
	p.space.Activate()
	t.paging.EnablePaging()
	t.gates.Restore(&p.ctx)
}

// Kill releases the user pages of the process and marks it dead. The
// kernel directory is active with paging enabled when Kill returns.
func (p *Process) Kill() *kernel.Error {
	t := p.table
	t.paging.DisablePaging()
	err := p.space.DeleteProcessPages()
	t.paging.KernelSpace().Activate()
	t.paging.EnablePaging()

	p.state = StateDead
	if t.current == p {
		t.current = nil
	}
	return err
}

// Respawn kills the process and runs it again with a placeholder argument
// list holding its name. Respawn only returns on failure.
func (p *Process) Respawn() *kernel.Error {
	if err := p.Kill(); err != nil {
		return err
	}
	return p.Run([]string{p.name})
}

// printf writes to the output sink of the process.
func (p *Process) printf(format string, args ...interface{}) {
	kfmt.Fprintf(p.sink, format, args...)
}

// entryContext returns a ring 3 context positioned at the entry point with
// an empty stack.
func entryContext() gate.Registers {
	return gate.Registers{
		EIP:     mm.CodeBase,
		CS:      uint32(gdt.UserCS),
		EFlags:  userFlags,
		UserESP: mm.StackTop,
		UserSS:  uint32(gdt.UserDS),
		DS:      uint32(gdt.UserDS),
		ES:      uint32(gdt.UserDS),
		FS:      uint32(gdt.UserDS),
		GS:      uint32(gdt.UserDS),
	}
}
