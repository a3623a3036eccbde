package proc

import (
	"ringos/kernel/gate"
	"ringos/kernel/kfmt"
)

// System call numbers. The number is passed in EAX, arguments in EBX, ECX
// and EDX and the result is returned in EAX.
const (
	SysExit     = uint32(1)
	SysRead     = uint32(3)
	SysWrite    = uint32(4)
	SysFbAddr   = uint32(10)
	SysFbWidth  = uint32(11)
	SysFbHeight = uint32(12)
)

// System call error results.
const (
	ErrInvalidArgs    = int32(-1)
	ErrUnknownSyscall = int32(-2)
	ErrWriteFailed    = int32(-3)
)

// sysResult returns the EAX encoding of a signed system call result.
func sysResult(v int32) uint32 { return uint32(v) }

// MaxWrite is the largest buffer accepted by the write system call.
const MaxWrite = 4096

// handleSyscall dispatches on the system call number in EAX.
func (t *Table) handleSyscall(regs *gate.Registers) {
	p := t.current
	if p == nil {
		t.gates.Unhandled(regs)
		return
	}

	switch regs.EAX {
	case SysExit:
		t.exit(p, regs.EBX)
	case SysRead:
		regs.EAX = t.read()
	case SysWrite:
		regs.EAX = sysResult(t.write(p, regs.EBX, regs.ECX))
	case SysFbAddr:
		addr, _, _ := t.cpu.Framebuffer()
		regs.EAX = addr
	case SysFbWidth:
		_, width, _ := t.cpu.Framebuffer()
		regs.EAX = width
	case SysFbHeight:
		_, _, height := t.cpu.Framebuffer()
		regs.EAX = height
	default:
		regs.EAX = sysResult(ErrUnknownSyscall)
	}
}

// exit reports the exit code and kills p regardless of the fault policy.
func (t *Table) exit(p *Process, code uint32) {
	p.printf("EXIT WITH CODE %d\n", code)
	if err := p.Kill(); err != nil {
		kfmt.Panic(err)
	}
	t.switchTo(t.nextAlive(p))
}

// read returns the next key press. It busy-waits with interrupts enabled so
// the keyboard IRQ can fill the queue and gives up after the read timeout,
// returning 0. A zero timeout only polls the queue.
func (t *Table) read() uint32 {
	if t.keys == nil {
		return 0
	}

	enabled := t.cpu.InterruptsEnabled()
	t.cpu.EnableInterrupts()
	t.devices.SpinWait(t.readTimeout, func() bool {
		return t.keys.Pending() != 0
	})
	if !enabled {
		t.cpu.DisableInterrupts()
	}

	ch, ok := t.keys.ReadKey()
	if !ok {
		return 0
	}
	return uint32(ch)
}

// write copies len bytes at user address ptr to the output sink of p.
func (t *Table) write(p *Process, ptr, length uint32) int32 {
	if ptr == 0 || length > MaxWrite {
		return ErrInvalidArgs
	}

	buf := make([]byte, length)
	if err := p.space.CopyFromUser(buf, ptr); err != nil {
		return ErrInvalidArgs
	}

	n, err := p.sink.Write(buf)
	if err != nil {
		return ErrWriteFailed
	}
	return int32(n)
}

// handleDebugTrap prints EAX followed by a space. Programs use it to trace
// values without going through write.
func (t *Table) handleDebugTrap(regs *gate.Registers) {
	if p := t.current; p != nil {
		p.printf("%d ", int32(regs.EAX))
		return
	}
	kfmt.Printf("%d ", int32(regs.EAX))
}
