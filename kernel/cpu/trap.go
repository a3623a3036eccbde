package cpu

import (
	"errors"
	"fmt"
)

// Exception vectors raised by the CPU itself.
const (
	VectorDivide       = uint8(0)
	VectorInvalidOp    = uint8(6)
	VectorDoubleFault  = uint8(8)
	VectorGPF          = uint8(13)
	VectorPageFault    = uint8(14)
	VectorAlignment    = uint8(17)
	VectorControlProt  = uint8(21)
	VectorVMMCommExcep = uint8(29)
	VectorSecurity     = uint8(30)
)

// HasErrorCode reports whether the CPU pushes an error code before entering
// the handler for vector.
func HasErrorCode(vector uint8) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17, 21, 29, 30:
		return true
	}
	return false
}

// resumeSignal unwinds the Go stack of kernel code after the CPU state was
// replaced by an IRET or an idle HLT.
type resumeSignal struct{}

// haltSignal unwinds everything once the CPU stopped.
type haltSignal struct{}

// deliver raises vector: it switches to the ring 0 stack if needed, pushes
// the trap frame and transfers control to the gate's entry point.
func (m *Machine) deliver(vector uint8, errCode uint32, hasErr, software bool) {
	g, ok := m.gate(vector)
	if !ok || !g.present {
		if vector == VectorGPF || vector == VectorDoubleFault {
			m.machineCheck(fmt.Errorf("cpu: triple fault (no gate for vector %d)", vector))
		}
		m.deliver(VectorGPF, uint32(vector)*8+2, true, false)
		return
	}
	if software && m.CPL() > g.dpl {
		m.deliver(VectorGPF, uint32(vector)*8+2, true, false)
		return
	}

	entry := m.entryAt(g.offset)
	if entry == nil {
		m.machineCheck(fmt.Errorf("cpu: vector %d points to %#x which holds no code", vector, g.offset))
	}

	var (
		fromCPL = m.CPL()
		retEIP  = m.eip
		retCS   = m.cs
		flags   = m.eflags
		oldESP  = m.gpr[ESP]
		oldSS   = m.ss
	)

	m.cs = g.selector
	if fromCPL != 0 {
		m.gpr[ESP], m.ss = m.tssStack()
		m.Push(uint32(oldSS))
		m.Push(oldESP)
	}
	m.Push(flags)
	m.Push(uint32(retCS))
	m.Push(retEIP)
	if hasErr {
		m.Push(errCode)
	}

	m.eip = g.offset
	if g.interrupt {
		m.eflags &^= FlagIF
	}

	if fromCPL == 0 && retEIP != IdleAddr {
		// Interrupted kernel code resumes here once the handler returns
		// to the same point.
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(resumeSignal); ok && m.cs&3 == 0 && m.eip == retEIP {
					return
				}
				panic(r)
			}
		}()
	}

	entry(m)
	m.machineCheck(errors.New("cpu: trap entry returned without iret"))
}

func (m *Machine) pageFault(linear, errCode uint32) {
	m.cr2 = linear
	m.deliver(VectorPageFault, errCode, true, false)
}

func (m *Machine) gpFault(errCode uint32) {
	m.deliver(VectorGPF, errCode, true, false)
}

// machineCheck stops the CPU because of an unrecoverable condition.
func (m *Machine) machineCheck(err error) {
	m.stopped = true
	m.lastErr = err
	panic(haltSignal{})
}

// Push decrements ESP and stores v on the stack.
func (m *Machine) Push(v uint32) {
	esp := m.gpr[ESP] - 4
	m.store32(esp, v)
	m.gpr[ESP] = esp
}

// Pop loads a word from the stack and increments ESP.
func (m *Machine) Pop() uint32 {
	v := m.load32(m.gpr[ESP])
	m.gpr[ESP] += 4
	return v
}

// PushAll saves the general purpose registers (PUSHAD).
func (m *Machine) PushAll() {
	esp := m.gpr[ESP]
	for r := EAX; r < numRegs; r++ {
		if r == ESP {
			m.Push(esp)
			continue
		}
		m.Push(m.gpr[r])
	}
}

// PopAll restores the general purpose registers (POPAD). The saved ESP slot
// is skipped.
func (m *Machine) PopAll() {
	for r := EDI; ; r-- {
		v := m.Pop()
		if r != ESP {
			m.gpr[r] = v
		}
		if r == EAX {
			return
		}
	}
}

// PeekStack returns the word at ESP+4*slot.
func (m *Machine) PeekStack(slot int) uint32 {
	return m.load32(m.gpr[ESP] + uint32(slot)*4)
}

// PokeStack overwrites the word at ESP+4*slot.
func (m *Machine) PokeStack(slot int, v uint32) {
	m.store32(m.gpr[ESP]+uint32(slot)*4, v)
}

// IRet pops a trap frame and resumes the interrupted context. When the
// frame returns to ring 3 the target CS and SS must reference present DPL 3
// descriptors, otherwise #GP is raised with the frame left in place. IRet
// never returns to its caller.
func (m *Machine) IRet() {
	eip, cs, flags := m.PeekStack(0), uint16(m.PeekStack(1)), m.PeekStack(2)

	if cs&3 == 0 {
		m.gpr[ESP] += 12
	} else {
		esp, ss := m.PeekStack(3), uint16(m.PeekStack(4))
		if !m.userSegment(cs, true) {
			m.gpFault(uint32(cs &^ 3))
		}
		if !m.userSegment(ss, false) {
			m.gpFault(uint32(ss &^ 3))
		}
		m.gpr[ESP], m.ss = esp, ss
	}

	m.eip, m.cs = eip, cs
	m.eflags = flags | FlagReserved
	panic(resumeSignal{})
}

// Idle parks the CPU in HLT with interrupts enabled. The calling kernel code
// is abandoned; the CPU wakes up on the next interrupt.
func (m *Machine) Idle() {
	m.cs &^= 3
	m.eip = IdleAddr
	m.eflags |= FlagIF
	panic(resumeSignal{})
}

// Halt disables interrupts and stops the CPU for good (CLI; HLT).
func (m *Machine) Halt() {
	m.eflags &^= FlagIF
	m.stopped = true
	panic(haltSignal{})
}

// Relax is a PAUSE inside a kernel spin loop. It lets one clock cycle pass
// and services a pending interrupt if EFLAGS.IF is set.
func (m *Machine) Relax() {
	m.tick()
	if m.eflags&FlagIF == 0 {
		return
	}

	vector, ok := m.pic.Acknowledge()
	if !ok {
		return
	}

	saved := m.eip
	m.eip = RelaxAddr
	m.deliver(vector, 0, false, false)
	m.eip = saved
}

// Boot runs kernel code in ring 0 until it either returns or hands the CPU
// over to a context via IRet or Idle.
func (m *Machine) Boot(entry func()) (err error) {
	defer func() {
		err = m.unwind(recover())
	}()

	entry()
	return nil
}

// Run lets the CPU execute up to steps clock cycles.
func (m *Machine) Run(steps int) error {
	for i := 0; i < steps; i++ {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntil runs the CPU until done reports true or maxSteps cycles elapsed.
// It reports whether done was satisfied.
func (m *Machine) RunUntil(maxSteps int, done func() bool) (bool, error) {
	for i := 0; i < maxSteps; i++ {
		if done() {
			return true, nil
		}
		if err := m.Step(); err != nil {
			return done(), err
		}
	}
	return done(), nil
}

// Step runs a single clock cycle: a pending interrupt is delivered if
// interrupts are enabled, otherwise one ring 3 instruction is retired.
func (m *Machine) Step() (err error) {
	if m.stopped {
		return m.haltErr()
	}

	defer func() {
		if r := recover(); r != nil {
			err = m.unwind(r)
		}
	}()

	m.tick()
	if m.eflags&FlagIF != 0 {
		if vector, ok := m.pic.Acknowledge(); ok {
			m.deliver(vector, 0, false, false)
			return nil
		}
	}

	if m.CPL() == 0 {
		if m.eip == IdleAddr && m.eflags&FlagIF != 0 {
			return nil
		}
		return ErrNoContext
	}

	m.execute()
	return nil
}

func (m *Machine) unwind(r interface{}) error {
	switch r.(type) {
	case nil, resumeSignal:
		return nil
	case haltSignal:
		return m.haltErr()
	default:
		panic(r)
	}
}

func (m *Machine) haltErr() error {
	if m.lastErr != nil {
		return m.lastErr
	}
	return ErrHalted
}
