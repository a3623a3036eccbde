package cpu

// execute retires one instruction at CPL 3. Faulting instructions leave the
// registers untouched so that the handler may restart them.
func (m *Machine) execute() {
	var raw [InstructionSize]byte
	for i := range raw {
		raw[i] = m.mem.read8(m.physFor(m.eip+uint32(i), accessFetch))
	}

	in := DecodeInstruction(raw)
	if in.Op >= numOpcodes || in.A >= numRegs || in.B >= numRegs {
		m.deliver(VectorInvalidOp, 0, false, false)
		return
	}

	next := m.eip + InstructionSize
	switch in.Op {
	case OpNop:
	case OpMovImm:
		m.gpr[in.A] = in.Imm
	case OpMov:
		m.gpr[in.A] = m.gpr[in.B]
	case OpAddImm:
		m.gpr[in.A] += in.Imm
	case OpAdd:
		m.gpr[in.A] += m.gpr[in.B]
	case OpSub:
		m.gpr[in.A] -= m.gpr[in.B]
	case OpLoad:
		m.gpr[in.A] = m.load32(m.gpr[in.B] + in.Imm)
	case OpStore:
		m.store32(m.gpr[in.B]+in.Imm, m.gpr[in.A])
	case OpLoadByte:
		m.gpr[in.A] = uint32(m.load8(m.gpr[in.B] + in.Imm))
	case OpStoreByte:
		m.store8(m.gpr[in.B]+in.Imm, uint8(m.gpr[in.A]))
	case OpPush:
		m.Push(m.gpr[in.A])
	case OpPop:
		v := m.load32(m.gpr[ESP])
		m.gpr[ESP] += 4
		m.gpr[in.A] = v
	case OpCall:
		m.Push(next)
		next += in.Imm
	case OpRet:
		next = m.Pop()
	case OpJmp:
		next += in.Imm
	case OpJz:
		if m.gpr[in.A] == 0 {
			next += in.Imm
		}
	case OpJnz:
		if m.gpr[in.A] != 0 {
			next += in.Imm
		}
	case OpInt:
		m.eip = next
		m.deliver(uint8(in.Imm), 0, false, true)
		return
	case OpHlt, OpCli, OpSti, OpOut, OpIn:
		// Privileged (IOPL is 0).
		m.gpFault(0)
		return
	}
	m.eip = next
}
