// Package userspace holds the build-baked user programs and the assembler
// used to produce them.
package userspace

import (
	"ringos/kernel"
	"ringos/kernel/cpu"
	"ringos/kernel/mm"
)

var (
	errUndefinedLabel = &kernel.Error{Module: "asm", Message: "undefined label"}
	errDuplicateLabel = &kernel.Error{Module: "asm", Message: "label defined twice"}
	errImageTooLarge  = &kernel.Error{Module: "asm", Message: "image does not fit in the code region"}
)

// fixup records an instruction whose immediate refers to a label.
type fixup struct {
	index int
	label string

	// absolute fixups receive the virtual address of the label; the
	// others receive the offset relative to the next instruction.
	absolute bool
}

// Assembler builds a program for the ring 3 instruction set. Code starts at
// mm.CodeBase and data blocks are appended after the last instruction.
type Assembler struct {
	code   []cpu.Instruction
	data   []byte
	labels map[string]uint32
	fixups []fixup
	err    *kernel.Error

	// dataLabels map data labels to offsets inside data.
	dataLabels map[string]uint32
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		labels:     make(map[string]uint32),
		dataLabels: make(map[string]uint32),
	}
}

// Label defines name at the current instruction.
func (a *Assembler) Label(name string) *Assembler {
	if _, ok := a.labels[name]; ok {
		a.err = errDuplicateLabel
	}
	a.labels[name] = uint32(len(a.code))
	return a
}

// Data appends b to the data section under label name.
func (a *Assembler) Data(name string, b []byte) *Assembler {
	if _, ok := a.dataLabels[name]; ok {
		a.err = errDuplicateLabel
	}
	a.dataLabels[name] = uint32(len(a.data))
	a.data = append(a.data, b...)
	return a
}

func (a *Assembler) emit(op cpu.Opcode, ra, rb cpu.Reg, imm uint32) *Assembler {
	a.code = append(a.code, cpu.Instruction{Op: op, A: ra, B: rb, Imm: imm})
	return a
}

func (a *Assembler) branch(op cpu.Opcode, r cpu.Reg, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.code), label: label})
	return a.emit(op, r, 0, 0)
}

// Nop emits a no-op.
func (a *Assembler) Nop() *Assembler { return a.emit(cpu.OpNop, 0, 0, 0) }

// MovImm loads v into r.
func (a *Assembler) MovImm(r cpu.Reg, v uint32) *Assembler { return a.emit(cpu.OpMovImm, r, 0, v) }

// Lea loads the virtual address of a code or data label into r.
func (a *Assembler) Lea(r cpu.Reg, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.code), label: label, absolute: true})
	return a.emit(cpu.OpMovImm, r, 0, 0)
}

// Mov copies src into dst.
func (a *Assembler) Mov(dst, src cpu.Reg) *Assembler { return a.emit(cpu.OpMov, dst, src, 0) }

// AddImm adds v to r. Negative steps wrap around.
func (a *Assembler) AddImm(r cpu.Reg, v int32) *Assembler {
	return a.emit(cpu.OpAddImm, r, 0, uint32(v))
}

// Add adds src to dst.
func (a *Assembler) Add(dst, src cpu.Reg) *Assembler { return a.emit(cpu.OpAdd, dst, src, 0) }

// Sub subtracts src from dst.
func (a *Assembler) Sub(dst, src cpu.Reg) *Assembler { return a.emit(cpu.OpSub, dst, src, 0) }

// Load reads the word at base+off into dst.
func (a *Assembler) Load(dst, base cpu.Reg, off uint32) *Assembler {
	return a.emit(cpu.OpLoad, dst, base, off)
}

// Store writes src to the word at base+off.
func (a *Assembler) Store(src, base cpu.Reg, off uint32) *Assembler {
	return a.emit(cpu.OpStore, src, base, off)
}

// LoadByte reads the byte at base+off into dst.
func (a *Assembler) LoadByte(dst, base cpu.Reg, off uint32) *Assembler {
	return a.emit(cpu.OpLoadByte, dst, base, off)
}

// StoreByte writes the low byte of src to base+off.
func (a *Assembler) StoreByte(src, base cpu.Reg, off uint32) *Assembler {
	return a.emit(cpu.OpStoreByte, src, base, off)
}

// Push pushes r.
func (a *Assembler) Push(r cpu.Reg) *Assembler { return a.emit(cpu.OpPush, r, 0, 0) }

// Pop pops into r.
func (a *Assembler) Pop(r cpu.Reg) *Assembler { return a.emit(cpu.OpPop, r, 0, 0) }

// Call calls the subroutine at label.
func (a *Assembler) Call(label string) *Assembler { return a.branch(cpu.OpCall, 0, label) }

// Ret returns from a subroutine.
func (a *Assembler) Ret() *Assembler { return a.emit(cpu.OpRet, 0, 0, 0) }

// Jmp jumps to label.
func (a *Assembler) Jmp(label string) *Assembler { return a.branch(cpu.OpJmp, 0, label) }

// Jz jumps to label if r is zero.
func (a *Assembler) Jz(r cpu.Reg, label string) *Assembler { return a.branch(cpu.OpJz, r, label) }

// Jnz jumps to label if r is not zero.
func (a *Assembler) Jnz(r cpu.Reg, label string) *Assembler { return a.branch(cpu.OpJnz, r, label) }

// Int raises software interrupt vector.
func (a *Assembler) Int(vector uint8) *Assembler { return a.emit(cpu.OpInt, 0, 0, uint32(vector)) }

// Syscall loads nr into EAX and raises the system call vector.
func (a *Assembler) Syscall(nr uint32) *Assembler {
	return a.MovImm(cpu.EAX, nr).Int(0x80)
}

// Raw emits an arbitrary encoded instruction, including invalid ones.
func (a *Assembler) Raw(in cpu.Instruction) *Assembler {
	a.code = append(a.code, in)
	return a
}

// Assemble resolves labels and returns the image bytes.
func (a *Assembler) Assemble() ([]byte, *kernel.Error) {
	if a.err != nil {
		return nil, a.err
	}

	codeSize := uint32(len(a.code)) * cpu.InstructionSize
	if codeSize+uint32(len(a.data)) > mm.CodePages*mm.PageSize {
		return nil, errImageTooLarge
	}

	for _, f := range a.fixups {
		var target uint32
		if index, ok := a.labels[f.label]; ok {
			target = index * cpu.InstructionSize
		} else if off, ok := a.dataLabels[f.label]; ok && f.absolute {
			target = codeSize + off
		} else {
			return nil, errUndefinedLabel
		}

		if f.absolute {
			a.code[f.index].Imm = mm.CodeBase + target
			continue
		}
		a.code[f.index].Imm = target - uint32(f.index+1)*cpu.InstructionSize
	}

	out := make([]byte, 0, int(codeSize)+len(a.data))
	for _, in := range a.code {
		enc := in.Encode()
		out = append(out, enc[:]...)
	}
	return append(out, a.data...), nil
}
