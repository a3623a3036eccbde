package cpu

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a ring 3 instruction opcode. User programs are encoded in a
// fixed 8-byte format: opcode, two register operands, a padding byte and a
// little-endian 32-bit immediate.
type Opcode uint8

// The instruction set.
const (
	OpNop Opcode = iota
	OpMovImm
	OpMov
	OpAddImm
	OpAdd
	OpSub
	OpLoad
	OpStore
	OpLoadByte
	OpStoreByte
	OpPush
	OpPop
	OpCall
	OpRet
	OpJmp
	OpJz
	OpJnz
	OpInt
	OpHlt
	OpCli
	OpSti
	OpOut
	OpIn
	numOpcodes
)

// InstructionSize is the encoded size of every instruction.
const InstructionSize = 8

var opNames = [numOpcodes]string{
	"nop", "mov", "mov", "add", "add", "sub", "load", "store", "loadb",
	"storeb", "push", "pop", "call", "ret", "jmp", "jz", "jnz", "int",
	"hlt", "cli", "sti", "out", "in",
}

// Instruction is a decoded instruction. Load/Store address memory at
// B+Imm. Jumps and calls are relative to the next instruction.
type Instruction struct {
	Op  Opcode
	A   Reg
	B   Reg
	Imm uint32
}

// Encode returns the wire form of the instruction.
func (i Instruction) Encode() [InstructionSize]byte {
	var out [InstructionSize]byte
	out[0], out[1], out[2] = uint8(i.Op), uint8(i.A), uint8(i.B)
	binary.LittleEndian.PutUint32(out[4:], i.Imm)
	return out
}

// DecodeInstruction parses the wire form of an instruction.
func DecodeInstruction(b [InstructionSize]byte) Instruction {
	return Instruction{
		Op:  Opcode(b[0]),
		A:   Reg(b[1]),
		B:   Reg(b[2]),
		Imm: binary.LittleEndian.Uint32(b[4:]),
	}
}

// String implements fmt.Stringer.
func (i Instruction) String() string {
	if i.Op >= numOpcodes {
		return fmt.Sprintf("(bad) %#02x", uint8(i.Op))
	}
	return fmt.Sprintf("%s %s, %s, %#x", opNames[i.Op], i.A, i.B, i.Imm)
}
