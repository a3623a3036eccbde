package gate

import (
	"io"

	"ringos/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an interrupt,
// exception or trap occurred. Fields are ordered by increasing stack address
// of the trap frame built by the collect routine: the general purpose
// registers as saved by PUSHAD, the data segment selectors, the vector and
// error code pushed by the trampoline and finally the frame pushed by the
// CPU. UserESP and UserSS are only meaningful when CS has RPL 3.
type Registers struct {
	EDI uint32
	ESI uint32
	EBP uint32
	ESP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32

	GS uint32
	FS uint32
	ES uint32
	DS uint32

	Vector    uint32
	ErrorCode uint32

	EIP     uint32
	CS      uint32
	EFlags  uint32
	UserESP uint32
	UserSS  uint32

	// CR2 is not part of the frame; it is latched when the frame is
	// collected so page fault handlers see the faulting address.
	CR2 uint32
}

// frameWords is the number of frame slots below the CPU-pushed user stack
// pointer.
const frameWords = 17

// slots returns the frame fields in stack order.
func (r *Registers) slots() []*uint32 {
	return []*uint32{
		&r.EDI, &r.ESI, &r.EBP, &r.ESP, &r.EBX, &r.EDX, &r.ECX, &r.EAX,
		&r.GS, &r.FS, &r.ES, &r.DS,
		&r.Vector, &r.ErrorCode,
		&r.EIP, &r.CS, &r.EFlags,
		&r.UserESP, &r.UserSS,
	}
}

// FromUser reports whether the frame was pushed while the CPU ran in ring 3.
func (r *Registers) FromUser() bool {
	return r.CS&3 == 3
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %08x EBX = %08x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %08x EDX = %08x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %08x EDI = %08x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %08x ESP = %08x\n", r.EBP, r.ESP)
	kfmt.Fprintf(w, "DS  = %04x     ES  = %04x\n", r.DS, r.ES)
	kfmt.Fprintf(w, "FS  = %04x     GS  = %04x\n", r.FS, r.GS)
	kfmt.Fprintf(w, "EIP = %08x CS  = %04x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "EFL = %08x\n", r.EFlags)
	if r.FromUser() {
		kfmt.Fprintf(w, "USP = %08x SS  = %04x\n", r.UserESP, r.UserSS)
	}
	kfmt.Fprintf(w, "ERR = %08x CR2 = %08x\n", r.ErrorCode, r.CR2)
}
