package userspace

import (
	"sort"

	"ringos/kernel"
	"ringos/kernel/cpu"
)

// System call numbers as seen from ring 3.
const (
	sysExit     = 1
	sysRead     = 3
	sysWrite    = 4
	sysFbAddr   = 10
	sysFbWidth  = 11
	sysFbHeight = 12

	debugTrap = 0x30
)

var errUnknownProgram = &kernel.Error{Module: "userspace", Message: "unknown program"}

// Image is an assembled program ready to be copied to its physical origin.
type Image struct {
	Name string
	Code []byte
}

// programs lists the build-baked programs by name.
var programs = map[string]func(*Assembler){
	"hello":   hello,
	"counter": counter,
	"npe":     nullDeref,
	"stack":   stackGrowth,
	"echo":    echo,
	"paint":   paint,
	"badptr":  badPointer,
	"priv":    privileged,
	"badop":   badOpcode,
}

// Names returns the names of all programs in lexical order.
func Names() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build assembles the named program.
func Build(name string) (Image, *kernel.Error) {
	gen, ok := programs[name]
	if !ok {
		return Image{}, errUnknownProgram
	}

	a := NewAssembler()
	gen(a)
	code, err := a.Assemble()
	if err != nil {
		return Image{}, err
	}
	return Image{Name: name, Code: code}, nil
}

// strlen leaves the length of the NUL-terminated string at EBX in ECX.
// It clobbers EDX and EBP.
func strlen(a *Assembler) {
	a.Label("strlen").
		MovImm(cpu.ECX, 0).
		Mov(cpu.EBP, cpu.EBX).
		Label("strlen_loop").
		LoadByte(cpu.EDX, cpu.EBP, 0).
		Jz(cpu.EDX, "strlen_done").
		AddImm(cpu.EBP, 1).
		AddImm(cpu.ECX, 1).
		Jmp("strlen_loop").
		Label("strlen_done").
		Ret()
}

// exit terminates with code.
func exit(a *Assembler, code uint32) {
	a.MovImm(cpu.EBX, code).Syscall(sysExit)
}

// hello greets and prints its arguments one per line.
func hello(a *Assembler) {
	greeting := "Hello from ring 3!\n"
	a.Mov(cpu.ESI, cpu.EAX).
		Mov(cpu.EDI, cpu.ECX).
		Lea(cpu.EBX, "greeting").
		MovImm(cpu.ECX, uint32(len(greeting))).
		Syscall(sysWrite).
		Label("next").
		Jz(cpu.ESI, "done").
		Load(cpu.EBX, cpu.EDI, 0).
		Call("strlen").
		Syscall(sysWrite).
		Lea(cpu.EBX, "newline").
		MovImm(cpu.ECX, 1).
		Syscall(sysWrite).
		AddImm(cpu.EDI, 4).
		AddImm(cpu.ESI, -1).
		Jmp("next").
		Label("done")
	exit(a, 0)
	strlen(a)

	a.Data("greeting", []byte(greeting)).
		Data("newline", []byte("\n"))
}

// counter reports an increasing counter through the debug trap forever.
func counter(a *Assembler) {
	a.MovImm(cpu.EBX, 0).
		Label("loop").
		AddImm(cpu.EBX, 1).
		Mov(cpu.EAX, cpu.EBX).
		Int(debugTrap).
		MovImm(cpu.ECX, 2000).
		Label("delay").
		AddImm(cpu.ECX, -1).
		Jnz(cpu.ECX, "delay").
		Jmp("loop")
}

// nullDeref reads through a null pointer.
func nullDeref(a *Assembler) {
	a.MovImm(cpu.EBX, 0).
		Load(cpu.EAX, cpu.EBX, 0)
	exit(a, 0)
}

// stackGrowth pushes 16 KiB onto its stack, then touches an address in the
// guard band below the stack, reports success and exits.
func stackGrowth(a *Assembler) {
	msg := "stack ok\n"
	a.MovImm(cpu.ECX, 4096).
		Label("push").
		Push(cpu.ECX).
		AddImm(cpu.ECX, -1).
		Jnz(cpu.ECX, "push").
		MovImm(cpu.EBX, 0x7f0000).
		Store(cpu.EBX, cpu.EBX, 0).
		Lea(cpu.EBX, "msg").
		MovImm(cpu.ECX, uint32(len(msg))).
		Syscall(sysWrite)
	exit(a, 0)

	a.Data("msg", []byte(msg))
}

// echo copies key presses to its output.
func echo(a *Assembler) {
	a.Lea(cpu.EDI, "buf").
		Label("loop").
		Syscall(sysRead).
		Jz(cpu.EAX, "loop").
		StoreByte(cpu.EAX, cpu.EDI, 0).
		Mov(cpu.EBX, cpu.EDI).
		MovImm(cpu.ECX, 1).
		Syscall(sysWrite).
		Jmp("loop")

	a.Data("buf", make([]byte, 4))
}

// paint fills the top 16 rows of the framebuffer and exits.
func paint(a *Assembler) {
	a.Syscall(sysFbAddr).
		Mov(cpu.EDI, cpu.EAX).
		Syscall(sysFbWidth).
		Mov(cpu.ESI, cpu.EAX).
		MovImm(cpu.EDX, 0x00336699).
		MovImm(cpu.EBP, 16).
		Label("row").
		Mov(cpu.ECX, cpu.ESI).
		Label("pixel").
		Store(cpu.EDX, cpu.EDI, 0).
		AddImm(cpu.EDI, 4).
		AddImm(cpu.ECX, -1).
		Jnz(cpu.ECX, "pixel").
		AddImm(cpu.EBP, -1).
		Jnz(cpu.EBP, "row")
	exit(a, 0)
}

// badPointer passes invalid buffers to write and reports each result
// through the debug trap before exiting with code 7.
func badPointer(a *Assembler) {
	msg := "still alive\n"
	a.MovImm(cpu.EBX, 0).
		MovImm(cpu.ECX, 5).
		Syscall(sysWrite).
		Int(debugTrap).
		MovImm(cpu.EBX, 0x100000).
		MovImm(cpu.ECX, 5).
		Syscall(sysWrite).
		Int(debugTrap).
		Syscall(99).
		Int(debugTrap).
		Lea(cpu.EBX, "msg").
		MovImm(cpu.ECX, uint32(len(msg))).
		Syscall(sysWrite)
	exit(a, 7)

	a.Data("msg", []byte(msg))
}

// privileged executes HLT in ring 3.
func privileged(a *Assembler) {
	a.Raw(cpu.Instruction{Op: cpu.OpHlt})
	exit(a, 0)
}

// badOpcode executes an undefined instruction.
func badOpcode(a *Assembler) {
	a.Raw(cpu.Instruction{Op: 0xfe})
	exit(a, 0)
}
