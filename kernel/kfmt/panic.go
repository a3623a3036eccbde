package kfmt

import (
	"ringos/kernel"
)

var (
	// cpuHaltFn is replaced at boot with the halt routine of the boot CPU
	// and mocked by tests.
	cpuHaltFn = func() {
		panic("kfmt: halt requested before a CPU was attached")
	}

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFn installs the function Panic calls to stop the CPU.
func SetHaltFn(fn func()) {
	cpuHaltFn = fn
}

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("[" + ansiRed + "KERNEL PANIC" + ansiDefault + "] system halted")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
