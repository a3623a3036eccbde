// Package sync provides the synchronization primitives used by the kernel.
// The kernel runs on a single CPU so mutual exclusion is achieved by masking
// interrupts for the duration of a critical section.
package sync

// InterruptFlag is implemented by CPUs that can mask maskable interrupts.
type InterruptFlag interface {
	InterruptsEnabled() bool
	DisableInterrupts()
	EnableInterrupts()
}

// IRQLock serializes access to state shared with interrupt handlers.
type IRQLock struct {
	cpu InterruptFlag
}

// NewIRQLock returns a lock that masks interrupts on cpu.
func NewIRQLock(cpu InterruptFlag) *IRQLock {
	return &IRQLock{cpu: cpu}
}

// Do runs fn with interrupts disabled. If interrupts were enabled on entry
// they are enabled again once fn returns; nested sections therefore leave
// interrupts masked until the outermost one completes.
func (l *IRQLock) Do(fn func()) {
	enabled := l.cpu.InterruptsEnabled()
	if enabled {
		l.cpu.DisableInterrupts()
	}

	fn()

	if enabled {
		l.cpu.EnableInterrupts()
	}
}
