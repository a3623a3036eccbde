package sync

import "testing"

type mockCPU struct {
	enabled      bool
	disableCalls int
	enableCalls  int
}

func (c *mockCPU) InterruptsEnabled() bool { return c.enabled }
func (c *mockCPU) DisableInterrupts()      { c.enabled = false; c.disableCalls++ }
func (c *mockCPU) EnableInterrupts()       { c.enabled = true; c.enableCalls++ }

func TestIRQLock(t *testing.T) {
	specs := []struct {
		enabledOnEntry bool
		expCalls       int
	}{
		{true, 1},
		{false, 0},
	}

	for _, spec := range specs {
		cpu := &mockCPU{enabled: spec.enabledOnEntry}
		lock := NewIRQLock(cpu)

		var sawEnabled bool
		lock.Do(func() {
			sawEnabled = cpu.InterruptsEnabled()
		})

		if sawEnabled {
			t.Errorf("[enabled on entry: %t] expected interrupts to be masked inside the critical section", spec.enabledOnEntry)
		}
		if cpu.enabled != spec.enabledOnEntry {
			t.Errorf("[enabled on entry: %t] expected interrupt flag to be restored", spec.enabledOnEntry)
		}
		if cpu.disableCalls != spec.expCalls || cpu.enableCalls != spec.expCalls {
			t.Errorf("[enabled on entry: %t] expected %d cli/sti pairs; got %d/%d", spec.enabledOnEntry, spec.expCalls, cpu.disableCalls, cpu.enableCalls)
		}
	}
}

func TestIRQLockNested(t *testing.T) {
	cpu := &mockCPU{enabled: true}
	lock := NewIRQLock(cpu)

	lock.Do(func() {
		lock.Do(func() {})
		if cpu.enabled {
			t.Fatal("expected inner section to leave interrupts masked")
		}
	})

	if !cpu.enabled {
		t.Fatal("expected outer section to restore the interrupt flag")
	}
}
