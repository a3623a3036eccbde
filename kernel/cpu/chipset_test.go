package cpu

import (
	"bytes"
	"testing"
)

func TestPICPriorityAndEOI(t *testing.T) {
	m := testMachine()
	remapPIC(m)
	pic := m.pic

	pic.Raise(4)
	pic.Raise(1)
	pic.Raise(9)

	// IRQ1 wins over IRQ4; IRQ9 cascades through line 2.
	if vec, ok := pic.Acknowledge(); !ok || vec != 0x21 {
		t.Fatalf("expected vector 0x21; got %#x (%t)", vec, ok)
	}
	if _, ok := pic.Acknowledge(); ok {
		t.Fatal("expected lower priority lines to wait for EOI")
	}

	m.PortWriteByte(0x20, 0x20)
	if vec, ok := pic.Acknowledge(); !ok || vec != 0x29 {
		t.Fatalf("expected slave vector 0x29; got %#x (%t)", vec, ok)
	}

	// The slave needs its own EOI before the master line 2 clears.
	m.PortWriteByte(0xa0, 0x20)
	m.PortWriteByte(0x20, 0x20)
	if vec, ok := pic.Acknowledge(); !ok || vec != 0x24 {
		t.Fatalf("expected vector 0x24; got %#x (%t)", vec, ok)
	}
	m.PortWriteByte(0x20, 0x20)

	if _, ok := pic.Acknowledge(); ok {
		t.Fatal("expected no pending interrupts")
	}
}

func TestPICMasks(t *testing.T) {
	m := testMachine()
	remapPIC(m)

	m.PortWriteByte(0x21, 0xfe)
	if got := m.PortReadByte(0x21); got != 0xfe {
		t.Fatalf("expected mask readback 0xfe; got %#x", got)
	}

	m.pic.Raise(1)
	if _, ok := m.pic.Acknowledge(); ok {
		t.Fatal("expected masked line to stay pending")
	}

	// IRR latches requests while masked.
	m.PortWriteByte(0x21, 0)
	if vec, ok := m.pic.Acknowledge(); !ok || vec != 0x21 {
		t.Fatalf("expected vector 0x21 after unmasking; got %#x (%t)", vec, ok)
	}

	m.PortWriteByte(0x20, 0x0b)
	if got := m.PortReadByte(0x20); got != 0x02 {
		t.Fatalf("expected ISR 0x02; got %#x", got)
	}
}

func TestPITDivisor(t *testing.T) {
	specs := []struct {
		lo, hi     uint8
		expDivisor uint32
	}{
		{0x9c, 0x2e, 11932},
		{2, 0, 2},
		{0, 0, 65536},
	}

	for _, spec := range specs {
		fired := 0
		pit := newPIT(func() { fired++ })
		pit.Out(0x43, 0x36)
		pit.Out(0x40, spec.lo)
		pit.Out(0x40, spec.hi)

		if pit.Divisor() != spec.expDivisor {
			t.Errorf("expected divisor %d; got %d", spec.expDivisor, pit.Divisor())
			continue
		}
		for i := uint32(0); i < 3*spec.expDivisor; i++ {
			pit.tick()
		}
		if fired != 3 {
			t.Errorf("[divisor %d] expected 3 terminal counts; got %d", spec.expDivisor, fired)
		}
	}
}

func TestI8042(t *testing.T) {
	irqs := 0
	kbd := newI8042(func() { irqs++ })

	drain := func() []byte {
		var out []byte
		for kbd.In(0x64)&1 != 0 {
			out = append(out, kbd.In(0x60))
		}
		return out
	}

	t.Run("command byte", func(t *testing.T) {
		kbd.Out(0x64, 0x60)
		kbd.Out(0x60, 0x41)
		kbd.Out(0x64, 0x20)
		if got := drain(); !bytes.Equal(got, []byte{0x41}) {
			t.Fatalf("expected command byte readback; got %x", got)
		}
	})

	t.Run("scan code set", func(t *testing.T) {
		irqs = 0
		kbd.Out(0x60, 0xf0)
		kbd.Out(0x60, 0x02)
		if got := drain(); !bytes.Equal(got, []byte{kbdACK, kbdACK}) {
			t.Fatalf("expected two ACKs; got %x", got)
		}
		if kbd.ScanCodeSet() != 2 {
			t.Fatalf("expected set 2; got %d", kbd.ScanCodeSet())
		}
		if irqs == 0 {
			t.Fatal("expected IRQ1 to be raised while enabled in the command byte")
		}
	})

	t.Run("typing", func(t *testing.T) {
		kbd.Type('a')
		kbd.Type('A')
		kbd.Type('!')
		if kbd.Type(0x01) {
			t.Fatal("expected control characters to be rejected")
		}

		exp := []byte{
			0x1c, 0xf0, 0x1c,
			0x12, 0x1c, 0xf0, 0x1c, 0xf0, 0x12,
			0x12, 0x16, 0xf0, 0x16, 0xf0, 0x12,
		}
		if got := drain(); !bytes.Equal(got, exp) {
			t.Fatalf("expected %x; got %x", exp, got)
		}
	})

	t.Run("disabled port", func(t *testing.T) {
		kbd.Out(0x64, 0xad)
		kbd.Type('x')
		if got := drain(); len(got) != 0 {
			t.Fatalf("expected no data from a disabled port; got %x", got)
		}
		kbd.Out(0x64, 0xae)
	})
}

func TestUART(t *testing.T) {
	var host bytes.Buffer
	m := NewMachine(Config{RAMSize: 1 << 20, Serial: &host})

	m.PortWriteByte(COM1Base+3, 0x80)
	m.PortWriteByte(COM1Base, 0x01)
	m.PortWriteByte(COM1Base+1, 0x00)
	m.PortWriteByte(COM1Base+3, 0x03)
	if got := m.Serial().Divisor(); got != 1 {
		t.Fatalf("expected divisor 1; got %d", got)
	}

	if m.PortReadByte(COM1Base+5)&0x20 == 0 {
		t.Fatal("expected an empty transmitter")
	}
	for _, b := range []byte("ok\n") {
		m.PortWriteByte(COM1Base, b)
	}
	if got := host.String(); got != "ok\n" {
		t.Fatalf("expected host to receive %q; got %q", "ok\n", got)
	}
}
