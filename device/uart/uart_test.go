package uart

import (
	"bytes"
	"testing"

	"ringos/kernel/cpu"
)

func TestPort(t *testing.T) {
	var host bytes.Buffer
	m := cpu.NewMachine(cpu.Config{RAMSize: 1 << 20, Serial: &host})
	p := New(m, cpu.COM1Base)

	var log bytes.Buffer
	if err := p.DriverInit(&log); err != nil {
		t.Fatal(err)
	}
	if got := m.Serial().Divisor(); got != 1 {
		t.Fatalf("expected divisor 1; got %d", got)
	}
	if exp := "port 0x3f8, 115200 8N1\n"; log.String() != exp {
		t.Fatalf("expected %q; got %q", exp, log.String())
	}

	if n, err := p.Write([]byte("hello\n")); err != nil || n != 6 {
		t.Fatalf("expected to write 6 bytes; got %d, %v", n, err)
	}
	if host.String() != "hello\n" {
		t.Fatalf("expected host to receive hello; got %q", host.String())
	}
}

type busyPort struct{}

func (busyPort) PortWriteByte(uint16, uint8) {}
func (busyPort) PortReadByte(uint16) uint8   { return 0 }

func TestPortTimeout(t *testing.T) {
	n, err := New(busyPort{}, cpu.COM1Base).Write([]byte("x"))
	if n != 0 || err != errTimeout {
		t.Fatalf("expected a timeout; got %d, %v", n, err)
	}
}

func TestProbe(t *testing.T) {
	m := cpu.NewMachine(cpu.Config{RAMSize: 1 << 20})
	if Probe(m, cpu.COM1Base) == nil {
		t.Fatal("expected the COM1 UART to be detected")
	}
	if Probe(busyPort{}, cpu.COM1Base) != nil {
		t.Fatal("expected probe to fail when the scratch register does not respond")
	}
}
