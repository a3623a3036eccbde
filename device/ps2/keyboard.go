// Package ps2 drives the 8042 PS/2 controller and the keyboard attached to
// its first port.
package ps2

import (
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/device"
	"ringos/kernel"
	"ringos/kernel/kfmt"
	"ringos/kernel/ringbuf"
	"ringos/kernel/sync"
)

const (
	dataPort    = uint16(0x60)
	commandPort = uint16(0x64)
	statusPort  = commandPort
	ioWait      = uint16(0x80)

	statusOutputFull = uint8(1 << 0)

	cmdReadCommandByte  = uint8(0x20)
	cmdWriteCommandByte = uint8(0x60)
	cmdSelfTest         = uint8(0xaa)
	cmdDisablePort      = uint8(0xad)
	cmdEnablePort       = uint8(0xae)

	kbdSetScanCodeSet = uint8(0xf0)

	respSelfTestOK = uint8(0x55)
	respACK        = uint8(0xfa)

	// first port interrupt enabled, translation off
	commandByte = uint8(1 << 0)

	// pollLimit bounds every wait for controller output.
	pollLimit = 1024

	// QueueSize is the number of buffered key presses. The oldest key is
	// dropped on overflow.
	QueueSize = 1024
)

var (
	version = semver.MustParse("1.1.0")

	errTimeout      = &kernel.Error{Module: "ps2", Message: "controller timeout"}
	errSelfTest     = &kernel.Error{Module: "ps2", Message: "controller self-test failed"}
	errNoACK        = &kernel.Error{Module: "ps2", Message: "keyboard did not acknowledge command"}
	errScanCodeMode = &kernel.Error{Module: "ps2", Message: "keyboard rejected scan code set 2"}
)

// Keyboard is the PS/2 keyboard driver. Key presses decoded by the IRQ1
// handler are queued until ReadKey consumes them.
type Keyboard struct {
	port   device.PortIO
	lock   *sync.IRQLock
	parser Parser
	queue  *ringbuf.Ring[byte]
}

// New returns a keyboard driver. The key queue is guarded by lock.
func New(port device.PortIO, lock *sync.IRQLock) *Keyboard {
	return &Keyboard{
		port:  port,
		lock:  lock,
		queue: ringbuf.New[byte](QueueSize),
	}
}

// IRQ is the interrupt line of the keyboard.
func (k *Keyboard) IRQ() uint8 { return 1 }

// HandleIRQ reads one scan code from the controller and queues the key it
// completes.
func (k *Keyboard) HandleIRQ() {
	code := k.port.PortReadByte(dataPort)
	if ch, ok := k.parser.Feed(code); ok {
		k.lock.Do(func() {
			k.queue.Push(ch)
		})
	}
}

// ReadKey pops the oldest queued key press.
func (k *Keyboard) ReadKey() (ch byte, ok bool) {
	k.lock.Do(func() {
		ch, ok = k.queue.Pop()
	})
	return ch, ok
}

// Pending returns the number of queued key presses.
func (k *Keyboard) Pending() int {
	var n int
	k.lock.Do(func() {
		n = k.queue.Len()
	})
	return n
}

func (k *Keyboard) write(port uint16, v uint8) {
	k.port.PortWriteByte(port, v)
	k.port.PortWriteByte(ioWait, 0)
}

func (k *Keyboard) read() (uint8, *kernel.Error) {
	for i := 0; i < pollLimit; i++ {
		if k.port.PortReadByte(statusPort)&statusOutputFull != 0 {
			return k.port.PortReadByte(dataPort), nil
		}
		k.port.PortWriteByte(ioWait, 0)
	}
	return 0, errTimeout
}

func (k *Keyboard) flush() {
	for i := 0; i < pollLimit && k.port.PortReadByte(statusPort)&statusOutputFull != 0; i++ {
		k.port.PortReadByte(dataPort)
	}
}

func (k *Keyboard) expect(resp uint8, err *kernel.Error) *kernel.Error {
	got, rerr := k.read()
	if rerr != nil {
		return rerr
	}
	if got != resp {
		return err
	}
	return nil
}

// DriverName returns the name of this driver.
func (k *Keyboard) DriverName() string {
	return "ps2_keyboard"
}

// DriverVersion returns the version of this driver.
func (k *Keyboard) DriverVersion() *semver.Version {
	return version
}

// DriverInit tests the controller, switches the keyboard to scan code set 2
// and enables IRQ1 generation.
func (k *Keyboard) DriverInit(w io.Writer) *kernel.Error {
	k.write(commandPort, cmdDisablePort)
	k.flush()

	k.write(commandPort, cmdSelfTest)
	if err := k.expect(respSelfTestOK, errSelfTest); err != nil {
		return err
	}

	k.write(dataPort, kbdSetScanCodeSet)
	if err := k.expect(respACK, errNoACK); err != nil {
		return err
	}
	k.write(dataPort, 2)
	if err := k.expect(respACK, errScanCodeMode); err != nil {
		return err
	}

	k.write(commandPort, cmdReadCommandByte)
	prev, err := k.read()
	if err != nil {
		return err
	}
	k.write(commandPort, cmdWriteCommandByte)
	k.write(dataPort, commandByte)

	k.write(commandPort, cmdEnablePort)
	kfmt.Fprintf(w, "scan code set 2, command byte %#02x -> %#02x\n", prev, commandByte)
	return nil
}
