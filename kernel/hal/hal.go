// Package hal probes the board for devices, initializes their drivers and
// routes their interrupt lines to the dispatch core.
package hal

import (
	"bytes"
	"io"
	"sort"

	"github.com/Masterminds/semver/v3"

	"ringos/device"
	"ringos/device/pic"
	"ringos/device/pit"
	"ringos/device/ps2"
	"ringos/device/tty"
	"ringos/device/uart"
	"ringos/device/video/console"
	"ringos/kernel"
	"ringos/kernel/cpu"
	"ringos/kernel/gate"
	"ringos/kernel/kfmt"
	"ringos/kernel/sync"
)

// PIC vector offsets. IRQ0-7 land on 0x20-0x27 and IRQ8-15 on 0x28-0x2f.
const (
	MasterVectorOffset = uint8(0x20)
	SlaveVectorOffset  = uint8(0x28)
)

// Legacy IRQ lines.
const (
	IRQTimer    = uint8(0)
	IRQKeyboard = uint8(1)
)

var (
	// driverConstraint rejects drivers older than the first release of
	// the device.Driver contract.
	driverConstraint = mustConstraint(">= 0.1.0")

	errNoPIC = &kernel.Error{Module: "hal", Message: "no interrupt controller found"}
)

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// Board is the hardware the device manager drives.
type Board interface {
	device.PortIO
	console.PhysicalMemory

	// Framebuffer returns the address and dimensions of the linear
	// framebuffer reported by the boot stub.
	Framebuffer() (addr, width, height uint32)

	// ReadTSC returns the time-stamp counter.
	ReadTSC() uint64

	// Relax executes a PAUSE inside a spin loop.
	Relax()
}

// DeviceManager owns the drivers found on the board.
type DeviceManager struct {
	board Board
	gates *gate.Dispatcher
	lock  *sync.IRQLock

	activeConsole console.Device
	activeTTY     *tty.VT
	serial        *uart.Port
	pic           *pic.ChainedPICs
	keyboard      *ps2.Keyboard
	timer         *pit.Timer

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver

	sink   io.Writer
	strBuf bytes.Buffer
}

// NewDeviceManager returns a device manager for board. IRQ handlers are
// installed into gates and drivers that share state with interrupt handlers
// use lock.
func NewDeviceManager(board Board, gates *gate.Dispatcher, lock *sync.IRQLock) *DeviceManager {
	return &DeviceManager{board: board, gates: gates, lock: lock}
}

// InitConsole probes the output devices: the framebuffer console (or the
// legacy text console on boards without a framebuffer), the terminal on top
// of it and the serial port. Once it returns kfmt output
// (including everything buffered so far) goes to all of them.
func (dm *DeviceManager) InitConsole() {
	dm.probe(device.DriverInfoList{
		{Order: device.DetectOrderEarly, Probe: dm.probeForFbConsole},
		{Order: device.DetectOrderEarly, Probe: dm.probeForEgaConsole},
		{Order: device.DetectOrderEarly, Probe: dm.probeForVT},
		{Order: device.DetectOrderEarly, Probe: dm.probeForSerial},
	})

	var sinks []io.Writer
	if dm.activeTTY != nil && dm.activeConsole != nil {
		sinks = append(sinks, dm.activeTTY)
	}
	if dm.serial != nil {
		sinks = append(sinks, dm.serial)
	}

	switch len(sinks) {
	case 0:
		dm.sink = io.Discard
	case 1:
		dm.sink = sinks[0]
	default:
		dm.sink = io.MultiWriter(sinks...)
	}
	kfmt.SetOutputSink(dm.sink)
}

// InitDevices programs the interrupt controllers (remapped and fully
// masked), the PS/2 keyboard whose IRQ line is routed and unmasked, and the
// interval timer at freq Hz. The timer line stays masked until somebody
// calls HandleIRQ for it.
func (dm *DeviceManager) InitDevices(freq uint32) *kernel.Error {
	if _, err := pit.Divisor(freq); err != nil {
		return err
	}

	dm.probe(device.DriverInfoList{
		{Order: device.DetectOrderNormal, Probe: dm.probeForKeyboard},
		{Order: device.DetectOrderNormal, Probe: func() device.Driver { return pit.New(dm.board, freq) }},
		{Order: device.DetectOrderInterruptController, Probe: dm.probeForPIC},
	})

	if dm.pic == nil {
		return errNoPIC
	}

	if dm.keyboard != nil {
		kbd := dm.keyboard
		dm.HandleIRQ(kbd.IRQ(), func(_ *gate.Registers) {
			kbd.HandleIRQ()
		})
	}
	return nil
}

// HandleIRQ routes IRQ line irq to handler and unmasks it. The interrupt
// is acknowledged before handler runs since handlers that switch contexts
// never return.
func (dm *DeviceManager) HandleIRQ(irq uint8, handler gate.Handler) {
	chips := dm.pic
	dm.gates.HandleInterrupt(gate.InterruptNumber(chips.Vector(irq)), func(regs *gate.Registers) {
		chips.SendEOI(irq)
		handler(regs)
	})
	chips.EnableIRQ(irq)
}

// SpinWait relaxes the CPU until done reports true or timeout TSC cycles
// elapse. It reports whether done was satisfied. Interrupts are serviced
// while spinning if EFLAGS.IF is set.
func (dm *DeviceManager) SpinWait(timeout uint64, done func() bool) bool {
	start := dm.board.ReadTSC()
	for !done() {
		if dm.board.ReadTSC()-start >= timeout {
			return done()
		}
		dm.board.Relax()
	}
	return true
}

// Delay spins for ms milliseconds.
func (dm *DeviceManager) Delay(ms uint32) {
	dm.SpinWait(uint64(ms)*cpu.PITFrequency/1000, func() bool { return false })
}

// OutputSink returns the writer set up by InitConsole.
func (dm *DeviceManager) OutputSink() io.Writer { return dm.sink }

// Console returns the active console or nil.
func (dm *DeviceManager) Console() console.Device { return dm.activeConsole }

// Terminal returns the active terminal or nil.
func (dm *DeviceManager) Terminal() *tty.VT { return dm.activeTTY }

// Keyboard returns the PS/2 keyboard or nil if none was found.
func (dm *DeviceManager) Keyboard() *ps2.Keyboard { return dm.keyboard }

// Timer returns the interval timer or nil.
func (dm *DeviceManager) Timer() *pit.Timer { return dm.timer }

// Drivers returns the initialized drivers in probe order.
func (dm *DeviceManager) Drivers() []device.Driver { return dm.activeDrivers }

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func (dm *DeviceManager) probe(list device.DriverInfoList) {
	sort.Stable(list)
	var w = kfmt.PrefixWriter{Sink: kfmt.Output()}

	for _, info := range list {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		dm.strBuf.Reset()
		kfmt.Fprintf(&dm.strBuf, "[hal] %s(%s): ", drv.DriverName(), drv.DriverVersion())
		w.Prefix = dm.strBuf.Bytes()

		if !driverConstraint.Check(drv.DriverVersion()) {
			kfmt.Fprintf(&w, "unsupported driver version\n")
			continue
		}

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		dm.onDriverInit(drv)
		dm.activeDrivers = append(dm.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized.
func (dm *DeviceManager) onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case console.Device:
		if dm.activeConsole == nil {
			dm.activeConsole = drvImpl
			dm.linkTTYToConsole()
		}
	case *tty.VT:
		if dm.activeTTY == nil {
			dm.activeTTY = drvImpl
			dm.linkTTYToConsole()
		}
	case *uart.Port:
		dm.serial = drvImpl
	case *pic.ChainedPICs:
		dm.pic = drvImpl
	case *ps2.Keyboard:
		dm.keyboard = drvImpl
	case *pit.Timer:
		dm.timer = drvImpl
	}
}

// linkTTYToConsole connects the active TTY device to the active console device
// and syncs their contents.
func (dm *DeviceManager) linkTTYToConsole() {
	if dm.activeTTY == nil || dm.activeConsole == nil {
		return
	}

	dm.activeTTY.AttachTo(dm.activeConsole)
	dm.activeTTY.SetState(tty.StateActive)
}

func (dm *DeviceManager) probeForFbConsole() device.Driver {
	addr, width, height := dm.board.Framebuffer()
	if width == 0 || height == 0 {
		return nil
	}
	return console.NewFbConsole(dm.board, addr, width, height)
}

func (dm *DeviceManager) probeForEgaConsole() device.Driver {
	if _, width, height := dm.board.Framebuffer(); width != 0 && height != 0 {
		return nil
	}
	return console.NewEgaConsole(dm.board, console.EgaTextAddr, console.EgaTextWidth, console.EgaTextHeight)
}

func (dm *DeviceManager) probeForVT() device.Driver {
	return tty.NewVT(tty.DefaultTabWidth)
}

func (dm *DeviceManager) probeForSerial() device.Driver {
	if port := uart.Probe(dm.board, cpu.COM1Base); port != nil {
		return port
	}
	return nil
}

func (dm *DeviceManager) probeForPIC() device.Driver {
	return pic.New(dm.board, MasterVectorOffset, SlaveVectorOffset)
}

func (dm *DeviceManager) probeForKeyboard() device.Driver {
	return ps2.New(dm.board, dm.lock)
}
