// Package kmain contains the kernel entry point and the boot context that
// ties all subsystems together.
package kmain

import (
	"ringos/kernel"
	"ringos/kernel/cpu"
	"ringos/kernel/gate"
	"ringos/kernel/gdt"
	"ringos/kernel/hal"
	"ringos/kernel/kfmt"
	"ringos/kernel/mm"
	"ringos/kernel/mm/pmm"
	"ringos/kernel/mm/vmm"
	"ringos/kernel/proc"
	"ringos/kernel/sync"
	"ringos/userspace"
)

// Boot command line defaults.
const (
	DefaultTimerFreq   = 100
	DefaultReadWaitMs  = 100
	DefaultFaultPolicy = "respawn"
)

var (
	errKmainReturned     = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNotEnoughMemory   = &kernel.Error{Module: "kmain", Message: "not enough memory for the page pool"}
	errFramebufferWindow = &kernel.Error{Module: "kmain", Message: "framebuffer window overlaps RAM"}
)

// Kernel is the boot context. It is built once by New and every subsystem
// receives what it needs from it.
type Kernel struct {
	CPU     *cpu.Machine
	CmdLine hal.CmdLine

	GDT     *gdt.Table
	Gates   *gate.Dispatcher
	Lock    *sync.IRQLock
	Devices *hal.DeviceManager
	Pool    *pmm.Pool
	Paging  *vmm.Manager
	Procs   *proc.Table
}

// New returns the boot context for the board m booted with cmdLine.
func New(m *cpu.Machine, cmdLine string) *Kernel {
	return &Kernel{
		CPU:     m,
		CmdLine: hal.ParseCmdLine(cmdLine),
	}
}

// Kmain brings up the kernel and hands the CPU over to the first process
// built from images. The procs= parameter selects which images to run and in
// which order; by default every image is run. Each process receives its name
// followed by the comma-separated list passed as <name>.args= as arguments.
//
// Kmain is not expected to return. If it does, the kernel panics.
func (k *Kernel) Kmain(images []userspace.Image) {
	m := k.CPU
	kfmt.SetHaltFn(m.Halt)

	k.GDT = gdt.New(mm.KernelStackTop, mm.TSSAddr)
	k.GDT.Install(m, mm.GDTAddr)

	k.Gates = gate.New(m, mm.IDTAddr)
	k.Gates.Init()

	k.Lock = sync.NewIRQLock(m)
	k.Devices = hal.NewDeviceManager(m, k.Gates, k.Lock)
	k.Devices.InitConsole()
	kfmt.Infof("ringos starting")

	var err *kernel.Error
	if err = k.initMemory(); err != nil {
		kfmt.Panic(err)
	}

	freq, err := k.CmdLine.Uint("timer", DefaultTimerFreq)
	if err != nil {
		kfmt.Panic(err)
	}
	if err = k.Devices.InitDevices(freq); err != nil {
		kfmt.Panic(err)
	}

	if err = k.initProcs(); err != nil {
		kfmt.Panic(err)
	}
	if err = k.loadImages(images); err != nil {
		kfmt.Panic(err)
	}

	m.EnableInterrupts()
	kfmt.Infof("starting %d process(es), timer at %d Hz, onfault=%s", len(k.Procs.Processes()), freq, k.Procs.Policy())
	k.Procs.Start()

	kfmt.Panic(errKmainReturned)
}

// initMemory sets up the page pool over the RAM above mm.ArenaStart
// (optionally capped by mem= in MiB) and enables paging with the kernel
// directory.
func (k *Kernel) initMemory() *kernel.Error {
	ramEnd := k.CPU.RAMSize()
	memMiB, err := k.CmdLine.Uint("mem", 0)
	if err != nil {
		return err
	}
	if memMiB != 0 {
		if limit := uint64(memMiB) << 20; limit < uint64(ramEnd) {
			ramEnd = uint32(limit)
		} else {
			kfmt.Warnf("mem=%d exceeds installed RAM (%d MiB); ignoring", memMiB, ramEnd>>20)
		}
	}
	if ramEnd <= mm.ArenaStart {
		return errNotEnoughMemory
	}

	fbAddr, fbWidth, fbHeight := k.CPU.Framebuffer()
	fbSize := fbWidth * fbHeight * 4
	if fbSize != 0 && fbAddr < ramEnd {
		return errFramebufferWindow
	}

	k.Pool = pmm.NewPool(mm.FrameFromAddress(mm.ArenaStart), mm.FrameFromAddress(ramEnd), k.Lock)
	k.Paging = vmm.NewManager(k.CPU, k.Pool, fbAddr, fbSize)
	if _, err = k.Paging.InitKernelPaging(); err != nil {
		return err
	}

	kfmt.Infof("page pool: [%#x, %#x), %d frames", mm.ArenaStart, ramEnd, (ramEnd-mm.ArenaStart)>>mm.PageShift)
	return nil
}

// initProcs builds the process table and installs its fault, system call
// and timer handlers.
func (k *Kernel) initProcs() *kernel.Error {
	policy, err := proc.ParsePolicy(k.CmdLine.String("onfault", DefaultFaultPolicy))
	if err != nil {
		return err
	}

	readWait, err := k.CmdLine.Uint("readwait", DefaultReadWaitMs)
	if err != nil {
		return err
	}

	cfg := proc.Config{
		CPU:         k.CPU,
		Gates:       k.Gates,
		Paging:      k.Paging,
		Devices:     k.Devices,
		Policy:      policy,
		ReadTimeout: uint64(readWait) * cpu.PITFrequency / 1000,
	}
	if kbd := k.Devices.Keyboard(); kbd != nil {
		cfg.Keys = kbd
	}

	k.Procs = proc.NewTable(cfg)
	k.Procs.Install()
	return nil
}

// loadImages copies the selected images to their physical origins and
// creates a process for each of them.
func (k *Kernel) loadImages(images []userspace.Image) *kernel.Error {
	byName := make(map[string]userspace.Image, len(images))
	var names []string
	for _, img := range images {
		byName[img.Name] = img
		names = append(names, img.Name)
	}
	if _, ok := k.CmdLine["procs"]; ok {
		names = k.CmdLine.List("procs")
	}

	for _, name := range names {
		img, ok := byName[name]
		if !ok {
			kfmt.Warnf("no image named %q; skipping", name)
			continue
		}

		slot := len(k.Procs.Processes())
		if slot >= mm.MaxImages {
			kfmt.Warnf("too many processes; skipping %q", name)
			continue
		}

		origin := mm.ImageOrigin(slot)
		k.CPU.WritePhys(origin, img.Code)

		p, err := k.Procs.New(name, origin, k.Devices.OutputSink())
		if err != nil {
			return err
		}
		if err = p.Init(append([]string{name}, k.CmdLine.List(name+".args")...)); err != nil {
			return err
		}
	}

	// Init leaves paging disabled.
	k.Paging.EnablePaging()
	return nil
}
