// Command ringos boots the kernel on the emulated board and runs it either
// for a fixed number of CPU cycles or interactively with the host terminal
// acting as the PS/2 keyboard.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ringos/kernel/cpu"
	"ringos/kernel/kmain"
	"ringos/kernel/mm"
	"ringos/userspace"
)

// chunkSteps is the number of cycles run between two polls of the host
// keyboard in interactive mode (10ms of emulated time).
const chunkSteps = cpu.PITFrequency / 100

// ctrlC ends an interactive session.
const ctrlC = 0x03

type options struct {
	timer    uint
	onFault  string
	memMiB   uint
	procs    string
	args     argList
	cmdLine  string
	steps    int
	interact bool
	png      string
	dump     bool
	fbWidth  uint
	fbHeight uint
}

// argList collects repeated -args name=a,b flags.
type argList []string

func (l *argList) String() string { return strings.Join(*l, " ") }

func (l *argList) Set(v string) error {
	name, list, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return errors.New("expected name=arg1,arg2")
	}
	*l = append(*l, name+".args="+list)
	return nil
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[ringos] error: %s\n", err.Error())
	os.Exit(1)
}

func parseFlags(args []string) (*options, error) {
	var opts options
	fs := flag.NewFlagSet("ringos", flag.ContinueOnError)
	fs.UintVar(&opts.timer, "timer", kmain.DefaultTimerFreq, "timer interrupt frequency in Hz")
	fs.StringVar(&opts.onFault, "onfault", kmain.DefaultFaultPolicy, "what to do with faulting processes: respawn or kill")
	fs.UintVar(&opts.memMiB, "mem", uint(mm.DefaultRAMSize>>20), "installed RAM in MiB")
	fs.StringVar(&opts.procs, "procs", "hello", "comma-separated list of programs to run ("+strings.Join(userspace.Names(), ", ")+")")
	fs.Var(&opts.args, "args", "arguments for a program as name=arg1,arg2 (repeatable)")
	fs.StringVar(&opts.cmdLine, "cmdline", "", "extra key=value pairs appended to the boot command line")
	fs.IntVar(&opts.steps, "steps", 5*cpu.PITFrequency, "number of CPU cycles to run in batch mode")
	fs.BoolVar(&opts.interact, "i", false, "run interactively, feeding the terminal to the keyboard")
	fs.StringVar(&opts.png, "png", "", "write a snapshot of the framebuffer to this PNG file on exit")
	fs.BoolVar(&opts.dump, "dump", false, "print the console contents on exit")
	fs.UintVar(&opts.fbWidth, "fb-width", mm.DefaultFramebufferWidth, "framebuffer width; 0 disables the framebuffer")
	fs.UintVar(&opts.fbHeight, "fb-height", mm.DefaultFramebufferHeight, "framebuffer height")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.memMiB == 0 || opts.memMiB > 1024 {
		return nil, fmt.Errorf("-mem must be between 1 and 1024; got %d", opts.memMiB)
	}
	return &opts, nil
}

// bootCmdLine renders the options as a kernel command line.
func (opts *options) bootCmdLine() string {
	parts := []string{
		fmt.Sprintf("timer=%d", opts.timer),
		"onfault=" + opts.onFault,
		"procs=" + opts.procs,
	}
	parts = append(parts, opts.args...)
	if opts.cmdLine != "" {
		parts = append(parts, opts.cmdLine)
	}
	return strings.Join(parts, " ")
}

func buildImages() ([]userspace.Image, error) {
	var images []userspace.Image
	for _, name := range userspace.Names() {
		img, err := userspace.Build(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", name, err.Message)
		}
		images = append(images, img)
	}
	return images, nil
}

// finished reports whether every process has terminated.
func finished(k *kmain.Kernel) bool {
	if k.Procs == nil {
		return false
	}
	for _, p := range k.Procs.Processes() {
		if p.Alive() {
			return false
		}
	}
	return true
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return nil
	} else if err != nil {
		return err
	}

	images, err := buildImages()
	if err != nil {
		return err
	}

	var (
		out     io.Writer = os.Stdout
		restore func()
		keys    <-chan byte
	)
	if opts.interact {
		if restore, err = makeRaw(int(os.Stdin.Fd())); err != nil {
			return err
		}
		defer restore()
		out = crlfWriter{w: os.Stdout}
		keys = readKeys(os.Stdin)
	}

	fbWidth, fbHeight := uint32(opts.fbWidth), uint32(opts.fbHeight)
	if fbWidth == 0 || fbHeight == 0 {
		fbWidth, fbHeight = 0, 0
	}
	m := cpu.NewMachine(cpu.Config{
		RAMSize:           uint32(opts.memMiB) << 20,
		FramebufferAddr:   mm.DefaultFramebufferAddr,
		FramebufferWidth:  fbWidth,
		FramebufferHeight: fbHeight,
		Serial:            out,
	})

	k := kmain.New(m, opts.bootCmdLine())
	err = m.Boot(func() { k.Kmain(images) })

	if err == nil {
		if opts.interact {
			err = runInteractive(m, keys)
		} else {
			_, err = m.RunUntil(opts.steps, func() bool { return finished(k) })
		}
	}
	if errors.Is(err, cpu.ErrHalted) {
		fmt.Fprintf(os.Stderr, "[ringos] CPU halted after %d cycles\n", m.ReadTSC())
		err = nil
	}

	if opts.dump && k.Devices != nil && k.Devices.Terminal() != nil {
		dumpConsole(os.Stdout, k)
	}
	if opts.png != "" && fbWidth != 0 {
		if pngErr := saveSnapshot(m, opts.png); pngErr != nil && err == nil {
			err = pngErr
		}
	}
	return err
}

// runInteractive runs the CPU in chunks of emulated time paced to the host
// clock and injects the key presses read from the host between chunks.
func runInteractive(m *cpu.Machine, keys <-chan byte) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		for drained := false; !drained; {
			select {
			case ch, ok := <-keys:
				if !ok || ch == ctrlC {
					return nil
				}
				if ch == '\r' {
					ch = '\n'
				}
				m.Keyboard().Type(ch)
			default:
				drained = true
			}
		}

		if err := m.Run(chunkSteps); err != nil {
			return err
		}
		<-tick.C
	}
}

// readKeys forwards the bytes read from r until it fails.
func readKeys(r io.Reader) <-chan byte {
	ch := make(chan byte, 64)
	go func() {
		defer close(ch)
		var buf [1]byte
		for {
			if _, err := r.Read(buf[:]); err != nil {
				return
			}
			ch <- buf[0]
		}
	}()
	return ch
}

// dumpConsole prints the visible lines of the terminal without trailing
// blank lines.
func dumpConsole(w io.Writer, k *kmain.Kernel) {
	vt := k.Devices.Terminal()
	_, height := vt.Dimensions()

	var lines []string
	for y := uint32(1); y <= height; y++ {
		lines = append(lines, vt.Line(y))
	}
	for len(lines) != 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	fmt.Fprintln(w, "----- console -----")
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// crlfWriter expands \n into \r\n for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write([]byte(strings.ReplaceAll(string(p), "\n", "\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func main() {
	if err := run(); err != nil {
		exit(err)
	}
}
