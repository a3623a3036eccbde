package console

import (
	"image/color"
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/kernel"
	"ringos/kernel/kfmt"
)

// Legacy text mode parameters.
const (
	EgaTextAddr   = uint32(0xb8000)
	EgaTextWidth  = 80
	EgaTextHeight = 25

	clearChar = byte(' ')
)

var (
	egaVersion = semver.MustParse("0.1.0")

	errEgaEmpty = &kernel.Error{Module: "ega_console", Message: "console has no character cells"}
)

// EgaConsole implements an EGA-compatible text console. Each cell is a
// little-endian uint16 holding the character in the low byte and the
// (bg << 4 | fg) attribute in the high byte. A shadow copy of the cells is
// kept so scrolling never has to read video memory back.
type EgaConsole struct {
	mem    PhysicalMemory
	fbAddr uint32

	width  uint32
	height uint32

	palette   color.Palette
	defaultFg uint8
	defaultBg uint8

	cells []uint16
	buf   []byte
}

// NewEgaConsole returns a width x height text console whose buffer lives at
// fbAddr.
func NewEgaConsole(mem PhysicalMemory, fbAddr, width, height uint32) *EgaConsole {
	return &EgaConsole{
		mem:       mem,
		fbAddr:    fbAddr,
		width:     width,
		height:    height,
		palette:   egaPalette,
		defaultFg: 7,
		defaultBg: 0,
	}
}

// Dimensions returns the console width and height in the specified dimension.
// Text mode has no pixel resolution of its own so both dimensions are
// reported in characters.
func (cons *EgaConsole) Dimensions(_ Dimension) (uint32, uint32) {
	return cons.width, cons.height
}

// DefaultColors returns the default foreground and background colors
// used by this console.
func (cons *EgaConsole) DefaultColors() (fg uint8, bg uint8) {
	return cons.defaultFg, cons.defaultBg
}

// Palette returns the active color palette for this console.
func (cons *EgaConsole) Palette() color.Palette {
	return cons.palette
}

// Cell returns the raw contents of the 1-based cell at x, y.
func (cons *EgaConsole) Cell(x, y uint32) (ch byte, fg, bg uint8) {
	if x < 1 || x > cons.width || y < 1 || y > cons.height || cons.cells == nil {
		return 0, 0, 0
	}
	v := cons.cells[(y-1)*cons.width+x-1]
	return byte(v), uint8(v>>8) & 0xf, uint8(v>>12) & 0xf
}

func (cons *EgaConsole) attr(fg, bg uint8) uint16 {
	if int(fg) >= len(cons.palette) {
		fg = cons.defaultFg
	}
	if int(bg) >= len(cons.palette) {
		bg = cons.defaultBg
	}
	return uint16(bg&0xf)<<12 | uint16(fg&0xf)<<8
}

// Fill sets the contents of the specified rectangular region to the requested
// color. Both x and y coordinates are 1-based.
func (cons *EgaConsole) Fill(x, y, width, height uint32, fg, bg uint8) {
	if cons.cells == nil {
		return
	}

	// clip rectangle
	if x == 0 {
		x = 1
	} else if x > cons.width {
		x = cons.width
	}

	if y == 0 {
		y = 1
	} else if y > cons.height {
		y = cons.height
	}

	if x+width-1 > cons.width {
		width = cons.width - x + 1
	}

	if y+height-1 > cons.height {
		height = cons.height - y + 1
	}

	clr := cons.attr(fg, bg) | uint16(clearChar)
	for row := y - 1; row < y-1+height; row++ {
		start := row*cons.width + x - 1
		for i := start; i < start+width; i++ {
			cons.cells[i] = clr
		}
		cons.flush(start, start+width)
	}
}

// Scroll the console contents to the specified direction. The caller
// is responsible for updating (e.g. clear or replace) the contents of
// the region that was scrolled.
func (cons *EgaConsole) Scroll(dir ScrollDir, lines uint32) {
	if cons.cells == nil || lines == 0 || lines > cons.height {
		return
	}

	offset := lines * cons.width
	switch dir {
	case ScrollDirUp:
		copy(cons.cells, cons.cells[offset:])
	case ScrollDirDown:
		copy(cons.cells[offset:], cons.cells)
	}
	cons.flush(0, uint32(len(cons.cells)))
}

// Write a char to the specified location. Both x and y coordinates are
// 1-based.
func (cons *EgaConsole) Write(ch byte, fg, bg uint8, x, y uint32) {
	if x < 1 || x > cons.width || y < 1 || y > cons.height || cons.cells == nil {
		return
	}

	index := (y-1)*cons.width + x - 1
	cons.cells[index] = cons.attr(fg, bg) | uint16(ch)
	cons.flush(index, index+1)
}

// flush copies cells [from, to) to video memory.
func (cons *EgaConsole) flush(from, to uint32) {
	out := cons.buf[:(to-from)*2]
	for i, v := range cons.cells[from:to] {
		out[i*2], out[i*2+1] = byte(v), byte(v>>8)
	}
	cons.mem.WritePhys(cons.fbAddr+from*2, out)
}

// DriverName returns the name of this driver.
func (cons *EgaConsole) DriverName() string {
	return "ega_console"
}

// DriverVersion returns the version of this driver.
func (cons *EgaConsole) DriverVersion() *semver.Version {
	return egaVersion
}

// DriverInit allocates the shadow buffer and clears the screen.
func (cons *EgaConsole) DriverInit(w io.Writer) *kernel.Error {
	if cons.width == 0 || cons.height == 0 {
		return errEgaEmpty
	}

	cons.cells = make([]uint16, cons.width*cons.height)
	cons.buf = make([]byte, len(cons.cells)*2)
	cons.Fill(1, 1, cons.width, cons.height, cons.defaultFg, cons.defaultBg)

	kfmt.Fprintf(w, "%dx%d text mode at %#x\n", cons.width, cons.height, cons.fbAddr)
	return nil
}
