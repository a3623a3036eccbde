// Package tty implements the virtual terminal that backs the kernel console.
package tty

import (
	"io"

	"github.com/Masterminds/semver/v3"

	"ringos/device/video/console"
	"ringos/kernel"
)

// DefaultTabWidth defines the number of spaces that tabs expand to.
const DefaultTabWidth = 4

// State defines the supported terminal state values.
type State uint8

const (
	// StateInactive marks the terminal as inactive. Any writes will be
	// buffered and not synced to the attached console.
	StateInactive State = iota

	// StateActive marks the terminal as active. Any writes will be
	// buffered and also synced to the attached console.
	StateActive
)

// escState tracks progress through an ANSI escape sequence.
type escState uint8

const (
	escNone escState = iota
	escStart
	escCSI
)

// maxParams bounds the number of CSI parameters that are remembered.
const maxParams = 8

// ansiToEGA maps the ANSI color order to console palette indices.
var ansiToEGA = [8]uint8{0, 4, 2, 6, 1, 5, 3, 7}

var version = semver.MustParse("0.2.0")

// VT implements a terminal on top of a console. The terminal interprets the
// following special characters:
//   - \r (carriage-return)
//   - \n (line-feed)
//   - \b (backspace)
//   - \t (tab; expanded to tabWidth spaces)
//   - ESC [ ... m (SGR: 0, 1, 22, 30-37, 39, 40-47, 49, 90-97, 100-107)
//   - ESC [ 2 J and ESC [ H (clear screen, cursor home)
//
// When the cursor moves past the last line the contents scroll up by one
// line.
type VT struct {
	cons console.Device

	width  uint32
	height uint32

	// The terminal contents. Each character occupies 3 bytes and uses the
	// format: (ASCII char, fg, bg)
	data []uint8

	tabWidth         uint8
	defaultFg, curFg uint8
	defaultBg, curBg uint8
	cursorX          uint32
	cursorY          uint32
	dataOffset       uint32
	state            State

	esc     escState
	params  [maxParams]uint32
	nParams int
	bold    bool
}

// NewVT creates a new virtual terminal device. The tabWidth parameter controls
// tab expansion.
func NewVT(tabWidth uint8) *VT {
	return &VT{
		tabWidth: tabWidth,
		cursorX:  1,
		cursorY:  1,
	}
}

// AttachTo connects the terminal to a console instance and clears it.
func (t *VT) AttachTo(cons console.Device) {
	if cons == nil {
		return
	}

	t.cons = cons
	t.width, t.height = cons.Dimensions(console.Characters)
	t.defaultFg, t.defaultBg = cons.DefaultColors()
	t.curFg, t.curBg = t.defaultFg, t.defaultBg
	t.cursorX, t.cursorY = 1, 1
	t.dataOffset = 0
	t.esc = escNone
	t.bold = false

	t.data = make([]uint8, t.width*t.height*3)
	t.clear()
}

// State returns the TTY's state.
func (t *VT) State() State {
	return t.state
}

// SetState updates the TTY's state.
func (t *VT) SetState(newState State) {
	if t.state == newState {
		return
	}

	t.state = newState

	// If the terminal became active, update the console with its contents
	if t.state == StateActive && t.cons != nil {
		t.sync()
	}
}

// CursorPosition returns the current cursor position.
func (t *VT) CursorPosition() (uint32, uint32) {
	return t.cursorX, t.cursorY
}

// SetCursorPosition sets the current cursor position to (x,y), clipped to
// the console dimensions.
func (t *VT) SetCursorPosition(x, y uint32) {
	if t.cons == nil {
		return
	}

	if x < 1 {
		x = 1
	} else if x > t.width {
		x = t.width
	}

	if y < 1 {
		y = 1
	} else if y > t.height {
		y = t.height
	}

	t.cursorX, t.cursorY = x, y
	t.updateDataOffset()
}

// Colors returns the current foreground and background colors.
func (t *VT) Colors() (fg, bg uint8) {
	return t.curFg, t.curBg
}

// Dimensions returns the size of the terminal in characters.
func (t *VT) Dimensions() (width, height uint32) {
	return t.width, t.height
}

// Line returns the text of line y (1-based) without trailing blanks.
func (t *VT) Line(y uint32) string {
	if y < 1 || y > t.height {
		return ""
	}

	row := t.data[(y-1)*t.width*3 : y*t.width*3]
	line := make([]byte, 0, t.width)
	for i := 0; i < len(row); i += 3 {
		line = append(line, row[i])
	}
	end := len(line)
	for end > 0 && line[end-1] == ' ' {
		end--
	}
	return string(line[:end])
}

// Write implements io.Writer.
func (t *VT) Write(data []byte) (int, error) {
	for count, b := range data {
		err := t.WriteByte(b)
		if err != nil {
			return count, err
		}
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *VT) WriteByte(b byte) error {
	if t.cons == nil {
		return io.ErrClosedPipe
	}

	if t.esc != escNone {
		t.escape(b)
		return nil
	}

	switch b {
	case 0x1b:
		t.esc = escStart
	case '\r':
		t.cr()
	case '\n':
		t.lf()
	case '\b':
		if t.cursorX > 1 {
			t.SetCursorPosition(t.cursorX-1, t.cursorY)
			t.doWrite(' ', false)
		}
	case '\t':
		for i := uint8(0); i < t.tabWidth; i++ {
			t.doWrite(' ', true)
		}
	default:
		t.doWrite(b, true)
	}

	return nil
}

// escape consumes one byte of an escape sequence.
func (t *VT) escape(b byte) {
	switch t.esc {
	case escStart:
		if b != '[' {
			t.esc = escNone
			return
		}
		t.esc = escCSI
		t.params = [maxParams]uint32{}
		t.nParams = 1
	case escCSI:
		switch {
		case b >= '0' && b <= '9':
			if p := &t.params[t.nParams-1]; *p < 1000 {
				*p = *p*10 + uint32(b-'0')
			}
		case b == ';':
			if t.nParams < maxParams {
				t.nParams++
			}
		default:
			t.esc = escNone
			t.csi(b)
		}
	}
}

// csi executes a completed control sequence.
func (t *VT) csi(final byte) {
	params := t.params[:t.nParams]

	switch final {
	case 'm':
		for _, p := range params {
			t.sgr(p)
		}
	case 'J':
		if params[0] == 2 {
			t.clear()
			if t.state == StateActive {
				t.sync()
			}
		}
	case 'H':
		t.SetCursorPosition(1, 1)
	}
}

// sgr applies a select graphic rendition parameter.
func (t *VT) sgr(p uint32) {
	switch {
	case p == 0:
		t.curFg, t.curBg = t.defaultFg, t.defaultBg
		t.bold = false
	case p == 1:
		t.bold = true
		t.curFg |= 8
	case p == 22:
		t.bold = false
		t.curFg &^= 8
	case p >= 30 && p <= 37:
		t.curFg = ansiToEGA[p-30] | t.brightBit()
	case p == 39:
		t.curFg = t.defaultFg | t.brightBit()
	case p >= 40 && p <= 47:
		t.curBg = ansiToEGA[p-40]
	case p == 49:
		t.curBg = t.defaultBg
	case p >= 90 && p <= 97:
		t.curFg = ansiToEGA[p-90] | 8
	case p >= 100 && p <= 107:
		t.curBg = ansiToEGA[p-100] | 8
	}
}

func (t *VT) brightBit() uint8 {
	if t.bold {
		return 8
	}
	return 0
}

// doWrite writes the specified character together with the current fg/bg
// attributes at the current data offset advancing the cursor position if
// advanceCursor is true. If the terminal is active, then doWrite also writes
// the character to the attached console.
func (t *VT) doWrite(b byte, advanceCursor bool) {
	if t.state == StateActive {
		t.cons.Write(b, t.curFg, t.curBg, t.cursorX, t.cursorY)
	}

	t.data[t.dataOffset] = b
	t.data[t.dataOffset+1] = t.curFg
	t.data[t.dataOffset+2] = t.curBg

	if advanceCursor {
		// Advance x position and handle wrapping when the cursor reaches the
		// end of the current line
		t.dataOffset += 3
		t.cursorX++
		if t.cursorX > t.width {
			t.lf()
		}
	}
}

// cr resets the x coordinate of the terminal cursor to 1.
func (t *VT) cr() {
	t.cursorX = 1
	t.updateDataOffset()
}

// lf moves the cursor to the start of the next line scrolling the terminal
// contents up if the cursor is already on the last line.
func (t *VT) lf() {
	t.cursorX = 1

	if t.cursorY < t.height {
		t.cursorY++
		t.updateDataOffset()
		return
	}

	stride := t.width * 3
	copy(t.data, t.data[stride:])
	t.blank(t.data[(t.height-1)*stride:])

	if t.state == StateActive {
		t.cons.Scroll(console.ScrollDirUp, 1)
		t.cons.Fill(1, t.height, t.width, 1, t.defaultFg, t.defaultBg)
	}

	t.updateDataOffset()
}

// clear blanks the terminal and homes the cursor.
func (t *VT) clear() {
	t.blank(t.data)
	t.cursorX, t.cursorY = 1, 1
	t.updateDataOffset()
}

func (t *VT) blank(cells []uint8) {
	for i := 0; i < len(cells); i += 3 {
		cells[i] = ' '
		cells[i+1] = t.defaultFg
		cells[i+2] = t.defaultBg
	}
}

// sync redraws the whole console from the terminal contents.
func (t *VT) sync() {
	var offset uint32
	for y := uint32(1); y <= t.height; y++ {
		for x := uint32(1); x <= t.width; x, offset = x+1, offset+3 {
			t.cons.Write(t.data[offset], t.data[offset+1], t.data[offset+2], x, y)
		}
	}
}

// updateDataOffset calculates the offset in the data buffer taking into account
// the cursor position.
func (t *VT) updateDataOffset() {
	t.dataOffset = (t.cursorY-1)*(t.width*3) + (t.cursorX-1)*3
}

// DriverName returns the name of this driver.
func (t *VT) DriverName() string {
	return "vt"
}

// DriverVersion returns the version of this driver.
func (t *VT) DriverVersion() *semver.Version {
	return version
}

// DriverInit initializes this driver.
func (t *VT) DriverInit(_ io.Writer) *kernel.Error { return nil }
