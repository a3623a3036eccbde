package tty

import (
	"fmt"
	"image/color"
	"io"
	"testing"

	"ringos/device/video/console"
)

func TestVtPosition(t *testing.T) {
	specs := []struct {
		inX, inY   uint32
		expX, expY uint32
	}{
		{20, 20, 20, 20},
		{100, 20, 80, 20},
		{10, 200, 10, 25},
		{0, 0, 1, 1},
		{100, 100, 80, 25},
	}

	term := NewVT(4)

	// SetCursorPosition without an attached console is a no-op
	term.SetCursorPosition(2, 2)

	if curX, curY := term.CursorPosition(); curX != 1 || curY != 1 {
		t.Fatalf("expected terminal initial position to be (1, 1); got (%d, %d)", curX, curY)
	}

	term.AttachTo(newMockConsole(80, 25))

	for specIndex, spec := range specs {
		term.SetCursorPosition(spec.inX, spec.inY)
		if x, y := term.CursorPosition(); x != spec.expX || y != spec.expY {
			t.Errorf("[spec %d] expected setting position to (%d, %d) to update the position to (%d, %d); got (%d, %d)", specIndex, spec.inX, spec.inY, spec.expX, spec.expY, x, y)
		}
	}
}

func TestVtWrite(t *testing.T) {
	t.Run("no console", func(t *testing.T) {
		if _, err := NewVT(4).Write([]byte("foo")); err != io.ErrClosedPipe {
			t.Fatal("expected calling Write on a terminal without an attached console to return ErrClosedPipe")
		}
	})

	t.Run("inactive terminal", func(t *testing.T) {
		cons := newMockConsole(80, 25)
		term := NewVT(4)
		term.AttachTo(cons)

		data := []byte("\b123\b4\t5\n67\r68")
		count, err := term.Write(data)
		if err != nil {
			t.Fatal(err)
		}
		if count != len(data) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(data), count)
		}
		if cons.bytesWritten != 0 {
			t.Fatalf("expected writes not to be synced with console when terminal is inactive; %d bytes written", cons.bytesWritten)
		}

		if got := term.Line(1); got != "124    5" {
			t.Fatalf("expected line 1 to be %q; got %q", "124    5", got)
		}
		if got := term.Line(2); got != "68" {
			t.Fatalf("expected line 2 to be %q; got %q", "68", got)
		}
	})

	t.Run("active terminal", func(t *testing.T) {
		cons := newMockConsole(80, 25)
		term := NewVT(4)
		term.AttachTo(cons)
		term.Write([]byte("hidden"))

		term.SetState(StateActive)
		term.SetState(StateActive) // calling SetState with the same state is a no-op
		if got := term.State(); got != StateActive {
			t.Fatalf("expected terminal state to be %d; got %d", StateActive, got)
		}
		if got := cons.line(1); got != "hidden" {
			t.Fatalf("expected activation to sync the console; got %q", got)
		}

		cons.bytesWritten = 0
		term.Write([]byte("\nab"))
		if cons.bytesWritten != 2 {
			t.Fatalf("expected 2 console writes; got %d", cons.bytesWritten)
		}
		if got := cons.line(2); got != "ab" {
			t.Fatalf("expected console line 2 to be %q; got %q", "ab", got)
		}
	})
}

func TestVtLineWrap(t *testing.T) {
	cons := newMockConsole(4, 3)
	term := NewVT(4)
	term.AttachTo(cons)
	term.SetState(StateActive)

	term.Write([]byte("abcdef"))
	if term.Line(1) != "abcd" || term.Line(2) != "ef" {
		t.Fatalf("expected wrapped lines; got %q %q", term.Line(1), term.Line(2))
	}
	if x, y := term.CursorPosition(); x != 3 || y != 2 {
		t.Fatalf("expected cursor at (3, 2); got (%d, %d)", x, y)
	}
}

func TestVtScroll(t *testing.T) {
	cons := newMockConsole(10, 3)
	term := NewVT(4)
	term.AttachTo(cons)
	term.SetState(StateActive)

	term.Write([]byte("one\ntwo\nthree\nfour"))

	specs := []string{"two", "three", "four"}
	for i, exp := range specs {
		if got := term.Line(uint32(i + 1)); got != exp {
			t.Errorf("expected line %d to be %q; got %q", i+1, exp, got)
		}
	}
	if cons.scrollUpCount != 1 {
		t.Fatalf("expected 1 console scroll; got %d", cons.scrollUpCount)
	}
	if x, y := term.CursorPosition(); x != 5 || y != 3 {
		t.Fatalf("expected cursor at (5, 3); got (%d, %d)", x, y)
	}
	if got := term.Line(4); got != "" {
		t.Fatalf("expected out of range lines to be empty; got %q", got)
	}
}

func TestVtANSIColors(t *testing.T) {
	specs := []struct {
		input        string
		expFg, expBg uint8
	}{
		{"\x1b[31m", 4, 0},
		{"\x1b[32m", 2, 0},
		{"\x1b[33m", 6, 0},
		{"\x1b[34;47m", 1, 7},
		{"\x1b[31m\x1b[39m", 7, 0},
		{"\x1b[41m\x1b[49m", 7, 0},
		{"\x1b[1;36m", 11, 0},
		{"\x1b[1m\x1b[22;31m", 4, 0},
		{"\x1b[92;104m", 10, 9},
		{"\x1b[35;42m\x1b[0m", 7, 0},
		{"\x1b[m", 7, 0},
		{"\x1b[99999m", 7, 0},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			cons := newMockConsole(80, 25)
			term := NewVT(4)
			term.AttachTo(cons)
			term.SetState(StateActive)
			cons.bytesWritten = 0

			term.Write([]byte(spec.input + "x"))

			if fg, bg := term.Colors(); fg != spec.expFg || bg != spec.expBg {
				t.Fatalf("expected colors %d/%d; got %d/%d", spec.expFg, spec.expBg, fg, bg)
			}
			if cons.bytesWritten != 1 || cons.chars[0] != 'x' {
				t.Fatalf("expected escape sequences not to be printed; got %d writes", cons.bytesWritten)
			}
			if cons.fgAttrs[0] != spec.expFg || cons.bgAttrs[0] != spec.expBg {
				t.Fatalf("expected char attributes %d/%d; got %d/%d", spec.expFg, spec.expBg, cons.fgAttrs[0], cons.bgAttrs[0])
			}
		})
	}
}

func TestVtClearScreen(t *testing.T) {
	cons := newMockConsole(10, 3)
	term := NewVT(4)
	term.AttachTo(cons)
	term.SetState(StateActive)

	term.Write([]byte("junk\nmore\x1b[2J\x1b[Hok"))
	if term.Line(1) != "ok" || term.Line(2) != "" {
		t.Fatalf("expected a cleared screen; got %q %q", term.Line(1), term.Line(2))
	}
	if cons.line(2) != "" {
		t.Fatalf("expected the console to be cleared; got %q", cons.line(2))
	}

	// Unknown escapes are swallowed.
	term.Write([]byte("\x1bZ!"))
	if term.Line(1) != "ok!" {
		t.Fatalf("expected %q; got %q", "ok!", term.Line(1))
	}
}

type mockConsole struct {
	width, height uint32
	fg, bg        uint8
	chars         []uint8
	fgAttrs       []uint8
	bgAttrs       []uint8
	bytesWritten  int
	scrollUpCount int
}

func newMockConsole(w, h uint32) *mockConsole {
	return &mockConsole{
		width:   w,
		height:  h,
		fg:      7,
		bg:      0,
		chars:   make([]uint8, w*h),
		fgAttrs: make([]uint8, w*h),
		bgAttrs: make([]uint8, w*h),
	}
}

func (cons *mockConsole) Dimensions(_ console.Dimension) (uint32, uint32) {
	return cons.width, cons.height
}

func (cons *mockConsole) DefaultColors() (uint8, uint8) {
	return cons.fg, cons.bg
}

func (cons *mockConsole) Fill(x, y, width, height uint32, fg, bg uint8) {
	for fy := y; fy < y+height; fy++ {
		for fx := x; fx < x+width; fx++ {
			offset := (fy-1)*cons.width + fx - 1
			cons.chars[offset] = ' '
			cons.fgAttrs[offset] = fg
			cons.bgAttrs[offset] = bg
		}
	}
}

func (cons *mockConsole) Scroll(dir console.ScrollDir, lines uint32) {
	if dir != console.ScrollDirUp {
		return
	}
	cons.scrollUpCount++
	stride := cons.width * lines
	copy(cons.chars, cons.chars[stride:])
}

func (cons *mockConsole) Palette() color.Palette {
	return nil
}

func (cons *mockConsole) Write(b byte, fg, bg uint8, x, y uint32) {
	offset := ((y - 1) * cons.width) + (x - 1)
	cons.chars[offset] = b
	cons.fgAttrs[offset] = fg
	cons.bgAttrs[offset] = bg
	cons.bytesWritten++
}

func (cons *mockConsole) line(y uint32) string {
	row := cons.chars[(y-1)*cons.width : y*cons.width]
	end := len(row)
	for end > 0 && (row[end-1] == ' ' || row[end-1] == 0) {
		end--
	}
	return string(row[:end])
}
