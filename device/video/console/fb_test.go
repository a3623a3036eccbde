package console

import (
	"bytes"
	"image/color"
	"testing"

	"ringos/kernel/cpu"
)

const (
	testFbAddr = uint32(0xfd000000)
	testWidth  = 640
	testHeight = 480
)

func testConsole(t *testing.T) (*cpu.Machine, *FbConsole) {
	t.Helper()
	m := cpu.NewMachine(cpu.Config{
		RAMSize:           1 << 20,
		FramebufferAddr:   testFbAddr,
		FramebufferWidth:  testWidth,
		FramebufferHeight: testHeight,
	})
	cons := NewFbConsole(m, testFbAddr, testWidth, testHeight)

	var buf bytes.Buffer
	if err := cons.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}
	return m, cons
}

// pixel reads back a framebuffer pixel as RGB.
func pixel(m *cpu.Machine, x, y int) color.RGBA {
	var p [4]byte
	m.ReadPhys(testFbAddr+uint32(y*testWidth+x)*4, p[:])
	return color.RGBA{R: p[2], G: p[1], B: p[0], A: 255}
}

func countColor(m *cpu.Machine, x0, y0, w, h int, c color.RGBA) int {
	var n int
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			if pixel(m, x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestDimensions(t *testing.T) {
	_, cons := testConsole(t)

	if w, h := cons.Dimensions(Characters); w != 91 || h != 36 {
		t.Fatalf("expected 91x36 characters; got %dx%d", w, h)
	}
	if w, h := cons.Dimensions(Pixels); w != testWidth || h != testHeight {
		t.Fatalf("expected %dx%d pixels; got %dx%d", testWidth, testHeight, w, h)
	}
	if fg, bg := cons.DefaultColors(); fg != 7 || bg != 0 {
		t.Fatalf("expected default colors 7/0; got %d/%d", fg, bg)
	}
	if len(cons.Palette()) != 16 {
		t.Fatalf("expected a 16 color palette; got %d", len(cons.Palette()))
	}
}

func TestWriteDrawsGlyph(t *testing.T) {
	m, cons := testConsole(t)
	white := egaPalette[15].(color.RGBA)
	blue := egaPalette[1].(color.RGBA)

	cons.Write('A', 15, 1, 2, 1)

	// The cell starts at pixel (7, 0).
	fg := countColor(m, 7, 0, 7, 13, white)
	bg := countColor(m, 7, 0, 7, 13, blue)
	if fg == 0 || bg == 0 || fg+bg != 7*13 {
		t.Fatalf("expected the cell to only contain fg and bg pixels; got fg=%d bg=%d", fg, bg)
	}

	// Neighbouring cells are untouched.
	black := egaPalette[0].(color.RGBA)
	if got := countColor(m, 0, 0, 7, 13, black); got != 7*13 {
		t.Fatalf("expected the first cell to stay black; got %d black pixels", got)
	}

	// Spaces and control characters only paint the background.
	cons.Write(' ', 15, 1, 3, 1)
	if got := countColor(m, 14, 0, 7, 13, blue); got != 7*13 {
		t.Fatalf("expected a blank blue cell; got %d blue pixels", got)
	}

	// Out of bounds writes are ignored.
	cons.Write('A', 15, 1, 0, 1)
	cons.Write('A', 15, 1, 92, 1)
	cons.Write('A', 15, 1, 1, 37)
}

func TestFillAndScroll(t *testing.T) {
	m, cons := testConsole(t)
	red := egaPalette[4].(color.RGBA)
	green := egaPalette[2].(color.RGBA)

	cons.Fill(1, 2, 91, 1, 7, 4)
	cons.Fill(1, 3, 200, 200, 7, 2)
	if got := countColor(m, 0, 13, testWidth, 13, red); got != testWidth*13 {
		t.Fatalf("expected row 2 to be red; got %d red pixels", got)
	}

	// The margin below the last character row takes the fill color.
	if got := countColor(m, 0, 36*13, testWidth, testHeight-36*13, green); got != testWidth*(testHeight-36*13) {
		t.Fatalf("expected the bottom margin to be green; got %d green pixels", got)
	}

	// Fills that stop short of the right edge leave the margin alone.
	cons.Fill(1, 1, 90, 1, 7, 2)
	if got := countColor(m, 90*7, 0, testWidth-90*7, 13, green); got != 0 {
		t.Fatalf("expected the right margin of row 1 to stay untouched; got %d green pixels", got)
	}

	cons.Scroll(ScrollDirUp, 1)
	if got := countColor(m, 0, 0, testWidth, 13, red); got != testWidth*13 {
		t.Fatalf("expected row 1 to be red after scrolling; got %d red pixels", got)
	}
	if got := countColor(m, 0, 13, 8, 13, green); got != 8*13 {
		t.Fatalf("expected row 2 to be green after scrolling; got %d green pixels", got)
	}

	cons.Scroll(ScrollDirDown, 2)
	if got := countColor(m, 0, 26, 8, 13, red); got != 8*13 {
		t.Fatalf("expected the red row to move down to row 3; got %d red pixels", got)
	}
}

func TestDriverInitWithoutFramebuffer(t *testing.T) {
	cons := NewFbConsole(cpu.NewMachine(cpu.Config{}), 0, 4, 4)
	if err := cons.DriverInit(nil); err != errNoFramebuffer {
		t.Fatalf("expected errNoFramebuffer; got %v", err)
	}
}
