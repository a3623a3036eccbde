package console

import (
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"ringos/kernel"
	"ringos/kernel/kfmt"
)

const bytesPerPixel = 4

var (
	version = semver.MustParse("0.3.0")

	errNoFramebuffer = &kernel.Error{Module: "fb_console", Message: "framebuffer too small for a single glyph"}
)

// PhysicalMemory is used to flush the backbuffer to the framebuffer.
type PhysicalMemory interface {
	WritePhys(addr uint32, p []byte)
}

// FbConsole renders text on a linear 32bpp (XRGB8888) framebuffer. Glyphs
// are drawn into an RGBA backbuffer which is flushed to the framebuffer one
// dirty rectangle at a time.
type FbConsole struct {
	mem    PhysicalMemory
	fbAddr uint32

	// Console dimensions in pixels
	width  uint32
	height uint32

	face          font.Face
	glyphWidth    uint32
	glyphHeight   uint32
	glyphAscent   int
	widthInChars  uint32
	heightInChars uint32

	back      *image.RGBA
	palette   color.Palette
	defaultFg uint8
	defaultBg uint8

	// row holds one converted scanline on its way to the framebuffer.
	row []byte
}

// NewFbConsole returns a console for the width x height framebuffer at
// fbAddr.
func NewFbConsole(mem PhysicalMemory, fbAddr, width, height uint32) *FbConsole {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	advance, _ := face.GlyphAdvance('M')

	cons := &FbConsole{
		mem:         mem,
		fbAddr:      fbAddr,
		width:       width,
		height:      height,
		face:        face,
		glyphWidth:  uint32(advance.Ceil()),
		glyphHeight: uint32(metrics.Height.Ceil()),
		glyphAscent: metrics.Ascent.Ceil(),
		palette:     egaPalette,
		// light gray text on black background
		defaultFg: 7,
		defaultBg: 0,
	}
	cons.widthInChars = width / cons.glyphWidth
	cons.heightInChars = height / cons.glyphHeight
	return cons
}

// Dimensions returns the console width and height in the specified dimension.
func (cons *FbConsole) Dimensions(dim Dimension) (uint32, uint32) {
	switch dim {
	case Characters:
		return cons.widthInChars, cons.heightInChars
	default:
		return cons.width, cons.height
	}
}

// DefaultColors returns the default foreground and background colors
// used by this console.
func (cons *FbConsole) DefaultColors() (fg uint8, bg uint8) {
	return cons.defaultFg, cons.defaultBg
}

// Palette returns the active color palette for this console.
func (cons *FbConsole) Palette() color.Palette {
	return cons.palette
}

// Image returns the backbuffer.
func (cons *FbConsole) Image() *image.RGBA {
	return cons.back
}

func (cons *FbConsole) paletteColor(index uint8) color.Color {
	if int(index) >= len(cons.palette) {
		return cons.palette[cons.defaultFg]
	}
	return cons.palette[index]
}

// cell returns the pixel rectangle covered by the 1-based character cells
// [x, x+w) x [y, y+h).
func (cons *FbConsole) cell(x, y, w, h uint32) image.Rectangle {
	return image.Rect(
		int((x-1)*cons.glyphWidth), int((y-1)*cons.glyphHeight),
		int((x-1+w)*cons.glyphWidth), int((y-1+h)*cons.glyphHeight),
	)
}

// Fill sets the contents of the specified rectangular region to the requested
// color. Both x and y coordinates are 1-based.
func (cons *FbConsole) Fill(x, y, width, height uint32, _, bg uint8) {
	if cons.back == nil {
		return
	}

	// clip rectangle
	if x == 0 {
		x = 1
	} else if x > cons.widthInChars {
		x = cons.widthInChars
	}

	if y == 0 {
		y = 1
	} else if y > cons.heightInChars {
		y = cons.heightInChars
	}

	if x+width-1 > cons.widthInChars {
		width = cons.widthInChars - x + 1
	}

	if y+height-1 > cons.heightInChars {
		height = cons.heightInChars - y + 1
	}

	// The pixels past the last full glyph column or row belong to the
	// cells on that edge.
	rect := cons.cell(x, y, width, height)
	if x+width-1 == cons.widthInChars {
		rect.Max.X = int(cons.width)
	}
	if y+height-1 == cons.heightInChars {
		rect.Max.Y = int(cons.height)
	}

	draw.Draw(cons.back, rect, image.NewUniform(cons.paletteColor(bg)), image.Point{}, draw.Src)
	cons.flush(rect)
}

// Scroll the console contents to the specified direction. The caller
// is responsible for updating (e.g. clear or replace) the contents of
// the region that was scrolled.
func (cons *FbConsole) Scroll(dir ScrollDir, lines uint32) {
	if cons.back == nil || lines == 0 || lines > cons.heightInChars {
		return
	}

	var (
		pix    = cons.back.Pix
		offset = int(lines*cons.glyphHeight) * cons.back.Stride
		text   = int(cons.heightInChars*cons.glyphHeight) * cons.back.Stride
	)

	switch dir {
	case ScrollDirUp:
		copy(pix[:text-offset], pix[offset:text])
	case ScrollDirDown:
		copy(pix[offset:text], pix[:text-offset])
	}

	cons.flush(image.Rect(0, 0, int(cons.width), int(cons.heightInChars*cons.glyphHeight)))
}

// Write a char to the specified location. If fg or bg exceed the supported
// colors for this console, they will be set to their default value. Both x and
// y coordinates are 1-based.
func (cons *FbConsole) Write(ch byte, fg, bg uint8, x, y uint32) {
	if x < 1 || x > cons.widthInChars || y < 1 || y > cons.heightInChars || cons.back == nil {
		return
	}

	rect := cons.cell(x, y, 1, 1)
	draw.Draw(cons.back, rect, image.NewUniform(cons.paletteColor(bg)), image.Point{}, draw.Src)

	if ch > ' ' && ch < 0x7f {
		d := font.Drawer{
			Dst:  cons.back,
			Src:  image.NewUniform(cons.paletteColor(fg)),
			Face: cons.face,
			Dot:  fixed.P(rect.Min.X, rect.Min.Y+cons.glyphAscent),
		}
		d.DrawBytes([]byte{ch})
	}

	cons.flush(rect)
}

// flush copies rect from the RGBA backbuffer to the BGRX framebuffer.
func (cons *FbConsole) flush(rect image.Rectangle) {
	rect = rect.Intersect(cons.back.Bounds())
	if rect.Empty() {
		return
	}

	row := cons.row[:rect.Dx()*bytesPerPixel]
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		src := cons.back.Pix[cons.back.PixOffset(rect.Min.X, y):]
		for x := 0; x < len(row); x += bytesPerPixel {
			row[x+0] = src[x+2]
			row[x+1] = src[x+1]
			row[x+2] = src[x+0]
			row[x+3] = 0
		}
		cons.mem.WritePhys(cons.fbAddr+(uint32(y)*cons.width+uint32(rect.Min.X))*bytesPerPixel, row)
	}
}

// DriverName returns the name of this driver.
func (cons *FbConsole) DriverName() string {
	return "fb_console"
}

// DriverVersion returns the version of this driver.
func (cons *FbConsole) DriverVersion() *semver.Version {
	return version
}

// DriverInit allocates the backbuffer and clears the screen.
func (cons *FbConsole) DriverInit(w io.Writer) *kernel.Error {
	if cons.widthInChars == 0 || cons.heightInChars == 0 {
		return errNoFramebuffer
	}

	cons.back = image.NewRGBA(image.Rect(0, 0, int(cons.width), int(cons.height)))
	cons.row = make([]byte, cons.width*bytesPerPixel)
	draw.Draw(cons.back, cons.back.Bounds(), image.NewUniform(cons.paletteColor(cons.defaultBg)), image.Point{}, draw.Src)
	cons.flush(cons.back.Bounds())

	kfmt.Fprintf(w, "%dx%d framebuffer at %#x, %dx%d characters\n",
		cons.width, cons.height, cons.fbAddr, cons.widthInChars, cons.heightInChars)
	return nil
}
