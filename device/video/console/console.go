// Package console implements the framebuffer text console the terminal
// renders into.
package console

import "image/color"

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	ScrollDirUp ScrollDir = iota
	ScrollDirDown
)

// Dimension defines the types of dimensions that can be queried off a device.
type Dimension uint8

const (
	// Characters describes the number of characters in the console
	// depending on the active font.
	Characters Dimension = iota

	// Pixels describes the number of pixels in the console framebuffer.
	Pixels
)

// The Device interface is implemented by objects that can function as system
// consoles.
type Device interface {
	// Dimensions returns the width and height of the console using a
	// particular dimension.
	Dimensions(Dimension) (uint32, uint32)

	// DefaultColors returns the default foreground and background colors
	// used by this console.
	DefaultColors() (fg, bg uint8)

	// Fill sets the contents of the specified rectangular region to the
	// requested color. Both x and y coordinates are 1-based (top-left
	// corner has coordinates 1,1).
	Fill(x, y, width, height uint32, fg, bg uint8)

	// Scroll the console contents to the specified direction. The caller
	// is responsible for updating (e.g. clear or replace) the contents of
	// the region that was scrolled.
	Scroll(dir ScrollDir, lines uint32)

	// Write a char to the specified location. Both x and y coordinates are
	// 1-based (top-left corner has coordinates 1,1).
	Write(ch byte, fg, bg uint8, x, y uint32)

	// Palette returns the active color palette for this console.
	Palette() color.Palette
}

// egaPalette lists the 16 colors every console supports. Index order follows
// the EGA attribute byte.
var egaPalette = color.Palette{
	color.RGBA{R: 0, G: 0, B: 0, A: 255},       // black
	color.RGBA{R: 0, G: 0, B: 170, A: 255},     // blue
	color.RGBA{R: 0, G: 170, B: 0, A: 255},     // green
	color.RGBA{R: 0, G: 170, B: 170, A: 255},   // cyan
	color.RGBA{R: 170, G: 0, B: 0, A: 255},     // red
	color.RGBA{R: 170, G: 0, B: 170, A: 255},   // magenta
	color.RGBA{R: 170, G: 85, B: 0, A: 255},    // brown
	color.RGBA{R: 170, G: 170, B: 170, A: 255}, // light gray
	color.RGBA{R: 85, G: 85, B: 85, A: 255},    // dark gray
	color.RGBA{R: 85, G: 85, B: 255, A: 255},   // light blue
	color.RGBA{R: 85, G: 255, B: 85, A: 255},   // light green
	color.RGBA{R: 85, G: 255, B: 255, A: 255},  // light cyan
	color.RGBA{R: 255, G: 85, B: 85, A: 255},   // light red
	color.RGBA{R: 255, G: 85, B: 255, A: 255},  // light magenta
	color.RGBA{R: 255, G: 255, B: 85, A: 255},  // yellow
	color.RGBA{R: 255, G: 255, B: 255, A: 255}, // white
}
