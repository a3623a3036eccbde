package main

import (
	"image"

	"github.com/fogleman/gg"

	"ringos/kernel/cpu"
)

// framebufferImage converts the BGRX framebuffer of m into an RGBA image.
func framebufferImage(m *cpu.Machine) *image.RGBA {
	addr, width, height := m.Framebuffer()
	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))

	row := make([]byte, width*4)
	for y := 0; y < int(height); y++ {
		m.ReadPhys(addr+uint32(y)*width*4, row)
		pix := img.Pix[y*img.Stride:]
		for x := 0; x < int(width); x++ {
			b, g, r := row[x*4], row[x*4+1], row[x*4+2]
			pix[x*4], pix[x*4+1], pix[x*4+2], pix[x*4+3] = r, g, b, 0xff
		}
	}
	return img
}

// saveSnapshot writes the framebuffer contents to path as a PNG.
func saveSnapshot(m *cpu.Machine, path string) error {
	dc := gg.NewContextForRGBA(framebufferImage(m))
	return dc.SavePNG(path)
}
