package cpu

import "encoding/binary"

const frameSize = 4096

// memory is sparse physical RAM plus a framebuffer window. Frames are only
// materialized once written so large boards stay cheap.
type memory struct {
	size   uint32
	frames map[uint32]*[frameSize]byte

	fbBase, fbSize uint32
}

func newMemory(size, fbBase, fbSize uint32) *memory {
	return &memory{
		size:   size,
		frames: make(map[uint32]*[frameSize]byte),
		fbBase: fbBase,
		fbSize: fbSize,
	}
}

func (mem *memory) backed(addr uint32) bool {
	if addr < mem.size {
		return true
	}
	return mem.fbSize != 0 && addr >= mem.fbBase && addr-mem.fbBase < mem.fbSize
}

func (mem *memory) frame(addr uint32, create bool) *[frameSize]byte {
	f := mem.frames[addr>>12]
	if f == nil && create {
		f = new([frameSize]byte)
		mem.frames[addr>>12] = f
	}
	return f
}

func (mem *memory) read8(addr uint32) uint8 {
	if !mem.backed(addr) {
		return 0xff
	}
	if f := mem.frame(addr, false); f != nil {
		return f[addr&0xfff]
	}
	return 0
}

func (mem *memory) write8(addr uint32, v uint8) {
	if !mem.backed(addr) {
		return
	}
	mem.frame(addr, true)[addr&0xfff] = v
}

func (mem *memory) read32(addr uint32) uint32 {
	if addr&0xfff <= frameSize-4 && mem.backed(addr) {
		if f := mem.frame(addr, false); f != nil {
			return binary.LittleEndian.Uint32(f[addr&0xfff:])
		}
		return 0
	}

	var buf [4]byte
	for i := range buf {
		buf[i] = mem.read8(addr + uint32(i))
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (mem *memory) write32(addr uint32, v uint32) {
	if addr&0xfff <= frameSize-4 && mem.backed(addr) {
		binary.LittleEndian.PutUint32(mem.frame(addr, true)[addr&0xfff:], v)
		return
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	for i, b := range buf {
		mem.write8(addr+uint32(i), b)
	}
}

// ReadPhys copies len(p) bytes starting at physical address addr into p.
// Unbacked addresses read as 0xff.
func (m *Machine) ReadPhys(addr uint32, p []byte) {
	for len(p) > 0 {
		n := chunk(addr, len(p))
		f := m.mem.frame(addr, false)
		switch {
		case !m.mem.backed(addr) || !m.mem.backed(addr+uint32(n)-1):
			for i := 0; i < n; i++ {
				p[i] = m.mem.read8(addr + uint32(i))
			}
		case f == nil:
			for i := 0; i < n; i++ {
				p[i] = 0
			}
		default:
			copy(p[:n], f[addr&0xfff:])
		}
		addr, p = addr+uint32(n), p[n:]
	}
}

// WritePhys copies p to physical memory starting at addr. Writes to unbacked
// addresses are dropped.
func (m *Machine) WritePhys(addr uint32, p []byte) {
	for len(p) > 0 {
		n := chunk(addr, len(p))
		if m.mem.backed(addr) && m.mem.backed(addr+uint32(n)-1) {
			copy(m.mem.frame(addr, true)[addr&0xfff:], p[:n])
		} else {
			for i := 0; i < n; i++ {
				m.mem.write8(addr+uint32(i), p[i])
			}
		}
		addr, p = addr+uint32(n), p[n:]
	}
}

// chunk returns how many of n bytes starting at addr fit in addr's frame.
func chunk(addr uint32, n int) int {
	if rem := frameSize - int(addr&0xfff); rem < n {
		return rem
	}
	return n
}

// ReadPhys32 reads a little-endian word from physical memory.
func (m *Machine) ReadPhys32(addr uint32) uint32 { return m.mem.read32(addr) }

// WritePhys32 writes a little-endian word to physical memory.
func (m *Machine) WritePhys32(addr, v uint32) { m.mem.write32(addr, v) }

// ZeroPhys clears a 4 KiB physical frame.
func (m *Machine) ZeroPhys(frameAddr uint32) {
	if f := m.mem.frame(frameAddr&^0xfff, false); f != nil {
		*f = [frameSize]byte{}
	}
}

// RAMSize returns the amount of installed RAM.
func (m *Machine) RAMSize() uint32 { return m.mem.size }
