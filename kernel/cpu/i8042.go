package cpu

const (
	kbdACK      = uint8(0xfa)
	kbdSelfTest = uint8(0xaa)
	kbdBreak    = uint8(0xf0)
	kbdLShift   = uint8(0x12)
)

// I8042 models the PS/2 controller with a set 2 keyboard attached.
type I8042 struct {
	command    uint8
	pendingCmd uint8
	expectSet  bool
	scanSet    uint8
	disabled   bool
	out        []uint8
	last       uint8
	irq        func()
}

func newI8042(irq func()) *I8042 {
	return &I8042{scanSet: 2, irq: irq}
}

// ScanCodeSet returns the scan code set selected by the driver.
func (c *I8042) ScanCodeSet() uint8 { return c.scanSet }

// In implements PortDevice.
func (c *I8042) In(port uint16) uint8 {
	if port == 0x64 {
		status := uint8(1 << 2)
		if len(c.out) != 0 {
			status |= 1
		}
		return status
	}

	if len(c.out) == 0 {
		return c.last
	}
	c.last, c.out = c.out[0], c.out[1:]
	if len(c.out) != 0 && c.command&1 != 0 {
		c.irq()
	}
	return c.last
}

// Out implements PortDevice.
func (c *I8042) Out(port uint16, v uint8) {
	if port == 0x64 {
		switch v {
		case 0x20:
			c.push(c.command)
		case 0x60:
			c.pendingCmd = v
		case 0xaa:
			c.push(0x55)
		case 0xad:
			c.disabled = true
		case 0xae:
			c.disabled = false
		}
		return
	}

	switch {
	case c.pendingCmd == 0x60:
		c.command, c.pendingCmd = v, 0
	case c.expectSet:
		c.expectSet = false
		if v != 0 {
			c.scanSet = v
		}
		c.push(kbdACK)
	case v == 0xf0:
		c.expectSet = true
		c.push(kbdACK)
	case v == 0xff:
		c.push(kbdACK)
		c.push(kbdSelfTest)
	default:
		c.push(kbdACK)
	}
}

func (c *I8042) push(b uint8) {
	c.out = append(c.out, b)
	if c.command&1 != 0 {
		c.irq()
	}
}

// PressScanCodes injects raw scan code bytes from the keyboard.
func (c *I8042) PressScanCodes(codes ...uint8) {
	if c.disabled {
		return
	}
	for _, code := range codes {
		c.push(code)
	}
}

// Type injects the make and break codes that produce ch on a US layout.
// It reports false if ch has no key.
func (c *I8042) Type(ch byte) bool {
	shifted := false
	if base, ok := shiftedKeys[ch]; ok {
		ch, shifted = base, true
	} else if ch >= 'A' && ch <= 'Z' {
		ch, shifted = ch-'A'+'a', true
	}

	code, ok := set2Keys[ch]
	if !ok {
		return false
	}

	if shifted {
		c.PressScanCodes(kbdLShift)
	}
	c.PressScanCodes(code, kbdBreak, code)
	if shifted {
		c.PressScanCodes(kbdBreak, kbdLShift)
	}
	return true
}

var set2Keys = map[byte]uint8{
	'a': 0x1c, 'b': 0x32, 'c': 0x21, 'd': 0x23, 'e': 0x24, 'f': 0x2b, 'g': 0x34,
	'h': 0x33, 'i': 0x43, 'j': 0x3b, 'k': 0x42, 'l': 0x4b, 'm': 0x3a, 'n': 0x31,
	'o': 0x44, 'p': 0x4d, 'q': 0x15, 'r': 0x2d, 's': 0x1b, 't': 0x2c, 'u': 0x3c,
	'v': 0x2a, 'w': 0x1d, 'x': 0x22, 'y': 0x35, 'z': 0x1a,
	'0': 0x45, '1': 0x16, '2': 0x1e, '3': 0x26, '4': 0x25, '5': 0x2e, '6': 0x36,
	'7': 0x3d, '8': 0x3e, '9': 0x46,
	' ': 0x29, '\n': 0x5a, '\r': 0x5a, '\b': 0x66, 0x7f: 0x66, '\t': 0x0d,
	'-': 0x4e, '=': 0x55, '[': 0x54, ']': 0x5b, '\\': 0x5d, ';': 0x4c,
	'\'': 0x52, ',': 0x41, '.': 0x49, '/': 0x4a, '`': 0x0e,
}

var shiftedKeys = map[byte]byte{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5', '^': '6', '&': '7',
	'*': '8', '(': '9', ')': '0', '_': '-', '+': '=', '{': '[', '}': ']',
	'|': '\\', ':': ';', '"': '\'', '<': ',', '>': '.', '?': '/', '~': '`',
}
