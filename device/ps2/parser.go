package ps2

// Scan code set 2 prefixes.
const (
	codeExtended = uint8(0xe0)
	codePause    = uint8(0xe1)
	codeBreak    = uint8(0xf0)

	codeLShift   = uint8(0x12)
	codeRShift   = uint8(0x59)
	codeCapsLock = uint8(0x58)

	// pauseLength is the number of bytes following 0xe1 in the pause key
	// sequence.
	pauseLength = 7
)

var (
	set2Normal = [0x80]byte{
		0x0d: '\t', 0x0e: '`', 0x15: 'q', 0x16: '1', 0x1a: 'z', 0x1b: 's',
		0x1c: 'a', 0x1d: 'w', 0x1e: '2', 0x21: 'c', 0x22: 'x', 0x23: 'd',
		0x24: 'e', 0x25: '4', 0x26: '3', 0x29: ' ', 0x2a: 'v', 0x2b: 'f',
		0x2c: 't', 0x2d: 'r', 0x2e: '5', 0x31: 'n', 0x32: 'b', 0x33: 'h',
		0x34: 'g', 0x35: 'y', 0x36: '6', 0x3a: 'm', 0x3b: 'j', 0x3c: 'u',
		0x3d: '7', 0x3e: '8', 0x41: ',', 0x42: 'k', 0x43: 'i', 0x44: 'o',
		0x45: '0', 0x46: '9', 0x49: '.', 0x4a: '/', 0x4b: 'l', 0x4c: ';',
		0x4d: 'p', 0x4e: '-', 0x52: '\'', 0x54: '[', 0x55: '=', 0x5a: '\n',
		0x5b: ']', 0x5d: '\\', 0x66: '\b', 0x76: 0x1b,
	}

	shifted = map[byte]byte{
		'1': '!', '2': '@', '3': '#', '4': '$', '5': '%', '6': '^', '7': '&',
		'8': '*', '9': '(', '0': ')', '-': '_', '=': '+', '[': '{', ']': '}',
		'\\': '|', ';': ':', '\'': '"', ',': '<', '.': '>', '/': '?', '`': '~',
	}
)

// Parser turns a stream of set 2 scan codes into ASCII key presses. Key
// releases only update the modifier state.
type Parser struct {
	released bool
	extended bool
	skip     int

	shift bool
	caps  bool
}

// Feed consumes one scan code byte. It returns the character produced by a
// key press, if any.
func (p *Parser) Feed(code uint8) (byte, bool) {
	if p.skip > 0 {
		p.skip--
		return 0, false
	}

	switch code {
	case codePause:
		p.skip = pauseLength
		return 0, false
	case codeExtended:
		p.extended = true
		return 0, false
	case codeBreak:
		p.released = true
		return 0, false
	}

	released, extended := p.released, p.extended
	p.released, p.extended = false, false

	if extended {
		// Keypad enter is the only extended key with a character.
		if code == 0x5a && !released {
			return '\n', true
		}
		return 0, false
	}

	switch code {
	case codeLShift, codeRShift:
		p.shift = !released
		return 0, false
	case codeCapsLock:
		if !released {
			p.caps = !p.caps
		}
		return 0, false
	}

	if released || code >= uint8(len(set2Normal)) {
		return 0, false
	}

	ch := set2Normal[code]
	switch {
	case ch == 0:
		return 0, false
	case ch >= 'a' && ch <= 'z':
		if p.shift != p.caps {
			ch -= 'a' - 'A'
		}
	case p.shift:
		if alt, ok := shifted[ch]; ok {
			ch = alt
		}
	}
	return ch, true
}
