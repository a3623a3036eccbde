package hal

import (
	"strconv"
	"strings"

	"ringos/kernel"
)

var errBadCmdLineValue = &kernel.Error{Module: "hal", Message: "malformed numeric value on the boot command line"}

// CmdLine holds the key/value pairs passed to the kernel on the boot command
// line.
type CmdLine map[string]string

// ParseCmdLine splits a boot command line into its key/value pairs. Pairs
// are separated by whitespace; "foo=bar" maps foo to bar and a bare "nofoo"
// maps nofoo to itself. Entries with more than one '=' are ignored.
func ParseCmdLine(cmdLine string) CmdLine {
	kv := make(CmdLine)
	for _, pair := range strings.Fields(cmdLine) {
		fields := strings.Split(pair, "=")
		switch len(fields) {
		case 2: // foo=bar
			kv[fields[0]] = fields[1]
		case 1: // nofoo
			kv[fields[0]] = fields[0]
		}
	}
	return kv
}

// String returns the value of key or def if key is not set.
func (c CmdLine) String(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Uint returns the unsigned decimal value of key or def if key is not set.
func (c CmdLine) Uint(key string, def uint32) (uint32, *kernel.Error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}

	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errBadCmdLineValue
	}
	return uint32(n), nil
}

// List returns the comma-separated values of key. Empty items are dropped.
func (c CmdLine) List(key string) []string {
	var out []string
	for _, item := range strings.Split(c[key], ",") {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
