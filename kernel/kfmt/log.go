package kfmt

// ANSI color escapes understood by the terminal.
const (
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiDefault = "\x1b[39m"
)

// Infof prints an informational line tagged with a green INFO marker.
func Infof(format string, args ...interface{}) {
	Printf("["+ansiGreen+"INFO"+ansiDefault+"] "+format+"\n", args...)
}

// Warnf prints a line tagged with a yellow WARNING marker.
func Warnf(format string, args ...interface{}) {
	Printf("["+ansiYellow+"WARNING"+ansiDefault+"] "+format+"\n", args...)
}
