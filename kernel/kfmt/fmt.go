// Package kfmt implements the kernel's formatted output. Output is sent to a
// swappable sink (normally the active terminal); anything printed before a
// sink is attached is captured by a ring buffer and replayed on attach.
package kfmt

import (
	"fmt"
	"io"

	"ringos/kernel/ringbuf"
)

// earlyBufferSize can hold a full 80x25 screen of early boot messages.
const earlyBufferSize = 2048

var (
	// earlyPrintBuffer stores Printf output before a sink is attached.
	earlyPrintBuffer = ringbuf.NewBytes(earlyBufferSize)

	// outputSink is where Printf sends its output. If nil, output goes
	// to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for Printf to w and flushes any
// data accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, earlyPrintBuffer)
	}
}

// GetOutputSink returns the active output sink or nil if Printf output is
// still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats according to a format specifier and writes to the active
// output sink. Printf supports the verbs of package fmt.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w. A nil w selects the early
// print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = earlyPrintBuffer
	}
	fmt.Fprintf(w, format, args...)
}

// Output returns a writer that always forwards to the current output sink,
// or to the early print buffer while no sink is attached.
func Output() io.Writer {
	return sinkWriter{}
}

type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}
