// Package console implements the serial console surface: the fixed-line
// boot transcript primitives and the single-byte motor test protocol.
package console

import (
	"fmt"
	"io"
	"strconv"
	"sync"
)

const eol = "\r\n"

// Writer emits the fixed console lines. Writes are fire-and-forget, the
// way a UART is: a console that went away must never stall the flight
// code, so io errors are swallowed.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (c *Writer) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, s)
}

// WriteString emits s verbatim.
func (c *Writer) WriteString(s string) {
	c.write(s)
}

// WriteLine emits s followed by the line terminator.
func (c *Writer) WriteLine(s string) {
	c.write(s + eol)
}

// WriteEOL emits the line terminator.
func (c *Writer) WriteEOL() {
	c.write(eol)
}

// WriteHex16 emits v as four hex digits.
func (c *Writer) WriteHex16(v uint16) {
	c.write(fmt.Sprintf("%04x", v))
}

// WriteDec emits v as plain decimal, no padding.
func (c *Writer) WriteDec(v uint32) {
	c.write(strconv.FormatUint(uint64(v), 10))
}

// WriteFixed emits num/scale as a decimal with two fractional digits.
func (c *Writer) WriteFixed(num int64, scale int64) {
	neg := num < 0
	if neg {
		num = -num
	}
	whole := num / scale
	frac := num % scale * 100 / scale
	s := strconv.FormatInt(whole, 10) + "." + pad2(frac)
	if neg {
		s = "-" + s
	}
	c.write(s)
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}
