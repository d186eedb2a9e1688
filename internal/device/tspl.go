package device

import (
	"fmt"
	"strings"
)

const (
	statusCommand = "\x1b!?"
	cancelCommand = "\x1b!."
	resumeCommand = "\x1b!o"
)

// Bitmap blend modes of the BITMAP command.
const (
	bitmapOverwrite = 0
	bitmapOR        = 1
)

// Command accumulates TSPL commands for one label.
type Command struct {
	buf strings.Builder
}

func NewCommand() *Command {
	return &Command{}
}

func (c *Command) Size(widthMM, heightMM float64) *Command {
	fmt.Fprintf(&c.buf, "SIZE %.1f mm,%.1f mm\r\n", widthMM, heightMM)
	return c
}

func (c *Command) Gap(gapMM, offsetMM float64) *Command {
	fmt.Fprintf(&c.buf, "GAP %.1f mm,%.1f mm\r\n", gapMM, offsetMM)
	return c
}

// BLine sets black-mark media.
func (c *Command) BLine(markMM, offsetMM float64) *Command {
	fmt.Fprintf(&c.buf, "BLINE %.1f mm,%.1f mm\r\n", markMM, offsetMM)
	return c
}

func (c *Command) Direction(dir, mirror int) *Command {
	fmt.Fprintf(&c.buf, "DIRECTION %d,%d\r\n", dir, mirror)
	return c
}

// Density sets print darkness, clamped to 0-15.
func (c *Command) Density(level int) *Command {
	if level < 0 {
		level = 0
	}
	if level > 15 {
		level = 15
	}
	fmt.Fprintf(&c.buf, "DENSITY %d\r\n", level)
	return c
}

func (c *Command) Ribbon(on bool) *Command {
	if on {
		c.buf.WriteString("SET RIBBON ON\r\n")
	} else {
		c.buf.WriteString("SET RIBBON OFF\r\n")
	}
	return c
}

func (c *Command) CLS() *Command {
	c.buf.WriteString("CLS\r\n")
	return c
}

// Bitmap places raw 1-bit data at x,y (dots). A 0 bit prints black.
func (c *Command) Bitmap(x, y, widthBytes, height, mode int, data []byte) *Command {
	fmt.Fprintf(&c.buf, "BITMAP %d,%d,%d,%d,%d,", x, y, widthBytes, height, mode)
	c.buf.Write(data)
	c.buf.WriteString("\r\n")
	return c
}

func (c *Command) Barcode(x, y int, symbology string, height, readable, rotation, narrow, wide int, content string) *Command {
	fmt.Fprintf(&c.buf, "BARCODE %d,%d,\"%s\",%d,%d,%d,%d,%d,\"%s\"\r\n",
		x, y, symbology, height, readable, rotation, narrow, wide, escapeTSPLString(content))
	return c
}

func (c *Command) QRCode(x, y int, level string, cellWidth, rotation int, content string) *Command {
	fmt.Fprintf(&c.buf, "QRCODE %d,%d,%s,%d,A,%d,\"%s\"\r\n",
		x, y, level, cellWidth, rotation, escapeTSPLString(content))
	return c
}

// Bar draws a filled rectangle of w by h dots.
func (c *Command) Bar(x, y, w, h int) *Command {
	fmt.Fprintf(&c.buf, "BAR %d,%d,%d,%d\r\n", x, y, w, h)
	return c
}

func (c *Command) Box(x, y, xEnd, yEnd, thickness, radius int) *Command {
	if radius > 0 {
		fmt.Fprintf(&c.buf, "BOX %d,%d,%d,%d,%d,%d\r\n", x, y, xEnd, yEnd, thickness, radius)
	} else {
		fmt.Fprintf(&c.buf, "BOX %d,%d,%d,%d,%d\r\n", x, y, xEnd, yEnd, thickness)
	}
	return c
}

func (c *Command) Circle(x, y, diameter, thickness int) *Command {
	fmt.Fprintf(&c.buf, "CIRCLE %d,%d,%d,%d\r\n", x, y, diameter, thickness)
	return c
}

func (c *Command) Ellipse(x, y, w, h, thickness int) *Command {
	fmt.Fprintf(&c.buf, "ELLIPSE %d,%d,%d,%d,%d\r\n", x, y, w, h, thickness)
	return c
}

// Print prints sets labels, each repeated copies times.
func (c *Command) Print(sets, copies int) *Command {
	fmt.Fprintf(&c.buf, "PRINT %d,%d\r\n", sets, copies)
	return c
}

func (c *Command) Bytes() []byte {
	return []byte(c.buf.String())
}

func (c *Command) String() string {
	return c.buf.String()
}

func mmToDots(mm float64, dpi int) int {
	return int(mm * float64(dpi) / 25.4)
}

func escapeTSPLString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
