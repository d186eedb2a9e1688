package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/orrn/labelstream/internal/template"
)

// Page is one compiled label: the device page buffer and its print-info
// metadata document.
type Page struct {
	Buffer string `json:"buffer"`
	Meta   string `json:"meta"`
}

// PageOptions carries the per-page print info written into page metadata.
type PageOptions struct {
	Copies   int
	Multiple float64
	EPC      string
}

type PrintInfo struct {
	Orientation      int     `json:"orientation"`
	Margin           [4]int  `json:"margin"`
	PrintQuantity    int     `json:"printQuantity"`
	HorizontalOffset float64 `json:"horizontalOffset"`
	VerticalOffset   float64 `json:"verticalOffset"`
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	PrintMultiple    string  `json:"printMultiple"`
	EPC              string  `json:"epc"`
}

type pageMeta struct {
	Info PrintInfo `json:"printerImageProcessingInfo"`
}

// Compiler turns templates into page buffers by replaying their elements
// onto a backend drawing surface. The surface is stateful, so compiles
// are serialized.
type Compiler struct {
	mu     sync.Mutex
	drawer Drawer
}

func NewCompiler(d Drawer) *Compiler {
	return &Compiler{drawer: d}
}

func (c *Compiler) Compile(t *template.Template) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compile(t)
}

// CompileBatch validates every template before drawing any of them and
// returns the buffers in input order.
func (c *Compiler) CompileBatch(templates []*template.Template) ([]string, error) {
	if len(templates) == 0 {
		return nil, &template.TemplateError{Index: -1, Reason: "template batch is empty"}
	}
	for i, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buffers := make([]string, 0, len(templates))
	for i, t := range templates {
		buf, err := c.compile(t)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		buffers = append(buffers, buf)
	}
	return buffers, nil
}

// CompilePages compiles a batch and pairs each buffer with the page
// metadata derived from its board and opts.
func (c *Compiler) CompilePages(templates []*template.Template, opts PageOptions) ([]Page, error) {
	buffers, err := c.CompileBatch(templates)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, len(buffers))
	for i, buf := range buffers {
		meta, err := PageMeta(templates[i].Board, opts)
		if err != nil {
			return nil, err
		}
		pages[i] = Page{Buffer: buf, Meta: meta}
	}
	return pages, nil
}

func (c *Compiler) compile(t *template.Template) (string, error) {
	if err := c.drawer.DrawEmptyLabel(t.Board); err != nil {
		return "", fmt.Errorf("failed to initialize drawing board: %w", err)
	}

	for i, elem := range t.Elements {
		if err := c.draw(elem); err != nil {
			return "", fmt.Errorf("failed to draw %s element %d: %w", elem.Kind(), i, err)
		}
	}

	buf, err := c.drawer.GenerateLabelBuffer()
	if err != nil {
		return "", fmt.Errorf("failed to generate label buffer: %w", err)
	}
	return strings.ToValidUTF8(string(buf), "\uFFFD"), nil
}

func (c *Compiler) draw(elem template.Element) error {
	switch e := elem.(type) {
	case *template.Text:
		return c.drawer.DrawText(e)
	case *template.BarCode:
		return c.drawer.DrawBarCode(e)
	case *template.Line:
		return c.drawer.DrawLine(e)
	case *template.Graph:
		return c.drawer.DrawGraph(e)
	case *template.QRCode:
		return c.drawer.DrawQRCode(e)
	case *template.QRCodeWithLogo:
		return c.drawer.DrawQRCodeWithLogo(e)
	case *template.Image:
		return c.drawer.DrawImage(e)
	default:
		return fmt.Errorf("unsupported element type %T", elem)
	}
}

// PageMeta renders the print-info document for one page.
func PageMeta(board template.DrawingBoardParams, opts PageOptions) (string, error) {
	copies := opts.Copies
	if copies < 1 {
		copies = 1
	}
	doc := pageMeta{Info: PrintInfo{
		Orientation:   board.Rotate,
		PrintQuantity: copies,
		Width:         board.Width,
		Height:        board.Height,
		PrintMultiple: FormatMultiple(opts.Multiple),
		EPC:           opts.EPC,
	}}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode page metadata: %w", err)
	}
	return string(data), nil
}

// FormatMultiple renders a print multiple with at least one decimal
// place, e.g. 8 -> "8.0", 11.81 -> "11.81".
func FormatMultiple(m float64) string {
	s := strconv.FormatFloat(m, 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParsePageMeta decodes a document produced by PageMeta.
func ParsePageMeta(meta string) (PrintInfo, error) {
	var doc pageMeta
	if err := json.Unmarshal([]byte(meta), &doc); err != nil {
		return PrintInfo{}, fmt.Errorf("failed to decode page metadata: %w", err)
	}
	return doc.Info, nil
}
