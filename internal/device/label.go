package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/orrn/labelstream/internal/template"
)

var ErrNoLabel = errors.New("no label started")

// canvas records drawing calls into a label document. The page buffer
// is that document in template JSON, so a committed page can be parsed
// back and rendered by the device.
type canvas struct {
	mu    sync.Mutex
	label *template.Template
}

func (c *canvas) DrawEmptyLabel(board template.DrawingBoardParams) error {
	if err := board.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.label = &template.Template{Board: board}
	c.mu.Unlock()
	return nil
}

func (c *canvas) add(e template.Element) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%s: %w", e.Kind(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.label == nil {
		return ErrNoLabel
	}
	c.label.Elements = append(c.label.Elements, e)
	return nil
}

func (c *canvas) DrawText(e *template.Text) error {
	cp := *e
	return c.add(&cp)
}

func (c *canvas) DrawBarCode(e *template.BarCode) error {
	cp := *e
	return c.add(&cp)
}

func (c *canvas) DrawLine(e *template.Line) error {
	cp := *e
	cp.DashWidth = append([]float64(nil), e.DashWidth...)
	return c.add(&cp)
}

func (c *canvas) DrawGraph(e *template.Graph) error {
	cp := *e
	cp.DashWidth = append([]float64(nil), e.DashWidth...)
	return c.add(&cp)
}

func (c *canvas) DrawQRCode(e *template.QRCode) error {
	cp := *e
	return c.add(&cp)
}

func (c *canvas) DrawQRCodeWithLogo(e *template.QRCodeWithLogo) error {
	cp := *e
	return c.add(&cp)
}

func (c *canvas) DrawImage(e *template.Image) error {
	cp := *e
	return c.add(&cp)
}

func (c *canvas) GenerateLabelBuffer() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.label == nil {
		return nil, ErrNoLabel
	}
	return json.Marshal(c.label)
}
