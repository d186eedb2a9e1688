// Package template holds the declarative description of one label: the
// drawing board and the ordered elements drawn on it.
package template

import (
	"fmt"
	"strings"
)

type DrawingBoardParams struct {
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Rotate          int     `json:"rotate"`
	Path            string  `json:"path"`
	VerticalShift   float64 `json:"verticalShift"`
	HorizontalShift float64 `json:"HorizontalShift"`
}

func (b *DrawingBoardParams) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("board size must be positive, got %gx%g", b.Width, b.Height)
	}
	if b.Path == "" {
		return fmt.Errorf("board path is required")
	}
	switch b.Rotate {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("board rotate must be 0, 90, 180 or 270, got %d", b.Rotate)
	}
	return nil
}

// Template is an ordered element list on one drawing board. Elements are
// drawn in order, later ones on top.
type Template struct {
	Board    DrawingBoardParams
	Elements []Element
}

// New validates the board and every element and returns a template that
// owns its own copy of the element slice.
func New(board DrawingBoardParams, elements ...Element) (*Template, error) {
	t := &Template{
		Board:    board,
		Elements: append([]Element(nil), elements...),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Template) Validate() error {
	if t == nil {
		return &TemplateError{Index: -1, Reason: "template is nil"}
	}
	if err := t.Board.Validate(); err != nil {
		return &TemplateError{Index: -1, Reason: "invalid drawing board", Err: err}
	}
	for i, e := range t.Elements {
		if e == nil {
			return &TemplateError{Index: i, Reason: "element is nil"}
		}
		if err := e.Validate(); err != nil {
			return &TemplateError{Index: i, Kind: e.Kind(), Reason: "invalid element", Err: err}
		}
	}
	return nil
}

// TemplateError reports a structurally invalid template. Index is -1
// when the fault is not tied to a single element.
type TemplateError struct {
	Index  int
	Kind   Kind
	Reason string
	Err    error
}

func (e *TemplateError) Error() string {
	var sb strings.Builder
	sb.WriteString("template")
	if e.Index >= 0 {
		fmt.Fprintf(&sb, ": element %d", e.Index)
		if e.Kind != "" {
			fmt.Fprintf(&sb, " (%s)", e.Kind)
		}
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}
