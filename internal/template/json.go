package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type templateJSON struct {
	Board    *DrawingBoardParams `json:"InitDrawingBoardParam"`
	Elements []elementJSON       `json:"elements"`
}

type elementJSON struct {
	Type Kind            `json:"type"`
	JSON json.RawMessage `json:"json"`
}

// Parse decodes one template document and validates it.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, asTemplateError(err)
	}
	return &t, nil
}

// ParseList decodes a JSON array of template documents.
func ParseList(data []byte) ([]*Template, error) {
	var list []*Template
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, asTemplateError(err)
	}
	return list, nil
}

// asTemplateError keeps element-level errors intact and wraps syntax
// errors the decoder reports before UnmarshalJSON runs.
func asTemplateError(err error) error {
	var te *TemplateError
	if errors.As(err, &te) {
		return err
	}
	return &TemplateError{Index: -1, Reason: "malformed json", Err: err}
}

func (t *Template) UnmarshalJSON(data []byte) error {
	var doc templateJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return &TemplateError{Index: -1, Reason: "malformed json", Err: err}
	}
	if doc.Board == nil {
		return &TemplateError{Index: -1, Reason: "InitDrawingBoardParam is required"}
	}

	elements := make([]Element, 0, len(doc.Elements))
	for i, raw := range doc.Elements {
		e, ok := newElement(raw.Type)
		if !ok {
			return &TemplateError{Index: i, Reason: fmt.Sprintf("unknown element type %q", raw.Type)}
		}
		if len(raw.JSON) == 0 || bytes.Equal(bytes.TrimSpace(raw.JSON), []byte("null")) {
			return &TemplateError{Index: i, Kind: raw.Type, Reason: "json payload is required"}
		}
		if err := json.Unmarshal(raw.JSON, e); err != nil {
			return &TemplateError{Index: i, Kind: raw.Type, Reason: "malformed payload", Err: err}
		}
		elements = append(elements, e)
	}

	parsed := Template{Board: *doc.Board, Elements: elements}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Template) MarshalJSON() ([]byte, error) {
	doc := templateJSON{
		Board:    &t.Board,
		Elements: make([]elementJSON, 0, len(t.Elements)),
	}
	for i, e := range t.Elements {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode element %d: %w", i, err)
		}
		doc.Elements = append(doc.Elements, elementJSON{Type: e.Kind(), JSON: payload})
	}
	return json.Marshal(doc)
}
