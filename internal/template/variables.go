package template

import (
	"fmt"
	"regexp"
	"sort"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Variables lists the distinct {{name}} placeholders used in element
// values, sorted.
func (t *Template) Variables() []string {
	seen := make(map[string]bool)
	for _, e := range t.Elements {
		for _, v := range values(e) {
			for _, m := range placeholder.FindAllStringSubmatch(*v, -1) {
				seen[m[1]] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Substitute returns a copy of t with {{name}} placeholders replaced from
// vars. Every placeholder must have a value.
func (t *Template) Substitute(vars map[string]string) (*Template, error) {
	for _, name := range t.Variables() {
		if _, ok := vars[name]; !ok {
			return nil, &TemplateError{Index: -1, Reason: fmt.Sprintf("variable %q is missing", name)}
		}
	}

	out := &Template{Board: t.Board, Elements: make([]Element, len(t.Elements))}
	for i, e := range t.Elements {
		cp := clone(e)
		for _, v := range values(cp) {
			*v = placeholder.ReplaceAllStringFunc(*v, func(m string) string {
				return vars[m[2:len(m)-2]]
			})
		}
		out.Elements[i] = cp
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// values returns pointers to the substitutable fields of e.
func values(e Element) []*string {
	switch e := e.(type) {
	case *Text:
		return []*string{&e.Value}
	case *BarCode:
		return []*string{&e.Value}
	case *QRCode:
		return []*string{&e.Value}
	case *QRCodeWithLogo:
		return []*string{&e.Value}
	}
	return nil
}

func clone(e Element) Element {
	switch e := e.(type) {
	case *Text:
		cp := *e
		return &cp
	case *BarCode:
		cp := *e
		return &cp
	case *Line:
		cp := *e
		cp.DashWidth = append([]float64(nil), e.DashWidth...)
		return &cp
	case *Graph:
		cp := *e
		cp.DashWidth = append([]float64(nil), e.DashWidth...)
		return &cp
	case *QRCode:
		cp := *e
		return &cp
	case *QRCodeWithLogo:
		cp := *e
		return &cp
	case *Image:
		cp := *e
		return &cp
	}
	return e
}
