package template

import "fmt"

type Kind string

const (
	KindText           Kind = "text"
	KindBarCode        Kind = "barCode"
	KindLine           Kind = "line"
	KindGraph          Kind = "graph"
	KindQRCode         Kind = "qrCode"
	KindQRCodeWithLogo Kind = "qrCodeWithLogo"
	KindImage          Kind = "image"
)

// Element is one drawable item of a template. Implementations are the
// pointer types of the payload structs below.
type Element interface {
	Kind() Kind
	Validate() error
}

// Geometry is shared by every payload. Units are millimetres; Rotate is
// one of 0, 90, 180, 270.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Rotate int     `json:"rotate"`
}

type Text struct {
	Geometry
	Value               string  `json:"value"`
	FontFamily          string  `json:"fontFamily"`
	FontSize            float64 `json:"fontSize"`
	TextAlignHorizontal int     `json:"textAlignHorizontal"`
	TextAlignVertical   int     `json:"textAlignVertical"`
	LineMode            int     `json:"lineMode"`
	LetterSpacing       float64 `json:"letterSpacing"`
	LineSpacing         float64 `json:"lineSpacing"`
	// FontStyle is bold, italic, underline, strikethrough.
	FontStyle [4]bool `json:"fontStyle"`
}

type BarCode struct {
	Geometry
	Value        string  `json:"value"`
	CodeType     int     `json:"codeType"`
	FontSize     float64 `json:"fontSize"`
	TextHeight   float64 `json:"textHeight"`
	TextPosition int     `json:"textPosition"`
}

type Line struct {
	Geometry
	LineType  int       `json:"lineType"`
	DashWidth []float64 `json:"dashwidth"`
}

type Graph struct {
	Geometry
	GraphType    int       `json:"graphType"`
	CornerRadius float64   `json:"cornerRadius"`
	LineWidth    float64   `json:"lineWidth"`
	LineType     int       `json:"lineType"`
	DashWidth    []float64 `json:"dashwidth"`
}

type QRCode struct {
	Geometry
	Value    string `json:"value"`
	CodeType int    `json:"codeType"`
}

type QRCodeWithLogo struct {
	Geometry
	Value         string  `json:"value"`
	CodeType      int     `json:"codeType"`
	CorrectLevel  int     `json:"correctLevel"`
	LogoImageData string  `json:"logoImageData"`
	Anchor        int     `json:"anchor"`
	Scale         float64 `json:"scale"`
}

type Image struct {
	Geometry
	// ImageData is base64 encoded.
	ImageData            string  `json:"imageData"`
	ImageProcessingType  int     `json:"imageProcessingType"`
	ImageProcessingValue float64 `json:"imageProcessingValue"`
}

// DefaultDashWidth is applied to a Line whose dash pattern is unset.
var DefaultDashWidth = []float64{5, 5}

func (*Text) Kind() Kind           { return KindText }
func (*BarCode) Kind() Kind        { return KindBarCode }
func (*Line) Kind() Kind           { return KindLine }
func (*Graph) Kind() Kind          { return KindGraph }
func (*QRCode) Kind() Kind         { return KindQRCode }
func (*QRCodeWithLogo) Kind() Kind { return KindQRCodeWithLogo }
func (*Image) Kind() Kind          { return KindImage }

func (e *Text) Validate() error {
	return required("value", e.Value)
}

func (e *BarCode) Validate() error {
	return required("value", e.Value)
}

func (e *Line) Validate() error {
	if e.DashWidth == nil {
		e.DashWidth = append([]float64(nil), DefaultDashWidth...)
	}
	return nil
}

func (e *Graph) Validate() error {
	return nil
}

func (e *QRCode) Validate() error {
	return required("value", e.Value)
}

func (e *QRCodeWithLogo) Validate() error {
	return required("value", e.Value)
}

func (e *Image) Validate() error {
	return required("imageData", e.ImageData)
}

func required(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func newElement(kind Kind) (Element, bool) {
	switch kind {
	case KindText:
		return &Text{}, true
	case KindBarCode:
		return &BarCode{}, true
	case KindLine:
		return &Line{}, true
	case KindGraph:
		return &Graph{}, true
	case KindQRCode:
		return &QRCode{}, true
	case KindQRCodeWithLogo:
		return &QRCodeWithLogo{}, true
	case KindImage:
		return &Image{}, true
	default:
		return nil, false
	}
}
