package device

import (
	"fmt"
	"math"

	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/template"
)

// Vendor media types.
const (
	mediaGap        = 1
	mediaBlackMark  = 2
	mediaContinuous = 3
)

// Vendor print modes.
const (
	modeThermal         = 1
	modeThermalTransfer = 2
)

// Vendor barcode types mapped to TSPL symbologies.
var symbologies = map[int]string{
	20: "128",
	21: "UPCA",
	22: "UPCE",
	23: "EAN8",
	24: "EAN13",
	25: "93",
	26: "39",
	27: "CODA",
	28: "25",
}

var qrLevels = []string{"L", "M", "Q", "H"}

// Byte-mode capacity of QR versions 1-20 at level M.
var qrCapacityM = []int{14, 26, 42, 62, 84, 106, 122, 152, 180, 213, 251, 287, 331, 362, 412, 450, 504, 560, 624, 666}

// jobSettings are the device parameters of one print job.
type jobSettings struct {
	density   int
	mediaType int
	mode      int
}

// Renderer turns label documents into TSPL programs.
type Renderer struct {
	DPI   int
	GapMM float64
}

func (r *Renderer) header(cmd *Command, widthMM, heightMM float64, rotate int, s jobSettings) {
	cmd.Size(widthMM, heightMM)
	switch s.mediaType {
	case mediaBlackMark:
		cmd.BLine(r.GapMM, 0)
	case mediaContinuous:
		cmd.Gap(0, 0)
	default:
		cmd.Gap(r.GapMM, 0)
	}
	dir := 0
	if rotate == 180 {
		dir = 1
	}
	cmd.Direction(dir, 0).Density(s.density)
	if s.mode == modeThermalTransfer {
		cmd.Ribbon(true)
	} else {
		cmd.Ribbon(false)
	}
	cmd.CLS()
}

// RenderTemplate renders one label and prints it copies times.
func (r *Renderer) RenderTemplate(t *template.Template, s jobSettings, copies int) ([]byte, error) {
	cmd := NewCommand()
	r.header(cmd, t.Board.Width, t.Board.Height, t.Board.Rotate, s)

	for i, elem := range t.Elements {
		if err := r.element(cmd, t.Board, elem); err != nil {
			return nil, fmt.Errorf("element %d (%s): %w", i, elem.Kind(), err)
		}
	}

	cmd.Print(1, max(1, copies))
	return cmd.Bytes(), nil
}

// RenderImage renders a pre-rendered page image scaled to the page
// size inside its margins (top, right, bottom, left in dots).
func (r *Renderer) RenderImage(p core.ImagePage, s jobSettings) ([]byte, error) {
	src, err := decodeRaw(p.Data)
	if err != nil {
		return nil, err
	}

	cmd := NewCommand()
	r.header(cmd, p.WidthMM, p.HeightMM, 0, s)

	w := mmToDots(p.WidthMM, r.DPI) - p.Margin[1] - p.Margin[3]
	h := mmToDots(p.HeightMM, r.DPI) - p.Margin[0] - p.Margin[2]
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("page %gx%g mm leaves no printable area inside its margins", p.WidthMM, p.HeightMM)
	}
	if p.Orientation == 90 || p.Orientation == 270 {
		w, h = h, w
	}

	img := rotate(fit(src, w, h), p.Orientation)
	wb, data := packBitmap(img, defaultThreshold)
	cmd.Bitmap(p.Margin[3], p.Margin[0], wb, img.Bounds().Dy(), bitmapOverwrite, data)
	cmd.Print(1, max(1, p.Quantity))
	return cmd.Bytes(), nil
}

func (r *Renderer) element(cmd *Command, board template.DrawingBoardParams, elem template.Element) error {
	switch e := elem.(type) {
	case *template.Text:
		img, err := renderText(e, r.DPI)
		if err != nil {
			return err
		}
		x, y := r.origin(board, e.Geometry)
		wb, data := packBitmap(img, defaultThreshold)
		cmd.Bitmap(x, y, wb, img.Bounds().Dy(), bitmapOR, data)
	case *template.BarCode:
		r.barcode(cmd, board, e)
	case *template.QRCode:
		r.qrcode(cmd, board, e.Geometry, e.Value, "M")
	case *template.QRCodeWithLogo:
		return r.qrcodeWithLogo(cmd, board, e)
	case *template.Line:
		r.line(cmd, board, e)
	case *template.Graph:
		return r.graph(cmd, board, e)
	case *template.Image:
		return r.image(cmd, board, e)
	default:
		return fmt.Errorf("unsupported element kind %s", elem.Kind())
	}
	return nil
}

// origin returns the element position in dots including the board
// shift.
func (r *Renderer) origin(board template.DrawingBoardParams, g template.Geometry) (int, int) {
	return mmToDots(g.X+board.HorizontalShift, r.DPI), mmToDots(g.Y+board.VerticalShift, r.DPI)
}

func (r *Renderer) barcode(cmd *Command, board template.DrawingBoardParams, e *template.BarCode) {
	sym, ok := symbologies[e.CodeType]
	if !ok {
		sym = "128"
	}

	readable := 2
	barMM := e.Height
	if e.TextPosition == 2 {
		readable = 0
	} else {
		barMM -= e.TextHeight
	}

	length := mmToDots(e.Width, r.DPI)
	if e.Rotate == 90 || e.Rotate == 270 {
		length = mmToDots(e.Height, r.DPI)
		barMM = e.Width
	}
	narrow := max(1, length/barcodeModules(sym, len(e.Value)))
	wide := narrow
	switch sym {
	case "39", "CODA", "25":
		wide = 2 * narrow
	}

	x, y := r.origin(board, e.Geometry)
	cmd.Barcode(x, y, sym, max(1, mmToDots(barMM, r.DPI)), readable, e.Rotate, narrow, wide, e.Value)
}

// barcodeModules estimates the symbol width in narrow modules.
func barcodeModules(sym string, n int) int {
	switch sym {
	case "EAN13", "UPCA":
		return 95
	case "EAN8":
		return 67
	case "UPCE":
		return 51
	case "39":
		return 16 * (n + 2)
	case "93":
		return 9*(n+4) + 1
	case "CODA":
		return 12 * (n + 2)
	case "25":
		return 9*n + 9
	default:
		return 11*n + 35
	}
}

func (r *Renderer) qrcode(cmd *Command, board template.DrawingBoardParams, g template.Geometry, value, level string) int {
	side := min(mmToDots(g.Width, r.DPI), mmToDots(g.Height, r.DPI))
	cell := max(1, side/qrModules(len(value), level))
	x, y := r.origin(board, g)
	cmd.QRCode(x, y, level, cell, g.Rotate, value)
	return cell * qrModules(len(value), level)
}

// qrModules estimates the module count of a byte-mode QR symbol.
func qrModules(n int, level string) int {
	factor := map[string]float64{"L": 1.25, "M": 1, "Q": 0.75, "H": 0.55}[level]
	for v, capacity := range qrCapacityM {
		if n <= int(math.Floor(float64(capacity)*factor)) {
			return 21 + 4*v
		}
	}
	return 21 + 4*len(qrCapacityM)
}

func (r *Renderer) qrcodeWithLogo(cmd *Command, board template.DrawingBoardParams, e *template.QRCodeWithLogo) error {
	level := "H"
	if e.CorrectLevel >= 0 && e.CorrectLevel < len(qrLevels) {
		level = qrLevels[e.CorrectLevel]
	}
	size := r.qrcode(cmd, board, e.Geometry, e.Value, level)
	if e.LogoImageData == "" {
		return nil
	}

	logo, err := decodeImage(e.LogoImageData)
	if err != nil {
		return fmt.Errorf("logo: %w", err)
	}
	scale := e.Scale
	if scale <= 0 || scale > 0.3 {
		scale = 0.2
	}
	side := max(8, int(float64(size)*scale))
	img := fit(logo, side, side)
	wb, data := packBitmap(img, defaultThreshold)

	x, y := r.origin(board, e.Geometry)
	offset := (size - side) / 2
	cmd.Bitmap(x+offset, y+offset, wb, side, bitmapOverwrite, data)
	return nil
}

// line draws a horizontal line, or a vertical one when rotated by 90 or
// 270. Dashed lines use the dash pattern in dots.
func (r *Renderer) line(cmd *Command, board template.DrawingBoardParams, e *template.Line) {
	x, y := r.origin(board, e.Geometry)
	length := mmToDots(e.Width, r.DPI)
	thickness := max(1, mmToDots(e.Height, r.DPI))
	vertical := e.Rotate == 90 || e.Rotate == 270

	bar := func(from, n int) {
		if vertical {
			cmd.Bar(x, y+from, thickness, n)
		} else {
			cmd.Bar(x+from, y, n, thickness)
		}
	}

	if e.LineType != 2 || len(e.DashWidth) == 0 {
		bar(0, length)
		return
	}

	on := true
	for pos, i := 0, 0; pos < length; i++ {
		seg := max(1, int(e.DashWidth[i%len(e.DashWidth)]))
		seg = min(seg, length-pos)
		if on {
			bar(pos, seg)
		}
		pos += seg
		on = !on
	}
}

// Vendor graph types.
const (
	graphCircle           = 1
	graphEllipse          = 2
	graphRectangle        = 3
	graphRoundedRectangle = 4
)

func (r *Renderer) graph(cmd *Command, board template.DrawingBoardParams, e *template.Graph) error {
	x, y := r.origin(board, e.Geometry)
	w, h := mmToDots(e.Width, r.DPI), mmToDots(e.Height, r.DPI)
	thickness := max(1, mmToDots(e.LineWidth, r.DPI))

	switch e.GraphType {
	case graphCircle:
		cmd.Circle(x, y, min(w, h), thickness)
	case graphEllipse:
		cmd.Ellipse(x, y, w, h, thickness)
	case graphRectangle:
		cmd.Box(x, y, x+w, y+h, thickness, 0)
	case graphRoundedRectangle:
		cmd.Box(x, y, x+w, y+h, thickness, mmToDots(e.CornerRadius, r.DPI))
	default:
		return fmt.Errorf("unsupported graph type %d", e.GraphType)
	}
	return nil
}

// Image processing types.
const (
	processThreshold = 0
	processDither    = 1
)

func (r *Renderer) image(cmd *Command, board template.DrawingBoardParams, e *template.Image) error {
	src, err := decodeImage(e.ImageData)
	if err != nil {
		return err
	}

	w, h := mmToDots(e.Width, r.DPI), mmToDots(e.Height, r.DPI)
	if w < 1 || h < 1 {
		return fmt.Errorf("image box %gx%g mm is too small to render", e.Width, e.Height)
	}
	if e.Rotate == 90 || e.Rotate == 270 {
		w, h = h, w
	}

	img := fit(src, w, h)
	threshold := uint8(defaultThreshold)
	switch e.ImageProcessingType {
	case processDither:
		img = dither(img)
	case processThreshold:
		if e.ImageProcessingValue > 0 && e.ImageProcessingValue < 256 {
			threshold = uint8(e.ImageProcessingValue)
		}
	}
	img = rotate(img, e.Rotate)

	x, y := r.origin(board, e.Geometry)
	wb, data := packBitmap(img, threshold)
	cmd.Bitmap(x, y, wb, img.Bounds().Dy(), bitmapOverwrite, data)
	return nil
}
