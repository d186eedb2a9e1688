package device

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/orrn/labelstream/internal/template"
)

func TestCommand(t *testing.T) {
	got := NewCommand().
		Size(50, 30).
		Gap(2, 0).
		Direction(0, 0).
		Density(20).
		CLS().
		Barcode(10, 20, "128", 80, 2, 0, 2, 2, `say "hi"`).
		Print(1, 2).
		String()

	want := "SIZE 50.0 mm,30.0 mm\r\n" +
		"GAP 2.0 mm,0.0 mm\r\n" +
		"DIRECTION 0,0\r\n" +
		"DENSITY 15\r\n" +
		"CLS\r\n" +
		"BARCODE 10,20,\"128\",80,2,0,2,2,\"say \\\"hi\\\"\"\r\n" +
		"PRINT 1,2\r\n"
	if got != want {
		t.Errorf("command =\n%q\nwant\n%q", got, want)
	}
}

func TestMMToDots(t *testing.T) {
	tests := []struct {
		mm   float64
		dpi  int
		want int
	}{
		{3, 203, 23},
		{50, 203, 399},
		{10, 300, 118},
		{0, 203, 0},
	}
	for _, tt := range tests {
		if got := mmToDots(tt.mm, tt.dpi); got != tt.want {
			t.Errorf("mmToDots(%g, %d) = %d, want %d", tt.mm, tt.dpi, got, tt.want)
		}
	}
}

func TestPackBitmap(t *testing.T) {
	img := blank(10, 2)
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(9, 1, color.Gray{Y: 0})

	wb, data := packBitmap(img, defaultThreshold)
	if wb != 2 {
		t.Fatalf("widthBytes = %d, want 2", wb)
	}
	want := []byte{0x7f, 0xff, 0xff, 0xbf}
	if !bytes.Equal(data, want) {
		t.Errorf("data = % x, want % x", data, want)
	}
}

func TestRotate(t *testing.T) {
	img := blank(4, 2)
	img.SetGray(0, 0, color.Gray{Y: 0})

	r90 := rotate(img, 90)
	if b := r90.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("rotate 90 bounds = %v", b)
	}
	if r90.GrayAt(1, 0).Y != 0 {
		t.Error("top-left pixel did not move to top-right")
	}
	if r180 := rotate(img, 180); r180.GrayAt(3, 1).Y != 0 {
		t.Error("rotate 180 misplaced pixel")
	}
	if r270 := rotate(img, 270); r270.GrayAt(0, 3).Y != 0 {
		t.Error("rotate 270 misplaced pixel")
	}
}

func TestRenderText(t *testing.T) {
	e := &template.Text{
		Geometry:            template.Geometry{Width: 30, Height: 10},
		Value:               "Hello label world",
		FontSize:            3,
		TextAlignHorizontal: 1,
		FontStyle:           [4]bool{true, false, true, false},
	}
	img, err := renderText(e, 203)
	if err != nil {
		t.Fatalf("renderText() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != mmToDots(30, 203) || b.Dy() != mmToDots(10, 203) {
		t.Errorf("bounds = %v", b)
	}

	dark := 0
	for _, p := range img.Pix {
		if p < defaultThreshold {
			dark++
		}
	}
	if dark == 0 {
		t.Error("text rendered no dark pixels")
	}

	if _, err := renderText(&template.Text{Value: "x"}, 203); err == nil {
		t.Error("zero-size text box accepted")
	}
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeImage(t *testing.T) {
	data := pngBase64(t)

	for _, in := range []string{data, "data:image/png;base64," + data} {
		img, err := decodeImage(in)
		if err != nil {
			t.Fatalf("decodeImage() error = %v", err)
		}
		if img.Bounds().Dx() != 8 {
			t.Errorf("width = %d", img.Bounds().Dx())
		}
	}

	if _, err := decodeImage("!!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := decodeImage(base64.StdEncoding.EncodeToString([]byte("not an image"))); err == nil {
		t.Error("non-image data accepted")
	}
}

func TestRenderTemplate(t *testing.T) {
	r := &Renderer{DPI: 203, GapMM: 3}
	logo := pngBase64(t)
	tpl, err := template.New(
		template.DrawingBoardParams{Width: 50, Height: 30, Rotate: 180, Path: "ZT001.ttf", HorizontalShift: 1},
		&template.Line{Geometry: template.Geometry{X: 0, Y: 5, Width: 40, Height: 0.5}, LineType: 2},
		&template.Graph{Geometry: template.Geometry{X: 1, Y: 1, Width: 10, Height: 10}, GraphType: 1, LineWidth: 0.5},
		&template.Graph{Geometry: template.Geometry{X: 1, Y: 1, Width: 20, Height: 10}, GraphType: 4, LineWidth: 0.5, CornerRadius: 1},
		&template.QRCodeWithLogo{Geometry: template.Geometry{X: 20, Y: 5, Width: 20, Height: 20}, Value: "logo", CorrectLevel: 3, LogoImageData: logo},
		&template.Image{Geometry: template.Geometry{X: 2, Y: 20, Width: 8, Height: 8}, ImageData: logo, ImageProcessingType: 1},
		&template.BarCode{Geometry: template.Geometry{X: 2, Y: 2, Width: 30, Height: 8}, Value: "4006381333931", CodeType: 24, TextPosition: 2},
	)
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.RenderTemplate(tpl, jobSettings{density: 8, mediaType: mediaContinuous, mode: modeThermal}, 4)
	if err != nil {
		t.Fatalf("RenderTemplate() error = %v", err)
	}
	got := string(out)

	for _, want := range []string{
		"GAP 0.0 mm,0.0 mm", "DIRECTION 1,0", "DENSITY 8",
		"BAR 7,", "CIRCLE 15,7,79,3", "BOX 15,7,174,86,3,7",
		"QRCODE 167,39,H,", `"EAN13",63,0,0,`, "PRINT 1,4",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
	if n := strings.Count(got, "BAR "); n < 2 {
		t.Errorf("dashed line produced %d segments", n)
	}
	if n := strings.Count(got, "BITMAP "); n != 2 {
		t.Errorf("BITMAP commands = %d, want 2 (logo and image)", n)
	}
}

func TestRenderTemplate_UnknownGraph(t *testing.T) {
	r := &Renderer{DPI: 203}
	tpl, err := template.New(
		template.DrawingBoardParams{Width: 50, Height: 30, Path: "ZT001.ttf"},
		&template.Graph{Geometry: template.Geometry{Width: 5, Height: 5}, GraphType: 9},
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.RenderTemplate(tpl, jobSettings{}, 1); err == nil {
		t.Error("unknown graph type rendered")
	}
}

func TestQRModules(t *testing.T) {
	if got := qrModules(10, "M"); got != 21 {
		t.Errorf("qrModules(10, M) = %d, want 21", got)
	}
	if got := qrModules(20, "M"); got != 25 {
		t.Errorf("qrModules(20, M) = %d, want 25", got)
	}
	if got := qrModules(16, "L"); got != 21 {
		t.Errorf("qrModules(16, L) = %d, want 21", got)
	}
	if got := qrModules(10, "H"); got != 25 {
		t.Errorf("qrModules(10, H) = %d, want 25", got)
	}
}

func TestCanvas(t *testing.T) {
	var c canvas
	if err := c.DrawText(&template.Text{Value: "x"}); err != ErrNoLabel {
		t.Errorf("DrawText() before DrawEmptyLabel = %v, want ErrNoLabel", err)
	}
	if err := c.DrawEmptyLabel(template.DrawingBoardParams{Width: 50}); err == nil {
		t.Error("invalid board accepted")
	}

	board := template.DrawingBoardParams{Width: 50, Height: 30, Path: "ZT001.ttf"}
	if err := c.DrawEmptyLabel(board); err != nil {
		t.Fatal(err)
	}
	line := &template.Line{Geometry: template.Geometry{Width: 10, Height: 1}}
	if err := c.DrawLine(line); err != nil {
		t.Fatal(err)
	}
	if err := c.DrawBarCode(&template.BarCode{}); err == nil {
		t.Error("barcode without value accepted")
	}

	buf, err := c.GenerateLabelBuffer()
	if err != nil {
		t.Fatal(err)
	}
	got, err := template.Parse(buf)
	if err != nil {
		t.Fatalf("label buffer is not a template: %v", err)
	}
	if len(got.Elements) != 1 || got.Elements[0].Kind() != template.KindLine {
		t.Errorf("elements = %v", got.Elements)
	}
	if line.DashWidth != nil {
		t.Error("drawing mutated the caller's element")
	}
}
