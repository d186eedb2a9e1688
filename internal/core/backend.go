package core

import "github.com/orrn/labelstream/internal/template"

// Drawer is the drawing surface of a device backend. DrawEmptyLabel
// resets the surface; GenerateLabelBuffer returns everything drawn
// since then as one page buffer.
type Drawer interface {
	DrawEmptyLabel(board template.DrawingBoardParams) error
	DrawText(e *template.Text) error
	DrawBarCode(e *template.BarCode) error
	DrawLine(e *template.Line) error
	DrawGraph(e *template.Graph) error
	DrawQRCode(e *template.QRCode) error
	DrawQRCodeWithLogo(e *template.QRCodeWithLogo) error
	DrawImage(e *template.Image) error
	GenerateLabelBuffer() ([]byte, error)
}

// Printer is the job side of a device backend. Events for a started job
// arrive on the PrintCallback passed to StartPrintJob.
type Printer interface {
	IsConnected() bool
	SetTotalPrintQuantity(n int)
	StartPrintJob(density, mediaType, mode int, cb PrintCallback) error
	CommitData(pageBuffers, pageMeta []string) error
	CommitImageData(img ImagePage) error
	EndPrintJob() bool
	CancelJob() error
}

type Backend interface {
	Drawer
	Printer
}

type PrintCallback interface {
	OnProgress(page, copy int)
	OnError(code, state int)
	OnCancelJob(success bool)
	OnBufferFree(page, bufferSize int)
}

// ImagePage is one pre-rendered page for the bitmap path. Data holds an
// encoded image (png, jpeg, gif, bmp or webp).
type ImagePage struct {
	Data        []byte
	Orientation int
	WidthMM     float64
	HeightMM    float64
	Quantity    int
	Margin      [4]int
	EPC         string
}
