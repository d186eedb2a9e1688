package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/orrn/labelstream/internal/template"
)

type commit struct {
	buffers []string
	meta    []string
}

// fakeBackend records every call. Its drawing surface renders a
// readable trace, one line per draw op.
type fakeBackend struct {
	mu sync.Mutex

	connected   bool
	calls       []string
	surface     []string
	drawErr     error
	startErr    error
	commitErr   error
	total       int
	commits     []commit
	images      []ImagePage
	cb          PrintCallback
	ended       int
	cancelCalls int

	// onCommit runs at the start of every CommitData and CommitImageData.
	onCommit func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{connected: true}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) draw(op string) error {
	f.record(op)
	if f.drawErr != nil {
		return f.drawErr
	}
	f.mu.Lock()
	f.surface = append(f.surface, op)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) DrawEmptyLabel(board template.DrawingBoardParams) error {
	f.mu.Lock()
	f.surface = nil
	f.mu.Unlock()
	return f.draw(fmt.Sprintf("DrawEmptyLabel %gx%g", board.Width, board.Height))
}

func (f *fakeBackend) DrawText(e *template.Text) error {
	return f.draw("DrawText " + e.Value)
}

func (f *fakeBackend) DrawBarCode(e *template.BarCode) error {
	return f.draw("DrawBarCode " + e.Value)
}

func (f *fakeBackend) DrawLine(e *template.Line) error {
	return f.draw("DrawLine")
}

func (f *fakeBackend) DrawGraph(e *template.Graph) error {
	return f.draw("DrawGraph")
}

func (f *fakeBackend) DrawQRCode(e *template.QRCode) error {
	return f.draw("DrawQRCode " + e.Value)
}

func (f *fakeBackend) DrawQRCodeWithLogo(e *template.QRCodeWithLogo) error {
	return f.draw("DrawQRCodeWithLogo " + e.Value)
}

func (f *fakeBackend) DrawImage(e *template.Image) error {
	return f.draw("DrawImage")
}

func (f *fakeBackend) GenerateLabelBuffer() ([]byte, error) {
	f.record("GenerateLabelBuffer")
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(strings.Join(f.surface, "\n")), nil
}

func (f *fakeBackend) IsConnected() bool {
	f.record("IsConnected")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBackend) SetTotalPrintQuantity(n int) {
	f.record("SetTotalPrintQuantity")
	f.mu.Lock()
	f.total = n
	f.mu.Unlock()
}

func (f *fakeBackend) StartPrintJob(density, mediaType, mode int, cb PrintCallback) error {
	f.record(fmt.Sprintf("StartPrintJob %d,%d,%d", density, mediaType, mode))
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) CommitData(pageBuffers, pageMeta []string) error {
	if f.onCommit != nil {
		f.onCommit()
	}
	f.record("CommitData")
	if f.commitErr != nil {
		return f.commitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commit{
		buffers: append([]string(nil), pageBuffers...),
		meta:    append([]string(nil), pageMeta...),
	})
	return nil
}

func (f *fakeBackend) CommitImageData(img ImagePage) error {
	if f.onCommit != nil {
		f.onCommit()
	}
	f.record("CommitImageData")
	if f.commitErr != nil {
		return f.commitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, img)
	return nil
}

func (f *fakeBackend) EndPrintJob() bool {
	f.record("EndPrintJob")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return true
}

func (f *fakeBackend) CancelJob() error {
	f.record("CancelJob")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return nil
}

func (f *fakeBackend) callback() PrintCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *fakeBackend) committed() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.commits))
	for i, c := range f.commits {
		out[i] = c.buffers
	}
	return out
}

var errFake = errors.New("fake backend failure")

// recorder is a Listener that keeps every event in order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	progress [][2]int
	errs     []*DeviceError
	complete int
	cancels  []bool
}

func (r *recorder) OnProgress(page, copy int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "progress")
	r.progress = append(r.progress, [2]int{page, copy})
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "complete")
	r.complete++
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) OnError(err *DeviceError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
}

func (r *recorder) OnCancel(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("cancel(%v)", success))
	r.cancels = append(r.cancels, success)
}
