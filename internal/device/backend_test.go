package device

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/config"
	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/template"
)

func newTestBackend(t *testing.T, link Link, cfg config.DeviceConfig) *Backend {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test-printer"
	}
	b := New(cfg, zap.NewNop(), WithLink(func() (Link, error) { return link, nil }))
	t.Cleanup(func() { b.Close() })
	return b
}

func testTemplate(t *testing.T, value string) *template.Template {
	t.Helper()
	tpl, err := template.New(
		template.DrawingBoardParams{Width: 50, Height: 30, Path: "ZT001.ttf"},
		&template.Text{Geometry: template.Geometry{X: 2, Y: 2, Width: 40, Height: 8}, Value: value, FontSize: 3.2},
		&template.BarCode{Geometry: template.Geometry{X: 2, Y: 12, Width: 40, Height: 10}, Value: "12345678", CodeType: 20, TextHeight: 3},
		&template.QRCode{Geometry: template.Geometry{X: 40, Y: 20, Width: 8, Height: 8}, Value: "https://example.com"},
		&template.Graph{Geometry: template.Geometry{X: 1, Y: 1, Width: 48, Height: 28}, GraphType: 3, LineWidth: 0.3},
	)
	if err != nil {
		t.Fatalf("template.New() error = %v", err)
	}
	return tpl
}

func compilePages(t *testing.T, b *Backend, n, copies int) (buffers, meta []string) {
	t.Helper()
	templates := make([]*template.Template, n)
	for i := range templates {
		templates[i] = testTemplate(t, "Label "+string(rune('A'+i)))
	}
	pages, err := core.NewCompiler(b).CompilePages(templates, core.PageOptions{Copies: copies, Multiple: 8})
	if err != nil {
		t.Fatalf("CompilePages() error = %v", err)
	}
	for _, p := range pages {
		buffers = append(buffers, p.Buffer)
		meta = append(meta, p.Meta)
	}
	return buffers, meta
}

func TestBackend_PrintsEveryPageAndCopy(t *testing.T) {
	link := newFakeLink()
	b := newTestBackend(t, link, config.DeviceConfig{BufferPages: 2, GapMM: 2})
	ctrl := core.NewController(b)

	buffers, meta := compilePages(t, b, 3, 2)
	out := newOutcome()
	if err := ctrl.Start(core.JobParams{Copies: 2, Density: 3, MediaType: 1, Mode: 1}, buffers, meta, out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !out.wait() {
		t.Fatal("job did not finish")
	}

	if !out.completed || out.err != nil {
		t.Fatalf("completed = %v, err = %v", out.completed, out.err)
	}
	if len(out.progress) != 6 || out.progress[5] != [2]int{3, 2} {
		t.Errorf("progress = %v", out.progress)
	}
	if n := link.count("PRINT 1,2\r\n"); n != 3 {
		t.Errorf("PRINT commands = %d, want 3", n)
	}

	got := link.output()
	for _, want := range []string{resumeCommand, "SIZE 50.0 mm,30.0 mm", "GAP 2.0 mm", "DENSITY 3", "SET RIBBON OFF", "BITMAP ", `BARCODE `, `"128"`, "QRCODE ", "BOX "} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if ctrl.Active() {
		t.Error("controller still active after completion")
	}
	if _, err := b.activeJob(); !errors.Is(err, core.ErrNoActiveJob) {
		t.Errorf("backend job not released: %v", err)
	}
}

func TestBackend_StatusFaultStopsJob(t *testing.T) {
	link := newFakeLink()
	link.status = [4]byte{'@', '@', '@', 'A'}
	b := newTestBackend(t, link, config.DeviceConfig{BufferPages: 2, StatusPoll: true})
	ctrl := core.NewController(b)

	buffers, meta := compilePages(t, b, 3, 1)
	out := newOutcome()
	if err := ctrl.Start(core.JobParams{Copies: 1, Density: 3, MediaType: 1, Mode: 1}, buffers, meta, out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !out.wait() {
		t.Fatal("job did not finish")
	}

	if out.err == nil || out.err.Code != codeOutOfPaper || out.err.State != '@' {
		t.Fatalf("err = %v, want out of paper", out.err)
	}
	if len(out.progress) != 0 {
		t.Errorf("progress reported after fault: %v", out.progress)
	}
	if n := link.count("PRINT "); n != 1 {
		t.Errorf("pages written = %d, want 1", n)
	}
}

func TestBackend_WriteFailureReportsCommunicationError(t *testing.T) {
	link := newFakeLink()
	link.failAfter = 2
	b := newTestBackend(t, link, config.DeviceConfig{})
	ctrl := core.NewController(b)

	buffers, meta := compilePages(t, b, 1, 1)
	out := newOutcome()
	if err := ctrl.Start(core.JobParams{Copies: 1, Density: 3, MediaType: 1, Mode: 1}, buffers, meta, out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !out.wait() {
		t.Fatal("job did not finish")
	}

	if out.err == nil || out.err.Code != codeCommunication {
		t.Fatalf("err = %v, want code %d", out.err, codeCommunication)
	}
	if !link.isClosed() {
		t.Error("failed link was not closed")
	}
}

func TestBackend_ResetFailureRejectsStart(t *testing.T) {
	link := newFakeLink()
	link.failAfter = 1
	b := newTestBackend(t, link, config.DeviceConfig{})

	err := core.NewController(b).Start(core.JobParams{Copies: 1}, []string{"x"}, []string{"y"}, newOutcome())
	if err == nil || !errors.Is(err, errWrite) {
		t.Fatalf("Start() error = %v, want write failure", err)
	}
}

// idleCallback never commits, so the job waits for data.
type idleCallback struct {
	free      chan int
	cancelled chan bool
	errs      chan int
}

func newIdleCallback() *idleCallback {
	return &idleCallback{free: make(chan int, 8), cancelled: make(chan bool, 2), errs: make(chan int, 2)}
}

func (c *idleCallback) OnProgress(page, copy int)         {}
func (c *idleCallback) OnError(code, state int)           { c.errs <- code }
func (c *idleCallback) OnCancelJob(success bool)          { c.cancelled <- success }
func (c *idleCallback) OnBufferFree(page, bufferSize int) { c.free <- bufferSize }

func TestBackend_CancelJob(t *testing.T) {
	link := newFakeLink()
	b := newTestBackend(t, link, config.DeviceConfig{BufferPages: 3})
	if !b.IsConnected() {
		t.Fatal("IsConnected() = false")
	}

	cb := newIdleCallback()
	if err := b.StartPrintJob(3, 1, 1, cb); err != nil {
		t.Fatalf("StartPrintJob() error = %v", err)
	}
	select {
	case n := <-cb.free:
		if n != 3 {
			t.Errorf("initial buffer = %d, want 3", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial OnBufferFree")
	}

	if err := b.StartPrintJob(3, 1, 1, newIdleCallback()); !errors.Is(err, core.ErrJobActive) {
		t.Errorf("second StartPrintJob() = %v, want ErrJobActive", err)
	}

	if err := b.CancelJob(); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	select {
	case ok := <-cb.cancelled:
		if !ok {
			t.Error("OnCancelJob(false)")
		}
	case <-time.After(time.Second):
		t.Fatal("no OnCancelJob")
	}

	if !strings.Contains(link.output(), cancelCommand) {
		t.Error("device cancel command not sent")
	}
	if err := b.CancelJob(); !errors.Is(err, core.ErrNoActiveJob) {
		t.Errorf("CancelJob() after cancel = %v, want ErrNoActiveJob", err)
	}
	if err := b.StartPrintJob(3, 1, 1, newIdleCallback()); err != nil {
		t.Errorf("StartPrintJob() after cancel = %v", err)
	}
}

func TestBackend_CommitRejectsBadPages(t *testing.T) {
	b := newTestBackend(t, newFakeLink(), config.DeviceConfig{})
	if err := b.CommitData([]string{"{}"}, []string{"{}"}); !errors.Is(err, core.ErrNoActiveJob) {
		t.Errorf("CommitData() without job = %v, want ErrNoActiveJob", err)
	}

	b.IsConnected()
	if err := b.StartPrintJob(3, 1, 1, newIdleCallback()); err != nil {
		t.Fatal(err)
	}

	if err := b.CommitData([]string{"a", "b"}, []string{"c"}); !errors.Is(err, core.ErrPageMismatch) {
		t.Errorf("mismatched CommitData() = %v, want ErrPageMismatch", err)
	}
	var te *template.TemplateError
	if err := b.CommitData([]string{"{"}, []string{"{}"}); !errors.As(err, &te) {
		t.Errorf("malformed buffer CommitData() = %v, want TemplateError", err)
	}
}

func TestBackend_NotConnected(t *testing.T) {
	dialErr := errors.New("no route to host")
	b := New(config.DeviceConfig{}, zap.NewNop(), WithLink(func() (Link, error) { return nil, dialErr }))

	if b.IsConnected() {
		t.Error("IsConnected() = true with failing dialer")
	}
	if err := b.StartPrintJob(3, 1, 1, newIdleCallback()); !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("StartPrintJob() = %v, want ErrNotConnected", err)
	}
	if _, err := b.Status(); !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("Status() = %v, want ErrNotConnected", err)
	}
}

func TestBackend_PrintsImages(t *testing.T) {
	link := newFakeLink()
	b := newTestBackend(t, link, config.DeviceConfig{})
	ctrl := core.NewController(b)

	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := 0; i < 16; i++ {
		img.SetGray(i, i, color.Gray{Y: 0})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	pages := []core.ImagePage{
		{Data: buf.Bytes(), WidthMM: 40, HeightMM: 30},
		{Data: buf.Bytes(), WidthMM: 40, HeightMM: 30, Orientation: 90, Quantity: 3},
	}
	out := newOutcome()
	if err := ctrl.StartImages(core.JobParams{Copies: 3, Density: 3, MediaType: 2, Mode: 2}, pages, out); err != nil {
		t.Fatalf("StartImages() error = %v", err)
	}
	if !out.wait() {
		t.Fatal("job did not finish")
	}

	if !out.completed {
		t.Fatalf("job not completed: err = %v", out.err)
	}
	got := link.output()
	if n := strings.Count(got, "BITMAP "); n != 2 {
		t.Errorf("BITMAP commands = %d, want 2", n)
	}
	for _, want := range []string{"BLINE ", "SET RIBBON ON", "PRINT 1,3"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestBackend_Status(t *testing.T) {
	link := newFakeLink()
	link.status = [4]byte{'P', 'A', '@', '@'}
	b := newTestBackend(t, link, config.DeviceConfig{})
	if err := b.Connect(); err != nil {
		t.Fatal(err)
	}

	st, err := b.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.PrinterState != "paused" || st.Warning != "paper_low" || st.Summary() != "paused" {
		t.Errorf("status = %+v", st)
	}
}
