// Package device implements a print backend for TSPL label printers
// reachable over raw TCP or a serial port.
package device

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/config"
	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/template"
)

const defaultBufferPages = 2

type Option func(*Backend)

// WithLink replaces the transport dialer. Tests use it to attach an
// in-memory printer.
func WithLink(open func() (Link, error)) Option {
	return func(b *Backend) {
		b.open = open
	}
}

// Backend draws labels into JSON documents and prints them as TSPL. At
// most one job runs at a time; its callbacks come from a single event
// goroutine.
type Backend struct {
	canvas

	cfg      config.DeviceConfig
	renderer *Renderer
	logger   *zap.Logger
	open     func() (Link, error)

	// ioMu serializes traffic on link between a job and status queries.
	ioMu sync.Mutex

	mu    sync.Mutex
	link  Link
	job   *job
	total int
}

func New(cfg config.DeviceConfig, logger *zap.Logger, opts ...Option) *Backend {
	if cfg.DPI <= 0 {
		cfg.DPI = 203
	}
	if cfg.BufferPages < 1 {
		cfg.BufferPages = defaultBufferPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		cfg:      cfg,
		renderer: &Renderer{DPI: cfg.DPI, GapMM: cfg.GapMM},
		logger:   logger.Named("device").With(zap.String("device", cfg.Name)),
	}
	b.open = func() (Link, error) { return Dial(cfg) }
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string {
	return b.cfg.Name
}

// Connect opens the transport if it is not open yet.
func (b *Backend) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *Backend) connectLocked() error {
	if b.link != nil {
		return nil
	}
	link, err := b.open()
	if err != nil {
		return err
	}
	b.link = link
	b.logger.Info("printer connected", zap.String("transport", b.cfg.Transport))
	return nil
}

// Close aborts any running job without callbacks and closes the link.
func (b *Backend) Close() error {
	b.mu.Lock()
	j, link := b.job, b.link
	b.job, b.link = nil, nil
	b.mu.Unlock()

	if j != nil {
		j.end()
	}
	if link == nil {
		return nil
	}
	return link.Close()
}

// IsConnected reports whether the link is open, dialing it first if
// needed.
func (b *Backend) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		b.logger.Warn("printer not reachable", zap.Error(err))
		return false
	}
	return true
}

// Status queries the printer status. It is answered even while a job
// is printing.
func (b *Backend) Status() (Status, error) {
	b.mu.Lock()
	link := b.link
	b.mu.Unlock()
	if link == nil {
		return Status{}, core.ErrNotConnected
	}
	return b.queryStatus(link)
}

func (b *Backend) queryStatus(link Link) (Status, error) {
	reply := make([]byte, statusResponseLength)
	b.ioMu.Lock()
	err := link.Query([]byte(statusCommand), reply)
	b.ioMu.Unlock()
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(reply)
}

func (b *Backend) write(link Link, data []byte) error {
	b.ioMu.Lock()
	defer b.ioMu.Unlock()
	_, err := link.Write(data)
	return err
}

// dropLink forgets a link that failed so the next IsConnected redials.
func (b *Backend) dropLink(link Link) {
	b.mu.Lock()
	if b.link == link {
		b.link = nil
	}
	b.mu.Unlock()
	link.Close()
}

func (b *Backend) SetTotalPrintQuantity(n int) {
	b.mu.Lock()
	b.total = n
	b.mu.Unlock()
}

func (b *Backend) StartPrintJob(density, mediaType, mode int, cb core.PrintCallback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.link == nil {
		return core.ErrNotConnected
	}
	if b.job != nil && !b.job.isEnded() {
		return core.ErrJobActive
	}
	if err := b.write(b.link, []byte(resumeCommand)); err != nil {
		return fmt.Errorf("failed to reset printer: %w", err)
	}

	j := &job{
		b:        b,
		link:     b.link,
		settings: jobSettings{density: density, mediaType: mediaType, mode: mode},
		cb:       cb,
		slots:    b.cfg.BufferPages,
		wake:     make(chan struct{}, 1),
		cancel:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.job = j

	b.logger.Info("print job started",
		zap.Int("density", density),
		zap.Int("media_type", mediaType),
		zap.Int("mode", mode),
		zap.Int("total_quantity", b.total))

	go j.run()
	return nil
}

func (b *Backend) activeJob() (*job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.job == nil || b.job.isEnded() {
		return nil, core.ErrNoActiveJob
	}
	return b.job, nil
}

// CommitData renders template pages and queues them for printing. Each
// meta document supplies the page's print quantity.
func (b *Backend) CommitData(pageBuffers, pageMeta []string) error {
	j, err := b.activeJob()
	if err != nil {
		return err
	}
	if len(pageBuffers) != len(pageMeta) {
		return fmt.Errorf("%w: %d buffers, %d metadata", core.ErrPageMismatch, len(pageBuffers), len(pageMeta))
	}

	pages := make([]page, 0, len(pageBuffers))
	for i, buf := range pageBuffers {
		t, err := template.Parse([]byte(buf))
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		info, err := core.ParsePageMeta(pageMeta[i])
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		copies := max(1, info.PrintQuantity)
		data, err := b.renderer.RenderTemplate(t, j.settings, copies)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, page{data: data, copies: copies})
	}

	j.enqueue(pages...)
	return nil
}

func (b *Backend) CommitImageData(img core.ImagePage) error {
	j, err := b.activeJob()
	if err != nil {
		return err
	}
	data, err := b.renderer.RenderImage(img, j.settings)
	if err != nil {
		return err
	}
	j.enqueue(page{data: data, copies: max(1, img.Quantity)})
	return nil
}

// EndPrintJob releases the finished job. It reports false when no job
// was running.
func (b *Backend) EndPrintJob() bool {
	b.mu.Lock()
	j := b.job
	b.job = nil
	b.mu.Unlock()

	if j == nil {
		return false
	}
	j.end()
	b.logger.Info("print job ended")
	return true
}

// CancelJob asks the job goroutine to cancel on the device. The result
// arrives as OnCancelJob.
func (b *Backend) CancelJob() error {
	j, err := b.activeJob()
	if err != nil {
		return err
	}
	select {
	case j.cancel <- struct{}{}:
	default:
	}
	return nil
}

func (b *Backend) finish(j *job) {
	b.mu.Lock()
	if b.job == j {
		b.job = nil
	}
	b.mu.Unlock()
}

type page struct {
	data   []byte
	copies int
}

// job is one running print job. run owns the link writes and is the
// only goroutine that invokes cb.
type job struct {
	b        *Backend
	link     Link
	settings jobSettings
	cb       core.PrintCallback
	slots    int

	wake   chan struct{}
	cancel chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	queue   []page
	ended   bool
	endOnce sync.Once
}

func (j *job) enqueue(pages ...page) {
	j.mu.Lock()
	j.queue = append(j.queue, pages...)
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *job) next() (page, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queue) == 0 || j.ended {
		return page{}, false
	}
	p := j.queue[0]
	j.queue = j.queue[1:]
	return p, true
}

func (j *job) end() {
	j.endOnce.Do(func() {
		j.mu.Lock()
		j.ended = true
		j.queue = nil
		j.mu.Unlock()
		close(j.done)
	})
}

func (j *job) isEnded() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ended
}

func (j *job) run() {
	defer j.b.finish(j)

	j.cb.OnBufferFree(0, j.slots)

	printed := 0
	for {
		select {
		case <-j.done:
			return
		case <-j.cancel:
			if j.cancelOnDevice() {
				return
			}
			continue
		case <-j.wake:
		}

		for {
			p, ok := j.next()
			if !ok {
				break
			}
			printed++
			if !j.print(p, printed) || j.isEnded() {
				return
			}
			j.cb.OnBufferFree(printed, 1)

			select {
			case <-j.cancel:
				if j.cancelOnDevice() {
					return
				}
			default:
			}
		}
	}
}

// print writes one page and reports its copies. It returns false when
// the job must stop.
func (j *job) print(p page, pageNo int) bool {
	if err := j.b.write(j.link, p.data); err != nil {
		j.b.logger.Error("failed to write page", zap.Int("page", pageNo), zap.Error(err))
		j.fail(codeCommunication, 0)
		j.b.dropLink(j.link)
		return false
	}

	if j.b.cfg.StatusPoll {
		st, err := j.b.queryStatus(j.link)
		switch {
		case err != nil:
			j.b.logger.Debug("status poll failed", zap.Error(err))
		default:
			if code, fault := st.Fault(); fault {
				j.b.logger.Warn("printer fault",
					zap.Int("page", pageNo),
					zap.String("state", st.PrinterState),
					zap.String("error", st.Error),
					zap.String("media_error", st.MediaError))
				j.fail(code, int(st.Raw[0]))
				return false
			}
		}
	}

	for c := 1; c <= p.copies; c++ {
		j.cb.OnProgress(pageNo, c)
		if j.isEnded() {
			return false
		}
	}
	return true
}

func (j *job) fail(code, state int) {
	j.end()
	j.b.finish(j)
	j.cb.OnError(code, state)
}

// cancelOnDevice sends the device cancel command. It reports true when
// the job is over.
func (j *job) cancelOnDevice() bool {
	if err := j.b.write(j.link, []byte(cancelCommand)); err != nil {
		j.b.logger.Warn("cancel command failed", zap.Error(err))
		j.cb.OnCancelJob(false)
		return false
	}
	j.end()
	j.b.finish(j)
	j.cb.OnCancelJob(true)
	return true
}

var _ core.Backend = (*Backend)(nil)
