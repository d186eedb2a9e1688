package core

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type JobState int

const (
	StateIdle JobState = iota
	StateStarted
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

func (s JobState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

type JobParams struct {
	Copies    int
	Density   int
	MediaType int
	Mode      int
}

// Listener receives the outcome of one job. Exactly one of OnComplete,
// OnError or OnCancel(true) is delivered per job. OnCancel(false) means
// the device refused to cancel and the job keeps running.
type Listener interface {
	OnProgress(page, copy int)
	OnComplete()
	OnError(err *DeviceError)
	OnCancel(success bool)
}

// Status is a snapshot of a job run.
type Status struct {
	State          JobState
	Pages          int
	Copies         int
	TotalQuantity  int
	GeneratedPages int
}

// Controller drives one print job at a time against a backend, reacting
// only to backend callbacks once the job is started.
type Controller struct {
	backend Printer
	deliver func(func())
	logger  *zap.Logger

	mu     sync.Mutex
	active *run
	last   *run
}

type ControllerOption func(*Controller)

// WithDelivery sets how listener notifications are run. The default runs
// them synchronously on the backend callback goroutine.
func WithDelivery(deliver func(func())) ControllerOption {
	return func(c *Controller) {
		c.deliver = deliver
	}
}

func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

func NewController(backend Printer, opts ...ControllerOption) *Controller {
	c := &Controller{
		backend: backend,
		deliver: func(fn func()) { fn() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins streaming pageBuffers, paired with pageMeta, to the
// backend. It returns once the backend accepted the job; progress and
// the outcome arrive on listener.
func (c *Controller) Start(params JobParams, pageBuffers, pageMeta []string, listener Listener) error {
	if len(pageBuffers) != len(pageMeta) {
		return fmt.Errorf("%w: %d buffers, %d metadata", ErrPageMismatch, len(pageBuffers), len(pageMeta))
	}
	buffers := append([]string(nil), pageBuffers...)
	meta := append([]string(nil), pageMeta...)

	return c.start(params, len(buffers), listener, func(from, n int) error {
		return c.backend.CommitData(buffers[from:from+n], meta[from:from+n])
	})
}

// StartImages streams pre-rendered page images, one CommitImageData call
// per page. Every page prints params.Copies times; a page's own Quantity
// is overwritten so the device reports the copies completion waits for.
func (c *Controller) StartImages(params JobParams, images []ImagePage, listener Listener) error {
	pages := make([]ImagePage, len(images))
	for i, img := range images {
		img.Quantity = params.Copies
		pages[i] = img
	}

	return c.start(params, len(pages), listener, func(from, n int) error {
		for i := from; i < from+n; i++ {
			if err := c.backend.CommitImageData(pages[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Controller) start(params JobParams, pages int, listener Listener, commit func(from, n int) error) error {
	if pages == 0 {
		return ErrNoPages
	}
	if params.Copies < 1 {
		return ErrInvalidCopies
	}
	if !c.backend.IsConnected() {
		return ErrNotConnected
	}

	r := &run{
		c:        c,
		listener: listener,
		commit:   commit,
		pages:    pages,
		copies:   params.Copies,
		total:    pages * params.Copies,
		state:    StateStarted,
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrJobActive
	}
	prev := c.last
	c.active = r
	c.last = r
	c.mu.Unlock()

	c.logger.Info("starting print job",
		zap.Int("pages", r.pages),
		zap.Int("copies", r.copies),
		zap.Int("total_quantity", r.total),
	)

	c.backend.SetTotalPrintQuantity(r.total)
	if err := c.backend.StartPrintJob(params.Density, params.MediaType, params.Mode, r); err != nil {
		c.mu.Lock()
		if c.active == r {
			c.active = nil
		}
		if c.last == r {
			c.last = prev
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to start print job: %w", err)
	}
	return nil
}

// RequestCancel asks the backend to cancel the active job. The outcome
// is reported through the job's listener.
func (c *Controller) RequestCancel() error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()

	if r == nil {
		return ErrNoActiveJob
	}
	if err := c.backend.CancelJob(); err != nil {
		return fmt.Errorf("failed to cancel print job: %w", err)
	}
	return nil
}

// Active reports whether a job is currently running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Status returns a snapshot of the current or most recent job.
func (c *Controller) Status() Status {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()

	if r == nil {
		return Status{State: StateIdle}
	}
	return r.status()
}

func (c *Controller) release(r *run) {
	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	c.mu.Unlock()
}

// run is the state of one job. It is the PrintCallback handed to the
// backend; all fields below mu are guarded by it. commitMu is held across
// a page commit and while marking the run errored or cancelled, so no
// commit starts or runs once either flag is set.
type run struct {
	c        *Controller
	listener Listener
	commit   func(from, n int) error
	commitMu sync.Mutex

	mu        sync.Mutex
	pages     int
	copies    int
	total     int
	generated int
	errored   bool
	cancelled bool
	state     JobState
}

func (r *run) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		State:          r.state,
		Pages:          r.pages,
		Copies:         r.copies,
		TotalQuantity:  r.total,
		GeneratedPages: r.generated,
	}
}

// OnBufferFree commits as many unsent pages as the device has room for.
func (r *run) OnBufferFree(page, bufferSize int) {
	r.commitMu.Lock()
	rejected := r.commitPages(page, bufferSize)
	r.commitMu.Unlock()

	if rejected {
		r.failed(CodeCommitRejected, 0)
	}
}

// commitPages reserves and commits the next pages. It reports whether
// the backend rejected them, in which case the run is already marked
// errored. The caller holds commitMu.
func (r *run) commitPages(page, bufferSize int) bool {
	r.mu.Lock()
	if r.errored || r.cancelled || r.state.Terminal() || page > r.pages {
		r.mu.Unlock()
		return false
	}
	n := min(r.pages-r.generated, bufferSize)
	if n <= 0 {
		r.mu.Unlock()
		return false
	}
	from := r.generated
	r.generated += n
	r.state = StateStreaming
	r.mu.Unlock()

	r.c.logger.Debug("committing pages",
		zap.Int("from", from),
		zap.Int("count", n),
		zap.Int("buffer_size", bufferSize),
	)

	if err := r.commit(from, n); err != nil {
		r.c.logger.Error("page commit rejected", zap.Int("from", from), zap.Error(err))
		return r.markErrored()
	}
	return false
}

func (r *run) OnProgress(page, copy int) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	done := page == r.pages && copy == r.copies
	if done {
		r.state = StateCompleted
	}
	r.mu.Unlock()

	r.c.deliver(func() { r.listener.OnProgress(page, copy) })
	if !done {
		return
	}

	r.c.backend.EndPrintJob()
	r.c.release(r)
	r.c.logger.Info("print job completed", zap.Int("pages", r.pages), zap.Int("copies", r.copies))
	r.c.deliver(r.listener.OnComplete)
}

func (r *run) OnError(code, state int) {
	r.commitMu.Lock()
	ok := r.markErrored()
	r.commitMu.Unlock()

	if ok {
		r.failed(code, state)
	}
}

func (r *run) OnCancelJob(success bool) {
	r.commitMu.Lock()
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		r.commitMu.Unlock()
		return
	}
	if success {
		r.cancelled = true
		r.state = StateCancelled
	}
	r.mu.Unlock()
	r.commitMu.Unlock()

	if success {
		r.c.release(r)
		r.c.logger.Info("print job cancelled")
	} else {
		r.c.logger.Warn("printer refused to cancel job")
	}
	r.c.deliver(func() { r.listener.OnCancel(success) })
}

// markErrored moves the run to errored and reports whether it was the
// first terminal event.
func (r *run) markErrored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errored || r.state.Terminal() {
		return false
	}
	r.errored = true
	r.state = StateErrored
	return true
}

// failed releases the controller and reports the error once markErrored
// succeeded.
func (r *run) failed(code, state int) {
	r.c.release(r)
	err := &DeviceError{Code: code, State: state}
	r.c.logger.Error("print job failed", zap.Int("code", code), zap.Int("state", state), zap.String("message", DeviceMessage(code)))
	r.c.deliver(func() { r.listener.OnError(err) })
}
