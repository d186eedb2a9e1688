package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/config"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/profile"
	"github.com/orrn/labelstream/internal/template"
	"github.com/orrn/labelstream/internal/webhook"
)

var (
	ErrQueueFull    = errors.New("print queue is full")
	ErrJobNotFound  = errors.New("print job not found")
	ErrJobFinished  = errors.New("print job already finished")
	ErrMixedPayload = errors.New("a job carries either templates or images, not both")
	ErrEmptyImage   = errors.New("image has no data")

	ErrQuantityMismatch = errors.New("image quantity must match the job copies")
)

// JobNotifier receives job lifecycle events. *webhook.WebhookSender
// implements it.
type JobNotifier interface {
	SendJobStarted(data webhook.JobEventData)
	SendJobCompleted(data webhook.JobEventData)
	SendJobFailed(data webhook.JobEventData)
	SendJobCancelled(data webhook.JobEventData)
}

type nopNotifier struct{}

func (nopNotifier) SendJobStarted(webhook.JobEventData)   {}
func (nopNotifier) SendJobCompleted(webhook.JobEventData) {}
func (nopNotifier) SendJobFailed(webhook.JobEventData)    {}
func (nopNotifier) SendJobCancelled(webhook.JobEventData) {}

// SubmitRequest is one print submission. Exactly one of Templates and
// Images is set. Nil overrides fall back to the device profile.
type SubmitRequest struct {
	Templates   []*template.Template
	Images      []ImagePage
	Copies      int
	Density     *int
	MediaType   *int
	Mode        *int
	SubmittedBy string
}

// Spooler persists submitted jobs and feeds them to the controller one
// at a time. The store is the queue: the worker always takes the oldest
// pending row.
type Spooler struct {
	store      *db.Store
	compiler   *Compiler
	controller *Controller
	notifier   JobNotifier
	logger     *zap.Logger

	device    string
	profile   profile.Profile
	defaults  config.PrintConfig
	queueSize int
	poll      time.Duration

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	current *spoolRun
}

type spoolRun struct {
	id              string
	started         bool
	cancelRequested bool
}

type SpoolerOption func(*Spooler)

func WithNotifier(n JobNotifier) SpoolerOption {
	return func(s *Spooler) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithSpoolerLogger(logger *zap.Logger) SpoolerOption {
	return func(s *Spooler) {
		s.logger = logger
	}
}

// WithPollInterval sets how often the worker rechecks the store when no
// submission woke it.
func WithPollInterval(d time.Duration) SpoolerOption {
	return func(s *Spooler) {
		s.poll = d
	}
}

func NewSpooler(store *db.Store, compiler *Compiler, controller *Controller, device string,
	prof profile.Profile, defaults config.PrintConfig, queueSize int, opts ...SpoolerOption) *Spooler {
	if queueSize < 1 {
		queueSize = 1024
	}
	s := &Spooler{
		store:      store,
		compiler:   compiler,
		controller: controller,
		notifier:   nopNotifier{},
		logger:     zap.NewNop(),
		device:     device,
		profile:    prof,
		defaults:   defaults,
		queueSize:  queueSize,
		poll:       time.Second,
		kick:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resets jobs left processing by a previous run and starts the
// worker.
func (s *Spooler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	n, err := s.store.Jobs.ResetProcessing(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("recovered interrupted jobs", zap.Int64("count", n))
	}

	s.wg.Add(1)
	go s.worker()
	s.wake()
	return nil
}

// Stop halts the worker. Pending jobs stay pending; a job being printed
// stays processing and is requeued by the next Start.
func (s *Spooler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Submit validates and persists a job, then wakes the worker.
func (s *Spooler) Submit(ctx context.Context, req SubmitRequest) (*db.PrintJob, error) {
	if len(req.Templates) > 0 && len(req.Images) > 0 {
		return nil, ErrMixedPayload
	}
	if len(req.Templates) == 0 && len(req.Images) == 0 {
		return nil, ErrNoPages
	}
	if req.Copies < 0 {
		return nil, ErrInvalidCopies
	}

	job := &db.PrintJob{
		ID:          uuid.NewString(),
		DeviceName:  s.device,
		Copies:      req.Copies,
		Density:     pick(req.Density, s.profile.Density),
		MediaType:   pick(req.MediaType, s.defaults.MediaType),
		Mode:        pick(req.Mode, s.profile.Mode),
		Multiple:    s.profile.Multiple,
		SubmittedBy: req.SubmittedBy,
	}
	if job.Copies == 0 {
		job.Copies = s.defaults.Copies
	}

	var payload []byte
	var err error
	if len(req.Templates) > 0 {
		for _, t := range req.Templates {
			if err := t.Validate(); err != nil {
				return nil, err
			}
		}
		job.Kind = db.JobKindTemplates
		job.Pages = len(req.Templates)
		payload, err = json.Marshal(req.Templates)
	} else {
		images := make([]ImagePage, len(req.Images))
		for i, img := range req.Images {
			if len(img.Data) == 0 {
				return nil, fmt.Errorf("image %d: %w", i, ErrEmptyImage)
			}
			if img.Quantity != 0 && img.Quantity != job.Copies {
				return nil, fmt.Errorf("image %d: quantity %d, copies %d: %w", i, img.Quantity, job.Copies, ErrQuantityMismatch)
			}
			img.Quantity = job.Copies
			images[i] = img
		}
		job.Kind = db.JobKindImages
		job.Pages = len(images)
		payload, err = json.Marshal(images)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	job.PayloadJSON = string(payload)

	counts, err := s.store.Jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if counts[db.JobStatusPending] >= int64(s.queueSize) {
		return nil, ErrQueueFull
	}

	if err := s.store.Jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	job.Status = db.JobStatusPending

	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("pages", job.Pages),
		zap.Int("copies", job.Copies),
	)
	s.wake()
	return job, nil
}

// Cancel cancels a pending job in the store or asks the device to cancel
// the job being printed. For the printing job the outcome is recorded
// when the device answers.
func (s *Spooler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	if cur := s.current; cur != nil && cur.id == id {
		if !cur.started {
			cur.cancelRequested = true
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		return s.controller.RequestCancel()
	}
	// Held across the update so the worker cannot claim the row between
	// the check above and the write.
	ok, err := s.store.Jobs.MarkCancelled(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.store.Jobs.GetJobByID(ctx, id); errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		} else if err != nil {
			return err
		}
		return ErrJobFinished
	}

	s.logger.Info("pending job cancelled", zap.String("job_id", id))
	s.notifier.SendJobCancelled(webhook.JobEventData{JobID: id, DeviceName: s.device, Status: db.JobStatusCancelled})
	return nil
}

// Current returns the id of the job being printed, if any.
func (s *Spooler) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.id, true
}

func (s *Spooler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Spooler) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.kick:
		case <-ticker.C:
		}

		for {
			job, err := s.nextJob()
			if err != nil {
				s.logger.Error("failed to load pending jobs", zap.Error(err))
				break
			}
			if job == nil {
				break
			}
			if err := s.process(job); err != nil {
				s.logger.Error("failed to claim job", zap.String("job_id", job.ID), zap.Error(err))
				break
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
		}
	}
}

func (s *Spooler) nextJob() (*db.PrintJob, error) {
	jobs, err := s.store.Jobs.GetPendingJobs(context.Background())
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// process runs one job until it reaches a terminal state or the spooler
// stops. Only a failure to claim the job is returned; everything after
// that is recorded on the job.
func (s *Spooler) process(job *db.PrintJob) error {
	ctx := context.Background()
	logger := s.logger.With(zap.String("job_id", job.ID))

	cur := &spoolRun{id: job.ID}
	s.mu.Lock()
	s.current = cur
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.current == cur {
			s.current = nil
		}
		s.mu.Unlock()
	}()

	claimed, err := s.store.Jobs.MarkProcessing(ctx, job.ID, job.Pages)
	if err != nil || !claimed {
		return err
	}

	params := JobParams{Copies: job.Copies, Density: job.Density, MediaType: job.MediaType, Mode: job.Mode}
	start, err := s.prepare(job, params)
	if err != nil {
		logger.Error("failed to prepare job", zap.Error(err))
		s.fail(ctx, job, nil, nil, err.Error())
		return nil
	}

	s.mu.Lock()
	if cur.cancelRequested {
		s.mu.Unlock()
		s.cancelled(ctx, job)
		return nil
	}
	cur.started = true
	s.mu.Unlock()

	s.notifier.SendJobStarted(s.event(job, db.JobStatusProcessing))

	l := &jobListener{s: s, job: job, logger: logger, started: time.Now(), done: make(chan struct{})}
	if err := start(l); err != nil {
		logger.Error("failed to start job", zap.Error(err))
		var code *int
		if errors.Is(err, ErrNotConnected) {
			c := CodeNotConnected
			code = &c
		}
		s.fail(ctx, job, code, nil, err.Error())
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-s.stopCh:
		logger.Warn("spooler stopped with job in progress")
		return nil
	}
}

// prepare decodes the stored payload and returns a function that hands
// the job to the controller.
func (s *Spooler) prepare(job *db.PrintJob, params JobParams) (func(Listener) error, error) {
	switch job.Kind {
	case db.JobKindTemplates:
		templates, err := template.ParseList([]byte(job.PayloadJSON))
		if err != nil {
			return nil, err
		}
		pages, err := s.compiler.CompilePages(templates, PageOptions{Copies: job.Copies, Multiple: job.Multiple})
		if err != nil {
			return nil, err
		}
		buffers := make([]string, len(pages))
		meta := make([]string, len(pages))
		for i, p := range pages {
			buffers[i] = p.Buffer
			meta[i] = p.Meta
		}
		return func(l Listener) error {
			return s.controller.Start(params, buffers, meta, l)
		}, nil

	case db.JobKindImages:
		var images []ImagePage
		if err := json.Unmarshal([]byte(job.PayloadJSON), &images); err != nil {
			return nil, fmt.Errorf("invalid image payload: %w", err)
		}
		return func(l Listener) error {
			return s.controller.StartImages(params, images, l)
		}, nil
	}
	return nil, fmt.Errorf("unknown job kind %q", job.Kind)
}

func (s *Spooler) fail(ctx context.Context, job *db.PrintJob, code, state *int, msg string) {
	if err := s.store.Jobs.MarkFailed(ctx, job.ID, code, state, msg); err != nil {
		s.logger.Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	data := s.event(job, db.JobStatusFailed)
	data.ErrorCode = code
	data.ErrorState = state
	data.ErrorMessage = msg
	s.notifier.SendJobFailed(data)
}

func (s *Spooler) cancelled(ctx context.Context, job *db.PrintJob) {
	if _, err := s.store.Jobs.MarkCancelled(ctx, job.ID); err != nil {
		s.logger.Error("failed to mark job cancelled", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.notifier.SendJobCancelled(s.event(job, db.JobStatusCancelled))
}

func (s *Spooler) event(job *db.PrintJob, status string) webhook.JobEventData {
	return webhook.JobEventData{
		JobID:      job.ID,
		DeviceName: job.DeviceName,
		Status:     status,
		Pages:      job.Pages,
		Copies:     job.Copies,
	}
}

// jobListener records controller events for one job.
type jobListener struct {
	s       *Spooler
	job     *db.PrintJob
	logger  *zap.Logger
	started time.Time

	once sync.Once
	done chan struct{}
}

func (l *jobListener) finish() {
	l.once.Do(func() { close(l.done) })
}

func (l *jobListener) OnProgress(page, copy int) {
	if err := l.s.store.Jobs.UpdateProgress(context.Background(), l.job.ID, page, copy); err != nil {
		l.logger.Warn("failed to record progress", zap.Error(err))
	}
}

func (l *jobListener) OnComplete() {
	defer l.finish()
	if err := l.s.store.Jobs.MarkCompleted(context.Background(), l.job.ID); err != nil {
		l.logger.Error("failed to mark job completed", zap.Error(err))
	}
	data := l.s.event(l.job, db.JobStatusCompleted)
	data.Duration = time.Since(l.started).Milliseconds()
	l.s.notifier.SendJobCompleted(data)
	l.logger.Info("job completed", zap.Int64("duration_ms", data.Duration))
}

func (l *jobListener) OnError(err *DeviceError) {
	defer l.finish()
	code, state := err.Code, err.State
	l.logger.Warn("job failed", zap.Int("code", code), zap.Int("state", state))
	l.s.fail(context.Background(), l.job, &code, &state, DeviceMessage(code))
}

func (l *jobListener) OnCancel(success bool) {
	if !success {
		l.logger.Warn("printer refused to cancel job")
		if err := l.s.store.Jobs.SetNote(context.Background(), l.job.ID, "cancel refused by printer"); err != nil {
			l.logger.Warn("failed to record note", zap.Error(err))
		}
		return
	}
	defer l.finish()
	l.logger.Info("job cancelled")
	l.s.cancelled(context.Background(), l.job)
}

func pick(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
