package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/config"
)

type WebhookEvent string

const (
	EventJobStarted   WebhookEvent = "job_started"
	EventJobCompleted WebhookEvent = "job_completed"
	EventJobFailed    WebhookEvent = "job_failed"
	EventJobCancelled WebhookEvent = "job_cancelled"
)

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        string `json:"job_id"`
	DeviceName   string `json:"device_name,omitempty"`
	Status       string `json:"status"`
	Pages        int    `json:"pages,omitempty"`
	Copies       int    `json:"copies,omitempty"`
	ErrorCode    *int   `json:"error_code,omitempty"`
	ErrorState   *int   `json:"error_state,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Duration     int64  `json:"duration_ms,omitempty"`
}

type webhookTask struct {
	endpoint config.WebhookEndpoint
	event    WebhookEvent
	payload  *WebhookPayload
	attempt  int
}

type WebhookSender struct {
	endpoints   []config.WebhookEndpoint
	httpClient  *http.Client
	logger      *zap.Logger
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewWebhookSender(cfg config.WebhookConfig, logger *zap.Logger) *WebhookSender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookSender{
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:      logger.Named("webhook"),
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *webhookTask, cfg.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *WebhookSender) SendJobStarted(data JobEventData) {
	data.Status = "started"
	s.enqueue(EventJobStarted, &data)
}

func (s *WebhookSender) SendJobCompleted(data JobEventData) {
	data.Status = "completed"
	s.enqueue(EventJobCompleted, &data)
}

func (s *WebhookSender) SendJobFailed(data JobEventData) {
	data.Status = "failed"
	s.enqueue(EventJobFailed, &data)
}

func (s *WebhookSender) SendJobCancelled(data JobEventData) {
	data.Status = "cancelled"
	s.enqueue(EventJobCancelled, &data)
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	for _, ep := range s.endpoints {
		if !subscribed(ep, event) {
			continue
		}

		task := &webhookTask{
			endpoint: ep,
			event:    event,
			payload: &WebhookPayload{
				Event:     string(event),
				Timestamp: time.Now().UTC(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.logger.Warn("queue full, dropping webhook",
				zap.String("url", ep.URL),
				zap.String("event", string(event)))
		}
	}
}

// subscribed reports whether ep wants event. An endpoint with no event
// list receives everything.
func subscribed(ep config.WebhookEndpoint, event WebhookEvent) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == string(event) {
			return true
		}
	}
	return false
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.logger.Error("failed to deliver webhook",
					zap.Int("worker", id),
					zap.String("url", task.endpoint.URL),
					zap.String("event", string(task.event)),
					zap.Int("attempts", task.attempt),
					zap.Error(err))
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.endpoint, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			s.logger.Warn("client error, not retrying", zap.String("url", task.endpoint.URL), zap.Error(err))
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Info("retrying webhook",
				zap.Int("attempt", task.attempt),
				zap.Int("max", s.retryCount),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.StatusCode)
}

func (s *WebhookSender) sendRequest(ep config.WebhookEndpoint, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	body := *payload
	if ep.Secret != "" {
		body.Signature = Sign(dataBytes, ep.Secret)
	}

	fullPayload, err := json.Marshal(&body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", body.Event)
	if body.Signature != "" {
		req.Header.Set("X-Webhook-Signature", body.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{StatusCode: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500
}
