package device

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/orrn/labelstream/internal/core"
)

// fakeLink is an in-memory printer. It answers status queries with
// status and records everything written.
type fakeLink struct {
	mu      sync.Mutex
	written bytes.Buffer
	status  [4]byte
	closed  bool
	writes  int
	// failAfter makes the nth and later writes fail; zero never fails.
	failAfter int
}

func newFakeLink() *fakeLink {
	return &fakeLink{status: [4]byte{'@', '@', '@', '@'}}
}

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.failAfter > 0 && l.writes >= l.failAfter {
		return 0, errWrite
	}
	return l.written.Write(p)
}

func (l *fakeLink) Query(cmd, reply []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copy(reply, l.status[:])
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written.String()
}

func (l *fakeLink) count(cmd string) int {
	return strings.Count(l.output(), cmd)
}

var errWrite = errors.New("broken pipe")

// outcome collects listener events and closes done on the terminal one.
type outcome struct {
	mu        sync.Mutex
	progress  [][2]int
	completed bool
	err       *core.DeviceError
	cancelled []bool
	done      chan struct{}
	once      sync.Once
}

func newOutcome() *outcome {
	return &outcome{done: make(chan struct{})}
}

func (o *outcome) finish() {
	o.once.Do(func() { close(o.done) })
}

func (o *outcome) OnProgress(page, copy int) {
	o.mu.Lock()
	o.progress = append(o.progress, [2]int{page, copy})
	o.mu.Unlock()
}

func (o *outcome) OnComplete() {
	o.mu.Lock()
	o.completed = true
	o.mu.Unlock()
	o.finish()
}

func (o *outcome) OnError(err *core.DeviceError) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	o.finish()
}

func (o *outcome) OnCancel(success bool) {
	o.mu.Lock()
	o.cancelled = append(o.cancelled, success)
	o.mu.Unlock()
	if success {
		o.finish()
	}
}

func (o *outcome) wait() bool {
	select {
	case <-o.done:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
