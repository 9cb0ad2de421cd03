package tcp

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sys/unix"

	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// Inbox is the only way for other goroutines to reach reactor-owned state. Post queues a
// callback and wakes the reactor through an eventfd; Drain runs queued callbacks in FIFO
// order on the reactor goroutine.
type Inbox struct {
	logger  logger.Logger
	metrics service.Metrics

	mu     sync.Mutex
	tasks  *linkedlistqueue.Queue
	closed bool

	wakeFD int
}

// NewInbox creates an inbox with its wake eventfd.
func NewInbox(metrics service.Metrics, log logger.Logger) (*Inbox, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create inbox eventfd")
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &Inbox{
		logger:  log.WithComponent("inbox"),
		metrics: metrics,
		tasks:   linkedlistqueue.New(),
		wakeFD:  fd,
	}, nil
}

// Post queues task and wakes the reactor. Tasks posted after Close are discarded.
func (i *Inbox) Post(task func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		i.logger.Debug(context.Background(), "Discarding task posted to a closed inbox")
		return
	}
	i.tasks.Enqueue(task)

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	// EAGAIN means the counter is saturated and the reactor is already awake
	if _, err := unix.Write(i.wakeFD, one[:]); err != nil && err != unix.EAGAIN {
		i.logger.Error(context.Background(), "Failed to signal reactor", err)
	}
}

// Drain runs queued callbacks until the queue is empty, including callbacks posted while
// draining. A panicking callback is logged and does not stop the drain. Reactor goroutine only.
func (i *Inbox) Drain() int {
	ran := 0
	for {
		task, ok := i.pop()
		if !ok {
			return ran
		}
		ran++
		i.run(task)
	}
}

// Pending returns the number of queued callbacks.
func (i *Inbox) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tasks.Size()
}

// Close discards queued callbacks and releases the eventfd.
func (i *Inbox) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	i.tasks.Clear()
	return unix.Close(i.wakeFD)
}

func (i *Inbox) fd() int {
	return i.wakeFD
}

// clearWake resets the eventfd counter after the poller reported it readable.
func (i *Inbox) clearWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(i.wakeFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (i *Inbox) pop() (func(), bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.tasks.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(func()), true
}

func (i *Inbox) run(task func()) {
	var pc panics.Catcher
	pc.Try(task)
	if r := pc.Recovered(); r != nil {
		err := errors.Wrap(r.AsError(), errors.CodeCallbackPanic, "inbox callback panicked")
		i.logger.Error(context.Background(), "Reactor callback failed", err)
		i.metrics.RecordInboxCallback(constants.ResultFailure)
		return
	}
	i.metrics.RecordInboxCallback(constants.ResultSuccess)
}
