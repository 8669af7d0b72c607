package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotifyQueueFull is returned by Dispatcher.Notify when the change was
// dropped because the delivery queue is full.
var ErrNotifyQueueFull = errors.New("notification queue full")

type job struct {
	ctx    context.Context
	change Change
}

// Dispatcher is a Notifier that queues changes and delivers them to the
// wrapped notifiers from background workers, so slow webhooks or SMTP
// servers never hold up the request that made the change.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan job
	timeout   time.Duration
	logger    zerolog.Logger

	dropped atomic.Int64
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewDispatcher creates a dispatcher with a queue of size entries. Each
// delivery to a notifier gets its own timeout. Call Start to begin delivery.
func NewDispatcher(logger zerolog.Logger, size int, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan job, size),
		timeout:   timeout,
		logger:    logger,
	}
}

// Start launches workers goroutines draining the queue.
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.deliver(j)
			}
		}()
	}
}

// Notify enqueues c without blocking. The request context's values are kept
// but its cancellation is not, since delivery outlives the request.
func (d *Dispatcher) Notify(ctx context.Context, c Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped.Add(1)
		return ErrNotifyQueueFull
	}
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), change: c}:
		return nil
	default:
		d.dropped.Add(1)
		return ErrNotifyQueueFull
	}
}

func (d *Dispatcher) deliver(j job) {
	for _, n := range d.notifiers {
		ctx, cancel := j.ctx, context.CancelFunc(func() {})
		if d.timeout > 0 {
			ctx, cancel = context.WithTimeout(j.ctx, d.timeout)
		}
		err := n.Notify(ctx, j.change)
		cancel()
		if err != nil {
			d.logger.Warn().Err(err).
				Str("event", string(j.change.Type)).
				Int64("appointment_id", j.change.Appointment.ID).
				Msg("notification delivery failed")
		}
	}
}

// Dropped reports how many changes were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close stops accepting changes and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
