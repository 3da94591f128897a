package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	alarms "linemonitor/internal/alarms/domain"
	"linemonitor/internal/observability/metrics"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 16
)

// Sender is satisfied by Notifier.
type Sender interface {
	Notify(ctx context.Context, subject, body string) bool
}

// Dispatcher renders and sends notifications on a fixed set of workers fed by a
// bounded queue, so a slow channel never stalls the caller.
type Dispatcher struct {
	sender   Sender
	template *Template
	workers  int
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	queue   chan alarms.Notification
	group   *errgroup.Group
	started bool
	closed  bool
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the number of concurrent senders.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the number of waiting notifications.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan alarms.Notification, n)
		}
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics assigns metrics.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher constructs a dispatcher. Call Start before submitting.
func NewDispatcher(sender Sender, tpl *Template, opts ...DispatcherOption) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("dispatcher: nil sender")
	}
	if tpl == nil {
		return nil, errors.New("dispatcher: nil template")
	}
	d := &Dispatcher{
		sender:   sender,
		template: tpl,
		workers:  DefaultWorkers,
		logger:   zerolog.Nop(),
		queue:    make(chan alarms.Notification, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start launches the workers. Sends keep running after ctx is cancelled until Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	sendCtx := context.WithoutCancel(ctx)
	d.group = &errgroup.Group{}
	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			for n := range d.queue {
				d.deliver(sendCtx, n)
			}
			return nil
		})
	}
}

// Submit queues n without blocking. A full queue drops n and returns ErrQueueFull.
func (d *Dispatcher) Submit(n alarms.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return alarms.ErrDispatcherClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		d.logger.Error().Str("kind", string(n.Kind)).Msg("notification queue full, dropping notification")
		d.metrics.ObserveNotification(string(n.Kind), metrics.ResultDropped, 0)
		return alarms.ErrQueueFull
	}
}

// Close stops accepting notifications and waits until queued ones are sent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n alarms.Notification) {
	start := time.Now()
	subject, body, err := d.template.Render(n)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("could not render notification")
		d.metrics.ObserveNotification(string(n.Kind), metrics.ResultError, time.Since(start))
		return
	}
	result := metrics.ResultSuccess
	if !d.sender.Notify(ctx, subject, body) {
		result = metrics.ResultError
	}
	d.metrics.ObserveNotification(string(n.Kind), result, time.Since(start))
}
