package email

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DispatcherOptions tunes the delivery queue.
type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     time.Duration // doubled after each failed attempt

	// OnResult is called once per message with its final outcome.
	OnResult func(msg Message, result Result)
}

// Dispatcher delivers messages in the background so callers never wait on
// the mail transport. Transport failures are retried with exponential
// backoff; configuration failures are not.
type Dispatcher struct {
	sender Sender
	opts   DispatcherOptions
	queue  chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(sender Sender, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender: sender,
		opts:   opts,
		queue:  make(chan Message, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Precheck reports a failure reason known before sending, if the sender can tell.
func (d *Dispatcher) Precheck(to []string) string {
	if p, ok := d.sender.(interface{ Precheck([]string) string }); ok {
		return p.Precheck(to)
	}
	if len(to) == 0 {
		return ReasonNoRecipients
	}
	return ""
}

// Enqueue schedules msg for delivery. It returns false when the dispatcher
// is closed or the queue is full; the drop is reported through OnResult.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.report(msg, Result{Reason: ReasonTransportError, Detail: "dispatcher closed"})
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.report(msg, Result{Reason: ReasonTransportError, Detail: "notification queue full"})
		return false
	}
}

// Close stops accepting messages and waits for queued ones to finish, or
// until ctx expires, after which pending retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.report(msg, d.deliver(msg))
	}
}

// deliver makes up to MaxAttempts attempts, each bounded by Timeout.
func (d *Dispatcher) deliver(msg Message) Result {
	backoff := d.opts.Backoff
	var result Result

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
		result = d.sender.Send(ctx, msg.To, msg.Subject, msg.HTMLBody, msg.TextBody)
		cancel()

		if result.Delivered || !result.Retryable() || attempt == d.opts.MaxAttempts {
			return result
		}

		slog.Warn("notification send failed; retry scheduled",
			"kind", msg.Kind,
			"request_id", msg.RequestID,
			"attempt", attempt,
			"reason", result.Reason,
			"error", result.Detail,
		)

		select {
		case <-d.ctx.Done():
			return result
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return result
}

func (d *Dispatcher) report(msg Message, result Result) {
	if result.Delivered {
		slog.Info("notification delivered",
			"kind", msg.Kind,
			"request_id", msg.RequestID,
			"recipients", len(msg.To),
		)
	} else {
		slog.Error("notification not delivered",
			"kind", msg.Kind,
			"request_id", msg.RequestID,
			"recipients", len(msg.To),
			"reason", result.Reason,
			"error", result.Detail,
		)
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(msg, result)
	}
}
