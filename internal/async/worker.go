package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
)

const defaultRetryDelay = 10 * time.Second

// ErrDeliveriesClosed means the queue stopped delivering while the worker
// was still supposed to run, typically a lost broker connection.
var ErrDeliveriesClosed = errors.New("deliveries channel closed")

// ArtifactProcessor runs one artifact to a terminal outcome.
type ArtifactProcessor interface {
	Process(ctx context.Context, name string) pipeline.Result
}

// Stats counts what the worker has done since start.
type Stats struct {
	Received    int64
	Persisted   int64
	Rejected    int64
	Skipped     int64
	AckFailed   int64
	Unrelocated int64
	Requeued    int64
}

// Worker is a single logical consumer: it takes one delivery at a time,
// runs it through the processor and acknowledges it once the artifact has
// left the pending area. An item whose artifact could not be relocated is
// handed back to the queue after a delay instead.
type Worker struct {
	consumer queue.Consumer
	proc     ArtifactProcessor
	logger   *slog.Logger
	onResult func(pipeline.Result)
	retry    time.Duration

	received, persisted, rejected, skipped, ackFailed, unrelocated, requeued atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type Option func(*Worker)

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetryDelay sets how long an unrelocated item is held before it goes
// back to the queue.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.retry = d
		}
	}
}

// WithOnResult registers a callback invoked after each item is settled.
func WithOnResult(fn func(pipeline.Result)) Option {
	return func(w *Worker) {
		w.onResult = fn
	}
}

func NewWorker(consumer queue.Consumer, proc ArtifactProcessor, opts ...Option) *Worker {
	w := &Worker{
		consumer: consumer,
		proc:     proc,
		logger:   slog.Default(),
		retry:    defaultRetryDelay,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run consumes until ctx is cancelled or Shutdown is called, and returns
// nil in that case. An item already delivered is always run to completion
// and settled, even after cancellation. If the queue closes the
// deliveries channel on its own, Run returns ErrDeliveriesClosed.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	done := w.done
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(done)
	}()

	deliveries, err := w.consumer.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					w.logger.Info("worker stopped")
					return nil
				}
				w.logger.Error("queue stopped delivering")
				return ErrDeliveriesClosed
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	w.received.Add(1)
	name := d.Body()
	if d.Redelivered() {
		w.logger.Info("processing redelivered item", "artifact", name)
	}

	// no mid-item abort: shutdown waits for the item instead
	res := w.proc.Process(context.WithoutCancel(ctx), name)

	switch res.Outcome.Kind {
	case pipeline.OutcomePersisted:
		w.persisted.Add(1)
	case pipeline.OutcomeRejected:
		w.rejected.Add(1)
	default:
		w.skipped.Add(1)
	}
	if res.Outcome.Kind != pipeline.OutcomeSkipped && res.State != pipeline.StateRelocated {
		w.unrelocated.Add(1)
		w.requeue(ctx, d, name)
	} else if err := d.Ack(); err != nil {
		w.ackFailed.Add(1)
		w.logger.Warn("ack failed, item will be redelivered", "artifact", name, "error", err)
	}
	if w.onResult != nil {
		w.onResult(res)
	}
}

// requeue hands d back unacknowledged after the retry delay. Shutdown cuts
// the delay short.
func (w *Worker) requeue(ctx context.Context, d queue.Delivery, name string) {
	w.logger.Warn("artifact not relocated, returning item to queue", "artifact", name, "retry_in", w.retry)
	if w.retry > 0 {
		t := time.NewTimer(w.retry)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	if err := d.Nack(true); err != nil {
		w.logger.Warn("nack failed, item will be redelivered", "artifact", name, "error", err)
		return
	}
	w.requeued.Add(1)
}

// Shutdown stops consuming and waits for the in-flight item, or for ctx.
func (w *Worker) Shutdown(ctx context.Context) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	select {
	case <-ctx.Done():
		w.logger.Warn("shutdown interrupted by context")
	case <-done:
		w.logger.Info("worker drained, shutdown complete")
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Received:    w.received.Load(),
		Persisted:   w.persisted.Load(),
		Rejected:    w.rejected.Load(),
		Skipped:     w.skipped.Load(),
		AckFailed:   w.ackFailed.Load(),
		Unrelocated: w.unrelocated.Load(),
		Requeued:    w.requeued.Load(),
	}
}

// LogStats writes the counters at info level every interval until ctx ends.
func (w *Worker) LogStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := w.Stats()
			w.logger.Info("worker stats",
				"received", s.Received,
				"persisted", s.Persisted,
				"rejected", s.Rejected,
				"skipped", s.Skipped,
				"ack_failed", s.AckFailed,
				"unrelocated", s.Unrelocated,
				"requeued", s.Requeued,
			)
		}
	}
}
