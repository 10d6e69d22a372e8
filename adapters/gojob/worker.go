package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-crmwatch/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const DefaultIdleDelay = time.Second

// ErrNoDelivery is returned by RunOnce when the queue had nothing to deliver.
var ErrNoDelivery = errors.New("gojob: no delivery")

type WorkerOption func(*Worker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) { w.policy = policy }
}

func WithBackoff(backoff core.BackoffScheduler) WorkerOption {
	return func(w *Worker) {
		if backoff != nil {
			w.backoff = backoff
		}
	}
}

func WithHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *Worker) { w.hooks = append(w.hooks, hooks...) }
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) { w.observer = core.NewObserver(logger) }
}

func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) {
		if delay > 0 {
			w.idle = delay
		}
	}
}

func WithClock(clock core.Clock) WorkerOption {
	return func(w *Worker) { w.clock = clock }
}

// Worker pulls deliveries and runs the handler registered for each job id.
// Retryable failures are nacked for retry with backoff, everything else is
// dead lettered.
type Worker struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
	backoff  core.BackoffScheduler
	hooks    []worker.Hook
	observer core.Observer
	idle     time.Duration
	clock    core.Clock

	mu       sync.Mutex
	handlers map[string]Handler
	attempts map[string]int
}

func NewWorker(dequeuer queue.Dequeuer, opts ...WorkerOption) *Worker {
	w := &Worker{
		dequeuer: dequeuer,
		policy:   RetryPolicy{MaxAttempts: core.DefaultRetryMaxAttempts, DeadLetterOnMax: true},
		backoff:  core.ExponentialBackoffScheduler{},
		observer: core.NewObserver(nil),
		idle:     DefaultIdleDelay,
		handlers: map[string]Handler{},
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *Worker) Handle(jobID string, handler Handler) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || handler == nil {
		return fmt.Errorf("gojob: job id and handler are required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[jobID]; exists {
		return fmt.Errorf("gojob: handler for %q already registered", jobID)
	}
	w.handlers[jobID] = handler
	return nil
}

// Run processes deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNoDelivery) {
			w.observer.Log(ctx, "error", "job dequeue failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.idle):
		}
	}
}

// RunOnce handles at most one delivery. Handler failures are settled on the
// delivery and do not surface as errors.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil || delivery.Message() == nil {
		return ErrNoDelivery
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	startedAt := w.clock.Now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.emit(func(h worker.Hook) { h.OnStart(ctx, event) })

	handler, ok := w.handler(msg.JobID)
	if !ok {
		event.Err = core.InternalError("no handler registered for job", map[string]any{"job_id": msg.JobID})
		event.Duration = w.clock.Now().Sub(startedAt)
		w.forget(key)
		w.emit(func(h worker.Hook) { h.OnFailure(ctx, event) })
		return delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: "unknown job " + msg.JobID})
	}

	runErr := runHandler(ctx, handler, msg)
	event.Duration = w.clock.Now().Sub(startedAt)
	w.observer.Observe(ctx, startedAt, "job_"+msg.JobID, runErr, map[string]any{
		"job_id":          msg.JobID,
		"idempotency_key": msg.IdempotencyKey,
		"attempt":         attempt,
	})
	if runErr == nil {
		w.forget(key)
		w.emit(func(h worker.Hook) { h.OnSuccess(ctx, event) })
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	nack := w.policy.Decide(runErr, attempt, w.retryDelay(attempt, runErr))
	if nack.Disposition == queue.NackDispositionRetry {
		event.Delay = nack.Delay
		w.emit(func(h worker.Hook) { h.OnRetry(ctx, event) })
	} else {
		w.forget(key)
		w.emit(func(h worker.Hook) { h.OnFailure(ctx, event) })
	}
	return delivery.Nack(ctx, nack)
}

func runHandler(ctx context.Context, handler Handler, msg *job.ExecutionMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.InternalError("job handler panicked", map[string]any{
				"job_id": msg.JobID,
				"panic":  fmt.Sprint(recovered),
			})
		}
	}()
	return handler(ctx, msg)
}

func (w *Worker) retryDelay(attempt int, err error) time.Duration {
	delay := w.backoff.NextDelay(attempt)
	if hint := core.RetryAfterHint(err); hint > delay {
		delay = hint
	}
	return delay
}

func (w *Worker) handler(jobID string) (Handler, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	handler, ok := w.handlers[strings.TrimSpace(jobID)]
	return handler, ok
}

func (w *Worker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func (w *Worker) emit(fn func(worker.Hook)) {
	for _, hook := range w.hooks {
		if hook != nil {
			fn(hook)
		}
	}
}

func attemptKey(msg *job.ExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

var _ worker.Hook = (*LoggingHook)(nil)

// LoggingHook reports retries and failures through the crmwatch observer.
type LoggingHook struct {
	Observer core.Observer
}

func (LoggingHook) OnStart(context.Context, worker.Event)   {}
func (LoggingHook) OnSuccess(context.Context, worker.Event) {}

func (h LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.Observer.Log(ctx, "error", "job settled without retry", eventFields(event))
}

func (h LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.Observer.Log(ctx, "warn", "job requeued", eventFields(event))
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{
		"attempt":  event.Attempt,
		"delay_ms": event.Delay.Milliseconds(),
	}
	if event.Message != nil {
		fields["job_id"] = event.Message.JobID
		fields["idempotency_key"] = event.Message.IdempotencyKey
	}
	if event.Err != nil {
		fields["error"] = core.Describe(event.Err)
	}
	return fields
}
