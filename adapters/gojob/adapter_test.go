package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/watch"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestScheduler_EnqueuesKeyedMessages(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	scheduler := NewScheduler(enqueuer)

	ticket, err := scheduler.EnqueueTokenRefresh(ctx, true)
	if err != nil {
		t.Fatalf("enqueue refresh: %v", err)
	}
	key := ticket.IdempotencyKey
	if ticket.DispatchID != "dispatch-1" || ticket.EnqueuedAt.IsZero() {
		t.Fatalf("expected queue receipt on ticket, got %#v", ticket)
	}
	msg := enqueuer.last
	if msg == nil || msg.JobID != JobIDTokenRefresh || msg.ScriptPath != JobIDTokenRefresh {
		t.Fatalf("unexpected message %#v", msg)
	}
	if msg.IdempotencyKey != key || !strings.HasPrefix(key, JobIDTokenRefresh+":") {
		t.Fatalf("unexpected idempotency key %q", key)
	}
	if msg.DedupPolicy != DedupPolicyDrop || msg.Parameters[paramForce] != true {
		t.Fatalf("unexpected message fields %#v", msg)
	}

	second, err := scheduler.EnqueueWatchRenew(ctx)
	if err != nil {
		t.Fatalf("enqueue renew: %v", err)
	}
	if second.IdempotencyKey == key || second.DispatchID != "dispatch-2" || enqueuer.last.JobID != JobIDWatchRenew {
		t.Fatalf("expected distinct renew message")
	}

	if _, err := NewScheduler(nil).EnqueueWatchRenew(ctx); err == nil {
		t.Fatalf("expected missing enqueuer to fail")
	}
}

func TestRetryPolicy_Decide(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}
	transient := core.ServerError(nil, 503, "bigin unavailable", nil)

	first := policy.Decide(transient, 1, 30*time.Second)
	if first.Delay != 10*time.Second || first.Disposition != queue.NackDispositionRetry || first.Reason == "" {
		t.Fatalf("unexpected first nack %#v", first)
	}

	last := policy.Decide(transient, 3, time.Second)
	if last.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", last)
	}

	permanent := policy.Decide(core.AuthScopeError("invalid_code", nil), 1, time.Second)
	if permanent.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected permanent failure to dead letter, got %#v", permanent)
	}

	drop := RetryPolicy{MaxAttempts: 1}.Decide(transient, 1, time.Second)
	if drop.Disposition != queue.NackDispositionFailed {
		t.Fatalf("expected exhausted retry without dead letter to fail, got %#v", drop)
	}
	for _, opts := range []queue.NackOptions{first, last, permanent, drop} {
		if err := queue.ValidateNackOptions(opts); err != nil {
			t.Fatalf("expected valid nack options %#v: %v", opts, err)
		}
	}
}

func TestWorker_AcksSuccessfulJobs(t *testing.T) {
	delivery := &stubQueueDelivery{msg: NewExecutionMessage(JobIDTokenRefresh, nil)}
	hook := &capturingHook{}
	tokens := &stubTokens{}
	w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}, WithHooks(hook))
	if err := w.Handle(JobIDTokenRefresh, TokenRefreshHandler(tokens)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !delivery.acked || tokens.accessCalls != 1 || tokens.forceCalls != 0 {
		t.Fatalf("expected ack after access token check, got %#v %#v", delivery, tokens)
	}
	if hook.started != 1 || hook.succeeded != 1 {
		t.Fatalf("expected start and success hooks, got %#v", hook)
	}
	if err := w.RunOnce(context.Background()); !errors.Is(err, ErrNoDelivery) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestWorker_ForceRefreshUsesCurrentToken(t *testing.T) {
	delivery := &stubQueueDelivery{msg: NewExecutionMessage(JobIDTokenRefresh, map[string]any{paramForce: "true"})}
	tokens := &stubTokens{current: "A1"}
	w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}})
	_ = w.Handle(JobIDTokenRefresh, TokenRefreshHandler(tokens))

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if tokens.forceCalls != 1 || tokens.forceStale != "A1" {
		t.Fatalf("expected forced refresh against A1, got %#v", tokens)
	}
}

func TestWorker_RequeuesRetryableFailures(t *testing.T) {
	msg := NewExecutionMessage(JobIDWatchRenew, nil)
	first := &stubQueueDelivery{msg: msg}
	second := &stubQueueDelivery{msg: msg}
	hook := &capturingHook{}
	registrar := &stubRegistrar{errs: []error{
		core.ServerError(nil, 503, "bigin unavailable", nil),
		core.ServerError(nil, 503, "bigin unavailable", nil),
	}}
	w := NewWorker(
		&stubQueueDequeuer{deliveries: []queue.Delivery{first, second}},
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true}),
		WithBackoff(core.ExponentialBackoffScheduler{Initial: time.Second, Max: 4 * time.Second}),
		WithHooks(hook),
	)
	_ = w.Handle(JobIDWatchRenew, WatchRenewHandler(registrar, core.Subscription{ChannelID: "1000000068001"}))

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if first.nackOpts.Disposition != queue.NackDispositionRetry || first.nackOpts.Delay != time.Second {
		t.Fatalf("expected requeue with backoff, got %#v", first.nackOpts)
	}
	if hook.retried != 1 || hook.last.Attempt != 1 {
		t.Fatalf("expected retry hook on attempt 1, got %#v", hook)
	}

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if second.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", second.nackOpts)
	}
	if hook.failed != 1 || hook.last.Attempt != 2 {
		t.Fatalf("expected failure hook on attempt 2, got %#v", hook)
	}
	if registrar.calls != 2 || registrar.last.ChannelID != "1000000068001" || registrar.last.ChannelExpiry != nil {
		t.Fatalf("unexpected registrar calls %#v", registrar)
	}
}

func TestWorker_DeadLettersPermanentFailures(t *testing.T) {
	delivery := &stubQueueDelivery{msg: NewExecutionMessage(JobIDWatchRenew, nil)}
	registrar := &stubRegistrar{errs: []error{core.AuthScopeError("missing scope", nil)}}
	w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}})
	_ = w.Handle(JobIDWatchRenew, WatchRenewHandler(registrar, core.Subscription{}))

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter, got %#v", delivery.nackOpts)
	}
}

func TestWorker_RetryAfterHintExtendsDelay(t *testing.T) {
	delivery := &stubQueueDelivery{msg: NewExecutionMessage(JobIDWatchRenew, nil)}
	registrar := &stubRegistrar{errs: []error{core.RateLimitedError("slow down", map[string]any{"retry_after_seconds": 5})}}
	w := NewWorker(
		&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}},
		WithBackoff(core.ExponentialBackoffScheduler{Initial: time.Second, Max: time.Second}),
	)
	_ = w.Handle(JobIDWatchRenew, WatchRenewHandler(registrar, core.Subscription{}))

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionRetry || delivery.nackOpts.Delay != 5*time.Second {
		t.Fatalf("expected retry after hint delay, got %#v", delivery.nackOpts)
	}
}

func TestWorker_UnknownJobAndPanics(t *testing.T) {
	unknown := &stubQueueDelivery{msg: NewExecutionMessage("crmwatch.unknown", nil)}
	panicking := &stubQueueDelivery{msg: NewExecutionMessage(JobIDTokenRefresh, nil)}
	w := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{unknown, panicking}})
	_ = w.Handle(JobIDTokenRefresh, func(context.Context, *job.ExecutionMessage) error { panic("boom") })

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unknown job: %v", err)
	}
	if unknown.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected unknown job to be dead lettered")
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("panicking job: %v", err)
	}
	if panicking.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected panic to be dead lettered, got %#v", panicking.nackOpts)
	}
	if err := w.Handle(JobIDTokenRefresh, func(context.Context, *job.ExecutionMessage) error { return nil }); err == nil {
		t.Fatalf("expected duplicate handler to fail")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(&stubQueueDequeuer{}, WithIdleDelay(time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

type stubQueueEnqueuer struct {
	last  *job.ExecutionMessage
	count int
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	s.count++
	return queue.EnqueueReceipt{DispatchID: fmt.Sprintf("dispatch-%d", s.count), EnqueuedAt: time.Now()}, nil
}

type stubQueueDequeuer struct {
	deliveries []queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		return nil, nil
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	started, succeeded, failed, retried int
	last                                worker.Event
}

func (h *capturingHook) OnStart(context.Context, worker.Event) { h.started++ }

func (h *capturingHook) OnSuccess(context.Context, worker.Event) { h.succeeded++ }

func (h *capturingHook) OnFailure(_ context.Context, event worker.Event) {
	h.failed++
	h.last = event
}

func (h *capturingHook) OnRetry(_ context.Context, event worker.Event) {
	h.retried++
	h.last = event
}

type stubTokens struct {
	current     string
	accessCalls int
	forceCalls  int
	forceStale  string
}

func (s *stubTokens) AccessToken(context.Context) (core.AccessGrant, error) {
	s.accessCalls++
	return core.AccessGrant{Token: s.current}, nil
}

func (s *stubTokens) ForceRefresh(_ context.Context, stale string) (core.AccessGrant, error) {
	s.forceCalls++
	s.forceStale = stale
	return core.AccessGrant{Token: "A2", Refreshed: true}, nil
}

func (s *stubTokens) Credential(context.Context) (core.Credential, error) {
	return core.Credential{AccessToken: s.current}, nil
}

type stubRegistrar struct {
	calls int
	last  core.Subscription
	errs  []error
}

func (s *stubRegistrar) Register(_ context.Context, sub core.Subscription) (watch.SubscriptionResult, error) {
	s.calls++
	s.last = sub
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return watch.SubscriptionResult{}, err
	}
	return watch.SubscriptionResult{ChannelID: sub.ChannelID}, nil
}
