// Package gojob runs token refresh and watch renewal as go-job executions.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDTokenRefresh = "crmwatch.token.refresh"
	JobIDWatchRenew   = "crmwatch.watch.renew"

	DedupPolicyDrop = job.DedupPolicyDrop

	paramForce = "force"
)

// RetryPolicy bounds how often a failed crmwatch job goes back on the queue.
// Attempts are counted from 1.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func RetryPolicyFromConfig(cfg core.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		MaxDelay:        cfg.MaxBackoff,
		DeadLetterOnMax: true,
	}
}

// Decide maps a handler failure to nack options. Permanent errors are dead
// lettered at once. Retryable errors are retried after delay, capped at
// MaxDelay, until MaxAttempts is reached; past that they are dead lettered or
// marked failed depending on DeadLetterOnMax.
func (p RetryPolicy) Decide(err error, attempt int, delay time.Duration) queue.NackOptions {
	out := queue.NackOptions{Disposition: queue.NackDispositionDeadLetter}
	if err != nil {
		out.Reason = strings.TrimSpace(err.Error())
	}
	if !core.IsRetryable(err) {
		return out
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		if !p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionFailed
		}
		return out
	}
	out.Disposition = queue.NackDispositionRetry
	out.Delay = max(delay, 0)
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	return out
}

// Scheduler enqueues crmwatch jobs.
type Scheduler struct {
	enqueuer queue.Enqueuer
}

func NewScheduler(enqueuer queue.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enqueuer}
}

// Ticket identifies an accepted job: the idempotency key crmwatch assigned
// and the queue's dispatch receipt.
type Ticket struct {
	IdempotencyKey string
	DispatchID     string
	EnqueuedAt     time.Time
}

// EnqueueTokenRefresh asks a worker to mint or validate the access token.
func (s *Scheduler) EnqueueTokenRefresh(ctx context.Context, force bool) (Ticket, error) {
	return s.enqueue(ctx, NewExecutionMessage(JobIDTokenRefresh, map[string]any{paramForce: force}))
}

// EnqueueWatchRenew asks a worker to re-register the configured channel.
func (s *Scheduler) EnqueueWatchRenew(ctx context.Context) (Ticket, error) {
	return s.enqueue(ctx, NewExecutionMessage(JobIDWatchRenew, nil))
}

func (s *Scheduler) enqueue(ctx context.Context, msg *job.ExecutionMessage) (Ticket, error) {
	if s == nil || s.enqueuer == nil {
		return Ticket{}, fmt.Errorf("gojob: enqueuer is not configured")
	}
	receipt, err := s.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{
		IdempotencyKey: msg.IdempotencyKey,
		DispatchID:     receipt.DispatchID,
		EnqueuedAt:     receipt.EnqueuedAt,
	}, nil
}

// NewExecutionMessage builds a message keyed by a fresh idempotency key.
func NewExecutionMessage(jobID string, parameters map[string]any) *job.ExecutionMessage {
	jobID = strings.TrimSpace(jobID)
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     copyAnyMap(parameters),
		IdempotencyKey: jobID + ":" + uuid.NewString(),
		DedupPolicy:    DedupPolicyDrop,
	}
}

func boolParam(msg *job.ExecutionMessage, key string) bool {
	if msg == nil {
		return false
	}
	switch value := msg.Parameters[key].(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(strings.TrimSpace(value), "true")
	}
	return false
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
