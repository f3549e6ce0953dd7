package accounts

import (
	"context"
	"errors"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// JobIDCredentialPoll identifies the scheduled failing-accounts poll.
const JobIDCredentialPoll = "signon.credentials.poll"

// MonitorJob runs Monitor polls through a go-job queue so the polling
// cadence is owned by the job scheduler rather than a private ticker.
type MonitorJob struct {
	monitor    *Monitor
	retryDelay time.Duration
}

func NewMonitorJob(monitor *Monitor, retryDelay time.Duration) (*MonitorJob, error) {
	if monitor == nil {
		return nil, core.BadInput("accounts: monitor is required")
	}
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &MonitorJob{monitor: monitor, retryDelay: retryDelay}, nil
}

// EnqueuePoll schedules one poll execution.
func (j *MonitorJob) EnqueuePoll(ctx context.Context, enqueuer queue.Enqueuer) error {
	if enqueuer == nil {
		return core.BadInput("accounts: enqueuer is required")
	}
	_, err := enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:       JobIDCredentialPoll,
		DedupPolicy: job.DedupPolicyDrop,
	})
	return err
}

// Run consumes poll deliveries until the context ends. Failed polls are
// nacked with a requeue delay; anything else is acked.
func (j *MonitorJob) Run(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return core.BadInput("accounts: dequeuer is required")
	}
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := j.Handle(ctx, delivery); err != nil {
			return err
		}
	}
}

// Handle processes one delivery.
func (j *MonitorJob) Handle(ctx context.Context, delivery queue.Delivery) error {
	if delivery == nil {
		return core.BadInput("accounts: delivery is required")
	}
	message := delivery.Message()
	if message == nil || message.JobID != JobIDCredentialPoll {
		return delivery.Nack(ctx, queue.NackOptions{
			Disposition: queue.NackDispositionDeadLetter,
			Reason:      "unexpected job id",
		})
	}

	if err := j.monitor.Poll(ctx); err != nil {
		return delivery.Nack(ctx, queue.NackOptions{
			Disposition: queue.NackDispositionRetry,
			Delay:       j.retryDelay,
			Reason:      err.Error(),
		})
	}
	return delivery.Ack(ctx)
}
