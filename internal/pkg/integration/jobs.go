package integration

import (
	"context"
	"time"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

// Enqueuer is satisfied by *jobqueue.Queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// WithQueue switches webhook handling to async mode: events are validated
// on receipt and processed by the job queue.
func WithQueue(q Enqueuer) Option {
	return func(s *Service) { s.queue = q }
}

// Accepted is the result of receiving a webhook body.
type Accepted struct {
	Outcome *webhook.Outcome
	JobID   string
}

// AcceptWebhook parses body and either handles it right away or, in async
// mode, enqueues it. Malformed events are rejected in both modes.
func (s *Service) AcceptWebhook(ctx context.Context, body []byte) (*Accepted, error) {
	ev, err := webhook.Parse(body)
	if err != nil {
		return nil, err
	}
	route, err := ev.Route()
	if err != nil {
		return nil, err
	}

	if s.queue == nil || route == webhook.RouteIgnore {
		out, err := s.HandleWebhookEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		return &Accepted{Outcome: out}, nil
	}

	payload := jobqueue.WebhookEventJobPayload{Body: string(body), WebhookID: ev.WebhookID, ReceivedAt: time.Now()}
	job, err := s.queue.EnqueueJob(ctx, jobqueue.JobTypeWebhookEvent, payload.ToMap())
	if err != nil {
		return nil, err
	}
	return &Accepted{JobID: job.ID}, nil
}

// HandleWebhookJob is the jobqueue handler for JobTypeWebhookEvent.
func (s *Service) HandleWebhookJob(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.WebhookEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	ev, err := webhook.Parse([]byte(payload.Body))
	if err != nil {
		return jobqueue.Permanent(err)
	}
	if _, err := s.HandleWebhookEvent(ctx, ev); err != nil {
		if webhook.Classify(err) != webhook.ClassInternal {
			return jobqueue.Permanent(err)
		}
		return err
	}
	return nil
}
