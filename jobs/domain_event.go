package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-assets/internal/jobs"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

const (
	// TaskDomainEvent fans a committed domain event out to notification channels.
	TaskDomainEvent = "assets:event"
)

// NewDomainEventTask wraps an event into an Asynq task.
func NewDomainEventTask(evt shared.DomainEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDomainEvent, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.TaskID(evt.Key().String()),
		asynq.Retention(24*time.Hour),
	), nil
}

// Enqueuer submits tasks; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DomainEventJob turns operator-relevant events into e-mail tasks.
type DomainEventJob struct {
	Queue      Enqueuer
	Recipients []string
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewDomainEventJob constructs the event handler.
func NewDomainEventJob(queue Enqueuer, recipients []string, logger *slog.Logger, metrics *jobmetrics.Metrics) *DomainEventJob {
	return &DomainEventJob{Queue: queue, Recipients: recipients, Logger: logger, Metrics: metrics}
}

// Handle decodes the event and enqueues one e-mail per recipient when the
// event warrants attention.
func (j *DomainEventJob) Handle(ctx context.Context, task *asynq.Task) error {
	var evt shared.DomainEvent
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track("domain_event")
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	subject, body, ok := describeEvent(evt)
	if !ok {
		j.log().Debug("event not notifiable", slog.String("type", evt.Type), slog.Int64("entity_id", evt.EntityID))
		return resultErr
	}
	if j.Queue == nil || len(j.Recipients) == 0 {
		j.log().Info("no recipients configured", slog.String("type", evt.Type))
		return resultErr
	}
	for _, to := range j.Recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		mail, err := NewSendEmailTask(SendEmailPayload{To: to, Subject: subject, Body: body})
		if err != nil {
			resultErr = err
			return resultErr
		}
		// A retried event must not mail recipients that were already queued.
		_, err = j.Queue.EnqueueContext(ctx, mail, asynq.TaskID(evt.Key().String()+":"+to))
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			resultErr = err
			j.log().Error("enqueue notification", slog.String("to", to), slog.Any("error", err))
			return resultErr
		}
	}
	return resultErr
}

// describeEvent renders the notification for events operators act on.
func describeEvent(evt shared.DomainEvent) (string, string, bool) {
	switch evt.Type {
	case shared.EventCycleReconciled:
		count := intData(evt.Data, "discrepancies")
		if count == 0 {
			return "", "", false
		}
		title, _ := evt.Data["title"].(string)
		subject := fmt.Sprintf("Audit cycle %d has %d discrepancies", evt.EntityID, count)
		body := fmt.Sprintf("Audit cycle %d (%s) was finalized on %s with %d discrepancies awaiting review.\n",
			evt.EntityID, title, evt.OccurredAt.Format("2006-01-02 15:04 MST"), count)
		return subject, body, true
	case shared.EventAssetRetired, shared.EventAssetDisposed:
		action := strings.TrimPrefix(evt.Type, "asset.")
		subject := fmt.Sprintf("Asset %d %s after audit", evt.EntityID, action)
		body := fmt.Sprintf("Asset %d was %s by actor %d on %s following an approved audit discrepancy.\n",
			evt.EntityID, action, evt.ActorID, evt.OccurredAt.Format("2006-01-02"))
		return subject, body, true
	default:
		return "", "", false
	}
}

// intData reads a numeric field that may have passed through JSON.
func intData(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (j *DomainEventJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DomainEventJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDomainEvent))
	}
	return slog.Default().With(slog.String("job", TaskDomainEvent))
}
