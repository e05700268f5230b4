package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-assets/internal/depreciation"
	jobmetrics "github.com/odyssey-erp/odyssey-assets/internal/jobs"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

type stubDepreciation struct {
	persisted []int64
	refreshes int
	result    depreciation.RefreshResult
	err       error
}

func (s *stubDepreciation) PersistSchedule(_ context.Context, assetID, _ int64) (depreciation.Schedule, error) {
	s.persisted = append(s.persisted, assetID)
	if s.err != nil {
		return depreciation.Schedule{}, s.err
	}
	return depreciation.Schedule{AssetID: assetID, Entries: make([]depreciation.ScheduleEntry, 5)}, nil
}

func (s *stubDepreciation) RefreshAll(context.Context, int64) (depreciation.RefreshResult, error) {
	s.refreshes++
	return s.result, s.err
}

func TestDepreciationRefreshAll(t *testing.T) {
	svc := &stubDepreciation{result: depreciation.RefreshResult{Assets: 3}}
	job := NewDepreciationRefreshJob(svc, quietLogger(), testMetrics())
	job.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) })

	task, err := NewDepreciationRefreshTask(time.Now(), 0)
	require.NoError(t, err)
	require.Equal(t, TaskDepreciationRefresh, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, svc.refreshes)
	require.Empty(t, svc.persisted)
}

func TestDepreciationRefreshSingleAsset(t *testing.T) {
	svc := &stubDepreciation{}
	job := NewDepreciationRefreshJob(svc, quietLogger(), testMetrics())

	task, err := NewDepreciationRefreshTask(time.Now(), 42)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{42}, svc.persisted)
	require.Zero(t, svc.refreshes)
}

func TestDepreciationRefreshPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	svc := &stubDepreciation{result: depreciation.RefreshResult{Assets: 2, Failed: 2}, err: boom}
	job := NewDepreciationRefreshJob(svc, quietLogger(), testMetrics())

	task, err := NewDepreciationRefreshTask(time.Now(), 0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestDepreciationRefreshRejectsBadPayload(t *testing.T) {
	job := NewDepreciationRefreshJob(&stubDepreciation{}, quietLogger(), testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskDepreciationRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *DepreciationRefreshJob
	require.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskDepreciationRefresh, nil)))
}

type recordingQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *recordingQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func eventTask(t *testing.T, evt shared.DomainEvent) *asynq.Task {
	t.Helper()
	task, err := NewDomainEventTask(evt)
	require.NoError(t, err)
	return task
}

func TestDomainEventFansOutReconciledCycle(t *testing.T) {
	queue := &recordingQueue{}
	job := NewDomainEventJob(queue, []string{"ops@example.com", " ", "audit@example.com"}, quietLogger(), testMetrics())

	evt := shared.DomainEvent{
		Type:       shared.EventCycleReconciled,
		Entity:     "audit_cycle",
		EntityID:   7,
		OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Data:       map[string]any{"title": "Q1 count", "discrepancies": 4},
	}
	require.NoError(t, job.Handle(context.Background(), eventTask(t, evt)))
	require.Len(t, queue.tasks, 2)

	var mail SendEmailPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &mail))
	require.Equal(t, "ops@example.com", mail.To)
	require.Equal(t, "Audit cycle 7 has 4 discrepancies", mail.Subject)
	require.Contains(t, mail.Body, "Q1 count")
}

func TestDomainEventSkipsQuietEvents(t *testing.T) {
	queue := &recordingQueue{}
	job := NewDomainEventJob(queue, []string{"ops@example.com"}, quietLogger(), testMetrics())

	clean := shared.DomainEvent{Type: shared.EventCycleReconciled, EntityID: 1, Data: map[string]any{"discrepancies": 0}}
	require.NoError(t, job.Handle(context.Background(), eventTask(t, clean)))
	revalued := shared.DomainEvent{Type: shared.EventAssetRevalued, EntityID: 2}
	require.NoError(t, job.Handle(context.Background(), eventTask(t, revalued)))
	require.Empty(t, queue.tasks)
}

func TestDomainEventRetiredAssetNotifies(t *testing.T) {
	queue := &recordingQueue{}
	job := NewDomainEventJob(queue, []string{"ops@example.com"}, quietLogger(), testMetrics())

	evt := shared.DomainEvent{Type: shared.EventAssetRetired, Entity: "asset", EntityID: 11, ActorID: 3}
	require.NoError(t, job.Handle(context.Background(), eventTask(t, evt)))
	require.Len(t, queue.tasks, 1)
	var mail SendEmailPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &mail))
	require.Equal(t, "Asset 11 retired after audit", mail.Subject)
}

func TestDomainEventEnqueueFailureRetries(t *testing.T) {
	boom := errors.New("redis down")
	job := NewDomainEventJob(&recordingQueue{err: boom}, []string{"ops@example.com"}, quietLogger(), testMetrics())
	evt := shared.DomainEvent{Type: shared.EventAssetDisposed, EntityID: 5}
	require.ErrorIs(t, job.Handle(context.Background(), eventTask(t, evt)), boom)
}

func TestDomainEventAlreadyQueuedMailIsNotAnError(t *testing.T) {
	job := NewDomainEventJob(&recordingQueue{err: asynq.ErrTaskIDConflict}, []string{"ops@example.com"}, quietLogger(), testMetrics())
	evt := shared.DomainEvent{Type: shared.EventAssetRetired, EntityID: 5}
	require.NoError(t, job.Handle(context.Background(), eventTask(t, evt)))
}

type recordingSender struct {
	sent []SendEmailPayload
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg SendEmailPayload) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestEmailJobSends(t *testing.T) {
	sender := &recordingSender{}
	job := NewEmailJob(sender, quietLogger(), testMetrics())

	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "hi", Body: "body"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, sender.sent, 1)

	empty, err := NewSendEmailTask(SendEmailPayload{Subject: "nobody"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), empty), asynq.SkipRetry)

	failing := NewEmailJob(&recordingSender{err: errors.New("smtp")}, quietLogger(), testMetrics())
	require.Error(t, failing.Handle(context.Background(), task))
}

func TestEmailJobWithoutSenderDrops(t *testing.T) {
	job := NewEmailJob(nil, quietLogger(), testMetrics())
	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestNewMailerDisabledWithoutHost(t *testing.T) {
	require.Nil(t, NewMailer(MailerConfig{}))
	mailer := NewMailer(MailerConfig{Host: "localhost", From: "assets@example.com"})
	require.NotNil(t, mailer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, mailer.Send(ctx, SendEmailPayload{To: "x@example.com"}), context.Canceled)
}

func TestHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, quietLogger())
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
}
