package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-assets/internal/depreciation"
	jobmetrics "github.com/odyssey-erp/odyssey-assets/internal/jobs"
)

const (
	// TaskDepreciationRefresh recomputes persisted depreciation schedules.
	TaskDepreciationRefresh = "depreciation:refresh"
)

// DepreciationRefreshPayload scopes a refresh run. AssetID zero means every
// depreciable asset.
type DepreciationRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	AssetID      int64     `json:"asset_id,omitempty"`
}

// DepreciationService is the part of depreciation.Service the job drives.
type DepreciationService interface {
	PersistSchedule(ctx context.Context, assetID, actorID int64) (depreciation.Schedule, error)
	RefreshAll(ctx context.Context, actorID int64) (depreciation.RefreshResult, error)
}

// DepreciationRefreshJob keeps stored schedules in line with asset master data.
type DepreciationRefreshJob struct {
	Service DepreciationService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDepreciationRefreshJob constructs the job handler.
func NewDepreciationRefreshJob(service DepreciationService, logger *slog.Logger, metrics *jobmetrics.Metrics) *DepreciationRefreshJob {
	return &DepreciationRefreshJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewDepreciationRefreshTask constructs an Asynq task for a refresh run.
func NewDepreciationRefreshTask(at time.Time, assetID int64) (*asynq.Task, error) {
	body, err := json.Marshal(DepreciationRefreshPayload{ScheduledFor: at, AssetID: assetID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDepreciationRefresh, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the refresh. Runs are attributed to the system actor (0).
func (j *DepreciationRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("depreciation refresh: service not configured")
	}
	var payload DepreciationRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track("depreciation_refresh")
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	if payload.AssetID > 0 {
		schedule, err := j.Service.PersistSchedule(ctx, payload.AssetID, 0)
		if err != nil {
			resultErr = err
			j.metrics().AddRevaluations(0, 1)
			j.log().Error("refresh asset schedule", slog.Int64("asset_id", payload.AssetID), slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddRevaluations(1, 0)
		j.log().Info("refreshed asset schedule", slog.Int64("asset_id", payload.AssetID), slog.Int("periods", len(schedule.Entries)))
		return resultErr
	}

	result, err := j.Service.RefreshAll(ctx, 0)
	j.metrics().AddRevaluations(result.Assets-result.Failed, result.Failed)
	if err != nil {
		resultErr = err
		j.log().Error("refresh depreciation schedules", slog.Int("assets", result.Assets), slog.Int("failed", result.Failed), slog.Any("error", err))
		return resultErr
	}
	j.log().Info("refreshed depreciation schedules",
		slog.Time("scheduled_for", payload.ScheduledFor),
		slog.Int("assets", result.Assets),
		slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *DepreciationRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DepreciationRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDepreciationRefresh))
	}
	return slog.Default().With(slog.String("job", TaskDepreciationRefresh))
}

func (j *DepreciationRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *DepreciationRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
