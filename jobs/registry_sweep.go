package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lgu-emis/emis-web/internal/jobmetrics"
)

// IdleSweeper closes registry rows whose sessions have been idle since before cutoff.
type IdleSweeper interface {
	SweepIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// RegistrySweepJob marks sessions that outlived their TTL as expired.
type RegistrySweepJob struct {
	Registry IdleSweeper
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewRegistrySweepJob wires dependencies for the sweep handler.
func NewRegistrySweepJob(registry IdleSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *RegistrySweepJob {
	return &RegistrySweepJob{
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskRegistrySweep tasks.
func (j *RegistrySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Registry == nil {
		return errors.New("registry sweep: handler not configured")
	}
	var payload RegistrySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.IdleAfter <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskRegistrySweep)
	closed, err := j.Registry.SweepIdle(ctx, j.clock().Add(-payload.IdleAfter))
	if err != nil {
		j.logger().Error("sweep idle sessions", slog.Any("error", err))
		return tracker.End(err)
	}
	if closed > 0 {
		j.logger().Info("closed idle sessions", slog.Int64("count", closed))
	}
	return tracker.End(nil)
}

func (j *RegistrySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
