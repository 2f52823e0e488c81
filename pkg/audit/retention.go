package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veridata/fieldgate/pkg/observability"
)

// RetentionJob trims the live audit trail on a schedule, archiving expired
// entries first when archiving is enabled.
type RetentionJob struct {
	writer   *DBWriter
	policy   RetentionPolicy
	archiver Archiver
	logger   *observability.Logger
	metrics  *observability.Metrics
	cron     *cron.Cron
}

// NewRetentionJob creates a retention job. archiver may be nil when the
// policy has archiving disabled; metrics may be nil.
func NewRetentionJob(writer *DBWriter, policy RetentionPolicy, archiver Archiver, logger *observability.Logger, metrics *observability.Metrics) *RetentionJob {
	return &RetentionJob{
		writer:   writer,
		policy:   policy,
		archiver: archiver,
		logger:   logger,
		metrics:  metrics,
		cron:     cron.New(),
	}
}

// Start schedules the cleanup according to the cron expression and begins
// running it. Stop must be called on shutdown.
func (j *RetentionJob) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, func() {
		defer observability.RecoverPanic(j.logger, "audit retention")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		removed, err := j.RunOnce(ctx)
		if err != nil {
			j.logger.WithError(err).Error("audit retention cleanup failed")
			return
		}
		if removed > 0 {
			j.logger.WithField("removed", removed).Info("audit retention cleanup completed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}

	j.cron.Start()
	return nil
}

// RunOnce performs a single cleanup pass
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	removed, err := j.writer.Cleanup(ctx, j.policy, j.archiver)
	if err != nil {
		return 0, err
	}
	j.metrics.RecordAuditTrimmed(removed)
	return removed, nil
}

// Stop halts the schedule and waits for a running pass to finish
func (j *RetentionJob) Stop() {
	<-j.cron.Stop().Done()
}
