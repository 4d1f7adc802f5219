package service

import (
	"context"
	"sync"
	"time"

	"relaybox/internal/constants"
	"relaybox/internal/metrics"

	"github.com/sirupsen/logrus"
)

// RecordCleaner purges delivered messages past the retention window
type RecordCleaner interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
}

// Scheduler purges delivered messages once at startup and then every intervalHours.
// Pending messages are never purged, whatever their age.
type Scheduler struct {
	cleaner       RecordCleaner
	retentionDays int
	intervalHours int
	logger        *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewScheduler(cleaner RecordCleaner, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"retention_days": s.retentionDays,
		"interval_hours": s.intervalHours,
	}).Info("Starting retention scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// Stop is safe to call more than once
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	deleted, err := s.cleaner.CleanupOldRecords(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Retention cleanup failed")
		return
	}

	metrics.AddToCounter("mailbox_purged_total", float64(deleted), nil, "Delivered messages removed by retention cleanup")
	if deleted > 0 {
		s.logger.WithFields(logrus.Fields{
			LogFieldCount:    deleted,
			"retention_days": s.retentionDays,
		}).Info("Purged delivered messages past retention")
	}
}
