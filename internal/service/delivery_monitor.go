package service

import (
	"context"
	"sync"
	"time"

	"relaybox/internal/metrics"

	"github.com/sirupsen/logrus"
)

// StaleMessageCounter counts pending messages older than a threshold
type StaleMessageCounter interface {
	GetStalePendingCount(ctx context.Context, threshold time.Duration) (int, error)
}

// DeliveryMonitor exports how many messages have waited in a mailbox longer than
// the stale threshold. A growing gauge means recipients stopped polling.
type DeliveryMonitor struct {
	store          StaleMessageCounter
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *logrus.Logger

	stopOnce  sync.Once
	stopCh    chan struct{}
	lastCount int
}

func NewDeliveryMonitor(store StaleMessageCounter, checkInterval, staleThreshold time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	return &DeliveryMonitor{
		store:          store,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start checks on every tick until ctx is done or Stop is called
func (m *DeliveryMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stale_threshold": m.staleThreshold,
	}).Info("Starting delivery monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkStaleMessages(ctx)
		}
	}
}

// Stop is safe to call more than once
func (m *DeliveryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// checkStaleMessages keeps the previous gauge value when the store cannot answer.
// It warns only when the stale count grows so a steady backlog does not flood the log.
func (m *DeliveryMonitor) checkStaleMessages(ctx context.Context) {
	start := time.Now()
	count, err := m.store.GetStalePendingCount(ctx, m.staleThreshold)
	metrics.RecordTimer("delivery_monitor_check_duration", time.Since(start), nil, "Time spent counting stale pending messages")
	if err != nil {
		m.logger.WithError(err).Error("Failed to check for stale pending messages")
		return
	}

	metrics.SetGauge("mailbox_stale_pending", float64(count), nil, "Pending messages older than the stale threshold")

	fields := logrus.Fields{
		"stale_count": count,
		"threshold":   m.staleThreshold,
	}
	switch {
	case count > m.lastCount:
		m.logger.WithFields(fields).Warn("Messages waiting in mailboxes past the stale threshold")
	case count == 0 && m.lastCount > 0:
		m.logger.WithFields(fields).Info("Stale mailbox backlog cleared")
	}
	m.lastCount = count
}
