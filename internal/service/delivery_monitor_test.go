package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"relaybox/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestDeliveryMonitor_ExportsStaleCount(t *testing.T) {
	store := &mockStore{}
	store.On("GetStalePendingCount", mock.Anything, time.Hour).Return(4, nil).Once()

	m := NewDeliveryMonitor(store, time.Minute, time.Hour, quietLogger())
	m.checkStaleMessages(context.Background())

	assert.Equal(t, float64(4), metrics.GetRegistry().GaugeValue("mailbox_stale_pending", nil))
	store.AssertExpectations(t)
}

func TestDeliveryMonitor_StoreErrorKeepsGauge(t *testing.T) {
	store := &mockStore{}
	store.On("GetStalePendingCount", mock.Anything, time.Hour).Return(1, nil).Once()
	store.On("GetStalePendingCount", mock.Anything, time.Hour).Return(0, errors.New("locked")).Once()

	m := NewDeliveryMonitor(store, time.Minute, time.Hour, quietLogger())
	m.checkStaleMessages(context.Background())
	m.checkStaleMessages(context.Background())

	assert.Equal(t, float64(1), metrics.GetRegistry().GaugeValue("mailbox_stale_pending", nil))
}

func TestDeliveryMonitor_TicksUntilStopped(t *testing.T) {
	store := &mockStore{}
	ticked := make(chan struct{}, 1)
	store.On("GetStalePendingCount", mock.Anything, time.Hour).Return(0, nil).
		Run(func(mock.Arguments) {
			select {
			case ticked <- struct{}{}:
			default:
			}
		})

	m := NewDeliveryMonitor(store, 10*time.Millisecond, time.Hour, quietLogger())
	stopped := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(stopped)
	}()

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never checked the store")
	}

	m.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestDeliveryMonitor_StopIsIdempotent(t *testing.T) {
	m := NewDeliveryMonitor(&mockStore{}, time.Minute, time.Hour, quietLogger())
	assert.NotPanics(t, func() {
		m.Stop()
		m.Stop()
	})
}

func TestDeliveryMonitor_TracksLastCount(t *testing.T) {
	store := &mockStore{}
	store.On("GetStalePendingCount", mock.Anything, time.Hour).Return(3, nil).Once()
	store.On("GetStalePendingCount", mock.Anything, time.Hour).Return(0, nil).Once()

	m := NewDeliveryMonitor(store, time.Minute, time.Hour, quietLogger())
	m.checkStaleMessages(context.Background())
	assert.Equal(t, 3, m.lastCount)

	m.checkStaleMessages(context.Background())
	assert.Equal(t, 0, m.lastCount)
	assert.Equal(t, float64(0), metrics.GetRegistry().GaugeValue("mailbox_stale_pending", nil))
}
