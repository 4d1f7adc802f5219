package service

import (
	"context"
	"time"

	apperrors "relaybox/internal/errors"
	"relaybox/internal/models"
	"relaybox/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// MailboxStore is the durable store both delivery paths share
type MailboxStore interface {
	Append(ctx context.Context, sender, recipient, body string) (*models.Message, error)
	FetchPending(ctx context.Context, recipient string) ([]*models.Message, error)
	MarkDelivered(ctx context.Context, recipient string, ids []int64, via models.DeliveryPath) (int, error)
	FetchAndMark(ctx context.Context, recipient string) ([]*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	CountPending(ctx context.Context, recipient string) (int, error)
	GetStalePendingCount(ctx context.Context, threshold time.Duration) (int, error)
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
	Ping(ctx context.Context) error
}

// GuardedStore fails fast with StoreUnavailable while the store keeps failing.
// Only StoreUnavailable errors count against the breaker.
type GuardedStore struct {
	store   MailboxStore
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStore wraps store with a circuit breaker that opens after maxFailures
// consecutive StoreUnavailable errors and tries again after openTimeout.
func NewGuardedStore(store MailboxStore, maxFailures uint32, openTimeout time.Duration, logger *logrus.Logger) *GuardedStore {
	return &GuardedStore{
		store: store,
		breaker: circuitbreaker.NewWithOptions("mailbox_store", maxFailures, openTimeout, circuitbreaker.Options{
			IsFailure: apperrors.IsStoreUnavailable,
			Logger:    logger,
		}),
	}
}

// BreakerStats exposes the breaker state for the health endpoint
func (g *GuardedStore) BreakerStats() circuitbreaker.Stats {
	stats := g.breaker.GetStats()
	stats.State = g.breaker.GetState()
	return stats
}

func (g *GuardedStore) guard(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := g.breaker.Execute(ctx, fn)
	if circuitbreaker.IsCircuitBreakerError(err) {
		return apperrors.NewStoreUnavailable(operation, err).WithContext("circuit", "open")
	}
	return err
}

func (g *GuardedStore) Append(ctx context.Context, sender, recipient, body string) (*models.Message, error) {
	var msg *models.Message
	err := g.guard(ctx, "append", func(ctx context.Context) error {
		var err error
		msg, err = g.store.Append(ctx, sender, recipient, body)
		return err
	})
	return msg, err
}

func (g *GuardedStore) FetchPending(ctx context.Context, recipient string) ([]*models.Message, error) {
	var messages []*models.Message
	err := g.guard(ctx, "fetch_pending", func(ctx context.Context) error {
		var err error
		messages, err = g.store.FetchPending(ctx, recipient)
		return err
	})
	return messages, err
}

func (g *GuardedStore) MarkDelivered(ctx context.Context, recipient string, ids []int64, via models.DeliveryPath) (int, error) {
	var marked int
	err := g.guard(ctx, "mark_delivered", func(ctx context.Context) error {
		var err error
		marked, err = g.store.MarkDelivered(ctx, recipient, ids, via)
		return err
	})
	return marked, err
}

func (g *GuardedStore) FetchAndMark(ctx context.Context, recipient string) ([]*models.Message, error) {
	var messages []*models.Message
	err := g.guard(ctx, "fetch_and_mark", func(ctx context.Context) error {
		var err error
		messages, err = g.store.FetchAndMark(ctx, recipient)
		return err
	})
	return messages, err
}

func (g *GuardedStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var msg *models.Message
	err := g.guard(ctx, "get_message", func(ctx context.Context) error {
		var err error
		msg, err = g.store.GetMessage(ctx, id)
		return err
	})
	return msg, err
}

func (g *GuardedStore) CountPending(ctx context.Context, recipient string) (int, error) {
	var count int
	err := g.guard(ctx, "count_pending", func(ctx context.Context) error {
		var err error
		count, err = g.store.CountPending(ctx, recipient)
		return err
	})
	return count, err
}

// GetStalePendingCount and CleanupOldRecords are background work and bypass the breaker
func (g *GuardedStore) GetStalePendingCount(ctx context.Context, threshold time.Duration) (int, error) {
	return g.store.GetStalePendingCount(ctx, threshold)
}

func (g *GuardedStore) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	return g.store.CleanupOldRecords(ctx, retentionDays)
}

func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}
