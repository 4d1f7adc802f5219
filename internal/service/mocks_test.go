package service

import (
	"context"
	"sync"
	"time"

	apperrors "relaybox/internal/errors"
	"relaybox/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Append(ctx context.Context, sender, recipient, body string) (*models.Message, error) {
	args := m.Called(ctx, sender, recipient, body)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) FetchPending(ctx context.Context, recipient string) ([]*models.Message, error) {
	args := m.Called(ctx, recipient)
	if messages := args.Get(0); messages != nil {
		return messages.([]*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) MarkDelivered(ctx context.Context, recipient string, ids []int64, via models.DeliveryPath) (int, error) {
	args := m.Called(ctx, recipient, ids, via)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) FetchAndMark(ctx context.Context, recipient string) ([]*models.Message, error) {
	args := m.Called(ctx, recipient)
	if messages := args.Get(0); messages != nil {
		return messages.([]*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	args := m.Called(ctx, id)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) CountPending(ctx context.Context, recipient string) (int, error) {
	args := m.Called(ctx, recipient)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetStalePendingCount(ctx context.Context, threshold time.Duration) (int, error) {
	args := m.Called(ctx, threshold)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// fakeChannel is a presence.Channel whose Deliver outcome is scripted
type fakeChannel struct {
	identity string

	mu        sync.Mutex
	closed    bool
	delivered []int64
	// deliverFn decides the outcome; nil acknowledges immediately
	deliverFn func(ctx context.Context, msg *models.Message) error
}

func newFakeChannel(identity string) *fakeChannel {
	return &fakeChannel{identity: identity}
}

func (f *fakeChannel) Identity() string { return f.identity }

func (f *fakeChannel) Deliver(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	fn := f.deliverFn
	f.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.delivered = append(f.delivered, msg.ID)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) Delivered() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.delivered...)
}

// blockUntilTimeout simulates a dead peer that never acks
func blockUntilTimeout(ctx context.Context, _ *models.Message) error {
	<-ctx.Done()
	return apperrors.NewTimeoutError("live forward", "ack timeout")
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testMessage(id int64, sender, recipient, body string) *models.Message {
	return &models.Message{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Status:    models.MessageStatusPending,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
