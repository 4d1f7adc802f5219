package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"wrapped busy", fmt.Errorf("append: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"plain locked message", errors.New("database is locked"), true},
		{"no such table", errors.New("no such table: messages"), false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableDBError(tt.err))
		})
	}
}

func TestRetryableDBOperation_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := retryableDBOperation(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestRetryableDBOperation_NonRetryableError(t *testing.T) {
	callCount := 0
	err := retryableDBOperation(context.Background(), func() error {
		callCount++
		return errors.New("UNIQUE constraint failed")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestRetryableDBOperation_ExhaustsAttempts(t *testing.T) {
	callCount := 0
	err := retryableDBOperation(context.Background(), func() error {
		callCount++
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, callCount)
}
