package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogIdentity(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "**ice", LogIdentity(ctx, "alice"))
	assert.Equal(t, "alice", LogIdentity(WithVerbose(ctx, true), "alice"))
}

func TestLogBody(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "[hidden 5 bytes]", LogBody(ctx, "hello"))
	assert.Equal(t, "hello", LogBody(WithVerbose(ctx, true), "hello"))
	assert.False(t, IsVerboseLogging(ctx))
}
