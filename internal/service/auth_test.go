package service

import (
	"context"
	"testing"
	"time"

	apperrors "relaybox/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthorizer_IssuedTokenAuthorizesSubject(t *testing.T) {
	auth := NewJWTAuthorizer("s3cret", "relaybox")

	token, err := auth.IssueToken("alice", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, auth.Authorize(context.Background(), token, "alice"))
}

func TestJWTAuthorizer_Rejections(t *testing.T) {
	auth := NewJWTAuthorizer("s3cret", "relaybox")
	ctx := context.Background()

	valid, err := auth.IssueToken("alice", time.Minute)
	require.NoError(t, err)
	expired, err := auth.IssueToken("alice", -time.Minute)
	require.NoError(t, err)
	otherKey, err := NewJWTAuthorizer("different", "relaybox").IssueToken("alice", time.Minute)
	require.NoError(t, err)
	otherIssuer, err := NewJWTAuthorizer("s3cret", "elsewhere").IssueToken("alice", time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", Issuer: "relaybox"}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		identity string
		code     apperrors.ErrorCode
		reason   string
	}{
		{"missing token", "", "alice", apperrors.ErrCodeAuthentication, "missing bearer token"},
		{"garbage", "not-a-jwt", "alice", apperrors.ErrCodeAuthentication, "invalid token"},
		{"expired", expired, "alice", apperrors.ErrCodeAuthentication, "token expired"},
		{"wrong key", otherKey, "alice", apperrors.ErrCodeAuthentication, "invalid token"},
		{"wrong issuer", otherIssuer, "alice", apperrors.ErrCodeAuthentication, "invalid token"},
		{"no expiry", noExpiry, "alice", apperrors.ErrCodeAuthentication, "invalid token"},
		{"other identity", valid, "bob", apperrors.ErrCodeAuthorization, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.Authorize(ctx, tt.token, tt.identity)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
			if tt.reason != "" {
				appErr, ok := apperrors.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.reason, appErr.Context["reason"])
			}
		})
	}
}

func TestNewAuthorizer(t *testing.T) {
	assert.IsType(t, AllowAll{}, NewAuthorizer("", ""))
	assert.IsType(t, &JWTAuthorizer{}, NewAuthorizer("s3cret", ""))

	assert.NoError(t, AllowAll{}.Authorize(context.Background(), "", "anyone"))
}
