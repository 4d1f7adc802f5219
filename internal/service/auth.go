package service

import (
	"context"
	"errors"
	"time"

	apperrors "relaybox/internal/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Authorizer decides whether the bearer of token may act as identity.
// It runs before post, poll and live registration.
type Authorizer interface {
	Authorize(ctx context.Context, token, identity string) error
}

// AllowAll accepts every caller. It is the default when no secret is configured.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string) error { return nil }

// JWTAuthorizer accepts HS256 tokens whose subject equals the acting identity
type JWTAuthorizer struct {
	secret []byte
	issuer string
}

// NewJWTAuthorizer creates an authorizer for tokens signed with secret.
// A non-empty issuer must match the token's iss claim.
func NewJWTAuthorizer(secret, issuer string) *JWTAuthorizer {
	return &JWTAuthorizer{secret: []byte(secret), issuer: issuer}
}

// NewAuthorizer returns a JWTAuthorizer when secret is set and AllowAll otherwise
func NewAuthorizer(secret, issuer string) Authorizer {
	if secret == "" {
		return AllowAll{}
	}
	return NewJWTAuthorizer(secret, issuer)
}

func (a *JWTAuthorizer) Authorize(_ context.Context, token, identity string) error {
	if token == "" {
		return apperrors.NewAuthError("missing bearer token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return apperrors.NewAuthError(reason)
	}

	if claims.Subject != identity {
		return apperrors.NewForbiddenError(identity)
	}
	return nil
}

// IssueToken signs a token for subject valid for ttl
func (a *JWTAuthorizer) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
