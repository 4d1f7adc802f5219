package service

import (
	"context"

	"relaybox/internal/privacy"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so identities and bodies are logged unmasked
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogIdentity returns identity as it may appear in logs for ctx
func LogIdentity(ctx context.Context, identity string) string {
	if IsVerboseLogging(ctx) {
		return identity
	}
	return privacy.MaskIdentity(identity)
}

// LogBody returns a body as it may appear in logs for ctx
func LogBody(ctx context.Context, body string) string {
	if IsVerboseLogging(ctx) {
		return body
	}
	return privacy.MaskBody(body)
}
