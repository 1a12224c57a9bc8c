package directory

import (
	"context"
	"errors"
	"strings"
)

// TokenProvider returns the bearer credential for a directory service call.
// Obtaining the credential is the job of the caller's auth collaborator.
type TokenProvider func(ctx context.Context) (string, error)

// ErrNoToken is returned when no bearer credential is available.
var ErrNoToken = errors.New("no directory service token available")

type tokenKey struct{}

// WithToken returns a context carrying the initiating user's bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token stored by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// StaticToken always returns the same token.
func StaticToken(token string) TokenProvider {
	token = strings.TrimSpace(token)
	return func(ctx context.Context) (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
}

// ContextToken prefers the token carried in the request context and falls back
// to the given provider (which may be nil).
func ContextToken(fallback TokenProvider) TokenProvider {
	return func(ctx context.Context) (string, error) {
		if token, ok := TokenFromContext(ctx); ok {
			return token, nil
		}
		if fallback == nil {
			return "", ErrNoToken
		}
		return fallback(ctx)
	}
}
