package auth

import "context"

type userContextKey struct{}
type tokenContextKey struct{}

type userInfo struct {
	id    string
	email string
}

// ContextWithUser attaches the authenticated learner to the context.
func ContextWithUser(ctx context.Context, userID, email string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userInfo{id: userID, email: email})
}

// UserIDFromContext extracts the authenticated learner id from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok || v.id == "" {
		return "", false
	}
	return v.id, true
}

// EmailFromContext returns the authenticated learner's email, if known.
func EmailFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok || v.email == "" {
		return "", false
	}
	return v.email, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
