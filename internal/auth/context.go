package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxEmail
)

// Identity is the authenticated browser user.
type Identity struct {
	UserID string
	Email  string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxEmail, id.Email)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("auth: user id not in context")
}

func Email(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxEmail).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("auth: email not in context")
}
