package authctx

import (
	"context"
)

type ctxKeyCustomerID struct{}

var customerIDKey = ctxKeyCustomerID{}

// WithCustomerID сохраняет customer_id в контексте (используется HTTP middleware)
func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, customerIDKey, id)
}

// CustomerIDFromContext возвращает customer_id из контекста, если он был установлен
func CustomerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerIDKey).(string)
	return id, ok
}
