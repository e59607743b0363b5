package context

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	orderIDKey
	ingressKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithOrderID tags the context with the order being mutated.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

func OrderIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(orderIDKey).(string)
	return v
}

// WithIngress records which entry point (webhook, serverless, settle) is
// applying a payment.
func WithIngress(ctx context.Context, ingress string) context.Context {
	return context.WithValue(ctx, ingressKey, ingress)
}

func IngressFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ingressKey).(string)
	return v
}
