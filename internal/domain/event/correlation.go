package event

import "context"

type correlationKey struct{}

// WithCorrelationID attaches the id a producer correlates its submission with:
// an AMQP correlation id or an HTTP request id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
