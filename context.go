package trustcore

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. [Engine.Login]
// uses it for per-IP throttling and audit details when no explicit IP
// argument is given; transport middleware typically sets it once per
// request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
