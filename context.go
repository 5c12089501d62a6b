package xembed

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type ctxKey string

const (
	codecCtxKey       ctxKey = "xembed:codec"
	loggerCtxKey      ctxKey = "xembed:logger"
	clockCtxKey       ctxKey = "xembed:clock"
	identityCtxKey    ctxKey = "xembed:identity"
	sendTimeoutCtxKey ctxKey = "xembed:send_timeout"
)

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext retrieves the codec of the embedding context that
// dispatched the message.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	if v := ctx.Value(codecCtxKey); v != nil {
		if c, ok := v.(Codec); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext returns the experience identity a message was routed to.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityCtxKey).(string)
	return id, ok && id != ""
}

// withSendTimeout carries an experience's own reply timeout through the
// control frame it delegates to.
func withSendTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, sendTimeoutCtxKey, d)
}

func sendTimeoutFromContext(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(sendTimeoutCtxKey).(time.Duration)
	return d, ok && d > 0
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectCodec(ctx, codec)
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return ctx
}
