package redispubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xlog"
)

// Use connects a Redis pub/sub host and builds an EmbeddingContext on it.
// Like the other adapters it panics when the context cannot be built.
//
// Example:
//
//	ec, host := redispubsub.Use(redispubsub.Config{Addr: "localhost:6379", Prefix: "embed"},
//	    redispubsub.WithLogger(logger),
//	)
//	exp, err := ec.EmbedDashboard(ctx, xembed.FrameOptions{URL: url, Container: host.Body()}, nil)
func Use(cfg Config, opts ...Option) (*xembed.EmbeddingContext, *Host) {
	host, err := NewHost(withDefaults(cfg))
	if err != nil {
		panic(fmt.Errorf("redispubsub.Use: %w", err))
	}
	cb := xembed.NewContextBuilder().WithHost(host)

	for _, o := range opts {
		if o != nil {
			o(cb)
		}
	}
	ec, err := cb.Build()
	if err != nil {
		_ = host.Close(context.Background())
		panic(fmt.Errorf("redispubsub.Use: %w", err))
	}
	return ec, host
}

// withDefaults fills the zero fields of cfg.
func withDefaults(cfg Config) Config {
	return ConfigFromMap(cfg.toMap())
}

// Option configures the xembed.ContextBuilder when calling Use.
type Option func(*xembed.ContextBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xembed.ContextBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xembed.ContextBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *xembed.ContextBuilder) { b.WithCodec(name) }
}

// WithSendTimeout bounds correlated sends.
func WithSendTimeout(d time.Duration) Option {
	return func(b *xembed.ContextBuilder) { b.WithSendTimeout(d) }
}

// WithFrameTimeout bounds how long a page may take to announce itself.
func WithFrameTimeout(d time.Duration) Option {
	return func(b *xembed.ContextBuilder) { b.WithFrameTimeout(d) }
}

// WithObserver attaches observers for protocol events.
func WithObserver(obs ...xembed.Observer) Option {
	return func(b *xembed.ContextBuilder) { b.WithObserver(obs...) }
}

// WithOnChange receives the control frame diagnostics.
func WithOnChange(fn xembed.ChangeHandler) Option {
	return func(b *xembed.ContextBuilder) { b.WithOnChange(fn) }
}
