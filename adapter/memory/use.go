package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xlog"
)

// Use builds an EmbeddingContext on a fresh memory host and returns both.
// Mirrors redispubsub.Use and the xlog "Use" pattern: explicit construction,
// no process-wide default.
//
// Example:
//
//	ec, host := memory.Use(memory.Config{AutoLoad: true},
//	    memory.WithLogger(logger),
//	    memory.WithSendTimeout(time.Second),
//	)
func Use(cfg Config, opts ...Option) (*xembed.EmbeddingContext, *Host) {
	host := NewHost(cfg)
	cb := xembed.NewContextBuilder().WithHost(host)

	for _, o := range opts {
		if o != nil {
			o(cb)
		}
	}

	ec, err := cb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return ec, host
}

// toMap converts Config to the generic map expected by the host factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size": c.BufferSize,
		"auto_load":   c.AutoLoad,
		"load_delay":  c.LoadDelay,
		"no_body":     c.NoBody,
	}
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

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xembed.ContextBuilder) { b.WithCodec(name) }
}

// WithSendTimeout bounds correlated sends (default: 5s).
func WithSendTimeout(d time.Duration) Option {
	return func(b *xembed.ContextBuilder) { b.WithSendTimeout(d) }
}

// WithFrameTimeout bounds frame loading (default: 60s).
func WithFrameTimeout(d time.Duration) Option {
	return func(b *xembed.ContextBuilder) { b.WithFrameTimeout(d) }
}

// WithObserver attaches observers for protocol events.
func WithObserver(obs ...xembed.Observer) Option {
	return func(b *xembed.ContextBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xembed.ContextBuilder) { b.WithObserverPool(workers, bufferSize) }
}

// WithOnChange receives the control frame diagnostics.
func WithOnChange(fn xembed.ChangeHandler) Option {
	return func(b *xembed.ContextBuilder) { b.WithOnChange(fn) }
}
