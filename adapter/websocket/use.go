package websocket

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xlog"
)

// Use builds an EmbeddingContext on a fresh websocket host and returns both.
// Mount the host on an HTTP server so frame pages can connect.
//
// Example:
//
//	ec, host := websocket.Use(websocket.Config{BasePath: "/frames/"},
//	    websocket.WithLogger(logger),
//	)
//	r.Get("/frames/{frameID}", func(w http.ResponseWriter, r *http.Request) {
//	    host.ServeFrame(w, r, chi.URLParam(r, "frameID"))
//	})
func Use(cfg Config, opts ...Option) (*xembed.EmbeddingContext, *Host) {
	host := NewHost(cfg)
	cb := xembed.NewContextBuilder().WithHost(host)

	for _, o := range opts {
		if o != nil {
			o(cb, host)
		}
	}

	ec, err := cb.Build()
	if err != nil {
		panic(fmt.Errorf("websocket.Use: %w", err))
	}
	return ec, host
}

// toMap converts Config to the generic map expected by the host factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"base_path":     c.BasePath,
		"buffer_size":   c.BufferSize,
		"send_buffer":   c.SendBuffer,
		"write_timeout": c.WriteTimeout,
		"read_limit":    c.ReadLimit,
		"no_body":       c.NoBody,
	}
}

// Option configures the xembed.ContextBuilder and the host when calling Use.
type Option func(*xembed.ContextBuilder, *Host)

// WithLogger injects a custom xlog logger into the context and the host.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xembed.ContextBuilder, h *Host) {
		b.WithLogger(l)
		h.SetLogger(l)
	}
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithClock(c) }
}

// WithConfig applies a loaded xembed.Config to the context.
func WithConfig(cfg xembed.Config) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithConfig(cfg) }
}

// WithSendTimeout bounds correlated sends (default: 5s).
func WithSendTimeout(d time.Duration) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithSendTimeout(d) }
}

// WithFrameTimeout bounds how long a frame page may take to connect (default: 60s).
func WithFrameTimeout(d time.Duration) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithFrameTimeout(d) }
}

// WithVerifyOrigin drops window messages from origins the context never embedded.
func WithVerifyOrigin(on bool) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithVerifyOrigin(on) }
}

// WithObserver attaches observers for protocol events.
func WithObserver(obs ...xembed.Observer) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithObserverPool(workers, bufferSize) }
}

// WithOnChange receives the control frame diagnostics.
func WithOnChange(fn xembed.ChangeHandler) Option {
	return func(b *xembed.ContextBuilder, _ *Host) { b.WithOnChange(fn) }
}
