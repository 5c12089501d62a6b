package xembed

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ContextBuilder constructs EmbeddingContext instances (Builder pattern).
type ContextBuilder struct {
	hostName string
	hostCfg  map[string]any
	hostInst Host

	codecName string
	codecInst Codec

	observers       []Observer
	logger          *xlog.Logger
	clock           xclock.Clock
	onChange        ChangeHandler
	sendTimeout     time.Duration
	frameTimeout    time.Duration
	verifyOrigin    bool
	poolWorkers     int
	poolBuffer      int
	useObserverPool bool
}

// NewContextBuilder returns a new builder with sensible defaults.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{
		codecName:    "json",
		sendTimeout:  DefaultSendTimeout,
		frameTimeout: DefaultFrameTimeout,
	}
}

// WithHost accepts a ready Host instance (e.g., from adapter Use()).
func (cb *ContextBuilder) WithHost(h Host) *ContextBuilder {
	cb.hostInst = h
	return cb
}

// WithHostName resolves the host through the registry at Build time.
func (cb *ContextBuilder) WithHostName(name string, cfg map[string]any) *ContextBuilder {
	cb.hostName = name
	cb.hostCfg = cfg
	return cb
}

func (cb *ContextBuilder) WithCodec(name string) *ContextBuilder {
	cb.codecName = name
	return cb
}

// WithCodecInstance accepts a ready Codec instance.
func (cb *ContextBuilder) WithCodecInstance(c Codec) *ContextBuilder {
	cb.codecInst = c
	return cb
}

func (cb *ContextBuilder) WithObserver(obs ...Observer) *ContextBuilder {
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

// WithObserverPool dispatches observer events asynchronously.
func (cb *ContextBuilder) WithObserverPool(workers, bufferSize int) *ContextBuilder {
	cb.useObserverPool = true
	cb.poolWorkers = workers
	cb.poolBuffer = bufferSize
	return cb
}

func (cb *ContextBuilder) WithLogger(l *xlog.Logger) *ContextBuilder {
	cb.logger = l
	return cb
}

func (cb *ContextBuilder) WithClock(c xclock.Clock) *ContextBuilder {
	cb.clock = c
	return cb
}

// WithOnChange receives the diagnostics of the control frame.
func (cb *ContextBuilder) WithOnChange(fn ChangeHandler) *ContextBuilder {
	cb.onChange = fn
	return cb
}

func (cb *ContextBuilder) WithSendTimeout(d time.Duration) *ContextBuilder {
	if d > 0 {
		cb.sendTimeout = d
	}
	return cb
}

func (cb *ContextBuilder) WithFrameTimeout(d time.Duration) *ContextBuilder {
	if d > 0 {
		cb.frameTimeout = d
	}
	return cb
}

func (cb *ContextBuilder) WithVerifyOrigin(enabled bool) *ContextBuilder {
	cb.verifyOrigin = enabled
	return cb
}

// WithConfig applies a loaded Config. A host set with WithHost wins over
// Config.Host.
func (cb *ContextBuilder) WithConfig(cfg Config) *ContextBuilder {
	if cfg.Host != "" && cb.hostName == "" {
		cb.hostName = cfg.Host
	}
	if cfg.Codec != "" {
		cb.codecName = cfg.Codec
	}
	cb.WithSendTimeout(cfg.SendTimeout)
	cb.WithFrameTimeout(cfg.FrameTimeout)
	cb.verifyOrigin = cfg.VerifyOrigin
	if cfg.ObserverWorkers > 0 {
		cb.WithObserverPool(cfg.ObserverWorkers, cfg.ObserverBuffer)
	}
	return cb
}

func (cb *ContextBuilder) Build() (*EmbeddingContext, error) {
	var (
		h   Host
		err error
	)
	switch {
	case cb.hostInst != nil:
		h = cb.hostInst
	case cb.hostName != "":
		h, err = NewHost(cb.hostName, cb.hostCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoHostConfigured
	}

	var cd Codec
	if cb.codecInst != nil {
		cd = cb.codecInst
	} else {
		cd, err = NewCodec(cb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := cb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := cb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	rt := &runtime{
		host:         h,
		codec:        cd,
		clock:        clk,
		logger:       lg,
		sendTimeout:  cb.sendTimeout,
		frameTimeout: cb.frameTimeout,
		verifyOrigin: cb.verifyOrigin,
		metrics:      &contextMetrics{},
		origins:      make(map[string]struct{}),
	}
	if cb.useObserverPool {
		rt.observerPool = NewObserverPool(context.Background(), cb.poolWorkers, cb.poolBuffer)
	}

	c := &EmbeddingContext{
		rt:           rt,
		contextID:    newContextID(),
		identities:   NewIdentitySet(),
		eventManager: NewEventManager(),
		onChange:     cb.onChange,
	}

	hasLoggingObserver := false
	for _, o := range cb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		c.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range cb.observers {
		c.AddObserver(o)
	}

	return c, nil
}

// New constructs an EmbeddingContext via Builder and returns a close func for
// convenience.
func New(init func(b *ContextBuilder)) (*EmbeddingContext, func() error, error) {
	b := NewContextBuilder()
	if init != nil {
		init(b)
	}
	c, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return c.Close(context.Background()) }
	return c, closeFn, nil
}
