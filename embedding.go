package xembed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.uber.org/multierr"
)

// runtime is the per-context machinery shared by every frame.
type runtime struct {
	host         Host
	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	sendTimeout  time.Duration
	frameTimeout time.Duration
	verifyOrigin bool

	metrics      *contextMetrics
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	originsMu sync.RWMutex
	origins   map[string]struct{}
}

type contextMetrics struct {
	experiences  atomic.Uint64
	sent         atomic.Uint64
	replied      atomic.Uint64
	timedOut     atomic.Uint64
	relayed      atomic.Uint64
	acknowledged atomic.Uint64
	dropped      atomic.Uint64
	unrecognized atomic.Uint64
	errors       atomic.Uint64
	roundTripNs  atomic.Int64
}

// notify dispatches e to observers through the pool, or inline when the
// context runs without one.
func (rt *runtime) notify(e Event) {
	rt.observersMu.RLock()
	if len(rt.observers) == 0 {
		rt.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(rt.observers))
	copy(observers, rt.observers)
	rt.observersMu.RUnlock()

	if rt.observerPool != nil {
		rt.observerPool.Notify(e, observers)
		return
	}
	for _, o := range observers {
		o.OnEvent(e)
	}
}

// recordRoundTrip keeps an exponential moving average of reply latency.
func (rt *runtime) recordRoundTrip(d time.Duration) {
	const alpha = 0.2
	ns := d.Nanoseconds()
	current := rt.metrics.roundTripNs.Load()
	if current == 0 {
		rt.metrics.roundTripNs.Store(ns)
		return
	}
	rt.metrics.roundTripNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

func (rt *runtime) allowOrigin(rawURL string) {
	origin := OriginOf(rawURL)
	if origin == "" {
		return
	}
	rt.originsMu.Lock()
	rt.origins[origin] = struct{}{}
	rt.originsMu.Unlock()
}

// acceptOrigin applies the optional allow-list. Deliveries without an
// origin are accepted: the host could not tell.
func (rt *runtime) acceptOrigin(origin string) bool {
	if !rt.verifyOrigin || origin == "" {
		return true
	}
	rt.originsMu.RLock()
	_, ok := rt.origins[origin]
	rt.originsMu.RUnlock()
	return ok
}

// EmbeddingContext owns the identity namespace, the event manager and the
// control frame shared by the experiences it embeds. Contexts are fully
// isolated from each other.
type EmbeddingContext struct {
	rt           *runtime
	contextID    string
	identities   *IdentitySet
	eventManager *EventManager
	onChange     ChangeHandler

	controlMu      sync.Mutex
	control        *controlExperience
	controlOptions *ControlOptions

	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *EmbeddingContext) ContextID() string           { return c.contextID }
func (c *EmbeddingContext) EventManager() *EventManager { return c.eventManager }
func (c *EmbeddingContext) Identities() *IdentitySet    { return c.identities }

// BuildControlOptions returns the control options of this context, mounting
// the control frame on first use. Later calls return the same options
// whatever URL they pass.
func (c *EmbeddingContext) BuildControlOptions(ctx context.Context, experienceURL string) (*ControlOptions, error) {
	if c.closed.Load() {
		return nil, ErrContextClosed
	}
	c.controlMu.Lock()
	defer c.controlMu.Unlock()

	if c.controlOptions != nil {
		return c.controlOptions, nil
	}

	ce, err := buildControlExperience(ctx, c.rt, c.contextID, experienceURL, c.eventManager, c.identities, c.onChange)
	if err != nil {
		return nil, err
	}
	c.rt.allowOrigin(ce.frame.URL())
	c.control = ce
	c.controlOptions = &ControlOptions{
		ContextID:          c.contextID,
		EventManager:       c.eventManager,
		Timeout:            c.rt.frameTimeout,
		SendToControlFrame: ce.send,
	}
	return c.controlOptions, nil
}

// ControlFrame returns the control frame, nil before the first embed.
func (c *EmbeddingContext) ControlFrame() *Frame {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	if c.control == nil {
		return nil
	}
	return c.control.frame
}

func (c *EmbeddingContext) EmbedDashboard(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error) {
	return c.embed(ctx, ExperienceDashboard, frame, content)
}

func (c *EmbeddingContext) EmbedVisual(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error) {
	return c.embed(ctx, ExperienceVisual, frame, content)
}

func (c *EmbeddingContext) EmbedConsole(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error) {
	return c.embed(ctx, ExperienceConsole, frame, content)
}

func (c *EmbeddingContext) EmbedQSearchBar(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error) {
	return c.embed(ctx, ExperienceQSearch, frame, content)
}

func (c *EmbeddingContext) EmbedGenerativeQnA(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error) {
	return c.embed(ctx, ExperienceGenerativeQnA, frame, content)
}

func (c *EmbeddingContext) embed(ctx context.Context, kind ExperienceType, frame FrameOptions, content ContentOptions) (*Experience, error) {
	if c.closed.Load() {
		return nil, ErrContextClosed
	}
	if err := validateFrameOptions(frame); err != nil {
		return nil, err
	}
	// the control frame derives its URL from this one, so presence is
	// checked before it is built
	if err := c.checkPresence(frame); err != nil {
		return nil, err
	}
	control, err := c.BuildControlOptions(ctx, frame.URL)
	if err != nil {
		return nil, err
	}
	exp, err := newExperience(ctx, c.rt, c.identities, kind, frame, content, control)
	if err != nil {
		return nil, err
	}
	c.rt.allowOrigin(frame.URL)
	c.rt.metrics.experiences.Add(1)
	return exp, nil
}

func (c *EmbeddingContext) checkPresence(frame FrameOptions) error {
	fail := func(name ChangeEventName, err error) error {
		notifyChange(c.rt, frame.OnChange, "", nil, ChangeEvent{EventName: name, EventLevel: LevelError, Message: err.Error()})
		return err
	}
	if frame.Container == nil {
		return fail(ChangeNoContainer, ErrNoContainer)
	}
	if _, err := c.rt.resolveContainer(frame.Container); err != nil {
		return fail(ChangeInvalidContainer, err)
	}
	if frame.URL == "" {
		return fail(ChangeNoURL, ErrNoURL)
	}
	return nil
}

// AddObserver registers an observer (thread-safe).
func (c *EmbeddingContext) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.rt.observersMu.Lock()
	c.rt.observers = append(c.rt.observers, obs)
	c.rt.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (c *EmbeddingContext) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.rt.observersMu.Lock()
	defer c.rt.observersMu.Unlock()
	for i, o := range c.rt.observers {
		if o == obs {
			c.rt.observers = append(c.rt.observers[:i], c.rt.observers[i+1:]...)
			break
		}
	}
}

// GetMetrics returns current context metrics.
func (c *EmbeddingContext) GetMetrics() Metrics {
	m := c.rt.metrics
	var dropped uint64
	if c.rt.observerPool != nil {
		dropped = c.rt.observerPool.Stats().Dropped
	}
	return Metrics{
		Experiences:    m.experiences.Load(),
		Sent:           m.sent.Load(),
		Replied:        m.replied.Load(),
		TimedOut:       m.timedOut.Load(),
		Relayed:        m.relayed.Load(),
		Acknowledged:   m.acknowledged.Load(),
		Dropped:        m.dropped.Load(),
		Unrecognized:   m.unrecognized.Load(),
		Errors:         m.errors.Load(),
		EventsDropped:  dropped,
		AvgRoundTripMs: float64(m.roundTripNs.Load()) / 1e6,
	}
}

// Health reports degraded when more than 5% of sends time out.
func (c *EmbeddingContext) Health(ctx context.Context) HealthStatus {
	now := c.rt.clock.Now()
	if c.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "embedding context is closed"}
	}
	if cf := c.ControlFrame(); cf != nil && cf.Handle() == nil {
		return HealthStatus{Status: "unhealthy", Metrics: c.GetMetrics(), Timestamp: now, Message: "control frame removed"}
	}

	metrics := c.GetMetrics()
	status := "healthy"
	if metrics.Sent > 0 && float64(metrics.TimedOut)/float64(metrics.Sent) > 0.05 {
		status = "degraded"
	}
	return HealthStatus{Status: status, Metrics: metrics, Timestamp: now}
}

// Close disposes the control frame, stops the observer pool and closes the
// host. It is idempotent.
func (c *EmbeddingContext) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		if cf := c.ControlFrame(); cf != nil {
			cf.Dispose()
		}
		if c.rt.observerPool != nil {
			if err := c.rt.observerPool.Close(5 * time.Second); err != nil {
				c.rt.logger.Warn().Err(err).Msg("xembed: observer pool shutdown timeout")
				closeErr = multierr.Append(closeErr, err)
			}
		}
		if err := c.rt.host.Close(ctx); err != nil {
			c.rt.logger.Error().Err(err).Msg("xembed: host close failed")
			closeErr = multierr.Append(closeErr, err)
		}
	})
	return closeErr
}

func newContextID() string { return uuid.NewString() }
