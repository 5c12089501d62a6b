package xembed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSendTimeout bounds the wait for a correlated reply.
	DefaultSendTimeout = 5 * time.Second
	// DefaultFrameTimeout bounds the wait for a frame's load event.
	DefaultFrameTimeout = 60 * time.Second
)

// ControlOptions is what an embedding context hands to every experience it
// creates: the shared event manager and the channel to the control frame.
type ControlOptions struct {
	ContextID    string
	EventManager *EventManager
	// Timeout bounds frame creation.
	Timeout time.Duration
	// SendToControlFrame, when set, carries every outbound message.
	SendToControlFrame SendFunc
}

// frameConfig is everything newFrame needs to mount one frame.
type frameConfig struct {
	elementID       string
	identity        string
	src             string
	container       any
	width           string
	height          string
	className       string
	style           string
	withPlaceholder bool
	onChange        ChangeHandler
	sendTimeout     time.Duration
	createTimeout   time.Duration
	controlSend     SendFunc
	eventManager    *EventManager
}

// Frame owns one embedded frame: its creation, its removal and the
// request/response correlation of messages sent to it.
type Frame struct {
	rt  *runtime
	cfg frameConfig

	origin string

	mu          sync.Mutex
	handle      FrameHandle
	container   Element
	observer    Subscription
	createTimer *time.Timer
	loaded      bool
	disposed    bool
	disposeOnce sync.Once
}

func newFrame(ctx context.Context, rt *runtime, cfg frameConfig) (*Frame, error) {
	f := &Frame{rt: rt, cfg: cfg, origin: OriginOf(baseURL(cfg.src))}

	if cfg.container == nil {
		f.emitChange(ChangeNoContainer, LevelError, ErrNoContainer.Error(), nil)
		return nil, ErrNoContainer
	}
	container, err := f.resolveContainer(cfg.container)
	if err != nil {
		f.emitChange(ChangeInvalidContainer, LevelError, err.Error(), nil)
		return nil, err
	}
	if cfg.src == "" {
		f.emitChange(ChangeNoURL, LevelError, ErrNoURL.Error(), nil)
		return nil, ErrNoURL
	}
	f.container = container

	f.emitChange(ChangeFrameStarted, LevelInfo, "Creating the frame", map[string]any{"url": cfg.src})

	timeout := cfg.createTimeout
	if timeout <= 0 {
		timeout = DefaultFrameTimeout
	}
	f.mu.Lock()
	f.createTimer = time.AfterFunc(timeout, f.onCreateTimeout)
	f.mu.Unlock()

	handle, err := rt.host.CreateFrame(ctx, FrameSpec{
		ID:              cfg.elementID,
		Src:             cfg.src,
		Container:       container,
		Width:           cfg.width,
		Height:          cfg.height,
		ClassName:       cfg.className,
		Style:           cfg.style,
		Loading:         "eager",
		WithPlaceholder: cfg.withPlaceholder,
		OnLoad:          f.onLoad,
	})
	if err != nil {
		f.stopCreateTimer()
		f.emitChange(ChangeFrameNotCreated, LevelError, "Failed to create the frame", map[string]any{"error": err.Error()})
		rt.logger.Error().Err(err).Str("identity", cfg.identity).Msg("xembed: frame creation failed")
		return nil, fmt.Errorf("xembed: create frame: %w", err)
	}

	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()

	observer := rt.host.ObserveRemovals(f.onRemovals)
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		_ = observer.Close()
	} else {
		f.observer = observer
		f.mu.Unlock()
	}

	f.emitChange(ChangeFrameMounted, LevelInfo, "The frame is mounted", nil)
	return f, nil
}

func (f *Frame) resolveContainer(c any) (Element, error) { return f.rt.resolveContainer(c) }

// resolveContainer turns an Element or a selector string into an Element.
func (rt *runtime) resolveContainer(c any) (Element, error) {
	switch v := c.(type) {
	case Element:
		return v, nil
	case string:
		if v == "" {
			return nil, ErrInvalidContainer
		}
		el := rt.host.QuerySelector(v)
		if el == nil {
			return nil, ErrInvalidContainer
		}
		return el, nil
	default:
		return nil, ErrInvalidContainer
	}
}

func (f *Frame) onLoad() {
	f.mu.Lock()
	if f.loaded || f.disposed {
		f.mu.Unlock()
		return
	}
	f.loaded = true
	f.mu.Unlock()

	f.stopCreateTimer()
	f.emitChange(ChangeFrameLoaded, LevelInfo, "The frame is loaded", nil)
}

func (f *Frame) onCreateTimeout() {
	f.mu.Lock()
	if f.loaded || f.disposed {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.emitChange(ChangeFrameNotCreated, LevelError, "The frame did not load in time", map[string]any{"url": f.cfg.src})
	f.rt.logger.Error().
		Str("identity", f.cfg.identity).
		Str("url", f.cfg.src).
		Msg("xembed: frame load timed out")
}

func (f *Frame) stopCreateTimer() {
	f.mu.Lock()
	t := f.createTimer
	f.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// onRemovals disposes the frame once its element or container (or an
// ancestor of either) leaves the document.
func (f *Frame) onRemovals(removed []Element) {
	f.mu.Lock()
	handle, container := f.handle, f.container
	f.mu.Unlock()
	if handle == nil {
		return
	}
	el := handle.Element()
	for _, r := range removed {
		if r == nil {
			continue
		}
		if r.Contains(el) || r.Contains(container) {
			f.dispose(false)
			return
		}
	}
}

// Dispose tears the frame down: listeners registered for cleanup are
// removed, the element leaves the document and later sends fail. In-flight
// sends are not canceled.
func (f *Frame) Dispose() {
	f.dispose(true)
}

func (f *Frame) dispose(removeElement bool) {
	f.disposeOnce.Do(func() {
		f.mu.Lock()
		f.disposed = true
		handle := f.handle
		f.handle = nil
		observer := f.observer
		f.observer = nil
		timer := f.createTimer
		f.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if f.cfg.eventManager != nil {
			f.cfg.eventManager.CleanUpCallbacksForExperience(f.cfg.identity)
		}
		if observer != nil {
			_ = observer.Close()
		}
		if removeElement && handle != nil {
			if err := handle.Remove(); err != nil {
				f.rt.logger.Warn().Err(err).Str("identity", f.cfg.identity).Msg("xembed: frame removal failed")
			}
		}
		f.emitChangeWith(handle, ChangeFrameRemoved, LevelInfo, "The frame is removed", nil)
	})
}

// Send posts msg and waits for the correlated reply. ACKNOWLEDGE messages
// resolve as soon as they are posted.
func (f *Frame) Send(ctx context.Context, msg TargetedMessageEvent) (Response, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	handle := f.handle
	f.mu.Unlock()
	if handle == nil {
		return nil, ErrNoExperienceFrame
	}
	if f.cfg.controlSend != nil {
		if f.cfg.sendTimeout > 0 {
			ctx = withSendTimeout(ctx, f.cfg.sendTimeout)
		}
		return f.cfg.controlSend(ctx, msg)
	}
	return f.post(ctx, handle, msg)
}

func (f *Frame) post(ctx context.Context, handle FrameHandle, msg TargetedMessageEvent) (Response, error) {
	eventID := uuid.NewString()
	wire := PostMessageEvent{
		TargetedMessageEvent: msg,
		EventID:              eventID,
		Timestamp:            f.rt.clock.Now().UnixMilli(),
		Version:              SDKVersion,
	}
	payload, err := f.rt.codec.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("xembed: encode %s: %w", msg.EventName, err)
	}

	identity, err := ComputeIdentity(*msg.EventTarget)
	if err != nil {
		identity = f.cfg.identity
	}
	c := newCall(msg.EventName, eventID)
	start := f.rt.clock.Now()
	f.rt.metrics.sent.Add(1)
	f.rt.notify(Event{Type: SendStart, Identity: identity, EventName: string(msg.EventName), EventID: eventID})

	if msg.EventName == EventAcknowledge {
		if err := handle.PostMessage(ctx, payload, f.origin); err != nil {
			f.rt.metrics.errors.Add(1)
			return nil, err
		}
		c.transition(callAcknowledged, SuccessResponse{Success: true}, nil)
		resp, _ := c.result()
		return resp, nil
	}

	// listen before posting so a fast reply cannot slip past
	sub, err := f.rt.host.Subscribe(ctx, func(d Delivery) { f.correlate(c, d) })
	if err != nil {
		f.rt.metrics.errors.Add(1)
		return nil, fmt.Errorf("xembed: listen for %s reply: %w", msg.EventName, err)
	}
	c.onRelease(func() { _ = sub.Close() })

	if err := handle.PostMessage(ctx, payload, f.origin); err != nil {
		c.transition(callCanceled, nil, err)
		f.rt.metrics.errors.Add(1)
		return nil, err
	}

	timeout := f.cfg.sendTimeout
	if d, ok := sendTimeoutFromContext(ctx); ok {
		timeout = d
	}
	if timeout <= 0 {
		timeout = f.rt.sendTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		c.transition(callTimedOut, nil, &TimeoutError{EventName: msg.EventName, EventID: eventID})
	case <-ctx.Done():
		c.transition(callCanceled, nil, ctx.Err())
	}

	resp, err := c.result()
	elapsed := f.rt.clock.Since(start)
	switch {
	case err == nil:
		f.rt.metrics.replied.Add(1)
		f.rt.recordRoundTrip(elapsed)
		f.rt.notify(Event{Type: SendDone, Identity: identity, EventName: string(msg.EventName), EventID: eventID, Duration: elapsed})
	case errors.Is(err, ErrTimeout):
		f.rt.metrics.timedOut.Add(1)
		f.rt.notify(Event{Type: SendTimeout, Identity: identity, EventName: string(msg.EventName), EventID: eventID, Duration: elapsed, Err: err})
	default:
		f.rt.metrics.errors.Add(1)
		f.rt.notify(Event{Type: Error, Identity: identity, EventName: string(msg.EventName), EventID: eventID, Err: err})
	}
	return resp, err
}

// correlate settles c when d carries its event id.
func (f *Frame) correlate(c *call, d Delivery) {
	if !f.rt.acceptOrigin(d.Origin()) {
		return
	}
	var env inboundEnvelope
	if err := f.rt.codec.Unmarshal(d.Payload(), &env); err != nil || env.EventID != c.eventID {
		return
	}
	c.transition(callResolved, responseFromReply(f.rt.codec, env.Message), nil)
}

func (f *Frame) emitChange(name ChangeEventName, level ChangeEventLevel, message string, data map[string]any) {
	f.mu.Lock()
	handle := f.handle
	f.mu.Unlock()
	f.emitChangeWith(handle, name, level, message, data)
}

func (f *Frame) emitChangeWith(handle FrameHandle, name ChangeEventName, level ChangeEventLevel, message string, data map[string]any) {
	notifyChange(f.rt, f.cfg.onChange, f.cfg.identity, handle, ChangeEvent{EventName: name, EventLevel: level, Message: message, Data: data})
}

// notifyChange hands e to the onChange callback, recovering from panics, and
// to the observers. The callback cannot alter what happens next.
func notifyChange(rt *runtime, onChange ChangeHandler, identity string, handle FrameHandle, e ChangeEvent) {
	if onChange != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rt.logger.Warn().Str("change", string(e.EventName)).Msg("xembed: onChange panic (recovered)")
				}
			}()
			onChange(e, ChangeMetadata{Frame: handle})
		}()
	}
	rt.notify(Event{Type: Changed, Identity: identity, EventName: string(e.EventName), Change: &e})
}

// Handle returns the frame handle, nil once the frame is disposed.
func (f *Frame) Handle() FrameHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

// Loaded reports whether the frame fired its load event.
func (f *Frame) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *Frame) Identity() string { return f.cfg.identity }
func (f *Frame) URL() string      { return f.cfg.src }
