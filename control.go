package xembed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	controlClassName = "xembed-control"
	controlStyle     = "position:absolute;left:-10000px;top:-10000px;border:0"
)

// controlExperience is the hidden relay frame of an embedding context. It
// owns the only long-lived window subscription: every inbound message is
// routed to the listeners of its target and then acknowledged.
type controlExperience struct {
	rt           *runtime
	frame        *Frame
	eventManager *EventManager
	descriptor   Descriptor
	identity     string
}

// buildControlExperience mounts the control frame in the document body and
// starts relaying.
func buildControlExperience(ctx context.Context, rt *runtime, contextID, experienceURL string, em *EventManager, ids *IdentitySet, onChange ChangeHandler) (*controlExperience, error) {
	body := rt.host.Body()
	if body == nil {
		notifyChange(rt, onChange, "", nil, ChangeEvent{EventName: ChangeNoBody, EventLevel: LevelError, Message: ErrNoBody.Error()})
		return nil, ErrNoBody
	}

	src, err := ControlURL(experienceURL, contextID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, experienceURL)
	}

	identity, desc, err := ids.Allocate(Descriptor{ExperienceType: ExperienceControl, ContextID: contextID})
	if err != nil {
		return nil, err
	}

	ce := &controlExperience{rt: rt, eventManager: em, descriptor: desc, identity: identity}

	frame, err := newFrame(ctx, rt, frameConfig{
		elementID:     "experience-control-" + uuid.NewString(),
		identity:      identity,
		src:           src,
		container:     body,
		width:         "0px",
		height:        "0px",
		className:     controlClassName,
		style:         controlStyle,
		onChange:      onChange,
		createTimeout: rt.frameTimeout,
		eventManager:  em,
	})
	if err != nil {
		return nil, err
	}
	ce.frame = frame

	sub, err := rt.host.Subscribe(context.Background(), ce.relay)
	if err != nil {
		frame.Dispose()
		return nil, fmt.Errorf("xembed: subscribe control relay: %w", err)
	}
	// the relay lives exactly as long as the control frame
	if err := em.AddEventListenerForCleanup(identity, func() { _ = sub.Close() }); err != nil {
		_ = sub.Close()
		return nil, err
	}

	rt.logger.Debug().Str("identity", identity).Str("url", src).Msg("xembed: control frame mounted")
	return ce, nil
}

// relay handles one inbound delivery.
func (ce *controlExperience) relay(d Delivery) {
	rt := ce.rt
	if !rt.acceptOrigin(d.Origin()) {
		rt.metrics.dropped.Add(1)
		rt.notify(Event{Type: Dropped, Err: fmt.Errorf("origin %q not allowed", d.Origin())})
		return
	}

	var env inboundEnvelope
	if err := rt.codec.Unmarshal(d.Payload(), &env); err != nil || env.EventTarget == nil || env.EventName == "" {
		rt.metrics.dropped.Add(1)
		rt.notify(Event{Type: Dropped})
		return
	}

	identity, err := ComputeIdentity(*env.EventTarget)
	if err != nil {
		ce.unrecognized(env, err)
		return
	}

	ctx := InjectAll(context.Background(), rt.codec, rt.logger, rt.clock)
	ctx = injectIdentity(ctx, identity)
	if err := ce.eventManager.InvokeEventListener(ctx, identity, env.toPostMessageEvent()); err != nil {
		ce.unrecognized(env, err)
		return
	}
	rt.metrics.relayed.Add(1)
	rt.notify(Event{Type: Relayed, Identity: identity, EventName: string(env.EventName), EventID: env.EventID})

	// an acknowledgment is never acknowledged
	if env.EventName == EventAcknowledge {
		return
	}
	ce.acknowledge(env, identity)
}

func (ce *controlExperience) unrecognized(env inboundEnvelope, err error) {
	ce.rt.metrics.unrecognized.Add(1)
	ce.frame.emitChange(ChangeUnrecognizedEventTarget, LevelWarning, "Unrecognized event target", map[string]any{
		"eventName":   string(env.EventName),
		"eventTarget": env.EventTarget,
		"error":       err.Error(),
	})
}

type ackMessage struct {
	EventName MessageEventName `json:"eventName"`
	EventID   string           `json:"eventId,omitempty"`
}

// acknowledge confirms receipt to the surface, deferred to idle time when
// the host can schedule it.
func (ce *controlExperience) acknowledge(env inboundEnvelope, identity string) {
	rt := ce.rt
	ack, err := NewTargetedMessage(rt.codec, EventAcknowledge, *env.EventTarget, ackMessage{EventName: env.EventName, EventID: env.EventID})
	if err != nil {
		rt.logger.Warn().Err(err).Str("identity", identity).Msg("xembed: encode acknowledgment")
		return
	}

	send := func() {
		if _, err := ce.frame.Send(context.Background(), ack); err != nil {
			rt.metrics.errors.Add(1)
			rt.logger.Warn().Err(err).
				Str("identity", identity).
				Str("event_name", string(env.EventName)).
				Msg("xembed: acknowledgment failed")
			return
		}
		rt.metrics.acknowledged.Add(1)
		rt.notify(Event{Type: Acknowledged, Identity: identity, EventName: string(env.EventName), EventID: env.EventID})
	}

	if s, ok := rt.host.(IdleScheduler); ok {
		s.ScheduleIdle(send)
		return
	}
	send()
}

func (ce *controlExperience) send(ctx context.Context, msg TargetedMessageEvent) (Response, error) {
	return ce.frame.Send(ctx, msg)
}
