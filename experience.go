package xembed

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// contentTransformers maps, per experience kind, the content options the
// surface understands onto their query parameter names.
var contentTransformers = map[ExperienceType]contentTransformer{
	ExperienceDashboard: {
		"locale":               "locale",
		"sheetId":              "sheetId",
		"printEnabled":         "printEnabled",
		"undoRedoDisabled":     "undoRedoDisabled",
		"resetDisabled":        "resetDisabled",
		"footerPaddingEnabled": "footerPaddingEnabled",
		"themeArn":             "themeArn",
	},
	ExperienceVisual: {
		"locale":           "locale",
		"fitToIframeWidth": "fitToIframeWidth",
		"themeArn":         "themeArn",
	},
	ExperienceConsole: {
		"locale": "locale",
	},
	ExperienceQSearch: {
		"locale":              "locale",
		"hideIcon":            "qBarIconDisabled",
		"hideTopicName":       "topicNameDisabled",
		"allowTopicSelection": "allowTopicSelection",
		"themeArn":            "themeArn",
	},
	ExperienceGenerativeQnA: {
		"locale":        "locale",
		"showTopicName": "showTopicName",
		"showPinboard":  "showPinboard",
		"panelType":     "panelType",
	},
}

// Experience is one embedded surface. Every kind shares the same frame and
// correlation machinery; the kind only selects the content options, the
// interceptors and the convenience requests available.
type Experience struct {
	*Frame

	kind         ExperienceType
	descriptor   Descriptor
	eventManager *EventManager
	listenerID   ListenerID
	resize       bool

	contentLoaded atomic.Bool
	// frame is published once construction succeeds; listeners may run
	// before that on the host's goroutine.
	frame atomic.Pointer[Frame]
}

func newExperience(ctx context.Context, rt *runtime, ids *IdentitySet, kind ExperienceType, opts FrameOptions, content ContentOptions, control *ControlOptions) (*Experience, error) {
	transformer, ok := contentTransformers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedExperience, kind)
	}

	base := descriptorFromURL(kind, opts.URL)
	base.ContextID = control.ContextID
	identity, desc, err := ids.Allocate(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, opts.URL)
	}

	e := &Experience{
		kind:         kind,
		descriptor:   desc,
		eventManager: control.EventManager,
		resize:       opts.ResizeHeightOnSizeChangedEvent,
	}

	if len(opts.Unrecognized) > 0 {
		notifyChange(rt, opts.OnChange, identity, nil, ChangeEvent{
			EventName:  ChangeUnrecognizedFrameOptions,
			EventLevel: LevelWarning,
			Message:    "Experience frame options contain unrecognized properties: " + joinKeys(opts.Unrecognized),
			Data:       map[string]any{"unrecognizedFrameOptions": opts.Unrecognized},
		})
		rt.logger.Warn().Str("identity", identity).Str("keys", joinKeys(opts.Unrecognized)).Msg("xembed: unrecognized frame options")
	}

	transformed := transformer.transform(content)
	if len(transformed.unrecognized) > 0 {
		notifyChange(rt, opts.OnChange, identity, nil, ChangeEvent{
			EventName:  ChangeUnrecognizedContentOptions,
			EventLevel: LevelWarning,
			Message:    "Experience content options contain unrecognized properties: " + joinKeys(transformed.unrecognized),
			Data:       map[string]any{"unrecognizedContentOptions": transformed.unrecognized},
		})
		rt.logger.Warn().Str("identity", identity).Str("keys", joinKeys(transformed.unrecognized)).Msg("xembed: unrecognized content options")
	}

	src := ""
	if opts.URL != "" {
		src = BuildExperienceURL(baseURL(opts.URL), mergeQuery(opts.URL, transformed.query), control.ContextID, desc.Discriminator, transformed.parameters)
	}

	listener := opts.OnMessage
	if listener == nil {
		listener = func(context.Context, *PostMessageEvent) {}
	}
	e.listenerID, err = control.EventManager.AddEventListener(identity, ChainListener(listener,
		RecoverListener(rt.logger),
		OnEvent(EventContentLoaded, e.onContentLoaded),
		OnEvent(EventSizeChanged, e.onSizeChanged),
	), true)
	if err != nil {
		return nil, err
	}

	width, height := opts.Width, opts.Height
	if width == "" {
		width = "100%"
	}
	if height == "" {
		height = "100%"
	}

	frame, err := newFrame(ctx, rt, frameConfig{
		elementID:       "experience-" + uuid.NewString(),
		identity:        identity,
		src:             src,
		container:       opts.Container,
		width:           width,
		height:          height,
		className:       opts.ClassName,
		withPlaceholder: opts.WithIframePlaceholder,
		onChange:        opts.OnChange,
		sendTimeout:     opts.Timeout,
		createTimeout:   control.Timeout,
		controlSend:     control.SendToControlFrame,
		eventManager:    control.EventManager,
	})
	if err != nil {
		control.EventManager.CleanUpCallbacksForExperience(identity)
		return nil, err
	}
	e.Frame = frame
	e.frame.Store(frame)

	rt.logger.Debug().Str("identity", identity).Str("kind", string(kind)).Str("url", src).Msg("xembed: experience embedded")
	return e, nil
}

// mergeQuery keeps the query of the caller's URL and lets content options
// override it.
func mergeQuery(raw string, content url.Values) url.Values {
	q := url.Values{}
	if u, err := url.Parse(raw); err == nil {
		q = u.Query()
	}
	for k, vs := range content {
		q[k] = vs
	}
	return q
}

func (e *Experience) onContentLoaded(ctx context.Context, msg *PostMessageEvent) {
	e.contentLoaded.Store(true)
}

type sizeChangedMessage struct {
	Height any `json:"height"`
}

func (e *Experience) onSizeChanged(ctx context.Context, msg *PostMessageEvent) {
	if !e.resize {
		return
	}
	f := e.frame.Load()
	if f == nil {
		return
	}
	handle := f.Handle()
	if handle == nil {
		return
	}
	size, err := DecodeMessage[sizeChangedMessage](ctx, msg)
	if err != nil || size.Height == nil {
		return
	}
	height := fmt.Sprint(size.Height)
	if _, isNumber := size.Height.(float64); isNumber {
		height += "px"
	}
	if err := handle.Resize(f.cfg.width, height); err != nil {
		f.rt.logger.Warn().Err(err).Str("identity", f.Identity()).Msg("xembed: resize failed")
	}
}

func (e *Experience) Kind() ExperienceType   { return e.kind }
func (e *Experience) Descriptor() Descriptor { return e.descriptor }

// ContentLoaded reports whether the surface announced CONTENT_LOADED.
func (e *Experience) ContentLoaded() bool { return e.contentLoaded.Load() }

// AddEventListener registers an extra listener, removed on disposal.
func (e *Experience) AddEventListener(listener Listener) (ListenerID, error) {
	return e.eventManager.AddEventListener(e.Identity(), listener, true)
}

func (e *Experience) RemoveEventListener(id ListenerID) error {
	return e.eventManager.RemoveEventListener(e.Identity(), id)
}

// Request sends a message named name targeted at this experience.
func (e *Experience) Request(ctx context.Context, name MessageEventName, message any) (Response, error) {
	msg, err := NewTargetedMessage(e.rt.codec, name, e.descriptor, message)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, msg)
}

// SetParameters changes parameter values of a dashboard or visual.
func (e *Experience) SetParameters(ctx context.Context, parameters map[string][]string) (Response, error) {
	if e.kind != ExperienceDashboard && e.kind != ExperienceVisual {
		return nil, fmt.Errorf("%w: SetParameters on %s", ErrUnsupportedOperation, e.kind)
	}
	type parameter struct {
		Name   string   `json:"Name"`
		Values []string `json:"Values"`
	}
	list := make([]parameter, 0, len(parameters))
	for _, name := range sortedKeys(parameters) {
		list = append(list, parameter{Name: name, Values: parameters[name]})
	}
	return e.Request(ctx, EventSetParameters, list)
}

// Navigate opens another dashboard in a dashboard experience.
func (e *Experience) Navigate(ctx context.Context, dashboardID string) (Response, error) {
	if e.kind != ExperienceDashboard {
		return nil, fmt.Errorf("%w: Navigate on %s", ErrUnsupportedOperation, e.kind)
	}
	return e.Request(ctx, EventNavigateToDashboard, map[string]string{"dashboardId": dashboardID})
}

// SetQuestion types question into a search bar.
func (e *Experience) SetQuestion(ctx context.Context, question string) (Response, error) {
	if e.kind != ExperienceQSearch {
		return nil, fmt.Errorf("%w: SetQuestion on %s", ErrUnsupportedOperation, e.kind)
	}
	return e.Request(ctx, EventSetQuestion, map[string]string{"question": question})
}

// CloseQSearch collapses a search bar.
func (e *Experience) CloseQSearch(ctx context.Context) (Response, error) {
	if e.kind != ExperienceQSearch {
		return nil, fmt.Errorf("%w: CloseQSearch on %s", ErrUnsupportedOperation, e.kind)
	}
	return e.Request(ctx, EventCloseQSearch, nil)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
